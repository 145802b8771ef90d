// Package shared contains common types and data structures used across the simulation host.
// It defines simulation states, transition records, channel payloads, and the
// frames exchanged with websocket and gRPC collaborators.
package shared

import (
	"fmt"
	"time"
)

// SimulationState is the lifecycle state of the simulation clock
type SimulationState int

const (
	StateReady SimulationState = iota
	StateRunning
	StatePaused
	StateCompleted
)

var stateNames = map[SimulationState]string{
	StateReady:     "ready",
	StateRunning:   "running",
	StatePaused:    "paused",
	StateCompleted: "completed",
}

// String returns the lower-case name of the state
func (s SimulationState) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// ParseSimulationState converts a state name back into a SimulationState
func ParseSimulationState(name string) (SimulationState, error) {
	for state, n := range stateNames {
		if n == name {
			return state, nil
		}
	}
	return StateReady, fmt.Errorf("unknown simulation state %q", name)
}

// MarshalText encodes the state by name so JSON frames stay readable
func (s SimulationState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a state name
func (s *SimulationState) UnmarshalText(text []byte) error {
	state, err := ParseSimulationState(string(text))
	if err != nil {
		return err
	}
	*s = state
	return nil
}

// StateChangeRecord is the snapshot taken at every accepted state transition
type StateChangeRecord struct {
	PreviousState SimulationState `json:"previous_state"`
	NewState      SimulationState `json:"new_state"`
	CurrentStep   int             `json:"current_step"`
	TotalSteps    int             `json:"total_steps"`
}

// Void is the payload of channels that carry no data
type Void struct{}

// CombatResult is the payload of the combat result channel
type CombatResult struct {
	AttackerID string `json:"attacker_id"`
	DefenderID string `json:"defender_id"`
	Damage     int    `json:"damage"`
	Critical   bool   `json:"critical"`
	Defeated   bool   `json:"defeated"`
}

// LevelUpData is the payload of the level-up channel
type LevelUpData struct {
	EntityID      string `json:"entity_id"`
	PreviousLevel int    `json:"previous_level"`
	NewLevel      int    `json:"new_level"`
}

// Status is a point-in-time view of the clock
type Status struct {
	State      SimulationState `json:"state"`
	Step       int             `json:"step"`
	TotalSteps int             `json:"total_steps"`
	Speed      float64         `json:"speed"`
	Interval   time.Duration   `json:"interval"`
}

// FrameType identifies the kind of frame pushed to notification clients
type FrameType string

const (
	FrameStateChanged FrameType = "state_changed"
	FrameStep         FrameType = "step"
	FrameHello        FrameType = "hello"
)

// Frame is the envelope written to websocket and SSE clients
type Frame struct {
	Type      FrameType          `json:"type"`
	ClientID  string             `json:"client_id,omitempty"`
	Record    *StateChangeRecord `json:"record,omitempty"`
	Status    *Status            `json:"status,omitempty"`
	Timestamp time.Time          `json:"timestamp"`
}

// SpeedRequest is the body of a speed change request
type SpeedRequest struct {
	Speed float64 `json:"speed"`
}
