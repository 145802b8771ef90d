package shared

import (
	"encoding/json"
	"testing"
)

func TestSimulationStateString(t *testing.T) {
	tests := []struct {
		state SimulationState
		want  string
	}{
		{StateReady, "ready"},
		{StateRunning, "running"},
		{StatePaused, "paused"},
		{StateCompleted, "completed"},
		{SimulationState(42), "state(42)"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("Expected %q, got %q", tt.want, got)
		}
	}
}

func TestParseSimulationStateUnknown(t *testing.T) {
	if _, err := ParseSimulationState("exploded"); err == nil {
		t.Error("Expected error for unknown state name")
	}
}

func TestStateChangeRecordJSONUsesStateNames(t *testing.T) {
	rec := StateChangeRecord{PreviousState: StateRunning, NewState: StateCompleted, CurrentStep: 3, TotalSteps: 3}
	data, err := json.Marshal(rec)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"previous_state":"running","new_state":"completed","current_step":3,"total_steps":3}`
	if string(data) != want {
		t.Errorf("Expected %s, got %s", want, data)
	}

	var decoded StateChangeRecord
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded != rec {
		t.Errorf("Expected %+v, got %+v", rec, decoded)
	}
}
