// Package simclock drives the simulation through discrete steps.
//
// A Clock owns the simulation state, the step counter, the step interval and
// the speed multiplier. Every accepted transition is published as a
// shared.StateChangeRecord on the configured state-change channel of an
// events.Directory. Calls that do not match the transition table are silent
// no-ops.
//
//	Ready/Paused --Start--> Running --Pause--> Paused
//	Running --(step == MaxSteps)--> Completed
//	any --Reset--> Ready
package simclock

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"simhost/apperrors"
	"simhost/events"
	"simhost/shared"
)

const (
	DefaultMinSpeed     = 0.1
	DefaultMaxSpeed     = 10.0
	DefaultStateChannel = "simulation.state_changed"
)

// StepFunc executes the body of one simulation step. step is the number of
// the step being run, starting at 1; the counter reaches it when the body
// returns.
type StepFunc func(ctx context.Context, step int) error

// Config holds the clock settings
type Config struct {
	MaxSteps int
	Interval time.Duration
	Speed    float64
	MinSpeed float64
	MaxSpeed float64
	// StateChannel names the channel receiving StateChangeRecords.
	StateChannel string
	// StepChannel optionally names a shared.Void channel raised after every step.
	StepChannel string
}

func (c Config) normalized() (Config, error) {
	if c.MaxSteps <= 0 {
		return c, apperrors.New(apperrors.CodeInvalidArgument, "max steps must be positive")
	}
	if c.Interval < 0 {
		return c, apperrors.New(apperrors.CodeInvalidArgument, "step interval must not be negative")
	}
	if c.MinSpeed == 0 {
		c.MinSpeed = DefaultMinSpeed
	}
	if c.MaxSpeed == 0 {
		c.MaxSpeed = DefaultMaxSpeed
	}
	if c.MinSpeed <= 0 || c.MaxSpeed < c.MinSpeed {
		return c, apperrors.New(apperrors.CodeInvalidArgument, "speed bounds must satisfy 0 < min <= max")
	}
	if c.Speed == 0 {
		c.Speed = 1
	}
	c.Speed = clamp(c.Speed, c.MinSpeed, c.MaxSpeed)
	if c.StateChannel == "" {
		c.StateChannel = DefaultStateChannel
	}
	return c, nil
}

// Option customises a Clock
type Option func(*Clock)

// WithLogger sets the logger used for transitions and delivery problems.
func WithLogger(log *slog.Logger) Option {
	return func(c *Clock) {
		if log != nil {
			c.log = log
		}
	}
}

// WithStepFunc sets the step body.
func WithStepFunc(fn StepFunc) Option {
	return func(c *Clock) {
		c.stepFn = fn
	}
}

// WithTracer overrides the tracer used for step spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(c *Clock) {
		if tracer != nil {
			c.tracer = tracer
		}
	}
}

// Clock is the simulation state machine
type Clock struct {
	cfg    Config
	dir    *events.Directory
	log    *slog.Logger
	stepFn StepFunc
	tracer trace.Tracer

	mu        sync.Mutex
	state     shared.SimulationState
	step      int
	speed     float64
	gen       uint64 // bumped by every Start, Pause, Reset and Close
	resets    uint64 // bumped by every Reset; a step begun before one is not counted
	seq       uint64 // last sequence number handed to a transition
	delivered uint64 // newest sequence number raised on the state channel
	cancel    context.CancelFunc
	done      chan struct{} // closed when the newest loop goroutine exits
	closed    bool
}

// New creates a clock in the Ready state.
func New(dir *events.Directory, cfg Config, opts ...Option) (*Clock, error) {
	cfg, err := cfg.normalized()
	if err != nil {
		return nil, err
	}
	c := &Clock{
		cfg:    cfg,
		dir:    dir,
		log:    slog.New(slog.DiscardHandler),
		tracer: otel.Tracer("simhost/simclock"),
		state:  shared.StateReady,
		speed:  cfg.Speed,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Start moves Ready or Paused to Running and starts the step loop. It is a
// no-op in any other state. The returned error is a listener failure raised
// while publishing the transition; the transition itself has happened.
func (c *Clock) Start() error {
	c.mu.Lock()
	if c.closed || (c.state != shared.StateReady && c.state != shared.StatePaused) {
		c.mu.Unlock()
		return nil
	}
	prev := c.state
	c.stopLoopLocked()
	prevDone := c.done

	c.state = shared.StateRunning
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	done := make(chan struct{})
	c.done = done
	gen := c.gen
	tr := c.recordLocked(prev)
	c.mu.Unlock()

	started := make(chan struct{})
	go c.loop(ctx, gen, prevDone, started, done)

	err := c.publish(tr)
	close(started)
	return err
}

// Pause moves Running to Paused, aborting any pending wait. The step counter
// keeps its value. It is a no-op in any other state.
func (c *Clock) Pause() error {
	c.mu.Lock()
	if c.state != shared.StateRunning {
		c.mu.Unlock()
		return nil
	}
	c.stopLoopLocked()
	c.state = shared.StatePaused
	tr := c.recordLocked(shared.StateRunning)
	c.mu.Unlock()

	return c.publish(tr)
}

// Reset stops any loop, zeroes the step counter and returns to Ready. A
// transition is published unless the clock was already Ready.
func (c *Clock) Reset() error {
	c.mu.Lock()
	prev := c.state
	c.stopLoopLocked()
	c.step = 0
	c.resets++
	c.state = shared.StateReady
	if prev == shared.StateReady {
		c.mu.Unlock()
		return nil
	}
	tr := c.recordLocked(prev)
	c.mu.Unlock()

	return c.publish(tr)
}

// Close stops the step loop without a transition and waits for it to exit,
// including any completion listeners the loop is still notifying.
// Later Start calls are ignored. Close must not be called from a listener or
// a step body.
func (c *Clock) Close() {
	c.mu.Lock()
	c.closed = true
	c.stopLoopLocked()
	done := c.done
	c.mu.Unlock()

	if done != nil {
		<-done
	}
}

// SetSpeed clamps speed into the configured bounds, applies it from the next
// wait on, and returns the applied value. NaN maps to the minimum.
func (c *Clock) SetSpeed(speed float64) float64 {
	applied := clamp(speed, c.cfg.MinSpeed, c.cfg.MaxSpeed)
	c.mu.Lock()
	c.speed = applied
	c.mu.Unlock()
	return applied
}

// Speed returns the current speed multiplier.
func (c *Clock) Speed() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.speed
}

// CurrentState returns the current state.
func (c *Clock) CurrentState() shared.SimulationState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// CurrentStep returns the number of steps finished since the last reset.
func (c *Clock) CurrentStep() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.step
}

// TotalSteps returns the configured number of steps.
func (c *Clock) TotalSteps() int {
	return c.cfg.MaxSteps
}

// SpeedBounds returns the configured minimum and maximum speed.
func (c *Clock) SpeedBounds() (float64, float64) {
	return c.cfg.MinSpeed, c.cfg.MaxSpeed
}

// Status returns a snapshot of the clock.
func (c *Clock) Status() shared.Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return shared.Status{
		State:      c.state,
		Step:       c.step,
		TotalSteps: c.cfg.MaxSteps,
		Speed:      c.speed,
		Interval:   c.cfg.Interval,
	}
}

// loop runs until the clock leaves Running, its generation is superseded, or
// every step has run. It waits for the previous loop to exit so that
// two loops never run steps at the same time, and for Start to finish
// publishing so that Running is always announced before Completed.
func (c *Clock) loop(ctx context.Context, gen uint64, prevDone, started <-chan struct{}, done chan struct{}) {
	defer close(done)

	if prevDone != nil {
		<-prevDone
	}
	select {
	case <-started:
	case <-ctx.Done():
		return
	}

	for {
		c.mu.Lock()
		if c.gen != gen || c.state != shared.StateRunning {
			c.mu.Unlock()
			return
		}
		if c.step >= c.cfg.MaxSteps {
			c.state = shared.StateCompleted
			c.stopLoopLocked()
			tr := c.recordLocked(shared.StateRunning)
			c.mu.Unlock()

			if err := c.publish(tr); err != nil {
				c.log.Error("completion listener failed", slog.String("err", err.Error()))
			}
			return
		}
		delay := c.stepDelayLocked()
		c.mu.Unlock()

		if !wait(ctx, delay) {
			return
		}

		// The wait may have raced a Pause or Reset; nothing runs unless the
		// loop is still current.
		c.mu.Lock()
		if c.gen != gen || c.state != shared.StateRunning {
			c.mu.Unlock()
			return
		}
		step := c.step + 1
		resets := c.resets
		c.mu.Unlock()

		c.runStep(ctx, step)

		// A Pause during the body still counts the step; a Reset discards it.
		c.mu.Lock()
		counted := c.resets == resets
		if counted {
			c.step++
		}
		c.mu.Unlock()
		if counted {
			c.signalStep()
		}
	}
}

func (c *Clock) runStep(ctx context.Context, step int) {
	ctx, span := c.tracer.Start(ctx, "simclock.step",
		trace.WithAttributes(attribute.Int("simclock.step", step)))
	defer span.End()

	if c.stepFn == nil {
		return
	}
	if err := c.stepFn(ctx, step); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.log.Error("simulation step failed", slog.Int("step", step), slog.String("err", err.Error()))
	}
}

func (c *Clock) signalStep() {
	if c.cfg.StepChannel == "" || c.dir == nil {
		return
	}
	err := events.RaiseByName(c.dir, c.cfg.StepChannel, shared.Void{})
	if err != nil && errors.Is(err, apperrors.ErrListenerFailure) {
		c.log.Error("step listener failed", slog.String("err", err.Error()))
	}
}

// transition is a record together with its place in the order of state
// changes.
type transition struct {
	rec shared.StateChangeRecord
	seq uint64
}

// publish raises the record on the state channel unless a newer transition
// has been raised already, so listeners never end on a superseded state. A
// missing or mismatched channel has already been logged by the directory and
// is not an error for the clock.
func (c *Clock) publish(tr transition) error {
	rec := tr.rec
	c.log.Info("simulation state changed",
		slog.String("from", rec.PreviousState.String()),
		slog.String("to", rec.NewState.String()),
		slog.Int("step", rec.CurrentStep),
		slog.Int("total_steps", rec.TotalSteps))

	c.mu.Lock()
	stale := tr.seq < c.delivered
	if !stale {
		c.delivered = tr.seq
	}
	c.mu.Unlock()
	if stale {
		c.log.Debug("superseded state change dropped",
			slog.String("from", rec.PreviousState.String()),
			slog.String("to", rec.NewState.String()))
		return nil
	}

	if c.dir == nil {
		return nil
	}
	err := events.RaiseByName(c.dir, c.cfg.StateChannel, rec)
	if err == nil {
		return nil
	}
	if errors.Is(err, apperrors.ErrNotFound) || errors.Is(err, apperrors.ErrTypeMismatch) {
		return nil
	}
	return err
}

func (c *Clock) recordLocked(prev shared.SimulationState) transition {
	c.seq++
	return transition{
		rec: shared.StateChangeRecord{
			PreviousState: prev,
			NewState:      c.state,
			CurrentStep:   c.step,
			TotalSteps:    c.cfg.MaxSteps,
		},
		seq: c.seq,
	}
}

// stopLoopLocked invalidates the current loop and cancels its wait.
func (c *Clock) stopLoopLocked() {
	c.gen++
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
}

func (c *Clock) stepDelayLocked() time.Duration {
	return time.Duration(float64(c.cfg.Interval) / c.speed)
}

func wait(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) || v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
