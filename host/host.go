// Package host assembles the process-wide simulation context: the log sink,
// the event directory and the clock, built once from a config.Config.
package host

import (
	"fmt"
	"log/slog"
	"os"
	"sync"

	"simhost/config"
	"simhost/events"
	"simhost/logsink"
	"simhost/shared"
	"simhost/simclock"
)

// Channel names every host boots with.
const (
	CombatChannel  = "combat.resolved"
	LevelUpChannel = "progression.level_up"
)

// Kind names accepted in channel definitions.
const (
	KindSignal       = "signal"
	KindStateChange  = "state_change"
	KindCombatResult = "combat_result"
	KindLevelUp      = "level_up"
)

// Kinds returns the payload kinds a host directory can build.
func Kinds() events.Kinds {
	return events.Kinds{
		KindSignal:       events.KindOf[shared.Void](),
		KindStateChange:  events.KindOf[shared.StateChangeRecord](),
		KindCombatResult: events.KindOf[shared.CombatResult](),
		KindLevelUp:      events.KindOf[shared.LevelUpData](),
	}
}

// DefaultDefinitions lists the channels derived from cfg. The step channel is
// left out when cfg disables it.
func DefaultDefinitions(cfg config.Config) events.StaticSource {
	defs := events.StaticSource{
		{Name: cfg.StateChannel, Kind: KindStateChange},
		{Name: CombatChannel, Kind: KindCombatResult},
		{Name: LevelUpChannel, Kind: KindLevelUp},
	}
	if cfg.StepChannel != "" {
		defs = append(defs, events.Definition{Name: cfg.StepChannel, Kind: KindSignal})
	}
	return defs
}

// Host is the simulation context shared by the control surfaces
type Host struct {
	Config    config.Config
	Log       *slog.Logger
	Sink      *logsink.Sink
	Directory *events.Directory
	Clock     *simclock.Clock
}

type options struct {
	next     slog.Handler
	stepFn   simclock.StepFunc
	extra    events.Source
	clockOpt []simclock.Option
}

// Option customises New
type Option func(*options)

// WithLogOutput sets the handler that receives log records after the sink.
// Nil keeps records in the sink only.
func WithLogOutput(h slog.Handler) Option {
	return func(o *options) {
		o.next = h
	}
}

// WithStepFunc sets the body run by the clock at every step.
func WithStepFunc(fn simclock.StepFunc) Option {
	return func(o *options) {
		o.stepFn = fn
	}
}

// WithDefinitions adds channel definitions on top of the defaults.
func WithDefinitions(src events.Source) Option {
	return func(o *options) {
		o.extra = src
	}
}

// WithClockOptions passes extra options to simclock.New.
func WithClockOptions(opts ...simclock.Option) Option {
	return func(o *options) {
		o.clockOpt = append(o.clockOpt, opts...)
	}
}

// New builds a Host from cfg. Log records go to stdout as text unless
// WithLogOutput says otherwise.
func New(cfg config.Config, opts ...Option) (*Host, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	level, err := logsink.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}

	o := options{next: slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})}
	for _, opt := range opts {
		opt(&o)
	}

	sink := logsink.New(logsink.Options{Capacity: cfg.LogCapacity, Level: level, Next: o.next})
	logger := slog.New(sink)

	sources := events.MultiSource{DefaultDefinitions(cfg)}
	if cfg.ChannelsFile != "" {
		sources = append(sources, events.FileSource(cfg.ChannelsFile))
	}
	if o.extra != nil {
		sources = append(sources, o.extra)
	}

	dir := events.NewDirectory(logger.With(slog.String("component", "events")), Kinds())
	if err := dir.Boot(sources); err != nil {
		return nil, fmt.Errorf("boot event directory: %w", err)
	}

	clockOpts := []simclock.Option{simclock.WithLogger(logger.With(slog.String("component", "simclock")))}
	if o.stepFn != nil {
		clockOpts = append(clockOpts, simclock.WithStepFunc(o.stepFn))
	}
	clockOpts = append(clockOpts, o.clockOpt...)

	clock, err := simclock.New(dir, simclock.Config{
		MaxSteps:     cfg.MaxSteps,
		Interval:     cfg.StepInterval,
		Speed:        cfg.Speed,
		MinSpeed:     cfg.MinSpeed,
		MaxSpeed:     cfg.MaxSpeed,
		StateChannel: cfg.StateChannel,
		StepChannel:  cfg.StepChannel,
	}, clockOpts...)
	if err != nil {
		return nil, fmt.Errorf("create clock: %w", err)
	}

	// Mirror state changes into the typed registry for subscribers that do
	// not hold a channel reference.
	stateCh, err := events.GetChannel[shared.StateChangeRecord](dir, cfg.StateChannel)
	if err != nil {
		return nil, err
	}
	stateCh.Register(events.NewListener(func(rec shared.StateChangeRecord) error {
		events.Publish(dir.Registry(), rec)
		return nil
	}))

	logger.Info("simulation host ready",
		slog.Int("max_steps", cfg.MaxSteps),
		slog.Duration("step_interval", cfg.StepInterval),
		slog.Any("channels", dir.Names()))

	return &Host{
		Config:    cfg,
		Log:       logger,
		Sink:      sink,
		Directory: dir,
		Clock:     clock,
	}, nil
}

// Close stops the clock loop.
func (h *Host) Close() {
	h.Clock.Close()
}

var (
	instanceOnce sync.Once
	instance     *Host
	instanceErr  error
)

// Instance returns the process-wide Host, building it from cfg on the first
// call. Later calls ignore their arguments and return the first result.
func Instance(cfg config.Config, opts ...Option) (*Host, error) {
	instanceOnce.Do(func() {
		instance, instanceErr = New(cfg, opts...)
	})
	return instance, instanceErr
}
