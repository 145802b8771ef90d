// Command simhost runs the simulation clock headless until it completes,
// rewriting a state file at every transition and step.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"simhost/config"
	"simhost/events"
	"simhost/host"
	"simhost/shared"
)

// StatePrinter keeps a file showing the latest simulation state
type StatePrinter struct {
	mu   sync.Mutex
	file *os.File
	last *shared.StateChangeRecord
}

// NewStatePrinter creates (or truncates) the output file at path.
func NewStatePrinter(path string) (*StatePrinter, error) {
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o666)
	if err != nil {
		return nil, fmt.Errorf("open output file %s: %w", path, err)
	}
	return &StatePrinter{file: file}, nil
}

// OnEventRaised records the transition and rewrites the file.
func (p *StatePrinter) OnEventRaised(rec shared.StateChangeRecord) error {
	p.mu.Lock()
	p.last = &rec
	p.mu.Unlock()
	return nil
}

// PrintState overwrites the file with st and the last transition seen.
func (p *StatePrinter) PrintState(st shared.Status) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, err := p.file.Seek(0, 0); err != nil {
		log.Printf("Error seeking in output file: %v", err)
		return
	}
	if err := p.file.Truncate(0); err != nil {
		log.Printf("Error truncating output file: %v", err)
		return
	}

	fmt.Fprintf(p.file, "Current state: %s\n", st.State)
	fmt.Fprintf(p.file, "Step: %d/%d\n", st.Step, st.TotalSteps)
	fmt.Fprintf(p.file, "Speed: %.2fx (interval %s)\n", st.Speed, st.Interval)
	if p.last != nil {
		fmt.Fprintf(p.file, "Last transition: %s -> %s at step %d\n", p.last.PreviousState, p.last.NewState, p.last.CurrentStep)
	}
	if err := p.file.Sync(); err != nil {
		log.Printf("Error syncing output file: %v", err)
	}
}

// Close closes the output file.
func (p *StatePrinter) Close() error {
	return p.file.Close()
}

// run drives h to completion or until ctx is done. The printer sees every
// transition and every step.
func run(ctx context.Context, h *host.Host, printer *StatePrinter) error {
	stateCh, err := events.GetChannel[shared.StateChangeRecord](h.Directory, h.Config.StateChannel)
	if err != nil {
		return err
	}

	completed := make(chan struct{})
	var once sync.Once
	// Listeners run last-registered first, so the printer records the
	// transition before it is printed.
	stateCh.Register(events.NewListener(func(rec shared.StateChangeRecord) error {
		printer.PrintState(h.Clock.Status())
		if rec.NewState == shared.StateCompleted {
			once.Do(func() { close(completed) })
		}
		return nil
	}))
	stateCh.Register(printer)

	if h.Config.StepChannel != "" {
		stepCh, err := events.GetChannel[shared.Void](h.Directory, h.Config.StepChannel)
		if err != nil {
			return err
		}
		stepCh.Register(events.NewListener(func(shared.Void) error {
			printer.PrintState(h.Clock.Status())
			return nil
		}))
	}

	if err := h.Clock.Start(); err != nil {
		return err
	}

	select {
	case <-completed:
		h.Log.Info("simulation finished", slog.Int("steps", h.Clock.CurrentStep()))
	case <-ctx.Done():
		h.Log.Info("simulation interrupted", slog.Int("steps", h.Clock.CurrentStep()))
		if err := h.Clock.Pause(); err != nil {
			return err
		}
	}
	return nil
}

func main() {
	configPath := flag.String("config", "", "Path to config file")
	outputPath := flag.String("out", "simulation_state.txt", "File rewritten with the current state")
	steps := flag.Int("steps", 0, "Step budget (overrides config)")
	interval := flag.Duration("interval", 0, "Step interval (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if *steps > 0 {
		cfg.MaxSteps = *steps
	}
	if *interval > 0 {
		cfg.StepInterval = *interval
	}

	h, err := host.New(cfg)
	if err != nil {
		log.Fatalf("Failed to create simulation host: %v", err)
	}
	defer h.Close()

	printer, err := NewStatePrinter(*outputPath)
	if err != nil {
		log.Fatalf("%v", err)
	}
	defer printer.Close()
	log.Printf("Simulation state will be written to %s", *outputPath)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	start := time.Now()
	if err := run(ctx, h, printer); err != nil {
		log.Printf("Simulation run error: %v", err)
	}
	log.Printf("Simulation finished in %v.", time.Since(start).Round(time.Millisecond))
}
