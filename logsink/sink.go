// Package logsink is the append-only log collaborator of the simulation host.
//
// A Sink is a slog.Handler that keeps the most recent entries in a fixed-size
// ring and optionally forwards every record to another handler (normally a
// text handler on stdout). Entries carry one of four severities: info,
// warning, error, and domain. Domain entries are tagged with the subsystem
// that produced them, e.g. "combat" or "progression".
package logsink

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// LevelDomain sits between info and warning so that a handler filtering at
// info still records domain entries.
const LevelDomain = slog.Level(2)

// DomainKey is the attribute carrying the domain tag.
const DomainKey = "domain"

// DefaultCapacity is the ring size used when none is configured.
const DefaultCapacity = 100

// Severity classifies a stored entry
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
	SeverityDomain  Severity = "domain"
)

// Entry is one stored log line
type Entry struct {
	Time     time.Time `json:"time"`
	Severity Severity  `json:"severity"`
	Domain   string    `json:"domain,omitempty"`
	Message  string    `json:"message"`
	Context  string    `json:"context,omitempty"`
}

type ring struct {
	mu      sync.Mutex
	entries []Entry
	next    int
	full    bool
}

func (r *ring) add(e Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[r.next] = e
	r.next = (r.next + 1) % len(r.entries)
	if r.next == 0 {
		r.full = true
	}
}

func (r *ring) snapshot() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.full {
		out := make([]Entry, r.next)
		copy(out, r.entries[:r.next])
		return out
	}
	out := make([]Entry, 0, len(r.entries))
	out = append(out, r.entries[r.next:]...)
	out = append(out, r.entries[:r.next]...)
	return out
}

func (r *ring) clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.next = 0
	r.full = false
}

// Sink is a slog.Handler backed by a ring buffer
type Sink struct {
	ring   *ring
	next   slog.Handler
	level  slog.Leveler
	attrs  []slog.Attr
	groups []string
}

// Options configures a Sink
type Options struct {
	// Capacity is the number of retained entries. Zero means DefaultCapacity.
	Capacity int
	// Level is the minimum level recorded. Nil means slog.LevelInfo.
	Level slog.Leveler
	// Next receives every record after it is stored. May be nil.
	Next slog.Handler
}

// New creates a Sink
func New(opts Options) *Sink {
	capacity := opts.Capacity
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	level := opts.Level
	if level == nil {
		level = slog.LevelInfo
	}
	return &Sink{
		ring:  &ring{entries: make([]Entry, capacity)},
		next:  opts.Next,
		level: level,
	}
}

// Enabled implements slog.Handler
func (s *Sink) Enabled(_ context.Context, level slog.Level) bool {
	return level >= s.level.Level()
}

// Handle implements slog.Handler
func (s *Sink) Handle(ctx context.Context, r slog.Record) error {
	entry := Entry{
		Time:     r.Time,
		Severity: severityFor(r.Level),
		Message:  r.Message,
	}

	var parts []string
	collect := func(a slog.Attr) {
		if a.Key == DomainKey && len(s.groups) == 0 {
			entry.Domain = a.Value.String()
			return
		}
		parts = append(parts, s.qualify(a.Key)+"="+a.Value.String())
	}
	for _, a := range s.attrs {
		collect(a)
	}
	r.Attrs(func(a slog.Attr) bool {
		collect(a)
		return true
	})
	entry.Context = strings.Join(parts, " ")
	if entry.Domain != "" {
		entry.Severity = SeverityDomain
	}
	s.ring.add(entry)

	if s.next != nil && s.next.Enabled(ctx, r.Level) {
		if err := s.next.Handle(ctx, r); err != nil {
			return fmt.Errorf("forward log record: %w", err)
		}
	}
	return nil
}

// WithAttrs implements slog.Handler
func (s *Sink) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := s.clone()
	for _, a := range attrs {
		a.Key = s.qualify(a.Key)
		clone.attrs = append(clone.attrs, a)
	}
	if s.next != nil {
		clone.next = s.next.WithAttrs(attrs)
	}
	return clone
}

// WithGroup implements slog.Handler
func (s *Sink) WithGroup(name string) slog.Handler {
	if name == "" {
		return s
	}
	clone := s.clone()
	clone.groups = append(clone.groups, name)
	if s.next != nil {
		clone.next = s.next.WithGroup(name)
	}
	return clone
}

// Entries returns the retained entries, oldest first.
func (s *Sink) Entries() []Entry {
	return s.ring.snapshot()
}

// Clear drops every retained entry.
func (s *Sink) Clear() {
	s.ring.clear()
}

// Capacity returns the ring size.
func (s *Sink) Capacity() int {
	return len(s.ring.entries)
}

func (s *Sink) clone() *Sink {
	return &Sink{
		ring:   s.ring,
		next:   s.next,
		level:  s.level,
		attrs:  append([]slog.Attr(nil), s.attrs...),
		groups: append([]string(nil), s.groups...),
	}
}

func (s *Sink) qualify(key string) string {
	if len(s.groups) == 0 {
		return key
	}
	return strings.Join(s.groups, ".") + "." + key
}

func severityFor(level slog.Level) Severity {
	switch {
	case level >= slog.LevelError:
		return SeverityError
	case level >= slog.LevelWarn:
		return SeverityWarning
	case level == LevelDomain:
		return SeverityDomain
	default:
		return SeverityInfo
	}
}

// Domain logs a domain-tagged entry.
func Domain(ctx context.Context, logger *slog.Logger, tag, msg string, args ...any) {
	args = append(args, slog.String(DomainKey, tag))
	logger.Log(ctx, LevelDomain, msg, args...)
}

// ParseLevel maps "debug", "info", "warn"/"warning", "error" to a slog level.
func ParseLevel(name string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", name)
	}
}
