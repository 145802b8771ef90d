package logsink

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"testing"
)

func TestSinkRecordsSeverities(t *testing.T) {
	sink := New(Options{Capacity: 10})
	logger := slog.New(sink)
	ctx := context.Background()

	logger.Info("clock started", slog.Int("step", 0))
	logger.Warn("channel not found", slog.String("channel", "missing"))
	logger.Error("listener failed")
	Domain(ctx, logger, "combat", "hit landed", slog.Int("damage", 7))

	entries := sink.Entries()
	if len(entries) != 4 {
		t.Fatalf("Expected 4 entries, got %d", len(entries))
	}

	want := []struct {
		severity Severity
		message  string
		context  string
		domain   string
	}{
		{SeverityInfo, "clock started", "step=0", ""},
		{SeverityWarning, "channel not found", "channel=missing", ""},
		{SeverityError, "listener failed", "", ""},
		{SeverityDomain, "hit landed", "damage=7", "combat"},
	}
	for i, w := range want {
		got := entries[i]
		if got.Severity != w.severity {
			t.Errorf("entry %d: Expected severity %s, got %s", i, w.severity, got.Severity)
		}
		if got.Message != w.message {
			t.Errorf("entry %d: Expected message %q, got %q", i, w.message, got.Message)
		}
		if got.Context != w.context {
			t.Errorf("entry %d: Expected context %q, got %q", i, w.context, got.Context)
		}
		if got.Domain != w.domain {
			t.Errorf("entry %d: Expected domain %q, got %q", i, w.domain, got.Domain)
		}
	}
}

func TestSinkEvictsOldestEntries(t *testing.T) {
	sink := New(Options{Capacity: 3})
	logger := slog.New(sink)

	for i := 0; i < 5; i++ {
		logger.Info(fmt.Sprintf("entry %d", i))
	}

	entries := sink.Entries()
	if len(entries) != 3 {
		t.Fatalf("Expected 3 entries, got %d", len(entries))
	}
	for i, e := range entries {
		want := fmt.Sprintf("entry %d", i+2)
		if e.Message != want {
			t.Errorf("Expected %q, got %q", want, e.Message)
		}
	}
}

func TestSinkLevelFilter(t *testing.T) {
	sink := New(Options{Level: slog.LevelWarn})
	logger := slog.New(sink)

	logger.Info("dropped")
	logger.Warn("kept")

	entries := sink.Entries()
	if len(entries) != 1 || entries[0].Message != "kept" {
		t.Errorf("Expected only the warning entry, got %+v", entries)
	}
}

func TestSinkForwardsAndKeepsAttrs(t *testing.T) {
	var buf bytes.Buffer
	sink := New(Options{Next: slog.NewTextHandler(&buf, nil)})
	logger := slog.New(sink).With(slog.String("component", "simclock")).WithGroup("step")

	logger.Info("advanced", slog.Int("n", 2))

	entries := sink.Entries()
	if len(entries) != 1 {
		t.Fatalf("Expected 1 entry, got %d", len(entries))
	}
	if entries[0].Context != "component=simclock step.n=2" {
		t.Errorf("Expected qualified context, got %q", entries[0].Context)
	}
	if !strings.Contains(buf.String(), "msg=advanced") {
		t.Errorf("Expected forwarded record, got %q", buf.String())
	}
}

func TestSinkClear(t *testing.T) {
	sink := New(Options{Capacity: 2})
	logger := slog.New(sink)
	logger.Info("a")
	logger.Info("b")
	logger.Info("c")
	sink.Clear()

	if got := len(sink.Entries()); got != 0 {
		t.Errorf("Expected 0 entries after clear, got %d", got)
	}
	logger.Info("d")
	if entries := sink.Entries(); len(entries) != 1 || entries[0].Message != "d" {
		t.Errorf("Expected only d after clear, got %+v", entries)
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"", slog.LevelInfo, false},
		{"debug", slog.LevelDebug, false},
		{"WARNING", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"loud", slog.LevelInfo, true},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLevel(%q): unexpected error state %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("ParseLevel(%q): Expected %v, got %v", tt.in, tt.want, got)
		}
	}
}
