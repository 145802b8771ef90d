package control

import (
	"context"
	"errors"
	"math"
	"net"
	"testing"
	"time"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"simhost/events"
	"simhost/shared"
	"simhost/simclock"
)

const (
	stateChannel = "simulation.state_changed"
	stepChannel  = "simulation.step"
)

type fixture struct {
	clock  *simclock.Clock
	dir    *events.Directory
	client *Client
}

func newFixture(t *testing.T, cfg simclock.Config) *fixture {
	t.Helper()

	dir := events.NewDirectory(nil, events.Kinds{
		"state_change": events.KindOf[shared.StateChangeRecord](),
		"signal":       events.KindOf[shared.Void](),
	})
	err := dir.Boot(events.StaticSource{
		{Name: stateChannel, Kind: "state_change"},
		{Name: stepChannel, Kind: "signal"},
	})
	if err != nil {
		t.Fatalf("boot: %v", err)
	}

	cfg.StateChannel = stateChannel
	clock, err := simclock.New(dir, cfg)
	if err != nil {
		t.Fatalf("new clock: %v", err)
	}
	t.Cleanup(clock.Close)

	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	Register(srv, NewServer(clock, dir, stateChannel, cfg.StepChannel, nil))
	go srv.Serve(lis)
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	return &fixture{clock: clock, dir: dir, client: NewClient(conn)}
}

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestControlRoundTrip(t *testing.T) {
	f := newFixture(t, simclock.Config{MaxSteps: 10, Interval: time.Hour})
	ctx := testContext(t)

	st, err := f.client.Status(ctx)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if st.State != shared.StateReady || st.TotalSteps != 10 {
		t.Errorf("Expected ready with 10 steps, got %+v", st)
	}

	st, err = f.client.Start(ctx)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if st.State != shared.StateRunning {
		t.Errorf("Expected running after start, got %s", st.State)
	}

	st, err = f.client.Pause(ctx)
	if err != nil {
		t.Fatalf("pause: %v", err)
	}
	if st.State != shared.StatePaused {
		t.Errorf("Expected paused after pause, got %s", st.State)
	}

	st, err = f.client.Reset(ctx)
	if err != nil {
		t.Fatalf("reset: %v", err)
	}
	if st.State != shared.StateReady || st.Step != 0 {
		t.Errorf("Expected ready at step 0 after reset, got %+v", st)
	}
	if st.Interval != time.Hour {
		t.Errorf("Expected interval 1h, got %s", st.Interval)
	}
}

func TestControlSetSpeedClamps(t *testing.T) {
	f := newFixture(t, simclock.Config{MaxSteps: 10, Interval: time.Hour})
	ctx := testContext(t)

	tests := []struct {
		requested float64
		want      float64
	}{
		{2.5, 2.5},
		{50, simclock.DefaultMaxSpeed},
		{0, simclock.DefaultMinSpeed},
		{-3, simclock.DefaultMinSpeed},
		{math.NaN(), simclock.DefaultMinSpeed},
	}
	for _, tt := range tests {
		st, err := f.client.SetSpeed(ctx, tt.requested)
		if err != nil {
			t.Fatalf("set speed %v: %v", tt.requested, err)
		}
		if st.Speed != tt.want {
			t.Errorf("SetSpeed(%v): Expected %v, got %v", tt.requested, tt.want, st.Speed)
		}
	}
}

func TestControlListenerFailureIsAborted(t *testing.T) {
	f := newFixture(t, simclock.Config{MaxSteps: 10, Interval: time.Hour})
	ctx := testContext(t)

	ch, err := events.GetChannel[shared.StateChangeRecord](f.dir, stateChannel)
	if err != nil {
		t.Fatalf("state channel: %v", err)
	}
	ch.Register(events.NewListener(func(shared.StateChangeRecord) error {
		return errors.New("listener exploded")
	}))

	_, err = f.client.Start(ctx)
	if status.Code(err) != codes.Aborted {
		t.Errorf("Expected Aborted, got %v", err)
	}
	if f.clock.CurrentState() != shared.StateRunning {
		t.Errorf("Expected transition to be applied, got %s", f.clock.CurrentState())
	}
}

func TestWatchStreamsTransitions(t *testing.T) {
	f := newFixture(t, simclock.Config{MaxSteps: 2, Interval: time.Millisecond, StepChannel: stepChannel})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	frames := make(chan shared.Frame, 32)
	errc := make(chan error, 1)
	go func() {
		errc <- f.client.Watch(ctx, func(fr shared.Frame) error {
			frames <- fr
			return nil
		})
	}()

	hello := nextFrame(t, frames)
	if hello.Type != shared.FrameHello || hello.Status == nil || hello.Status.State != shared.StateReady {
		t.Fatalf("Expected hello frame with ready status, got %+v", hello)
	}

	if err := f.clock.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}

	var records []shared.StateChangeRecord
	steps := 0
	for len(records) < 2 {
		fr := nextFrame(t, frames)
		switch fr.Type {
		case shared.FrameStateChanged:
			records = append(records, *fr.Record)
		case shared.FrameStep:
			steps++
		}
	}

	want := []shared.StateChangeRecord{
		{PreviousState: shared.StateReady, NewState: shared.StateRunning, CurrentStep: 0, TotalSteps: 2},
		{PreviousState: shared.StateRunning, NewState: shared.StateCompleted, CurrentStep: 2, TotalSteps: 2},
	}
	for i := range want {
		if records[i] != want[i] {
			t.Errorf("record %d: Expected %+v, got %+v", i, want[i], records[i])
		}
	}
	if steps != 2 {
		t.Errorf("Expected 2 step frames before completion, got %d", steps)
	}

	cancel()
	select {
	case <-errc:
	case <-time.After(5 * time.Second):
		t.Fatal("Watch did not return after cancel")
	}
}

func TestWatchUnregistersOnClose(t *testing.T) {
	f := newFixture(t, simclock.Config{MaxSteps: 2, Interval: time.Hour})
	ch, err := events.GetChannel[shared.StateChangeRecord](f.dir, stateChannel)
	if err != nil {
		t.Fatalf("state channel: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	got := make(chan struct{}, 1)
	done := make(chan struct{})
	go func() {
		defer close(done)
		f.client.Watch(ctx, func(shared.Frame) error {
			select {
			case got <- struct{}{}:
			default:
			}
			return nil
		})
	}()

	select {
	case <-got:
	case <-time.After(5 * time.Second):
		t.Fatal("Timed out waiting for hello frame")
	}
	if ch.Len() != 1 {
		t.Errorf("Expected 1 listener while watching, got %d", ch.Len())
	}

	cancel()
	<-done
	deadline := time.Now().Add(5 * time.Second)
	for ch.Len() != 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if ch.Len() != 0 {
		t.Errorf("Expected listener removed after stream closed, got %d", ch.Len())
	}
}

func TestWatchMissingStateChannel(t *testing.T) {
	dir := events.NewDirectory(nil, events.Kinds{"signal": events.KindOf[shared.Void]()})
	if err := dir.Boot(events.StaticSource{}); err != nil {
		t.Fatalf("boot: %v", err)
	}
	clock, err := simclock.New(dir, simclock.Config{MaxSteps: 1})
	if err != nil {
		t.Fatalf("new clock: %v", err)
	}
	defer clock.Close()

	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	Register(srv, NewServer(clock, dir, stateChannel, "", nil))
	go srv.Serve(lis)
	defer srv.Stop()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	err = NewClient(conn).Watch(testContext(t), func(shared.Frame) error { return nil })
	if status.Code(err) != codes.NotFound {
		t.Errorf("Expected NotFound, got %v", err)
	}
	st, _ := status.FromError(err)
	found := false
	for _, d := range st.Details() {
		if info, ok := d.(*errdetails.ErrorInfo); ok && info.Metadata["channel"] == stateChannel {
			found = true
		}
	}
	if !found {
		t.Errorf("Expected ErrorInfo naming %s, got %v", stateChannel, st.Details())
	}
}

func TestFrameStructRoundTrip(t *testing.T) {
	rec := shared.StateChangeRecord{PreviousState: shared.StatePaused, NewState: shared.StateRunning, CurrentStep: 4, TotalSteps: 9}
	in := shared.Frame{Type: shared.FrameStateChanged, Record: &rec, Timestamp: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}

	msg, err := FrameToStruct(in)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if got := msg.GetFields()["type"].GetStringValue(); got != "state_changed" {
		t.Errorf("Expected type field state_changed, got %q", got)
	}

	out, err := FrameFromStruct(msg)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Record == nil || *out.Record != rec {
		t.Errorf("Expected record %+v, got %+v", rec, out.Record)
	}
	if !out.Timestamp.Equal(in.Timestamp) {
		t.Errorf("Expected timestamp %s, got %s", in.Timestamp, out.Timestamp)
	}
}

func nextFrame(t *testing.T, frames <-chan shared.Frame) shared.Frame {
	t.Helper()
	select {
	case fr := <-frames:
		return fr
	case <-time.After(5 * time.Second):
		t.Fatal("Timed out waiting for frame")
		return shared.Frame{}
	}
}
