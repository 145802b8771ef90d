package events

import (
	"errors"
	"math/rand"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"simhost/apperrors"
)

type recorder struct {
	name   string
	calls  *[]string
	before func(payload int) error
}

func (r *recorder) OnEventRaised(payload int) error {
	*r.calls = append(*r.calls, r.name)
	if r.before != nil {
		return r.before(payload)
	}
	return nil
}

func newRecorders(calls *[]string, names ...string) []*recorder {
	out := make([]*recorder, len(names))
	for i, n := range names {
		out[i] = &recorder{name: n, calls: calls}
	}
	return out
}

func TestChannelRaiseReverseRegistrationOrder(t *testing.T) {
	var calls []string
	ch := NewChannel[int]("test")
	for _, r := range newRecorders(&calls, "a", "b", "c") {
		ch.Register(r)
	}

	if err := ch.Raise(1); err != nil {
		t.Fatalf("raise: %v", err)
	}
	if diff := cmp.Diff([]string{"c", "b", "a"}, calls); diff != "" {
		t.Errorf("delivery order mismatch (-want +got):\n%s", diff)
	}
}

func TestChannelRegisterIsIdempotent(t *testing.T) {
	var calls []string
	ch := NewChannel[int]("test")
	r := &recorder{name: "a", calls: &calls}
	ch.Register(r)
	ch.Register(r)

	if ch.Len() != 1 {
		t.Errorf("Expected 1 listener, got %d", ch.Len())
	}
	if err := ch.Raise(1); err != nil {
		t.Fatalf("raise: %v", err)
	}
	if len(calls) != 1 {
		t.Errorf("Expected 1 delivery, got %d", len(calls))
	}
}

func TestChannelUnregisterAbsentIsNoop(t *testing.T) {
	var calls []string
	ch := NewChannel[int]("test")
	rs := newRecorders(&calls, "a", "b")
	ch.Register(rs[0])
	ch.Unregister(rs[1])

	if ch.Len() != 1 {
		t.Errorf("Expected 1 listener, got %d", ch.Len())
	}
}

func TestChannelSelfUnregisterDuringRaise(t *testing.T) {
	var calls []string
	ch := NewChannel[int]("test")
	rs := newRecorders(&calls, "a", "b", "c", "d")
	rs[2].before = func(int) error {
		ch.Unregister(rs[2])
		return nil
	}
	for _, r := range rs {
		ch.Register(r)
	}

	if err := ch.Raise(1); err != nil {
		t.Fatalf("raise: %v", err)
	}
	if diff := cmp.Diff([]string{"d", "c", "b", "a"}, calls); diff != "" {
		t.Errorf("first raise mismatch (-want +got):\n%s", diff)
	}

	calls = nil
	if err := ch.Raise(2); err != nil {
		t.Fatalf("raise: %v", err)
	}
	if diff := cmp.Diff([]string{"d", "b", "a"}, calls); diff != "" {
		t.Errorf("second raise mismatch (-want +got):\n%s", diff)
	}
}

func TestChannelUnregisterVisitedAndUnvisitedDuringRaise(t *testing.T) {
	var calls []string
	ch := NewChannel[int]("test")
	rs := newRecorders(&calls, "a", "b", "c", "d")
	// c removes d (already visited) and a (not yet visited).
	rs[2].before = func(int) error {
		ch.Unregister(rs[3])
		ch.Unregister(rs[0])
		return nil
	}
	for _, r := range rs {
		ch.Register(r)
	}

	if err := ch.Raise(1); err != nil {
		t.Fatalf("raise: %v", err)
	}
	if diff := cmp.Diff([]string{"d", "c", "b"}, calls); diff != "" {
		t.Errorf("delivery mismatch (-want +got):\n%s", diff)
	}
}

func TestChannelRegisterDuringRaiseWaitsForNextRaise(t *testing.T) {
	var calls []string
	ch := NewChannel[int]("test")
	rs := newRecorders(&calls, "a", "late")
	rs[0].before = func(int) error {
		ch.Register(rs[1])
		return nil
	}
	ch.Register(rs[0])

	if err := ch.Raise(1); err != nil {
		t.Fatalf("raise: %v", err)
	}
	if diff := cmp.Diff([]string{"a"}, calls); diff != "" {
		t.Errorf("first raise mismatch (-want +got):\n%s", diff)
	}

	calls = nil
	if err := ch.Raise(2); err != nil {
		t.Fatalf("raise: %v", err)
	}
	if diff := cmp.Diff([]string{"late", "a"}, calls); diff != "" {
		t.Errorf("second raise mismatch (-want +got):\n%s", diff)
	}
}

func TestChannelListenerFailureStopsDelivery(t *testing.T) {
	var calls []string
	ch := NewChannel[int]("test")
	rs := newRecorders(&calls, "a", "b", "c")
	boom := errors.New("boom")
	rs[1].before = func(int) error { return boom }
	for _, r := range rs {
		ch.Register(r)
	}

	err := ch.Raise(1)
	if err == nil {
		t.Fatal("Expected listener failure")
	}
	if !errors.Is(err, apperrors.ErrListenerFailure) {
		t.Errorf("Expected ListenerFailure code, got %v", err)
	}
	if !errors.Is(err, boom) {
		t.Errorf("Expected cause to be preserved, got %v", err)
	}
	if diff := cmp.Diff([]string{"c", "b"}, calls); diff != "" {
		t.Errorf("partial delivery mismatch (-want +got):\n%s", diff)
	}
}

func TestChannelLastPayloadSetBeforeDelivery(t *testing.T) {
	ch := NewChannel[int]("test")
	if _, ok := ch.Last(); ok {
		t.Error("Expected no last payload before first raise")
	}

	var seen []int
	ch.Register(NewListener(func(p int) error {
		last, _ := ch.Last()
		seen = append(seen, last, p)
		return nil
	}))
	if err := ch.Raise(7); err != nil {
		t.Fatalf("raise: %v", err)
	}
	if diff := cmp.Diff([]int{7, 7}, seen); diff != "" {
		t.Errorf("payload mismatch (-want +got):\n%s", diff)
	}
	if last, ok := ch.Last(); !ok || last != 7 {
		t.Errorf("Expected last payload 7, got %d (%v)", last, ok)
	}
}

func TestChannelFuncListenersHaveDistinctIdentity(t *testing.T) {
	ch := NewChannel[int]("test")
	count := 0
	fn := func(int) error { count++; return nil }
	ch.Register(NewListener(fn))
	ch.Register(NewListener(fn))

	if err := ch.Raise(1); err != nil {
		t.Fatalf("raise: %v", err)
	}
	if count != 2 {
		t.Errorf("Expected 2 deliveries, got %d", count)
	}
}

// For any sequence of register/unregister calls, a raise reaches exactly the
// registered listeners once each, newest first.
func TestChannelRandomRegistrationSequences(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for round := 0; round < 200; round++ {
		var calls []string
		ch := NewChannel[int]("test")
		pool := newRecorders(&calls, "a", "b", "c", "d", "e", "f")
		var model []string

		for op := 0; op < 20; op++ {
			r := pool[rng.Intn(len(pool))]
			if rng.Intn(2) == 0 {
				ch.Register(r)
				if !containsName(model, r.name) {
					model = append(model, r.name)
				}
			} else {
				ch.Unregister(r)
				model = removeName(model, r.name)
			}
		}

		if err := ch.Raise(round); err != nil {
			t.Fatalf("raise: %v", err)
		}
		want := make([]string, 0, len(model))
		for i := len(model) - 1; i >= 0; i-- {
			want = append(want, model[i])
		}
		if diff := cmp.Diff(want, calls, cmpopts.EquateEmpty()); diff != "" {
			t.Fatalf("round %d mismatch (-want +got):\n%s", round, diff)
		}
	}
}

func containsName(names []string, name string) bool {
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}

func removeName(names []string, name string) []string {
	for i, n := range names {
		if n == name {
			return append(names[:i], names[i+1:]...)
		}
	}
	return names
}

func TestChannelRegisterWithLastSeesEachRaiseOnce(t *testing.T) {
	const raises = 500
	ch := NewChannel[int]("test")

	joined := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 1; i <= raises; i++ {
			if i == raises/2 {
				<-joined
			}
			_ = ch.Raise(i)
		}
	}()

	var mu sync.Mutex
	var got []int
	last, ok := ch.RegisterWithLast(NewListener(func(v int) error {
		mu.Lock()
		got = append(got, v)
		mu.Unlock()
		return nil
	}))
	close(joined)
	<-done

	first := 1
	if ok {
		first = last + 1
	}
	var want []int
	for i := first; i <= raises; i++ {
		want = append(want, i)
	}
	mu.Lock()
	defer mu.Unlock()
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("deliveries after join mismatch (-want +got):\n%s", diff)
	}
}
