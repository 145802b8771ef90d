package events

import (
	"reflect"
	"sync"
)

// Registry is a type-indexed subscription table. Each payload type has its
// own bucket of callbacks, kept in subscription order.
type Registry struct {
	mu      sync.Mutex
	buckets map[reflect.Type]any
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{buckets: make(map[reflect.Type]any)}
}

type entry[T any] struct {
	fn func(T)
}

type bucket[T any] struct {
	entries []*entry[T]
}

func (b *bucket[T]) drop(e *entry[T]) {
	for i, existing := range b.entries {
		if existing == e {
			b.entries = append(b.entries[:i], b.entries[i+1:]...)
			return
		}
	}
}

// Subscription is the handle returned by Subscribe. Two subscriptions of the
// same function are independent entries.
type Subscription struct {
	registry    *Registry
	payloadType reflect.Type
	cancel      func()
}

// PayloadType returns the type this subscription listens for.
func (s *Subscription) PayloadType() reflect.Type {
	return s.payloadType
}

// Cancel removes the subscription. Calling it more than once is harmless.
func (s *Subscription) Cancel() {
	if s == nil || s.cancel == nil {
		return
	}
	s.cancel()
}

// Subscribe registers fn for payloads of type T.
func Subscribe[T any](r *Registry, fn func(T)) *Subscription {
	t := reflect.TypeFor[T]()
	e := &entry[T]{fn: fn}

	r.mu.Lock()
	b := bucketFor[T](r, t)
	b.entries = append(b.entries, e)
	r.mu.Unlock()

	return &Subscription{
		registry:    r,
		payloadType: t,
		cancel: func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			b.drop(e)
		},
	}
}

// Unsubscribe removes sub from r. It is a no-op when sub is nil, belongs to
// another registry, or was already removed.
func Unsubscribe(r *Registry, sub *Subscription) {
	if sub == nil || sub.registry != r {
		return
	}
	sub.Cancel()
}

// Publish delivers payload to every callback subscribed for T when Publish
// starts, in subscription order, on the calling goroutine.
func Publish[T any](r *Registry, payload T) {
	r.mu.Lock()
	raw, ok := r.buckets[reflect.TypeFor[T]()]
	if !ok {
		r.mu.Unlock()
		return
	}
	b := raw.(*bucket[T])
	snapshot := make([]*entry[T], len(b.entries))
	copy(snapshot, b.entries)
	r.mu.Unlock()

	for _, e := range snapshot {
		e.fn(payload)
	}
}

// Count returns the number of subscriptions for T.
func Count[T any](r *Registry) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	raw, ok := r.buckets[reflect.TypeFor[T]()]
	if !ok {
		return 0
	}
	return len(raw.(*bucket[T]).entries)
}

// bucketFor must be called with r.mu held.
func bucketFor[T any](r *Registry, t reflect.Type) *bucket[T] {
	if raw, ok := r.buckets[t]; ok {
		return raw.(*bucket[T])
	}
	b := &bucket[T]{}
	r.buckets[t] = b
	return b
}
