package events

import (
	"reflect"
	"sync"

	"simhost/apperrors"
)

// Listener receives the payload of every raise on the channels it is
// registered with. Implementations must be comparable; pointer receivers are
// the usual choice.
type Listener[T any] interface {
	OnEventRaised(payload T) error
}

// FuncListener adapts a function to the Listener interface. Use the pointer
// returned by NewListener as the listener identity.
type FuncListener[T any] struct {
	fn func(T) error
}

// NewListener wraps fn in a listener with its own identity.
func NewListener[T any](fn func(T) error) *FuncListener[T] {
	return &FuncListener[T]{fn: fn}
}

// OnEventRaised calls the wrapped function.
func (l *FuncListener[T]) OnEventRaised(payload T) error {
	return l.fn(payload)
}

// Named is the kind-independent view of a channel held by a Directory.
type Named interface {
	Name() string
	PayloadType() reflect.Type
	Len() int
}

// Channel is a named broadcast point carrying payloads of type T.
type Channel[T any] struct {
	name string

	mu        sync.Mutex
	listeners []Listener[T]
	last      T
	raised    bool
}

// NewChannel creates an empty channel.
func NewChannel[T any](name string) *Channel[T] {
	return &Channel[T]{name: name}
}

// Name returns the channel name.
func (c *Channel[T]) Name() string {
	return c.name
}

// PayloadType returns the reflect.Type of T.
func (c *Channel[T]) PayloadType() reflect.Type {
	return reflect.TypeFor[T]()
}

// Len returns the number of registered listeners.
func (c *Channel[T]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.listeners)
}

// Register adds l unless it is already registered.
func (c *Channel[T]) Register(l Listener[T]) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.indexLocked(l) >= 0 {
		return
	}
	c.listeners = append(c.listeners, l)
}

// RegisterWithLast registers l like Register and returns the last payload
// seen at that same instant. A raise is either reflected in the returned
// payload or delivered to l, never both.
func (c *Channel[T]) RegisterWithLast(l Listener[T]) (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.indexLocked(l) < 0 {
		c.listeners = append(c.listeners, l)
	}
	return c.last, c.raised
}

// Unregister removes l. It is a no-op when l is not registered.
func (c *Channel[T]) Unregister(l Listener[T]) {
	c.mu.Lock()
	defer c.mu.Unlock()
	i := c.indexLocked(l)
	if i < 0 {
		return
	}
	c.listeners = append(c.listeners[:i], c.listeners[i+1:]...)
}

// Last returns the payload of the most recent raise.
func (c *Channel[T]) Last() (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last, c.raised
}

// Raise stores payload as the last payload and notifies listeners from the
// last registered to the first. The walk covers the listeners registered when
// Raise starts; one that is unregistered before its turn is skipped, and one
// registered during the raise waits for the next raise. The first listener
// error stops the walk and is returned wrapped with CodeListenerFailure;
// listeners already notified stay notified.
func (c *Channel[T]) Raise(payload T) error {
	c.mu.Lock()
	c.last = payload
	c.raised = true
	snapshot := make([]Listener[T], len(c.listeners))
	copy(snapshot, c.listeners)
	c.mu.Unlock()

	for i := len(snapshot) - 1; i >= 0; i-- {
		l := snapshot[i]
		if !c.registered(l) {
			continue
		}
		if err := l.OnEventRaised(payload); err != nil {
			return apperrors.WrapWithMetadata(
				apperrors.CodeListenerFailure,
				"channel "+c.name+": listener failed",
				map[string]string{"channel": c.name},
				err,
			)
		}
	}
	return nil
}

func (c *Channel[T]) registered(l Listener[T]) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.indexLocked(l) >= 0
}

func (c *Channel[T]) indexLocked(l Listener[T]) int {
	for i, existing := range c.listeners {
		if existing == l {
			return i
		}
	}
	return -1
}
