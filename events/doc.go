// Package events is the event bus of the simulation host.
//
// It offers two independent notification paths:
//
// # Named channels
//
// A Channel[T] is a named broadcast point with an explicit listener set.
// Registering the same listener twice is a no-op, and Raise walks listeners
// from the most recently registered to the first, so a listener may
// unregister itself while it is being notified. Channels are created once by
// Directory.Boot from a list of definitions and live for the process
// lifetime.
//
// # Typed registry
//
// A Registry maps a payload type to an ordered list of callbacks. Subscribing
// the same callback twice produces two deliveries. Publish copies the
// callback list before delivering, so callbacks may subscribe or unsubscribe
// while a publish is in flight.
//
// Delivery on both paths is synchronous on the caller's goroutine.
package events
