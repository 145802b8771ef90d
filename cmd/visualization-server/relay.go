package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"simhost/events"
	"simhost/shared"
)

const sseBuffer = 16

// Relay fans frames from one Watch stream out to any number of browsers.
type Relay struct {
	frames *events.Channel[shared.Frame]
}

// NewRelay creates an empty relay.
func NewRelay() *Relay {
	return &Relay{frames: events.NewChannel[shared.Frame]("visualization.frames")}
}

// Publish hands f to every connected browser.
func (r *Relay) Publish(f shared.Frame) {
	if err := r.frames.Raise(f); err != nil {
		log.Printf("Relay delivery error: %v", err)
	}
}

// Clients returns the number of connected browsers.
func (r *Relay) Clients() int {
	return r.frames.Len()
}

// Run follows watch until ctx is done, reconnecting after delay when the
// stream breaks.
func (r *Relay) Run(ctx context.Context, watch func(context.Context, func(shared.Frame) error) error, delay time.Duration) {
	for {
		err := watch(ctx, func(f shared.Frame) error {
			r.Publish(f)
			return nil
		})
		if ctx.Err() != nil {
			return
		}
		log.Printf("Watch stream ended: %v. Reconnecting in %v", err, delay)
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

// ServeSSE streams frames to the browser as server-sent events, starting with
// the most recent frame seen by the relay.
func (r *Relay) ServeSSE(w http.ResponseWriter, req *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	queue := make(chan shared.Frame, sseBuffer)
	listener := events.NewListener(func(f shared.Frame) error {
		select {
		case queue <- f:
		default:
		}
		return nil
	})
	last, ok := r.frames.RegisterWithLast(listener)
	defer r.frames.Unregister(listener)

	if ok {
		if err := writeEvent(w, last); err != nil {
			log.Printf("/events initial send error: %v", err)
			return
		}
	}
	flusher.Flush()

	for {
		select {
		case <-req.Context().Done():
			return
		case f := <-queue:
			if err := writeEvent(w, f); err != nil {
				log.Printf("/events send error: %v", err)
				return
			}
			flusher.Flush()
		}
	}
}

// writeEvent writes f as "event: <type>\ndata: <json>\n\n".
func writeEvent(w http.ResponseWriter, f shared.Frame) error {
	b, err := json.Marshal(f)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", f.Type, b)
	return err
}
