package testutil

import (
	"sync"

	"github.com/onnwee/relay/registry"
)

// Emitted is one recorded delivery. Handle is zero for broadcasts.
type Emitted struct {
	Handle    registry.Handle
	Name      string
	Payload   any
	Broadcast bool
}

// RecordingEmitter records every delivery in order.
type RecordingEmitter struct {
	mu     sync.Mutex
	events []Emitted
}

func (r *RecordingEmitter) EmitDirect(h registry.Handle, name string, payload any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, Emitted{Handle: h, Name: name, Payload: payload})
}

func (r *RecordingEmitter) Broadcast(name string, payload any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, Emitted{Name: name, Payload: payload, Broadcast: true})
}

// All returns a copy of every recorded delivery.
func (r *RecordingEmitter) All() []Emitted {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Emitted(nil), r.events...)
}

// Named returns the deliveries with the given event name.
func (r *RecordingEmitter) Named(name string) []Emitted {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Emitted
	for _, e := range r.events {
		if e.Name == name {
			out = append(out, e)
		}
	}
	return out
}

// To returns the direct deliveries of name to h.
func (r *RecordingEmitter) To(h registry.Handle, name string) []Emitted {
	var out []Emitted
	for _, e := range r.Named(name) {
		if !e.Broadcast && e.Handle == h {
			out = append(out, e)
		}
	}
	return out
}

// Reset forgets recorded deliveries.
func (r *RecordingEmitter) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}
