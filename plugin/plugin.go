// Package plugin lets optional extensions observe the relay through typed
// hook points. Listeners run on their own goroutines and can never block or
// fail the pipeline that fired them.
package plugin

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Hook names a point in the pipeline listeners can attach to.
type Hook string

const (
	HookClient     Hook = "client"     // a viewer connected
	HookJoin       Hook = "join"       // a user joined a channel
	HookPart       Hook = "part"       // a user left a channel
	HookRegistered Hook = "registered" // a server session finished registration
	HookRaw        Hook = "raw"        // a protocol line no handler consumed
	HookTags       Hook = "tags"       // an inbound line carried tag metadata
	HookMessage    Hook = "message"    // a message was accepted into the caches
)

// Payload is what listeners receive. Unused fields are empty.
type Payload struct {
	Hook    Hook              `json:"hook"`
	Server  string            `json:"server,omitempty"`
	Channel string            `json:"channel,omitempty"`
	Nick    string            `json:"nick,omitempty"`
	Text    string            `json:"text,omitempty"`
	Tags    map[string]string `json:"tags,omitempty"`
	Time    time.Time         `json:"time"`
}

// Listener handles one fired hook.
type Listener func(ctx context.Context, p Payload)

// Dispatcher fans fired hooks out to registered listeners. A nil *Dispatcher
// is valid and drops everything.
type Dispatcher struct {
	mu        sync.RWMutex
	listeners map[Hook][]Listener
	timeout   time.Duration
	wg        sync.WaitGroup
}

// NewDispatcher returns a dispatcher that gives each listener call up to
// timeout (10s if zero).
func NewDispatcher(timeout time.Duration) *Dispatcher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Dispatcher{listeners: make(map[Hook][]Listener), timeout: timeout}
}

// On registers l for h.
func (d *Dispatcher) On(h Hook, l Listener) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.listeners[h] = append(d.listeners[h], l)
}

// Fire delivers p to every listener of h without waiting for them.
func (d *Dispatcher) Fire(h Hook, p Payload) {
	if d == nil {
		return
	}
	d.mu.RLock()
	ls := d.listeners[h]
	d.mu.RUnlock()
	if len(ls) == 0 {
		return
	}
	p.Hook = h
	if p.Time.IsZero() {
		p.Time = time.Now().UTC()
	}
	for _, l := range ls {
		d.wg.Add(1)
		go d.call(l, p)
	}
}

func (d *Dispatcher) call(l Listener, p Payload) {
	defer d.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			slog.Error("plugin listener panicked", slog.String("component", "plugin"), slog.String("hook", string(p.Hook)), slog.Any("err", fmt.Errorf("%v", r)))
		}
	}()
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()
	l(ctx, p)
}

// Wait blocks until every listener call started so far has returned.
func (d *Dispatcher) Wait() {
	if d != nil {
		d.wg.Wait()
	}
}
