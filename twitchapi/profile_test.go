package twitchapi

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/onnwee/relay/plugin"
)

type fakeLookup struct {
	mu    sync.Mutex
	calls [][]string
	names map[string]string
	err   error
}

func (f *fakeLookup) GetUsers(_ context.Context, logins []string) ([]User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, logins)
	if f.err != nil {
		return nil, f.err
	}
	var out []User
	for _, l := range logins {
		if n, ok := f.names[l]; ok {
			out = append(out, User{Login: l, DisplayName: n})
		}
	}
	return out, nil
}

func TestProfileResolver_BatchesJoins(t *testing.T) {
	lookup := &fakeLookup{names: map[string]string{"alice": "Alice", "bob": "Bob"}}
	applied := make(map[string]map[string]string)
	r := NewProfileResolver(lookup, func(server string, names map[string]string) {
		applied[server] = names
	}, time.Hour)

	d := plugin.NewDispatcher(time.Second)
	r.Attach(d)
	d.Fire(plugin.HookJoin, plugin.Payload{Server: "twitch", Channel: "#chan", Nick: "Alice"})
	d.Fire(plugin.HookJoin, plugin.Payload{Server: "twitch", Channel: "#chan", Nick: "bob"})
	d.Fire(plugin.HookJoin, plugin.Payload{Server: "twitch", Channel: "#other", Nick: "alice"})
	d.Fire(plugin.HookJoin, plugin.Payload{Server: "twitch", Nick: ""})
	d.Wait()

	if got := r.Pending(); got != 2 {
		t.Fatalf("Pending() = %d, want 2", got)
	}
	r.Flush(context.Background())

	if len(lookup.calls) != 1 || len(lookup.calls[0]) != 2 {
		t.Fatalf("lookup calls = %v", lookup.calls)
	}
	if applied["twitch"]["alice"] != "Alice" || applied["twitch"]["bob"] != "Bob" {
		t.Errorf("applied = %v", applied)
	}

	// Resolved logins are not looked up again.
	d.Fire(plugin.HookJoin, plugin.Payload{Server: "twitch", Nick: "alice"})
	d.Wait()
	if got := r.Pending(); got != 0 {
		t.Errorf("Pending() = %d after resolved join, want 0", got)
	}
}

func TestProfileResolver_FailureDropsBatch(t *testing.T) {
	lookup := &fakeLookup{err: errors.New("helix down")}
	calls := 0
	r := NewProfileResolver(lookup, func(string, map[string]string) { calls++ }, time.Hour)
	d := plugin.NewDispatcher(time.Second)
	r.Attach(d)
	d.Fire(plugin.HookJoin, plugin.Payload{Server: "twitch", Nick: "alice"})
	d.Wait()

	r.Flush(context.Background())
	if calls != 0 {
		t.Errorf("apply called %d times on failure", calls)
	}
	if r.Pending() != 0 {
		t.Errorf("failed batch should be dropped")
	}

	// A failed login is retried on the next join.
	d.Fire(plugin.HookJoin, plugin.Payload{Server: "twitch", Nick: "alice"})
	d.Wait()
	if r.Pending() != 1 {
		t.Errorf("Pending() = %d, want 1", r.Pending())
	}
}

func TestProfileResolver_ServeStops(t *testing.T) {
	r := NewProfileResolver(&fakeLookup{}, nil, 10*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Serve(ctx) }()
	time.Sleep(30 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Serve() = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Serve did not return")
	}
}
