package twitchapi

import (
	"context"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/onnwee/relay/plugin"
)

// maxResolved bounds the set of logins already looked up.
const maxResolved = 10000

// UserLookup is the part of HelixClient the resolver uses.
type UserLookup interface {
	GetUsers(ctx context.Context, logins []string) ([]User, error)
}

// ProfileResolver collects joining users from the join hook and resolves
// their display names in batches. Apply receives login -> display name per
// server and must hand the result to the loop itself.
type ProfileResolver struct {
	Lookup   UserLookup
	Apply    func(server string, names map[string]string)
	Interval time.Duration

	mu       sync.Mutex
	pending  map[string]map[string]struct{}
	resolved map[string]struct{}
}

// NewProfileResolver returns a resolver flushing every interval (2s if zero).
func NewProfileResolver(lookup UserLookup, apply func(server string, names map[string]string), interval time.Duration) *ProfileResolver {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &ProfileResolver{
		Lookup:   lookup,
		Apply:    apply,
		Interval: interval,
		pending:  make(map[string]map[string]struct{}),
		resolved: make(map[string]struct{}),
	}
}

// Attach registers the resolver on the join hook.
func (p *ProfileResolver) Attach(d *plugin.Dispatcher) { d.On(plugin.HookJoin, p.onJoin) }

func (p *ProfileResolver) onJoin(_ context.Context, pl plugin.Payload) {
	login := strings.ToLower(strings.TrimSpace(pl.Nick))
	if login == "" || pl.Server == "" {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.resolved[login]; ok {
		return
	}
	set := p.pending[pl.Server]
	if set == nil {
		set = make(map[string]struct{})
		p.pending[pl.Server] = set
	}
	set[login] = struct{}{}
}

// Pending returns the number of logins waiting for lookup.
func (p *ProfileResolver) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, set := range p.pending {
		n += len(set)
	}
	return n
}

// Flush looks up every pending login. Failed lookups are dropped; the next
// join of that user queues it again.
func (p *ProfileResolver) Flush(ctx context.Context) {
	p.mu.Lock()
	batch := p.pending
	p.pending = make(map[string]map[string]struct{})
	if len(p.resolved) > maxResolved {
		p.resolved = make(map[string]struct{})
	}
	p.mu.Unlock()

	for server, set := range batch {
		logins := slices.Sorted(maps.Keys(set))
		users, err := p.Lookup.GetUsers(ctx, logins)
		if err != nil {
			slog.Warn("profile lookup failed", slog.String("component", "profiles"), slog.String("server", server), slog.Int("logins", len(logins)), slog.Any("err", err))
			continue
		}
		names := make(map[string]string, len(users))
		for _, u := range users {
			if u.DisplayName != "" {
				names[strings.ToLower(u.Login)] = u.DisplayName
			}
		}
		p.mu.Lock()
		for _, l := range logins {
			p.resolved[l] = struct{}{}
		}
		p.mu.Unlock()
		if len(names) > 0 && p.Apply != nil {
			p.Apply(server, names)
		}
	}
}

// Serve flushes on every interval until ctx is done.
func (p *ProfileResolver) Serve(ctx context.Context) error {
	t := time.NewTicker(p.Interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			p.Flush(ctx)
		}
	}
}
