package testutil

import (
	"context"
	"errors"
	"slices"
	"sync"

	"github.com/onnwee/relay/event"
	"github.com/onnwee/relay/lastseen"
)

// ErrInjected is returned by MemStore while failure injection is on.
var ErrInjected = errors.New("testutil: injected storage failure")

// MemStore is an in-memory storage fake. Set Fail to make every write fail.
type MemStore struct {
	mu sync.Mutex

	Fail bool

	Lines    map[string]event.Event
	Deleted  []string
	Channels map[string]lastseen.Channel
	Users    map[string]lastseen.User
	Status   map[string]string

	StoreCalls  int
	DeleteCalls int
}

// NewMemStore returns an empty store.
func NewMemStore() *MemStore {
	return &MemStore{
		Lines:    make(map[string]event.Event),
		Channels: make(map[string]lastseen.Channel),
		Users:    make(map[string]lastseen.User),
		Status:   make(map[string]string),
	}
}

// SetFail toggles failure injection.
func (m *MemStore) SetFail(fail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Fail = fail
}

func (m *MemStore) StoreLines(_ context.Context, lines []event.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.StoreCalls++
	if m.Fail {
		return ErrInjected
	}
	for _, l := range lines {
		m.Lines[l.ID] = l
	}
	return nil
}

func (m *MemStore) DeleteLines(_ context.Context, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.DeleteCalls++
	if m.Fail {
		return ErrInjected
	}
	for _, id := range ids {
		delete(m.Lines, id)
	}
	m.Deleted = append(m.Deleted, ids...)
	return nil
}

func (m *MemStore) UpsertLastSeenChannel(_ context.Context, c lastseen.Channel) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Fail {
		return ErrInjected
	}
	m.Channels[c.URI] = c
	return nil
}

func (m *MemStore) UpsertLastSeenUser(_ context.Context, u lastseen.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Fail {
		return ErrInjected
	}
	m.Users[u.Username] = u
	return nil
}

func (m *MemStore) SetConnectionStatus(_ context.Context, server, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Fail {
		return ErrInjected
	}
	m.Status[server] = status
	return nil
}

// LineIDs returns the ids currently stored, sorted.
func (m *MemStore) LineIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.Lines))
	for id := range m.Lines {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}
