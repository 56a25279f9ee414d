// Package lastseen keeps the most recent activity per channel and per user and
// coalesces updates between pushes to viewers.
package lastseen

import (
	"slices"
	"strings"
	"time"

	"github.com/onnwee/relay/friends"
)

// Channel is the last activity seen in one scope and who it came from.
type Channel struct {
	URI         string    `json:"channel"`
	Username    string    `json:"username"`
	DisplayName string    `json:"displayName,omitempty"`
	Time        time.Time `json:"time"`
	LineID      string    `json:"lineId,omitempty"`
}

// User is the last time a user was seen saying something.
type User struct {
	Username     string        `json:"username"`
	DisplayName  string        `json:"displayName,omitempty"`
	Channel      string        `json:"channel"`
	Time         time.Time     `json:"time"`
	LineID       string        `json:"lineId,omitempty"`
	Relationship friends.Level `json:"relationship,omitempty"`
}

// Tracker holds the current snapshots and the set changed since the last
// TakeDirty. It is not safe for concurrent use.
type Tracker struct {
	channels      map[string]Channel
	users         map[string]User
	dirtyChannels map[string]Channel
	dirtyUsers    map[string]User
}

func New() *Tracker {
	return &Tracker{
		channels:      make(map[string]Channel),
		users:         make(map[string]User),
		dirtyChannels: make(map[string]Channel),
		dirtyUsers:    make(map[string]User),
	}
}

// RecordChannel stores c unless an equally recent or newer record exists.
func (t *Tracker) RecordChannel(c Channel) bool {
	if cur, ok := t.channels[c.URI]; ok && cur.Time.After(c.Time) {
		return false
	}
	t.channels[c.URI] = c
	t.dirtyChannels[c.URI] = c
	return true
}

// RecordUser stores u unless a newer record exists. Usernames are
// case-insensitive.
func (t *Tracker) RecordUser(u User) bool {
	key := strings.ToLower(u.Username)
	if key == "" {
		return false
	}
	if cur, ok := t.users[key]; ok && cur.Time.After(u.Time) {
		return false
	}
	t.users[key] = u
	t.dirtyUsers[key] = u
	return true
}

// Load seeds snapshots without marking them dirty.
func (t *Tracker) Load(channels []Channel, users []User) {
	for _, c := range channels {
		t.channels[c.URI] = c
	}
	for _, u := range users {
		t.users[strings.ToLower(u.Username)] = u
	}
}

// Dirty reports whether anything changed since the last TakeDirty.
func (t *Tracker) Dirty() bool {
	return len(t.dirtyChannels) > 0 || len(t.dirtyUsers) > 0
}

// TakeDirty returns and clears the records changed since the previous call.
func (t *Tracker) TakeDirty() ([]Channel, []User) {
	channels := sortedChannels(t.dirtyChannels)
	users := sortedUsers(t.dirtyUsers)
	clear(t.dirtyChannels)
	clear(t.dirtyUsers)
	return channels, users
}

// Channels returns every channel snapshot ordered by URI.
func (t *Tracker) Channels() []Channel { return sortedChannels(t.channels) }

// Users returns every user snapshot ordered by username.
func (t *Tracker) Users() []User { return sortedUsers(t.users) }

// User returns the snapshot for username.
func (t *Tracker) User(username string) (User, bool) {
	u, ok := t.users[strings.ToLower(username)]
	return u, ok
}

// Channel returns the snapshot for uri.
func (t *Tracker) Channel(uri string) (Channel, bool) {
	c, ok := t.channels[uri]
	return c, ok
}

func sortedChannels(m map[string]Channel) []Channel {
	out := make([]Channel, 0, len(m))
	for _, c := range m {
		out = append(out, c)
	}
	slices.SortFunc(out, func(a, b Channel) int { return strings.Compare(a.URI, b.URI) })
	return out
}

func sortedUsers(m map[string]User) []User {
	out := make([]User, 0, len(m))
	for _, u := range m {
		out = append(out, u)
	}
	slices.SortFunc(out, func(a, b User) int {
		return strings.Compare(strings.ToLower(a.Username), strings.ToLower(b.Username))
	})
	return out
}
