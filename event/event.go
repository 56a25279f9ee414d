// Package event defines the canonical chat event every component exchanges:
// what gets cached, written to storage, logged and pushed to viewers.
package event

import (
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/onnwee/relay/friends"
)

// Kind is the event type.
type Kind string

const (
	KindMessage    Kind = "msg"
	KindAction     Kind = "action"
	KindNotice     Kind = "notice"
	KindJoin       Kind = "join"
	KindPart       Kind = "part"
	KindQuit       Kind = "quit"
	KindKick       Kind = "kick"
	KindKill       Kind = "kill"
	KindModeAdd    Kind = "+mode"
	KindModeRemove Kind = "-mode"
	KindStatus     Kind = "connectionEvent"
	KindLog        Kind = "log"
	KindBunch      Kind = "events"
)

// Session status values carried by KindStatus events.
const (
	StatusDisconnected = "disconnected"
	StatusConnecting   = "connecting"
	StatusConnected    = "connected"
	StatusFailed       = "failed"
	StatusAborted      = "aborted"
)

// Bunchable reports whether consecutive events of this kind are compacted
// into a single bunch.
func (k Kind) Bunchable() bool {
	switch k {
	case KindJoin, KindPart, KindQuit, KindKill, KindModeAdd, KindModeRemove:
		return true
	}
	return false
}

// Said reports whether the kind carries user-authored text.
func (k Kind) Said() bool {
	return k == KindMessage || k == KindAction || k == KindNotice
}

// Event is the canonical representation of one chat line or one compacted
// bunch of structural lines.
type Event struct {
	ID       string    `json:"lineId"`
	Kind     Kind      `json:"type"`
	Time     time.Time `json:"time"`
	Channel  string    `json:"channel,omitempty"`
	Server   string    `json:"server,omitempty"`
	Username string    `json:"username,omitempty"`
	Symbol   string    `json:"symbol,omitempty"`
	Message  string    `json:"message,omitempty"`
	Reason   string    `json:"reason,omitempty"`
	By       string    `json:"by,omitempty"`
	Mode     string    `json:"mode,omitempty"`
	Argument string    `json:"argument,omitempty"`
	Status   string    `json:"status,omitempty"`

	Relationship friends.Level `json:"relationship,omitempty"`
	Highlight    []string      `json:"highlight,omitempty"`
	Seen         bool          `json:"seen,omitempty"`

	DisplayName string            `json:"displayName,omitempty"`
	Color       string            `json:"color,omitempty"`
	Tags        map[string]string `json:"tags,omitempty"`

	// Bunch fields.
	Events  []Event  `json:"events,omitempty"`
	PrevIDs []string `json:"prevIds,omitempty"`

	// Highlight context captured at insertion.
	Context []Event `json:"contextMessages,omitempty"`
}

// NewID returns a fresh line id.
func NewID() string { return uuid.NewString() }

// Highlighted reports whether any highlight trigger matched.
func (e Event) Highlighted() bool { return len(e.Highlight) > 0 }

// Clone returns a copy that shares no slices or maps with e.
func (e Event) Clone() Event {
	c := e
	c.Highlight = slices.Clone(e.Highlight)
	c.PrevIDs = slices.Clone(e.PrevIDs)
	if e.Tags != nil {
		c.Tags = make(map[string]string, len(e.Tags))
		for k, v := range e.Tags {
			c.Tags[k] = v
		}
	}
	if e.Events != nil {
		c.Events = make([]Event, len(e.Events))
		for i := range e.Events {
			c.Events[i] = e.Events[i].Clone()
		}
	}
	if e.Context != nil {
		c.Context = make([]Event, len(e.Context))
		for i := range e.Context {
			c.Context[i] = e.Context[i].Clone()
		}
	}
	return c
}

// IDs returns the ids of evs in order.
func IDs(evs []Event) []string {
	out := make([]string, len(evs))
	for i, e := range evs {
		out[i] = e.ID
	}
	return out
}
