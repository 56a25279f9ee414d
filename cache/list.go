// Package cache holds the bounded, ordered event lists kept per channel, per
// user and per category, and the compaction of structural events into bunches.
package cache

import (
	"slices"

	"github.com/onnwee/relay/event"
)

// DefaultSize is the number of events kept per list unless configured.
const DefaultSize = 150

// List is an append-only ring of the most recent events, oldest first.
// It is not safe for concurrent use.
type List struct {
	items []event.Event
	max   int
}

// NewList returns an empty list bounded to max entries (DefaultSize if max <= 0).
func NewList(max int) *List {
	if max <= 0 {
		max = DefaultSize
	}
	return &List{max: max}
}

func (l *List) Len() int { return len(l.items) }
func (l *List) Max() int { return l.max }

// Append adds ev at the tail and returns the entries evicted from the head.
func (l *List) Append(ev event.Event) []event.Event {
	l.items = append(l.items, ev)
	return l.trim()
}

// SetMax changes the bound, evicting the oldest entries in bulk when the list
// is already longer than max.
func (l *List) SetMax(max int) []event.Event {
	if max <= 0 {
		max = DefaultSize
	}
	l.max = max
	return l.trim()
}

func (l *List) trim() []event.Event {
	over := len(l.items) - l.max
	if over <= 0 {
		return nil
	}
	evicted := slices.Clone(l.items[:over])
	l.items = slices.Delete(l.items, 0, over)
	return evicted
}

// Last returns the newest entry.
func (l *List) Last() (event.Event, bool) {
	if len(l.items) == 0 {
		return event.Event{}, false
	}
	return l.items[len(l.items)-1], true
}

// ReplaceLast overwrites the newest entry in place. It is a no-op on an empty list.
func (l *List) ReplaceLast(ev event.Event) {
	if len(l.items) > 0 {
		l.items[len(l.items)-1] = ev
	}
}

// Items returns a copy of the entries, oldest first.
func (l *List) Items() []event.Event { return slices.Clone(l.items) }

// Tail returns a copy of the newest n entries, oldest first.
func (l *List) Tail(n int) []event.Event {
	if n <= 0 {
		return nil
	}
	if n > len(l.items) {
		n = len(l.items)
	}
	return slices.Clone(l.items[len(l.items)-n:])
}

// Update applies fn to the entry with the given id and reports whether it
// was found.
func (l *List) Update(id string, fn func(*event.Event)) bool {
	for i := len(l.items) - 1; i >= 0; i-- {
		if l.items[i].ID == id {
			fn(&l.items[i])
			return true
		}
	}
	return false
}

// Get returns the entry with the given id.
func (l *List) Get(id string) (event.Event, bool) {
	for i := len(l.items) - 1; i >= 0; i-- {
		if l.items[i].ID == id {
			return l.items[i], true
		}
	}
	return event.Event{}, false
}
