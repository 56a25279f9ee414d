package cache

import (
	"slices"

	"github.com/onnwee/relay/event"
)

// DefaultMaxBunch bounds the number of constituents in one bunch.
const DefaultMaxBunch = 50

// Merge folds next into last, which must be the newest entry of a scope's
// list and either bunchable or already a bunch. The result carries id and is
// meant to replace last in place.
//
// superseded lists the ids whose stored rows the bunch makes obsolete: the id
// of last and the ids of constituents dropped to respect maxEvents.
func Merge(last, next event.Event, maxEvents int, id string) (bunch event.Event, superseded []string) {
	if maxEvents < 2 {
		maxEvents = DefaultMaxBunch
	}
	var events []event.Event
	var prev []string
	if last.Kind == event.KindBunch {
		events = append(slices.Clone(last.Events), next)
		prev = append(slices.Clone(last.PrevIDs), last.ID)
	} else {
		events = []event.Event{last, next}
		prev = []string{last.ID}
	}
	superseded = []string{last.ID}

	if over := len(events) - maxEvents; over > 0 {
		superseded = append(superseded, event.IDs(events[:over])...)
		events = slices.Delete(events, 0, over)
	}
	if over := len(prev) - maxEvents; over > 0 {
		prev = slices.Delete(prev, 0, over)
	}

	return event.Event{
		ID:      id,
		Kind:    event.KindBunch,
		Time:    next.Time,
		Channel: next.Channel,
		Server:  next.Server,
		Events:  events,
		PrevIDs: prev,
	}, superseded
}

// CanMerge reports whether next should be folded into last rather than
// appended.
func CanMerge(last event.Event, next event.Event) bool {
	if !next.Kind.Bunchable() {
		return false
	}
	return last.Kind == event.KindBunch || last.Kind.Bunchable()
}
