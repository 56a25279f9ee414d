// Package registry tracks which viewer connections are subscribed to which
// channels, users and categories.
package registry

import (
	"slices"
	"strings"
)

// Space partitions subscription keys.
type Space string

const (
	SpaceChannel  Space = "channel"
	SpaceUser     Space = "user"
	SpaceCategory Space = "category"
)

// Category names.
const (
	CategoryAllFriends = "allfriends"
	CategoryHighlights = "highlights"
	CategorySystem     = "system"
)

// Categories is the allow-list of category keys.
var Categories = []string{CategoryAllFriends, CategoryHighlights, CategorySystem}

// IsCategory reports whether name is an allowed category.
func IsCategory(name string) bool { return slices.Contains(Categories, name) }

// Valid reports whether s is a known space.
func (s Space) Valid() bool {
	return s == SpaceChannel || s == SpaceUser || s == SpaceCategory
}

// Handle identifies one live viewer connection.
type Handle uint64

// Registry is a set of (space, key, handle) memberships. It is not safe for
// concurrent use.
type Registry struct {
	spaces map[Space]map[string]map[Handle]struct{}
}

func New() *Registry {
	return &Registry{spaces: map[Space]map[string]map[Handle]struct{}{
		SpaceChannel:  {},
		SpaceUser:     {},
		SpaceCategory: {},
	}}
}

// Key normalizes a subscription key for space: user names are
// case-insensitive, everything else is used as given.
func Key(space Space, key string) string {
	if space == SpaceUser {
		return strings.ToLower(key)
	}
	return key
}

// Subscribe adds h to (space, key) and reports whether the membership is new.
// Unknown spaces, empty keys and categories outside the allow-list are ignored.
func (r *Registry) Subscribe(space Space, key string, h Handle) bool {
	if !space.Valid() || key == "" {
		return false
	}
	if space == SpaceCategory && !IsCategory(key) {
		return false
	}
	key = Key(space, key)
	members := r.spaces[space][key]
	if members == nil {
		members = make(map[Handle]struct{})
		r.spaces[space][key] = members
	}
	if _, ok := members[h]; ok {
		return false
	}
	members[h] = struct{}{}
	return true
}

// Unsubscribe removes h from (space, key) and reports whether it was a member.
func (r *Registry) Unsubscribe(space Space, key string, h Handle) bool {
	if !space.Valid() {
		return false
	}
	key = Key(space, key)
	members := r.spaces[space][key]
	if _, ok := members[h]; !ok {
		return false
	}
	delete(members, h)
	if len(members) == 0 {
		delete(r.spaces[space], key)
	}
	return true
}

// RemoveHandle drops h from every space and returns how many memberships it had.
func (r *Registry) RemoveHandle(h Handle) int {
	n := 0
	for _, keys := range r.spaces {
		for key, members := range keys {
			if _, ok := members[h]; ok {
				delete(members, h)
				n++
				if len(members) == 0 {
					delete(keys, key)
				}
			}
		}
	}
	return n
}

// Members returns the handles subscribed to (space, key) in ascending order.
func (r *Registry) Members(space Space, key string) []Handle {
	members := r.spaces[space][Key(space, key)]
	if len(members) == 0 {
		return nil
	}
	out := make([]Handle, 0, len(members))
	for h := range members {
		out = append(out, h)
	}
	slices.Sort(out)
	return out
}

// Count returns the number of memberships in space.
func (r *Registry) Count(space Space) int {
	n := 0
	for _, members := range r.spaces[space] {
		n += len(members)
	}
	return n
}
