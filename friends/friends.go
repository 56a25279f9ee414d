// Package friends classifies chat participants against the operator's friends
// lists.
package friends

import (
	"strings"

	"github.com/goccy/go-json"
)

// Level is the relationship between the operator and a user.
type Level int

const (
	None Level = iota
	Friend
	BestFriend
)

func (l Level) String() string {
	switch l {
	case Friend:
		return "friend"
	case BestFriend:
		return "bestFriend"
	default:
		return "none"
	}
}

// MarshalJSON renders the level as its string name.
func (l Level) MarshalJSON() ([]byte, error) { return json.Marshal(l.String()) }

// UnmarshalJSON accepts the string names produced by MarshalJSON.
func (l *Level) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	*l = ParseLevel(s)
	return nil
}

// ParseLevel is the inverse of Level.String; unknown names map to None.
func ParseLevel(s string) Level {
	switch strings.ToLower(s) {
	case "friend":
		return Friend
	case "bestfriend", "best_friend", "best-friend":
		return BestFriend
	default:
		return None
	}
}

// Snapshot is an immutable view of the friends lists. Lookups are
// case-insensitive.
type Snapshot struct {
	levels map[string]Level
}

// NewSnapshot builds a snapshot. A name on both lists is a best friend.
func NewSnapshot(friendNames, bestFriendNames []string) Snapshot {
	s := Snapshot{levels: make(map[string]Level, len(friendNames)+len(bestFriendNames))}
	for _, n := range friendNames {
		if n = strings.ToLower(strings.TrimSpace(n)); n != "" {
			s.levels[n] = Friend
		}
	}
	for _, n := range bestFriendNames {
		if n = strings.ToLower(strings.TrimSpace(n)); n != "" {
			s.levels[n] = BestFriend
		}
	}
	return s
}

// Level returns username's relationship. The empty snapshot knows nobody.
func (s Snapshot) Level(username string) Level {
	if s.levels == nil || username == "" {
		return None
	}
	return s.levels[strings.ToLower(username)]
}

// Entries returns every known username with its level.
func (s Snapshot) Entries() map[string]Level {
	out := make(map[string]Level, len(s.levels))
	for k, v := range s.levels {
		out[k] = v
	}
	return out
}

// Len returns the number of known users.
func (s Snapshot) Len() int { return len(s.levels) }
