// Package ingest turns raw protocol signals into canonical events: it resolves
// scope and membership symbol, classifies the sender, detects highlights,
// writes the text log and hands the result to the caches.
//
// A Normalizer is owned by the relay loop and is not safe for concurrent use.
package ingest

import "time"

// Source is the session context a signal arrived on.
type Source struct {
	Server   string
	Nick     string   // our own nickname on Server
	Channels []string // channels configured for Server
}

// Message is an inbound or echoed outgoing line of text.
type Message struct {
	Nick        string
	Target      string // channel name or, for private lines, the recipient
	Text        string
	Action      bool
	Notice      bool
	DisplayName string
	Color       string
	Tags        map[string]string
	Time        time.Time
}

type Join struct {
	Nick    string
	Channel string
	Time    time.Time
}

type Part struct {
	Nick    string
	Channel string
	Reason  string
	Time    time.Time
}

// Quit carries no channel; it applies to every channel the nick was seen in.
type Quit struct {
	Nick   string
	Reason string
	Time   time.Time
}

type Kick struct {
	Channel string
	Nick    string // who was kicked
	By      string
	Reason  string
	Time    time.Time
}

type Kill struct {
	Nick   string
	By     string
	Reason string
	Time   time.Time
}

// Mode is a channel mode change made by Nick. Mode carries its sign, e.g. "+o".
type Mode struct {
	Channel  string
	Nick     string
	Mode     string
	Argument string
	Time     time.Time
}

// UserList replaces the known membership of Channel. Users maps nickname to
// membership symbol.
type UserList struct {
	Channel string
	Users   map[string]string
}
