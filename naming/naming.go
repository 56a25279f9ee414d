// Package naming maps chat scopes (a channel or a private conversation on a
// server) to the stable URI strings used as cache, registry and storage keys.
//
// Public scopes:  <server>/<channel without the leading '#'>
// Private scopes: <server>/conversation/<nickname>
package naming

import (
	"errors"
	"strings"
)

// ErrInvalidURI is returned by ParseURI for strings that name no scope.
var ErrInvalidURI = errors.New("naming: invalid scope uri")

const conversationSegment = "conversation"

// Scope identifies one place a line can be said: a channel or a private
// conversation with one user on one server.
type Scope struct {
	Server  string `json:"server"`
	Name    string `json:"name"`
	Private bool   `json:"private,omitempty"`
}

// Public returns the scope of channel on server. The channel name is
// normalized to lower case with a single leading '#'.
func Public(server, channel string) Scope {
	return Scope{Server: server, Name: ChannelName(channel)}
}

// Private returns the conversation scope with nick on server.
func Private(server, nick string) Scope {
	return Scope{Server: server, Name: strings.ToLower(nick), Private: true}
}

// ChannelName lower-cases name and ensures it carries exactly one '#' prefix.
func ChannelName(name string) string {
	return "#" + strings.TrimLeft(strings.ToLower(strings.TrimSpace(name)), "#")
}

// IsChannel reports whether target names a channel rather than a user.
func IsChannel(target string) bool {
	return strings.HasPrefix(target, "#")
}

// URI returns the scope's stable key.
func (s Scope) URI() string {
	if s.Private {
		return s.Server + "/" + conversationSegment + "/" + s.Name
	}
	return s.Server + "/" + strings.TrimPrefix(s.Name, "#")
}

// Target returns the protocol target for outgoing lines: the channel name for
// public scopes and the nickname for private ones.
func (s Scope) Target() string { return s.Name }

func (s Scope) String() string { return s.URI() }

// ParseURI is the inverse of Scope.URI.
func ParseURI(uri string) (Scope, error) {
	parts := strings.Split(uri, "/")
	switch {
	case len(parts) == 2 && parts[0] != "" && parts[1] != "":
		return Public(parts[0], parts[1]), nil
	case len(parts) == 3 && parts[0] != "" && parts[1] == conversationSegment && parts[2] != "":
		return Private(parts[0], parts[2]), nil
	}
	return Scope{}, ErrInvalidURI
}

// ChannelURI is shorthand for Public(server, channel).URI().
func ChannelURI(server, channel string) string {
	return Public(server, channel).URI()
}
