package ingest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onnwee/relay/chatlog"
	"github.com/onnwee/relay/event"
	"github.com/onnwee/relay/friends"
	"github.com/onnwee/relay/naming"
	"github.com/onnwee/relay/registry"
)

type call struct {
	op       string
	scope    naming.Scope
	category string
	ev       event.Event
}

type recordingSink struct {
	calls    []call
	statuses []string
	lists    map[string]map[string]string
}

func (s *recordingSink) CacheMessage(scope naming.Scope, ev event.Event) {
	s.calls = append(s.calls, call{op: "message", scope: scope, ev: ev})
}
func (s *recordingSink) CacheBunchableChannelEvent(scope naming.Scope, ev event.Event) {
	s.calls = append(s.calls, call{op: "bunchable", scope: scope, ev: ev})
}
func (s *recordingSink) CacheCategoryEvent(category string, ev event.Event) {
	s.calls = append(s.calls, call{op: "category", category: category, ev: ev})
}
func (s *recordingSink) RecordLastSeen(scope naming.Scope, ev event.Event) {
	s.calls = append(s.calls, call{op: "lastseen", scope: scope, ev: ev})
}
func (s *recordingSink) ConnectionStatusChanged(server, status string) {
	s.statuses = append(s.statuses, server+":"+status)
}
func (s *recordingSink) ChannelUserList(scope naming.Scope, users map[string]string) {
	if s.lists == nil {
		s.lists = map[string]map[string]string{}
	}
	s.lists[scope.URI()] = users
}

func (s *recordingSink) ops(op string) []call {
	var out []call
	for _, c := range s.calls {
		if c.op == op {
			out = append(out, c)
		}
	}
	return out
}

type recordingLog struct {
	streams []chatlog.Stream
}

func (l *recordingLog) Append(stream chatlog.Stream, ev event.Event) bool {
	l.streams = append(l.streams, stream)
	return true
}

var src = Source{Server: "net", Nick: "me", Channels: []string{"#chan", "#other"}}

func newTestNormalizer(t *testing.T) (*Normalizer, *recordingSink, *recordingLog) {
	t.Helper()
	sink := &recordingSink{}
	lw := &recordingLog{}
	fixed := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	n := New(sink, WithLogWriter(lw), WithClock(func() time.Time { return fixed }))
	n.SetLogToFile(true)
	n.SetFriends(friends.NewSnapshot([]string{"pal"}, []string{"bff"}))
	n.SetTriggers([]string{"pizza"})
	return n, sink, lw
}

func TestHandleMessagePublic(t *testing.T) {
	n, sink, lw := newTestNormalizer(t)
	n.HandleUserList(src, UserList{Channel: "#chan", Users: map[string]string{"bff": "@"}})
	n.HandleMessage(src, Message{Nick: "bff", Target: "#chan", Text: "me and pizza", Tags: map[string]string{"display-name": "BFF"}})

	msgs := sink.ops("message")
	require.Len(t, msgs, 1)
	ev := msgs[0].ev
	assert.Equal(t, naming.Public("net", "#chan"), msgs[0].scope)
	assert.Equal(t, "net/chan", ev.Channel)
	assert.Equal(t, "@", ev.Symbol)
	assert.Equal(t, friends.BestFriend, ev.Relationship)
	assert.Equal(t, []string{"me", "pizza"}, ev.Highlight)
	assert.Equal(t, "BFF", ev.DisplayName)
	assert.NotEmpty(t, ev.ID)
	assert.Len(t, sink.ops("lastseen"), 1)

	// friend lines are logged once more to the friend's own stream
	assert.Equal(t, []chatlog.Stream{"net/chan", "_users/bff"}, lw.streams)
	assert.Equal(t, "BFF", n.DisplayName("net", "BFF"))
}

func TestHandleMessagePrivateScopes(t *testing.T) {
	n, sink, _ := newTestNormalizer(t)
	n.HandleMessage(src, Message{Nick: "alice", Target: "me", Text: "psst"})
	n.HandleMessage(src, Message{Nick: "me", Target: "alice", Text: "hi me"})

	msgs := sink.ops("message")
	require.Len(t, msgs, 2)
	assert.Equal(t, naming.Private("net", "alice"), msgs[0].scope)
	assert.Equal(t, naming.Private("net", "alice"), msgs[1].scope)
	// our own lines never highlight us
	assert.Empty(t, msgs[1].ev.Highlight)
}

func TestHandleMessageDropsIncomplete(t *testing.T) {
	n, sink, _ := newTestNormalizer(t)
	n.HandleMessage(src, Message{Target: "#chan", Text: "x"})
	n.HandleMessage(src, Message{Nick: "a", Text: "x"})
	assert.Empty(t, sink.calls)
}

func TestHighlightFromStrangerGoesToMentions(t *testing.T) {
	n, _, lw := newTestNormalizer(t)
	n.HandleMessage(src, Message{Nick: "rando", Target: "#chan", Text: "hey me"})
	assert.Equal(t, []chatlog.Stream{"net/chan", "_mentions"}, lw.streams)

	lw.streams = nil
	n.SetLogToFile(false)
	n.HandleMessage(src, Message{Nick: "rando", Target: "#chan", Text: "hey me"})
	assert.Empty(t, lw.streams)
}

func TestMembershipTracking(t *testing.T) {
	n, sink, _ := newTestNormalizer(t)
	n.HandleJoin(src, Join{Nick: "alice", Channel: "#chan"})
	n.HandleJoin(src, Join{Nick: "alice", Channel: "#other"})
	n.HandleMode(src, Mode{Channel: "#chan", Nick: "op", Mode: "+o", Argument: "alice"})
	assert.Equal(t, map[string]string{"alice": "@"}, n.Members("net", "#chan"))

	n.HandlePart(src, Part{Nick: "alice", Channel: "#chan", Reason: "bye"})
	parts := sink.ops("bunchable")
	last := parts[len(parts)-1].ev
	assert.Equal(t, event.KindPart, last.Kind)
	assert.Equal(t, "@", last.Symbol, "symbol resolved before removal")
	assert.Equal(t, "bye", last.Reason)
	assert.Empty(t, n.Members("net", "#chan"))

	n.HandleQuit(src, Quit{Nick: "alice", Reason: "gone"})
	parts = sink.ops("bunchable")
	last = parts[len(parts)-1].ev
	assert.Equal(t, event.KindQuit, last.Kind)
	assert.Equal(t, "net/other", last.Channel)
	assert.Empty(t, n.ChannelsWith("net", "alice"))
}

func TestModeRemoveClearsSymbol(t *testing.T) {
	n, sink, _ := newTestNormalizer(t)
	n.HandleUserList(src, UserList{Channel: "#chan", Users: map[string]string{"bob": "+"}})
	n.HandleMode(src, Mode{Channel: "#chan", Nick: "op", Mode: "-v", Argument: "bob"})
	assert.Equal(t, map[string]string{"bob": ""}, n.Members("net", "#chan"))

	ev := sink.ops("bunchable")[0].ev
	assert.Equal(t, event.KindModeRemove, ev.Kind)
	assert.Equal(t, "v", ev.Mode)
	assert.Equal(t, "bob", ev.Argument)

	n.HandleMode(src, Mode{Channel: "#chan", Nick: "op", Mode: "o"})
	assert.Len(t, sink.ops("bunchable"), 1, "mode without sign is ignored")
}

func TestKickAndKill(t *testing.T) {
	n, sink, _ := newTestNormalizer(t)
	n.HandleUserList(src, UserList{Channel: "#chan", Users: map[string]string{"eve": "", "mallory": ""}})
	n.HandleKick(src, Kick{Channel: "#chan", Nick: "eve", By: "op", Reason: "spam"})
	n.HandleKill(src, Kill{Nick: "mallory", By: "oper", Reason: "abuse"})

	evs := sink.ops("bunchable")
	require.Len(t, evs, 2)
	assert.Equal(t, event.KindKick, evs[0].ev.Kind)
	assert.Equal(t, "op", evs[0].ev.By)
	assert.Equal(t, event.KindKill, evs[1].ev.Kind)
	assert.Empty(t, n.Members("net", "#chan"))
}

func TestHandleStatusSuppressesRepeats(t *testing.T) {
	n, sink, _ := newTestNormalizer(t)
	n.HandleStatus(src, event.StatusConnected)
	n.HandleStatus(src, event.StatusConnected)

	assert.Equal(t, []string{"net:connected"}, sink.statuses)
	channels := sink.ops("bunchable")
	require.Len(t, channels, 2)
	assert.Equal(t, "net/chan", channels[0].ev.Channel)
	assert.Equal(t, "net/other", channels[1].ev.Channel)
	assert.Equal(t, event.KindStatus, channels[0].ev.Kind)

	cats := sink.ops("category")
	require.Len(t, cats, 1)
	assert.Equal(t, registry.CategorySystem, cats[0].category)
	assert.Equal(t, event.StatusConnected, n.Status("net"))
}

func TestStatusDropClearsMembership(t *testing.T) {
	n, _, _ := newTestNormalizer(t)
	n.HandleUserList(src, UserList{Channel: "#chan", Users: map[string]string{"a": ""}})
	n.HandleStatus(src, event.StatusDisconnected)
	assert.Empty(t, n.Members("net", "#chan"))
}

func TestUserListNotifiesSink(t *testing.T) {
	n, sink, _ := newTestNormalizer(t)
	n.HandleUserList(src, UserList{Channel: "#Chan", Users: map[string]string{"Alice": "@", "bob": ""}})
	assert.Equal(t, map[string]string{"Alice": "@", "bob": ""}, sink.lists["net/chan"])
}

func TestSetDisplayNameUsedForStructural(t *testing.T) {
	n, sink, _ := newTestNormalizer(t)
	n.SetDisplayName("net", "alice", "Alice")
	n.HandleJoin(src, Join{Nick: "alice", Channel: "#chan"})
	assert.Equal(t, "Alice", sink.ops("bunchable")[0].ev.DisplayName)
	n.Forget("net")
	assert.Empty(t, n.DisplayName("net", "alice"))
}
