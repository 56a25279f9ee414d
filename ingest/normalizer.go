package ingest

import (
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/onnwee/relay/chatlog"
	"github.com/onnwee/relay/event"
	"github.com/onnwee/relay/friends"
	"github.com/onnwee/relay/naming"
	"github.com/onnwee/relay/plugin"
	"github.com/onnwee/relay/registry"
)

// Sink receives normalized events. The relay engine implements it.
type Sink interface {
	CacheMessage(scope naming.Scope, ev event.Event)
	CacheBunchableChannelEvent(scope naming.Scope, ev event.Event)
	CacheCategoryEvent(category string, ev event.Event)
	RecordLastSeen(scope naming.Scope, ev event.Event)
	ConnectionStatusChanged(server, status string)
	ChannelUserList(scope naming.Scope, users map[string]string)
}

// LogWriter appends events to text log streams.
type LogWriter interface {
	Append(stream chatlog.Stream, ev event.Event) bool
}

// modeSymbols maps channel privilege modes to membership symbols.
var modeSymbols = map[byte]string{'q': "~", 'a': "&", 'o': "@", 'h': "%", 'v': "+"}

type member struct {
	nick   string
	symbol string
}

// Option configures a Normalizer.
type Option func(*Normalizer)

// WithLogWriter enables text logging through w.
func WithLogWriter(w LogWriter) Option { return func(n *Normalizer) { n.log = w } }

// WithHooks fires plugin hooks on d.
func WithHooks(d *plugin.Dispatcher) Option { return func(n *Normalizer) { n.hooks = d } }

// WithClock replaces time.Now for events that arrive without a timestamp.
func WithClock(now func() time.Time) Option { return func(n *Normalizer) { n.now = now } }

// Normalizer classifies protocol signals into canonical events.
type Normalizer struct {
	sink  Sink
	log   LogWriter
	hooks *plugin.Dispatcher
	now   func() time.Time

	friends   friends.Snapshot
	triggers  []string
	logToFile bool

	// server -> channel -> lower(nick) -> member
	members map[string]map[string]map[string]member
	// server -> lower(nick) -> display name
	display map[string]map[string]string
	status  map[string]string
}

func New(sink Sink, opts ...Option) *Normalizer {
	n := &Normalizer{
		sink:    sink,
		now:     func() time.Time { return time.Now().UTC() },
		members: make(map[string]map[string]map[string]member),
		display: make(map[string]map[string]string),
		status:  make(map[string]string),
	}
	for _, o := range opts {
		o(n)
	}
	return n
}

// SetFriends replaces the friends snapshot used for classification.
func (n *Normalizer) SetFriends(s friends.Snapshot) { n.friends = s }

// Friends returns the current friends snapshot.
func (n *Normalizer) Friends() friends.Snapshot { return n.friends }

// SetTriggers replaces the extra highlight words.
func (n *Normalizer) SetTriggers(t []string) { n.triggers = append([]string(nil), t...) }

// SetLogToFile toggles text logging.
func (n *Normalizer) SetLogToFile(on bool) { n.logToFile = on }

func (n *Normalizer) stamp(t time.Time) time.Time {
	if t.IsZero() {
		return n.now()
	}
	return t.UTC()
}

// HandleMessage normalizes a line of text. Lines without sender or target are
// dropped.
func (n *Normalizer) HandleMessage(src Source, m Message) {
	if m.Nick == "" || m.Target == "" {
		slog.Warn("dropping message without sender or target", slog.String("component", "ingest"), slog.String("server", src.Server))
		return
	}
	own := strings.EqualFold(m.Nick, src.Nick)
	var scope naming.Scope
	switch {
	case naming.IsChannel(m.Target):
		scope = naming.Public(src.Server, m.Target)
	case own:
		scope = naming.Private(src.Server, m.Target)
	default:
		scope = naming.Private(src.Server, m.Nick)
	}

	kind := event.KindMessage
	if m.Action {
		kind = event.KindAction
	} else if m.Notice {
		kind = event.KindNotice
	}
	ev := event.Event{
		ID:           event.NewID(),
		Kind:         kind,
		Time:         n.stamp(m.Time),
		Channel:      scope.URI(),
		Server:       src.Server,
		Username:     m.Nick,
		Symbol:       n.symbol(src.Server, scope, m.Nick),
		Message:      m.Text,
		Relationship: n.friends.Level(m.Nick),
		DisplayName:  n.rememberDisplayName(src.Server, m),
		Color:        m.Color,
		Tags:         m.Tags,
	}
	if !own {
		ev.Highlight = Highlights(m.Text, src.Nick, n.triggers)
	}

	n.writeLog(scope, ev)
	n.sink.CacheMessage(scope, ev)
	n.sink.RecordLastSeen(scope, ev)

	n.hooks.Fire(plugin.HookMessage, plugin.Payload{Server: src.Server, Channel: scope.URI(), Nick: m.Nick, Text: m.Text, Time: ev.Time})
	if len(m.Tags) > 0 {
		n.hooks.Fire(plugin.HookTags, plugin.Payload{Server: src.Server, Channel: scope.URI(), Nick: m.Nick, Tags: m.Tags, Time: ev.Time})
	}
}

// HandleJoin records a user entering a channel.
func (n *Normalizer) HandleJoin(src Source, j Join) {
	if j.Nick == "" || j.Channel == "" {
		return
	}
	scope := naming.Public(src.Server, j.Channel)
	if strings.EqualFold(j.Nick, src.Nick) {
		n.resetChannel(src.Server, scope.Name)
	}
	n.setMember(src.Server, scope.Name, j.Nick, n.symbol(src.Server, scope, j.Nick))
	ev := n.structural(src, scope, event.KindJoin, j.Nick, j.Time)
	n.emitStructural(scope, ev)
	n.hooks.Fire(plugin.HookJoin, plugin.Payload{Server: src.Server, Channel: scope.Name, Nick: j.Nick, Time: ev.Time})
}

// HandlePart records a user leaving a channel.
func (n *Normalizer) HandlePart(src Source, p Part) {
	if p.Nick == "" || p.Channel == "" {
		return
	}
	scope := naming.Public(src.Server, p.Channel)
	ev := n.structural(src, scope, event.KindPart, p.Nick, p.Time)
	ev.Reason = p.Reason
	n.removeMember(src.Server, scope.Name, p.Nick)
	if strings.EqualFold(p.Nick, src.Nick) {
		n.dropChannel(src.Server, scope.Name)
	}
	n.emitStructural(scope, ev)
	n.hooks.Fire(plugin.HookPart, plugin.Payload{Server: src.Server, Channel: scope.Name, Nick: p.Nick, Text: p.Reason, Time: ev.Time})
}

// HandleQuit records a user disconnecting from the server in every channel
// they were seen in.
func (n *Normalizer) HandleQuit(src Source, q Quit) {
	for _, ch := range n.ChannelsWith(src.Server, q.Nick) {
		scope := naming.Public(src.Server, ch)
		ev := n.structural(src, scope, event.KindQuit, q.Nick, q.Time)
		ev.Reason = q.Reason
		n.removeMember(src.Server, ch, q.Nick)
		n.emitStructural(scope, ev)
	}
}

// HandleKick records a user being removed from a channel.
func (n *Normalizer) HandleKick(src Source, k Kick) {
	if k.Nick == "" || k.Channel == "" {
		return
	}
	scope := naming.Public(src.Server, k.Channel)
	ev := n.structural(src, scope, event.KindKick, k.Nick, k.Time)
	ev.By = k.By
	ev.Reason = k.Reason
	n.removeMember(src.Server, scope.Name, k.Nick)
	if strings.EqualFold(k.Nick, src.Nick) {
		n.dropChannel(src.Server, scope.Name)
	}
	n.emitStructural(scope, ev)
}

// HandleKill records a user being disconnected by an operator.
func (n *Normalizer) HandleKill(src Source, k Kill) {
	for _, ch := range n.ChannelsWith(src.Server, k.Nick) {
		scope := naming.Public(src.Server, ch)
		ev := n.structural(src, scope, event.KindKill, k.Nick, k.Time)
		ev.By = k.By
		ev.Reason = k.Reason
		n.removeMember(src.Server, ch, k.Nick)
		n.emitStructural(scope, ev)
	}
}

// HandleMode records a channel mode change and tracks privilege symbols.
func (n *Normalizer) HandleMode(src Source, m Mode) {
	if m.Channel == "" || len(m.Mode) < 2 || (m.Mode[0] != '+' && m.Mode[0] != '-') {
		return
	}
	scope := naming.Public(src.Server, m.Channel)
	kind := event.KindModeAdd
	if m.Mode[0] == '-' {
		kind = event.KindModeRemove
	}
	ev := n.structural(src, scope, kind, m.Nick, m.Time)
	ev.Mode = m.Mode[1:]
	ev.Argument = m.Argument

	if sym, ok := modeSymbols[m.Mode[1]]; ok && len(m.Mode) == 2 && m.Argument != "" {
		if cur, known := n.member(src.Server, scope.Name, m.Argument); known {
			switch {
			case kind == event.KindModeAdd:
				n.setMember(src.Server, scope.Name, cur.nick, sym)
			case cur.symbol == sym:
				n.setMember(src.Server, scope.Name, cur.nick, "")
			}
		}
	}
	n.emitStructural(scope, ev)
}

// HandleUserList replaces the membership of a channel.
func (n *Normalizer) HandleUserList(src Source, l UserList) {
	if l.Channel == "" {
		return
	}
	scope := naming.Public(src.Server, l.Channel)
	n.resetChannel(src.Server, scope.Name)
	for nick, sym := range l.Users {
		n.setMember(src.Server, scope.Name, nick, sym)
	}
	n.sink.ChannelUserList(scope, n.Members(src.Server, scope.Name))
}

// HandleStatus reports a session status change. Repeats of the last reported
// status are ignored. Every configured channel of the server gets a status
// event, and the system category gets one more.
func (n *Normalizer) HandleStatus(src Source, status string) {
	if n.status[src.Server] == status {
		return
	}
	n.status[src.Server] = status
	n.sink.ConnectionStatusChanged(src.Server, status)

	at := n.now()
	for _, ch := range src.Channels {
		scope := naming.Public(src.Server, ch)
		n.sink.CacheBunchableChannelEvent(scope, event.Event{
			ID:      event.NewID(),
			Kind:    event.KindStatus,
			Time:    at,
			Channel: scope.URI(),
			Server:  src.Server,
			Status:  status,
		})
	}
	n.sink.CacheCategoryEvent(registry.CategorySystem, event.Event{
		ID:     event.NewID(),
		Kind:   event.KindStatus,
		Time:   at,
		Server: src.Server,
		Status: status,
	})
	if status != event.StatusConnected && status != event.StatusConnecting {
		delete(n.members, src.Server)
	}
}

// Status returns the last status reported for server.
func (n *Normalizer) Status(server string) string { return n.status[server] }

// Forget drops everything known about server.
func (n *Normalizer) Forget(server string) {
	delete(n.members, server)
	delete(n.display, server)
	delete(n.status, server)
}

// HandleRaw forwards an unhandled protocol line to plugins.
func (n *Normalizer) HandleRaw(src Source, line string) {
	n.hooks.Fire(plugin.HookRaw, plugin.Payload{Server: src.Server, Text: line})
}

func (n *Normalizer) structural(src Source, scope naming.Scope, kind event.Kind, nick string, at time.Time) event.Event {
	return event.Event{
		ID:           event.NewID(),
		Kind:         kind,
		Time:         n.stamp(at),
		Channel:      scope.URI(),
		Server:       src.Server,
		Username:     nick,
		Symbol:       n.symbol(src.Server, scope, nick),
		Relationship: n.friends.Level(nick),
		DisplayName:  n.DisplayName(src.Server, nick),
	}
}

func (n *Normalizer) emitStructural(scope naming.Scope, ev event.Event) {
	n.writeLog(scope, ev)
	n.sink.CacheBunchableChannelEvent(scope, ev)
}

// writeLog appends ev to its scope's stream and, for lines said by a friend
// or matching a highlight, to one secondary stream.
func (n *Normalizer) writeLog(scope naming.Scope, ev event.Event) {
	if !n.logToFile || n.log == nil {
		return
	}
	n.log.Append(chatlog.ScopeStream(scope), ev)
	if !ev.Kind.Said() {
		return
	}
	switch {
	case ev.Relationship >= friends.Friend:
		n.log.Append(chatlog.UserStream(ev.Username), ev)
	case ev.Highlighted():
		n.log.Append(chatlog.MentionsStream(), ev)
	}
}

func (n *Normalizer) rememberDisplayName(server string, m Message) string {
	name := m.DisplayName
	if name == "" {
		name = m.Tags["display-name"]
	}
	if name == "" {
		return n.DisplayName(server, m.Nick)
	}
	n.SetDisplayName(server, m.Nick, name)
	return name
}

// SetDisplayName records the display name of nick on server.
func (n *Normalizer) SetDisplayName(server, nick, name string) {
	if nick == "" || name == "" {
		return
	}
	names := n.display[server]
	if names == nil {
		names = make(map[string]string)
		n.display[server] = names
	}
	names[strings.ToLower(nick)] = name
}

// DisplayName returns the cached display name of nick, or "".
func (n *Normalizer) DisplayName(server, nick string) string {
	return n.display[server][strings.ToLower(nick)]
}

func (n *Normalizer) symbol(server string, scope naming.Scope, nick string) string {
	if scope.Private {
		return ""
	}
	m, _ := n.member(server, scope.Name, nick)
	return m.symbol
}

func (n *Normalizer) member(server, channel, nick string) (member, bool) {
	m, ok := n.members[server][channel][strings.ToLower(nick)]
	return m, ok
}

func (n *Normalizer) setMember(server, channel, nick, symbol string) {
	chans := n.members[server]
	if chans == nil {
		chans = make(map[string]map[string]member)
		n.members[server] = chans
	}
	users := chans[channel]
	if users == nil {
		users = make(map[string]member)
		chans[channel] = users
	}
	users[strings.ToLower(nick)] = member{nick: nick, symbol: symbol}
}

func (n *Normalizer) removeMember(server, channel, nick string) {
	delete(n.members[server][channel], strings.ToLower(nick))
}

func (n *Normalizer) resetChannel(server, channel string) {
	if chans := n.members[server]; chans != nil {
		chans[channel] = make(map[string]member)
	}
}

func (n *Normalizer) dropChannel(server, channel string) {
	delete(n.members[server], channel)
}

// ChannelsWith returns the channels on server where nick is a known member.
func (n *Normalizer) ChannelsWith(server, nick string) []string {
	key := strings.ToLower(nick)
	var out []string
	for ch, users := range n.members[server] {
		if _, ok := users[key]; ok {
			out = append(out, ch)
		}
	}
	slices.Sort(out)
	return out
}

// Members returns nickname -> symbol for channel on server.
func (n *Normalizer) Members(server, channel string) map[string]string {
	users := n.members[server][naming.ChannelName(channel)]
	out := make(map[string]string, len(users))
	for _, m := range users {
		out[m.nick] = m.symbol
	}
	return out
}
