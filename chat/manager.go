package chat

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/onnwee/relay/event"
	"github.com/onnwee/relay/ingest"
	"github.com/onnwee/relay/naming"
	"github.com/onnwee/relay/plugin"
	"github.com/onnwee/relay/telemetry"
)

var (
	// ErrNotAborted is returned by Reconnect for sessions an operator did not
	// disconnect.
	ErrNotAborted        = errors.New("chat: session was not aborted")
	ErrUnknownServer     = errors.New("chat: unknown server")
	ErrNotConnected      = errors.New("chat: session not connected")
	ErrRateLimited       = errors.New("chat: outgoing message rate exceeded")
	ErrUnsupportedTarget = errors.New("chat: unsupported target")
	ErrEmptyMessage      = errors.New("chat: empty message")
)

// State is the connection state of a session.
type State string

const (
	StateDisconnected State = event.StatusDisconnected
	StateConnecting   State = event.StatusConnecting
	StateConnected    State = event.StatusConnected
	StateFailed       State = event.StatusFailed
	StateAborted      State = event.StatusAborted
)

// ServerConfig describes one chat network account.
type ServerConfig struct {
	Name           string
	Address        string
	TLS            bool
	Nickname       string
	Token          string
	Channels       []string
	RetryAttempts  uint
	MessagesPer30s int
}

// Client is one protocol connection. Connect blocks until the connection is
// closed for good, retrying on its own in between.
type Client interface {
	Connect() error
	Disconnect() error
	Join(channel string)
	Part(channel string)
	Say(target, text string) error
	Action(target, text string) error
}

// Handler receives the protocol signals of one client. Its methods may be
// called from any goroutine.
type Handler interface {
	OnRegistered(nick string)
	OnReconnecting(attempt uint, err error)
	OnMessage(m ingest.Message)
	OnJoin(j ingest.Join)
	OnPart(p ingest.Part)
	OnQuit(q ingest.Quit)
	OnKick(k ingest.Kick)
	OnMode(m ingest.Mode)
	OnUserList(l ingest.UserList)
	OnRaw(line string)
	OnError(err error)
}

// Dialer builds a client for cfg that reports to h.
type Dialer func(cfg ServerConfig, h Handler) Client

// Option configures a Manager.
type Option func(*Manager)

// WithPost sets how handler callbacks are moved onto the manager's loop.
func WithPost(post func(func()) error) Option { return func(m *Manager) { m.post = post } }

// WithHooks fires lifecycle hooks on d.
func WithHooks(d *plugin.Dispatcher) Option { return func(m *Manager) { m.hooks = d } }

type session struct {
	cfg     ServerConfig
	nick    string
	state   State
	joined  map[string]struct{}
	aborted bool
	removed bool
	running bool
	client  Client
	limiter *rate.Limiter
	gen     uint64
	since   time.Time
}

// SessionInfo is a read-only view of a session.
type SessionInfo struct {
	Server   string    `json:"server"`
	Nick     string    `json:"nick"`
	State    State     `json:"state"`
	Aborted  bool      `json:"aborted"`
	Channels []string  `json:"channels"`
	Joined   []string  `json:"joined"`
	Since    time.Time `json:"since"`
}

// Manager owns one session per configured server. It is not safe for
// concurrent use: every method runs on the relay loop, and client callbacks
// are posted there.
type Manager struct {
	norm  *ingest.Normalizer
	dial  Dialer
	post  func(func()) error
	hooks *plugin.Dispatcher
	now   func() time.Time

	sessions  map[string]*session
	ambiguous map[string][]string
}

// NewManager returns a manager that feeds protocol signals into norm.
func NewManager(norm *ingest.Normalizer, dial Dialer, opts ...Option) *Manager {
	m := &Manager{
		norm:      norm,
		dial:      dial,
		post:      func(fn func()) error { fn(); return nil },
		now:       time.Now,
		sessions:  make(map[string]*session),
		ambiguous: make(map[string][]string),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

func (m *Manager) add(cfg ServerConfig) *session {
	cfg.Channels = normalizeChannels(cfg.Channels)
	s := &session{
		cfg:     cfg,
		nick:    cfg.Nickname,
		state:   StateDisconnected,
		joined:  make(map[string]struct{}),
		limiter: newLimiter(cfg.MessagesPer30s),
		since:   m.now(),
	}
	m.sessions[cfg.Name] = s
	return s
}

func newLimiter(per30s int) *rate.Limiter {
	if per30s <= 0 {
		per30s = 20
	}
	return rate.NewLimiter(rate.Every(30*time.Second/time.Duration(per30s)), per30s)
}

func normalizeChannels(chans []string) []string {
	out := make([]string, 0, len(chans))
	for _, c := range chans {
		if strings.TrimSpace(c) == "" {
			continue
		}
		name := naming.ChannelName(c)
		if !slices.Contains(out, name) {
			out = append(out, name)
		}
	}
	return out
}

// ConnectAll creates sessions for servers and connects every session that is
// not already running.
func (m *Manager) ConnectAll(servers []ServerConfig) {
	for _, cfg := range servers {
		if _, ok := m.sessions[cfg.Name]; !ok {
			m.add(cfg)
		}
	}
	for _, name := range m.names() {
		if s := m.sessions[name]; !s.running && !s.removed {
			m.start(name, s)
		}
	}
	m.recalculateAmbiguous()
}

// ConnectUnconnected starts every session that is neither running nor
// aborted by an operator. It is safe to call repeatedly.
func (m *Manager) ConnectUnconnected() {
	for _, name := range m.names() {
		s := m.sessions[name]
		if s.running || s.aborted || s.removed {
			continue
		}
		m.start(name, s)
	}
}

// ApplyConfig reconciles sessions with servers: new servers are added and
// connected, removed servers are disconnected and dropped, and channel list
// changes are joined or parted on connected sessions.
func (m *Manager) ApplyConfig(servers []ServerConfig) {
	want := make(map[string]ServerConfig, len(servers))
	for _, cfg := range servers {
		want[cfg.Name] = cfg
	}
	for _, name := range m.names() {
		if _, ok := want[name]; !ok {
			if err := m.Remove(name); err != nil {
				slog.Warn("remove server failed", slog.String("component", "chat"), slog.String("server", name), slog.Any("err", err))
			}
		}
	}
	for name, cfg := range want {
		s, ok := m.sessions[name]
		if !ok {
			m.add(cfg)
			continue
		}
		m.reconcileChannels(s, normalizeChannels(cfg.Channels))
		cfg.Channels = s.cfg.Channels
		if cfg.MessagesPer30s != s.cfg.MessagesPer30s {
			s.limiter = newLimiter(cfg.MessagesPer30s)
		}
		s.cfg = cfg
	}
	m.ConnectUnconnected()
}

func (m *Manager) reconcileChannels(s *session, want []string) {
	for _, ch := range want {
		if !slices.Contains(s.cfg.Channels, ch) && s.state == StateConnected {
			s.client.Join(ch)
		}
	}
	for _, ch := range s.cfg.Channels {
		if !slices.Contains(want, ch) && s.state == StateConnected {
			s.client.Part(ch)
		}
	}
	s.cfg.Channels = want
}

func (m *Manager) start(name string, s *session) {
	s.gen++
	s.aborted = false
	s.running = true
	s.joined = make(map[string]struct{})
	h := &sessionHandler{m: m, server: name, gen: s.gen}
	s.client = m.dial(s.cfg, h)
	m.setState(name, s, StateConnecting)
	slog.Info("connecting", slog.String("component", "chat"), slog.String("server", name))

	go func(c Client) {
		err := c.Connect()
		h.closed(err)
	}(s.client)
}

// Join joins channel on server and remembers it for future connections.
func (m *Manager) Join(server, channel string) error {
	s, err := m.connected(server)
	if err != nil {
		return err
	}
	name := naming.ChannelName(channel)
	if !slices.Contains(s.cfg.Channels, name) {
		s.cfg.Channels = append(s.cfg.Channels, name)
	}
	s.client.Join(name)
	return nil
}

// Part leaves channel on server and forgets it.
func (m *Manager) Part(server, channel string) error {
	s, err := m.connected(server)
	if err != nil {
		return err
	}
	name := naming.ChannelName(channel)
	s.cfg.Channels = slices.DeleteFunc(s.cfg.Channels, func(c string) bool { return c == name })
	s.client.Part(name)
	return nil
}

// Reconnect restarts a session an operator disconnected.
func (m *Manager) Reconnect(server string) error {
	s, ok := m.sessions[server]
	if !ok {
		return ErrUnknownServer
	}
	if s.state != StateAborted || !s.aborted {
		return fmt.Errorf("reconnect %s in state %s: %w", server, s.state, ErrNotAborted)
	}
	m.start(server, s)
	return nil
}

// Disconnect closes a session on operator request. The abort flag is set
// before anything else so the resulting close is not reported as a failure.
func (m *Manager) Disconnect(server string) error {
	s, ok := m.sessions[server]
	if !ok {
		return ErrUnknownServer
	}
	s.aborted = true
	if !s.running {
		m.setState(server, s, StateAborted)
		return nil
	}
	if err := s.client.Disconnect(); err != nil {
		slog.Warn("disconnect failed", slog.String("component", "chat"), slog.String("server", server), slog.Any("err", err))
	}
	return nil
}

// Remove disconnects a session and drops it once its connection has closed.
func (m *Manager) Remove(server string) error {
	s, ok := m.sessions[server]
	if !ok {
		return ErrUnknownServer
	}
	s.removed = true
	if err := m.Disconnect(server); err != nil {
		return err
	}
	if !s.running {
		m.teardown(server)
	}
	return nil
}

func (m *Manager) teardown(server string) {
	delete(m.sessions, server)
	m.norm.Forget(server)
	m.recalculateAmbiguous()
	m.reportSessions()
	slog.Info("session removed", slog.String("component", "chat"), slog.String("server", server))
}

// SetToken replaces the credential used by the next connection of server.
func (m *Manager) SetToken(server, token string) {
	if s, ok := m.sessions[server]; ok {
		s.cfg.Token = token
	}
}

// SendOutgoingMessage says text in scope and feeds it back through the
// normalizer so it is cached like a received line.
func (m *Manager) SendOutgoingMessage(scope naming.Scope, text string, action bool) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyMessage
	}
	s, err := m.connected(scope.Server)
	if err != nil {
		telemetry.OutgoingMessage("error")
		return err
	}
	if !s.limiter.Allow() {
		telemetry.OutgoingMessage("rate_limited")
		return ErrRateLimited
	}
	if action {
		err = s.client.Action(scope.Target(), text)
	} else {
		err = s.client.Say(scope.Target(), text)
	}
	if err != nil {
		telemetry.OutgoingMessage("error")
		return fmt.Errorf("send to %s: %w", scope.URI(), err)
	}
	telemetry.OutgoingMessage("sent")
	m.norm.HandleMessage(m.source(scope.Server, s), ingest.Message{
		Nick:   s.nick,
		Target: scope.Target(),
		Text:   text,
		Action: action,
		Time:   m.now().UTC(),
	})
	return nil
}

func (m *Manager) connected(server string) (*session, error) {
	s, ok := m.sessions[server]
	if !ok {
		return nil, ErrUnknownServer
	}
	if s.state != StateConnected || s.client == nil {
		return nil, ErrNotConnected
	}
	return s, nil
}

// Sessions lists every session ordered by server name.
func (m *Manager) Sessions() []SessionInfo {
	out := make([]SessionInfo, 0, len(m.sessions))
	for _, name := range m.names() {
		s := m.sessions[name]
		out = append(out, SessionInfo{
			Server:   name,
			Nick:     s.nick,
			State:    s.state,
			Aborted:  s.aborted,
			Channels: slices.Clone(s.cfg.Channels),
			Joined:   sortedKeys(s.joined),
			Since:    s.since,
		})
	}
	return out
}

// Session returns the view of one session.
func (m *Manager) Session(server string) (SessionInfo, bool) {
	for _, s := range m.Sessions() {
		if s.Server == server {
			return s, true
		}
	}
	return SessionInfo{}, false
}

// Ambiguous returns the channel names joined on more than one server, each
// with the servers it is joined on.
func (m *Manager) Ambiguous() map[string][]string {
	out := make(map[string][]string, len(m.ambiguous))
	for name, servers := range m.ambiguous {
		out[name] = slices.Clone(servers)
	}
	return out
}

// IsAmbiguous reports whether channel needs its server name to be told apart.
func (m *Manager) IsAmbiguous(channel string) bool {
	_, ok := m.ambiguous[naming.ChannelName(channel)]
	return ok
}

func (m *Manager) recalculateAmbiguous() {
	seen := make(map[string][]string)
	for _, name := range m.names() {
		for ch := range m.sessions[name].joined {
			seen[ch] = append(seen[ch], name)
		}
	}
	m.ambiguous = make(map[string][]string)
	for ch, servers := range seen {
		if len(servers) > 1 {
			m.ambiguous[ch] = servers
		}
	}
}

func (m *Manager) names() []string {
	names := make([]string, 0, len(m.sessions))
	for name := range m.sessions {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}

func (m *Manager) source(server string, s *session) ingest.Source {
	return ingest.Source{Server: server, Nick: s.nick, Channels: s.cfg.Channels}
}

func (m *Manager) setState(server string, s *session, st State) {
	if s.state != st {
		s.since = m.now()
	}
	s.state = st
	m.norm.HandleStatus(m.source(server, s), string(st))
	m.reportSessions()
}

func (m *Manager) reportSessions() {
	counts := make(map[string]int)
	for _, s := range m.sessions {
		counts[string(s.state)]++
	}
	telemetry.SetSessions(counts)
}

// live returns the session a callback belongs to, or nil when the callback
// comes from a connection that has since been replaced.
func (m *Manager) live(server string, gen uint64) *session {
	s, ok := m.sessions[server]
	if !ok || s.gen != gen {
		return nil
	}
	return s
}

func (m *Manager) registered(server string, s *session, nick string) {
	if s.removed {
		_ = m.Disconnect(server)
		return
	}
	if nick != "" {
		s.nick = nick
	}
	m.setState(server, s, StateConnected)
	for _, ch := range s.cfg.Channels {
		s.client.Join(ch)
	}
	m.recalculateAmbiguous()
	m.hooks.Fire(plugin.HookRegistered, plugin.Payload{Server: server, Nick: s.nick, Time: m.now().UTC()})
	slog.Info("registered", slog.String("component", "chat"), slog.String("server", server), slog.String("nick", s.nick))
}

func (m *Manager) reconnecting(server string, s *session, attempt uint, err error) {
	if s.removed {
		_ = m.Disconnect(server)
		return
	}
	slog.Warn("connection lost, retrying", slog.String("component", "chat"), slog.String("server", server), slog.Uint64("attempt", uint64(attempt)), slog.Any("err", err))
	s.joined = make(map[string]struct{})
	m.setState(server, s, StateDisconnected)
	m.recalculateAmbiguous()
}

func (m *Manager) closed(server string, s *session, err error) {
	s.running = false
	s.joined = make(map[string]struct{})
	switch {
	case s.removed:
		m.teardown(server)
		return
	case s.aborted:
		m.setState(server, s, StateAborted)
	default:
		slog.Error("connection failed", slog.String("component", "chat"), slog.String("server", server), slog.Any("err", err))
		m.setState(server, s, StateFailed)
	}
	m.recalculateAmbiguous()
}

func (m *Manager) ownJoin(s *session, channel string) {
	s.joined[naming.ChannelName(channel)] = struct{}{}
	m.recalculateAmbiguous()
}

func (m *Manager) ownPart(s *session, channel string) {
	delete(s.joined, naming.ChannelName(channel))
	m.recalculateAmbiguous()
}

// sessionHandler moves client callbacks onto the loop, dropping those of
// replaced connections.
type sessionHandler struct {
	m      *Manager
	server string
	gen    uint64
}

func (h *sessionHandler) do(fn func(s *session)) {
	err := h.m.post(func() {
		if s := h.m.live(h.server, h.gen); s != nil {
			fn(s)
		}
	})
	if err != nil {
		slog.Debug("dropping protocol signal", slog.String("component", "chat"), slog.String("server", h.server), slog.Any("err", err))
	}
}

func (h *sessionHandler) OnRegistered(nick string) {
	h.do(func(s *session) { h.m.registered(h.server, s, nick) })
}

func (h *sessionHandler) OnReconnecting(attempt uint, err error) {
	h.do(func(s *session) { h.m.reconnecting(h.server, s, attempt, err) })
}

func (h *sessionHandler) closed(err error) {
	h.do(func(s *session) { h.m.closed(h.server, s, err) })
}

func (h *sessionHandler) OnMessage(msg ingest.Message) {
	h.do(func(s *session) { h.m.norm.HandleMessage(h.m.source(h.server, s), msg) })
}

func (h *sessionHandler) OnJoin(j ingest.Join) {
	h.do(func(s *session) {
		if strings.EqualFold(j.Nick, s.nick) {
			h.m.ownJoin(s, j.Channel)
		}
		h.m.norm.HandleJoin(h.m.source(h.server, s), j)
	})
}

func (h *sessionHandler) OnPart(p ingest.Part) {
	h.do(func(s *session) {
		if strings.EqualFold(p.Nick, s.nick) {
			h.m.ownPart(s, p.Channel)
		}
		h.m.norm.HandlePart(h.m.source(h.server, s), p)
	})
}

func (h *sessionHandler) OnQuit(q ingest.Quit) {
	h.do(func(s *session) { h.m.norm.HandleQuit(h.m.source(h.server, s), q) })
}

func (h *sessionHandler) OnKick(k ingest.Kick) {
	h.do(func(s *session) {
		if strings.EqualFold(k.Nick, s.nick) {
			h.m.ownPart(s, k.Channel)
		}
		h.m.norm.HandleKick(h.m.source(h.server, s), k)
	})
}

func (h *sessionHandler) OnMode(md ingest.Mode) {
	h.do(func(s *session) { h.m.norm.HandleMode(h.m.source(h.server, s), md) })
}

func (h *sessionHandler) OnUserList(l ingest.UserList) {
	h.do(func(s *session) { h.m.norm.HandleUserList(h.m.source(h.server, s), l) })
}

func (h *sessionHandler) OnRaw(line string) {
	h.do(func(s *session) { h.m.norm.HandleRaw(h.m.source(h.server, s), line) })
}

func (h *sessionHandler) OnError(err error) {
	slog.Warn("protocol error", slog.String("component", "chat"), slog.String("server", h.server), slog.Any("err", err))
}
