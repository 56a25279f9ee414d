// Package relay owns the in-memory caches of chat activity, compacts bursts of
// join/part noise into bunches, mirrors cache writes to storage in batches and
// fans every update out to subscribed viewers.
//
// An Engine is not safe for concurrent use. All methods must be called from
// the same turn loop, and storage results are handed back through the post
// function so they too run on that loop.
package relay

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"strings"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/onnwee/relay/cache"
	"github.com/onnwee/relay/event"
	"github.com/onnwee/relay/friends"
	"github.com/onnwee/relay/lastseen"
	"github.com/onnwee/relay/naming"
	"github.com/onnwee/relay/registry"
	"github.com/onnwee/relay/telemetry"
)

// Storage is the durable mirror of the caches.
type Storage interface {
	StoreLines(ctx context.Context, lines []event.Event) error
	DeleteLines(ctx context.Context, ids []string) error
	UpsertLastSeenChannel(ctx context.Context, c lastseen.Channel) error
	UpsertLastSeenUser(ctx context.Context, u lastseen.User) error
	SetConnectionStatus(ctx context.Context, server, status string) error
}

// Emitter delivers named events to viewer connections.
type Emitter interface {
	EmitDirect(h registry.Handle, name string, payload any)
	Broadcast(name string, payload any)
}

// Event names pushed to viewers.
const (
	EventChannel       = "channelEvent"
	EventUser          = "userEvent"
	EventCategory      = "categoryEvent"
	EventCache         = "cache"
	EventStatus        = "connectionStatus"
	EventLastSeen      = "lastSeen"
	EventUserList      = "userList"
	EventHighlightSeen = "highlightSeen"
)

// ScopedEvent is the payload of channel, user and category events. Key is the
// channel uri, the lowercased username or the category name.
type ScopedEvent struct {
	Key   string      `json:"key"`
	Event event.Event `json:"event"`
}

// CacheSnapshot is sent once to a connection when it subscribes.
type CacheSnapshot struct {
	Space  registry.Space `json:"space"`
	Key    string         `json:"key"`
	Events []event.Event  `json:"events"`
}

// StatusChange is broadcast when a server session changes state.
type StatusChange struct {
	Server string `json:"server"`
	Status string `json:"status"`
}

// LastSeenUpdate carries the records changed since the previous push.
type LastSeenUpdate struct {
	Channels []lastseen.Channel `json:"channels,omitempty"`
	Users    []lastseen.User    `json:"users,omitempty"`
}

// UserListUpdate is the membership of a channel after a names reply.
type UserListUpdate struct {
	Channel string            `json:"channel"`
	Users   map[string]string `json:"users"`
}

// HighlightSeen tells highlight subscribers an entry was acknowledged.
type HighlightSeen struct {
	ID string `json:"lineId"`
}

// Config holds the engine tunables.
type Config struct {
	CacheSize        int
	HighlightContext int
	MaxBunch         int
	LogToDB          bool
}

// DefaultHighlightContext is the number of preceding lines kept per highlight.
const DefaultHighlightContext = 5

func (c Config) withDefaults() Config {
	if c.CacheSize <= 0 {
		c.CacheSize = cache.DefaultSize
	}
	if c.HighlightContext < 0 {
		c.HighlightContext = 0
	} else if c.HighlightContext == 0 {
		c.HighlightContext = DefaultHighlightContext
	}
	if c.MaxBunch < 2 {
		c.MaxBunch = cache.DefaultMaxBunch
	}
	return c
}

// Option configures an Engine.
type Option func(*Engine)

// WithPost sets how storage results are handed back to the engine's loop.
// The default runs them on the calling goroutine.
func WithPost(post func(func()) error) Option { return func(e *Engine) { e.post = post } }

// WithSubmit sets how storage jobs are executed. The default runs them
// synchronously.
func WithSubmit(submit func(Job) bool) Option { return func(e *Engine) { e.submit = submit } }

// WithIDs replaces the id generator used for bunches.
func WithIDs(newID func() string) Option { return func(e *Engine) { e.newID = newID } }

// WithBreaker guards write-back flushes with cb.
func WithBreaker(cb *gobreaker.CircuitBreaker[struct{}]) Option {
	return func(e *Engine) { e.breaker = cb }
}

type highlightContext struct {
	id     string
	events []event.Event
}

// Engine is the cache and compaction engine.
type Engine struct {
	cfg     Config
	store   Storage
	emit    Emitter
	post    func(func()) error
	submit  func(Job) bool
	newID   func() string
	breaker *gobreaker.CircuitBreaker[struct{}]

	reg        *registry.Registry
	channels   map[string]*cache.List
	users      map[string]*cache.List
	categories map[string]*cache.List
	seen       *lastseen.Tracker

	// uri -> captured windows, oldest first
	contexts map[string][]highlightContext
	// highlight id -> uri
	contextScope map[string]string

	pending           map[string]event.Event
	deletes           map[string]struct{}
	writeBackInFlight bool
	deleteInFlight    bool
}

// New returns an engine writing through store and pushing through emit.
func New(cfg Config, store Storage, emit Emitter, opts ...Option) *Engine {
	e := &Engine{
		cfg:          cfg.withDefaults(),
		store:        store,
		emit:         emit,
		post:         func(fn func()) error { fn(); return nil },
		newID:        event.NewID,
		reg:          registry.New(),
		channels:     make(map[string]*cache.List),
		users:        make(map[string]*cache.List),
		categories:   make(map[string]*cache.List),
		seen:         lastseen.New(),
		contexts:     make(map[string][]highlightContext),
		contextScope: make(map[string]string),
		pending:      make(map[string]event.Event),
		deletes:      make(map[string]struct{}),
	}
	e.submit = func(j Job) bool { j(context.Background()); return true }
	for _, o := range opts {
		o(e)
	}
	for _, name := range registry.Categories {
		e.categories[name] = cache.NewList(e.cfg.CacheSize)
	}
	return e
}

// Config returns the current tunables.
func (e *Engine) Config() Config { return e.cfg }

// SetLogToDB toggles mirroring of cache writes to storage.
func (e *Engine) SetLogToDB(on bool) { e.cfg.LogToDB = on }

// SetCacheSize changes the bound of every cache, evicting the oldest entries
// of caches that are now over it.
func (e *Engine) SetCacheSize(n int) {
	if n <= 0 {
		n = cache.DefaultSize
	}
	e.cfg.CacheSize = n
	for _, l := range e.channels {
		l.SetMax(n)
	}
	for _, l := range e.users {
		l.SetMax(n)
	}
	for name, l := range e.categories {
		evicted := l.SetMax(n)
		if name == registry.CategoryHighlights {
			e.pruneContexts(evicted)
		}
	}
	for uri, windows := range e.contexts {
		if over := len(windows) - n; over > 0 {
			e.dropContexts(uri, over)
		}
	}
}

func (e *Engine) channelList(uri string) *cache.List {
	l := e.channels[uri]
	if l == nil {
		l = cache.NewList(e.cfg.CacheSize)
		e.channels[uri] = l
	}
	return l
}

func (e *Engine) userList(name string) *cache.List {
	key := strings.ToLower(name)
	l := e.users[key]
	if l == nil {
		l = cache.NewList(e.cfg.CacheSize)
		e.users[key] = l
	}
	return l
}

// CacheChannelEvent appends ev to the cache of scope, mirrors it to storage
// and pushes it to the scope's subscribers.
func (e *Engine) CacheChannelEvent(scope naming.Scope, ev event.Event) {
	uri := scope.URI()
	e.channelList(uri).Append(ev)
	telemetry.EventCached(string(ev.Kind))
	if e.cfg.LogToDB {
		e.storeNow(ev)
	}
	e.emitTo(registry.SpaceChannel, uri, EventChannel, ev)
}

// CacheBunchableChannelEvent folds a structural event into the newest entry of
// the scope's cache when that entry is itself structural or a bunch. The
// bunch replaces the entry in place and the ids it supersedes are scheduled
// for deletion. Anything else is appended like CacheChannelEvent.
func (e *Engine) CacheBunchableChannelEvent(scope naming.Scope, ev event.Event) {
	uri := scope.URI()
	l := e.channelList(uri)
	last, ok := l.Last()
	if !ok || !cache.CanMerge(last, ev) {
		e.CacheChannelEvent(scope, ev)
		return
	}

	bunch, superseded := cache.Merge(last, ev, e.cfg.MaxBunch, e.newID())
	l.ReplaceLast(bunch)
	telemetry.EventCached(string(ev.Kind))
	telemetry.BunchCompacted()

	if e.cfg.LogToDB {
		for _, id := range superseded {
			delete(e.pending, id)
			e.deletes[id] = struct{}{}
		}
		e.pending[bunch.ID] = bunch
		e.reportPending()
	}
	e.emitTo(registry.SpaceChannel, uri, EventChannel, bunch)
}

// CacheMessage caches a said line in its channel and, depending on the
// sender's relationship and highlight matches, in the sender's user cache and
// the allfriends and highlights categories. A highlight's context is the
// channel's newest lines as they were right before the highlight arrived.
func (e *Engine) CacheMessage(scope naming.Scope, ev event.Event) {
	uri := scope.URI()
	if ev.Highlighted() && e.cfg.HighlightContext > 0 {
		e.captureContext(uri, ev.ID, e.channelList(uri).Tail(e.cfg.HighlightContext))
	}
	e.CacheChannelEvent(scope, ev)

	if ev.Relationship >= friends.Friend && ev.Username != "" {
		key := strings.ToLower(ev.Username)
		e.userList(key).Append(ev)
		e.emitTo(registry.SpaceUser, key, EventUser, ev)
		e.CacheCategoryEvent(registry.CategoryAllFriends, ev)
	}
	if ev.Highlighted() {
		e.CacheCategoryEvent(registry.CategoryHighlights, ev)
	}
}

// CacheCategoryEvent appends ev to a category cache. Unknown categories are
// ignored.
func (e *Engine) CacheCategoryEvent(category string, ev event.Event) {
	l := e.categories[category]
	if l == nil {
		slog.Debug("ignoring event for unknown category", slog.String("component", "relay"), slog.String("category", category))
		return
	}
	if category == registry.CategoryHighlights {
		if ctx, ok := e.HighlightContext(ev.ID); ok {
			ev.Context = ctx
		}
	}
	evicted := l.Append(ev)
	if category == registry.CategoryHighlights {
		e.pruneContexts(evicted)
	}
	e.emitTo(registry.SpaceCategory, category, EventCategory, ev)
}

// RecordLastSeen notes activity by the sender of ev in scope. The channel
// record is always updated; the user record only for friends.
func (e *Engine) RecordLastSeen(scope naming.Scope, ev event.Event) {
	if ev.Username == "" {
		return
	}
	c := lastseen.Channel{
		URI:         scope.URI(),
		Username:    ev.Username,
		DisplayName: ev.DisplayName,
		Time:        ev.Time,
		LineID:      ev.ID,
	}
	if e.seen.RecordChannel(c) {
		e.run("last_seen_channel", func(ctx context.Context) error {
			return e.store.UpsertLastSeenChannel(ctx, c)
		})
	}
	if ev.Relationship < friends.Friend {
		return
	}
	u := lastseen.User{
		Username:     ev.Username,
		DisplayName:  ev.DisplayName,
		Channel:      scope.URI(),
		Time:         ev.Time,
		LineID:       ev.ID,
		Relationship: ev.Relationship,
	}
	if e.seen.RecordUser(u) {
		e.run("last_seen_user", func(ctx context.Context) error {
			return e.store.UpsertLastSeenUser(ctx, u)
		})
	}
}

// ConnectionStatusChanged persists the status and broadcasts it.
func (e *Engine) ConnectionStatusChanged(server, status string) {
	e.run("connection_status", func(ctx context.Context) error {
		return e.store.SetConnectionStatus(ctx, server, status)
	})
	e.emit.Broadcast(EventStatus, StatusChange{Server: server, Status: status})
}

// ChannelUserList pushes a channel's membership to its subscribers.
func (e *Engine) ChannelUserList(scope naming.Scope, users map[string]string) {
	uri := scope.URI()
	payload := UserListUpdate{Channel: uri, Users: users}
	for _, h := range e.reg.Members(registry.SpaceChannel, uri) {
		e.emit.EmitDirect(h, EventUserList, payload)
	}
}

// Subscribe adds h to (space, key) and sends it the current cache of that
// key. Unknown spaces and categories are ignored and false is returned.
func (e *Engine) Subscribe(h registry.Handle, space registry.Space, key string) bool {
	key, ok := normalizeKey(space, key)
	if !ok {
		return false
	}
	if e.reg.Subscribe(space, key, h) {
		telemetry.SetSubscriptions(string(space), e.reg.Count(space))
	}
	e.emit.EmitDirect(h, EventCache, CacheSnapshot{Space: space, Key: key, Events: e.snapshot(space, key)})
	return true
}

// Unsubscribe removes h from (space, key).
func (e *Engine) Unsubscribe(h registry.Handle, space registry.Space, key string) bool {
	key, ok := normalizeKey(space, key)
	if !ok {
		return false
	}
	removed := e.reg.Unsubscribe(space, key, h)
	if removed {
		telemetry.SetSubscriptions(string(space), e.reg.Count(space))
	}
	return removed
}

// RemoveConnection drops h from every subscription.
func (e *Engine) RemoveConnection(h registry.Handle) int {
	n := e.reg.RemoveHandle(h)
	if n > 0 {
		for _, space := range []registry.Space{registry.SpaceChannel, registry.SpaceUser, registry.SpaceCategory} {
			telemetry.SetSubscriptions(string(space), e.reg.Count(space))
		}
	}
	return n
}

func normalizeKey(space registry.Space, key string) (string, bool) {
	switch space {
	case registry.SpaceChannel:
		scope, err := naming.ParseURI(key)
		if err != nil {
			return "", false
		}
		return scope.URI(), true
	case registry.SpaceUser:
		if key == "" {
			return "", false
		}
		return strings.ToLower(key), true
	case registry.SpaceCategory:
		return key, registry.IsCategory(key)
	}
	return "", false
}

func (e *Engine) snapshot(space registry.Space, key string) []event.Event {
	switch space {
	case registry.SpaceChannel:
		return e.ChannelCache(key)
	case registry.SpaceUser:
		return e.UserCache(key)
	case registry.SpaceCategory:
		return e.CategoryCache(key)
	}
	return nil
}

// ChannelCache returns a copy of the cache of a channel uri.
func (e *Engine) ChannelCache(uri string) []event.Event {
	if l := e.channels[uri]; l != nil {
		return l.Items()
	}
	return []event.Event{}
}

// UserCache returns a copy of a user's cache.
func (e *Engine) UserCache(name string) []event.Event {
	if l := e.users[strings.ToLower(name)]; l != nil {
		return l.Items()
	}
	return []event.Event{}
}

// CategoryCache returns a copy of a category cache, or nil for unknown names.
func (e *Engine) CategoryCache(name string) []event.Event {
	if l := e.categories[name]; l != nil {
		return l.Items()
	}
	return nil
}

// Subscribers returns the handles subscribed to (space, key).
func (e *Engine) Subscribers(space registry.Space, key string) []registry.Handle {
	return e.reg.Members(space, key)
}

// LastSeenChannels returns every channel record.
func (e *Engine) LastSeenChannels() []lastseen.Channel { return e.seen.Channels() }

// LastSeenUsers returns every user record.
func (e *Engine) LastSeenUsers() []lastseen.User { return e.seen.Users() }

// LoadLastSeen seeds the tracker with stored records without pushing them.
func (e *Engine) LoadLastSeen(channels []lastseen.Channel, users []lastseen.User) {
	e.seen.Load(channels, users)
}

// Preload seeds a channel cache with stored lines, oldest first, without
// storing or pushing them.
func (e *Engine) Preload(scope naming.Scope, lines []event.Event) {
	l := e.channelList(scope.URI())
	for _, ev := range lines {
		l.Append(ev)
	}
}

// ReportHighlightAsSeen marks a highlight as seen and tells highlight
// subscribers. It reports false when id is not in the highlights cache.
func (e *Engine) ReportHighlightAsSeen(id string) bool {
	l := e.categories[registry.CategoryHighlights]
	if !l.Update(id, func(ev *event.Event) { ev.Seen = true }) {
		return false
	}
	payload := HighlightSeen{ID: id}
	for _, h := range e.reg.Members(registry.SpaceCategory, registry.CategoryHighlights) {
		e.emit.EmitDirect(h, EventHighlightSeen, payload)
	}
	return true
}

// HighlightContext returns the lines captured before highlight id.
func (e *Engine) HighlightContext(id string) ([]event.Event, bool) {
	uri, ok := e.contextScope[id]
	if !ok {
		return nil, false
	}
	for _, w := range e.contexts[uri] {
		if w.id == id {
			out := make([]event.Event, len(w.events))
			for i := range w.events {
				out[i] = w.events[i].Clone()
			}
			return out, true
		}
	}
	return nil, false
}

func (e *Engine) captureContext(uri, id string, events []event.Event) {
	e.contexts[uri] = append(e.contexts[uri], highlightContext{id: id, events: events})
	e.contextScope[id] = uri
	if over := len(e.contexts[uri]) - e.cfg.CacheSize; over > 0 {
		e.dropContexts(uri, over)
	}
}

func (e *Engine) dropContexts(uri string, n int) {
	windows := e.contexts[uri]
	for _, w := range windows[:n] {
		delete(e.contextScope, w.id)
	}
	e.contexts[uri] = slices.Delete(windows, 0, n)
	if len(e.contexts[uri]) == 0 {
		delete(e.contexts, uri)
	}
}

func (e *Engine) pruneContexts(evicted []event.Event) {
	for _, ev := range evicted {
		uri, ok := e.contextScope[ev.ID]
		if !ok {
			continue
		}
		delete(e.contextScope, ev.ID)
		windows := slices.DeleteFunc(e.contexts[uri], func(w highlightContext) bool { return w.id == ev.ID })
		if len(windows) == 0 {
			delete(e.contexts, uri)
		} else {
			e.contexts[uri] = windows
		}
	}
}

func (e *Engine) emitTo(space registry.Space, key, name string, ev event.Event) {
	members := e.reg.Members(space, key)
	if len(members) == 0 {
		return
	}
	payload := ScopedEvent{Key: key, Event: ev.Clone()}
	for _, h := range members {
		e.emit.EmitDirect(h, name, payload)
	}
}

// run submits a fire-and-forget storage job whose failure is only logged.
func (e *Engine) run(op string, fn func(ctx context.Context) error) {
	ok := e.submit(func(ctx context.Context) {
		if err := fn(ctx); err != nil {
			slog.Error("storage write failed", slog.String("component", "relay"), slog.String("op", op), slog.Any("err", err))
		}
	})
	if !ok {
		slog.Warn("storage write dropped", slog.String("component", "relay"), slog.String("op", op))
	}
}

// storeNow writes ev immediately. A failed write is queued for the next
// write-back flush unless ev has been superseded in the meantime.
func (e *Engine) storeNow(ev event.Event) {
	ev = ev.Clone()
	ok := e.submit(func(ctx context.Context) {
		err := e.store.StoreLines(ctx, []event.Event{ev})
		if err == nil {
			return
		}
		slog.Warn("line store failed, queued for write-back", slog.String("component", "relay"), slog.String("line_id", ev.ID), slog.Any("err", err))
		e.postResult(func() { e.requeue(ev) })
	})
	if !ok {
		e.requeue(ev)
	}
}

func (e *Engine) requeue(ev event.Event) {
	if _, gone := e.deletes[ev.ID]; gone {
		return
	}
	e.pending[ev.ID] = ev
	e.reportPending()
}

func (e *Engine) postResult(fn func()) {
	if err := e.post(fn); err != nil {
		slog.Warn("dropping storage result", slog.String("component", "relay"), slog.Any("err", err))
	}
}

func (e *Engine) reportPending() {
	telemetry.SetPending(len(e.pending), len(e.deletes))
}

// PendingWriteBack returns the ids waiting for the next write-back flush.
func (e *Engine) PendingWriteBack() []string {
	ids := make([]string, 0, len(e.pending))
	for id := range e.pending {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// PendingDeletes returns the ids waiting for the next delete flush.
func (e *Engine) PendingDeletes() []string {
	ids := make([]string, 0, len(e.deletes))
	for id := range e.deletes {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// FlushWriteBack writes every pending line in one batch. Entries are removed
// only once storage confirms the batch. A bunch rewritten while the batch was
// in flight has a new id and stays pending. A flush is skipped while a
// previous one is in flight or the circuit breaker is open.
func (e *Engine) FlushWriteBack() {
	if e.writeBackInFlight || len(e.pending) == 0 {
		return
	}
	if e.breaker != nil && e.breaker.State() == gobreaker.StateOpen {
		slog.Debug("write-back skipped, circuit open", slog.String("component", "relay"), slog.Int("pending", len(e.pending)))
		return
	}
	batch := make([]event.Event, 0, len(e.pending))
	for _, ev := range e.pending {
		batch = append(batch, ev)
	}
	slices.SortFunc(batch, func(a, b event.Event) int {
		if c := a.Time.Compare(b.Time); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})

	e.writeBackInFlight = true
	ok := e.submit(func(ctx context.Context) {
		ctx, span := telemetry.StartFlushSpan(ctx, "write_back", len(batch))
		var err error
		telemetry.TimeFunc(telemetry.StorageDuration, func() {
			err = e.guarded(func() error { return e.store.StoreLines(ctx, batch) })
		})
		telemetry.FlushDone("write_back", err)
		telemetry.EndSpan(span, err)
		e.postResult(func() { e.writeBackDone(batch, err) })
	})
	if !ok {
		e.writeBackInFlight = false
	}
}

func (e *Engine) writeBackDone(batch []event.Event, err error) {
	e.writeBackInFlight = false
	if err != nil {
		slog.Error("write-back flush failed", slog.String("component", "relay"), slog.Int("lines", len(batch)), slog.Any("err", err))
		return
	}
	for _, ev := range batch {
		delete(e.pending, ev.ID)
	}
	e.reportPending()
}

// FlushDeletes removes every superseded line from storage in one batch.
func (e *Engine) FlushDeletes() {
	if e.deleteInFlight || len(e.deletes) == 0 {
		return
	}
	ids := e.PendingDeletes()
	e.deleteInFlight = true
	ok := e.submit(func(ctx context.Context) {
		ctx, span := telemetry.StartFlushSpan(ctx, "delete", len(ids))
		var err error
		telemetry.TimeFunc(telemetry.StorageDuration, func() {
			err = e.store.DeleteLines(ctx, ids)
		})
		telemetry.FlushDone("delete", err)
		telemetry.EndSpan(span, err)
		e.postResult(func() { e.deletesDone(ids, err) })
	})
	if !ok {
		e.deleteInFlight = false
	}
}

func (e *Engine) deletesDone(ids []string, err error) {
	e.deleteInFlight = false
	if err != nil {
		slog.Error("delete flush failed", slog.String("component", "relay"), slog.Int("ids", len(ids)), slog.Any("err", err))
		return
	}
	for _, id := range ids {
		delete(e.deletes, id)
	}
	e.reportPending()
}

func (e *Engine) guarded(fn func() error) error {
	if e.breaker == nil {
		return fn()
	}
	_, err := e.breaker.Execute(func() (struct{}, error) { return struct{}{}, fn() })
	if err != nil && !errors.Is(err, gobreaker.ErrOpenState) && !errors.Is(err, gobreaker.ErrTooManyRequests) {
		telemetry.IncrementCircuitFailures()
	}
	return err
}

// FlushLastSeen pushes the records changed since the previous flush, at most
// one per channel and per user.
func (e *Engine) FlushLastSeen() {
	if !e.seen.Dirty() {
		return
	}
	channels, users := e.seen.TakeDirty()
	e.emit.Broadcast(EventLastSeen, LastSeenUpdate{Channels: channels, Users: users})
	telemetry.LastSeenPushed()
}

// Scheduler runs periodic tasks. *loop.Loop implements it.
type Scheduler interface {
	Every(name string, d time.Duration, fn func())
}

// Intervals holds the periods of the engine's flush tasks.
type Intervals struct {
	WriteBack time.Duration
	Deletes   time.Duration
	LastSeen  time.Duration
}

// Schedule registers the write-back, delete and last-seen flushes on s.
func (e *Engine) Schedule(s Scheduler, iv Intervals) {
	if iv.WriteBack <= 0 {
		iv.WriteBack = 10 * time.Second
	}
	if iv.Deletes <= 0 {
		iv.Deletes = 10 * time.Second
	}
	if iv.LastSeen <= 0 {
		iv.LastSeen = 500 * time.Millisecond
	}
	s.Every("write-back", iv.WriteBack, e.FlushWriteBack)
	s.Every("delete", iv.Deletes, e.FlushDeletes)
	s.Every("last-seen", iv.LastSeen, e.FlushLastSeen)
}
