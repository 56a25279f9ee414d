package db

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onnwee/relay/event"
	"github.com/onnwee/relay/friends"
	"github.com/onnwee/relay/lastseen"
)

func openTest(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func line(id, uri string, at time.Time, kind event.Kind, msg string) event.Event {
	return event.Event{ID: id, Kind: kind, Time: at, Channel: uri, Server: "twitch", Username: "Alice", Message: msg}
}

func TestParseDSN(t *testing.T) {
	tests := []struct {
		dsn     string
		dialect Dialect
		conn    string
	}{
		{"postgres://u:p@localhost/relay", Postgres, "postgres://u:p@localhost/relay"},
		{"postgresql://localhost/relay", Postgres, "postgresql://localhost/relay"},
		{"host=localhost dbname=relay", Postgres, "host=localhost dbname=relay"},
		{"sqlite:///var/lib/relay.db", SQLite, "/var/lib/relay.db"},
		{"sqlite:relay.db", SQLite, "relay.db"},
		{"data/relay.db", SQLite, "data/relay.db"},
		{":memory:", SQLite, ":memory:"},
	}
	for _, tt := range tests {
		t.Run(tt.dsn, func(t *testing.T) {
			d, conn := ParseDSN(tt.dsn)
			assert.Equal(t, tt.dialect, d)
			assert.Equal(t, tt.conn, conn)
		})
	}
}

func TestOpenEmpty(t *testing.T) {
	_, err := Open("  ")
	assert.ErrorIs(t, err, ErrEmptyDSN)
}

func TestOpenCreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "relay.db")
	s, err := Open("sqlite://" + path)
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.Migrate(context.Background()))
	require.NoError(t, s.Ping(context.Background()))
	assert.FileExists(t, path)
}

func TestRebind(t *testing.T) {
	pg := New(nil, Postgres)
	assert.Equal(t, "SELECT a FROM t WHERE x = $1 AND y IN ($2,$3)", pg.rebind("SELECT a FROM t WHERE x = ? AND y IN (?,?)"))
	lite := New(nil, SQLite)
	assert.Equal(t, "SELECT ?", lite.rebind("SELECT ?"))
}

func TestMigrateIdempotent(t *testing.T) {
	s := openTest(t)
	require.NoError(t, s.Migrate(context.Background()))
	n, err := s.CountLines(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestUpStatements(t *testing.T) {
	stmts, err := upStatements()
	require.NoError(t, err)
	assert.NotEmpty(t, stmts)
	for _, s := range stmts {
		assert.NotContains(t, s, ";")
	}
}

func TestStoreAndLoadLines(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	err := s.StoreLines(ctx, []event.Event{
		line("a", "twitch/chan", base, event.KindMessage, "first"),
		line("b", "twitch/chan", base.Add(time.Second), event.KindMessage, "second"),
		line("c", "twitch/other", base, event.KindMessage, "elsewhere"),
	})
	require.NoError(t, err)

	got, err := s.RecentLines(ctx, "twitch/chan", 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, []string{"a", "b"}, event.IDs(got))
	assert.Equal(t, "second", got[1].Message)
	assert.True(t, got[0].Time.Equal(base))

	limited, err := s.RecentLines(ctx, "twitch/chan", 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, event.IDs(limited))

	chans, err := s.Channels(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"twitch/chan", "twitch/other"}, chans)
}

func TestStoreLinesReplacesBunch(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	at := time.Now().UTC()

	bunch := event.Event{ID: "bunch", Kind: event.KindBunch, Time: at, Channel: "twitch/chan",
		Events: []event.Event{line("j1", "twitch/chan", at, event.KindJoin, "")}}
	require.NoError(t, s.StoreLines(ctx, []event.Event{bunch}))

	bunch.Events = append(bunch.Events, line("j2", "twitch/chan", at, event.KindJoin, ""))
	require.NoError(t, s.StoreLines(ctx, []event.Event{bunch}))

	got, err := s.RecentLines(ctx, "twitch/chan", 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Len(t, got[0].Events, 2)
}

func TestDeleteLines(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	at := time.Now().UTC()

	var evs []event.Event
	var ids []string
	for i := range 1200 {
		id := fmt.Sprintf("l%04d", i)
		evs = append(evs, line(id, "twitch/chan", at, event.KindJoin, ""))
		ids = append(ids, id)
	}
	require.NoError(t, s.StoreLines(ctx, evs))

	require.NoError(t, s.DeleteLines(ctx, append(ids[:1100:1100], "missing")))
	n, err := s.CountLines(ctx)
	require.NoError(t, err)
	assert.Equal(t, 100, n)

	require.NoError(t, s.DeleteLines(ctx, nil))
}

func TestLastSeenUpsert(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	t1 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Minute)

	require.NoError(t, s.UpsertLastSeenChannel(ctx, lastseen.Channel{URI: "twitch/chan", Username: "carol", Time: t1, LineID: "a"}))
	require.NoError(t, s.UpsertLastSeenChannel(ctx, lastseen.Channel{
		URI: "twitch/chan", Username: "bob", DisplayName: "Bob", Time: t2, LineID: "b",
	}))
	require.NoError(t, s.UpsertLastSeenUser(ctx, lastseen.User{
		Username: "Bob", DisplayName: "Bob", Channel: "twitch/chan", Time: t2, LineID: "b", Relationship: friends.BestFriend,
	}))

	channels, users, err := s.LoadLastSeen(ctx)
	require.NoError(t, err)
	require.Len(t, channels, 1)
	assert.Equal(t, "b", channels[0].LineID)
	assert.Equal(t, "bob", channels[0].Username)
	assert.Equal(t, "Bob", channels[0].DisplayName)
	assert.True(t, channels[0].Time.Equal(t2))
	require.Len(t, users, 1)
	assert.Equal(t, "bob", users[0].Username)
	assert.Equal(t, friends.BestFriend, users[0].Relationship)
}

func TestConnectionStatus(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()

	got, err := s.ConnectionStatus(ctx, "twitch")
	require.NoError(t, err)
	assert.Empty(t, got)

	require.NoError(t, s.SetConnectionStatus(ctx, "twitch", event.StatusConnected))
	require.NoError(t, s.SetConnectionStatus(ctx, "twitch", event.StatusAborted))
	got, err = s.ConnectionStatus(ctx, "twitch")
	require.NoError(t, err)
	assert.Equal(t, event.StatusAborted, got)
}

func TestFriendsAndTriggers(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()

	require.NoError(t, s.SetFriend(ctx, "Alice", friends.Friend))
	require.NoError(t, s.SetFriend(ctx, "bob", friends.BestFriend))
	require.NoError(t, s.SetFriend(ctx, "carol", friends.Friend))
	require.NoError(t, s.SetFriend(ctx, "carol", friends.None))
	assert.Error(t, s.SetFriend(ctx, " ", friends.Friend))

	snap, err := s.FriendsSnapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, snap.Len())
	assert.Equal(t, friends.Friend, snap.Level("ALICE"))
	assert.Equal(t, friends.BestFriend, snap.Level("bob"))
	assert.Equal(t, friends.None, snap.Level("carol"))

	require.NoError(t, s.AddNicknameTrigger(ctx, "Relay"))
	require.NoError(t, s.AddNicknameTrigger(ctx, "relay"))
	require.NoError(t, s.AddNicknameTrigger(ctx, "boss"))
	require.NoError(t, s.RemoveNicknameTrigger(ctx, "BOSS"))
	words, err := s.NicknameTriggers(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"relay"}, words)
}

func TestOAuthTokenRoundTrip(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()

	a, r, exp, sc, err := s.GetOAuthToken(ctx, "twitch:main")
	require.NoError(t, err)
	assert.Empty(t, a+r+sc)
	assert.True(t, exp.IsZero())

	expiry := time.Now().Add(time.Hour).UTC().Truncate(time.Millisecond)
	require.NoError(t, s.UpsertOAuthToken(ctx, "twitch:main", "acc1", "ref1", expiry, "chat:read"))
	require.NoError(t, s.UpsertOAuthToken(ctx, "twitch:main", "acc2", "ref2", expiry, "chat:read chat:edit"))

	a, r, exp, sc, err = s.GetOAuthToken(ctx, "twitch:main")
	require.NoError(t, err)
	assert.Equal(t, "acc2", a)
	assert.Equal(t, "ref2", r)
	assert.True(t, exp.Equal(expiry))
	assert.Equal(t, "chat:read chat:edit", sc)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorClass
	}{
		{"nil", nil, ErrorClassUnknown},
		{"canceled", context.Canceled, ErrorClassFatal},
		{"deadline", fmt.Errorf("store: %w", context.DeadlineExceeded), ErrorClassRetryable},
		{"pg connection", &pgconn.PgError{Code: "08006"}, ErrorClassRetryable},
		{"pg serialization", &pgconn.PgError{Code: "40001"}, ErrorClassRetryable},
		{"pg shutdown", &pgconn.PgError{Code: "57P01"}, ErrorClassRetryable},
		{"pg unique", fmt.Errorf("wrap: %w", &pgconn.PgError{Code: "23505"}), ErrorClassFatal},
		{"sqlite locked", errors.New("database is locked (5) (SQLITE_BUSY)"), ErrorClassRetryable},
		{"sqlite schema", errors.New("SQL logic error: no such table: lines (1)"), ErrorClassFatal},
		{"unknown", errors.New("something odd"), ErrorClassRetryable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
	assert.True(t, IsRetryable(errors.New("connection reset")))
	assert.False(t, IsRetryable(context.Canceled))
	assert.Equal(t, "fatal", ErrorClassFatal.String())
}
