package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/onnwee/relay/event"
	"github.com/onnwee/relay/friends"
	"github.com/onnwee/relay/lastseen"
)

// deleteChunk bounds the number of ids in one DELETE ... IN (...).
const deleteChunk = 500

const upsertLine = `INSERT INTO lines(line_id, channel, server, kind, username, message, time_ms, data)
	VALUES(?,?,?,?,?,?,?,?)
	ON CONFLICT(line_id) DO UPDATE SET
		kind=excluded.kind,
		username=excluded.username,
		message=excluded.message,
		time_ms=excluded.time_ms,
		data=excluded.data`

// StoreLines writes evs in one transaction. Rewritten bunches replace the row
// with the same id.
func (s *Store) StoreLines(ctx context.Context, evs []event.Event) error {
	if len(evs) == 0 {
		return nil
	}
	return s.tx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, s.rebind(upsertLine))
		if err != nil {
			return fmt.Errorf("prepare store line: %w", err)
		}
		defer stmt.Close()
		for _, ev := range evs {
			data, err := json.Marshal(ev)
			if err != nil {
				return fmt.Errorf("encode line %s: %w", ev.ID, err)
			}
			if _, err := stmt.ExecContext(ctx, ev.ID, ev.Channel, ev.Server, string(ev.Kind),
				strings.ToLower(ev.Username), ev.Message, toMillis(ev.Time), string(data)); err != nil {
				return fmt.Errorf("store line %s: %w", ev.ID, err)
			}
		}
		return nil
	})
}

// DeleteLines removes rows by id. Unknown ids are ignored.
func (s *Store) DeleteLines(ctx context.Context, ids []string) error {
	for start := 0; start < len(ids); start += deleteChunk {
		end := min(start+deleteChunk, len(ids))
		chunk := ids[start:end]
		args := make([]any, len(chunk))
		for i, id := range chunk {
			args[i] = id
		}
		q := "DELETE FROM lines WHERE line_id IN (" + strings.TrimSuffix(strings.Repeat("?,", len(chunk)), ",") + ")"
		if err := s.exec(ctx, q, args...); err != nil {
			return fmt.Errorf("delete lines: %w", err)
		}
	}
	return nil
}

// RecentLines returns up to limit lines of a scope, oldest first.
func (s *Store) RecentLines(ctx context.Context, uri string, limit int) ([]event.Event, error) {
	rows, err := s.DB.QueryContext(ctx, s.rebind(
		`SELECT data FROM lines WHERE channel = ? ORDER BY time_ms DESC, line_id DESC LIMIT ?`), uri, limit)
	if err != nil {
		return nil, fmt.Errorf("query lines: %w", err)
	}
	defer rows.Close()
	var out []event.Event
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var ev event.Event
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			return nil, fmt.Errorf("decode line: %w", err)
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// Channels lists every scope with stored lines.
func (s *Store) Channels(ctx context.Context) ([]string, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT DISTINCT channel FROM lines ORDER BY channel`)
	if err != nil {
		return nil, fmt.Errorf("query channels: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// CountLines returns the number of stored lines.
func (s *Store) CountLines(ctx context.Context) (int, error) {
	var n int
	err := s.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM lines`).Scan(&n)
	return n, err
}

// UpsertLastSeenChannel records the latest activity in a scope.
func (s *Store) UpsertLastSeenChannel(ctx context.Context, c lastseen.Channel) error {
	err := s.exec(ctx, `INSERT INTO last_seen_channels(channel, username, display_name, time_ms, line_id)
		VALUES(?,?,?,?,?)
		ON CONFLICT(channel) DO UPDATE SET
			username=excluded.username,
			display_name=excluded.display_name,
			time_ms=excluded.time_ms,
			line_id=excluded.line_id`,
		c.URI, c.Username, c.DisplayName, toMillis(c.Time), c.LineID)
	if err != nil {
		return fmt.Errorf("upsert last seen channel: %w", err)
	}
	return nil
}

// UpsertLastSeenUser records where a user was last seen.
func (s *Store) UpsertLastSeenUser(ctx context.Context, u lastseen.User) error {
	err := s.exec(ctx, `INSERT INTO last_seen_users(username, display_name, channel, time_ms, line_id, relationship)
		VALUES(?,?,?,?,?,?)
		ON CONFLICT(username) DO UPDATE SET
			display_name=excluded.display_name,
			channel=excluded.channel,
			time_ms=excluded.time_ms,
			line_id=excluded.line_id,
			relationship=excluded.relationship`,
		strings.ToLower(u.Username), u.DisplayName, u.Channel, toMillis(u.Time), u.LineID, u.Relationship.String())
	if err != nil {
		return fmt.Errorf("upsert last seen user: %w", err)
	}
	return nil
}

// LoadLastSeen reads every last-seen record.
func (s *Store) LoadLastSeen(ctx context.Context) ([]lastseen.Channel, []lastseen.User, error) {
	crows, err := s.DB.QueryContext(ctx, `SELECT channel, username, COALESCE(display_name, ''), time_ms,
		COALESCE(line_id, '') FROM last_seen_channels`)
	if err != nil {
		return nil, nil, fmt.Errorf("query last seen channels: %w", err)
	}
	defer crows.Close()
	var channels []lastseen.Channel
	for crows.Next() {
		var c lastseen.Channel
		var ms int64
		if err := crows.Scan(&c.URI, &c.Username, &c.DisplayName, &ms, &c.LineID); err != nil {
			return nil, nil, err
		}
		c.Time = fromMillis(ms)
		channels = append(channels, c)
	}
	if err := crows.Err(); err != nil {
		return nil, nil, err
	}

	urows, err := s.DB.QueryContext(ctx, `SELECT username, COALESCE(display_name, ''), channel, time_ms,
		COALESCE(line_id, ''), COALESCE(relationship, '') FROM last_seen_users`)
	if err != nil {
		return nil, nil, fmt.Errorf("query last seen users: %w", err)
	}
	defer urows.Close()
	var users []lastseen.User
	for urows.Next() {
		var u lastseen.User
		var ms int64
		var rel string
		if err := urows.Scan(&u.Username, &u.DisplayName, &u.Channel, &ms, &u.LineID, &rel); err != nil {
			return nil, nil, err
		}
		u.Time = fromMillis(ms)
		u.Relationship = friends.ParseLevel(rel)
		users = append(users, u)
	}
	return channels, users, urows.Err()
}

// SetConnectionStatus persists the last broadcast status of a server.
func (s *Store) SetConnectionStatus(ctx context.Context, server, status string) error {
	return s.SetValue(ctx, "status:"+server, status)
}

// ConnectionStatus returns the persisted status of a server, or "".
func (s *Store) ConnectionStatus(ctx context.Context, server string) (string, error) {
	return s.Value(ctx, "status:"+server)
}

// SetValue upserts a kv entry.
func (s *Store) SetValue(ctx context.Context, key, value string) error {
	err := s.exec(ctx, `INSERT INTO kv(key, value, updated_at_ms) VALUES(?,?,?)
		ON CONFLICT(key) DO UPDATE SET value=excluded.value, updated_at_ms=excluded.updated_at_ms`,
		key, value, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

// Value reads a kv entry; a missing key yields "".
func (s *Store) Value(ctx context.Context, key string) (string, error) {
	var v sql.NullString
	err := s.DB.QueryRowContext(ctx, s.rebind(`SELECT value FROM kv WHERE key = ?`), key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get %s: %w", key, err)
	}
	return v.String, nil
}

// SetFriend stores a relationship. None removes the user.
func (s *Store) SetFriend(ctx context.Context, username string, level friends.Level) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" {
		return errors.New("empty username")
	}
	if level == friends.None {
		return s.exec(ctx, `DELETE FROM friends WHERE username = ?`, username)
	}
	return s.exec(ctx, `INSERT INTO friends(username, level) VALUES(?,?)
		ON CONFLICT(username) DO UPDATE SET level=excluded.level`, username, int(level))
}

// FriendsSnapshot builds a snapshot from the friends table.
func (s *Store) FriendsSnapshot(ctx context.Context) (friends.Snapshot, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT username, level FROM friends`)
	if err != nil {
		return friends.Snapshot{}, fmt.Errorf("query friends: %w", err)
	}
	defer rows.Close()
	var fr, best []string
	for rows.Next() {
		var name string
		var level int
		if err := rows.Scan(&name, &level); err != nil {
			return friends.Snapshot{}, err
		}
		switch friends.Level(level) {
		case friends.BestFriend:
			best = append(best, name)
		case friends.Friend:
			fr = append(fr, name)
		}
	}
	if err := rows.Err(); err != nil {
		return friends.Snapshot{}, err
	}
	return friends.NewSnapshot(fr, best), nil
}

// AddNicknameTrigger stores an extra highlight word.
func (s *Store) AddNicknameTrigger(ctx context.Context, word string) error {
	word = strings.ToLower(strings.TrimSpace(word))
	if word == "" {
		return errors.New("empty trigger")
	}
	return s.exec(ctx, `INSERT INTO nickname_triggers(word) VALUES(?) ON CONFLICT(word) DO NOTHING`, word)
}

// RemoveNicknameTrigger deletes an extra highlight word.
func (s *Store) RemoveNicknameTrigger(ctx context.Context, word string) error {
	return s.exec(ctx, `DELETE FROM nickname_triggers WHERE word = ?`, strings.ToLower(strings.TrimSpace(word)))
}

// NicknameTriggers lists the extra highlight words.
func (s *Store) NicknameTriggers(ctx context.Context) ([]string, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT word FROM nickname_triggers ORDER BY word`)
	if err != nil {
		return nil, fmt.Errorf("query triggers: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var w string
		if err := rows.Scan(&w); err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

// UpsertOAuthToken stores or replaces the token of a provider such as
// "twitch:<server>" or "twitch:app".
func (s *Store) UpsertOAuthToken(ctx context.Context, provider, access, refresh string, expiry time.Time, scope string) error {
	err := s.exec(ctx, `INSERT INTO oauth_tokens(provider, access_token, refresh_token, expires_at_ms, scope, updated_at_ms)
		VALUES(?,?,?,?,?,?)
		ON CONFLICT(provider) DO UPDATE SET
			access_token=excluded.access_token,
			refresh_token=excluded.refresh_token,
			expires_at_ms=excluded.expires_at_ms,
			scope=excluded.scope,
			updated_at_ms=excluded.updated_at_ms`,
		provider, access, refresh, toMillis(expiry), scope, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("upsert token %s: %w", provider, err)
	}
	return nil
}

// GetOAuthToken reads a stored token; a missing provider yields zero values.
func (s *Store) GetOAuthToken(ctx context.Context, provider string) (access, refresh string, expiry time.Time, scope string, err error) {
	var a, r, sc sql.NullString
	var exp sql.NullInt64
	err = s.DB.QueryRowContext(ctx, s.rebind(
		`SELECT access_token, refresh_token, expires_at_ms, scope FROM oauth_tokens WHERE provider = ?`), provider).
		Scan(&a, &r, &exp, &sc)
	if errors.Is(err, sql.ErrNoRows) {
		return "", "", time.Time{}, "", nil
	}
	if err != nil {
		return "", "", time.Time{}, "", fmt.Errorf("get token %s: %w", provider, err)
	}
	return a.String, r.String, fromMillis(exp.Int64), sc.String, nil
}
