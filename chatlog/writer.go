package chatlog

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/onnwee/relay/event"
	"github.com/onnwee/relay/naming"
)

const dayLayout = "2006-01-02"

// Stream names one append-only log: a scope, a friend's personal stream, or
// the shared mentions stream.
type Stream string

// ScopeStream is the primary stream of a channel or conversation.
func ScopeStream(s naming.Scope) Stream {
	if s.Private {
		return Stream(sanitize(s.Server) + "/conversation/" + sanitize(s.Name))
	}
	return Stream(sanitize(s.Server) + "/" + sanitize(strings.TrimPrefix(s.Name, "#")))
}

// UserStream collects everything a friend says across all scopes.
func UserStream(username string) Stream {
	return Stream("_users/" + sanitize(strings.ToLower(username)))
}

// MentionsStream collects highlights from users who are not friends.
func MentionsStream() Stream { return "_mentions" }

func sanitize(p string) string {
	p = strings.NewReplacer("/", "_", "\\", "_", "\x00", "").Replace(p)
	if p == "" || p == "." || p == ".." {
		return "_"
	}
	return p
}

type entry struct {
	stream Stream
	at     time.Time
	line   string
}

// Writer appends lines to <dir>/<stream>/<YYYY-MM-DD>.txt from a single
// goroutine. Append never blocks; lines are dropped when the queue is full.
type Writer struct {
	dir   string
	queue chan entry
}

// NewWriter returns a writer rooted at dir with a queue of size lines.
func NewWriter(dir string, size int) *Writer {
	if size <= 0 {
		size = 1024
	}
	return &Writer{dir: dir, queue: make(chan entry, size)}
}

// Append queues ev for stream. Events without a text form are ignored.
func (w *Writer) Append(stream Stream, ev event.Event) bool {
	line, ok := Build(ev)
	if !ok {
		return false
	}
	at := ev.Time
	if at.IsZero() {
		at = time.Now()
	}
	select {
	case w.queue <- entry{stream: stream, at: at, line: line}:
		return true
	default:
		slog.Warn("chat log queue full, dropping line", slog.String("component", "chatlog"), slog.String("stream", string(stream)))
		return false
	}
}

// Serve drains the queue until ctx is cancelled, then flushes what is left.
func (w *Writer) Serve(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			for {
				select {
				case e := <-w.queue:
					w.write(e)
				default:
					return ctx.Err()
				}
			}
		case e := <-w.queue:
			w.write(e)
		}
	}
}

func (w *Writer) write(e entry) {
	if err := w.appendLine(e); err != nil {
		slog.Error("chat log write failed", slog.String("component", "chatlog"), slog.String("stream", string(e.stream)), slog.Any("err", err))
	}
}

func (w *Writer) path(stream Stream, day time.Time) string {
	return filepath.Join(w.dir, filepath.FromSlash(string(stream)), day.Format(dayLayout)+".txt")
}

func (w *Writer) appendLine(e entry) error {
	p := w.path(e.stream, e.at)
	if err := os.MkdirAll(filepath.Dir(p), 0o750); err != nil {
		return fmt.Errorf("create log dir: %w", err)
	}
	f, err := os.OpenFile(p, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o640) //nolint:gosec // path components are sanitized
	if err != nil {
		return fmt.Errorf("open log: %w", err)
	}
	if _, err := f.WriteString(FormatFileLine(e.at, e.line) + "\n"); err != nil {
		_ = f.Close()
		return fmt.Errorf("append log: %w", err)
	}
	return f.Close()
}

// Read returns the parsable lines of stream for the given day. A missing file
// yields no events and no error.
func (w *Writer) Read(stream Stream, day time.Time) ([]event.Event, error) {
	f, err := os.Open(w.path(stream, day))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := f.Close(); err != nil {
			slog.Warn("failed to close chat log", slog.Any("err", err))
		}
	}()
	var out []event.Event
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if ev := ParseFileLine(sc.Text(), day); ev != nil {
			out = append(out, *ev)
		}
	}
	return out, sc.Err()
}
