// Package loop runs closures one at a time on a single goroutine. Every piece
// of relay state that is not safe for concurrent use is only touched from a
// turn of the loop; other goroutines hand work over with Post or Do.
package loop

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// ErrStopped is returned when posting to a loop whose context has ended.
var ErrStopped = errors.New("loop: stopped")

// Ticker is the subset of *time.Ticker the loop needs.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type stdTicker struct{ t *time.Ticker }

func (s stdTicker) C() <-chan time.Time { return s.t.C }
func (s stdTicker) Stop()               { s.t.Stop() }

// TickerFunc creates tickers for periodic tasks.
type TickerFunc func(d time.Duration) Ticker

// StdTicker is the default TickerFunc backed by time.NewTicker.
func StdTicker(d time.Duration) Ticker { return stdTicker{time.NewTicker(d)} }

// Option configures a Loop.
type Option func(*Loop)

// WithTicker replaces the ticker factory used for periodic tasks.
func WithTicker(f TickerFunc) Option { return func(l *Loop) { l.newTicker = f } }

type task struct {
	name   string
	every  time.Duration
	fn     func()
	queued atomic.Bool
}

// Loop is a single-writer executor.
type Loop struct {
	turns     chan func()
	stopped   chan struct{}
	stopOnce  sync.Once
	newTicker TickerFunc

	mu    sync.Mutex
	tasks []*task
}

// New returns a loop whose queue holds up to buffer pending turns.
func New(buffer int, opts ...Option) *Loop {
	if buffer <= 0 {
		buffer = 1024
	}
	l := &Loop{
		turns:     make(chan func(), buffer),
		stopped:   make(chan struct{}),
		newTicker: StdTicker,
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Every registers fn to run as a turn every d. A tick is skipped while the
// task's previous turn is still waiting in the queue, so a task never has two
// turns pending. Tasks registered after Serve starts take effect on the next
// Serve.
func (l *Loop) Every(name string, d time.Duration, fn func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.tasks = append(l.tasks, &task{name: name, every: d, fn: fn})
}

// Post queues fn. It blocks while the queue is full and fails once the loop
// has stopped.
func (l *Loop) Post(fn func()) error {
	select {
	case <-l.stopped:
		return ErrStopped
	default:
	}
	select {
	case l.turns <- fn:
		return nil
	case <-l.stopped:
		return ErrStopped
	}
}

// Do runs fn as a turn and waits for it to finish.
func (l *Loop) Do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	if err := l.Post(func() {
		defer close(done)
		fn()
	}); err != nil {
		return err
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-l.stopped:
		return ErrStopped
	}
}

// Serve executes turns until ctx is cancelled.
func (l *Loop) Serve(ctx context.Context) error {
	l.mu.Lock()
	tasks := append([]*task(nil), l.tasks...)
	l.mu.Unlock()

	var wg sync.WaitGroup
	tickCtx, cancel := context.WithCancel(ctx)
	for _, t := range tasks {
		wg.Add(1)
		go func(t *task) {
			defer wg.Done()
			l.tick(tickCtx, t)
		}(t)
	}
	defer func() {
		cancel()
		wg.Wait()
	}()

	slog.Debug("loop started", slog.String("component", "loop"), slog.Int("tasks", len(tasks)))
	for {
		select {
		case <-ctx.Done():
			l.stopOnce.Do(func() { close(l.stopped) })
			return ctx.Err()
		case fn := <-l.turns:
			l.run(fn)
		}
	}
}

func (l *Loop) tick(ctx context.Context, t *task) {
	ticker := l.newTicker(t.every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			if !t.queued.CompareAndSwap(false, true) {
				continue
			}
			turn := func() {
				t.queued.Store(false)
				t.fn()
			}
			select {
			case l.turns <- turn:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (l *Loop) run(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("loop turn panicked", slog.String("component", "loop"), slog.Any("err", fmt.Errorf("%v", r)))
		}
	}()
	fn()
}

// Inline returns a post function that runs closures immediately on the
// caller's goroutine. Tests use it to drive single-writer components
// synchronously.
func Inline() func(func()) error {
	return func(fn func()) error {
		fn()
		return nil
	}
}
