package relay

import (
	"context"
	"log/slog"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/onnwee/relay/telemetry"
)

// Job is one unit of storage work.
type Job func(ctx context.Context)

// Persister runs storage jobs one at a time in submission order, so a line
// store issued before a delete of the same id always reaches storage first.
type Persister struct {
	jobs chan Job
}

// NewPersister returns a persister whose queue holds up to size jobs.
func NewPersister(size int) *Persister {
	if size <= 0 {
		size = 4096
	}
	return &Persister{jobs: make(chan Job, size)}
}

// Submit queues j without blocking and reports whether it was accepted.
func (p *Persister) Submit(j Job) bool {
	select {
	case p.jobs <- j:
		return true
	default:
		slog.Warn("persister queue full", slog.String("component", "persister"), slog.Int("capacity", cap(p.jobs)))
		return false
	}
}

// Pending returns the number of queued jobs.
func (p *Persister) Pending() int { return len(p.jobs) }

// Serve runs queued jobs until ctx is cancelled. Jobs still queued at that
// point run with a short grace context.
func (p *Persister) Serve(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			p.drain()
			return ctx.Err()
		case j := <-p.jobs:
			j(ctx)
		}
	}
}

func (p *Persister) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		select {
		case j := <-p.jobs:
			j(ctx)
		default:
			return
		}
	}
}

// BreakerConfig tunes the storage circuit breaker.
type BreakerConfig struct {
	FailureThreshold uint32
	Timeout          time.Duration
	// Retryable decides which errors count as failures. Nil counts every error.
	Retryable func(error) bool
}

// NewBreaker returns the circuit breaker guarding write-back flushes.
func NewBreaker(cfg BreakerConfig) *gobreaker.CircuitBreaker[struct{}] {
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        "storage-write-back",
		MaxRequests: 1,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			if cfg.Retryable == nil {
				return false
			}
			if cfg.Retryable(err) {
				return false
			}
			return true
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("circuit breaker state changed", slog.String("component", "persister"), slog.String("breaker", name), slog.String("from", from.String()), slog.String("to", to.String()))
			telemetry.RecordCircuitStateChange(from.String(), to.String())
		},
	})
}
