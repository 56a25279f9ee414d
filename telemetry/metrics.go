// Package telemetry provides Prometheus metrics, OpenTelemetry tracing and
// correlation-id aware logging helpers.
package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// Counters
	EventsCached       *prometheus.CounterVec
	BunchCompactions   prometheus.Counter
	WriteBackFlushes   *prometheus.CounterVec
	LastSeenPushes     prometheus.Counter
	OutgoingMessages   *prometheus.CounterVec
	CircuitFailures    prometheus.Counter
	CircuitTransitions *prometheus.CounterVec

	// Histograms (seconds)
	StorageDuration prometheus.Observer

	// Gauges
	PendingWriteBackGauge prometheus.Gauge
	PendingDeletesGauge   prometheus.Gauge
	SubscriptionsGauge    *prometheus.GaugeVec
	SessionsGauge         *prometheus.GaugeVec
	CircuitOpenGauge      prometheus.Gauge // 1=open,0=closed
	CircuitStateGauge     prometheus.Gauge // 0=closed,1=half-open,2=open
	DBOpenConnections     prometheus.Gauge
	DBInUseConnections    prometheus.Gauge
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		EventsCached = promauto.NewCounterVec(prometheus.CounterOpts{Name: "relay_events_cached_total", Help: "Events appended to a scope cache, by type"}, []string{"kind"})
		BunchCompactions = promauto.NewCounter(prometheus.CounterOpts{Name: "relay_bunch_compactions_total", Help: "Structural events folded into an existing bunch"})
		WriteBackFlushes = promauto.NewCounterVec(prometheus.CounterOpts{Name: "relay_write_back_flushes_total", Help: "Storage flush batches by kind and result"}, []string{"kind", "result"})
		LastSeenPushes = promauto.NewCounter(prometheus.CounterOpts{Name: "relay_last_seen_pushes_total", Help: "Coalesced last-seen pushes to viewers"})
		OutgoingMessages = promauto.NewCounterVec(prometheus.CounterOpts{Name: "relay_outgoing_messages_total", Help: "Outgoing messages by result"}, []string{"result"})
		CircuitFailures = promauto.NewCounter(prometheus.CounterOpts{Name: "relay_storage_circuit_failures_total", Help: "Storage failures counted by the write-back circuit breaker"})
		CircuitTransitions = promauto.NewCounterVec(prometheus.CounterOpts{Name: "relay_storage_circuit_transitions_total", Help: "Write-back circuit breaker state transitions"}, []string{"from", "to"})
		StorageDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "relay_storage_duration_seconds", Help: "Duration of storage flush batches", Buckets: prometheus.DefBuckets})
		PendingWriteBackGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "relay_pending_write_back", Help: "Lines waiting to be written to storage"})
		PendingDeletesGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "relay_pending_deletes", Help: "Superseded line ids waiting to be deleted"})
		SubscriptionsGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{Name: "relay_subscriptions", Help: "Viewer subscriptions by space"}, []string{"space"})
		SessionsGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{Name: "relay_sessions", Help: "Server sessions by state"}, []string{"state"})
		CircuitOpenGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "relay_storage_circuit_open", Help: "Circuit breaker open=1 closed=0"})
		CircuitStateGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "relay_storage_circuit_state", Help: "Circuit breaker state closed=0 half-open=1 open=2"})
		DBOpenConnections = promauto.NewGauge(prometheus.GaugeOpts{Name: "relay_db_open_connections", Help: "Open database connections"})
		DBInUseConnections = promauto.NewGauge(prometheus.GaugeOpts{Name: "relay_db_in_use_connections", Help: "Database connections in use"})
	})
}

// EventCached counts one cache append of the given kind.
func EventCached(kind string) {
	if EventsCached != nil {
		EventsCached.WithLabelValues(kind).Inc()
	}
}

// BunchCompacted counts one merge into a bunch.
func BunchCompacted() {
	if BunchCompactions != nil {
		BunchCompactions.Inc()
	}
}

// FlushDone counts a storage flush batch. kind is "write_back" or "delete".
func FlushDone(kind string, err error) {
	if WriteBackFlushes == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	WriteBackFlushes.WithLabelValues(kind, result).Inc()
}

// SetPending records the write-back and delete backlog sizes.
func SetPending(writes, deletes int) {
	if PendingWriteBackGauge != nil {
		PendingWriteBackGauge.Set(float64(writes))
	}
	if PendingDeletesGauge != nil {
		PendingDeletesGauge.Set(float64(deletes))
	}
}

// SetSubscriptions records the number of memberships in a registry space.
func SetSubscriptions(space string, n int) {
	if SubscriptionsGauge != nil {
		SubscriptionsGauge.WithLabelValues(space).Set(float64(n))
	}
}

// SetSessions records how many sessions are in each state.
func SetSessions(counts map[string]int) {
	if SessionsGauge == nil {
		return
	}
	SessionsGauge.Reset()
	for state, n := range counts {
		SessionsGauge.WithLabelValues(state).Set(float64(n))
	}
}

// LastSeenPushed counts one coalesced last-seen push.
func LastSeenPushed() {
	if LastSeenPushes != nil {
		LastSeenPushes.Inc()
	}
}

// OutgoingMessage counts an outgoing message by result (sent, rate_limited, error).
func OutgoingMessage(result string) {
	if OutgoingMessages != nil {
		OutgoingMessages.WithLabelValues(result).Inc()
	}
}

// UpdateCircuitGauge sets gauge to 1 if open else 0.
func UpdateCircuitGauge(open bool) {
	if CircuitOpenGauge != nil {
		if open {
			CircuitOpenGauge.Set(1)
		} else {
			CircuitOpenGauge.Set(0)
		}
	}
}

// SetCircuitState records a breaker state by name (closed, half-open, open).
func SetCircuitState(state string) {
	if CircuitStateGauge == nil {
		return
	}
	switch state {
	case "closed":
		CircuitStateGauge.Set(0)
	case "half-open":
		CircuitStateGauge.Set(1)
	case "open":
		CircuitStateGauge.Set(2)
	}
}

// RecordCircuitStateChange counts a transition and updates the state gauges.
func RecordCircuitStateChange(from, to string) {
	if CircuitTransitions != nil {
		CircuitTransitions.WithLabelValues(from, to).Inc()
	}
	SetCircuitState(to)
	UpdateCircuitGauge(to == "open")
}

// IncrementCircuitFailures counts a storage failure seen by the breaker.
func IncrementCircuitFailures() {
	if CircuitFailures != nil {
		CircuitFailures.Inc()
	}
}

// UpdateDatabasePoolMetrics records database pool usage.
func UpdateDatabasePoolMetrics(open, inUse int) {
	if DBOpenConnections != nil {
		DBOpenConnections.Set(float64(open))
	}
	if DBInUseConnections != nil {
		DBInUseConnections.Set(float64(inUse))
	}
}

// TimeFunc measures the duration of fn and records in observer if non-nil.
func TimeFunc(obs prometheus.Observer, fn func()) time.Duration {
	start := time.Now()
	fn()
	d := time.Since(start)
	if obs != nil {
		obs.Observe(d.Seconds())
	}
	return d
}

// Correlation ID helpers ----------------------------------------------------
type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a new context embedding the correlation id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// GetCorrelation returns correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	v := ctx.Value(corrKey)
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// LoggerWithCorr returns a logger with corr attribute if present.
func LoggerWithCorr(ctx context.Context) *slog.Logger {
	if id := GetCorrelation(ctx); id != "" {
		return slog.Default().With(slog.String("corr", id))
	}
	return slog.Default()
}
