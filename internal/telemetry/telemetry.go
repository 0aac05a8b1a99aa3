// Package telemetry batches counter/gauge updates and applies them to a
// Prometheus registry at a fixed interval, modeling the "logging/metrics
// are clients of messages, never shared memory" boundary (spec.md §5) as a
// single-process in-memory queue instead of IPC.
package telemetry

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// delta is one queued metric mutation.
type delta struct {
	counter *prometheus.CounterVec
	gauge   *prometheus.GaugeVec
	labels  []string
	value   float64
	isGauge bool
}

// Batcher drains queued metric deltas at a fixed tick and applies them to
// the registered vectors, decoupling the hot trade path from Prometheus's
// own locking.
type Batcher struct {
	interval time.Duration

	mu     sync.Mutex
	queue  []delta
}

// NewBatcher creates a Batcher flushing every interval (spec.md §5: "metrics
// are batched at 100ms intervals to reduce IPC cost").
func NewBatcher(interval time.Duration) *Batcher {
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	return &Batcher{interval: interval}
}

// IncCounter queues a counter increment, applied on the next flush.
func (b *Batcher) IncCounter(c *prometheus.CounterVec, value float64, labels ...string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.queue = append(b.queue, delta{counter: c, labels: labels, value: value})
}

// SetGauge queues a gauge set, applied on the next flush.
func (b *Batcher) SetGauge(g *prometheus.GaugeVec, value float64, labels ...string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.queue = append(b.queue, delta{gauge: g, labels: labels, value: value, isGauge: true})
}

// Flush applies every queued delta immediately and clears the queue. Run is
// the normal entry point; Flush exists for deterministic tests and shutdown
// drains.
func (b *Batcher) Flush() {
	b.mu.Lock()
	pending := b.queue
	b.queue = nil
	b.mu.Unlock()

	for _, d := range pending {
		if d.isGauge {
			d.gauge.WithLabelValues(d.labels...).Set(d.value)
			continue
		}
		d.counter.WithLabelValues(d.labels...).Add(d.value)
	}
}

// Run flushes on every tick until ctx is cancelled, then performs one final
// drain so no queued delta is lost on cooperative shutdown (spec.md §5
// "Cancellation").
func (b *Batcher) Run(ctx context.Context) {
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			b.Flush()
			return
		case <-ticker.C:
			b.Flush()
		}
	}
}

// Registry holds the process's Prometheus vectors, grouped by the
// component that owns them (book health, signal manager stats).
type Registry struct {
	BookCircuitBreakerOpen *prometheus.GaugeVec
	BookErrorRate          *prometheus.GaugeVec
	BookStalenessMs        *prometheus.GaugeVec

	SignalsReceived  *prometheus.CounterVec
	SignalsConfirmed *prometheus.CounterVec
	SignalsRejected  *prometheus.CounterVec
	SignalsThrottled *prometheus.CounterVec
	SignalsDropped   *prometheus.CounterVec
	QueueDepth       *prometheus.GaugeVec
}

// NewRegistry constructs and registers every vector against reg.
func NewRegistry(reg prometheus.Registerer) *Registry {
	r := &Registry{
		BookCircuitBreakerOpen: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "orderflow_book_circuit_breaker_open",
			Help: "1 when the order book's circuit breaker is open, else 0.",
		}, []string{"symbol"}),
		BookErrorRate: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "orderflow_book_error_rate",
			Help: "Rolling error rate of depth-update application.",
		}, []string{"symbol"}),
		BookStalenessMs: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "orderflow_book_staleness_ms",
			Help: "Milliseconds since the book's last successfully applied update.",
		}, []string{"symbol"}),
		SignalsReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "orderflow_signals_received_total",
			Help: "Signal candidates received by the signal manager.",
		}, []string{"type"}),
		SignalsConfirmed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "orderflow_signals_confirmed_total",
			Help: "Signal candidates dispatched downstream.",
		}, []string{"type"}),
		SignalsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "orderflow_signals_rejected_total",
			Help: "Signal candidates rejected by confidence or conflict resolution.",
		}, []string{"type", "reason"}),
		SignalsThrottled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "orderflow_signals_throttled_total",
			Help: "Signal candidates dropped by per-symbol-per-side throttling.",
		}, []string{"type"}),
		SignalsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "orderflow_signals_dropped_total",
			Help: "Signal candidates dropped by backpressure or an open circuit breaker.",
		}, []string{"reason"}),
		QueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "orderflow_signal_queue_depth",
			Help: "Current occupancy of the signal manager's priority queue.",
		}, []string{"symbol"}),
	}
	reg.MustRegister(
		r.BookCircuitBreakerOpen, r.BookErrorRate, r.BookStalenessMs,
		r.SignalsReceived, r.SignalsConfirmed, r.SignalsRejected,
		r.SignalsThrottled, r.SignalsDropped, r.QueueDepth,
	)
	return r
}
