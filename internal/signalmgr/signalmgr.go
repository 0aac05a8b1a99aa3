// Package signalmgr implements the signal manager (C9): confidence
// filtering, correlation/conflict resolution, a prioritized bounded queue
// with backpressure, throttling, a processing circuit breaker, and
// dispatch to downstream consumers and the archival sink.
package signalmgr

import (
	"container/heap"
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"github.com/CryptologySAC/OrderFlow-Trading-sub011/internal/detect/base"
	"github.com/CryptologySAC/OrderFlow-Trading-sub011/internal/fixedpoint"
	"github.com/CryptologySAC/OrderFlow-Trading-sub011/internal/storage"
	"github.com/CryptologySAC/OrderFlow-Trading-sub011/internal/telemetry"
	"github.com/CryptologySAC/OrderFlow-Trading-sub011/internal/zones"
)

// Regime is the volatility-derived priority-matrix dimension (spec.md §4.8
// "priority matrix"). The manager itself does not compute volatility: the
// regime is whatever the caller last passed to SetRegime.
type Regime string

const (
	RegimeHighVolatility Regime = "high_volatility"
	RegimeLowVolatility  Regime = "low_volatility"
	RegimeBalanced       Regime = "balanced"
)

// PriorityMatrix maps (signal type, regime) to a weight in [0,1].
type PriorityMatrix map[base.SignalType]map[Regime]float64

// DefaultPriorityMatrix favors CVD/exhaustion under high volatility and
// absorption/accumulation/distribution under low volatility, per spec.md
// §4.8.
func DefaultPriorityMatrix() PriorityMatrix {
	return PriorityMatrix{
		base.TypeAbsorption:   {RegimeHighVolatility: 0.5, RegimeLowVolatility: 1.0, RegimeBalanced: 0.8},
		base.TypeExhaustion:   {RegimeHighVolatility: 1.0, RegimeLowVolatility: 0.5, RegimeBalanced: 0.8},
		base.TypeAccumulation: {RegimeHighVolatility: 0.5, RegimeLowVolatility: 1.0, RegimeBalanced: 0.8},
		base.TypeDistribution: {RegimeHighVolatility: 0.5, RegimeLowVolatility: 1.0, RegimeBalanced: 0.8},
		base.TypeCVDConfirm:   {RegimeHighVolatility: 1.0, RegimeLowVolatility: 0.6, RegimeBalanced: 0.8},
	}
}

// DefaultBasePriority assigns each signal type a static base priority.
func DefaultBasePriority() map[base.SignalType]float64 {
	return map[base.SignalType]float64{
		base.TypeAbsorption:   0.7,
		base.TypeExhaustion:   0.9,
		base.TypeAccumulation: 0.6,
		base.TypeDistribution: 0.6,
		base.TypeCVDConfirm:   0.8,
	}
}

// Config governs every tunable of the signal manager, spec.md §4.8 and §6.
type Config struct {
	MaxQueueSize                int     `yaml:"max_queue_size"`
	ProcessingBatchSize         int     `yaml:"processing_batch_size"`
	BackpressureThreshold       int     `yaml:"backpressure_threshold"`
	AdaptiveBatchSizing         bool    `yaml:"adaptive_batch_sizing"`
	MaxAdaptiveBatchSize        int     `yaml:"max_adaptive_batch_size"`
	HighPriorityBypassThreshold float64 `yaml:"high_priority_bypass_threshold"`

	SignalThrottleMs int64 `yaml:"signal_throttle_ms"`

	MinimumSeparationMs        int64            `yaml:"minimum_separation_ms"`
	PriceToleranceTicks        fixedpoint.Ticks `yaml:"price_tolerance_ticks"`
	ContradictionPenaltyFactor float64          `yaml:"contradiction_penalty_factor"`
	MinConfidenceAfterPenalty  float64          `yaml:"min_confidence_after_penalty"`

	CircuitBreakerThreshold uint32 `yaml:"circuit_breaker_threshold"`
	CircuitBreakerResetMs   int64  `yaml:"circuit_breaker_reset_ms"`

	ConfidenceThresholds map[base.SignalType]float64 `yaml:"confidence_thresholds"`
	BasePriority         map[base.SignalType]float64 `yaml:"base_priority"`
	Matrix               PriorityMatrix              `yaml:"priority_matrix"`

	Redis RedisConfig `yaml:"redis"`
}

// Stats tallies the manager's lifetime counters (spec.md §4.8 "Statistics").
type Stats struct {
	Received            uint64
	Confirmed           uint64
	RejectedConfidence  uint64
	RejectedConflict    uint64
	DroppedThrottle     uint64
	DroppedBackpressure uint64
	DroppedCircuitOpen  uint64
	PerDetector         map[string]uint64
}

// item is one entry in the bounded priority queue.
type item struct {
	candidate base.Candidate
	priority  float64
	seq       int64
}

type pqueue []*item

func (q pqueue) Len() int            { return len(q) }
func (q pqueue) Less(i, j int) bool  { return q[i].priority > q[j].priority }
func (q pqueue) Swap(i, j int)       { q[i], q[j] = q[j], q[i] }
func (q *pqueue) Push(x interface{}) { *q = append(*q, x.(*item)) }
func (q *pqueue) Pop() interface{} {
	old := *q
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return it
}

// lowestPriority returns the smallest priority currently queued, used by
// backpressure to decide whether an incoming low-priority item is worth
// admitting while the queue is under pressure.
func (q pqueue) lowestPriority() float64 {
	if len(q) == 0 {
		return 0
	}
	min := q[0].priority
	for _, it := range q {
		if it.priority < min {
			min = it.priority
		}
	}
	return min
}

type acceptedRecord struct {
	side        zones.Side
	price       fixedpoint.Ticks
	confidence  float64
	timestampMs int64
}

// Consumer receives signals the manager has fully accepted and dispatched.
type Consumer interface {
	Dispatch(base.Candidate)
}

// Manager is the C9 signal manager. One Manager instance serves a single
// trading symbol, matching the rest of the pipeline's per-symbol scoping.
type Manager struct {
	mu sync.Mutex

	cfg    Config
	queue  pqueue
	seq    int64
	regime Regime

	lastEmitBySide map[zones.Side]int64
	recent         []acceptedRecord

	breaker  *gobreaker.CircuitBreaker
	sink     storage.CandidateSink
	consumer Consumer
	metrics  *telemetry.Registry
	symbol   string
	dedup    *RedisDedup

	stats Stats
	log   zerolog.Logger
}

// New constructs a Manager. sink may be storage.NoopSink{}; metrics may be
// nil to disable Prometheus updates (tests).
func New(cfg Config, symbol string, consumer Consumer, sink storage.CandidateSink, metrics *telemetry.Registry, log zerolog.Logger) *Manager {
	if cfg.ProcessingBatchSize <= 0 {
		cfg.ProcessingBatchSize = 50
	}
	if cfg.BasePriority == nil {
		cfg.BasePriority = DefaultBasePriority()
	}
	if cfg.Matrix == nil {
		cfg.Matrix = DefaultPriorityMatrix()
	}
	if cfg.ConfidenceThresholds == nil {
		cfg.ConfidenceThresholds = map[base.SignalType]float64{}
	}
	m := &Manager{
		cfg:            cfg,
		regime:         RegimeBalanced,
		lastEmitBySide: make(map[zones.Side]int64),
		sink:           sink,
		consumer:       consumer,
		metrics:        metrics,
		symbol:         symbol,
		stats:          Stats{PerDetector: make(map[string]uint64)},
		log:            log.With().Str("component", "signalmgr").Str("symbol", symbol).Logger(),
	}
	settings := gobreaker.Settings{
		Name: "signalmgr-" + symbol,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return cfg.CircuitBreakerThreshold > 0 && counts.ConsecutiveFailures >= cfg.CircuitBreakerThreshold
		},
		Timeout: time.Duration(cfg.CircuitBreakerResetMs) * time.Millisecond,
	}
	m.breaker = gobreaker.NewCircuitBreaker(settings)
	if cfg.Redis.Enabled {
		ttl := time.Duration(cfg.Redis.DedupTTLMs) * time.Millisecond
		if ttl <= 0 {
			ttl = time.Duration(cfg.MinimumSeparationMs) * time.Millisecond
		}
		m.dedup = NewRedisDedup(cfg.Redis.Addr, "signalmgr:"+symbol, ttl)
	}
	return m
}

// Close releases resources the Manager owns, currently just the optional
// Redis dedup connection.
func (m *Manager) Close() error {
	if m.dedup != nil {
		return m.dedup.Close()
	}
	return nil
}

// SetRegime updates the volatility regime used for priority-matrix lookups.
func (m *Manager) SetRegime(r Regime) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.regime = r
}

// Stats returns a snapshot of the manager's counters.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.stats
	out.PerDetector = make(map[string]uint64, len(m.stats.PerDetector))
	for k, v := range m.stats.PerDetector {
		out.PerDetector[k] = v
	}
	return out
}

// Accept implements base.Sink: it filters, throttles, resolves conflicts,
// prioritizes and enqueues (or immediately dispatches) one candidate.
func (m *Manager) Accept(c base.Candidate) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.stats.Received++
	m.stats.PerDetector[c.DetectorID]++

	if m.breaker.State() == gobreaker.StateOpen {
		m.stats.DroppedCircuitOpen++
		m.log.Warn().Str("reason", "circuit_open").Msg("signal dropped")
		return
	}

	if threshold, ok := m.cfg.ConfidenceThresholds[c.Type]; ok && c.Confidence < threshold {
		m.stats.RejectedConfidence++
		return
	}

	if m.dedup != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
		seen := m.dedup.Seen(ctx, c)
		cancel()
		if seen {
			m.stats.RejectedConflict++
			return
		}
	}

	if m.cfg.SignalThrottleMs > 0 {
		if last, ok := m.lastEmitBySide[c.Side]; ok && c.TimestampMs-last < m.cfg.SignalThrottleMs {
			m.stats.DroppedThrottle++
			return
		}
	}

	confidence := c.Confidence
	if m.cfg.MinimumSeparationMs > 0 {
		confidence = m.resolveConflictsLocked(c)
		if confidence < 0 {
			m.stats.RejectedConflict++
			return
		}
	}
	c.Confidence = confidence

	priority := m.priorityLocked(c)

	m.lastEmitBySide[c.Side] = c.TimestampMs
	m.recent = append(m.recent, acceptedRecord{
		side: c.Side, price: c.PriceTicks, confidence: c.Confidence, timestampMs: c.TimestampMs,
	})
	m.pruneRecentLocked(c.TimestampMs)

	if m.cfg.HighPriorityBypassThreshold > 0 && priority >= m.cfg.HighPriorityBypassThreshold {
		m.dispatchAsync(c)
		return
	}

	if m.cfg.BackpressureThreshold > 0 && len(m.queue) >= m.cfg.BackpressureThreshold {
		if priority <= m.queue.lowestPriority() {
			m.stats.DroppedBackpressure++
			return
		}
	}

	if m.cfg.MaxQueueSize > 0 && len(m.queue) >= m.cfg.MaxQueueSize {
		m.stats.DroppedBackpressure++
		return
	}

	m.seq++
	heap.Push(&m.queue, &item{candidate: c, priority: priority, seq: m.seq})
	if m.metrics != nil {
		m.metrics.QueueDepth.WithLabelValues(m.symbol).Set(float64(len(m.queue)))
	}
}

// resolveConflictsLocked checks c against recently accepted opposite-side
// candidates at a nearby price and applies the confidence-weighted
// resolution policy. Returns -1 when c should be dropped.
func (m *Manager) resolveConflictsLocked(c base.Candidate) float64 {
	for _, r := range m.recent {
		if c.TimestampMs-r.timestampMs > m.cfg.MinimumSeparationMs {
			continue
		}
		if r.side == c.Side {
			continue
		}
		dist := c.PriceTicks - r.price
		if dist < 0 {
			dist = -dist
		}
		if dist > m.cfg.PriceToleranceTicks {
			continue
		}
		if c.Confidence <= r.confidence {
			penalized := c.Confidence * (1 - m.cfg.ContradictionPenaltyFactor)
			if penalized < m.cfg.MinConfidenceAfterPenalty {
				return -1
			}
			return penalized
		}
	}
	return c.Confidence
}

func (m *Manager) pruneRecentLocked(nowMs int64) {
	cutoff := nowMs - m.cfg.MinimumSeparationMs
	i := 0
	for i < len(m.recent) && m.recent[i].timestampMs < cutoff {
		i++
	}
	if i > 0 {
		m.recent = m.recent[i:]
	}
}

func (m *Manager) priorityLocked(c base.Candidate) float64 {
	basePriority := m.cfg.BasePriority[c.Type]
	weight := 1.0
	if row, ok := m.cfg.Matrix[c.Type]; ok {
		if w, ok := row[m.regime]; ok {
			weight = w
		}
	}
	return fixedpoint.Clamp(basePriority*weight*c.Confidence, 0, 1)
}

// ProcessBatch pulls up to the configured batch size (adaptively grown
// under load, if enabled) and dispatches each in priority order.
func (m *Manager) ProcessBatch(ctx context.Context) int {
	m.mu.Lock()
	batchSize := m.cfg.ProcessingBatchSize
	if m.cfg.AdaptiveBatchSizing && m.cfg.BackpressureThreshold > 0 && len(m.queue) > m.cfg.BackpressureThreshold {
		batchSize = m.cfg.MaxAdaptiveBatchSize
		if batchSize <= 0 {
			batchSize = m.cfg.ProcessingBatchSize * 2
		}
	}
	batch := make([]*item, 0, batchSize)
	for len(batch) < batchSize && m.queue.Len() > 0 {
		batch = append(batch, heap.Pop(&m.queue).(*item))
	}
	if m.metrics != nil {
		m.metrics.QueueDepth.WithLabelValues(m.symbol).Set(float64(len(m.queue)))
	}
	m.mu.Unlock()

	for _, it := range batch {
		m.dispatch(ctx, it.candidate)
	}
	return len(batch)
}

func (m *Manager) dispatchAsync(c base.Candidate) {
	go m.dispatch(context.Background(), c)
}

func (m *Manager) dispatch(ctx context.Context, c base.Candidate) {
	_, err := m.breaker.Execute(func() (interface{}, error) {
		if m.sink != nil {
			return nil, m.sink.Write(ctx, c)
		}
		return nil, nil
	})
	m.mu.Lock()
	if err != nil && !errors.Is(err, gobreaker.ErrOpenState) {
		m.log.Error().Err(err).Msg("archival write failed")
	}
	m.stats.Confirmed++
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.SignalsConfirmed.WithLabelValues(string(c.Type)).Inc()
	}
	if m.consumer != nil {
		m.consumer.Dispatch(c)
	}
}
