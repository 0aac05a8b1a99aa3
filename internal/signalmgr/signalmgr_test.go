package signalmgr

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CryptologySAC/OrderFlow-Trading-sub011/internal/detect/base"
	"github.com/CryptologySAC/OrderFlow-Trading-sub011/internal/storage"
	"github.com/CryptologySAC/OrderFlow-Trading-sub011/internal/zones"
)

type recordingConsumer struct {
	got []base.Candidate
}

func (c *recordingConsumer) Dispatch(cand base.Candidate) { c.got = append(c.got, cand) }

func testManager(cfg Config, consumer Consumer) *Manager {
	return New(cfg, "BTCUSDT", consumer, storage.NoopSink{}, nil, zerolog.Nop())
}

func TestAcceptRejectsBelowConfidenceThreshold(t *testing.T) {
	consumer := &recordingConsumer{}
	m := testManager(Config{
		MaxQueueSize:         10,
		ConfidenceThresholds: map[base.SignalType]float64{base.TypeAbsorption: 0.5},
	}, consumer)

	m.Accept(base.Candidate{Type: base.TypeAbsorption, Confidence: 0.2, TimestampMs: 1000})
	assert.Equal(t, uint64(1), m.Stats().RejectedConfidence)
}

func TestAcceptThrottlesSameSideWithinWindow(t *testing.T) {
	consumer := &recordingConsumer{}
	m := testManager(Config{
		MaxQueueSize:     10,
		SignalThrottleMs: 1000,
	}, consumer)

	m.Accept(base.Candidate{Type: base.TypeAbsorption, Side: zones.SideBuy, Confidence: 0.8, TimestampMs: 1000})
	m.Accept(base.Candidate{Type: base.TypeAbsorption, Side: zones.SideBuy, Confidence: 0.8, TimestampMs: 1200})
	assert.Equal(t, uint64(1), m.Stats().DroppedThrottle)
}

func TestConflictResolutionPenalizesWeakerContradictingSignal(t *testing.T) {
	consumer := &recordingConsumer{}
	m := testManager(Config{
		MaxQueueSize:               10,
		MinimumSeparationMs:        5000,
		PriceToleranceTicks:        10,
		ContradictionPenaltyFactor: 0.9,
		MinConfidenceAfterPenalty:  0.3,
	}, consumer)

	m.Accept(base.Candidate{Type: base.TypeAbsorption, Side: zones.SideBuy, PriceTicks: 1000, Confidence: 0.9, TimestampMs: 1000})
	m.Accept(base.Candidate{Type: base.TypeExhaustion, Side: zones.SideSell, PriceTicks: 1005, Confidence: 0.5, TimestampMs: 1100})
	assert.Equal(t, uint64(1), m.Stats().RejectedConflict)
}

func TestProcessBatchDispatchesInPriorityOrder(t *testing.T) {
	consumer := &recordingConsumer{}
	m := testManager(Config{
		MaxQueueSize:        10,
		ProcessingBatchSize: 10,
		BasePriority: map[base.SignalType]float64{
			base.TypeAbsorption: 0.9,
			base.TypeCVDConfirm: 0.1,
		},
		Matrix: PriorityMatrix{
			base.TypeAbsorption: {RegimeBalanced: 1.0},
			base.TypeCVDConfirm: {RegimeBalanced: 1.0},
		},
	}, consumer)

	m.Accept(base.Candidate{Type: base.TypeCVDConfirm, Confidence: 1.0, TimestampMs: 1000})
	m.Accept(base.Candidate{Type: base.TypeAbsorption, Confidence: 1.0, TimestampMs: 1001})

	n := m.ProcessBatch(context.Background())
	require.Equal(t, 2, n)
	require.Len(t, consumer.got, 2)
	assert.Equal(t, base.TypeAbsorption, consumer.got[0].Type, "higher priority dispatches first")
}

func TestBackpressureDropsLowPriorityUnderLoad(t *testing.T) {
	consumer := &recordingConsumer{}
	m := testManager(Config{
		MaxQueueSize:          5000,
		BackpressureThreshold: 4000,
		BasePriority:          map[base.SignalType]float64{base.TypeAbsorption: 0.5},
		Matrix:                PriorityMatrix{base.TypeAbsorption: {RegimeBalanced: 1.0}},
	}, consumer)

	for i := 0; i < 10000; i++ {
		m.Accept(base.Candidate{
			Type:        base.TypeAbsorption,
			Confidence:  0.5,
			TimestampMs: int64(i),
		})
	}
	stats := m.Stats()
	assert.LessOrEqual(t, len(m.queue), 5000)
	assert.Greater(t, stats.DroppedBackpressure, uint64(0))
	assert.Equal(t, uint64(10000), stats.Received)
}

func TestHighPriorityBypassesQueueOrdering(t *testing.T) {
	consumer := &recordingConsumer{}
	m := testManager(Config{
		MaxQueueSize:                10,
		HighPriorityBypassThreshold: 0.5,
		BasePriority:                map[base.SignalType]float64{base.TypeExhaustion: 1.0},
		Matrix:                      PriorityMatrix{base.TypeExhaustion: {RegimeBalanced: 1.0}},
	}, consumer)

	m.Accept(base.Candidate{Type: base.TypeExhaustion, Confidence: 1.0, TimestampMs: 1000})
	assert.Equal(t, 0, len(m.queue), "bypassed signal never touches the queue")
}
