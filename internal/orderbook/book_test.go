package orderbook

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CryptologySAC/OrderFlow-Trading-sub011/internal/fixedpoint"
)

func testBook(t *testing.T) *Book {
	t.Helper()
	cfg := DefaultConfig()
	cfg.TestOnlyDisableSequenceValidation = false
	b := New("BTCUSD", cfg, nil, zerolog.Nop())
	b.Recover(Snapshot{
		LastUpdateID: 100,
		Bids:         []LevelUpdate{{PriceTicks: 8900, Qty: 10}},
		Asks:         []LevelUpdate{{PriceTicks: 8905, Qty: 10}},
	})
	return b
}

func TestApplyInSequenceUpdatesBestLevels(t *testing.T) {
	b := testBook(t)
	err := b.ApplyDepthUpdate(DepthUpdate{
		FirstUpdateID: 101,
		FinalUpdateID: 101,
		Bids:          []LevelUpdate{{PriceTicks: 8901, Qty: 5}},
	})
	require.NoError(t, err)

	bid, ok := b.GetBestBid()
	require.True(t, ok)
	assert.Equal(t, fixedpoint.Ticks(8901), bid)
	assert.Equal(t, int64(101), b.LastUpdateID())

	ask, _ := b.GetBestAsk()
	assert.Less(t, int64(bid), int64(ask))
}

func TestStaleUpdateDiscarded(t *testing.T) {
	b := testBook(t)
	err := b.ApplyDepthUpdate(DepthUpdate{FirstUpdateID: 50, FinalUpdateID: 90})
	require.NoError(t, err)
	assert.Equal(t, int64(100), b.LastUpdateID())
}

func TestStaleUpdateCountsTowardErrorRate(t *testing.T) {
	b := testBook(t)
	require.Equal(t, float64(0), b.GetHealth().ErrorRate)

	require.NoError(t, b.ApplyDepthUpdate(DepthUpdate{FirstUpdateID: 50, FinalUpdateID: 90}))
	assert.Greater(t, b.GetHealth().ErrorRate, float64(0),
		"a stale rejection must be counted, not discarded silently")
}

func TestIdempotentDuplicateUpdate(t *testing.T) {
	b := testBook(t)
	u := DepthUpdate{FirstUpdateID: 101, FinalUpdateID: 101, Bids: []LevelUpdate{{PriceTicks: 8902, Qty: 7}}}
	require.NoError(t, b.ApplyDepthUpdate(u))
	bidAfterFirst, _ := b.GetBestBid()

	require.NoError(t, b.ApplyDepthUpdate(u)) // same u: stale, discarded
	bidAfterSecond, _ := b.GetBestBid()
	assert.Equal(t, bidAfterFirst, bidAfterSecond)
	assert.Equal(t, int64(101), b.LastUpdateID())
}

func TestSequenceGapEntersOutOfSync(t *testing.T) {
	b := testBook(t)
	err := b.ApplyDepthUpdate(DepthUpdate{FirstUpdateID: 150, FinalUpdateID: 160})
	assert.ErrorIs(t, err, ErrGap)
	assert.True(t, b.GetHealth().OutOfSync)
	assert.Equal(t, int64(100), b.LastUpdateID(), "discarded updates must not advance last_update_id")
}

func TestRecoverClearsOutOfSyncAndResetsLastUpdateID(t *testing.T) {
	b := testBook(t)
	_ = b.ApplyDepthUpdate(DepthUpdate{FirstUpdateID: 150, FinalUpdateID: 160}) // gap -> out of sync

	b.Recover(Snapshot{
		LastUpdateID: 140,
		Bids:         []LevelUpdate{{PriceTicks: 8950, Qty: 3}},
		Asks:         []LevelUpdate{{PriceTicks: 8955, Qty: 3}},
	})
	assert.False(t, b.GetHealth().OutOfSync)
	assert.Equal(t, int64(140), b.LastUpdateID())
}

func TestCrossedBookDropsOffendingSide(t *testing.T) {
	b := testBook(t)
	// bid jumps above the existing ask -> bid side is offending.
	err := b.ApplyDepthUpdate(DepthUpdate{
		FirstUpdateID: 101,
		FinalUpdateID: 101,
		Bids:          []LevelUpdate{{PriceTicks: 8910, Qty: 5}},
	})
	require.Error(t, err)

	bid, ok := b.GetBestBid()
	require.True(t, ok)
	assert.Equal(t, fixedpoint.Ticks(8900), bid, "offending bid must be dropped, original bid retained")
}

func TestPruneEvictsFarAndStaleLevels(t *testing.T) {
	b := testBook(t)
	cfg := b.cfg
	cfg.MaxPriceDistance = 20
	cfg.StaleThresholdMs = 1000
	b.cfg = cfg

	require.NoError(t, b.ApplyDepthUpdate(DepthUpdate{
		FirstUpdateID: 101, FinalUpdateID: 101,
		Bids:        []LevelUpdate{{PriceTicks: 8000, Qty: 1}}, // far from mid
		EventTimeMs: 1,
	}))
	b.Prune(100000)

	_, ok := b.GetLevel(8000)
	assert.False(t, ok)
	_, ok = b.GetLevel(8900)
	assert.True(t, ok)
}

func TestSumBand(t *testing.T) {
	b := testBook(t)
	require.NoError(t, b.ApplyDepthUpdate(DepthUpdate{
		FirstUpdateID: 101, FinalUpdateID: 101,
		Asks: []LevelUpdate{{PriceTicks: 8906, Qty: 4}},
	}))
	bidQty, askQty := b.SumBand(8905, 5)
	assert.Equal(t, fixedpoint.Ticks(10), bidQty)
	assert.Equal(t, fixedpoint.Ticks(14), askQty)
}
