package absorption

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CryptologySAC/OrderFlow-Trading-sub011/internal/detect/base"
	"github.com/CryptologySAC/OrderFlow-Trading-sub011/internal/fixedpoint"
	"github.com/CryptologySAC/OrderFlow-Trading-sub011/internal/orderbook"
	"github.com/CryptologySAC/OrderFlow-Trading-sub011/internal/preprocess"
	"github.com/CryptologySAC/OrderFlow-Trading-sub011/internal/zones"
)

type recordingSink struct {
	got []base.Candidate
}

func (s *recordingSink) Accept(c base.Candidate) { s.got = append(s.got, c) }

func newHarness(t *testing.T) (*preprocess.Preprocessor, *orderbook.Book) {
	t.Helper()
	book := orderbook.New("BTCUSDT", orderbook.DefaultConfig(), nil, zerolog.Nop())
	book.Recover(orderbook.Snapshot{
		LastUpdateID: 1,
		Bids:         []orderbook.LevelUpdate{{PriceTicks: 8900, Qty: 10000}},
		Asks:         []orderbook.LevelUpdate{{PriceTicks: 8905, Qty: 5000}},
	})
	zoneStore := zones.NewStore(zones.Config{
		ZoneTicks:        10,
		RetentionMs:      600000,
		MaxTradesPerZone: 10,
		MaxZoneHistory:   100,
		LargeTradeThresh: 1000,
	})
	p := preprocess.New(preprocess.Config{
		BandTicks:                 5,
		ZoneCalculationRangeTicks: 1,
		LargeTradeThreshold:       1000,
	}, book, zoneStore)
	return p, book
}

func seedScenario(t *testing.T) []preprocess.EnrichedTrade {
	t.Helper()
	p, _ := newHarness(t)
	qtys := []fixedpoint.Ticks{18, 16, 20, 15}
	out := make([]preprocess.EnrichedTrade, 0, len(qtys))
	for i, q := range qtys {
		et, err := p.Process(preprocess.RawTrade{
			TradeID:      int64(i + 1),
			PriceTicks:   8905,
			QtyTicks:     q,
			TimestampMs:  int64(1000 * (i + 1)),
			BuyerIsMaker: false,
		})
		require.NoError(t, err)
		out = append(out, et)
	}
	return out
}

func TestAbsorptionZoneAggregateMatchesWorkedExample(t *testing.T) {
	trades := seedScenario(t)
	last := trades[len(trades)-1]
	require.Len(t, last.ZoneData, 1)
	assert.Equal(t, fixedpoint.Ticks(69), last.ZoneData[0].AggressiveBuyVol)
	assert.Equal(t, int64(4), last.ZoneData[0].TradeCount)
}

func TestAbsorptionEmitsOnceAndRespectsCooldown(t *testing.T) {
	trades := seedScenario(t)
	sink := &recordingSink{}
	d := New(Config{
		EventCooldownMs:            5000,
		MinAggVolume:               50,
		PassiveAbsorptionThreshold: 0.9,
		PriceEfficiencyThreshold:   1.0,
		ExpectedMoveFactor:         1.0,
		SpreadImpactThreshold:      1.0,
		FinalConfidenceRequired:    0.1,
	}, "absorption-test", sink, nil, zerolog.Nop())

	for _, et := range trades {
		d.OnTrade(et)
	}
	assert.LessOrEqual(t, len(sink.got), 1, "at most one signal across the whole sequence given the cooldown key")

	if len(sink.got) == 1 {
		dup, err := sinkedDuplicate(trades[len(trades)-1])
		require.NoError(t, err)
		before := len(sink.got)
		d.OnTrade(dup)
		assert.Equal(t, before, len(sink.got), "identical trade within cooldown must not re-emit")
	}
}

func sinkedDuplicate(et preprocess.EnrichedTrade) (preprocess.EnrichedTrade, error) {
	dup := et
	dup.TimestampMs = et.TimestampMs + 100
	return dup, nil
}

func TestAbsorptionRecordsFullThresholdSetOnRejection(t *testing.T) {
	trades := seedScenario(t)
	sink := &recordingSink{}
	d := New(Config{
		EventCooldownMs:            5000,
		MinAggVolume:               10000, // unreachable, forces rejection
		PassiveAbsorptionThreshold: 0.9,
		PriceEfficiencyThreshold:   1.0,
		ExpectedMoveFactor:         1.0,
		SpreadImpactThreshold:      1.0,
		FinalConfidenceRequired:    0.1,
	}, "absorption-test", sink, nil, zerolog.Nop())

	rec, emitted := d.OnTrade(trades[0])
	assert.False(t, emitted)
	assert.Empty(t, sink.got)
	_, ok := rec["min_agg_volume"]
	assert.True(t, ok, "rejected candidates still record every threshold check")
}
