// Package accumdist implements the accumulation/distribution detector
// (spec §4.6.3): sustained, time-bounded concentration of buying or
// selling in a tight price range with institutional-size trades.
package accumdist

import (
	"sort"

	"github.com/rs/zerolog"

	"github.com/CryptologySAC/OrderFlow-Trading-sub011/internal/detect/base"
	"github.com/CryptologySAC/OrderFlow-Trading-sub011/internal/fixedpoint"
	"github.com/CryptologySAC/OrderFlow-Trading-sub011/internal/preprocess"
	"github.com/CryptologySAC/OrderFlow-Trading-sub011/internal/zones"
)

// Config holds every tunable gate threshold from spec §4.6.3.
type Config struct {
	EventCooldownMs         int64            `yaml:"event_cooldown_ms"`
	MinDurationMs           int64            `yaml:"min_duration_ms"`
	MinZoneVolume           fixedpoint.Ticks `yaml:"min_zone_volume"`
	MinTradeCount           int64            `yaml:"min_trade_count"`
	MaxZoneWidth            float64          `yaml:"max_zone_width"` // fraction of price
	MinBuyRatio             float64          `yaml:"min_buy_ratio"`
	MinSellRatio            float64          `yaml:"min_sell_ratio"`
	InstitutionalThreshold  fixedpoint.Ticks `yaml:"institutional_threshold"`
	MinRecentActivityMs     int64            `yaml:"min_recent_activity_ms"`
	ZoneTimeoutMs           int64            `yaml:"zone_timeout_ms"`
	MergeTolerancePct       float64          `yaml:"merge_tolerance_pct"`
	StrengthChangeThreshold float64          `yaml:"strength_change_threshold"`
}

// candidate is a per-price-level accumulation/distribution candidate being
// tracked prior to (and after) promotion.
type candidate struct {
	zoneID        int64
	centerPrice   fixedpoint.Ticks
	minPrice      fixedpoint.Ticks
	maxPrice      fixedpoint.Ticks
	buyVolume     fixedpoint.Ticks
	sellVolume    fixedpoint.Ticks
	tradeCount    int64
	totalOrderQty fixedpoint.Ticks
	startTimeMs   int64
	lastUpdateMs  int64
	promoted      bool
	lastStrength  float64
}

func (c *candidate) totalVolume() fixedpoint.Ticks { return c.buyVolume + c.sellVolume }

func (c *candidate) averageOrderSize() float64 {
	if c.tradeCount == 0 {
		return 0
	}
	return float64(c.totalOrderQty) / float64(c.tradeCount)
}

func (c *candidate) priceRangeWidth() float64 {
	return fixedpoint.SafeDivide(float64(c.maxPrice-c.minPrice), float64(c.centerPrice), 0)
}

// Detector is the accumulation/distribution stateful detector.
type Detector struct {
	cfg      Config
	cooldown *base.Cooldown
	emitter  *base.Emitter
	gate     base.TraditionalGate

	candidates map[int64]*candidate
}

// New constructs an accumulation/distribution detector.
func New(cfg Config, detectorID string, sink base.Sink, gate base.TraditionalGate, log zerolog.Logger) *Detector {
	return &Detector{
		cfg:        cfg,
		cooldown:   base.NewCooldown(cfg.EventCooldownMs),
		emitter:    base.NewEmitter(detectorID, sink, log),
		gate:       gate,
		candidates: make(map[int64]*candidate),
	}
}

// OnTrade feeds one enriched trade through the accumulation/distribution
// pipeline, returning the threshold record for the zone the trade promoted
// or attempted to promote, if any.
func (d *Detector) OnTrade(et preprocess.EnrichedTrade) (base.ThresholdRecord, bool) {
	d.evictStale(et.TimestampMs)

	zID := et.OwnZoneID

	c, ok := d.findMergeTarget(zID, et.PriceTicks)
	if !ok {
		c = &candidate{
			zoneID:      zID,
			centerPrice: et.PriceTicks,
			minPrice:    et.PriceTicks,
			maxPrice:    et.PriceTicks,
			startTimeMs: et.TimestampMs,
		}
		d.candidates[zID] = c
	}

	sinceLastUpdateMs := et.TimestampMs - c.lastUpdateMs
	if c.tradeCount == 0 {
		sinceLastUpdateMs = 0
	}

	if et.PriceTicks < c.minPrice {
		c.minPrice = et.PriceTicks
	}
	if et.PriceTicks > c.maxPrice {
		c.maxPrice = et.PriceTicks
	}
	if et.Side() == zones.SideBuy {
		c.buyVolume += et.QtyTicks
	} else {
		c.sellVolume += et.QtyTicks
	}
	c.tradeCount++
	c.totalOrderQty += et.QtyTicks
	c.lastUpdateMs = et.TimestampMs

	rec := make(base.ThresholdRecord)
	lifetimeMs := float64(et.TimestampMs - c.startTimeMs)
	rec.Add("min_duration_ms", base.OpGTE, lifetimeMs, float64(d.cfg.MinDurationMs))
	rec.Add("min_zone_volume", base.OpGTE, float64(c.totalVolume()), float64(d.cfg.MinZoneVolume))
	rec.Add("min_trade_count", base.OpGTE, float64(c.tradeCount), float64(d.cfg.MinTradeCount))
	rec.Add("max_zone_width", base.OpLTE, c.priceRangeWidth(), d.cfg.MaxZoneWidth)
	rec.Add("recent_activity", base.OpLTE, float64(sinceLastUpdateMs), float64(d.cfg.MinRecentActivityMs))

	buyRatio := fixedpoint.SafeDivide(float64(c.buyVolume), float64(c.totalVolume()), 0)
	sellRatio := fixedpoint.SafeDivide(float64(c.sellVolume), float64(c.totalVolume()), 0)

	isAccumulation := buyRatio >= d.cfg.MinBuyRatio
	isDistribution := sellRatio >= d.cfg.MinSellRatio

	if isAccumulation {
		rec.Add("buy_ratio", base.OpGTE, buyRatio, d.cfg.MinBuyRatio)
		rec.Add("sell_ratio_bound", base.OpLTE, sellRatio, 1-d.cfg.MinBuyRatio)
	} else {
		rec.Add("sell_ratio", base.OpGTE, sellRatio, d.cfg.MinSellRatio)
		rec.Add("buy_ratio_bound", base.OpLTE, buyRatio, 1-d.cfg.MinSellRatio)
	}

	instContribution := 0.0
	if d.cfg.InstitutionalThreshold > 0 && c.averageOrderSize() >= float64(d.cfg.InstitutionalThreshold) {
		instContribution = 1.0
	}

	strength := fixedpoint.Clamp(0.5*maxRatio(buyRatio, sellRatio)+0.3*volumeSurgeFactor(c, d.cfg)+0.2*instContribution, 0, 1)
	strengthDelta := strength - c.lastStrength
	if strengthDelta < 0 {
		strengthDelta = -strengthDelta
	}
	c.lastStrength = strength

	if c.promoted || !rec.AllPassed() {
		return rec, false
	}

	side := zones.SideBuy
	sigType := base.TypeAccumulation
	if isDistribution && !isAccumulation {
		side = zones.SideSell
		sigType = base.TypeDistribution
	} else if !isAccumulation && !isDistribution {
		return rec, false
	}

	var gateVerdict base.GateVerdict
	if d.gate != nil {
		gateVerdict = d.gate.Evaluate(side, et.PriceTicks)
		if gateVerdict.Filtered {
			return rec, false
		}
	}

	key := base.CooldownKey{DetectorID: string(sigType), ZoneID: &c.zoneID}
	if !d.cooldown.CanEmit(key, et.TimestampMs, true) {
		return rec, false
	}

	c.promoted = true
	d.emitter.Emit(base.Candidate{
		Type:        sigType,
		Side:        side,
		PriceTicks:  c.centerPrice,
		Confidence:  strength,
		TimestampMs: et.TimestampMs,
		Gate:        gateVerdict,
		Thresholds:  rec,
		Metadata: map[string]float64{
			"buy_ratio":          buyRatio,
			"sell_ratio":         sellRatio,
			"strength":           strength,
			"strength_delta":     strengthDelta,
			"average_order_size": c.averageOrderSize(),
		},
	})
	return rec, true
}

func maxRatio(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func volumeSurgeFactor(c *candidate, cfg Config) float64 {
	if cfg.MinZoneVolume <= 0 {
		return 0
	}
	return fixedpoint.Clamp(fixedpoint.SafeDivide(float64(c.totalVolume()), float64(cfg.MinZoneVolume), 0)-1, 0, 1)
}

// findMergeTarget returns an existing candidate whose price range, widened
// by the configured merge tolerance, contains price — the promotion-time
// merge rule from spec §4.6.3 ("a new candidate ... updates the existing
// zone in place").
func (d *Detector) findMergeTarget(zoneID int64, price fixedpoint.Ticks) (*candidate, bool) {
	if c, ok := d.candidates[zoneID]; ok {
		return c, true
	}
	ids := make([]int64, 0, len(d.candidates))
	for id := range d.candidates {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	tolerance := fixedpoint.Ticks(0)
	for _, id := range ids {
		c := d.candidates[id]
		if d.cfg.MergeTolerancePct > 0 {
			tolerance = fixedpoint.Ticks(float64(c.centerPrice) * d.cfg.MergeTolerancePct)
		}
		if price >= c.minPrice-tolerance && price <= c.maxPrice+tolerance {
			return c, true
		}
	}
	return nil, false
}

func (d *Detector) evictStale(nowMs int64) {
	if d.cfg.ZoneTimeoutMs <= 0 {
		return
	}
	for id, c := range d.candidates {
		if nowMs-c.lastUpdateMs > d.cfg.ZoneTimeoutMs {
			delete(d.candidates, id)
		}
	}
}
