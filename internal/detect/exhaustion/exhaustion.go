// Package exhaustion implements the exhaustion detector (spec §4.6.2):
// passive liquidity on one side progressively depleted without refill,
// signaling failure of the prevailing direction.
package exhaustion

import (
	"github.com/rs/zerolog"

	"github.com/CryptologySAC/OrderFlow-Trading-sub011/internal/detect/base"
	"github.com/CryptologySAC/OrderFlow-Trading-sub011/internal/fixedpoint"
	"github.com/CryptologySAC/OrderFlow-Trading-sub011/internal/preprocess"
	"github.com/CryptologySAC/OrderFlow-Trading-sub011/internal/rollwin"
	"github.com/CryptologySAC/OrderFlow-Trading-sub011/internal/zones"
)

// Config holds every tunable gate threshold from spec §4.6.2.
type Config struct {
	EventCooldownMs              int64            `yaml:"event_cooldown_ms"`
	MinAggVolume                 fixedpoint.Ticks `yaml:"min_agg_volume"`
	PassiveRatioBalanceThreshold float64          `yaml:"passive_ratio_balance_threshold"`
	ExhaustionThreshold          float64          `yaml:"exhaustion_threshold"`
	MinZoneConfluenceCount       int              `yaml:"min_zone_confluence_count"`
	MaxZoneConfluenceDistance    fixedpoint.Ticks `yaml:"max_zone_confluence_distance"`
	PassiveHistoryWindow         int              `yaml:"passive_history_window"`
}

// sideTracker holds the peak-and-decline bookkeeping for one book side's
// passive volume, used to compute depletion_ratio / depletion_velocity.
type sideTracker struct {
	peak    fixedpoint.Ticks
	history *rollwin.Window[float64]
}

func newSideTracker(window int) *sideTracker {
	return &sideTracker{history: rollwin.New[float64](window)}
}

// observe folds a new passive-volume reading in and reports the depletion
// ratio (consumed fraction of the peak observed so far) and the velocity
// (change since the previous reading).
func (s *sideTracker) observe(v fixedpoint.Ticks) (ratio, velocity float64) {
	if v > s.peak {
		s.peak = v
	}
	prev := float64(v)
	if vals := s.history.Values(); len(vals) > 0 {
		prev = vals[len(vals)-1]
	}
	s.history.Push(float64(v))
	velocity = float64(v) - prev
	ratio = fixedpoint.SafeDivide(float64(s.peak-v), float64(s.peak), 0)
	return ratio, velocity
}

// monotoneDecline reports whether the tracked history is non-increasing
// across its full window, i.e. no refill interrupted the depletion.
func (s *sideTracker) monotoneDecline() bool {
	vals := s.history.Values()
	for i := 1; i < len(vals); i++ {
		if vals[i] > vals[i-1] {
			return false
		}
	}
	return len(vals) >= 2
}

// Detector is the exhaustion stateful detector.
type Detector struct {
	cfg      Config
	cooldown *base.Cooldown
	emitter  *base.Emitter
	gate     base.TraditionalGate

	bidTracker *sideTracker
	askTracker *sideTracker
}

// New constructs an exhaustion detector.
func New(cfg Config, detectorID string, sink base.Sink, gate base.TraditionalGate, log zerolog.Logger) *Detector {
	if cfg.PassiveHistoryWindow <= 0 {
		cfg.PassiveHistoryWindow = 10
	}
	if cfg.MinZoneConfluenceCount <= 0 {
		cfg.MinZoneConfluenceCount = 1
	}
	return &Detector{
		cfg:        cfg,
		cooldown:   base.NewCooldown(cfg.EventCooldownMs),
		emitter:    base.NewEmitter(detectorID, sink, log),
		gate:       gate,
		bidTracker: newSideTracker(cfg.PassiveHistoryWindow),
		askTracker: newSideTracker(cfg.PassiveHistoryWindow),
	}
}

// OnTrade feeds one enriched trade through the exhaustion pipeline.
func (d *Detector) OnTrade(et preprocess.EnrichedTrade) (base.ThresholdRecord, bool) {
	side := et.Side()

	confluence := zones.FindZonesNearPrice(toZoneSlice(et), et.PriceTicks, d.cfg.MaxZoneConfluenceDistance)

	var directionalAgg, directionalPassive fixedpoint.Ticks
	for _, z := range confluence {
		if side == zones.SideBuy {
			directionalAgg += z.AggressiveBuyVol
			directionalPassive += z.PassiveAskVol
		} else {
			directionalAgg += z.AggressiveSellVol
			directionalPassive += z.PassiveBidVol
		}
	}

	bidRatio, bidVelocity := d.bidTracker.observe(et.PassiveBidVol)
	askRatio, askVelocity := d.askTracker.observe(et.PassiveAskVol)

	rec := make(base.ThresholdRecord)
	rec.Add("min_agg_volume", base.OpGTE, float64(directionalAgg), float64(d.cfg.MinAggVolume))

	accumulatedPassiveRatio := fixedpoint.SafeDivide(
		float64(directionalPassive), float64(directionalAgg+directionalPassive), 0)
	rec.Add("passive_ratio_balance", base.OpLTE, accumulatedPassiveRatio, d.cfg.PassiveRatioBalanceThreshold)

	bidDepleted := d.bidTracker.monotoneDecline() && bidRatio >= d.cfg.ExhaustionThreshold
	askDepleted := d.askTracker.monotoneDecline() && askRatio >= d.cfg.ExhaustionThreshold

	depletionRatio := bidRatio
	if askRatio > depletionRatio {
		depletionRatio = askRatio
	}
	rec.Add("depletion_ratio", base.OpGTE, depletionRatio, d.cfg.ExhaustionThreshold)
	rec.Add("zone_confluence_count", base.OpGTE, float64(len(confluence)), float64(d.cfg.MinZoneConfluenceCount))

	if bidDepleted && askDepleted {
		// Both sides depleted simultaneously: direction is ambiguous, no signal.
		return rec, false
	}

	var candidateSide zones.Side
	switch {
	case bidDepleted:
		candidateSide = zones.SideBuy
	case askDepleted:
		candidateSide = zones.SideSell
	default:
		return rec, false
	}

	if !rec.AllPassed() {
		return rec, false
	}

	var gateVerdict base.GateVerdict
	if d.gate != nil {
		gateVerdict = d.gate.Evaluate(candidateSide, et.PriceTicks)
		if gateVerdict.Filtered {
			return rec, false
		}
	}

	key := base.CooldownKey{DetectorID: "exhaustion"}
	if !d.cooldown.CanEmit(key, et.TimestampMs, true) {
		return rec, false
	}

	confidence := fixedpoint.Clamp(depletionRatio, 0, 1)
	d.emitter.Emit(base.Candidate{
		Type:        base.TypeExhaustion,
		Side:        candidateSide,
		PriceTicks:  et.PriceTicks,
		Confidence:  confidence,
		TimestampMs: et.TimestampMs,
		Gate:        gateVerdict,
		Thresholds:  rec,
		Metadata: map[string]float64{
			"depletion_ratio":     depletionRatio,
			"accumulated_passive": accumulatedPassiveRatio,
			"directional_agg":     float64(directionalAgg),
			"directional_passive": float64(directionalPassive),
			"bid_velocity":        bidVelocity,
			"ask_velocity":        askVelocity,
		},
	})
	return rec, true
}

func toZoneSlice(et preprocess.EnrichedTrade) []zones.Zone {
	out := make([]zones.Zone, 0, len(et.ZoneData))
	for _, z := range et.ZoneData {
		out = append(out, zones.Zone{
			ZoneID:            z.ZoneID,
			PriceLevelTicks:   z.PriceLevelTicks,
			AggressiveBuyVol:  z.AggressiveBuyVol,
			AggressiveSellVol: z.AggressiveSellVol,
			PassiveBidVol:     z.PassiveBidVol,
			PassiveAskVol:     z.PassiveAskVol,
			TradeCount:        z.TradeCount,
			LargeTradeCount:   z.LargeTradeCount,
			LastUpdateMs:      z.LastUpdateMs,
		})
	}
	return out
}
