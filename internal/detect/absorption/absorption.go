// Package absorption implements the absorption detector (spec §4.6.1):
// large aggressive flow consumed by passive liquidity without proportional
// price movement, implying a latent opposing participant.
package absorption

import (
	"github.com/rs/zerolog"

	"github.com/CryptologySAC/OrderFlow-Trading-sub011/internal/detect/base"
	"github.com/CryptologySAC/OrderFlow-Trading-sub011/internal/fixedpoint"
	"github.com/CryptologySAC/OrderFlow-Trading-sub011/internal/preprocess"
	"github.com/CryptologySAC/OrderFlow-Trading-sub011/internal/rollwin"
	"github.com/CryptologySAC/OrderFlow-Trading-sub011/internal/zones"
)

// Config holds every tunable gate threshold from spec §4.6.1.
type Config struct {
	EventCooldownMs                   int64             `yaml:"event_cooldown_ms"`
	MinAggVolume                      fixedpoint.Ticks  `yaml:"min_agg_volume"`
	PassiveAbsorptionThreshold        float64           `yaml:"passive_absorption_threshold"`
	PriceEfficiencyThreshold          float64           `yaml:"price_efficiency_threshold"`
	ExpectedMoveFactor                float64           `yaml:"expected_move_factor"`
	SpreadImpactThreshold             float64           `yaml:"spread_impact_threshold"`
	InstitutionalVolumeThreshold      fixedpoint.Ticks  `yaml:"institutional_volume_threshold"`
	InstitutionalVolumeRatioThreshold float64           `yaml:"institutional_volume_ratio_threshold"`
	RequireInstitutionalGate          bool              `yaml:"require_institutional_gate"`
	FinalConfidenceRequired           float64           `yaml:"final_confidence_required"`
	PriceLookbackWindow               int               `yaml:"price_lookback_window"`
	EWMAAlpha                         float64           `yaml:"ewma_alpha"`
}

// Detector is the absorption stateful detector. It holds no shared mutable
// state with other detectors; all state below is private per instance.
type Detector struct {
	cfg      Config
	cooldown *base.Cooldown
	emitter  *base.Emitter
	gate     base.TraditionalGate

	priceWindow *rollwin.Window[float64]

	buyEwma  *rollwin.EWMA
	sellEwma *rollwin.EWMA

	institutionalVolume fixedpoint.Ticks
	totalVolume         fixedpoint.Ticks
}

// New constructs an absorption detector. sink receives accepted candidates;
// gate may be nil to disable the traditional-indicator filter.
func New(cfg Config, detectorID string, sink base.Sink, gate base.TraditionalGate, log zerolog.Logger) *Detector {
	if cfg.PriceLookbackWindow <= 0 {
		cfg.PriceLookbackWindow = 20
	}
	if cfg.EWMAAlpha <= 0 {
		cfg.EWMAAlpha = 0.2
	}
	return &Detector{
		cfg:         cfg,
		cooldown:    base.NewCooldown(cfg.EventCooldownMs),
		emitter:     base.NewEmitter(detectorID, sink, log),
		gate:        gate,
		priceWindow: rollwin.New[float64](cfg.PriceLookbackWindow),
		buyEwma:     rollwin.NewEWMA(cfg.EWMAAlpha),
		sellEwma:    rollwin.NewEWMA(cfg.EWMAAlpha),
	}
}

// OnTrade feeds one enriched trade through the absorption pipeline. It
// always returns the full threshold record, even on rejection.
func (d *Detector) OnTrade(et preprocess.EnrichedTrade) (base.ThresholdRecord, bool) {
	side := et.Side()

	var aggInZone fixedpoint.Ticks
	var passiveOpposite fixedpoint.Ticks
	ownZone, hasOwnZone := et.OwnZone()
	if hasOwnZone {
		aggInZone = ownZone.AggressiveBuyVol + ownZone.AggressiveSellVol
		if side == zones.SideBuy {
			passiveOpposite = ownZone.PassiveAskVol
		} else {
			passiveOpposite = ownZone.PassiveBidVol
		}
	}

	if side == zones.SideBuy {
		d.buyEwma.Update(float64(et.QtyTicks))
	} else {
		d.sellEwma.Update(float64(et.QtyTicks))
	}

	d.totalVolume += et.QtyTicks
	if d.cfg.InstitutionalVolumeThreshold > 0 && et.QtyTicks >= d.cfg.InstitutionalVolumeThreshold {
		d.institutionalVolume += et.QtyTicks
	}

	priceBefore, hasPrior := d.priceWindow.Max()
	lowBefore, _ := d.priceWindow.Min()
	d.priceWindow.Push(float64(et.MidTicks))

	rec := make(base.ThresholdRecord)

	passiveDenom := float64(aggInZone + passiveOpposite)
	passiveRatio := fixedpoint.SafeDivide(float64(passiveOpposite), passiveDenom, 0)

	rec.Add("min_agg_volume", base.OpGTE, float64(aggInZone), float64(d.cfg.MinAggVolume))
	rec.Add("passive_absorption_ratio", base.OpGTE, passiveRatio, d.cfg.PassiveAbsorptionThreshold)

	expectedMove := float64(aggInZone) * d.cfg.ExpectedMoveFactor
	var actualMove float64
	if hasPrior {
		actualMove = float64(et.MidTicks) - lowBefore
		if m := priceBefore - float64(et.MidTicks); m > actualMove {
			actualMove = m
		}
		if actualMove < 0 {
			actualMove = -actualMove
		}
	}
	priceEfficiency := fixedpoint.SafeDivide(actualMove, expectedMove, 0)
	rec.Add("price_efficiency", base.OpLTE, priceEfficiency, d.cfg.PriceEfficiencyThreshold)

	spreadImpact := fixedpoint.SafeDivide(float64(et.SpreadTicks), float64(et.MidTicks), 0)
	rec.Add("spread_impact", base.OpLTE, spreadImpact, d.cfg.SpreadImpactThreshold)

	if d.cfg.RequireInstitutionalGate {
		instRatio := fixedpoint.SafeDivide(float64(d.institutionalVolume), float64(d.totalVolume), 0)
		rec.Add("institutional_volume_ratio", base.OpGTE, instRatio, d.cfg.InstitutionalVolumeRatioThreshold)
	}

	// Directional EWMA contract: a buy-absorption candidate requires
	// elevated recent sell aggression, and vice versa (spec §4.6.1.6).
	var ewmaOpposite, ewmaSame float64
	var candidateSide zones.Side
	if side == zones.SideBuy {
		// buy aggression absorbed into asks -> candidate reverses down
		candidateSide = zones.SideSell
		ewmaOpposite = d.buyEwma.Value()
		ewmaSame = d.sellEwma.Value()
	} else {
		candidateSide = zones.SideBuy
		ewmaOpposite = d.sellEwma.Value()
		ewmaSame = d.buyEwma.Value()
	}
	rec.Add("directional_ewma_opposite_exceeds_same", base.OpGTE, ewmaOpposite, ewmaSame)

	if !rec.AllPassed() {
		return rec, false
	}

	effShortfall := fixedpoint.Clamp(1-priceEfficiency, 0, 1)
	passiveDominance := fixedpoint.Clamp(passiveRatio, 0, 1)
	volumeSurge := fixedpoint.Clamp(fixedpoint.SafeDivide(float64(aggInZone), float64(d.cfg.MinAggVolume), 0)-1, 0, 1)
	consistency := fixedpoint.Clamp(ewmaOpposite-ewmaSame, 0, 1)
	confidence := fixedpoint.Clamp(0.35*effShortfall+0.3*passiveDominance+0.2*volumeSurge+0.15*consistency, 0, 1)

	if confidence < d.cfg.FinalConfidenceRequired {
		return rec, false
	}

	var gateVerdict base.GateVerdict
	if d.gate != nil {
		gateVerdict = d.gate.Evaluate(candidateSide, et.PriceTicks)
		if gateVerdict.Filtered {
			return rec, false
		}
	}

	zoneID := et.OwnZoneID
	key := base.CooldownKey{DetectorID: "absorption", ZoneID: &zoneID}
	if !d.cooldown.CanEmit(key, et.TimestampMs, true) {
		return rec, false
	}

	d.emitter.Emit(base.Candidate{
		Type:        base.TypeAbsorption,
		Side:        candidateSide,
		PriceTicks:  et.PriceTicks,
		Confidence:  confidence,
		TimestampMs: et.TimestampMs,
		Gate:        gateVerdict,
		Thresholds:  rec,
		Metadata: map[string]float64{
			"aggressive_in_zone": float64(aggInZone),
			"passive_opposite":   float64(passiveOpposite),
			"price_efficiency":   priceEfficiency,
			"passive_ratio":      passiveRatio,
		},
	})
	return rec, true
}
