// Package cvd implements the CVD / delta confirmation detector (spec
// §4.6.4): cumulative volume delta corroborating or diverging from price,
// signaling momentum or reversal.
package cvd

import (
	"math"

	"github.com/rs/zerolog"

	"github.com/CryptologySAC/OrderFlow-Trading-sub011/internal/detect/base"
	"github.com/CryptologySAC/OrderFlow-Trading-sub011/internal/fixedpoint"
	"github.com/CryptologySAC/OrderFlow-Trading-sub011/internal/preprocess"
	"github.com/CryptologySAC/OrderFlow-Trading-sub011/internal/rollwin"
	"github.com/CryptologySAC/OrderFlow-Trading-sub011/internal/zones"
)

// Mode selects which confirmation logic a window evaluates.
type Mode string

const (
	ModeMomentum   Mode = "momentum"
	ModeDivergence Mode = "divergence"
	ModeHybrid     Mode = "hybrid"
)

// Config holds every tunable gate threshold from spec §4.6.4.
type Config struct {
	EventCooldownMs            int64   `yaml:"event_cooldown_ms"`
	WindowSamples              int     `yaml:"window_samples"`
	Mode                       Mode    `yaml:"mode"`
	MinZ                       float64 `yaml:"min_z"`
	StrongCorrelationThreshold float64 `yaml:"strong_correlation_threshold"`
	DivergenceThreshold        float64 `yaml:"divergence_threshold"`
	VolumeSurgeMultiplier      float64 `yaml:"volume_surge_multiplier"`
	MinZScoreBound             float64 `yaml:"min_zscore_bound"`
	MaxZScoreBound             float64 `yaml:"max_zscore_bound"`
	MinSamplesForStats         int     `yaml:"min_samples_for_stats"`
	UsePassiveVolume           bool    `yaml:"use_passive_volume"`
}

// Detector is the CVD/delta-confirmation stateful detector, maintaining one
// rolling window of signed delta and one of price for correlation.
type Detector struct {
	cfg      Config
	cooldown *base.Cooldown
	emitter  *base.Emitter
	gate     base.TraditionalGate

	deltaWindow  *rollwin.Window[float64]
	priceWindow  *rollwin.Window[float64]
	volumeWindow *rollwin.Window[float64]

	cumulativeDelta float64
}

// New constructs a CVD detector over the given window size (samples, not
// wall-clock seconds — the caller feeds one sample per enriched trade).
func New(cfg Config, detectorID string, sink base.Sink, gate base.TraditionalGate, log zerolog.Logger) *Detector {
	if cfg.WindowSamples <= 0 {
		cfg.WindowSamples = 60
	}
	if cfg.MinSamplesForStats <= 0 {
		cfg.MinSamplesForStats = 10
	}
	if cfg.Mode == "" {
		cfg.Mode = ModeHybrid
	}
	return &Detector{
		cfg:          cfg,
		cooldown:     base.NewCooldown(cfg.EventCooldownMs),
		emitter:      base.NewEmitter(detectorID, sink, log),
		gate:         gate,
		deltaWindow:  rollwin.New[float64](cfg.WindowSamples),
		priceWindow:  rollwin.New[float64](cfg.WindowSamples),
		volumeWindow: rollwin.New[float64](cfg.WindowSamples),
	}
}

// OnTrade feeds one enriched trade through the CVD pipeline.
func (d *Detector) OnTrade(et preprocess.EnrichedTrade) (base.ThresholdRecord, bool) {
	signedVolume := float64(et.QtyTicks)
	if d.cfg.UsePassiveVolume {
		if z, ok := et.OwnZone(); ok {
			if et.Side() == zones.SideBuy {
				signedVolume += float64(z.PassiveAskVol)
			} else {
				signedVolume += float64(z.PassiveBidVol)
			}
		}
	}
	if et.Side() == zones.SideSell {
		signedVolume = -signedVolume
	}

	d.cumulativeDelta += signedVolume
	d.deltaWindow.Push(d.cumulativeDelta)
	d.priceWindow.Push(float64(et.MidTicks))
	d.volumeWindow.Push(math.Abs(signedVolume))

	rec := make(base.ThresholdRecord)
	samples := d.deltaWindow.Count()
	rec.Add("min_samples_for_stats", base.OpGTE, float64(samples), float64(d.cfg.MinSamplesForStats))
	if samples < d.cfg.MinSamplesForStats {
		return rec, false
	}

	zShort := clampZ(zScore(d.deltaWindow), d.cfg.MinZScoreBound, d.cfg.MaxZScoreBound)
	correlation := clampCorrelation(pearson(d.deltaWindow.Values(), d.priceWindow.Values()))
	volumeSurge := fixedpoint.SafeDivide(d.volumeWindow.Values()[samples-1], d.volumeWindow.Mean(), 0)

	rec.Add("abs_z_short", base.OpGTE, math.Abs(zShort), d.cfg.MinZ)
	rec.Add("correlation_strong", base.OpGTE, correlation, d.cfg.StrongCorrelationThreshold)
	rec.Add("volume_surge", base.OpGTE, volumeSurge, d.cfg.VolumeSurgeMultiplier)
	rec.Add("correlation_divergent", base.OpLTE, correlation, d.cfg.DivergenceThreshold)

	momentumPass := math.Abs(zShort) >= d.cfg.MinZ &&
		correlation >= d.cfg.StrongCorrelationThreshold &&
		volumeSurge >= d.cfg.VolumeSurgeMultiplier
	divergencePass := correlation <= d.cfg.DivergenceThreshold

	var pass bool
	switch d.cfg.Mode {
	case ModeMomentum:
		pass = momentumPass
	case ModeDivergence:
		pass = divergencePass
	default:
		pass = momentumPass || divergencePass
	}
	if !pass {
		return rec, false
	}

	side := zones.SideBuy
	if zShort < 0 {
		side = zones.SideSell
	}
	if divergencePass && !momentumPass {
		// Divergence implies a reversal away from the prevailing delta sign.
		if zShort >= 0 {
			side = zones.SideSell
		} else {
			side = zones.SideBuy
		}
	}

	var gateVerdict base.GateVerdict
	if d.gate != nil {
		gateVerdict = d.gate.Evaluate(side, et.PriceTicks)
		if gateVerdict.Filtered {
			return rec, false
		}
	}

	key := base.CooldownKey{DetectorID: "cvd"}
	if !d.cooldown.CanEmit(key, et.TimestampMs, true) {
		return rec, false
	}

	confidence := fixedpoint.Clamp(0.6*math.Abs(correlation)+0.4*fixedpoint.Clamp(math.Abs(zShort)/10, 0, 1), 0, 1)
	d.emitter.Emit(base.Candidate{
		Type:        base.TypeCVDConfirm,
		Side:        side,
		PriceTicks:  et.PriceTicks,
		Confidence:  confidence,
		TimestampMs: et.TimestampMs,
		Gate:        gateVerdict,
		Thresholds:  rec,
		Metadata: map[string]float64{
			"z_short":          zShort,
			"correlation":      correlation,
			"volume_surge":     volumeSurge,
			"cumulative_delta": d.cumulativeDelta,
		},
	})
	return rec, true
}

func zScore(w *rollwin.Window[float64]) float64 {
	sd := w.StdDev()
	if sd == 0 {
		return 0
	}
	vals := w.Values()
	last := vals[len(vals)-1]
	return (last - w.Mean()) / sd
}

func clampZ(z, lo, hi float64) float64 {
	if lo == 0 && hi == 0 {
		lo, hi = -10, 10
	}
	return fixedpoint.Clamp(z, lo, hi)
}

func clampCorrelation(r float64) float64 {
	return fixedpoint.Clamp(r, -0.999, 0.999)
}

// pearson computes the Pearson correlation coefficient of two equal-length
// series, returning 0 when either series has zero variance.
func pearson(xs, ys []float64) float64 {
	n := len(xs)
	if n == 0 || n != len(ys) {
		return 0
	}
	var sumX, sumY float64
	for i := 0; i < n; i++ {
		sumX += xs[i]
		sumY += ys[i]
	}
	meanX := sumX / float64(n)
	meanY := sumY / float64(n)

	var cov, varX, varY float64
	for i := 0; i < n; i++ {
		dx := xs[i] - meanX
		dy := ys[i] - meanY
		cov += dx * dy
		varX += dx * dx
		varY += dy * dy
	}
	denom := math.Sqrt(varX * varY)
	if denom == 0 {
		return 0
	}
	return cov / denom
}
