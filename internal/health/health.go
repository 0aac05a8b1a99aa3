// Package health maintains a compact market-health summary (C8): a
// volatility/spread/imbalance-driven classifier (the signal manager does not
// read it), not the full anomaly-detector taxonomy (flash crash,
// iceberg, spoofing) the source system carried.
package health

import (
	"github.com/CryptologySAC/OrderFlow-Trading-sub011/internal/fixedpoint"
	"github.com/CryptologySAC/OrderFlow-Trading-sub011/internal/rollwin"
)

// Recommendation is the health monitor's directive to downstream consumers.
type Recommendation string

const (
	RecommendContinue Recommendation = "continue"
	RecommendCaution  Recommendation = "caution"
	RecommendHalt     Recommendation = "halt"
)

// Severity ranks anomaly severity, highest wins when several are active.
type Severity int

const (
	SeverityNone Severity = iota
	SeverityLow
	SeverityMedium
	SeverityHigh
)

// AnomalyType names a recognized market-health anomaly.
type AnomalyType string

const (
	AnomalyFlashCrash    AnomalyType = "flash_crash"
	AnomalyLiquidityVoid AnomalyType = "liquidity_void"
	AnomalyFlowImbalance AnomalyType = "flow_imbalance"
)

// Summary is the minimal, consumed-not-rederived health contract spec'd
// in §4.7.
type Summary struct {
	IsHealthy          bool
	Recommendation     Recommendation
	RecentAnomalyTypes []AnomalyType
	VolatilityRatio    float64
	HighestSeverity    Severity
	Metrics            map[string]float64
}

// Config governs the volatility lookback and anomaly thresholds.
type Config struct {
	VolatilityLookbackSamples int     `yaml:"volatility_lookback_samples"`
	FlashCrashMoveThreshold   float64 `yaml:"flash_crash_move_threshold"`   // fraction of price, single-sample
	LiquidityVoidSpreadFactor float64 `yaml:"liquidity_void_spread_factor"` // multiple of baseline spread
	FlowImbalanceThreshold    float64 `yaml:"flow_imbalance_threshold"`     // |buy-sell| / total
	HaltVolatilityRatio       float64 `yaml:"halt_volatility_ratio"`
	CautionVolatilityRatio    float64 `yaml:"caution_volatility_ratio"`
}

// Monitor tracks a rolling price/spread/imbalance history and derives a
// Summary on demand. It is a pure function of its own state: deterministic
// given identical input order.
type Monitor struct {
	cfg Config

	priceWindow  *rollwin.Window[float64]
	spreadWindow *rollwin.Window[float64]

	baselineSpread float64
}

// New constructs a Monitor with the given configuration.
func New(cfg Config) *Monitor {
	if cfg.VolatilityLookbackSamples <= 0 {
		cfg.VolatilityLookbackSamples = 300
	}
	return &Monitor{
		cfg:          cfg,
		priceWindow:  rollwin.New[float64](cfg.VolatilityLookbackSamples),
		spreadWindow: rollwin.New[float64](cfg.VolatilityLookbackSamples),
	}
}

// Observe folds one tick of market state into the rolling windows.
func (m *Monitor) Observe(midTicks, spreadTicks fixedpoint.Ticks, aggBuyVol, aggSellVol fixedpoint.Ticks) Summary {
	prevMean := m.priceWindow.Mean()
	m.priceWindow.Push(float64(midTicks))
	m.spreadWindow.Push(float64(spreadTicks))

	if m.baselineSpread == 0 {
		m.baselineSpread = m.spreadWindow.Mean()
	} else {
		m.baselineSpread = 0.95*m.baselineSpread + 0.05*float64(spreadTicks)
	}

	volatilityRatio := fixedpoint.SafeDivide(m.priceWindow.StdDev(), m.priceWindow.Mean(), 0)

	var anomalies []AnomalyType
	highest := SeverityNone

	if prevMean > 0 {
		move := fixedpoint.SafeDivide(float64(midTicks)-prevMean, prevMean, 0)
		if move < 0 {
			move = -move
		}
		if m.cfg.FlashCrashMoveThreshold > 0 && move >= m.cfg.FlashCrashMoveThreshold {
			anomalies = append(anomalies, AnomalyFlashCrash)
			highest = maxSeverity(highest, SeverityHigh)
		}
	}

	if m.baselineSpread > 0 && m.cfg.LiquidityVoidSpreadFactor > 0 {
		if float64(spreadTicks) >= m.baselineSpread*m.cfg.LiquidityVoidSpreadFactor {
			anomalies = append(anomalies, AnomalyLiquidityVoid)
			highest = maxSeverity(highest, SeverityMedium)
		}
	}

	imbalance := fixedpoint.SafeDivide(float64(aggBuyVol-aggSellVol), float64(aggBuyVol+aggSellVol), 0)
	if imbalance < 0 {
		imbalance = -imbalance
	}
	if m.cfg.FlowImbalanceThreshold > 0 && imbalance >= m.cfg.FlowImbalanceThreshold {
		anomalies = append(anomalies, AnomalyFlowImbalance)
		highest = maxSeverity(highest, SeverityLow)
	}

	rec := RecommendContinue
	healthy := true
	switch {
	case m.cfg.HaltVolatilityRatio > 0 && volatilityRatio >= m.cfg.HaltVolatilityRatio:
		rec = RecommendHalt
		healthy = false
	case m.cfg.CautionVolatilityRatio > 0 && volatilityRatio >= m.cfg.CautionVolatilityRatio:
		rec = RecommendCaution
		healthy = false
	case highest >= SeverityMedium:
		rec = RecommendCaution
		healthy = false
	}

	return Summary{
		IsHealthy:          healthy,
		Recommendation:     rec,
		RecentAnomalyTypes: anomalies,
		VolatilityRatio:    volatilityRatio,
		HighestSeverity:    highest,
		Metrics: map[string]float64{
			"volatility_ratio": volatilityRatio,
			"baseline_spread":  m.baselineSpread,
			"imbalance":        imbalance,
		},
	}
}

func maxSeverity(a, b Severity) Severity {
	if b > a {
		return b
	}
	return a
}
