// Package config loads the immutable process-wide configuration record
// (spec.md §9 "Config singleton is replaced by explicit record"). A Config
// value is built once at startup by Load and then passed by value into every
// component constructor; nothing in this package is mutated after Load
// returns, and there is no package-level singleton to reach for instead.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/CryptologySAC/OrderFlow-Trading-sub011/internal/detect/absorption"
	"github.com/CryptologySAC/OrderFlow-Trading-sub011/internal/detect/accumdist"
	"github.com/CryptologySAC/OrderFlow-Trading-sub011/internal/detect/base"
	"github.com/CryptologySAC/OrderFlow-Trading-sub011/internal/detect/cvd"
	"github.com/CryptologySAC/OrderFlow-Trading-sub011/internal/detect/exhaustion"
	"github.com/CryptologySAC/OrderFlow-Trading-sub011/internal/health"
	"github.com/CryptologySAC/OrderFlow-Trading-sub011/internal/orderbook"
	"github.com/CryptologySAC/OrderFlow-Trading-sub011/internal/preprocess"
	"github.com/CryptologySAC/OrderFlow-Trading-sub011/internal/signalmgr"
	"github.com/CryptologySAC/OrderFlow-Trading-sub011/internal/zones"
)

// Symbol carries the pair's tick size alongside its name so every component
// that deals in fixedpoint.Ticks shares one source of truth for scaling.
type Symbol struct {
	Name         string  `yaml:"name"`
	TickSize     float64 `yaml:"tick_size"`
	QtyPrecision int     `yaml:"qty_precision"`
}

// Cooldowns collects the per-detector event cooldowns that spec.md §6 lists
// as a single config group, even though each detector consumes its own
// field via its own Config struct below.
type Cooldowns struct {
	AbsorptionMs int64 `yaml:"absorption_ms"`
	ExhaustionMs int64 `yaml:"exhaustion_ms"`
	AccumDistMs  int64 `yaml:"accum_dist_ms"`
	CVDMs        int64 `yaml:"cvd_ms"`
}

// Storage configures the optional archival sink. When Driver is empty the
// signal manager keeps its storage.NoopSink default.
type Storage struct {
	Driver string `yaml:"driver"` // "", "postgres"
	DSN    string `yaml:"dsn"`
}

// Config is the fully resolved, immutable process configuration. Every
// field here maps to one row of spec.md §6's configuration table.
type Config struct {
	Symbol     Symbol            `yaml:"symbol"`
	Book       orderbook.Config  `yaml:"book"`
	Preprocess preprocess.Config `yaml:"preprocess"`
	Zones      zones.Config      `yaml:"zones"`
	Absorption absorption.Config `yaml:"absorption"`
	Exhaustion exhaustion.Config `yaml:"exhaustion"`
	AccumDist  accumdist.Config  `yaml:"accum_dist"`
	CVD        cvd.Config        `yaml:"cvd"`
	Health     health.Config     `yaml:"health"`
	SignalMgr  signalmgr.Config  `yaml:"signal_manager"`
	Cooldowns  Cooldowns         `yaml:"cooldowns"`
	Storage    Storage           `yaml:"storage"`
}

// Default returns a complete configuration for a liquid spot pair, built
// from each component's own defaults (spec.md §6's suggested starting
// values). Load uses this as the base that a YAML file overlays.
func Default(symbolName string) Config {
	return Config{
		Symbol: Symbol{Name: symbolName, TickSize: 0.01, QtyPrecision: 8},
		Book:   orderbook.DefaultConfig(),
		Preprocess: preprocess.Config{
			BandTicks:                 50,
			ZoneCalculationRangeTicks: 100,
			LargeTradeThreshold:       1000,
		},
		Zones: zones.Config{
			ZoneTicks:        10,
			RetentionMs:      3600000,
			MaxTradesPerZone: 50,
			MaxZoneHistory:   500,
			LargeTradeThresh: 1000,
		},
		Absorption: absorption.Config{
			EventCooldownMs:                   5000,
			MinAggVolume:                      50,
			PassiveAbsorptionThreshold:        1.5,
			PriceEfficiencyThreshold:          0.3,
			ExpectedMoveFactor:                1.0,
			SpreadImpactThreshold:             2.0,
			InstitutionalVolumeThreshold:      500,
			InstitutionalVolumeRatioThreshold: 0.3,
			RequireInstitutionalGate:          false,
			FinalConfidenceRequired:           0.6,
			PriceLookbackWindow:               20,
			EWMAAlpha:                         0.2,
		},
		Exhaustion: exhaustion.Config{
			EventCooldownMs:              5000,
			MinAggVolume:                 50,
			PassiveRatioBalanceThreshold: 0.4,
			ExhaustionThreshold:          0.7,
			MinZoneConfluenceCount:       2,
			MaxZoneConfluenceDistance:    20,
			PassiveHistoryWindow:         20,
		},
		AccumDist: accumdist.Config{
			EventCooldownMs:         10000,
			MinDurationMs:           30000,
			MinZoneVolume:           300,
			MinTradeCount:           10,
			MaxZoneWidth:            0.002,
			MinBuyRatio:             0.65,
			MinSellRatio:            0.65,
			InstitutionalThreshold:  500,
			MinRecentActivityMs:     15000,
			ZoneTimeoutMs:           120000,
			MergeTolerancePct:       0.0015,
			StrengthChangeThreshold: 0.1,
		},
		CVD: cvd.Config{
			EventCooldownMs:            5000,
			WindowSamples:              60,
			Mode:                       cvd.ModeHybrid,
			MinZ:                       2.0,
			StrongCorrelationThreshold: 0.6,
			DivergenceThreshold:        0.3,
			VolumeSurgeMultiplier:      1.5,
			MinZScoreBound:             -10,
			MaxZScoreBound:             10,
			MinSamplesForStats:         10,
			UsePassiveVolume:           false,
		},
		Health: health.Config{
			VolatilityLookbackSamples: 30,
			FlashCrashMoveThreshold:   0.02,
			LiquidityVoidSpreadFactor: 4.0,
			FlowImbalanceThreshold:    0.8,
			HaltVolatilityRatio:       4.0,
			CautionVolatilityRatio:    2.0,
		},
		SignalMgr: signalmgr.Config{
			MaxQueueSize:                5000,
			ProcessingBatchSize:         50,
			BackpressureThreshold:       4000,
			AdaptiveBatchSizing:         true,
			MaxAdaptiveBatchSize:        200,
			HighPriorityBypassThreshold: 0.9,
			SignalThrottleMs:            2000,
			MinimumSeparationMs:         5000,
			PriceToleranceTicks:         10,
			ContradictionPenaltyFactor:  0.5,
			MinConfidenceAfterPenalty:   0.3,
			CircuitBreakerThreshold:     5,
			CircuitBreakerResetMs:       30000,
			ConfidenceThresholds:        defaultConfidenceThresholds(),
			BasePriority:                signalmgr.DefaultBasePriority(),
			Matrix:                      signalmgr.DefaultPriorityMatrix(),
			Redis: signalmgr.RedisConfig{
				Enabled:    false,
				Addr:       "127.0.0.1:6379",
				DedupTTLMs: 5000,
			},
		},
		Cooldowns: Cooldowns{
			AbsorptionMs: 5000,
			ExhaustionMs: 5000,
			AccumDistMs:  10000,
			CVDMs:        5000,
		},
	}
}

// Load reads the YAML file at path, overlays it onto Default(symbolName),
// and validates the result. The filename itself is part of the validation
// contract: TestOnlyDisableSequenceValidation may only be true when path
// ends in "_test.yaml" or "_test.yml" (spec.md §9 open question 4), so a
// production deployment can never load a book config that skips sequence
// checking by accident.
func Load(path string, symbolName string) (Config, error) {
	cfg := Default(symbolName)

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}

	if err := validate(cfg, path); err != nil {
		return Config{}, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

func validate(cfg Config, path string) error {
	if cfg.Book.TestOnlyDisableSequenceValidation && !isTestConfigFile(path) {
		return fmt.Errorf("book.test_only_disable_sequence_validation may only be set in a *_test.yaml config file, got %s", path)
	}
	if cfg.Symbol.Name == "" {
		return fmt.Errorf("symbol.name is required")
	}
	if cfg.Symbol.TickSize <= 0 {
		return fmt.Errorf("symbol.tick_size must be positive")
	}
	if cfg.SignalMgr.MaxQueueSize <= 0 {
		return fmt.Errorf("signal_manager.max_queue_size must be positive")
	}
	if cfg.SignalMgr.BackpressureThreshold > cfg.SignalMgr.MaxQueueSize {
		return fmt.Errorf("signal_manager.backpressure_threshold must not exceed max_queue_size")
	}
	return nil
}

// defaultConfidenceThresholds sets the minimum confidence the signal
// manager requires before a candidate of each type is even considered,
// distinct from BasePriority's queue-ordering weight (spec.md §4.8).
func defaultConfidenceThresholds() map[base.SignalType]float64 {
	return map[base.SignalType]float64{
		base.TypeAbsorption:   0.6,
		base.TypeExhaustion:   0.65,
		base.TypeAccumulation: 0.55,
		base.TypeDistribution: 0.55,
		base.TypeCVDConfirm:   0.6,
	}
}

func isTestConfigFile(path string) bool {
	fname := path
	if i := strings.LastIndexByte(path, '/'); i >= 0 {
		fname = path[i+1:]
	}
	return strings.HasSuffix(fname, "_test.yaml") || strings.HasSuffix(fname, "_test.yml")
}
