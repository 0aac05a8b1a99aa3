package orderbook

import (
	"time"

	"github.com/CryptologySAC/OrderFlow-Trading-sub011/internal/fixedpoint"
)

// Level is a single price level of the book. At most one side is non-zero
// at any price; a cross after applying an update is a protocol error.
type Level struct {
	PriceTicks   fixedpoint.Ticks
	BidQty       fixedpoint.Ticks
	AskQty       fixedpoint.Ticks
	LastUpdateMs int64
}

// LevelUpdate is a single [price, qty] pair from a diff-depth message.
// A qty of zero means the level should be removed.
type LevelUpdate struct {
	PriceTicks fixedpoint.Ticks `json:"price_ticks"`
	Qty        fixedpoint.Ticks `json:"qty"`
}

// DepthUpdate is an incremental diff-depth message (spec.md §6's "DiffDepth").
type DepthUpdate struct {
	FirstUpdateID int64         `json:"first_update_id"`
	FinalUpdateID int64         `json:"final_update_id"`
	Bids          []LevelUpdate `json:"bids"`
	Asks          []LevelUpdate `json:"asks"`
	EventTimeMs   int64         `json:"event_time_ms"`
}

// Snapshot is a full order-book snapshot (spec.md §6's "SnapshotResponse").
type Snapshot struct {
	LastUpdateID int64         `json:"last_update_id"`
	Bids         []LevelUpdate `json:"bids"`
	Asks         []LevelUpdate `json:"asks"`
}

// Health reports the book's synchronization and error state.
type Health struct {
	Initialized       bool
	CircuitBreakerOpen bool
	ErrorRate         float64
	LastUpdateAgeMs   int64
	OutOfSync         bool
}

// Config governs sequencing, pruning, and breaker behavior. Every field is
// read once at construction.
type Config struct {
	MaxLevels          int               `yaml:"max_levels"`
	MaxPriceDistance   fixedpoint.Ticks  `yaml:"max_price_distance_ticks"`
	PruneIntervalMs    int64             `yaml:"prune_interval_ms"`
	SnapshotIntervalMs int64             `yaml:"snapshot_interval_ms"`
	StaleThresholdMs   int64             `yaml:"stale_threshold_ms"`
	MaxErrorRate       float64           `yaml:"max_error_rate"`
	ErrorWindowSize    int               `yaml:"error_window_size"`

	// TestOnlyDisableSequenceValidation skips the U/u sequencing protocol.
	// Production config loaders (internal/config) refuse to set this; it
	// exists only so tests can drive the book without constructing a
	// perfectly sequenced stream. See spec.md §9 open question 4.
	TestOnlyDisableSequenceValidation bool `yaml:"test_only_disable_sequence_validation"`
}

// DefaultConfig returns reasonable defaults for a liquid spot pair.
func DefaultConfig() Config {
	return Config{
		MaxLevels:          5000,
		MaxPriceDistance:   fixedpoint.Ticks(200000), // ±2000 ticks*100 worth of headroom, tune per pair
		PruneIntervalMs:     5000,
		SnapshotIntervalMs:  60000,
		StaleThresholdMs:    30000,
		MaxErrorRate:        0.1,
		ErrorWindowSize:     50,
	}
}

func nowMs() int64 { return time.Now().UnixMilli() }
