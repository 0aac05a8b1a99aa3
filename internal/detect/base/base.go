// Package base provides the shared contract every stateful detector builds
// on (C6 in the component table): cooldown keying, the emit path to the
// signal manager, the optional traditional-indicator gate, and the
// threshold-record bookkeeping used for post-hoc validation.
package base

import (
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/CryptologySAC/OrderFlow-Trading-sub011/internal/fixedpoint"
	"github.com/CryptologySAC/OrderFlow-Trading-sub011/internal/zones"
)

// SignalType enumerates the five detector outputs.
type SignalType string

const (
	TypeAbsorption   SignalType = "absorption"
	TypeExhaustion   SignalType = "exhaustion"
	TypeAccumulation SignalType = "accumulation"
	TypeDistribution SignalType = "distribution"
	TypeCVDConfirm   SignalType = "cvd_confirmation"
)

// ThresholdOp names the comparison a threshold record applied.
type ThresholdOp string

const (
	// OpGTE: calculated value must be >= threshold to pass.
	OpGTE ThresholdOp = "EQL"
	// OpLTE: calculated value must be <= threshold to pass.
	OpLTE ThresholdOp = "EQS"
)

// ThresholdCheck is a single named gate evaluation, recorded whether it
// passed or not so a rejection can be studied after the fact.
type ThresholdCheck struct {
	Threshold  float64
	Calculated float64
	Op         ThresholdOp
	Passed     bool
}

// Passes evaluates and returns whether calculated satisfies op against
// threshold.
func Passes(op ThresholdOp, calculated, threshold float64) bool {
	switch op {
	case OpGTE:
		return calculated >= threshold
	case OpLTE:
		return calculated <= threshold
	default:
		return false
	}
}

// ThresholdRecord is the full set of named gate checks a detector
// evaluated for one candidate trade, keyed by threshold name.
type ThresholdRecord map[string]ThresholdCheck

// Add evaluates and records a named gate, returning its pass/fail so
// callers can short-circuit without duplicating the condition.
func (r ThresholdRecord) Add(name string, op ThresholdOp, calculated, threshold float64) bool {
	passed := Passes(op, calculated, threshold)
	r[name] = ThresholdCheck{Threshold: threshold, Calculated: calculated, Op: op, Passed: passed}
	return passed
}

// AllPassed reports whether every recorded check passed.
func (r ThresholdRecord) AllPassed() bool {
	for _, c := range r {
		if !c.Passed {
			return false
		}
	}
	return true
}

// GateVerdict is the traditional-indicator (VWAP/RSI/order-imbalance)
// pass/filter decision attached to a candidate for post-hoc analysis.
type GateVerdict struct {
	Filtered bool
	Reason   string
	VWAP     float64
	RSI      float64
	OFI      float64
}

// TraditionalGate evaluates side-aware VWAP/RSI/order-imbalance filters.
// A nil TraditionalGate means the optional gate is disabled.
type TraditionalGate interface {
	Evaluate(side zones.Side, priceTicks fixedpoint.Ticks) GateVerdict
}

// Candidate is a signal candidate prior to acceptance by the signal
// manager, carrying the full threshold record for validation logging.
type Candidate struct {
	ID            string
	Type          SignalType
	Side          zones.Side
	PriceTicks    fixedpoint.Ticks
	Confidence    float64
	TimestampMs   int64
	DetectorID    string
	CorrelationID string
	Gate          GateVerdict
	Thresholds    ThresholdRecord
	Metadata      map[string]float64
}

// Sink is the C9 boundary: wherever accepted candidates are forwarded.
type Sink interface {
	Accept(Candidate)
}

// CooldownKey identifies a rate-limit bucket: per-detector, optionally
// narrowed by side and/or zone.
type CooldownKey struct {
	DetectorID string
	Side       *zones.Side
	ZoneID     *int64
}

func (k CooldownKey) normalized() string {
	s := "-"
	if k.Side != nil {
		if *k.Side == zones.SideBuy {
			s = "buy"
		} else {
			s = "sell"
		}
	}
	z := "-"
	if k.ZoneID != nil {
		z = fmtInt(*k.ZoneID)
	}
	return k.DetectorID + "|" + s + "|" + z
}

func fmtInt(v int64) string {
	if v == 0 {
		return "0"
	}
	neg := v < 0
	if neg {
		v = -v
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// Cooldown rate-limits emission per key; a prior emit for a key must be
// older than EventCooldownMs before another is allowed.
type Cooldown struct {
	mu              sync.Mutex
	eventCooldownMs int64
	lastEmitMs      map[string]int64
}

// NewCooldown creates a Cooldown with the given minimum inter-emit interval.
func NewCooldown(eventCooldownMs int64) *Cooldown {
	return &Cooldown{eventCooldownMs: eventCooldownMs, lastEmitMs: make(map[string]int64)}
}

// CanEmit reports whether key is eligible to emit at nowMs. When markNow is
// true and the key is eligible, the timestamp is updated atomically so a
// concurrent caller cannot also observe eligibility for the same key.
func (c *Cooldown) CanEmit(key CooldownKey, nowMs int64, markNow bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	k := key.normalized()
	last, ok := c.lastEmitMs[k]
	if ok && nowMs-last <= c.eventCooldownMs {
		return false
	}
	if markNow {
		c.lastEmitMs[k] = nowMs
	}
	return true
}

// Emitter attaches detector identity and correlation ids to candidates and
// forwards accepted ones to the signal manager sink.
type Emitter struct {
	detectorID string
	sink       Sink
	log        zerolog.Logger
}

// NewEmitter creates an Emitter for a given detector id, forwarding to sink.
func NewEmitter(detectorID string, sink Sink, log zerolog.Logger) *Emitter {
	return &Emitter{
		detectorID: detectorID,
		sink:       sink,
		log:        log.With().Str("detector_id", detectorID).Logger(),
	}
}

// Emit finalizes a candidate (assigning id/detector/correlation if unset)
// and forwards it to the sink.
func (e *Emitter) Emit(c Candidate) {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	c.DetectorID = e.detectorID
	if c.CorrelationID == "" {
		c.CorrelationID = uuid.NewString()
	}
	e.log.Debug().
		Str("type", string(c.Type)).
		Float64("confidence", c.Confidence).
		Int64("price_ticks", int64(c.PriceTicks)).
		Msg("signal candidate emitted")
	e.sink.Accept(c)
}
