// Package orderbook maintains a synchronized L2 order book from a snapshot
// plus a sequenced diff stream (C3 in the component table).
package orderbook

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"github.com/CryptologySAC/OrderFlow-Trading-sub011/internal/fixedpoint"
	"github.com/CryptologySAC/OrderFlow-Trading-sub011/internal/rollwin"
)

// ErrGap is returned by ApplyDepthUpdate when a sequencing gap is detected
// and a fresh snapshot is needed.
var ErrGap = errors.New("orderbook: sequence gap detected, snapshot required")

// SnapshotRequester is the external collaborator boundary: the book asks
// for a fresh snapshot and is handed one back, or an error on failure/timeout.
type SnapshotRequester interface {
	RequestSnapshot(symbol string) (Snapshot, error)
}

// Book is a single symbol's synchronized L2 order book. It is owned
// exclusively by the market-data worker (spec.md §5); callers elsewhere
// only ever see point-in-time reads via the exported accessors.
type Book struct {
	mu sync.RWMutex

	symbol string
	cfg    Config
	log    zerolog.Logger

	levels map[fixedpoint.Ticks]*Level
	bestBid fixedpoint.Ticks
	bestAsk fixedpoint.Ticks
	hasBid  bool
	hasAsk  bool

	lastUpdateID int64
	initialized  bool
	outOfSync    bool
	lastApplyMs  int64

	buffered []DepthUpdate

	errWindow *rollwin.Window[float64]
	breaker   *gobreaker.CircuitBreaker

	requester SnapshotRequester
}

// New constructs a Book for symbol. requester may be nil; in that case the
// caller is expected to drive recovery explicitly via Recover.
func New(symbol string, cfg Config, requester SnapshotRequester, log zerolog.Logger) *Book {
	if cfg.ErrorWindowSize <= 0 {
		cfg.ErrorWindowSize = 50
	}
	b := &Book{
		symbol:    symbol,
		cfg:       cfg,
		log:       log.With().Str("component", "orderbook").Str("symbol", symbol).Logger(),
		levels:    make(map[fixedpoint.Ticks]*Level),
		errWindow: rollwin.New[float64](cfg.ErrorWindowSize),
		requester: requester,
	}
	settings := gobreaker.Settings{
		Name: "orderbook-" + symbol,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.ConsecutiveFailures >= 3 {
				return true
			}
			if counts.Requests < uint32(cfg.ErrorWindowSize) {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) > cfg.MaxErrorRate
		},
		Timeout: 30 * time.Second,
	}
	b.breaker = gobreaker.NewCircuitBreaker(settings)
	return b
}

// ApplyDepthUpdate integrates an incremental diff per the U/u sequence
// protocol (spec.md §4.3). Stale updates are discarded and return nil; a
// sequence gap returns ErrGap and a crossed book returns an error naming
// the cross. Both are for callers that want to log them, never a reason
// to abort the stream.
func (b *Book) ApplyDepthUpdate(u DepthUpdate) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	_, err := b.breaker.Execute(func() (interface{}, error) {
		return nil, b.validateAndApplyLocked(u)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) {
			b.buffered = append(b.buffered, u)
			return nil
		}
		return err
	}
	return nil
}

// validateAndApplyLocked runs the sequence protocol and mutates the book.
// Caller holds b.mu.
func (b *Book) validateAndApplyLocked(u DepthUpdate) error {
	if !b.initialized && !b.cfg.TestOnlyDisableSequenceValidation {
		b.buffered = append(b.buffered, u)
		return nil
	}

	if !b.cfg.TestOnlyDisableSequenceValidation {
		if u.FinalUpdateID < b.lastUpdateID {
			b.errWindow.Push(1) // stale rejections count toward the error rate
			return nil
		}
		if u.FirstUpdateID > b.lastUpdateID+1 {
			b.outOfSync = true
			b.errWindow.Push(1)
			b.log.Warn().Int64("first_update_id", u.FirstUpdateID).
				Int64("last_update_id", b.lastUpdateID).Msg("sequence gap detected")
			if b.requester != nil {
				go b.tryRecover()
			}
			return ErrGap
		}
	}

	now := u.EventTimeMs
	if now == 0 {
		now = nowMs()
	}

	if err := b.applyLevelsLocked(u.Bids, u.Asks, now); err != nil {
		b.errWindow.Push(1)
		b.log.Error().Err(err).Msg("crossed book, dropping offending side")
		if b.requester != nil {
			go b.tryRecover()
		}
		return err
	}

	b.lastUpdateID = u.FinalUpdateID
	b.lastApplyMs = now
	b.errWindow.Push(0)
	b.outOfSync = false
	return nil
}

func (b *Book) applyLevelsLocked(bids, asks []LevelUpdate, now int64) error {
	prevBestBid, prevHasBid := b.bestBid, b.hasBid
	prevBestAsk, prevHasAsk := b.bestAsk, b.hasAsk

	for _, lu := range bids {
		b.setLevelLocked(lu.PriceTicks, lu.Qty, 0, now)
	}
	for _, lu := range asks {
		b.setLevelLocked(lu.PriceTicks, 0, lu.Qty, now)
	}
	b.recomputeBestLocked()

	if b.hasBid && b.hasAsk && b.bestBid >= b.bestAsk {
		bidOffends := prevHasAsk && b.bestBid >= prevBestAsk
		askOffends := prevHasBid && b.bestAsk <= prevBestBid
		switch {
		case bidOffends && !askOffends:
			for _, lu := range bids {
				delete(b.levels, lu.PriceTicks)
			}
		case askOffends && !bidOffends:
			for _, lu := range asks {
				delete(b.levels, lu.PriceTicks)
			}
		default:
			// Ambiguous: both sides moved into the cross in the same
			// update, or there was no prior reference side. Drop both
			// rather than guess.
			for _, lu := range append(append([]LevelUpdate{}, bids...), asks...) {
				delete(b.levels, lu.PriceTicks)
			}
		}
		b.recomputeBestLocked()
		return fmt.Errorf("orderbook: crossed book at bid=%d ask=%d", b.bestBid, b.bestAsk)
	}
	return nil
}

func (b *Book) setLevelLocked(price, bidQty, askQty fixedpoint.Ticks, now int64) {
	lvl, ok := b.levels[price]
	if !ok {
		if bidQty == 0 && askQty == 0 {
			return
		}
		lvl = &Level{PriceTicks: price}
		b.levels[price] = lvl
	}
	if bidQty > 0 {
		lvl.BidQty = bidQty
		lvl.AskQty = 0
	} else if askQty > 0 {
		lvl.AskQty = askQty
		lvl.BidQty = 0
	} else {
		delete(b.levels, price)
		return
	}
	lvl.LastUpdateMs = now
}

func (b *Book) recomputeBestLocked() {
	b.hasBid, b.hasAsk = false, false
	for price, lvl := range b.levels {
		if lvl.BidQty > 0 {
			if !b.hasBid || price > b.bestBid {
				b.bestBid = price
				b.hasBid = true
			}
		}
		if lvl.AskQty > 0 {
			if !b.hasAsk || price < b.bestAsk {
				b.bestAsk = price
				b.hasAsk = true
			}
		}
	}
}

// Recover rebuilds the book from a snapshot, replaying any buffered updates
// whose range overlaps correctly; out-of-range buffered updates are
// discarded.
func (b *Book) Recover(snap Snapshot) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.recoverLocked(snap)
}

func (b *Book) recoverLocked(snap Snapshot) {
	b.levels = make(map[fixedpoint.Ticks]*Level)
	now := nowMs()
	for _, lu := range snap.Bids {
		b.setLevelLocked(lu.PriceTicks, lu.Qty, 0, now)
	}
	for _, lu := range snap.Asks {
		b.setLevelLocked(lu.PriceTicks, 0, lu.Qty, now)
	}
	b.recomputeBestLocked()
	b.lastUpdateID = snap.LastUpdateID
	b.initialized = true
	b.outOfSync = false
	b.lastApplyMs = now

	pending := b.buffered
	b.buffered = nil
	for _, u := range pending {
		if u.FinalUpdateID <= snap.LastUpdateID {
			continue // out-of-range, discard
		}
		if u.FirstUpdateID > snap.LastUpdateID+1 {
			continue // still a gap relative to the new snapshot
		}
		_ = b.validateAndApplyLocked(u)
	}
	b.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name: b.breaker.Name(),
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.ConsecutiveFailures >= 3 {
				return true
			}
			if counts.Requests < uint32(b.cfg.ErrorWindowSize) {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) > b.cfg.MaxErrorRate
		},
		Timeout: 30 * time.Second,
	})
}

func (b *Book) tryRecover() {
	snap, err := b.requester.RequestSnapshot(b.symbol)
	if err != nil {
		b.log.Error().Err(err).Msg("snapshot recovery failed")
		return
	}
	b.Recover(snap)
}

// GetBestBid returns the best bid and whether the book has any bid levels.
func (b *Book) GetBestBid() (fixedpoint.Ticks, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.bestBid, b.hasBid
}

// GetBestAsk returns the best ask and whether the book has any ask levels.
func (b *Book) GetBestAsk() (fixedpoint.Ticks, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.bestAsk, b.hasAsk
}

// GetLevel returns a copy of the level at price, if present.
func (b *Book) GetLevel(price fixedpoint.Ticks) (Level, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	lvl, ok := b.levels[price]
	if !ok {
		return Level{}, false
	}
	return *lvl, true
}

// Spread returns ask-bid in ticks, or 0 if either side is missing.
func (b *Book) Spread() fixedpoint.Ticks {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if !b.hasBid || !b.hasAsk {
		return 0
	}
	return b.bestAsk - b.bestBid
}

// SumBand returns the total bid and ask quantity within ±bandTicks of
// center (inclusive), used by the preprocessor for zone-passive sums.
func (b *Book) SumBand(center fixedpoint.Ticks, bandTicks fixedpoint.Ticks) (bidQty, askQty fixedpoint.Ticks) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	lo, hi := center-bandTicks, center+bandTicks
	for price, lvl := range b.levels {
		if price < lo || price > hi {
			continue
		}
		bidQty += lvl.BidQty
		askQty += lvl.AskQty
	}
	return
}

// LastUpdateID returns the book's last applied sequence id.
func (b *Book) LastUpdateID() int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lastUpdateID
}

// GetHealth returns a point-in-time health snapshot.
func (b *Book) GetHealth() Health {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var age int64
	if b.lastApplyMs > 0 {
		age = nowMs() - b.lastApplyMs
	}
	return Health{
		Initialized:        b.initialized,
		CircuitBreakerOpen: b.breaker.State() == gobreaker.StateOpen,
		ErrorRate:          fixedpoint.SafeDivide(b.errWindow.Sum(), float64(b.errWindow.Count()), 0),
		LastUpdateAgeMs:    age,
		OutOfSync:          b.outOfSync,
	}
}

// Prune evicts levels farther than MaxPriceDistance from mid and levels
// stale beyond StaleThresholdMs, then caps total retained levels at
// MaxLevels by evicting the farthest-from-mid levels first. This is an
// explicit operation (not an internal timer) so tests can drive it directly
// per Design Notes §9's "no reflective access" requirement.
func (b *Book) Prune(now int64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.hasBid && !b.hasAsk {
		return
	}
	mid := b.midLocked()

	for price, lvl := range b.levels {
		dist := price - mid
		if dist < 0 {
			dist = -dist
		}
		stale := b.cfg.StaleThresholdMs > 0 && now-lvl.LastUpdateMs > b.cfg.StaleThresholdMs
		tooFar := b.cfg.MaxPriceDistance > 0 && dist > b.cfg.MaxPriceDistance
		if stale || tooFar {
			delete(b.levels, price)
		}
	}

	if b.cfg.MaxLevels > 0 && len(b.levels) > b.cfg.MaxLevels {
		type entry struct {
			price fixedpoint.Ticks
			dist  fixedpoint.Ticks
		}
		entries := make([]entry, 0, len(b.levels))
		for price := range b.levels {
			d := price - mid
			if d < 0 {
				d = -d
			}
			entries = append(entries, entry{price, d})
		}
		sort.Slice(entries, func(i, j int) bool { return entries[i].dist > entries[j].dist })
		excess := len(b.levels) - b.cfg.MaxLevels
		for i := 0; i < excess; i++ {
			delete(b.levels, entries[i].price)
		}
	}

	b.recomputeBestLocked()
}

func (b *Book) midLocked() fixedpoint.Ticks {
	switch {
	case b.hasBid && b.hasAsk:
		return (b.bestBid + b.bestAsk) / 2
	case b.hasBid:
		return b.bestBid
	case b.hasAsk:
		return b.bestAsk
	default:
		return 0
	}
}

// Mid returns the current mid price, or 0 if the book is empty.
func (b *Book) Mid() fixedpoint.Ticks {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.midLocked()
}

// Symbol returns the book's symbol.
func (b *Book) Symbol() string { return b.symbol }
