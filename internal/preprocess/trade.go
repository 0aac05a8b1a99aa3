// Package preprocess normalizes raw trades and enriches them with
// order-book and zone context (C5 in the component table).
package preprocess

import (
	"fmt"

	"github.com/CryptologySAC/OrderFlow-Trading-sub011/internal/fixedpoint"
	"github.com/CryptologySAC/OrderFlow-Trading-sub011/internal/orderbook"
	"github.com/CryptologySAC/OrderFlow-Trading-sub011/internal/zones"
)

// RawTrade is a normalized aggregated trade execution (decoded from the
// exchange collaborator's AggTrade message).
type RawTrade struct {
	TradeID      int64            `json:"trade_id"`
	PriceTicks   fixedpoint.Ticks `json:"price_ticks"`
	QtyTicks     fixedpoint.Ticks `json:"qty_ticks"`
	TimestampMs  int64            `json:"timestamp_ms"`
	BuyerIsMaker bool             `json:"buyer_is_maker"`
}

// AggressorSide returns the taker side of the trade. buyer_is_maker=true
// means the aggressor was the seller.
func (t RawTrade) AggressorSide() zones.Side {
	if t.BuyerIsMaker {
		return zones.SideSell
	}
	return zones.SideBuy
}

// ZoneSnapshot is the per-zone record attached to an enriched trade's
// zone_data, a value-typed view (no aliasing) of a nearby active zone.
type ZoneSnapshot struct {
	ZoneID            int64
	PriceLevelTicks   fixedpoint.Ticks
	AggressiveBuyVol  fixedpoint.Ticks
	AggressiveSellVol fixedpoint.Ticks
	PassiveBidVol     fixedpoint.Ticks
	PassiveAskVol     fixedpoint.Ticks
	TradeCount        int64
	LargeTradeCount   int64
	LastUpdateMs      int64
}

// EnrichedTrade is a raw trade augmented with order-book context and a
// snapshot of nearby zones. It is produced then consumed: value semantics,
// no aliasing after emission (spec.md §3 "Ownership").
type EnrichedTrade struct {
	RawTrade

	BestBid        fixedpoint.Ticks
	BestAsk        fixedpoint.Ticks
	HasBestBid     bool
	HasBestAsk     bool
	SpreadTicks    fixedpoint.Ticks
	MidTicks       fixedpoint.Ticks
	PassiveBidVol  fixedpoint.Ticks
	PassiveAskVol  fixedpoint.Ticks
	ZonePassiveBid fixedpoint.Ticks
	ZonePassiveAsk fixedpoint.Ticks
	ZoneData       []ZoneSnapshot
	// OwnZoneID is the zone bucket the trade itself landed in, computed the
	// same way the zone store bucketed it. Detectors must resolve their own
	// zone from ZoneData by matching this id, never by position: ZoneData's
	// order is not the trade's own zone first.
	OwnZoneID    int64
	IsLargeTrade bool
}

// Side returns the enriched trade's aggressive side.
func (e EnrichedTrade) Side() zones.Side { return e.AggressorSide() }

// OwnZone resolves the zone snapshot the trade itself landed in, matching
// OwnZoneID against ZoneData. ok is false only if ZoneData holds no zone
// with that id; Process always includes the trade's own zone, since it was
// just updated and lies at distance zero from the trade's price.
func (e EnrichedTrade) OwnZone() (ZoneSnapshot, bool) {
	for _, z := range e.ZoneData {
		if z.ZoneID == e.OwnZoneID {
			return z, true
		}
	}
	return ZoneSnapshot{}, false
}

// Config governs band widths and zone/large-trade thresholds.
type Config struct {
	BandTicks                 fixedpoint.Ticks `yaml:"band_ticks"`
	ZoneCalculationRangeTicks fixedpoint.Ticks `yaml:"zone_calculation_range_ticks"`
	LargeTradeThreshold       fixedpoint.Ticks `yaml:"large_trade_threshold"`
}

// Preprocessor enriches raw trades using a read-only view of the order
// book and the shared zone store it updates.
type Preprocessor struct {
	cfg   Config
	book  *orderbook.Book
	zones *zones.Store
}

// New creates a Preprocessor over the given book and zone store.
func New(cfg Config, book *orderbook.Book, zoneStore *zones.Store) *Preprocessor {
	return &Preprocessor{cfg: cfg, book: book, zones: zoneStore}
}

// Process normalizes and enriches a raw trade. Validation errors are
// returned without mutating any shared state (spec.md §7 "Validation").
func (p *Preprocessor) Process(raw RawTrade) (EnrichedTrade, error) {
	if raw.PriceTicks <= 0 {
		return EnrichedTrade{}, fmt.Errorf("preprocess: invalid price %d", raw.PriceTicks)
	}
	if raw.QtyTicks < 0 {
		return EnrichedTrade{}, fmt.Errorf("preprocess: negative quantity %d", raw.QtyTicks)
	}

	side := raw.AggressorSide()

	// Aggregate first, then read: the trade's own contribution must be
	// visible in the zone snapshot attached below (spec.md §4.4 step 3).
	p.zones.AddAggressive(raw.PriceTicks, raw.QtyTicks, side, raw.TimestampMs)

	bestBid, hasBid := p.book.GetBestBid()
	bestAsk, hasAsk := p.book.GetBestAsk()

	var spread, mid fixedpoint.Ticks
	if hasBid && hasAsk {
		spread = bestAsk - bestBid
		mid = (bestBid + bestAsk) / 2
	}

	lvl, _ := p.book.GetLevel(raw.PriceTicks)
	zoneBidBand, zoneAskBand := p.book.SumBand(raw.PriceTicks, p.cfg.BandTicks)

	p.zones.UpdatePassive(raw.PriceTicks, lvl.BidQty, lvl.AskQty, raw.TimestampMs)

	rangeZones := int64(1)
	if p.cfg.ZoneCalculationRangeTicks > 0 {
		rangeZones = int64(p.cfg.ZoneCalculationRangeTicks)
	}
	nearby := p.zones.ActiveZonesNear(raw.PriceTicks, rangeZones, raw.TimestampMs)
	zoneData := make([]ZoneSnapshot, 0, len(nearby))
	for _, z := range nearby {
		zoneData = append(zoneData, ZoneSnapshot{
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

	return EnrichedTrade{
		RawTrade:       raw,
		BestBid:        bestBid,
		BestAsk:        bestAsk,
		HasBestBid:     hasBid,
		HasBestAsk:     hasAsk,
		SpreadTicks:    spread,
		MidTicks:       mid,
		OwnZoneID:      p.zones.ZoneID(raw.PriceTicks),
		PassiveBidVol:  lvl.BidQty,
		PassiveAskVol:  lvl.AskQty,
		ZonePassiveBid: zoneBidBand,
		ZonePassiveAsk: zoneAskBand,
		ZoneData:       zoneData,
		IsLargeTrade:   p.cfg.LargeTradeThreshold > 0 && raw.QtyTicks >= p.cfg.LargeTradeThreshold,
	}, nil
}
