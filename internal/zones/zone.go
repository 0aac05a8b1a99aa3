// Package zones maintains the per-symbol zone map (C4): fixed-tick price
// buckets aggregating aggressive/passive volume history for the detector
// set to consume.
package zones

import (
	"sort"
	"sync"

	"github.com/CryptologySAC/OrderFlow-Trading-sub011/internal/fixedpoint"
	"github.com/CryptologySAC/OrderFlow-Trading-sub011/internal/rollwin"
)

// Side identifies the aggressive side of a trade.
type Side int

const (
	SideBuy Side = iota
	SideSell
)

// RecentTrade is one entry in a zone's bounded trade history ring.
type RecentTrade struct {
	PriceTicks   fixedpoint.Ticks
	Qty          fixedpoint.Ticks
	Side         Side
	TimestampMs  int64
	IsLargeTrade bool
}

// Zone aggregates aggressive and passive volume for a fixed-tick price
// bucket. All volumes are non-negative.
type Zone struct {
	ZoneID             int64
	PriceLevelTicks    fixedpoint.Ticks
	AggressiveBuyVol   fixedpoint.Ticks
	AggressiveSellVol  fixedpoint.Ticks
	PassiveBidVol      fixedpoint.Ticks
	PassiveAskVol      fixedpoint.Ticks
	TradeCount         int64
	LargeTradeCount    int64
	FirstSeenMs        int64
	LastUpdateMs       int64
	recentTrades       *rollwin.Ring[RecentTrade]
}

// AggressiveVolume returns the sum of aggressive buy and sell volume.
func (z Zone) AggressiveVolume() fixedpoint.Ticks {
	return z.AggressiveBuyVol + z.AggressiveSellVol
}

// RecentTrades returns the zone's bounded trade history, oldest first.
func (z Zone) RecentTrades() []RecentTrade {
	if z.recentTrades == nil {
		return nil
	}
	return z.recentTrades.Values()
}

// Config governs zone retention and history bounds.
type Config struct {
	ZoneTicks        fixedpoint.Ticks `yaml:"zone_ticks"`
	RetentionMs      int64            `yaml:"retention_ms"`
	MaxTradesPerZone int              `yaml:"max_trades_per_zone"`
	MaxZoneHistory   int              `yaml:"max_zone_history"`
	LargeTradeThresh fixedpoint.Ticks `yaml:"large_trade_threshold"`
}

// Store is the per-symbol zone map (C4). It is owned exclusively by the
// market-data worker; other components only ever see Snapshot copies.
type Store struct {
	mu    sync.RWMutex
	cfg   Config
	zones map[int64]*Zone
}

// NewStore creates an empty zone store with the given configuration.
func NewStore(cfg Config) *Store {
	if cfg.MaxTradesPerZone <= 0 {
		cfg.MaxTradesPerZone = 20
	}
	return &Store{cfg: cfg, zones: make(map[int64]*Zone)}
}

// ZoneID returns the zone bucket a price belongs to.
func (s *Store) ZoneID(price fixedpoint.Ticks) int64 {
	return fixedpoint.CalculateZone(price, s.cfg.ZoneTicks)
}

func (s *Store) getOrCreateLocked(zoneID int64, priceForZone fixedpoint.Ticks, now int64) *Zone {
	z, ok := s.zones[zoneID]
	if !ok {
		z = &Zone{
			ZoneID:          zoneID,
			PriceLevelTicks: priceForZone,
			FirstSeenMs:     now,
			recentTrades:    rollwin.NewRing[RecentTrade](s.cfg.MaxTradesPerZone),
		}
		s.zones[zoneID] = z
	}
	return z
}

// AddAggressive records a trade's aggressive volume against its zone. This
// must be called before any snapshot of the zone is handed to a consumer
// for that same trade ("aggregate-then-read", spec.md §4.4 step 3).
func (s *Store) AddAggressive(priceTicks, qty fixedpoint.Ticks, side Side, timestampMs int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	zoneID := s.ZoneID(priceTicks)
	z := s.getOrCreateLocked(zoneID, priceTicks, timestampMs)

	switch side {
	case SideBuy:
		z.AggressiveBuyVol += qty
	case SideSell:
		z.AggressiveSellVol += qty
	}
	z.TradeCount++
	z.LastUpdateMs = timestampMs

	large := s.cfg.LargeTradeThresh > 0 && qty >= s.cfg.LargeTradeThresh
	if large {
		z.LargeTradeCount++
	}
	z.recentTrades.Push(RecentTrade{
		PriceTicks:   priceTicks,
		Qty:          qty,
		Side:         side,
		TimestampMs:  timestampMs,
		IsLargeTrade: large,
	})
}

// UpdatePassive refreshes a zone's passive bid/ask volume snapshot, as
// observed from the order book at the time a trade in that zone occurred.
func (s *Store) UpdatePassive(priceTicks, passiveBid, passiveAsk fixedpoint.Ticks, timestampMs int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	zoneID := s.ZoneID(priceTicks)
	z := s.getOrCreateLocked(zoneID, priceTicks, timestampMs)
	z.PassiveBidVol = passiveBid
	z.PassiveAskVol = passiveAsk
	if timestampMs > z.LastUpdateMs {
		z.LastUpdateMs = timestampMs
	}
}

// Snapshot returns a read-only copy of the zone at priceTicks, if the store
// tracks it. No retention check is applied here; Prune removes inactive zones.
func (s *Store) Snapshot(priceTicks fixedpoint.Ticks) (Zone, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	z, ok := s.zones[s.ZoneID(priceTicks)]
	if !ok {
		return Zone{}, false
	}
	return *z, true
}

// SnapshotByID returns a read-only copy of the zone with the given id.
func (s *Store) SnapshotByID(zoneID int64) (Zone, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	z, ok := s.zones[zoneID]
	if !ok {
		return Zone{}, false
	}
	return *z, true
}

// ActiveZonesNear returns snapshots of zones whose bucket id lies within
// rangeZones of the zone containing price, active (updated) within
// retentionMs of now.
func (s *Store) ActiveZonesNear(price fixedpoint.Ticks, rangeZones int64, now int64) []Zone {
	s.mu.RLock()
	defer s.mu.RUnlock()
	center := s.ZoneID(price)
	out := make([]Zone, 0, 2*rangeZones+1)
	for id, z := range s.zones {
		if id < center-rangeZones || id > center+rangeZones {
			continue
		}
		if s.cfg.RetentionMs > 0 && now-z.LastUpdateMs > s.cfg.RetentionMs {
			continue
		}
		out = append(out, *z)
	}
	sort.Slice(out, func(i, j int) bool {
		di := out[i].ZoneID - center
		if di < 0 {
			di = -di
		}
		dj := out[j].ZoneID - center
		if dj < 0 {
			dj = -dj
		}
		if di != dj {
			return di < dj
		}
		return out[i].ZoneID < out[j].ZoneID
	})
	return out
}

// FindZonesNearPrice filters zone snapshots to those within tickDistance
// of price, used by detectors for confluence logic (spec.md §4.4).
func FindZonesNearPrice(zs []Zone, price fixedpoint.Ticks, tickDistance fixedpoint.Ticks) []Zone {
	out := make([]Zone, 0, len(zs))
	for _, z := range zs {
		d := z.PriceLevelTicks - price
		if d < 0 {
			d = -d
		}
		if d <= tickDistance {
			out = append(out, z)
		}
	}
	return out
}

// Prune evicts zones inactive beyond RetentionMs, bounded additionally by
// MaxZoneHistory: when over budget, the oldest-updated zones are evicted
// first regardless of retention.
func (s *Store) Prune(now int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cfg.RetentionMs > 0 {
		for id, z := range s.zones {
			if now-z.LastUpdateMs > s.cfg.RetentionMs {
				delete(s.zones, id)
			}
		}
	}

	if s.cfg.MaxZoneHistory > 0 && len(s.zones) > s.cfg.MaxZoneHistory {
		type entry struct {
			id   int64
			last int64
		}
		entries := make([]entry, 0, len(s.zones))
		for id, z := range s.zones {
			entries = append(entries, entry{id, z.LastUpdateMs})
		}
		sort.Slice(entries, func(i, j int) bool { return entries[i].last < entries[j].last })
		excess := len(s.zones) - s.cfg.MaxZoneHistory
		for i := 0; i < excess; i++ {
			delete(s.zones, entries[i].id)
		}
	}
}

// Len returns the number of tracked zones, for tests and metrics.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.zones)
}
