// Package tiers assigns symbols across the WS real-time tier and the two
// REST polling tiers, tracks warmth, and drives subscription handoffs.
package tiers

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

type Tier string

const (
	TierWS         Tier = "WS"
	TierRESTFast   Tier = "REST_FAST"
	TierRESTSlow   Tier = "REST_SLOW"
	TierUnassigned Tier = "UNASSIGNED"
)

// SymbolInfo is the scheduler's per-symbol record. Created on first
// observation, never destroyed within a session.
type SymbolInfo struct {
	Symbol          string    `json:"symbol"`
	Tier            Tier      `json:"tier"`
	LastPolled      time.Time `json:"last_polled"`
	CandleCount1m   int       `json:"candle_count_1m"`
	CandleCount5m   int       `json:"candle_count_5m"`
	IsWarm          bool      `json:"is_warm"`
	IsBackfilling   bool      `json:"is_backfilling"`
	BackfillStarted time.Time `json:"backfill_started"`
}

type Config struct {
	Tier1Size        int
	Tier2Size        int
	Tier2Interval    time.Duration
	Tier3Interval    time.Duration
	ReassignInterval time.Duration
	MinCandles1m     int
	MinCandles5m     int
}

func DefaultConfig() Config {
	return Config{
		Tier1Size:        75,
		Tier2Size:        15,
		Tier2Interval:    15 * time.Second,
		Tier3Interval:    60 * time.Second,
		ReassignInterval: 30 * time.Minute,
		MinCandles1m:     5,
		MinCandles5m:     2,
	}
}

type Stats struct {
	Promotions     int `json:"promotions"`
	Demotions      int `json:"demotions"`
	TotalReassigns int `json:"total_reassigns"`
}

// Scheduler owns tier membership. Callbacks fire synchronously inside
// ReassignTiers with removes strictly before adds so the WS collector can
// free subscription slots first.
type Scheduler struct {
	mu           sync.Mutex
	cfg          Config
	symbols      map[string]*SymbolInfo
	lastReassign time.Time
	stats        Stats
	onWSAdd      func(symbol string)
	onWSRemove   func(symbol string)
	now          func() time.Time
	logger       zerolog.Logger
}

func NewScheduler(cfg Config, logger zerolog.Logger) *Scheduler {
	return &Scheduler{
		cfg:     cfg,
		symbols: make(map[string]*SymbolInfo),
		now:     time.Now,
		logger:  logger.With().Str("component", "tier_scheduler").Logger(),
	}
}

// SetCallbacks registers the WS handoff hooks. Must be called before the
// first reassign.
func (s *Scheduler) SetCallbacks(onAdd, onRemove func(symbol string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onWSAdd = onAdd
	s.onWSRemove = onRemove
}

func (s *Scheduler) ensure(symbol string) *SymbolInfo {
	info, ok := s.symbols[symbol]
	if !ok {
		info = &SymbolInfo{Symbol: symbol, Tier: TierUnassigned}
		s.symbols[symbol] = info
	}
	return info
}

// SymbolsNeedingPoll returns the REST_FAST and REST_SLOW symbols whose poll
// interval has elapsed. WS symbols are never due.
func (s *Scheduler) SymbolsNeedingPoll() (tier2, tier3 []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for _, info := range s.symbols {
		switch info.Tier {
		case TierRESTFast:
			if !info.LastPolled.Add(s.cfg.Tier2Interval).After(now) {
				tier2 = append(tier2, info.Symbol)
			}
		case TierRESTSlow:
			if !info.LastPolled.Add(s.cfg.Tier3Interval).After(now) {
				tier3 = append(tier3, info.Symbol)
			}
		}
	}
	return tier2, tier3
}

// RecordPoll marks a completed poll and refreshes warmth.
func (s *Scheduler) RecordPoll(symbol string, count1m, count5m int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	info := s.ensure(symbol)
	info.LastPolled = s.now()
	info.CandleCount1m = count1m
	info.CandleCount5m = count5m
	s.refreshWarmth(info)
}

// UpdateCandleCounts is called by the collector after each buffer add.
func (s *Scheduler) UpdateCandleCounts(symbol string, count1m, count5m int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	info := s.ensure(symbol)
	info.CandleCount1m = count1m
	info.CandleCount5m = count5m
	s.refreshWarmth(info)
}

func (s *Scheduler) refreshWarmth(info *SymbolInfo) {
	info.IsWarm = info.CandleCount1m >= s.cfg.MinCandles1m && info.CandleCount5m >= s.cfg.MinCandles5m
}

// IsSymbolWarm reports whether the symbol meets the candle-count thresholds.
func (s *Scheduler) IsSymbolWarm(symbol string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	info, ok := s.symbols[symbol]
	return ok && info.IsWarm
}

// MarkBackfilling toggles the backfill-in-progress flag.
func (s *Scheduler) MarkBackfilling(symbol string, active bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	info := s.ensure(symbol)
	info.IsBackfilling = active
	if active {
		info.BackfillStarted = s.now()
	}
}

// NeedsReassign reports whether the reassign cadence has elapsed.
func (s *Scheduler) NeedsReassign() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now().Sub(s.lastReassign) >= s.cfg.ReassignInterval
}

// ReassignTiers applies a fresh ranking: the top Tier1Size symbols go to WS,
// the next Tier2Size to REST_FAST, the rest to REST_SLOW. WS removals fire
// before WS additions. Reassigning with an identical ranking is a no-op.
func (s *Scheduler) ReassignTiers(ranked []string) {
	s.mu.Lock()

	target := make(map[string]Tier, len(ranked))
	for i, symbol := range ranked {
		switch {
		case i < s.cfg.Tier1Size:
			target[symbol] = TierWS
		case i < s.cfg.Tier1Size+s.cfg.Tier2Size:
			target[symbol] = TierRESTFast
		default:
			target[symbol] = TierRESTSlow
		}
	}

	var wsAdds, wsRemoves []string
	for symbol, tier := range target {
		info := s.ensure(symbol)
		if info.Tier == tier {
			continue
		}
		if info.Tier == TierWS {
			wsRemoves = append(wsRemoves, symbol)
			s.stats.Demotions++
		}
		if tier == TierWS {
			wsAdds = append(wsAdds, symbol)
			s.stats.Promotions++
		}
		info.Tier = tier
	}
	// Symbols that fell out of the ranking entirely leave the WS set too.
	for symbol, info := range s.symbols {
		if _, ok := target[symbol]; ok {
			continue
		}
		if info.Tier == TierWS {
			wsRemoves = append(wsRemoves, symbol)
			s.stats.Demotions++
		}
		info.Tier = TierUnassigned
	}

	s.lastReassign = s.now()
	s.stats.TotalReassigns++
	onAdd, onRemove := s.onWSAdd, s.onWSRemove
	s.mu.Unlock()

	for _, symbol := range wsRemoves {
		if onRemove != nil {
			onRemove(symbol)
		}
	}
	for _, symbol := range wsAdds {
		if onAdd != nil {
			onAdd(symbol)
		}
	}
	if len(wsAdds) > 0 || len(wsRemoves) > 0 {
		s.logger.Info().
			Int("ws_adds", len(wsAdds)).
			Int("ws_removes", len(wsRemoves)).
			Int("ranked", len(ranked)).
			Msg("tiers reassigned")
	}
}

// WSSymbols returns the current WS tier membership.
func (s *Scheduler) WSSymbols() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for symbol, info := range s.symbols {
		if info.Tier == TierWS {
			out = append(out, symbol)
		}
	}
	return out
}

// WarmSymbols returns warm symbols in the WS and REST_FAST tiers, the set
// the strategy tick loop iterates.
func (s *Scheduler) WarmSymbols() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for symbol, info := range s.symbols {
		if info.IsWarm && (info.Tier == TierWS || info.Tier == TierRESTFast) {
			out = append(out, symbol)
		}
	}
	return out
}

// Info returns a copy of the per-symbol record.
func (s *Scheduler) Info(symbol string) (SymbolInfo, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	info, ok := s.symbols[symbol]
	if !ok {
		return SymbolInfo{}, false
	}
	return *info, true
}

// Stats returns reassignment counters.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// SetClock overrides the time source for tests.
func (s *Scheduler) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}
