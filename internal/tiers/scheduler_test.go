package tiers

import (
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func testScheduler(cfg Config) *Scheduler {
	return NewScheduler(cfg, zerolog.Nop())
}

func rankedSymbols(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("SYM%03d-USD", i)
	}
	return out
}

func TestReassignTierBoundaries(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Tier1Size = 3
	cfg.Tier2Size = 2
	s := testScheduler(cfg)

	ranked := rankedSymbols(7)
	s.ReassignTiers(ranked)

	wantTiers := []Tier{TierWS, TierWS, TierWS, TierRESTFast, TierRESTFast, TierRESTSlow, TierRESTSlow}
	for i, symbol := range ranked {
		info, ok := s.Info(symbol)
		if !ok {
			t.Fatalf("no record for %s", symbol)
		}
		if info.Tier != wantTiers[i] {
			t.Errorf("rank %d (%s): tier %s, want %s", i, symbol, info.Tier, wantTiers[i])
		}
	}
}

func TestReassignIdempotent(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Tier1Size = 2
	cfg.Tier2Size = 1
	s := testScheduler(cfg)

	var adds, removes []string
	s.SetCallbacks(
		func(sym string) { adds = append(adds, sym) },
		func(sym string) { removes = append(removes, sym) },
	)

	ranked := rankedSymbols(4)
	s.ReassignTiers(ranked)
	firstAdds := len(adds)
	if firstAdds != 2 {
		t.Fatalf("first reassign fired %d adds, want 2", firstAdds)
	}

	// Identical ranking fires no callbacks.
	s.ReassignTiers(ranked)
	if len(adds) != firstAdds || len(removes) != 0 {
		t.Errorf("identical reassign fired callbacks: adds=%d removes=%d", len(adds)-firstAdds, len(removes))
	}

	stats := s.Stats()
	if stats.TotalReassigns != 2 {
		t.Errorf("TotalReassigns = %d, want 2", stats.TotalReassigns)
	}
	if stats.Promotions != 2 {
		t.Errorf("Promotions = %d, want 2", stats.Promotions)
	}
}

func TestReassignRemovesBeforeAdds(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Tier1Size = 1
	cfg.Tier2Size = 1
	s := testScheduler(cfg)

	var order []string
	s.SetCallbacks(
		func(sym string) { order = append(order, "add:"+sym) },
		func(sym string) { order = append(order, "remove:"+sym) },
	)

	s.ReassignTiers([]string{"AAA-USD", "BBB-USD"})
	order = nil

	// BBB takes the WS slot, AAA drops to REST_FAST.
	s.ReassignTiers([]string{"BBB-USD", "AAA-USD"})
	if len(order) != 2 {
		t.Fatalf("callback count = %d, want 2 (%v)", len(order), order)
	}
	if order[0] != "remove:AAA-USD" || order[1] != "add:BBB-USD" {
		t.Errorf("callback order = %v, want remove before add", order)
	}
}

func TestReassignDemotesDroppedSymbols(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Tier1Size = 2
	cfg.Tier2Size = 1
	s := testScheduler(cfg)

	var removes []string
	s.SetCallbacks(nil, func(sym string) { removes = append(removes, sym) })

	s.ReassignTiers([]string{"AAA-USD", "BBB-USD"})
	s.ReassignTiers([]string{"CCC-USD", "DDD-USD"})

	if len(removes) != 2 {
		t.Fatalf("removes = %v, want both old WS symbols", removes)
	}
	for _, sym := range []string{"AAA-USD", "BBB-USD"} {
		info, _ := s.Info(sym)
		if info.Tier != TierUnassigned {
			t.Errorf("%s tier = %s, want UNASSIGNED after falling out", sym, info.Tier)
		}
	}
}

func TestWarmth(t *testing.T) {
	s := testScheduler(DefaultConfig())

	s.UpdateCandleCounts("BTC-USD", 4, 2)
	if s.IsSymbolWarm("BTC-USD") {
		t.Error("4 one-minute bars should not be warm (min 5)")
	}
	s.UpdateCandleCounts("BTC-USD", 5, 1)
	if s.IsSymbolWarm("BTC-USD") {
		t.Error("1 five-minute bar should not be warm (min 2)")
	}
	s.UpdateCandleCounts("BTC-USD", 5, 2)
	if !s.IsSymbolWarm("BTC-USD") {
		t.Error("5x1m and 2x5m should be warm")
	}
	if s.IsSymbolWarm("NEVER-SEEN") {
		t.Error("unknown symbol reported warm")
	}
}

func TestSymbolsNeedingPoll(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Tier1Size = 1
	cfg.Tier2Size = 1
	s := testScheduler(cfg)

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	current := base
	s.SetClock(func() time.Time { return current })

	s.ReassignTiers([]string{"AAA-USD", "BBB-USD", "CCC-USD"})

	// Never polled: both REST tiers are due immediately.
	tier2, tier3 := s.SymbolsNeedingPoll()
	if len(tier2) != 1 || tier2[0] != "BBB-USD" {
		t.Errorf("tier2 due = %v, want [BBB-USD]", tier2)
	}
	if len(tier3) != 1 || tier3[0] != "CCC-USD" {
		t.Errorf("tier3 due = %v, want [CCC-USD]", tier3)
	}

	s.RecordPoll("BBB-USD", 10, 5)
	s.RecordPoll("CCC-USD", 10, 5)

	current = base.Add(16 * time.Second)
	tier2, tier3 = s.SymbolsNeedingPoll()
	if len(tier2) != 1 {
		t.Errorf("tier2 due after 16s = %v, want [BBB-USD]", tier2)
	}
	if len(tier3) != 0 {
		t.Errorf("tier3 due after 16s = %v, want none before 60s", tier3)
	}
}

func TestNeedsReassignCadence(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ReassignInterval = 30 * time.Minute
	s := testScheduler(cfg)

	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	current := base
	s.SetClock(func() time.Time { return current })

	s.ReassignTiers(rankedSymbols(3))
	if s.NeedsReassign() {
		t.Error("reassign due immediately after a reassign")
	}
	current = base.Add(29 * time.Minute)
	if s.NeedsReassign() {
		t.Error("reassign due before the interval elapsed")
	}
	current = base.Add(30 * time.Minute)
	if !s.NeedsReassign() {
		t.Error("reassign not due after the interval")
	}
}

func TestWarmSymbolsExcludesSlowTier(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Tier1Size = 1
	cfg.Tier2Size = 1
	s := testScheduler(cfg)

	s.ReassignTiers([]string{"AAA-USD", "BBB-USD", "CCC-USD"})
	for _, sym := range []string{"AAA-USD", "BBB-USD", "CCC-USD"} {
		s.UpdateCandleCounts(sym, 10, 5)
	}

	warm := s.WarmSymbols()
	if len(warm) != 2 {
		t.Fatalf("warm symbols = %v, want WS and REST_FAST only", warm)
	}
	for _, sym := range warm {
		if sym == "CCC-USD" {
			t.Error("REST_SLOW symbol included in the tick set")
		}
	}
}
