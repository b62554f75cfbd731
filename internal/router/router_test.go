package router

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"coinbase-trading-bot/config"
	"coinbase-trading-bot/internal/events"
	"coinbase-trading-bot/internal/paths"
	"coinbase-trading-bot/internal/planner"
	"coinbase-trading-bot/internal/positions"
	"coinbase-trading-bot/internal/risk"
	"coinbase-trading-bot/internal/runtimeconfig"
	"coinbase-trading-bot/internal/strategy"
)

type stubExecutor struct {
	fill *Fill
	err  error
}

func (s *stubExecutor) ExecuteEntry(ctx context.Context, plan *planner.TradePlan) (*Fill, error) {
	return s.fill, s.err
}

func (s *stubExecutor) ClosePortion(ctx context.Context, pos *positions.Position, fraction float64, reason string) (float64, float64, error) {
	return pos.CurrentPrice, 0, nil
}

func newRouter(t *testing.T, exec Executor, reg *positions.Registry) (*Router, *positions.Registry) {
	t.Helper()
	dir := t.TempDir()
	cfg := &config.Settings{Mode: config.ModePaper, TrailLockPct: 0.01}
	store := runtimeconfig.NewStore(cfg,
		filepath.Join(dir, "runtime_config.json"),
		filepath.Join(dir, "audit.jsonl"), zerolog.Nop())
	if reg == nil {
		reg = positions.NewRegistry(filepath.Join(dir, "positions.json"), positions.Limits{
			MaxPositions:      8,
			MaxWhalePositions: 1,
			DustThresholdUSD:  1,
		}, zerolog.Nop())
	}
	bus := events.NewBus(paths.NewLayout(filepath.Join(dir, "data"), filepath.Join(dir, "logs"), "paper"), "paper", zerolog.Nop())
	cooldowns := risk.NewCooldowns(filepath.Join(dir, "cooldowns.json"), 3*time.Minute, 10*time.Minute, zerolog.Nop())
	breaker := risk.NewCircuitBreaker(5, 15*time.Minute, zerolog.Nop())
	daily := risk.NewDailyStats(filepath.Join(dir, "daily.json"), zerolog.Nop())
	return New(store, exec, reg, bus, cooldowns, breaker, daily, nil, zerolog.Nop()), reg
}

func entryPlan(symbol string) *planner.TradePlan {
	return &planner.TradePlan{
		Signal: &strategy.Signal{
			Symbol:        symbol,
			StrategyID:    strategy.SignalMomentum1h,
			Direction:     "LONG",
			EdgeScoreBase: 70,
			EntryPrice:    100,
		},
		SizeUSD:     100,
		StopPrice:   97,
		TP1Price:    105,
		TP2Price:    110,
		TimeStopMin: 240,
		Tier:        planner.TierNormal,
	}
}

func TestExecuteOpensPosition(t *testing.T) {
	exec := &stubExecutor{fill: &Fill{Price: 100, Qty: 1, CostUSD: 100}}
	r, reg := newRouter(t, exec, nil)

	pos, err := r.Execute(context.Background(), entryPlan("XYZ-USD"))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if pos.Symbol != "XYZ-USD" || pos.SizeQty != 1 || pos.StackCount != 0 {
		t.Errorf("position = %+v, want a fresh single-entry position", pos)
	}
	if !reg.HasActive("XYZ-USD") {
		t.Error("position not registered")
	}
}

func TestExecuteStackReturnsUpdatedPosition(t *testing.T) {
	exec := &stubExecutor{fill: &Fill{Price: 110, Qty: 1, CostUSD: 110}}
	r, reg := newRouter(t, exec, nil)

	if err := reg.Add(&positions.Position{
		Symbol:     "XYZ-USD",
		Side:       "BUY",
		EntryPrice: 100,
		EntryTime:  time.Now().UTC(),
		SizeQty:    1,
		SizeUSD:    100,
		CostBasis:  100,
		StrategyID: strategy.SignalMomentum1h,
		SizingTier: "normal",
		State:      positions.StateOpen,
	}); err != nil {
		t.Fatalf("seed position: %v", err)
	}

	pos, err := r.Execute(context.Background(), entryPlan("XYZ-USD"))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if pos.StackCount != 1 {
		t.Errorf("StackCount = %d, want 1 after the add", pos.StackCount)
	}
	if pos.SizeQty != 2 {
		t.Errorf("SizeQty = %v, want 2", pos.SizeQty)
	}
	if pos.CostBasis != 210 {
		t.Errorf("CostBasis = %v, want 210", pos.CostBasis)
	}
	if pos.EntryPrice != 105 {
		t.Errorf("EntryPrice = %v, want the 105 blend", pos.EntryPrice)
	}

	stored, ok := reg.Get("XYZ-USD")
	if !ok || stored.StackCount != pos.StackCount || stored.SizeQty != pos.SizeQty {
		t.Errorf("registry state %+v does not match the returned position %+v", stored, pos)
	}
}
