// Package engine is the coordinator: it owns the tick loop that walks
// warm symbols through features, strategies, the gate funnel, sizing, and
// execution, plus the cadence jobs and the control command queue.
package engine

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"coinbase-trading-bot/config"
	"coinbase-trading-bot/internal/backfill"
	"coinbase-trading-bot/internal/candles"
	"coinbase-trading-bot/internal/collector"
	"coinbase-trading-bot/internal/events"
	"coinbase-trading-bot/internal/features"
	"coinbase-trading-bot/internal/gates"
	"coinbase-trading-bot/internal/intel"
	"coinbase-trading-bot/internal/paths"
	"coinbase-trading-bot/internal/planner"
	"coinbase-trading-bot/internal/portfolio"
	"coinbase-trading-bot/internal/positions"
	"coinbase-trading-bot/internal/risk"
	"coinbase-trading-bot/internal/router"
	"coinbase-trading-bot/internal/runtimeconfig"
	"coinbase-trading-bot/internal/strategy"
	"coinbase-trading-bot/internal/tiers"
	"coinbase-trading-bot/internal/universe"
)

const (
	btcSymbol = "BTC-USD"
	// Regime thresholds on the BTC 1h trend percentage.
	regimeRiskOffPct = -2.5
	btcTrendOKPct    = -1.0

	traceRingCap  = 50
	signalRingCap = 50
	statusEvery   = 15
)

// Deps bundles everything the engine coordinates. Construction and wiring
// happen in main; the engine only drives.
type Deps struct {
	Cfg        *config.Settings
	Layout     *paths.Layout
	Store      *runtimeconfig.Store
	Bus        *events.Bus
	Buffers    *collector.Buffers
	Health     *collector.Health
	CandleLog  *candles.Store
	Scheduler  *tiers.Scheduler
	Scanner    *universe.Scanner
	Features   *features.Engine
	Strategies *strategy.Orchestrator
	Gates      *gates.Checker
	Planner    *planner.Planner
	Router     *router.Router
	Monitor    *router.Monitor
	Batcher    *router.Batcher
	Stops      *router.StopManager
	Backfiller *backfill.Backfiller
	WS         *collector.WSCollector
	REST       *collector.RESTPoller
	Portfolio  portfolio.Manager
	Registry   *positions.Registry
	Daily      *risk.DailyStats
	Breaker    *risk.CircuitBreaker
	Cooldowns  *risk.Cooldowns
	Kill       *risk.KillSwitch
	Rejections *risk.RejectionTracker
	Intel      intel.Intelligence
}

// Engine runs the trading loop.
type Engine struct {
	d      Deps
	logger zerolog.Logger

	commands chan *Command

	mu         sync.Mutex
	ranked     []string
	phase      string
	traces     []TraceRecord
	signals    []SignalRecord
	tickCount  uint64
	startedAt  time.Time
	lastStatus time.Time
	now        func() time.Time
}

// TraceRecord is one retained gate-funnel outcome.
type TraceRecord struct {
	Symbol string       `json:"symbol"`
	Result gates.Result `json:"result"`
	At     time.Time    `json:"at"`
}

// SignalRecord is one retained winning signal, pre-funnel.
type SignalRecord struct {
	Symbol   string    `json:"symbol"`
	Strategy string    `json:"strategy"`
	Score    float64   `json:"score"`
	Reason   string    `json:"reason"`
	At       time.Time `json:"at"`
}

func New(d Deps, logger zerolog.Logger) *Engine {
	return &Engine{
		d:        d,
		commands: make(chan *Command, 32),
		phase:    "boot",
		now:      time.Now,
		logger:   logger.With().Str("component", "engine").Logger(),
	}
}

// Run starts the collectors, cadence jobs, and the tick loop, blocking
// until ctx cancels. Shutdown flushes candles and persists state.
func (e *Engine) Run(ctx context.Context) error {
	e.mu.Lock()
	e.startedAt = e.now()
	e.phase = "warming"
	e.mu.Unlock()

	go e.d.WS.Run(ctx)
	go e.d.REST.Run(ctx)
	go e.d.Backfiller.Run(ctx)

	// First universe build before the loop so the tier scheduler has a
	// ranked list to hand symbols out from.
	e.rebuildUniverse(ctx)

	c := cron.New()
	interval := time.Duration(e.d.Cfg.UniverseInterval) * time.Second
	if interval <= 0 {
		interval = 30 * time.Minute
	}
	c.Schedule(cron.Every(interval), cron.FuncJob(func() { e.rebuildUniverse(ctx) }))
	stopEvery := time.Duration(e.d.Cfg.StopHealthCheckS) * time.Second
	if stopEvery <= 0 {
		stopEvery = time.Minute
	}
	if e.d.Stops != nil {
		c.Schedule(cron.Every(stopEvery), cron.FuncJob(func() { e.d.Stops.CheckAndRearm(ctx) }))
	}
	c.Start()
	defer c.Stop()

	e.d.Bus.EmitEngine("started", map[string]interface{}{
		"mode":  string(e.d.Cfg.Mode),
		"tier1": e.d.Cfg.Tier1Size,
	})

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			e.shutdown()
			return ctx.Err()
		case cmd := <-e.commands:
			e.handleCommand(ctx, cmd)
		case <-ticker.C:
			e.tick(ctx)
		}
	}
}

func (e *Engine) tick(ctx context.Context) {
	e.d.Store.ReloadIfChanged()
	e.d.Daily.CheckReset()
	e.d.Intel.UpdateSectorCounts(e.d.Registry.Active())

	e.mu.Lock()
	e.tickCount++
	ranked := e.ranked
	tickCount := e.tickCount
	e.mu.Unlock()

	if e.d.Scheduler.NeedsReassign() && len(ranked) > 0 {
		e.d.Scheduler.ReassignTiers(ranked)
	}

	regime := e.regime()
	for _, symbol := range e.d.Scheduler.WarmSymbols() {
		if ctx.Err() != nil {
			return
		}
		e.evaluateSymbol(ctx, symbol, regime)
	}

	e.d.Monitor.Tick(ctx)

	if e.d.Batcher.Enabled() && e.d.Batcher.Due() {
		e.flushBatch(ctx)
	}

	if tickCount%statusEvery == 0 {
		e.writeStatus()
	}
}

// regimeContext carries the per-tick BTC backdrop shared by every symbol.
type regimeContext struct {
	btcTrend1h float64
	trendOK    bool
	normal     bool
}

func (e *Engine) regime() regimeContext {
	rc := regimeContext{trendOK: true, normal: true}
	buf := e.d.Buffers.Buffer(btcSymbol)
	v := e.d.Features.Compute(buf)
	if v == nil {
		return rc
	}
	rc.btcTrend1h = v.Trend1h
	rc.trendOK = v.Trend1h > btcTrendOKPct
	rc.normal = v.Trend1h > regimeRiskOffPct
	return rc
}

func (e *Engine) evaluateSymbol(ctx context.Context, symbol string, rc regimeContext) {
	buf := e.d.Buffers.Buffer(symbol)
	feats := e.d.Features.Compute(buf)
	if feats == nil {
		return
	}
	now := e.now()
	if feats.Stale(now) {
		return
	}

	mc := &strategy.Context{
		BTCTrend1h: rc.btcTrend1h,
		BTCTrendOK: rc.trendOK,
		Burst:      e.d.Scanner.Burst(symbol),
		Now:        now,
	}
	sig := e.d.Strategies.Evaluate(buf, feats, mc)
	if sig == nil {
		return
	}
	e.recordSignal(sig, now)

	env := &gates.Env{
		Buffer:       buf,
		RegimeNormal: rc.normal,
		BTCTrendOK:   rc.trendOK,
		Now:          now,
	}
	res := e.d.Gates.Evaluate(sig, env)
	e.recordTrace(symbol, res, now)
	if !res.Passed {
		if e.d.Rejections.Record(symbol, res.FailedGate, res.Details) {
			e.d.Bus.EmitRejection(symbol, res.FailedGate, res.Details)
		}
		return
	}

	plan, fail := e.d.Planner.Plan(sig)
	if fail != nil {
		if e.d.Rejections.Record(symbol, string(fail.Reason), fail.Details) {
			e.d.Bus.EmitRejection(symbol, string(fail.Reason), fail.Details)
		}
		return
	}

	if e.d.Batcher.Enabled() {
		e.d.Batcher.Add(plan)
		return
	}
	e.execute(ctx, plan)
}

func (e *Engine) execute(ctx context.Context, plan *planner.TradePlan) {
	if _, err := e.d.Router.Execute(ctx, plan); err != nil {
		e.logger.Warn().Err(err).Str("symbol", plan.Signal.Symbol).Msg("entry failed")
	}
}

func (e *Engine) flushBatch(ctx context.Context) {
	slots := e.d.Store.Config().MaxPositions - e.d.Registry.ActiveCount()
	for _, plan := range e.d.Batcher.Flush(slots) {
		if ctx.Err() != nil {
			return
		}
		e.execute(ctx, plan)
	}
}

func (e *Engine) rebuildUniverse(ctx context.Context) {
	ranked, err := e.d.Scanner.Rebuild(ctx)
	if err != nil {
		e.logger.Warn().Err(err).Msg("universe rebuild failed")
		return
	}
	e.d.Scheduler.ReassignTiers(ranked)

	e.mu.Lock()
	e.ranked = ranked
	if e.phase == "warming" && len(ranked) > 0 {
		e.phase = "trading"
	}
	e.mu.Unlock()

	e.logger.Info().Int("symbols", len(ranked)).Msg("universe rebuilt")
}

// OnBackfillComplete is installed as the backfiller hook: a symbol that
// just reached warmth gets an immediate evaluation pass.
func (e *Engine) OnBackfillComplete(symbol string) {
	if !e.d.Scheduler.IsSymbolWarm(symbol) {
		return
	}
	e.evaluateSymbol(context.Background(), symbol, e.regime())
}

func (e *Engine) recordSignal(sig *strategy.Signal, now time.Time) {
	rec := SignalRecord{
		Symbol:   sig.Symbol,
		Strategy: string(sig.StrategyID),
		Score:    sig.EdgeScoreBase,
		Reason:   sig.Reason,
		At:       now,
	}
	e.mu.Lock()
	e.signals = append(e.signals, rec)
	if len(e.signals) > signalRingCap {
		e.signals = e.signals[len(e.signals)-signalRingCap:]
	}
	e.mu.Unlock()
}

func (e *Engine) recordTrace(symbol string, res gates.Result, now time.Time) {
	e.mu.Lock()
	e.traces = append(e.traces, TraceRecord{Symbol: symbol, Result: res, At: now})
	if len(e.traces) > traceRingCap {
		e.traces = e.traces[len(e.traces)-traceRingCap:]
	}
	e.mu.Unlock()
}

func (e *Engine) shutdown() {
	e.logger.Info().Msg("shutting down")
	e.mu.Lock()
	e.phase = "stopped"
	e.mu.Unlock()

	e.d.CandleLog.FlushAll()
	e.d.Registry.Save()
	e.d.Cooldowns.Save()
	e.writeStatus()
	e.d.Bus.EmitEngine("stopped", map[string]interface{}{
		"positions_open": e.d.Registry.ActiveCount(),
	})
}

// SetClock overrides the time source for tests.
func (e *Engine) SetClock(now func() time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.now = now
}
