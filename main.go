package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"coinbase-trading-bot/config"
	"coinbase-trading-bot/internal/backfill"
	"coinbase-trading-bot/internal/candles"
	"coinbase-trading-bot/internal/coinbase"
	"coinbase-trading-bot/internal/collector"
	"coinbase-trading-bot/internal/engine"
	"coinbase-trading-bot/internal/events"
	"coinbase-trading-bot/internal/exchange"
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
	"coinbase-trading-bot/internal/server"
	"coinbase-trading-bot/internal/strategy"
	"coinbase-trading-bot/internal/tiers"
	"coinbase-trading-bot/internal/universe"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg)
	logger.Info().Str("mode", string(cfg.Mode)).Msg("starting")

	layout := paths.NewLayout(cfg.DataRoot, cfg.LogsRoot, string(cfg.Mode))
	if err := layout.EnsureDirs(); err != nil {
		logger.Fatal().Err(err).Msg("data directories")
	}

	lock, err := paths.AcquireLock(layout.StateFile("bot.pid"))
	if err != nil {
		logger.Fatal().Err(err).Msg("another instance holds the lock")
	}
	defer lock.Release()

	// Market data always comes from the real venue, paper mode included.
	if cfg.APIKey == "" || cfg.APISecret == "" {
		logger.Fatal().Msg("COINBASE_API_KEY and COINBASE_API_SECRET are required for market data")
	}
	client, err := coinbase.NewClient(cfg.APIKey, cfg.APISecret, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("coinbase client")
	}

	deps := build(cfg, layout, client, logger)
	eng := engine.New(deps, logger)
	deps.Backfiller.SetOnComplete(eng.OnBackfillComplete)

	srv := server.New(eng, deps.Store, deps.Bus, cfg, logger)
	srv.Start()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := eng.Run(ctx); err != nil && ctx.Err() == nil {
		logger.Error().Err(err).Msg("engine stopped")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("server shutdown")
	}
	logger.Info().Msg("stopped")
}

// build wires every component. Paper and live differ only in the portfolio
// manager and the executor.
func build(cfg *config.Settings, layout *paths.Layout, client exchange.Client, logger zerolog.Logger) engine.Deps {
	store := runtimeconfig.NewStore(cfg,
		layout.StateFile("runtime_config.json"),
		layout.StateFile("config_audit.jsonl"),
		logger)
	bus := events.NewBus(layout, string(cfg.Mode), logger)

	daily := risk.NewDailyStats(layout.StateFile("daily_stats.json"), logger)
	breaker := risk.NewCircuitBreaker(cfg.BreakerMaxFailures,
		time.Duration(cfg.BreakerResetAfterS)*time.Second, logger)
	cooldowns := risk.NewCooldowns(layout.StateFile("cooldowns.json"),
		time.Duration(cfg.CooldownMinSeconds)*time.Second,
		time.Duration(cfg.CooldownSoftSeconds)*time.Second,
		logger)
	kill := risk.NewKillSwitch()
	rejections := risk.NewRejectionTracker()

	registry := positions.NewRegistry(layout.StateFile("positions.json"), positions.Limits{
		MaxPositions:      cfg.MaxPositions,
		MaxWhalePositions: cfg.MaxWhalePositions,
		MinHoldSeconds:    cfg.MinHoldSeconds,
		DustThresholdUSD:  cfg.DustThresholdUSD,
	}, logger)

	scheduler := tiers.NewScheduler(tiers.Config{
		Tier1Size:        cfg.Tier1Size,
		Tier2Size:        cfg.Tier2Size,
		Tier2Interval:    time.Duration(cfg.Tier2IntervalS) * time.Second,
		Tier3Interval:    time.Duration(cfg.Tier3IntervalS) * time.Second,
		ReassignInterval: time.Duration(cfg.ReassignInterval) * time.Second,
		MinCandles1m:     cfg.MinCandles1m,
		MinCandles5m:     cfg.MinCandles5m,
	}, logger)

	candleLog := candles.NewStore(layout.CandlesDir(), logger)
	health := collector.NewHealth()
	buffers := collector.NewBuffers(candleLog, scheduler, health)

	scanner := universe.NewScanner(universe.Config{
		MinVolume24hUSD: cfg.MinVolume24hUSD,
		SpreadMaxBps:    cfg.SpreadMaxBps,
		Stablecoins:     cfg.Stablecoins,
		IgnoredSymbols:  cfg.IgnoredSymbols,
		WatchCoins:      cfg.WatchCoins,
	}, client, buffers, logger)

	featEngine := features.NewEngine(scanner)
	orchestrator := strategy.NewOrchestrator(strategy.DefaultStrategies(), cfg.ConfluenceBoost, logger)
	intelligence := intel.Permissive{}

	var pm portfolio.Manager
	if cfg.Mode == config.ModeLive {
		pm = portfolio.NewLiveManager(client, time.Duration(cfg.TruthStalenessS)*time.Second, logger)
	} else {
		pm = portfolio.NewPaperManager(layout.StateFile("paper_state.json"),
			cfg.PaperStartBalance, cfg.PaperResetState, client, logger)
	}

	checker := gates.NewChecker(store, daily, breaker, cooldowns, kill,
		registry, scheduler, pm, intelligence, logger)
	plnr := planner.New(store, registry, pm, &tierClassifier{scanner: scanner}, intelligence, logger)

	var executor router.Executor
	var liveExec *router.LiveExecutor
	if cfg.Mode == config.ModeLive {
		liveExec = router.NewLiveExecutor(client, cfg.UseLimitOrders, cfg.LimitBufferPct, logger)
		executor = liveExec
	} else {
		paper := pm.(*portfolio.PaperManager)
		executor = router.NewPaperExecutor(paper, buffers.LastPrice, cfg.PaperSlippageBps, logger)
	}

	rtr := router.New(store, executor, registry, bus, cooldowns, breaker, daily, orchestrator, logger)
	monitor := router.NewMonitor(store, rtr, registry, buffers.LastPrice, func(symbol string) *features.Vector {
		return featEngine.Compute(buffers.Buffer(symbol))
	}, logger)
	batcher := router.NewBatcher(time.Duration(cfg.BatchWindowSeconds)*time.Second, cfg.BatchMaxNew)
	var stops *router.StopManager
	if liveExec != nil {
		stops = router.NewStopManager(store, liveExec, registry, logger)
	}

	tokens, _ := client.(collector.TokenSource)
	ws := collector.NewWSCollector(buffers, health, tokens, logger)
	rest := collector.NewRESTPoller(client, scheduler, buffers, health, logger)
	backfiller := backfill.New(client, buffers, scheduler, logger)

	scheduler.SetCallbacks(
		func(symbol string) {
			ws.Subscribe(symbol)
			backfiller.Request(symbol)
		},
		func(symbol string) {
			ws.Unsubscribe(symbol)
		},
	)

	// Open positions get their buffers seeded from disk so warmth survives
	// a restart.
	seed := make(map[string]*candles.Buffer)
	seed[engineBTC] = buffers.Buffer(engineBTC)
	for _, pos := range registry.Active() {
		seed[pos.Symbol] = buffers.Buffer(pos.Symbol)
	}
	candleLog.RehydrateBuffers(seed, 24*time.Hour)

	return engine.Deps{
		Cfg:        cfg,
		Layout:     layout,
		Store:      store,
		Bus:        bus,
		Buffers:    buffers,
		Health:     health,
		CandleLog:  candleLog,
		Scheduler:  scheduler,
		Scanner:    scanner,
		Features:   featEngine,
		Strategies: orchestrator,
		Gates:      checker,
		Planner:    plnr,
		Router:     rtr,
		Monitor:    monitor,
		Batcher:    batcher,
		Stops:      stops,
		Backfiller: backfiller,
		WS:         ws,
		REST:       rest,
		Portfolio:  pm,
		Registry:   registry,
		Daily:      daily,
		Breaker:    breaker,
		Cooldowns:  cooldowns,
		Kill:       kill,
		Rejections: rejections,
		Intel:      intelligence,
	}
}

const engineBTC = "BTC-USD"

// tierClassifier maps the universe scanner's size label onto the stop
// geometry classes.
type tierClassifier struct {
	scanner *universe.Scanner
}

func (tc *tierClassifier) AssetClass(symbol string) planner.AssetClass {
	info, ok := tc.scanner.Info(symbol)
	if !ok {
		return planner.ClassUnknown
	}
	switch info.TierLabel {
	case "large":
		return planner.ClassLarge
	case "mid":
		return planner.ClassMid
	case "small":
		if info.Volume24hUSD > 0 && info.Volume24hUSD < 3_000_000 {
			return planner.ClassMicro
		}
		return planner.ClassSmall
	}
	return planner.ClassUnknown
}

func newLogger(cfg *config.Settings) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	var out = os.Stdout
	logger := zerolog.New(out).Level(level).With().Timestamp().Logger()
	if !cfg.LogJSON {
		logger = logger.Output(zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339})
	}
	return logger
}
