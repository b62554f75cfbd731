// Package gates implements the canonical ordered entry funnel. Every
// signal passes through the same gate sequence; the first failure stops
// evaluation and the full trace up to that point is recorded.
package gates

import (
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"coinbase-trading-bot/internal/candles"
	"coinbase-trading-bot/internal/intel"
	"coinbase-trading-bot/internal/positions"
	"coinbase-trading-bot/internal/risk"
	"coinbase-trading-bot/internal/runtimeconfig"
	"coinbase-trading-bot/internal/strategy"
	"coinbase-trading-bot/internal/tiers"
)

// Reason categorizes a rejection for the funnel histogram.
type Reason string

const (
	ReasonWarmth         Reason = "warmth"
	ReasonRegime         Reason = "regime"
	ReasonScore          Reason = "score"
	ReasonRR             Reason = "rr"
	ReasonLimits         Reason = "limits"
	ReasonSpread         Reason = "spread"
	ReasonTruth          Reason = "truth"
	ReasonCircuitBreaker Reason = "circuit_breaker"
	ReasonWhitelist      Reason = "whitelist"
	ReasonCooldown       Reason = "cooldown"
	ReasonBudget         Reason = "budget"
	ReasonRisk           Reason = "risk"
)

// Check is one gate's outcome inside a trace.
type Check struct {
	Gate    string `json:"gate"`
	Passed  bool   `json:"passed"`
	Reason  Reason `json:"reason,omitempty"`
	Details string `json:"details,omitempty"`
}

// Result is the funnel verdict for one signal.
type Result struct {
	Passed     bool    `json:"passed"`
	FailedGate string  `json:"failed_gate,omitempty"`
	Reason     Reason  `json:"reason,omitempty"`
	Details    string  `json:"details,omitempty"`
	Trace      []Check `json:"trace"`
}

// HoldingsSource reports whether the exchange already holds the symbol's
// base asset, usually the portfolio manager.
type HoldingsSource interface {
	HasExchangeHolding(symbol string) bool
}

// Env carries the per-tick market state the funnel needs beyond its wired
// dependencies.
type Env struct {
	Buffer       *candles.Buffer
	RegimeNormal bool
	BTCTrendOK   bool
	Now          time.Time
}

// Checker evaluates the canonical gate sequence.
type Checker struct {
	store     *runtimeconfig.Store
	daily     *risk.DailyStats
	breaker   *risk.CircuitBreaker
	cooldowns *risk.Cooldowns
	kill      *risk.KillSwitch
	registry  *positions.Registry
	scheduler *tiers.Scheduler
	holdings  HoldingsSource
	intel     intel.Intelligence
	logger    zerolog.Logger
}

func NewChecker(
	store *runtimeconfig.Store,
	daily *risk.DailyStats,
	breaker *risk.CircuitBreaker,
	cooldowns *risk.Cooldowns,
	kill *risk.KillSwitch,
	registry *positions.Registry,
	scheduler *tiers.Scheduler,
	holdings HoldingsSource,
	intelligence intel.Intelligence,
	logger zerolog.Logger,
) *Checker {
	return &Checker{
		store:     store,
		daily:     daily,
		breaker:   breaker,
		cooldowns: cooldowns,
		kill:      kill,
		registry:  registry,
		scheduler: scheduler,
		holdings:  holdings,
		intel:     intelligence,
		logger:    logger.With().Str("component", "gates").Logger(),
	}
}

type gate struct {
	name string
	eval func(sig *strategy.Signal, env *Env) (bool, Reason, string)
}

// Evaluate runs the funnel in canonical order, short-circuiting on the
// first failure while recording the complete trace up to it.
func (c *Checker) Evaluate(sig *strategy.Signal, env *Env) Result {
	sequence := []gate{
		{"daily_loss_limit", c.gateDailyLossLimit},
		{"pause_new_entries", c.gatePauseNewEntries},
		{"circuit_breaker", c.gateCircuitBreaker},
		{"signal_type", c.gateSignalType},
		{"duplicate_position", c.gateDuplicatePosition},
		{"stablecoin_filter", c.gateStablecoinFilter},
		{"exchange_holdings", c.gateExchangeHoldings},
		{"cooldown", c.gateCooldown},
		{"warmth", c.gateWarmth},
		{"symbol_exposure", c.gateSymbolExposure},
		{"position_limits", c.gatePositionLimits},
		{"spread_filter", c.gateSpreadFilter},
		{"whitelist", c.gateWhitelist},
		{"spread_score", c.gateSpreadScore},
		{"entry_score", c.gateEntryScore},
		{"trading_halted", c.gateTradingHalted},
		{"predictive_timing", c.gatePredictiveTiming},
		{"registry_limits", c.gateRegistryLimits},
	}

	result := Result{Trace: make([]Check, 0, len(sequence))}
	for _, g := range sequence {
		passed, reason, details := g.eval(sig, env)
		result.Trace = append(result.Trace, Check{Gate: g.name, Passed: passed, Reason: reason, Details: details})
		if !passed {
			result.FailedGate = g.name
			result.Reason = reason
			result.Details = details
			c.logger.Debug().
				Str("symbol", sig.Symbol).
				Str("gate", g.name).
				Str("reason", string(reason)).
				Str("details", details).
				Msg("signal blocked")
			return result
		}
	}
	result.Passed = true
	return result
}

// 1: daily loss limit.
func (c *Checker) gateDailyLossLimit(sig *strategy.Signal, env *Env) (bool, Reason, string) {
	cfg := c.store.Config()
	pnl := c.daily.TotalPnL()
	if pnl <= -cfg.DailyMaxLossUSD {
		return false, ReasonRisk, fmt.Sprintf("daily pnl %.2f at loss limit %.2f", pnl, cfg.DailyMaxLossUSD)
	}
	return true, "", ""
}

// 2: manual pause.
func (c *Checker) gatePauseNewEntries(sig *strategy.Signal, env *Env) (bool, Reason, string) {
	if c.store.PauseNewEntries() {
		return false, ReasonRisk, "new entries paused"
	}
	if engaged, reason := c.kill.Engaged(); engaged {
		return false, ReasonRisk, "kill switch engaged: " + reason
	}
	return true, "", ""
}

// 3: trading circuit breaker.
func (c *Checker) gateCircuitBreaker(sig *strategy.Signal, env *Env) (bool, Reason, string) {
	if ok, reason := c.breaker.CanTrade(); !ok {
		return false, ReasonCircuitBreaker, reason
	}
	return true, "", ""
}

// 4: only recognized signal types proceed.
func (c *Checker) gateSignalType(sig *strategy.Signal, env *Env) (bool, Reason, string) {
	if !strategy.AcceptedSignalTypes[sig.StrategyID] {
		return false, ReasonScore, fmt.Sprintf("unrecognized signal type %q", sig.StrategyID)
	}
	return true, "", ""
}

// 5: no doubling up unless the stacking rules hold.
func (c *Checker) gateDuplicatePosition(sig *strategy.Signal, env *Env) (bool, Reason, string) {
	if !c.registry.HasActive(sig.Symbol) {
		return true, "", ""
	}
	if ok, detail := c.stackingAllowed(sig, env); !ok {
		return false, ReasonLimits, "position already open: " + detail
	}
	return true, "", ""
}

// stackingAllowed implements the add-to-winner rule: enabled, in profit
// past the threshold, under the add cap, and riding a green 1m streak.
func (c *Checker) stackingAllowed(sig *strategy.Signal, env *Env) (bool, string) {
	cfg := c.store.Config()
	if !cfg.StackingEnabled {
		return false, "stacking disabled"
	}
	pos, ok := c.registry.Get(sig.Symbol)
	if !ok {
		return false, "untracked holding"
	}
	if pos.PnLPercent() < cfg.StackingMinProfitPct {
		return false, fmt.Sprintf("pnl %.2f%% below stacking threshold %.2f%%", pos.PnLPercent(), cfg.StackingMinProfitPct)
	}
	if pos.StackCount >= cfg.StackingMaxAdds {
		return false, fmt.Sprintf("stack count %d at cap", pos.StackCount)
	}
	if env.Buffer == nil || env.Buffer.GreenStreak(candles.TF1m) < cfg.StackingGreenCandles {
		return false, fmt.Sprintf("green streak below %d", cfg.StackingGreenCandles)
	}
	return true, ""
}

// 6: never trade stablecoin bases.
func (c *Checker) gateStablecoinFilter(sig *strategy.Signal, env *Env) (bool, Reason, string) {
	cfg := c.store.Config()
	base := baseAsset(sig.Symbol)
	for _, s := range cfg.Stablecoins {
		if strings.EqualFold(base, s) {
			return false, ReasonLimits, "stablecoin base " + base
		}
	}
	return true, "", ""
}

// 7: an untracked exchange holding blocks entry unless stacking applies.
func (c *Checker) gateExchangeHoldings(sig *strategy.Signal, env *Env) (bool, Reason, string) {
	if c.holdings == nil || !c.holdings.HasExchangeHolding(sig.Symbol) {
		return true, "", ""
	}
	if c.registry.HasActive(sig.Symbol) {
		// Tracked holding: Gate 5 already ruled on stacking.
		return true, "", ""
	}
	pos, ok := c.registry.Get(sig.Symbol)
	if ok && pos.CurrentValue() < c.store.Config().DustThresholdUSD {
		return true, "", ""
	}
	return false, ReasonLimits, "untracked exchange holding"
}

// 8: hard cooldown window after the last order on the symbol.
func (c *Checker) gateCooldown(sig *strategy.Signal, env *Env) (bool, Reason, string) {
	if in, remaining := c.cooldowns.InHardCooldown(sig.Symbol); in {
		return false, ReasonCooldown, fmt.Sprintf("cooldown %s remaining", remaining.Round(time.Second))
	}
	return true, "", ""
}

// 9: only warm symbols trade.
func (c *Checker) gateWarmth(sig *strategy.Signal, env *Env) (bool, Reason, string) {
	if !c.scheduler.IsSymbolWarm(sig.Symbol) {
		return false, ReasonWarmth, "symbol not warm"
	}
	if env.Buffer != nil && env.Buffer.HasGap(candles.TF1m) {
		return false, ReasonWarmth, "candle gap on 1m"
	}
	return true, "", ""
}

// 10: per-symbol exposure cap, strict >=.
func (c *Checker) gateSymbolExposure(sig *strategy.Signal, env *Env) (bool, Reason, string) {
	cfg := c.store.Config()
	basis := c.registry.SymbolCostBasis(sig.Symbol)
	if basis >= cfg.PerSymbolCapUSD {
		return false, ReasonLimits, fmt.Sprintf("symbol cost basis %.2f at cap %.2f", basis, cfg.PerSymbolCapUSD)
	}
	return true, "", ""
}

// 11: intelligence sector/total caps.
func (c *Checker) gatePositionLimits(sig *strategy.Signal, env *Env) (bool, Reason, string) {
	active := c.registry.Active()
	c.intel.UpdateSectorCounts(active)
	if ok, reason := c.intel.CheckPositionLimits(sig.Symbol, 0, active); !ok {
		return false, ReasonLimits, reason
	}
	return true, "", ""
}

// 12: spread filter, inclusive at the bound.
func (c *Checker) gateSpreadFilter(sig *strategy.Signal, env *Env) (bool, Reason, string) {
	cfg := c.store.Config()
	if sig.SpreadBps > cfg.SpreadMaxBps {
		return false, ReasonSpread, fmt.Sprintf("spread %.1f bps above max %.1f", sig.SpreadBps, cfg.SpreadMaxBps)
	}
	return true, "", ""
}

// 13: whitelist when enabled.
func (c *Checker) gateWhitelist(sig *strategy.Signal, env *Env) (bool, Reason, string) {
	cfg := c.store.Config()
	if !cfg.WhitelistEnabled {
		return true, "", ""
	}
	base := baseAsset(sig.Symbol)
	for _, w := range cfg.Whitelist {
		if strings.EqualFold(base, w) || strings.EqualFold(sig.Symbol, w) {
			return true, "", ""
		}
	}
	return false, ReasonWhitelist, "not whitelisted"
}

// 14: a wide spread demands extra score headroom.
func (c *Checker) gateSpreadScore(sig *strategy.Signal, env *Env) (bool, Reason, string) {
	cfg := c.store.Config()
	if sig.SpreadBps > cfg.SpreadMaxBps*0.75 && sig.EdgeScoreBase < cfg.EntryScoreMin+5 {
		return false, ReasonSpread, fmt.Sprintf("spread %.1f bps requires score >= %.0f", sig.SpreadBps, cfg.EntryScoreMin+5)
	}
	return true, "", ""
}

// 15: the entry score threshold. A failure in a non-normal regime with BTC
// trending badly is classified regime, not score, to keep the histogram
// honest.
func (c *Checker) gateEntryScore(sig *strategy.Signal, env *Env) (bool, Reason, string) {
	cfg := c.store.Config()
	if sig.EdgeScoreBase >= cfg.EntryScoreMin {
		return true, "", ""
	}
	details := fmt.Sprintf("score %.1f below min %.1f", sig.EdgeScoreBase, cfg.EntryScoreMin)
	if !env.RegimeNormal && !env.BTCTrendOK {
		return false, ReasonRegime, details + " in adverse regime"
	}
	return false, ReasonScore, details
}

// 16: intelligence halt.
func (c *Checker) gateTradingHalted(sig *strategy.Signal, env *Env) (bool, Reason, string) {
	if halted, reason := c.intel.IsTradingHalted(); halted {
		return false, ReasonRisk, "trading halted: " + reason
	}
	return true, "", ""
}

// 17: don't-chase veto.
func (c *Checker) gatePredictiveTiming(sig *strategy.Signal, env *Env) (bool, Reason, string) {
	es := c.intel.ScoreEntry(sig.Symbol, sig.EdgeScoreBase)
	if es.DontChase {
		return false, ReasonScore, "predictive timing veto: " + es.Reason
	}
	return true, "", ""
}

// 18: rough registry capacity check before sizing.
func (c *Checker) gateRegistryLimits(sig *strategy.Signal, env *Env) (bool, Reason, string) {
	if ok, reason := c.registry.CanOpenPosition(sig.StrategyID, ""); !ok {
		return false, ReasonLimits, reason
	}
	return true, "", ""
}

func baseAsset(symbol string) string {
	if i := strings.IndexByte(symbol, '-'); i > 0 {
		return symbol[:i]
	}
	return symbol
}
