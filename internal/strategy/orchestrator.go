package strategy

import (
	"math"

	"github.com/rs/zerolog"

	"coinbase-trading-bot/internal/candles"
	"coinbase-trading-bot/internal/features"
)

// Orchestrator runs every enabled strategy for a symbol and merges the
// candidates into at most one signal per tick.
type Orchestrator struct {
	strategies      []Strategy
	confluenceBoost float64
	logger          zerolog.Logger
}

// DefaultStrategies returns the full built-in set.
func DefaultStrategies() []Strategy {
	return []Strategy{
		BurstFlag{},
		VWAPReclaim{},
		MeanReversion{},
		DailyMomentum{},
		RangeBreakout{},
		RelativeStrength{},
		SupportBounce{},
		GapFill{},
		NewBreakoutRetest(),
		CorrelationPlay{},
		LiquiditySweep{},
		Momentum1h{},
		RSIMomentum{},
		BBExpansion{},
	}
}

func NewOrchestrator(strategies []Strategy, confluenceBoost float64, logger zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		strategies:      strategies,
		confluenceBoost: confluenceBoost,
		logger:          logger.With().Str("component", "orchestrator").Logger(),
	}
}

// SetConfluenceBoost applies a runtime config change.
func (o *Orchestrator) SetConfluenceBoost(boost float64) {
	o.confluenceBoost = boost
}

// Evaluate runs all strategies and picks the best candidate by
// edge_score_base. With two or more independent candidates the winner gets
// the confluence boost; a lone candidate is marked solo.
func (o *Orchestrator) Evaluate(buf *candles.Buffer, feats *features.Vector, mc *Context) *Signal {
	var candidates []*Signal
	for _, strat := range o.strategies {
		sig := strat.Analyze(buf, feats, mc)
		if sig.Valid() {
			candidates = append(candidates, sig)
		}
	}
	if len(candidates) == 0 {
		return nil
	}

	best := candidates[0]
	for _, c := range candidates[1:] {
		if c.EdgeScoreBase > best.EdgeScoreBase {
			best = c
		}
	}

	best.ConfluenceCount = len(candidates)
	if len(candidates) >= 2 {
		best.EdgeScoreBase = math.Min(100, best.EdgeScoreBase+o.confluenceBoost)
		best.Reasons = append(best.Reasons, reasonf("confluence_%d", len(candidates)))
	} else {
		best.Reasons = append(best.Reasons, "solo_signal")
	}

	o.logger.Debug().
		Str("symbol", best.Symbol).
		Str("strategy", string(best.StrategyID)).
		Float64("edge", best.EdgeScoreBase).
		Int("confluence", best.ConfluenceCount).
		Msg("signal selected")
	return best
}

// ResetSymbol clears per-symbol state in every strategy, called after a
// position closes or a pattern invalidates.
func (o *Orchestrator) ResetSymbol(symbol string) {
	for _, strat := range o.strategies {
		strat.Reset(symbol)
	}
}

// ResetStrategy clears one strategy's state for a symbol.
func (o *Orchestrator) ResetStrategy(id SignalType, symbol string) {
	for _, strat := range o.strategies {
		if strat.ID() == id {
			strat.Reset(symbol)
		}
	}
}
