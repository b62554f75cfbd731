// Package planner turns a gated signal into a sized TradePlan: sizing tier
// by score, session multiplier, portfolio guardrails, exposure clamp, stop
// and take-profit geometry, and the final R:R gate.
package planner

import (
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	"coinbase-trading-bot/internal/gates"
	"coinbase-trading-bot/internal/intel"
	"coinbase-trading-bot/internal/positions"
	"coinbase-trading-bot/internal/runtimeconfig"
	"coinbase-trading-bot/internal/strategy"
)

// SizingTier labels the conviction bucket a plan was sized under.
type SizingTier string

const (
	TierScout  SizingTier = "scout"
	TierNormal SizingTier = "normal"
	TierStrong SizingTier = "strong"
	TierWhale  SizingTier = "whale"
)

// TradePlan is a signal that survived sizing and geometry.
type TradePlan struct {
	Signal          *strategy.Signal       `json:"signal"`
	SizeUSD         float64                `json:"size_usd"`
	StopPrice       float64                `json:"stop_price"`
	TP1Price        float64                `json:"tp1_price"`
	TP2Price        float64                `json:"tp2_price"`
	TimeStopMin     int                    `json:"time_stop_min"`
	RRRatio         float64                `json:"rr_ratio"`
	Tier            SizingTier             `json:"tier"`
	EntryScore      float64                `json:"entry_score"`
	AvailableBudget float64                `json:"available_budget"`
	Metadata        map[string]interface{} `json:"metadata"`
}

// Failure is a sizing rejection with a categorized gate reason.
type Failure struct {
	Reason  gates.Reason
	Details string
}

func (f *Failure) Error() string {
	return fmt.Sprintf("plan rejected (%s): %s", f.Reason, f.Details)
}

// AssetClass buckets symbols for stop geometry.
type AssetClass string

const (
	ClassLarge   AssetClass = "large"
	ClassMid     AssetClass = "mid"
	ClassSmall   AssetClass = "small"
	ClassMicro   AssetClass = "micro"
	ClassUnknown AssetClass = "unknown"
)

type classGeometry struct {
	stopPct      float64
	tpPct        float64
	maxHoldHours int
}

var classGeometries = map[AssetClass]classGeometry{
	ClassLarge: {stopPct: 0.02, tpPct: 0.03, maxHoldHours: 8},
	ClassMid:   {stopPct: 0.03, tpPct: 0.05, maxHoldHours: 6},
	ClassSmall: {stopPct: 0.04, tpPct: 0.07, maxHoldHours: 4},
	ClassMicro: {stopPct: 0.05, tpPct: 0.10, maxHoldHours: 3},
}

// Classifier resolves a symbol's asset class, usually from the universe
// scanner's tier label.
type Classifier interface {
	AssetClass(symbol string) AssetClass
}

// TruthValidator is the exchange-sync pre-trade check, applied only after
// sizing survives every clamp.
type TruthValidator interface {
	ValidateBeforeTrade(symbol string) (bool, string)
	GetTotalPortfolioValue() float64
	GetAvailableBalance() float64
}

// Planner sizes gated signals.
type Planner struct {
	store      *runtimeconfig.Store
	registry   *positions.Registry
	portfolio  TruthValidator
	classifier Classifier
	intel      intel.Intelligence
	testMode   bool
	now        func() time.Time
	logger     zerolog.Logger
}

func New(store *runtimeconfig.Store, registry *positions.Registry, pm TruthValidator, classifier Classifier, intelligence intel.Intelligence, logger zerolog.Logger) *Planner {
	return &Planner{
		store:      store,
		registry:   registry,
		portfolio:  pm,
		classifier: classifier,
		intel:      intelligence,
		now:        time.Now,
		logger:     logger.With().Str("component", "planner").Logger(),
	}
}

// SetTestMode relaxes the R:R floor for injected test signals.
func (pl *Planner) SetTestMode(on bool) { pl.testMode = on }

// SetClock overrides the time source for tests.
func (pl *Planner) SetClock(now func() time.Time) { pl.now = now }

// Plan runs the sizing precedence over a gated signal. Each step is
// monotonically non-increasing on size.
func (pl *Planner) Plan(sig *strategy.Signal) (*TradePlan, *Failure) {
	cfg := pl.store.Config()
	portfolioValue := pl.portfolio.GetTotalPortfolioValue()
	if portfolioValue <= 0 {
		return nil, &Failure{Reason: gates.ReasonBudget, Details: "portfolio value unavailable"}
	}

	// Step 1: conviction tier.
	tier, pct := pl.sizingTier(sig, cfg.ScoutScoreMin, cfg.EntryScoreMin, cfg.StrongScoreMin, cfg.WhaleScoreMin, cfg.WhaleConfluence)
	if tier == "" {
		return nil, &Failure{Reason: gates.ReasonScore, Details: fmt.Sprintf("score %.1f below scout floor %.1f", sig.EdgeScoreBase, cfg.ScoutScoreMin)}
	}
	whaleDowngrade := ""
	if tier == TierWhale {
		if ok, reason := pl.registry.CanOpenPosition(sig.StrategyID, string(TierWhale)); !ok {
			tier, pct = TierStrong, cfg.StrongPct
			whaleDowngrade = reason
			pl.logger.Info().
				Str("symbol", sig.Symbol).
				Str("reason", reason).
				Msg("whale tier unavailable, sizing as strong")
		}
	}
	sizeUSD := math.Max(portfolioValue*pct, cfg.MinTradeUSD)

	// Step 2: session multiplier, never above 1.
	sessionMult := sessionMultiplier(pl.now().UTC()) * pl.intel.GetSizeMultiplier()
	if sessionMult > 1 {
		sessionMult = 1
	}
	sizeUSD *= sessionMult

	// Step 3: portfolio guardrails.
	minSize := portfolioValue * cfg.PositionMinPct
	maxSize := portfolioValue * cfg.PositionMaxPct
	sizeUSD = math.Max(minSize, math.Min(maxSize, sizeUSD))

	// Step 4: hard USD cap.
	sizeUSD = math.Min(sizeUSD, cfg.MaxTradeUSD)

	// Step 5: exposure remaining.
	exposure := pl.registry.TotalCostBasis()
	available := portfolioValue*cfg.PortfolioMaxExposurePct - exposure
	if available <= 0 {
		return nil, &Failure{Reason: gates.ReasonBudget, Details: fmt.Sprintf("exposure %.2f at cap %.2f", exposure, portfolioValue*cfg.PortfolioMaxExposurePct)}
	}
	sizeUSD = math.Min(sizeUSD, available)

	// Step 6: minimum order.
	if sizeUSD < cfg.MinPositionUSD {
		return nil, &Failure{Reason: gates.ReasonLimits, Details: fmt.Sprintf("size %.2f below minimum %.2f", sizeUSD, cfg.MinPositionUSD)}
	}

	// Truth gate, only after sizing survived.
	if ok, reason := pl.portfolio.ValidateBeforeTrade(sig.Symbol); !ok {
		return nil, &Failure{Reason: gates.ReasonTruth, Details: reason}
	}

	stop, tp1, tp2, timeStopMin := pl.calculateStops(sig, cfg.StopLossPct, cfg.TakeProfitPct, cfg.TimeStopMin)
	if stop >= sig.EntryPrice {
		return nil, &Failure{Reason: gates.ReasonRR, Details: fmt.Sprintf("stop %.4f not below entry %.4f", stop, sig.EntryPrice)}
	}
	rr := (tp1 - sig.EntryPrice) / (sig.EntryPrice - stop)
	if rr < cfg.MinRRRatio && !pl.testMode {
		return nil, &Failure{Reason: gates.ReasonRR, Details: fmt.Sprintf("rr %.2f below min %.2f", rr, cfg.MinRRRatio)}
	}

	plan := &TradePlan{
		Signal:          sig,
		SizeUSD:         round2(sizeUSD),
		StopPrice:       stop,
		TP1Price:        tp1,
		TP2Price:        tp2,
		TimeStopMin:     timeStopMin,
		RRRatio:         rr,
		Tier:            tier,
		EntryScore:      sig.EdgeScoreBase,
		AvailableBudget: available,
		Metadata: map[string]interface{}{
			"session_mult":    sessionMult,
			"exposure":        exposure,
			"portfolio_value": portfolioValue,
		},
	}
	if whaleDowngrade != "" {
		plan.Metadata["whale_downgrade"] = whaleDowngrade
	}
	pl.logger.Info().
		Str("symbol", sig.Symbol).
		Str("tier", string(tier)).
		Float64("size_usd", plan.SizeUSD).
		Float64("rr", rr).
		Msg("trade planned")
	return plan, nil
}

func (pl *Planner) sizingTier(sig *strategy.Signal, scoutMin, entryMin, strongMin, whaleMin float64, whaleConfluence int) (SizingTier, float64) {
	cfg := pl.store.Config()
	score := sig.EdgeScoreBase
	switch {
	case score >= whaleMin && sig.ConfluenceCount >= whaleConfluence:
		return TierWhale, cfg.WhalePct
	case score >= strongMin:
		return TierStrong, cfg.StrongPct
	case score >= entryMin:
		return TierNormal, cfg.PositionBasePct
	case score >= scoutMin:
		return TierScout, cfg.ScoutPct
	default:
		return "", 0
	}
}

// calculateStops prefers the strategy's own geometry, then the asset
// class's percentages, then config defaults.
func (pl *Planner) calculateStops(sig *strategy.Signal, defStopPct, defTPPct float64, defTimeStopMin int) (stop, tp1, tp2 float64, timeStopMin int) {
	entry := sig.EntryPrice
	if sig.StopPrice > 0 && sig.StopPrice < entry && sig.TP1Price > entry {
		tp2 = sig.TP2Price
		if tp2 < sig.TP1Price {
			tp2 = sig.TP1Price
		}
		return sig.StopPrice, sig.TP1Price, tp2, defTimeStopMin
	}
	class := ClassUnknown
	if pl.classifier != nil {
		class = pl.classifier.AssetClass(sig.Symbol)
	}
	if g, ok := classGeometries[class]; ok {
		stop = entry * (1 - g.stopPct)
		tp1 = entry * (1 + g.tpPct)
		tp2 = entry * (1 + g.tpPct*1.5)
		return stop, tp1, tp2, g.maxHoldHours * 60
	}
	stop = entry * (1 - defStopPct)
	tp1 = entry * (1 + defTPPct)
	tp2 = entry * (1 + defTPPct*1.5)
	return stop, tp1, tp2, defTimeStopMin
}

// sessionMultiplier shades size down in the thin overnight UTC hours.
func sessionMultiplier(now time.Time) float64 {
	switch h := now.Hour(); {
	case h >= 13 && h < 21:
		return 1.0
	case h >= 7 && h < 13:
		return 0.9
	default:
		return 0.75
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
