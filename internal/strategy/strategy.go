// Package strategy contains the signal generators and the orchestrator
// that merges their candidates into one signal per symbol per tick.
package strategy

import (
	"fmt"
	"math"
	"time"

	"coinbase-trading-bot/internal/candles"
	"coinbase-trading-bot/internal/features"
	"coinbase-trading-bot/internal/universe"
)

// SignalType identifies which generator produced a signal.
type SignalType string

const (
	SignalBurstFlag        SignalType = "burst_flag"
	SignalVWAPReclaim      SignalType = "vwap_reclaim"
	SignalMeanReversion    SignalType = "mean_reversion"
	SignalDailyMomentum    SignalType = "daily_momentum"
	SignalRangeBreakout    SignalType = "range_breakout"
	SignalRelativeStrength SignalType = "relative_strength"
	SignalSupportBounce    SignalType = "support_bounce"
	SignalGapFill          SignalType = "gap_fill"
	SignalBreakoutRetest   SignalType = "breakout_retest"
	SignalCorrelationPlay  SignalType = "correlation_play"
	SignalLiquiditySweep   SignalType = "liquidity_sweep"
	SignalMomentum1h       SignalType = "momentum_1h"
	SignalRSIMomentum      SignalType = "rsi_momentum"
	SignalBBExpansion      SignalType = "bb_expansion"
)

// AcceptedSignalTypes is the closed set the gate funnel recognizes.
var AcceptedSignalTypes = map[SignalType]bool{
	SignalBurstFlag: true, SignalVWAPReclaim: true, SignalMeanReversion: true,
	SignalDailyMomentum: true, SignalRangeBreakout: true, SignalRelativeStrength: true,
	SignalSupportBounce: true, SignalGapFill: true, SignalBreakoutRetest: true,
	SignalCorrelationPlay: true, SignalLiquiditySweep: true, SignalMomentum1h: true,
	SignalRSIMomentum: true, SignalBBExpansion: true,
}

// Signal is the unified strategy output. Direction is LONG only for now.
type Signal struct {
	Symbol          string           `json:"symbol"`
	StrategyID      SignalType       `json:"strategy_id"`
	Direction       string           `json:"direction"`
	EdgeScoreBase   float64          `json:"edge_score_base"`
	TrendScore      float64          `json:"trend_score"`
	VolumeScore     float64          `json:"volume_score"`
	PatternScore    float64          `json:"pattern_score"`
	TimingScore     float64          `json:"timing_score"`
	EntryPrice      float64          `json:"entry_price"`
	StopPrice       float64          `json:"stop_price"`
	TP1Price        float64          `json:"tp1_price"`
	TP2Price        float64          `json:"tp2_price"`
	RiskPct         float64          `json:"risk_pct"`
	RRRatio         float64          `json:"rr_ratio"`
	SpreadBps       float64          `json:"spread_bps"`
	Reason          string           `json:"reason"`
	Reasons         []string         `json:"reasons"`
	Timestamp       time.Time        `json:"timestamp"`
	ConfluenceCount int              `json:"confluence_count"`
	Features        *features.Vector `json:"-"`
}

// Valid reports whether the signal carries a coherent long geometry.
func (s *Signal) Valid() bool {
	if s == nil || s.EntryPrice <= 0 {
		return false
	}
	if s.EdgeScoreBase < 0 || s.EdgeScoreBase > 100 {
		return false
	}
	return s.StopPrice < s.EntryPrice
}

// Context is the shared market state handed to every strategy.
type Context struct {
	BTCTrend1h float64
	BTCTrendOK bool
	Burst      *universe.BurstMetrics
	Now        time.Time
}

// Strategy is one independent signal generator. Analyze returns nil when
// the setup is absent; it never applies entry gates.
type Strategy interface {
	ID() SignalType
	Analyze(buf *candles.Buffer, feats *features.Vector, mc *Context) *Signal
	Reset(symbol string)
}

// newSignal fills the common fields; geometry comes from the caller.
func newSignal(id SignalType, feats *features.Vector, mc *Context, entry, stop, tp1, tp2 float64, reason string) *Signal {
	s := &Signal{
		Symbol:     feats.Symbol,
		StrategyID: id,
		Direction:  "LONG",
		EntryPrice: entry,
		StopPrice:  stop,
		TP1Price:   tp1,
		TP2Price:   tp2,
		SpreadBps:  feats.SpreadBps,
		Reason:     reason,
		Reasons:    []string{reason},
		Timestamp:  mc.Now,
		Features:   feats,
	}
	if entry > 0 {
		s.RiskPct = (entry - stop) / entry * 100
		if entry > stop {
			s.RRRatio = (tp1 - entry) / (entry - stop)
		}
	}
	return s
}

// score clamps the sub-scores and combines them into edge_score_base.
func (s *Signal) score(trend, volume, pattern, timing float64) *Signal {
	s.TrendScore = clamp(trend, 0, 100)
	s.VolumeScore = clamp(volume, 0, 100)
	s.PatternScore = clamp(pattern, 0, 100)
	s.TimingScore = clamp(timing, 0, 100)
	s.EdgeScoreBase = clamp(0.3*s.TrendScore+0.25*s.VolumeScore+0.3*s.PatternScore+0.15*s.TimingScore, 0, 100)
	return s
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func pctAbove(price, ref float64) float64 {
	if ref <= 0 {
		return 0
	}
	return (price - ref) / ref * 100
}

func reasonf(format string, args ...interface{}) string {
	return fmt.Sprintf(format, args...)
}
