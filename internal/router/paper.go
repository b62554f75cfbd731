package router

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"coinbase-trading-bot/internal/planner"
	"coinbase-trading-bot/internal/portfolio"
	"coinbase-trading-bot/internal/positions"
)

// PriceSource supplies the current trade price for a symbol, usually the
// candle buffer's newest 1m close.
type PriceSource func(symbol string) float64

// PaperExecutor simulates fills against the paper portfolio: immediate
// execution at the current price plus configured slippage.
type PaperExecutor struct {
	pm          *portfolio.PaperManager
	prices      PriceSource
	slippageBps float64
	logger      zerolog.Logger
}

func NewPaperExecutor(pm *portfolio.PaperManager, prices PriceSource, slippageBps float64, logger zerolog.Logger) *PaperExecutor {
	return &PaperExecutor{
		pm:          pm,
		prices:      prices,
		slippageBps: slippageBps,
		logger:      logger.With().Str("component", "paper_executor").Logger(),
	}
}

func (pe *PaperExecutor) currentPrice(symbol string, fallback float64) float64 {
	if p := pe.prices(symbol); p > 0 {
		return p
	}
	return fallback
}

func (pe *PaperExecutor) ExecuteEntry(ctx context.Context, plan *planner.TradePlan) (*Fill, error) {
	sig := plan.Signal
	price := pe.currentPrice(sig.Symbol, sig.EntryPrice)
	if price <= 0 {
		return nil, fmt.Errorf("paper: no price for %s", sig.Symbol)
	}
	fillPrice := price * (1 + pe.slippageBps/10000)
	qty := plan.SizeUSD / fillPrice
	if err := pe.pm.ApplyBuy(baseAsset(sig.Symbol), qty, fillPrice, plan.SizeUSD); err != nil {
		return nil, err
	}
	pe.logger.Info().
		Str("symbol", sig.Symbol).
		Str("side", "BUY").
		Float64("size_usd", plan.SizeUSD).
		Float64("price", fillPrice).
		Msg("paper fill")
	return &Fill{Price: fillPrice, Qty: qty, CostUSD: plan.SizeUSD}, nil
}

func (pe *PaperExecutor) ClosePortion(ctx context.Context, pos *positions.Position, fraction float64, reason string) (float64, float64, error) {
	if fraction <= 0 || fraction > 1 {
		return 0, 0, fmt.Errorf("paper: bad close fraction %v", fraction)
	}
	price := pe.currentPrice(pos.Symbol, pos.CurrentPrice)
	if price <= 0 {
		price = pos.EntryPrice
	}
	fillPrice := price * (1 - pe.slippageBps/10000)
	qty := pos.SizeQty * fraction
	proceeds := qty * fillPrice
	pnl := (fillPrice - pos.EntryPrice) * qty
	if err := pe.pm.ApplySell(baseAsset(pos.Symbol), qty, fillPrice, proceeds, pnl); err != nil {
		return 0, 0, err
	}
	pe.logger.Info().
		Str("symbol", pos.Symbol).
		Str("side", "SELL").
		Float64("size_usd", proceeds).
		Float64("price", fillPrice).
		Str("reason", reason).
		Msg("paper fill")
	return fillPrice, pnl, nil
}

func baseAsset(symbol string) string {
	for i := 0; i < len(symbol); i++ {
		if symbol[i] == '-' {
			return symbol[:i]
		}
	}
	return symbol
}
