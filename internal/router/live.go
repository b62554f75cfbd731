package router

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"coinbase-trading-bot/internal/exchange"
	"coinbase-trading-bot/internal/planner"
	"coinbase-trading-bot/internal/positions"
)

// minFillFraction: a live fill below this fraction of the requested size is
// treated as a failed entry and the remainder cancelled.
const minFillFraction = 0.25

// LiveExecutor places real orders. Limit entries shave the mid by the
// configured buffer; market entries use IOC quote sizing. After a
// confirmed fill the TP1 bracket is placed as a GTC limit sell.
type LiveExecutor struct {
	client         exchange.Client
	useLimitOrders bool
	limitBufferPct float64
	logger         zerolog.Logger
}

func NewLiveExecutor(client exchange.Client, useLimitOrders bool, limitBufferPct float64, logger zerolog.Logger) *LiveExecutor {
	return &LiveExecutor{
		client:         client,
		useLimitOrders: useLimitOrders,
		limitBufferPct: limitBufferPct,
		logger:         logger.With().Str("component", "live_executor").Logger(),
	}
}

func (le *LiveExecutor) ExecuteEntry(ctx context.Context, plan *planner.TradePlan) (*Fill, error) {
	sig := plan.Signal
	clientOrderID := uuid.NewString()

	var order *exchange.Order
	var err error
	if le.useLimitOrders {
		limitPrice := sig.EntryPrice * (1 - le.limitBufferPct)
		qty := plan.SizeUSD / limitPrice
		order, err = le.client.LimitOrderGTCBuy(ctx, clientOrderID, sig.Symbol, qty, limitPrice)
	} else {
		order, err = le.client.MarketOrderBuy(ctx, clientOrderID, sig.Symbol, plan.SizeUSD)
	}
	if err != nil {
		return nil, err
	}

	order, err = le.awaitFill(ctx, order)
	if err != nil {
		return nil, err
	}
	if order.FilledSize <= 0 {
		return nil, fmt.Errorf("live: order %s unfilled", order.OrderID)
	}

	fill := &Fill{
		Price:   order.AvgFillPrice,
		Qty:     order.FilledSize,
		CostUSD: order.FilledValueUSD,
		FeesUSD: order.FeesUSD,
		OrderID: order.OrderID,
	}
	if order.FilledValueUSD < plan.SizeUSD*0.999 {
		fill.Partial = true
		if order.FilledValueUSD < plan.SizeUSD*minFillFraction {
			// Too small to treat as an entry; drop the remainder and fail.
			if order.Status == exchange.OrderStatusOpen {
				_ = le.client.CancelOrders(ctx, []string{order.OrderID})
			}
			return fill, fmt.Errorf("live: fill %.2f below %.0f%% of requested %.2f",
				order.FilledValueUSD, minFillFraction*100, plan.SizeUSD)
		}
		if order.Status == exchange.OrderStatusOpen {
			_ = le.client.CancelOrders(ctx, []string{order.OrderID})
		}
	}
	return fill, nil
}

// awaitFill polls the order briefly; limit orders may rest, market orders
// settle quickly.
func (le *LiveExecutor) awaitFill(ctx context.Context, order *exchange.Order) (*exchange.Order, error) {
	deadline := time.Now().Add(15 * time.Second)
	for {
		switch order.Status {
		case exchange.OrderStatusFilled, exchange.OrderStatusPartial:
			return order, nil
		case exchange.OrderStatusFailed:
			return nil, fmt.Errorf("live: order %s failed", order.OrderID)
		case exchange.OrderStatusCancelled:
			return order, nil
		}
		if time.Now().After(deadline) {
			return order, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Second):
		}
		refreshed, err := le.client.GetOrder(ctx, order.OrderID)
		if err != nil {
			return nil, err
		}
		order = refreshed
	}
}

// PlaceTP1 submits the partial take-profit bracket after a fill.
func (le *LiveExecutor) PlaceTP1(ctx context.Context, pos *positions.Position, partialPct float64) (string, error) {
	qty := pos.SizeQty * partialPct
	order, err := le.client.LimitOrderGTCSell(ctx, uuid.NewString(), pos.Symbol, qty, pos.TP1Price)
	if err != nil {
		return "", fmt.Errorf("live: place tp1 %s: %w", pos.Symbol, err)
	}
	return order.OrderID, nil
}

func (le *LiveExecutor) ClosePortion(ctx context.Context, pos *positions.Position, fraction float64, reason string) (float64, float64, error) {
	if fraction <= 0 || fraction > 1 {
		return 0, 0, fmt.Errorf("live: bad close fraction %v", fraction)
	}
	// Cancel resting brackets before selling so quantities don't overlap.
	var cancel []string
	if pos.TPOrderID != "" {
		cancel = append(cancel, pos.TPOrderID)
	}
	if pos.StopOrderID != "" {
		cancel = append(cancel, pos.StopOrderID)
	}
	if len(cancel) > 0 {
		if err := le.client.CancelOrders(ctx, cancel); err != nil {
			le.logger.Warn().Err(err).Str("symbol", pos.Symbol).Msg("bracket cancel failed")
		}
	}

	qty := pos.SizeQty * fraction
	order, err := le.client.MarketOrderSell(ctx, uuid.NewString(), pos.Symbol, qty)
	if err != nil {
		return 0, 0, err
	}
	order, err = le.awaitFill(ctx, order)
	if err != nil {
		return 0, 0, err
	}
	if order.FilledSize <= 0 {
		return 0, 0, fmt.Errorf("live: close order %s unfilled", order.OrderID)
	}
	pnl := (order.AvgFillPrice-pos.EntryPrice)*order.FilledSize - order.FeesUSD
	le.logger.Info().
		Str("symbol", pos.Symbol).
		Str("side", "SELL").
		Float64("size_usd", order.FilledValueUSD).
		Float64("price", order.AvgFillPrice).
		Str("reason", reason).
		Msg("live fill")
	return order.AvgFillPrice, pnl, nil
}
