// Package router executes trade plans and owns the open-position
// lifecycle: entries, bracket levels, the monitor loop's exits, and the
// optional signal batching window.
package router

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"coinbase-trading-bot/internal/events"
	"coinbase-trading-bot/internal/planner"
	"coinbase-trading-bot/internal/positions"
	"coinbase-trading-bot/internal/risk"
	"coinbase-trading-bot/internal/runtimeconfig"
	"coinbase-trading-bot/internal/strategy"
)

// Fill is an executor's entry result.
type Fill struct {
	Price   float64
	Qty     float64
	CostUSD float64
	FeesUSD float64
	OrderID string
	// Partial marks a live fill below the requested size.
	Partial bool
}

// Executor places and closes orders. Paper and live implementations share
// this surface.
type Executor interface {
	ExecuteEntry(ctx context.Context, plan *planner.TradePlan) (*Fill, error)
	// ClosePortion sells fraction (0,1] of the position at market and
	// returns the exit price and realized PnL for that portion.
	ClosePortion(ctx context.Context, pos *positions.Position, fraction float64, reason string) (price, pnl float64, err error)
}

// StrategyResetter clears strategy state after a close.
type StrategyResetter interface {
	ResetStrategy(id strategy.SignalType, symbol string)
}

// Router drives executions and emits the lifecycle events.
type Router struct {
	store     *runtimeconfig.Store
	executor  Executor
	registry  *positions.Registry
	bus       *events.Bus
	cooldowns *risk.Cooldowns
	breaker   *risk.CircuitBreaker
	daily     *risk.DailyStats
	resetter  StrategyResetter
	now       func() time.Time
	logger    zerolog.Logger
}

func New(
	store *runtimeconfig.Store,
	executor Executor,
	registry *positions.Registry,
	bus *events.Bus,
	cooldowns *risk.Cooldowns,
	breaker *risk.CircuitBreaker,
	daily *risk.DailyStats,
	resetter StrategyResetter,
	logger zerolog.Logger,
) *Router {
	return &Router{
		store:     store,
		executor:  executor,
		registry:  registry,
		bus:       bus,
		cooldowns: cooldowns,
		breaker:   breaker,
		daily:     daily,
		resetter:  resetter,
		now:       time.Now,
		logger:    logger.With().Str("component", "router").Logger(),
	}
}

// Execute opens a position from a sized plan. Failures feed the circuit
// breaker; fills register the position, start the cooldown, and emit the
// open event.
func (r *Router) Execute(ctx context.Context, plan *planner.TradePlan) (*positions.Position, error) {
	sig := plan.Signal
	fill, err := r.executor.ExecuteEntry(ctx, plan)
	if err != nil {
		r.breaker.RecordFailure()
		return nil, fmt.Errorf("router: entry %s: %w", sig.Symbol, err)
	}
	r.breaker.RecordSuccess()
	r.cooldowns.Record(sig.Symbol)

	cfg := r.store.Config()
	stop, tp1, tp2 := plan.StopPrice, plan.TP1Price, plan.TP2Price
	if fill.Partial {
		// Brackets are re-sized implicitly: levels stand, quantity is
		// whatever actually filled.
		r.logger.Warn().
			Str("symbol", sig.Symbol).
			Float64("requested_usd", plan.SizeUSD).
			Float64("filled_usd", fill.CostUSD).
			Msg("partial fill, brackets sized to executed quantity")
	}

	pos := &positions.Position{
		Symbol:           sig.Symbol,
		Side:             "BUY",
		EntryPrice:       fill.Price,
		EntryTime:        r.now().UTC(),
		SizeUSD:          fill.CostUSD,
		SizeQty:          fill.Qty,
		StopPrice:        stop,
		TP1Price:         tp1,
		TP2Price:         tp2,
		TimeStopDeadline: r.now().UTC().Add(time.Duration(plan.TimeStopMin) * time.Minute),
		StrategyID:       sig.StrategyID,
		SizingTier:       string(plan.Tier),
		CostBasis:        fill.CostUSD,
		State:            positions.StateOpen,
		TrailPct:         cfg.TrailLockPct,
		CurrentPrice:     fill.Price,
	}

	if _, ok := r.registry.Get(sig.Symbol); ok && r.registry.HasActive(sig.Symbol) {
		// Stacking: fold the add into the existing position.
		err = r.registry.Mutate(sig.Symbol, func(p *positions.Position) {
			totalQty := p.SizeQty + fill.Qty
			p.EntryPrice = (p.EntryPrice*p.SizeQty + fill.Price*fill.Qty) / totalQty
			p.SizeQty = totalQty
			p.SizeUSD += fill.CostUSD
			p.CostBasis += fill.CostUSD
			p.StackCount++
		})
		if err != nil {
			return nil, err
		}
		stacked, _ := r.registry.Get(sig.Symbol)
		pos = &stacked
	} else if err := r.registry.Add(pos); err != nil {
		return nil, err
	}

	r.bus.EmitOrder(events.OrderEvent{
		EventType: events.EventOpen,
		Symbol:    sig.Symbol,
		Side:      "BUY",
		Price:     fill.Price,
		SizeUSD:   fill.CostUSD,
		SizeQty:   fill.Qty,
	})
	return pos, nil
}

// ClosePartial sells a fraction of the position, books realized PnL, and
// moves the stop to breakeven.
func (r *Router) ClosePartial(ctx context.Context, symbol string, fraction float64, reason string) error {
	pos, ok := r.registry.Get(symbol)
	if !ok {
		return positions.ErrPositionNotFound
	}
	price, pnl, err := r.executor.ClosePortion(ctx, &pos, fraction, reason)
	if err != nil {
		r.breaker.RecordFailure()
		return fmt.Errorf("router: partial close %s: %w", symbol, err)
	}
	r.breaker.RecordSuccess()

	closedQty := pos.SizeQty * fraction
	err = r.registry.Mutate(symbol, func(p *positions.Position) {
		p.SizeQty -= closedQty
		p.SizeUSD -= p.SizeUSD * fraction
		p.RealizedPnL += pnl
		p.State = positions.StatePartialClosed
		p.StopPrice = p.EntryPrice
		p.BreakevenLocked = true
	})
	if err != nil {
		return err
	}
	r.daily.RecordTrade(pnl)

	pct := 0.0
	if pos.EntryPrice > 0 {
		pct = (price - pos.EntryPrice) / pos.EntryPrice * 100
	}
	r.bus.EmitOrder(events.OrderEvent{
		EventType: events.EventPartialClose,
		Symbol:    symbol,
		Side:      "SELL",
		Price:     price,
		SizeUSD:   price * closedQty,
		SizeQty:   closedQty,
		PnL:       &pnl,
		PnLPct:    &pct,
		Reason:    reason,
	})
	return nil
}

// Close exits the remaining quantity, updates daily stats, resets the
// owning strategy, and clears the registry entry.
func (r *Router) Close(ctx context.Context, symbol, reason string) error {
	pos, ok := r.registry.Get(symbol)
	if !ok {
		return positions.ErrPositionNotFound
	}
	price, pnl, err := r.executor.ClosePortion(ctx, &pos, 1.0, reason)
	if err != nil {
		r.breaker.RecordFailure()
		return fmt.Errorf("router: close %s: %w", symbol, err)
	}
	r.breaker.RecordSuccess()
	r.daily.RecordTrade(pnl)

	pct := 0.0
	if pos.EntryPrice > 0 {
		pct = (price - pos.EntryPrice) / pos.EntryPrice * 100
	}
	r.bus.EmitOrder(events.OrderEvent{
		EventType: events.EventClose,
		Symbol:    symbol,
		Side:      "SELL",
		Price:     price,
		SizeUSD:   price * pos.SizeQty,
		SizeQty:   pos.SizeQty,
		PnL:       &pnl,
		PnLPct:    &pct,
		Reason:    reason,
	})
	if r.resetter != nil {
		r.resetter.ResetStrategy(pos.StrategyID, symbol)
	}
	r.registry.Remove(symbol)
	return nil
}

// CloseAll exits every active position.
func (r *Router) CloseAll(ctx context.Context, reason string) []error {
	var errs []error
	for _, pos := range r.registry.Active() {
		if err := r.Close(ctx, pos.Symbol, reason); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

// SetClock overrides the time source for tests.
func (r *Router) SetClock(now func() time.Time) { r.now = now }
