package router

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"coinbase-trading-bot/internal/features"
	"coinbase-trading-bot/internal/positions"
	"coinbase-trading-bot/internal/runtimeconfig"
)

// FeatureSource supplies the latest feature vector for thesis checks.
type FeatureSource func(symbol string) *features.Vector

// Monitor reviews open positions each tick: marks prices, activates
// breakeven and trailing stops, and fires TP1, stop, TP2, time-stop, and
// thesis-invalidation exits.
type Monitor struct {
	store    *runtimeconfig.Store
	router   *Router
	registry *positions.Registry
	prices   PriceSource
	feats    FeatureSource
	now      func() time.Time
	logger   zerolog.Logger
}

func NewMonitor(store *runtimeconfig.Store, r *Router, registry *positions.Registry, prices PriceSource, feats FeatureSource, logger zerolog.Logger) *Monitor {
	return &Monitor{
		store:    store,
		router:   r,
		registry: registry,
		prices:   prices,
		feats:    feats,
		now:      time.Now,
		logger:   logger.With().Str("component", "monitor").Logger(),
	}
}

// Tick reviews every active position once.
func (m *Monitor) Tick(ctx context.Context) {
	for _, pos := range m.registry.Active() {
		m.review(ctx, pos)
	}
}

func (m *Monitor) review(ctx context.Context, pos positions.Position) {
	price := m.prices(pos.Symbol)
	if price <= 0 {
		return
	}
	m.registry.UpdatePositionValue(pos.Symbol, price)
	fresh, ok := m.registry.Get(pos.Symbol)
	if !ok || !m.registry.HasActive(pos.Symbol) {
		return
	}
	pos = fresh
	cfg := m.store.Config()

	risk := pos.EntryPrice - pos.StopPrice
	if risk <= 0 {
		risk = pos.EntryPrice * cfg.StopLossPct
	}
	rMultiple := (price - pos.EntryPrice) / risk

	// Breakeven lock at the configured R move, with a small fee buffer.
	if !pos.BreakevenLocked && rMultiple >= cfg.TrailBETriggerR {
		be := pos.EntryPrice * 1.002
		m.mutate(pos.Symbol, func(p *positions.Position) {
			if be > p.StopPrice {
				p.StopPrice = be
			}
			p.BreakevenLocked = true
		})
		m.logger.Info().Str("symbol", pos.Symbol).Float64("stop", be).Msg("stop moved to breakeven")
	}

	// Trailing activation.
	if !pos.TrailingActive && rMultiple >= cfg.TrailStartR {
		m.mutate(pos.Symbol, func(p *positions.Position) {
			p.TrailingActive = true
			p.TrailHigh = price
		})
	}
	if pos.TrailingActive && pos.TrailHigh > 0 {
		// Lock in trail_lock_pct of the gain off the high.
		gain := pos.TrailHigh - pos.EntryPrice
		trailStop := pos.EntryPrice + gain*pos.TrailPct
		if trailStop > pos.StopPrice {
			m.mutate(pos.Symbol, func(p *positions.Position) {
				if trailStop > p.StopPrice {
					p.StopPrice = trailStop
				}
			})
			pos.StopPrice = trailStop
		}
	}

	switch {
	case price <= pos.StopPrice:
		m.close(ctx, pos.Symbol, "stop_loss")
	case pos.State == positions.StateOpen && price >= pos.TP1Price:
		if err := m.router.ClosePartial(ctx, pos.Symbol, cfg.TP1PartialPct, "tp1"); err != nil {
			m.logger.Warn().Err(err).Str("symbol", pos.Symbol).Msg("tp1 close failed")
		}
	case price >= pos.TP2Price:
		m.close(ctx, pos.Symbol, "tp2")
	case !pos.TimeStopDeadline.IsZero() && m.now().After(pos.TimeStopDeadline):
		m.close(ctx, pos.Symbol, "time_stop")
	case m.thesisInvalidated(pos):
		m.close(ctx, pos.Symbol, "thesis_invalidated")
	}
}

// thesisInvalidated fires when the trend flips hard against the position
// while it is under water.
func (m *Monitor) thesisInvalidated(pos positions.Position) bool {
	if m.feats == nil {
		return false
	}
	v := m.feats(pos.Symbol)
	if v == nil {
		return false
	}
	return pos.PnLPercent() < -1.0 && v.Trend15m < -1.5 && v.Trend5m < -0.5
}

func (m *Monitor) mutate(symbol string, fn func(*positions.Position)) {
	if err := m.registry.Mutate(symbol, fn); err != nil {
		m.logger.Warn().Err(err).Str("symbol", symbol).Msg("position mutate failed")
	}
}

func (m *Monitor) close(ctx context.Context, symbol, reason string) {
	if ok, detail := m.registry.CanClosePosition(symbol); !ok {
		m.logger.Debug().Str("symbol", symbol).Str("detail", detail).Msg("close deferred")
		return
	}
	if err := m.router.Close(ctx, symbol, reason); err != nil {
		m.logger.Warn().Err(err).Str("symbol", symbol).Str("reason", reason).Msg("close failed")
	}
}

// SetClock overrides the time source for tests.
func (m *Monitor) SetClock(now func() time.Time) { m.now = now }
