// Package positions is the single source of truth for tracked positions:
// the active and dust maps, per-strategy caps, and persistence.
package positions

import (
	"time"

	"coinbase-trading-bot/internal/strategy"
)

type State string

const (
	StateOpen          State = "OPEN"
	StatePartialClosed State = "PARTIAL_CLOSED"
	StateClosing       State = "CLOSING"
	StateClosed        State = "CLOSED"
)

// Position is one tracked holding. Owned exclusively by the Registry;
// the router mutates through registry methods only.
type Position struct {
	Symbol           string              `json:"symbol"`
	Side             string              `json:"side"`
	EntryPrice       float64             `json:"entry_price"`
	EntryTime        time.Time           `json:"entry_time"`
	SizeUSD          float64             `json:"size_usd"`
	SizeQty          float64             `json:"size_qty"`
	StopPrice        float64             `json:"stop_price"`
	TP1Price         float64             `json:"tp1_price"`
	TP2Price         float64             `json:"tp2_price"`
	TimeStopDeadline time.Time           `json:"time_stop_deadline"`
	StrategyID       strategy.SignalType `json:"strategy_id"`
	SizingTier       string              `json:"sizing_tier"`
	CostBasis        float64             `json:"cost_basis"`
	RealizedPnL      float64             `json:"realized_pnl"`
	StackCount       int                 `json:"stack_count"`
	State            State               `json:"state"`
	BreakevenLocked  bool                `json:"breakeven_locked"`
	TrailingActive   bool                `json:"trailing_active"`
	TrailPct         float64             `json:"trail_pct"`
	TrailHigh        float64             `json:"trail_high"`
	CurrentPrice     float64             `json:"current_price"`
	StopOrderID      string              `json:"stop_order_id,omitempty"`
	TPOrderID        string              `json:"tp_order_id,omitempty"`
}

// CurrentValue is the live USD value of the remaining quantity.
func (p *Position) CurrentValue() float64 {
	price := p.CurrentPrice
	if price <= 0 {
		price = p.EntryPrice
	}
	return price * p.SizeQty
}

// UnrealizedPnL against the remaining quantity.
func (p *Position) UnrealizedPnL() float64 {
	if p.CurrentPrice <= 0 {
		return 0
	}
	return (p.CurrentPrice - p.EntryPrice) * p.SizeQty
}

// PnLPercent of entry for the remaining quantity.
func (p *Position) PnLPercent() float64 {
	if p.EntryPrice <= 0 || p.CurrentPrice <= 0 {
		return 0
	}
	return (p.CurrentPrice - p.EntryPrice) / p.EntryPrice * 100
}

// HoldDuration since entry.
func (p *Position) HoldDuration(now time.Time) time.Duration {
	return now.Sub(p.EntryTime)
}
