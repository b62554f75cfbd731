// Package events is the append-only order event stream plus the daily
// JSONL log writers for trades, rejections, and engine events.
package events

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"coinbase-trading-bot/internal/paths"
)

type EventType string

const (
	EventOpen         EventType = "open"
	EventPartialClose EventType = "partial_close"
	EventClose        EventType = "close"
)

// OrderEvent is one position lifecycle event, consumed by the UI stream
// and appended to the trades log.
type OrderEvent struct {
	EventType EventType `json:"event_type"`
	Symbol    string    `json:"symbol"`
	Side      string    `json:"side"`
	Mode      string    `json:"mode"`
	Price     float64   `json:"price"`
	SizeUSD   float64   `json:"size_usd"`
	SizeQty   float64   `json:"size_qty"`
	PnL       *float64  `json:"pnl,omitempty"`
	PnLPct    *float64  `json:"pnl_pct,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

const streamCap = 200

// Bus fans order events out to the bounded in-memory stream and the daily
// log files.
type Bus struct {
	mu     sync.Mutex
	layout *paths.Layout
	mode   string
	stream []OrderEvent
	now    func() time.Time
	logger zerolog.Logger
}

func NewBus(layout *paths.Layout, mode string, logger zerolog.Logger) *Bus {
	return &Bus{
		layout: layout,
		mode:   mode,
		now:    time.Now,
		logger: logger.With().Str("component", "events").Logger(),
	}
}

// EmitOrder records one lifecycle event.
func (b *Bus) EmitOrder(ev OrderEvent) {
	ev.Mode = b.mode
	if ev.Timestamp.IsZero() {
		ev.Timestamp = b.now().UTC()
	}
	b.mu.Lock()
	b.stream = append(b.stream, ev)
	if len(b.stream) > streamCap {
		b.stream = b.stream[len(b.stream)-streamCap:]
	}
	b.mu.Unlock()

	b.appendLog("trades", ev)
	b.logger.Info().
		Str("event", string(ev.EventType)).
		Str("symbol", ev.Symbol).
		Str("side", ev.Side).
		Float64("size_usd", ev.SizeUSD).
		Float64("price", ev.Price).
		Msg("order event")
}

// EmitRejection appends to the rejections log.
func (b *Bus) EmitRejection(symbol, gate, details string) {
	b.appendLog("rejections", map[string]interface{}{
		"ts":      b.now().UTC().Format(time.RFC3339),
		"symbol":  symbol,
		"gate":    gate,
		"details": details,
	})
}

// EmitEngine appends a free-form engine event to the events log.
func (b *Bus) EmitEngine(kind string, fields map[string]interface{}) {
	entry := map[string]interface{}{
		"ts":   b.now().UTC().Format(time.RFC3339),
		"kind": kind,
	}
	for k, v := range fields {
		entry[k] = v
	}
	b.appendLog("events", entry)
}

func (b *Bus) appendLog(kind string, v interface{}) {
	path := b.layout.LogFile(kind, b.now())
	if err := paths.AppendJSONL(path, v); err != nil {
		b.logger.Warn().Err(err).Str("kind", kind).Msg("event log append failed")
	}
}

// Recent returns a copy of the in-memory stream, newest last.
func (b *Bus) Recent(n int) []OrderEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	if n <= 0 || n > len(b.stream) {
		n = len(b.stream)
	}
	out := make([]OrderEvent, n)
	copy(out, b.stream[len(b.stream)-n:])
	return out
}

// SetClock overrides the time source for tests.
func (b *Bus) SetClock(now func() time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.now = now
}
