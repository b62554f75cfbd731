// Package collector feeds the candle buffers: a WebSocket collector for
// the real-time tier and a REST poller for the two polling tiers.
package collector

import (
	"sync"
	"time"

	"coinbase-trading-bot/internal/candles"
	"coinbase-trading-bot/internal/exchange"
	"coinbase-trading-bot/internal/tiers"
)

// Buffers owns every symbol's candle buffer and is the single ingest path:
// each accepted bar also hits the store, the scheduler's counts, and the
// heartbeats.
type Buffers struct {
	mu        sync.RWMutex
	buffers   map[string]*candles.Buffer
	store     *candles.Store
	scheduler *tiers.Scheduler
	health    *Health
}

func NewBuffers(store *candles.Store, scheduler *tiers.Scheduler, health *Health) *Buffers {
	return &Buffers{
		buffers:   make(map[string]*candles.Buffer),
		store:     store,
		scheduler: scheduler,
		health:    health,
	}
}

// Buffer returns the symbol's buffer, creating it on first observation.
func (b *Buffers) Buffer(symbol string) *candles.Buffer {
	b.mu.RLock()
	buf, ok := b.buffers[symbol]
	b.mu.RUnlock()
	if ok {
		return buf
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if buf, ok = b.buffers[symbol]; ok {
		return buf
	}
	buf = candles.NewBuffer(symbol)
	b.buffers[symbol] = buf
	return buf
}

// Known returns the current buffer map for rehydration.
func (b *Buffers) Known() map[string]*candles.Buffer {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(map[string]*candles.Buffer, len(b.buffers))
	for k, v := range b.buffers {
		out[k] = v
	}
	return out
}

// Ingest runs one bar through the full write path.
func (b *Buffers) Ingest(symbol string, tf candles.Timeframe, c candles.Candle, src candles.CandleSource) bool {
	buf := b.Buffer(symbol)
	if !buf.Add(tf, c) {
		return false
	}
	b.store.WriteCandle(symbol, tf, c, src)
	b.scheduler.UpdateCandleCounts(symbol, buf.Len(candles.TF1m), buf.Len(candles.TF5m))
	b.health.RecordCandle(tf)
	return true
}

// IngestBatch runs an ordered batch through the write path.
func (b *Buffers) IngestBatch(symbol string, tf candles.Timeframe, cs []candles.Candle, src candles.CandleSource) int {
	buf := b.Buffer(symbol)
	added := buf.AddBatch(tf, cs)
	if added == 0 {
		return 0
	}
	b.store.WriteCandles(symbol, tf, cs, src)
	b.scheduler.UpdateCandleCounts(symbol, buf.Len(candles.TF1m), buf.Len(candles.TF5m))
	b.health.RecordCandle(tf)
	return added
}

// LastPrice returns the symbol's newest 1m close, 0 when unknown.
func (b *Buffers) LastPrice(symbol string) float64 {
	b.mu.RLock()
	buf, ok := b.buffers[symbol]
	b.mu.RUnlock()
	if !ok {
		return 0
	}
	return buf.LastPrice()
}

// ToCandles maps venue bars onto internal bars: Start becomes Timestamp,
// OHLCV carries over as-is.
func ToCandles(cs []exchange.Candle) []candles.Candle {
	out := make([]candles.Candle, 0, len(cs))
	for _, c := range cs {
		out = append(out, candles.Candle{
			Timestamp: c.Start,
			Open:      c.Open,
			High:      c.High,
			Low:       c.Low,
			Close:     c.Close,
			Volume:    c.Volume,
		})
	}
	return out
}

// ValidateCandles checks a REST response is non-empty and time-ordered.
func ValidateCandles(cs []candles.Candle) bool {
	if len(cs) == 0 {
		return false
	}
	for i := 1; i < len(cs); i++ {
		if !cs[i].Timestamp.After(cs[i-1].Timestamp) {
			return false
		}
	}
	return true
}

// Health tracks collector liveness: heartbeats and rolling counters the
// status bundle exposes.
type Health struct {
	mu            sync.Mutex
	wsLastMsg     time.Time
	candleBeats   map[candles.Timeframe]time.Time
	wsReconnects  int
	restRequests  int
	rest429s      int
	restDegraded  bool
	ticksWindow   int
	candlesWindow int
	windowStart   time.Time
	lastTicks5s   int
	lastCandles5s int
	now           func() time.Time
}

func NewHealth() *Health {
	return &Health{
		candleBeats: make(map[candles.Timeframe]time.Time),
		now:         time.Now,
	}
}

// RecordWSMessage marks WS liveness and the tick counter.
func (h *Health) RecordWSMessage() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.wsLastMsg = h.now()
	h.rollWindowLocked()
	h.ticksWindow++
}

// RecordCandle marks a timeframe heartbeat.
func (h *Health) RecordCandle(tf candles.Timeframe) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.candleBeats[tf] = h.now()
	h.rollWindowLocked()
	h.candlesWindow++
}

func (h *Health) rollWindowLocked() {
	now := h.now()
	if now.Sub(h.windowStart) >= 5*time.Second {
		h.lastTicks5s = h.ticksWindow
		h.lastCandles5s = h.candlesWindow
		h.ticksWindow = 0
		h.candlesWindow = 0
		h.windowStart = now
	}
}

// RecordReconnect counts a WS reconnect.
func (h *Health) RecordReconnect() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.wsReconnects++
}

// RecordRESTRequest counts a REST poll, flagging 429s.
func (h *Health) RecordRESTRequest(rateLimited bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.restRequests++
	if rateLimited {
		h.rest429s++
	}
}

// SetRESTDegraded flips the degraded flag.
func (h *Health) SetRESTDegraded(degraded bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.restDegraded = degraded
}

// WSLastAge is the time since the last WS message.
func (h *Health) WSLastAge() time.Duration {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.wsLastMsg.IsZero() {
		return time.Hour
	}
	return h.now().Sub(h.wsLastMsg)
}

// Snapshot returns the health counters for the state bundle.
func (h *Health) Snapshot() map[string]interface{} {
	h.mu.Lock()
	defer h.mu.Unlock()
	beats := make(map[string]string, len(h.candleBeats))
	for tf, t := range h.candleBeats {
		beats["candles_"+string(tf)] = t.UTC().Format(time.RFC3339)
	}
	wsAge := -1.0
	if !h.wsLastMsg.IsZero() {
		wsAge = h.now().Sub(h.wsLastMsg).Seconds()
	}
	return map[string]interface{}{
		"ws_last_age_s":      wsAge,
		"ws_reconnect_count": h.wsReconnects,
		"rest_requests":      h.restRequests,
		"rest_429s":          h.rest429s,
		"rest_rate_degraded": h.restDegraded,
		"ticks_last_5s":      h.lastTicks5s,
		"candles_last_5s":    h.lastCandles5s,
		"heartbeats":         beats,
	}
}

// SetClock overrides the time source for tests.
func (h *Health) SetClock(now func() time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.now = now
}
