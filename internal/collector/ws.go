package collector

import (
	"context"
	"encoding/json"
	"math"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"coinbase-trading-bot/internal/candles"
)

const wsEndpoint = "wss://advanced-trade-ws.coinbase.com"

// TokenSource mints the JWT carried in subscribe messages. Nil means
// unauthenticated (public channels).
type TokenSource interface {
	WSJWT() (string, error)
}

// WSCollector subscribes the candles channel for the tier-1 symbol set and
// streams bars into the buffers. Reconnects use exponential backoff and
// resubscribe the current set.
type WSCollector struct {
	mu          sync.Mutex
	buffers     *Buffers
	health      *Health
	tokens      TokenSource
	symbols     map[string]bool
	minuteState map[string]wsBarState
	conn        *websocket.Conn
	dialer      *websocket.Dialer
	endpoint    string
	sendQueue   chan wsRequest
	now         func() time.Time
	logger      zerolog.Logger
}

// wsBarState remembers the last update of a symbol's in-progress 5m bar plus
// the 1m bar being accumulated for the current minute.
type wsBarState struct {
	barStart time.Time
	high     float64
	low      float64
	close    float64
	volume   float64
	minute   candles.Candle
}

type wsRequest struct {
	Type       string   `json:"type"`
	Channel    string   `json:"channel"`
	ProductIDs []string `json:"product_ids"`
	JWT        string   `json:"jwt,omitempty"`
}

type wsMessage struct {
	Channel string `json:"channel"`
	Events  []struct {
		Type    string `json:"type"`
		Candles []struct {
			Start     string `json:"start"`
			Open      string `json:"open"`
			High      string `json:"high"`
			Low       string `json:"low"`
			Close     string `json:"close"`
			Volume    string `json:"volume"`
			ProductID string `json:"product_id"`
		} `json:"candles"`
	} `json:"events"`
}

func NewWSCollector(buffers *Buffers, health *Health, tokens TokenSource, logger zerolog.Logger) *WSCollector {
	return &WSCollector{
		buffers:     buffers,
		health:      health,
		tokens:      tokens,
		symbols:     make(map[string]bool),
		minuteState: make(map[string]wsBarState),
		dialer:      websocket.DefaultDialer,
		endpoint:    wsEndpoint,
		sendQueue:   make(chan wsRequest, 64),
		now:         time.Now,
		logger:      logger.With().Str("component", "ws_collector").Logger(),
	}
}

// SetClock overrides wall-clock time in tests.
func (w *WSCollector) SetClock(fn func() time.Time) { w.now = fn }

// UpdateSymbols diffs the new tier-1 list against the current subscription
// set: removed symbols are unsubscribed first, additions subscribed after.
// Buffers for surviving symbols are untouched. Duplicates are collapsed.
func (w *WSCollector) UpdateSymbols(newList []string) {
	next := make(map[string]bool, len(newList))
	for _, s := range newList {
		next[s] = true
	}

	w.mu.Lock()
	var removed, added []string
	for s := range w.symbols {
		if !next[s] {
			removed = append(removed, s)
		}
	}
	for s := range next {
		if !w.symbols[s] {
			added = append(added, s)
		}
	}
	w.symbols = next
	connected := w.conn != nil
	w.mu.Unlock()

	if !connected || (len(removed) == 0 && len(added) == 0) {
		return
	}
	sort.Strings(removed)
	sort.Strings(added)
	if len(removed) > 0 {
		w.enqueue("unsubscribe", removed)
	}
	if len(added) > 0 {
		w.enqueue("subscribe", added)
	}
	w.logger.Info().Int("added", len(added)).Int("removed", len(removed)).Msg("ws subscriptions updated")
}

// Subscribe adds one symbol to the set, used by the tier scheduler's
// on_ws_add callback.
func (w *WSCollector) Subscribe(symbol string) {
	w.mu.Lock()
	already := w.symbols[symbol]
	w.symbols[symbol] = true
	connected := w.conn != nil
	w.mu.Unlock()
	if !already && connected {
		w.enqueue("subscribe", []string{symbol})
	}
}

// Unsubscribe removes one symbol, used by on_ws_remove.
func (w *WSCollector) Unsubscribe(symbol string) {
	w.mu.Lock()
	present := w.symbols[symbol]
	delete(w.symbols, symbol)
	connected := w.conn != nil
	w.mu.Unlock()
	if present && connected {
		w.enqueue("unsubscribe", []string{symbol})
	}
}

func (w *WSCollector) enqueue(reqType string, products []string) {
	req := wsRequest{Type: reqType, Channel: "candles", ProductIDs: products}
	select {
	case w.sendQueue <- req:
	default:
		w.logger.Warn().Str("type", reqType).Msg("ws send queue full, dropping request")
	}
}

// Run owns the connection until ctx cancels: dial, subscribe, read, and
// reconnect with exponential backoff.
func (w *WSCollector) Run(ctx context.Context) {
	backoff := time.Second
	for ctx.Err() == nil {
		if err := w.session(ctx); err != nil && ctx.Err() == nil {
			w.health.RecordReconnect()
			w.logger.Warn().Err(err).Dur("backoff", backoff).Msg("ws disconnected")
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			if backoff < 60*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second
	}
}

func (w *WSCollector) session(ctx context.Context) error {
	conn, _, err := w.dialer.DialContext(ctx, w.endpoint, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	w.mu.Lock()
	w.conn = conn
	current := make([]string, 0, len(w.symbols))
	for s := range w.symbols {
		current = append(current, s)
	}
	w.mu.Unlock()
	defer func() {
		w.mu.Lock()
		w.conn = nil
		w.mu.Unlock()
	}()

	sort.Strings(current)
	if len(current) > 0 {
		if err := w.send(conn, wsRequest{Type: "subscribe", Channel: "candles", ProductIDs: current}); err != nil {
			return err
		}
	}

	// Writer: drains queued subscription changes.
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case <-ctx.Done():
				return
			case req, ok := <-w.sendQueue:
				if !ok {
					return
				}
				if err := w.send(conn, req); err != nil {
					w.logger.Warn().Err(err).Msg("ws send failed")
					return
				}
			}
		}
	}()

	for {
		if err := conn.SetReadDeadline(time.Now().Add(60 * time.Second)); err != nil {
			return err
		}
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		w.health.RecordWSMessage()
		w.handleMessage(data)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-writerDone:
			return nil
		default:
		}
	}
}

func (w *WSCollector) send(conn *websocket.Conn, req wsRequest) error {
	if w.tokens != nil {
		token, err := w.tokens.WSJWT()
		if err != nil {
			return err
		}
		req.JWT = token
	}
	return conn.WriteJSON(req)
}

func (w *WSCollector) handleMessage(data []byte) {
	var msg wsMessage
	if err := json.Unmarshal(data, &msg); err != nil || msg.Channel != "candles" {
		return
	}
	for _, ev := range msg.Events {
		for _, raw := range ev.Candles {
			sec, err := strconv.ParseInt(raw.Start, 10, 64)
			if err != nil {
				continue
			}
			c := candles.Candle{
				Timestamp: time.Unix(sec, 0).UTC(),
				Open:      parseF(raw.Open),
				High:      parseF(raw.High),
				Low:       parseF(raw.Low),
				Close:     parseF(raw.Close),
				Volume:    parseF(raw.Volume),
			}
			// The candles channel streams 5m bars; 1m is derived from the
			// delta between consecutive updates of the in-progress bar.
			w.buffers.Ingest(raw.ProductID, candles.TF5m, c, candles.SourceWS)
			w.buffers.Ingest(raw.ProductID, candles.TF1m, w.synthMinute(raw.ProductID, c), candles.SourceWS)
		}
	}
}

// synthMinute builds the current-minute 1m bar from consecutive updates of
// the same 5m bar: volume is the increment since the last update, the open
// chains from the last update's close, and highs and lows only widen when
// the 5m extremes moved. Updates landing in the same minute accumulate into
// one bar; the buffer replaces equal-timestamp tails on re-ingest.
func (w *WSCollector) synthMinute(symbol string, c candles.Candle) candles.Candle {
	minute := w.now().UTC().Truncate(time.Minute)
	if bar := c.Timestamp.Truncate(time.Minute); minute.Before(bar) {
		minute = bar
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	prev, seen := w.minuteState[symbol]

	var delta candles.Candle
	if !seen || !prev.barStart.Equal(c.Timestamp) {
		// First update of a fresh 5m bar carries only that bar's own
		// accumulation, so it is the minute bar as-is.
		delta = c
	} else {
		dv := c.Volume - prev.volume
		if dv < 0 {
			dv = 0
		}
		delta = candles.Candle{Open: prev.close, Close: c.Close, Volume: dv}
		delta.High = math.Max(delta.Open, delta.Close)
		if c.High > prev.high {
			delta.High = math.Max(delta.High, c.High)
		}
		delta.Low = math.Min(delta.Open, delta.Close)
		if c.Low < prev.low {
			delta.Low = math.Min(delta.Low, c.Low)
		}
	}
	delta.Timestamp = minute

	cur := prev.minute
	if seen && cur.Timestamp.Equal(minute) {
		cur.High = math.Max(cur.High, delta.High)
		cur.Low = math.Min(cur.Low, delta.Low)
		cur.Close = delta.Close
		cur.Volume += delta.Volume
	} else {
		cur = delta
	}

	w.minuteState[symbol] = wsBarState{
		barStart: c.Timestamp,
		high:     c.High,
		low:      c.Low,
		close:    c.Close,
		volume:   c.Volume,
		minute:   cur,
	}
	return cur
}

func parseF(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}
