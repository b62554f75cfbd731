package candles

import (
	"math"
	"sync"

	talib "github.com/markcheno/go-talib"
)

// Default buffer bounds per timeframe. Sized for the longest lookback any
// strategy asks for plus slack.
var defaultLimits = map[Timeframe]int{
	TF1m: 600,
	TF5m: 300,
	TF1h: 200,
	TF1d: 120,
}

// Buffer holds the rolling bar sequences for one symbol. The collector is
// the only writer; strategies and the feature engine read snapshots.
type Buffer struct {
	mu     sync.RWMutex
	symbol string
	bars   map[Timeframe][]Candle
	limits map[Timeframe]int
}

func NewBuffer(symbol string) *Buffer {
	b := &Buffer{
		symbol: symbol,
		bars:   make(map[Timeframe][]Candle, len(Timeframes)),
		limits: defaultLimits,
	}
	for _, tf := range Timeframes {
		b.bars[tf] = nil
	}
	return b
}

func (b *Buffer) Symbol() string { return b.symbol }

// Add inserts or replaces one bar, keeping timestamps strictly increasing.
// A bar matching the tail timestamp replaces the tail (WS sends in-progress
// bars repeatedly); an older bar is dropped. Returns true if the buffer
// changed.
func (b *Buffer) Add(tf Timeframe, c Candle) bool {
	if !c.Valid() {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	seq := b.bars[tf]
	n := len(seq)
	switch {
	case n == 0 || c.Timestamp.After(seq[n-1].Timestamp):
		seq = append(seq, c)
	case c.Timestamp.Equal(seq[n-1].Timestamp):
		seq[n-1] = c
	default:
		return false
	}
	if limit := b.limits[tf]; len(seq) > limit {
		seq = seq[len(seq)-limit:]
	}
	b.bars[tf] = seq
	return true
}

// AddBatch inserts already-ordered bars, skipping invalid and stale ones.
// Returns how many changed the buffer.
func (b *Buffer) AddBatch(tf Timeframe, cs []Candle) int {
	added := 0
	for _, c := range cs {
		if b.Add(tf, c) {
			added++
		}
	}
	return added
}

// Len returns the bar count for a timeframe.
func (b *Buffer) Len(tf Timeframe) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.bars[tf])
}

// Last returns the newest bar, false if empty.
func (b *Buffer) Last(tf Timeframe) (Candle, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	seq := b.bars[tf]
	if len(seq) == 0 {
		return Candle{}, false
	}
	return seq[len(seq)-1], true
}

// Tail copies the newest n bars (fewer if not available), oldest first.
func (b *Buffer) Tail(tf Timeframe, n int) []Candle {
	b.mu.RLock()
	defer b.mu.RUnlock()
	seq := b.bars[tf]
	if n > len(seq) {
		n = len(seq)
	}
	if n <= 0 {
		return nil
	}
	out := make([]Candle, n)
	copy(out, seq[len(seq)-n:])
	return out
}

// LastPrice returns the newest 1m close, 0 when cold.
func (b *Buffer) LastPrice() float64 {
	if c, ok := b.Last(TF1m); ok {
		return c.Close
	}
	return 0
}

// HasGap reports whether the newest two bars are separated by more than
// twice the bar interval. Gapped symbols are treated as not warm.
func (b *Buffer) HasGap(tf Timeframe) bool {
	tail := b.Tail(tf, 2)
	if len(tail) < 2 {
		return false
	}
	return tail[1].Timestamp.Sub(tail[0].Timestamp) > 2*tf.Duration()
}

// VWAP is the volume-weighted average close of the last n 1m bars. Falls
// back to the plain mean when total volume is zero.
func (b *Buffer) VWAP(n int) float64 {
	tail := b.Tail(TF1m, n)
	if len(tail) == 0 {
		return 0
	}
	var pv, vol, sum float64
	for _, c := range tail {
		typical := (c.High + c.Low + c.Close) / 3
		pv += typical * c.Volume
		vol += c.Volume
		sum += c.Close
	}
	if vol <= 0 {
		return sum / float64(len(tail))
	}
	return pv / vol
}

// ATR returns the n-period average true range on tf, 0 when under-filled.
func (b *Buffer) ATR(n int, tf Timeframe) float64 {
	tail := b.Tail(tf, n*3)
	if len(tail) < n+1 {
		return 0
	}
	highs, lows, closes := split(tail)
	out := talib.Atr(highs, lows, closes, n)
	return lastFinite(out)
}

// EMA returns the n-period exponential moving average of closes on tf.
func (b *Buffer) EMA(n int, tf Timeframe) float64 {
	tail := b.Tail(tf, n*3)
	if len(tail) < n {
		return 0
	}
	_, _, closes := split(tail)
	return lastFinite(talib.Ema(closes, n))
}

// RSI returns the n-period relative strength index on tf, 50 when cold.
func (b *Buffer) RSI(n int, tf Timeframe) float64 {
	tail := b.Tail(tf, n*3)
	if len(tail) < n+1 {
		return 50
	}
	_, _, closes := split(tail)
	if v := lastFinite(talib.Rsi(closes, n)); v > 0 {
		return v
	}
	return 50
}

// BB returns the n-period Bollinger bands (upper, middle, lower) with k
// standard deviations on tf.
func (b *Buffer) BB(n int, k float64, tf Timeframe) (upper, middle, lower float64) {
	tail := b.Tail(tf, n*3)
	if len(tail) < n {
		return 0, 0, 0
	}
	_, _, closes := split(tail)
	up, mid, low := talib.BBands(closes, n, k, k, talib.SMA)
	return lastFinite(up), lastFinite(mid), lastFinite(low)
}

// GreenStreak counts consecutive green bars at the tail of tf.
func (b *Buffer) GreenStreak(tf Timeframe) int {
	tail := b.Tail(tf, 50)
	streak := 0
	for i := len(tail) - 1; i >= 0; i-- {
		if !tail[i].Green() {
			break
		}
		streak++
	}
	return streak
}

// RecentHigh returns the highest high of the last n bars on tf.
func (b *Buffer) RecentHigh(n int, tf Timeframe) float64 {
	tail := b.Tail(tf, n)
	high := 0.0
	for _, c := range tail {
		if c.High > high {
			high = c.High
		}
	}
	return high
}

// RecentLow returns the lowest low of the last n bars on tf.
func (b *Buffer) RecentLow(n int, tf Timeframe) float64 {
	tail := b.Tail(tf, n)
	low := math.Inf(1)
	for _, c := range tail {
		if c.Low < low {
			low = c.Low
		}
	}
	if math.IsInf(low, 1) {
		return 0
	}
	return low
}

// SwingHighs returns the bars of the last n on tf that are strictly higher
// than their two neighbors on each side.
func (b *Buffer) SwingHighs(n int, tf Timeframe) []Candle {
	tail := b.Tail(tf, n)
	var out []Candle
	for i := 2; i < len(tail)-2; i++ {
		h := tail[i].High
		if h > tail[i-1].High && h > tail[i-2].High && h > tail[i+1].High && h > tail[i+2].High {
			out = append(out, tail[i])
		}
	}
	return out
}

// AvgVolume is the mean volume of the last n bars on tf.
func (b *Buffer) AvgVolume(n int, tf Timeframe) float64 {
	tail := b.Tail(tf, n)
	if len(tail) == 0 {
		return 0
	}
	var sum float64
	for _, c := range tail {
		sum += c.Volume
	}
	return sum / float64(len(tail))
}

func split(cs []Candle) (highs, lows, closes []float64) {
	highs = make([]float64, len(cs))
	lows = make([]float64, len(cs))
	closes = make([]float64, len(cs))
	for i, c := range cs {
		highs[i] = c.High
		lows[i] = c.Low
		closes[i] = c.Close
	}
	return
}

func lastFinite(vals []float64) float64 {
	for i := len(vals) - 1; i >= 0; i-- {
		v := vals[i]
		if !math.IsNaN(v) && !math.IsInf(v, 0) && v != 0 {
			return v
		}
	}
	return 0
}
