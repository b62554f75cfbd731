// Package features derives the live per-symbol feature vector consumed by
// strategies and the gate funnel. Every value is guaranteed finite.
package features

import (
	"math"
	"time"

	"coinbase-trading-bot/internal/candles"
)

// maxAge is how old a snapshot may be before the symbol is skipped.
const maxAge = 120 * time.Second

// Vector is one symbol's feature snapshot. All values are finite floats;
// non-finite intermediate results are coerced to 0.
type Vector struct {
	Symbol       string    `json:"symbol"`
	Price        float64   `json:"price"`
	Trend1h      float64   `json:"trend_1h"`
	Trend15m     float64   `json:"trend_15m"`
	Trend5m      float64   `json:"trend_5m"`
	Trend1d      float64   `json:"trend_1d"`
	VolRatio     float64   `json:"vol_ratio"`
	VolSpike5m   float64   `json:"vol_spike_5m"`
	VWAP         float64   `json:"vwap"`
	VWAPPct      float64   `json:"vwap_pct"`
	VWAPDistance float64   `json:"vwap_distance"`
	SpreadBps    float64   `json:"spread_bps"`
	RSI14        float64   `json:"rsi_14"`
	ATR14        float64   `json:"atr_14"`
	Timestamp    time.Time `json:"timestamp"`
}

// Stale reports whether the snapshot is too old to act on.
func (v *Vector) Stale(now time.Time) bool {
	return now.Sub(v.Timestamp) > maxAge
}

// SpreadSource supplies the current quoted spread for a symbol, usually the
// universe scanner's sample.
type SpreadSource interface {
	SpreadBps(symbol string) float64
}

// Engine computes feature vectors from candle buffers.
type Engine struct {
	spreads SpreadSource
	now     func() time.Time
}

func NewEngine(spreads SpreadSource) *Engine {
	return &Engine{spreads: spreads, now: time.Now}
}

// Compute builds the feature vector for one symbol. Returns nil when the
// buffer has no price yet.
func (e *Engine) Compute(buf *candles.Buffer) *Vector {
	price := buf.LastPrice()
	if price <= 0 {
		return nil
	}

	vwap := buf.VWAP(30)
	spread := 0.0
	if e.spreads != nil {
		spread = e.spreads.SpreadBps(buf.Symbol())
	}

	v := &Vector{
		Symbol:     buf.Symbol(),
		Price:      price,
		Trend5m:    trendPct(buf, candles.TF1m, 5),
		Trend15m:   trendPct(buf, candles.TF5m, 3),
		Trend1h:    trendPct(buf, candles.TF1m, 60),
		Trend1d:    trendPct(buf, candles.TF1h, 24),
		VolRatio:   volumeRatio(buf, candles.TF1m, 5, 30),
		VolSpike5m: volumeRatio(buf, candles.TF5m, 1, 20),
		VWAP:       vwap,
		SpreadBps:  spread,
		RSI14:      buf.RSI(14, candles.TF5m),
		ATR14:      buf.ATR(14, candles.TF5m),
		Timestamp:  e.now().UTC(),
	}
	if vwap > 0 {
		v.VWAPPct = (price - vwap) / vwap * 100
		v.VWAPDistance = price - vwap
	}
	v.sanitize()
	return v
}

// sanitize coerces every non-finite field to 0, the invariant strategies
// rely on.
func (v *Vector) sanitize() {
	for _, f := range []*float64{
		&v.Price, &v.Trend1h, &v.Trend15m, &v.Trend5m, &v.Trend1d,
		&v.VolRatio, &v.VolSpike5m, &v.VWAP, &v.VWAPPct, &v.VWAPDistance,
		&v.SpreadBps, &v.RSI14, &v.ATR14,
	} {
		*f = FiniteFloat(*f)
	}
}

// FiniteFloat maps NaN and infinities to 0.
func FiniteFloat(f float64) float64 {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return f
}

// trendPct is the percent change between the close n bars ago and now.
func trendPct(buf *candles.Buffer, tf candles.Timeframe, n int) float64 {
	tail := buf.Tail(tf, n+1)
	if len(tail) < 2 {
		return 0
	}
	first := tail[0].Close
	last := tail[len(tail)-1].Close
	if first <= 0 {
		return 0
	}
	return (last - first) / first * 100
}

// volumeRatio compares mean volume of the recent window against the longer
// baseline, 1.0 when flat.
func volumeRatio(buf *candles.Buffer, tf candles.Timeframe, recent, baseline int) float64 {
	r := buf.AvgVolume(recent, tf)
	b := buf.AvgVolume(baseline, tf)
	if b <= 0 {
		return 1
	}
	return r / b
}
