// Package candles holds the OHLCV model: rolling per-symbol buffers with
// derived indicator queries and the append-only JSONL history store.
package candles

import (
	"fmt"
	"strings"
	"time"
)

// Timeframe is one of the four bar intervals the engine tracks.
type Timeframe string

const (
	TF1m Timeframe = "1m"
	TF5m Timeframe = "5m"
	TF1h Timeframe = "1h"
	TF1d Timeframe = "1d"
)

// Timeframes lists all tracked intervals, shortest first.
var Timeframes = []Timeframe{TF1m, TF5m, TF1h, TF1d}

// Duration returns the bar interval.
func (tf Timeframe) Duration() time.Duration {
	switch tf {
	case TF1m:
		return time.Minute
	case TF5m:
		return 5 * time.Minute
	case TF1h:
		return time.Hour
	case TF1d:
		return 24 * time.Hour
	default:
		return time.Minute
	}
}

// Candle is one OHLCV bar. Timestamp is the bar open time, UTC, aligned to
// the timeframe.
type Candle struct {
	Timestamp time.Time `json:"ts"`
	Open      float64   `json:"o"`
	High      float64   `json:"h"`
	Low       float64   `json:"l"`
	Close     float64   `json:"c"`
	Volume    float64   `json:"v"`
}

// Valid reports whether the bar satisfies low <= open,close <= high and has
// non-negative volume.
func (c Candle) Valid() bool {
	if c.Timestamp.IsZero() || c.Volume < 0 {
		return false
	}
	return c.Low <= c.Open && c.Low <= c.Close && c.Open <= c.High && c.Close <= c.High
}

// Green reports close > open.
func (c Candle) Green() bool { return c.Close > c.Open }

// CandleSource marks where a bar came from.
type CandleSource string

const (
	SourceWS   CandleSource = "ws"
	SourceREST CandleSource = "rest"
)

// StoredCandle is the on-disk JSONL form of a Candle.
type StoredCandle struct {
	TS     string       `json:"ts"`
	Open   float64      `json:"o"`
	High   float64      `json:"h"`
	Low    float64      `json:"l"`
	Close  float64      `json:"c"`
	Volume float64      `json:"v"`
	TF     Timeframe    `json:"tf"`
	Source CandleSource `json:"source"`
}

// NewStoredCandle converts a live bar into its persisted form.
func NewStoredCandle(c Candle, tf Timeframe, src CandleSource) StoredCandle {
	return StoredCandle{
		TS:     c.Timestamp.UTC().Format(time.RFC3339),
		Open:   c.Open,
		High:   c.High,
		Low:    c.Low,
		Close:  c.Close,
		Volume: c.Volume,
		TF:     tf,
		Source: src,
	}
}

// ToCandle converts back to the in-memory form.
func (s StoredCandle) ToCandle() (Candle, error) {
	ts, err := time.Parse(time.RFC3339, s.TS)
	if err != nil {
		return Candle{}, fmt.Errorf("candles: bad timestamp %q: %w", s.TS, err)
	}
	return Candle{
		Timestamp: ts.UTC(),
		Open:      s.Open,
		High:      s.High,
		Low:       s.Low,
		Close:     s.Close,
		Volume:    s.Volume,
	}, nil
}

// SafeSymbol makes a symbol filesystem-safe for candle directories.
func SafeSymbol(symbol string) string {
	r := strings.NewReplacer("/", "-", ":", "-")
	return r.Replace(symbol)
}
