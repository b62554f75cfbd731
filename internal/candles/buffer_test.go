package candles

import (
	"testing"
	"time"
)

func bar(ts time.Time, o, h, l, c, v float64) Candle {
	return Candle{Timestamp: ts, Open: o, High: h, Low: l, Close: c, Volume: v}
}

func minuteBars(start time.Time, closes ...float64) []Candle {
	out := make([]Candle, len(closes))
	for i, c := range closes {
		out[i] = bar(start.Add(time.Duration(i)*time.Minute), c, c+1, c-1, c, 10)
	}
	return out
}

func TestBufferAddOrdering(t *testing.T) {
	b := NewBuffer("BTC-USD")
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	if !b.Add(TF1m, bar(t0, 100, 101, 99, 100, 5)) {
		t.Fatal("first bar should be accepted")
	}
	if !b.Add(TF1m, bar(t0.Add(time.Minute), 100, 102, 99, 101, 5)) {
		t.Fatal("newer bar should be accepted")
	}

	// Same timestamp replaces the tail (in-progress WS bar).
	if !b.Add(TF1m, bar(t0.Add(time.Minute), 100, 103, 99, 102.5, 8)) {
		t.Fatal("tail replacement should be accepted")
	}
	if got := b.LastPrice(); got != 102.5 {
		t.Errorf("LastPrice = %v, want 102.5", got)
	}
	if b.Len(TF1m) != 2 {
		t.Errorf("Len = %d, want 2 after replacement", b.Len(TF1m))
	}

	// Older bar is dropped.
	if b.Add(TF1m, bar(t0.Add(-time.Minute), 90, 91, 89, 90, 5)) {
		t.Error("older bar should be rejected")
	}
}

func TestBufferRejectsInvalid(t *testing.T) {
	b := NewBuffer("ETH-USD")
	t0 := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	cases := []struct {
		name string
		c    Candle
	}{
		{"zero timestamp", bar(time.Time{}, 1, 2, 0.5, 1, 1)},
		{"close above high", bar(t0, 1, 2, 0.5, 3, 1)},
		{"open below low", bar(t0, 0.2, 2, 0.5, 1, 1)},
		{"negative volume", bar(t0, 1, 2, 0.5, 1, -1)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if b.Add(TF1m, tc.c) {
				t.Errorf("invalid bar accepted: %+v", tc.c)
			}
		})
	}
}

func TestBufferBound(t *testing.T) {
	b := NewBuffer("SOL-USD")
	t0 := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 700; i++ {
		b.Add(TF1m, bar(t0.Add(time.Duration(i)*time.Minute), 10, 11, 9, 10, 1))
	}
	if got := b.Len(TF1m); got != 600 {
		t.Errorf("1m buffer length = %d, want bound 600", got)
	}
	// Oldest surviving bar is the 100th.
	tail := b.Tail(TF1m, 600)
	if want := t0.Add(100 * time.Minute); !tail[0].Timestamp.Equal(want) {
		t.Errorf("oldest bar at %v, want %v", tail[0].Timestamp, want)
	}
}

func TestBufferHasGap(t *testing.T) {
	b := NewBuffer("DOGE-USD")
	t0 := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	b.Add(TF1m, bar(t0, 1, 2, 0.5, 1, 1))
	b.Add(TF1m, bar(t0.Add(2*time.Minute), 1, 2, 0.5, 1, 1))
	if b.HasGap(TF1m) {
		t.Error("2 minute spacing is within tolerance, no gap expected")
	}
	b.Add(TF1m, bar(t0.Add(5*time.Minute), 1, 2, 0.5, 1, 1))
	if !b.HasGap(TF1m) {
		t.Error("3 minute jump on 1m bars should report a gap")
	}
}

func TestGreenStreak(t *testing.T) {
	b := NewBuffer("ADA-USD")
	t0 := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	closes := []struct{ o, c float64 }{
		{1.0, 1.1}, {1.1, 1.05}, {1.05, 1.06}, {1.06, 1.08}, {1.08, 1.09},
	}
	for i, p := range closes {
		b.Add(TF1m, bar(t0.Add(time.Duration(i)*time.Minute), p.o, p.c+0.1, p.o-0.1, p.c, 1))
	}
	if got := b.GreenStreak(TF1m); got != 3 {
		t.Errorf("GreenStreak = %d, want 3", got)
	}
}

func TestVWAPFallsBackWithoutVolume(t *testing.T) {
	b := NewBuffer("XRP-USD")
	t0 := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	for i, c := range []float64{2, 4, 6} {
		b.Add(TF1m, bar(t0.Add(time.Duration(i)*time.Minute), c, c+1, c-1, c, 0))
	}
	if got := b.VWAP(3); got != 4 {
		t.Errorf("VWAP fallback = %v, want plain mean 4", got)
	}
}

func TestRecentHighLow(t *testing.T) {
	b := NewBuffer("LTC-USD")
	t0 := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	b.AddBatch(TF1m, minuteBars(t0, 10, 12, 11, 9, 10))
	if got := b.RecentHigh(5, TF1m); got != 13 {
		t.Errorf("RecentHigh = %v, want 13", got)
	}
	if got := b.RecentLow(5, TF1m); got != 8 {
		t.Errorf("RecentLow = %v, want 8", got)
	}
}
