package candles

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(t.TempDir(), zerolog.Nop())
}

func TestStoredCandleRoundTrip(t *testing.T) {
	ts := time.Date(2026, 3, 1, 12, 30, 0, 0, time.UTC)
	orig := Candle{Timestamp: ts, Open: 1.5, High: 2, Low: 1, Close: 1.8, Volume: 42}

	stored := NewStoredCandle(orig, TF5m, SourceWS)
	back, err := stored.ToCandle()
	if err != nil {
		t.Fatalf("ToCandle: %v", err)
	}
	if !back.Timestamp.Equal(orig.Timestamp) || back != orig {
		t.Errorf("round trip mismatch: got %+v, want %+v", back, orig)
	}
	if stored.TF != TF5m || stored.Source != SourceWS {
		t.Errorf("stored metadata = %s/%s, want 5m/ws", stored.TF, stored.Source)
	}
}

func TestStoreWriteLoadRoundTrip(t *testing.T) {
	s := testStore(t)
	now := time.Now().UTC().Truncate(time.Minute)

	cs := minuteBars(now.Add(-10*time.Minute), 100, 101, 102, 101, 103)
	s.WriteCandles("BTC-USD", TF1m, cs, SourceREST)
	s.FlushAll()

	loaded, err := s.LoadCandles("BTC-USD", TF1m, time.Hour, 0)
	if err != nil {
		t.Fatalf("LoadCandles: %v", err)
	}
	if len(loaded) != len(cs) {
		t.Fatalf("loaded %d candles, want %d", len(loaded), len(cs))
	}
	for i := range cs {
		if !loaded[i].Timestamp.Equal(cs[i].Timestamp) || loaded[i].Close != cs[i].Close {
			t.Errorf("candle %d mismatch: got %+v, want %+v", i, loaded[i], cs[i])
		}
	}
}

func TestStoreLoadDedupFirstWins(t *testing.T) {
	s := testStore(t)
	ts := time.Now().UTC().Truncate(time.Minute)

	first := bar(ts, 100, 101, 99, 100.5, 10)
	second := bar(ts, 100, 102, 99, 101.5, 12)
	s.WriteCandle("ETH-USD", TF1m, first, SourceWS)
	s.WriteCandle("ETH-USD", TF1m, second, SourceREST)
	s.FlushAll()

	loaded, err := s.LoadCandles("ETH-USD", TF1m, time.Hour, 0)
	if err != nil {
		t.Fatalf("LoadCandles: %v", err)
	}
	if len(loaded) != 1 {
		t.Fatalf("loaded %d candles, want 1 after dedup", len(loaded))
	}
	if loaded[0].Close != first.Close {
		t.Errorf("dedup kept close %v, want first-written %v", loaded[0].Close, first.Close)
	}
}

func TestStoreLoadSkipsMalformedAndStale(t *testing.T) {
	s := testStore(t)
	now := time.Now().UTC().Truncate(time.Minute)

	s.WriteCandle("SOL-USD", TF1m, bar(now.Add(-48*time.Hour), 1, 2, 0.5, 1, 1), SourceREST)
	s.WriteCandle("SOL-USD", TF1m, bar(now, 1, 2, 0.5, 1.5, 1), SourceREST)
	s.FlushAll()

	// Append garbage by hand.
	path := filepath.Join(s.dir, "SOL-USD", "1m.jsonl")
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	f.WriteString("{not json\n")
	f.Close()

	loaded, err := s.LoadCandles("SOL-USD", TF1m, 24*time.Hour, 0)
	if err != nil {
		t.Fatalf("LoadCandles: %v", err)
	}
	if len(loaded) != 1 {
		t.Fatalf("loaded %d candles, want 1 (stale and malformed skipped)", len(loaded))
	}
	if !loaded[0].Timestamp.Equal(now) {
		t.Errorf("kept %v, want %v", loaded[0].Timestamp, now)
	}
}

func TestStoreLoadTruncatesToNewest(t *testing.T) {
	s := testStore(t)
	now := time.Now().UTC().Truncate(time.Minute)
	for i := 0; i < 30; i++ {
		s.WriteCandle("ADA-USD", TF1m, bar(now.Add(time.Duration(i-30)*time.Minute), 1, 2, 0.5, 1, 1), SourceREST)
	}
	s.FlushAll()

	loaded, err := s.LoadCandles("ADA-USD", TF1m, time.Hour, 10)
	if err != nil {
		t.Fatalf("LoadCandles: %v", err)
	}
	if len(loaded) != 10 {
		t.Fatalf("loaded %d candles, want newest 10", len(loaded))
	}
	if want := now.Add(-time.Minute); !loaded[9].Timestamp.Equal(want) {
		t.Errorf("newest = %v, want %v", loaded[9].Timestamp, want)
	}
}

func TestRehydrateBuffers(t *testing.T) {
	s := testStore(t)
	now := time.Now().UTC().Truncate(time.Minute)
	s.WriteCandles("BTC-USD", TF1m, minuteBars(now.Add(-5*time.Minute), 10, 11, 12, 11, 13), SourceREST)
	s.FlushAll()

	buf := NewBuffer("BTC-USD")
	s.RehydrateBuffers(map[string]*Buffer{"BTC-USD": buf}, time.Hour)
	if got := buf.Len(TF1m); got != 5 {
		t.Errorf("rehydrated %d bars, want 5", got)
	}
	if got := buf.LastPrice(); got != 13 {
		t.Errorf("LastPrice = %v, want 13", got)
	}
}
