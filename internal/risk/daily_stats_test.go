package risk

import (
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func testDaily(t *testing.T) *DailyStats {
	t.Helper()
	return NewDailyStats(filepath.Join(t.TempDir(), "daily_stats.json"), zerolog.Nop())
}

func TestDailyStatsRecordAndDrawdown(t *testing.T) {
	ds := testDaily(t)

	ds.RecordTrade(10)
	ds.RecordTrade(5)
	ds.RecordTrade(-8)

	if got := ds.TotalPnL(); got != 7 {
		t.Errorf("TotalPnL = %v, want 7", got)
	}
	snap := ds.Snapshot()
	if snap["trades"] != 3 || snap["wins"] != 2 || snap["losses"] != 1 {
		t.Errorf("counts = %v/%v/%v, want 3/2/1", snap["trades"], snap["wins"], snap["losses"])
	}
	if snap["peak_pnl"] != 15.0 {
		t.Errorf("peak_pnl = %v, want 15", snap["peak_pnl"])
	}
	if snap["max_drawdown"] != 8.0 {
		t.Errorf("max_drawdown = %v, want 8", snap["max_drawdown"])
	}
	if snap["biggest_win"] != 10.0 || snap["biggest_loss"] != -8.0 {
		t.Errorf("extremes = %v/%v, want 10/-8", snap["biggest_win"], snap["biggest_loss"])
	}
}

func TestDailyStatsIgnoresNonFinite(t *testing.T) {
	ds := testDaily(t)
	ds.RecordTrade(math.NaN())
	ds.RecordTrade(math.Inf(1))
	ds.RecordTrade(math.Inf(-1))
	if got := ds.TotalPnL(); got != 0 {
		t.Errorf("TotalPnL = %v, want 0 after non-finite inputs", got)
	}
	if snap := ds.Snapshot(); snap["trades"] != 0 {
		t.Errorf("trades = %v, want 0", snap["trades"])
	}
}

func TestDailyStatsUTCRollover(t *testing.T) {
	ds := testDaily(t)

	day1 := time.Date(2026, 3, 1, 23, 59, 0, 0, time.UTC)
	current := day1
	ds.SetClock(func() time.Time { return current })
	ds.CheckReset()

	ds.RecordTrade(-20)
	if got := ds.TotalPnL(); got != -20 {
		t.Fatalf("TotalPnL = %v, want -20", got)
	}

	current = day1.Add(2 * time.Minute) // crosses UTC midnight
	if got := ds.TotalPnL(); got != 0 {
		t.Errorf("TotalPnL after rollover = %v, want fresh 0", got)
	}
	if snap := ds.Snapshot(); snap["stats_date"] != "2026-03-02" {
		t.Errorf("stats_date = %v, want 2026-03-02", snap["stats_date"])
	}
}

func TestDailyStatsPersistence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "daily_stats.json")
	ds := NewDailyStats(path, zerolog.Nop())
	ds.RecordTrade(12.5)
	ds.RecordTrade(-2.5)

	reloaded := NewDailyStats(path, zerolog.Nop())
	if got := reloaded.TotalPnL(); got != 10 {
		t.Errorf("reloaded TotalPnL = %v, want 10", got)
	}
}
