// Package risk holds the persisted risk state: daily PnL accounting, the
// consecutive-failure circuit breaker, per-symbol cooldowns, the kill
// switch, and the gate-rejection tracker.
package risk

import (
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"coinbase-trading-bot/internal/paths"
)

// DailyStats is the persisted daily trading ledger. It auto-resets when the
// UTC date rolls over; RecordTrade is the only mutator.
type DailyStats struct {
	mu     sync.Mutex
	path   string
	logger zerolog.Logger
	now    func() time.Time

	data dailyStatsData
}

type dailyStatsData struct {
	StatsDate    string  `json:"stats_date"`
	Trades       int     `json:"trades"`
	Wins         int     `json:"wins"`
	Losses       int     `json:"losses"`
	TotalPnL     float64 `json:"total_pnl"`
	TotalWinPnL  float64 `json:"total_win_pnl"`
	TotalLossPnL float64 `json:"total_loss_pnl"`
	PeakPnL      float64 `json:"peak_pnl"`
	MaxDrawdown  float64 `json:"max_drawdown"`
	BiggestWin   float64 `json:"biggest_win"`
	BiggestLoss  float64 `json:"biggest_loss"`
}

func NewDailyStats(path string, logger zerolog.Logger) *DailyStats {
	ds := &DailyStats{
		path:   path,
		logger: logger.With().Str("component", "daily_stats").Logger(),
		now:    time.Now,
	}
	if err := paths.ReadJSON(path, &ds.data); err != nil {
		ds.data = dailyStatsData{StatsDate: ds.today()}
	}
	ds.checkResetLocked()
	return ds
}

func (ds *DailyStats) today() string {
	return ds.now().UTC().Format("2006-01-02")
}

func (ds *DailyStats) checkResetLocked() {
	if today := ds.today(); ds.data.StatsDate != today {
		ds.data = dailyStatsData{StatsDate: today}
	}
}

// CheckReset rolls the ledger over if the UTC date changed. Called on every
// record and by the cadence job.
func (ds *DailyStats) CheckReset() {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	before := ds.data.StatsDate
	ds.checkResetLocked()
	if ds.data.StatsDate != before {
		ds.saveLocked()
		ds.logger.Info().Str("date", ds.data.StatsDate).Msg("daily stats reset")
	}
}

// RecordTrade folds one closed trade's PnL into the ledger and persists.
// Non-finite inputs are ignored.
func (ds *DailyStats) RecordTrade(pnl float64) {
	if math.IsNaN(pnl) || math.IsInf(pnl, 0) {
		return
	}
	ds.mu.Lock()
	defer ds.mu.Unlock()
	ds.checkResetLocked()

	ds.data.Trades++
	ds.data.TotalPnL += pnl
	if pnl >= 0 {
		ds.data.Wins++
		ds.data.TotalWinPnL += pnl
		if pnl > ds.data.BiggestWin {
			ds.data.BiggestWin = pnl
		}
	} else {
		ds.data.Losses++
		ds.data.TotalLossPnL += pnl
		if pnl < ds.data.BiggestLoss {
			ds.data.BiggestLoss = pnl
		}
	}
	if ds.data.TotalPnL > ds.data.PeakPnL {
		ds.data.PeakPnL = ds.data.TotalPnL
	}
	if dd := ds.data.PeakPnL - ds.data.TotalPnL; dd > ds.data.MaxDrawdown {
		ds.data.MaxDrawdown = dd
	}
	ds.saveLocked()
}

func (ds *DailyStats) saveLocked() {
	if err := paths.WriteJSONAtomic(ds.path, &ds.data); err != nil {
		ds.logger.Warn().Err(err).Msg("daily stats save failed")
	}
}

// TotalPnL returns today's realized PnL.
func (ds *DailyStats) TotalPnL() float64 {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	ds.checkResetLocked()
	return ds.data.TotalPnL
}

// Snapshot returns a copy of the ledger for the state bundle.
func (ds *DailyStats) Snapshot() map[string]interface{} {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	ds.checkResetLocked()
	winRate := 0.0
	if ds.data.Trades > 0 {
		winRate = float64(ds.data.Wins) / float64(ds.data.Trades)
	}
	return map[string]interface{}{
		"stats_date":   ds.data.StatsDate,
		"trades":       ds.data.Trades,
		"wins":         ds.data.Wins,
		"losses":       ds.data.Losses,
		"total_pnl":    ds.data.TotalPnL,
		"peak_pnl":     ds.data.PeakPnL,
		"max_drawdown": ds.data.MaxDrawdown,
		"biggest_win":  ds.data.BiggestWin,
		"biggest_loss": ds.data.BiggestLoss,
		"win_rate":     winRate,
	}
}

// SetClock overrides the time source for tests.
func (ds *DailyStats) SetClock(now func() time.Time) {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	ds.now = now
}
