package engine

import (
	"time"

	"coinbase-trading-bot/internal/paths"
	"coinbase-trading-bot/internal/positions"
	"coinbase-trading-bot/internal/risk"
	"coinbase-trading-bot/internal/universe"
)

// BotState is the full externally visible snapshot, served by the API and
// written to status.json on the status cadence.
type BotState struct {
	Mode           string                  `json:"mode"`
	Phase          string                  `json:"phase"`
	UpdatedAt      time.Time               `json:"updated_at"`
	StartedAt      time.Time               `json:"started_at"`
	UptimeSeconds  float64                 `json:"uptime_seconds"`
	PortfolioValue float64                 `json:"portfolio_value"`
	CashBalance    float64                 `json:"cash_balance"`
	Paused         bool                    `json:"paused"`
	KillSwitch     bool                    `json:"kill_switch"`
	KillReason     string                  `json:"kill_reason,omitempty"`
	BreakerState   string                  `json:"breaker_state"`
	Positions      []positions.Position    `json:"positions"`
	DustPositions  []positions.Position    `json:"dust_positions"`
	DailyStats     map[string]interface{}  `json:"daily_stats"`
	BurstLeaders   []universe.BurstMetrics `json:"burst_leaderboard"`
	RecentSignals  []SignalRecord          `json:"recent_signals"`
	GateTraces     []TraceRecord           `json:"gate_traces"`
	Rejections     map[string]int          `json:"rejections"`
	RecentRejects  []risk.RejectionRecord  `json:"recent_rejections"`
	Heartbeats     map[string]interface{}  `json:"heartbeats"`
	Scheduler      map[string]interface{}  `json:"scheduler"`
	Params         map[string]float64      `json:"params"`
}

// Snapshot assembles the current BotState.
func (e *Engine) Snapshot() BotState {
	now := e.now()

	e.mu.Lock()
	phase := e.phase
	startedAt := e.startedAt
	traces := append([]TraceRecord(nil), e.traces...)
	signals := append([]SignalRecord(nil), e.signals...)
	e.mu.Unlock()

	killed, killReason := e.d.Kill.Engaged()
	stats := e.d.Scheduler.Stats()

	state := BotState{
		Mode:           string(e.d.Cfg.Mode),
		Phase:          phase,
		UpdatedAt:      now.UTC(),
		StartedAt:      startedAt.UTC(),
		UptimeSeconds:  now.Sub(startedAt).Seconds(),
		PortfolioValue: e.d.Portfolio.GetTotalPortfolioValue(),
		CashBalance:    e.d.Portfolio.GetAvailableBalance(),
		Paused:         e.d.Store.PauseNewEntries(),
		KillSwitch:     killed,
		KillReason:     killReason,
		BreakerState:   string(e.d.Breaker.State()),
		Positions:      e.d.Registry.Active(),
		DustPositions:  e.d.Registry.Dust(),
		DailyStats:     e.d.Daily.Snapshot(),
		BurstLeaders:   e.d.Scanner.Leaderboard(10),
		RecentSignals:  signals,
		GateTraces:     traces,
		Rejections:     e.d.Rejections.Counters(),
		RecentRejects:  e.d.Rejections.Recent(),
		Heartbeats:     e.d.Health.Snapshot(),
		Scheduler: map[string]interface{}{
			"promotions":        stats.Promotions,
			"demotions":         stats.Demotions,
			"total_reassigns":   stats.TotalReassigns,
			"ws_symbols":        len(e.d.Scheduler.WSSymbols()),
			"warm_symbols":      len(e.d.Scheduler.WarmSymbols()),
			"universe_last_run": e.d.Scanner.LastRun().UTC(),
		},
		Params: e.d.Store.Params(),
	}
	return state
}

func (e *Engine) writeStatus() {
	state := e.Snapshot()
	path := e.d.Layout.StateFile("status.json")
	if err := paths.WriteJSONAtomic(path, state); err != nil {
		e.logger.Warn().Err(err).Msg("status write failed")
	}
	e.mu.Lock()
	e.lastStatus = e.now()
	e.mu.Unlock()
}
