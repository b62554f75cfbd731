// Package intel is the pluggable market-intelligence contract consumed by
// the gate funnel and the trade planner. The default implementation is
// permissive; a real scorer can be swapped in at boot.
package intel

import (
	"time"

	"coinbase-trading-bot/internal/positions"
)

// MLScore is an externally computed model score with a freshness stamp.
// Scores older than the staleness budget are ignored by consumers.
type MLScore struct {
	Symbol    string    `json:"symbol"`
	Score     float64   `json:"score"`
	Timestamp time.Time `json:"timestamp"`
}

// DefaultMLStaleness is how old an ML score may be before it is discarded.
const DefaultMLStaleness = 5 * time.Minute

// Fresh reports whether the score is inside the staleness budget.
func (m *MLScore) Fresh(now time.Time, staleness time.Duration) bool {
	return m != nil && now.Sub(m.Timestamp) <= staleness
}

// EntryScore is the intelligence layer's verdict on one entry.
type EntryScore struct {
	Score      float64 `json:"score"`
	BTCTrendOK bool    `json:"btc_trend_ok"`
	DontChase  bool    `json:"dont_chase"`
	Reason     string  `json:"reason"`
}

// Intelligence is the black-box advisory surface.
type Intelligence interface {
	UpdateSectorCounts(active []positions.Position)
	CheckPositionLimits(symbol string, sizeUSD float64, active []positions.Position) (bool, string)
	IsTradingHalted() (bool, string)
	ScoreEntry(symbol string, edgeScore float64) EntryScore
	GetSizeMultiplier() float64
	GetLiveML(symbol string) *MLScore
}

// Permissive allows everything; the engine's own gates still apply.
type Permissive struct{}

func (Permissive) UpdateSectorCounts([]positions.Position) {}

func (Permissive) CheckPositionLimits(string, float64, []positions.Position) (bool, string) {
	return true, ""
}

func (Permissive) IsTradingHalted() (bool, string) { return false, "" }

func (Permissive) ScoreEntry(symbol string, edgeScore float64) EntryScore {
	return EntryScore{Score: edgeScore, BTCTrendOK: true}
}

func (Permissive) GetSizeMultiplier() float64 { return 1.0 }

func (Permissive) GetLiveML(string) *MLScore { return nil }
