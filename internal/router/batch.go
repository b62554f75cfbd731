package router

import (
	"sort"
	"sync"
	"time"

	"coinbase-trading-bot/internal/planner"
)

// Batcher buffers plans arriving inside the batch window and releases the
// best-ranked subset on flush. With a zero window it passes plans straight
// through.
type Batcher struct {
	mu          sync.Mutex
	window      time.Duration
	maxNew      int
	pending     map[string]rankedPlan
	windowStart time.Time
	now         func() time.Time
}

type rankedPlan struct {
	plan *planner.TradePlan
	rank float64
}

func NewBatcher(window time.Duration, maxNew int) *Batcher {
	return &Batcher{
		window:  window,
		maxNew:  maxNew,
		pending: make(map[string]rankedPlan),
		now:     time.Now,
	}
}

// Enabled reports whether batching is active.
func (b *Batcher) Enabled() bool { return b.window > 0 }

// Add buffers a plan. A duplicate symbol keeps the higher-ranked plan.
func (b *Batcher) Add(plan *planner.TradePlan) {
	rank := combinedRank(plan)
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.pending) == 0 {
		b.windowStart = b.now()
	}
	if existing, ok := b.pending[plan.Signal.Symbol]; ok && existing.rank >= rank {
		return
	}
	b.pending[plan.Signal.Symbol] = rankedPlan{plan: plan, rank: rank}
}

// Due reports whether the window has elapsed with plans buffered.
func (b *Batcher) Due() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending) > 0 && b.now().Sub(b.windowStart) >= b.window
}

// Flush returns up to min(availableSlots, maxNew) plans, best rank first,
// and clears the buffer.
func (b *Batcher) Flush(availableSlots int) []*planner.TradePlan {
	b.mu.Lock()
	ranked := make([]rankedPlan, 0, len(b.pending))
	for _, rp := range b.pending {
		ranked = append(ranked, rp)
	}
	b.pending = make(map[string]rankedPlan)
	b.mu.Unlock()

	sort.Slice(ranked, func(i, j int) bool { return ranked[i].rank > ranked[j].rank })

	n := len(ranked)
	if availableSlots < n {
		n = availableSlots
	}
	if b.maxNew > 0 && b.maxNew < n {
		n = b.maxNew
	}
	if n < 0 {
		n = 0
	}
	out := make([]*planner.TradePlan, 0, n)
	for _, rp := range ranked[:n] {
		out = append(out, rp.plan)
	}
	return out
}

// combinedRank weights score with short-horizon momentum and volume spike.
func combinedRank(plan *planner.TradePlan) float64 {
	sig := plan.Signal
	rank := 0.4 * sig.EdgeScoreBase
	if f := sig.Features; f != nil {
		rank += 10*f.Trend1h + 20*f.Trend15m + 10*f.VolSpike5m
	}
	return rank
}

// SetClock overrides the time source for tests.
func (b *Batcher) SetClock(now func() time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.now = now
}
