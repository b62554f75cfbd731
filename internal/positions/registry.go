package positions

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"coinbase-trading-bot/internal/paths"
	"coinbase-trading-bot/internal/strategy"
)

var (
	ErrPositionNotFound = errors.New("positions: not found")
	ErrPositionExists   = errors.New("positions: already open")
)

type Limits struct {
	MaxPositions      int
	MaxWhalePositions int
	MinHoldSeconds    int
	DustThresholdUSD  float64
	PerStrategyCaps   map[strategy.SignalType]int
}

// Registry owns every tracked position across two disjoint maps, active
// and dust. A symbol is in exactly one map or neither; moves across the
// dust boundary happen in a single step under the lock.
type Registry struct {
	mu     sync.Mutex
	active map[string]*Position
	dust   map[string]*Position
	limits Limits
	path   string
	now    func() time.Time
	logger zerolog.Logger
}

type persistedPositions struct {
	Active map[string]*Position `json:"active"`
	Dust   map[string]*Position `json:"dust"`
}

func NewRegistry(path string, limits Limits, logger zerolog.Logger) *Registry {
	r := &Registry{
		active: make(map[string]*Position),
		dust:   make(map[string]*Position),
		limits: limits,
		path:   path,
		now:    time.Now,
		logger: logger.With().Str("component", "position_registry").Logger(),
	}
	var p persistedPositions
	if err := paths.ReadJSON(path, &p); err == nil {
		if p.Active != nil {
			r.active = p.Active
		}
		if p.Dust != nil {
			r.dust = p.Dust
		}
	}
	return r
}

// SetLimits applies a runtime config change. Existing positions are never
// retroactively rejected.
func (r *Registry) SetLimits(limits Limits) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.limits = limits
}

// CanOpenPosition checks the active count and per-tier/strategy caps before
// sizing even begins.
func (r *Registry) CanOpenPosition(strategyID strategy.SignalType, sizingTier string) (bool, string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.active) >= r.limits.MaxPositions {
		return false, fmt.Sprintf("max positions reached (%d)", r.limits.MaxPositions)
	}
	if sizingTier == "whale" {
		whales := 0
		for _, p := range r.active {
			if p.SizingTier == "whale" {
				whales++
			}
		}
		if whales >= r.limits.MaxWhalePositions {
			return false, fmt.Sprintf("max whale positions reached (%d)", r.limits.MaxWhalePositions)
		}
	}
	if limit, ok := r.limits.PerStrategyCaps[strategyID]; ok {
		count := 0
		for _, p := range r.active {
			if p.StrategyID == strategyID {
				count++
			}
		}
		if count >= limit {
			return false, fmt.Sprintf("strategy %s at cap (%d)", strategyID, limit)
		}
	}
	return true, ""
}

// CanClosePosition enforces the minimum hold time.
func (r *Registry) CanClosePosition(symbol string) (bool, string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.active[symbol]
	if !ok {
		if _, isDust := r.dust[symbol]; isDust {
			return true, ""
		}
		return false, "position not found"
	}
	held := r.now().Sub(p.EntryTime)
	minHold := time.Duration(r.limits.MinHoldSeconds) * time.Second
	if held < minHold {
		return false, fmt.Sprintf("min hold %s not reached (%s held)", minHold, held.Round(time.Second))
	}
	return true, ""
}

// Add registers a freshly filled position.
func (r *Registry) Add(p *Position) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.active[p.Symbol]; ok {
		return fmt.Errorf("%w: %s", ErrPositionExists, p.Symbol)
	}
	delete(r.dust, p.Symbol)
	r.active[p.Symbol] = p
	r.saveLocked()
	return nil
}

// Get returns a copy of the position in either map.
func (r *Registry) Get(symbol string) (Position, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.active[symbol]; ok {
		return *p, true
	}
	if p, ok := r.dust[symbol]; ok {
		return *p, true
	}
	return Position{}, false
}

// HasActive reports whether the symbol has a non-dust position.
func (r *Registry) HasActive(symbol string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.active[symbol]
	return ok
}

// Mutate applies fn to the live position under the lock and persists.
func (r *Registry) Mutate(symbol string, fn func(*Position)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.active[symbol]
	if !ok {
		p, ok = r.dust[symbol]
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrPositionNotFound, symbol)
	}
	fn(p)
	r.saveLocked()
	return nil
}

// UpdatePositionValue refreshes the mark price and moves the position
// across the dust boundary when its value crosses the threshold. Dust is
// strictly below the threshold; a value exactly at it stays active.
func (r *Registry) UpdatePositionValue(symbol string, currentPrice float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, inActive := r.active[symbol]
	if !inActive {
		p = r.dust[symbol]
	}
	if p == nil {
		return
	}
	p.CurrentPrice = currentPrice
	if p.TrailingActive && currentPrice > p.TrailHigh {
		p.TrailHigh = currentPrice
	}
	value := p.CurrentValue()
	if inActive && value < r.limits.DustThresholdUSD {
		delete(r.active, symbol)
		r.dust[symbol] = p
		r.logger.Info().Str("symbol", symbol).Float64("value", value).Msg("position moved to dust")
		r.saveLocked()
	} else if !inActive && value >= r.limits.DustThresholdUSD {
		delete(r.dust, symbol)
		r.active[symbol] = p
		r.logger.Info().Str("symbol", symbol).Float64("value", value).Msg("position restored from dust")
		r.saveLocked()
	}
}

// Remove deletes the position from both maps after a final close.
func (r *Registry) Remove(symbol string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.active, symbol)
	delete(r.dust, symbol)
	r.saveLocked()
}

// Active returns copies of all active positions.
func (r *Registry) Active() []Position {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Position, 0, len(r.active))
	for _, p := range r.active {
		out = append(out, *p)
	}
	return out
}

// ActiveCount returns the non-dust position count.
func (r *Registry) ActiveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.active)
}

// TotalCostBasis sums the active positions' cost basis, the exposure input.
func (r *Registry) TotalCostBasis() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	var sum float64
	for _, p := range r.active {
		sum += p.CostBasis
	}
	return sum
}

// SymbolCostBasis returns one symbol's cost basis across both maps.
func (r *Registry) SymbolCostBasis(symbol string) float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.active[symbol]; ok {
		return p.CostBasis
	}
	if p, ok := r.dust[symbol]; ok {
		return p.CostBasis
	}
	return 0
}

// Dust returns copies of the dust positions.
func (r *Registry) Dust() []Position {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Position, 0, len(r.dust))
	for _, p := range r.dust {
		out = append(out, *p)
	}
	return out
}

func (r *Registry) saveLocked() {
	p := persistedPositions{Active: r.active, Dust: r.dust}
	if err := paths.WriteJSONAtomic(r.path, &p); err != nil {
		r.logger.Warn().Err(err).Msg("positions save failed")
	}
}

// Save persists both maps; called on shutdown.
func (r *Registry) Save() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saveLocked()
}

// SetClock overrides the time source for tests.
func (r *Registry) SetClock(now func() time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.now = now
}
