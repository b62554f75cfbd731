package risk

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"coinbase-trading-bot/internal/paths"
)

// Cooldowns tracks last-order times per symbol with a hard and a soft
// threshold. Persisted per mode; expired entries are purged on load.
type Cooldowns struct {
	mu     sync.Mutex
	path   string
	hard   time.Duration
	soft   time.Duration
	last   map[string]time.Time
	now    func() time.Time
	logger zerolog.Logger
}

func NewCooldowns(path string, hard, soft time.Duration, logger zerolog.Logger) *Cooldowns {
	cd := &Cooldowns{
		path:   path,
		hard:   hard,
		soft:   soft,
		last:   make(map[string]time.Time),
		now:    time.Now,
		logger: logger.With().Str("component", "cooldowns").Logger(),
	}
	var raw map[string]time.Time
	if err := paths.ReadJSON(path, &raw); err == nil {
		cutoff := cd.now().Add(-cd.soft)
		for symbol, t := range raw {
			if t.After(cutoff) {
				cd.last[symbol] = t
			}
		}
	}
	return cd
}

// Record marks an order on the symbol and persists.
func (cd *Cooldowns) Record(symbol string) {
	cd.mu.Lock()
	defer cd.mu.Unlock()
	cd.last[symbol] = cd.now()
	cd.saveLocked()
}

// InHardCooldown reports whether the symbol is inside the hard window, with
// the remaining duration.
func (cd *Cooldowns) InHardCooldown(symbol string) (bool, time.Duration) {
	return cd.within(symbol, cd.hard)
}

// InSoftCooldown reports whether the symbol is inside the soft window.
func (cd *Cooldowns) InSoftCooldown(symbol string) (bool, time.Duration) {
	return cd.within(symbol, cd.soft)
}

func (cd *Cooldowns) within(symbol string, window time.Duration) (bool, time.Duration) {
	cd.mu.Lock()
	defer cd.mu.Unlock()
	t, ok := cd.last[symbol]
	if !ok {
		return false, 0
	}
	elapsed := cd.now().Sub(t)
	if elapsed >= window {
		return false, 0
	}
	return true, window - elapsed
}

// Clear removes one symbol's cooldown, for the control surface.
func (cd *Cooldowns) Clear(symbol string) {
	cd.mu.Lock()
	defer cd.mu.Unlock()
	delete(cd.last, symbol)
	cd.saveLocked()
}

// Save persists the map; called on shutdown.
func (cd *Cooldowns) Save() {
	cd.mu.Lock()
	defer cd.mu.Unlock()
	cd.saveLocked()
}

func (cd *Cooldowns) saveLocked() {
	if err := paths.WriteJSONAtomic(cd.path, cd.last); err != nil {
		cd.logger.Warn().Err(err).Msg("cooldowns save failed")
	}
}

// SetClock overrides the time source for tests.
func (cd *Cooldowns) SetClock(now func() time.Time) {
	cd.mu.Lock()
	defer cd.mu.Unlock()
	cd.now = now
}
