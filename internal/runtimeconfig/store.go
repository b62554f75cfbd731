// Package runtimeconfig is the live-mutable configuration layer: a closed,
// whitelisted set of tunables with per-parameter validation, unit
// conversion, atomic persistence, an audit trail, and change callbacks.
package runtimeconfig

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"coinbase-trading-bot/config"
	"coinbase-trading-bot/internal/paths"
)

var (
	ErrUnknownParam = errors.New("runtimeconfig: unknown parameter")
	ErrInvalidValue = errors.New("runtimeconfig: invalid value")
)

// param defines one whitelisted tunable: validation on the wire value, the
// conversion to the stored unit, and the Settings field it maps onto.
type param struct {
	validate func(v float64) error
	// toStored converts the wire unit to the stored unit (UI percents
	// 0-100 become fractions 0-1). Nil means identity.
	toStored func(v float64) float64
	apply    func(s *config.Settings, v float64)
	read     func(s *config.Settings) float64
}

func rangeCheck(lo, hi float64) func(float64) error {
	return func(v float64) error {
		if v < lo || v > hi {
			return fmt.Errorf("%w: must be within [%v, %v], got %v", ErrInvalidValue, lo, hi, v)
		}
		return nil
	}
}

func percentToFraction(v float64) float64 { return v / 100 }

var schema = map[string]param{
	"entry_score_min": {
		validate: rangeCheck(0, 100),
		apply:    func(s *config.Settings, v float64) { s.EntryScoreMin = v },
		read:     func(s *config.Settings) float64 { return s.EntryScoreMin },
	},
	"scout_score_min": {
		validate: rangeCheck(0, 100),
		apply:    func(s *config.Settings, v float64) { s.ScoutScoreMin = v },
		read:     func(s *config.Settings) float64 { return s.ScoutScoreMin },
	},
	"strong_score_min": {
		validate: rangeCheck(0, 100),
		apply:    func(s *config.Settings, v float64) { s.StrongScoreMin = v },
		read:     func(s *config.Settings) float64 { return s.StrongScoreMin },
	},
	"whale_score_min": {
		validate: rangeCheck(0, 100),
		apply:    func(s *config.Settings, v float64) { s.WhaleScoreMin = v },
		read:     func(s *config.Settings) float64 { return s.WhaleScoreMin },
	},
	"confluence_boost": {
		validate: rangeCheck(0, 50),
		apply:    func(s *config.Settings, v float64) { s.ConfluenceBoost = v },
		read:     func(s *config.Settings) float64 { return s.ConfluenceBoost },
	},
	"min_rr_ratio": {
		validate: rangeCheck(1, 10),
		apply:    func(s *config.Settings, v float64) { s.MinRRRatio = v },
		read:     func(s *config.Settings) float64 { return s.MinRRRatio },
	},
	"spread_max_bps": {
		validate: rangeCheck(0, 500),
		apply:    func(s *config.Settings, v float64) { s.SpreadMaxBps = v },
		read:     func(s *config.Settings) float64 { return s.SpreadMaxBps },
	},
	"max_trade_usd": {
		validate: rangeCheck(1, 100000),
		apply:    func(s *config.Settings, v float64) { s.MaxTradeUSD = v },
		read:     func(s *config.Settings) float64 { return s.MaxTradeUSD },
	},
	"daily_max_loss_usd": {
		validate: rangeCheck(1, 100000),
		apply:    func(s *config.Settings, v float64) { s.DailyMaxLossUSD = v },
		read:     func(s *config.Settings) float64 { return s.DailyMaxLossUSD },
	},
	"dust_threshold_usd": {
		validate: rangeCheck(0, 100),
		apply:    func(s *config.Settings, v float64) { s.DustThresholdUSD = v },
		read:     func(s *config.Settings) float64 { return s.DustThresholdUSD },
	},
	// Percent params arrive as 0-100 from the UI, stored as fractions.
	"position_base_pct": {
		validate: rangeCheck(0, 100),
		toStored: percentToFraction,
		apply:    func(s *config.Settings, v float64) { s.PositionBasePct = v },
		read:     func(s *config.Settings) float64 { return s.PositionBasePct * 100 },
	},
	"position_max_pct": {
		validate: rangeCheck(0, 100),
		toStored: percentToFraction,
		apply:    func(s *config.Settings, v float64) { s.PositionMaxPct = v },
		read:     func(s *config.Settings) float64 { return s.PositionMaxPct * 100 },
	},
	"portfolio_max_exposure_pct": {
		validate: rangeCheck(0, 100),
		toStored: percentToFraction,
		apply:    func(s *config.Settings, v float64) { s.PortfolioMaxExposurePct = v },
		read:     func(s *config.Settings) float64 { return s.PortfolioMaxExposurePct * 100 },
	},
	"tp1_partial_pct": {
		validate: rangeCheck(0, 100),
		toStored: percentToFraction,
		apply:    func(s *config.Settings, v float64) { s.TP1PartialPct = v },
		read:     func(s *config.Settings) float64 { return s.TP1PartialPct * 100 },
	},
	"max_positions": {
		validate: rangeCheck(1, 100),
		apply:    func(s *config.Settings, v float64) { s.MaxPositions = int(v) },
		read:     func(s *config.Settings) float64 { return float64(s.MaxPositions) },
	},
	"stacking_enabled": {
		validate: rangeCheck(0, 1),
		apply:    func(s *config.Settings, v float64) { s.StackingEnabled = v != 0 },
		read: func(s *config.Settings) float64 {
			if s.StackingEnabled {
				return 1
			}
			return 0
		},
	},
	"use_limit_orders": {
		validate: rangeCheck(0, 1),
		apply:    func(s *config.Settings, v float64) { s.UseLimitOrders = v != 0 },
		read: func(s *config.Settings) float64 {
			if s.UseLimitOrders {
				return 1
			}
			return 0
		},
	},
}

type persisted struct {
	Params          map[string]float64 `json:"params"`
	PauseNewEntries bool               `json:"pause_new_entries"`
	UpdatedAt       string             `json:"updated_at"`
}

type auditEntry struct {
	TS     string      `json:"ts"`
	Param  string      `json:"param"`
	Value  interface{} `json:"value"`
	Source string      `json:"source"`
}

// Store owns the mutable configuration. Readers take immutable Settings
// snapshots; writers go through UpdateParam which validates, persists
// atomically, audits, and broadcasts the new snapshot.
type Store struct {
	mu        sync.Mutex
	path      string
	auditPath string
	current   *config.Settings
	overrides map[string]float64
	paused    bool
	lastMtime time.Time
	callbacks []func(*config.Settings)
	logger    zerolog.Logger
}

func NewStore(boot *config.Settings, path, auditPath string, logger zerolog.Logger) *Store {
	st := &Store{
		path:      path,
		auditPath: auditPath,
		current:   boot,
		overrides: make(map[string]float64),
		logger:    logger.With().Str("component", "runtime_config").Logger(),
	}
	st.loadFromDisk()
	return st
}

func (st *Store) loadFromDisk() {
	var p persisted
	if err := paths.ReadJSON(st.path, &p); err != nil {
		return
	}
	next := *st.current
	for name, v := range p.Params {
		spec, ok := schema[name]
		if !ok {
			continue
		}
		spec.apply(&next, v)
		st.overrides[name] = v
	}
	st.paused = p.PauseNewEntries
	st.current = &next
	if info, err := os.Stat(st.path); err == nil {
		st.lastMtime = info.ModTime()
	}
}

// Config returns the current immutable snapshot.
func (st *Store) Config() *config.Settings {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.current
}

// PauseNewEntries reports the pause flag.
func (st *Store) PauseNewEntries() bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.paused
}

// SetPaused flips the pause flag and persists it.
func (st *Store) SetPaused(paused bool, source string) error {
	st.mu.Lock()
	st.paused = paused
	err := st.saveLocked()
	st.appendAuditLocked("pause_new_entries", paused, source)
	st.mu.Unlock()
	return err
}

// OnChange registers a callback fired with each new snapshot.
func (st *Store) OnChange(fn func(*config.Settings)) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.callbacks = append(st.callbacks, fn)
}

// UpdateParam validates and applies one whitelisted parameter, persists the
// store atomically, appends to the audit log, and fires change callbacks.
func (st *Store) UpdateParam(name string, value float64, source string) error {
	spec, ok := schema[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownParam, name)
	}
	if err := spec.validate(value); err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	stored := value
	if spec.toStored != nil {
		stored = spec.toStored(value)
	}

	st.mu.Lock()
	next := *st.current
	spec.apply(&next, stored)
	st.current = &next
	st.overrides[name] = stored
	err := st.saveLocked()
	st.appendAuditLocked(name, value, source)
	callbacks := append([]func(*config.Settings){}, st.callbacks...)
	st.mu.Unlock()

	if err != nil {
		return err
	}
	for _, fn := range callbacks {
		fn(&next)
	}
	st.logger.Info().Str("param", name).Float64("value", value).Str("source", source).Msg("config updated")
	return nil
}

// GetParam returns one parameter in its wire unit.
func (st *Store) GetParam(name string) (float64, error) {
	spec, ok := schema[name]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownParam, name)
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return spec.read(st.current), nil
}

// Params lists every whitelisted parameter with its current wire value.
func (st *Store) Params() map[string]float64 {
	st.mu.Lock()
	defer st.mu.Unlock()
	out := make(map[string]float64, len(schema))
	for name, spec := range schema {
		out[name] = spec.read(st.current)
	}
	return out
}

// ParamNames returns the closed whitelist, sorted.
func ParamNames() []string {
	names := make([]string, 0, len(schema))
	for name := range schema {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ReloadIfChanged re-reads the file when its mtime advanced.
func (st *Store) ReloadIfChanged() bool {
	info, err := os.Stat(st.path)
	if err != nil {
		return false
	}
	st.mu.Lock()
	changed := info.ModTime().After(st.lastMtime)
	st.mu.Unlock()
	if !changed {
		return false
	}
	st.ReloadFromDisk()
	return true
}

// ReloadFromDisk unconditionally re-reads overrides and fires callbacks.
func (st *Store) ReloadFromDisk() {
	st.mu.Lock()
	st.loadFromDisk()
	snapshot := st.current
	callbacks := append([]func(*config.Settings){}, st.callbacks...)
	st.mu.Unlock()
	for _, fn := range callbacks {
		fn(snapshot)
	}
}

func (st *Store) saveLocked() error {
	p := persisted{
		Params:          st.overrides,
		PauseNewEntries: st.paused,
		UpdatedAt:       time.Now().UTC().Format(time.RFC3339),
	}
	if err := paths.WriteJSONAtomic(st.path, &p); err != nil {
		st.logger.Warn().Err(err).Msg("runtime config save failed")
		return err
	}
	if info, err := os.Stat(st.path); err == nil {
		st.lastMtime = info.ModTime()
	}
	return nil
}

func (st *Store) appendAuditLocked(name string, value interface{}, source string) {
	entry := auditEntry{
		TS:     time.Now().UTC().Format(time.RFC3339),
		Param:  name,
		Value:  value,
		Source: source,
	}
	if err := paths.AppendJSONL(st.auditPath, entry); err != nil {
		st.logger.Warn().Err(err).Msg("config audit append failed")
	}
}
