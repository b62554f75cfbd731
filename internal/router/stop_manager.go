package router

import (
	"context"

	"github.com/rs/zerolog"

	"coinbase-trading-bot/internal/positions"
	"coinbase-trading-bot/internal/runtimeconfig"
)

// StopManager owns bracket health in live mode: positions whose TP1 order
// went missing (cancelled out-of-band, rejected, lost on restart) get it
// re-armed on the health-check cadence.
type StopManager struct {
	store    *runtimeconfig.Store
	executor *LiveExecutor
	registry *positions.Registry
	logger   zerolog.Logger
}

func NewStopManager(store *runtimeconfig.Store, executor *LiveExecutor, registry *positions.Registry, logger zerolog.Logger) *StopManager {
	return &StopManager{
		store:    store,
		executor: executor,
		registry: registry,
		logger:   logger.With().Str("component", "stop_manager").Logger(),
	}
}

// CheckAndRearm scans active positions and re-places any missing TP1
// bracket. Called from the cadence job.
func (sm *StopManager) CheckAndRearm(ctx context.Context) {
	if sm.executor == nil {
		return
	}
	cfg := sm.store.Config()
	for _, pos := range sm.registry.Active() {
		if pos.State != positions.StateOpen {
			continue
		}
		if pos.TPOrderID != "" {
			// Verify the resting order still exists.
			if _, err := sm.executor.client.GetOrder(ctx, pos.TPOrderID); err == nil {
				continue
			}
			sm.logger.Warn().Str("symbol", pos.Symbol).Str("order_id", pos.TPOrderID).Msg("tp1 bracket missing")
		}
		p := pos
		orderID, err := sm.executor.PlaceTP1(ctx, &p, cfg.TP1PartialPct)
		if err != nil {
			sm.logger.Warn().Err(err).Str("symbol", pos.Symbol).Msg("tp1 rearm failed")
			continue
		}
		if err := sm.registry.Mutate(pos.Symbol, func(mp *positions.Position) {
			mp.TPOrderID = orderID
		}); err != nil {
			sm.logger.Warn().Err(err).Str("symbol", pos.Symbol).Msg("tp1 order id record failed")
			continue
		}
		sm.logger.Info().Str("symbol", pos.Symbol).Str("order_id", orderID).Msg("tp1 bracket armed")
	}
}
