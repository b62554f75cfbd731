package collector

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"coinbase-trading-bot/internal/candles"
	"coinbase-trading-bot/internal/exchange"
	"coinbase-trading-bot/internal/tiers"
)

const (
	pollConcurrency = 4
	degradedDelay   = 300 * time.Millisecond
	degradeAfter429 = 3
)

// RESTPoller wakes every second, asks the scheduler for due symbols, and
// fetches their candles with bounded concurrency. Repeated 429s flip the
// degraded flag and slow the request rate.
type RESTPoller struct {
	client    exchange.Client
	scheduler *tiers.Scheduler
	buffers   *Buffers
	health    *Health
	limiter   *rate.Limiter
	mu        sync.Mutex
	recent429 int
	degraded  bool
	lastWide  time.Time
	logger    zerolog.Logger
}

func NewRESTPoller(client exchange.Client, scheduler *tiers.Scheduler, buffers *Buffers, health *Health, logger zerolog.Logger) *RESTPoller {
	return &RESTPoller{
		client:    client,
		scheduler: scheduler,
		buffers:   buffers,
		health:    health,
		limiter:   rate.NewLimiter(rate.Every(100*time.Millisecond), pollConcurrency),
		logger:    logger.With().Str("component", "rest_poller").Logger(),
	}
}

// Run loops until ctx cancels.
func (rp *RESTPoller) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rp.tick(ctx)
		}
	}
}

func (rp *RESTPoller) tick(ctx context.Context) {
	tier2, tier3 := rp.scheduler.SymbolsNeedingPoll()
	due := append(tier2, tier3...)
	if len(due) == 0 {
		return
	}

	// Wider timeframes refresh on their own cadence.
	wide := false
	rp.mu.Lock()
	if time.Since(rp.lastWide) >= 5*time.Minute {
		rp.lastWide = time.Now()
		wide = true
	}
	rp.mu.Unlock()

	sem := make(chan struct{}, pollConcurrency)
	var wg sync.WaitGroup
	for _, symbol := range due {
		select {
		case <-ctx.Done():
			return
		case sem <- struct{}{}:
		}
		wg.Add(1)
		go func(symbol string) {
			defer wg.Done()
			defer func() { <-sem }()
			rp.pollSymbol(ctx, symbol, wide)
		}(symbol)
	}
	wg.Wait()
}

func (rp *RESTPoller) pollSymbol(ctx context.Context, symbol string, wide bool) {
	if rp.isDegraded() {
		select {
		case <-ctx.Done():
			return
		case <-time.After(degradedDelay):
		}
	}
	if err := rp.limiter.Wait(ctx); err != nil {
		return
	}

	now := time.Now().UTC()
	grans := []struct {
		g    exchange.Granularity
		tf   candles.Timeframe
		back time.Duration
	}{
		{exchange.GranularityOneMinute, candles.TF1m, 30 * time.Minute},
	}
	if wide {
		grans = append(grans,
			struct {
				g    exchange.Granularity
				tf   candles.Timeframe
				back time.Duration
			}{exchange.GranularityFiveMinute, candles.TF5m, 4 * time.Hour},
			struct {
				g    exchange.Granularity
				tf   candles.Timeframe
				back time.Duration
			}{exchange.GranularityOneHour, candles.TF1h, 48 * time.Hour},
			struct {
				g    exchange.Granularity
				tf   candles.Timeframe
				back time.Duration
			}{exchange.GranularityOneDay, candles.TF1d, 30 * 24 * time.Hour},
		)
	}

	for _, req := range grans {
		cs, err := rp.client.GetProductCandles(ctx, symbol, req.g, now.Add(-req.back), now)
		rateLimited := errors.Is(err, exchange.ErrRateLimited)
		rp.health.RecordRESTRequest(rateLimited)
		rp.note429(rateLimited)
		if err != nil {
			if !rateLimited {
				rp.logger.Debug().Err(err).Str("symbol", symbol).Msg("candle poll failed")
			}
			return
		}
		bars := ToCandles(cs)
		if !ValidateCandles(bars) {
			continue
		}
		rp.buffers.IngestBatch(symbol, req.tf, bars, candles.SourceREST)
	}

	buf := rp.buffers.Buffer(symbol)
	rp.scheduler.RecordPoll(symbol, buf.Len(candles.TF1m), buf.Len(candles.TF5m))
}

func (rp *RESTPoller) note429(rateLimited bool) {
	rp.mu.Lock()
	defer rp.mu.Unlock()
	if rateLimited {
		rp.recent429++
		if rp.recent429 >= degradeAfter429 && !rp.degraded {
			rp.degraded = true
			rp.health.SetRESTDegraded(true)
			rp.logger.Warn().Msg("rest rate degraded, slowing polls")
		}
		return
	}
	if rp.recent429 > 0 {
		rp.recent429--
	}
	if rp.degraded && rp.recent429 == 0 {
		rp.degraded = false
		rp.health.SetRESTDegraded(false)
		rp.logger.Info().Msg("rest rate recovered")
	}
}

func (rp *RESTPoller) isDegraded() bool {
	rp.mu.Lock()
	defer rp.mu.Unlock()
	return rp.degraded
}
