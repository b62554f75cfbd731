// Package backfill fills historical candles for symbols entering the
// real-time tier so they reach warmth without waiting on the stream.
package backfill

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"coinbase-trading-bot/internal/candles"
	"coinbase-trading-bot/internal/collector"
	"coinbase-trading-bot/internal/exchange"
	"coinbase-trading-bot/internal/tiers"
)

const queueCap = 128

// fetch windows per timeframe, sized to the buffer caps.
var fetchPlan = []struct {
	g    exchange.Granularity
	tf   candles.Timeframe
	back time.Duration
}{
	{exchange.GranularityOneMinute, candles.TF1m, 5 * time.Hour},
	{exchange.GranularityFiveMinute, candles.TF5m, 24 * time.Hour},
	{exchange.GranularityOneHour, candles.TF1h, 7 * 24 * time.Hour},
	{exchange.GranularityOneDay, candles.TF1d, 120 * 24 * time.Hour},
}

// Backfiller processes fill requests on a single background worker. A
// symbol already queued or in flight is not queued twice.
type Backfiller struct {
	client     exchange.Client
	buffers    *collector.Buffers
	scheduler  *tiers.Scheduler
	queue      chan string
	mu         sync.Mutex
	inFlight   map[string]bool
	onComplete func(symbol string)
	logger     zerolog.Logger
}

func New(client exchange.Client, buffers *collector.Buffers, scheduler *tiers.Scheduler, logger zerolog.Logger) *Backfiller {
	return &Backfiller{
		client:    client,
		buffers:   buffers,
		scheduler: scheduler,
		queue:     make(chan string, queueCap),
		inFlight:  make(map[string]bool),
		logger:    logger.With().Str("component", "backfill").Logger(),
	}
}

// SetOnComplete registers a hook fired after a symbol's fill finishes,
// used for an immediate strategy pass on freshly warm symbols.
func (b *Backfiller) SetOnComplete(fn func(symbol string)) {
	b.mu.Lock()
	b.onComplete = fn
	b.mu.Unlock()
}

// Request enqueues a symbol for backfill. Duplicate requests while one is
// queued or running are dropped.
func (b *Backfiller) Request(symbol string) {
	b.mu.Lock()
	if b.inFlight[symbol] {
		b.mu.Unlock()
		return
	}
	b.inFlight[symbol] = true
	b.mu.Unlock()

	select {
	case b.queue <- symbol:
		b.scheduler.MarkBackfilling(symbol, true)
	default:
		b.mu.Lock()
		delete(b.inFlight, symbol)
		b.mu.Unlock()
		b.logger.Warn().Str("symbol", symbol).Msg("backfill queue full, dropping request")
	}
}

// Run drains the queue until ctx cancels.
func (b *Backfiller) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case symbol := <-b.queue:
			b.fill(ctx, symbol)
		}
	}
}

func (b *Backfiller) fill(ctx context.Context, symbol string) {
	defer func() {
		b.scheduler.MarkBackfilling(symbol, false)
		b.mu.Lock()
		delete(b.inFlight, symbol)
		done := b.onComplete
		b.mu.Unlock()
		if done != nil {
			done(symbol)
		}
	}()

	start := time.Now()
	total := 0
	for _, req := range fetchPlan {
		if ctx.Err() != nil {
			return
		}
		now := time.Now().UTC()
		cs, err := b.client.GetProductCandles(ctx, symbol, req.g, now.Add(-req.back), now)
		if err != nil {
			b.logger.Warn().Err(err).Str("symbol", symbol).Str("timeframe", string(req.tf)).Msg("backfill fetch failed")
			continue
		}
		bars := collector.ToCandles(cs)
		if !collector.ValidateCandles(bars) {
			continue
		}
		total += b.buffers.IngestBatch(symbol, req.tf, bars, candles.SourceREST)
	}

	buf := b.buffers.Buffer(symbol)
	b.scheduler.RecordPoll(symbol, buf.Len(candles.TF1m), buf.Len(candles.TF5m))
	b.logger.Info().
		Str("symbol", symbol).
		Int("candles", total).
		Bool("warm", b.scheduler.IsSymbolWarm(symbol)).
		Dur("elapsed", time.Since(start)).
		Msg("backfill complete")
}
