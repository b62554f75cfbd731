// Package universe rebuilds the tradable symbol set on a fixed cadence,
// ranks it for the tier scheduler, and computes per-symbol burst metrics.
package universe

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"coinbase-trading-bot/internal/candles"
	"coinbase-trading-bot/internal/exchange"
)

// Info is the scanner's per-symbol record.
type Info struct {
	Symbol       string  `json:"symbol"`
	TierLabel    string  `json:"tier_label"`
	AvgSpreadBps float64 `json:"avg_spread_bps"`
	Volume24hUSD float64 `json:"volume_24h_usd"`
	Eligible     bool    `json:"eligible"`
	Rank         int     `json:"rank"`
	Score        float64 `json:"score"`
}

// BurstMetrics captures contemporaneous volume and range spikes on 5m bars
// plus short-horizon trend, the orchestrator's hot-list inputs.
type BurstMetrics struct {
	Symbol          string    `json:"symbol"`
	VolSpikeRatio   float64   `json:"vol_spike_ratio"`
	RangeSpikeRatio float64   `json:"range_spike_ratio"`
	Trend15m        float64   `json:"trend_15m"`
	VWAPDistance    float64   `json:"vwap_distance"`
	BurstScore      float64   `json:"burst_score"`
	ComputedAt      time.Time `json:"computed_at"`
}

type Config struct {
	MinVolume24hUSD float64
	SpreadMaxBps    float64
	Stablecoins     []string
	IgnoredSymbols  []string
	WatchCoins      []string
}

// BufferSource lets the scanner read candle buffers for burst metrics.
type BufferSource interface {
	Buffer(symbol string) *candles.Buffer
}

// Scanner periodically rebuilds the eligible universe. It is also the
// engine's spread source: the most recent sampled spread per symbol.
type Scanner struct {
	mu      sync.RWMutex
	cfg     Config
	client  exchange.Client
	buffers BufferSource
	infos   map[string]*Info
	bursts  map[string]*BurstMetrics
	lastRun time.Time
	logger  zerolog.Logger
}

func NewScanner(cfg Config, client exchange.Client, buffers BufferSource, logger zerolog.Logger) *Scanner {
	return &Scanner{
		cfg:     cfg,
		client:  client,
		buffers: buffers,
		infos:   make(map[string]*Info),
		bursts:  make(map[string]*BurstMetrics),
		logger:  logger.With().Str("component", "universe").Logger(),
	}
}

// Rebuild pulls the product list, recomputes eligibility and ranking, and
// returns the ranked symbol list for the tier scheduler.
func (sc *Scanner) Rebuild(ctx context.Context) ([]string, error) {
	products, err := sc.client.GetProducts(ctx)
	if err != nil {
		return nil, err
	}

	type candidate struct {
		info  *Info
		score float64
	}
	var candidates []candidate

	for _, p := range products {
		if !sc.tradable(p) {
			continue
		}
		spread := spreadBps(p)
		info := &Info{
			Symbol:       p.ID,
			AvgSpreadBps: spread,
			Volume24hUSD: p.Volume24hUSD,
			Eligible:     p.Volume24hUSD >= sc.cfg.MinVolume24hUSD && spread <= sc.cfg.SpreadMaxBps,
		}
		if !info.Eligible && !sc.watched(p.ID) {
			sc.mu.Lock()
			sc.infos[p.ID] = info
			sc.mu.Unlock()
			continue
		}
		candidates = append(candidates, candidate{info: info, score: sc.compositeScore(info)})
	}

	sort.Slice(candidates, func(i, j int) bool { return candidates[i].score > candidates[j].score })

	ranked := make([]string, 0, len(candidates))
	sc.mu.Lock()
	for i, c := range candidates {
		c.info.Rank = i + 1
		c.info.Score = c.score
		c.info.TierLabel = tierLabel(i)
		sc.infos[c.info.Symbol] = c.info
		ranked = append(ranked, c.info.Symbol)
	}
	sc.lastRun = time.Now().UTC()
	sc.mu.Unlock()

	sc.refreshBurstMetrics(ranked)

	sc.logger.Info().Int("products", len(products)).Int("eligible", len(ranked)).Msg("universe rebuilt")
	return ranked, nil
}

func (sc *Scanner) tradable(p exchange.Product) bool {
	if !p.TradingEnabled || p.QuoteCurrency != "USD" {
		return false
	}
	base := strings.ToUpper(p.BaseCurrency)
	for _, s := range sc.cfg.Stablecoins {
		if base == s {
			return false
		}
	}
	for _, ig := range sc.cfg.IgnoredSymbols {
		if strings.EqualFold(p.ID, ig) || strings.EqualFold(base, ig) {
			return false
		}
	}
	return true
}

func (sc *Scanner) watched(productID string) bool {
	base := strings.SplitN(productID, "-", 2)[0]
	for _, w := range sc.cfg.WatchCoins {
		if strings.EqualFold(base, w) || strings.EqualFold(productID, w) {
			return true
		}
	}
	return false
}

// compositeScore prefers high volume and tight spread, with a mid-cap bump
// so the WS tier keeps some tier diversity instead of only mega-caps.
func (sc *Scanner) compositeScore(info *Info) float64 {
	vol := info.Volume24hUSD
	volScore := 0.0
	switch {
	case vol >= 100_000_000:
		volScore = 100
	case vol >= 10_000_000:
		volScore = 70 + 30*(vol-10_000_000)/90_000_000
	case vol >= 1_000_000:
		volScore = 40 + 30*(vol-1_000_000)/9_000_000
	default:
		volScore = 40 * vol / 1_000_000
	}
	spreadScore := 100 - info.AvgSpreadBps*2
	if spreadScore < 0 {
		spreadScore = 0
	}
	midCapBump := 0.0
	if vol >= 2_000_000 && vol < 50_000_000 {
		midCapBump = 8
	}
	score := 0.6*volScore + 0.4*spreadScore + midCapBump
	if sc.watched(info.Symbol) {
		score += 20
	}
	return score
}

func tierLabel(rank int) string {
	switch {
	case rank < 25:
		return "large"
	case rank < 75:
		return "mid"
	default:
		return "small"
	}
}

func spreadBps(p exchange.Product) float64 {
	if p.BidPrice <= 0 || p.AskPrice <= 0 || p.AskPrice <= p.BidPrice {
		return 0
	}
	mid := (p.BidPrice + p.AskPrice) / 2
	return (p.AskPrice - p.BidPrice) / mid * 10000
}

// refreshBurstMetrics recomputes the hot-list metrics from 5m buffers.
func (sc *Scanner) refreshBurstMetrics(symbols []string) {
	if sc.buffers == nil {
		return
	}
	now := time.Now().UTC()
	for _, symbol := range symbols {
		buf := sc.buffers.Buffer(symbol)
		if buf == nil {
			continue
		}
		m := computeBurst(symbol, buf, now)
		if m == nil {
			continue
		}
		sc.mu.Lock()
		sc.bursts[symbol] = m
		sc.mu.Unlock()
	}
}

func computeBurst(symbol string, buf *candles.Buffer, now time.Time) *BurstMetrics {
	tail := buf.Tail(candles.TF5m, 20)
	if len(tail) < 6 {
		return nil
	}
	last := tail[len(tail)-1]
	base := tail[:len(tail)-1]

	medVol := median(mapCandles(base, func(c candles.Candle) float64 { return c.Volume }))
	medRange := median(mapCandles(base, func(c candles.Candle) float64 { return c.High - c.Low }))

	m := &BurstMetrics{Symbol: symbol, ComputedAt: now}
	if medVol > 0 {
		m.VolSpikeRatio = last.Volume / medVol
	}
	if medRange > 0 {
		m.RangeSpikeRatio = (last.High - last.Low) / medRange
	}
	first := tail[len(tail)-4].Close
	if len(tail) >= 4 && first > 0 {
		m.Trend15m = (last.Close - first) / first * 100
	}
	if vwap := buf.VWAP(30); vwap > 0 {
		m.VWAPDistance = (last.Close - vwap) / vwap * 100
	}
	m.BurstScore = 10*m.VolSpikeRatio + 10*m.RangeSpikeRatio + 5*m.Trend15m
	return m
}

func mapCandles(cs []candles.Candle, f func(candles.Candle) float64) []float64 {
	out := make([]float64, len(cs))
	for i, c := range cs {
		out[i] = f(c)
	}
	return out
}

func median(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	sorted := append([]float64{}, vals...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}

// SpreadBps implements the feature engine's spread source.
func (sc *Scanner) SpreadBps(symbol string) float64 {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	if info, ok := sc.infos[symbol]; ok {
		return info.AvgSpreadBps
	}
	return 0
}

// Burst returns the burst metrics for a symbol, nil if unknown.
func (sc *Scanner) Burst(symbol string) *BurstMetrics {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	if m, ok := sc.bursts[symbol]; ok {
		cp := *m
		return &cp
	}
	return nil
}

// Leaderboard returns the top n symbols by burst score.
func (sc *Scanner) Leaderboard(n int) []BurstMetrics {
	sc.mu.RLock()
	all := make([]BurstMetrics, 0, len(sc.bursts))
	for _, m := range sc.bursts {
		all = append(all, *m)
	}
	sc.mu.RUnlock()
	sort.Slice(all, func(i, j int) bool { return all[i].BurstScore > all[j].BurstScore })
	if len(all) > n {
		all = all[:n]
	}
	return all
}

// Info returns the universe record for a symbol.
func (sc *Scanner) Info(symbol string) (Info, bool) {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	if info, ok := sc.infos[symbol]; ok {
		return *info, true
	}
	return Info{}, false
}

// LastRun reports when the universe was last rebuilt.
func (sc *Scanner) LastRun() time.Time {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.lastRun
}
