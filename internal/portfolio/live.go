package portfolio

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"coinbase-trading-bot/internal/exchange"
)

const (
	updateThrottle  = 10 * time.Second
	priceCacheTTL   = 30 * time.Second
	productCacheTTL = time.Hour
)

// LiveManager mirrors the exchange's authoritative portfolio breakdown.
// Updates are throttled; the snapshot's age drives the truth-staleness
// gate.
type LiveManager struct {
	mu             sync.Mutex
	client         exchange.Client
	portfolioUUID  string
	truthStaleness time.Duration
	snapshot       Snapshot
	lastUpdate     time.Time
	products       map[string]cachedProduct
	prices         map[string]cachedPrice
	now            func() time.Time
	logger         zerolog.Logger
}

type cachedProduct struct {
	info ProductInfo
	at   time.Time
}

type cachedPrice struct {
	price float64
	at    time.Time
}

func NewLiveManager(client exchange.Client, truthStaleness time.Duration, logger zerolog.Logger) *LiveManager {
	return &LiveManager{
		client:         client,
		truthStaleness: truthStaleness,
		products:       make(map[string]cachedProduct),
		prices:         make(map[string]cachedPrice),
		now:            time.Now,
		logger:         logger.With().Str("component", "live_portfolio").Logger(),
	}
}

// resolvePortfolio finds the default portfolio once.
func (lm *LiveManager) resolvePortfolio(ctx context.Context) (string, error) {
	lm.mu.Lock()
	uuid := lm.portfolioUUID
	lm.mu.Unlock()
	if uuid != "" {
		return uuid, nil
	}
	portfolios, err := lm.client.GetPortfolios(ctx)
	if err != nil {
		return "", err
	}
	for _, p := range portfolios {
		if strings.EqualFold(p.Type, "DEFAULT") {
			uuid = p.UUID
			break
		}
	}
	if uuid == "" && len(portfolios) > 0 {
		uuid = portfolios[0].UUID
	}
	if uuid == "" {
		return "", fmt.Errorf("portfolio: no portfolios on account")
	}
	lm.mu.Lock()
	lm.portfolioUUID = uuid
	lm.mu.Unlock()
	return uuid, nil
}

// UpdatePortfolioState refreshes the snapshot, at most once per throttle
// window.
func (lm *LiveManager) UpdatePortfolioState(ctx context.Context) error {
	lm.mu.Lock()
	if lm.now().Sub(lm.lastUpdate) < updateThrottle {
		lm.mu.Unlock()
		return nil
	}
	lm.mu.Unlock()

	uuid, err := lm.resolvePortfolio(ctx)
	if err != nil {
		return err
	}
	bd, err := lm.client.GetPortfolioBreakdown(ctx, uuid)
	if err != nil {
		return fmt.Errorf("portfolio: breakdown: %w", err)
	}

	positions := make(map[string]SpotHolding, len(bd.Positions))
	var crypto float64
	for _, sp := range bd.Positions {
		if strings.EqualFold(sp.Asset, "USD") {
			continue
		}
		positions[sp.Asset] = SpotHolding{
			Asset:    sp.Asset,
			Quantity: sp.Quantity,
			ValueUSD: sp.ValueUSD,
			PriceUSD: sp.PriceUSD,
		}
		crypto += sp.ValueUSD
	}

	lm.mu.Lock()
	lm.snapshot = Snapshot{
		Timestamp:   lm.now().UTC(),
		TotalValue:  bd.TotalValueUSD,
		TotalCash:   bd.CashUSD,
		TotalCrypto: crypto,
		Positions:   positions,
	}
	lm.lastUpdate = lm.now()
	lm.mu.Unlock()
	return nil
}

func (lm *LiveManager) GetAvailableBalance() float64 {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	return lm.snapshot.TotalCash
}

func (lm *LiveManager) GetTotalPortfolioValue() float64 {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	return lm.snapshot.TotalValue
}

func (lm *LiveManager) HasExchangeHolding(symbol string) bool {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	h, ok := lm.snapshot.Positions[baseAsset(symbol)]
	return ok && h.ValueUSD > 0
}

// GetProductInfo caches product constraints; they change rarely.
func (lm *LiveManager) GetProductInfo(ctx context.Context, symbol string) (*ProductInfo, error) {
	lm.mu.Lock()
	if cached, ok := lm.products[symbol]; ok && lm.now().Sub(cached.at) < productCacheTTL {
		info := cached.info
		lm.mu.Unlock()
		return &info, nil
	}
	lm.mu.Unlock()

	p, err := lm.client.GetProduct(ctx, symbol)
	if err != nil {
		return nil, err
	}
	info := ProductInfo{
		Symbol:         symbol,
		Price:          p.Price,
		BaseIncrement:  p.BaseIncrement,
		QuoteIncrement: p.QuoteIncrement,
		MinMarketFunds: p.MinMarketFunds,
	}
	lm.mu.Lock()
	lm.products[symbol] = cachedProduct{info: info, at: lm.now()}
	lm.prices[symbol] = cachedPrice{price: p.Price, at: lm.now()}
	lm.mu.Unlock()
	return &info, nil
}

// CachedPrice returns the last known price if fresher than the TTL.
func (lm *LiveManager) CachedPrice(symbol string) (float64, bool) {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	c, ok := lm.prices[symbol]
	if !ok || lm.now().Sub(c.at) > priceCacheTTL {
		return 0, false
	}
	return c.price, true
}

func (lm *LiveManager) PortfolioSnapshot() Snapshot {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	snap := lm.snapshot
	positions := make(map[string]SpotHolding, len(snap.Positions))
	for k, v := range snap.Positions {
		positions[k] = v
	}
	snap.Positions = positions
	return snap
}

func (lm *LiveManager) SnapshotAge() time.Duration {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	if lm.snapshot.Timestamp.IsZero() {
		return time.Hour
	}
	return lm.now().Sub(lm.snapshot.Timestamp)
}

// ValidateBeforeTrade fails when the truth snapshot is stale.
func (lm *LiveManager) ValidateBeforeTrade(symbol string) (bool, string) {
	age := lm.SnapshotAge()
	if age > lm.truthStaleness {
		return false, fmt.Sprintf("portfolio snapshot stale (%.0fs > %.0fs)",
			age.Seconds(), lm.truthStaleness.Seconds())
	}
	return true, ""
}

// SetClock overrides the time source for tests.
func (lm *LiveManager) SetClock(now func() time.Time) {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	lm.now = now
}
