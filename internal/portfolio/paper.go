package portfolio

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"coinbase-trading-bot/internal/exchange"
	"coinbase-trading-bot/internal/paths"
)

// PaperManager is the in-memory portfolio used in paper mode. State is
// persisted atomically to paper_state.json so balances survive restarts.
type PaperManager struct {
	mu       sync.Mutex
	path     string
	cash     float64
	realized float64
	holdings map[string]SpotHolding
	prices   map[string]float64
	client   exchange.Client
	logger   zerolog.Logger
}

type paperState struct {
	Cash     float64                `json:"cash"`
	Realized float64                `json:"realized_pnl"`
	Holdings map[string]SpotHolding `json:"holdings"`
}

// NewPaperManager loads persisted paper state, or starts fresh with the
// configured balance when absent or when reset is requested.
func NewPaperManager(path string, startBalance float64, reset bool, client exchange.Client, logger zerolog.Logger) *PaperManager {
	pm := &PaperManager{
		path:     path,
		cash:     startBalance,
		holdings: make(map[string]SpotHolding),
		prices:   make(map[string]float64),
		client:   client,
		logger:   logger.With().Str("component", "paper_portfolio").Logger(),
	}
	if reset {
		os.Remove(path)
		pm.logger.Info().Float64("balance", startBalance).Msg("paper state reset")
		pm.save()
		return pm
	}
	var st paperState
	if err := paths.ReadJSON(path, &st); err == nil {
		pm.cash = st.Cash
		pm.realized = st.Realized
		if st.Holdings != nil {
			pm.holdings = st.Holdings
		}
	}
	return pm
}

func (pm *PaperManager) GetAvailableBalance() float64 {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	return pm.cash
}

func (pm *PaperManager) GetTotalPortfolioValue() float64 {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	return pm.cash + pm.cryptoValueLocked()
}

func (pm *PaperManager) cryptoValueLocked() float64 {
	var total float64
	for asset, h := range pm.holdings {
		price := h.PriceUSD
		if p, ok := pm.prices[asset]; ok && p > 0 {
			price = p
		}
		total += h.Quantity * price
	}
	return total
}

// UpdatePortfolioState only refreshes mark prices; paper truth is local.
func (pm *PaperManager) UpdatePortfolioState(ctx context.Context) error {
	return nil
}

// MarkPrice feeds the latest trade price for an asset so holdings value
// tracks the market.
func (pm *PaperManager) MarkPrice(asset string, price float64) {
	if price <= 0 {
		return
	}
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.prices[asset] = price
	if h, ok := pm.holdings[asset]; ok {
		h.PriceUSD = price
		h.ValueUSD = h.Quantity * price
		pm.holdings[asset] = h
	}
}

// ApplyBuy debits cash and credits the asset holding.
func (pm *PaperManager) ApplyBuy(asset string, qty, price, costUSD float64) error {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	if costUSD > pm.cash {
		return fmt.Errorf("paper: insufficient cash %.2f for %.2f buy", pm.cash, costUSD)
	}
	pm.cash -= costUSD
	h := pm.holdings[asset]
	h.Asset = asset
	h.Quantity += qty
	h.PriceUSD = price
	h.ValueUSD = h.Quantity * price
	pm.holdings[asset] = h
	pm.prices[asset] = price
	pm.save()
	return nil
}

// ApplySell credits cash, debits the holding, and books realized PnL.
func (pm *PaperManager) ApplySell(asset string, qty, price, proceedsUSD, pnl float64) error {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	h, ok := pm.holdings[asset]
	if !ok || h.Quantity < qty*0.999 {
		return fmt.Errorf("paper: insufficient %s holding for sell", asset)
	}
	pm.cash += proceedsUSD
	pm.realized += pnl
	h.Quantity -= qty
	if h.Quantity <= 1e-12 {
		delete(pm.holdings, asset)
	} else {
		h.PriceUSD = price
		h.ValueUSD = h.Quantity * price
		pm.holdings[asset] = h
	}
	pm.save()
	return nil
}

func (pm *PaperManager) HasExchangeHolding(symbol string) bool {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	_, ok := pm.holdings[baseAsset(symbol)]
	return ok
}

// GetProductInfo still asks the venue for real constraints when a client is
// wired, so paper sizing matches what live would do.
func (pm *PaperManager) GetProductInfo(ctx context.Context, symbol string) (*ProductInfo, error) {
	if pm.client == nil {
		return &ProductInfo{Symbol: symbol, BaseIncrement: 1e-8, QuoteIncrement: 0.01, MinMarketFunds: 1}, nil
	}
	p, err := pm.client.GetProduct(ctx, symbol)
	if err != nil {
		return nil, err
	}
	return &ProductInfo{
		Symbol:         symbol,
		Price:          p.Price,
		BaseIncrement:  p.BaseIncrement,
		QuoteIncrement: p.QuoteIncrement,
		MinMarketFunds: p.MinMarketFunds,
	}, nil
}

func (pm *PaperManager) PortfolioSnapshot() Snapshot {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	positions := make(map[string]SpotHolding, len(pm.holdings))
	for asset, h := range pm.holdings {
		positions[asset] = h
	}
	crypto := pm.cryptoValueLocked()
	return Snapshot{
		Timestamp:        time.Now().UTC(),
		TotalValue:       pm.cash + crypto,
		TotalCash:        pm.cash,
		TotalCrypto:      crypto,
		TotalRealizedPnL: pm.realized,
		Positions:        positions,
	}
}

// SnapshotAge is always zero in paper mode; truth is local.
func (pm *PaperManager) SnapshotAge() time.Duration { return 0 }

func (pm *PaperManager) ValidateBeforeTrade(symbol string) (bool, string) {
	return true, ""
}

func (pm *PaperManager) save() {
	st := paperState{Cash: pm.cash, Realized: pm.realized, Holdings: pm.holdings}
	if err := paths.WriteJSONAtomic(pm.path, &st); err != nil {
		pm.logger.Warn().Err(err).Msg("paper state save failed")
	}
}

// Save persists current state; called on shutdown.
func (pm *PaperManager) Save() {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.save()
}

func baseAsset(symbol string) string {
	for i := 0; i < len(symbol); i++ {
		if symbol[i] == '-' {
			return symbol[:i]
		}
	}
	return symbol
}
