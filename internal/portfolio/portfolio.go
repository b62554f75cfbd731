// Package portfolio exposes the authoritative balance view: a synthetic
// one in paper mode, the exchange's portfolio breakdown in live mode.
package portfolio

import (
	"context"
	"time"
)

// SpotHolding is one asset line inside a snapshot.
type SpotHolding struct {
	Asset    string  `json:"asset"`
	Quantity float64 `json:"quantity"`
	ValueUSD float64 `json:"value_usd"`
	PriceUSD float64 `json:"price_usd"`
}

// Snapshot is the portfolio truth at a point in time.
type Snapshot struct {
	Timestamp          time.Time              `json:"timestamp"`
	TotalValue         float64                `json:"total_value"`
	TotalCash          float64                `json:"total_cash"`
	TotalCrypto        float64                `json:"total_crypto"`
	TotalUnrealizedPnL float64                `json:"total_unrealized_pnl"`
	TotalRealizedPnL   float64                `json:"total_realized_pnl"`
	Positions          map[string]SpotHolding `json:"positions"`
}

// ProductInfo caches the venue's order constraints per symbol.
type ProductInfo struct {
	Symbol         string  `json:"symbol"`
	Price          float64 `json:"price"`
	BaseIncrement  float64 `json:"base_increment"`
	QuoteIncrement float64 `json:"quote_increment"`
	MinMarketFunds float64 `json:"min_market_funds"`
}

// Manager is the shared surface of the paper and live portfolio managers.
type Manager interface {
	GetAvailableBalance() float64
	GetTotalPortfolioValue() float64
	UpdatePortfolioState(ctx context.Context) error
	HasExchangeHolding(symbol string) bool
	GetProductInfo(ctx context.Context, symbol string) (*ProductInfo, error)
	PortfolioSnapshot() Snapshot
	SnapshotAge() time.Duration
	// ValidateBeforeTrade is the truth-sync gate: in live mode it fails
	// when the snapshot is older than the staleness budget.
	ValidateBeforeTrade(symbol string) (bool, string)
}
