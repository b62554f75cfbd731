// Package exchange defines the client surface the engine consumes. The
// concrete Coinbase implementation lives in internal/coinbase; paper trading
// and tests substitute fakes behind the same interface.
package exchange

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrRateLimited is surfaced when the venue answers HTTP 429. Callers
	// back off instead of retrying immediately.
	ErrRateLimited = errors.New("exchange: rate limited")

	// ErrOrderNotFound is returned by GetOrder for unknown order IDs.
	ErrOrderNotFound = errors.New("exchange: order not found")
)

type Account struct {
	UUID      string  `json:"uuid"`
	Currency  string  `json:"currency"`
	Available float64 `json:"available"`
	Hold      float64 `json:"hold"`
}

type Portfolio struct {
	UUID string `json:"uuid"`
	Name string `json:"name"`
	Type string `json:"type"`
}

// PortfolioBreakdown is the authoritative balance snapshot: total value plus
// per-asset positions as the venue sees them.
type PortfolioBreakdown struct {
	TotalValueUSD float64            `json:"total_value_usd"`
	CashUSD       float64            `json:"cash_usd"`
	Positions     []SpotPosition     `json:"positions"`
	AsOf          time.Time          `json:"as_of"`
	Balances      map[string]float64 `json:"balances"`
}

type SpotPosition struct {
	Asset     string  `json:"asset"`
	Quantity  float64 `json:"quantity"`
	ValueUSD  float64 `json:"value_usd"`
	PriceUSD  float64 `json:"price_usd"`
	Allocated float64 `json:"allocated_pct"`
}

type Product struct {
	ID             string  `json:"product_id"`
	BaseCurrency   string  `json:"base_currency"`
	QuoteCurrency  string  `json:"quote_currency"`
	Price          float64 `json:"price"`
	BidPrice       float64 `json:"bid_price"`
	AskPrice       float64 `json:"ask_price"`
	Volume24hUSD   float64 `json:"volume_24h_usd"`
	PriceChange24h float64 `json:"price_change_24h_pct"`
	BaseIncrement  float64 `json:"base_increment"`
	QuoteIncrement float64 `json:"quote_increment"`
	MinMarketFunds float64 `json:"min_market_funds"`
	TradingEnabled bool    `json:"trading_enabled"`
}

// Candle is the venue's OHLCV bar, open time in UTC.
type Candle struct {
	Start  time.Time `json:"start"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

type Granularity string

const (
	GranularityOneMinute  Granularity = "ONE_MINUTE"
	GranularityFiveMinute Granularity = "FIVE_MINUTE"
	GranularityOneHour    Granularity = "ONE_HOUR"
	GranularityOneDay     Granularity = "ONE_DAY"
)

type OrderStatus string

const (
	OrderStatusOpen      OrderStatus = "OPEN"
	OrderStatusFilled    OrderStatus = "FILLED"
	OrderStatusCancelled OrderStatus = "CANCELLED"
	OrderStatusFailed    OrderStatus = "FAILED"
	OrderStatusPartial   OrderStatus = "PARTIALLY_FILLED"
)

type Order struct {
	OrderID        string      `json:"order_id"`
	ClientOrderID  string      `json:"client_order_id"`
	ProductID      string      `json:"product_id"`
	Side           string      `json:"side"`
	Status         OrderStatus `json:"status"`
	FilledSize     float64     `json:"filled_size"`
	FilledValueUSD float64     `json:"filled_value_usd"`
	AvgFillPrice   float64     `json:"avg_fill_price"`
	FeesUSD        float64     `json:"fees_usd"`
	CreatedAt      time.Time   `json:"created_at"`
}

// Client is the full venue surface the engine consumes.
type Client interface {
	GetAccounts(ctx context.Context) ([]Account, error)
	GetPortfolios(ctx context.Context) ([]Portfolio, error)
	GetPortfolioBreakdown(ctx context.Context, portfolioUUID string) (*PortfolioBreakdown, error)

	GetProduct(ctx context.Context, productID string) (*Product, error)
	GetProducts(ctx context.Context) ([]Product, error)
	GetProductCandles(ctx context.Context, productID string, granularity Granularity, start, end time.Time) ([]Candle, error)

	MarketOrderBuy(ctx context.Context, clientOrderID, productID string, quoteUSD float64) (*Order, error)
	MarketOrderSell(ctx context.Context, clientOrderID, productID string, baseQty float64) (*Order, error)
	LimitOrderGTCBuy(ctx context.Context, clientOrderID, productID string, baseQty, limitPrice float64) (*Order, error)
	LimitOrderGTCSell(ctx context.Context, clientOrderID, productID string, baseQty, limitPrice float64) (*Order, error)
	CancelOrders(ctx context.Context, orderIDs []string) error
	GetOrder(ctx context.Context, orderID string) (*Order, error)
}
