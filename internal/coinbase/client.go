// Package coinbase implements the exchange.Client interface against the
// Coinbase Advanced Trade REST and WebSocket APIs.
package coinbase

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"coinbase-trading-bot/internal/exchange"
)

const (
	restHost    = "api.coinbase.com"
	restBase    = "https://api.coinbase.com"
	apiPrefix   = "/api/v3/brokerage"
	httpTimeout = 10 * time.Second
)

// Client talks to Coinbase Advanced Trade. Every REST call is signed with a
// fresh ES256 JWT, paced by a shared limiter, and wrapped in a breaker so a
// flapping venue degrades gracefully instead of hammering.
type Client struct {
	creds   *credentials
	http    *http.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
	logger  zerolog.Logger
}

func NewClient(keyName, pemSecret string, logger zerolog.Logger) (*Client, error) {
	creds, err := newCredentials(keyName, pemSecret)
	if err != nil {
		return nil, err
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "coinbase-rest",
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
	return &Client{
		creds:   creds,
		http:    &http.Client{Timeout: httpTimeout},
		limiter: rate.NewLimiter(rate.Every(100*time.Millisecond), 10),
		breaker: cb,
		logger:  logger.With().Str("component", "coinbase_client").Logger(),
	}, nil
}

// WSJWT issues a token for WebSocket subscribe messages.
func (c *Client) WSJWT() (string, error) { return c.creds.wsJWT() }

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body interface{}, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("coinbase: limiter: %w", err)
	}
	_, err := c.breaker.Execute(func() (interface{}, error) {
		return nil, c.doOnce(ctx, method, path, query, body, out)
	})
	return err
}

func (c *Client) doOnce(ctx context.Context, method, path string, query url.Values, body interface{}, out interface{}) error {
	fullPath := apiPrefix + path
	u := restBase + fullPath
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var rdr io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("coinbase: marshal request: %w", err)
		}
		rdr = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rdr)
	if err != nil {
		return fmt.Errorf("coinbase: build request: %w", err)
	}
	token, err := c.creds.restJWT(method, restHost, fullPath)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("coinbase: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("coinbase: read response: %w", err)
	}
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return exchange.ErrRateLimited
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("coinbase: %s %s: %w", method, path, exchange.ErrOrderNotFound)
	case resp.StatusCode >= 400:
		return fmt.Errorf("coinbase: %s %s: status %d: %s", method, path, resp.StatusCode, truncate(data, 300))
	}
	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("coinbase: decode %s: %w", path, err)
		}
	}
	return nil
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n]) + "..."
	}
	return string(b)
}

// parseFloat tolerates the API's string-encoded numerics.
func parseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}

// ---- accounts / portfolios ----

func (c *Client) GetAccounts(ctx context.Context) ([]exchange.Account, error) {
	var resp struct {
		Accounts []struct {
			UUID             string `json:"uuid"`
			Currency         string `json:"currency"`
			AvailableBalance struct {
				Value string `json:"value"`
			} `json:"available_balance"`
			Hold struct {
				Value string `json:"value"`
			} `json:"hold"`
		} `json:"accounts"`
	}
	if err := c.do(ctx, http.MethodGet, "/accounts", url.Values{"limit": {"250"}}, nil, &resp); err != nil {
		return nil, err
	}
	out := make([]exchange.Account, 0, len(resp.Accounts))
	for _, a := range resp.Accounts {
		out = append(out, exchange.Account{
			UUID:      a.UUID,
			Currency:  a.Currency,
			Available: parseFloat(a.AvailableBalance.Value),
			Hold:      parseFloat(a.Hold.Value),
		})
	}
	return out, nil
}

func (c *Client) GetPortfolios(ctx context.Context) ([]exchange.Portfolio, error) {
	var resp struct {
		Portfolios []struct {
			UUID string `json:"uuid"`
			Name string `json:"name"`
			Type string `json:"type"`
		} `json:"portfolios"`
	}
	if err := c.do(ctx, http.MethodGet, "/portfolios", nil, nil, &resp); err != nil {
		return nil, err
	}
	out := make([]exchange.Portfolio, 0, len(resp.Portfolios))
	for _, p := range resp.Portfolios {
		out = append(out, exchange.Portfolio{UUID: p.UUID, Name: p.Name, Type: p.Type})
	}
	return out, nil
}

func (c *Client) GetPortfolioBreakdown(ctx context.Context, portfolioUUID string) (*exchange.PortfolioBreakdown, error) {
	var resp struct {
		Breakdown struct {
			PortfolioBalances struct {
				TotalBalance struct {
					Value string `json:"value"`
				} `json:"total_balance"`
				TotalCashEquivalentBalance struct {
					Value string `json:"value"`
				} `json:"total_cash_equivalent_balance"`
			} `json:"portfolio_balances"`
			SpotPositions []struct {
				Asset                string  `json:"asset"`
				TotalBalanceCrypto   float64 `json:"total_balance_crypto"`
				TotalBalanceFiat     float64 `json:"total_balance_fiat"`
				AvailableToTradeFiat float64 `json:"available_to_trade_fiat"`
				Allocation           float64 `json:"allocation"`
			} `json:"spot_positions"`
		} `json:"breakdown"`
	}
	if err := c.do(ctx, http.MethodGet, "/portfolios/"+portfolioUUID, nil, nil, &resp); err != nil {
		return nil, err
	}
	bd := &exchange.PortfolioBreakdown{
		TotalValueUSD: parseFloat(resp.Breakdown.PortfolioBalances.TotalBalance.Value),
		CashUSD:       parseFloat(resp.Breakdown.PortfolioBalances.TotalCashEquivalentBalance.Value),
		AsOf:          time.Now().UTC(),
		Balances:      make(map[string]float64),
	}
	for _, sp := range resp.Breakdown.SpotPositions {
		price := 0.0
		if sp.TotalBalanceCrypto > 0 {
			price = sp.TotalBalanceFiat / sp.TotalBalanceCrypto
		}
		bd.Positions = append(bd.Positions, exchange.SpotPosition{
			Asset:     sp.Asset,
			Quantity:  sp.TotalBalanceCrypto,
			ValueUSD:  sp.TotalBalanceFiat,
			PriceUSD:  price,
			Allocated: sp.Allocation,
		})
		bd.Balances[sp.Asset] = sp.TotalBalanceCrypto
	}
	return bd, nil
}

// ---- products / candles ----

func (c *Client) GetProduct(ctx context.Context, productID string) (*exchange.Product, error) {
	var raw productPayload
	if err := c.do(ctx, http.MethodGet, "/products/"+productID, nil, nil, &raw); err != nil {
		return nil, err
	}
	p := raw.toProduct()
	if p.BidPrice == 0 || p.AskPrice == 0 {
		if books, err := c.bestBidAsk(ctx, []string{productID}); err == nil {
			if pb, ok := books[productID]; ok {
				if bid, ask := pb.topOfBook(); bid > 0 && ask > 0 {
					p.BidPrice, p.AskPrice = bid, ask
				}
			}
		}
	}
	return &p, nil
}

func (c *Client) GetProducts(ctx context.Context) ([]exchange.Product, error) {
	var resp struct {
		Products []productPayload `json:"products"`
	}
	q := url.Values{"product_type": {"SPOT"}}
	if err := c.do(ctx, http.MethodGet, "/products", q, nil, &resp); err != nil {
		return nil, err
	}
	out := make([]exchange.Product, 0, len(resp.Products))
	for _, raw := range resp.Products {
		out = append(out, raw.toProduct())
	}
	// The product list omits quotes on some plans; the pricebook endpoint is
	// authoritative for spreads.
	books, err := c.bestBidAsk(ctx, nil)
	if err != nil {
		c.logger.Warn().Err(err).Msg("best bid/ask fetch failed, keeping product-list quotes")
		return out, nil
	}
	for i := range out {
		pb, ok := books[out[i].ID]
		if !ok {
			continue
		}
		if bid, ask := pb.topOfBook(); bid > 0 && ask > 0 {
			out[i].BidPrice, out[i].AskPrice = bid, ask
		}
	}
	return out, nil
}

type productPayload struct {
	ProductID                string `json:"product_id"`
	BaseCurrencyID           string `json:"base_currency_id"`
	QuoteCurrencyID          string `json:"quote_currency_id"`
	Price                    string `json:"price"`
	PricePercentageChange24h string `json:"price_percentage_change_24h"`
	Volume24h                string `json:"volume_24h"`
	BaseIncrement            string `json:"base_increment"`
	QuoteIncrement           string `json:"quote_increment"`
	QuoteMinSize             string `json:"quote_min_size"`
	BidPrice                 string `json:"bid_price"`
	AskPrice                 string `json:"ask_price"`
	BestBid                  string `json:"best_bid"`
	BestAsk                  string `json:"best_ask"`
	IsDisabled               bool   `json:"is_disabled"`
	TradingDisabled          bool   `json:"trading_disabled"`
}

func (p productPayload) toProduct() exchange.Product {
	price := parseFloat(p.Price)
	// The venue spells top-of-book two ways across endpoints.
	bid := parseFloat(p.BidPrice)
	if bid == 0 {
		bid = parseFloat(p.BestBid)
	}
	ask := parseFloat(p.AskPrice)
	if ask == 0 {
		ask = parseFloat(p.BestAsk)
	}
	return exchange.Product{
		ID:             p.ProductID,
		BaseCurrency:   p.BaseCurrencyID,
		QuoteCurrency:  p.QuoteCurrencyID,
		Price:          price,
		BidPrice:       bid,
		AskPrice:       ask,
		Volume24hUSD:   parseFloat(p.Volume24h) * price,
		PriceChange24h: parseFloat(p.PricePercentageChange24h),
		BaseIncrement:  parseFloat(p.BaseIncrement),
		QuoteIncrement: parseFloat(p.QuoteIncrement),
		MinMarketFunds: parseFloat(p.QuoteMinSize),
		TradingEnabled: !p.IsDisabled && !p.TradingDisabled,
	}
}

type pricebookPayload struct {
	ProductID string `json:"product_id"`
	Bids      []struct {
		Price string `json:"price"`
	} `json:"bids"`
	Asks []struct {
		Price string `json:"price"`
	} `json:"asks"`
}

func (pb pricebookPayload) topOfBook() (bid, ask float64) {
	if len(pb.Bids) > 0 {
		bid = parseFloat(pb.Bids[0].Price)
	}
	if len(pb.Asks) > 0 {
		ask = parseFloat(pb.Asks[0].Price)
	}
	return bid, ask
}

// bestBidAsk fetches top-of-book pricebooks. With no IDs the venue returns
// every product.
func (c *Client) bestBidAsk(ctx context.Context, productIDs []string) (map[string]pricebookPayload, error) {
	q := url.Values{}
	for _, id := range productIDs {
		q.Add("product_ids", id)
	}
	var resp struct {
		Pricebooks []pricebookPayload `json:"pricebooks"`
	}
	if err := c.do(ctx, http.MethodGet, "/best_bid_ask", q, nil, &resp); err != nil {
		return nil, err
	}
	out := make(map[string]pricebookPayload, len(resp.Pricebooks))
	for _, pb := range resp.Pricebooks {
		out[pb.ProductID] = pb
	}
	return out, nil
}

func (c *Client) GetProductCandles(ctx context.Context, productID string, granularity exchange.Granularity, start, end time.Time) ([]exchange.Candle, error) {
	q := url.Values{
		"granularity": {string(granularity)},
		"start":       {strconv.FormatInt(start.Unix(), 10)},
		"end":         {strconv.FormatInt(end.Unix(), 10)},
	}
	var resp struct {
		Candles []struct {
			Start  string `json:"start"`
			Open   string `json:"open"`
			High   string `json:"high"`
			Low    string `json:"low"`
			Close  string `json:"close"`
			Volume string `json:"volume"`
		} `json:"candles"`
	}
	if err := c.do(ctx, http.MethodGet, "/products/"+productID+"/candles", q, nil, &resp); err != nil {
		return nil, err
	}
	out := make([]exchange.Candle, 0, len(resp.Candles))
	// Venue returns newest-first; normalize to ascending open time.
	for i := len(resp.Candles) - 1; i >= 0; i-- {
		raw := resp.Candles[i]
		sec, _ := strconv.ParseInt(raw.Start, 10, 64)
		out = append(out, exchange.Candle{
			Start:  time.Unix(sec, 0).UTC(),
			Open:   parseFloat(raw.Open),
			High:   parseFloat(raw.High),
			Low:    parseFloat(raw.Low),
			Close:  parseFloat(raw.Close),
			Volume: parseFloat(raw.Volume),
		})
	}
	return out, nil
}

// ---- orders ----

type orderConfig map[string]map[string]string

func (c *Client) placeOrder(ctx context.Context, clientOrderID, productID, side string, cfg orderConfig) (*exchange.Order, error) {
	body := map[string]interface{}{
		"client_order_id":     clientOrderID,
		"product_id":          productID,
		"side":                side,
		"order_configuration": cfg,
	}
	var resp struct {
		Success bool `json:"success"`
		Error   struct {
			Error        string `json:"error"`
			Message      string `json:"message"`
			ErrorDetails string `json:"error_details"`
		} `json:"error_response"`
		SuccessResponse struct {
			OrderID string `json:"order_id"`
		} `json:"success_response"`
	}
	if err := c.do(ctx, http.MethodPost, "/orders", nil, body, &resp); err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, fmt.Errorf("coinbase: order rejected: %s %s", resp.Error.Error, resp.Error.Message)
	}
	c.logger.Info().
		Str("order_id", resp.SuccessResponse.OrderID).
		Str("symbol", productID).
		Str("side", side).
		Msg("order placed")
	return c.GetOrder(ctx, resp.SuccessResponse.OrderID)
}

func (c *Client) MarketOrderBuy(ctx context.Context, clientOrderID, productID string, quoteUSD float64) (*exchange.Order, error) {
	cfg := orderConfig{"market_market_ioc": {"quote_size": formatFloat(quoteUSD)}}
	return c.placeOrder(ctx, clientOrderID, productID, "BUY", cfg)
}

func (c *Client) MarketOrderSell(ctx context.Context, clientOrderID, productID string, baseQty float64) (*exchange.Order, error) {
	cfg := orderConfig{"market_market_ioc": {"base_size": formatFloat(baseQty)}}
	return c.placeOrder(ctx, clientOrderID, productID, "SELL", cfg)
}

func (c *Client) LimitOrderGTCBuy(ctx context.Context, clientOrderID, productID string, baseQty, limitPrice float64) (*exchange.Order, error) {
	cfg := orderConfig{"limit_limit_gtc": {
		"base_size":   formatFloat(baseQty),
		"limit_price": formatFloat(limitPrice),
	}}
	return c.placeOrder(ctx, clientOrderID, productID, "BUY", cfg)
}

func (c *Client) LimitOrderGTCSell(ctx context.Context, clientOrderID, productID string, baseQty, limitPrice float64) (*exchange.Order, error) {
	cfg := orderConfig{"limit_limit_gtc": {
		"base_size":   formatFloat(baseQty),
		"limit_price": formatFloat(limitPrice),
	}}
	return c.placeOrder(ctx, clientOrderID, productID, "SELL", cfg)
}

func (c *Client) CancelOrders(ctx context.Context, orderIDs []string) error {
	body := map[string]interface{}{"order_ids": orderIDs}
	return c.do(ctx, http.MethodPost, "/orders/batch_cancel", nil, body, nil)
}

func (c *Client) GetOrder(ctx context.Context, orderID string) (*exchange.Order, error) {
	var resp struct {
		Order struct {
			OrderID            string `json:"order_id"`
			ClientOrderID      string `json:"client_order_id"`
			ProductID          string `json:"product_id"`
			Side               string `json:"side"`
			Status             string `json:"status"`
			FilledSize         string `json:"filled_size"`
			FilledValue        string `json:"filled_value"`
			AverageFilledPrice string `json:"average_filled_price"`
			TotalFees          string `json:"total_fees"`
			CreatedTime        string `json:"created_time"`
		} `json:"order"`
	}
	if err := c.do(ctx, http.MethodGet, "/historical/orders/"+orderID, nil, nil, &resp); err != nil {
		return nil, err
	}
	created, _ := time.Parse(time.RFC3339, resp.Order.CreatedTime)
	return &exchange.Order{
		OrderID:        resp.Order.OrderID,
		ClientOrderID:  resp.Order.ClientOrderID,
		ProductID:      resp.Order.ProductID,
		Side:           resp.Order.Side,
		Status:         mapOrderStatus(resp.Order.Status),
		FilledSize:     parseFloat(resp.Order.FilledSize),
		FilledValueUSD: parseFloat(resp.Order.FilledValue),
		AvgFillPrice:   parseFloat(resp.Order.AverageFilledPrice),
		FeesUSD:        parseFloat(resp.Order.TotalFees),
		CreatedAt:      created.UTC(),
	}, nil
}

func mapOrderStatus(s string) exchange.OrderStatus {
	switch s {
	case "OPEN", "PENDING", "QUEUED":
		return exchange.OrderStatusOpen
	case "FILLED":
		return exchange.OrderStatusFilled
	case "CANCELLED", "EXPIRED":
		return exchange.OrderStatusCancelled
	case "FAILED":
		return exchange.OrderStatusFailed
	default:
		return exchange.OrderStatus(s)
	}
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
