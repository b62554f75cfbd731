package coinbase

import (
	"encoding/json"
	"testing"
)

func TestProductPayloadCarriesQuotes(t *testing.T) {
	raw := []byte(`{
		"product_id": "BTC-USD",
		"base_currency_id": "BTC",
		"quote_currency_id": "USD",
		"price": "100.05",
		"volume_24h": "1000",
		"bid_price": "100.00",
		"ask_price": "100.10",
		"is_disabled": false,
		"trading_disabled": false
	}`)
	var p productPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	got := p.toProduct()
	if got.BidPrice != 100.00 || got.AskPrice != 100.10 {
		t.Errorf("quotes = %v/%v, want 100.00/100.10", got.BidPrice, got.AskPrice)
	}
}

func TestProductPayloadQuoteAliases(t *testing.T) {
	raw := []byte(`{
		"product_id": "ETH-USD",
		"price": "200",
		"best_bid": "199.90",
		"best_ask": "200.10"
	}`)
	var p productPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	got := p.toProduct()
	if got.BidPrice != 199.90 || got.AskPrice != 200.10 {
		t.Errorf("quotes = %v/%v, want 199.90/200.10", got.BidPrice, got.AskPrice)
	}
}

func TestPricebookTopOfBook(t *testing.T) {
	raw := []byte(`{
		"pricebooks": [
			{
				"product_id": "BTC-USD",
				"bids": [{"price": "99.95"}, {"price": "99.90"}],
				"asks": [{"price": "100.05"}, {"price": "100.10"}]
			},
			{
				"product_id": "EMPTY-USD",
				"bids": [],
				"asks": []
			}
		]
	}`)
	var resp struct {
		Pricebooks []pricebookPayload `json:"pricebooks"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	books := make(map[string]pricebookPayload, len(resp.Pricebooks))
	for _, pb := range resp.Pricebooks {
		books[pb.ProductID] = pb
	}

	bid, ask := books["BTC-USD"].topOfBook()
	if bid != 99.95 || ask != 100.05 {
		t.Errorf("top of book = %v/%v, want 99.95/100.05", bid, ask)
	}
	bid, ask = books["EMPTY-USD"].topOfBook()
	if bid != 0 || ask != 0 {
		t.Errorf("empty book = %v/%v, want zeros", bid, ask)
	}
}
