package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/username/fintrack/backend/src/models"
)

const DefaultCoinGeckoBaseURL = "https://api.coingecko.com/api/v3"

var coinGeckoIDs = map[string]string{
	"BTC":   "bitcoin",
	"ETH":   "ethereum",
	"USDT":  "tether",
	"BNB":   "binancecoin",
	"SOL":   "solana",
	"ADA":   "cardano",
	"XRP":   "ripple",
	"DOT":   "polkadot",
	"DOGE":  "dogecoin",
	"AVAX":  "avalanche-2",
	"MATIC": "matic-network",
	"LINK":  "chainlink",
}

// CoinGeckoID maps a ticker such as "BTC" or "BTC-USD" to a CoinGecko coin id.
// Unknown tickers are lowercased and used directly.
func CoinGeckoID(symbol string) string {
	clean := strings.TrimSuffix(strings.ToUpper(strings.TrimSpace(symbol)), "-USD")
	if id, ok := coinGeckoIDs[clean]; ok {
		return id
	}
	return strings.ToLower(clean)
}

type coinGeckoProvider struct {
	client  *http.Client
	baseURL string
	apiKey  string
}

// NewCoinGecko returns a provider for the simple/price endpoint, priced in USD.
// The API key is optional.
func NewCoinGecko(client *http.Client, baseURL, apiKey string) Provider {
	if baseURL == "" {
		baseURL = DefaultCoinGeckoBaseURL
	}
	return &coinGeckoProvider{client: client, baseURL: strings.TrimRight(baseURL, "/"), apiKey: apiKey}
}

func (p *coinGeckoProvider) Name() string { return models.QuoteSourceCoinGecko }

func (p *coinGeckoProvider) Fetch(ctx context.Context, symbol string, market models.Market) (*models.Quote, error) {
	coinID := CoinGeckoID(symbol)
	params := url.Values{}
	params.Set("ids", coinID)
	params.Set("vs_currencies", "usd")
	if p.apiKey != "" {
		params.Set("x_cg_demo_api_key", p.apiKey)
	}

	resp, err := get(ctx, p.client, p.baseURL+"/simple/price?"+params.Encode())
	if err != nil {
		return nil, fmt.Errorf("coingecko API for coin %s: %w", coinID, err)
	}
	defer resp.Body.Close()

	var data map[string]map[string]decimal.Decimal
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return nil, fmt.Errorf("failed to decode CoinGecko response for coin %s: %w", coinID, err)
	}
	price, ok := data[coinID]["usd"]
	if !ok || price.IsZero() {
		return nil, fmt.Errorf("%w: coin %s", ErrNoQuote, coinID)
	}

	return &models.Quote{
		Symbol:      symbol,
		Market:      market,
		Price:       ToCents(price),
		Currency:    "USD",
		LastUpdated: time.Now().UTC(),
		Source:      models.QuoteSourceCoinGecko,
	}, nil
}
