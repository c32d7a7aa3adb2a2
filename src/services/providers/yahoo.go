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

const DefaultYahooBaseURL = "https://query1.finance.yahoo.com"

type yahooChartResponse struct {
	Chart struct {
		Result []struct {
			Meta struct {
				Symbol             string          `json:"symbol"`
				Currency           string          `json:"currency"`
				RegularMarketPrice decimal.Decimal `json:"regularMarketPrice"`
			} `json:"meta"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

type yahooProvider struct {
	client  *http.Client
	baseURL string
}

// NewYahoo returns a provider backed by the Yahoo Finance v8 chart endpoint.
func NewYahoo(client *http.Client, baseURL string) Provider {
	if baseURL == "" {
		baseURL = DefaultYahooBaseURL
	}
	return &yahooProvider{client: client, baseURL: strings.TrimRight(baseURL, "/")}
}

func (p *yahooProvider) Name() string { return models.QuoteSourceYahoo }

// YahooTicker maps a symbol to its Yahoo ticker: ASX listings take ".AX",
// B3 listings take ".SA", everything else is used as is.
func YahooTicker(symbol string, market models.Market) string {
	suffix := ""
	switch market {
	case models.MarketASX:
		suffix = ".AX"
	case models.MarketB3:
		suffix = ".SA"
	}
	if suffix == "" || strings.HasSuffix(strings.ToUpper(symbol), suffix) {
		return symbol
	}
	return symbol + suffix
}

func defaultCurrency(market models.Market) string {
	switch market {
	case models.MarketASX:
		return "AUD"
	case models.MarketB3:
		return "BRL"
	default:
		return "USD"
	}
}

func (p *yahooProvider) Fetch(ctx context.Context, symbol string, market models.Market) (*models.Quote, error) {
	ticker := YahooTicker(symbol, market)
	chartURL := fmt.Sprintf("%s/v8/finance/chart/%s?interval=1d", p.baseURL, url.PathEscape(ticker))

	resp, err := get(ctx, p.client, chartURL)
	if err != nil {
		return nil, fmt.Errorf("yahoo chart API for ticker %s: %w", ticker, err)
	}
	defer resp.Body.Close()

	var data yahooChartResponse
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return nil, fmt.Errorf("failed to decode Yahoo chart response for ticker %s: %w", ticker, err)
	}
	if data.Chart.Error != nil {
		return nil, fmt.Errorf("yahoo chart API error for ticker %s: %s", ticker, data.Chart.Error.Description)
	}
	if len(data.Chart.Result) == 0 || data.Chart.Result[0].Meta.RegularMarketPrice.IsZero() {
		return nil, fmt.Errorf("%w: ticker %s", ErrNoQuote, ticker)
	}

	meta := data.Chart.Result[0].Meta
	currency := meta.Currency
	if currency == "" {
		currency = defaultCurrency(market)
	}
	return &models.Quote{
		Symbol:      symbol,
		Market:      market,
		Price:       ToCents(meta.RegularMarketPrice),
		Currency:    strings.ToUpper(currency),
		LastUpdated: time.Now().UTC(),
		Source:      models.QuoteSourceYahoo,
	}, nil
}
