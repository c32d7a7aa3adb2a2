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
	"github.com/username/fintrack/backend/src/logger"
	"github.com/username/fintrack/backend/src/models"
)

const DefaultAlphaVantageBaseURL = "https://www.alphavantage.co"

type alphaVantageGlobalQuote struct {
	GlobalQuote struct {
		Symbol string `json:"01. symbol"`
		Price  string `json:"05. price"`
	} `json:"Global Quote"`
	Note        string `json:"Note"`
	Information string `json:"Information"`
}

type alphaVantageProvider struct {
	client  *http.Client
	baseURL string
	apiKey  string
}

// NewAlphaVantage returns a US equities provider using the GLOBAL_QUOTE function.
func NewAlphaVantage(client *http.Client, baseURL, apiKey string) Provider {
	if baseURL == "" {
		baseURL = DefaultAlphaVantageBaseURL
	}
	if apiKey == "" || apiKey == "demo" {
		logger.L.Warn("Alpha Vantage API key not set, using demo key with limited symbols")
		apiKey = "demo"
	}
	return &alphaVantageProvider{client: client, baseURL: strings.TrimRight(baseURL, "/"), apiKey: apiKey}
}

func (p *alphaVantageProvider) Name() string { return models.QuoteSourceAlphaVantage }

func (p *alphaVantageProvider) Fetch(ctx context.Context, symbol string, market models.Market) (*models.Quote, error) {
	params := url.Values{}
	params.Set("function", "GLOBAL_QUOTE")
	params.Set("symbol", symbol)
	params.Set("apikey", p.apiKey)

	resp, err := get(ctx, p.client, p.baseURL+"/query?"+params.Encode())
	if err != nil {
		return nil, fmt.Errorf("alpha vantage API for symbol %s: %w", symbol, err)
	}
	defer resp.Body.Close()

	var data alphaVantageGlobalQuote
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return nil, fmt.Errorf("failed to decode Alpha Vantage response for symbol %s: %w", symbol, err)
	}
	// Throttled responses come back as 200 with a Note or Information message.
	if data.Note != "" || data.Information != "" {
		return nil, fmt.Errorf("alpha vantage refused symbol %s: %s%s", symbol, data.Note, data.Information)
	}
	if data.GlobalQuote.Price == "" {
		return nil, fmt.Errorf("%w: symbol %s", ErrNoQuote, symbol)
	}

	price, err := decimal.NewFromString(data.GlobalQuote.Price)
	if err != nil {
		return nil, fmt.Errorf("invalid Alpha Vantage price '%s' for symbol %s: %w", data.GlobalQuote.Price, symbol, err)
	}
	return &models.Quote{
		Symbol:      symbol,
		Market:      market,
		Price:       ToCents(price),
		Currency:    "USD",
		LastUpdated: time.Now().UTC(),
		Source:      models.QuoteSourceAlphaVantage,
	}, nil
}
