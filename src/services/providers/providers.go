// Package providers fetches quotes from public market data APIs.
package providers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"time"

	"github.com/shopspring/decimal"
	"github.com/username/fintrack/backend/src/logger"
	"github.com/username/fintrack/backend/src/models"
	"golang.org/x/net/publicsuffix"
)

const userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/108.0.0.0 Safari/537.36"

// ErrNoQuote is returned when a provider answered but had no price for the symbol.
var ErrNoQuote = errors.New("no quote in provider response")

// Provider fetches a single quote. Returned quotes carry the symbol and
// market they were requested with.
type Provider interface {
	Name() string
	Fetch(ctx context.Context, symbol string, market models.Market) (*models.Quote, error)
}

// NewHTTPClient builds the client shared by all providers. Yahoo hands out
// session cookies, so the client keeps a jar.
func NewHTTPClient(timeout time.Duration) *http.Client {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		logger.L.Error("Failed to create cookie jar", "error", err)
	}
	return &http.Client{
		Jar:     jar,
		Timeout: timeout,
	}
}

// ToCents converts a decimal price to integer cents, rounding half away from zero.
func ToCents(price decimal.Decimal) int64 {
	return price.Shift(2).Round(0).IntPart()
}

func get(ctx context.Context, client *http.Client, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		return nil, fmt.Errorf("non-OK status %d: %s", resp.StatusCode, string(body))
	}
	return resp, nil
}
