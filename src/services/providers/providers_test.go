package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/username/fintrack/backend/src/models"
)

func TestToCents(t *testing.T) {
	tests := []struct {
		in   string
		want int64
	}{
		{"45.12", 4512},
		{"0.005", 1},
		{"0.004", 0},
		{"29.999", 3000},
		{"-1.005", -101},
		{"64123.456", 6412346},
	}
	for _, tt := range tests {
		if got := ToCents(decimal.RequireFromString(tt.in)); got != tt.want {
			t.Errorf("ToCents(%s) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestYahooTicker(t *testing.T) {
	tests := []struct {
		symbol string
		market models.Market
		want   string
	}{
		{"BHP", models.MarketASX, "BHP.AX"},
		{"BHP.AX", models.MarketASX, "BHP.AX"},
		{"PETR4", models.MarketB3, "PETR4.SA"},
		{"petr4.sa", models.MarketB3, "petr4.sa"},
		{"AAPL", models.MarketUS, "AAPL"},
	}
	for _, tt := range tests {
		if got := YahooTicker(tt.symbol, tt.market); got != tt.want {
			t.Errorf("YahooTicker(%s, %s) = %s, want %s", tt.symbol, tt.market, got, tt.want)
		}
	}
}

func TestCoinGeckoID(t *testing.T) {
	tests := map[string]string{
		"BTC":     "bitcoin",
		"btc-usd": "bitcoin",
		"AVAX":    "avalanche-2",
		"PEPE":    "pepe",
	}
	for in, want := range tests {
		if got := CoinGeckoID(in); got != want {
			t.Errorf("CoinGeckoID(%s) = %s, want %s", in, got, want)
		}
	}
}

func TestYahoo_Fetch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v8/finance/chart/BHP.AX" {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get("User-Agent") == "" {
			t.Error("request without User-Agent")
		}
		fmt.Fprint(w, `{"chart":{"result":[{"meta":{"symbol":"BHP.AX","currency":"AUD","regularMarketPrice":45.125}}],"error":null}}`)
	}))
	defer server.Close()

	p := NewYahoo(NewHTTPClient(5*time.Second), server.URL)
	q, err := p.Fetch(context.Background(), "BHP", models.MarketASX)
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if q.Symbol != "BHP" || q.Market != models.MarketASX || q.Price != 4513 || q.Currency != "AUD" || q.Source != models.QuoteSourceYahoo {
		t.Errorf("Fetch() = %+v", q)
	}

	if _, err := p.Fetch(context.Background(), "NOPE", models.MarketASX); err == nil {
		t.Error("Fetch(404) expected error, got nil")
	}
}

func TestYahoo_FetchEmptyResult(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"chart":{"result":[],"error":null}}`)
	}))
	defer server.Close()

	_, err := NewYahoo(server.Client(), server.URL).Fetch(context.Background(), "X", models.MarketB3)
	if !errors.Is(err, ErrNoQuote) {
		t.Errorf("Fetch() error = %v, want ErrNoQuote", err)
	}
}

func TestAlphaVantage_Fetch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("function") != "GLOBAL_QUOTE" || q.Get("apikey") != "secret" {
			t.Errorf("unexpected query %s", r.URL.RawQuery)
		}
		switch q.Get("symbol") {
		case "AAPL":
			fmt.Fprint(w, `{"Global Quote":{"01. symbol":"AAPL","05. price":"189.9850"}}`)
		case "LIMIT":
			fmt.Fprint(w, `{"Note":"Thank you for using Alpha Vantage! Our standard API rate limit is 25 requests per day."}`)
		default:
			fmt.Fprint(w, `{"Global Quote":{}}`)
		}
	}))
	defer server.Close()

	p := NewAlphaVantage(server.Client(), server.URL, "secret")
	q, err := p.Fetch(context.Background(), "AAPL", models.MarketUS)
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if q.Price != 18999 || q.Currency != "USD" || q.Source != models.QuoteSourceAlphaVantage {
		t.Errorf("Fetch() = %+v", q)
	}

	if _, err := p.Fetch(context.Background(), "LIMIT", models.MarketUS); err == nil {
		t.Error("Fetch(rate limited) expected error, got nil")
	}
	if _, err := p.Fetch(context.Background(), "NONE", models.MarketUS); !errors.Is(err, ErrNoQuote) {
		t.Errorf("Fetch(empty) error = %v, want ErrNoQuote", err)
	}
}

func TestCoinGecko_Fetch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/simple/price" {
			http.NotFound(w, r)
			return
		}
		if r.URL.Query().Get("ids") == "bitcoin" {
			fmt.Fprint(w, `{"bitcoin":{"usd":64123.456}}`)
			return
		}
		fmt.Fprint(w, `{}`)
	}))
	defer server.Close()

	p := NewCoinGecko(server.Client(), server.URL, "")
	q, err := p.Fetch(context.Background(), "BTC-USD", models.MarketCrypto)
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if q.Symbol != "BTC-USD" || q.Price != 6412346 || q.Source != models.QuoteSourceCoinGecko {
		t.Errorf("Fetch() = %+v", q)
	}

	if _, err := p.Fetch(context.Background(), "UNKNOWNCOIN", models.MarketCrypto); !errors.Is(err, ErrNoQuote) {
		t.Errorf("Fetch(unknown) error = %v, want ErrNoQuote", err)
	}
}
