package models

import (
	"fmt"
	"time"
)

// QuoteKey identifies a quoted symbol on a market.
type QuoteKey struct {
	Symbol string
	Market Market
}

func (k QuoteKey) String() string {
	return fmt.Sprintf("%s-%s", k.Symbol, k.Market)
}

// Quote is a best-effort market price. Price is in cents of Currency.
type Quote struct {
	Symbol      string    `json:"symbol"`
	Market      Market    `json:"market"`
	Price       int64     `json:"price"`
	Currency    string    `json:"currency"`
	LastUpdated time.Time `json:"lastUpdated"`
	Source      string    `json:"source"`
}

const (
	QuoteSourceYahoo        = "yahoo_finance"
	QuoteSourceAlphaVantage = "alpha_vantage"
	QuoteSourceCoinGecko    = "coingecko"
	QuoteSourceCache        = "cache"
)
