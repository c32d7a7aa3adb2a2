package models

import "time"

// PositionType classifies the security held in a position.
type PositionType string

const (
	PositionTypeStock       PositionType = "stock"
	PositionTypeFund        PositionType = "fund"
	PositionTypeETF         PositionType = "etf"
	PositionTypeCrypto      PositionType = "crypto"
	PositionTypeFixedIncome PositionType = "fixed-income"
	PositionTypeOther       PositionType = "other"
)

func (t PositionType) Valid() bool {
	switch t {
	case PositionTypeStock, PositionTypeFund, PositionTypeETF, PositionTypeCrypto, PositionTypeFixedIncome, PositionTypeOther:
		return true
	}
	return false
}

// Market is the trading venue a symbol is quoted on.
type Market string

const (
	MarketASX    Market = "ASX"
	MarketB3     Market = "B3"
	MarketUS     Market = "US"
	MarketCrypto Market = "CRYPTO"
	MarketOther  Market = "OTHER"
)

func (m Market) Valid() bool {
	switch m {
	case MarketASX, MarketB3, MarketUS, MarketCrypto, MarketOther:
		return true
	}
	return false
}

// TransactionType is the kind of ledger event.
type TransactionType string

const (
	TransactionTypeBuy      TransactionType = "buy"
	TransactionTypeSell     TransactionType = "sell"
	TransactionTypeDividend TransactionType = "dividend"
	TransactionTypeInterest TransactionType = "interest"
)

func (t TransactionType) Valid() bool {
	switch t {
	case TransactionTypeBuy, TransactionTypeSell, TransactionTypeDividend, TransactionTypeInterest:
		return true
	}
	return false
}

// Position is a user's open holding of one symbol on one market.
// Quantity and prices are fixed-point integers with two implied decimals.
// A closed position has no row; there is no zero-quantity state.
type Position struct {
	ID              int64        `json:"id"`
	UserID          int64        `json:"userId"`
	AccountID       *int64       `json:"accountId"`
	Type            PositionType `json:"type"`
	Market          Market       `json:"market"`
	Symbol          string       `json:"symbol"`
	Name            string       `json:"name"`
	Quantity        int64        `json:"quantity"`
	AvgBuyPrice     int64        `json:"avgBuyPrice"`
	CostBasis       int64        `json:"costBasis"` // exact cost of the held quantity
	CurrentPrice    *int64       `json:"currentPrice"`
	CurrencyCode    string       `json:"currencyCode"`
	LastPriceUpdate *time.Time   `json:"lastPriceUpdate"`
	CreatedAt       time.Time    `json:"createdAt"`
	UpdatedAt       time.Time    `json:"updatedAt"`
}

// Key returns the quote lookup key for the position.
func (p Position) Key() QuoteKey {
	return QuoteKey{Symbol: p.Symbol, Market: p.Market}
}

// InvestmentTransaction is an immutable ledger entry. Symbol and Market are
// copied from the owning position when the entry is written.
type InvestmentTransaction struct {
	ID           int64           `json:"id"`
	UserID       int64           `json:"userId"`
	PositionID   int64           `json:"positionId"`
	AccountID    *int64          `json:"accountId"`
	Type         TransactionType `json:"type"`
	Symbol       string          `json:"symbol"`
	Market       Market          `json:"market"`
	Quantity     int64           `json:"quantity"`
	Price        int64           `json:"price"`
	Total        int64           `json:"total"`
	Fee          int64           `json:"fee"`
	CurrencyCode string          `json:"currencyCode"`
	Date         string          `json:"date"` // YYYY-MM-DD
	Notes        string          `json:"notes,omitempty"`
	CreatedAt    time.Time       `json:"createdAt"`
}

// TransactionFilter narrows ledger listings.
type TransactionFilter struct {
	Limit int
	Type  TransactionType
}
