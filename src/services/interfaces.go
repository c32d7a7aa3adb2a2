package services

import (
	"context"
	"time"

	"github.com/username/fintrack/backend/src/models"
)

// BuyRequest opens a position or adds to it. Amounts are fixed-point with two decimals.
type BuyRequest struct {
	Symbol       string              `json:"symbol"`
	Name         string              `json:"name"`
	Type         models.PositionType `json:"type"`
	Market       models.Market       `json:"market"`
	Quantity     int64               `json:"quantity"`
	Price        int64               `json:"price"`
	Fee          int64               `json:"fee"`
	CurrencyCode string              `json:"currencyCode"`
	Date         string              `json:"date"`
	AccountID    *int64              `json:"accountId,omitempty"`
	Notes        string              `json:"notes,omitempty"`
}

// SellRequest reduces or closes an open position.
type SellRequest struct {
	PositionID int64  `json:"positionId"`
	Quantity   int64  `json:"quantity"`
	Price      int64  `json:"price"`
	Fee        int64  `json:"fee"`
	Date       string `json:"date"`
	AccountID  *int64 `json:"accountId,omitempty"`
	Notes      string `json:"notes,omitempty"`
}

// IncomeRequest records a dividend or interest payment against an open position.
type IncomeRequest struct {
	PositionID int64                  `json:"positionId"`
	Type       models.TransactionType `json:"type"`
	Amount     int64                  `json:"amount"`
	Fee        int64                  `json:"fee"`
	Date       string                 `json:"date"`
	AccountID  *int64                 `json:"accountId,omitempty"`
	Notes      string                 `json:"notes,omitempty"`
}

// UpdatePositionRequest holds the manually editable fields of a position.
type UpdatePositionRequest struct {
	Name         *string `json:"name,omitempty"`
	CurrentPrice *int64  `json:"currentPrice,omitempty"`
}

// EvolutionQuery selects the window and bucket width of an evolution series.
// Empty fields take the service defaults.
type EvolutionQuery struct {
	StartDate string
	EndDate   string
	Interval  models.Interval
}

// TradeResult is the outcome of a buy or sell. Position is nil once a sell closes it.
type TradeResult struct {
	Position    *models.Position             `json:"position"`
	Closed      bool                         `json:"closed"`
	Transaction models.InvestmentTransaction `json:"transaction"`
}

// PriceUpdateResult reports how many positions received a fresh price.
type PriceUpdateResult struct {
	Updated int `json:"updated"`
	Failed  int `json:"failed"`
}

// InvestmentService orchestrates position changes, the ledger and portfolio reads.
type InvestmentService interface {
	Buy(ctx context.Context, userID int64, req BuyRequest) (*TradeResult, error)
	Sell(ctx context.Context, userID int64, req SellRequest) (*TradeResult, error)
	RecordIncome(ctx context.Context, userID int64, req IncomeRequest) (*models.InvestmentTransaction, error)
	UpdatePosition(ctx context.Context, userID, positionID int64, req UpdatePositionRequest) (*models.Position, error)
	DeletePosition(ctx context.Context, userID, positionID int64) error

	GetSummary(ctx context.Context, userID int64) (*models.PortfolioSummary, error)
	GetPositions(ctx context.Context, userID int64) ([]models.Position, error)
	GetPosition(ctx context.Context, userID, positionID int64) (*models.Position, error)
	GetPositionTransactions(ctx context.Context, userID, positionID int64) ([]models.InvestmentTransaction, error)
	GetAllTransactions(ctx context.Context, userID int64, filter models.TransactionFilter) ([]models.InvestmentTransaction, error)
	GetPortfolioEvolution(ctx context.Context, userID int64, query EvolutionQuery) ([]models.EvolutionPoint, error)
	UpdatePrices(ctx context.Context, userID int64) (*PriceUpdateResult, error)

	InvalidateUserCache(userID int64)
}

// QuoteService returns best-effort market quotes. It never fails: a nil quote
// means no provider answered and nothing was cached.
type QuoteService interface {
	GetQuote(ctx context.Context, symbol string, market models.Market) *models.Quote
	BatchQuotes(ctx context.Context, keys []models.QuoteKey) map[models.QuoteKey]models.Quote
}

// Throttle paces outbound provider calls. *rate.Limiter satisfies it.
type Throttle interface {
	Wait(ctx context.Context) error
}

// Clock returns the current time.
type Clock func() time.Time
