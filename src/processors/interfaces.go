package processors

import (
	"github.com/username/fintrack/backend/src/models"
)

// SummaryProcessor values open positions and totals them.
type SummaryProcessor interface {
	Summarize(positions []models.Position) (models.PortfolioSummary, error)
}

// EvolutionProcessor turns a ledger into a bucketed series of running invested amounts.
type EvolutionProcessor interface {
	Evolution(transactions []models.InvestmentTransaction, interval models.Interval, startDate string) ([]models.EvolutionPoint, error)
}
