package processors

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
	"github.com/username/fintrack/backend/src/models"
)

type summaryProcessorImpl struct{}

func NewSummaryProcessor() SummaryProcessor {
	return &summaryProcessorImpl{}
}

// Summarize values every position at its current price, falling back to the
// average buy price when no quote has been stored yet. It fails with
// ErrAmountOutOfRange when a figure does not fit in an int64.
func (p *summaryProcessorImpl) Summarize(positions []models.Position) (models.PortfolioSummary, error) {
	summary := models.PortfolioSummary{
		Positions:  []models.PositionSummary{},
		ByCurrency: []models.CurrencyTotals{},
	}
	byCurrency := make(map[models.CurrencyKey]models.CurrencyTotals)

	for _, pos := range positions {
		ps, err := SummarizePosition(pos)
		if err != nil {
			return models.PortfolioSummary{}, err
		}
		summary.Positions = append(summary.Positions, ps)
		if summary.TotalInvested, err = Add(summary.TotalInvested, ps.Invested); err != nil {
			return models.PortfolioSummary{}, fmt.Errorf("total invested: %w", err)
		}
		if summary.CurrentValue, err = Add(summary.CurrentValue, ps.CurrentValue); err != nil {
			return models.PortfolioSummary{}, fmt.Errorf("total current value: %w", err)
		}

		key := models.CurrencyKey(pos.CurrencyCode)
		if byCurrency[key], err = MergeCurrencyTotals(byCurrency[key], NewCurrencyTotals(ps)); err != nil {
			return models.PortfolioSummary{}, err
		}
	}

	var err error
	if summary.TotalPL, err = Add(summary.CurrentValue, -summary.TotalInvested); err != nil {
		return models.PortfolioSummary{}, fmt.Errorf("total P/L: %w", err)
	}
	summary.TotalPLPercent = PLPercent(summary.TotalPL, summary.TotalInvested)
	summary.PositionsCount = len(positions)

	for _, totals := range byCurrency {
		summary.ByCurrency = append(summary.ByCurrency, totals)
	}
	sort.Slice(summary.ByCurrency, func(i, j int) bool {
		return summary.ByCurrency[i].Currency < summary.ByCurrency[j].Currency
	})
	return summary, nil
}

// SummarizePosition computes invested, current value and P/L for one position.
func SummarizePosition(pos models.Position) (models.PositionSummary, error) {
	price := pos.AvgBuyPrice
	if pos.CurrentPrice != nil {
		price = *pos.CurrentPrice
	}
	invested, err := MulAdd(pos.Quantity, pos.AvgBuyPrice, 0)
	if err != nil {
		return models.PositionSummary{}, fmt.Errorf("position %d invested: %w", pos.ID, err)
	}
	current, err := MulAdd(pos.Quantity, price, 0)
	if err != nil {
		return models.PositionSummary{}, fmt.Errorf("position %d current value: %w", pos.ID, err)
	}
	pl, err := Add(current, -invested)
	if err != nil {
		return models.PositionSummary{}, fmt.Errorf("position %d P/L: %w", pos.ID, err)
	}
	return models.PositionSummary{
		Position:     pos,
		Invested:     invested,
		CurrentValue: current,
		PL:           pl,
		PLPercent:    PLPercent(pl, invested),
	}, nil
}

// NewCurrencyTotals builds the per-currency aggregate of a single position.
func NewCurrencyTotals(ps models.PositionSummary) models.CurrencyTotals {
	return models.CurrencyTotals{
		Currency:     models.CurrencyKey(ps.CurrencyCode),
		Invested:     ps.Invested,
		CurrentValue: ps.CurrentValue,
		PL:           ps.PL,
		PLPercent:    ps.PLPercent,
	}
}

// MergeCurrencyTotals adds b into a. The zero value of a is a valid start.
func MergeCurrencyTotals(a, b models.CurrencyTotals) (models.CurrencyTotals, error) {
	merged := models.CurrencyTotals{Currency: b.Currency}
	if a.Currency != "" {
		merged.Currency = a.Currency
	}
	var err error
	if merged.Invested, err = Add(a.Invested, b.Invested); err != nil {
		return models.CurrencyTotals{}, fmt.Errorf("%s invested: %w", merged.Currency, err)
	}
	if merged.CurrentValue, err = Add(a.CurrentValue, b.CurrentValue); err != nil {
		return models.CurrencyTotals{}, fmt.Errorf("%s current value: %w", merged.Currency, err)
	}
	if merged.PL, err = Add(a.PL, b.PL); err != nil {
		return models.CurrencyTotals{}, fmt.Errorf("%s P/L: %w", merged.Currency, err)
	}
	merged.PLPercent = PLPercent(merged.PL, merged.Invested)
	return merged, nil
}

// PLPercent returns pl/invested*100, or 0 when nothing is invested.
func PLPercent(pl, invested int64) float64 {
	if invested <= 0 {
		return 0
	}
	return decimal.NewFromInt(pl).
		Mul(decimal.NewFromInt(100)).
		Div(decimal.NewFromInt(invested)).
		InexactFloat64()
}
