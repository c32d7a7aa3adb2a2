package processors

import (
	"fmt"
	"sort"

	"github.com/username/fintrack/backend/src/models"
	"github.com/username/fintrack/backend/src/utils"
)

type evolutionProcessorImpl struct{}

func NewEvolutionProcessor() EvolutionProcessor {
	return &evolutionProcessorImpl{}
}

// Evolution walks the ledger chronologically keeping a running invested amount:
// buys add their total, sells subtract it, dividends and interest are ignored.
// Transactions dated before startDate only seed the running amount; every other
// transaction is assigned to a bucket, and the bucket keeps the running amount
// after its last transaction. Empty buckets are not emitted.
//
// Seeding from earlier history means the first bucket of a window shows the
// amount actually invested at that point, not the flow since startDate.
func (p *evolutionProcessorImpl) Evolution(transactions []models.InvestmentTransaction, interval models.Interval, startDate string) ([]models.EvolutionPoint, error) {
	if !interval.Valid() {
		return nil, fmt.Errorf("unknown interval '%s'", interval)
	}

	ordered := make([]models.InvestmentTransaction, len(transactions))
	copy(ordered, transactions)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Date != ordered[j].Date {
			return ordered[i].Date < ordered[j].Date
		}
		return ordered[i].ID < ordered[j].ID
	})

	buckets := make(map[models.BucketKey]models.EvolutionPoint)
	var cumulativeInvested int64

	for _, tx := range ordered {
		var err error
		if cumulativeInvested, err = ApplyToInvested(cumulativeInvested, tx); err != nil {
			return nil, fmt.Errorf("transaction %d: %w", tx.ID, err)
		}
		if startDate != "" && tx.Date < startDate {
			continue
		}

		key, err := BucketKeyFor(tx.Date, interval)
		if err != nil {
			return nil, fmt.Errorf("transaction %d: %w", tx.ID, err)
		}
		point := buckets[key]
		point.Date = key
		point.Invested = cumulativeInvested
		point.Transactions++
		buckets[key] = point
	}

	series := make([]models.EvolutionPoint, 0, len(buckets))
	for _, point := range buckets {
		series = append(series, point)
	}
	sort.Slice(series, func(i, j int) bool { return series[i].Date < series[j].Date })
	return series, nil
}

// ApplyToInvested returns the running invested amount after tx.
func ApplyToInvested(invested int64, tx models.InvestmentTransaction) (int64, error) {
	switch tx.Type {
	case models.TransactionTypeBuy:
		return Add(invested, tx.Total)
	case models.TransactionTypeSell:
		return MulAdd(tx.Total, -1, invested)
	default:
		return invested, nil
	}
}

// BucketKeyFor maps a YYYY-MM-DD date to the start date of its bucket.
func BucketKeyFor(date string, interval models.Interval) (models.BucketKey, error) {
	t, err := utils.ParseDate(date)
	if err != nil {
		return "", err
	}
	switch interval {
	case models.IntervalDaily:
		return models.BucketKey(utils.FormatDate(t)), nil
	case models.IntervalWeekly:
		return models.BucketKey(utils.FormatDate(utils.WeekStart(t))), nil
	case models.IntervalMonthly:
		return models.BucketKey(utils.FormatDate(utils.MonthStart(t))), nil
	default:
		return "", fmt.Errorf("unknown interval '%s'", interval)
	}
}
