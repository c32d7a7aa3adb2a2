package models

// PositionSummary is a position enriched with valuation figures.
type PositionSummary struct {
	Position
	Invested     int64   `json:"invested"`
	CurrentValue int64   `json:"currentValue"`
	PL           int64   `json:"pl"`
	PLPercent    float64 `json:"plPercent"`
}

// CurrencyKey groups aggregates by ISO currency code.
type CurrencyKey string

// CurrencyTotals holds the aggregate figures for one currency.
type CurrencyTotals struct {
	Currency     CurrencyKey `json:"currency"`
	Invested     int64       `json:"invested"`
	CurrentValue int64       `json:"currentValue"`
	PL           int64       `json:"pl"`
	PLPercent    float64     `json:"plPercent"`
}

type PortfolioSummary struct {
	TotalInvested  int64             `json:"totalInvested"`
	CurrentValue   int64             `json:"currentValue"`
	TotalPL        int64             `json:"totalPL"`
	TotalPLPercent float64           `json:"totalPLPercent"`
	PositionsCount int               `json:"positionsCount"`
	Positions      []PositionSummary `json:"positions"`
	ByCurrency     []CurrencyTotals  `json:"byCurrency"`
}

// Interval is the bucket width of an evolution series.
type Interval string

const (
	IntervalDaily   Interval = "daily"
	IntervalWeekly  Interval = "weekly"
	IntervalMonthly Interval = "monthly"
)

func (i Interval) Valid() bool {
	switch i {
	case IntervalDaily, IntervalWeekly, IntervalMonthly:
		return true
	}
	return false
}

// BucketKey is the YYYY-MM-DD start date of an evolution bucket.
type BucketKey string

// EvolutionPoint is the running invested amount as of the end of a bucket.
type EvolutionPoint struct {
	Date         BucketKey `json:"date"`
	Invested     int64     `json:"invested"`
	Transactions int       `json:"transactions"`
}
