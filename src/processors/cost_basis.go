package processors

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"
	"github.com/username/fintrack/backend/src/models"
)

var (
	maxAmount = decimal.NewFromInt(math.MaxInt64)
	minAmount = decimal.NewFromInt(math.MinInt64)
)

// CalculateAverageBuyPrice returns the weighted-average unit price after adding
// incomingQuantity units at incomingPrice to a holding of currentQuantity units
// at currentAvgPrice. All values share the same fixed-point scale.
//
// The result is rounded to the nearest integer, halves away from zero. A zero
// total quantity yields 0. Positions are updated through AverageFromTotalCost;
// this is the reference formula that path is tested against.
func CalculateAverageBuyPrice(currentQuantity, currentAvgPrice, incomingQuantity, incomingPrice int64) int64 {
	totalCost := decimal.NewFromInt(currentQuantity).Mul(decimal.NewFromInt(currentAvgPrice)).
		Add(decimal.NewFromInt(incomingQuantity).Mul(decimal.NewFromInt(incomingPrice)))
	totalQuantity := decimal.NewFromInt(currentQuantity).Add(decimal.NewFromInt(incomingQuantity))
	return averageFromCost(totalCost, totalQuantity)
}

// AverageFromTotalCost returns round(totalCost/totalQuantity) with the same
// rounding as CalculateAverageBuyPrice. Positions keep the exact cost of their
// buys so repeated buys never accumulate rounding drift.
func AverageFromTotalCost(totalCost, totalQuantity int64) int64 {
	return averageFromCost(decimal.NewFromInt(totalCost), decimal.NewFromInt(totalQuantity))
}

func averageFromCost(totalCost, totalQuantity decimal.Decimal) int64 {
	if totalQuantity.IsZero() {
		return 0
	}
	return divRound(totalCost, totalQuantity)
}

// divRound divides two integral decimals and rounds half away from zero.
// The division itself is exact; callers keep the stored cost within int64.
func divRound(num, den decimal.Decimal) int64 {
	q, r := num.QuoRem(den, 0)
	if r.Abs().Mul(decimal.NewFromInt(2)).Cmp(den.Abs()) >= 0 {
		if num.Sign()*den.Sign() < 0 {
			q = q.Sub(decimal.NewFromInt(1))
		} else {
			q = q.Add(decimal.NewFromInt(1))
		}
	}
	return q.IntPart()
}

// MulAdd returns a*b+c. It fails with ErrAmountOutOfRange when the exact
// result does not fit in an int64.
func MulAdd(a, b, c int64) (int64, error) {
	return toAmount(decimal.NewFromInt(a).Mul(decimal.NewFromInt(b)).Add(decimal.NewFromInt(c)))
}

// Add returns a+b with the same range check as MulAdd.
func Add(a, b int64) (int64, error) {
	return toAmount(decimal.NewFromInt(a).Add(decimal.NewFromInt(b)))
}

func toAmount(d decimal.Decimal) (int64, error) {
	if d.GreaterThan(maxAmount) || d.LessThan(minAmount) {
		return 0, fmt.Errorf("%w: %s", models.ErrAmountOutOfRange, d.String())
	}
	return d.IntPart(), nil
}
