// Package billing holds the pure plan-change proration math. Nothing in
// here touches the database or Stripe; handlers feed it mirrored catalog
// prices and the user's live balance.
package billing

import (
	"math"
	"time"
)

// ProrationAmounts is the result of a plan-change quote. Proration is the
// dollar value credited for the unused part of the current plan; Total is
// the net amount due for the new plan. Both are rounded half-up to two
// decimal places.
type ProrationAmounts struct {
	Proration float64 `json:"proration"`
	Total     float64 `json:"total"`
}

// GetProrationAmountsMonthly quotes a monthly-to-monthly plan change.
// Unused credits are worth the fraction of the current plan's price
// proportional to the fraction of the allotment unused; that value is
// credited against the new plan's price.
//
// A zero-credit tier produces zero proration rather than a division by
// zero.
func GetProrationAmountsMonthly(unusedCredits, tierCredits, currentPrice, newPrice float64) ProrationAmounts {
	var proration float64
	if tierCredits > 0 {
		proration = round2(unusedCredits / tierCredits * currentPrice)
	}

	return ProrationAmounts{
		Proration: proration,
		Total:     round2(newPrice - proration),
	}
}

// GetProrationAmountsAnnual quotes an annual-to-annual plan change at
// now. On top of the per-credit-fraction value of the current month, each
// full month remaining on the old plan is credited at its pro-rata
// monthly value, and the new plan is charged pro-rata for the remaining
// months plus the current one.
func GetProrationAmountsAnnual(unusedCredits, tierCredits, currentAnnualPrice, newAnnualPrice float64, now, currentPeriodEnd time.Time) ProrationAmounts {
	monthsLeft := float64(wholeMonthsBetween(now, currentPeriodEnd))

	var creditFraction float64
	if tierCredits > 0 {
		creditFraction = unusedCredits / tierCredits
	}

	proration := round2(currentAnnualPrice / 12 * (creditFraction + monthsLeft))

	return ProrationAmounts{
		Proration: proration,
		Total:     round2(newAnnualPrice/12*(monthsLeft+1) - proration),
	}
}

// wholeMonthsBetween counts full calendar months from a to b, zero when b
// is not after a.
func wholeMonthsBetween(a, b time.Time) int {
	if !b.After(a) {
		return 0
	}

	months := 0
	for !a.AddDate(0, months+1, 0).After(b) {
		months++
	}
	return months
}

func round2(x float64) float64 {
	return math.Round(x*100) / 100
}
