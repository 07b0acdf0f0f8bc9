package billing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestGetProrationAmountsMonthly(t *testing.T) {
	tests := []struct {
		name          string
		unusedCredits float64
		tierCredits   float64
		currentPrice  float64
		newPrice      float64
		wantProration float64
		wantTotal     float64
	}{
		{
			name:          "half allotment unused",
			unusedCredits: 500,
			tierCredits:   1000,
			currentPrice:  20,
			newPrice:      50,
			wantProration: 10,
			wantTotal:     40,
		},
		{
			name:          "fully used allotment credits nothing",
			unusedCredits: 0,
			tierCredits:   1000,
			currentPrice:  20,
			newPrice:      50,
			wantProration: 0,
			wantTotal:     50,
		},
		{
			name:          "fractional credits round to cents",
			unusedCredits: 333.33,
			tierCredits:   1000,
			currentPrice:  20,
			newPrice:      50,
			wantProration: 6.67,
			wantTotal:     43.33,
		},
		{
			name:          "zero-credit tier yields no proration",
			unusedCredits: 100,
			tierCredits:   0,
			currentPrice:  20,
			newPrice:      50,
			wantProration: 0,
			wantTotal:     50,
		},
		{
			name:          "downgrade can go negative",
			unusedCredits: 1000,
			tierCredits:   1000,
			currentPrice:  50,
			newPrice:      20,
			wantProration: 50,
			wantTotal:     -30,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := GetProrationAmountsMonthly(tt.unusedCredits, tt.tierCredits, tt.currentPrice, tt.newPrice)
			assert.InDelta(t, tt.wantProration, got.Proration, 1e-9)
			assert.InDelta(t, tt.wantTotal, got.Total, 1e-9)
		})
	}
}

// total must equal newPrice - proration exactly once proration is fixed
// at two decimals.
func TestMonthlyTotalIdentity(t *testing.T) {
	cases := []struct{ unused, tier, current, next float64 }{
		{1, 3, 19.99, 49.99},
		{999.5, 1000, 20, 50},
		{0.01, 15000, 199, 499},
	}

	for _, c := range cases {
		got := GetProrationAmountsMonthly(c.unused, c.tier, c.current, c.next)
		assert.InDelta(t, round2(c.next-got.Proration), got.Total, 1e-9)
	}
}

func TestGetProrationAmountsAnnual(t *testing.T) {
	now := time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)

	t.Run("no months left and allotment untouched", func(t *testing.T) {
		// monthsLeft = 0, unused == tier: proration reduces to
		// currentPrice/12 and total to newPrice/12 - currentPrice/12.
		periodEnd := now.Add(12 * time.Hour)
		got := GetProrationAmountsAnnual(1000, 1000, 240, 600, now, periodEnd)
		assert.InDelta(t, 20, got.Proration, 1e-9)
		assert.InDelta(t, 30, got.Total, 1e-9)
	})

	t.Run("full months remaining are credited", func(t *testing.T) {
		periodEnd := now.AddDate(0, 3, 1)
		got := GetProrationAmountsAnnual(500, 1000, 240, 600, now, periodEnd)
		// 240/12 * (0.5 + 3) = 70; 600/12 * 4 - 70 = 130.
		assert.InDelta(t, 70, got.Proration, 1e-9)
		assert.InDelta(t, 130, got.Total, 1e-9)
	})

	t.Run("period end in the past counts zero months", func(t *testing.T) {
		periodEnd := now.AddDate(0, -2, 0)
		got := GetProrationAmountsAnnual(500, 1000, 240, 600, now, periodEnd)
		assert.InDelta(t, 10, got.Proration, 1e-9)
		assert.InDelta(t, 40, got.Total, 1e-9)
	})

	t.Run("zero-credit tier still credits remaining months", func(t *testing.T) {
		periodEnd := now.AddDate(0, 2, 1)
		got := GetProrationAmountsAnnual(100, 0, 240, 600, now, periodEnd)
		assert.InDelta(t, 40, got.Proration, 1e-9)
		assert.InDelta(t, 110, got.Total, 1e-9)
	})
}

func TestWholeMonthsBetween(t *testing.T) {
	a := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)

	assert.Equal(t, 0, wholeMonthsBetween(a, a))
	assert.Equal(t, 0, wholeMonthsBetween(a, a.AddDate(0, 0, 27)))
	assert.Equal(t, 1, wholeMonthsBetween(a, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, 12, wholeMonthsBetween(a, a.AddDate(1, 0, 0)))
	assert.Equal(t, 0, wholeMonthsBetween(a, a.AddDate(0, -5, 0)))
}
