package config

// BillingConfig carries the Stripe wiring plus the fixed tier -> credit
// allotment table. A product row may override its allotment through the
// "credits" metadata key mirrored from Stripe; this table is the fallback
// and also defines what a tier name means.
type BillingConfig struct {
	WebhookSecret  string
	MonthlyPriceID string
	AnnualPriceID  string
	TopUpPriceID   string

	// Credits granted to a fresh account before any subscription exists.
	TrialCredits float64

	// Credits added per one-time top-up purchase.
	TopUpCredits float64

	TierCredits map[string]float64
}

func NewBillingConfig() *BillingConfig {
	return &BillingConfig{
		WebhookSecret:  getEnv("STRIPE_WEBHOOK_SECRET", ""),
		MonthlyPriceID: getEnv("STRIPE_MONTHLY_PRICE_ID", ""),
		AnnualPriceID:  getEnv("STRIPE_ANNUAL_PRICE_ID", ""),
		TopUpPriceID:   getEnv("STRIPE_TOPUP_PRICE_ID", ""),
		TrialCredits:   50,
		TopUpCredits:   1000,
		TierCredits: map[string]float64{
			"starter":  1000,
			"pro":      5000,
			"business": 15000,
		},
	}
}

// CreditsForTier returns the monthly allotment for a tier name, zero when
// the tier is unknown.
func (c *BillingConfig) CreditsForTier(tier string) float64 {
	return c.TierCredits[tier]
}
