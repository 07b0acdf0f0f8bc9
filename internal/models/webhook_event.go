package models

import "time"

// WebhookEvent is the idempotency ledger for Stripe deliveries. A row is
// inserted in the same transaction as the event's effects; a unique
// violation on StripeEventID means the event was already applied and the
// redelivery must be acknowledged without re-applying anything.
type WebhookEvent struct {
	StripeEventID string    `gorm:"type:varchar(255);primaryKey" json:"stripe_event_id"`
	Type          string    `gorm:"type:varchar(100);not null" json:"type"`
	ProcessedAt   time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"processed_at"`
}

func (WebhookEvent) TableName() string {
	return "webhook_events"
}
