package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type SubscriptionStatus string

const (
	SubscriptionTrialing SubscriptionStatus = "trialing"
	SubscriptionActive   SubscriptionStatus = "active"
	SubscriptionPastDue  SubscriptionStatus = "past_due"
	SubscriptionCanceled SubscriptionStatus = "canceled"
	SubscriptionUnpaid   SubscriptionStatus = "unpaid"
)

// Subscription mirrors the Stripe subscription object. Rows are written
// only by webhook reconciliation, never by user-facing code.
type Subscription struct {
	ID                   uuid.UUID          `gorm:"type:uuid;primaryKey" json:"id"`
	StripeSubscriptionID string             `gorm:"type:varchar(255);uniqueIndex;not null" json:"stripe_subscription_id"`
	UserID               uuid.UUID          `gorm:"type:uuid;not null;index" json:"user_id"`
	Status               SubscriptionStatus `gorm:"type:varchar(50);not null" json:"status"`
	PriceID              string             `gorm:"type:varchar(255);not null" json:"price_id"`
	CurrentPeriodStart   time.Time          `gorm:"not null" json:"current_period_start"`
	CurrentPeriodEnd     time.Time          `gorm:"not null" json:"current_period_end"`
	CancelAt             *time.Time         `gorm:"default:null" json:"cancel_at"`
	CreatedAt            time.Time          `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt            time.Time          `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
	DeletedAt            gorm.DeletedAt     `gorm:"index" json:"-"`
	User                 User               `gorm:"foreignKey:UserID" json:"-"`
}

func (Subscription) TableName() string {
	return "subscriptions"
}

func (s *Subscription) BeforeCreate(tx *gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}

	now := time.Now()
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now
	}
	if s.UpdatedAt.IsZero() {
		s.UpdatedAt = now
	}

	return nil
}

func (s *Subscription) BeforeUpdate(tx *gorm.DB) error {
	s.UpdatedAt = time.Now()
	return nil
}

// Entitling reports whether the subscription grants plan credits.
func (s *Subscription) Entitling() bool {
	return s.Status == SubscriptionActive || s.Status == SubscriptionTrialing
}
