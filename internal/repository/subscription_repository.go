package repository

import (
	"context"
	"errors"
	"thinkhive-api/internal/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type SubscriptionRepository interface {
	// UpsertByStripeID creates or updates the mirror row keyed by the
	// Stripe subscription id. Webhook deliveries are not globally
	// ordered, so the upsert overwrites whole-row state from the event.
	UpsertByStripeID(ctx context.Context, subscription *models.Subscription) error
	GetByStripeID(ctx context.Context, stripeID string) (*models.Subscription, error)
	GetActiveByUserID(ctx context.Context, userID uuid.UUID) (*models.Subscription, error)

	// WithTx returns a view of the repository bound to an open
	// transaction.
	WithTx(tx *gorm.DB) SubscriptionRepository
}

var ErrSubscriptionNotFound = errors.New("subscription not found")

type subscriptionRepository struct {
	db *gorm.DB
}

func NewSubscriptionRepository(db *gorm.DB) SubscriptionRepository {
	return &subscriptionRepository{
		db: db,
	}
}

func (r *subscriptionRepository) WithTx(tx *gorm.DB) SubscriptionRepository {
	return &subscriptionRepository{db: tx}
}

func (r *subscriptionRepository) UpsertByStripeID(ctx context.Context, subscription *models.Subscription) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "stripe_subscription_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"status", "price_id", "current_period_start", "current_period_end", "cancel_at", "updated_at",
		}),
	}).Create(subscription).Error
}

func (r *subscriptionRepository) GetByStripeID(ctx context.Context, stripeID string) (*models.Subscription, error) {
	var subscription models.Subscription

	err := r.db.WithContext(ctx).First(&subscription, "stripe_subscription_id = ?", stripeID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrSubscriptionNotFound
	}

	return &subscription, err
}

func (r *subscriptionRepository) GetActiveByUserID(ctx context.Context, userID uuid.UUID) (*models.Subscription, error) {
	var subscription models.Subscription

	err := r.db.WithContext(ctx).
		Where("user_id = ? AND status IN ?", userID, []models.SubscriptionStatus{models.SubscriptionActive, models.SubscriptionTrialing}).
		Order("created_at DESC").
		First(&subscription).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrSubscriptionNotFound
	}

	return &subscription, err
}
