package repository

import (
	"context"
	"thinkhive-api/internal/models"
	"thinkhive-api/internal/pkg/errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CreditDeduction records how a charge was split across the two balances,
// so an aborted operation can be refunded exactly.
type CreditDeduction struct {
	FromPlan       float64
	FromAdditional float64
}

func (d *CreditDeduction) Total() float64 {
	return d.FromPlan + d.FromAdditional
}

type UserRepository interface {
	Create(ctx context.Context, user *models.User) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	GetByStripeCustomerID(ctx context.Context, customerID string) (*models.User, error)

	// DeductCredits charges amount against the user's balances, plan
	// credits first, spilling the remainder to additional credits. The
	// whole charge rolls back with ErrInsufficientCredits when the
	// combined balance cannot cover it.
	DeductCredits(ctx context.Context, id uuid.UUID, amount float64) (*CreditDeduction, error)

	// ForceDeductCredits is DeductCredits without the sufficiency check:
	// plan credits drain to zero and additional credits absorb the rest,
	// possibly going negative. Used for post-generation settlement where
	// the tokens were already produced.
	ForceDeductCredits(ctx context.Context, id uuid.UUID, amount float64) (*CreditDeduction, error)

	RefundCredits(ctx context.Context, id uuid.UUID, deduction *CreditDeduction) error
	AddAdditionalCredits(ctx context.Context, id uuid.UUID, amount float64) error
	IncrementUsage(ctx context.Context, id uuid.UUID, embeddingTokens, llmTokens int64) error

	// ResetCredits sets the plan balance to allotment, zeroes the usage
	// counters and stamps last_reset. Additional credits are untouched.
	ResetCredits(ctx context.Context, id uuid.UUID, allotment float64) error

	FindDueForReset(ctx context.Context, before time.Time) ([]*models.User, error)

	// WithTx returns a view of the repository bound to an open
	// transaction.
	WithTx(tx *gorm.DB) UserRepository
}

type userRepository struct {
	db *gorm.DB
}

func NewUserRepository(db *gorm.DB) UserRepository {
	return &userRepository{db: db}
}

func (r *userRepository) WithTx(tx *gorm.DB) UserRepository {
	return &userRepository{db: tx}
}

func (r *userRepository) Create(ctx context.Context, user *models.User) error {
	result := r.db.WithContext(ctx).Create(user)
	if result.Error != nil {
		return errors.Wrap(result.Error, "failed to create user")
	}
	return nil
}

func (r *userRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	var user models.User
	result := r.db.WithContext(ctx).First(&user, "id = ?", id)

	if result.Error != nil {
		if result.Error == gorm.ErrRecordNotFound {
			return nil, errors.ErrNotFound
		}
		return nil, errors.Wrap(result.Error, "failed to get user by ID")
	}

	return &user, nil
}

func (r *userRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	var user models.User
	result := r.db.WithContext(ctx).First(&user, "email = ?", email)

	if result.Error != nil {
		if result.Error == gorm.ErrRecordNotFound {
			return nil, errors.ErrNotFound
		}
		return nil, errors.Wrap(result.Error, "failed to get user by email")
	}

	return &user, nil
}

func (r *userRepository) GetByStripeCustomerID(ctx context.Context, customerID string) (*models.User, error) {
	var user models.User
	result := r.db.WithContext(ctx).First(&user, "stripe_customer_id = ?", customerID)

	if result.Error != nil {
		if result.Error == gorm.ErrRecordNotFound {
			return nil, errors.ErrNotFound
		}
		return nil, errors.Wrap(result.Error, "failed to get user by Stripe customer ID")
	}

	return &user, nil
}

func (r *userRepository) DeductCredits(ctx context.Context, id uuid.UUID, amount float64) (*CreditDeduction, error) {
	return r.deduct(ctx, id, amount, false)
}

func (r *userRepository) ForceDeductCredits(ctx context.Context, id uuid.UUID, amount float64) (*CreditDeduction, error) {
	return r.deduct(ctx, id, amount, true)
}

func (r *userRepository) deduct(ctx context.Context, id uuid.UUID, amount float64, force bool) (*CreditDeduction, error) {
	deduction := &CreditDeduction{}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var user models.User
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&user, "id = ?", id).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return errors.ErrNotFound
			}
			return errors.Wrap(err, "failed to lock user row")
		}

		deduction.FromPlan = amount
		if user.Credits < amount {
			deduction.FromPlan = user.Credits
			if deduction.FromPlan < 0 {
				deduction.FromPlan = 0
			}
		}
		deduction.FromAdditional = amount - deduction.FromPlan

		if !force && user.AdditionalCredits < deduction.FromAdditional {
			return errors.ErrInsufficientCredits
		}

		return tx.Model(&models.User{}).Where("id = ?", id).Updates(map[string]interface{}{
			"credits":            gorm.Expr("credits - ?", deduction.FromPlan),
			"additional_credits": gorm.Expr("additional_credits - ?", deduction.FromAdditional),
			"updated_at":         time.Now(),
		}).Error
	})

	if err != nil {
		return nil, err
	}
	return deduction, nil
}

func (r *userRepository) RefundCredits(ctx context.Context, id uuid.UUID, deduction *CreditDeduction) error {
	result := r.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", id).Updates(map[string]interface{}{
		"credits":            gorm.Expr("credits + ?", deduction.FromPlan),
		"additional_credits": gorm.Expr("additional_credits + ?", deduction.FromAdditional),
		"updated_at":         time.Now(),
	})

	if result.Error != nil {
		return errors.Wrap(result.Error, "failed to refund credits")
	}
	if result.RowsAffected == 0 {
		return errors.ErrNotFound
	}
	return nil
}

func (r *userRepository) AddAdditionalCredits(ctx context.Context, id uuid.UUID, amount float64) error {
	result := r.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", id).Updates(map[string]interface{}{
		"additional_credits": gorm.Expr("additional_credits + ?", amount),
		"updated_at":         time.Now(),
	})

	if result.Error != nil {
		return errors.Wrap(result.Error, "failed to add additional credits")
	}
	if result.RowsAffected == 0 {
		return errors.ErrNotFound
	}
	return nil
}

func (r *userRepository) IncrementUsage(ctx context.Context, id uuid.UUID, embeddingTokens, llmTokens int64) error {
	result := r.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", id).Updates(map[string]interface{}{
		"embedding_usage": gorm.Expr("embedding_usage + ?", embeddingTokens),
		"llm_usage":       gorm.Expr("llm_usage + ?", llmTokens),
		"updated_at":      time.Now(),
	})

	if result.Error != nil {
		return errors.Wrap(result.Error, "failed to increment usage counters")
	}
	if result.RowsAffected == 0 {
		return errors.ErrNotFound
	}
	return nil
}

func (r *userRepository) ResetCredits(ctx context.Context, id uuid.UUID, allotment float64) error {
	now := time.Now()
	result := r.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", id).Updates(map[string]interface{}{
		"credits":         allotment,
		"upload_usage":    0,
		"embedding_usage": 0,
		"llm_usage":       0,
		"last_reset":      now,
		"updated_at":      now,
	})

	if result.Error != nil {
		return errors.Wrap(result.Error, "failed to reset credits")
	}
	if result.RowsAffected == 0 {
		return errors.ErrNotFound
	}
	return nil
}

func (r *userRepository) FindDueForReset(ctx context.Context, before time.Time) ([]*models.User, error) {
	var users []*models.User

	err := r.db.WithContext(ctx).
		Joins("JOIN subscriptions ON subscriptions.user_id = users.id").
		Where("subscriptions.status = ? AND subscriptions.deleted_at IS NULL", models.SubscriptionActive).
		Where("users.last_reset IS NULL OR users.last_reset < ?", before).
		Find(&users).Error

	if err != nil {
		return nil, errors.Wrap(err, "failed to find users due for credit reset")
	}
	return users, nil
}
