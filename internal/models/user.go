package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type User struct {
	ID               uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Email            string    `gorm:"type:varchar(255);uniqueIndex;not null" json:"email"`
	PasswordHash     string    `gorm:"type:varchar(255);not null" json:"-"`
	StripeCustomerID string    `gorm:"type:varchar(255);index" json:"-"`

	// Prepaid balances. Credits is the plan allowance, reset each billing
	// cycle; AdditionalCredits is purchased top-up, drawn only after the
	// plan allowance runs dry. Both are fractional: costs are token counts
	// divided down, never rounded.
	Credits           float64 `gorm:"not null;default:0" json:"credits"`
	AdditionalCredits float64 `gorm:"not null;default:0" json:"additional_credits"`

	// Cumulative token counters for the current cycle.
	UploadUsage    int64 `gorm:"not null;default:0" json:"upload_usage"`
	EmbeddingUsage int64 `gorm:"not null;default:0" json:"embedding_usage"`
	LLMUsage       int64 `gorm:"column:llm_usage;not null;default:0" json:"llm_usage"`

	LastReset *time.Time `gorm:"default:null" json:"last_reset"`

	CreatedAt time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}

	now := time.Now()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	if u.UpdatedAt.IsZero() {
		u.UpdatedAt = now
	}

	return nil
}

func (u *User) BeforeUpdate(tx *gorm.DB) error {
	u.UpdatedAt = time.Now()
	return nil
}

func (User) TableName() string {
	return "users"
}
