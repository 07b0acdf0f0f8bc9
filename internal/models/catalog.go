package models

import (
	"time"
)

// Product and Price mirror the Stripe catalog. Primary keys are the
// Stripe ids so webhook upserts are natural-keyed.

type Product struct {
	ID          string    `gorm:"type:varchar(255);primaryKey" json:"id"`
	Name        string    `gorm:"type:varchar(255);not null" json:"name"`
	Active      bool      `gorm:"not null;default:true" json:"active"`
	Description string    `gorm:"type:text" json:"description"`
	Tier        string    `gorm:"type:varchar(50);index" json:"tier"`
	Credits     float64   `gorm:"not null;default:0" json:"credits"`
	CreatedAt   time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt   time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

func (Product) TableName() string {
	return "products"
}

type PriceInterval string

const (
	IntervalMonth PriceInterval = "month"
	IntervalYear  PriceInterval = "year"
)

type Price struct {
	ID         string        `gorm:"type:varchar(255);primaryKey" json:"id"`
	ProductID  string        `gorm:"type:varchar(255);not null;index" json:"product_id"`
	Active     bool          `gorm:"not null;default:true" json:"active"`
	UnitAmount int64         `gorm:"not null" json:"unit_amount"`
	Currency   string        `gorm:"type:varchar(10);not null" json:"currency"`
	Interval   PriceInterval `gorm:"type:varchar(10)" json:"interval"`
	CreatedAt  time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt  time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
	Product    Product       `gorm:"foreignKey:ProductID" json:"-"`
}

func (Price) TableName() string {
	return "prices"
}

// UnitAmountDollars converts the Stripe cent amount to dollars for the
// proration math.
func (p *Price) UnitAmountDollars() float64 {
	return float64(p.UnitAmount) / 100
}
