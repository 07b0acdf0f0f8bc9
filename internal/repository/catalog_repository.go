package repository

import (
	"context"
	"thinkhive-api/internal/models"
	"thinkhive-api/internal/pkg/errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CatalogRepository mirrors the Stripe product/price catalog.
type CatalogRepository interface {
	UpsertProduct(ctx context.Context, product *models.Product) error
	UpsertPrice(ctx context.Context, price *models.Price) error
	GetPrice(ctx context.Context, id string) (*models.Price, error)
	GetProduct(ctx context.Context, id string) (*models.Product, error)

	// WithTx returns a view of the repository bound to an open
	// transaction, so callers can fold catalog writes into a larger
	// atomic unit.
	WithTx(tx *gorm.DB) CatalogRepository
}

type catalogRepository struct {
	db *gorm.DB
}

func NewCatalogRepository(db *gorm.DB) CatalogRepository {
	return &catalogRepository{db: db}
}

func (r *catalogRepository) WithTx(tx *gorm.DB) CatalogRepository {
	return &catalogRepository{db: tx}
}

func (r *catalogRepository) UpsertProduct(ctx context.Context, product *models.Product) error {
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"name", "active", "description", "tier", "credits", "updated_at",
		}),
	}).Create(product).Error

	if err != nil {
		return errors.Wrap(err, "failed to upsert product")
	}
	return nil
}

func (r *catalogRepository) UpsertPrice(ctx context.Context, price *models.Price) error {
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"product_id", "active", "unit_amount", "currency", "interval", "updated_at",
		}),
	}).Create(price).Error

	if err != nil {
		return errors.Wrap(err, "failed to upsert price")
	}
	return nil
}

func (r *catalogRepository) GetPrice(ctx context.Context, id string) (*models.Price, error) {
	var price models.Price
	result := r.db.WithContext(ctx).First(&price, "id = ?", id)

	if result.Error != nil {
		if result.Error == gorm.ErrRecordNotFound {
			return nil, errors.ErrNotFound
		}
		return nil, errors.Wrap(result.Error, "failed to get price")
	}

	return &price, nil
}

func (r *catalogRepository) GetProduct(ctx context.Context, id string) (*models.Product, error) {
	var product models.Product
	result := r.db.WithContext(ctx).First(&product, "id = ?", id)

	if result.Error != nil {
		if result.Error == gorm.ErrRecordNotFound {
			return nil, errors.ErrNotFound
		}
		return nil, errors.Wrap(result.Error, "failed to get product")
	}

	return &product, nil
}
