package repository

import (
	"context"
	"thinkhive-api/internal/models"
	"thinkhive-api/internal/pkg/errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type AssistantRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Assistant, error)

	// ListMetadataIDs returns the metadata ids of every document reachable
	// through the assistant's attached brains. This is the server-side
	// source of truth for what the persona is allowed to know.
	ListMetadataIDs(ctx context.Context, assistantID uuid.UUID) ([]string, error)
}

type assistantRepository struct {
	db *gorm.DB
}

func NewAssistantRepository(db *gorm.DB) AssistantRepository {
	return &assistantRepository{db: db}
}

func (r *assistantRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Assistant, error) {
	var assistant models.Assistant
	result := r.db.WithContext(ctx).First(&assistant, "id = ?", id)

	if result.Error != nil {
		if result.Error == gorm.ErrRecordNotFound {
			return nil, errors.ErrAssistantNotFound
		}
		return nil, errors.Wrap(result.Error, "failed to get assistant by ID")
	}

	return &assistant, nil
}

func (r *assistantRepository) ListMetadataIDs(ctx context.Context, assistantID uuid.UUID) ([]string, error) {
	var ids []string

	err := r.db.WithContext(ctx).Model(&models.Document{}).
		Joins("JOIN brains ON brains.id = documents.brain_id").
		Joins("JOIN assistant_brains ON assistant_brains.brain_id = brains.id").
		Where("assistant_brains.assistant_id = ?", assistantID).
		Where("brains.deleted_at IS NULL").
		Pluck("documents.metadata_id", &ids).Error

	if err != nil {
		return nil, errors.Wrap(err, "failed to list assistant metadata ids")
	}
	return ids, nil
}
