package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Assistant is a deployable chatbot persona. Its attached brains define
// which document chunks the answer pipeline may retrieve, and its owner
// determines both the vector namespace queried and the balance charged.
type Assistant struct {
	ID           uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	UserID       uuid.UUID      `gorm:"type:uuid;not null;index" json:"user_id"`
	Name         string         `gorm:"type:varchar(255);not null" json:"name"`
	SystemPrompt string         `gorm:"type:text" json:"system_prompt"`
	Brains       []Brain        `gorm:"many2many:assistant_brains" json:"brains,omitempty"`
	CreatedAt    time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt    time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
	DeletedAt    gorm.DeletedAt `gorm:"index" json:"-"`
	User         User           `gorm:"foreignKey:UserID" json:"-"`
}

func (Assistant) TableName() string {
	return "assistants"
}

func (a *Assistant) BeforeCreate(tx *gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return nil
}

// Brain is a named collection of uploaded documents.
type Brain struct {
	ID        uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	UserID    uuid.UUID      `gorm:"type:uuid;not null;index" json:"user_id"`
	Name      string         `gorm:"type:varchar(255);not null" json:"name"`
	Documents []Document     `gorm:"foreignKey:BrainID" json:"documents,omitempty"`
	CreatedAt time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

func (Brain) TableName() string {
	return "brains"
}

func (b *Brain) BeforeCreate(tx *gorm.DB) error {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	return nil
}

// Document is one uploaded file's metadata. MetadataID is the value
// stamped on every vector chunk produced from the file; retrieval filters
// on it.
type Document struct {
	ID         uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	BrainID    uuid.UUID      `gorm:"type:uuid;not null;index" json:"brain_id"`
	MetadataID string         `gorm:"type:varchar(255);uniqueIndex;not null" json:"metadata_id"`
	FileName   string         `gorm:"type:varchar(512);not null" json:"file_name"`
	TokenCount int64          `gorm:"not null;default:0" json:"token_count"`
	CreatedAt  time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	DeletedAt  gorm.DeletedAt `gorm:"index" json:"-"`
}

func (Document) TableName() string {
	return "documents"
}

func (d *Document) BeforeCreate(tx *gorm.DB) error {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	return nil
}
