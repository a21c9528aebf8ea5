package models

import (
	"time"

	"gorm.io/gorm"

	"github.com/customeros/rfqstack/internal/enum"
	"github.com/customeros/rfqstack/internal/utils"
)

// Attachment is one persisted file that belongs to an IngestionRequest.
type Attachment struct {
	ID           string `gorm:"column:id;type:varchar(50);primaryKey" json:"id"`
	RequestID    string `gorm:"column:request_id;type:varchar(50);index;not null" json:"requestId"`
	Filename     string `gorm:"column:filename;type:varchar(500)" json:"filename"`
	ContentType  string `gorm:"column:content_type;type:varchar(255)" json:"contentType"`
	DetectedType string `gorm:"column:detected_type;type:varchar(255)" json:"detectedType"`
	Size         int64  `gorm:"column:size;default:0" json:"size"`

	StorageService enum.StorageBackend `gorm:"column:storage_service;type:varchar(20)" json:"storageService"`
	StorageKey     string              `gorm:"column:storage_key;type:varchar(1000)" json:"storageKey"`
	ContentHash    string              `gorm:"column:content_hash;type:varchar(64);index" json:"contentHash"`

	TextExtracted   bool    `gorm:"column:text_extracted;default:false" json:"textExtracted"`
	ExtractionError *string `gorm:"column:extraction_error;type:text" json:"extractionError,omitempty"`

	CreatedAt time.Time `gorm:"column:created_at;type:timestamp;default:current_timestamp" json:"createdAt"`
	UpdatedAt time.Time `gorm:"column:updated_at;type:timestamp;default:current_timestamp" json:"updatedAt"`
}

func (Attachment) TableName() string {
	return "rfq_attachments"
}

func (a *Attachment) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		a.ID = utils.GenerateNanoIDWithPrefix("file", 12)
	}
	a.CreatedAt = utils.Now()
	a.UpdatedAt = a.CreatedAt
	return nil
}
