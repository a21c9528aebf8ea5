package interfaces

import (
	"context"

	"github.com/customeros/rfqstack/internal/enum"
	"github.com/customeros/rfqstack/internal/models"
)

// StorageService is a raw blob store.
type StorageService interface {
	Upload(ctx context.Context, key string, data []byte, contentType string) error
	Download(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
	Backend() enum.StorageBackend
}

// AttachmentStore validates attachment bytes and persists them with a record.
type AttachmentStore interface {
	Save(ctx context.Context, requestID string, part AttachmentPart) (*models.Attachment, error)
	Stage(ctx context.Context, requestID string, part AttachmentPart) (*models.Attachment, error)
	Discard(ctx context.Context, attachments []*models.Attachment)
	Open(ctx context.Context, attachment *models.Attachment) ([]byte, error)
}
