package repository

import (
	"context"
	"fmt"

	"github.com/opentracing/opentracing-go"
	"gorm.io/gorm"

	"github.com/customeros/rfqstack/interfaces"
	"github.com/customeros/rfqstack/internal/models"
	"github.com/customeros/rfqstack/internal/tracing"
	"github.com/customeros/rfqstack/internal/utils"
)

type attachmentRepository struct {
	db *gorm.DB
}

func NewAttachmentRepository(db *gorm.DB) interfaces.AttachmentRepository {
	return &attachmentRepository{db: db}
}

func (r *attachmentRepository) Create(ctx context.Context, attachment *models.Attachment) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "attachmentRepository.Create")
	defer span.Finish()
	tracing.SetDefaultPostgresRepositorySpanTags(ctx, span)

	if attachment.RequestID == "" {
		return ErrInvalidInput
	}

	if err := r.db.WithContext(ctx).Create(attachment).Error; err != nil {
		tracing.TraceErr(span, err)
		return fmt.Errorf("failed to create attachment: %w", err)
	}
	tracing.TagEntity(span, attachment.ID)

	return nil
}

func (r *attachmentRepository) GetByID(ctx context.Context, id string) (*models.Attachment, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "attachmentRepository.GetByID")
	defer span.Finish()
	tracing.SetDefaultPostgresRepositorySpanTags(ctx, span)
	tracing.TagEntity(span, id)

	var attachment models.Attachment
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&attachment).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, ErrAttachmentNotFound
		}
		tracing.TraceErr(span, err)
		return nil, fmt.Errorf("failed to get attachment: %w", err)
	}

	return &attachment, nil
}

func (r *attachmentRepository) ListByRequest(ctx context.Context, requestID string) ([]models.Attachment, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "attachmentRepository.ListByRequest")
	defer span.Finish()
	tracing.SetDefaultPostgresRepositorySpanTags(ctx, span)
	tracing.TagEntity(span, requestID)

	var attachments []models.Attachment
	err := r.db.WithContext(ctx).
		Where("request_id = ?", requestID).
		Order("created_at ASC").
		Find(&attachments).Error
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, fmt.Errorf("failed to list attachments: %w", err)
	}

	return attachments, nil
}

// MarkExtracted records the extraction outcome once. Later calls are no-ops so a
// reprocessed request cannot rewrite the first result.
func (r *attachmentRepository) MarkExtracted(ctx context.Context, id string, extractionError *string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "attachmentRepository.MarkExtracted")
	defer span.Finish()
	tracing.SetDefaultPostgresRepositorySpanTags(ctx, span)
	tracing.TagEntity(span, id)

	err := r.db.WithContext(ctx).
		Model(&models.Attachment{}).
		Where("id = ? AND text_extracted = ? AND extraction_error IS NULL", id, false).
		Updates(map[string]interface{}{
			"text_extracted":   extractionError == nil,
			"extraction_error": extractionError,
			"updated_at":       utils.Now(),
		}).Error
	if err != nil {
		tracing.TraceErr(span, err)
		return fmt.Errorf("failed to mark attachment extracted: %w", err)
	}

	return nil
}
