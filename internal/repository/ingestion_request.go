package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/opentracing/opentracing-go"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/customeros/rfqstack/interfaces"
	"github.com/customeros/rfqstack/internal/enum"
	"github.com/customeros/rfqstack/internal/models"
	"github.com/customeros/rfqstack/internal/tracing"
	"github.com/customeros/rfqstack/internal/utils"
)

type ingestionRequestRepository struct {
	db *gorm.DB
}

func NewIngestionRequestRepository(db *gorm.DB) interfaces.IngestionRequestRepository {
	return &ingestionRequestRepository{db: db}
}

// CreateIfAbsent inserts the request unless one with the same message id exists.
// The returned flag is false for duplicates, request.ID then refers to no stored row.
func (r *ingestionRequestRepository) CreateIfAbsent(ctx context.Context, request *models.IngestionRequest) (bool, error) {
	return r.CreateWithAttachments(ctx, request, nil)
}

// CreateWithAttachments inserts the request and its attachment rows in one transaction.
// Nothing is written when the message id already exists.
func (r *ingestionRequestRepository) CreateWithAttachments(ctx context.Context, request *models.IngestionRequest, attachments []*models.Attachment) (bool, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "ingestionRequestRepository.CreateWithAttachments")
	defer span.Finish()
	tracing.SetDefaultPostgresRepositorySpanTags(ctx, span)
	span.LogKV("messageId", request.MessageID, "attachments", len(attachments))

	if request.MessageID == "" {
		return false, ErrInvalidInput
	}

	created := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "message_id"}}, DoNothing: true}).
			Create(request)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected != 1 {
			return nil
		}
		for _, attachment := range attachments {
			attachment.RequestID = request.ID
			if err := tx.Create(attachment).Error; err != nil {
				return err
			}
		}
		created = true
		return nil
	})
	if err != nil {
		tracing.TraceErr(span, err)
		return false, fmt.Errorf("failed to create ingestion request: %w", err)
	}

	span.LogKV("created", created)
	return created, nil
}

func (r *ingestionRequestRepository) GetByID(ctx context.Context, id string) (*models.IngestionRequest, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "ingestionRequestRepository.GetByID")
	defer span.Finish()
	tracing.SetDefaultPostgresRepositorySpanTags(ctx, span)
	tracing.TagEntity(span, id)

	var request models.IngestionRequest
	err := r.db.WithContext(ctx).
		Preload("Attachments", func(db *gorm.DB) *gorm.DB { return db.Order("created_at ASC") }).
		Where("id = ?", id).
		First(&request).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, ErrRequestNotFound
		}
		tracing.TraceErr(span, err)
		return nil, fmt.Errorf("failed to get ingestion request: %w", err)
	}

	return &request, nil
}

func (r *ingestionRequestRepository) GetByMessageID(ctx context.Context, messageID string) (*models.IngestionRequest, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "ingestionRequestRepository.GetByMessageID")
	defer span.Finish()
	tracing.SetDefaultPostgresRepositorySpanTags(ctx, span)

	var request models.IngestionRequest
	err := r.db.WithContext(ctx).Where("message_id = ?", messageID).First(&request).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, ErrRequestNotFound
		}
		tracing.TraceErr(span, err)
		return nil, fmt.Errorf("failed to get ingestion request by message id: %w", err)
	}

	return &request, nil
}

// ListRecent returns the newest requests first, optionally filtered by status.
func (r *ingestionRequestRepository) ListRecent(ctx context.Context, limit int, status enum.RequestStatus) ([]models.IngestionRequest, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "ingestionRequestRepository.ListRecent")
	defer span.Finish()
	tracing.SetDefaultPostgresRepositorySpanTags(ctx, span)
	span.LogKV("limit", limit, "status", status.String())

	query := r.db.WithContext(ctx).
		Omit("body_text", "requirements").
		Order("received_at DESC").
		Order("created_at DESC").
		Limit(limit)
	if status != "" {
		query = query.Where("status = ?", status)
	}

	var requests []models.IngestionRequest
	if err := query.Find(&requests).Error; err != nil {
		tracing.TraceErr(span, err)
		return nil, fmt.Errorf("failed to list ingestion requests: %w", err)
	}

	return requests, nil
}

// TransitionStatus moves a request to status `to` only if its current status is one of `from`.
// It reports false when no row matched, which is how a lost claim race surfaces.
func (r *ingestionRequestRepository) TransitionStatus(ctx context.Context, id string, from []enum.RequestStatus, to enum.RequestStatus, updates map[string]interface{}) (bool, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "ingestionRequestRepository.TransitionStatus")
	defer span.Finish()
	tracing.SetDefaultPostgresRepositorySpanTags(ctx, span)
	tracing.TagEntity(span, id)
	span.LogKV("from", from, "to", to.String())

	values := map[string]interface{}{}
	for k, v := range updates {
		values[k] = v
	}
	values["status"] = to
	values["updated_at"] = utils.Now()

	result := r.db.WithContext(ctx).
		Model(&models.IngestionRequest{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(values)
	if result.Error != nil {
		tracing.TraceErr(span, result.Error)
		return false, fmt.Errorf("failed to transition ingestion request: %w", result.Error)
	}

	span.LogKV("rowsAffected", result.RowsAffected)
	return result.RowsAffected == 1, nil
}

func (r *ingestionRequestRepository) AppendNotes(ctx context.Context, id, note string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "ingestionRequestRepository.AppendNotes")
	defer span.Finish()
	tracing.SetDefaultPostgresRepositorySpanTags(ctx, span)
	tracing.TagEntity(span, id)

	if note == "" {
		return nil
	}

	err := r.db.WithContext(ctx).
		Model(&models.IngestionRequest{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"processing_notes": gorm.Expr(
				"CASE WHEN processing_notes IS NULL OR processing_notes = '' THEN ? ELSE processing_notes || ? END",
				note, "\n"+note,
			),
			"updated_at": utils.Now(),
		}).Error
	if err != nil {
		tracing.TraceErr(span, err)
		return fmt.Errorf("failed to append processing notes: %w", err)
	}

	return nil
}

// SetQuotationRef links a completed request to the quotation built from it.
func (r *ingestionRequestRepository) SetQuotationRef(ctx context.Context, id, quotationRef string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "ingestionRequestRepository.SetQuotationRef")
	defer span.Finish()
	tracing.SetDefaultPostgresRepositorySpanTags(ctx, span)
	tracing.TagEntity(span, id)

	result := r.db.WithContext(ctx).
		Model(&models.IngestionRequest{}).
		Where("id = ? AND status = ?", id, enum.RequestStatusCompleted).
		Updates(map[string]interface{}{"quotation_ref": quotationRef, "updated_at": utils.Now()})
	if result.Error != nil {
		tracing.TraceErr(span, result.Error)
		return fmt.Errorf("failed to set quotation ref: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrRequestNotFound
	}

	return nil
}

func (r *ingestionRequestRepository) FindStaleProcessing(ctx context.Context, startedBefore time.Time, limit int) ([]models.IngestionRequest, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "ingestionRequestRepository.FindStaleProcessing")
	defer span.Finish()
	tracing.SetDefaultPostgresRepositorySpanTags(ctx, span)

	var requests []models.IngestionRequest
	err := r.db.WithContext(ctx).
		Omit("body_text", "requirements").
		Where("status = ? AND (processing_started_at IS NULL OR processing_started_at < ?)", enum.RequestStatusProcessing, startedBefore).
		Order("processing_started_at ASC").
		Limit(limit).
		Find(&requests).Error
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, fmt.Errorf("failed to find stale requests: %w", err)
	}

	span.LogKV("found", len(requests))
	return requests, nil
}

func (r *ingestionRequestRepository) FindPendingHandoff(ctx context.Context, limit int) ([]models.IngestionRequest, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "ingestionRequestRepository.FindPendingHandoff")
	defer span.Finish()
	tracing.SetDefaultPostgresRepositorySpanTags(ctx, span)

	var requests []models.IngestionRequest
	err := r.db.WithContext(ctx).
		Where("status = ? AND handed_off_at IS NULL", enum.RequestStatusCompleted).
		Order("completed_at ASC").
		Limit(limit).
		Find(&requests).Error
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, fmt.Errorf("failed to find requests pending handoff: %w", err)
	}

	return requests, nil
}

func (r *ingestionRequestRepository) MarkHandedOff(ctx context.Context, id string, at time.Time) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "ingestionRequestRepository.MarkHandedOff")
	defer span.Finish()
	tracing.SetDefaultPostgresRepositorySpanTags(ctx, span)
	tracing.TagEntity(span, id)

	err := r.db.WithContext(ctx).
		Model(&models.IngestionRequest{}).
		Where("id = ? AND status = ?", id, enum.RequestStatusCompleted).
		Updates(map[string]interface{}{"handed_off_at": at, "updated_at": utils.Now()}).Error
	if err != nil {
		tracing.TraceErr(span, err)
		return fmt.Errorf("failed to mark request handed off: %w", err)
	}

	return nil
}
