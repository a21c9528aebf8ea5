package interfaces

import (
	"context"
	"time"

	"github.com/customeros/rfqstack/internal/enum"
	"github.com/customeros/rfqstack/internal/models"
)

type IngestionRequestRepository interface {
	CreateIfAbsent(ctx context.Context, request *models.IngestionRequest) (bool, error)
	CreateWithAttachments(ctx context.Context, request *models.IngestionRequest, attachments []*models.Attachment) (bool, error)
	GetByID(ctx context.Context, id string) (*models.IngestionRequest, error)
	GetByMessageID(ctx context.Context, messageID string) (*models.IngestionRequest, error)
	ListRecent(ctx context.Context, limit int, status enum.RequestStatus) ([]models.IngestionRequest, error)
	TransitionStatus(ctx context.Context, id string, from []enum.RequestStatus, to enum.RequestStatus, updates map[string]interface{}) (bool, error)
	AppendNotes(ctx context.Context, id, note string) error
	SetQuotationRef(ctx context.Context, id, quotationRef string) error
	FindStaleProcessing(ctx context.Context, startedBefore time.Time, limit int) ([]models.IngestionRequest, error)
	FindPendingHandoff(ctx context.Context, limit int) ([]models.IngestionRequest, error)
	MarkHandedOff(ctx context.Context, id string, at time.Time) error
}

type AttachmentRepository interface {
	Create(ctx context.Context, attachment *models.Attachment) error
	GetByID(ctx context.Context, id string) (*models.Attachment, error)
	ListByRequest(ctx context.Context, requestID string) ([]models.Attachment, error)
	MarkExtracted(ctx context.Context, id string, extractionError *string) error
}

type MailboxSyncRepository interface {
	GetSyncState(ctx context.Context, mailboxID, folderName string) (*models.MailboxSyncState, error)
	SaveSyncState(ctx context.Context, state *models.MailboxSyncState) error
	DeleteSyncState(ctx context.Context, mailboxID, folderName string) error
	GetMailboxSyncStates(ctx context.Context, mailboxID string) (map[string]uint32, error)
}
