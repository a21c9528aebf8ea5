package interfaces

import (
	"context"

	"github.com/customeros/rfqstack/internal/models"
)

// HandoffPublisher exposes completed requests to the downstream quotation collaborator.
type HandoffPublisher interface {
	PublishRequestCompleted(ctx context.Context, request *models.IngestionRequest, reqs *models.ExtractedRequirements) error
	Close() error
}
