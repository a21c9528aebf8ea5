package interfaces

import (
	"context"

	"github.com/customeros/rfqstack/internal/models"
)

type TextExtractor interface {
	Extract(ctx context.Context, attachment *models.Attachment) (string, error)
}

type RequirementExtractor interface {
	Extract(ctx context.Context, text string) (*models.ExtractedRequirements, error)
}

type ConfidenceScorer interface {
	Score(reqs *models.ExtractedRequirements) float64
	PolicyVersion() string
}

type RFQClassifier interface {
	IsCandidateRFQ(subject, body string) (bool, string)
}
