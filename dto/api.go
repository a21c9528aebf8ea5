package dto

import (
	"time"

	"github.com/customeros/rfqstack/internal/enum"
	"github.com/customeros/rfqstack/internal/models"
)

type RequestSummary struct {
	ID              string             `json:"id"`
	MessageID       string             `json:"messageId"`
	FromAddress     string             `json:"fromAddress"`
	Subject         string             `json:"subject"`
	ReceivedAt      time.Time          `json:"receivedAt"`
	Status          enum.RequestStatus `json:"status"`
	Confidence      *float64           `json:"confidence,omitempty"`
	ItemCount       int                `json:"itemCount"`
	AttachmentCount int                `json:"attachmentCount"`
	ErrorMessage    *string            `json:"errorMessage,omitempty"`
	HandedOff       bool               `json:"handedOff"`
}

type RequestList struct {
	Requests []RequestSummary `json:"requests"`
	Count    int              `json:"count"`
}

// RequestDetail is the full record with its attachments and decoded requirements.
type RequestDetail struct {
	*models.IngestionRequest
	Attachments  []models.Attachment           `json:"attachments"`
	Requirements *models.ExtractedRequirements `json:"requirements"`
}

type SetStatusRequest struct {
	Status enum.RequestStatus `json:"status" binding:"required"`
	Notes  string             `json:"notes"`
}

type SetQuotationRefRequest struct {
	QuotationRef string `json:"quotationRef" binding:"required"`
}

type AcceptedResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

func NewRequestSummary(request *models.IngestionRequest) RequestSummary {
	summary := RequestSummary{
		ID:              request.ID,
		MessageID:       request.MessageID,
		FromAddress:     request.FromAddress,
		Subject:         request.Subject,
		ReceivedAt:      request.ReceivedAt,
		Status:          request.Status,
		Confidence:      request.Confidence,
		AttachmentCount: request.AttachmentCount,
		ErrorMessage:    request.ErrorMessage,
		HandedOff:       request.HandedOffAt != nil,
	}
	if reqs, err := request.GetRequirements(); err == nil && reqs != nil {
		summary.ItemCount = len(reqs.Items)
	}
	return summary
}
