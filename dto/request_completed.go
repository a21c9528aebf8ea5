package dto

import (
	"time"

	"github.com/customeros/rfqstack/internal/models"
)

const EventTypeRequestCompleted = "RequestCompleted"

// RequestCompleted is handed to the quotation collaborator once a request completes.
type RequestCompleted struct {
	RequestID     string                   `json:"requestId"`
	MessageID     string                   `json:"messageId"`
	FromAddress   string                   `json:"fromAddress"`
	Subject       string                   `json:"subject"`
	ReceivedAt    time.Time                `json:"receivedAt"`
	Confidence    float64                  `json:"confidence"`
	PolicyVersion string                   `json:"policyVersion"`
	Requirements  []models.RequirementItem `json:"requirements"`
}
