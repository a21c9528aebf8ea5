package events

import (
	"context"
	"time"

	"github.com/opentracing/opentracing-go"

	"github.com/customeros/rfqstack/dto"
	"github.com/customeros/rfqstack/internal/enum"
	"github.com/customeros/rfqstack/internal/models"
	"github.com/customeros/rfqstack/internal/tracing"
	"github.com/customeros/rfqstack/internal/utils"
)

const appSourceRFQStack = "rfqstack"

func newRequestCompletedEvent(ctx context.Context, span opentracing.Span, request *models.IngestionRequest, reqs *models.ExtractedRequirements) dto.Event {
	tracingData := tracing.ExtractTextMapCarrier(span.Context())

	data := dto.RequestCompleted{
		RequestID:     request.ID,
		MessageID:     request.MessageID,
		FromAddress:   request.FromAddress,
		Subject:       request.Subject,
		ReceivedAt:    request.ReceivedAt,
		Confidence:    utils.GetOrDefault(request.Confidence, 0),
		PolicyVersion: request.ConfidencePolicy,
		Requirements:  []models.RequirementItem{},
	}
	if reqs != nil && reqs.Items != nil {
		data.Requirements = reqs.Items
	}

	return dto.Event{
		Event: dto.EventDetails{
			Id:         utils.GenerateNanoIDWithPrefix("event", 21),
			EntityId:   request.ID,
			EntityType: enum.INGESTION_REQUEST,
			EventType:  dto.EventTypeRequestCompleted,
			Data:       data,
		},
		Metadata: dto.EventMetadata{
			UberTraceId: tracingData["uber-trace-id"],
			AppSource:   appSourceRFQStack,
			Operator:    utils.GetOperatorFromContext(ctx),
			Timestamp:   utils.Now().Format(time.RFC3339),
		},
	}
}
