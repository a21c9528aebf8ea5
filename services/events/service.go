package events

import (
	"context"
	"strings"

	"github.com/pkg/errors"

	"github.com/customeros/rfqstack/config"
	"github.com/customeros/rfqstack/interfaces"
	"github.com/customeros/rfqstack/internal/enum"
	"github.com/customeros/rfqstack/internal/logger"
	"github.com/customeros/rfqstack/internal/models"
)

// NewHandoffPublisher builds the publisher selected by HANDOFF_BACKEND.
func NewHandoffPublisher(cfg *config.HandoffConfig, log logger.Logger) (interfaces.HandoffPublisher, error) {
	switch enum.HandoffBackend(strings.ToLower(strings.TrimSpace(cfg.Backend))) {
	case enum.HandoffRabbitMQ:
		if cfg.RabbitMQURL == "" {
			return nil, errors.New("RABBITMQ_URL is required for the rabbitmq handoff backend")
		}
		return NewRabbitMQPublisher(cfg.RabbitMQURL, log, DefaultPublisherConfig())
	case enum.HandoffRedis:
		return NewRedisPublisher(cfg.RedisURL, cfg.RedisQueue, log)
	case enum.HandoffNone, "":
		log.Warn("Handoff disabled, completed requests are only available through the API")
		return NewNoopPublisher(), nil
	default:
		return nil, errors.Errorf("unknown handoff backend %q", cfg.Backend)
	}
}

type noopPublisher struct{}

// NewNoopPublisher accepts every event and delivers none. Completed requests stay readable
// through the control API.
func NewNoopPublisher() interfaces.HandoffPublisher {
	return noopPublisher{}
}

func (noopPublisher) PublishRequestCompleted(context.Context, *models.IngestionRequest, *models.ExtractedRequirements) error {
	return nil
}

func (noopPublisher) Close() error { return nil }
