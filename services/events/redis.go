package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/customeros/rfqstack/internal/logger"
	"github.com/customeros/rfqstack/internal/models"
	"github.com/customeros/rfqstack/internal/tracing"
)

// listPusher is the slice of the redis client the publisher needs.
type listPusher interface {
	LPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	Ping(ctx context.Context) *redis.StatusCmd
	Close() error
}

// RedisPublisher pushes completed-request events onto a Redis list. Consumers pop from the
// other end (BRPOP), which keeps delivery in completion order.
type RedisPublisher struct {
	client    listPusher
	queueName string
	logger    logger.Logger
}

func NewRedisPublisher(redisURL, queueName string, log logger.Logger) (*RedisPublisher, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, errors.Wrap(err, "invalid redis url")
	}
	publisher := newRedisPublisher(redis.NewClient(opts), queueName, log)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := publisher.Ping(ctx); err != nil {
		_ = publisher.Close()
		return nil, errors.Wrap(err, "redis ping")
	}
	return publisher, nil
}

func newRedisPublisher(client listPusher, queueName string, log logger.Logger) *RedisPublisher {
	return &RedisPublisher{client: client, queueName: queueName, logger: log}
}

func (p *RedisPublisher) PublishRequestCompleted(ctx context.Context, request *models.IngestionRequest, reqs *models.ExtractedRequirements) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "RedisPublisher.PublishRequestCompleted")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagEntity(span, request.ID)

	event := newRequestCompletedEvent(ctx, span, request, reqs)
	body, err := json.Marshal(event)
	if err != nil {
		tracing.TraceErr(span, err)
		return errors.Wrap(err, "marshal request completed event")
	}

	if err := p.client.LPush(ctx, p.queueName, string(body)).Err(); err != nil {
		tracing.TraceErr(span, err)
		return errors.Wrap(err, "redis LPUSH")
	}

	p.logger.Infof("Published completed request %s to redis queue %s", request.ID, p.queueName)
	return nil
}

func (p *RedisPublisher) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

func (p *RedisPublisher) Close() error {
	return p.client.Close()
}
