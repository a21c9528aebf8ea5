package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"
	"golang.org/x/time/rate"

	"github.com/customeros/rfqstack/dto"
	"github.com/customeros/rfqstack/interfaces"
	ierrors "github.com/customeros/rfqstack/internal/errors"
	"github.com/customeros/rfqstack/internal/logger"
	"github.com/customeros/rfqstack/internal/models"
	"github.com/customeros/rfqstack/internal/tracing"
	"github.com/customeros/rfqstack/internal/utils"
)

const maxErrorBodyChars = 500

const systemPrompt = `You extract purchase requirements from request-for-quotation emails and documents.
Return a JSON object {"items": [...]} and nothing else. Each item has:
"description" (string, required), "quantity" (number, required), "unit" (string or null),
"unit_price" (number or null), "specifications" (string or null), "category" (string or null).
Use null for anything the text does not state. Do not invent items. Return {"items": []} when
the text contains no requested items.`

type Config struct {
	Url           string
	ApiKey        string
	Model         string
	Timeout       time.Duration
	MaxInputChars int
	RatePerMinute float64
}

type requirementExtractor struct {
	cfg     Config
	client  *http.Client
	limiter *rate.Limiter
	log     logger.Logger
}

func NewRequirementExtractor(cfg Config, log logger.Logger) interfaces.RequirementExtractor {
	limit := rate.Inf
	if cfg.RatePerMinute > 0 {
		limit = rate.Limit(cfg.RatePerMinute / 60)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 90 * time.Second
	}
	return &requirementExtractor{
		cfg:     cfg,
		client:  &http.Client{},
		limiter: rate.NewLimiter(limit, 1),
		log:     log,
	}
}

func (s *requirementExtractor) Extract(ctx context.Context, text string) (*models.ExtractedRequirements, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "requirementExtractor.Extract")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)

	if strings.TrimSpace(text) == "" {
		span.LogKV("result", "blank input")
		return &models.ExtractedRequirements{Items: []models.RequirementItem{}}, nil
	}

	if truncated, ok := utils.TruncateRunes(text, s.cfg.MaxInputChars); ok {
		s.log.Warnf("Extraction input truncated to %d characters", s.cfg.MaxInputChars)
		span.LogKV("truncated", true)
		text = truncated
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	payload, err := json.Marshal(dto.ChatCompletionRequest{
		Model: s.cfg.Model,
		Messages: []dto.ChatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: text},
		},
		Temperature:    0,
		ResponseFormat: &dto.ChatResponseFormat{Type: "json_object"},
	})
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, errors.Wrap(err, "failed to marshal payload")
	}

	callCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, strings.TrimRight(s.cfg.Url, "/")+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, errors.Wrap(err, "failed to create request")
	}
	req.Header.Set("Content-Type", "application/json")
	if s.cfg.ApiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.cfg.ApiKey)
	}
	tracing.InjectSpanContextIntoHTTPRequest(req, span)

	resp, err := s.client.Do(req)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, classifyCallError(ctx, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, classifyCallError(ctx, err)
	}

	if err := classifyStatus(resp, body); err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}

	reqs, err := parseCompletion(body)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	span.LogKV("items", len(reqs.Items))
	return reqs, nil
}

// classifyCallError separates our own cancellation from call timeouts and network failures.
func classifyCallError(parent context.Context, err error) error {
	if parent.Err() != nil {
		return parent.Err()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &ierrors.TransientError{Reason: "timeout", Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &ierrors.TransientError{Reason: "timeout", Err: err}
	}
	return &ierrors.TransientError{Reason: "network error", Err: err}
}

func classifyStatus(resp *http.Response, body []byte) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	snippet, _ := utils.TruncateRunes(strings.TrimSpace(string(body)), maxErrorBodyChars)

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return &ierrors.TransientError{
			Reason:     "rate limited",
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
			Err:        fmt.Errorf("status %d: %s", resp.StatusCode, snippet),
		}
	case resp.StatusCode >= 500:
		return &ierrors.TransientError{
			Reason: fmt.Sprintf("server error %d", resp.StatusCode),
			Err:    errors.New(snippet),
		}
	default:
		return &ierrors.ServiceError{StatusCode: resp.StatusCode, Body: snippet}
	}
}

func parseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(strings.TrimSpace(value)); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}
