package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	ierrors "github.com/customeros/rfqstack/internal/errors"
	"github.com/customeros/rfqstack/internal/metrics"
	"github.com/customeros/rfqstack/internal/models"
	"github.com/customeros/rfqstack/internal/tracing"
	"github.com/customeros/rfqstack/internal/utils"
	"github.com/customeros/rfqstack/services/ai"
)

// runPipeline claims the request and drives it to a terminal state. A cancelled context
// leaves the request in processing.
func (o *Orchestrator) runPipeline(ctx context.Context, requestID string) Result {
	span, ctx := opentracing.StartSpanFromContext(ctx, "Orchestrator.runPipeline")
	defer span.Finish()
	tracing.TagComponentWorker(span)
	tracing.TagEntity(span, requestID)

	claimed, err := o.deps.StateMachine.Claim(ctx, requestID)
	if err != nil {
		tracing.TraceErr(span, err)
		if ctx.Err() != nil {
			return Result{RequestID: requestID, Status: OutcomeCancelled, Err: ctx.Err()}
		}
		return Result{RequestID: requestID, Status: OutcomeError, Err: err}
	}
	if !claimed {
		return Result{RequestID: requestID, Status: OutcomeSkipped}
	}

	request, err := o.deps.Requests.GetByID(ctx, requestID)
	if err != nil {
		return o.fail(ctx, span, requestID, err, nil)
	}

	reqs, err := o.runStages(ctx, request)
	if ctx.Err() != nil {
		o.log.Warnf("Pipeline of request %s cancelled, leaving it in processing", requestID)
		return Result{RequestID: requestID, Status: OutcomeCancelled, Err: ctx.Err()}
	}
	if err != nil {
		return o.fail(ctx, span, requestID, err, reqs)
	}

	score := o.deps.Scorer.Score(reqs)
	if err := o.deps.StateMachine.Complete(ctx, requestID, reqs, score, o.deps.Scorer.PolicyVersion()); err != nil {
		tracing.TraceErr(span, err)
		if ctx.Err() != nil {
			return Result{RequestID: requestID, Status: OutcomeCancelled, Err: ctx.Err()}
		}
		return Result{RequestID: requestID, Status: OutcomeError, Err: err}
	}
	span.LogKV("confidence", score, "items", len(reqs.Items))

	request.Confidence = &score
	request.ConfidencePolicy = o.deps.Scorer.PolicyVersion()
	o.handoff(ctx, request, reqs)

	return Result{RequestID: requestID, Status: OutcomeCompleted, Confidence: score}
}

func (o *Orchestrator) fail(ctx context.Context, span opentracing.Span, requestID string, cause error, partial *models.ExtractedRequirements) Result {
	tracing.TraceErr(span, cause)
	if err := o.deps.StateMachine.Fail(ctx, requestID, cause.Error(), partial); err != nil {
		o.log.Errorf("Failed to mark request %s failed: %v", requestID, err)
		return Result{RequestID: requestID, Status: OutcomeError, Err: err}
	}
	return Result{RequestID: requestID, Status: OutcomeFailed, Err: cause}
}

// runStages turns the stored message and attachments into extracted requirements.
func (o *Orchestrator) runStages(ctx context.Context, request *models.IngestionRequest) (*models.ExtractedRequirements, error) {
	attachments, err := o.deps.Attachments.ListByRequest(ctx, request.ID)
	if err != nil {
		return nil, err
	}

	var sections []string
	if body := strings.TrimSpace(request.BodyText); body != "" {
		sections = append(sections, body)
	}

	for i := range attachments {
		attachment := &attachments[i]
		text, _, err := ai.Retry(ctx, o.cfg.Retry, "read", func(ctx context.Context) (string, error) {
			return o.deps.TextExtractor.Extract(ctx, attachment)
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			msg := err.Error()
			if markErr := o.deps.Attachments.MarkExtracted(ctx, attachment.ID, &msg); markErr != nil {
				o.log.Errorf("Failed to record extraction error of attachment %s: %v", attachment.ID, markErr)
			}
			return nil, errors.Wrapf(err, "attachment %s", attachment.Filename)
		}
		if err := o.deps.Attachments.MarkExtracted(ctx, attachment.ID, nil); err != nil {
			return nil, err
		}
		if text = strings.TrimSpace(text); text != "" {
			sections = append(sections, fmt.Sprintf("=== Attachment: %s ===\n%s", attachment.Filename, text))
		}
	}

	rejected := request.AttachmentCount - len(attachments)
	if rejected > 0 && len(attachments) == 0 && utf8.RuneCountInString(strings.TrimSpace(request.BodyText)) < o.cfg.MinBodyChars {
		return nil, errors.Wrapf(ierrors.ErrNoUsableContent, "%d attachment(s) rejected and the body has fewer than %d characters", rejected, o.cfg.MinBodyChars)
	}

	input := strings.Join(sections, "\n\n")
	if o.cfg.MaxInputChars > 0 && utf8.RuneCountInString(input) > o.cfg.MaxInputChars {
		o.note(ctx, request.ID, fmt.Sprintf("extraction input truncated from %d to %d characters", utf8.RuneCountInString(input), o.cfg.MaxInputChars))
	}

	reqs, attempts, err := ai.ExtractWithRetry(ctx, o.deps.RequirementExtractor, input, o.cfg.Retry)
	if err != nil {
		metrics.ExtractionAttempts("failure", attempts)
		return nil, err
	}
	metrics.ExtractionAttempts("success", attempts)
	if attempts > 1 {
		o.note(ctx, request.ID, fmt.Sprintf("extraction succeeded after %d attempts", attempts))
	}
	if reqs == nil {
		reqs = &models.ExtractedRequirements{}
	}
	if reqs.Items == nil {
		reqs.Items = []models.RequirementItem{}
	}
	return reqs, nil
}

// handoff publishes a completed request. A failed publish leaves handed_off_at empty for the
// retry job and never changes the request status.
func (o *Orchestrator) handoff(ctx context.Context, request *models.IngestionRequest, reqs *models.ExtractedRequirements) bool {
	if o.deps.Publisher == nil {
		return false
	}
	if err := o.deps.Publisher.PublishRequestCompleted(ctx, request, reqs); err != nil {
		o.log.Warnf("Handoff of request %s failed: %v", request.ID, err)
		o.note(ctx, request.ID, fmt.Sprintf("handoff failed: %v", err))
		return false
	}
	if err := o.deps.Requests.MarkHandedOff(ctx, request.ID, utils.Now()); err != nil {
		o.log.Errorf("Failed to record handoff of request %s: %v", request.ID, err)
		return false
	}
	return true
}

// RetryHandoffs republishes completed requests whose handoff has not succeeded yet.
func (o *Orchestrator) RetryHandoffs(ctx context.Context, limit int) (int, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "Orchestrator.RetryHandoffs")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)

	pending, err := o.deps.Requests.FindPendingHandoff(ctx, limit)
	if err != nil {
		tracing.TraceErr(span, err)
		return 0, err
	}

	published := 0
	for i := range pending {
		request := &pending[i]
		reqs, err := request.GetRequirements()
		if err != nil {
			o.log.Errorf("Stored requirements of request %s are unreadable: %v", request.ID, err)
			continue
		}
		if o.handoff(ctx, request, reqs) {
			published++
		}
	}
	span.LogKV("published", published)
	return published, nil
}

func (o *Orchestrator) note(ctx context.Context, requestID, note string) {
	note = fmt.Sprintf("[%s] %s", utils.Now().Format(time.RFC3339), note)
	if err := o.deps.Requests.AppendNotes(ctx, requestID, note); err != nil {
		o.log.Errorf("Failed to append note to request %s: %v", requestID, err)
	}
}
