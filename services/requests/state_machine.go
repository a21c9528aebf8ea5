package requests

import (
	"context"
	"fmt"
	"time"

	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"
	"gorm.io/gorm"

	"github.com/customeros/rfqstack/interfaces"
	"github.com/customeros/rfqstack/internal/enum"
	"github.com/customeros/rfqstack/internal/logger"
	"github.com/customeros/rfqstack/internal/models"
	"github.com/customeros/rfqstack/internal/tracing"
	"github.com/customeros/rfqstack/internal/utils"
)

var (
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrStatusConflict    = errors.New("request status changed concurrently")
)

var transitions = map[enum.RequestStatus][]enum.RequestStatus{
	enum.RequestStatusPending:    {enum.RequestStatusProcessing},
	enum.RequestStatusProcessing: {enum.RequestStatusCompleted, enum.RequestStatusFailed},
	enum.RequestStatusCompleted:  {enum.RequestStatusPending},
	enum.RequestStatusFailed:     {enum.RequestStatusPending},
}

func CanTransition(from, to enum.RequestStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Next lists the statuses directly reachable from the given one.
func Next(from enum.RequestStatus) []enum.RequestStatus {
	return append([]enum.RequestStatus(nil), transitions[from]...)
}

// resetColumns clears every pipeline outcome when a request goes back to pending.
func resetColumns() map[string]interface{} {
	return map[string]interface{}{
		"error_message":         nil,
		"requirements":          nil,
		"confidence":            nil,
		"confidence_policy":     "",
		"completed_at":          nil,
		"handed_off_at":         nil,
		"processing_started_at": nil,
	}
}

type StateMachine struct {
	repo interfaces.IngestionRequestRepository
	log  logger.Logger
}

func NewStateMachine(repo interfaces.IngestionRequestRepository, log logger.Logger) *StateMachine {
	return &StateMachine{repo: repo, log: log}
}

// Claim moves a pending request to processing. Exactly one concurrent caller
// gets true; the others observe the request as already claimed.
func (m *StateMachine) Claim(ctx context.Context, id string) (bool, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "StateMachine.Claim")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagEntity(span, id)

	claimed, err := m.repo.TransitionStatus(ctx, id,
		[]enum.RequestStatus{enum.RequestStatusPending},
		enum.RequestStatusProcessing,
		map[string]interface{}{
			"processing_started_at": utils.Now(),
			"attempts":              gorm.Expr("attempts + 1"),
		})
	if err != nil {
		tracing.TraceErr(span, err)
		return false, err
	}
	span.LogKV("claimed", claimed)
	return claimed, nil
}

func (m *StateMachine) Complete(ctx context.Context, id string, reqs *models.ExtractedRequirements, confidence float64, policyVersion string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "StateMachine.Complete")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagEntity(span, id)
	span.LogKV("confidence", confidence)

	if reqs == nil {
		reqs = &models.ExtractedRequirements{Items: []models.RequirementItem{}}
	}
	payload, err := models.EncodeRequirements(reqs)
	if err != nil {
		tracing.TraceErr(span, err)
		return errors.Wrap(err, "failed to encode requirements")
	}

	ok, err := m.repo.TransitionStatus(ctx, id,
		[]enum.RequestStatus{enum.RequestStatusProcessing},
		enum.RequestStatusCompleted,
		map[string]interface{}{
			"requirements":      payload,
			"confidence":        confidence,
			"confidence_policy": policyVersion,
			"error_message":     nil,
			"completed_at":      utils.Now(),
		})
	return m.checkTransition(span, id, ok, err)
}

// Fail records errMsg and any partial requirements extracted before the failure.
func (m *StateMachine) Fail(ctx context.Context, id, errMsg string, partial *models.ExtractedRequirements) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "StateMachine.Fail")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagEntity(span, id)
	span.LogKV("error", errMsg)

	updates := map[string]interface{}{
		"error_message": errMsg,
		"completed_at":  utils.Now(),
	}
	if partial != nil {
		payload, err := models.EncodeRequirements(partial)
		if err == nil {
			updates["requirements"] = payload
		}
	}

	ok, err := m.repo.TransitionStatus(ctx, id,
		[]enum.RequestStatus{enum.RequestStatusProcessing},
		enum.RequestStatusFailed,
		updates)
	return m.checkTransition(span, id, ok, err)
}

// Reprocess sends a terminal request back to pending and clears its previous outcome.
func (m *StateMachine) Reprocess(ctx context.Context, id string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "StateMachine.Reprocess")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagEntity(span, id)

	request, err := m.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if !CanTransition(request.Status, enum.RequestStatusPending) {
		return errors.Wrapf(ErrInvalidTransition, "cannot reprocess a %s request", request.Status)
	}

	ok, err := m.repo.TransitionStatus(ctx, id,
		[]enum.RequestStatus{enum.RequestStatusCompleted, enum.RequestStatusFailed},
		enum.RequestStatusPending,
		resetColumns())
	if err := m.checkTransition(span, id, ok, err); err != nil {
		return err
	}
	return m.repo.AppendNotes(ctx, id, fmt.Sprintf("[%s] reprocess requested (was %s)", utils.Now().Format(time.RFC3339), request.Status))
}

// SetStatus is the operator override. Operators may requeue a request or mark it failed.
// Processing and completed are reached only through the pipeline.
func (m *StateMachine) SetStatus(ctx context.Context, id string, to enum.RequestStatus, notes string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "StateMachine.SetStatus")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagEntity(span, id)
	span.LogKV("to", to.String())

	if !to.IsValid() || to == enum.RequestStatusProcessing || to == enum.RequestStatusCompleted {
		return errors.Wrapf(ErrInvalidTransition, "status %q cannot be set manually", to)
	}

	request, err := m.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if !CanTransition(request.Status, to) {
		return errors.Wrapf(ErrInvalidTransition, "%s -> %s", request.Status, to)
	}

	var updates map[string]interface{}
	switch to {
	case enum.RequestStatusPending:
		updates = resetColumns()
	case enum.RequestStatusFailed:
		msg := notes
		if msg == "" {
			msg = "marked failed by operator"
		}
		updates = map[string]interface{}{"error_message": msg, "completed_at": utils.Now()}
	}

	ok, err := m.repo.TransitionStatus(ctx, id, []enum.RequestStatus{request.Status}, to, updates)
	if err := m.checkTransition(span, id, ok, err); err != nil {
		return err
	}

	operator := utils.GetOperatorFromContext(ctx)
	if operator == "" {
		operator = "operator"
	}
	note := fmt.Sprintf("[%s] %s set status %s -> %s", utils.Now().Format(time.RFC3339), operator, request.Status, to)
	if notes != "" {
		note += ": " + notes
	}
	m.log.Infof("Request %s moved %s -> %s by %s", id, request.Status, to, operator)
	return m.repo.AppendNotes(ctx, id, note)
}

// FailStale marks requests stuck in processing since before the cutoff as failed.
func (m *StateMachine) FailStale(ctx context.Context, after time.Duration, limit int) (int, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "StateMachine.FailStale")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)

	stale, err := m.repo.FindStaleProcessing(ctx, utils.Now().Add(-after), limit)
	if err != nil {
		tracing.TraceErr(span, err)
		return 0, err
	}

	failed := 0
	msg := fmt.Sprintf("abandoned: processing exceeded %s", after)
	for _, request := range stale {
		if err := m.Fail(ctx, request.ID, msg, nil); err != nil {
			if errors.Is(err, ErrStatusConflict) {
				continue
			}
			return failed, err
		}
		m.log.Warnf("Request %s abandoned after %s in processing", request.ID, after)
		failed++
	}
	span.LogKV("failed", failed)
	return failed, nil
}

func (m *StateMachine) checkTransition(span opentracing.Span, id string, ok bool, err error) error {
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	if !ok {
		err = errors.Wrapf(ErrStatusConflict, "request %s", id)
		tracing.TraceErr(span, err)
		return err
	}
	return nil
}
