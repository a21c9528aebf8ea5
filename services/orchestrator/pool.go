package orchestrator

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/pkg/errors"

	"github.com/customeros/rfqstack/internal/enum"
	"github.com/customeros/rfqstack/internal/metrics"
	"github.com/customeros/rfqstack/services/requests"
)

type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeFailed    Outcome = "failed"
	OutcomeCancelled Outcome = "cancelled"
	OutcomeSkipped   Outcome = "skipped"
	OutcomeError     Outcome = "error"
)

var ErrShuttingDown = errors.New("orchestrator is shutting down")

// Result is the terminal report of one pipeline task.
type Result struct {
	RequestID  string
	Status     Outcome
	Confidence float64
	Duration   time.Duration
	Err        error
}

// dispatch starts one pipeline task and returns its result channel. The task waits for a
// free worker slot on its own goroutine, so dispatch never blocks the caller.
func (o *Orchestrator) dispatch(ctx context.Context, requestID string) <-chan Result {
	ch := make(chan Result, 1)

	o.mu.Lock()
	if o.stopped {
		o.mu.Unlock()
		ch <- Result{RequestID: requestID, Status: OutcomeCancelled, Err: ErrShuttingDown}
		close(ch)
		return ch
	}
	o.wg.Add(1)
	o.mu.Unlock()

	go func() {
		defer o.wg.Done()
		defer close(ch)

		select {
		case o.sem <- struct{}{}:
		case <-ctx.Done():
			ch <- Result{RequestID: requestID, Status: OutcomeCancelled, Err: ctx.Err()}
			return
		}
		defer func() { <-o.sem }()

		ch <- o.runTask(ctx, requestID)
	}()
	return ch
}

// dispatchAsync runs a task in the background and forwards its result to the collector.
func (o *Orchestrator) dispatchAsync(requestID string) {
	ch := o.dispatch(o.workerCtx, requestID)

	o.mu.Lock()
	if o.stopped {
		o.mu.Unlock()
		for result := range ch {
			o.record(result)
		}
		return
	}
	o.wg.Add(1)
	o.mu.Unlock()

	go func() {
		defer o.wg.Done()
		for result := range ch {
			o.results <- result
		}
	}()
}

// runTask runs the pipeline and converts panics into a failed request.
func (o *Orchestrator) runTask(ctx context.Context, requestID string) (result Result) {
	start := time.Now()
	o.inFlight.Add(1)
	metrics.PipelineStarted()
	defer func() {
		o.inFlight.Add(-1)
		metrics.PipelineDone()

		if rec := recover(); rec != nil {
			err := fmt.Errorf("panic: %v", rec)
			o.log.Errorf("Recovered from panic in pipeline of request %s: %v\n%s", requestID, rec, debug.Stack())
			result = Result{RequestID: requestID, Status: OutcomeFailed, Err: err}
			if ctx.Err() != nil {
				result.Status = OutcomeCancelled
			} else if failErr := o.deps.StateMachine.Fail(ctx, requestID, err.Error(), nil); failErr != nil && !errors.Is(failErr, requests.ErrStatusConflict) {
				o.log.Errorf("Failed to record panic of request %s: %v", requestID, failErr)
			}
		}
		result.Duration = time.Since(start)
	}()

	return o.runPipeline(ctx, requestID)
}

// Process runs the pipeline for one request and waits for its outcome. A failed request is
// first sent back to pending.
func (o *Orchestrator) Process(ctx context.Context, requestID string) (Result, error) {
	if err := o.prepare(ctx, requestID); err != nil {
		return Result{RequestID: requestID, Status: OutcomeError, Err: err}, err
	}

	taskCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(o.workerCtx, cancel)
	defer stop()

	result := <-o.dispatch(taskCtx, requestID)
	o.record(result)
	return result, result.Err
}

// Trigger is the asynchronous form of Process.
func (o *Orchestrator) Trigger(ctx context.Context, requestID string) error {
	if err := o.prepare(ctx, requestID); err != nil {
		return err
	}
	o.dispatchAsync(requestID)
	return nil
}

// Reprocess resets a completed or failed request and schedules it.
func (o *Orchestrator) Reprocess(ctx context.Context, requestID string) error {
	if err := o.deps.StateMachine.Reprocess(ctx, requestID); err != nil {
		return err
	}
	o.dispatchAsync(requestID)
	return nil
}

func (o *Orchestrator) prepare(ctx context.Context, requestID string) error {
	request, err := o.deps.Requests.GetByID(ctx, requestID)
	if err != nil {
		return err
	}
	switch request.Status {
	case enum.RequestStatusPending:
		return nil
	case enum.RequestStatusFailed:
		return o.deps.StateMachine.Reprocess(ctx, requestID)
	default:
		return errors.Wrapf(requests.ErrInvalidTransition, "request %s is %s", requestID, request.Status)
	}
}
