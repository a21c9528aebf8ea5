package orchestrator

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/customeros/rfqstack/interfaces"
	"github.com/customeros/rfqstack/internal/logger"
	"github.com/customeros/rfqstack/internal/metrics"
	"github.com/customeros/rfqstack/services/ai"
	"github.com/customeros/rfqstack/services/requests"
)

type Config struct {
	// MailboxID keys the persisted high-water marks, normally the IMAP username.
	MailboxID             string
	Folders               []string
	PollInterval          time.Duration
	MaxConcurrentRequests int
	MinBodyChars          int
	MaxInputChars         int
	Retry                 ai.RetryPolicy
	InitialBackoff        time.Duration
	MaxBackoff            time.Duration
	ResumeLimit           int
}

func DefaultConfig() Config {
	return Config{
		Folders:               []string{"INBOX"},
		PollInterval:          5 * time.Minute,
		MaxConcurrentRequests: 4,
		MinBodyChars:          20,
		MaxInputChars:         60000,
		Retry:                 ai.DefaultRetryPolicy(),
		InitialBackoff:        time.Second,
		MaxBackoff:            2 * time.Minute,
		ResumeLimit:           200,
	}
}

// Dependencies are the collaborators one orchestrator drives.
type Dependencies struct {
	Transport            interfaces.MailTransport
	Credentials          interfaces.MailCredentials
	Endpoint             interfaces.MailEndpoint
	Requests             interfaces.IngestionRequestRepository
	Attachments          interfaces.AttachmentRepository
	SyncStates           interfaces.MailboxSyncRepository
	Store                interfaces.AttachmentStore
	StateMachine         *requests.StateMachine
	Classifier           interfaces.RFQClassifier
	TextExtractor        interfaces.TextExtractor
	RequirementExtractor interfaces.RequirementExtractor
	Scorer               interfaces.ConfidenceScorer
	Publisher            interfaces.HandoffPublisher
}

// Orchestrator owns the poll loop and the bounded worker pool that runs request pipelines.
type Orchestrator struct {
	cfg  Config
	deps Dependencies
	log  logger.Logger

	sem           chan struct{}
	wg            sync.WaitGroup
	results       chan Result
	collectorDone chan struct{}
	workerCtx     context.Context
	cancelWorkers context.CancelFunc
	inFlight      atomic.Int32

	mu      sync.RWMutex
	stopped bool
	status  interfaces.PollerStatus
	// folders whose cached high-water mark the poll goroutine must drop
	resets map[string]struct{}
}

func New(cfg Config, deps Dependencies, log logger.Logger) *Orchestrator {
	defaults := DefaultConfig()
	if len(cfg.Folders) == 0 {
		cfg.Folders = defaults.Folders
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaults.PollInterval
	}
	if cfg.MaxConcurrentRequests <= 0 {
		cfg.MaxConcurrentRequests = defaults.MaxConcurrentRequests
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = defaults.InitialBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = defaults.MaxBackoff
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = defaults.Retry
	}
	if cfg.ResumeLimit <= 0 {
		cfg.ResumeLimit = defaults.ResumeLimit
	}
	if cfg.MailboxID == "" {
		cfg.MailboxID = deps.Credentials.Username
	}

	workerCtx, cancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		cfg:           cfg,
		deps:          deps,
		log:           log,
		sem:           make(chan struct{}, cfg.MaxConcurrentRequests),
		results:       make(chan Result, cfg.MaxConcurrentRequests),
		collectorDone: make(chan struct{}),
		workerCtx:     workerCtx,
		cancelWorkers: cancel,
		status: interfaces.PollerStatus{
			Folders:      map[string]interfaces.FolderStats{},
			PollInterval: cfg.PollInterval.String(),
		},
		resets: map[string]struct{}{},
	}
	go o.collect()
	return o
}

// Status is a snapshot of the poller for the control API.
func (o *Orchestrator) Status() interfaces.PollerStatus {
	o.mu.RLock()
	defer o.mu.RUnlock()

	snapshot := o.status
	snapshot.InFlight = int(o.inFlight.Load())
	snapshot.Folders = make(map[string]interfaces.FolderStats, len(o.status.Folders))
	for folder, stats := range o.status.Folders {
		snapshot.Folders[folder] = stats
	}
	return snapshot
}

func (o *Orchestrator) updateStatus(fn func(status *interfaces.PollerStatus)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	fn(&o.status)
}

// Shutdown stops accepting work and waits for in-flight pipelines. When ctx expires first the
// remaining pipelines are cancelled and left in processing for the stale sweeper.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	if o.stopped {
		o.mu.Unlock()
		return nil
	}
	o.stopped = true
	o.mu.Unlock()

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		o.log.Warnf("Shutdown deadline reached with %d pipelines in flight, cancelling them", o.inFlight.Load())
		o.cancelWorkers()
		<-done
		err = ctx.Err()
	}
	o.cancelWorkers()

	close(o.results)
	<-o.collectorDone
	return err
}

// collect drains task results reported by asynchronously dispatched pipelines.
func (o *Orchestrator) collect() {
	defer close(o.collectorDone)
	for result := range o.results {
		o.record(result)
	}
}

func (o *Orchestrator) record(result Result) {
	metrics.RequestFinished(string(result.Status), result.Duration)
	switch result.Status {
	case OutcomeCompleted:
		metrics.ObserveConfidence(result.Confidence)
		o.log.Infof("Request %s completed with confidence %.2f in %s", result.RequestID, result.Confidence, result.Duration)
	case OutcomeFailed:
		o.log.Warnf("Request %s failed: %v", result.RequestID, result.Err)
	case OutcomeCancelled:
		o.log.Warnf("Request %s cancelled, left in processing", result.RequestID)
	case OutcomeSkipped:
		o.log.Debugf("Request %s already claimed elsewhere", result.RequestID)
	case OutcomeError:
		o.log.Errorf("Request %s could not be processed: %v", result.RequestID, result.Err)
	}
}
