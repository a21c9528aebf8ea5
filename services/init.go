package services

import (
	"github.com/pkg/errors"

	"github.com/customeros/rfqstack/config"
	"github.com/customeros/rfqstack/interfaces"
	"github.com/customeros/rfqstack/internal/logger"
	"github.com/customeros/rfqstack/internal/repository"
	"github.com/customeros/rfqstack/services/ai"
	"github.com/customeros/rfqstack/services/classifier"
	"github.com/customeros/rfqstack/services/confidence"
	"github.com/customeros/rfqstack/services/events"
	"github.com/customeros/rfqstack/services/extractor"
	"github.com/customeros/rfqstack/services/imap"
	"github.com/customeros/rfqstack/services/orchestrator"
	"github.com/customeros/rfqstack/services/requests"
	"github.com/customeros/rfqstack/services/storage"
)

type Services struct {
	Repositories         *repository.Repositories
	Storage              interfaces.StorageService
	AttachmentStore      interfaces.AttachmentStore
	StateMachine         *requests.StateMachine
	Classifier           interfaces.RFQClassifier
	TextExtractor        interfaces.TextExtractor
	RequirementExtractor interfaces.RequirementExtractor
	Scorer               interfaces.ConfidenceScorer
	Publisher            interfaces.HandoffPublisher
	Orchestrator         *orchestrator.Orchestrator
}

func InitServices(cfg *config.Config, repos *repository.Repositories, log logger.Logger) (*Services, error) {
	storageService, err := storage.NewStorageServiceFromConfig(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "attachment storage")
	}
	attachmentStore := storage.NewAttachmentStore(storageService, repos.AttachmentRepository, storage.AttachmentStoreConfig{
		MaxBytes:     cfg.AttachmentConfig.MaxBytes,
		AllowedTypes: cfg.AttachmentConfig.AllowedTypes,
	})

	publisher, err := events.NewHandoffPublisher(cfg.HandoffConfig, log)
	if err != nil {
		return nil, errors.Wrap(err, "handoff publisher")
	}

	policy := cfg.Policy
	if policy == nil {
		policy = &config.Policy{}
	}

	svcs := &Services{
		Repositories:    repos,
		Storage:         storageService,
		AttachmentStore: attachmentStore,
		StateMachine:    requests.NewStateMachine(repos.IngestionRequestRepository, log),
		Classifier:      classifier.NewRFQClassifier(policy.Keywords),
		TextExtractor: extractor.NewTextExtractor(attachmentStore, extractor.Config{
			MaxBytes: cfg.ExtractorConfig.MaxBytes,
			MaxChars: cfg.ExtractorConfig.MaxChars,
		}, log),
		RequirementExtractor: ai.NewRequirementExtractor(ai.Config{
			Url:           cfg.AIConfig.Url,
			ApiKey:        cfg.AIConfig.ApiKey,
			Model:         cfg.AIConfig.Model,
			Timeout:       cfg.AIConfig.Timeout,
			MaxInputChars: cfg.AIConfig.MaxInputChar,
			RatePerMinute: cfg.AIConfig.RatePerMin,
		}, log),
		Scorer:    confidence.NewScorer(confidence.PolicyFromConfig(policy.Confidence)),
		Publisher: publisher,
	}

	svcs.Orchestrator = orchestrator.New(orchestratorConfig(cfg), orchestrator.Dependencies{
		Transport: imap.NewIMAPTransport(imap.TransportConfig{SkipVerifyHosts: cfg.IMAPConfig.SkipVerifyHost}, log),
		Credentials: interfaces.MailCredentials{
			Username: cfg.IMAPConfig.Username,
			Password: cfg.IMAPConfig.Password,
		},
		Endpoint:             imap.EndpointFromConfig(cfg.IMAPConfig),
		Requests:             repos.IngestionRequestRepository,
		Attachments:          repos.AttachmentRepository,
		SyncStates:           repos.MailboxSyncRepository,
		Store:                attachmentStore,
		StateMachine:         svcs.StateMachine,
		Classifier:           svcs.Classifier,
		TextExtractor:        svcs.TextExtractor,
		RequirementExtractor: svcs.RequirementExtractor,
		Scorer:               svcs.Scorer,
		Publisher:            publisher,
	}, log)

	return svcs, nil
}

func orchestratorConfig(cfg *config.Config) orchestrator.Config {
	oc := orchestrator.DefaultConfig()
	oc.MailboxID = cfg.IMAPConfig.Username
	oc.Folders = cfg.IMAPConfig.Folders
	oc.PollInterval = cfg.PollerConfig.PollInterval
	oc.MaxConcurrentRequests = cfg.PollerConfig.MaxConcurrentRequests
	oc.MinBodyChars = cfg.PollerConfig.MinBodyChars
	oc.MaxInputChars = cfg.AIConfig.MaxInputChar
	oc.Retry = ai.RetryPolicy{
		MaxAttempts: cfg.AIConfig.MaxAttempts,
		Backoff:     cfg.AIConfig.RetryBackoff,
		MaxBackoff:  ai.DefaultRetryPolicy().MaxBackoff,
	}
	return oc
}

// Close releases the handoff connection. The orchestrator is shut down separately so
// in-flight pipelines can still publish.
func (s *Services) Close() error {
	if s.Publisher == nil {
		return nil
	}
	return s.Publisher.Close()
}
