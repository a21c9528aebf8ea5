package orchestrator

import (
	"context"
	"errors"
	"sync"

	"github.com/customeros/rfqstack/interfaces"
	"github.com/customeros/rfqstack/internal/models"
)

type fakeMessage struct {
	raw         interfaces.RawMessage
	attachments []interfaces.AttachmentPart
}

type fakeSession struct {
	mu       sync.Mutex
	folders  []string
	messages map[string][]fakeMessage
	closed   bool
}

func newFakeSession() *fakeSession {
	return &fakeSession{folders: []string{"INBOX"}, messages: map[string][]fakeMessage{}}
}

func (s *fakeSession) add(folder string, raw interfaces.RawMessage, parts ...interfaces.AttachmentPart) {
	s.mu.Lock()
	defer s.mu.Unlock()
	uid := uint32(len(s.messages[folder]) + 1)
	raw.Ref = interfaces.MessageRef{Folder: folder, UIDValidity: 1, UID: uid}
	raw.HasAttachments = len(parts) > 0
	if raw.FromAddress == "" {
		raw.FromAddress = "buyer@acme.test"
	}
	s.messages[folder] = append(s.messages[folder], fakeMessage{raw: raw, attachments: parts})
}

func (s *fakeSession) ListFolders(context.Context) ([]string, error) {
	return s.folders, nil
}

func (s *fakeSession) FetchNewMessages(_ context.Context, folder string, since interfaces.Marker) ([]interfaces.RawMessage, interfaces.Marker, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if since.UIDValidity != 1 {
		since = interfaces.Marker{UIDValidity: 1}
	}
	next := since
	var out []interfaces.RawMessage
	for _, m := range s.messages[folder] {
		if m.raw.Ref.UID > since.LastUID {
			out = append(out, m.raw)
			next.LastUID = m.raw.Ref.UID
		}
	}
	return out, next, nil
}

func (s *fakeSession) FetchAttachments(_ context.Context, ref interfaces.MessageRef) ([]interfaces.AttachmentPart, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.messages[ref.Folder] {
		if m.raw.Ref == ref {
			return m.attachments, nil
		}
	}
	return nil, nil
}

func (s *fakeSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// fakeTransport hands out the session after returning the queued connect errors.
type fakeTransport struct {
	mu       sync.Mutex
	session  *fakeSession
	errs     []error
	connects int
}

func (t *fakeTransport) Connect(context.Context, interfaces.MailCredentials, interfaces.MailEndpoint) (interfaces.MailSession, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.connects++
	if len(t.errs) > 0 {
		err := t.errs[0]
		t.errs = t.errs[1:]
		return nil, err
	}
	return t.session, nil
}

type fakeExtractor struct {
	mu     sync.Mutex
	inputs []string
	fn     func(ctx context.Context, call int, text string) (*models.ExtractedRequirements, error)
}

func (e *fakeExtractor) Extract(ctx context.Context, text string) (*models.ExtractedRequirements, error) {
	e.mu.Lock()
	e.inputs = append(e.inputs, text)
	call := len(e.inputs)
	fn := e.fn
	e.mu.Unlock()

	if fn == nil {
		return &models.ExtractedRequirements{Items: []models.RequirementItem{}}, nil
	}
	return fn(ctx, call, text)
}

func (e *fakeExtractor) calls() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.inputs...)
}

type recordingPublisher struct {
	mu        sync.Mutex
	published []string
	err       error
}

func (p *recordingPublisher) PublishRequestCompleted(_ context.Context, request *models.IngestionRequest, _ *models.ExtractedRequirements) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.published = append(p.published, request.ID)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) ids() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.published...)
}

// flakyStorage fails the next uploadFailures uploads and downloadFailures downloads.
type flakyStorage struct {
	interfaces.StorageService

	mu               sync.Mutex
	uploadFailures   int
	downloadFailures int
	uploads          int
	downloads        int
}

func (s *flakyStorage) failUploads(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.uploadFailures = n
}

func (s *flakyStorage) failDownloads(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.downloadFailures = n
}

func (s *flakyStorage) Upload(ctx context.Context, key string, data []byte, contentType string) error {
	s.mu.Lock()
	s.uploads++
	fail := s.uploadFailures > 0
	if fail {
		s.uploadFailures--
	}
	s.mu.Unlock()
	if fail {
		return errors.New("connection reset by peer")
	}
	return s.StorageService.Upload(ctx, key, data, contentType)
}

func (s *flakyStorage) Download(ctx context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	s.downloads++
	fail := s.downloadFailures > 0
	if fail {
		s.downloadFailures--
	}
	s.mu.Unlock()
	if fail {
		return nil, errors.New("connection reset by peer")
	}
	return s.StorageService.Download(ctx, key)
}

func (s *flakyStorage) downloadCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.downloads
}
