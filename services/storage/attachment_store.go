package storage

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/gabriel-vasile/mimetype"
	"github.com/oklog/ulid/v2"
	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	"github.com/customeros/rfqstack/interfaces"
	ierrors "github.com/customeros/rfqstack/internal/errors"
	"github.com/customeros/rfqstack/internal/models"
	"github.com/customeros/rfqstack/internal/tracing"
	"github.com/customeros/rfqstack/internal/utils"
)

const maxFilenameLength = 200

type AttachmentStoreConfig struct {
	MaxBytes     int64
	AllowedTypes []string
}

type attachmentStore struct {
	storage interfaces.StorageService
	repo    interfaces.AttachmentRepository
	cfg     AttachmentStoreConfig
	allowed map[string]bool

	entropyMu sync.Mutex
	entropy   *ulid.MonotonicEntropy
}

func NewAttachmentStore(storage interfaces.StorageService, repo interfaces.AttachmentRepository, cfg AttachmentStoreConfig) interfaces.AttachmentStore {
	allowed := make(map[string]bool, len(cfg.AllowedTypes))
	for _, t := range cfg.AllowedTypes {
		if t = utils.NormalizeContentType(t); t != "" {
			allowed[t] = true
		}
	}
	return &attachmentStore{
		storage: storage,
		repo:    repo,
		cfg:     cfg,
		allowed: allowed,
		entropy: ulid.Monotonic(rand.Reader, 0),
	}
}

// Save stages the part and records it against an existing request.
func (s *attachmentStore) Save(ctx context.Context, requestID string, part interfaces.AttachmentPart) (*models.Attachment, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "AttachmentStore.Save")
	defer span.Finish()
	tracing.TagEntity(span, requestID)

	attachment, err := s.Stage(ctx, requestID, part)
	if err != nil {
		return nil, err
	}
	attachment.RequestID = requestID
	if err := s.repo.Create(ctx, attachment); err != nil {
		tracing.TraceErr(span, err)
		s.Discard(context.WithoutCancel(ctx), []*models.Attachment{attachment})
		return nil, errors.Wrap(err, "failed to record attachment")
	}
	return attachment, nil
}

// Stage validates the part and uploads it under requestID. The returned attachment is not
// recorded yet. Rejections wrap ErrAttachmentTooBig or ErrAttachmentType and upload nothing,
// upload failures are transient.
func (s *attachmentStore) Stage(ctx context.Context, requestID string, part interfaces.AttachmentPart) (*models.Attachment, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "AttachmentStore.Stage")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagEntity(span, requestID)
	span.LogKV("filename", part.Filename, "contentType", part.ContentType, "size", len(part.Content))

	filename := SanitizeFilename(part.Filename, part.ContentType)

	effectiveType, err := s.validate(filename, part)
	if err != nil {
		span.LogKV("rejected", err.Error())
		return nil, err
	}

	sum := sha256.Sum256(part.Content)
	hash := hex.EncodeToString(sum[:])
	key := fmt.Sprintf("%s/%s-%s", requestID, s.newULID(), filename)

	if err := s.storage.Upload(ctx, key, part.Content, effectiveType); err != nil {
		tracing.TraceErr(span, err)
		if ctx.Err() != nil {
			return nil, errors.Wrap(ctx.Err(), "attachment upload")
		}
		return nil, &ierrors.TransientError{Reason: "attachment upload", Err: err}
	}

	return &models.Attachment{
		RequestID:      requestID,
		Filename:       filename,
		ContentType:    utils.NormalizeContentType(part.ContentType),
		DetectedType:   effectiveType,
		Size:           int64(len(part.Content)),
		StorageService: s.storage.Backend(),
		StorageKey:     key,
		ContentHash:    hash,
	}, nil
}

// Discard deletes the objects of staged attachments that were never recorded.
func (s *attachmentStore) Discard(ctx context.Context, attachments []*models.Attachment) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "AttachmentStore.Discard")
	defer span.Finish()

	for _, attachment := range attachments {
		if attachment == nil || attachment.StorageKey == "" {
			continue
		}
		if err := s.storage.Delete(ctx, attachment.StorageKey); err != nil {
			span.LogKV("cleanupError", err.Error(), "key", attachment.StorageKey)
		}
	}
}

func (s *attachmentStore) Open(ctx context.Context, attachment *models.Attachment) ([]byte, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "AttachmentStore.Open")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)

	if attachment == nil || attachment.StorageKey == "" {
		return nil, errors.New("attachment has no storage key")
	}
	data, err := s.storage.Download(ctx, attachment.StorageKey)
	if err != nil {
		tracing.TraceErr(span, err)
		wrapped := errors.Wrapf(err, "failed to download attachment %s", attachment.ID)
		if ctx.Err() != nil || isMissingObject(err) {
			return nil, wrapped
		}
		return nil, &ierrors.TransientError{Reason: "attachment download", Err: wrapped}
	}
	return data, nil
}

// isMissingObject reports a download of an object that does not exist, which no retry fixes.
func isMissingObject(err error) bool {
	if errors.Is(err, fs.ErrNotExist) {
		return true
	}
	var awsErr awserr.Error
	if errors.As(err, &awsErr) {
		switch awsErr.Code() {
		case s3.ErrCodeNoSuchKey, s3.ErrCodeNoSuchBucket, "NotFound":
			return true
		}
	}
	return false
}

// validate returns the content type the attachment will be stored and extracted as.
// A declared type is trusted when allowed; generic or disallowed declarations fall
// back to the sniffed type and then to the filename extension.
func (s *attachmentStore) validate(filename string, part interfaces.AttachmentPart) (string, error) {
	size := int64(len(part.Content))
	if s.cfg.MaxBytes > 0 && size > s.cfg.MaxBytes {
		return "", errors.Wrapf(ierrors.ErrAttachmentTooBig, "%s is %d bytes, limit %d", filename, size, s.cfg.MaxBytes)
	}

	declared := utils.NormalizeContentType(part.ContentType)
	sniffed := utils.NormalizeContentType(mimetype.Detect(part.Content).String())
	byName := utils.GetContentTypeFromFilename(filename)

	for _, candidate := range []string{declared, sniffed, byName} {
		if candidate == "" || utils.IsGenericContentType(candidate) {
			continue
		}
		if s.allowed[candidate] {
			return candidate, nil
		}
	}

	shown := declared
	if shown == "" || utils.IsGenericContentType(shown) {
		shown = sniffed
	}
	return "", errors.Wrapf(ierrors.ErrAttachmentType, "%s has type %s", filename, shown)
}

func (s *attachmentStore) newULID() ulid.ULID {
	s.entropyMu.Lock()
	defer s.entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), s.entropy)
}

// SanitizeFilename reduces a client-supplied name to a safe single path segment.
func SanitizeFilename(name, contentType string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = filepath.Base(name)

	var b strings.Builder
	lastUnderscore := false
	for _, r := range name {
		ok := (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '.' || r == '-' || r == '_'
		if !ok {
			r = '_'
		}
		if r == '_' {
			if lastUnderscore {
				continue
			}
			lastUnderscore = true
		} else {
			lastUnderscore = false
		}
		b.WriteRune(r)
	}

	clean := strings.Trim(b.String(), "._")
	if clean == "" {
		return "attachment." + utils.GetFileExtensionFromContentType(contentType)
	}
	if len(clean) > maxFilenameLength {
		ext := filepath.Ext(clean)
		if len(ext) > 10 {
			ext = ""
		}
		clean = clean[:maxFilenameLength-len(ext)] + ext
	}
	return clean
}
