package storage

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	"github.com/customeros/rfqstack/interfaces"
	"github.com/customeros/rfqstack/internal/enum"
	"github.com/customeros/rfqstack/internal/tracing"
)

// LocalStorageService keeps blobs under a base directory on disk.
type LocalStorageService struct {
	baseDir string
}

func NewLocalStorageService(baseDir string) (interfaces.StorageService, error) {
	abs, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, errors.Wrap(err, "failed to resolve attachment directory")
	}
	if err := os.MkdirAll(abs, 0o750); err != nil {
		return nil, errors.Wrap(err, "failed to create attachment directory")
	}
	return &LocalStorageService{baseDir: abs}, nil
}

func (s *LocalStorageService) path(key string) (string, error) {
	full := filepath.Join(s.baseDir, filepath.FromSlash(key))
	if full != s.baseDir && !strings.HasPrefix(full, s.baseDir+string(os.PathSeparator)) {
		return "", errors.Errorf("storage key %q escapes the attachment directory", key)
	}
	return full, nil
}

func (s *LocalStorageService) Upload(ctx context.Context, key string, data []byte, contentType string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "LocalStorageService.Upload")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	span.LogKV("key", key, "size", len(data), "contentType", contentType)

	full, err := s.path(key)
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o750); err != nil {
		tracing.TraceErr(span, err)
		return errors.Wrap(err, "failed to create attachment directory")
	}

	tmp := full + ".part"
	if err := os.WriteFile(tmp, data, 0o640); err != nil {
		tracing.TraceErr(span, err)
		return errors.Wrap(err, "failed to write attachment")
	}
	return errors.Wrap(os.Rename(tmp, full), "failed to finalize attachment")
}

func (s *LocalStorageService) Download(ctx context.Context, key string) ([]byte, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "LocalStorageService.Download")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)

	full, err := s.path(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(full)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, errors.Wrap(err, "failed to read attachment")
	}
	return data, nil
}

func (s *LocalStorageService) Delete(ctx context.Context, key string) error {
	full, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "failed to delete attachment")
	}
	return nil
}

func (s *LocalStorageService) Backend() enum.StorageBackend {
	return enum.StorageLocal
}
