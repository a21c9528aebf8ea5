package extractor

import (
	"context"
	"fmt"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	"github.com/customeros/rfqstack/interfaces"
	ierrors "github.com/customeros/rfqstack/internal/errors"
	"github.com/customeros/rfqstack/internal/logger"
	"github.com/customeros/rfqstack/internal/models"
	"github.com/customeros/rfqstack/internal/tracing"
	"github.com/customeros/rfqstack/internal/utils"
)

type Config struct {
	MaxBytes int64
	MaxChars int
}

// strategy turns raw file bytes into plain text. charsetLabel is the
// charset parameter of the declared content type, possibly empty.
type strategy func(filename string, data []byte, charsetLabel string) (string, error)

type textExtractor struct {
	store      interfaces.AttachmentStore
	cfg        Config
	log        logger.Logger
	strategies map[string]strategy
}

func NewTextExtractor(store interfaces.AttachmentStore, cfg Config, log logger.Logger) interfaces.TextExtractor {
	return &textExtractor{
		store: store,
		cfg:   cfg,
		log:   log,
		strategies: map[string]strategy{
			utils.ContentTypePDF:  extractPDF,
			utils.ContentTypeXLSX: extractXLSX,
			utils.ContentTypeDOCX: extractDOCX,
			utils.ContentTypeCSV:  extractCSV,
			utils.ContentTypeHTML: extractHTML,
			utils.ContentTypeText: extractText,
		},
	}
}

func (e *textExtractor) Extract(ctx context.Context, attachment *models.Attachment) (string, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "TextExtractor.Extract")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagEntity(span, attachment.ID)
	span.LogKV("filename", attachment.Filename, "contentType", attachment.ContentType, "size", attachment.Size)

	if e.cfg.MaxBytes > 0 && attachment.Size > e.cfg.MaxBytes {
		return "", errors.Wrapf(ierrors.ErrAttachmentTooBig, "%s is %d bytes, extraction limit %d", attachment.Filename, attachment.Size, e.cfg.MaxBytes)
	}

	data, err := e.store.Open(ctx, attachment)
	if err != nil {
		tracing.TraceErr(span, err)
		return "", err
	}

	text, err := e.extractBytes(attachment.Filename, attachment.ContentType, data)
	if err != nil {
		tracing.TraceErr(span, err)
		return "", err
	}

	if e.cfg.MaxChars > 0 {
		var truncated bool
		if text, truncated = utils.TruncateRunes(text, e.cfg.MaxChars); truncated {
			e.log.Warnf("Extracted text of attachment %s truncated to %d characters", attachment.ID, e.cfg.MaxChars)
			span.LogKV("truncated", true)
		}
	}
	return text, nil
}

func (e *textExtractor) extractBytes(filename, declaredType string, data []byte) (text string, err error) {
	contentType, run := e.resolve(filename, declaredType, data)
	if run == nil {
		return "", &ierrors.UnsupportedFormatError{Filename: filename, ContentType: contentType}
	}

	defer func() {
		if r := recover(); r != nil {
			text = ""
			err = &ierrors.CorruptFileError{Filename: filename, Err: fmt.Errorf("parser panic: %v", r)}
		}
	}()

	text, err = run(filename, data, utils.ContentTypeCharset(declaredType))
	if err != nil {
		return "", err
	}
	return normalizeWhitespace(text), nil
}

// resolve picks a strategy from the declared type, then the sniffed type when
// the declaration is generic or unknown, then the filename extension.
func (e *textExtractor) resolve(filename, declaredType string, data []byte) (string, strategy) {
	declared := utils.NormalizeContentType(declaredType)
	sniffed := utils.NormalizeContentType(mimetype.Detect(data).String())

	for _, candidate := range []string{declared, sniffed, utils.GetContentTypeFromFilename(filename)} {
		if candidate == "" || utils.IsGenericContentType(candidate) {
			continue
		}
		if run, ok := e.strategies[candidate]; ok {
			return candidate, run
		}
		if strings.HasPrefix(candidate, "text/") {
			return candidate, extractText
		}
	}

	if declared != "" {
		return declared, nil
	}
	return sniffed, nil
}

func normalizeWhitespace(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")

	lines := strings.Split(text, "\n")
	out := make([]string, 0, len(lines))
	blank := 0
	for _, line := range lines {
		if line == "\f" {
			blank = 0
			out = append(out, line)
			continue
		}
		line = strings.TrimRight(line, " \t")
		if strings.TrimSpace(line) == "" {
			blank++
			if blank > 1 {
				continue
			}
			line = ""
		} else {
			blank = 0
		}
		out = append(out, line)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}
