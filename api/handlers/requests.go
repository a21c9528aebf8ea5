package handlers

import (
	"context"
	"mime"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	"github.com/customeros/rfqstack/dto"
	"github.com/customeros/rfqstack/interfaces"
	"github.com/customeros/rfqstack/internal/enum"
	"github.com/customeros/rfqstack/internal/repository"
	"github.com/customeros/rfqstack/internal/tracing"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// Pipeline schedules requests for asynchronous processing.
type Pipeline interface {
	Trigger(ctx context.Context, requestID string) error
	Reprocess(ctx context.Context, requestID string) error
}

type StatusSetter interface {
	SetStatus(ctx context.Context, id string, to enum.RequestStatus, notes string) error
}

type RequestsHandler struct {
	requests     interfaces.IngestionRequestRepository
	attachments  interfaces.AttachmentRepository
	store        interfaces.AttachmentStore
	stateMachine StatusSetter
	pipeline     Pipeline
}

func NewRequestsHandler(
	requests interfaces.IngestionRequestRepository,
	attachments interfaces.AttachmentRepository,
	store interfaces.AttachmentStore,
	stateMachine StatusSetter,
	pipeline Pipeline,
) *RequestsHandler {
	return &RequestsHandler{
		requests:     requests,
		attachments:  attachments,
		store:        store,
		stateMachine: stateMachine,
		pipeline:     pipeline,
	}
}

// ClampLimit parses the limit query value. Empty means the default, anything else is
// clamped into 1..200.
func ClampLimit(raw string) (int, error) {
	if raw == "" {
		return defaultListLimit, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.Wrapf(repository.ErrInvalidInput, "limit %q is not a number", raw)
	}
	if limit < 1 {
		return 1, nil
	}
	if limit > maxListLimit {
		return maxListLimit, nil
	}
	return limit, nil
}

// List handles GET /v1/requests?limit=&status=
func (h *RequestsHandler) List() gin.HandlerFunc {
	return func(c *gin.Context) {
		span, ctx := opentracing.StartSpanFromContext(c.Request.Context(), "RequestsHandler.List")
		defer span.Finish()

		limit, err := ClampLimit(c.Query("limit"))
		if err != nil {
			respondError(c, span, err)
			return
		}
		status := enum.RequestStatus(c.Query("status"))
		if status != "" && !status.IsValid() {
			respondError(c, span, errors.Wrapf(repository.ErrInvalidInput, "unknown status %q", status))
			return
		}
		span.LogKV("limit", limit, "status", status.String())

		found, err := h.requests.ListRecent(ctx, limit, status)
		if err != nil {
			respondError(c, span, err)
			return
		}

		summaries := make([]dto.RequestSummary, 0, len(found))
		for i := range found {
			summaries = append(summaries, dto.NewRequestSummary(&found[i]))
		}
		c.JSON(http.StatusOK, dto.RequestList{Requests: summaries, Count: len(summaries)})
	}
}

// Get handles GET /v1/requests/:id
func (h *RequestsHandler) Get() gin.HandlerFunc {
	return func(c *gin.Context) {
		span, ctx := opentracing.StartSpanFromContext(c.Request.Context(), "RequestsHandler.Get")
		defer span.Finish()

		request, err := h.requests.GetByID(ctx, c.Param("id"))
		if err != nil {
			respondError(c, span, err)
			return
		}
		attachments, err := h.attachments.ListByRequest(ctx, request.ID)
		if err != nil {
			respondError(c, span, err)
			return
		}
		reqs, err := request.GetRequirements()
		if err != nil {
			respondError(c, span, errors.Wrap(err, "stored requirements are unreadable"))
			return
		}

		c.JSON(http.StatusOK, dto.RequestDetail{
			IngestionRequest: request,
			Attachments:      attachments,
			Requirements:     reqs,
		})
	}
}

// Process handles POST /v1/requests/:id/process. Only pending and failed requests are accepted.
func (h *RequestsHandler) Process() gin.HandlerFunc {
	return func(c *gin.Context) {
		span, ctx := opentracing.StartSpanFromContext(c.Request.Context(), "RequestsHandler.Process")
		defer span.Finish()

		id := c.Param("id")
		if err := h.pipeline.Trigger(ctx, id); err != nil {
			respondError(c, span, err)
			return
		}
		c.JSON(http.StatusAccepted, dto.AcceptedResponse{ID: id, Status: "scheduled"})
	}
}

// Reprocess handles POST /v1/requests/:id/reprocess
func (h *RequestsHandler) Reprocess() gin.HandlerFunc {
	return func(c *gin.Context) {
		span, ctx := opentracing.StartSpanFromContext(c.Request.Context(), "RequestsHandler.Reprocess")
		defer span.Finish()

		id := c.Param("id")
		if err := h.pipeline.Reprocess(ctx, id); err != nil {
			respondError(c, span, err)
			return
		}
		c.JSON(http.StatusAccepted, dto.AcceptedResponse{ID: id, Status: "scheduled"})
	}
}

// SetStatus handles PUT /v1/requests/:id/status
func (h *RequestsHandler) SetStatus() gin.HandlerFunc {
	return func(c *gin.Context) {
		span, ctx := opentracing.StartSpanFromContext(c.Request.Context(), "RequestsHandler.SetStatus")
		defer span.Finish()

		var body dto.SetStatusRequest
		if err := c.ShouldBindJSON(&body); err != nil {
			respondError(c, span, errors.Wrap(repository.ErrInvalidInput, err.Error()))
			return
		}
		if !body.Status.IsValid() {
			respondError(c, span, errors.Wrapf(repository.ErrInvalidInput, "unknown status %q", body.Status))
			return
		}

		id := c.Param("id")
		if err := h.stateMachine.SetStatus(ctx, id, body.Status, body.Notes); err != nil {
			respondError(c, span, err)
			return
		}
		request, err := h.requests.GetByID(ctx, id)
		if err != nil {
			respondError(c, span, err)
			return
		}
		c.JSON(http.StatusOK, dto.NewRequestSummary(request))
	}
}

// SetQuotationRef handles PUT /v1/requests/:id/quotation
func (h *RequestsHandler) SetQuotationRef() gin.HandlerFunc {
	return func(c *gin.Context) {
		span, ctx := opentracing.StartSpanFromContext(c.Request.Context(), "RequestsHandler.SetQuotationRef")
		defer span.Finish()

		var body dto.SetQuotationRefRequest
		if err := c.ShouldBindJSON(&body); err != nil {
			respondError(c, span, errors.Wrap(repository.ErrInvalidInput, err.Error()))
			return
		}

		request, err := h.requests.GetByID(ctx, c.Param("id"))
		if err != nil {
			respondError(c, span, err)
			return
		}
		if request.Status != enum.RequestStatusCompleted {
			c.JSON(http.StatusConflict, gin.H{"error": "only completed requests can be linked to a quotation"})
			return
		}
		if err := h.requests.SetQuotationRef(ctx, request.ID, body.QuotationRef); err != nil {
			respondError(c, span, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"id": request.ID, "quotationRef": body.QuotationRef})
	}
}

// DownloadAttachment handles GET /v1/requests/:id/attachments/:attachmentId
func (h *RequestsHandler) DownloadAttachment() gin.HandlerFunc {
	return func(c *gin.Context) {
		span, ctx := opentracing.StartSpanFromContext(c.Request.Context(), "RequestsHandler.DownloadAttachment")
		defer span.Finish()
		tracing.TagEntity(span, c.Param("attachmentId"))

		attachment, err := h.attachments.GetByID(ctx, c.Param("attachmentId"))
		if err != nil {
			respondError(c, span, err)
			return
		}
		if attachment.RequestID != c.Param("id") {
			respondError(c, span, repository.ErrAttachmentNotFound)
			return
		}
		data, err := h.store.Open(ctx, attachment)
		if err != nil {
			respondError(c, span, err)
			return
		}

		contentType := attachment.DetectedType
		if contentType == "" {
			contentType = attachment.ContentType
		}
		c.Header("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": attachment.Filename}))
		c.Data(http.StatusOK, contentType, data)
	}
}
