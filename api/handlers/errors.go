package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	"github.com/customeros/rfqstack/internal/repository"
	"github.com/customeros/rfqstack/internal/tracing"
	"github.com/customeros/rfqstack/services/requests"
)

// respondError maps domain errors to HTTP statuses. Unknown errors are 500s.
func respondError(c *gin.Context, span opentracing.Span, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, repository.ErrRequestNotFound), errors.Is(err, repository.ErrAttachmentNotFound):
		status = http.StatusNotFound
	case errors.Is(err, requests.ErrInvalidTransition), errors.Is(err, requests.ErrStatusConflict):
		status = http.StatusConflict
	case errors.Is(err, repository.ErrInvalidInput):
		status = http.StatusBadRequest
	}

	if status == http.StatusInternalServerError {
		tracing.TraceErr(span, err)
		_ = c.Error(err)
		c.JSON(status, gin.H{"error": "internal error"})
		return
	}
	span.LogKV("status", status, "error", err.Error())
	c.JSON(status, gin.H{"error": err.Error()})
}
