package api

import (
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/opentracing/opentracing-go"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/customeros/rfqstack/api/handlers"
	"github.com/customeros/rfqstack/api/middleware"
	"github.com/customeros/rfqstack/config"
	"github.com/customeros/rfqstack/internal/tracing"
	"github.com/customeros/rfqstack/services"
)

const AppSource = "rfqstack"

// RegisterRoutes sets up all API endpoints
func RegisterRoutes(r *gin.Engine, s *services.Services, cfg *config.Config) {
	if s == nil {
		panic("Services cannot be nil")
	}
	if s.Repositories == nil {
		panic("Repositories cannot be nil")
	}

	r.Use(gin.Recovery())
	r.Use(tracing.RecoveryWithJaeger(opentracing.GlobalTracer()))
	r.Use(middleware.Metrics())
	if len(cfg.AppConfig.CORSAllowedOrigins) > 0 {
		r.Use(cors.New(cors.Config{
			AllowOrigins: cfg.AppConfig.CORSAllowedOrigins,
			AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut},
			AllowHeaders: []string{"Content-Type", middleware.APIKeyHeader, middleware.OperatorHeader},
		}))
	}

	// Health, status and metrics endpoints (no custom context needed)
	r.GET("/health", handlers.HealthCheck)
	r.GET("/status", handlers.Status(s.Orchestrator))
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	requestsHandler := handlers.NewRequestsHandler(
		s.Repositories.IngestionRequestRepository,
		s.Repositories.AttachmentRepository,
		s.AttachmentStore,
		s.StateMachine,
		s.Orchestrator,
	)

	api := r.Group("/v1")
	api.Use(middleware.APIKeyMiddleware(middleware.APIKeyConfig{
		HeaderName:  middleware.APIKeyHeader,
		ValidAPIKey: cfg.AppConfig.APIKey,
	}))
	api.Use(middleware.CustomContextMiddleware(AppSource))
	api.Use(middleware.TracingMiddleware())
	api.Use(gzip.Gzip(gzip.DefaultCompression))
	{
		requests := api.Group("/requests")
		{
			requests.GET("", requestsHandler.List())
			requests.GET("/:id", requestsHandler.Get())
			requests.POST("/:id/process", requestsHandler.Process())
			requests.POST("/:id/reprocess", requestsHandler.Reprocess())
			requests.PUT("/:id/status", requestsHandler.SetStatus())
			requests.PUT("/:id/quotation", requestsHandler.SetQuotationRef())
			requests.GET("/:id/attachments/:attachmentId", requestsHandler.DownloadAttachment())
		}

		api.GET("/sync-states", handlers.SyncStates(s.Repositories.MailboxSyncRepository, cfg.IMAPConfig.Username))
		api.DELETE("/sync-states/:folder", handlers.ResetSyncState(s.Orchestrator))
	}
}
