package server

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/opentracing/opentracing-go"
	"github.com/opentracing/opentracing-go/ext"
	"github.com/pkg/errors"
	"gorm.io/gorm"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"

	"github.com/customeros/rfqstack/api"
	"github.com/customeros/rfqstack/config"
	"github.com/customeros/rfqstack/internal/cron"
	ierrors "github.com/customeros/rfqstack/internal/errors"
	"github.com/customeros/rfqstack/internal/logger"
	"github.com/customeros/rfqstack/internal/repository"
	"github.com/customeros/rfqstack/internal/tracing"
	"github.com/customeros/rfqstack/services"
)

type Server struct {
	config       *config.Config
	log          logger.Logger
	httpServer   *http.Server
	router       *gin.Engine
	services     *services.Services
	cronManager  *cron.CronManager
	tracerCloser io.Closer
}

func NewServer(cfg *config.Config, db *gorm.DB) (*Server, error) {
	appLogger := logger.NewAppLogger(cfg.Logger)
	appLogger.InitLogger()

	tracer, closer, err := tracing.NewJaegerTracer(cfg.Tracing, appLogger)
	if err != nil {
		log.Fatalf("Could not initialize jaeger tracer: %s", err.Error())
	}
	opentracing.SetGlobalTracer(tracer)

	repos := repository.InitRepositories(db)

	svcs, err := services.InitServices(cfg, repos, appLogger)
	if err != nil {
		return nil, err
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	return &Server{
		config:       cfg,
		log:          appLogger,
		router:       router,
		services:     svcs,
		cronManager:  cron.NewCronManager(cfg, appLogger, kubernetesClient(), svcs.StateMachine, svcs.Orchestrator),
		tracerCloser: closer,
		httpServer: &http.Server{
			Addr:              ":" + cfg.AppConfig.APIPort,
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}, nil
}

// kubernetesClient returns nil outside a cluster, which puts the cron manager in local mode.
func kubernetesClient() kubernetes.Interface {
	restConfig, err := rest.InClusterConfig()
	if err != nil {
		return nil
	}
	clientset, err := kubernetes.NewForConfig(restConfig)
	if err != nil {
		log.Printf("⚠️ Kubernetes client unavailable, cron runs without leader election: %v", err)
		return nil
	}
	return clientset
}

func (s *Server) recoverWithJaeger(name string) {
	if r := recover(); r != nil {
		span := opentracing.GlobalTracer().StartSpan(
			fmt.Sprintf("panic.%s", name),
		)
		defer span.Finish()

		ext.Error.Set(span, true)
		span.LogKV(
			"event", "panic",
			"process", name,
			"error", fmt.Sprintf("%v", r),
			"stack", string(debug.Stack()),
		)

		log.Printf("❌ Panic in %s: %v\n%s", name, r, debug.Stack())
	}
}

func (s *Server) wrapGoroutine(name string, fn func()) {
	defer s.recoverWithJaeger(name)
	fn()
}

func (s *Server) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	api.RegisterRoutes(s.router, s.services, s.config)

	pollerDone := make(chan struct{})
	log.Println("Starting mailbox poller...")
	go s.wrapGoroutine("poller", func() {
		defer close(pollerDone)
		if err := s.services.Orchestrator.Run(ctx); err != nil {
			if errors.Is(err, ierrors.ErrPollingHalted) {
				log.Printf("❌ Mailbox polling halted, the API stays up: %v", err)
				return
			}
			log.Printf("❌ Poller error: %v", err)
		}
	})

	go s.wrapGoroutine("http_server", func() {
		log.Println("Starting HTTP server")
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("❌ HTTP server error: %v", err)
		}
	})
	log.Println("✅ HTTP server started successfully")

	if err := s.cronManager.Start(s.config.AppConfig.PodName, s.config.AppConfig.PodNamespace); err != nil {
		log.Printf("❌ Cron manager error: %v", err)
	}

	log.Println("RFQStack is now running. Press Ctrl+C to exit.")

	return s.waitForShutdown(cancel, pollerDone)
}

func (s *Server) waitForShutdown(stopPolling context.CancelFunc, pollerDone <-chan struct{}) error {
	defer s.recoverWithJaeger("shutdown")

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	log.Println("Shutting down HTTP server...")
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("❌ HTTP server shutdown error: %v", err)
	} else {
		log.Println("✅ HTTP server shut down successfully")
	}

	s.cronManager.Stop()

	log.Println("Stopping mailbox poller...")
	stopPolling()
	select {
	case <-pollerDone:
	case <-time.After(10 * time.Second):
		log.Println("⚠️ Poller stop timed out")
	}

	workerCtx, workerCancel := context.WithTimeout(context.Background(), s.config.PollerConfig.ShutdownTimeout)
	defer workerCancel()
	if err := s.services.Orchestrator.Shutdown(workerCtx); err != nil {
		log.Printf("⚠️ In-flight requests were cancelled and stay in processing: %v", err)
	} else {
		log.Println("✅ Workers drained")
	}

	if err := s.services.Close(); err != nil {
		log.Printf("❌ Handoff publisher close error: %v", err)
	}
	if s.tracerCloser != nil {
		s.tracerCloser.Close()
	}

	return nil
}
