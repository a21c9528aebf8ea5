package cron

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/caarlos0/env/v6"
	cronv3 "github.com/robfig/cron/v3"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/tools/leaderelection"
	"k8s.io/client-go/tools/leaderelection/resourcelock"

	"github.com/customeros/rfqstack/config"
	cron_config "github.com/customeros/rfqstack/internal/cron/config"
	"github.com/customeros/rfqstack/internal/logger"
	"github.com/customeros/rfqstack/internal/tracing"
)

const (
	// GroupRequests serializes jobs that touch ingestion request rows
	GroupRequests = "requests"

	// LeaseDuration is how long a lease lasts before needing renewal
	LeaseDuration = 15 * time.Second
	// RenewDeadline is how long a leader has to renew its lease
	RenewDeadline = 10 * time.Second
	// RetryPeriod is how long to wait between leadership attempts
	RetryPeriod = 2 * time.Second

	leaseName = "rfqstack-cron-leader"
)

var jobLocks = struct {
	sync.Mutex
	locks map[string]*sync.Mutex
}{
	locks: map[string]*sync.Mutex{
		GroupRequests: new(sync.Mutex),
	},
}

// StaleSweeper fails requests that stayed in processing for longer than after.
type StaleSweeper interface {
	FailStale(ctx context.Context, after time.Duration, limit int) (int, error)
}

// HandoffRetrier republishes completed requests that were never handed off.
type HandoffRetrier interface {
	RetryHandoffs(ctx context.Context, limit int) (int, error)
}

type CronManager struct {
	cfg      *config.Config
	log      logger.Logger
	cron     *cronv3.Cron
	k8s      kubernetes.Interface
	stopCh   chan struct{}
	stopOnce sync.Once
	jobIDs   map[string]cronv3.EntryID
	sweeper  StaleSweeper
	handoff  HandoffRetrier
}

func NewCronManager(cfg *config.Config, log logger.Logger, k8s kubernetes.Interface, sweeper StaleSweeper, handoff HandoffRetrier) *CronManager {
	return &CronManager{
		cfg:     cfg,
		log:     log,
		k8s:     k8s,
		stopCh:  make(chan struct{}),
		jobIDs:  make(map[string]cronv3.EntryID),
		sweeper: sweeper,
		handoff: handoff,
	}
}

// Start initializes and starts the cron manager with leader election.
// If k8s is nil, it will start in local mode without leader election.
func (cm *CronManager) Start(podName, namespace string) error {
	if cm.k8s == nil || os.Getenv("LOCAL_DEV") == "true" {
		cm.log.Info("Starting cron manager in local mode")
		cm.StartCron()
		return nil
	}

	lock := &resourcelock.LeaseLock{
		LeaseMeta: metav1.ObjectMeta{
			Name:      leaseName,
			Namespace: namespace,
		},
		Client: cm.k8s.CoordinationV1(),
		LockConfig: resourcelock.ResourceLockConfig{
			Identity: podName,
		},
	}

	errCh := make(chan error, 1)

	go func() {
		le, err := leaderelection.NewLeaderElector(leaderelection.LeaderElectionConfig{
			Lock:            lock,
			ReleaseOnCancel: true,
			LeaseDuration:   LeaseDuration,
			RenewDeadline:   RenewDeadline,
			RetryPeriod:     RetryPeriod,
			Callbacks: leaderelection.LeaderCallbacks{
				OnStartedLeading: func(ctx context.Context) {
					cm.StartCron()
				},
				OnStoppedLeading: func() {
					cm.log.Info("Leader lost - stopping crons")
					cm.Stop()
				},
				OnNewLeader: func(identity string) {
					cm.log.Infof("New leader elected: %s", identity)
				},
			},
		})
		if err != nil {
			errCh <- err
			return
		}

		ctx, cancel := context.WithCancel(context.Background())
		go func() {
			<-cm.stopCh
			cancel()
		}()
		le.Run(ctx)
	}()

	// Wait briefly to see if leader election fails immediately
	select {
	case err := <-errCh:
		cm.log.Warnf("Leader election failed, falling back to local mode: %v", err)
		cm.StartCron()
	case <-time.After(5 * time.Second):
	}

	return nil
}

// Stop gracefully stops the cron manager and waits for running jobs.
func (cm *CronManager) Stop() {
	if cm.cron != nil {
		cm.log.Info("Stopping cron manager")
		ctx := cm.cron.Stop()
		<-ctx.Done()
	}
	cm.stopOnce.Do(func() { close(cm.stopCh) })
}

func (cm *CronManager) registerJobs(c *cronv3.Cron) {
	var cronConfig cron_config.Config
	if err := env.Parse(&cronConfig); err != nil {
		cm.log.Fatalf("Failed to parse cron config from environment: %v", err)
	}
	cm.register(c, cronConfig)
}

func (cm *CronManager) register(c *cronv3.Cron, cronConfig cron_config.Config) {
	if cronConfig.CronScheduleHeartbeat != "" {
		podName := cm.podName()
		cm.addJob(c, "heartbeat", cronConfig.CronScheduleHeartbeat, func() {
			cm.log.Infof("Cron heartbeat from pod: %s", podName)
		})
	}

	if cronConfig.CronScheduleStaleRequests != "" && cm.sweeper != nil {
		cm.addJob(c, "stale_requests", cronConfig.CronScheduleStaleRequests, func() {
			jobLocks.locks[GroupRequests].Lock()
			defer jobLocks.locks[GroupRequests].Unlock()
			cm.failStaleRequests(cronConfig.CronBatchSize)
		})
	}

	if cronConfig.CronScheduleHandoffRetry != "" && cm.handoff != nil {
		cm.addJob(c, "handoff_retry", cronConfig.CronScheduleHandoffRetry, func() {
			jobLocks.locks[GroupRequests].Lock()
			defer jobLocks.locks[GroupRequests].Unlock()
			cm.retryHandoffs(cronConfig.CronBatchSize)
		})
	}
}

func (cm *CronManager) addJob(c *cronv3.Cron, name, schedule string, job func()) {
	id, err := c.AddFunc(schedule, func() {
		defer tracing.RecoverAndLogToJaeger(cm.log)
		job()
	})
	if err != nil {
		cm.log.Fatalf("Could not add %s cron job: %v", name, err)
	}
	cm.jobIDs[name] = id
	cm.log.Infof("Registered %s job with schedule: %s", name, schedule)
}

// StartCron initializes and starts the cron scheduler
func (cm *CronManager) StartCron() {
	cm.log.Info("Starting cron manager")
	cronOptions := []cronv3.Option{
		cronv3.WithSeconds(),
		cronv3.WithChain(
			cronv3.SkipIfStillRunning(cronv3.DefaultLogger),
			cronv3.Recover(cronv3.DefaultLogger),
		),
	}
	c := cronv3.New(cronOptions...)
	cm.registerJobs(c)
	c.Start()
	cm.cron = c
}

func (cm *CronManager) podName() string {
	if cm.cfg != nil && cm.cfg.AppConfig != nil && cm.cfg.AppConfig.PodName != "" {
		return cm.cfg.AppConfig.PodName
	}
	if podName := os.Getenv("POD_NAME"); podName != "" {
		return podName
	}
	return "local"
}

func (cm *CronManager) staleAfter() time.Duration {
	if cm.cfg != nil && cm.cfg.PollerConfig != nil && cm.cfg.PollerConfig.StaleProcessingAfter > 0 {
		return cm.cfg.PollerConfig.StaleProcessingAfter
	}
	return 30 * time.Minute
}

func (cm *CronManager) failStaleRequests(limit int) {
	span, ctx := tracing.StartTracerSpan(context.Background(), "CronManager.failStaleRequests")
	defer span.Finish()
	tracing.TagComponentCronJob(span)

	count, err := cm.sweeper.FailStale(ctx, cm.staleAfter(), limit)
	if err != nil {
		tracing.TraceErr(span, err)
		cm.log.Errorf("Failed to sweep stale requests: %v", err)
		return
	}
	span.LogKV("failed", count)
	if count > 0 {
		cm.log.Warnf("Failed %d requests stuck in processing for over %s", count, cm.staleAfter())
	}
}

func (cm *CronManager) retryHandoffs(limit int) {
	span, ctx := tracing.StartTracerSpan(context.Background(), "CronManager.retryHandoffs")
	defer span.Finish()
	tracing.TagComponentCronJob(span)

	count, err := cm.handoff.RetryHandoffs(ctx, limit)
	if err != nil {
		tracing.TraceErr(span, err)
		cm.log.Errorf("Failed to retry handoffs: %v", err)
		return
	}
	span.LogKV("handedOff", count)
	if count > 0 {
		cm.log.Infof("Handed off %d completed requests", count)
	}
}
