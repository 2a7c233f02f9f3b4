// Package scheduler drives the Pipeline Orchestrator on a fixed interval
// (spec §4.J): distributed-lock acquisition, overlap suppression, and
// independent cleanup timers for the durable stores. Grounded on the
// teacher's ticker-plus-mutex run loop, generalized with a distributed
// lock and observable run statistics.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/luis4nge1/geo-ingest/pkg/alerts"
	"github.com/luis4nge1/geo-ingest/pkg/localbackup"
	"github.com/luis4nge1/geo-ingest/pkg/log"
	"github.com/luis4nge1/geo-ingest/pkg/metrics"
	"github.com/luis4nge1/geo-ingest/pkg/orchestrator"
	"github.com/luis4nge1/geo-ingest/pkg/queuestore"
	"github.com/luis4nge1/geo-ingest/pkg/recovery"
)

// Options configures the Scheduler's timing.
type Options struct {
	TickInterval       time.Duration
	LockTTL            time.Duration
	LockMaxWait        time.Duration
	CleanupIntervalMin int
	BackupRetention    time.Duration
	RegistryRetention  time.Duration
	RegistryTermFactor int
}

// DefaultOptions mirrors spec §6's documented defaults. LockTTL follows
// spec §4.B's policy of tickInterval + 30s, so a tick can never outlive its
// own lock and let a second instance acquire it mid-tick.
func DefaultOptions() Options {
	tickInterval := 60 * time.Second
	return Options{
		TickInterval:       tickInterval,
		LockTTL:            tickInterval + 30*time.Second,
		LockMaxWait:        5 * time.Second,
		CleanupIntervalMin: 30,
		BackupRetention:    24 * time.Hour,
		RegistryRetention:  24 * time.Hour,
		RegistryTermFactor: 7,
	}
}

// Stats are the scheduler's observable run counters (spec §7).
type Stats struct {
	TotalExecutions int64
	Successful      int64
	Failed          int64
	LockContended   int64
	LastExecution   time.Time
	StartedAt       time.Time
}

// SuccessRate returns the percentage of executions that completed without
// error, 0 when no tick has run yet.
func (s Stats) SuccessRate() float64 {
	if s.TotalExecutions == 0 {
		return 0
	}
	return 100 * float64(s.Successful) / float64(s.TotalExecutions)
}

// Scheduler runs the orchestrator's Tick on a fixed interval, holding the
// distributed lock for the duration of each run so only one process
// instance executes a tick at a time.
type Scheduler struct {
	orch   *orchestrator.Orchestrator
	lock   *queuestore.Lock
	opts   Options
	logger zerolog.Logger
	broker *alerts.Broker

	backups  *localbackup.Store
	registry *recovery.Registry

	mu       sync.Mutex
	running  bool
	stopCh   chan struct{}
	doneCh   chan struct{}

	totalExecutions int64
	successful      int64
	failed          int64
	lockContended   int64
	lastExecution   atomic.Value // time.Time
	startedAt       time.Time
}

// New returns a Scheduler bound to its orchestrator and distributed lock.
// broker may be nil, in which case alerting is a no-op.
func New(orch *orchestrator.Orchestrator, lock *queuestore.Lock, backups *localbackup.Store, registry *recovery.Registry, broker *alerts.Broker, opts Options) *Scheduler {
	return &Scheduler{
		orch:     orch,
		lock:     lock,
		opts:     opts,
		logger:   log.WithComponent("scheduler"),
		broker:   broker,
		backups:  backups,
		registry: registry,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start begins the scheduler's tick and cleanup loops.
func (s *Scheduler) Start(ctx context.Context) {
	s.startedAt = time.Now()
	go s.runTicks(ctx)
	go s.runCleanup(ctx)
}

// Stop signals both loops to exit and waits for the tick loop to finish.
func (s *Scheduler) Stop() {
	close(s.stopCh)
	<-s.doneCh
}

// RunOnce executes exactly one tick under the distributed lock and returns,
// used by the `--once` CLI mode (spec §4.J "run-once support").
func (s *Scheduler) RunOnce(ctx context.Context) error {
	return s.runTick(ctx)
}

func (s *Scheduler) runTicks(ctx context.Context) {
	defer close(s.doneCh)
	ticker := time.NewTicker(s.opts.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := s.runTick(ctx); err != nil {
				s.logger.Error().Err(err).Msg("tick failed")
			}
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// runTick suppresses overlap in-process (a tick already running skips the
// next timer fire rather than queueing), then acquires the distributed
// lock so only one process instance across the fleet executes it.
func (s *Scheduler) runTick(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		s.logger.Warn().Msg("previous tick still running, skipping this interval")
		return nil
	}
	s.running = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	var tickErr error
	err := s.lock.WithLock(ctx, s.opts.LockTTL, s.opts.LockMaxWait, func(ctx context.Context) error {
		_, tickErr = s.orch.Tick(ctx)
		return tickErr
	})

	atomic.AddInt64(&s.totalExecutions, 1)
	s.lastExecution.Store(time.Now())

	if err == queuestore.ErrWaitTimedOut {
		atomic.AddInt64(&s.lockContended, 1)
		metrics.LockContentionTotal.Inc()
		metrics.TicksTotal.WithLabelValues("lock_contended").Inc()
		s.logger.Warn().Msg("lock contended, skipping this tick")
		if s.broker != nil {
			s.broker.Publish(&alerts.Event{
				Type:    alerts.EventLockContentionProlonged,
				Message: "scheduler tick skipped: distributed lock held elsewhere past max wait",
			})
		}
		return nil
	}
	if err != nil {
		atomic.AddInt64(&s.failed, 1)
		metrics.TicksTotal.WithLabelValues("error").Inc()
		if s.broker != nil {
			s.broker.Publish(&alerts.Event{
				Type:    alerts.EventTickFailed,
				Message: fmt.Sprintf("tick failed: %s", err),
			})
		}
		return err
	}

	atomic.AddInt64(&s.successful, 1)
	metrics.TicksTotal.WithLabelValues("ok").Inc()
	return nil
}

func (s *Scheduler) runCleanup(ctx context.Context) {
	interval := time.Duration(s.opts.CleanupIntervalMin) * time.Minute
	if interval <= 0 {
		interval = 30 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.runCleanupOnce()
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (s *Scheduler) runCleanupOnce() {
	if n, err := s.backups.CleanupCompleted(s.opts.BackupRetention); err != nil {
		s.logger.Error().Err(err).Msg("backup cleanup failed")
	} else if n > 0 {
		s.logger.Info().Int("removed", n).Msg("purged terminal local backup entries")
	}

	failedRetention := s.opts.RegistryRetention * time.Duration(s.opts.RegistryTermFactor)
	if n, err := s.registry.CleanupTerminal(s.opts.RegistryRetention, failedRetention); err != nil {
		s.logger.Error().Err(err).Msg("registry cleanup failed")
	} else if n > 0 {
		s.logger.Info().Int("removed", n).Msg("purged terminal recovery registry entries")
	}
}

// Snapshot returns the current observable run statistics.
func (s *Scheduler) Snapshot() Stats {
	last, _ := s.lastExecution.Load().(time.Time)
	return Stats{
		TotalExecutions: atomic.LoadInt64(&s.totalExecutions),
		Successful:      atomic.LoadInt64(&s.successful),
		Failed:          atomic.LoadInt64(&s.failed),
		LockContended:   atomic.LoadInt64(&s.lockContended),
		LastExecution:   last,
		StartedAt:       s.startedAt,
	}
}
