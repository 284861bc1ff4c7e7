package backup

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
)

// RunResult records the outcome of one scheduled backup run.
type RunResult struct {
	Stats     *RunStats
	Err       error
	StartedAt time.Time
	EndedAt   time.Time
}

// Scheduler runs periodic backups on a cron expression via gocron and
// remembers the most recent outcome of each named job so a caller (or a
// future status endpoint) can inspect how the last scheduled run went
// without re-running it.
type Scheduler struct {
	mu        sync.Mutex
	scheduler gocron.Scheduler
	jobs      map[string]gocron.Job
	lastRun   map[string]RunResult
	now       func() time.Time
	logger    *slog.Logger
}

func newScheduler(logger *slog.Logger, maxConcurrent int, now func() time.Time) (*Scheduler, error) {
	if maxConcurrent <= 0 {
		maxConcurrent = 4
	}
	if now == nil {
		now = time.Now
	}
	s, err := gocron.NewScheduler(
		gocron.WithLimitConcurrentJobs(uint(maxConcurrent), gocron.LimitModeWait),
	)
	if err != nil {
		return nil, fmt.Errorf("backup: create cron scheduler: %w", err)
	}
	return &Scheduler{
		scheduler: s,
		jobs:      make(map[string]gocron.Job),
		lastRun:   make(map[string]RunResult),
		now:       now,
		logger:    logger,
	}, nil
}

// AddJob registers a named cron job that invokes run on each trigger and
// records its RunStats/error for LastRun. The name must be unique.
func (s *Scheduler) AddJob(name, cronExpr string, run func() (*RunStats, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[name]; exists {
		return fmt.Errorf("backup: scheduled job already exists: %s", name)
	}

	task := func() {
		started := s.now()
		stats, err := run()
		result := RunResult{Stats: stats, Err: err, StartedAt: started, EndedAt: s.now()}

		s.mu.Lock()
		s.lastRun[name] = result
		s.mu.Unlock()

		if err != nil {
			s.logger.Error("scheduled backup run failed", "name", name, "error", err)
			return
		}
		s.logger.Info("scheduled backup run finished", "name", name, "summary", stats.Summary())
	}

	j, err := s.scheduler.NewJob(
		gocron.CronJob(cronExpr, true),
		gocron.NewTask(task),
		gocron.WithName(name),
	)
	if err != nil {
		return fmt.Errorf("backup: create scheduled job %s: %w", name, err)
	}

	s.jobs[name] = j
	s.logger.Info("scheduled backup job added", "name", name, "cron", cronExpr)
	return nil
}

// LastRun returns the most recently recorded outcome of the named job, if
// it has run at least once since this Scheduler was created.
func (s *Scheduler) LastRun(name string) (RunResult, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.lastRun[name]
	return r, ok
}

// Start begins executing registered cron jobs on their schedule.
func (s *Scheduler) Start() {
	s.scheduler.Start()
}

// Stop shuts down the scheduler, waiting for any in-flight run to finish.
func (s *Scheduler) Stop() error {
	return s.scheduler.Shutdown()
}
