package services

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Job is a named periodic maintenance task
type Job struct {
	Name     string
	Schedule string
	Run      func(ctx context.Context) (int64, error)
}

// Scheduler runs maintenance jobs on cron schedules
type Scheduler struct {
	cron   *cron.Cron
	jobs   []Job
	logger *logrus.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

// NewScheduler registers jobs. Jobs with an empty schedule are skipped.
func NewScheduler(jobs []Job, logger *logrus.Logger) (*Scheduler, error) {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		cron:   cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}

	for _, job := range jobs {
		if job.Schedule == "" {
			continue
		}
		if _, err := s.cron.AddFunc(job.Schedule, func() { s.execute(job) }); err != nil {
			cancel()
			return nil, fmt.Errorf("invalid schedule %q for job %s: %w", job.Schedule, job.Name, err)
		}
		s.jobs = append(s.jobs, job)
	}
	return s, nil
}

func (s *Scheduler) execute(job Job) {
	start := time.Now()
	n, err := job.Run(s.ctx)
	log := s.logger.WithFields(logrus.Fields{"job": job.Name, "duration": time.Since(start)})
	if err != nil {
		log.WithError(err).Warn("Scheduled job failed")
		return
	}
	if n > 0 {
		log.WithField("affected", n).Info("Scheduled job completed")
	}
}

// Start begins running jobs
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Infof("Scheduler started with %d jobs", len(s.jobs))
}

// Stop stops the scheduler and waits for running jobs up to timeout
func (s *Scheduler) Stop(timeout time.Duration) {
	s.cancel()
	stopCtx := s.cron.Stop()
	select {
	case <-stopCtx.Done():
	case <-time.After(timeout):
		s.logger.Warn("Scheduler stop timed out waiting for running jobs")
	}
}

// MaintenanceJobs returns the session retirement and cache sweep jobs
func MaintenanceJobs(memory *MemoryManager, cache *ResultCache, retireSchedule, sweepSchedule string) []Job {
	return []Job{
		{
			Name:     "retire_sessions",
			Schedule: retireSchedule,
			Run:      memory.RetireIdle,
		},
		{
			Name:     "sweep_cache",
			Schedule: sweepSchedule,
			Run: func(ctx context.Context) (int64, error) {
				n, err := cache.Sweep(ctx)
				return int64(n), err
			},
		},
	}
}
