package services

import (
	"context"
	"fmt"
	"time"

	"github.com/agentx/guardian-backend/internal/config"
	"github.com/agentx/guardian-backend/internal/llm"
	"github.com/agentx/guardian-backend/internal/repository"
	"github.com/sirupsen/logrus"
)

// Options are the external collaborators of the services
type Options struct {
	Config *config.Config
	Store  repository.Store
	// Backend is the raw detection backend; it is wrapped in a llm.Guard
	Backend llm.Client
	DB      Pinger
	Pusher  Pusher
	Crawler Crawler
	Logger  *logrus.Logger
}

// Services holds all service instances
type Services struct {
	// Primary entry point for user events
	Orchestrator *OrchestrationService

	Detector  *Detector
	Cache     *ResultCache
	Profiles  *ProfileEngine
	Memory    *MemoryManager
	Reports   *ReportService
	Notifier  *Notifier
	Health    *HealthMonitor
	Guard     *llm.Guard
	Scheduler *Scheduler

	cfg     *config.Config
	watcher *ProfileWatcher
	logger  *logrus.Logger
}

// NewServices creates all service instances
func NewServices(opts Options) (*Services, error) {
	cfg, log := opts.Config, opts.Logger

	guard := llm.NewGuard(opts.Backend, llm.GuardConfig{
		Timeout:         cfg.Backend.Timeout,
		MaxRetries:      cfg.Backend.MaxRetries,
		RetryBackoff:    cfg.Backend.RetryBackoff,
		RatePerMinute:   cfg.Backend.RatePerMinute,
		BreakerFailures: cfg.Backend.BreakerFailures,
		BreakerCooldown: cfg.Backend.BreakerCooldown,
	}, log)

	cache := NewResultCache(opts.Store.Detections(), cfg.Cache.TTL, log)
	profiles := NewProfileEngine(opts.Store.Profiles(), cache, log)
	notifier := NewNotifier(opts.Store, opts.Pusher, log)
	notifier.SetRepeatWindow(cfg.Cache.TTL)

	crawler := opts.Crawler
	if crawler == nil && cfg.Server.CrawlerURL != "" {
		crawler = NewHTTPCrawler(cfg.Server.CrawlerURL, cfg.Server.CrawlerTimeout)
	}
	detector := NewDetector(guard, cache, profiles, opts.Store.Detections(),
		NewContentResolver(crawler, log), notifier, log)

	memory := NewMemoryManager(opts.Store, NewSummaryService(guard), MemoryConfig{
		WindowSize:       cfg.Memory.WindowSize,
		RetrievalK:       cfg.Memory.RetrievalK,
		SummaryThreshold: cfg.Memory.SummaryThreshold,
		SessionTimeout:   cfg.Memory.SessionTimeout,
	}, log)

	scheduler, err := NewScheduler(MaintenanceJobs(memory, cache, cfg.Memory.RetireSchedule, cfg.Cache.SweepSchedule), log)
	if err != nil {
		memory.Close()
		return nil, err
	}

	s := &Services{
		Orchestrator: NewOrchestrationService(guard, memory, detector, log),
		Detector:     detector,
		Cache:        cache,
		Profiles:     profiles,
		Memory:       memory,
		Reports:      NewReportService(opts.Store.Detections(), guard, log),
		Notifier:     notifier,
		Health:       NewHealthMonitor(opts.DB, guard, cache),
		Guard:        guard,
		Scheduler:    scheduler,
		cfg:          cfg,
		logger:       log,
	}
	return s, nil
}

// Start loads persisted profiles, applies the seed file and starts the
// background jobs
func (s *Services) Start(ctx context.Context) error {
	if err := s.Profiles.Load(ctx); err != nil {
		return err
	}

	if seedFile := s.cfg.Profiles.SeedFile; seedFile != "" {
		if s.cfg.Profiles.Watch {
			w, err := NewProfileWatcher(s.Profiles, seedFile, s.logger)
			if err != nil {
				return err
			}
			if err := w.Start(ctx); err != nil {
				w.watcher.Close()
				return err
			}
			s.watcher = w
		} else {
			seed, err := LoadProfileSeed(seedFile)
			if err != nil {
				return err
			}
			if _, err := s.Profiles.ApplySeed(ctx, seed); err != nil {
				return fmt.Errorf("failed to apply profile seed: %w", err)
			}
		}
	}

	s.Scheduler.Start()
	return nil
}

// Close stops background work
func (s *Services) Close() {
	s.Scheduler.Stop(5 * time.Second)
	if s.watcher != nil {
		if err := s.watcher.Stop(); err != nil {
			s.logger.WithError(err).Warn("Failed to stop profile watcher")
		}
	}
	s.Memory.Close()
}
