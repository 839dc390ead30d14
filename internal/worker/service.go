// Package worker hosts the pipeline behind an HTTP control surface and an
// optional cron schedule. One run may be in flight at a time: an in-process
// lock rejects concurrent triggers and a database advisory lock keeps other
// processes out.
package worker

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/gradlane/skillpipe/internal/config"
	"github.com/gradlane/skillpipe/internal/db"
	"github.com/gradlane/skillpipe/internal/enrichment"
	"github.com/gradlane/skillpipe/internal/extraction"
	"github.com/gradlane/skillpipe/internal/llm"
	"github.com/gradlane/skillpipe/internal/normalization"
	"github.com/gradlane/skillpipe/internal/promotion"
	"github.com/gradlane/skillpipe/internal/vector"
)

// Service wires the pipeline stages behind HTTP and cron triggers.
type Service struct {
	version string
	config  *config.Config
	store   *db.Store

	extractionPipeline *extraction.Pipeline
	normalizer         *normalization.Orchestrator
	embedService       *vector.Service
	promoter           *promotion.Promoter
	enricher           *enrichment.Service

	router    *chi.Mux
	server    *http.Server
	scheduler *cron.Cron
	startTime time.Time

	runMu    sync.Mutex
	lastRun  *RunSummary
	lastRunM sync.RWMutex

	logger zerolog.Logger
}

// Deps carries the constructed stages into the service.
type Deps struct {
	Store              *db.Store
	ExtractionPipeline *extraction.Pipeline
	Normalizer         *normalization.Orchestrator
	EmbedService       *vector.Service
	Promoter           *promotion.Promoter
	Enricher           *enrichment.Service
}

// NewService creates the worker service and registers its routes.
func NewService(version string, cfg *config.Config, deps Deps) *Service {
	svc := &Service{
		version:            version,
		config:             cfg,
		store:              deps.Store,
		extractionPipeline: deps.ExtractionPipeline,
		normalizer:         deps.Normalizer,
		embedService:       deps.EmbedService,
		promoter:           deps.Promoter,
		enricher:           deps.Enricher,
		router:             chi.NewRouter(),
		startTime:          time.Now(),
		logger:             log.With().Str("component", "worker").Logger(),
	}

	svc.router.Use(middleware.RequestID)
	svc.router.Use(middleware.Recoverer)
	svc.router.Use(middleware.Timeout(10 * time.Minute))
	svc.setupRoutes()

	if cfg.CronSchedule != "" {
		svc.scheduler = cron.New()
		if _, err := svc.scheduler.AddFunc(cfg.CronSchedule, svc.scheduledRun); err != nil {
			svc.logger.Error().Err(err).Str("schedule", cfg.CronSchedule).
				Msg("invalid cron schedule, scheduled runs disabled")
			svc.scheduler = nil
		}
	}

	return svc
}

// Start begins serving HTTP and, when configured, the cron schedule.
// Blocks until the server stops.
func (s *Service) Start() error {
	if s.scheduler != nil {
		s.scheduler.Start()
		s.logger.Info().Str("schedule", s.config.CronSchedule).Msg("cron schedule active")
	}

	addr := fmt.Sprintf(":%d", s.config.WorkerPort)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info().Str("addr", addr).Str("version", s.version).Msg("worker listening")

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown stops the scheduler and drains the HTTP server.
func (s *Service) Shutdown(ctx context.Context) error {
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// RunSummary is the outcome of one full pipeline run.
type RunSummary struct {
	RunID        string                           `json:"run_id"`
	StartedAt    time.Time                        `json:"started_at"`
	FinishedAt   time.Time                        `json:"finished_at"`
	Extraction   *extraction.Result               `json:"extraction,omitempty"`
	Normalized   *normalization.Result            `json:"normalization,omitempty"`
	Consolidated *normalization.ConsolidateResult `json:"consolidation,omitempty"`
	Embedded     *vector.RunResult                `json:"embedding,omitempty"`
	Promoted     *promotion.Result                `json:"promotion,omitempty"`
	Enriched     *enrichment.Result               `json:"enrichment,omitempty"`
	TotalCostUSD float64                          `json:"total_cost_usd"`
	Error        string                           `json:"error,omitempty"`
}

// ErrRunInProgress reports a rejected trigger while a run holds the lock.
var ErrRunInProgress = fmt.Errorf("a pipeline run is already in progress")

// runExclusive executes fn holding both the in-process and the database
// lock. Returns ErrRunInProgress without blocking when either is taken.
func (s *Service) runExclusive(ctx context.Context, fn func(context.Context) error) error {
	if !s.runMu.TryLock() {
		return ErrRunInProgress
	}
	defer s.runMu.Unlock()

	acquired, err := s.store.AcquireRunLock(ctx)
	if err != nil {
		return err
	}
	if !acquired {
		return ErrRunInProgress
	}
	defer func() {
		if err := s.store.ReleaseRunLock(ctx); err != nil {
			s.logger.Error().Err(err).Msg("release run lock failed")
		}
	}()

	return fn(ctx)
}

// runPipeline executes every stage in order. A stage error aborts the run;
// completed stages keep their results.
func (s *Service) runPipeline(ctx context.Context) *RunSummary {
	summary := &RunSummary{RunID: uuid.NewString(), StartedAt: time.Now()}
	usage := llm.NewAccumulator()
	logger := s.logger.With().Str("run_id", summary.RunID).Logger()

	err := func() error {
		var err error
		if summary.Extraction, err = s.extractionPipeline.Run(ctx, usage); err != nil {
			return fmt.Errorf("extraction: %w", err)
		}
		if summary.Normalized, err = s.normalizer.Run(ctx, usage); err != nil {
			return fmt.Errorf("normalization: %w", err)
		}
		if summary.Consolidated, err = normalization.Consolidate(ctx, s.store, logger); err != nil {
			return fmt.Errorf("consolidation: %w", err)
		}
		if summary.Embedded, err = s.embedService.Run(ctx, usage); err != nil {
			return fmt.Errorf("embedding: %w", err)
		}
		if summary.Promoted, err = s.promoter.Run(ctx); err != nil {
			return fmt.Errorf("promotion: %w", err)
		}
		if summary.Enriched, err = s.enricher.Run(ctx, usage); err != nil {
			return fmt.Errorf("enrichment: %w", err)
		}
		return nil
	}()
	if err != nil {
		summary.Error = err.Error()
		logger.Error().Err(err).Msg("pipeline run failed")
	}

	summary.FinishedAt = time.Now()
	summary.TotalCostUSD = usage.TotalCost()
	usage.LogSummary(logger)

	s.lastRunM.Lock()
	s.lastRun = summary
	s.lastRunM.Unlock()
	return summary
}

func (s *Service) scheduledRun() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Hour)
	defer cancel()

	err := s.runExclusive(ctx, func(ctx context.Context) error {
		s.runPipeline(ctx)
		return nil
	})
	if err == ErrRunInProgress {
		s.logger.Warn().Msg("scheduled run skipped, another run in progress")
		return
	}
	if err != nil {
		s.logger.Error().Err(err).Msg("scheduled run failed")
	}
}

// LastRun returns the most recent run summary, or nil before the first run.
func (s *Service) LastRun() *RunSummary {
	s.lastRunM.RLock()
	defer s.lastRunM.RUnlock()
	return s.lastRun
}
