package worker

import (
	"context"
	"net/http"
	"time"

	"github.com/goccy/go-json"

	"github.com/gradlane/skillpipe/internal/llm"
	"github.com/gradlane/skillpipe/internal/normalization"
)

func (s *Service) setupRoutes() {
	s.router.Get("/api/health", s.handleHealth)
	s.router.Get("/api/stats", s.handleStats)
	s.router.Get("/api/runs/last", s.handleLastRun)
	s.router.Get("/api/usage", s.handleUsage)
	s.router.Get("/api/skills", s.handleSkills)

	s.router.Post("/api/run", s.handleFullRun)
	s.router.Post("/api/run/extraction", s.stageHandler("extraction", func(ctx context.Context, usage *llm.Accumulator) (any, error) {
		return s.extractionPipeline.Run(ctx, usage)
	}))
	s.router.Post("/api/run/normalization", s.stageHandler("normalization", func(ctx context.Context, usage *llm.Accumulator) (any, error) {
		return s.normalizer.Run(ctx, usage)
	}))
	s.router.Post("/api/run/consolidation", s.stageHandler("consolidation", func(ctx context.Context, _ *llm.Accumulator) (any, error) {
		return normalization.Consolidate(ctx, s.store, s.logger)
	}))
	s.router.Post("/api/run/embedding", s.stageHandler("embedding", func(ctx context.Context, usage *llm.Accumulator) (any, error) {
		return s.embedService.Run(ctx, usage)
	}))
	s.router.Post("/api/run/promotion", s.stageHandler("promotion", func(ctx context.Context, _ *llm.Accumulator) (any, error) {
		return s.promoter.Run(ctx)
	}))
	s.router.Post("/api/run/enrichment", s.stageHandler("enrichment", func(ctx context.Context, usage *llm.Accumulator) (any, error) {
		return s.enricher.Run(ctx, usage)
	}))
}

func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	if err := s.store.Ping(); err != nil {
		status = "unhealthy"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  status,
		"version": s.version,
		"uptime":  time.Since(s.startTime).String(),
	})
}

func (s *Service) handleStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	docs, err := s.store.CountDescriptions(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	extracted, err := s.store.CountExtracted(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	skills, err := s.store.AllSkills(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"descriptions": docs,
		"extracted":    extracted,
		"backlog":      docs - extracted,
		"skills":       len(skills),
	})
}

func (s *Service) handleLastRun(w http.ResponseWriter, r *http.Request) {
	last := s.LastRun()
	if last == nil {
		writeError(w, http.StatusNotFound, "no run recorded yet")
		return
	}
	writeJSON(w, http.StatusOK, last)
}

func (s *Service) handleUsage(w http.ResponseWriter, r *http.Request) {
	since := time.Now().AddDate(0, 0, -7)
	if raw := r.URL.Query().Get("since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "since must be RFC3339")
			return
		}
		since = parsed
	}

	logs, err := s.store.LogsSince(r.Context(), since)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	var cost float64
	for _, entry := range logs {
		cost += entry.CostUSD
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"since":          since,
		"entries":        logs,
		"total_cost_usd": cost,
	})
}

func (s *Service) handleSkills(w http.ResponseWriter, r *http.Request) {
	skills, err := s.store.AllSkills(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"count":  len(skills),
		"skills": skills,
	})
}

func (s *Service) handleFullRun(w http.ResponseWriter, r *http.Request) {
	var summary *RunSummary
	err := s.runExclusive(r.Context(), func(ctx context.Context) error {
		summary = s.runPipeline(ctx)
		return nil
	})
	if err == ErrRunInProgress {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	status := http.StatusOK
	if summary.Error != "" {
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, summary)
}

// stageHandler wraps a single stage behind the run lock.
func (s *Service) stageHandler(name string, run func(context.Context, *llm.Accumulator) (any, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		usage := llm.NewAccumulator()
		var result any
		err := s.runExclusive(r.Context(), func(ctx context.Context) error {
			var err error
			result, err = run(ctx, usage)
			return err
		})
		if err == ErrRunInProgress {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		if err != nil {
			s.logger.Error().Err(err).Str("stage", name).Msg("stage run failed")
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"stage":          name,
			"result":         result,
			"total_cost_usd": usage.TotalCost(),
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
