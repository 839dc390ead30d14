// Command audit projects the token count and cost of running extraction
// over the current description backlog, without calling any model.
package main

import (
	"context"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	gormlogger "gorm.io/gorm/logger"

	"github.com/gradlane/skillpipe/internal/config"
	"github.com/gradlane/skillpipe/internal/db"
	"github.com/gradlane/skillpipe/internal/llm"
)

const extractPromptOverhead = `You extract professional skills from job descriptions. Return strict JSON. Include hard and soft skills, tools and technologies.`

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	_ = godotenv.Load()

	cfg := config.Get()
	if cfg.DatabaseDSN == "" {
		log.Fatal().Msg("DATABASE_URL is required")
	}

	store, err := db.NewStore(db.Config{
		DSN:      cfg.DatabaseDSN,
		MaxConns: cfg.MaxConns,
		LogLevel: gormlogger.Silent,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("database init failed")
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	docs, err := store.DeltaDescriptions(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("load backlog failed")
	}
	if len(docs) == 0 {
		log.Info().Msg("backlog is empty, nothing to audit")
		return
	}

	texts := make([]string, len(docs))
	for i, d := range docs {
		texts[i] = d.Description
	}

	for _, model := range []string{cfg.CleanModel, cfg.ExtractModel} {
		estimate, err := llm.EstimateCost(model, extractPromptOverhead, texts)
		if err != nil {
			log.Fatal().Err(err).Str("model", model).Msg("estimate failed")
		}
		log.Info().
			Str("model", estimate.Model).
			Int("documents", estimate.Documents).
			Int("prompt_tokens", estimate.PromptTokens).
			Int("estimated_output_tokens", estimate.EstimatedOutput).
			Float64("estimated_cost_usd", estimate.EstimatedCostUSD).
			Msg("extraction cost projection")
	}
}
