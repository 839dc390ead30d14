package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	gormlogger "gorm.io/gorm/logger"

	"github.com/gradlane/skillpipe/internal/config"
	"github.com/gradlane/skillpipe/internal/db"
	"github.com/gradlane/skillpipe/internal/enrichment"
	"github.com/gradlane/skillpipe/internal/extraction"
	"github.com/gradlane/skillpipe/internal/llm"
	"github.com/gradlane/skillpipe/internal/normalization"
	"github.com/gradlane/skillpipe/internal/promotion"
	"github.com/gradlane/skillpipe/internal/vector"
	"github.com/gradlane/skillpipe/internal/worker"
)

// version is set at build time via -ldflags.
var version = "dev"

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

	client, err := llm.NewClient(cfg.OpenAIBaseURL, cfg.OpenAIAPIKey, log.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("llm client init failed")
	}
	embedder, err := vector.NewEmbedder(cfg.OpenAIBaseURL, cfg.OpenAIAPIKey, cfg.EmbedModel, cfg.EmbedBatchSize, log.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("embedder init failed")
	}

	vecStore := vector.NewStore(store.DB, cfg.InsertBatchSize)
	extractor := extraction.NewExtractor(client, cfg.CleanModel, cfg.ExtractModel, cfg.MaxChunkChars, log.Logger)

	svc := worker.NewService(version, cfg, worker.Deps{
		Store: store,
		ExtractionPipeline: extraction.NewPipeline(store, extractor,
			cfg.ExtractBatchSize, cfg.FlushEvery, cfg.InterBatchDelay, log.Logger),
		Normalizer: normalization.NewOrchestrator(store, client,
			cfg.NormalizeModel, cfg.NormalizeChunkSize, cfg.MinBatchFloor, log.Logger),
		EmbedService: vector.NewService(store, vecStore, embedder, log.Logger),
		Promoter:     promotion.NewPromoter(store, vecStore, cfg.ClusterTopK, cfg.ClusterThreshold, log.Logger),
		Enricher:     enrichment.NewService(store, extractor, log.Logger),
	})

	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
		log.Info().Msg("shutting down")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := svc.Shutdown(ctx); err != nil {
			log.Error().Err(err).Msg("shutdown error")
		}
	}()

	if err := svc.Start(); err != nil {
		log.Fatal().Err(err).Msg("worker exited")
	}
}
