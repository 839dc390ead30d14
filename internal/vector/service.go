package vector

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/gradlane/skillpipe/internal/db"
	"github.com/gradlane/skillpipe/internal/llm"
)

// Sink is the vector persistence surface the embedding service writes to.
// *Store implements it against pgvector; tests substitute an in-memory fake.
type Sink interface {
	InsertBatch(ctx context.Context, rows []SkillVector) error
	EmbeddedExtractedIDs(ctx context.Context) (map[int64]struct{}, error)
}

// Service embeds extracted skill strings and persists the vectors.
type Service struct {
	store    *db.Store
	sink     Sink
	embedder *Embedder
	logger   zerolog.Logger
}

// NewService creates an embedding service.
func NewService(store *db.Store, sink Sink, embedder *Embedder, logger zerolog.Logger) *Service {
	return &Service{
		store:    store,
		sink:     sink,
		embedder: embedder,
		logger:   logger.With().Str("component", "embedding").Logger(),
	}
}

// RunResult summarizes one embedding run.
type RunResult struct {
	Rows     int
	Embedded int
}

// Run embeds every skill occurrence from extraction rows that have no
// vectors yet. Already embedded rows are skipped, so reruns are cheap.
func (s *Service) Run(ctx context.Context, usage *llm.Accumulator) (*RunResult, error) {
	rows, err := s.store.AllExtracted(ctx)
	if err != nil {
		return nil, err
	}
	done, err := s.sink.EmbeddedExtractedIDs(ctx)
	if err != nil {
		return nil, err
	}

	var texts []string
	var owners []int64
	result := &RunResult{}
	for _, row := range rows {
		if _, ok := done[row.ID]; ok {
			continue
		}
		result.Rows++
		for _, name := range row.Mentions() {
			texts = append(texts, name)
			owners = append(owners, row.ID)
		}
	}
	if len(texts) == 0 {
		s.logger.Info().Msg("no new skills to embed")
		return result, nil
	}

	embeddings, err := s.embedder.EmbedBatch(ctx, texts, usage)
	if err != nil {
		return nil, err
	}

	out := make([]SkillVector, len(texts))
	for i := range texts {
		out[i] = SkillVector{
			ExtractedID: owners[i],
			SkillName:   texts[i],
			Embedding:   toVector(embeddings[i]),
		}
	}
	if err := s.sink.InsertBatch(ctx, out); err != nil {
		return nil, err
	}
	result.Embedded = len(out)

	s.logger.Info().
		Int("rows", result.Rows).
		Int("vectors", result.Embedded).
		Msg("embedding run finished")
	return result, nil
}
