package extraction

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/gradlane/skillpipe/internal/db"
	"github.com/gradlane/skillpipe/internal/llm"
)

// Pipeline walks the unprocessed documents, extracts skills from each and
// persists the results with periodic flushes.
type Pipeline struct {
	store      *db.Store
	extractor  *Extractor
	batchSize  int
	flushEvery int
	batchDelay time.Duration
	logger     zerolog.Logger
}

// NewPipeline creates an extraction pipeline. batchSize caps concurrent
// in-flight documents, flushEvery sets the persistence cadence and
// batchDelay is the pause between batches.
func NewPipeline(store *db.Store, extractor *Extractor, batchSize, flushEvery int, batchDelay time.Duration, logger zerolog.Logger) *Pipeline {
	if batchSize <= 0 {
		batchSize = 5
	}
	if flushEvery <= 0 {
		flushEvery = 25
	}
	return &Pipeline{
		store:      store,
		extractor:  extractor,
		batchSize:  batchSize,
		flushEvery: flushEvery,
		batchDelay: batchDelay,
		logger:     logger.With().Str("component", "extraction").Logger(),
	}
}

// Result summarizes one extraction run.
type Result struct {
	Total     int
	Processed int
	Failed    int
}

// Run processes every description without an extraction row. Documents are
// handled in concurrent batches in ID order; a failing document is logged
// and skipped without aborting the run. With an empty delta no model is
// called at all.
func (p *Pipeline) Run(ctx context.Context, usage *llm.Accumulator) (*Result, error) {
	docs, err := p.store.DeltaDescriptions(ctx)
	if err != nil {
		return nil, err
	}
	result := &Result{Total: len(docs)}
	if len(docs) == 0 {
		p.logger.Info().Msg("no new descriptions, extraction skipped")
		return result, nil
	}
	p.logger.Info().Int("documents", len(docs)).Msg("extraction run started")

	ledger := db.NewLedgerTracker(usage)
	var pending []db.ExtractedSkills
	sinceFlush := 0

	for start := 0; start < len(docs); start += p.batchSize {
		end := start + p.batchSize
		if end > len(docs) {
			end = len(docs)
		}
		batch := docs[start:end]
		extracted := make([]*DocumentSkills, len(batch))
		failed := make([]bool, len(batch))

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(p.batchSize)
		for i := range batch {
			g.Go(func() error {
				doc, err := p.extractor.ExtractDocument(gctx, batch[i].Description, usage)
				if err != nil {
					p.logger.Error().Err(err).Int64("description_id", batch[i].ID).
						Msg("document extraction failed, skipping")
					failed[i] = true
					return nil
				}
				extracted[i] = doc
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return result, err
		}

		// Reassemble in input order so flush boundaries are deterministic.
		for i := range batch {
			if failed[i] {
				result.Failed++
				continue
			}
			doc := extracted[i]
			pending = append(pending, db.ExtractedSkills{
				ProcessingID:   batch[i].ID,
				RequiredSkills: doc.RequiredSkills,
				SkillsToLearn:  doc.SkillsToLearn,
				SkillsCSV:      strings.Join(doc.All(), ", "),
			})
			result.Processed++
			sinceFlush++
		}

		if sinceFlush >= p.flushEvery {
			if err := p.flush(ctx, pending, ledger); err != nil {
				return result, err
			}
			pending = pending[:0]
			sinceFlush = 0
		}

		if end < len(docs) && p.batchDelay > 0 {
			select {
			case <-ctx.Done():
				return result, ctx.Err()
			case <-time.After(p.batchDelay):
			}
		}
	}

	if len(pending) > 0 {
		if err := p.flush(ctx, pending, ledger); err != nil {
			return result, err
		}
	}

	p.logger.Info().
		Int("processed", result.Processed).
		Int("failed", result.Failed).
		Msg("extraction run finished")
	return result, nil
}

func (p *Pipeline) flush(ctx context.Context, pending []db.ExtractedSkills, ledger *db.LedgerTracker) error {
	if err := p.store.SaveExtracted(ctx, pending); err != nil {
		return err
	}
	for _, entry := range ledger.Drain("extraction", len(pending)) {
		if err := p.store.AppendLog(ctx, entry); err != nil {
			return err
		}
	}
	p.logger.Debug().Int("documents", len(pending)).Msg("extraction results flushed")
	return nil
}
