// Package normalization folds freshly extracted skill strings into the
// canonical dictionary. Dice-similar dictionary entries ground each LLM
// resolution call, and frequency counts are added to the dictionary's
// reference counters.
package normalization

import (
	"context"
	"fmt"
	"strings"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/gradlane/skillpipe/internal/db"
	"github.com/gradlane/skillpipe/internal/llm"
	"github.com/gradlane/skillpipe/pkg/similarity"
	"github.com/gradlane/skillpipe/pkg/skill"
)

const normalizeSystemPrompt = `You unify skill names. For every input skill pick the best matching canonical name from its candidate list, or produce a clean canonical form if none fits. Return strict JSON of the form {"mappings": {"input skill": "Canonical Name"}} covering every input. No commentary.`

// Orchestrator runs the normalization stage.
type Orchestrator struct {
	store         *db.Store
	client        *llm.Client
	model         string
	chunkSize     int
	minBatchFloor int
	logger        zerolog.Logger
}

// NewOrchestrator creates a normalization orchestrator. chunkSize caps
// unique skills per LLM call; runs with fewer than minBatchFloor new
// documents are deferred.
func NewOrchestrator(store *db.Store, client *llm.Client, model string, chunkSize, minBatchFloor int, logger zerolog.Logger) *Orchestrator {
	if chunkSize <= 0 {
		chunkSize = 200
	}
	return &Orchestrator{
		store:         store,
		client:        client,
		model:         model,
		chunkSize:     chunkSize,
		minBatchFloor: minBatchFloor,
		logger:        logger.With().Str("component", "normalization").Logger(),
	}
}

// Result summarizes one normalization run.
type Result struct {
	Documents    int
	UniqueSkills int
	Chunks       int
	Deferred     bool
	Fallbacks    int
}

type uniqueSkill struct {
	raw   string // first surface form seen
	count int64  // occurrences across all documents
}

// Run folds every unnormalized extraction row into the dictionary. With no
// new rows the model is never called; with fewer than the batch floor the
// run is deferred so tiny batches do not burn calls.
func (o *Orchestrator) Run(ctx context.Context, usage *llm.Accumulator) (*Result, error) {
	rows, err := o.store.UnnormalizedExtracted(ctx)
	if err != nil {
		return nil, err
	}
	result := &Result{Documents: len(rows)}
	if len(rows) == 0 {
		o.logger.Info().Msg("no new extractions, normalization skipped")
		return result, nil
	}
	if len(rows) < o.minBatchFloor {
		result.Deferred = true
		o.logger.Info().Int("documents", len(rows)).Int("floor", o.minBatchFloor).
			Msg("normalization deferred until batch floor is reached")
		return result, nil
	}

	unique := collectUnique(rows)
	result.UniqueSkills = len(unique)
	o.logger.Info().Int("documents", len(rows)).Int("unique_skills", len(unique)).
		Msg("normalization run started")

	ledger := db.NewLedgerTracker(usage)
	resolved := make(map[string]string, len(unique))
	for start := 0; start < len(unique); start += o.chunkSize {
		end := start + o.chunkSize
		if end > len(unique) {
			end = len(unique)
		}
		chunk := unique[start:end]
		result.Chunks++

		// Fresh corpus per chunk so entries created by earlier chunks
		// ground later ones.
		corpus, err := o.store.CanonicalNames(ctx)
		if err != nil {
			return result, err
		}

		mappings, fellBack, err := o.resolveChunk(ctx, chunk, corpus, usage)
		if err != nil {
			return result, err
		}
		if fellBack {
			result.Fallbacks++
		}

		for _, u := range chunk {
			target, ok := mappings[strings.ToLower(u.raw)]
			if !ok || strings.TrimSpace(target) == "" {
				target = u.raw
			}
			canonical := skill.Canonicalize(target)
			if canonical == "" {
				continue
			}
			resolved[strings.ToLower(u.raw)] = canonical
			if err := o.store.UpsertSkillCount(ctx, canonical, canonical, u.count); err != nil {
				return result, err
			}
		}

		for _, entry := range ledger.Drain("normalization", len(chunk)) {
			if err := o.store.AppendLog(ctx, entry); err != nil {
				return result, err
			}
		}
	}

	// Fold the resolved mapping back into the document rows so downstream
	// stages read canonical names everywhere.
	for i := range rows {
		row := &rows[i]
		row.RequiredSkills = canonicalizeList(row.RequiredSkills, resolved)
		row.SkillsToLearn = canonicalizeList(row.SkillsToLearn, resolved)
		row.SkillsCSV = strings.Join(row.Mentions(), ", ")
		if err := o.store.SaveNormalized(ctx, row); err != nil {
			return result, err
		}
	}

	o.logger.Info().
		Int("chunks", result.Chunks).
		Int("fallbacks", result.Fallbacks).
		Msg("normalization run finished")
	return result, nil
}

// collectUnique flattens the rows into case-insensitively unique skills
// with occurrence counts, in first-seen order. A skill appearing twice in
// one document counts once; counts are per document.
func collectUnique(rows []db.ExtractedSkills) []uniqueSkill {
	index := make(map[string]int)
	var out []uniqueSkill
	for _, row := range rows {
		for _, raw := range row.Mentions() {
			raw = strings.TrimSpace(raw)
			if raw == "" {
				continue
			}
			key := strings.ToLower(raw)
			if i, ok := index[key]; ok {
				out[i].count++
				continue
			}
			index[key] = len(out)
			out = append(out, uniqueSkill{raw: raw, count: 1})
		}
	}
	return out
}

// canonicalizeList maps every entry through the resolved mapping, falling
// back to direct canonicalization, and drops duplicates in order.
func canonicalizeList(list db.StringArray, resolved map[string]string) db.StringArray {
	seen := make(map[string]struct{}, len(list))
	out := make(db.StringArray, 0, len(list))
	for _, raw := range list {
		canonical, ok := resolved[strings.ToLower(strings.TrimSpace(raw))]
		if !ok {
			canonical = skill.Canonicalize(raw)
		}
		if canonical == "" {
			continue
		}
		if _, dup := seen[canonical]; dup {
			continue
		}
		seen[canonical] = struct{}{}
		out = append(out, canonical)
	}
	return out
}

type mappingsPayload struct {
	Mappings map[string]string `json:"mappings"`
}

// resolveChunk asks the model to map each skill to a canonical name,
// grounding every skill with its Dice-nearest dictionary entries. A reply
// that cannot be parsed degrades to the identity mapping; the chunk is
// never lost. Returned keys are lowercased.
func (o *Orchestrator) resolveChunk(ctx context.Context, chunk []uniqueSkill, corpus []string, usage *llm.Accumulator) (map[string]string, bool, error) {
	var b strings.Builder
	for _, u := range chunk {
		candidates := similarity.FindSimilar(u.raw, corpus,
			similarity.GroundingMaxResults, similarity.GroundingThreshold)
		if len(candidates) == 0 {
			fmt.Fprintf(&b, "%s -> no candidates\n", u.raw)
			continue
		}
		fmt.Fprintf(&b, "%s -> candidates: %s\n", u.raw, strings.Join(candidates, "; "))
	}

	resp, err := o.client.Complete(ctx, llm.Request{
		Model: o.model,
		Messages: []llm.Message{
			{Role: "system", Content: normalizeSystemPrompt},
			{Role: "user", Content: b.String()},
		},
		JSONMode: true,
	})
	if err != nil {
		return nil, false, err
	}
	usage.Add(resp.Usage)

	raw, ok := llm.ExtractJSONObject(resp.Content)
	if !ok {
		o.logger.Warn().Str("model", o.model).
			Msg("normalization reply contains no JSON, using identity mapping")
		return map[string]string{}, true, nil
	}
	var payload mappingsPayload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		o.logger.Warn().Err(err).Str("model", o.model).
			Msg("normalization reply unparseable, using identity mapping")
		return map[string]string{}, true, nil
	}

	mappings := make(map[string]string, len(payload.Mappings))
	for k, v := range payload.Mappings {
		mappings[strings.ToLower(strings.TrimSpace(k))] = v
	}
	return mappings, false, nil
}
