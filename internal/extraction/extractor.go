// Package extraction turns raw job descriptions into per-document skill
// lists using a two-stage LLM pass: a cheap cleaning model condenses each
// chunk, then a stronger model extracts skills from the condensed text.
package extraction

import (
	"context"
	"fmt"
	"strings"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/gradlane/skillpipe/internal/chunking"
	"github.com/gradlane/skillpipe/internal/llm"
)

const cleanSystemPrompt = `You condense job descriptions. Remove boilerplate, benefits, legal text and company marketing. Keep every requirement, responsibility, tool, technology and qualification. Reply with the condensed text only.`

const extractSystemPrompt = `You extract professional skills from job descriptions. Return strict JSON of the form {"required_skills": ["skill one"], "skills_to_learn": ["skill two"]}. required_skills are mandatory qualifications; skills_to_learn are nice-to-have or will-be-taught items. Include hard and soft skills, tools and technologies. Use short noun phrases. No duplicates, no commentary.`

// Extractor runs the two-stage extraction for a single document.
type Extractor struct {
	client        *llm.Client
	cleanModel    string
	extractModel  string
	maxChunkChars int
	logger        zerolog.Logger
}

// NewExtractor creates an Extractor.
func NewExtractor(client *llm.Client, cleanModel, extractModel string, maxChunkChars int, logger zerolog.Logger) *Extractor {
	if maxChunkChars <= 0 {
		maxChunkChars = chunking.DefaultMaxChars
	}
	return &Extractor{
		client:        client,
		cleanModel:    cleanModel,
		extractModel:  extractModel,
		maxChunkChars: maxChunkChars,
		logger:        logger.With().Str("component", "extractor").Logger(),
	}
}

type skillsPayload struct {
	RequiredSkills []string `json:"required_skills"`
	SkillsToLearn  []string `json:"skills_to_learn"`
}

// DocumentSkills is the extraction result for one document.
type DocumentSkills struct {
	RequiredSkills []string
	SkillsToLearn  []string
}

// All returns both lists merged, case-insensitively deduplicated, required
// skills first.
func (d DocumentSkills) All() []string {
	return DedupSkills(append(append([]string{}, d.RequiredSkills...), d.SkillsToLearn...))
}

// ExtractDocument cleans each chunk of the description and extracts
// deduplicated skill lists from the condensed whole.
func (e *Extractor) ExtractDocument(ctx context.Context, text string, usage *llm.Accumulator) (*DocumentSkills, error) {
	chunks := chunking.Split(text, e.maxChunkChars)
	if len(chunks) == 0 {
		return &DocumentSkills{}, nil
	}

	cleaned := make([]string, 0, len(chunks))
	for i, chunk := range chunks {
		condensed, err := e.clean(ctx, chunk, usage)
		if err != nil {
			return nil, fmt.Errorf("clean chunk %d/%d: %w", i+1, len(chunks), err)
		}
		cleaned = append(cleaned, condensed)
	}

	doc, err := e.extract(ctx, strings.Join(cleaned, "\n\n"), usage)
	if err != nil {
		return nil, err
	}
	doc.RequiredSkills = DedupSkills(doc.RequiredSkills)
	doc.SkillsToLearn = DedupSkills(doc.SkillsToLearn)
	return doc, nil
}

func (e *Extractor) clean(ctx context.Context, chunk string, usage *llm.Accumulator) (string, error) {
	resp, err := e.client.Complete(ctx, llm.Request{
		Model: e.cleanModel,
		Messages: []llm.Message{
			{Role: "system", Content: cleanSystemPrompt},
			{Role: "user", Content: chunk},
		},
	})
	if err != nil {
		return "", err
	}
	usage.Add(resp.Usage)

	condensed := strings.TrimSpace(resp.Content)
	if condensed == "" {
		// An empty cleaning reply would lose the whole chunk.
		e.logger.Warn().Str("model", e.cleanModel).Msg("empty cleaning reply, keeping raw chunk")
		return chunk, nil
	}
	return condensed, nil
}

func (e *Extractor) extract(ctx context.Context, condensed string, usage *llm.Accumulator) (*DocumentSkills, error) {
	resp, err := e.client.Complete(ctx, llm.Request{
		Model: e.extractModel,
		Messages: []llm.Message{
			{Role: "system", Content: extractSystemPrompt},
			{Role: "user", Content: condensed},
		},
		JSONMode: true,
	})
	if err != nil {
		return nil, err
	}
	usage.Add(resp.Usage)

	// A malformed reply contributes zero mentions. The document is still
	// persisted, so it leaves the delta instead of re-paying the cleaning
	// calls on every run.
	raw, ok := llm.ExtractJSONObject(resp.Content)
	if !ok {
		e.logger.Warn().Str("model", e.extractModel).
			Str("reply", truncateReply(resp.Content)).
			Msg("extraction reply contains no JSON object, keeping zero skills")
		return &DocumentSkills{}, nil
	}
	var payload skillsPayload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		e.logger.Warn().Err(err).Str("model", e.extractModel).
			Str("reply", truncateReply(resp.Content)).
			Msg("extraction reply unparseable, keeping zero skills")
		return &DocumentSkills{}, nil
	}
	return &DocumentSkills{
		RequiredSkills: payload.RequiredSkills,
		SkillsToLearn:  payload.SkillsToLearn,
	}, nil
}

func truncateReply(s string) string {
	const max = 200
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

// DedupSkills removes case-insensitive duplicates, keeping the first form
// seen and the original order. Blank entries are dropped.
func DedupSkills(skills []string) []string {
	seen := make(map[string]struct{}, len(skills))
	out := make([]string, 0, len(skills))
	for _, s := range skills {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		key := strings.ToLower(s)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, s)
	}
	return out
}
