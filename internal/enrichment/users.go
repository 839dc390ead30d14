// Package enrichment maps user profile text onto the canonical skill
// dictionary, linking each user to the skills their resume evidences.
package enrichment

import (
	"context"
	"strings"

	"github.com/rs/zerolog"

	"github.com/gradlane/skillpipe/internal/db"
	"github.com/gradlane/skillpipe/internal/extraction"
	"github.com/gradlane/skillpipe/internal/llm"
	"github.com/gradlane/skillpipe/pkg/similarity"
	"github.com/gradlane/skillpipe/pkg/skill"
)

// MatchThreshold is the minimum string similarity between an extracted
// resume skill and a dictionary entry for the entry to be reused. Resume
// skills below it become new dictionary entries with zero references;
// only document mentions move the reference counters.
const MatchThreshold = similarity.ConsolidationThreshold

// Service enriches users with canonical skill links.
type Service struct {
	store     *db.Store
	extractor *extraction.Extractor
	logger    zerolog.Logger
}

// NewService creates an enrichment service.
func NewService(store *db.Store, extractor *extraction.Extractor, logger zerolog.Logger) *Service {
	return &Service{
		store:     store,
		extractor: extractor,
		logger:    logger.With().Str("component", "enrichment").Logger(),
	}
}

// Result summarizes one enrichment run.
type Result struct {
	Users     int
	Processed int
	Failed    int
	Linked    int
	Minted    int
}

// Run extracts skills from every user's resume and links each against the
// dictionary. A skill without a close dictionary match is inserted as a
// new entry and then linked, and later users in the same run match against
// it. A failing user is logged and skipped.
func (s *Service) Run(ctx context.Context, usage *llm.Accumulator) (*Result, error) {
	users, err := s.store.AllUsers(ctx)
	if err != nil {
		return nil, err
	}
	result := &Result{Users: len(users)}
	if len(users) == 0 {
		s.logger.Info().Msg("no users, enrichment skipped")
		return result, nil
	}

	dictionary, err := s.store.AllSkills(ctx)
	if err != nil {
		return nil, err
	}
	corpus := make([]string, len(dictionary))
	byCanonical := make(map[string]int64, len(dictionary))
	for i, d := range dictionary {
		corpus[i] = d.CanonicalName
		byCanonical[strings.ToLower(d.CanonicalName)] = d.ID
	}

	for _, user := range users {
		if strings.TrimSpace(user.Resume) == "" {
			continue
		}
		doc, err := s.extractor.ExtractDocument(ctx, user.Resume, usage)
		if err != nil {
			s.logger.Error().Err(err).Int64("user_id", user.ID).
				Msg("user skill extraction failed, skipping")
			result.Failed++
			continue
		}
		result.Processed++

		for _, raw := range doc.All() {
			candidate := skill.Canonicalize(raw)
			if candidate == "" {
				continue
			}
			var skillID int64
			best, score := similarity.BestMatch(candidate, corpus)
			if score >= MatchThreshold {
				id, ok := byCanonical[strings.ToLower(best)]
				if !ok {
					continue
				}
				skillID = id
			} else {
				entry, err := s.store.GetOrCreateSkill(ctx, candidate, strings.TrimSpace(raw))
				if err != nil {
					return result, err
				}
				skillID = entry.ID
				corpus = append(corpus, entry.CanonicalName)
				byCanonical[strings.ToLower(entry.CanonicalName)] = entry.ID
				result.Minted++
			}
			if err := s.store.LinkSkillToUser(ctx, user.ID, skillID); err != nil {
				return result, err
			}
			result.Linked++
		}
	}

	s.logger.Info().
		Int("processed", result.Processed).
		Int("linked", result.Linked).
		Int("minted", result.Minted).
		Msg("enrichment run finished")
	return result, nil
}
