// Package promotion turns embedding clusters of extracted skill occurrences
// into canonical dictionary entries linked to their source documents.
package promotion

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/gradlane/skillpipe/internal/db"
	"github.com/gradlane/skillpipe/internal/vector"
	"github.com/gradlane/skillpipe/pkg/similarity"
	"github.com/gradlane/skillpipe/pkg/skill"
)

// VectorSource supplies the stored skill vectors in insertion order.
type VectorSource interface {
	All(ctx context.Context) ([]vector.SkillVector, error)
}

// Promoter clusters skill vectors and promotes qualifying clusters.
type Promoter struct {
	store     *db.Store
	source    VectorSource
	topK      int
	threshold float64
	logger    zerolog.Logger
}

// NewPromoter creates a Promoter. topK and threshold parameterize the
// clustering pass.
func NewPromoter(store *db.Store, source VectorSource, topK int, threshold float64, logger zerolog.Logger) *Promoter {
	if topK <= 0 {
		topK = 5
	}
	if threshold <= 0 {
		threshold = 0.7
	}
	return &Promoter{
		store:     store,
		source:    source,
		topK:      topK,
		threshold: threshold,
		logger:    logger.With().Str("component", "promotion").Logger(),
	}
}

// Result summarizes one promotion run.
type Result struct {
	Vectors    int
	Clusters   int
	Promoted   int
	Singletons int
	SingleDoc  int
}

// Run clusters all vectors and promotes each cluster whose members span at
// least two distinct documents. The cluster's first member names the entry:
// its surface form becomes the display name and its canonical form the
// dictionary key. Singleton clusters and clusters confined to one document
// are dropped. Links are upserted, so reruns are idempotent.
func (p *Promoter) Run(ctx context.Context) (*Result, error) {
	vecs, err := p.source.All(ctx)
	if err != nil {
		return nil, err
	}
	result := &Result{Vectors: len(vecs)}
	if len(vecs) == 0 {
		p.logger.Info().Msg("no vectors, promotion skipped")
		return result, nil
	}

	points := make([]similarity.Vector, len(vecs))
	extractedIDs := make([]int64, len(vecs))
	for i, v := range vecs {
		points[i] = similarity.Vector{
			ID:          v.ID,
			ExtractedID: v.ExtractedID,
			Embedding:   v.Embedding.Slice(),
		}
		extractedIDs[i] = v.ExtractedID
	}

	processing, err := p.store.ProcessingIDsByExtracted(ctx, extractedIDs)
	if err != nil {
		return nil, err
	}

	clusters := similarity.ClusterVectors(points, p.topK, p.threshold)
	result.Clusters = len(clusters)

	for _, cluster := range clusters {
		if len(cluster) < 2 {
			result.Singletons++
			continue
		}

		// Members whose extraction row is gone carry no document evidence
		// and are ignored for both the guard and the links.
		docs := make(map[int64]struct{}, len(cluster))
		members := make([]int, 0, len(cluster))
		for _, idx := range cluster {
			procID, ok := processing[vecs[idx].ExtractedID]
			if !ok {
				continue
			}
			docs[procID] = struct{}{}
			members = append(members, idx)
		}
		if len(docs) < 2 {
			result.SingleDoc++
			continue
		}

		representative := vecs[members[0]].SkillName
		canonical := skill.Canonicalize(representative)
		if canonical == "" {
			continue
		}
		entry, err := p.store.GetOrCreateSkill(ctx, canonical, skill.DisplayName(representative))
		if err != nil {
			return result, err
		}
		for _, idx := range members {
			if err := p.store.LinkSkillToJob(ctx, processing[vecs[idx].ExtractedID], entry.ID); err != nil {
				return result, err
			}
		}
		result.Promoted++
	}

	p.logger.Info().
		Int("clusters", result.Clusters).
		Int("promoted", result.Promoted).
		Int("singletons", result.Singletons).
		Int("single_doc", result.SingleDoc).
		Msg("promotion run finished")
	return result, nil
}
