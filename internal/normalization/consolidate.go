package normalization

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/gradlane/skillpipe/internal/db"
	"github.com/gradlane/skillpipe/pkg/similarity"
)

// ConsolidateResult summarizes one consolidation pass.
type ConsolidateResult struct {
	Skills          int
	Groups          int
	MergedEntries   int
	TotalReferences int64
}

// Consolidate collapses near-duplicate dictionary entries by string
// similarity. Entries are visited in ID order; each unclaimed entry opens a
// group and claims every later unclaimed entry within the merge threshold.
// The member with the most references survives and absorbs the group:
// reference totals are summed into it, the other rows are deleted, and
// their document and user links are repointed, all in one transaction. The
// grouping view records the pass for auditing. The dictionary's reference
// sum is conserved.
func Consolidate(ctx context.Context, store *db.Store, logger zerolog.Logger) (*ConsolidateResult, error) {
	log := logger.With().Str("component", "consolidation").Logger()

	skills, err := store.AllSkills(ctx)
	if err != nil {
		return nil, err
	}
	result := &ConsolidateResult{Skills: len(skills)}
	if len(skills) == 0 {
		if err := store.ApplyConsolidation(ctx, nil, nil); err != nil {
			return nil, err
		}
		return result, nil
	}

	claimed := make([]bool, len(skills))
	var rows []db.ConsolidatedSkill
	var merges []db.SkillMerge
	groupID := int64(0)

	for i := range skills {
		if claimed[i] {
			continue
		}
		claimed[i] = true
		members := []int{i}
		for j := i + 1; j < len(skills); j++ {
			if claimed[j] {
				continue
			}
			if similarity.Dice(skills[i].CanonicalName, skills[j].CanonicalName) >= similarity.ConsolidationThreshold {
				claimed[j] = true
				members = append(members, j)
			}
		}

		groupID++
		repr := members[0]
		for _, m := range members[1:] {
			if skills[m].TotalReferences > skills[repr].TotalReferences {
				repr = m
			}
		}
		var groupTotal int64
		for _, m := range members {
			rows = append(rows, db.ConsolidatedSkill{
				GroupID:          groupID,
				SkillName:        skills[m].SkillName,
				IsRepresentative: m == repr,
				TotalReferences:  skills[m].TotalReferences,
			})
			groupTotal += skills[m].TotalReferences
		}
		result.TotalReferences += groupTotal
		if len(members) > 1 {
			result.MergedEntries += len(members) - 1
			merge := db.SkillMerge{
				SurvivorID:      skills[repr].ID,
				TotalReferences: groupTotal,
			}
			for _, m := range members {
				if m != repr {
					merge.AbsorbedIDs = append(merge.AbsorbedIDs, skills[m].ID)
				}
			}
			merges = append(merges, merge)
		}
	}
	result.Groups = int(groupID)

	if err := store.ApplyConsolidation(ctx, rows, merges); err != nil {
		return nil, err
	}

	log.Info().
		Int("skills", result.Skills).
		Int("groups", result.Groups).
		Int("merged", result.MergedEntries).
		Msg("consolidation pass finished")
	return result, nil
}
