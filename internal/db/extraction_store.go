package db

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm/clause"
)

// DeltaDescriptions returns descriptions that have no extraction row yet,
// oldest first. This is the work set for an extraction run; already
// processed documents never re-enter the pipeline.
func (s *Store) DeltaDescriptions(ctx context.Context) ([]Description, error) {
	var out []Description
	err := s.DB.WithContext(ctx).
		Joins("LEFT JOIN skills_extracted se ON se.processing_id = descriptions.id").
		Where("se.id IS NULL").
		Order("descriptions.id ASC").
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("load delta descriptions: %w", err)
	}
	return out, nil
}

// CountDescriptions returns the total number of source documents.
func (s *Store) CountDescriptions(ctx context.Context) (int64, error) {
	var n int64
	if err := s.DB.WithContext(ctx).Model(&Description{}).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("count descriptions: %w", err)
	}
	return n, nil
}

// SaveExtracted persists a batch of per-document extraction results.
// Upserts on processing_id so a retried flush is idempotent; a re-extracted
// document supersedes its old row and clears the normalization stamp so the
// next normalization run picks it up again.
func (s *Store) SaveExtracted(ctx context.Context, batch []ExtractedSkills) error {
	if len(batch) == 0 {
		return nil
	}
	err := s.DB.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "processing_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"required_skills", "skills_to_learn", "skills_csv", "normalized_at",
			}),
		}).
		Create(&batch).Error
	if err != nil {
		return fmt.Errorf("save extracted skills: %w", err)
	}
	return nil
}

// AllExtracted returns every extraction row ordered by processing ID.
func (s *Store) AllExtracted(ctx context.Context) ([]ExtractedSkills, error) {
	var out []ExtractedSkills
	err := s.DB.WithContext(ctx).
		Order("processing_id ASC").
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("load extracted skills: %w", err)
	}
	return out, nil
}

// ProcessingIDsByExtracted maps extraction-row IDs back to their source
// description IDs.
func (s *Store) ProcessingIDsByExtracted(ctx context.Context, ids []int64) (map[int64]int64, error) {
	if len(ids) == 0 {
		return map[int64]int64{}, nil
	}
	var rows []ExtractedSkills
	err := s.DB.WithContext(ctx).
		Select("id", "processing_id").
		Where("id IN ?", ids).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("map extracted ids: %w", err)
	}
	out := make(map[int64]int64, len(rows))
	for _, r := range rows {
		out[r.ID] = r.ProcessingID
	}
	return out, nil
}

// UnnormalizedExtracted returns extraction rows whose skills have not been
// folded into the canonical dictionary yet, ordered by processing ID.
func (s *Store) UnnormalizedExtracted(ctx context.Context) ([]ExtractedSkills, error) {
	var out []ExtractedSkills
	err := s.DB.WithContext(ctx).
		Where("normalized_at IS NULL").
		Order("processing_id ASC").
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("load unnormalized extracted skills: %w", err)
	}
	return out, nil
}

// SaveNormalized writes a document's canonicalized skill lists back to its
// extraction row and stamps it normalized.
func (s *Store) SaveNormalized(ctx context.Context, row *ExtractedSkills) error {
	now := time.Now()
	err := s.DB.WithContext(ctx).
		Model(&ExtractedSkills{}).
		Where("id = ?", row.ID).
		Updates(map[string]interface{}{
			"required_skills": row.RequiredSkills,
			"skills_to_learn": row.SkillsToLearn,
			"skills_csv":      row.SkillsCSV,
			"normalized_at":   now,
		}).Error
	if err != nil {
		return fmt.Errorf("save normalized skills: %w", err)
	}
	row.NormalizedAt = &now
	return nil
}

// CountExtracted returns the number of processed documents.
func (s *Store) CountExtracted(ctx context.Context) (int64, error) {
	var n int64
	if err := s.DB.WithContext(ctx).Model(&ExtractedSkills{}).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("count extracted skills: %w", err)
	}
	return n, nil
}
