package db

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// UpsertSkillCount adds delta occurrences to the canonical entry, creating
// it if missing. The reference counter is incremented in SQL, never read
// back and overwritten, so concurrent chunks cannot lose counts.
func (s *Store) UpsertSkillCount(ctx context.Context, canonicalName, displayName string, delta int64) error {
	skill := CanonicalSkill{
		SkillName:       displayName,
		CanonicalName:   canonicalName,
		TotalReferences: delta,
	}
	err := s.DB.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "canonical_name"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"total_references": gorm.Expr("skills.total_references + ?", delta),
			}),
		}).
		Create(&skill).Error
	if err != nil {
		return fmt.Errorf("upsert skill %q: %w", canonicalName, err)
	}
	return nil
}

// GetOrCreateSkill inserts a canonical entry and returns it. On a unique
// violation the existing row is fetched instead, so concurrent promoters
// converge on one row per canonical name.
func (s *Store) GetOrCreateSkill(ctx context.Context, canonicalName, displayName string) (*CanonicalSkill, error) {
	skill := &CanonicalSkill{
		SkillName:     displayName,
		CanonicalName: canonicalName,
	}
	err := s.DB.WithContext(ctx).Create(skill).Error
	if err == nil {
		return skill, nil
	}
	if !errors.Is(err, gorm.ErrDuplicatedKey) {
		return nil, fmt.Errorf("create skill %q: %w", canonicalName, err)
	}

	var existing CanonicalSkill
	if err := s.DB.WithContext(ctx).
		Where("canonical_name = ?", canonicalName).
		First(&existing).Error; err != nil {
		return nil, fmt.Errorf("fetch skill %q after conflict: %w", canonicalName, err)
	}
	return &existing, nil
}

// FindSkill looks up a canonical entry by its canonical name.
func (s *Store) FindSkill(ctx context.Context, canonicalName string) (*CanonicalSkill, error) {
	var skill CanonicalSkill
	err := s.DB.WithContext(ctx).
		Where("canonical_name = ?", canonicalName).
		First(&skill).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find skill %q: %w", canonicalName, err)
	}
	return &skill, nil
}

// CanonicalNames returns every canonical name in the dictionary, ordered by
// ID. Loaded fresh before each normalization chunk so later chunks see
// entries created by earlier ones.
func (s *Store) CanonicalNames(ctx context.Context) ([]string, error) {
	var names []string
	err := s.DB.WithContext(ctx).
		Model(&CanonicalSkill{}).
		Order("id ASC").
		Pluck("canonical_name", &names).Error
	if err != nil {
		return nil, fmt.Errorf("load canonical names: %w", err)
	}
	return names, nil
}

// AllSkills returns the full dictionary ordered by ID.
func (s *Store) AllSkills(ctx context.Context) ([]CanonicalSkill, error) {
	var out []CanonicalSkill
	if err := s.DB.WithContext(ctx).Order("id ASC").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("load skills: %w", err)
	}
	return out, nil
}

// LinkSkillToJob records that a document references a canonical skill.
// Duplicate pairs are ignored.
func (s *Store) LinkSkillToJob(ctx context.Context, processingID, skillID int64) error {
	link := SkillJobLink{ProcessingID: processingID, SkillID: skillID}
	err := s.DB.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&link).Error
	if err != nil {
		return fmt.Errorf("link skill %d to job %d: %w", skillID, processingID, err)
	}
	return nil
}

// LinkSkillToUser records that a user holds a canonical skill.
// Duplicate pairs are ignored.
func (s *Store) LinkSkillToUser(ctx context.Context, userID, skillID int64) error {
	link := UserSkillLink{UserID: userID, SkillID: skillID}
	err := s.DB.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&link).Error
	if err != nil {
		return fmt.Errorf("link skill %d to user %d: %w", skillID, userID, err)
	}
	return nil
}

// DistinctJobCount returns how many distinct documents reference the skill.
func (s *Store) DistinctJobCount(ctx context.Context, skillID int64) (int64, error) {
	var n int64
	err := s.DB.WithContext(ctx).
		Model(&SkillJobLink{}).
		Where("skill_id = ?", skillID).
		Distinct("processing_id").
		Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("count jobs for skill %d: %w", skillID, err)
	}
	return n, nil
}

// AllUsers returns every user ordered by ID.
func (s *Store) AllUsers(ctx context.Context) ([]User, error) {
	var out []User
	if err := s.DB.WithContext(ctx).Order("id ASC").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("load users: %w", err)
	}
	return out, nil
}

// SkillMerge folds one consolidation group into its surviving dictionary
// row. TotalReferences is the group sum the survivor ends up carrying.
type SkillMerge struct {
	SurvivorID      int64
	AbsorbedIDs     []int64
	TotalReferences int64
}

// ApplyConsolidation rewrites the grouping view and folds every merge
// group into its survivor in one transaction. Absorbed dictionary rows are
// deleted, their job and user links repointed at the survivor, and the
// survivor's counter set to the group total, so the dictionary's reference
// sum is conserved and readers never see a half-merged state.
func (s *Store) ApplyConsolidation(ctx context.Context, rows []ConsolidatedSkill, merges []SkillMerge) error {
	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("1 = 1").Delete(&ConsolidatedSkill{}).Error; err != nil {
			return fmt.Errorf("clear consolidated skills: %w", err)
		}
		if len(rows) > 0 {
			if err := tx.Create(&rows).Error; err != nil {
				return fmt.Errorf("insert consolidated skills: %w", err)
			}
		}
		for _, m := range merges {
			if err := applySkillMerge(tx, m); err != nil {
				return err
			}
		}
		return nil
	})
}

func applySkillMerge(tx *gorm.DB, m SkillMerge) error {
	if len(m.AbsorbedIDs) == 0 {
		return nil
	}
	if err := repointJobLinks(tx, m); err != nil {
		return err
	}
	if err := repointUserLinks(tx, m); err != nil {
		return err
	}
	err := tx.Model(&CanonicalSkill{}).
		Where("id = ?", m.SurvivorID).
		Update("total_references", m.TotalReferences).Error
	if err != nil {
		return fmt.Errorf("update merge survivor %d: %w", m.SurvivorID, err)
	}
	if err := tx.Where("id IN ?", m.AbsorbedIDs).Delete(&CanonicalSkill{}).Error; err != nil {
		return fmt.Errorf("delete absorbed skills: %w", err)
	}
	return nil
}

// repointJobLinks moves the absorbed rows' document links onto the
// survivor. Delete-then-reinsert with a do-nothing conflict clause absorbs
// pairs the survivor already holds.
func repointJobLinks(tx *gorm.DB, m SkillMerge) error {
	var procIDs []int64
	err := tx.Model(&SkillJobLink{}).
		Where("skill_id IN ?", m.AbsorbedIDs).
		Distinct().
		Pluck("processing_id", &procIDs).Error
	if err != nil {
		return fmt.Errorf("load absorbed job links: %w", err)
	}
	if err := tx.Where("skill_id IN ?", m.AbsorbedIDs).Delete(&SkillJobLink{}).Error; err != nil {
		return fmt.Errorf("delete absorbed job links: %w", err)
	}
	if len(procIDs) == 0 {
		return nil
	}
	links := make([]SkillJobLink, len(procIDs))
	for i, id := range procIDs {
		links[i] = SkillJobLink{ProcessingID: id, SkillID: m.SurvivorID}
	}
	err = tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&links).Error
	if err != nil {
		return fmt.Errorf("repoint job links to skill %d: %w", m.SurvivorID, err)
	}
	return nil
}

func repointUserLinks(tx *gorm.DB, m SkillMerge) error {
	var userIDs []int64
	err := tx.Model(&UserSkillLink{}).
		Where("skill_id IN ?", m.AbsorbedIDs).
		Distinct().
		Pluck("user_id", &userIDs).Error
	if err != nil {
		return fmt.Errorf("load absorbed user links: %w", err)
	}
	if err := tx.Where("skill_id IN ?", m.AbsorbedIDs).Delete(&UserSkillLink{}).Error; err != nil {
		return fmt.Errorf("delete absorbed user links: %w", err)
	}
	if len(userIDs) == 0 {
		return nil
	}
	links := make([]UserSkillLink, len(userIDs))
	for i, id := range userIDs {
		links[i] = UserSkillLink{UserID: id, SkillID: m.SurvivorID}
	}
	err = tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&links).Error
	if err != nil {
		return fmt.Errorf("repoint user links to skill %d: %w", m.SurvivorID, err)
	}
	return nil
}

// AllConsolidated returns the consolidation groups ordered by group then ID.
func (s *Store) AllConsolidated(ctx context.Context) ([]ConsolidatedSkill, error) {
	var out []ConsolidatedSkill
	err := s.DB.WithContext(ctx).
		Order("group_id ASC, id ASC").
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("load consolidated skills: %w", err)
	}
	return out, nil
}
