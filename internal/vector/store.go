package vector

import (
	"context"
	"fmt"
	"time"

	pgvector "github.com/pgvector/pgvector-go"
	"gorm.io/gorm"
)

// SkillVector is one embedded skill occurrence. ExtractedID points at the
// skills_extracted row the skill string came from.
type SkillVector struct {
	ID          int64           `gorm:"primaryKey;autoIncrement"`
	ExtractedID int64           `gorm:"index;not null"`
	SkillName   string          `gorm:"type:text;not null"`
	Embedding   pgvector.Vector `gorm:"type:vector(1536);not null"`
	CreatedAt   time.Time       `gorm:"autoCreateTime"`
}

func (SkillVector) TableName() string { return "skills_vectors" }

func toVector(v []float32) pgvector.Vector {
	return pgvector.NewVector(v)
}

// Store reads and writes skill vectors.
type Store struct {
	db         *gorm.DB
	insertSize int
}

// NewStore creates a vector store. insertSize caps rows per INSERT.
func NewStore(db *gorm.DB, insertSize int) *Store {
	if insertSize <= 0 {
		insertSize = 100
	}
	return &Store{db: db, insertSize: insertSize}
}

// InsertBatch writes vectors in insert-sized chunks.
func (s *Store) InsertBatch(ctx context.Context, rows []SkillVector) error {
	if len(rows) == 0 {
		return nil
	}
	err := s.db.WithContext(ctx).CreateInBatches(&rows, s.insertSize).Error
	if err != nil {
		return fmt.Errorf("insert skill vectors: %w", err)
	}
	return nil
}

// All returns every stored vector ordered by ID. The clustering pass is
// order-sensitive, so the read order is fixed.
func (s *Store) All(ctx context.Context) ([]SkillVector, error) {
	var out []SkillVector
	err := s.db.WithContext(ctx).Order("id ASC").Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("load skill vectors: %w", err)
	}
	return out, nil
}

// EmbeddedExtractedIDs returns the distinct extracted-row IDs that already
// have vectors, for delta computation.
func (s *Store) EmbeddedExtractedIDs(ctx context.Context) (map[int64]struct{}, error) {
	var ids []int64
	err := s.db.WithContext(ctx).
		Model(&SkillVector{}).
		Distinct("extracted_id").
		Pluck("extracted_id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("load embedded extracted ids: %w", err)
	}
	set := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set, nil
}

// Count returns the number of stored vectors.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&SkillVector{}).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("count skill vectors: %w", err)
	}
	return n, nil
}
