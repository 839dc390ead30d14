package db

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

// runMigrations runs all database migrations using gormigrate.
func runMigrations(db *gorm.DB) error {
	m := gormigrate.New(db, gormigrate.DefaultOptions, []*gormigrate.Migration{
		// Migration 001: source documents and extraction results
		{
			ID: "001_extraction_tables",
			Migrate: func(tx *gorm.DB) error {
				if err := tx.AutoMigrate(&Description{}); err != nil {
					return err
				}
				return tx.AutoMigrate(&ExtractedSkills{})
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable("descriptions", "skills_extracted")
			},
		},

		// Migration 002: canonical dictionary and job links
		{
			ID: "002_skills_tables",
			Migrate: func(tx *gorm.DB) error {
				if err := tx.AutoMigrate(&CanonicalSkill{}); err != nil {
					return err
				}
				return tx.AutoMigrate(&SkillJobLink{})
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable("skills", "skills_jobs")
			},
		},

		// Migration 003: users and user skill links
		{
			ID: "003_user_tables",
			Migrate: func(tx *gorm.DB) error {
				if err := tx.AutoMigrate(&User{}); err != nil {
					return err
				}
				return tx.AutoMigrate(&UserSkillLink{})
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable("users", "user_skills")
			},
		},

		// Migration 004: consolidation groups and the usage ledger
		{
			ID: "004_consolidation_and_ledger",
			Migrate: func(tx *gorm.DB) error {
				if err := tx.AutoMigrate(&ConsolidatedSkill{}); err != nil {
					return err
				}
				return tx.AutoMigrate(&NormalizationLog{})
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable("consolidated_skills", "normalization_logs")
			},
		},

		// Migration 005: pgvector extension and the skill embedding table.
		// SQLite has no vector type; tests exercise the vector store through
		// its interface instead.
		{
			ID: "005_skills_vectors",
			Migrate: func(tx *gorm.DB) error {
				if tx.Dialector.Name() != "postgres" {
					return nil
				}
				sqls := []string{
					`CREATE EXTENSION IF NOT EXISTS vector`,
					`CREATE TABLE IF NOT EXISTS skills_vectors (
						id BIGSERIAL PRIMARY KEY,
						extracted_id BIGINT NOT NULL,
						skill_name TEXT NOT NULL,
						embedding vector(1536) NOT NULL,
						created_at TIMESTAMPTZ NOT NULL DEFAULT now()
					)`,
					`CREATE INDEX IF NOT EXISTS idx_skills_vectors_extracted
						ON skills_vectors (extracted_id)`,
				}
				for _, s := range sqls {
					if err := tx.Exec(s).Error; err != nil {
						return err
					}
				}
				return nil
			},
			Rollback: func(tx *gorm.DB) error {
				if tx.Dialector.Name() != "postgres" {
					return nil
				}
				return tx.Exec("DROP TABLE IF EXISTS skills_vectors").Error
			},
		},
	})

	return m.Migrate()
}
