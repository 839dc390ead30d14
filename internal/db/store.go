package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// runLockKey identifies the pipeline's advisory lock. All writers across all
// processes contend on this one key.
const runLockKey = 7452301

// Store wraps the GORM connection shared by all pipeline stages.
type Store struct {
	DB    *gorm.DB
	sqlDB *sql.DB
}

// Config holds database configuration.
type Config struct {
	DSN      string
	MaxConns int
	LogLevel logger.LogLevel
}

// NewStore connects to PostgreSQL, configures the pool and runs migrations.
func NewStore(cfg Config) (*Store, error) {
	db, err := gorm.Open(postgres.Open(cfg.DSN), &gorm.Config{
		Logger:         logger.Default.LogMode(cfg.LogLevel),
		PrepareStmt:    true,
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open gorm postgres: %w", err)
	}
	return setup(db, cfg.MaxConns)
}

// NewSQLiteStore opens a file-backed SQLite store. Used by tests; advisory
// locking degrades to a no-op on this path.
func NewSQLiteStore(path string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open gorm sqlite: %w", err)
	}
	return setup(db, 1)
}

func setup(db *gorm.DB, maxConns int) (*Store, error) {
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get sql.DB: %w", err)
	}

	if maxConns <= 0 {
		maxConns = 10
	}
	sqlDB.SetMaxOpenConns(maxConns)
	sqlDB.SetMaxIdleConns(maxConns / 2)
	sqlDB.SetConnMaxLifetime(1 * time.Hour)
	sqlDB.SetConnMaxIdleTime(10 * time.Minute)

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := runMigrations(db); err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &Store{DB: db, sqlDB: sqlDB}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.sqlDB.Close()
}

// Ping verifies the database connection is alive.
func (s *Store) Ping() error {
	return s.sqlDB.Ping()
}

// AcquireRunLock takes the cross-process pipeline lock without blocking.
// Returns false when another process holds it. On SQLite there is no
// advisory locking, so the in-process mutex in the worker is the only guard
// and this always succeeds.
func (s *Store) AcquireRunLock(ctx context.Context) (bool, error) {
	if s.DB.Dialector.Name() != "postgres" {
		return true, nil
	}

	var acquired bool
	err := s.DB.WithContext(ctx).
		Raw("SELECT pg_try_advisory_lock(?)", runLockKey).
		Scan(&acquired).Error
	if err != nil {
		return false, fmt.Errorf("acquire run lock: %w", err)
	}
	if !acquired {
		log.Warn().Msg("pipeline run lock held by another process")
	}
	return acquired, nil
}

// ReleaseRunLock releases the pipeline lock taken by AcquireRunLock.
func (s *Store) ReleaseRunLock(ctx context.Context) error {
	if s.DB.Dialector.Name() != "postgres" {
		return nil
	}

	var released bool
	err := s.DB.WithContext(ctx).
		Raw("SELECT pg_advisory_unlock(?)", runLockKey).
		Scan(&released).Error
	if err != nil {
		return fmt.Errorf("release run lock: %w", err)
	}
	if !released {
		log.Warn().Msg("run lock was not held at release")
	}
	return nil
}
