package db

import (
	"context"
	"fmt"
	"time"

	"github.com/gradlane/skillpipe/internal/llm"
)

// AppendLog writes one ledger row. The ledger is append-only; rows are never
// updated or deleted.
func (s *Store) AppendLog(ctx context.Context, entry NormalizationLog) error {
	if err := s.DB.WithContext(ctx).Create(&entry).Error; err != nil {
		return fmt.Errorf("append normalization log: %w", err)
	}
	return nil
}

// LogsSince returns ledger rows created at or after the given time, oldest
// first.
func (s *Store) LogsSince(ctx context.Context, since time.Time) ([]NormalizationLog, error) {
	var out []NormalizationLog
	err := s.DB.WithContext(ctx).
		Where("created_at >= ?", since).
		Order("id ASC").
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("load normalization logs: %w", err)
	}
	return out, nil
}

// LedgerTracker converts accumulator growth between flushes into ledger
// rows, one per model that made calls in the interval.
type LedgerTracker struct {
	usage *llm.Accumulator
	prev  map[string]llm.ModelTotals
}

// NewLedgerTracker starts tracking from the accumulator's current totals.
func NewLedgerTracker(usage *llm.Accumulator) *LedgerTracker {
	return &LedgerTracker{usage: usage, prev: usage.Totals()}
}

// Drain returns ledger rows covering usage since the previous Drain and
// advances the tracking point.
func (lt *LedgerTracker) Drain(stage string, items int) []NormalizationLog {
	current := lt.usage.Totals()
	var rows []NormalizationLog
	for model, t := range current {
		p := lt.prev[model]
		if t.Calls == p.Calls {
			continue
		}
		rows = append(rows, NormalizationLog{
			Stage:            stage,
			Model:            model,
			Items:            items,
			PromptTokens:     t.PromptTokens - p.PromptTokens,
			CompletionTokens: t.CompletionTokens - p.CompletionTokens,
			CostUSD:          t.CostUSD - p.CostUSD,
		})
	}
	lt.prev = current
	return rows
}
