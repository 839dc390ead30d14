// Package db provides GORM-based persistence for the skill pipeline.
package db

import (
	"database/sql/driver"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

// StringArray stores a string slice as a JSON column. Works on both
// PostgreSQL (jsonb) and SQLite (text).
type StringArray []string

// Value implements driver.Valuer.
func (a StringArray) Value() (driver.Value, error) {
	if a == nil {
		return "[]", nil
	}
	b, err := json.Marshal(a)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (a *StringArray) Scan(value interface{}) error {
	if value == nil {
		*a = nil
		return nil
	}
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, a)
	case string:
		return json.Unmarshal([]byte(v), a)
	default:
		return fmt.Errorf("unsupported type for StringArray: %T", value)
	}
}

// Description is a raw job description awaiting or past extraction.
type Description struct {
	ID          int64     `gorm:"primaryKey;autoIncrement"`
	Title       string    `gorm:"type:text"`
	Description string    `gorm:"type:text;not null"`
	CreatedAt   time.Time `gorm:"autoCreateTime;index"`
}

func (Description) TableName() string { return "descriptions" }

// ExtractedSkills is the per-document extraction result. ProcessingID is
// the source description's ID; one row per processed document. The two
// lists hold raw mention text after extraction and canonical names after
// normalization; SkillsCSV is their joined form for full-text use.
type ExtractedSkills struct {
	ID             int64       `gorm:"primaryKey;autoIncrement"`
	ProcessingID   int64       `gorm:"uniqueIndex;not null"`
	RequiredSkills StringArray `gorm:"type:text;not null"`
	SkillsToLearn  StringArray `gorm:"type:text"`
	SkillsCSV      string      `gorm:"type:text"`
	NormalizedAt   *time.Time  `gorm:"index"`
	CreatedAt      time.Time   `gorm:"autoCreateTime"`
}

func (ExtractedSkills) TableName() string { return "skills_extracted" }

// Mentions returns both skill lists as one case-insensitively deduplicated
// slice, required skills first.
func (e ExtractedSkills) Mentions() []string {
	seen := make(map[string]struct{}, len(e.RequiredSkills)+len(e.SkillsToLearn))
	out := make([]string, 0, len(e.RequiredSkills)+len(e.SkillsToLearn))
	for _, list := range []StringArray{e.RequiredSkills, e.SkillsToLearn} {
		for _, s := range list {
			key := strings.ToLower(strings.TrimSpace(s))
			if key == "" {
				continue
			}
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, s)
		}
	}
	return out
}

// CanonicalSkill is a unified dictionary entry. CanonicalName is the
// normalized form and is unique; SkillName is the display form.
// TotalReferences counts how many extracted occurrences map to this entry
// and is only ever incremented, never overwritten.
type CanonicalSkill struct {
	ID              int64     `gorm:"primaryKey;autoIncrement"`
	SkillName       string    `gorm:"type:text;not null"`
	CanonicalName   string    `gorm:"type:text;uniqueIndex;not null"`
	TotalReferences int64     `gorm:"not null;default:0"`
	CreatedAt       time.Time `gorm:"autoCreateTime"`
	UpdatedAt       time.Time `gorm:"autoUpdateTime"`
}

func (CanonicalSkill) TableName() string { return "skills" }

// SkillJobLink ties a canonical skill to the document it was promoted from.
// The (processing_id, skill_id) pair is unique so re-promotion is idempotent.
type SkillJobLink struct {
	ID           int64     `gorm:"primaryKey;autoIncrement"`
	ProcessingID int64     `gorm:"uniqueIndex:idx_skill_job;not null"`
	SkillID      int64     `gorm:"uniqueIndex:idx_skill_job;not null;index"`
	CreatedAt    time.Time `gorm:"autoCreateTime"`
}

func (SkillJobLink) TableName() string { return "skills_jobs" }

// User is a platform user whose profile text feeds enrichment.
type User struct {
	ID        int64     `gorm:"primaryKey;autoIncrement"`
	FullName  string    `gorm:"type:text"`
	Resume    string    `gorm:"type:text"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
}

func (User) TableName() string { return "users" }

// UserSkillLink ties a user to a canonical skill.
type UserSkillLink struct {
	ID        int64     `gorm:"primaryKey;autoIncrement"`
	UserID    int64     `gorm:"uniqueIndex:idx_user_skill;not null"`
	SkillID   int64     `gorm:"uniqueIndex:idx_user_skill;not null;index"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
}

func (UserSkillLink) TableName() string { return "user_skills" }

// ConsolidatedSkill is one member of a near-duplicate merge group. The
// representative row carries the group's display name.
type ConsolidatedSkill struct {
	ID               int64     `gorm:"primaryKey;autoIncrement"`
	GroupID          int64     `gorm:"index;not null"`
	SkillName        string    `gorm:"type:text;not null"`
	IsRepresentative bool      `gorm:"not null;default:false"`
	TotalReferences  int64     `gorm:"not null;default:0"`
	CreatedAt        time.Time `gorm:"autoCreateTime"`
}

func (ConsolidatedSkill) TableName() string { return "consolidated_skills" }

// NormalizationLog is an append-only ledger row recording LLM usage for one
// unit of work (an extraction flush or a normalization chunk).
type NormalizationLog struct {
	ID               int64     `gorm:"primaryKey;autoIncrement"`
	Stage            string    `gorm:"type:text;not null;index"`
	Model            string    `gorm:"type:text;not null"`
	Items            int       `gorm:"not null"`
	PromptTokens     int       `gorm:"not null"`
	CompletionTokens int       `gorm:"not null"`
	CostUSD          float64   `gorm:"not null"`
	CreatedAt        time.Time `gorm:"autoCreateTime;index"`
}

func (NormalizationLog) TableName() string { return "normalization_logs" }
