package promotion

import (
	"context"
	"path/filepath"
	"testing"

	pgvector "github.com/pgvector/pgvector-go"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gradlane/skillpipe/internal/db"
	"github.com/gradlane/skillpipe/internal/vector"
)

type fakeSource struct {
	vecs []vector.SkillVector
}

func (f *fakeSource) All(_ context.Context) ([]vector.SkillVector, error) {
	return f.vecs, nil
}

// axis returns a unit vector along the given axis of an 8-dim space.
func axis(i int) pgvector.Vector {
	v := make([]float32, 8)
	v[i] = 1
	return pgvector.NewVector(v)
}

func newPromotionStore(t *testing.T) *db.Store {
	t.Helper()
	store, err := db.NewSQLiteStore(filepath.Join(t.TempDir(), "promo.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func seedExtractedDocs(t *testing.T, store *db.Store, n int) []db.ExtractedSkills {
	t.Helper()
	ctx := context.Background()
	rows := make([]db.ExtractedSkills, n)
	for i := range rows {
		require.NoError(t, store.SaveExtracted(ctx, []db.ExtractedSkills{
			{ProcessingID: int64(100 + i), RequiredSkills: db.StringArray{"x"}},
		}))
	}
	var out []db.ExtractedSkills
	require.NoError(t, store.DB.Order("id ASC").Find(&out).Error)
	return out
}

func TestPromoteClusterAcrossDocuments(t *testing.T) {
	store := newPromotionStore(t)
	docs := seedExtractedDocs(t, store, 2)

	// Two identical vectors from different documents cluster together.
	source := &fakeSource{vecs: []vector.SkillVector{
		{ID: 1, ExtractedID: docs[0].ID, SkillName: "machine learning", Embedding: axis(0)},
		{ID: 2, ExtractedID: docs[1].ID, SkillName: "Machine Learning", Embedding: axis(0)},
	}}

	p := NewPromoter(store, source, 5, 0.7, zerolog.Nop())
	result, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Promoted)
	assert.Zero(t, result.Singletons)

	ctx := context.Background()
	entry, err := store.FindSkill(ctx, "Machine Learning")
	require.NoError(t, err)
	require.NotNil(t, entry)
	// First member's surface form names the entry.
	assert.Equal(t, "machine learning", entry.SkillName)

	n, err := store.DistinctJobCount(ctx, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestSingletonsAreNotPromoted(t *testing.T) {
	store := newPromotionStore(t)
	docs := seedExtractedDocs(t, store, 2)

	source := &fakeSource{vecs: []vector.SkillVector{
		{ID: 1, ExtractedID: docs[0].ID, SkillName: "Go", Embedding: axis(0)},
		{ID: 2, ExtractedID: docs[1].ID, SkillName: "Figma", Embedding: axis(1)},
	}}

	p := NewPromoter(store, source, 5, 0.7, zerolog.Nop())
	result, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, result.Promoted)
	assert.Equal(t, 2, result.Singletons)

	skills, err := store.AllSkills(context.Background())
	require.NoError(t, err)
	assert.Empty(t, skills)
}

func TestSingleDocumentClusterIsNotPromoted(t *testing.T) {
	store := newPromotionStore(t)
	docs := seedExtractedDocs(t, store, 1)

	// Two near-identical occurrences from the same document.
	source := &fakeSource{vecs: []vector.SkillVector{
		{ID: 1, ExtractedID: docs[0].ID, SkillName: "React", Embedding: axis(2)},
		{ID: 2, ExtractedID: docs[0].ID, SkillName: "ReactJS", Embedding: axis(2)},
	}}

	p := NewPromoter(store, source, 5, 0.7, zerolog.Nop())
	result, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, result.Promoted)
	assert.Equal(t, 1, result.SingleDoc)
}

func TestShortFirstWordDisplayName(t *testing.T) {
	store := newPromotionStore(t)
	docs := seedExtractedDocs(t, store, 2)

	source := &fakeSource{vecs: []vector.SkillVector{
		{ID: 1, ExtractedID: docs[0].ID, SkillName: "sql analysis", Embedding: axis(3)},
		{ID: 2, ExtractedID: docs[1].ID, SkillName: "SQL Analysis", Embedding: axis(3)},
	}}

	p := NewPromoter(store, source, 5, 0.7, zerolog.Nop())
	_, err := p.Run(context.Background())
	require.NoError(t, err)

	entry, err := store.FindSkill(context.Background(), "Sql Analysis")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, "Sql analysis", entry.SkillName)
}

func TestRerunIsIdempotent(t *testing.T) {
	store := newPromotionStore(t)
	docs := seedExtractedDocs(t, store, 2)

	source := &fakeSource{vecs: []vector.SkillVector{
		{ID: 1, ExtractedID: docs[0].ID, SkillName: "Kubernetes", Embedding: axis(4)},
		{ID: 2, ExtractedID: docs[1].ID, SkillName: "kubernetes", Embedding: axis(4)},
	}}

	p := NewPromoter(store, source, 5, 0.7, zerolog.Nop())
	ctx := context.Background()
	_, err := p.Run(ctx)
	require.NoError(t, err)
	_, err = p.Run(ctx)
	require.NoError(t, err)

	skills, err := store.AllSkills(ctx)
	require.NoError(t, err)
	require.Len(t, skills, 1)

	var links int64
	require.NoError(t, store.DB.Model(&db.SkillJobLink{}).Count(&links).Error)
	assert.Equal(t, int64(2), links)
}

func TestDanglingVectorCarriesNoDocumentEvidence(t *testing.T) {
	store := newPromotionStore(t)
	docs := seedExtractedDocs(t, store, 1)

	// One member's extraction row no longer exists. The cluster must not
	// count it toward the distinct-document guard or link document 0.
	source := &fakeSource{vecs: []vector.SkillVector{
		{ID: 1, ExtractedID: docs[0].ID, SkillName: "Terraform", Embedding: axis(5)},
		{ID: 2, ExtractedID: docs[0].ID + 999, SkillName: "terraform", Embedding: axis(5)},
	}}

	p := NewPromoter(store, source, 5, 0.7, zerolog.Nop())
	result, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, result.Promoted)
	assert.Equal(t, 1, result.SingleDoc)

	var links int64
	require.NoError(t, store.DB.Model(&db.SkillJobLink{}).Count(&links).Error)
	assert.Zero(t, links)
}

func TestEmptySource(t *testing.T) {
	store := newPromotionStore(t)
	p := NewPromoter(store, &fakeSource{}, 5, 0.7, zerolog.Nop())

	result, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, result.Vectors)
	assert.Zero(t, result.Clusters)
}
