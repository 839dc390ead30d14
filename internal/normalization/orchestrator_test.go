package normalization

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gradlane/skillpipe/internal/db"
	"github.com/gradlane/skillpipe/internal/llm"
)

const testModel = "normalize-model"

// fakeNormalizer maps via the given table; skills not in the table map to
// themselves. Keys and values are surface forms as the model would emit.
func fakeNormalizer(t *testing.T, calls *atomic.Int32, table map[string]string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		var req struct {
			Messages []struct {
				Content string `json:"content"`
			} `json:"messages"`
		}
		require.NoError(t, json.Unmarshal(body, &req))

		payload, err := json.Marshal(map[string]map[string]string{"mappings": table})
		require.NoError(t, err)
		content, err := json.Marshal(string(payload))
		require.NoError(t, err)

		w.Write([]byte(`{
			"choices": [{"message": {"content": ` + string(content) + `}}],
			"usage": {"prompt_tokens": 100, "completion_tokens": 40}
		}`))
	}
}

func newTestOrchestrator(t *testing.T, handler http.HandlerFunc, floor int) (*Orchestrator, *db.Store) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := llm.NewClient(srv.URL, "sk-test", zerolog.Nop())
	require.NoError(t, err)

	store, err := db.NewSQLiteStore(filepath.Join(t.TempDir(), "norm.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	return NewOrchestrator(store, client, testModel, 200, floor, zerolog.Nop()), store
}

func seedExtracted(t *testing.T, store *db.Store, docs ...[]string) {
	t.Helper()
	for i, skills := range docs {
		require.NoError(t, store.SaveExtracted(context.Background(), []db.ExtractedSkills{
			{ProcessingID: int64(i + 1), RequiredSkills: skills},
		}))
	}
}

func TestRunFoldsSkillsIntoDictionary(t *testing.T) {
	var calls atomic.Int32
	orch, store := newTestOrchestrator(t, fakeNormalizer(t, &calls, map[string]string{
		"JS":          "Javascript",
		"java script": "Javascript",
	}), 0)
	ctx := context.Background()

	seedExtracted(t, store,
		[]string{"JS", "react"},
		[]string{"java script", "React"},
	)

	result, err := orch.Run(ctx, llm.NewAccumulator())
	require.NoError(t, err)
	assert.Equal(t, 2, result.Documents)
	assert.Equal(t, 3, result.UniqueSkills) // JS, react, java script
	assert.Equal(t, 1, result.Chunks)
	assert.Zero(t, result.Fallbacks)

	js, err := store.FindSkill(ctx, "Javascript")
	require.NoError(t, err)
	require.NotNil(t, js)
	assert.Equal(t, int64(2), js.TotalReferences)

	react, err := store.FindSkill(ctx, "React")
	require.NoError(t, err)
	require.NotNil(t, react)
	assert.Equal(t, int64(2), react.TotalReferences)

	// The resolved mapping is written back to the document rows.
	rows, err := store.AllExtracted(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, db.StringArray{"Javascript", "React"}, rows[0].RequiredSkills)
	assert.Equal(t, db.StringArray{"Javascript", "React"}, rows[1].RequiredSkills)
	assert.Equal(t, "Javascript, React", rows[0].SkillsCSV)
	require.NotNil(t, rows[0].NormalizedAt)

	left, err := store.UnnormalizedExtracted(ctx)
	require.NoError(t, err)
	assert.Empty(t, left)
}

func TestRunEmptyDeltaMakesNoCalls(t *testing.T) {
	var calls atomic.Int32
	orch, _ := newTestOrchestrator(t, fakeNormalizer(t, &calls, nil), 0)

	result, err := orch.Run(context.Background(), llm.NewAccumulator())
	require.NoError(t, err)
	assert.Zero(t, result.Documents)
	assert.Zero(t, calls.Load())
}

func TestRunSecondPassMakesNoCalls(t *testing.T) {
	var calls atomic.Int32
	orch, _ := newTestOrchestrator(t, fakeNormalizer(t, &calls, nil), 0)
	store := orch.store
	ctx := context.Background()

	seedExtracted(t, store, []string{"Go"}, []string{"Go", "SQL"})

	_, err := orch.Run(ctx, llm.NewAccumulator())
	require.NoError(t, err)
	require.Positive(t, calls.Load())

	calls.Store(0)
	result, err := orch.Run(ctx, llm.NewAccumulator())
	require.NoError(t, err)
	assert.Zero(t, result.Documents)
	assert.Zero(t, calls.Load())
}

func TestRunDefersBelowBatchFloor(t *testing.T) {
	var calls atomic.Int32
	orch, store := newTestOrchestrator(t, fakeNormalizer(t, &calls, nil), 5)
	ctx := context.Background()

	seedExtracted(t, store, []string{"Go"}, []string{"SQL"})

	result, err := orch.Run(ctx, llm.NewAccumulator())
	require.NoError(t, err)
	assert.True(t, result.Deferred)
	assert.Zero(t, calls.Load())

	// Deferred rows stay unnormalized.
	rows, err := store.UnnormalizedExtracted(ctx)
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}

func TestRunIdentityFallbackOnBadReply(t *testing.T) {
	var calls atomic.Int32
	handler := func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Write([]byte(`{
			"choices": [{"message": {"content": "sorry, I cannot produce JSON today"}}],
			"usage": {"prompt_tokens": 10, "completion_tokens": 10}
		}`))
	}
	orch, store := newTestOrchestrator(t, handler, 0)
	ctx := context.Background()

	seedExtracted(t, store, []string{"machine   learning", "SQL"})

	result, err := orch.Run(ctx, llm.NewAccumulator())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Fallbacks)

	// Identity mapping still lands every skill in canonical form.
	ml, err := store.FindSkill(ctx, "Machine Learning")
	require.NoError(t, err)
	require.NotNil(t, ml)
	assert.Equal(t, int64(1), ml.TotalReferences)

	sql, err := store.FindSkill(ctx, "Sql")
	require.NoError(t, err)
	require.NotNil(t, sql)
}

func TestRunWritesLedgerPerChunk(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(fakeNormalizer(t, &calls, nil))
	t.Cleanup(srv.Close)

	client, err := llm.NewClient(srv.URL, "sk-test", zerolog.Nop())
	require.NoError(t, err)
	store, err := db.NewSQLiteStore(filepath.Join(t.TempDir(), "norm.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	// Chunk size 2 with 3 unique skills forces two chunks.
	orch := NewOrchestrator(store, client, testModel, 2, 0, zerolog.Nop())
	ctx := context.Background()
	seedExtracted(t, store, []string{"Go", "SQL", "Kafka"})

	result, err := orch.Run(ctx, llm.NewAccumulator())
	require.NoError(t, err)
	assert.Equal(t, 2, result.Chunks)
	assert.Equal(t, int32(2), calls.Load())

	var logs []db.NormalizationLog
	require.NoError(t, store.DB.Find(&logs).Error)
	require.Len(t, logs, 2)
	for _, entry := range logs {
		assert.Equal(t, "normalization", entry.Stage)
		assert.Equal(t, testModel, entry.Model)
		assert.Equal(t, 100, entry.PromptTokens)
	}
}

func TestRunAccumulatesAcrossRuns(t *testing.T) {
	var calls atomic.Int32
	orch, store := newTestOrchestrator(t, fakeNormalizer(t, &calls, nil), 0)
	ctx := context.Background()

	seedExtracted(t, store, []string{"Go"})
	_, err := orch.Run(ctx, llm.NewAccumulator())
	require.NoError(t, err)

	// Later batches referencing the same skill add to the counter.
	require.NoError(t, store.SaveExtracted(ctx, []db.ExtractedSkills{
		{ProcessingID: 98, RequiredSkills: db.StringArray{"go"}},
		{ProcessingID: 99, RequiredSkills: db.StringArray{"GO"}},
	}))
	_, err = orch.Run(ctx, llm.NewAccumulator())
	require.NoError(t, err)

	skillRow, err := store.FindSkill(ctx, "Go")
	require.NoError(t, err)
	require.NotNil(t, skillRow)
	assert.Equal(t, int64(3), skillRow.TotalReferences)
}
