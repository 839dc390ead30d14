package worker

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gradlane/skillpipe/internal/config"
	"github.com/gradlane/skillpipe/internal/db"
	"github.com/gradlane/skillpipe/internal/enrichment"
	"github.com/gradlane/skillpipe/internal/extraction"
	"github.com/gradlane/skillpipe/internal/llm"
	"github.com/gradlane/skillpipe/internal/normalization"
	"github.com/gradlane/skillpipe/internal/promotion"
	"github.com/gradlane/skillpipe/internal/vector"
)

// memoryVectors implements both the embedding sink and the promotion source.
type memoryVectors struct {
	rows []vector.SkillVector
}

func (m *memoryVectors) InsertBatch(_ context.Context, rows []vector.SkillVector) error {
	m.rows = append(m.rows, rows...)
	return nil
}

func (m *memoryVectors) EmbeddedExtractedIDs(_ context.Context) (map[int64]struct{}, error) {
	out := make(map[int64]struct{})
	for _, r := range m.rows {
		out[r.ExtractedID] = struct{}{}
	}
	return out, nil
}

func (m *memoryVectors) All(_ context.Context) ([]vector.SkillVector, error) {
	return m.rows, nil
}

func newTestService(t *testing.T) *Service {
	t.Helper()

	// The empty-database paths under test never reach the model.
	llmSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unexpected model call", http.StatusBadRequest)
	}))
	t.Cleanup(llmSrv.Close)

	client, err := llm.NewClient(llmSrv.URL, "sk-test", zerolog.Nop())
	require.NoError(t, err)
	embedder, err := vector.NewEmbedder(llmSrv.URL, "sk-test", "", 0, zerolog.Nop())
	require.NoError(t, err)

	store, err := db.NewSQLiteStore(filepath.Join(t.TempDir(), "worker.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	cfg := config.Default()
	mem := &memoryVectors{}
	extractor := extraction.NewExtractor(client, cfg.CleanModel, cfg.ExtractModel, cfg.MaxChunkChars, zerolog.Nop())

	return NewService("test", cfg, Deps{
		Store:              store,
		ExtractionPipeline: extraction.NewPipeline(store, extractor, cfg.ExtractBatchSize, cfg.FlushEvery, 0, zerolog.Nop()),
		Normalizer:         normalization.NewOrchestrator(store, client, cfg.NormalizeModel, cfg.NormalizeChunkSize, cfg.MinBatchFloor, zerolog.Nop()),
		EmbedService:       vector.NewService(store, mem, embedder, zerolog.Nop()),
		Promoter:           promotion.NewPromoter(store, mem, cfg.ClusterTopK, cfg.ClusterThreshold, zerolog.Nop()),
		Enricher:           enrichment.NewService(store, extractor, zerolog.Nop()),
	})
}

func TestHealthEndpoint(t *testing.T) {
	svc := newTestService(t)

	rec := httptest.NewRecorder()
	svc.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"healthy"`)
	assert.Contains(t, rec.Body.String(), `"version":"test"`)
}

func TestLastRunBeforeAnyRun(t *testing.T) {
	svc := newTestService(t)

	rec := httptest.NewRecorder()
	svc.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/runs/last", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestFullRunOnEmptyDatabase(t *testing.T) {
	svc := newTestService(t)

	rec := httptest.NewRecorder()
	svc.router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/run", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	last := svc.LastRun()
	require.NotNil(t, last)
	assert.Empty(t, last.Error)
	assert.Zero(t, last.Extraction.Total)
	assert.Zero(t, last.TotalCostUSD)

	rec = httptest.NewRecorder()
	svc.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/runs/last", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestConcurrentRunRejected(t *testing.T) {
	svc := newTestService(t)

	// Simulate an in-flight run holding the lock.
	require.True(t, svc.runMu.TryLock())
	defer svc.runMu.Unlock()

	rec := httptest.NewRecorder()
	svc.router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/run", nil))
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = httptest.NewRecorder()
	svc.router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/run/extraction", nil))
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestStageEndpoint(t *testing.T) {
	svc := newTestService(t)

	rec := httptest.NewRecorder()
	svc.router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/run/consolidation", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"stage":"consolidation"`)
}

func TestStatsEndpoint(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.store.DB.Create(&db.Description{Description: "doc"}).Error)
	require.NoError(t, svc.store.UpsertSkillCount(ctx, "Go", "Go", 1))

	rec := httptest.NewRecorder()
	svc.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/stats", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"backlog":1`)
	assert.Contains(t, rec.Body.String(), `"skills":1`)
}

func TestUsageEndpointValidatesSince(t *testing.T) {
	svc := newTestService(t)

	rec := httptest.NewRecorder()
	svc.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/usage?since=yesterday", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	svc.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/usage", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
