// Package vector provides skill embedding generation and pgvector-backed
// storage for the clustering stage.
package vector

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/sethvargo/go-retry"

	"github.com/gradlane/skillpipe/internal/llm"
)

const (
	// EmbeddingDimensions is the output width of text-embedding-3-small.
	EmbeddingDimensions = 1536

	embedHTTPTimeout = 60 * time.Second
)

// Embedder calls an OpenAI-compatible embeddings endpoint.
type Embedder struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	model      string
	batchSize  int
	logger     zerolog.Logger
}

// NewEmbedder creates an Embedder. batchSize caps inputs per API call.
func NewEmbedder(baseURL, apiKey, model string, batchSize int, logger zerolog.Logger) (*Embedder, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY is required")
	}
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	if model == "" {
		model = "text-embedding-3-small"
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	return &Embedder{
		httpClient: &http.Client{Timeout: embedHTTPTimeout},
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		model:      model,
		batchSize:  batchSize,
		logger:     logger.With().Str("component", "embedder").Logger(),
	}, nil
}

type embedRequest struct {
	Input          []string `json:"input"`
	Model          string   `json:"model"`
	EncodingFormat string   `json:"encoding_format"`
}

type embedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Usage struct {
		PromptTokens int `json:"prompt_tokens"`
	} `json:"usage"`
}

// EmbedBatch embeds texts in API batches, preserving input order. Usage is
// recorded per call on the accumulator.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string, usage *llm.Accumulator) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	results := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += e.batchSize {
		end := start + e.batchSize
		if end > len(texts) {
			end = len(texts)
		}
		batch, err := e.embedRequest(ctx, texts[start:end], usage)
		if err != nil {
			return nil, err
		}
		results = append(results, batch...)
	}

	if len(results) != len(texts) {
		return nil, fmt.Errorf("embedding API returned %d results for %d inputs (model=%s)",
			len(results), len(texts), e.model)
	}
	return results, nil
}

func (e *Embedder) embedRequest(ctx context.Context, input []string, usage *llm.Accumulator) ([][]float32, error) {
	body, err := json.Marshal(embedRequest{
		Input:          input,
		Model:          e.model,
		EncodingFormat: "float",
	})
	if err != nil {
		return nil, fmt.Errorf("marshal embedding request: %w", err)
	}

	var parsed embedResponse
	backoff := retry.WithMaxRetries(3, retry.NewExponential(2*time.Second))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost,
			e.baseURL+"/embeddings", bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("create embedding request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+e.apiKey)

		resp, err := e.httpClient.Do(req)
		if err != nil {
			return retry.RetryableError(fmt.Errorf("send embedding request: %w", err))
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			apiErr := fmt.Errorf("embedding API error (model=%s, status=%d): %s",
				e.model, resp.StatusCode, strings.TrimSpace(string(snippet)))
			if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
				return retry.RetryableError(apiErr)
			}
			return apiErr
		}

		parsed = embedResponse{}
		if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
			return fmt.Errorf("decode embedding response: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if usage != nil {
		usage.Add(llm.CallUsage{Model: e.model, PromptTokens: parsed.Usage.PromptTokens})
	}

	sort.Slice(parsed.Data, func(i, j int) bool {
		return parsed.Data[i].Index < parsed.Data[j].Index
	})
	out := make([][]float32, len(parsed.Data))
	for i, d := range parsed.Data {
		out[i] = d.Embedding
	}
	return out, nil
}
