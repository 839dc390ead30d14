package llm

import (
	"fmt"

	"github.com/tiktoken-go/tokenizer"
)

// AuditEstimate is an offline projection of token counts and cost for a set
// of documents, computed without any API calls.
type AuditEstimate struct {
	Model            string
	Documents        int
	PromptTokens     int
	EstimatedOutput  int
	EstimatedCostUSD float64
}

// outputRatio approximates completion size as a fraction of prompt size,
// calibrated against observed extraction runs.
const outputRatio = 0.15

// EstimateCost tokenizes each document with the model's encoding and projects
// the run cost. Unknown models fall back to the o200k_base encoding and a
// zero price.
func EstimateCost(model, promptOverhead string, documents []string) (*AuditEstimate, error) {
	codec, err := tokenizer.ForModel(tokenizer.Model(model))
	if err != nil {
		codec, err = tokenizer.Get(tokenizer.O200kBase)
		if err != nil {
			return nil, fmt.Errorf("load tokenizer: %w", err)
		}
	}

	overheadTokens, err := codec.Count(promptOverhead)
	if err != nil {
		return nil, fmt.Errorf("count prompt overhead tokens: %w", err)
	}

	var promptTokens int
	for _, doc := range documents {
		n, err := codec.Count(doc)
		if err != nil {
			return nil, fmt.Errorf("count document tokens: %w", err)
		}
		promptTokens += n + overheadTokens
	}

	estimatedOutput := int(float64(promptTokens) * outputRatio)
	usage := CallUsage{
		Model:            model,
		PromptTokens:     promptTokens,
		CompletionTokens: estimatedOutput,
	}

	return &AuditEstimate{
		Model:            model,
		Documents:        len(documents),
		PromptTokens:     promptTokens,
		EstimatedOutput:  estimatedOutput,
		EstimatedCostUSD: usage.Cost(),
	}, nil
}
