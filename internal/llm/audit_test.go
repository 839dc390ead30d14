package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEstimateCost(t *testing.T) {
	docs := []string{
		"Senior Go engineer with Postgres and Kafka experience.",
		"Product designer fluent in Figma and user research.",
	}

	estimate, err := EstimateCost("gpt-4o-mini", "Extract skills.", docs)
	require.NoError(t, err)
	assert.Equal(t, 2, estimate.Documents)
	assert.Positive(t, estimate.PromptTokens)
	assert.Positive(t, estimate.EstimatedOutput)
	assert.Positive(t, estimate.EstimatedCostUSD)
	assert.Less(t, estimate.EstimatedOutput, estimate.PromptTokens)
}

func TestEstimateCostUnknownModelFallsBack(t *testing.T) {
	estimate, err := EstimateCost("mystery-model", "", []string{"some text"})
	require.NoError(t, err)
	assert.Positive(t, estimate.PromptTokens)
	assert.Zero(t, estimate.EstimatedCostUSD)
}

func TestEstimateCostEmptyDocuments(t *testing.T) {
	estimate, err := EstimateCost("gpt-4o-mini", "prompt", nil)
	require.NoError(t, err)
	assert.Zero(t, estimate.Documents)
	assert.Zero(t, estimate.PromptTokens)
}
