package llm

import (
	"sync"

	"github.com/rs/zerolog"
)

// Per-million-token prices in USD. Embedding models bill input only.
type modelPricing struct {
	InputPerM  float64
	OutputPerM float64
}

var pricingTable = map[string]modelPricing{
	"gpt-4o-mini":            {InputPerM: 0.15, OutputPerM: 0.60},
	"gpt-4o":                 {InputPerM: 2.50, OutputPerM: 10.00},
	"gpt-5":                  {InputPerM: 1.25, OutputPerM: 10.00},
	"gpt-5-mini":             {InputPerM: 0.25, OutputPerM: 2.00},
	"text-embedding-3-small": {InputPerM: 0.02},
	"text-embedding-3-large": {InputPerM: 0.13},
}

// CallUsage is the token usage of a single API call.
type CallUsage struct {
	Model            string
	PromptTokens     int
	CompletionTokens int
}

// Cost returns the call's USD cost, or 0 for unknown models.
func (u CallUsage) Cost() float64 {
	p, ok := pricingTable[u.Model]
	if !ok {
		return 0
	}
	return float64(u.PromptTokens)/1e6*p.InputPerM +
		float64(u.CompletionTokens)/1e6*p.OutputPerM
}

// Accumulator aggregates token usage across a pipeline run. Each stage
// receives the accumulator explicitly and adds its calls to it; totals are
// read once at the end of the run for the ledger and the summary log.
type Accumulator struct {
	mu      sync.Mutex
	byModel map[string]*ModelTotals
	calls   int
}

// ModelTotals is the aggregate per model.
type ModelTotals struct {
	PromptTokens     int
	CompletionTokens int
	Calls            int
	CostUSD          float64
}

// NewAccumulator returns an empty usage accumulator.
func NewAccumulator() *Accumulator {
	return &Accumulator{byModel: make(map[string]*ModelTotals)}
}

// Add records one call. Safe for concurrent use.
func (a *Accumulator) Add(u CallUsage) {
	a.mu.Lock()
	defer a.mu.Unlock()

	t, ok := a.byModel[u.Model]
	if !ok {
		t = &ModelTotals{}
		a.byModel[u.Model] = t
	}
	t.PromptTokens += u.PromptTokens
	t.CompletionTokens += u.CompletionTokens
	t.Calls++
	t.CostUSD += u.Cost()
	a.calls++
}

// Calls returns the total number of recorded calls.
func (a *Accumulator) Calls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

// Totals returns a copy of the per-model aggregates.
func (a *Accumulator) Totals() map[string]ModelTotals {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make(map[string]ModelTotals, len(a.byModel))
	for model, t := range a.byModel {
		out[model] = *t
	}
	return out
}

// TotalCost returns the summed USD cost across all models.
func (a *Accumulator) TotalCost() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()

	var sum float64
	for _, t := range a.byModel {
		sum += t.CostUSD
	}
	return sum
}

// LogSummary emits one log line per model plus a grand total.
func (a *Accumulator) LogSummary(logger zerolog.Logger) {
	for model, t := range a.Totals() {
		logger.Info().
			Str("model", model).
			Int("calls", t.Calls).
			Int("prompt_tokens", t.PromptTokens).
			Int("completion_tokens", t.CompletionTokens).
			Float64("cost_usd", t.CostUSD).
			Msg("token usage")
	}
	logger.Info().Float64("total_cost_usd", a.TotalCost()).Msg("run cost")
}
