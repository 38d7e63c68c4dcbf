package ai

import (
	"strings"

	"github.com/womenscare/clinical-analysis/internal/domain/aiconfig"
)

// Price is USD per 1k tokens.
type Price struct {
	PromptPer1K     float64 `yaml:"promptPer1k" json:"promptPer1k"`
	CompletionPer1K float64 `yaml:"completionPer1k" json:"completionPer1k"`
}

// Cost of a call priced per 1k tokens.
func (p Price) Cost(promptTokens, completionTokens int) float64 {
	return (float64(promptTokens)*p.PromptPer1K + float64(completionTokens)*p.CompletionPer1K) / 1000
}

// PriceTable resolves prices by model, then by provider.
type PriceTable struct {
	Models    map[string]Price            `yaml:"models" json:"models"`
	Providers map[aiconfig.Provider]Price `yaml:"providers" json:"providers"`
}

// DefaultPriceTable carries list prices for the default models.
func DefaultPriceTable() PriceTable {
	return PriceTable{
		Models: map[string]Price{
			"gpt-4o":                    {PromptPer1K: 0.0025, CompletionPer1K: 0.01},
			"gpt-4o-mini":               {PromptPer1K: 0.00015, CompletionPer1K: 0.0006},
			"claude-sonnet-4-20250514":  {PromptPer1K: 0.003, CompletionPer1K: 0.015},
			"claude-3-5-haiku-20241022": {PromptPer1K: 0.0008, CompletionPer1K: 0.004},
			"gemini-2.0-flash":          {PromptPer1K: 0.0001, CompletionPer1K: 0.0004},
			"gemini-1.5-pro":            {PromptPer1K: 0.00125, CompletionPer1K: 0.005},
		},
		Providers: map[aiconfig.Provider]Price{
			aiconfig.ProviderOpenAI:    {PromptPer1K: 0.0025, CompletionPer1K: 0.01},
			aiconfig.ProviderAnthropic: {PromptPer1K: 0.003, CompletionPer1K: 0.015},
			aiconfig.ProviderGoogle:    {PromptPer1K: 0.00125, CompletionPer1K: 0.005},
		},
	}
}

// Lookup finds the price for a model. Model keys match exactly first,
// then by prefix so dated snapshots share a price.
func (t PriceTable) Lookup(p aiconfig.Provider, model string) Price {
	if pr, ok := t.Models[model]; ok {
		return pr
	}
	best := ""
	for k := range t.Models {
		if strings.HasPrefix(model, k) && len(k) > len(best) {
			best = k
		}
	}
	if best != "" {
		return t.Models[best]
	}
	return t.Providers[p]
}

// Cost computes the USD cost of a call.
func (t PriceTable) Cost(p aiconfig.Provider, model string, promptTokens, completionTokens int) float64 {
	return t.Lookup(p, model).Cost(promptTokens, completionTokens)
}
