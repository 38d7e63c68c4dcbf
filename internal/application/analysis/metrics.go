package analysis

import (
	"time"

	"github.com/womenscare/clinical-analysis/internal/domain/aiconfig"
	domain "github.com/womenscare/clinical-analysis/internal/domain/analysis"
)

// Metrics receives pipeline observations.
type Metrics interface {
	RunFinished(t aiconfig.AnalysisType, status domain.Status, category domain.ErrorCategory, d time.Duration)
	ProviderCall(p aiconfig.Provider, model, outcome string, d time.Duration)
	Usage(p aiconfig.Provider, model string, promptTokens, completionTokens int, cost float64)
}

type nopMetrics struct{}

func (nopMetrics) RunFinished(aiconfig.AnalysisType, domain.Status, domain.ErrorCategory, time.Duration) {
}
func (nopMetrics) ProviderCall(aiconfig.Provider, string, string, time.Duration) {}
func (nopMetrics) Usage(aiconfig.Provider, string, int, int, float64)            {}
