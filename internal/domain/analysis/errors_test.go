package analysis

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/womenscare/clinical-analysis/internal/domain/ai"
	"github.com/womenscare/clinical-analysis/internal/domain/aiconfig"
)

func TestCategoryOf(t *testing.T) {
	cases := []struct {
		err  error
		want ErrorCategory
	}{
		{&aiconfig.ConfigurationError{Missing: []string{"x"}}, CategoryConfiguration},
		{ai.NewProviderError(aiconfig.ProviderOpenAI, ai.KindRateLimited, nil), CategoryRateLimited},
		{ai.NewProviderError(aiconfig.ProviderOpenAI, ai.KindAuth, nil), CategoryAuth},
		{ai.NewProviderError(aiconfig.ProviderOpenAI, ai.KindTimeout, nil), CategoryTimeout},
		{ai.NewProviderError(aiconfig.ProviderOpenAI, ai.KindProviderUnavailable, nil), CategoryProviderUnavailable},
		{fmt.Errorf("wrapped: %w", &MalformedResponse{Type: aiconfig.TypeTCM}), CategoryMalformedResponse},
		{&PersistenceError{Op: "update", Err: errors.New("db")}, CategoryPersistence},
		{errors.New("boom"), CategoryInternal},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, CategoryOf(tc.err), tc.err.Error())
		assert.NotEmpty(t, tc.want.Describe())
	}
}

func TestMalformedResponse_Error(t *testing.T) {
	err := &MalformedResponse{Type: aiconfig.TypeIFM, Violations: []string{"systems.energy.score: Must be less than or equal to 100", "summary is required"}}
	assert.Equal(t, "malformed ifm response: systems.energy.score: Must be less than or equal to 100; summary is required", err.Error())
}
