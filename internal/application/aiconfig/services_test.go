package aiconfig

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/womenscare/clinical-analysis/internal/domain/aiconfig"
	"github.com/womenscare/clinical-analysis/internal/infra/ai/prompt"
)

type memRepo struct {
	mu    sync.Mutex
	cfg   *domain.GlobalAIConfig
	saves int
}

func (m *memRepo) Get(context.Context) (*domain.GlobalAIConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cfg == nil {
		return nil, domain.ErrNotFound
	}
	return m.cfg.Clone(), nil
}

func (m *memRepo) Save(_ context.Context, cfg *domain.GlobalAIConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cfg = cfg.Clone()
	m.saves++
	return nil
}

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

func newService(repo *memRepo) *Service {
	return NewService(repo, prompt.DefaultConfig, fixedClock{time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)}, nil)
}

func TestGet_SeedsDefaultsOnce(t *testing.T) {
	repo := &memRepo{}
	svc := newService(repo)

	cfg, err := svc.Get(context.Background())
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
	assert.Len(t, cfg.Stages, len(domain.AnalysisTypes))
	assert.Equal(t, "system", cfg.UpdatedBy)

	_, err = svc.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, repo.saves)
}

func TestUpdate_KeepsMaskedAndEmptyKeys(t *testing.T) {
	repo := &memRepo{}
	svc := newService(repo)
	ctx := context.Background()

	cfg, err := svc.Get(ctx)
	require.NoError(t, err)
	cfg.APIKeys[domain.ProviderOpenAI] = "sk-openai-secret-1234"
	cfg.APIKeys[domain.ProviderAnthropic] = "sk-ant-secret-5678"
	_, err = svc.Update(ctx, cfg, "admin@clinic")
	require.NoError(t, err)

	masked := repo.cfg.Masked()
	masked.APIKeys[domain.ProviderAnthropic] = ""
	masked.APIKeys[domain.ProviderGoogle] = "g-new-key"
	out, err := svc.Update(ctx, masked, "admin@clinic")
	require.NoError(t, err)

	assert.Equal(t, "sk-openai-secret-1234", out.APIKeys[domain.ProviderOpenAI])
	assert.Equal(t, "sk-ant-secret-5678", out.APIKeys[domain.ProviderAnthropic])
	assert.Equal(t, "g-new-key", out.APIKeys[domain.ProviderGoogle])
	assert.Equal(t, "admin@clinic", out.UpdatedBy)
}

func TestUpdate_RejectsInvalidStage(t *testing.T) {
	repo := &memRepo{}
	svc := newService(repo)
	ctx := context.Background()

	cfg, err := svc.Get(ctx)
	require.NoError(t, err)
	st := cfg.Stages[domain.TypeTCM]
	st.Temperature = 3
	cfg.Stages[domain.TypeTCM] = st

	_, err = svc.Update(ctx, cfg, "admin")
	require.Error(t, err)
	assert.True(t, domain.IsConfigurationError(err))
	assert.Equal(t, 1, repo.saves, "invalid update must not be written")
}

func TestUpdateStage(t *testing.T) {
	repo := &memRepo{}
	svc := newService(repo)
	ctx := context.Background()

	st, _, err := svc.Stage(ctx, domain.TypeIFM)
	require.NoError(t, err)
	st.Model = "gpt-4.1"
	st.RAGMaxResults = 3

	out, err := svc.UpdateStage(ctx, domain.TypeIFM, st, "admin")
	require.NoError(t, err)
	assert.Equal(t, "gpt-4.1", out.Stages[domain.TypeIFM].Model)
	assert.Equal(t, 3, repo.cfg.Stages[domain.TypeIFM].RAGMaxResults)

	_, err = svc.UpdateStage(ctx, domain.AnalysisType("dental"), st, "admin")
	assert.True(t, domain.IsConfigurationError(err))
}

func TestReset_KeepsAPIKeys(t *testing.T) {
	repo := &memRepo{}
	svc := newService(repo)
	ctx := context.Background()

	cfg, err := svc.Get(ctx)
	require.NoError(t, err)
	cfg.APIKeys[domain.ProviderOpenAI] = "sk-keep-me-0000"
	st := cfg.Stages[domain.TypeLaboratory]
	st.SystemPrompt = "custom"
	cfg.Stages[domain.TypeLaboratory] = st
	_, err = svc.Update(ctx, cfg, "admin")
	require.NoError(t, err)

	out, err := svc.Reset(ctx, "admin")
	require.NoError(t, err)
	def, err := prompt.DefaultConfig()
	require.NoError(t, err)
	assert.Equal(t, def.Stages[domain.TypeLaboratory].SystemPrompt, out.Stages[domain.TypeLaboratory].SystemPrompt)
	assert.Equal(t, "sk-keep-me-0000", out.APIKeys[domain.ProviderOpenAI])
}
