package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/womenscare/clinical-analysis/internal/domain/ai"
	"github.com/womenscare/clinical-analysis/internal/domain/aiconfig"
	domain "github.com/womenscare/clinical-analysis/internal/domain/analysis"
	"github.com/womenscare/clinical-analysis/internal/domain/retrieval"
	"github.com/womenscare/clinical-analysis/internal/domain/runerrors"
	"github.com/womenscare/clinical-analysis/internal/infra/ai/schema"
)

const labJSON = `{
  "summary": "Low ferritin.",
  "markers": [{"name":"Ferritin","value":"12","unit":"ng/mL","referenceRange":"15-150","status":"low","interpretation":"Depleted stores."}],
  "patterns": ["iron deficiency"],
  "recommendations": ["retest in 8 weeks"]
}`

type harness struct {
	svc         *Service
	repo        *memRepo
	runErrors   *memRunErrors
	client      *scriptedClient
	factory     *fakeFactory
	searcher    *fakeSearcher
	transcripts *memTranscripts
	sleeper     *recordingSleeper
}

func newHarness(t *testing.T, script ...scripted) *harness {
	t.Helper()
	h := &harness{
		repo:        newMemRepo(),
		runErrors:   &memRunErrors{},
		client:      &scriptedClient{script: script},
		searcher:    &fakeSearcher{},
		transcripts: &memTranscripts{},
		sleeper:     &recordingSleeper{},
	}
	h.factory = &fakeFactory{client: h.client}
	h.svc = NewService(Deps{
		Repo:      h.repo,
		RunErrors: h.runErrors,
		Providers: h.factory,
		Parser:    schema.MustParser(),
	},
		WithRetrieval(h.searcher),
		WithTranscripts(h.transcripts),
		WithClock(fixedClock{time.Date(2025, 5, 2, 10, 0, 0, 0, time.UTC)}),
		WithLogger(zaptest.NewLogger(t)),
		WithSleeper(h.sleeper.sleep),
	)
	return h
}

func labStage() aiconfig.AnalysisTypeConfig {
	return aiconfig.AnalysisTypeConfig{
		Provider:           aiconfig.ProviderOpenAI,
		Model:              "gpt-4o-mini",
		Temperature:        0.3,
		MaxTokens:          1000,
		SystemPrompt:       "You are a laboratory analyst. Answer in JSON.",
		UserPromptTemplate: "Patient {{patientName}}\nLabs:\n{{examData}}\n{{ragContext}}",
		RAGEnabled:         true,
		RAGThreshold:       0.5,
		RAGMaxResults:      2,
	}
}

func labCommand() RunCommand {
	return RunCommand{
		TenantID:  "clinic-a",
		UserID:    "dr-lee",
		PatientID: "p-1",
		Type:      aiconfig.TypeLaboratory,
		Variables: map[string]string{"patientName": "Jane", "examData": "Ferritin 12 ng/mL"},
	}
}

func keys() aiconfig.APIKeys {
	return aiconfig.APIKeys{aiconfig.ProviderOpenAI: "sk-test"}
}

func okResponse() scripted {
	return scripted{resp: ai.CompletionResponse{Text: labJSON, Model: "gpt-4o-mini", PromptTokens: 1000, CompletionTokens: 500}}
}

func TestRun_HappyPath(t *testing.T) {
	h := newHarness(t, okResponse())
	h.searcher.snippets = []retrieval.Snippet{
		{Content: "Ferritin below 15 indicates depletion.", Score: 0.9, SourceID: "doc-1"},
		{Content: "Unrelated.", Score: 0.2, SourceID: "doc-2"},
	}

	rec, err := h.svc.Run(context.Background(), labStage(), keys(), labCommand())
	require.NoError(t, err)

	assert.Equal(t, domain.StatusCompleted, rec.Status)
	lab, ok := rec.Analysis.(*domain.LaboratoryResult)
	require.True(t, ok)
	assert.Equal(t, "Ferritin", lab.Markers[0].Name)

	md := rec.AIMetadata
	assert.Equal(t, 1000, md.PromptTokens)
	assert.Equal(t, 500, md.CompletionTokens)
	assert.Equal(t, 1500, md.TotalTokens)
	assert.InDelta(t, 0.00045, md.Cost, 1e-12)
	assert.Equal(t, 1, md.Attempts)
	assert.Equal(t, aiconfig.ProviderOpenAI, md.Provider)
	assert.Nil(t, rec.Error)
	assert.Empty(t, rec.RawResponse)

	stored, err := h.repo.Get(context.Background(), "clinic-a", rec.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, stored.Status)

	require.Len(t, h.searcher.queries, 1)
	q := h.searcher.queries[0]
	assert.Equal(t, "laboratory", q.Category)
	assert.Equal(t, 2, q.Limit)
	assert.Equal(t, 0.5, q.ScoreThreshold)
	assert.Equal(t, "examData: Ferritin 12 ng/mL\npatientName: Jane", q.Text)

	req := h.client.requests[0]
	assert.Contains(t, req.UserPrompt, "Patient Jane")
	assert.Contains(t, req.UserPrompt, "source=doc-1")
	assert.NotContains(t, req.UserPrompt, "doc-2")
	assert.True(t, req.JSONMode)
	assert.Equal(t, []string{"sk-test"}, h.factory.keys)

	require.Len(t, h.transcripts.keys, 1)
	assert.Equal(t, "clinic-a/laboratory/"+string(rec.ID)+".json", h.transcripts.keys[0])
	assert.Contains(t, rec.TranscriptURL, h.transcripts.keys[0])
	var tr map[string]any
	require.NoError(t, json.Unmarshal(h.transcripts.bodies[0], &tr))
	assert.Equal(t, labJSON, tr["response"])
	assert.Empty(t, h.runErrors.entries)
}

func TestRun_MissingPlaceholderSkipsProvider(t *testing.T) {
	h := newHarness(t, okResponse())
	stage := labStage()
	stage.UserPromptTemplate = "{{patientName}} aged {{patientAge}}: {{examData}}"

	rec, err := h.svc.Run(context.Background(), stage, keys(), labCommand())
	require.Error(t, err)

	var ce *aiconfig.ConfigurationError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, []string{"patientAge"}, ce.Missing)
	assert.Equal(t, aiconfig.TypeLaboratory, ce.Stage)
	assert.Zero(t, h.client.calls())

	require.NotNil(t, rec)
	assert.Equal(t, domain.StatusError, rec.Status)
	require.NotNil(t, rec.Error)
	assert.Equal(t, domain.CategoryConfiguration, rec.Error.Category)
	assert.Contains(t, rec.Error.Message, "patientAge")

	stored, err := h.repo.Get(context.Background(), "clinic-a", rec.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusError, stored.Status)

	require.Len(t, h.runErrors.entries, 1)
	assert.Equal(t, runerrors.PhaseRender, h.runErrors.entries[0].Phase)
	assert.Contains(t, h.runErrors.entries[0].DetailsJSON, "patientAge")
}

func TestRun_MalformedResponse(t *testing.T) {
	h := newHarness(t, scripted{resp: ai.CompletionResponse{Text: "Here is the analysis: great labs!", PromptTokens: 10, CompletionTokens: 5}})

	rec, err := h.svc.Run(context.Background(), labStage(), keys(), labCommand())
	require.Error(t, err)
	var me *domain.MalformedResponse
	require.ErrorAs(t, err, &me)

	assert.Equal(t, domain.StatusError, rec.Status)
	assert.Equal(t, domain.CategoryMalformedResponse, rec.Error.Category)
	assert.Nil(t, rec.Analysis)
	assert.Equal(t, "Here is the analysis: great labs!", rec.RawResponse)
	assert.Equal(t, 15, rec.AIMetadata.TotalTokens)

	require.Len(t, h.runErrors.entries, 1)
	assert.Equal(t, runerrors.PhaseValidate, h.runErrors.entries[0].Phase)
	assert.Equal(t, string(domain.CategoryMalformedResponse), h.runErrors.entries[0].Category)
}

func TestRun_SchemaViolationIsMalformed(t *testing.T) {
	h := newHarness(t, scripted{resp: ai.CompletionResponse{Text: `{"summary":"x","markers":[],"patterns":[]}`}})

	rec, err := h.svc.Run(context.Background(), labStage(), keys(), labCommand())
	require.Error(t, err)
	assert.Equal(t, domain.CategoryMalformedResponse, domain.CategoryOf(err))
	assert.Equal(t, domain.StatusError, rec.Status)
}

func TestRun_RetriesTransientFailures(t *testing.T) {
	rate := ai.NewProviderError(aiconfig.ProviderOpenAI, ai.KindRateLimited, errors.New("429"))
	h := newHarness(t, scripted{err: rate}, scripted{err: rate}, okResponse())

	rec, err := h.svc.Run(context.Background(), labStage(), keys(), labCommand())
	require.NoError(t, err)
	assert.Equal(t, 3, rec.AIMetadata.Attempts)
	assert.Equal(t, 3, h.client.calls())
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, h.sleeper.waits)

	first, last := h.client.requests[0], h.client.requests[2]
	assert.Equal(t, first.UserPrompt, last.UserPrompt)
}

func TestRun_AuthErrorIsNotRetried(t *testing.T) {
	h := newHarness(t, scripted{err: ai.NewProviderError(aiconfig.ProviderOpenAI, ai.KindAuth, errors.New("401"))})

	rec, err := h.svc.Run(context.Background(), labStage(), keys(), labCommand())
	require.Error(t, err)
	assert.ErrorIs(t, err, ai.ErrAuth)
	assert.Equal(t, 1, h.client.calls())
	assert.Empty(t, h.sleeper.waits)
	assert.Equal(t, domain.CategoryAuth, rec.Error.Category)
}

func TestRun_MissingAPIKey(t *testing.T) {
	h := newHarness(t, okResponse())

	rec, err := h.svc.Run(context.Background(), labStage(), aiconfig.APIKeys{}, labCommand())
	require.Error(t, err)
	assert.ErrorIs(t, err, ai.ErrAuth)
	assert.Zero(t, h.client.calls())
	assert.Equal(t, domain.CategoryAuth, rec.Error.Category)
}

func TestRun_RetriesExhausted(t *testing.T) {
	h := newHarness(t, scripted{err: ai.NewProviderError(aiconfig.ProviderOpenAI, ai.KindProviderUnavailable, errors.New("503"))})

	rec, err := h.svc.Run(context.Background(), labStage(), keys(), labCommand())
	require.Error(t, err)
	assert.ErrorIs(t, err, ai.ErrProviderUnavailable)
	assert.Equal(t, 3, h.client.calls())
	assert.Equal(t, 3, rec.AIMetadata.Attempts)
	assert.Equal(t, domain.CategoryProviderUnavailable, rec.Error.Category)
	require.Len(t, h.runErrors.entries, 1)
	assert.Equal(t, runerrors.PhaseProvider, h.runErrors.entries[0].Phase)
}

func TestRun_RAGDisabledRendersEmptyContext(t *testing.T) {
	h := newHarness(t, okResponse())
	stage := labStage()
	stage.RAGEnabled = false

	_, err := h.svc.Run(context.Background(), stage, keys(), labCommand())
	require.NoError(t, err)
	assert.Empty(t, h.searcher.queries)
	assert.Equal(t, "Patient Jane\nLabs:\nFerritin 12 ng/mL\n", h.client.requests[0].UserPrompt)
}

func TestRun_RetrievalFailureIsNotFatal(t *testing.T) {
	h := newHarness(t, okResponse())
	h.searcher.err = errors.New("elasticsearch down")
	cmd := labCommand()
	cmd.RetrievalQuery = "ferritin depletion"

	rec, err := h.svc.Run(context.Background(), labStage(), keys(), cmd)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, rec.Status)
	assert.Equal(t, "ferritin depletion", h.searcher.queries[0].Text)
	require.Len(t, h.runErrors.entries, 1)
	assert.Equal(t, runerrors.PhaseRetrieval, h.runErrors.entries[0].Phase)
}

func TestRun_TranscriptFailureIsNotFatal(t *testing.T) {
	h := newHarness(t, okResponse())
	h.transcripts.err = errors.New("bucket missing")

	rec, err := h.svc.Run(context.Background(), labStage(), keys(), labCommand())
	require.NoError(t, err)
	assert.Empty(t, rec.TranscriptURL)
}

func TestRun_InvalidStageConfig(t *testing.T) {
	h := newHarness(t, okResponse())
	stage := labStage()
	stage.MaxTokens = 10

	rec, err := h.svc.Run(context.Background(), stage, keys(), labCommand())
	require.Error(t, err)
	assert.Nil(t, rec)
	assert.True(t, aiconfig.IsConfigurationError(err))
	assert.Empty(t, h.repo.rows)
}

func TestRun_InvalidCommand(t *testing.T) {
	h := newHarness(t, okResponse())
	cmd := labCommand()
	cmd.PatientID = ""

	_, err := h.svc.Run(context.Background(), labStage(), keys(), cmd)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	cmd = labCommand()
	cmd.UserID = " "
	_, err = h.svc.Run(context.Background(), labStage(), keys(), cmd)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	assert.Contains(t, err.Error(), "user_id")
	assert.Empty(t, h.repo.rows)
}

func TestRun_PersistFailure(t *testing.T) {
	h := newHarness(t, okResponse())
	h.repo.updateErr = errors.New("connection reset")

	rec, err := h.svc.Run(context.Background(), labStage(), keys(), labCommand())
	require.Error(t, err)
	var pe *domain.PersistenceError
	assert.ErrorAs(t, err, &pe)
	assert.Equal(t, 1, h.client.calls())
	require.NotNil(t, rec)
	assert.Equal(t, domain.CategoryPersistence, rec.Error.Category)
	require.Len(t, h.runErrors.entries, 1)
	assert.Equal(t, runerrors.PhasePersist, h.runErrors.entries[0].Phase)
}

func TestRun_PersistFailureMarksDraftAsError(t *testing.T) {
	h := newHarness(t, okResponse())
	h.repo.updateErr = errors.New("deadlock detected")
	h.repo.failUpdates = 1

	rec, err := h.svc.Run(context.Background(), labStage(), keys(), labCommand())
	require.Error(t, err)

	stored, gerr := h.repo.Get(context.Background(), "clinic-a", rec.ID)
	require.NoError(t, gerr)
	assert.Equal(t, domain.StatusError, stored.Status)
	assert.Equal(t, domain.CategoryPersistence, stored.Error.Category)
	assert.Nil(t, stored.Analysis)
	assert.Equal(t, 1000, stored.AIMetadata.PromptTokens)
}

func TestRetryPolicy_BackOffSchedule(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 6, BaseDelay: time.Second, MaxDelay: 5 * time.Second}
	b := p.backOff(context.Background(), fixedClock{time.Now()})
	b.Reset()

	var waits []time.Duration
	for d := b.NextBackOff(); d != backoff.Stop; d = b.NextBackOff() {
		waits = append(waits, d)
	}
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 5 * time.Second, 5 * time.Second}, waits)
}

func TestRetryPolicy_SingleAttemptNeverWaits(t *testing.T) {
	b := RetryPolicy{MaxAttempts: 0, BaseDelay: time.Second}.backOff(context.Background(), fixedClock{time.Now()})
	b.Reset()
	assert.Equal(t, backoff.Stop, b.NextBackOff())
}

func TestRun_CancelledWaitKeepsProviderError(t *testing.T) {
	rate := ai.NewProviderError(aiconfig.ProviderOpenAI, ai.KindRateLimited, errors.New("429"))
	h := newHarness(t, scripted{err: rate}, okResponse())
	ctx, cancel := context.WithCancel(context.Background())
	h.svc.Sleep = func(context.Context, time.Duration) error {
		cancel()
		return context.Canceled
	}

	rec, err := h.svc.Run(ctx, labStage(), keys(), labCommand())
	require.Error(t, err)
	assert.ErrorIs(t, err, ai.ErrRateLimited)
	assert.Equal(t, 1, h.client.calls())
	assert.Equal(t, domain.CategoryRateLimited, rec.Error.Category)
}

func TestQueryFromVariables(t *testing.T) {
	got := queryFromVariables(map[string]string{"b": "2", "a": "1", "empty": " ", "ragContext": "x"})
	assert.Equal(t, "a: 1\nb: 2", got)
}
