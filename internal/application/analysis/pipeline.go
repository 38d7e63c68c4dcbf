package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/womenscare/clinical-analysis/internal/domain/ai"
	"github.com/womenscare/clinical-analysis/internal/domain/aiconfig"
	domain "github.com/womenscare/clinical-analysis/internal/domain/analysis"
	"github.com/womenscare/clinical-analysis/internal/domain/retrieval"
	"github.com/womenscare/clinical-analysis/internal/domain/runerrors"
	"github.com/womenscare/clinical-analysis/internal/infra/ai/prompt"
)

// RunCommand triggers one stage for one patient.
type RunCommand struct {
	TenantID  string
	UserID    string
	PatientID string
	Type      aiconfig.AnalysisType
	// Variables fill the user prompt template.
	Variables map[string]string
	// RetrievalQuery overrides the text sent to retrieval.
	RetrievalQuery string
}

func (c RunCommand) validate() error {
	var missing []string
	if strings.TrimSpace(c.TenantID) == "" {
		missing = append(missing, "tenant_id")
	}
	if strings.TrimSpace(c.PatientID) == "" {
		missing = append(missing, "patient_id")
	}
	if strings.TrimSpace(c.UserID) == "" {
		missing = append(missing, "user_id")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s required", domain.ErrInvalidInput, strings.Join(missing, ", "))
	}
	if !c.Type.Valid() {
		return &aiconfig.ConfigurationError{Field: "analysisType", Reason: fmt.Sprintf("unknown analysis type %q", c.Type)}
	}
	return nil
}

// transcript is the archived record of one provider exchange.
type transcript struct {
	AnalysisID   string    `json:"analysis_id"`
	TenantID     string    `json:"tenant_id"`
	PatientID    string    `json:"patient_id"`
	Type         string    `json:"type"`
	Provider     string    `json:"provider"`
	Model        string    `json:"model"`
	Attempts     int       `json:"attempts"`
	SystemPrompt string    `json:"system_prompt"`
	UserPrompt   string    `json:"user_prompt"`
	Response     string    `json:"response"`
	CreatedAt    time.Time `json:"created_at"`
}

// Run executes one analysis stage. The returned record reflects the
// final stored state, including error runs; err is non-nil for every
// failure.
func (s *Service) Run(ctx context.Context, stage aiconfig.AnalysisTypeConfig, keys aiconfig.APIKeys, cmd RunCommand) (*domain.AnalysisResult, error) {
	started := s.Clock.Now()
	log := s.Log.With(zap.String("tenant", cmd.TenantID), zap.String("type", string(cmd.Type)), zap.String("patient_id", cmd.PatientID))

	if err := cmd.validate(); err != nil {
		return nil, err
	}
	if err := stage.Validate(); err != nil {
		var ce *aiconfig.ConfigurationError
		if errors.As(err, &ce) && ce.Stage == "" {
			cp := *ce
			cp.Stage = cmd.Type
			err = &cp
		}
		log.Warn("analysis stage config invalid", zap.Error(err))
		s.Metrics.RunFinished(cmd.Type, domain.StatusError, domain.CategoryConfiguration, 0)
		return nil, err
	}

	now := started.UTC()
	rec := &domain.AnalysisResult{
		ID:        domain.ID(uuid.New().String()),
		TenantID:  cmd.TenantID,
		UserID:    cmd.UserID,
		PatientID: cmd.PatientID,
		Type:      cmd.Type,
		Status:    domain.StatusDraft,
		AIMetadata: domain.AIMetadata{
			Model:       stage.Model,
			Provider:    stage.Provider,
			Temperature: stage.Temperature,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.Repo.Create(ctx, rec); err != nil {
		perr := &domain.PersistenceError{Op: "create draft", Err: err}
		log.Error("failed to create draft analysis", zap.Error(err))
		s.Metrics.RunFinished(cmd.Type, domain.StatusError, domain.CategoryPersistence, s.Clock.Now().Sub(started))
		return nil, perr
	}
	log = log.With(zap.String("analysis_id", string(rec.ID)))

	values := make(map[string]string, len(cmd.Variables)+1)
	for k, v := range cmd.Variables {
		values[k] = v
	}
	if stage.RAGEnabled {
		values[prompt.RAGContextKey] = s.ragContext(ctx, log, rec, stage, cmd)
	} else if _, ok := values[prompt.RAGContextKey]; !ok {
		values[prompt.RAGContextKey] = ""
	}

	userPrompt, err := prompt.Render(stage.UserPromptTemplate, values)
	if err != nil {
		var ce *aiconfig.ConfigurationError
		if errors.As(err, &ce) && ce.Stage == "" {
			cp := *ce
			cp.Stage = cmd.Type
			err = &cp
		}
		return s.fail(ctx, log, rec, started, runerrors.PhaseRender, err, "")
	}

	client, err := s.Providers.Client(stage.Provider, keys[stage.Provider])
	if err != nil {
		return s.fail(ctx, log, rec, started, runerrors.PhaseProvider, err, "")
	}
	req := ai.CompletionRequest{
		SystemPrompt: stage.SystemPrompt,
		UserPrompt:   userPrompt,
		Model:        stage.Model,
		Temperature:  stage.Temperature,
		MaxTokens:    stage.MaxTokens,
		JSONMode:     true,
	}
	callStart := s.Clock.Now()
	resp, attempts, err := s.complete(ctx, log, client, stage, req)
	rec.AIMetadata.Attempts = attempts
	rec.AIMetadata.ProcessingTimeMS = s.Clock.Now().Sub(callStart).Milliseconds()
	if err != nil {
		return s.fail(ctx, log, rec, started, runerrors.PhaseProvider, err, "")
	}

	if resp.Model != "" {
		rec.AIMetadata.Model = resp.Model
	}
	rec.AIMetadata.PromptTokens = resp.PromptTokens
	rec.AIMetadata.CompletionTokens = resp.CompletionTokens
	rec.AIMetadata.TotalTokens = resp.PromptTokens + resp.CompletionTokens
	rec.AIMetadata.Cost = s.Prices.Cost(stage.Provider, rec.AIMetadata.Model, resp.PromptTokens, resp.CompletionTokens)
	s.Metrics.Usage(stage.Provider, rec.AIMetadata.Model, resp.PromptTokens, resp.CompletionTokens, rec.AIMetadata.Cost)

	rec.TranscriptURL = s.archive(ctx, log, rec, req, resp.Text, attempts)

	result, err := s.Parser.Parse(cmd.Type, resp.Text)
	if err != nil {
		return s.fail(ctx, log, rec, started, runerrors.PhaseValidate, err, resp.Text)
	}

	next, err := domain.Transition(rec.Status, domain.StatusCompleted)
	if err != nil {
		return s.fail(ctx, log, rec, started, runerrors.PhasePersist, err, "")
	}
	rec.Analysis = result
	rec.Status = next
	rec.UpdatedAt = s.Clock.Now().UTC()
	if err := s.Repo.Update(ctx, rec, domain.StatusDraft); err != nil {
		log.Error("failed to persist completed analysis", zap.Error(err))
		// best effort: leave the row as error/persistence rather than draft
		return s.fail(ctx, log, rec, started, runerrors.PhasePersist, &domain.PersistenceError{Op: "complete analysis", Err: err}, "")
	}

	log.Info("analysis completed",
		zap.String("provider", string(stage.Provider)),
		zap.String("model", rec.AIMetadata.Model),
		zap.Int("attempts", attempts),
		zap.Int("total_tokens", rec.AIMetadata.TotalTokens),
		zap.Float64("cost", rec.AIMetadata.Cost),
		zap.Int64("processing_ms", rec.AIMetadata.ProcessingTimeMS))
	s.Metrics.RunFinished(cmd.Type, domain.StatusCompleted, "", s.Clock.Now().Sub(started))
	return rec, nil
}

// complete calls the provider with bounded retry on transient failures.
// req is built once by the caller and reused for every attempt.
func (s *Service) complete(ctx context.Context, log *zap.Logger, client ai.Client, stage aiconfig.AnalysisTypeConfig, req ai.CompletionRequest) (ai.CompletionResponse, int, error) {
	var (
		resp     ai.CompletionResponse
		attempts int
		lastErr  error
	)
	op := func() error {
		attempts++
		t0 := s.Clock.Now()
		out, err := client.Complete(ctx, req)
		outcome := "ok"
		if err != nil {
			outcome = string(domain.CategoryOf(err))
		}
		s.Metrics.ProviderCall(stage.Provider, stage.Model, outcome, s.Clock.Now().Sub(t0))
		if err != nil {
			lastErr = err
			if !ai.IsRetryable(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		resp = out
		return nil
	}
	notify := func(err error, wait time.Duration) {
		log.Warn("provider call failed, retrying",
			zap.Int("attempt", attempts), zap.Duration("backoff", wait), zap.Error(err))
	}

	err := backoff.RetryNotifyWithTimer(op, s.Retry.backOff(ctx, s.Clock), notify, newSleeperTimer(ctx, s.Sleep))
	if err != nil {
		// a cancelled wait reports the provider failure, not the context
		if lastErr != nil {
			err = lastErr
		}
		return ai.CompletionResponse{}, attempts, err
	}
	return resp, attempts, nil
}

// ragContext retrieves reference snippets. Retrieval failures degrade
// to an empty context and are written to the run error log.
func (s *Service) ragContext(ctx context.Context, log *zap.Logger, rec *domain.AnalysisResult, stage aiconfig.AnalysisTypeConfig, cmd RunCommand) string {
	q := retrieval.Query{
		Text:           cmd.RetrievalQuery,
		Category:       string(cmd.Type),
		Limit:          stage.RAGMaxResults,
		ScoreThreshold: stage.RAGThreshold,
	}
	if strings.TrimSpace(q.Text) == "" {
		q.Text = queryFromVariables(cmd.Variables)
	}
	if q.Text == "" {
		return ""
	}
	snippets, err := s.Retrieval.Search(ctx, q)
	if err != nil {
		log.Warn("retrieval failed, continuing without reference material", zap.Error(err))
		s.logRunError(ctx, log, rec, runerrors.PhaseRetrieval, err)
		return ""
	}
	return prompt.FormatSnippets(retrieval.Normalize(snippets, q))
}

func queryFromVariables(vars map[string]string) string {
	keys := make([]string, 0, len(vars))
	for k, v := range vars {
		if k == prompt.RAGContextKey || strings.TrimSpace(v) == "" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	lines := make([]string, 0, len(keys))
	for _, k := range keys {
		lines = append(lines, k+": "+vars[k])
	}
	return strings.Join(lines, "\n")
}

func (s *Service) archive(ctx context.Context, log *zap.Logger, rec *domain.AnalysisResult, req ai.CompletionRequest, raw string, attempts int) string {
	if s.Transcripts == nil {
		return ""
	}
	body, err := json.Marshal(transcript{
		AnalysisID:   string(rec.ID),
		TenantID:     rec.TenantID,
		PatientID:    rec.PatientID,
		Type:         string(rec.Type),
		Provider:     string(rec.AIMetadata.Provider),
		Model:        rec.AIMetadata.Model,
		Attempts:     attempts,
		SystemPrompt: req.SystemPrompt,
		UserPrompt:   req.UserPrompt,
		Response:     raw,
		CreatedAt:    s.Clock.Now().UTC(),
	})
	if err != nil {
		log.Warn("failed to encode transcript", zap.Error(err))
		return ""
	}
	key := fmt.Sprintf("%s/%s/%s.json", rec.TenantID, rec.Type, rec.ID)
	url, err := s.Transcripts.PutTranscript(ctx, key, body)
	if err != nil {
		log.Warn("failed to archive transcript", zap.String("key", key), zap.Error(err))
		return ""
	}
	return url
}

// fail moves the draft to error and records why.
func (s *Service) fail(ctx context.Context, log *zap.Logger, rec *domain.AnalysisResult, started time.Time, phase runerrors.Phase, cause error, raw string) (*domain.AnalysisResult, error) {
	// keep writing even if the caller's context was cancelled
	wctx := context.WithoutCancel(ctx)
	category := domain.CategoryOf(cause)

	rec.Status = domain.StatusError
	rec.Analysis = nil
	rec.RawResponse = raw
	rec.Error = &domain.RunError{Category: category, Message: category.Describe() + " " + cause.Error()}
	rec.UpdatedAt = s.Clock.Now().UTC()
	if err := s.Repo.Update(wctx, rec, domain.StatusDraft); err != nil {
		log.Error("failed to mark analysis as error", zap.Error(err))
	}
	s.logRunError(wctx, log, rec, phase, cause)

	log.Warn("analysis failed",
		zap.String("phase", string(phase)), zap.String("category", string(category)), zap.Error(cause))
	s.Metrics.RunFinished(rec.Type, domain.StatusError, category, s.Clock.Now().Sub(started))
	return rec, cause
}

func (s *Service) logRunError(ctx context.Context, log *zap.Logger, rec *domain.AnalysisResult, phase runerrors.Phase, cause error) {
	if s.RunErrors == nil {
		return
	}
	details := map[string]any{"attempts": rec.AIMetadata.Attempts}
	var (
		ce *aiconfig.ConfigurationError
		me *domain.MalformedResponse
		pe *ai.ProviderError
	)
	switch {
	case errors.As(cause, &ce):
		if len(ce.Missing) > 0 {
			details["missing"] = ce.Missing
		}
	case errors.As(cause, &me):
		details["violations"] = me.Violations
	case errors.As(cause, &pe):
		details["provider"] = pe.Provider
		details["kind"] = pe.Kind
	}
	dj, _ := json.Marshal(details)
	entry := &runerrors.RunError{
		ID:           uuid.New().String(),
		TenantID:     rec.TenantID,
		AnalysisID:   string(rec.ID),
		AnalysisType: string(rec.Type),
		Phase:        phase,
		Category:     string(domain.CategoryOf(cause)),
		Message:      cause.Error(),
		DetailsJSON:  string(dj),
		CreatedAt:    s.Clock.Now().UTC(),
	}
	if err := s.RunErrors.Save(ctx, entry); err != nil {
		log.Error("failed to save run error", zap.Error(err))
	}
}
