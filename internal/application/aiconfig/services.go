package aiconfig

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/womenscare/clinical-analysis/internal/application"
	domain "github.com/womenscare/clinical-analysis/internal/domain/aiconfig"
)

// DefaultsFunc builds the deployment defaults.
type DefaultsFunc func() (*domain.GlobalAIConfig, error)

// Service implements use-cases for the global AI config singleton.
// Safe for concurrent use; writes are serialized in-process and the
// store itself is last-writer-wins.
type Service struct {
	Repo     domain.Repository
	Defaults DefaultsFunc
	Clock    application.Clock
	Log      *zap.Logger

	mu sync.Mutex
}

func NewService(repo domain.Repository, defaults DefaultsFunc, clock application.Clock, log *zap.Logger) *Service {
	if clock == nil {
		clock = application.SystemClock{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{Repo: repo, Defaults: defaults, Clock: clock, Log: log}
}

// Get returns the stored config, seeding defaults on the first read.
func (s *Service) Get(ctx context.Context) (*domain.GlobalAIConfig, error) {
	cfg, err := s.Repo.Get(ctx)
	if err == nil {
		return cfg, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	// another request may have seeded while we waited
	if cfg, err = s.Repo.Get(ctx); err == nil {
		return cfg, nil
	} else if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}
	cfg, err = s.Defaults()
	if err != nil {
		return nil, fmt.Errorf("build default ai config: %w", err)
	}
	cfg.UpdatedAt = s.Clock.Now().UTC()
	cfg.UpdatedBy = "system"
	if err := s.Repo.Save(ctx, cfg); err != nil {
		return nil, err
	}
	s.Log.Info("seeded default ai config")
	return cfg, nil
}

// Stage resolves one stage config plus the API keys for a run.
func (s *Service) Stage(ctx context.Context, t domain.AnalysisType) (domain.AnalysisTypeConfig, domain.APIKeys, error) {
	cfg, err := s.Get(ctx)
	if err != nil {
		return domain.AnalysisTypeConfig{}, nil, err
	}
	st, err := cfg.Stage(t)
	if err != nil {
		return domain.AnalysisTypeConfig{}, nil, err
	}
	return st, cfg.Clone().APIKeys, nil
}

// Update validates and overwrites the whole document. Empty or masked
// API keys keep whatever is stored; stages absent from in are kept too.
func (s *Service) Update(ctx context.Context, in *domain.GlobalAIConfig, actor string) (*domain.GlobalAIConfig, error) {
	if in == nil {
		return nil, &domain.ConfigurationError{Reason: "empty config document"}
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.current(ctx)
	if err != nil {
		return nil, err
	}
	next := current.Clone()
	for p, k := range in.APIKeys {
		if !p.Valid() {
			return nil, &domain.ConfigurationError{Field: "apiKeys", Reason: fmt.Sprintf("unknown provider %q", p)}
		}
		if k == "" || domain.IsMasked(k) {
			continue
		}
		next.APIKeys[p] = k
	}
	for t, st := range in.Stages {
		if !t.Valid() {
			return nil, &domain.ConfigurationError{Field: "stages", Reason: fmt.Sprintf("unknown analysis type %q", t)}
		}
		next.Stages[t] = st
	}
	return s.save(ctx, next, actor)
}

// UpdateStage replaces one stage config.
func (s *Service) UpdateStage(ctx context.Context, t domain.AnalysisType, st domain.AnalysisTypeConfig, actor string) (*domain.GlobalAIConfig, error) {
	if !t.Valid() {
		return nil, &domain.ConfigurationError{Field: "analysisType", Reason: fmt.Sprintf("unknown analysis type %q", t)}
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.current(ctx)
	if err != nil {
		return nil, err
	}
	next := current.Clone()
	next.Stages[t] = st
	return s.save(ctx, next, actor)
}

// Reset restores the default stages. API keys are kept.
func (s *Service) Reset(ctx context.Context, actor string) (*domain.GlobalAIConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.current(ctx)
	if err != nil {
		return nil, err
	}
	next, err := s.Defaults()
	if err != nil {
		return nil, fmt.Errorf("build default ai config: %w", err)
	}
	for p, k := range current.APIKeys {
		next.APIKeys[p] = k
	}
	return s.save(ctx, next, actor)
}

// current reads without seeding; caller holds mu.
func (s *Service) current(ctx context.Context) (*domain.GlobalAIConfig, error) {
	cfg, err := s.Repo.Get(ctx)
	if errors.Is(err, domain.ErrNotFound) {
		return s.Defaults()
	}
	return cfg, err
}

func (s *Service) save(ctx context.Context, cfg *domain.GlobalAIConfig, actor string) (*domain.GlobalAIConfig, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.UpdatedAt = s.Clock.Now().UTC()
	cfg.UpdatedBy = actor
	if err := s.Repo.Save(ctx, cfg); err != nil {
		return nil, err
	}
	s.Log.Info("ai config updated", zap.String("actor", actor))
	return cfg, nil
}
