package analysis

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/womenscare/clinical-analysis/internal/application"
	"github.com/womenscare/clinical-analysis/internal/domain/ai"
	domain "github.com/womenscare/clinical-analysis/internal/domain/analysis"
	"github.com/womenscare/clinical-analysis/internal/domain/retrieval"
	"github.com/womenscare/clinical-analysis/internal/domain/runerrors"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
	// DefaultErrorLimit caps ListErrors.
	DefaultErrorLimit = 50
)

// Service implements the analysis use-cases: running a stage and the
// professional review workflow. Safe for concurrent use.
type Service struct {
	Repo        domain.Repository
	RunErrors   runerrors.Repository
	Providers   ai.Factory
	Parser      domain.ResponseParser
	Retrieval   retrieval.Searcher
	Transcripts domain.TranscriptStore // optional
	Prices      ai.PriceTable
	Retry       RetryPolicy
	Clock       application.Clock
	Metrics     Metrics
	Log         *zap.Logger
	Sleep       Sleeper
}

// Deps groups the required collaborators of NewService.
type Deps struct {
	Repo      domain.Repository
	RunErrors runerrors.Repository
	Providers ai.Factory
	Parser    domain.ResponseParser
}

// Option tweaks a Service.
type Option func(*Service)

func WithRetrieval(s retrieval.Searcher) Option       { return func(svc *Service) { svc.Retrieval = s } }
func WithTranscripts(t domain.TranscriptStore) Option { return func(svc *Service) { svc.Transcripts = t } }
func WithPrices(p ai.PriceTable) Option               { return func(svc *Service) { svc.Prices = p } }
func WithRetryPolicy(p RetryPolicy) Option            { return func(svc *Service) { svc.Retry = p } }
func WithClock(c application.Clock) Option            { return func(svc *Service) { svc.Clock = c } }
func WithMetrics(m Metrics) Option                    { return func(svc *Service) { svc.Metrics = m } }
func WithLogger(l *zap.Logger) Option                 { return func(svc *Service) { svc.Log = l } }
func WithSleeper(s Sleeper) Option                    { return func(svc *Service) { svc.Sleep = s } }

func NewService(d Deps, opts ...Option) *Service {
	s := &Service{
		Repo:      d.Repo,
		RunErrors: d.RunErrors,
		Providers: d.Providers,
		Parser:    d.Parser,
		Retrieval: retrieval.Nop{},
		Prices:    ai.DefaultPriceTable(),
		Retry:     DefaultRetryPolicy(),
		Clock:     application.SystemClock{},
		Metrics:   nopMetrics{},
		Log:       zap.NewNop(),
		Sleep:     sleepCtx,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

//
// ==== REVIEW WORKFLOW ====
//

// Get loads one analysis scoped to its tenant.
func (s *Service) Get(ctx context.Context, tenant string, id domain.ID) (*domain.AnalysisResult, error) {
	if strings.TrimSpace(tenant) == "" || strings.TrimSpace(string(id)) == "" {
		return nil, fmt.Errorf("%w: tenant and id are required", domain.ErrInvalidInput)
	}
	return s.Repo.Get(ctx, tenant, id)
}

// ListByPatient pages through a patient's analyses, newest first.
func (s *Service) ListByPatient(ctx context.Context, tenant, patientID string, page, pageSize int) (*domain.PaginatedResult, error) {
	if strings.TrimSpace(tenant) == "" || strings.TrimSpace(patientID) == "" {
		return nil, fmt.Errorf("%w: tenant and patient_id are required", domain.ErrInvalidInput)
	}
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = DefaultPageSize
	}
	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}
	items, err := s.Repo.ListByPatient(ctx, tenant, patientID, page, pageSize)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []*domain.AnalysisResult{}
	}
	return &domain.PaginatedResult{Data: items, Page: page, PageSize: pageSize}, nil
}

// ListErrors returns the run error log of one analysis.
func (s *Service) ListErrors(ctx context.Context, tenant string, id domain.ID, limit int) ([]*runerrors.RunError, error) {
	if _, err := s.Get(ctx, tenant, id); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > DefaultErrorLimit {
		limit = DefaultErrorLimit
	}
	out, err := s.RunErrors.ListByAnalysis(ctx, tenant, string(id), limit)
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []*runerrors.RunError{}
	}
	return out, nil
}

// Review moves a completed analysis to reviewed. Reviewing an already
// reviewed analysis only updates the notes.
func (s *Service) Review(ctx context.Context, tenant string, id domain.ID, user, notes string) (*domain.AnalysisResult, error) {
	rec, err := s.Get(ctx, tenant, id)
	if err != nil {
		return nil, err
	}
	expected := rec.Status
	next, err := domain.Transition(rec.Status, domain.StatusReviewed)
	if err != nil {
		return nil, err
	}
	now := s.Clock.Now().UTC()
	// the first reviewer stays on record
	if expected != domain.StatusReviewed {
		rec.ReviewedBy = user
		rec.ReviewedAt = &now
	}
	rec.Status = next
	if notes != "" {
		rec.Notes = notes
	}
	rec.UpdatedAt = now
	if err := s.Repo.Update(ctx, rec, expected); err != nil {
		return nil, err
	}
	s.Log.Info("analysis reviewed", zap.String("tenant", tenant), zap.String("analysis_id", string(id)), zap.String("user", user))
	return rec, nil
}

// Decide records the approve/reject outcome of a reviewed analysis.
func (s *Service) Decide(ctx context.Context, tenant string, id domain.ID, user string, decision domain.Decision, notes string) (*domain.AnalysisResult, error) {
	to, err := decision.Status()
	if err != nil {
		return nil, err
	}
	rec, err := s.Get(ctx, tenant, id)
	if err != nil {
		return nil, err
	}
	expected := rec.Status
	next, err := domain.Transition(rec.Status, to)
	if err != nil {
		return nil, err
	}
	now := s.Clock.Now().UTC()
	rec.Status = next
	rec.DecidedBy = user
	rec.DecidedAt = &now
	if notes != "" {
		rec.Notes = notes
	}
	rec.UpdatedAt = now
	if err := s.Repo.Update(ctx, rec, expected); err != nil {
		return nil, err
	}
	s.Log.Info("analysis decided",
		zap.String("tenant", tenant), zap.String("analysis_id", string(id)),
		zap.String("decision", string(decision)), zap.String("user", user))
	return rec, nil
}

// UpdateNotes edits the practitioner notes. Allowed after a decision.
func (s *Service) UpdateNotes(ctx context.Context, tenant string, id domain.ID, notes string) (*domain.AnalysisResult, error) {
	rec, err := s.Get(ctx, tenant, id)
	if err != nil {
		return nil, err
	}
	if !rec.Status.NotesEditable() {
		return nil, fmt.Errorf("%w: notes cannot be edited in status %s", domain.ErrReadOnly, rec.Status)
	}
	rec.Notes = notes
	rec.UpdatedAt = s.Clock.Now().UTC()
	if err := s.Repo.Update(ctx, rec, rec.Status); err != nil {
		return nil, err
	}
	return rec, nil
}

// EditContent replaces the analysis body after re-validating it.
func (s *Service) EditContent(ctx context.Context, tenant string, id domain.ID, raw string) (*domain.AnalysisResult, error) {
	rec, err := s.Get(ctx, tenant, id)
	if err != nil {
		return nil, err
	}
	if !rec.Status.ContentEditable() {
		return nil, fmt.Errorf("%w: content cannot be edited in status %s", domain.ErrReadOnly, rec.Status)
	}
	res, err := s.Parser.Parse(rec.Type, raw)
	if err != nil {
		return nil, err
	}
	rec.Analysis = res
	rec.UpdatedAt = s.Clock.Now().UTC()
	if err := s.Repo.Update(ctx, rec, rec.Status); err != nil {
		return nil, err
	}
	return rec, nil
}
