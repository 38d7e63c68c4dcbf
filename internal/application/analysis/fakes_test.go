package analysis

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/womenscare/clinical-analysis/internal/domain/ai"
	"github.com/womenscare/clinical-analysis/internal/domain/aiconfig"
	domain "github.com/womenscare/clinical-analysis/internal/domain/analysis"
	"github.com/womenscare/clinical-analysis/internal/domain/retrieval"
	"github.com/womenscare/clinical-analysis/internal/domain/runerrors"
)

type memRepo struct {
	mu        sync.Mutex
	rows      map[domain.ID]domain.AnalysisResult
	createErr error
	updateErr error
	// failUpdates makes only the next n updates return updateErr.
	failUpdates int
}

func newMemRepo() *memRepo { return &memRepo{rows: map[domain.ID]domain.AnalysisResult{}} }

func (m *memRepo) Create(_ context.Context, r *domain.AnalysisResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	m.rows[r.ID] = *r
	return nil
}

func (m *memRepo) Update(_ context.Context, r *domain.AnalysisResult, expected domain.Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.updateErr; err != nil {
		if m.failUpdates > 0 {
			m.failUpdates--
			if m.failUpdates == 0 {
				m.updateErr = nil
			}
		}
		return err
	}
	cur, ok := m.rows[r.ID]
	if !ok || cur.TenantID != r.TenantID {
		return domain.ErrNotFound
	}
	if cur.Status != expected {
		return domain.ErrConflict
	}
	m.rows[r.ID] = *r
	return nil
}

func (m *memRepo) Get(_ context.Context, tenant string, id domain.ID) (*domain.AnalysisResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rows[id]
	if !ok || r.TenantID != tenant {
		return nil, domain.ErrNotFound
	}
	return &r, nil
}

func (m *memRepo) ListByPatient(_ context.Context, tenant, patientID string, page, pageSize int) ([]*domain.AnalysisResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.AnalysisResult
	for _, r := range m.rows {
		if r.TenantID == tenant && r.PatientID == patientID {
			r := r
			out = append(out, &r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	start := (page - 1) * pageSize
	if start >= len(out) {
		return nil, nil
	}
	end := start + pageSize
	if end > len(out) {
		end = len(out)
	}
	return out[start:end], nil
}

// setStatus forces a stored status (test setup).
func (m *memRepo) setStatus(id domain.ID, s domain.Status) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.rows[id]
	r.Status = s
	m.rows[id] = r
}

type memRunErrors struct {
	mu      sync.Mutex
	entries []*runerrors.RunError
}

func (m *memRunErrors) Save(_ context.Context, e *runerrors.RunError) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, e)
	return nil
}

func (m *memRunErrors) ListByAnalysis(_ context.Context, tenant, analysisID string, limit int) ([]*runerrors.RunError, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*runerrors.RunError
	for _, e := range m.entries {
		if e.TenantID == tenant && e.AnalysisID == analysisID {
			out = append(out, e)
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// scriptedClient answers from a queue of results; the last one repeats.
type scriptedClient struct {
	mu       sync.Mutex
	script   []scripted
	requests []ai.CompletionRequest
}

type scripted struct {
	resp ai.CompletionResponse
	err  error
}

func (c *scriptedClient) Complete(_ context.Context, req ai.CompletionRequest) (ai.CompletionResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requests = append(c.requests, req)
	i := len(c.requests) - 1
	if i >= len(c.script) {
		i = len(c.script) - 1
	}
	return c.script[i].resp, c.script[i].err
}

func (c *scriptedClient) calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.requests)
}

type fakeFactory struct {
	client *scriptedClient
	keys   []string
}

func (f *fakeFactory) Client(p aiconfig.Provider, key string) (ai.Client, error) {
	f.keys = append(f.keys, key)
	if key == "" {
		return nil, ai.NewProviderError(p, ai.KindAuth, errors.New("no API key configured"))
	}
	return f.client, nil
}

type fakeSearcher struct {
	snippets []retrieval.Snippet
	err      error
	queries  []retrieval.Query
}

func (f *fakeSearcher) Search(_ context.Context, q retrieval.Query) ([]retrieval.Snippet, error) {
	f.queries = append(f.queries, q)
	return f.snippets, f.err
}

type memTranscripts struct {
	keys   []string
	bodies [][]byte
	err    error
}

func (m *memTranscripts) PutTranscript(_ context.Context, key string, body []byte) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	m.keys = append(m.keys, key)
	m.bodies = append(m.bodies, body)
	return "http://minio.local/transcripts/" + key, nil
}

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

type recordingSleeper struct {
	waits []time.Duration
}

func (r *recordingSleeper) sleep(_ context.Context, d time.Duration) error {
	r.waits = append(r.waits, d)
	return nil
}
