// Package elastic implements retrieval.Searcher with an Elasticsearch
// kNN index over embedded reference documents.
package elastic

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"

	"github.com/womenscare/clinical-analysis/internal/domain/retrieval"
)

const defaultLimit = 5

var ErrSearchFailed = errors.New("retrieval search failed")

type Config struct {
	Addresses     []string
	Username      string
	Password      string
	APIKey        string
	Index         string
	NumCandidates int
	CacheSize     int
	CacheTTL      time.Duration
}

// Searcher documents are expected as {content, source_id, category,
// embedding} with embedding mapped as dense_vector, similarity cosine.
type Searcher struct {
	es            *elasticsearch.Client
	embed         Embedder
	index         string
	numCandidates int
	cache         *expirable.LRU[string, []retrieval.Snippet]
	log           *zap.Logger
}

func New(cfg Config, embed Embedder, log *zap.Logger) (*Searcher, error) {
	if embed == nil {
		return nil, errors.New("elastic: embedder is required")
	}
	if cfg.Index == "" {
		return nil, errors.New("elastic: index is required")
	}
	esCfg := elasticsearch.Config{
		Addresses: cfg.Addresses,
		APIKey:    cfg.APIKey,
	}
	if cfg.Username != "" {
		esCfg.Username = cfg.Username
		esCfg.Password = cfg.Password
	}
	es, err := elasticsearch.NewClient(esCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create elasticsearch client: %w", err)
	}
	if log == nil {
		log = zap.NewNop()
	}
	s := &Searcher{es: es, embed: embed, index: cfg.Index, numCandidates: cfg.NumCandidates, log: log}
	if s.numCandidates <= 0 {
		s.numCandidates = 100
	}
	if cfg.CacheSize > 0 {
		s.cache = expirable.NewLRU[string, []retrieval.Snippet](cfg.CacheSize, nil, cfg.CacheTTL)
	}
	return s, nil
}

func cacheKey(q retrieval.Query) string {
	return strings.Join([]string{
		q.Text, q.Category, strconv.Itoa(q.Limit), strconv.FormatFloat(q.ScoreThreshold, 'f', -1, 64),
	}, "|")
}

func (s *Searcher) Search(ctx context.Context, q retrieval.Query) ([]retrieval.Snippet, error) {
	if strings.TrimSpace(q.Text) == "" {
		return []retrieval.Snippet{}, nil
	}
	if q.Limit <= 0 {
		q.Limit = defaultLimit
	}
	key := cacheKey(q)
	if s.cache != nil {
		if hit, ok := s.cache.Get(key); ok {
			return append([]retrieval.Snippet(nil), hit...), nil
		}
	}

	vec, err := s.embed.Embed(ctx, q.Text)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSearchFailed, err)
	}

	hits, err := s.knn(ctx, vec, q)
	if err != nil {
		return nil, err
	}
	out := retrieval.Normalize(hits, q)
	s.log.Debug("retrieval search",
		zap.String("category", q.Category),
		zap.Int("hits", len(hits)),
		zap.Int("kept", len(out)),
	)
	if s.cache != nil {
		s.cache.Add(key, append([]retrieval.Snippet(nil), out...))
	}
	return out, nil
}

type searchResponse struct {
	Hits struct {
		Hits []struct {
			ID     string  `json:"_id"`
			Score  float64 `json:"_score"`
			Source struct {
				Content  string `json:"content"`
				SourceID string `json:"source_id"`
			} `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

func buildQuery(vec []float32, q retrieval.Query, numCandidates int) map[string]any {
	knn := map[string]any{
		"field":          "embedding",
		"query_vector":   vec,
		"k":              q.Limit,
		"num_candidates": max(numCandidates, q.Limit),
	}
	if q.Category != "" {
		knn["filter"] = map[string]any{"term": map[string]any{"category": q.Category}}
	}
	return map[string]any{
		"knn":       knn,
		"size":      q.Limit,
		"min_score": q.ScoreThreshold,
		"_source":   []string{"content", "source_id"},
	}
}

func (s *Searcher) knn(ctx context.Context, vec []float32, q retrieval.Query) ([]retrieval.Snippet, error) {
	body, err := json.Marshal(buildQuery(vec, q, s.numCandidates))
	if err != nil {
		return nil, err
	}
	res, err := s.es.Search(
		s.es.Search.WithContext(ctx),
		s.es.Search.WithIndex(s.index),
		s.es.Search.WithBody(bytes.NewReader(body)),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSearchFailed, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return nil, fmt.Errorf("%w: %s", ErrSearchFailed, res.Status())
	}

	var r searchResponse
	if err := json.NewDecoder(res.Body).Decode(&r); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", ErrSearchFailed, err)
	}
	out := make([]retrieval.Snippet, 0, len(r.Hits.Hits))
	for _, h := range r.Hits.Hits {
		src := h.Source.SourceID
		if src == "" {
			src = h.ID
		}
		out = append(out, retrieval.Snippet{Content: h.Source.Content, Score: h.Score, SourceID: src})
	}
	return out, nil
}

// Check pings the cluster.
func (s *Searcher) Check(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	res, err := s.es.Ping(s.es.Ping.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("elasticsearch ping failed: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("elasticsearch ping error: %s", res.Status())
	}
	return nil
}
