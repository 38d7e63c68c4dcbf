package retrieval

import (
	"context"
	"sort"
)

// Query for reference snippets.
type Query struct {
	Text           string
	Category       string
	Limit          int
	ScoreThreshold float64
}

// Snippet is one ranked passage from the document corpus.
type Snippet struct {
	Content  string  `json:"content"`
	Score    float64 `json:"score"`
	SourceID string  `json:"sourceId"`
}

// Searcher performs semantic search over the uploaded corpus.
type Searcher interface {
	Search(ctx context.Context, q Query) ([]Snippet, error)
}

// Normalize enforces the search contract on backend output: score >=
// threshold, sorted by score desc, at most limit entries.
func Normalize(in []Snippet, q Query) []Snippet {
	out := make([]Snippet, 0, len(in))
	for _, s := range in {
		if s.Score >= q.ScoreThreshold {
			out = append(out, s)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out
}

// Nop returns no snippets; used when retrieval is not configured.
type Nop struct{}

func (Nop) Search(context.Context, Query) ([]Snippet, error) { return nil, nil }
