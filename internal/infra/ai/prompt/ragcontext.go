package prompt

import (
	"fmt"
	"strings"

	"github.com/womenscare/clinical-analysis/internal/domain/retrieval"
)

// RAGContextKey is the placeholder filled with retrieved snippets.
const RAGContextKey = "ragContext"

// FormatSnippets builds the {{ragContext}} value. Each snippet becomes
// a numbered block attributed to its source document.
func FormatSnippets(snippets []retrieval.Snippet) string {
	if len(snippets) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Reference material (ranked by relevance):\n")
	for i, s := range snippets {
		fmt.Fprintf(&b, "\n[%d] source=%s score=%.2f\n%s\n", i+1, s.SourceID, s.Score, strings.TrimSpace(s.Content))
	}
	return b.String()
}
