package prompt

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/womenscare/clinical-analysis/internal/domain/aiconfig"
	"github.com/womenscare/clinical-analysis/internal/domain/retrieval"
)

func TestRender_HappyPath(t *testing.T) {
	out, err := Render("Patient: {{name}}, Age: {{age}}", map[string]string{"name": "Ana", "age": "34"})
	require.NoError(t, err)
	assert.Equal(t, "Patient: Ana, Age: 34", out)
}

func TestRender_MissingPlaceholder(t *testing.T) {
	out, err := Render("Patient: {{name}}, Age: {{age}}", map[string]string{"name": "Ana"})
	assert.Empty(t, out)

	var ce *aiconfig.ConfigurationError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, []string{"age"}, ce.Missing)
}

func TestRender_ReportsAllMissingSortedOnce(t *testing.T) {
	_, err := Render("{{b}} {{a}} {{b}} {{c}}", map[string]string{"c": ""})
	var ce *aiconfig.ConfigurationError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, []string{"a", "b"}, ce.Missing)
}

func TestRender_CaseSensitive(t *testing.T) {
	_, err := Render("{{Name}}", map[string]string{"name": "Ana"})
	assert.True(t, aiconfig.IsConfigurationError(err))
}

func TestRender_ValueIsNotReexpanded(t *testing.T) {
	out, err := Render("A={{a}} B={{b}}", map[string]string{"a": "{{b}}", "b": "x"})
	require.NoError(t, err)
	assert.Equal(t, "A={{b}} B=x", out)
}

func TestRender_InvalidTokenBody(t *testing.T) {
	_, err := Render("Hello {{patient name}}", map[string]string{"patient": "x"})
	var ce *aiconfig.ConfigurationError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, []string{"{{patient name}}"}, ce.Missing)
}

func TestRender_RejectsStrayBraces(t *testing.T) {
	cases := []struct {
		name string
		tmpl string
		want []string
	}{
		{"doubled braces", "{{{{a}}}}", []string{"{{{{a}}}}"}},
		{"triple braces", "x {{{a}} y", []string{"{{{a}}"}},
		{"unclosed", "{{a}} and {{b\nnext line", []string{"{{b"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			out, err := Render(tc.tmpl, map[string]string{"a": "x", "b": "y"})
			var ce *aiconfig.ConfigurationError
			require.ErrorAs(t, err, &ce)
			assert.Equal(t, tc.want, ce.Missing)
			assert.Empty(t, out)
		})
	}
}

func TestRender_SingleBracesAreLiteral(t *testing.T) {
	out, err := Render(`{"patient": {"name": "{{name}}"}}`, map[string]string{"name": "Ana"})
	require.NoError(t, err)
	assert.Equal(t, `{"patient": {"name": "Ana"}}`, out)
}

func TestRender_ToleratesInnerWhitespace(t *testing.T) {
	out, err := Render("Hi {{ name }}!", map[string]string{"name": "Ana"})
	require.NoError(t, err)
	assert.Equal(t, "Hi Ana!", out)
}

func TestRender_EmptyValueAndNoPlaceholders(t *testing.T) {
	out, err := Render("ctx:{{ragContext}}", map[string]string{"ragContext": ""})
	require.NoError(t, err)
	assert.Equal(t, "ctx:", out)

	out, err = Render("plain text", nil)
	require.NoError(t, err)
	assert.Equal(t, "plain text", out)
}

func TestRender_Deterministic(t *testing.T) {
	tmpl := "{{x}}-{{y}}-{{x}}"
	vals := map[string]string{"x": "1", "y": "2"}
	a, err := Render(tmpl, vals)
	require.NoError(t, err)
	b, err := Render(tmpl, vals)
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Equal(t, "1-2-1", a)
}

func TestPlaceholders(t *testing.T) {
	assert.Equal(t, []string{"b", "a"}, Placeholders("{{b}} {{a}} {{ b }}"))
	assert.Empty(t, Placeholders("none"))
}

func TestFormatSnippets(t *testing.T) {
	assert.Equal(t, "", FormatSnippets(nil))

	out := FormatSnippets([]retrieval.Snippet{
		{Content: " Ferritin below 30 suggests depletion. ", Score: 0.91, SourceID: "doc-1"},
		{Content: "Optimal TSH 1-2.", Score: 0.8, SourceID: "doc-2"},
	})
	assert.Contains(t, out, "[1] source=doc-1 score=0.91\nFerritin below 30 suggests depletion.")
	assert.Contains(t, out, "[2] source=doc-2 score=0.80")
	assert.Less(t, strings.Index(out, "doc-1"), strings.Index(out, "doc-2"))
}

func TestDefaultConfig_IsValidAndRenderable(t *testing.T) {
	cfg, err := DefaultConfig()
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	for _, typ := range aiconfig.AnalysisTypes {
		stage, err := cfg.Stage(typ)
		require.NoError(t, err)
		assert.Contains(t, stage.SystemPrompt, `"$schema"`)
		assert.Contains(t, Placeholders(stage.UserPromptTemplate), RAGContextKey)
	}
}
