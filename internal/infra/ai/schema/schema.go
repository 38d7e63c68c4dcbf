package schema

import (
	"bytes"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/womenscare/clinical-analysis/internal/domain/aiconfig"
	"github.com/womenscare/clinical-analysis/internal/domain/analysis"
)

//go:embed schemas/*.json
var files embed.FS

// Document returns the JSON Schema text for an analysis type.
func Document(t aiconfig.AnalysisType) (string, error) {
	b, err := files.ReadFile("schemas/" + string(t) + ".json")
	if err != nil {
		return "", fmt.Errorf("no schema for analysis type %q", t)
	}
	return string(b), nil
}

// Parser validates raw provider output against the stage schemas.
type Parser struct {
	schemas map[aiconfig.AnalysisType]*gojsonschema.Schema
}

// NewParser compiles all stage schemas once.
func NewParser() (*Parser, error) {
	p := &Parser{schemas: make(map[aiconfig.AnalysisType]*gojsonschema.Schema, len(aiconfig.AnalysisTypes))}
	for _, t := range aiconfig.AnalysisTypes {
		doc, err := Document(t)
		if err != nil {
			return nil, err
		}
		s, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(doc))
		if err != nil {
			return nil, fmt.Errorf("compile %s schema: %w", t, err)
		}
		p.schemas[t] = s
	}
	return p, nil
}

// MustParser panics if the embedded schemas do not compile.
func MustParser() *Parser {
	p, err := NewParser()
	if err != nil {
		panic(err)
	}
	return p
}

// Parse returns the typed result or a *analysis.MalformedResponse.
// Nothing is accepted partially.
func (p *Parser) Parse(t aiconfig.AnalysisType, raw string) (analysis.Result, error) {
	s, ok := p.schemas[t]
	if !ok {
		return nil, &aiconfig.ConfigurationError{Stage: t, Reason: "no response schema"}
	}

	text := stripFence(raw)
	var decoded any
	dec := json.NewDecoder(strings.NewReader(text))
	dec.UseNumber()
	if err := dec.Decode(&decoded); err != nil {
		return nil, &analysis.MalformedResponse{Type: t, Err: fmt.Errorf("invalid JSON: %w", err)}
	}
	if dec.More() {
		return nil, &analysis.MalformedResponse{Type: t, Err: errors.New("trailing data after JSON object")}
	}
	if _, isObj := decoded.(map[string]any); !isObj {
		return nil, &analysis.MalformedResponse{Type: t, Err: errors.New("response is not a JSON object")}
	}

	res, err := s.Validate(gojsonschema.NewStringLoader(text))
	if err != nil {
		return nil, &analysis.MalformedResponse{Type: t, Err: err}
	}
	if !res.Valid() {
		violations := make([]string, len(res.Errors()))
		for i, desc := range res.Errors() {
			violations[i] = desc.String()
		}
		return nil, &analysis.MalformedResponse{Type: t, Violations: violations}
	}

	out, err := analysis.NewResult(t)
	if err != nil {
		return nil, err
	}
	if err := json.NewDecoder(bytes.NewReader([]byte(text))).Decode(out); err != nil {
		return nil, &analysis.MalformedResponse{Type: t, Err: err}
	}
	return out, nil
}

// stripFence removes one surrounding ``` or ```json fence.
func stripFence(raw string) string {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, "```") || !strings.HasSuffix(s, "```") || len(s) < 6 {
		return s
	}
	s = strings.TrimSuffix(strings.TrimPrefix(s, "```"), "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		first := strings.TrimSpace(s[:i])
		if first == "" || !strings.ContainsAny(first, "{[") {
			s = s[i+1:]
		}
	}
	return strings.TrimSpace(s)
}
