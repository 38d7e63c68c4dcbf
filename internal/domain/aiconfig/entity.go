package aiconfig

import (
	"fmt"
	"strings"
	"time"
)

// Provider enum
type Provider string

const (
	ProviderOpenAI    Provider = "openai"
	ProviderAnthropic Provider = "anthropic"
	ProviderGoogle    Provider = "google"
)

// Providers lists every supported LLM backend.
var Providers = []Provider{ProviderOpenAI, ProviderAnthropic, ProviderGoogle}

func (p Provider) Valid() bool {
	switch p {
	case ProviderOpenAI, ProviderAnthropic, ProviderGoogle:
		return true
	}
	return false
}

// AnalysisType enum, one per pipeline stage
type AnalysisType string

const (
	TypeLaboratory    AnalysisType = "laboratory"
	TypeTCM           AnalysisType = "tcm"
	TypeChronology    AnalysisType = "chronology"
	TypeIFM           AnalysisType = "ifm"
	TypeTreatmentPlan AnalysisType = "treatmentPlan"
)

// AnalysisTypes in pipeline order.
var AnalysisTypes = []AnalysisType{TypeLaboratory, TypeTCM, TypeChronology, TypeIFM, TypeTreatmentPlan}

func (t AnalysisType) Valid() bool {
	for _, v := range AnalysisTypes {
		if v == t {
			return true
		}
	}
	return false
}

// ParseAnalysisType accepts the canonical name only.
func ParseAnalysisType(s string) (AnalysisType, error) {
	t := AnalysisType(s)
	if !t.Valid() {
		return "", &ConfigurationError{Field: "analysisType", Reason: fmt.Sprintf("unknown analysis type %q", s)}
	}
	return t, nil
}

// AnalysisTypeConfig holds the settings of one analysis stage.
type AnalysisTypeConfig struct {
	Provider           Provider `json:"provider"`
	Model              string   `json:"model"`
	Temperature        float64  `json:"temperature"`
	MaxTokens          int      `json:"maxTokens"`
	SystemPrompt       string   `json:"systemPrompt"`
	UserPromptTemplate string   `json:"userPromptTemplate"`
	RAGEnabled         bool     `json:"ragEnabled"`
	RAGThreshold       float64  `json:"ragThreshold"`
	RAGMaxResults      int      `json:"ragMaxResults"`
}

const (
	MinTemperature   = 0.0
	MaxTemperature   = 2.0
	MinMaxTokens     = 100
	MaxMaxTokens     = 8000
	MinRAGMaxResults = 1
	MaxRAGMaxResults = 10
)

// Validate checks ranges and required fields.
func (c AnalysisTypeConfig) Validate() error {
	var problems []string
	if !c.Provider.Valid() {
		problems = append(problems, fmt.Sprintf("provider %q is not supported", c.Provider))
	}
	if strings.TrimSpace(c.Model) == "" {
		problems = append(problems, "model is required")
	}
	if c.Temperature < MinTemperature || c.Temperature > MaxTemperature {
		problems = append(problems, fmt.Sprintf("temperature %.2f out of range [0,2]", c.Temperature))
	}
	if c.MaxTokens < MinMaxTokens || c.MaxTokens > MaxMaxTokens {
		problems = append(problems, fmt.Sprintf("maxTokens %d out of range [100,8000]", c.MaxTokens))
	}
	if strings.TrimSpace(c.SystemPrompt) == "" {
		problems = append(problems, "systemPrompt is required")
	}
	if strings.TrimSpace(c.UserPromptTemplate) == "" {
		problems = append(problems, "userPromptTemplate is required")
	}
	if c.RAGThreshold < 0 || c.RAGThreshold > 1 {
		problems = append(problems, fmt.Sprintf("ragThreshold %.2f out of range [0,1]", c.RAGThreshold))
	}
	if c.RAGMaxResults < MinRAGMaxResults || c.RAGMaxResults > MaxRAGMaxResults {
		problems = append(problems, fmt.Sprintf("ragMaxResults %d out of range [1,10]", c.RAGMaxResults))
	}
	if len(problems) > 0 {
		return &ConfigurationError{Reason: strings.Join(problems, "; ")}
	}
	return nil
}

// APIKeys per provider secret strings
type APIKeys map[Provider]string

// GlobalAIConfig is the deployment-wide singleton.
type GlobalAIConfig struct {
	APIKeys   APIKeys                             `json:"apiKeys"`
	Stages    map[AnalysisType]AnalysisTypeConfig `json:"stages"`
	UpdatedAt time.Time                           `json:"updatedAt"`
	UpdatedBy string                              `json:"updatedBy,omitempty"`
}

// Stage returns the config of one analysis type.
func (g *GlobalAIConfig) Stage(t AnalysisType) (AnalysisTypeConfig, error) {
	if g == nil {
		return AnalysisTypeConfig{}, &ConfigurationError{Stage: t, Reason: "global AI config not loaded"}
	}
	c, ok := g.Stages[t]
	if !ok {
		return AnalysisTypeConfig{}, &ConfigurationError{Stage: t, Reason: "stage config missing"}
	}
	if err := c.Validate(); err != nil {
		return AnalysisTypeConfig{}, withStage(err, t)
	}
	return c, nil
}

// Validate checks every stage is present and valid.
func (g *GlobalAIConfig) Validate() error {
	for _, t := range AnalysisTypes {
		if _, err := g.Stage(t); err != nil {
			return err
		}
	}
	for p := range g.APIKeys {
		if !p.Valid() {
			return &ConfigurationError{Field: "apiKeys", Reason: fmt.Sprintf("unknown provider %q", p)}
		}
	}
	return nil
}

// APIKey returns the stored secret for a provider, empty if none.
func (g *GlobalAIConfig) APIKey(p Provider) string {
	if g == nil || g.APIKeys == nil {
		return ""
	}
	return g.APIKeys[p]
}

// Clone deep copies maps so callers can mutate safely.
func (g *GlobalAIConfig) Clone() *GlobalAIConfig {
	out := &GlobalAIConfig{
		APIKeys:   make(APIKeys, len(g.APIKeys)),
		Stages:    make(map[AnalysisType]AnalysisTypeConfig, len(g.Stages)),
		UpdatedAt: g.UpdatedAt,
		UpdatedBy: g.UpdatedBy,
	}
	for k, v := range g.APIKeys {
		out.APIKeys[k] = v
	}
	for k, v := range g.Stages {
		out.Stages[k] = v
	}
	return out
}

// Masked returns a copy safe to show in the settings UI.
func (g *GlobalAIConfig) Masked() *GlobalAIConfig {
	out := g.Clone()
	for k, v := range out.APIKeys {
		out.APIKeys[k] = maskKey(v)
	}
	return out
}

func maskKey(k string) string {
	if k == "" {
		return ""
	}
	if len(k) <= 8 {
		return "****"
	}
	return k[:4] + "****" + k[len(k)-4:]
}

// IsMasked reports whether a key looks like the output of Masked.
func IsMasked(k string) bool {
	return strings.Contains(k, "****")
}
