package prompt

import (
	"fmt"

	"github.com/womenscare/clinical-analysis/internal/domain/aiconfig"
	"github.com/womenscare/clinical-analysis/internal/infra/ai/schema"
)

const jsonRules = `Output rules:
- Respond with one valid JSON object only (no markdown, no commentary, no code fences).
- Follow the JSON Schema below exactly; every required field must be present.
- Use only the enum values listed in the schema.
- If information is missing, say so in the relevant text field instead of inventing values.

JSON Schema:
`

var roles = map[aiconfig.AnalysisType]string{
	aiconfig.TypeLaboratory: `You are a functional-medicine laboratory specialist supporting a women's health practitioner.
Interpret each laboratory marker against both conventional reference ranges and optimal functional ranges,
and identify clinically relevant patterns across markers.`,
	aiconfig.TypeTCM: `You are an experienced practitioner of Traditional Chinese Medicine supporting a women's health clinic.
Identify the constitution and the main TCM patterns from the intake, tongue and pulse findings,
and state treatment principles. Do not prescribe formulas.`,
	aiconfig.TypeChronology: `You are a clinical historian. Build a chronological timeline of the patient's health history,
highlighting antecedents, triggers and mediators and grouping them into key life periods.`,
	aiconfig.TypeIFM: `You are a functional-medicine clinician using the IFM Matrix. Score each of the seven functional systems
from 0 (critical) to 100 (optimal) based on the case data and prior analyses, list key issues and set a priority.`,
	aiconfig.TypeTreatmentPlan: `You are a women's health practitioner writing an integrative treatment plan. Synthesize the prior
laboratory, TCM, chronology and IFM analyses into a phased, safe plan. Flag contraindications explicitly.`,
}

var templates = map[aiconfig.AnalysisType]string{
	aiconfig.TypeLaboratory: `Patient: {{patientName}}, age {{patientAge}}
Chief complaints: {{chiefComplaint}}

Laboratory results:
{{examData}}

{{ragContext}}`,
	aiconfig.TypeTCM: `Patient: {{patientName}}, age {{patientAge}}
Chief complaints: {{chiefComplaint}}

TCM intake (symptoms, tongue, pulse):
{{tcmData}}

{{ragContext}}`,
	aiconfig.TypeChronology: `Patient: {{patientName}}, age {{patientAge}}

Health history:
{{historyData}}

{{ragContext}}`,
	aiconfig.TypeIFM: `Patient: {{patientName}}, age {{patientAge}}
Chief complaints: {{chiefComplaint}}

Prior analyses:
{{priorAnalyses}}

{{ragContext}}`,
	aiconfig.TypeTreatmentPlan: `Patient: {{patientName}}, age {{patientAge}}
Chief complaints: {{chiefComplaint}}

Prior analyses:
{{priorAnalyses}}

Practitioner notes:
{{practitionerNotes}}

{{ragContext}}`,
}

// SystemPrompt provides strict directions and the response schema for a stage.
func SystemPrompt(t aiconfig.AnalysisType) (string, error) {
	doc, err := schema.Document(t)
	if err != nil {
		return "", err
	}
	role, ok := roles[t]
	if !ok {
		return "", fmt.Errorf("no default role for analysis type %q", t)
	}
	return role + "\n\n" + jsonRules + doc, nil
}

// UserTemplate is the default user prompt template of a stage.
func UserTemplate(t aiconfig.AnalysisType) string {
	return templates[t]
}

// DefaultStage returns the deployment default for one stage.
func DefaultStage(t aiconfig.AnalysisType) (aiconfig.AnalysisTypeConfig, error) {
	sp, err := SystemPrompt(t)
	if err != nil {
		return aiconfig.AnalysisTypeConfig{}, err
	}
	c := aiconfig.AnalysisTypeConfig{
		Provider:           aiconfig.ProviderOpenAI,
		Model:              "gpt-4o",
		Temperature:        0.3,
		MaxTokens:          4000,
		SystemPrompt:       sp,
		UserPromptTemplate: UserTemplate(t),
		RAGEnabled:         true,
		RAGThreshold:       0.7,
		RAGMaxResults:      5,
	}
	switch t {
	case aiconfig.TypeChronology:
		c.Model = "gpt-4o-mini"
		c.RAGEnabled = false
	case aiconfig.TypeTreatmentPlan:
		c.Provider = aiconfig.ProviderAnthropic
		c.Model = "claude-sonnet-4-20250514"
		c.MaxTokens = 8000
		c.Temperature = 0.4
	}
	return c, nil
}

// DefaultConfig builds the record seeded on first deployment.
func DefaultConfig() (*aiconfig.GlobalAIConfig, error) {
	cfg := &aiconfig.GlobalAIConfig{
		APIKeys: aiconfig.APIKeys{},
		Stages:  make(map[aiconfig.AnalysisType]aiconfig.AnalysisTypeConfig, len(aiconfig.AnalysisTypes)),
	}
	for _, t := range aiconfig.AnalysisTypes {
		c, err := DefaultStage(t)
		if err != nil {
			return nil, err
		}
		cfg.Stages[t] = c
	}
	return cfg, nil
}
