package analysis

import (
	"encoding/json"
	"fmt"

	"github.com/womenscare/clinical-analysis/internal/domain/aiconfig"
)

// Result is the structured output of one stage. Exactly one concrete
// type exists per analysis type.
type Result interface {
	AnalysisType() aiconfig.AnalysisType
}

// ---- laboratory ----

type LabMarker struct {
	Name           string `json:"name"`
	Value          string `json:"value"`
	Unit           string `json:"unit"`
	ReferenceRange string `json:"referenceRange"`
	Status         string `json:"status"`
	Interpretation string `json:"interpretation"`
}

type LaboratoryResult struct {
	Summary         string      `json:"summary"`
	Markers         []LabMarker `json:"markers"`
	Patterns        []string    `json:"patterns"`
	Recommendations []string    `json:"recommendations"`
}

func (*LaboratoryResult) AnalysisType() aiconfig.AnalysisType { return aiconfig.TypeLaboratory }

// ---- tcm ----

type TCMPattern struct {
	Name         string   `json:"name"`
	OrganSystems []string `json:"organSystems"`
	Evidence     []string `json:"evidence"`
	Severity     string   `json:"severity"`
}

type TCMResult struct {
	Summary             string       `json:"summary"`
	Constitution        string       `json:"constitution"`
	Patterns            []TCMPattern `json:"patterns"`
	Tongue              string       `json:"tongue"`
	Pulse               string       `json:"pulse"`
	TreatmentPrinciples []string     `json:"treatmentPrinciples"`
}

func (*TCMResult) AnalysisType() aiconfig.AnalysisType { return aiconfig.TypeTCM }

// ---- chronology ----

type TimelineEvent struct {
	Date         string `json:"date"`
	Category     string `json:"category"`
	Description  string `json:"description"`
	Significance string `json:"significance"`
}

type KeyPeriod struct {
	Label string `json:"label"`
	Start string `json:"start"`
	End   string `json:"end"`
	Notes string `json:"notes"`
}

type ChronologyResult struct {
	Summary    string          `json:"summary"`
	Events     []TimelineEvent `json:"events"`
	KeyPeriods []KeyPeriod     `json:"keyPeriods"`
}

func (*ChronologyResult) AnalysisType() aiconfig.AnalysisType { return aiconfig.TypeChronology }

// ---- ifm ----

type SystemAssessment struct {
	Status    string   `json:"status"`
	Score     float64  `json:"score"`
	KeyIssues []string `json:"keyIssues"`
	Priority  string   `json:"priority"`
}

// IFMSystems holds the seven functional-medicine matrix nodes.
type IFMSystems struct {
	Assimilation        SystemAssessment `json:"assimilation"`
	DefenseRepair       SystemAssessment `json:"defenseRepair"`
	Energy              SystemAssessment `json:"energy"`
	Biotransformation   SystemAssessment `json:"biotransformation"`
	Transport           SystemAssessment `json:"transport"`
	Communication       SystemAssessment `json:"communication"`
	StructuralIntegrity SystemAssessment `json:"structuralIntegrity"`
}

type IFMResult struct {
	Summary    string     `json:"summary"`
	Systems    IFMSystems `json:"systems"`
	Priorities []string   `json:"priorities"`
}

func (*IFMResult) AnalysisType() aiconfig.AnalysisType { return aiconfig.TypeIFM }

// ---- treatmentPlan ----

type Intervention struct {
	Type        string `json:"type"`
	Description string `json:"description"`
	Dosage      string `json:"dosage,omitempty"`
	Frequency   string `json:"frequency,omitempty"`
}

type TreatmentPhase struct {
	Name          string         `json:"name"`
	DurationWeeks int            `json:"durationWeeks"`
	Interventions []Intervention `json:"interventions"`
}

type TreatmentPlanResult struct {
	Summary           string           `json:"summary"`
	Goals             []string         `json:"goals"`
	Phases            []TreatmentPhase `json:"phases"`
	FollowUp          string           `json:"followUp"`
	Contraindications []string         `json:"contraindications"`
}

func (*TreatmentPlanResult) AnalysisType() aiconfig.AnalysisType { return aiconfig.TypeTreatmentPlan }

// NewResult returns an empty variant for t.
func NewResult(t aiconfig.AnalysisType) (Result, error) {
	switch t {
	case aiconfig.TypeLaboratory:
		return &LaboratoryResult{}, nil
	case aiconfig.TypeTCM:
		return &TCMResult{}, nil
	case aiconfig.TypeChronology:
		return &ChronologyResult{}, nil
	case aiconfig.TypeIFM:
		return &IFMResult{}, nil
	case aiconfig.TypeTreatmentPlan:
		return &TreatmentPlanResult{}, nil
	}
	return nil, fmt.Errorf("no result type for analysis type %q", t)
}

// DecodeResult decodes stored JSON into the variant for t. It does
// not validate; use the schema parser for provider output.
func DecodeResult(t aiconfig.AnalysisType, data []byte) (Result, error) {
	r, err := NewResult(t)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, r); err != nil {
		return nil, fmt.Errorf("decode %s result: %w", t, err)
	}
	return r, nil
}
