package runerrors

import "time"

// Phase of the pipeline where a run failed
type Phase string

const (
	PhaseConfig    Phase = "config"
	PhaseRetrieval Phase = "retrieval"
	PhaseRender    Phase = "render"
	PhaseProvider  Phase = "provider"
	PhaseValidate  Phase = "validate"
	PhasePersist   Phase = "persist"
)

// RunError represents a persisted analysis run error entry
type RunError struct {
	ID           string    `json:"id"`
	TenantID     string    `json:"tenant_id"`
	AnalysisID   string    `json:"analysis_id"`
	AnalysisType string    `json:"analysis_type,omitempty"`
	Phase        Phase     `json:"phase"`
	Category     string    `json:"category"`
	Message      string    `json:"message"`
	DetailsJSON  string    `json:"details_json,omitempty"` // raw JSON string
	CreatedAt    time.Time `json:"created_at"`
}
