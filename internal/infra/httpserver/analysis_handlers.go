package httpserver

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	appanalysis "github.com/womenscare/clinical-analysis/internal/application/analysis"
	"github.com/womenscare/clinical-analysis/internal/domain/aiconfig"
	"github.com/womenscare/clinical-analysis/internal/domain/analysis"
	"github.com/womenscare/clinical-analysis/internal/middleware"
)

func analysisID(req *http.Request) (analysis.ID, error) {
	id := chi.URLParam(req, "id")
	if err := middleware.ValidateAnalysisID(id); err != nil {
		return "", badRequest(err.Error())
	}
	return analysis.ID(id), nil
}

func requireUser(req *http.Request) (string, error) {
	user := middleware.GetUserFromContext(req.Context())
	if user == "" {
		return "", badRequest(middleware.UserHeader + " header is required")
	}
	return user, nil
}

// POST /v1/{tenant}/analyses/{type}
// Body: {"patient_id": "...", "variables": {...}, "retrieval_query": "..."}
func (r *Router) handleRun(w http.ResponseWriter, req *http.Request) error {
	tenant := chi.URLParam(req, "tenant")
	t := aiconfig.AnalysisType(chi.URLParam(req, "type"))
	if !t.Valid() {
		return badRequest("unknown analysis type " + string(t))
	}
	user, err := requireUser(req)
	if err != nil {
		return err
	}
	var body struct {
		PatientID      string            `json:"patient_id"`
		Variables      map[string]string `json:"variables"`
		RetrievalQuery string            `json:"retrieval_query"`
	}
	if err := decode(req, &body); err != nil {
		return err
	}
	if err := middleware.ValidatePatientID(body.PatientID); err != nil {
		return badRequest(err.Error())
	}

	ctx, cancel := context.WithTimeout(req.Context(), requestTimeout)
	defer cancel()

	stage, keys, err := r.config.Stage(ctx, t)
	if err != nil {
		return err
	}
	rec, err := r.analyses.Run(ctx, stage, keys, appanalysis.RunCommand{
		TenantID:       tenant,
		UserID:         user,
		PatientID:      body.PatientID,
		Type:           t,
		Variables:      middleware.SanitizeVariables(body.Variables),
		RetrievalQuery: middleware.SanitizeString(body.RetrievalQuery),
	})
	if err != nil {
		return &runFailed{rec: rec, err: err}
	}
	writeJSON(w, http.StatusCreated, rec)
	return nil
}

// GET /v1/{tenant}/analyses?patient_id=&page=&page_size=
func (r *Router) handleList(w http.ResponseWriter, req *http.Request) error {
	tenant := chi.URLParam(req, "tenant")
	q := req.URL.Query()
	patientID := q.Get("patient_id")
	if err := middleware.ValidatePatientID(patientID); err != nil {
		return badRequest(err.Error())
	}
	page, _ := strconv.Atoi(q.Get("page"))
	size, _ := strconv.Atoi(q.Get("page_size"))

	list, err := r.analyses.ListByPatient(req.Context(), tenant, patientID, middleware.ValidatePage(page), middleware.ValidateLimit(size))
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, list)
	return nil
}

// GET /v1/{tenant}/analyses/{id}
func (r *Router) handleGet(w http.ResponseWriter, req *http.Request) error {
	id, err := analysisID(req)
	if err != nil {
		return err
	}
	rec, err := r.analyses.Get(req.Context(), chi.URLParam(req, "tenant"), id)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, rec)
	return nil
}

// GET /v1/{tenant}/analyses/{id}/errors?limit=
func (r *Router) handleListErrors(w http.ResponseWriter, req *http.Request) error {
	id, err := analysisID(req)
	if err != nil {
		return err
	}
	limit, _ := strconv.Atoi(req.URL.Query().Get("limit"))
	list, err := r.analyses.ListErrors(req.Context(), chi.URLParam(req, "tenant"), id, limit)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": list})
	return nil
}

// POST /v1/{tenant}/analyses/{id}/review
// Body: {"notes": "..."}
func (r *Router) handleReview(w http.ResponseWriter, req *http.Request) error {
	id, err := analysisID(req)
	if err != nil {
		return err
	}
	user, err := requireUser(req)
	if err != nil {
		return err
	}
	var body struct {
		Notes string `json:"notes"`
	}
	if req.ContentLength != 0 {
		if err := decode(req, &body); err != nil {
			return err
		}
	}
	rec, err := r.analyses.Review(req.Context(), chi.URLParam(req, "tenant"), id, user, body.Notes)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, rec)
	return nil
}

// POST /v1/{tenant}/analyses/{id}/decision
// Body: {"decision": "approved"|"rejected", "notes": "..."}
func (r *Router) handleDecision(w http.ResponseWriter, req *http.Request) error {
	id, err := analysisID(req)
	if err != nil {
		return err
	}
	user, err := requireUser(req)
	if err != nil {
		return err
	}
	var body struct {
		Decision analysis.Decision `json:"decision"`
		Notes    string            `json:"notes"`
	}
	if err := decode(req, &body); err != nil {
		return err
	}
	if body.Decision != analysis.DecisionApproved && body.Decision != analysis.DecisionRejected {
		return badRequest(`decision must be "approved" or "rejected"`)
	}
	rec, err := r.analyses.Decide(req.Context(), chi.URLParam(req, "tenant"), id, user, body.Decision, body.Notes)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, rec)
	return nil
}

// PUT /v1/{tenant}/analyses/{id}/notes
func (r *Router) handleNotes(w http.ResponseWriter, req *http.Request) error {
	id, err := analysisID(req)
	if err != nil {
		return err
	}
	var body struct {
		Notes string `json:"notes"`
	}
	if err := decode(req, &body); err != nil {
		return err
	}
	rec, err := r.analyses.UpdateNotes(req.Context(), chi.URLParam(req, "tenant"), id, body.Notes)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, rec)
	return nil
}

// PUT /v1/{tenant}/analyses/{id}/content
// Body: the edited analysis JSON, validated against the stage schema.
func (r *Router) handleContent(w http.ResponseWriter, req *http.Request) error {
	id, err := analysisID(req)
	if err != nil {
		return err
	}
	raw, err := io.ReadAll(req.Body)
	if err != nil {
		return err
	}
	if strings.TrimSpace(string(raw)) == "" {
		return badRequest("request body is empty")
	}
	rec, err := r.analyses.EditContent(req.Context(), chi.URLParam(req, "tenant"), id, string(raw))
	var me *analysis.MalformedResponse
	if errors.As(err, &me) {
		// edited by a person, not a provider answer
		return &requestError{status: http.StatusBadRequest, code: "validation", msg: me.Error()}
	}
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, rec)
	return nil
}
