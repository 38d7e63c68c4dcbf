package httpserver

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/womenscare/clinical-analysis/internal/domain/aiconfig"
	"github.com/womenscare/clinical-analysis/internal/middleware"
)

// GET /v1/admin/ai-config
func (r *Router) handleGetConfig(w http.ResponseWriter, req *http.Request) error {
	cfg, err := r.config.Get(req.Context())
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, cfg.Masked())
	return nil
}

// PUT /v1/admin/ai-config
// Masked or empty API keys in the body keep the stored key.
func (r *Router) handlePutConfig(w http.ResponseWriter, req *http.Request) error {
	var body aiconfig.GlobalAIConfig
	if err := decode(req, &body); err != nil {
		return err
	}
	cfg, err := r.config.Update(req.Context(), &body, middleware.GetUserFromContext(req.Context()))
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, cfg.Masked())
	return nil
}

// PUT /v1/admin/ai-config/stages/{type}
func (r *Router) handlePutStage(w http.ResponseWriter, req *http.Request) error {
	t := aiconfig.AnalysisType(chi.URLParam(req, "type"))
	if !t.Valid() {
		return badRequest("unknown analysis type " + string(t))
	}
	var body aiconfig.AnalysisTypeConfig
	if err := decode(req, &body); err != nil {
		return err
	}
	cfg, err := r.config.UpdateStage(req.Context(), t, body, middleware.GetUserFromContext(req.Context()))
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, cfg.Masked())
	return nil
}

// POST /v1/admin/ai-config/reset
func (r *Router) handleResetConfig(w http.ResponseWriter, req *http.Request) error {
	cfg, err := r.config.Reset(req.Context(), middleware.GetUserFromContext(req.Context()))
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, cfg.Masked())
	return nil
}
