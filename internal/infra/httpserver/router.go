package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	appanalysis "github.com/womenscare/clinical-analysis/internal/application/analysis"
	"github.com/womenscare/clinical-analysis/internal/domain/aiconfig"
	"github.com/womenscare/clinical-analysis/internal/domain/analysis"
	"github.com/womenscare/clinical-analysis/internal/domain/runerrors"
	"github.com/womenscare/clinical-analysis/internal/middleware"
)

// maxBodyBytes caps request bodies; prompt variables carry whole notes.
const maxBodyBytes = 1 << 20

// ConfigService is the settings surface used by the admin routes.
type ConfigService interface {
	Get(ctx context.Context) (*aiconfig.GlobalAIConfig, error)
	Stage(ctx context.Context, t aiconfig.AnalysisType) (aiconfig.AnalysisTypeConfig, aiconfig.APIKeys, error)
	Update(ctx context.Context, in *aiconfig.GlobalAIConfig, actor string) (*aiconfig.GlobalAIConfig, error)
	UpdateStage(ctx context.Context, t aiconfig.AnalysisType, st aiconfig.AnalysisTypeConfig, actor string) (*aiconfig.GlobalAIConfig, error)
	Reset(ctx context.Context, actor string) (*aiconfig.GlobalAIConfig, error)
}

// AnalysisService runs stages and drives the review workflow.
type AnalysisService interface {
	Run(ctx context.Context, stage aiconfig.AnalysisTypeConfig, keys aiconfig.APIKeys, cmd appanalysis.RunCommand) (*analysis.AnalysisResult, error)
	Get(ctx context.Context, tenant string, id analysis.ID) (*analysis.AnalysisResult, error)
	ListByPatient(ctx context.Context, tenant, patientID string, page, pageSize int) (*analysis.PaginatedResult, error)
	ListErrors(ctx context.Context, tenant string, id analysis.ID, limit int) ([]*runerrors.RunError, error)
	Review(ctx context.Context, tenant string, id analysis.ID, user, notes string) (*analysis.AnalysisResult, error)
	Decide(ctx context.Context, tenant string, id analysis.ID, user string, decision analysis.Decision, notes string) (*analysis.AnalysisResult, error)
	UpdateNotes(ctx context.Context, tenant string, id analysis.ID, notes string) (*analysis.AnalysisResult, error)
	EditContent(ctx context.Context, tenant string, id analysis.ID, raw string) (*analysis.AnalysisResult, error)
}

type Deps struct {
	Config   ConfigService
	Analyses AnalysisService
	Log      *zap.Logger

	// TenantKeys maps tenant ID to its API key.
	TenantKeys  map[string]string
	AdminKey    string
	Limiter     *middleware.RateLimiter
	CORSOrigins []string
	Checks      map[string]middleware.HealthChecker
}

type Router struct {
	config   ConfigService
	analyses AnalysisService
	log      *zap.Logger
}

func NewRouter(d Deps) http.Handler {
	log := d.Log
	if log == nil {
		log = zap.NewNop()
	}
	r := &Router{config: d.Config, analyses: d.Analyses, log: log}

	mux := chi.NewRouter()
	mux.Use(chimw.RequestID)
	mux.Use(chimw.Recoverer)
	mux.Use(middleware.Logging(log))
	mux.Use(middleware.MetricsMiddleware)
	origins := d.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	mux.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type", middleware.UserHeader},
		ExposedHeaders: []string{"Retry-After"},
		MaxAge:         300,
	}))

	mux.Get("/health", middleware.LivenessHandler)
	mux.Get("/healthz", middleware.HealthHandler(d.Checks))
	mux.Get("/ready", middleware.ReadinessHandler)
	mux.Handle("/metrics", middleware.MetricsHandler())

	mux.Route("/v1/admin", func(rt chi.Router) {
		rt.Use(middleware.AdminAuth(d.AdminKey))
		rt.Get("/ai-config", r.wrap(r.handleGetConfig))
		rt.Put("/ai-config", r.wrap(r.handlePutConfig))
		rt.Put("/ai-config/stages/{type}", r.wrap(r.handlePutStage))
		rt.Post("/ai-config/reset", r.wrap(r.handleResetConfig))
	})

	mux.Route("/v1/{tenant}", func(rt chi.Router) {
		rt.Use(middleware.APIKeyAuth(d.TenantKeys))
		rt.Use(middleware.RequireValidTenant)
		if d.Limiter != nil {
			rt.Use(middleware.RateLimitMiddleware(d.Limiter))
		}
		rt.Post("/analyses/{type}", r.wrap(r.handleRun))
		rt.Get("/analyses", r.wrap(r.handleList))
		rt.Get("/analyses/{id}", r.wrap(r.handleGet))
		rt.Get("/analyses/{id}/errors", r.wrap(r.handleListErrors))
		rt.Post("/analyses/{id}/review", r.wrap(r.handleReview))
		rt.Post("/analyses/{id}/decision", r.wrap(r.handleDecision))
		rt.Put("/analyses/{id}/notes", r.wrap(r.handleNotes))
		rt.Put("/analyses/{id}/content", r.wrap(r.handleContent))
	})

	return mux
}

type handlerFunc func(http.ResponseWriter, *http.Request) error

func (r *Router) wrap(h handlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		req.Body = http.MaxBytesReader(w, req.Body, maxBodyBytes)
		if err := h(w, req); err != nil {
			status, body := r.mapError(err)
			if status >= 500 {
				r.log.Error("request failed", zap.String("path", req.URL.Path), zap.Int("status", status), zap.Error(err))
			}
			writeJSON(w, status, body)
		}
	}
}

// errorBody is the JSON error envelope. AnalysisID is set when a run
// failed after its record was created.
type errorBody struct {
	Error      string `json:"error"`
	Message    string `json:"message"`
	AnalysisID string `json:"analysis_id,omitempty"`
}

// requestError is a caller mistake detected in the handler itself.
type requestError struct {
	status int
	code   string
	msg    string
}

func (e *requestError) Error() string { return e.msg }

func badRequest(msg string) error {
	return &requestError{status: http.StatusBadRequest, code: "validation", msg: msg}
}

// runFailed carries the stored error record of a failed run.
type runFailed struct {
	rec *analysis.AnalysisResult
	err error
}

func (e *runFailed) Error() string { return e.err.Error() }
func (e *runFailed) Unwrap() error { return e.err }

func (r *Router) mapError(err error) (int, errorBody) {
	var (
		re *requestError
		rf *runFailed
		mb *http.MaxBytesError
	)
	body := errorBody{Message: err.Error()}
	if errors.As(err, &rf) && rf.rec != nil {
		body.AnalysisID = string(rf.rec.ID)
		if rf.rec.Error != nil {
			body.Message = rf.rec.Error.Message
		}
	}
	switch {
	case errors.As(err, &re):
		body.Error = re.code
		return re.status, body
	case errors.As(err, &mb):
		body.Error = "validation"
		return http.StatusRequestEntityTooLarge, body
	case errors.Is(err, analysis.ErrNotFound), errors.Is(err, aiconfig.ErrNotFound):
		body.Error = "not_found"
		return http.StatusNotFound, body
	case errors.Is(err, analysis.ErrInvalidInput):
		body.Error = "validation"
		return http.StatusBadRequest, body
	case errors.Is(err, analysis.ErrInvalidTransition):
		body.Error = "invalid_transition"
		return http.StatusConflict, body
	case errors.Is(err, analysis.ErrReadOnly):
		body.Error = "read_only"
		return http.StatusConflict, body
	case errors.Is(err, analysis.ErrConflict):
		body.Error = "conflict"
		return http.StatusConflict, body
	}

	category := analysis.CategoryOf(err)
	body.Error = string(category)
	switch category {
	case analysis.CategoryConfiguration:
		return http.StatusUnprocessableEntity, body
	case analysis.CategoryMalformedResponse:
		return http.StatusBadGateway, body
	case analysis.CategoryRateLimited:
		return http.StatusTooManyRequests, body
	case analysis.CategoryAuth:
		return http.StatusFailedDependency, body
	case analysis.CategoryProviderUnavailable:
		return http.StatusServiceUnavailable, body
	case analysis.CategoryTimeout:
		return http.StatusGatewayTimeout, body
	case analysis.CategoryPersistence:
		body.Message = category.Describe()
		return http.StatusInternalServerError, body
	}
	body.Message = "internal server error"
	return http.StatusInternalServerError, body
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decode(req *http.Request, v any) error {
	dec := json.NewDecoder(req.Body)
	if err := dec.Decode(v); err != nil {
		var mb *http.MaxBytesError
		if errors.As(err, &mb) {
			return err
		}
		return badRequest("invalid JSON body: " + err.Error())
	}
	return nil
}

// requestTimeout bounds a whole run including provider retries.
var requestTimeout = 5 * time.Minute
