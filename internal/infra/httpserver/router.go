package httpserver

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	appai "github.com/HwangHoYoon/trust/internal/application/ai"
	appscans "github.com/HwangHoYoon/trust/internal/application/scans"
	domai "github.com/HwangHoYoon/trust/internal/domain/ai"
	domain "github.com/HwangHoYoon/trust/internal/domain/scans"
	"github.com/HwangHoYoon/trust/internal/middleware"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Options configures the HTTP surface.
type Options struct {
	APIKeys             map[string]string
	CORSOrigins         []string
	RateRPS             float64
	RateBurst           int
	AllowPrivateTargets bool
	Health              map[string]middleware.HealthChecker
	// BaseContext bounds scans started with POST /api/scans. Cancelling it
	// interrupts them.
	BaseContext context.Context
	Metrics     *middleware.Metrics
}

type Router struct {
	scansSvc *appscans.Service
	aiSvc    *appai.Service
	opts     Options
	metrics  *middleware.Metrics
	logger   *zap.Logger
}

// NewRouter builds the chi handler. aiSvc may be nil when no model is configured.
func NewRouter(scansSvc *appscans.Service, aiSvc *appai.Service, opts Options, logger *zap.Logger) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.BaseContext == nil {
		opts.BaseContext = context.Background()
	}
	if opts.Metrics == nil {
		opts.Metrics = middleware.NewMetrics()
	}
	if len(opts.CORSOrigins) == 0 {
		opts.CORSOrigins = []string{"*"}
	}
	r := &Router{scansSvc: scansSvc, aiSvc: aiSvc, opts: opts, metrics: opts.Metrics, logger: logger}

	mux := chi.NewRouter()
	mux.Use(middleware.RequestLogger(logger))
	mux.Use(r.metrics.Middleware)
	mux.Use(cors.Handler(cors.Options{
		AllowedOrigins: opts.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))
	mux.Use(middleware.APIKeyAuth(opts.APIKeys))
	if opts.RateRPS > 0 {
		mux.Use(middleware.NewRateLimiter(opts.RateRPS, opts.RateBurst).Middleware)
	}

	mux.Get("/health", middleware.HealthHandler(opts.Health))
	mux.Get("/readyz", middleware.ReadinessHandler)
	mux.Get("/livez", middleware.LivenessHandler)
	mux.Get("/metrics", r.metrics.Handler)

	mux.Route("/api/scan", func(rt chi.Router) {
		rt.Get("/stream", r.wrap(r.handleStream(false)))
		rt.Get("/streamAll", r.wrap(r.handleStream(true)))
		rt.Get("/mcpAll", r.wrap(r.handleCollect))
		rt.Post("/mcpAll", r.wrap(r.handleCollect))
		rt.Get("/version", r.wrap(r.handleVersion))
	})

	mux.Route("/api/scans", func(rt chi.Router) {
		rt.Post("/", r.wrap(r.handleTriggerScan))
		rt.Get("/latest", r.wrap(r.handleLatest))
		rt.Get("/{id}", r.wrap(r.handleGet))
		rt.Get("/{id}/findings", r.wrap(r.handleFindings))
		rt.Get("/{id}/errors", r.wrap(r.handleErrors))
	})

	mux.Route("/api/ai", func(rt chi.Router) {
		rt.Get("/analyzeScan", r.wrap(r.handleAnalyzeScan))
		rt.Post("/analyzeScan", r.wrap(r.handleAnalyzeScan))
		rt.Get("/analyzeScanDetail", r.wrap(r.handleAnalyzeDetail))
		rt.Post("/analyzeScanDetail", r.wrap(r.handleAnalyzeDetail))
	})

	return mux
}

type handlerFunc func(http.ResponseWriter, *http.Request) error

// badRequest marks client input errors.
type badRequest struct{ msg string }

func (e badRequest) Error() string { return e.msg }

func (r *Router) wrap(h handlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		err := h(w, req)
		if err == nil {
			return
		}
		var br badRequest
		switch {
		case errors.As(err, &br), errors.Is(err, domain.ErrInvalidTarget):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, domain.ErrNotFound), errors.Is(err, sql.ErrNoRows):
			writeError(w, http.StatusNotFound, "not found")
		case errors.Is(err, domai.ErrQuotaExceeded):
			writeError(w, http.StatusTooManyRequests, "ai quota exceeded")
		case errors.Is(err, domai.ErrNotConfigured), errors.Is(err, appscans.ErrEnrichmentUnavailable):
			writeError(w, http.StatusServiceUnavailable, err.Error())
		default:
			r.logger.Error("request failed", zap.String("path", req.URL.Path), zap.Error(err))
			writeError(w, http.StatusInternalServerError, err.Error())
		}
	}
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, code int, v any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	return json.NewEncoder(w).Encode(v)
}

// param reads a value from the query string, falling back to a JSON body field.
func param(req *http.Request, name string) (string, error) {
	if v := req.URL.Query().Get(name); v != "" {
		return v, nil
	}
	if req.Method != http.MethodPost || req.Body == nil || req.ContentLength == 0 {
		return "", nil
	}
	var body map[string]any
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		return "", badRequest{"invalid JSON body"}
	}
	switch v := body[name].(type) {
	case string:
		return v, nil
	case float64:
		return strconv.FormatInt(int64(v), 10), nil
	}
	return "", nil
}

func (r *Router) target(req *http.Request) (string, error) {
	raw, err := param(req, "url")
	if err != nil {
		return "", err
	}
	return middleware.ValidateTarget(raw, r.opts.AllowPrivateTargets)
}

// noWriteDeadline lifts the server write timeout for long-running responses.
func noWriteDeadline(w http.ResponseWriter) error {
	err := http.NewResponseController(w).SetWriteDeadline(time.Time{})
	if err != nil && !errors.Is(err, http.ErrNotSupported) {
		return err
	}
	return nil
}

// track feeds scan counters once the job ends.
func (r *Router) track(job *appscans.Job) {
	r.metrics.ScanStarted()
	go func() {
		<-job.Done()
		s := job.Snapshot()
		r.metrics.ScanFinished(s.Status == domain.StatusCompleted, s.Counts.Total)
	}()
}

// GET /api/scan/stream?url= and /api/scan/streamAll?url=
// The scan is bound to the request: a client disconnect interrupts it.
func (r *Router) handleStream(enrich bool) handlerFunc {
	return func(w http.ResponseWriter, req *http.Request) error {
		target, err := r.target(req)
		if err != nil {
			return err
		}
		sink := NewSSESink(w)
		defer sink.Close()

		job, err := r.scansSvc.RunScan(req.Context(), target, sink, enrich)
		if err != nil {
			return err
		}
		r.track(job)
		<-job.Done()
		return nil
	}
}

// GET|POST /api/scan/mcpAll?url=
// Runs to completion and returns every event. Enriches when a model is configured.
func (r *Router) handleCollect(w http.ResponseWriter, req *http.Request) error {
	target, err := r.target(req)
	if err != nil {
		return err
	}
	if err := noWriteDeadline(w); err != nil {
		return err
	}
	sink := &appscans.CollectSink{}
	job, err := r.scansSvc.RunScan(req.Context(), target, sink, r.scansSvc.Enricher != nil)
	if err != nil {
		return err
	}
	r.track(job)
	<-job.Done()
	return writeJSON(w, http.StatusOK, sink.Events())
}

// GET /api/scan/version
func (r *Router) handleVersion(w http.ResponseWriter, req *http.Request) error {
	v, err := r.scansSvc.Version(req.Context())
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, map[string]string{"version": v})
}

// POST /api/scans
// Body: {"url": "...", "enrich": false}
// The scan keeps running after the response; poll GET /api/scans/{id}.
func (r *Router) handleTriggerScan(w http.ResponseWriter, req *http.Request) error {
	var body struct {
		URL    string `json:"url"`
		Enrich bool   `json:"enrich"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		return badRequest{"invalid JSON body"}
	}
	target, err := middleware.ValidateTarget(body.URL, r.opts.AllowPrivateTargets)
	if err != nil {
		return err
	}

	job, err := r.scansSvc.RunScan(r.opts.BaseContext, target, appscans.FuncSink(func(e domain.Event) error {
		if e.Type == domain.EventError {
			r.logger.Warn("background scan failed", zap.String("scan_id", string(e.ScanID)), zap.String("message", e.Message))
		}
		return nil
	}), body.Enrich)
	if err != nil {
		return err
	}
	r.track(job)
	return writeJSON(w, http.StatusAccepted, job.Snapshot())
}

// GET /api/scans/latest?limit=
func (r *Router) handleLatest(w http.ResponseWriter, req *http.Request) error {
	limit, _ := strconv.Atoi(req.URL.Query().Get("limit"))
	list, err := r.scansSvc.Latest(req.Context(), middleware.ValidateLimit(limit))
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, list)
}

func jobID(req *http.Request) (domain.JobID, error) {
	id := chi.URLParam(req, "id")
	if err := middleware.ValidateJobID(id); err != nil {
		return "", badRequest{err.Error()}
	}
	return domain.JobID(id), nil
}

// GET /api/scans/{id}
func (r *Router) handleGet(w http.ResponseWriter, req *http.Request) error {
	id, err := jobID(req)
	if err != nil {
		return err
	}
	job, err := r.scansSvc.Get(req.Context(), id)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, job)
}

// GET /api/scans/{id}/findings
func (r *Router) handleFindings(w http.ResponseWriter, req *http.Request) error {
	id, err := jobID(req)
	if err != nil {
		return err
	}
	list, err := r.scansSvc.Findings(req.Context(), id)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, list)
}

// GET /api/scans/{id}/errors?limit=
func (r *Router) handleErrors(w http.ResponseWriter, req *http.Request) error {
	id, err := jobID(req)
	if err != nil {
		return err
	}
	limit, _ := strconv.Atoi(req.URL.Query().Get("limit"))
	list, err := r.scansSvc.ScanErrors(req.Context(), id, middleware.ValidateLimit(limit))
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, list)
}

// GET|POST /api/ai/analyzeScan?scanId=
func (r *Router) handleAnalyzeScan(w http.ResponseWriter, req *http.Request) error {
	if r.aiSvc == nil {
		return domai.ErrNotConfigured
	}
	if err := noWriteDeadline(w); err != nil {
		return err
	}
	raw, err := param(req, "scanId")
	if err != nil {
		return err
	}
	if err := middleware.ValidateJobID(strings.TrimSpace(raw)); err != nil {
		return badRequest{err.Error()}
	}
	events, err := r.aiSvc.AnalyzeJob(req.Context(), domain.JobID(strings.TrimSpace(raw)))
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, events)
}

// GET|POST /api/ai/analyzeScanDetail?scanDetailId=
func (r *Router) handleAnalyzeDetail(w http.ResponseWriter, req *http.Request) error {
	if r.aiSvc == nil {
		return domai.ErrNotConfigured
	}
	if err := noWriteDeadline(w); err != nil {
		return err
	}
	raw, err := param(req, "scanDetailId")
	if err != nil {
		return err
	}
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || id <= 0 {
		return badRequest{"scanDetailId must be a positive integer"}
	}
	event, err := r.aiSvc.AnalyzeFinding(req.Context(), id)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, event)
}
