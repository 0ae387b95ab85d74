// Package api is the HTTP surface: a thin JSON layer over the store,
// tracking engine, scheduler and scoring service. Handlers validate,
// delegate and translate errors; no business logic lives here.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"

	"github.com/citewatch/citewatch/internal/config"
	cwerrors "github.com/citewatch/citewatch/internal/errors"
	"github.com/citewatch/citewatch/internal/events"
	"github.com/citewatch/citewatch/internal/reporting"
	"github.com/citewatch/citewatch/internal/scheduler"
	"github.com/citewatch/citewatch/internal/scoring"
	"github.com/citewatch/citewatch/internal/store"
	"github.com/citewatch/citewatch/internal/tracking"
)

var domainPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{1,61}[a-z0-9]\.[a-z]{2,}$`)

// Router handles HTTP routing.
type Router struct {
	mux       *http.ServeMux
	cfg       *config.Config
	store     *store.Store
	engine    *tracking.Engine
	sched     *scheduler.Scheduler
	scorer    *scoring.Service
	reports   *reporting.Builder
	hub       *events.Hub
	validate  *validator.Validate
	startTime time.Time
}

// NewRouter wires the full route table.
func NewRouter(cfg *config.Config, s *store.Store, engine *tracking.Engine, sched *scheduler.Scheduler, scorer *scoring.Service, reports *reporting.Builder, hub *events.Hub) http.Handler {
	r := &Router{
		mux:       http.NewServeMux(),
		cfg:       cfg,
		store:     s,
		engine:    engine,
		sched:     sched,
		scorer:    scorer,
		reports:   reports,
		hub:       hub,
		validate:  newValidator(),
		startTime: time.Now(),
	}
	r.setupRoutes()
	return r
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterValidation("domain", func(fl validator.FieldLevel) bool {
		return domainPattern.MatchString(fl.Field().String())
	})
	return v
}

func (r *Router) setupRoutes() {
	r.mux.HandleFunc("/api/projects", r.handleProjects)
	r.mux.HandleFunc("/api/projects/", r.handleProjectSubtree)
	r.mux.HandleFunc("/api/keywords/", r.handleKeywordSubtree)
	r.mux.HandleFunc("/api/jobs/schedule", r.handleScheduleJobs)
	r.mux.HandleFunc("/api/track/test", r.handleQuickTest)
	r.mux.HandleFunc("/api/alerts", r.handleAlerts)
	r.mux.HandleFunc("/api/alerts/", r.handleAlertSubtree)
	r.mux.HandleFunc("/api/providers", r.handleProviders)
	r.mux.HandleFunc("/api/health", r.handleHealth)
	if r.hub != nil {
		r.mux.HandleFunc("/api/ws", r.hub.HandleWebSocket)
	}
}

// ServeHTTP implements http.Handler.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	if r.cfg.AllowedOrigins != "" {
		w.Header().Set("Access-Control-Allow-Origin", r.cfg.AllowedOrigins)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	}
	if req.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}
	if strings.HasPrefix(req.URL.Path, "/api/") {
		addSecurityHeaders(w)
	}

	start := time.Now()
	r.mux.ServeHTTP(w, req)
	log.Debug().
		Str("method", req.Method).
		Str("path", req.URL.Path).
		Dur("duration", time.Since(start)).
		Msg("Request handled")
}

func addSecurityHeaders(w http.ResponseWriter) {
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("X-Frame-Options", "DENY")
	w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
}

// handleProjectSubtree dispatches /api/projects/{id} and everything
// nested under it.
func (r *Router) handleProjectSubtree(w http.ResponseWriter, req *http.Request) {
	rest := strings.TrimPrefix(req.URL.Path, "/api/projects/")
	id, sub, _ := strings.Cut(rest, "/")
	if id == "" {
		writeError(w, fmt.Errorf("%w: missing project id", cwerrors.ErrInvalidInput))
		return
	}

	switch sub {
	case "":
		r.handleProjectByID(w, req, id)
	case "competitors":
		r.handleCompetitors(w, req, id)
	case "keywords":
		r.handleProjectKeywords(w, req, id)
	case "track":
		r.handleTrackProject(w, req, id)
	case "tracking-status":
		r.handleTrackingStatus(w, req, id)
	case "dashboard":
		r.handleDashboard(w, req, id)
	case "dashboard/refresh":
		r.handleDashboardRefresh(w, req, id)
	case "scores":
		r.handleScoreHistory(w, req, id)
	case "metrics":
		r.handleDailyMetrics(w, req, id)
	case "share-of-voice":
		r.handleShareOfVoice(w, req, id)
	case "trends":
		r.handleTrends(w, req, id)
	case "report":
		r.handleReport(w, req, id)
	default:
		http.NotFound(w, req)
	}
}

// handleKeywordSubtree dispatches /api/keywords/{id} and
// /api/keywords/{id}/track.
func (r *Router) handleKeywordSubtree(w http.ResponseWriter, req *http.Request) {
	rest := strings.TrimPrefix(req.URL.Path, "/api/keywords/")
	id, sub, _ := strings.Cut(rest, "/")
	if id == "" {
		writeError(w, fmt.Errorf("%w: missing keyword id", cwerrors.ErrInvalidInput))
		return
	}

	switch sub {
	case "":
		r.handleKeywordByID(w, req, id)
	case "track":
		r.handleTrackKeyword(w, req, id)
	default:
		http.NotFound(w, req)
	}
}

// handleAlertSubtree dispatches /api/alerts/{id}, /api/alerts/{id}/read,
// /api/alerts/read-all and /api/alerts/unread-counts.
func (r *Router) handleAlertSubtree(w http.ResponseWriter, req *http.Request) {
	rest := strings.TrimPrefix(req.URL.Path, "/api/alerts/")
	switch rest {
	case "unread-counts":
		r.handleUnreadCounts(w, req)
		return
	case "read-all":
		r.handleMarkAllRead(w, req)
		return
	}

	id, sub, _ := strings.Cut(rest, "/")
	if id == "" {
		writeError(w, fmt.Errorf("%w: missing alert id", cwerrors.ErrInvalidInput))
		return
	}
	switch sub {
	case "":
		r.handleAlertByID(w, req, id)
	case "read":
		r.handleMarkRead(w, req, id)
	default:
		http.NotFound(w, req)
	}
}

func (r *Router) handleHealth(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	status := "healthy"
	if err := r.store.Ping(req.Context()); err != nil {
		status = "degraded"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    status,
		"timestamp": time.Now().Unix(),
		"uptime":    time.Since(r.startTime).Seconds(),
	})
}

func (r *Router) handleProviders(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, r.engine.Registry().Statuses())
}

// decodeBody unmarshals and validates a JSON request body.
func (r *Router) decodeBody(req *http.Request, dst any) error {
	dec := json.NewDecoder(req.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: malformed JSON body: %v", cwerrors.ErrInvalidInput, err)
	}
	if err := r.validate.Struct(dst); err != nil {
		return fmt.Errorf("%w: %v", cwerrors.ErrInvalidInput, err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
	}
}

// writeError maps error kinds to HTTP statuses.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, cwerrors.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, cwerrors.ErrInvalidInput):
		status = http.StatusBadRequest
	case errors.Is(err, cwerrors.ErrDuplicate):
		status = http.StatusConflict
	case errors.Is(err, cwerrors.ErrNotConfigured):
		status = http.StatusServiceUnavailable
	case errors.Is(err, cwerrors.ErrTimeout):
		status = http.StatusGatewayTimeout
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeMethodNotAllowed(w http.ResponseWriter) {
	writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
}
