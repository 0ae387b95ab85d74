package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	cwerrors "github.com/citewatch/citewatch/internal/errors"
	"github.com/citewatch/citewatch/internal/models"
	"github.com/citewatch/citewatch/internal/scoring"
	"github.com/citewatch/citewatch/internal/store"
)

const (
	defaultHistoryDays = 30
	defaultTrendLimit  = 10
	dashboardAlerts    = 10
)

// dashboardResponse bundles the read views a dashboard renders in one
// request. Values are the last persisted ones; staleness is visible via
// the score's calculatedAt.
type dashboardResponse struct {
	Project      *models.Project                `json:"project"`
	Score        *models.VisibilityScore        `json:"score"` // nil when never scored
	ShareOfVoice *scoring.ShareOfVoice          `json:"shareOfVoice"`
	Trends       []scoring.KeywordTrend         `json:"trends"`
	RecentAlerts []models.Alert                 `json:"recentAlerts"`
	UnreadCounts map[models.AlertSeverity]int   `json:"unreadCounts"`
}

func (r *Router) handleDashboard(w http.ResponseWriter, req *http.Request, projectID string) {
	if req.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	resp, err := r.buildDashboard(req, projectID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleDashboardRefresh recomputes the score, metrics and batch alerts,
// then returns the fresh dashboard.
func (r *Router) handleDashboardRefresh(w http.ResponseWriter, req *http.Request, projectID string) {
	if req.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	if err := r.scorer.RecomputeProject(req.Context(), projectID, time.Now()); err != nil {
		writeError(w, err)
		return
	}
	resp, err := r.buildDashboard(req, projectID)
	if err != nil {
		writeError(w, err)
		return
	}
	if r.hub != nil && resp.Score != nil {
		r.hub.BroadcastScore(*resp.Score)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (r *Router) buildDashboard(req *http.Request, projectID string) (*dashboardResponse, error) {
	ctx := req.Context()
	project, err := r.store.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}

	score, err := r.store.LatestScore(ctx, projectID)
	if err != nil && !errors.Is(err, cwerrors.ErrNotFound) {
		return nil, err
	}
	sov, err := r.scorer.CalculateShareOfVoice(ctx, projectID)
	if err != nil {
		return nil, err
	}
	trends, err := r.scorer.TrendingKeywords(ctx, projectID, defaultTrendLimit)
	if err != nil {
		return nil, err
	}
	alerts, err := r.store.ListAlerts(ctx, store.AlertFilter{ProjectID: projectID, Limit: dashboardAlerts})
	if err != nil {
		return nil, err
	}
	unread, err := r.store.UnreadAlertCounts(ctx, projectID)
	if err != nil {
		return nil, err
	}

	return &dashboardResponse{
		Project:      project,
		Score:        score,
		ShareOfVoice: sov,
		Trends:       trends,
		RecentAlerts: alerts,
		UnreadCounts: unread,
	}, nil
}

func (r *Router) handleScoreHistory(w http.ResponseWriter, req *http.Request, projectID string) {
	if req.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	days, err := queryInt(req, "days", defaultHistoryDays)
	if err != nil {
		writeError(w, err)
		return
	}
	scores, err := r.store.ScoreHistory(req.Context(), projectID, days)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, scores)
}

func (r *Router) handleDailyMetrics(w http.ResponseWriter, req *http.Request, projectID string) {
	if req.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	q := req.URL.Query()
	to := q.Get("to")
	if to == "" {
		to = store.DateString(time.Now())
	}
	from := q.Get("from")
	if from == "" {
		from = store.DateString(time.Now().AddDate(0, 0, -defaultHistoryDays))
	}

	var platform *models.Platform
	if name := q.Get("platform"); name != "" {
		if !models.IsValidPlatform(name) {
			writeError(w, fmt.Errorf("%w: unknown platform %q", cwerrors.ErrInvalidInput, name))
			return
		}
		p := models.Platform(name)
		platform = &p
	}

	metrics, err := r.store.ListDailyMetrics(req.Context(), projectID, from, to, platform)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, metrics)
}

func (r *Router) handleShareOfVoice(w http.ResponseWriter, req *http.Request, projectID string) {
	if req.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	sov, err := r.scorer.CalculateShareOfVoice(req.Context(), projectID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sov)
}

func (r *Router) handleTrends(w http.ResponseWriter, req *http.Request, projectID string) {
	if req.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	limit, err := queryInt(req, "limit", defaultTrendLimit)
	if err != nil {
		writeError(w, err)
		return
	}
	trends, err := r.scorer.TrendingKeywords(req.Context(), projectID, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, trends)
}

func (r *Router) handleReport(w http.ResponseWriter, req *http.Request, projectID string) {
	if req.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	pdf, err := r.reports.GenerateProjectReport(req.Context(), projectID)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "visibility-report-"+store.DateString(time.Now())+".pdf"))
	w.WriteHeader(http.StatusOK)
	w.Write(pdf)
}

func queryInt(req *http.Request, key string, fallback int) (int, error) {
	raw := req.URL.Query().Get(key)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 1 {
		return 0, fmt.Errorf("%w: %s must be a positive integer", cwerrors.ErrInvalidInput, key)
	}
	return v, nil
}
