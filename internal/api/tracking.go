package api

import (
	"fmt"
	"net/http"
	"time"

	cwerrors "github.com/citewatch/citewatch/internal/errors"
	"github.com/citewatch/citewatch/internal/models"
)

type trackProjectRequest struct {
	Platforms     []string `json:"platforms"`
	KeywordFilter string   `json:"keywordFilter" validate:"max=500"`
}

type trackKeywordRequest struct {
	Platforms []string `json:"platforms"`
}

type scheduleJobsRequest struct {
	ProjectID   string   `json:"projectId" validate:"required"`
	KeywordIDs  []string `json:"keywordIds"`
	Platforms   []string `json:"platforms"`
	ScheduledAt string   `json:"scheduledAt"` // RFC 3339, default now
}

type quickTestRequest struct {
	Keyword   string   `json:"keyword" validate:"required,min=1,max=500"`
	Domain    string   `json:"domain" validate:"omitempty,domain"`
	Platforms []string `json:"platforms"`
}

// handleTrackKeyword runs one keyword synchronously and returns the
// per-platform result rows. Partial failure is representable: each row
// carries its own error.
func (r *Router) handleTrackKeyword(w http.ResponseWriter, req *http.Request, keywordID string) {
	if req.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	var body trackKeywordRequest
	if err := r.decodeBody(req, &body); err != nil {
		writeError(w, err)
		return
	}
	platforms, err := platformsFromNames(body.Platforms)
	if err != nil {
		writeError(w, err)
		return
	}

	keyword, err := r.store.GetKeyword(req.Context(), keywordID)
	if err != nil {
		writeError(w, err)
		return
	}
	project, err := r.store.GetProject(req.Context(), keyword.ProjectID)
	if err != nil {
		writeError(w, err)
		return
	}

	results, err := r.engine.TrackKeyword(req.Context(), keyword, project, platforms)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, results)
}

// handleTrackProject kicks off an asynchronous batch through the broker
// and returns the handle with 202.
func (r *Router) handleTrackProject(w http.ResponseWriter, req *http.Request, projectID string) {
	if req.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	var body trackProjectRequest
	if err := r.decodeBody(req, &body); err != nil {
		writeError(w, err)
		return
	}
	platforms, err := platformsFromNames(body.Platforms)
	if err != nil {
		writeError(w, err)
		return
	}

	batch, err := r.sched.ScheduleProject(req.Context(), projectID, platforms, body.KeywordFilter)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, batch)
}

func (r *Router) handleTrackingStatus(w http.ResponseWriter, req *http.Request, projectID string) {
	if req.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	ctx := req.Context()
	if _, err := r.store.GetProject(ctx, projectID); err != nil {
		writeError(w, err)
		return
	}

	keywords, err := r.store.ListKeywords(ctx, projectID, true)
	if err != nil {
		writeError(w, err)
		return
	}

	status := models.TrackingStatus{TotalKeywords: len(keywords)}
	for _, kw := range keywords {
		if kw.LastTrackedAt == nil {
			continue
		}
		status.TrackedKeywords++
		if status.LastTrackTime == nil || kw.LastTrackedAt.After(*status.LastTrackTime) {
			status.LastTrackTime = kw.LastTrackedAt
		}
	}

	status.PendingKeywords, err = r.store.PendingJobCount(ctx, projectID)
	if err != nil {
		writeError(w, err)
		return
	}
	status.JobCounts, err = r.store.JobCountsSince(ctx, projectID, time.Now().Add(-24*time.Hour))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// handleScheduleJobs bulk-inserts pending jobs for explicit keywords, or
// every active keyword when none are named.
func (r *Router) handleScheduleJobs(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	var body scheduleJobsRequest
	if err := r.decodeBody(req, &body); err != nil {
		writeError(w, err)
		return
	}
	platforms, err := platformsFromNames(body.Platforms)
	if err != nil {
		writeError(w, err)
		return
	}

	scheduledAt := time.Now().Truncate(time.Minute)
	if body.ScheduledAt != "" {
		scheduledAt, err = time.Parse(time.RFC3339, body.ScheduledAt)
		if err != nil {
			writeError(w, fmt.Errorf("%w: scheduledAt must be RFC 3339: %v", cwerrors.ErrInvalidInput, err))
			return
		}
	}

	ctx := req.Context()
	var keywords []models.Keyword
	if len(body.KeywordIDs) == 0 {
		keywords, err = r.store.ListKeywords(ctx, body.ProjectID, true)
		if err != nil {
			writeError(w, err)
			return
		}
	} else {
		for _, id := range body.KeywordIDs {
			kw, err := r.store.GetKeyword(ctx, id)
			if err != nil {
				writeError(w, err)
				return
			}
			if kw.ProjectID != body.ProjectID {
				writeError(w, fmt.Errorf("%w: keyword %s does not belong to project %s", cwerrors.ErrInvalidInput, id, body.ProjectID))
				return
			}
			keywords = append(keywords, *kw)
		}
	}

	batch, err := r.sched.ScheduleBatch(ctx, body.ProjectID, keywords, platforms, scheduledAt)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, batch)
}

// handleQuickTest runs the tracking engine without persisting anything.
func (r *Router) handleQuickTest(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	var body quickTestRequest
	if err := r.decodeBody(req, &body); err != nil {
		writeError(w, err)
		return
	}
	platforms, err := platformsFromNames(body.Platforms)
	if err != nil {
		writeError(w, err)
		return
	}

	results, err := r.engine.QuickTest(req.Context(), body.Keyword, body.Domain, platforms)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, results)
}
