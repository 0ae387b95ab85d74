package api

import (
	"fmt"
	"net/http"

	cwerrors "github.com/citewatch/citewatch/internal/errors"
	"github.com/citewatch/citewatch/internal/models"
	"github.com/citewatch/citewatch/internal/store"
)

const defaultAlertLimit = 50

var validSeverities = map[string]bool{"info": true, "warning": true, "critical": true}

var validAlertTypes = map[string]bool{
	"new_citation": true, "lost_citation": true, "position_change": true,
	"competitor_gain": true, "new_platform": true, "sentiment_shift": true,
	"volume_spike": true,
}

func (r *Router) handleAlerts(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	q := req.URL.Query()
	filter := store.AlertFilter{
		ProjectID:  q.Get("project_id"),
		UnreadOnly: q.Get("unread") == "true",
	}
	if t := q.Get("type"); t != "" {
		if !validAlertTypes[t] {
			writeError(w, fmt.Errorf("%w: unknown alert type %q", cwerrors.ErrInvalidInput, t))
			return
		}
		filter.AlertType = models.AlertType(t)
	}
	if sev := q.Get("severity"); sev != "" {
		if !validSeverities[sev] {
			writeError(w, fmt.Errorf("%w: unknown severity %q", cwerrors.ErrInvalidInput, sev))
			return
		}
		filter.Severity = models.AlertSeverity(sev)
	}
	var err error
	filter.Limit, err = queryInt(req, "limit", defaultAlertLimit)
	if err != nil {
		writeError(w, err)
		return
	}

	alerts, err := r.store.ListAlerts(req.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, alerts)
}

func (r *Router) handleUnreadCounts(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	counts, err := r.store.UnreadAlertCounts(req.Context(), req.URL.Query().Get("project_id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, counts)
}

func (r *Router) handleMarkRead(w http.ResponseWriter, req *http.Request, id string) {
	if req.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	if err := r.store.MarkAlertRead(req.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (r *Router) handleMarkAllRead(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	updated, err := r.store.MarkAllAlertsRead(req.Context(), req.URL.Query().Get("project_id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"updated": updated})
}

func (r *Router) handleAlertByID(w http.ResponseWriter, req *http.Request, id string) {
	if req.Method != http.MethodDelete {
		writeMethodNotAllowed(w)
		return
	}
	if err := r.store.DeleteAlert(req.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
