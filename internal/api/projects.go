package api

import (
	"fmt"
	"net/http"

	cwerrors "github.com/citewatch/citewatch/internal/errors"
	"github.com/citewatch/citewatch/internal/models"
	"github.com/citewatch/citewatch/internal/store"
)

type createProjectRequest struct {
	Name              string   `json:"name" validate:"required,min=1,max=120"`
	PrimaryDomain     string   `json:"primaryDomain" validate:"required,domain"`
	CompetitorDomains []string `json:"competitorDomains" validate:"max=10,dive,domain"`
}

type updateProjectRequest struct {
	Name              *string   `json:"name" validate:"omitempty,min=1,max=120"`
	PrimaryDomain     *string   `json:"primaryDomain" validate:"omitempty,domain"`
	CompetitorDomains *[]string `json:"competitorDomains" validate:"omitempty,max=10,dive,domain"`
	IsActive          *bool     `json:"isActive"`
}

type competitorRequest struct {
	Domain string `json:"domain" validate:"required,domain"`
}

func (r *Router) handleProjects(w http.ResponseWriter, req *http.Request) {
	switch req.Method {
	case http.MethodGet:
		activeOnly := req.URL.Query().Get("active") == "true"
		projects, err := r.store.ListProjects(req.Context(), activeOnly)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, projects)

	case http.MethodPost:
		var body createProjectRequest
		if err := r.decodeBody(req, &body); err != nil {
			writeError(w, err)
			return
		}
		project := &models.Project{
			Name:              body.Name,
			PrimaryDomain:     body.PrimaryDomain,
			CompetitorDomains: body.CompetitorDomains,
			IsActive:          true,
		}
		if err := r.store.CreateProject(req.Context(), project); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, project)

	default:
		writeMethodNotAllowed(w)
	}
}

func (r *Router) handleProjectByID(w http.ResponseWriter, req *http.Request, id string) {
	switch req.Method {
	case http.MethodGet:
		project, err := r.store.GetProject(req.Context(), id)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, project)

	case http.MethodPut:
		var body updateProjectRequest
		if err := r.decodeBody(req, &body); err != nil {
			writeError(w, err)
			return
		}
		project, err := r.store.UpdateProject(req.Context(), id, store.ProjectUpdate{
			Name:              body.Name,
			PrimaryDomain:     body.PrimaryDomain,
			CompetitorDomains: body.CompetitorDomains,
			IsActive:          body.IsActive,
		})
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, project)

	case http.MethodDelete:
		if req.URL.Query().Get("archive") == "true" {
			if err := r.store.ArchiveProject(req.Context(), id); err != nil {
				writeError(w, err)
				return
			}
		} else {
			if err := r.store.DeleteProject(req.Context(), id); err != nil {
				writeError(w, err)
				return
			}
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		writeMethodNotAllowed(w)
	}
}

func (r *Router) handleCompetitors(w http.ResponseWriter, req *http.Request, projectID string) {
	if req.Method != http.MethodPost && req.Method != http.MethodDelete {
		writeMethodNotAllowed(w)
		return
	}
	var body competitorRequest
	if err := r.decodeBody(req, &body); err != nil {
		writeError(w, err)
		return
	}

	switch req.Method {
	case http.MethodPost:
		project, err := r.store.AddCompetitor(req.Context(), projectID, body.Domain)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, project)

	case http.MethodDelete:
		project, err := r.store.RemoveCompetitor(req.Context(), projectID, body.Domain)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, project)
	}
}

type createKeywordRequest struct {
	KeywordText   string `json:"keywordText" validate:"required,min=1,max=500"`
	PriorityLevel int    `json:"priorityLevel" validate:"omitempty,min=1,max=5"`
	FunnelStage   string `json:"funnelStage" validate:"omitempty,oneof=awareness consideration decision"`
}

type updateKeywordRequest struct {
	KeywordText   *string `json:"keywordText" validate:"omitempty,min=1,max=500"`
	PriorityLevel *int    `json:"priorityLevel" validate:"omitempty,min=1,max=5"`
	FunnelStage   *string `json:"funnelStage" validate:"omitempty,oneof=awareness consideration decision"`
	IsActive      *bool   `json:"isActive"`
}

func (r *Router) handleProjectKeywords(w http.ResponseWriter, req *http.Request, projectID string) {
	switch req.Method {
	case http.MethodGet:
		activeOnly := req.URL.Query().Get("active") == "true"
		keywords, err := r.store.ListKeywords(req.Context(), projectID, activeOnly)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, keywords)

	case http.MethodPost:
		var body createKeywordRequest
		if err := r.decodeBody(req, &body); err != nil {
			writeError(w, err)
			return
		}
		if _, err := r.store.GetProject(req.Context(), projectID); err != nil {
			writeError(w, err)
			return
		}
		keyword := models.Keyword{
			ProjectID:     projectID,
			KeywordText:   body.KeywordText,
			PriorityLevel: body.PriorityLevel,
			FunnelStage:   models.FunnelStage(body.FunnelStage),
			IsActive:      true,
		}
		if keyword.PriorityLevel == 0 {
			keyword.PriorityLevel = 3
		}
		if keyword.FunnelStage == "" {
			keyword.FunnelStage = models.StageAwareness
		}
		if err := r.store.CreateKeyword(req.Context(), &keyword); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, keyword)

	default:
		writeMethodNotAllowed(w)
	}
}

func (r *Router) handleKeywordByID(w http.ResponseWriter, req *http.Request, id string) {
	switch req.Method {
	case http.MethodPut:
		var body updateKeywordRequest
		if err := r.decodeBody(req, &body); err != nil {
			writeError(w, err)
			return
		}
		upd := store.KeywordUpdate{
			KeywordText:   body.KeywordText,
			PriorityLevel: body.PriorityLevel,
			IsActive:      body.IsActive,
		}
		if body.FunnelStage != nil {
			stage := models.FunnelStage(*body.FunnelStage)
			upd.FunnelStage = &stage
		}
		keyword, err := r.store.UpdateKeyword(req.Context(), id, upd)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, keyword)

	case http.MethodDelete:
		if err := r.store.DeleteKeyword(req.Context(), id); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		writeMethodNotAllowed(w)
	}
}

// platformsFromNames validates and converts platform names. Empty input
// means "all configured".
func platformsFromNames(names []string) ([]models.Platform, error) {
	platforms := make([]models.Platform, 0, len(names))
	for _, name := range names {
		if !models.IsValidPlatform(name) {
			return nil, fmt.Errorf("%w: unknown platform %q", cwerrors.ErrInvalidInput, name)
		}
		platforms = append(platforms, models.Platform(name))
	}
	return platforms, nil
}
