// Package reporting renders a project's visibility state as a PDF:
// current score and components, share of voice, trending keywords and
// recent alerts.
package reporting

import (
	"context"
	"errors"
	"time"

	cwerrors "github.com/citewatch/citewatch/internal/errors"
	"github.com/citewatch/citewatch/internal/models"
	"github.com/citewatch/citewatch/internal/scoring"
	"github.com/citewatch/citewatch/internal/store"
)

const (
	trendLimit = 10
	alertLimit = 15
)

// ReportData is everything one report needs, assembled up front so the
// renderer stays pure.
type ReportData struct {
	Project      *models.Project
	Score        *models.VisibilityScore // nil when never scored
	ShareOfVoice *scoring.ShareOfVoice
	Trends       []scoring.KeywordTrend
	Alerts       []models.Alert
	GeneratedAt  time.Time
}

// Builder assembles report data from the store and scoring service.
type Builder struct {
	store  *store.Store
	scorer *scoring.Service
}

// NewBuilder wires a report builder.
func NewBuilder(s *store.Store, scorer *scoring.Service) *Builder {
	return &Builder{store: s, scorer: scorer}
}

// BuildProjectReport gathers the report inputs for one project. A
// project with no score yet still gets a report; the score section just
// reads "not yet calculated".
func (b *Builder) BuildProjectReport(ctx context.Context, projectID string) (*ReportData, error) {
	project, err := b.store.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}

	score, err := b.store.LatestScore(ctx, projectID)
	if err != nil && !errors.Is(err, cwerrors.ErrNotFound) {
		return nil, err
	}

	sov, err := b.scorer.CalculateShareOfVoice(ctx, projectID)
	if err != nil {
		return nil, err
	}

	trends, err := b.scorer.TrendingKeywords(ctx, projectID, trendLimit)
	if err != nil {
		return nil, err
	}

	alerts, err := b.store.ListAlerts(ctx, store.AlertFilter{ProjectID: projectID, Limit: alertLimit})
	if err != nil {
		return nil, err
	}

	return &ReportData{
		Project:      project,
		Score:        score,
		ShareOfVoice: sov,
		Trends:       trends,
		Alerts:       alerts,
		GeneratedAt:  time.Now(),
	}, nil
}

// GenerateProjectReport builds and renders the PDF in one call.
func (b *Builder) GenerateProjectReport(ctx context.Context, projectID string) ([]byte, error) {
	data, err := b.BuildProjectReport(ctx, projectID)
	if err != nil {
		return nil, err
	}
	return NewPDFGenerator().Generate(data)
}
