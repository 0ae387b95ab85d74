package reporting

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/citewatch/citewatch/internal/models"
	"github.com/citewatch/citewatch/internal/scoring"
	"github.com/citewatch/citewatch/internal/store"
)

func newTestBuilder(t *testing.T) (*Builder, *store.Store) {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "reporting.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return NewBuilder(s, scoring.NewService(s, nil)), s
}

func seedReportProject(t *testing.T, s *store.Store) *models.Project {
	t.Helper()
	ctx := context.Background()
	p := &models.Project{Name: "Acme", PrimaryDomain: "acme.com", CompetitorDomains: []string{"rival.com"}, IsActive: true}
	require.NoError(t, s.CreateProject(ctx, p))

	kw := models.Keyword{
		ProjectID:     p.ID,
		KeywordText:   "best accounting software",
		PriorityLevel: 3,
		FunnelStage:   models.StageAwareness,
		IsActive:      true,
	}
	require.NoError(t, s.CreateKeyword(ctx, &kw))

	pos := 2
	require.NoError(t, s.InsertCitation(ctx, &models.Citation{
		ProjectID:        p.ID,
		KeywordID:        kw.ID,
		Platform:         models.PlatformGemini,
		TrackedAt:        time.Now().AddDate(0, 0, -2),
		DomainMentioned:  true,
		CitationPosition: &pos,
		Sentiment:        models.SentimentPositive,
	}))
	require.NoError(t, s.InsertAlert(ctx, &models.Alert{
		ProjectID:   p.ID,
		AlertType:   models.AlertNewCitation,
		Severity:    models.SeverityInfo,
		Title:       "Now cited on gemini",
		Description: "First citation seen",
	}))
	return p
}

func TestBuildProjectReport(t *testing.T) {
	b, s := newTestBuilder(t)
	ctx := context.Background()
	p := seedReportProject(t, s)

	_, err := scoring.NewService(s, nil).ComputeVisibilityScore(ctx, p.ID, time.Now())
	require.NoError(t, err)

	data, err := b.BuildProjectReport(ctx, p.ID)
	require.NoError(t, err)

	assert.Equal(t, p.ID, data.Project.ID)
	require.NotNil(t, data.Score)
	assert.Greater(t, data.Score.OverallScore, 0.0)
	require.NotNil(t, data.ShareOfVoice)
	assert.Equal(t, 1, data.ShareOfVoice.TotalMentions)
	require.Len(t, data.Alerts, 1)
	assert.Equal(t, "Now cited on gemini", data.Alerts[0].Title)
	assert.False(t, data.GeneratedAt.IsZero())
}

func TestBuildProjectReportWithoutScore(t *testing.T) {
	b, s := newTestBuilder(t)
	p := seedReportProject(t, s)

	data, err := b.BuildProjectReport(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Nil(t, data.Score)
}

func TestGenerateProjectReportProducesPDF(t *testing.T) {
	b, s := newTestBuilder(t)
	ctx := context.Background()
	p := seedReportProject(t, s)

	_, err := scoring.NewService(s, nil).ComputeVisibilityScore(ctx, p.ID, time.Now())
	require.NoError(t, err)

	pdf, err := b.GenerateProjectReport(ctx, p.ID)
	require.NoError(t, err)
	require.Greater(t, len(pdf), 1000)
	assert.Equal(t, "%PDF-", string(pdf[:5]))
}

func TestGenerateHandlesEmptyProject(t *testing.T) {
	b, s := newTestBuilder(t)
	ctx := context.Background()
	p := &models.Project{Name: "Empty", PrimaryDomain: "empty.com", IsActive: true}
	require.NoError(t, s.CreateProject(ctx, p))

	pdf, err := b.GenerateProjectReport(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "%PDF-", string(pdf[:5]))
}
