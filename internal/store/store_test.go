package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cwerrors "github.com/citewatch/citewatch/internal/errors"
	"github.com/citewatch/citewatch/internal/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "citewatch.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func seedProject(t *testing.T, s *Store) *models.Project {
	t.Helper()
	p := &models.Project{
		Name:              "Acme",
		PrimaryDomain:     "www.ACME.com",
		CompetitorDomains: []string{"rival.io"},
		IsActive:          true,
	}
	require.NoError(t, s.CreateProject(context.Background(), p))
	return p
}

func seedKeyword(t *testing.T, s *Store, projectID, text string) *models.Keyword {
	t.Helper()
	k := &models.Keyword{
		ProjectID:     projectID,
		KeywordText:   text,
		PriorityLevel: 3,
		FunnelStage:   models.StageAwareness,
		IsActive:      true,
	}
	require.NoError(t, s.CreateKeyword(context.Background(), k))
	return k
}

func TestProjectCRUD(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p := seedProject(t, s)
	assert.Equal(t, "acme.com", p.PrimaryDomain)

	got, err := s.GetProject(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "Acme", got.Name)
	assert.Equal(t, []string{"rival.io"}, got.CompetitorDomains)
	assert.True(t, got.IsActive)

	name := "Acme Corp"
	updated, err := s.UpdateProject(ctx, p.ID, ProjectUpdate{Name: &name})
	require.NoError(t, err)
	assert.Equal(t, "Acme Corp", updated.Name)
	assert.Equal(t, "acme.com", updated.PrimaryDomain)

	require.NoError(t, s.ArchiveProject(ctx, p.ID))
	got, err = s.GetProject(ctx, p.ID)
	require.NoError(t, err)
	assert.False(t, got.IsActive)

	require.NoError(t, s.DeleteProject(ctx, p.ID))
	_, err = s.GetProject(ctx, p.ID)
	require.ErrorIs(t, err, cwerrors.ErrNotFound)
}

func TestProjectPrimaryNeverCompetitor(t *testing.T) {
	s := newTestStore(t)
	p := &models.Project{
		Name:              "Acme",
		PrimaryDomain:     "acme.com",
		CompetitorDomains: []string{"www.acme.com"},
		IsActive:          true,
	}
	err := s.CreateProject(context.Background(), p)
	require.ErrorIs(t, err, cwerrors.ErrInvalidInput)
}

func TestCompetitorAddRemove(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	p := seedProject(t, s)

	updated, err := s.AddCompetitor(ctx, p.ID, "WWW.Other.org")
	require.NoError(t, err)
	assert.Equal(t, []string{"rival.io", "other.org"}, updated.CompetitorDomains)

	_, err = s.AddCompetitor(ctx, p.ID, "rival.io")
	require.ErrorIs(t, err, cwerrors.ErrDuplicate)

	updated, err = s.RemoveCompetitor(ctx, p.ID, "rival.io")
	require.NoError(t, err)
	assert.Equal(t, []string{"other.org"}, updated.CompetitorDomains)

	_, err = s.RemoveCompetitor(ctx, p.ID, "ghost.com")
	require.ErrorIs(t, err, cwerrors.ErrNotFound)
}

func TestCompetitorLimit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	p := seedProject(t, s)

	domains := []string{"a.com", "b.com", "c.com", "d.com", "e.com", "f.com", "g.com", "h.com", "i.com", "j.com"}
	_, err := s.UpdateProject(ctx, p.ID, ProjectUpdate{CompetitorDomains: &domains})
	require.NoError(t, err)

	_, err = s.AddCompetitor(ctx, p.ID, "k.com")
	require.ErrorIs(t, err, cwerrors.ErrInvalidInput)
}

func TestKeywordUniquePerProject(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	p := seedProject(t, s)

	seedKeyword(t, s, p.ID, "best crm software")

	dup := &models.Keyword{ProjectID: p.ID, KeywordText: "best crm software", PriorityLevel: 1, FunnelStage: models.StageDecision, IsActive: true}
	require.ErrorIs(t, s.CreateKeyword(ctx, dup), cwerrors.ErrDuplicate)

	// Same text in a different project is fine.
	p2 := &models.Project{Name: "Other", PrimaryDomain: "other.com", IsActive: true}
	require.NoError(t, s.CreateProject(ctx, p2))
	require.NoError(t, s.CreateKeyword(ctx, &models.Keyword{ProjectID: p2.ID, KeywordText: "best crm software", PriorityLevel: 3, FunnelStage: models.StageAwareness, IsActive: true}))
}

func TestKeywordTouchTracked(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	p := seedProject(t, s)
	k := seedKeyword(t, s, p.ID, "kw")

	at := time.Now().Truncate(time.Millisecond)
	require.NoError(t, s.TouchKeywordTracked(ctx, k.ID, at))

	got, err := s.GetKeyword(ctx, k.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastTrackedAt)
	assert.Equal(t, at.UTC().UnixMilli(), got.LastTrackedAt.UnixMilli())
}

func TestCitationRoundTripAndDiffLookup(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	p := seedProject(t, s)
	k := seedKeyword(t, s, p.ID, "kw")

	pos := 2
	context1 := "Acme Guide"
	older := &models.Citation{
		ProjectID:        p.ID,
		KeywordID:        k.ID,
		Platform:         models.PlatformGemini,
		TrackedAt:        time.Now().Add(-time.Hour),
		DomainMentioned:  true,
		CitationPosition: &pos,
		CitationContext:  &context1,
		FullResponseText: "Acme is leading.",
		ResponseSummary:  "Acme is leading.",
		Sentiment:        models.SentimentPositive,
		ConfidenceScore:  0.7,
		WordCount:        3,
		CompetitorCitations: []models.CompetitorCitation{
			{Domain: "other.com", URL: "https://other.com/x", Position: 1},
		},
		TotalSourcesCited: 2,
	}
	require.NoError(t, s.InsertCitation(ctx, older))

	newer := &models.Citation{
		ProjectID: p.ID, KeywordID: k.ID, Platform: models.PlatformGemini,
		TrackedAt: time.Now(), Sentiment: models.SentimentNeutral,
		CompetitorCitations: []models.CompetitorCitation{},
	}
	require.NoError(t, s.InsertCitation(ctx, newer))

	prev, err := s.LatestCitationBefore(ctx, k.ID, models.PlatformGemini, newer.TrackedAt)
	require.NoError(t, err)
	assert.Equal(t, older.ID, prev.ID)
	require.NotNil(t, prev.CitationPosition)
	assert.Equal(t, 2, *prev.CitationPosition)
	require.Len(t, prev.CompetitorCitations, 1)
	assert.Equal(t, "other.com", prev.CompetitorCitations[0].Domain)

	_, err = s.LatestCitationBefore(ctx, k.ID, models.PlatformPerplexity, time.Now())
	require.ErrorIs(t, err, cwerrors.ErrNotFound)
}

func TestJobPlanningIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	p := seedProject(t, s)
	k := seedKeyword(t, s, p.ID, "kw")

	scheduledAt := time.Now().Truncate(time.Millisecond)
	plan := func() []*models.TrackingJob {
		return []*models.TrackingJob{
			{ProjectID: p.ID, KeywordID: k.ID, Platform: models.PlatformGemini, ScheduledAt: scheduledAt},
			{ProjectID: p.ID, KeywordID: k.ID, Platform: models.PlatformChatGPT, ScheduledAt: scheduledAt},
		}
	}

	created, duplicates, err := s.CreateJobs(ctx, plan())
	require.NoError(t, err)
	assert.Equal(t, 2, created)
	assert.Zero(t, duplicates)

	// Enqueueing the same batch again is a no-op.
	created, duplicates, err = s.CreateJobs(ctx, plan())
	require.NoError(t, err)
	assert.Zero(t, created)
	assert.Equal(t, 2, duplicates)

	n, err := s.PendingJobCount(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestJobLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	p := seedProject(t, s)
	k := seedKeyword(t, s, p.ID, "kw")

	jobs := []*models.TrackingJob{{ProjectID: p.ID, KeywordID: k.ID, Platform: models.PlatformGemini, ScheduledAt: time.Now()}}
	_, _, err := s.CreateJobs(ctx, jobs)
	require.NoError(t, err)
	id := jobs[0].ID

	claimed, err := s.ClaimJob(ctx, id, time.Now())
	require.NoError(t, err)
	assert.True(t, claimed)

	// A second delivery of the same job must be discarded.
	claimed, err = s.ClaimJob(ctx, id, time.Now())
	require.NoError(t, err)
	assert.False(t, claimed)

	retries, err := s.RetryJob(ctx, id, "rate limited")
	require.NoError(t, err)
	assert.Equal(t, 1, retries)

	claimed, err = s.ClaimJob(ctx, id, time.Now())
	require.NoError(t, err)
	assert.True(t, claimed)

	require.NoError(t, s.CompleteJob(ctx, id, true, []byte(`{"position":2}`)))
	got, err := s.GetJob(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.JobCompleted, got.Status)
	assert.True(t, got.CitationFound)
	assert.NotNil(t, got.CompletedAt)
	assert.JSONEq(t, `{"position":2}`, string(got.ResultData))
}

func TestReapStaleJobs(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	p := seedProject(t, s)
	k := seedKeyword(t, s, p.ID, "kw")

	jobs := []*models.TrackingJob{{ProjectID: p.ID, KeywordID: k.ID, Platform: models.PlatformGemini, ScheduledAt: time.Now()}}
	_, _, err := s.CreateJobs(ctx, jobs)
	require.NoError(t, err)

	_, err = s.ClaimJob(ctx, jobs[0].ID, time.Now().Add(-5*time.Minute))
	require.NoError(t, err)

	stale, err := s.ReapStaleJobs(ctx, time.Now().Add(-time.Minute))
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, models.JobRetrying, stale[0].Status)

	got, err := s.GetJob(ctx, jobs[0].ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobRetrying, got.Status)
}

func TestDailyMetricUpsertConverges(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	p := seedProject(t, s)

	avg := 2.5
	m := &models.DailyMetric{
		ProjectID: p.ID, Date: "2026-08-20", Platform: models.PlatformGemini,
		TotalQueries: 4, Mentions: 3, AvgPosition: &avg,
		PositiveCount: 2, NeutralCount: 1, CompetitorMentions: 5,
	}
	require.NoError(t, s.UpsertDailyMetric(ctx, m))
	require.NoError(t, s.UpsertDailyMetric(ctx, m))

	got, err := s.ListDailyMetrics(ctx, p.ID, "2026-08-01", "2026-08-31", nil)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, *m, got[0])
}

func TestScoreSeries(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	p := seedProject(t, s)

	older := &models.VisibilityScore{
		ProjectID: p.ID, CalculatedAt: time.Now().Add(-8 * 24 * time.Hour),
		OverallScore: 40, Grade: "F", FrequencyScore: 8, PositionScore: 91.75,
		DiversityScore: 25, ContextScore: 50,
	}
	require.NoError(t, s.InsertScore(ctx, older))

	newer := &models.VisibilityScore{
		ProjectID: p.ID, CalculatedAt: time.Now(),
		OverallScore: 55, Grade: "D", FrequencyScore: 20, PositionScore: 80,
		DiversityScore: 50, ContextScore: 50, MomentumScore: 60,
	}
	require.NoError(t, s.InsertScore(ctx, newer))

	latest, err := s.LatestScore(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, newer.ID, latest.ID)

	sn, err := s.BeginSnapshot(ctx)
	require.NoError(t, err)
	defer sn.Close()

	prior, err := sn.LatestScoreBefore(ctx, p.ID, time.Now().Add(-7*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, older.ID, prior.ID)
}

func TestAlertsFilterAndReadState(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	p := seedProject(t, s)

	platform := models.PlatformGemini
	for _, a := range []*models.Alert{
		{ProjectID: p.ID, AlertType: models.AlertNewCitation, Severity: models.SeverityInfo, Title: "New citation", Platform: &platform},
		{ProjectID: p.ID, AlertType: models.AlertLostCitation, Severity: models.SeverityWarning, Title: "Lost citation"},
	} {
		require.NoError(t, s.InsertAlert(ctx, a))
	}

	warnings, err := s.ListAlerts(ctx, AlertFilter{ProjectID: p.ID, Severity: models.SeverityWarning})
	require.NoError(t, err)
	require.Len(t, warnings, 1)
	assert.Equal(t, models.AlertLostCitation, warnings[0].AlertType)

	counts, err := s.UnreadAlertCounts(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, counts[models.SeverityInfo])
	assert.Equal(t, 1, counts[models.SeverityWarning])

	require.NoError(t, s.MarkAlertRead(ctx, warnings[0].ID))
	n, err := s.MarkAllAlertsRead(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	counts, err = s.UnreadAlertCounts(ctx, p.ID)
	require.NoError(t, err)
	assert.Empty(t, counts)

	require.NoError(t, s.DeleteAlert(ctx, warnings[0].ID))
	require.ErrorIs(t, s.DeleteAlert(ctx, warnings[0].ID), cwerrors.ErrNotFound)
}

func TestRetentionPurges(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	p := seedProject(t, s)
	k := seedKeyword(t, s, p.ID, "kw")

	old := time.Now().AddDate(-2, 0, 0)
	require.NoError(t, s.InsertCitation(ctx, &models.Citation{
		ProjectID: p.ID, KeywordID: k.ID, Platform: models.PlatformGemini,
		TrackedAt: old, Sentiment: models.SentimentNeutral,
		CompetitorCitations: []models.CompetitorCitation{},
	}))
	require.NoError(t, s.InsertAlert(ctx, &models.Alert{
		ProjectID: p.ID, AlertType: models.AlertNewCitation, Severity: models.SeverityInfo,
		Title: "old", CreatedAt: old,
	}))

	jobs := []*models.TrackingJob{{ProjectID: p.ID, KeywordID: k.ID, Platform: models.PlatformGemini, ScheduledAt: old}}
	_, _, err := s.CreateJobs(ctx, jobs)
	require.NoError(t, err)

	cutoff := time.Now().AddDate(0, 0, -30)
	n, err := s.PurgeCitations(ctx, cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = s.PurgeAlerts(ctx, cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	// The job is live (pending) and created now, so nothing purges.
	n, err = s.PurgeJobs(ctx, cutoff)
	require.NoError(t, err)
	assert.Zero(t, n)
}
