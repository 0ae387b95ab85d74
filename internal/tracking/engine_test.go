package tracking

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cwerrors "github.com/citewatch/citewatch/internal/errors"
	"github.com/citewatch/citewatch/internal/models"
	"github.com/citewatch/citewatch/internal/providers"
	"github.com/citewatch/citewatch/internal/sentiment"
	"github.com/citewatch/citewatch/internal/store"
)

// stubAdapter plays one canned answer or error per Query call.
type stubAdapter struct {
	name    string
	answer  *providers.Answer
	err     error
	queries int
}

func (a *stubAdapter) Name() string { return a.name }

func (a *stubAdapter) Query(ctx context.Context, query string, opts providers.QueryOptions) (*providers.Answer, error) {
	a.queries++
	if a.err != nil {
		return nil, a.err
	}
	answer := *a.answer
	answer.Provider = models.Platform(a.name)
	answer.Query = query
	return &answer, nil
}

func (a *stubAdapter) RateLimitStatus() providers.RateLimitStatus { return providers.RateLimitStatus{} }
func (a *stubAdapter) Healthcheck(ctx context.Context) error      { return nil }

func newTestEngine(t *testing.T, adapters ...providers.Adapter) (*Engine, *store.Store) {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "tracking.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	registry := providers.NewRegistryFromAdapters(adapters...)
	return NewEngine(s, registry, sentiment.NewAnalyzer(), 0), s
}

func seedProjectKeyword(t *testing.T, s *store.Store) (*models.Project, *models.Keyword) {
	t.Helper()
	ctx := context.Background()
	p := &models.Project{Name: "Acme", PrimaryDomain: "acme.com", IsActive: true}
	require.NoError(t, s.CreateProject(ctx, p))
	k := &models.Keyword{ProjectID: p.ID, KeywordText: "best acme tools", PriorityLevel: 3, FunnelStage: models.StageAwareness, IsActive: true}
	require.NoError(t, s.CreateKeyword(ctx, k))
	return p, k
}

func geminiAnswer() *providers.Answer {
	return &providers.Answer{
		ResponseText: "Acme.com is a leading provider.",
		Citations: []providers.RawCitation{
			{URL: "https://other.com/x", Rank: 1},
			{URL: "https://www.acme.com/guide", Title: "Acme Guide", Rank: 2},
		},
		ResponseTimeMs: 1200,
	}
}

func TestTrackKeywordPersistsCitation(t *testing.T) {
	adapter := &stubAdapter{name: "gemini", answer: geminiAnswer()}
	e, s := newTestEngine(t, adapter)
	ctx := context.Background()
	p, k := seedProjectKeyword(t, s)

	results, err := e.TrackKeyword(ctx, k, p, []models.Platform{models.PlatformGemini})
	require.NoError(t, err)
	require.Len(t, results, 1)

	r := results[0]
	assert.True(t, r.Success)
	assert.True(t, r.DomainMentioned)
	require.NotNil(t, r.CitationPosition)
	assert.Equal(t, 2, *r.CitationPosition)
	require.NotEmpty(t, r.CitationID)

	citations, err := s.CitationsInWindow(ctx, p.ID, time.Now().Add(-time.Minute), time.Now())
	require.NoError(t, err)
	require.Len(t, citations, 1)

	c := citations[0]
	assert.True(t, c.DomainMentioned)
	assert.Equal(t, models.SentimentPositive, c.Sentiment)
	assert.Equal(t, 2, c.TotalSourcesCited)
	require.Len(t, c.CompetitorCitations, 1)
	assert.Equal(t, "other.com", c.CompetitorCitations[0].Domain)
	assert.Equal(t, 1, c.CompetitorCitations[0].Position)

	kw, err := s.GetKeyword(ctx, k.ID)
	require.NoError(t, err)
	assert.NotNil(t, kw.LastTrackedAt)
}

func TestTrackKeywordDefaultsToConfiguredPlatforms(t *testing.T) {
	gemini := &stubAdapter{name: "gemini", answer: geminiAnswer()}
	perplexity := &stubAdapter{name: "perplexity", answer: geminiAnswer()}
	e, s := newTestEngine(t, gemini, perplexity)
	ctx := context.Background()
	p, k := seedProjectKeyword(t, s)

	results, err := e.TrackKeyword(ctx, k, p, nil)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, 1, gemini.queries)
	assert.Equal(t, 1, perplexity.queries)

	citations, err := s.CitationsInWindow(ctx, p.ID, time.Now().Add(-time.Minute), time.Now())
	require.NoError(t, err)
	assert.Len(t, citations, 2)
}

func TestTrackKeywordProviderErrorNoCitation(t *testing.T) {
	adapter := &stubAdapter{
		name: "gemini",
		err:  cwerrors.NewProviderError(cwerrors.KindRateLimited, "gemini", "query", assert.AnError),
	}
	e, s := newTestEngine(t, adapter)
	ctx := context.Background()
	p, k := seedProjectKeyword(t, s)

	results, err := e.TrackKeyword(ctx, k, p, []models.Platform{models.PlatformGemini})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.False(t, results[0].Success)
	assert.Contains(t, results[0].Error, "rate_limited")

	citations, err := s.CitationsInWindow(ctx, p.ID, time.Now().Add(-time.Minute), time.Now())
	require.NoError(t, err)
	assert.Empty(t, citations)
}

func TestTrackKeywordUnconfiguredProvider(t *testing.T) {
	e, s := newTestEngine(t) // empty registry
	ctx := context.Background()
	p, k := seedProjectKeyword(t, s)

	results, err := e.TrackKeyword(ctx, k, p, []models.Platform{models.PlatformClaude})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.False(t, results[0].Success)
	assert.Equal(t, "provider not configured", results[0].Error)
}

func TestTrackKeywordPartialSuccess(t *testing.T) {
	good := &stubAdapter{name: "gemini", answer: geminiAnswer()}
	bad := &stubAdapter{name: "perplexity", err: cwerrors.NewProviderError(cwerrors.KindUpstream, "perplexity", "query", assert.AnError)}
	e, s := newTestEngine(t, good, bad)
	ctx := context.Background()
	p, k := seedProjectKeyword(t, s)

	results, err := e.TrackKeyword(ctx, k, p, []models.Platform{models.PlatformGemini, models.PlatformPerplexity})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.True(t, results[0].Success)
	assert.False(t, results[1].Success)
}

func TestTrackProjectCumulativeCounts(t *testing.T) {
	adapter := &stubAdapter{name: "gemini", answer: geminiAnswer()}
	e, s := newTestEngine(t, adapter)
	ctx := context.Background()
	p, _ := seedProjectKeyword(t, s)
	require.NoError(t, s.CreateKeyword(ctx, &models.Keyword{
		ProjectID: p.ID, KeywordText: "acme pricing", PriorityLevel: 2, FunnelStage: models.StageDecision, IsActive: true,
	}))
	// Inactive keywords are skipped.
	require.NoError(t, s.CreateKeyword(ctx, &models.Keyword{
		ProjectID: p.ID, KeywordText: "dormant", PriorityLevel: 1, FunnelStage: models.StageAwareness, IsActive: false,
	}))

	summary, err := e.TrackProject(ctx, p.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Attempts)
	assert.Equal(t, 2, summary.Successes)
	assert.Equal(t, 2, summary.NewCitations)
	assert.Zero(t, summary.Failures)
	assert.Equal(t, 2, adapter.queries)
}

func TestQuickTestPersistsNothing(t *testing.T) {
	adapter := &stubAdapter{name: "gemini", answer: geminiAnswer()}
	e, s := newTestEngine(t, adapter)
	ctx := context.Background()
	p, k := seedProjectKeyword(t, s)

	results, err := e.QuickTest(ctx, "best acme tools", "acme.com", nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.True(t, results[0].Success)
	assert.True(t, results[0].DomainMentioned)
	assert.Empty(t, results[0].CitationID)

	citations, err := s.CitationsInWindow(ctx, p.ID, time.Now().Add(-time.Minute), time.Now())
	require.NoError(t, err)
	assert.Empty(t, citations)

	kw, err := s.GetKeyword(ctx, k.ID)
	require.NoError(t, err)
	assert.Nil(t, kw.LastTrackedAt)
}
