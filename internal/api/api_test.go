package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/citewatch/citewatch/internal/config"
	"github.com/citewatch/citewatch/internal/models"
	"github.com/citewatch/citewatch/internal/providers"
	"github.com/citewatch/citewatch/internal/queue"
	"github.com/citewatch/citewatch/internal/reporting"
	"github.com/citewatch/citewatch/internal/scheduler"
	"github.com/citewatch/citewatch/internal/scoring"
	"github.com/citewatch/citewatch/internal/sentiment"
	"github.com/citewatch/citewatch/internal/store"
	"github.com/citewatch/citewatch/internal/tracking"
)

type stubAdapter struct {
	name   string
	answer *providers.Answer
	err    error
}

func (a *stubAdapter) Name() string { return a.name }

func (a *stubAdapter) Query(ctx context.Context, query string, opts providers.QueryOptions) (*providers.Answer, error) {
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

type testAPI struct {
	server *httptest.Server
	store  *store.Store
	broker *queue.RedisBroker
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	mr := miniredis.RunT(t)
	broker, err := queue.NewRedisBroker(context.Background(), "redis://"+mr.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { broker.Close() })

	adapter := &stubAdapter{name: "gemini", answer: &providers.Answer{
		ResponseText: "Acme.com is a leading option.",
		Citations: []providers.RawCitation{
			{URL: "https://www.acme.com/guide", Title: "Acme Guide", Rank: 1},
			{URL: "https://other.com/post", Rank: 2},
		},
		ResponseTimeMs: 900,
	}}
	registry := providers.NewRegistryFromAdapters(adapter)
	engine := tracking.NewEngine(s, registry, sentiment.NewAnalyzer(), 0)
	scorer := scoring.NewService(s, nil)
	sched := scheduler.NewScheduler(s, broker, registry.Platforms())
	reports := reporting.NewBuilder(s, scorer)

	cfg := &config.Config{ListenAddr: ":0", AllowedOrigins: "*"}
	router := NewRouter(cfg, s, engine, sched, scorer, reports, nil)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	return &testAPI{server: srv, store: s, broker: broker}
}

func (a *testAPI) do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, a.server.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := a.server.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeInto(t *testing.T, resp *http.Response, dst any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(dst))
}

func createProject(t *testing.T, a *testAPI) models.Project {
	t.Helper()
	resp := a.do(t, http.MethodPost, "/api/projects", map[string]any{
		"name":              "Acme",
		"primaryDomain":     "acme.com",
		"competitorDomains": []string{"rival.com"},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var p models.Project
	decodeInto(t, resp, &p)
	return p
}

func createKeyword(t *testing.T, a *testAPI, projectID, text string) models.Keyword {
	t.Helper()
	resp := a.do(t, http.MethodPost, "/api/projects/"+projectID+"/keywords", map[string]any{
		"keywordText": text,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var k models.Keyword
	decodeInto(t, resp, &k)
	return k
}

func TestProjectLifecycle(t *testing.T) {
	a := newTestAPI(t)
	p := createProject(t, a)
	assert.NotEmpty(t, p.ID)
	assert.True(t, p.IsActive)
	assert.Equal(t, []string{"rival.com"}, p.CompetitorDomains)

	resp := a.do(t, http.MethodGet, "/api/projects/"+p.ID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	newName := "Acme Corp"
	resp = a.do(t, http.MethodPut, "/api/projects/"+p.ID, map[string]any{"name": newName})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var updated models.Project
	decodeInto(t, resp, &updated)
	assert.Equal(t, newName, updated.Name)

	resp = a.do(t, http.MethodDelete, "/api/projects/"+p.ID+"?archive=true", nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = a.do(t, http.MethodGet, "/api/projects/"+p.ID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var archived models.Project
	decodeInto(t, resp, &archived)
	assert.False(t, archived.IsActive)

	resp = a.do(t, http.MethodDelete, "/api/projects/"+p.ID, nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp = a.do(t, http.MethodGet, "/api/projects/"+p.ID, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCreateProjectRejectsBadDomain(t *testing.T) {
	a := newTestAPI(t)
	resp := a.do(t, http.MethodPost, "/api/projects", map[string]any{
		"name":          "Bad",
		"primaryDomain": "Not A Domain",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCompetitorAddRemove(t *testing.T) {
	a := newTestAPI(t)
	p := createProject(t, a)

	resp := a.do(t, http.MethodPost, "/api/projects/"+p.ID+"/competitors", map[string]any{"domain": "another.com"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var updated models.Project
	decodeInto(t, resp, &updated)
	assert.Contains(t, updated.CompetitorDomains, "another.com")

	resp = a.do(t, http.MethodDelete, "/api/projects/"+p.ID+"/competitors", map[string]any{"domain": "rival.com"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decodeInto(t, resp, &updated)
	assert.NotContains(t, updated.CompetitorDomains, "rival.com")
}

func TestKeywordLifecycle(t *testing.T) {
	a := newTestAPI(t)
	p := createProject(t, a)
	k := createKeyword(t, a, p.ID, "best accounting software")
	assert.Equal(t, 3, k.PriorityLevel)
	assert.Equal(t, models.StageAwareness, k.FunnelStage)

	resp := a.do(t, http.MethodPut, "/api/keywords/"+k.ID, map[string]any{"priorityLevel": 5, "funnelStage": "decision"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var updated models.Keyword
	decodeInto(t, resp, &updated)
	assert.Equal(t, 5, updated.PriorityLevel)
	assert.Equal(t, models.StageDecision, updated.FunnelStage)

	resp = a.do(t, http.MethodDelete, "/api/keywords/"+k.ID, nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = a.do(t, http.MethodGet, "/api/projects/"+p.ID+"/keywords", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var keywords []models.Keyword
	decodeInto(t, resp, &keywords)
	assert.Empty(t, keywords)
}

func TestTrackKeywordSync(t *testing.T) {
	a := newTestAPI(t)
	p := createProject(t, a)
	k := createKeyword(t, a, p.ID, "best acme tools")

	resp := a.do(t, http.MethodPost, "/api/keywords/"+k.ID+"/track", map[string]any{})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var results []models.TrackResult
	decodeInto(t, resp, &results)
	require.Len(t, results, 1)
	assert.True(t, results[0].Success)
	assert.True(t, results[0].DomainMentioned)
	assert.NotEmpty(t, results[0].CitationID)
}

func TestTrackProjectAsyncReturnsBatch(t *testing.T) {
	a := newTestAPI(t)
	p := createProject(t, a)
	createKeyword(t, a, p.ID, "best acme tools")
	createKeyword(t, a, p.ID, "acme pricing")

	resp := a.do(t, http.MethodPost, "/api/projects/"+p.ID+"/track", map[string]any{})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	var batch models.TrackingBatch
	decodeInto(t, resp, &batch)
	assert.NotEmpty(t, batch.ID)
	assert.Equal(t, 2, batch.JobsPlanned)

	depth, err := a.broker.Depth(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), depth)
}

func TestTrackProjectKeywordFilter(t *testing.T) {
	a := newTestAPI(t)
	p := createProject(t, a)
	createKeyword(t, a, p.ID, "best acme tools")
	createKeyword(t, a, p.ID, "acme pricing")

	resp := a.do(t, http.MethodPost, "/api/projects/"+p.ID+"/track", map[string]any{"keywordFilter": "best *"})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	var batch models.TrackingBatch
	decodeInto(t, resp, &batch)
	assert.Equal(t, 1, batch.JobsPlanned)
}

func TestTrackingStatus(t *testing.T) {
	a := newTestAPI(t)
	p := createProject(t, a)
	k := createKeyword(t, a, p.ID, "best acme tools")
	createKeyword(t, a, p.ID, "acme pricing")

	resp := a.do(t, http.MethodPost, "/api/keywords/"+k.ID+"/track", map[string]any{})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = a.do(t, http.MethodGet, "/api/projects/"+p.ID+"/tracking-status", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var status models.TrackingStatus
	decodeInto(t, resp, &status)
	assert.Equal(t, 2, status.TotalKeywords)
	assert.Equal(t, 1, status.TrackedKeywords)
	require.NotNil(t, status.LastTrackTime)
}

func TestScheduleJobsEndpoint(t *testing.T) {
	a := newTestAPI(t)
	p := createProject(t, a)
	k := createKeyword(t, a, p.ID, "best acme tools")

	resp := a.do(t, http.MethodPost, "/api/jobs/schedule", map[string]any{
		"projectId":   p.ID,
		"keywordIds":  []string{k.ID},
		"scheduledAt": time.Now().UTC().Format(time.RFC3339),
	})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	var batch models.TrackingBatch
	decodeInto(t, resp, &batch)
	assert.Equal(t, 1, batch.JobsPlanned)
}

func TestQuickTestDoesNotPersist(t *testing.T) {
	a := newTestAPI(t)

	resp := a.do(t, http.MethodPost, "/api/track/test", map[string]any{
		"keyword": "best acme tools",
		"domain":  "acme.com",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var results []models.TrackResult
	decodeInto(t, resp, &results)
	require.Len(t, results, 1)
	assert.True(t, results[0].DomainMentioned)
	assert.Empty(t, results[0].CitationID)
}

func TestDashboardAndRefresh(t *testing.T) {
	a := newTestAPI(t)
	p := createProject(t, a)
	k := createKeyword(t, a, p.ID, "best acme tools")

	resp := a.do(t, http.MethodGet, "/api/projects/"+p.ID+"/dashboard", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var dash dashboardResponse
	decodeInto(t, resp, &dash)
	assert.Nil(t, dash.Score)

	resp = a.do(t, http.MethodPost, "/api/keywords/"+k.ID+"/track", map[string]any{})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = a.do(t, http.MethodPost, "/api/projects/"+p.ID+"/dashboard/refresh", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decodeInto(t, resp, &dash)
	require.NotNil(t, dash.Score)
	assert.Greater(t, dash.Score.OverallScore, 0.0)
	assert.Equal(t, 1, dash.ShareOfVoice.TotalMentions)
}

func TestScoreHistoryAndMetrics(t *testing.T) {
	a := newTestAPI(t)
	p := createProject(t, a)
	k := createKeyword(t, a, p.ID, "best acme tools")

	resp := a.do(t, http.MethodPost, "/api/keywords/"+k.ID+"/track", map[string]any{})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp = a.do(t, http.MethodPost, "/api/projects/"+p.ID+"/dashboard/refresh", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = a.do(t, http.MethodGet, "/api/projects/"+p.ID+"/scores?days=7", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var scores []models.VisibilityScore
	decodeInto(t, resp, &scores)
	require.Len(t, scores, 1)

	resp = a.do(t, http.MethodGet, "/api/projects/"+p.ID+"/metrics", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var metrics []models.DailyMetric
	decodeInto(t, resp, &metrics)
	require.Len(t, metrics, 1)
	assert.Equal(t, 1, metrics[0].Mentions)

	resp = a.do(t, http.MethodGet, "/api/projects/"+p.ID+"/metrics?platform=bing", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestReportEndpointReturnsPDF(t *testing.T) {
	a := newTestAPI(t)
	p := createProject(t, a)

	resp := a.do(t, http.MethodGet, "/api/projects/"+p.ID+"/report", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/pdf", resp.Header.Get("Content-Type"))
	buf := make([]byte, 5)
	_, err := io.ReadFull(resp.Body, buf)
	require.NoError(t, err)
	assert.Equal(t, "%PDF-", string(buf))
}

func TestAlertEndpoints(t *testing.T) {
	a := newTestAPI(t)
	p := createProject(t, a)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, a.store.InsertAlert(ctx, &models.Alert{
			ProjectID:   p.ID,
			AlertType:   models.AlertNewCitation,
			Severity:    models.SeverityInfo,
			Title:       fmt.Sprintf("Alert %d", i),
			Description: "test",
		}))
	}

	resp := a.do(t, http.MethodGet, "/api/alerts?project_id="+p.ID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var alerts []models.Alert
	decodeInto(t, resp, &alerts)
	require.Len(t, alerts, 3)

	resp = a.do(t, http.MethodGet, "/api/alerts/unread-counts?project_id="+p.ID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var counts map[models.AlertSeverity]int
	decodeInto(t, resp, &counts)
	assert.Equal(t, 3, counts[models.SeverityInfo])

	resp = a.do(t, http.MethodPost, "/api/alerts/"+alerts[0].ID+"/read", nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = a.do(t, http.MethodPost, "/api/alerts/read-all?project_id="+p.ID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var marked map[string]int64
	decodeInto(t, resp, &marked)
	assert.Equal(t, int64(2), marked["updated"])

	resp = a.do(t, http.MethodDelete, "/api/alerts/"+alerts[1].ID, nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = a.do(t, http.MethodGet, "/api/alerts?project_id="+p.ID+"&unread=true", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decodeInto(t, resp, &alerts)
	assert.Empty(t, alerts)
}

func TestAlertsRejectUnknownType(t *testing.T) {
	a := newTestAPI(t)
	resp := a.do(t, http.MethodGet, "/api/alerts?type=bogus", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestProvidersEndpoint(t *testing.T) {
	a := newTestAPI(t)
	resp := a.do(t, http.MethodGet, "/api/providers", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var statuses map[models.Platform]providers.RateLimitStatus
	decodeInto(t, resp, &statuses)
	assert.Contains(t, statuses, models.PlatformGemini)
}

func TestHealthEndpoint(t *testing.T) {
	a := newTestAPI(t)
	resp := a.do(t, http.MethodGet, "/api/health", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var health map[string]any
	decodeInto(t, resp, &health)
	assert.Equal(t, "healthy", health["status"])
	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestUnknownPlatformOnTrack(t *testing.T) {
	a := newTestAPI(t)
	p := createProject(t, a)
	createKeyword(t, a, p.ID, "best acme tools")

	resp := a.do(t, http.MethodPost, "/api/projects/"+p.ID+"/track", map[string]any{"platforms": []string{"bing"}})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
