package events

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/citewatch/citewatch/internal/models"
)

func startHub(t *testing.T) (*Hub, *httptest.Server) {
	t.Helper()
	hub := NewHub([]string{"*"})
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWebSocket))
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return hub, srv
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestHubBroadcastAlert(t *testing.T) {
	hub, srv := startHub(t)
	conn := dial(t, srv)

	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	hub.BroadcastAlert(models.Alert{
		ID:        "alert-1",
		ProjectID: "proj-1",
		AlertType: models.AlertNewCitation,
		Severity:  models.SeverityInfo,
		Title:     "New citation on gemini",
	})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, payload, err := conn.ReadMessage()
	require.NoError(t, err)

	var event Event
	require.NoError(t, json.Unmarshal(payload, &event))
	assert.Equal(t, EventAlertCreated, event.Type)

	data, ok := event.Data.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "alert-1", data["id"])
	assert.Equal(t, "new_citation", data["alertType"])
}

func TestHubBroadcastReachesAllClients(t *testing.T) {
	hub, srv := startHub(t)
	first := dial(t, srv)
	second := dial(t, srv)

	require.Eventually(t, func() bool { return hub.ClientCount() == 2 }, 2*time.Second, 10*time.Millisecond)

	hub.BroadcastScore(models.VisibilityScore{ID: "score-1", ProjectID: "proj-1", OverallScore: 72.5, Grade: "B"})

	for _, conn := range []*websocket.Conn{first, second} {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, payload, err := conn.ReadMessage()
		require.NoError(t, err)
		var event Event
		require.NoError(t, json.Unmarshal(payload, &event))
		assert.Equal(t, EventScoreUpdated, event.Type)
	}
}

func TestOriginChecker(t *testing.T) {
	check := originChecker([]string{"https://dash.example.com"})

	req := func(origin, host string) *http.Request {
		r := httptest.NewRequest(http.MethodGet, "/ws", nil)
		r.Host = host
		if origin != "" {
			r.Header.Set("Origin", origin)
		}
		return r
	}

	assert.True(t, check(req("", "app.local")), "no origin header")
	assert.True(t, check(req("http://app.local", "app.local")), "same host")
	assert.True(t, check(req("https://dash.example.com", "app.local")), "allow-listed")
	assert.False(t, check(req("https://evil.example.com", "app.local")), "unknown origin")

	wildcard := originChecker([]string{"*"})
	assert.True(t, wildcard(req("https://anything.example.com", "app.local")))
}
