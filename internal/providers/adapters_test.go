package providers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	internalerrors "github.com/citewatch/citewatch/internal/errors"
	"github.com/citewatch/citewatch/internal/models"
)

func TestGeminiQueryGroundingCitations(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, ":generateContent")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"candidates": [{
				"content": {"parts": [{"text": "Acme is a leading provider. See https://inline.example.com/doc"}]},
				"groundingMetadata": {"groundingChunks": [
					{"web": {"uri": "https://acme.com/guide", "title": "Acme Guide"}},
					{"web": {"uri": "https://other.com/x", "title": "Other"}}
				]}
			}]
		}`))
	}))
	defer srv.Close()

	c := NewGeminiClient("test-key", "", srv.URL, 0)
	answer, err := c.Query(context.Background(), "best acme tools", QueryOptions{})
	require.NoError(t, err)

	assert.Equal(t, models.PlatformGemini, answer.Provider)
	assert.Contains(t, answer.ResponseText, "leading provider")
	require.Len(t, answer.Citations, 3)
	// Grounding chunks rank ahead of inline URLs.
	assert.Equal(t, "https://acme.com/guide", answer.Citations[0].URL)
	assert.Equal(t, "Acme Guide", answer.Citations[0].Title)
	assert.Equal(t, 1, answer.Citations[0].Rank)
	assert.Equal(t, "https://inline.example.com/doc", answer.Citations[2].URL)
	assert.Equal(t, 3, answer.Citations[2].Rank)
}

func TestGeminiQueryAuthError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"error": {"code": 403, "message": "API key invalid", "status": "PERMISSION_DENIED"}}`))
	}))
	defer srv.Close()

	c := NewGeminiClient("bad-key", "", srv.URL, 0)
	_, err := c.Query(context.Background(), "anything", QueryOptions{})
	require.Error(t, err)
	assert.Equal(t, internalerrors.KindAuth, internalerrors.KindOf(err))
	assert.False(t, internalerrors.IsRetryableError(err))
}

func TestPerplexityQueryFlatCitations(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer pk-test", r.Header.Get("Authorization"))
		w.Write([]byte(`{
			"id": "x",
			"choices": [{"message": {"role": "assistant", "content": "The answer."}}],
			"citations": ["https://a.com/1", "https://b.com/2"],
			"search_results": [{"title": "Source A", "url": "https://a.com/1"}]
		}`))
	}))
	defer srv.Close()

	c := NewPerplexityClient("pk-test", "", srv.URL, 0)
	answer, err := c.Query(context.Background(), "q", QueryOptions{})
	require.NoError(t, err)

	require.Len(t, answer.Citations, 2)
	assert.Equal(t, 1, answer.Citations[0].Rank)
	assert.Equal(t, "Source A", answer.Citations[0].Title)
	assert.Equal(t, "https://b.com/2", answer.Citations[1].URL)
	assert.Equal(t, "", answer.Citations[1].Title)
	assert.Equal(t, 2, answer.Citations[1].Rank)
}

func TestPerplexityRateLimitedRetriable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error": {"message": "rate limit exceeded", "code": 429}}`))
	}))
	defer srv.Close()

	c := NewPerplexityClient("pk-test", "", srv.URL, 0)
	_, err := c.Query(context.Background(), "q", QueryOptions{})
	require.Error(t, err)
	assert.Equal(t, internalerrors.KindRateLimited, internalerrors.KindOf(err))
	assert.True(t, internalerrors.IsRetryableError(err))
}

func TestChatClientTextExtraction(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		w.Write([]byte(`{
			"id": "x",
			"choices": [{"message": {"role": "assistant",
				"content": "Acme leads. Sources: [Acme](https://acme.com/a) and https://rival.io/b"}}]
		}`))
	}))
	defer srv.Close()

	c := NewChatClient(models.PlatformChatGPT, "sk-test", "", srv.URL, 0)
	answer, err := c.Query(context.Background(), "q", QueryOptions{})
	require.NoError(t, err)

	assert.Equal(t, models.PlatformChatGPT, answer.Provider)
	require.Len(t, answer.Citations, 2)
	assert.Equal(t, "https://acme.com/a", answer.Citations[0].URL)
	assert.Equal(t, "https://rival.io/b", answer.Citations[1].URL)
}

func TestChatClientQuotaError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
		w.Write([]byte(`{"error": {"message": "quota exceeded", "type": "insufficient_quota"}}`))
	}))
	defer srv.Close()

	c := NewChatClient(models.PlatformGrok, "sk-test", "", srv.URL, 0)
	_, err := c.Query(context.Background(), "q", QueryOptions{})
	require.Error(t, err)
	assert.True(t, internalerrors.IsQuotaError(err))
}

func TestAnthropicQueryContentBlocks(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/messages", r.URL.Path)
		assert.Equal(t, "key-test", r.Header.Get("x-api-key"))
		w.Write([]byte(`{
			"id": "msg_1",
			"content": [
				{"type": "text", "text": "Acme is solid. "},
				{"type": "text", "text": "More at https://acme.com/info"}
			]
		}`))
	}))
	defer srv.Close()

	c := NewAnthropicClient("key-test", "", srv.URL, 0)
	answer, err := c.Query(context.Background(), "q", QueryOptions{})
	require.NoError(t, err)

	assert.Equal(t, "Acme is solid. More at https://acme.com/info", answer.ResponseText)
	require.Len(t, answer.Citations, 1)
	assert.Equal(t, "https://acme.com/info", answer.Citations[0].URL)
}

func TestAIOverviewQueryWithBlock(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/search.json", r.URL.Path)
		assert.Equal(t, "google", r.URL.Query().Get("engine"))
		w.Write([]byte(`{
			"ai_overview": {
				"text_blocks": [{"type": "paragraph", "snippet": "Acme is recommended."}],
				"references": [
					{"title": "Acme", "link": "https://acme.com/top", "index": 1},
					{"title": "Rival", "link": "https://rival.io/x", "index": 2}
				]
			}
		}`))
	}))
	defer srv.Close()

	c := NewAIOverviewClient("serp-key", srv.URL, 0)
	answer, err := c.Query(context.Background(), "best acme", QueryOptions{})
	require.NoError(t, err)

	assert.Equal(t, "Acme is recommended.", answer.ResponseText)
	require.Len(t, answer.Citations, 2)
	assert.Equal(t, "https://acme.com/top", answer.Citations[0].URL)
}

func TestAIOverviewQueryAbsentBlockIsNotError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{
			"answer_box": {"snippet": "Plain snippet answer."},
			"organic_results": [{"snippet": "Organic snippet."}]
		}`))
	}))
	defer srv.Close()

	c := NewAIOverviewClient("serp-key", srv.URL, 0)
	answer, err := c.Query(context.Background(), "obscure query", QueryOptions{})
	require.NoError(t, err)

	assert.Equal(t, "Plain snippet answer.", answer.ResponseText)
	assert.Empty(t, answer.Citations)
}

func TestRegistryLookup(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	r := NewRegistryFromAdapters(
		NewPerplexityClient("k", "", srv.URL, 5),
		NewChatClient(models.PlatformChatGPT, "k", "", srv.URL, 5),
	)

	a, err := r.Get(models.PlatformPerplexity)
	require.NoError(t, err)
	assert.Equal(t, "perplexity", a.Name())

	_, err = r.Get(models.PlatformGrok)
	require.ErrorIs(t, err, internalerrors.ErrNotConfigured)

	assert.True(t, r.Has(models.PlatformChatGPT))
	assert.False(t, r.Has(models.PlatformClaude))
	assert.Equal(t, []models.Platform{models.PlatformChatGPT, models.PlatformPerplexity}, r.Platforms())

	statuses := r.Statuses()
	require.Contains(t, statuses, models.PlatformPerplexity)
	assert.Equal(t, 5, statuses[models.PlatformPerplexity].Limit)
}
