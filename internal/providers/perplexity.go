package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/citewatch/citewatch/internal/models"
)

const (
	perplexityAPIURL       = "https://api.perplexity.ai/chat/completions"
	perplexityDefaultModel = "sonar"
)

// PerplexityClient queries Perplexity's chat API. Perplexity is the one
// chat engine with a first-class citation channel: a flat citations
// array parallel to the answer, ranked by array position.
type PerplexityClient struct {
	apiKey  string
	model   string
	baseURL string
	client  *http.Client
	limiter *WindowLimiter
}

// NewPerplexityClient creates a new Perplexity API client.
func NewPerplexityClient(apiKey, model, baseURL string, ratePerMin int) *PerplexityClient {
	if baseURL == "" {
		baseURL = perplexityAPIURL
	}
	if model == "" {
		model = perplexityDefaultModel
	}
	return &PerplexityClient{
		apiKey:  apiKey,
		model:   model,
		baseURL: baseURL,
		client: &http.Client{
			Timeout: 60 * time.Second,
		},
		limiter: NewWindowLimiter(ratePerMin, time.Minute),
	}
}

// Name returns the provider name
func (c *PerplexityClient) Name() string {
	return string(models.PlatformPerplexity)
}

// perplexityRequest is the request body for the Perplexity API
type perplexityRequest struct {
	Model               string              `json:"model"`
	Messages            []perplexityMessage `json:"messages"`
	MaxTokens           int                 `json:"max_tokens,omitempty"`
	Temperature         float64             `json:"temperature,omitempty"`
	SearchRecencyFilter string              `json:"search_recency_filter,omitempty"`
}

type perplexityMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// perplexityResponse is the response from the Perplexity API
type perplexityResponse struct {
	ID            string                     `json:"id"`
	Model         string                     `json:"model"`
	Choices       []perplexityChoice         `json:"choices"`
	Citations     []string                   `json:"citations,omitempty"`
	SearchResults []perplexitySearchResult   `json:"search_results,omitempty"`
}

type perplexityChoice struct {
	Index        int               `json:"index"`
	Message      perplexityMessage `json:"message"`
	FinishReason string            `json:"finish_reason"`
}

type perplexitySearchResult struct {
	Title string `json:"title"`
	URL   string `json:"url"`
	Date  string `json:"date,omitempty"`
}

type perplexityError struct {
	Error perplexityErrorDetail `json:"error"`
}

type perplexityErrorDetail struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    int    `json:"code"`
}

// Query sends one question to Perplexity. Citation ranks follow the
// citations array order; search_results entries contribute titles where
// their URLs line up.
func (c *PerplexityClient) Query(ctx context.Context, query string, opts QueryOptions) (*Answer, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	perplexityReq := perplexityRequest{
		Model: c.model,
		Messages: []perplexityMessage{
			{Role: "user", Content: query},
		},
		MaxTokens:           opts.MaxTokens,
		Temperature:         opts.Temperature,
		SearchRecencyFilter: opts.RecencyFilter,
	}

	body, err := json.Marshal(perplexityReq)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	start := time.Now()
	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, wrapTransport(c.Name(), "query", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, wrapTransport(c.Name(), "query", fmt.Errorf("failed to read response: %w", err))
	}
	elapsed := time.Since(start)

	if resp.StatusCode != http.StatusOK {
		var errResp perplexityError
		errMsg := string(respBody)
		if err := json.Unmarshal(respBody, &errResp); err == nil && errResp.Error.Message != "" {
			errMsg = errResp.Error.Message
		}
		return nil, upstreamError(c.Name(), "query", resp.StatusCode, errMsg)
	}

	var perplexityResp perplexityResponse
	if err := json.Unmarshal(respBody, &perplexityResp); err != nil {
		return nil, malformedError(c.Name(), "query", fmt.Errorf("failed to parse response: %w", err))
	}
	if len(perplexityResp.Choices) == 0 {
		return nil, malformedError(c.Name(), "query", fmt.Errorf("no choices in response"))
	}

	titles := make(map[string]string, len(perplexityResp.SearchResults))
	for _, sr := range perplexityResp.SearchResults {
		if sr.URL != "" && sr.Title != "" {
			titles[sr.URL] = sr.Title
		}
	}

	var citations []RawCitation
	for i, citationURL := range perplexityResp.Citations {
		if citationURL == "" {
			continue
		}
		citations = append(citations, RawCitation{
			URL:   citationURL,
			Title: titles[citationURL],
			Rank:  i + 1,
		})
	}

	return &Answer{
		Provider:       models.PlatformPerplexity,
		Query:          query,
		ResponseText:   perplexityResp.Choices[0].Message.Content,
		Citations:      citations,
		ResponseTimeMs: elapsed.Milliseconds(),
	}, nil
}

// RateLimitStatus reports the local window budget.
func (c *PerplexityClient) RateLimitStatus() RateLimitStatus {
	return c.limiter.Status()
}

// Healthcheck sends a one-token completion; the API has no status endpoint.
func (c *PerplexityClient) Healthcheck(ctx context.Context) error {
	perplexityReq := perplexityRequest{
		Model: c.model,
		Messages: []perplexityMessage{
			{Role: "user", Content: healthcheckPrompt},
		},
		MaxTokens: 1,
	}

	body, err := json.Marshal(perplexityReq)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.baseURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return wrapTransport(c.Name(), "healthcheck", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		var errResp perplexityError
		errMsg := string(respBody)
		if err := json.Unmarshal(respBody, &errResp); err == nil && errResp.Error.Message != "" {
			errMsg = errResp.Error.Message
		}
		return upstreamError(c.Name(), "healthcheck", resp.StatusCode, errMsg)
	}
	io.Copy(io.Discard, resp.Body)
	return nil
}

var _ Adapter = (*PerplexityClient)(nil)
