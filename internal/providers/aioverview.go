package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/citewatch/citewatch/internal/models"
)

const aiOverviewAPIURL = "https://serpapi.com"

// AIOverviewClient fetches Google AI Overview answers through a SERP
// API. Unlike the chat engines there is no completion call; the answer
// is scraped from the search results page, so an absent overview block
// is a normal outcome, not a failure.
type AIOverviewClient struct {
	apiKey  string
	baseURL string
	client  *http.Client
	limiter *WindowLimiter
}

// NewAIOverviewClient creates a new SERP API client for AI Overview.
func NewAIOverviewClient(apiKey, baseURL string, ratePerMin int) *AIOverviewClient {
	if baseURL == "" {
		baseURL = aiOverviewAPIURL
	}
	return &AIOverviewClient{
		apiKey:  apiKey,
		baseURL: baseURL,
		client: &http.Client{
			Timeout: 60 * time.Second,
		},
		limiter: NewWindowLimiter(ratePerMin, time.Minute),
	}
}

// Name returns the provider name
func (c *AIOverviewClient) Name() string {
	return string(models.PlatformGoogleAIOverview)
}

// aiOverviewSearchResponse is the SERP API search payload, reduced to
// the fields the adapter reads.
type aiOverviewSearchResponse struct {
	Error          string                    `json:"error,omitempty"`
	AIOverview     *aiOverviewBlock          `json:"ai_overview,omitempty"`
	AnswerBox      *aiOverviewAnswerBox      `json:"answer_box,omitempty"`
	OrganicResults []aiOverviewOrganicResult `json:"organic_results,omitempty"`
}

type aiOverviewBlock struct {
	TextBlocks []aiOverviewTextBlock `json:"text_blocks"`
	References []aiOverviewReference `json:"references"`
	Error      string                `json:"error,omitempty"`
}

type aiOverviewTextBlock struct {
	Type    string               `json:"type"`
	Snippet string               `json:"snippet,omitempty"`
	List    []aiOverviewListItem `json:"list,omitempty"`
}

type aiOverviewListItem struct {
	Title   string `json:"title,omitempty"`
	Snippet string `json:"snippet,omitempty"`
}

type aiOverviewReference struct {
	Title   string `json:"title"`
	Link    string `json:"link"`
	Snippet string `json:"snippet,omitempty"`
	Source  string `json:"source,omitempty"`
	Index   int    `json:"index"`
}

type aiOverviewAnswerBox struct {
	Answer  string `json:"answer,omitempty"`
	Snippet string `json:"snippet,omitempty"`
}

type aiOverviewOrganicResult struct {
	Snippet string `json:"snippet,omitempty"`
}

// Query runs a Google search and extracts the AI Overview block. When
// Google showed no overview for this query, the answer carries the plain
// search snippet and an empty citation list.
func (c *AIOverviewClient) Query(ctx context.Context, query string, opts QueryOptions) (*Answer, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	params := url.Values{}
	params.Set("engine", "google")
	params.Set("q", query)
	params.Set("api_key", c.apiKey)
	if opts.Locale.Language != "" {
		params.Set("hl", strings.ToLower(opts.Locale.Language))
	}
	if opts.Locale.Country != "" {
		params.Set("gl", strings.ToLower(opts.Locale.Country))
	}
	if tbs := recencyToTBS(opts.RecencyFilter); tbs != "" {
		params.Set("tbs", tbs)
	}

	searchURL := fmt.Sprintf("%s/search.json?%s", c.baseURL, params.Encode())
	httpReq, err := http.NewRequestWithContext(ctx, "GET", searchURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

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
		var errResp aiOverviewSearchResponse
		errMsg := string(respBody)
		if err := json.Unmarshal(respBody, &errResp); err == nil && errResp.Error != "" {
			errMsg = errResp.Error
		}
		return nil, upstreamError(c.Name(), "query", resp.StatusCode, errMsg)
	}

	var searchResp aiOverviewSearchResponse
	if err := json.Unmarshal(respBody, &searchResp); err != nil {
		return nil, malformedError(c.Name(), "query", fmt.Errorf("failed to parse response: %w", err))
	}

	answer := &Answer{
		Provider:       models.PlatformGoogleAIOverview,
		Query:          query,
		ResponseTimeMs: elapsed.Milliseconds(),
	}

	overview := searchResp.AIOverview
	if overview == nil || overview.Error != "" || len(overview.TextBlocks) == 0 {
		// No overview shown for this query. Keep the plain snippet so the
		// record still documents what the searcher saw.
		answer.ResponseText = plainSnippet(&searchResp)
		return answer, nil
	}

	var sb strings.Builder
	for _, block := range overview.TextBlocks {
		if block.Snippet != "" {
			if sb.Len() > 0 {
				sb.WriteString("\n")
			}
			sb.WriteString(block.Snippet)
		}
		for _, item := range block.List {
			line := item.Snippet
			if item.Title != "" && line != "" {
				line = item.Title + ": " + line
			} else if item.Title != "" {
				line = item.Title
			}
			if line == "" {
				continue
			}
			if sb.Len() > 0 {
				sb.WriteString("\n")
			}
			sb.WriteString("- " + line)
		}
	}
	answer.ResponseText = sb.String()

	for _, ref := range overview.References {
		if ref.Link == "" {
			continue
		}
		answer.Citations = append(answer.Citations, RawCitation{
			URL:     ref.Link,
			Title:   ref.Title,
			Snippet: ref.Snippet,
			Rank:    len(answer.Citations) + 1,
		})
	}

	return answer, nil
}

// RateLimitStatus reports the local window budget.
func (c *AIOverviewClient) RateLimitStatus() RateLimitStatus {
	return c.limiter.Status()
}

// Healthcheck hits the account endpoint, which validates the key without
// spending a search.
func (c *AIOverviewClient) Healthcheck(ctx context.Context) error {
	accountURL := fmt.Sprintf("%s/account?api_key=%s", c.baseURL, url.QueryEscape(c.apiKey))
	httpReq, err := http.NewRequestWithContext(ctx, "GET", accountURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return wrapTransport(c.Name(), "healthcheck", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		var errResp aiOverviewSearchResponse
		errMsg := string(respBody)
		if err := json.Unmarshal(respBody, &errResp); err == nil && errResp.Error != "" {
			errMsg = errResp.Error
		}
		return upstreamError(c.Name(), "healthcheck", resp.StatusCode, errMsg)
	}
	io.Copy(io.Discard, resp.Body)
	return nil
}

// plainSnippet picks the most answer-like text on the page when no AI
// Overview rendered.
func plainSnippet(resp *aiOverviewSearchResponse) string {
	if resp.AnswerBox != nil {
		if resp.AnswerBox.Answer != "" {
			return resp.AnswerBox.Answer
		}
		if resp.AnswerBox.Snippet != "" {
			return resp.AnswerBox.Snippet
		}
	}
	if len(resp.OrganicResults) > 0 {
		return resp.OrganicResults[0].Snippet
	}
	return ""
}

// recencyToTBS maps the recency filter onto Google's tbs parameter.
func recencyToTBS(filter string) string {
	switch filter {
	case "day":
		return "qdr:d"
	case "week":
		return "qdr:w"
	case "month":
		return "qdr:m"
	default:
		return ""
	}
}

var _ Adapter = (*AIOverviewClient)(nil)
