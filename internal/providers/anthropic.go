package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/citewatch/citewatch/internal/models"
)

const (
	anthropicAPIURL       = "https://api.anthropic.com/v1"
	anthropicVersion      = "2023-06-01"
	anthropicDefaultModel = "claude-3-5-haiku-latest"
)

// AnthropicClient queries the Anthropic Messages API for the claude
// platform. The API returns no structured citation channel, so sources
// come from the text extractor.
type AnthropicClient struct {
	apiKey  string
	model   string
	baseURL string
	client  *http.Client
	limiter *WindowLimiter
}

// NewAnthropicClient creates a new Anthropic API client.
func NewAnthropicClient(apiKey, model, baseURL string, ratePerMin int) *AnthropicClient {
	if baseURL == "" {
		baseURL = anthropicAPIURL
	}
	if model == "" {
		model = anthropicDefaultModel
	}
	return &AnthropicClient{
		apiKey:  apiKey,
		model:   model,
		baseURL: baseURL,
		client: &http.Client{
			Timeout: 120 * time.Second,
		},
		limiter: NewWindowLimiter(ratePerMin, time.Minute),
	}
}

// Name returns the provider name
func (c *AnthropicClient) Name() string {
	return string(models.PlatformClaude)
}

// anthropicRequest is the request body for the Messages API
type anthropicRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature float64            `json:"temperature,omitempty"`
	System      string             `json:"system,omitempty"`
	Messages    []anthropicMessage `json:"messages"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// anthropicResponse is the response from the Messages API
type anthropicResponse struct {
	ID      string                  `json:"id"`
	Model   string                  `json:"model"`
	Content []anthropicContentBlock `json:"content"`
}

type anthropicContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type anthropicError struct {
	Error anthropicErrorDetail `json:"error"`
}

type anthropicErrorDetail struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

const anthropicDefaultMaxTokens = 1024

// Query sends one question through the Messages API, concatenating text
// content blocks into the answer.
func (c *AnthropicClient) Query(ctx context.Context, query string, opts QueryOptions) (*Answer, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = anthropicDefaultMaxTokens
	}
	anthropicReq := anthropicRequest{
		Model:       c.model,
		MaxTokens:   maxTokens,
		Temperature: opts.Temperature,
		System:      citePrompt,
		Messages: []anthropicMessage{
			{Role: "user", Content: query},
		},
	}

	body, err := json.Marshal(anthropicReq)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/messages", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicVersion)

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
		var errResp anthropicError
		errMsg := string(respBody)
		if err := json.Unmarshal(respBody, &errResp); err == nil && errResp.Error.Message != "" {
			errMsg = errResp.Error.Message
		}
		return nil, upstreamError(c.Name(), "query", resp.StatusCode, errMsg)
	}

	var anthropicResp anthropicResponse
	if err := json.Unmarshal(respBody, &anthropicResp); err != nil {
		return nil, malformedError(c.Name(), "query", fmt.Errorf("failed to parse response: %w", err))
	}
	if len(anthropicResp.Content) == 0 {
		return nil, malformedError(c.Name(), "query", fmt.Errorf("no content blocks in response"))
	}

	var sb strings.Builder
	for _, block := range anthropicResp.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	responseText := sb.String()

	return &Answer{
		Provider:       models.PlatformClaude,
		Query:          query,
		ResponseText:   responseText,
		Citations:      ExtractTextCitations(responseText),
		ResponseTimeMs: elapsed.Milliseconds(),
	}, nil
}

// RateLimitStatus reports the local window budget.
func (c *AnthropicClient) RateLimitStatus() RateLimitStatus {
	return c.limiter.Status()
}

// Healthcheck sends a one-token message.
func (c *AnthropicClient) Healthcheck(ctx context.Context) error {
	anthropicReq := anthropicRequest{
		Model:     c.model,
		MaxTokens: 1,
		Messages: []anthropicMessage{
			{Role: "user", Content: healthcheckPrompt},
		},
	}
	body, err := json.Marshal(anthropicReq)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/messages", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicVersion)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return wrapTransport(c.Name(), "healthcheck", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		var errResp anthropicError
		errMsg := string(respBody)
		if err := json.Unmarshal(respBody, &errResp); err == nil && errResp.Error.Message != "" {
			errMsg = errResp.Error.Message
		}
		return upstreamError(c.Name(), "healthcheck", resp.StatusCode, errMsg)
	}
	io.Copy(io.Discard, resp.Body)
	return nil
}

var _ Adapter = (*AnthropicClient)(nil)
