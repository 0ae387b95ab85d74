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

// chatEndpoint describes one OpenAI-compatible engine. ChatGPT, Grok,
// DeepSeek and Copilot all speak the same chat-completions dialect with
// different hosts and models; none returns structured citations, so
// sources come from the text extractor.
type chatEndpoint struct {
	baseURL string
	model   string
}

var chatEndpoints = map[models.Platform]chatEndpoint{
	models.PlatformChatGPT:  {baseURL: "https://api.openai.com/v1", model: "gpt-4o-mini"},
	models.PlatformGrok:     {baseURL: "https://api.x.ai/v1", model: "grok-2-latest"},
	models.PlatformDeepSeek: {baseURL: "https://api.deepseek.com/v1", model: "deepseek-chat"},
	models.PlatformCopilot:  {baseURL: "https://api.githubcopilot.com/v1", model: "gpt-4o"},
}

// ChatClient queries any OpenAI-compatible chat-completions engine.
type ChatClient struct {
	platform models.Platform
	apiKey   string
	model    string
	baseURL  string
	client   *http.Client
	limiter  *WindowLimiter
}

// NewChatClient creates a chat-completions client for the given platform.
// Empty model and baseURL take the platform's registered defaults.
func NewChatClient(platform models.Platform, apiKey, model, baseURL string, ratePerMin int) *ChatClient {
	ep := chatEndpoints[platform]
	if baseURL == "" {
		baseURL = ep.baseURL
	}
	if model == "" {
		model = ep.model
	}
	return &ChatClient{
		platform: platform,
		apiKey:   apiKey,
		model:    model,
		baseURL:  baseURL,
		client: &http.Client{
			Timeout: 120 * time.Second,
		},
		limiter: NewWindowLimiter(ratePerMin, time.Minute),
	}
}

// Name returns the provider name
func (c *ChatClient) Name() string {
	return string(c.platform)
}

// chatRequest is the request body for chat-completions APIs
type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// chatResponse is the response from chat-completions APIs
type chatResponse struct {
	ID      string       `json:"id"`
	Model   string       `json:"model"`
	Choices []chatChoice `json:"choices"`
}

type chatChoice struct {
	Index        int         `json:"index"`
	Message      chatMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

type chatError struct {
	Error chatErrorDetail `json:"error"`
}

type chatErrorDetail struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code"`
}

// citePrompt asks the engine to name its sources inline, since these
// APIs carry no structured citation channel.
const citePrompt = "Answer the question and cite your web sources as markdown links or plain URLs."

// Query sends one question through the chat-completions endpoint. Cited
// URLs are scanned out of the answer prose.
func (c *ChatClient) Query(ctx context.Context, query string, opts QueryOptions) (*Answer, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	chatReq := chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: citePrompt},
			{Role: "user", Content: query},
		},
		MaxTokens:   opts.MaxTokens,
		Temperature: opts.Temperature,
	}

	body, err := json.Marshal(chatReq)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/chat/completions", bytes.NewReader(body))
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
		var errResp chatError
		errMsg := string(respBody)
		if err := json.Unmarshal(respBody, &errResp); err == nil && errResp.Error.Message != "" {
			errMsg = errResp.Error.Message
		}
		return nil, upstreamError(c.Name(), "query", resp.StatusCode, errMsg)
	}

	var chatResp chatResponse
	if err := json.Unmarshal(respBody, &chatResp); err != nil {
		return nil, malformedError(c.Name(), "query", fmt.Errorf("failed to parse response: %w", err))
	}
	if len(chatResp.Choices) == 0 {
		return nil, malformedError(c.Name(), "query", fmt.Errorf("no choices in response"))
	}

	responseText := chatResp.Choices[0].Message.Content

	return &Answer{
		Provider:       c.platform,
		Query:          query,
		ResponseText:   responseText,
		Citations:      ExtractTextCitations(responseText),
		ResponseTimeMs: elapsed.Milliseconds(),
	}, nil
}

// RateLimitStatus reports the local window budget.
func (c *ChatClient) RateLimitStatus() RateLimitStatus {
	return c.limiter.Status()
}

// Healthcheck sends a one-token prompt; these APIs have no cheaper
// authenticated call.
func (c *ChatClient) Healthcheck(ctx context.Context) error {
	chatReq := chatRequest{
		Model:     c.model,
		Messages:  []chatMessage{{Role: "user", Content: healthcheckPrompt}},
		MaxTokens: 1,
	}
	body, err := json.Marshal(chatReq)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/chat/completions", bytes.NewReader(body))
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
		var errResp chatError
		errMsg := string(respBody)
		if err := json.Unmarshal(respBody, &errResp); err == nil && errResp.Error.Message != "" {
			errMsg = errResp.Error.Message
		}
		return upstreamError(c.Name(), "healthcheck", resp.StatusCode, errMsg)
	}
	io.Copy(io.Discard, resp.Body)
	return nil
}

var _ Adapter = (*ChatClient)(nil)
