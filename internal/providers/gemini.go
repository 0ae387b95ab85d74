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
	geminiAPIURL       = "https://generativelanguage.googleapis.com/v1beta"
	geminiDefaultModel = "gemini-2.0-flash"
)

// GeminiClient queries Google's Gemini API with search grounding enabled,
// so answers arrive with groundingMetadata naming the web sources used.
type GeminiClient struct {
	apiKey  string
	model   string
	baseURL string
	client  *http.Client
	limiter *WindowLimiter
}

// NewGeminiClient creates a new Gemini API client.
func NewGeminiClient(apiKey, model, baseURL string, ratePerMin int) *GeminiClient {
	if baseURL == "" {
		baseURL = geminiAPIURL
	}
	if model == "" {
		model = geminiDefaultModel
	}
	return &GeminiClient{
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
func (c *GeminiClient) Name() string {
	return string(models.PlatformGemini)
}

// geminiRequest is the request body for the Gemini API
type geminiRequest struct {
	Contents         []geminiContent         `json:"contents"`
	GenerationConfig *geminiGenerationConfig `json:"generationConfig,omitempty"`
	Tools            []geminiTool            `json:"tools,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text,omitempty"`
}

type geminiGenerationConfig struct {
	MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
	Temperature     float64 `json:"temperature,omitempty"`
}

// geminiTool enables Google Search grounding; the empty object is the
// API's "on" switch.
type geminiTool struct {
	GoogleSearch *geminiGoogleSearch `json:"google_search,omitempty"`
}

type geminiGoogleSearch struct{}

// geminiResponse is the response from the Gemini API
type geminiResponse struct {
	Candidates []geminiCandidate `json:"candidates"`
}

type geminiCandidate struct {
	Content           geminiContent            `json:"content"`
	GroundingMetadata *geminiGroundingMetadata `json:"groundingMetadata,omitempty"`
}

type geminiGroundingMetadata struct {
	GroundingChunks []geminiGroundingChunk `json:"groundingChunks"`
}

type geminiGroundingChunk struct {
	Web *geminiWebSource `json:"web,omitempty"`
}

type geminiWebSource struct {
	URI   string `json:"uri"`
	Title string `json:"title"`
}

type geminiError struct {
	Error geminiErrorDetail `json:"error"`
}

type geminiErrorDetail struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status"`
}

// Query sends one question to Gemini and returns the answer with its
// grounding sources. Inline URLs in the answer text are merged behind
// the structured grounding chunks.
func (c *GeminiClient) Query(ctx context.Context, query string, opts QueryOptions) (*Answer, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	geminiReq := geminiRequest{
		Contents: []geminiContent{
			{Role: "user", Parts: []geminiPart{{Text: query}}},
		},
	}
	if opts.MaxTokens > 0 || opts.Temperature > 0 {
		geminiReq.GenerationConfig = &geminiGenerationConfig{
			MaxOutputTokens: opts.MaxTokens,
			Temperature:     opts.Temperature,
		}
	}
	if !opts.DisableGrounding {
		geminiReq.Tools = []geminiTool{{GoogleSearch: &geminiGoogleSearch{}}}
	}

	body, err := json.Marshal(geminiReq)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	generateContentURL := fmt.Sprintf("%s/models/%s:generateContent?key=%s", c.baseURL, c.model, c.apiKey)
	httpReq, err := http.NewRequestWithContext(ctx, "POST", generateContentURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

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
		var errResp geminiError
		errMsg := string(respBody)
		if err := json.Unmarshal(respBody, &errResp); err == nil && errResp.Error.Message != "" {
			errMsg = errResp.Error.Message
		}
		return nil, upstreamError(c.Name(), "query", resp.StatusCode, errMsg)
	}

	var geminiResp geminiResponse
	if err := json.Unmarshal(respBody, &geminiResp); err != nil {
		return nil, malformedError(c.Name(), "query", fmt.Errorf("failed to parse response: %w", err))
	}
	if len(geminiResp.Candidates) == 0 {
		return nil, malformedError(c.Name(), "query", fmt.Errorf("no candidates in response"))
	}

	candidate := geminiResp.Candidates[0]
	var sb strings.Builder
	for _, part := range candidate.Content.Parts {
		sb.WriteString(part.Text)
	}
	responseText := sb.String()

	var structured []RawCitation
	if candidate.GroundingMetadata != nil {
		for _, chunk := range candidate.GroundingMetadata.GroundingChunks {
			if chunk.Web == nil || chunk.Web.URI == "" {
				continue
			}
			structured = append(structured, RawCitation{
				URL:   chunk.Web.URI,
				Title: chunk.Web.Title,
				Rank:  len(structured) + 1,
			})
		}
	}

	return &Answer{
		Provider:       models.PlatformGemini,
		Query:          query,
		ResponseText:   responseText,
		Citations:      mergeCitations(structured, ExtractTextCitations(responseText)),
		ResponseTimeMs: elapsed.Milliseconds(),
	}, nil
}

// RateLimitStatus reports the local window budget.
func (c *GeminiClient) RateLimitStatus() RateLimitStatus {
	return c.limiter.Status()
}

// Healthcheck lists models, the cheapest authenticated call the API has.
func (c *GeminiClient) Healthcheck(ctx context.Context) error {
	modelsURL := fmt.Sprintf("%s/models?key=%s&pageSize=1", c.baseURL, c.apiKey)
	httpReq, err := http.NewRequestWithContext(ctx, "GET", modelsURL, nil)
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
		var errResp geminiError
		errMsg := string(respBody)
		if err := json.Unmarshal(respBody, &errResp); err == nil && errResp.Error.Message != "" {
			errMsg = errResp.Error.Message
		}
		return upstreamError(c.Name(), "healthcheck", resp.StatusCode, errMsg)
	}
	io.Copy(io.Discard, resp.Body)
	return nil
}

var _ Adapter = (*GeminiClient)(nil)
