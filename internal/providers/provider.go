// Package providers contains the adapters that query generative answering
// engines and translate their wire formats into a common Answer shape.
//
// Every engine hides citations somewhere different: Gemini attaches
// grounding metadata, Google AI Overview returns SERP reference blocks,
// Perplexity sends a flat citation array, and the chat-style engines bury
// URLs in prose. Adapters absorb those differences so the rest of the
// system only ever sees ranked RawCitation lists.
package providers

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	internalerrors "github.com/citewatch/citewatch/internal/errors"
	"github.com/citewatch/citewatch/internal/models"
)

// Locale narrows a query to a language/country market where the engine
// supports it. Engines without locale support ignore it.
type Locale struct {
	Language string `json:"language"` // BCP-47 primary tag, e.g. "en"
	Country  string `json:"country"`  // ISO 3166-1 alpha-2, e.g. "US"
}

// QueryOptions tunes a single adapter call. Zero values mean
// provider defaults.
type QueryOptions struct {
	Temperature      float64       `json:"temperature,omitempty"`
	MaxTokens        int           `json:"maxTokens,omitempty"`
	Timeout          time.Duration `json:"-"`
	Locale           Locale        `json:"locale,omitempty"`
	RecencyFilter    string        `json:"recencyFilter,omitempty"` // day, week, month
	DisableGrounding bool          `json:"disableGrounding,omitempty"`
}

// RawCitation is one source an engine surfaced for an answer, before
// normalization. Rank is 1-based in the order the engine presented it.
type RawCitation struct {
	URL     string `json:"url"`
	Title   string `json:"title,omitempty"`
	Snippet string `json:"snippet,omitempty"`
	Rank    int    `json:"rank"`
}

// Answer is the provider-neutral result of a single engine query.
type Answer struct {
	Provider       models.Platform `json:"provider"`
	Query          string          `json:"query"`
	ResponseText   string          `json:"responseText"`
	Citations      []RawCitation   `json:"citations"`
	ResponseTimeMs int64           `json:"responseTimeMs"`
}

// RateLimitStatus is a point-in-time view of an adapter's local
// sliding-window budget.
type RateLimitStatus struct {
	Limit   int       `json:"limit"` // calls per window, 0 means unlimited
	Used    int       `json:"used"`
	ResetAt time.Time `json:"resetAt"` // when the oldest in-window call ages out
}

// Adapter is the contract every answering-engine client implements.
//
// Query blocks on the adapter's rate limiter before dispatching, honors
// ctx cancellation while waiting, and never retries internally. Failures
// come back as *errors.ProviderError so callers can decide on retry.
type Adapter interface {
	// Name returns the platform identifier, e.g. "perplexity".
	Name() string

	// Query sends one question to the engine and returns the parsed answer.
	Query(ctx context.Context, query string, opts QueryOptions) (*Answer, error)

	// RateLimitStatus reports the local window budget without blocking.
	RateLimitStatus() RateLimitStatus

	// Healthcheck verifies credentials and reachability with the cheapest
	// call the engine offers.
	Healthcheck(ctx context.Context) error
}

// healthcheckPrompt is the minimal prompt used by chat-style engines
// whose APIs have no dedicated status endpoint.
const healthcheckPrompt = "ping"

// wrapTransport classifies a client.Do failure: deadline overruns become
// timeout errors, everything else stays transport.
func wrapTransport(provider, op string, err error) error {
	if isTimeout(err) {
		return internalerrors.WrapTimeout(provider, op, err)
	}
	return internalerrors.WrapTransport(provider, op, err)
}

func upstreamError(provider, op string, statusCode int, message string) error {
	return internalerrors.WrapUpstream(provider, op, fmt.Errorf("API error (%d): %s", statusCode, message), statusCode)
}

func malformedError(provider, op string, err error) error {
	return internalerrors.NewProviderError(internalerrors.KindMalformed, provider, op, err)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
