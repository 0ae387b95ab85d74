package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestWrapUpstreamClassification(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		wantKind  Kind
		retriable bool
	}{
		{"unauthorized", 401, KindAuth, false},
		{"forbidden", 403, KindAuth, false},
		{"rate limited", 429, KindRateLimited, true},
		{"payment required", 402, KindQuota, false},
		{"over token ceiling", 413, KindQuota, false},
		{"gateway timeout", 504, KindTimeout, true},
		{"server error", 500, KindUpstream, false},
		{"bad request", 400, KindUpstream, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := WrapUpstream("gemini", "query", fmt.Errorf("status %d", tt.status), tt.status)
			var provErr *ProviderError
			if !errors.As(err, &provErr) {
				t.Fatalf("expected *ProviderError, got %T", err)
			}
			if provErr.Kind != tt.wantKind {
				t.Errorf("kind = %s, want %s", provErr.Kind, tt.wantKind)
			}
			if provErr.Retriable != tt.retriable {
				t.Errorf("retriable = %v, want %v", provErr.Retriable, tt.retriable)
			}
			if provErr.StatusCode != tt.status {
				t.Errorf("status = %d, want %d", provErr.StatusCode, tt.status)
			}
		})
	}
}

func TestIsRetryableError(t *testing.T) {
	if !IsRetryableError(WrapTransport("chatgpt", "query", errors.New("connection reset"))) {
		t.Error("transport errors should be retryable")
	}
	if !IsRetryableError(WrapTimeout("chatgpt", "query", errors.New("deadline exceeded"))) {
		t.Error("timeout errors should be retryable")
	}
	if IsRetryableError(NewProviderError(KindAuth, "chatgpt", "query", errors.New("bad key"))) {
		t.Error("auth errors should not be retryable")
	}
	if IsRetryableError(errors.New("plain")) {
		t.Error("unclassified errors should not be retryable")
	}
	if !IsRetryableError(fmt.Errorf("wrapped: %w", ErrTimeout)) {
		t.Error("wrapped timeout sentinel should be retryable")
	}
}

func TestIsQuotaError(t *testing.T) {
	quota := NewProviderError(KindQuota, "perplexity", "query", errors.New("monthly cap"))
	if !IsQuotaError(fmt.Errorf("job: %w", quota)) {
		t.Error("quota kind should be detected through wrapping")
	}
	if IsQuotaError(WrapTransport("perplexity", "query", errors.New("refused"))) {
		t.Error("transport errors are not quota errors")
	}
}

func TestProviderErrorIs(t *testing.T) {
	err := NewProviderError(KindTimeout, "claude", "query", errors.New("ctx deadline"))
	if !errors.Is(err, ErrTimeout) {
		t.Error("timeout kind should match ErrTimeout sentinel")
	}
	if errors.Is(err, ErrConnectionFailed) {
		t.Error("timeout kind should not match ErrConnectionFailed")
	}
}
