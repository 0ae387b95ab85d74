package providers

import (
	"sort"

	"github.com/rs/zerolog/log"

	"github.com/citewatch/citewatch/internal/config"
	internalerrors "github.com/citewatch/citewatch/internal/errors"
	"github.com/citewatch/citewatch/internal/models"
)

// Registry is the immutable set of adapters enabled for this process.
// It is built once at startup from configuration; a platform is present
// iff its API key was configured. There is exactly one adapter (and thus
// one rate-limit window) per platform per process.
type Registry struct {
	adapters map[models.Platform]Adapter
}

// NewRegistry builds adapters for every configured provider.
func NewRegistry(cfg *config.Config) *Registry {
	r := &Registry{adapters: make(map[models.Platform]Adapter, len(cfg.Providers))}
	for platform, pc := range cfg.Providers {
		adapter := buildAdapter(platform, pc)
		if adapter == nil {
			log.Warn().Str("platform", string(platform)).Msg("No adapter implementation for platform, skipping")
			continue
		}
		r.adapters[platform] = adapter
		log.Info().
			Str("platform", string(platform)).
			Int("ratePerMin", pc.RatePerMin).
			Msg("Registered provider adapter")
	}
	return r
}

// NewRegistryFromAdapters builds a registry from pre-built adapters.
// Intended for tests and the quick-test path.
func NewRegistryFromAdapters(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[models.Platform]Adapter, len(adapters))}
	for _, a := range adapters {
		r.adapters[models.Platform(a.Name())] = a
	}
	return r
}

func buildAdapter(platform models.Platform, pc config.ProviderConfig) Adapter {
	switch platform {
	case models.PlatformGemini:
		return NewGeminiClient(pc.APIKey, pc.Model, pc.BaseURL, pc.RatePerMin)
	case models.PlatformGoogleAIOverview:
		return NewAIOverviewClient(pc.APIKey, pc.BaseURL, pc.RatePerMin)
	case models.PlatformPerplexity:
		return NewPerplexityClient(pc.APIKey, pc.Model, pc.BaseURL, pc.RatePerMin)
	case models.PlatformClaude:
		return NewAnthropicClient(pc.APIKey, pc.Model, pc.BaseURL, pc.RatePerMin)
	case models.PlatformChatGPT, models.PlatformGrok, models.PlatformDeepSeek, models.PlatformCopilot:
		return NewChatClient(platform, pc.APIKey, pc.Model, pc.BaseURL, pc.RatePerMin)
	default:
		return nil
	}
}

// Get returns the adapter for a platform, or ErrNotConfigured when the
// platform has no registered adapter in this process.
func (r *Registry) Get(platform models.Platform) (Adapter, error) {
	adapter, ok := r.adapters[platform]
	if !ok {
		return nil, internalerrors.ErrNotConfigured
	}
	return adapter, nil
}

// Has reports whether a platform has a registered adapter.
func (r *Registry) Has(platform models.Platform) bool {
	_, ok := r.adapters[platform]
	return ok
}

// Platforms returns the registered platform names in stable order.
func (r *Registry) Platforms() []models.Platform {
	platforms := make([]models.Platform, 0, len(r.adapters))
	for p := range r.adapters {
		platforms = append(platforms, p)
	}
	sort.Slice(platforms, func(i, j int) bool { return platforms[i] < platforms[j] })
	return platforms
}

// Statuses returns the rate-limit budget of every registered adapter,
// keyed by platform. Used by the providers endpoint.
func (r *Registry) Statuses() map[models.Platform]RateLimitStatus {
	statuses := make(map[models.Platform]RateLimitStatus, len(r.adapters))
	for p, a := range r.adapters {
		statuses[p] = a.RateLimitStatus()
	}
	return statuses
}
