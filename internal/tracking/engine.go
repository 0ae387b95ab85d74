// Package tracking coordinates one provider query end to end: adapter
// call, citation classification, sentiment scoring, and the persisted
// Citation record.
package tracking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	cwerrors "github.com/citewatch/citewatch/internal/errors"
	"github.com/citewatch/citewatch/internal/models"
	"github.com/citewatch/citewatch/internal/normalize"
	"github.com/citewatch/citewatch/internal/providers"
	"github.com/citewatch/citewatch/internal/sentiment"
	"github.com/citewatch/citewatch/internal/store"
)

// Engine runs the C1→C2→C3 pipeline for (keyword, project, provider)
// tuples. It never spawns detached goroutines; parallelism across
// keywords belongs to the worker.
type Engine struct {
	store    *store.Store
	registry *providers.Registry
	analyzer *sentiment.Analyzer

	keywordSpacing time.Duration
}

// NewEngine wires a tracking engine.
func NewEngine(s *store.Store, registry *providers.Registry, analyzer *sentiment.Analyzer, keywordSpacing time.Duration) *Engine {
	return &Engine{
		store:          s,
		registry:       registry,
		analyzer:       analyzer,
		keywordSpacing: keywordSpacing,
	}
}

// Registry exposes the adapter registry for status endpoints.
func (e *Engine) Registry() *providers.Registry {
	return e.registry
}

// TrackKeyword queries each requested provider for one keyword,
// sequentially, and persists one Citation per success. An empty
// platform list means every configured adapter. Unconfigured
// providers fail their row without touching anything else, and
// last_tracked_at is stamped once after all providers finish.
func (e *Engine) TrackKeyword(ctx context.Context, keyword *models.Keyword, project *models.Project, platforms []models.Platform) ([]models.TrackResult, error) {
	if len(platforms) == 0 {
		platforms = e.registry.Platforms()
	}
	results := make([]models.TrackResult, 0, len(platforms))
	for _, platform := range platforms {
		result, citation, _ := e.trackOne(ctx, keyword, project, platform)
		if citation != nil {
			if err := e.store.InsertCitation(ctx, citation); err != nil {
				return results, fmt.Errorf("persist citation: %w", err)
			}
			result.CitationID = citation.ID
		}
		results = append(results, result)
	}

	if err := e.store.TouchKeywordTracked(ctx, keyword.ID, time.Now()); err != nil {
		log.Warn().Err(err).Str("keywordId", keyword.ID).Msg("Failed to stamp last_tracked_at")
	}
	return results, nil
}

// TrackOne runs the pipeline for a single platform and persists the
// Citation. It is the worker's per-job entrypoint; the returned citation
// is nil when the attempt failed, and the error keeps its provider
// classification so the caller can derive retry policy.
func (e *Engine) TrackOne(ctx context.Context, keyword *models.Keyword, project *models.Project, platform models.Platform) (models.TrackResult, *models.Citation, error) {
	result, citation, err := e.trackOne(ctx, keyword, project, platform)
	if err != nil {
		return result, nil, err
	}
	if citation != nil {
		if err := e.store.InsertCitation(ctx, citation); err != nil {
			return result, nil, fmt.Errorf("persist citation: %w", err)
		}
		result.CitationID = citation.ID
	}
	if err := e.store.TouchKeywordTracked(ctx, keyword.ID, time.Now()); err != nil {
		log.Warn().Err(err).Str("keywordId", keyword.ID).Msg("Failed to stamp last_tracked_at")
	}
	return result, citation, nil
}

// trackOne performs the adapter call and builds the citation payload
// without persisting anything. The result row always describes the
// outcome; the error carries the typed failure when there is one.
func (e *Engine) trackOne(ctx context.Context, keyword *models.Keyword, project *models.Project, platform models.Platform) (models.TrackResult, *models.Citation, error) {
	result := models.TrackResult{Platform: platform}

	adapter, err := e.registry.Get(platform)
	if err != nil {
		result.Error = "provider not configured"
		return result, nil, err
	}

	answer, err := adapter.Query(ctx, keyword.KeywordText, providers.QueryOptions{})
	if err != nil {
		result.Error = err.Error()
		var provErr *cwerrors.ProviderError
		if errors.As(err, &provErr) && provErr.StatusCode != 0 {
			log.Debug().Str("platform", string(platform)).Int("status", provErr.StatusCode).Msg("Provider query failed")
		}
		return result, nil, err
	}
	result.ResponseTimeMs = answer.ResponseTimeMs

	citation := e.buildCitation(keyword, project, answer)
	result.Success = true
	result.DomainMentioned = citation.DomainMentioned
	result.CitationPosition = citation.CitationPosition
	return result, citation, nil
}

// buildCitation runs C2 and C3 over a provider answer.
func (e *Engine) buildCitation(keyword *models.Keyword, project *models.Project, answer *providers.Answer) *models.Citation {
	classified := normalize.Classify(answer, project.PrimaryDomain)

	competitors := make([]models.CompetitorCitation, 0, len(classified.Competitors))
	for _, c := range classified.Competitors {
		competitors = append(competitors, models.CompetitorCitation{
			Domain:   c.Domain,
			URL:      c.URL,
			Position: c.Position,
			Context:  c.Context,
		})
	}

	return &models.Citation{
		ProjectID:           project.ID,
		KeywordID:           keyword.ID,
		Platform:            answer.Provider,
		TrackedAt:           time.Now(),
		DomainMentioned:     classified.DomainMentioned,
		CitationPosition:    classified.CitationPosition,
		CitationContext:     classified.CitationContext,
		FullResponseText:    answer.ResponseText,
		ResponseSummary:     sentiment.Summarize(answer.ResponseText),
		Sentiment:           e.analyzer.Analyze(answer.ResponseText, project.PrimaryDomain),
		ConfidenceScore:     sentiment.Confidence(len(answer.Citations), answer.ResponseTimeMs, len(answer.ResponseText)),
		WordCount:           sentiment.WordCount(answer.ResponseText),
		CompetitorCitations: competitors,
		TotalSourcesCited:   classified.TotalSourcesCited,
		ResponseTimeMs:      answer.ResponseTimeMs,
	}
}

// ProjectSummary is the cumulative outcome of a synchronous project
// track pass.
type ProjectSummary struct {
	Attempts     int `json:"attempts"`
	Successes    int `json:"successes"`
	Failures     int `json:"failures"`
	NewCitations int `json:"newCitations"`
}

// TrackProject iterates a project's active keywords sequentially,
// spacing keyword starts to smooth upstream load.
func (e *Engine) TrackProject(ctx context.Context, projectID string, platforms []models.Platform) (*ProjectSummary, error) {
	project, err := e.store.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	keywords, err := e.store.ListKeywords(ctx, projectID, true)
	if err != nil {
		return nil, err
	}
	if len(platforms) == 0 {
		platforms = e.registry.Platforms()
	}

	summary := &ProjectSummary{}
	for i := range keywords {
		if i > 0 && e.keywordSpacing > 0 {
			select {
			case <-ctx.Done():
				return summary, ctx.Err()
			case <-time.After(e.keywordSpacing):
			}
		}

		results, err := e.TrackKeyword(ctx, &keywords[i], project, platforms)
		if err != nil {
			return summary, err
		}
		for _, r := range results {
			summary.Attempts++
			if r.Success {
				summary.Successes++
				if r.CitationID != "" {
					summary.NewCitations++
				}
			} else {
				summary.Failures++
			}
		}
	}
	return summary, nil
}

// QuickTest runs the pipeline against a synthetic project without
// persisting citations or touching last_tracked_at. Answers the
// "what would this keyword look like" question before committing to
// tracking it.
func (e *Engine) QuickTest(ctx context.Context, keywordText, domain string, platforms []models.Platform) ([]models.TrackResult, error) {
	if len(platforms) == 0 {
		platforms = e.registry.Platforms()
	}
	project := &models.Project{PrimaryDomain: normalize.NormalizeDomain(domain)}
	keyword := &models.Keyword{KeywordText: keywordText}

	results := make([]models.TrackResult, 0, len(platforms))
	for _, platform := range platforms {
		result, _, _ := e.trackOne(ctx, keyword, project, platform)
		results = append(results, result)
	}
	return results, nil
}

// ResultData serializes a track result for the job's result_data column.
func ResultData(result models.TrackResult) []byte {
	data, err := json.Marshal(result)
	if err != nil {
		return nil
	}
	return data
}
