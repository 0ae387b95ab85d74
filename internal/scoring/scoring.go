// Package scoring turns the citation record into visibility scores,
// share-of-voice splits, keyword trends and daily aggregates. Every
// scoring run reads from one store snapshot so concurrent tracking
// writes cannot skew a single computation.
package scoring

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/samber/lo"

	cwerrors "github.com/citewatch/citewatch/internal/errors"
	"github.com/citewatch/citewatch/internal/models"
	"github.com/citewatch/citewatch/internal/store"
)

// scoreWindowDays is the trailing window every visibility score and
// share-of-voice split is computed over.
const scoreWindowDays = 30

// Component weights. They sum to 1.
const (
	weightFrequency = 0.40
	weightPosition  = 0.30
	weightDiversity = 0.15
	weightContext   = 0.10
	weightMomentum  = 0.05
)

// AlertSink receives the batch alerts the scoring pass produces.
// *alerting.Engine satisfies it.
type AlertSink interface {
	Emit(ctx context.Context, alert models.Alert)
}

// Service computes scores and aggregates over the store.
type Service struct {
	store  *store.Store
	alerts AlertSink
}

// NewService wires a scoring service. alerts may be nil when batch
// alert checks are not wanted (quick-test paths).
func NewService(s *store.Store, alerts AlertSink) *Service {
	return &Service{store: s, alerts: alerts}
}

// ComputeVisibilityScore scores a project over the 30-day window ending
// at asOf and appends the result to the score series.
func (s *Service) ComputeVisibilityScore(ctx context.Context, projectID string, asOf time.Time) (*models.VisibilityScore, error) {
	sn, err := s.store.BeginSnapshot(ctx)
	if err != nil {
		return nil, err
	}

	score, err := s.scoreFromSnapshot(ctx, sn, projectID, asOf)
	// The pool is pinned to one connection, so the snapshot must be
	// released before the insert below can run.
	sn.Close()
	if err != nil {
		return nil, err
	}

	if err := s.store.InsertScore(ctx, score); err != nil {
		return nil, err
	}
	log.Info().
		Str("projectId", projectID).
		Float64("overall", score.OverallScore).
		Str("grade", score.Grade).
		Msg("Visibility score computed")
	return score, nil
}

func (s *Service) scoreFromSnapshot(ctx context.Context, sn *store.Snapshot, projectID string, asOf time.Time) (*models.VisibilityScore, error) {
	citations, err := sn.CitationsInWindow(ctx, projectID, asOf.AddDate(0, 0, -scoreWindowDays), asOf)
	if err != nil {
		return nil, err
	}
	keywords, err := sn.ActiveKeywordCount(ctx, projectID)
	if err != nil {
		return nil, err
	}

	self := lo.Filter(citations, func(c models.Citation, _ int) bool { return c.DomainMentioned })

	frequency := math.Min(100, float64(len(self))/math.Max(float64(keywords), 1)*20)

	position := 0.0
	if len(self) > 0 {
		if avg, ok := averagePosition(self); ok {
			position = math.Max(0, 100-(avg-1)*11)
		}
	}

	platforms := lo.Uniq(lo.Map(self, func(c models.Citation, _ int) models.Platform { return c.Platform }))
	diversity := float64(len(platforms)) / float64(len(models.AllPlatforms())) * 100

	positive := lo.CountBy(citations, func(c models.Citation) bool { return c.Sentiment == models.SentimentPositive })
	negative := lo.CountBy(citations, func(c models.Citation) bool { return c.Sentiment == models.SentimentNegative })
	contextScore := 50.0
	if positive+negative > 0 {
		contextScore = float64(positive) / float64(positive+negative) * 100
	}

	momentum := momentumScore(self, asOf)

	overall := frequency*weightFrequency + position*weightPosition +
		diversity*weightDiversity + contextScore*weightContext + momentum*weightMomentum

	score := &models.VisibilityScore{
		ProjectID:      projectID,
		CalculatedAt:   asOf,
		OverallScore:   overall,
		Grade:          gradeFor(overall),
		FrequencyScore: frequency,
		PositionScore:  position,
		DiversityScore: diversity,
		ContextScore:   contextScore,
		MomentumScore:  momentum,
	}

	for _, delta := range []struct {
		days int
		dst  **float64
	}{
		{7, &score.Change7d},
		{30, &score.Change30d},
	} {
		prior, err := sn.LatestScoreBefore(ctx, projectID, asOf.AddDate(0, 0, -delta.days))
		if errors.Is(err, cwerrors.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		d := round2(overall - prior.OverallScore)
		*delta.dst = &d
	}
	return score, nil
}

// averagePosition is the mean citation_position over citations that
// carry one. ok is false when none do.
func averagePosition(citations []models.Citation) (float64, bool) {
	sum, n := 0, 0
	for _, c := range citations {
		if c.CitationPosition != nil {
			sum += *c.CitationPosition
			n++
		}
	}
	if n == 0 {
		return 0, false
	}
	return float64(sum) / float64(n), true
}

// momentumScore maps ISO-week self-citation growth onto [0,100].
func momentumScore(self []models.Citation, asOf time.Time) float64 {
	thisWeek := countInISOWeek(self, asOf)
	lastWeek := countInISOWeek(self, asOf.AddDate(0, 0, -7))

	if lastWeek == 0 {
		if thisWeek > 0 {
			return 100
		}
		return 0
	}
	growth := float64(thisWeek-lastWeek) / float64(lastWeek) * 100
	growth = math.Max(-100, math.Min(100, growth))
	return (growth + 100) / 2
}

func countInISOWeek(citations []models.Citation, t time.Time) int {
	key := isoWeekKey(t)
	return lo.CountBy(citations, func(c models.Citation) bool {
		return isoWeekKey(c.TrackedAt) == key
	})
}

func isoWeekKey(t time.Time) int {
	year, week := t.UTC().ISOWeek()
	return year*100 + week
}

func gradeFor(score float64) string {
	switch {
	case score >= 90:
		return "A+"
	case score >= 80:
		return "A"
	case score >= 70:
		return "B"
	case score >= 60:
		return "C"
	case score >= 50:
		return "D"
	default:
		return "F"
	}
}

// DomainShare is one domain's slice of the citation pie.
type DomainShare struct {
	Domain   string  `json:"domain"`
	Mentions int     `json:"mentions"`
	Share    float64 `json:"share"`
	IsSelf   bool    `json:"isSelf"`
}

// ShareOfVoice splits 30-day mentions between the primary domain and
// the configured competitors.
type ShareOfVoice struct {
	PrimaryDomain string        `json:"primaryDomain"`
	TotalMentions int           `json:"totalMentions"`
	Shares        []DomainShare `json:"shares"`
}

// CalculateShareOfVoice computes the 30-day split ending now. When the
// window holds no mentions at all, every share is zero.
func (s *Service) CalculateShareOfVoice(ctx context.Context, projectID string) (*ShareOfVoice, error) {
	project, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	citations, err := s.store.CitationsInWindow(ctx, projectID, now.AddDate(0, 0, -scoreWindowDays), now)
	if err != nil {
		return nil, err
	}
	return shareOfVoice(project, citations), nil
}

func shareOfVoice(project *models.Project, citations []models.Citation) *ShareOfVoice {
	total, mentions := domainMentions(project, citations)

	result := &ShareOfVoice{PrimaryDomain: project.PrimaryDomain, TotalMentions: total}
	domains := append([]string{project.PrimaryDomain}, project.CompetitorDomains...)
	for i, domain := range domains {
		share := 0.0
		if total > 0 {
			share = round2(float64(mentions[domain]) / float64(total) * 100)
		}
		result.Shares = append(result.Shares, DomainShare{
			Domain:   domain,
			Mentions: mentions[domain],
			Share:    share,
			IsSelf:   i == 0,
		})
	}
	return result
}

// domainMentions counts mentions per domain over a citation set. The
// total also counts competitor entries for domains nobody configured.
func domainMentions(project *models.Project, citations []models.Citation) (int, map[string]int) {
	mentions := make(map[string]int)
	total := 0
	for _, c := range citations {
		if c.DomainMentioned {
			mentions[project.PrimaryDomain]++
			total++
		}
		for _, comp := range c.CompetitorCitations {
			mentions[comp.Domain]++
			total++
		}
	}
	return total, mentions
}

// KeywordTrend is one keyword's week-over-week movement.
type KeywordTrend struct {
	KeywordID         string  `json:"keywordId"`
	KeywordText       string  `json:"keywordText"`
	ThisWeekCitations int     `json:"thisWeekCitations"`
	LastWeekCitations int     `json:"lastWeekCitations"`
	CitationDelta     int     `json:"citationDelta"`
	PositionDelta     float64 `json:"positionDelta"`
	Direction         string  `json:"direction"`
}

// TrendingKeywords ranks a project's active keywords by week-over-week
// self-citation delta, descending, returning the top limit entries.
func (s *Service) TrendingKeywords(ctx context.Context, projectID string, limit int) ([]KeywordTrend, error) {
	keywords, err := s.store.ListKeywords(ctx, projectID, true)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	citations, err := s.store.CitationsInWindow(ctx, projectID, now.AddDate(0, 0, -14), now)
	if err != nil {
		return nil, err
	}

	self := lo.Filter(citations, func(c models.Citation, _ int) bool { return c.DomainMentioned })
	byKeyword := lo.GroupBy(self, func(c models.Citation) string { return c.KeywordID })

	thisKey := isoWeekKey(now)
	lastKey := isoWeekKey(now.AddDate(0, 0, -7))

	trends := make([]KeywordTrend, 0, len(keywords))
	for _, kw := range keywords {
		var thisWeek, lastWeek []models.Citation
		for _, c := range byKeyword[kw.ID] {
			switch isoWeekKey(c.TrackedAt) {
			case thisKey:
				thisWeek = append(thisWeek, c)
			case lastKey:
				lastWeek = append(lastWeek, c)
			}
		}

		trend := KeywordTrend{
			KeywordID:         kw.ID,
			KeywordText:       kw.KeywordText,
			ThisWeekCitations: len(thisWeek),
			LastWeekCitations: len(lastWeek),
			CitationDelta:     len(thisWeek) - len(lastWeek),
		}
		if thisAvg, ok := averagePosition(thisWeek); ok {
			if lastAvg, ok := averagePosition(lastWeek); ok {
				trend.PositionDelta = round2(lastAvg - thisAvg)
			}
		}
		trend.Direction = trendDirection(trend.CitationDelta, trend.PositionDelta)
		trends = append(trends, trend)
	}

	sort.SliceStable(trends, func(i, j int) bool {
		return trends[i].CitationDelta > trends[j].CitationDelta
	})
	if limit > 0 && len(trends) > limit {
		trends = trends[:limit]
	}
	return trends, nil
}

func trendDirection(citationDelta int, positionDelta float64) string {
	switch {
	case citationDelta > 0 || positionDelta > 0:
		return "up"
	case citationDelta < 0 || positionDelta < 0:
		return "down"
	default:
		return "stable"
	}
}

// GenerateDailyMetrics recomputes one UTC day's per-platform aggregates
// and upserts them. Re-running for the same day converges.
func (s *Service) GenerateDailyMetrics(ctx context.Context, projectID string, date time.Time) error {
	dayStart := date.UTC().Truncate(24 * time.Hour)
	dayEnd := dayStart.Add(24*time.Hour - time.Millisecond)

	citations, err := s.store.CitationsInWindow(ctx, projectID, dayStart, dayEnd)
	if err != nil {
		return err
	}

	byPlatform := lo.GroupBy(citations, func(c models.Citation) models.Platform { return c.Platform })
	for platform, group := range byPlatform {
		metric := models.DailyMetric{
			ProjectID:    projectID,
			Date:         store.DateString(dayStart),
			Platform:     platform,
			TotalQueries: len(group),
		}
		var mentioned []models.Citation
		for _, c := range group {
			if c.DomainMentioned {
				metric.Mentions++
				mentioned = append(mentioned, c)
			}
			switch c.Sentiment {
			case models.SentimentPositive:
				metric.PositiveCount++
			case models.SentimentNegative:
				metric.NegativeCount++
			default:
				metric.NeutralCount++
			}
			metric.CompetitorMentions += len(c.CompetitorCitations)
		}
		if avg, ok := averagePosition(mentioned); ok {
			avg = round2(avg)
			metric.AvgPosition = &avg
		}
		if err := s.store.UpsertDailyMetric(ctx, &metric); err != nil {
			return fmt.Errorf("upsert daily metric for %s: %w", platform, err)
		}
	}
	return nil
}

// RecomputeProject is the score planner's per-project pass: a fresh
// visibility score, today's daily metrics, and the batch alert checks.
func (s *Service) RecomputeProject(ctx context.Context, projectID string, now time.Time) error {
	if _, err := s.ComputeVisibilityScore(ctx, projectID, now); err != nil {
		return fmt.Errorf("compute score: %w", err)
	}
	if err := s.GenerateDailyMetrics(ctx, projectID, now); err != nil {
		return fmt.Errorf("daily metrics: %w", err)
	}
	if err := s.RunBatchChecks(ctx, projectID, now); err != nil {
		return fmt.Errorf("batch checks: %w", err)
	}
	return nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
