package models

import (
	"encoding/json"
	"time"
)

// Platform identifies one generative-AI answering engine.
type Platform string

const (
	PlatformGoogleAIOverview Platform = "google_ai_overview"
	PlatformGemini           Platform = "gemini"
	PlatformChatGPT          Platform = "chatgpt"
	PlatformPerplexity       Platform = "perplexity"
	PlatformCopilot          Platform = "copilot"
	PlatformClaude           Platform = "claude"
	PlatformGrok             Platform = "grok"
	PlatformDeepSeek         Platform = "deepseek"
)

// AllPlatforms returns the provider set registered at this release, in
// stable order. The diversity score denominator is its length.
func AllPlatforms() []Platform {
	return []Platform{
		PlatformGoogleAIOverview,
		PlatformGemini,
		PlatformChatGPT,
		PlatformPerplexity,
		PlatformCopilot,
		PlatformClaude,
		PlatformGrok,
		PlatformDeepSeek,
	}
}

// IsValidPlatform reports whether name is a registered provider name.
func IsValidPlatform(name string) bool {
	for _, p := range AllPlatforms() {
		if Platform(name) == p {
			return true
		}
	}
	return false
}

// JobStatus is the lifecycle state of a TrackingJob.
type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
	JobRetrying   JobStatus = "retrying"
)

// IsTerminal reports whether the status ends the job's lifecycle.
func (s JobStatus) IsTerminal() bool {
	return s == JobCompleted || s == JobFailed
}

// Sentiment classifies the tone of the sentences mentioning the target
// domain.
type Sentiment string

const (
	SentimentPositive Sentiment = "positive"
	SentimentNeutral  Sentiment = "neutral"
	SentimentNegative Sentiment = "negative"
)

// FunnelStage positions a keyword in the buying journey.
type FunnelStage string

const (
	StageAwareness     FunnelStage = "awareness"
	StageConsideration FunnelStage = "consideration"
	StageDecision      FunnelStage = "decision"
)

// AlertType names a change-detection rule.
type AlertType string

const (
	AlertNewCitation    AlertType = "new_citation"
	AlertLostCitation   AlertType = "lost_citation"
	AlertPositionChange AlertType = "position_change"
	AlertCompetitorGain AlertType = "competitor_gain"
	AlertNewPlatform    AlertType = "new_platform"
	AlertSentimentShift AlertType = "sentiment_shift"
	AlertVolumeSpike    AlertType = "volume_spike"
)

// AlertSeverity grades how urgent an alert is.
type AlertSeverity string

const (
	SeverityInfo     AlertSeverity = "info"
	SeverityWarning  AlertSeverity = "warning"
	SeverityCritical AlertSeverity = "critical"
)

// Project is a tracked brand: one primary domain plus up to ten
// competitor domains.
type Project struct {
	ID                string    `json:"id"`
	Name              string    `json:"name"`
	PrimaryDomain     string    `json:"primaryDomain"`
	CompetitorDomains []string  `json:"competitorDomains"`
	IsActive          bool      `json:"isActive"`
	CreatedAt         time.Time `json:"createdAt"`
	UpdatedAt         time.Time `json:"updatedAt"`
}

// Keyword is one tracked query string within a project.
type Keyword struct {
	ID            string      `json:"id"`
	ProjectID     string      `json:"projectId"`
	KeywordText   string      `json:"keywordText"`
	PriorityLevel int         `json:"priorityLevel"` // 1..5
	FunnelStage   FunnelStage `json:"funnelStage"`
	IsActive      bool        `json:"isActive"`
	LastTrackedAt *time.Time  `json:"lastTrackedAt,omitempty"`
	CreatedAt     time.Time   `json:"createdAt"`
	UpdatedAt     time.Time   `json:"updatedAt"`
}

// CompetitorCitation is one non-target URL a provider cited, with the
// provider-assigned rank preserved.
type CompetitorCitation struct {
	Domain   string `json:"domain"`
	URL      string `json:"url"`
	Position int    `json:"position"`
	Context  string `json:"context,omitempty"`
}

// Citation records what one provider said for one keyword at one time.
type Citation struct {
	ID                  string               `json:"id"`
	ProjectID           string               `json:"projectId"`
	KeywordID           string               `json:"keywordId"`
	Platform            Platform             `json:"platform"`
	TrackedAt           time.Time            `json:"trackedAt"`
	DomainMentioned     bool                 `json:"domainMentioned"`
	CitationPosition    *int                 `json:"citationPosition,omitempty"`
	CitationContext     *string              `json:"citationContext,omitempty"`
	FullResponseText    string               `json:"fullResponseText"`
	ResponseSummary     string               `json:"responseSummary"`
	Sentiment           Sentiment            `json:"sentiment"`
	ConfidenceScore     float64              `json:"confidenceScore"`
	WordCount           int                  `json:"wordCount"`
	CompetitorCitations []CompetitorCitation `json:"competitorCitations"`
	TotalSourcesCited   int                  `json:"totalSourcesCited"`
	ResponseTimeMs      int64                `json:"responseTimeMs"`
}

// TrackingJob is the scheduler's persisted unit of work.
type TrackingJob struct {
	ID            string          `json:"id"`
	ProjectID     string          `json:"projectId"`
	KeywordID     string          `json:"keywordId"`
	Platform      Platform        `json:"platform"`
	Status        JobStatus       `json:"status"`
	ScheduledAt   time.Time       `json:"scheduledAt"`
	StartedAt     *time.Time      `json:"startedAt,omitempty"`
	CompletedAt   *time.Time      `json:"completedAt,omitempty"`
	RetryCount    int             `json:"retryCount"`
	ErrorMessage  *string         `json:"errorMessage,omitempty"`
	CitationFound bool            `json:"citationFound"`
	ResultData    json.RawMessage `json:"resultData,omitempty"`
	CreatedAt     time.Time       `json:"createdAt"`
}

// DailyMetric aggregates a project's citations for one (date, platform)
// pair. Dates are UTC calendar days formatted YYYY-MM-DD.
type DailyMetric struct {
	ProjectID          string   `json:"projectId"`
	Date               string   `json:"date"`
	Platform           Platform `json:"platform"`
	TotalQueries       int      `json:"totalQueries"`
	Mentions           int      `json:"mentions"`
	AvgPosition        *float64 `json:"avgPosition,omitempty"`
	PositiveCount      int      `json:"positiveCount"`
	NeutralCount       int      `json:"neutralCount"`
	NegativeCount      int      `json:"negativeCount"`
	CompetitorMentions int      `json:"competitorMentions"`
}

// VisibilityScore is one append-only scoring run for a project.
type VisibilityScore struct {
	ID             string    `json:"id"`
	ProjectID      string    `json:"projectId"`
	CalculatedAt   time.Time `json:"calculatedAt"`
	OverallScore   float64   `json:"overallScore"`
	Grade          string    `json:"grade"`
	FrequencyScore float64   `json:"frequencyScore"`
	PositionScore  float64   `json:"positionScore"`
	DiversityScore float64   `json:"diversityScore"`
	ContextScore   float64   `json:"contextScore"`
	MomentumScore  float64   `json:"momentumScore"`
	Change7d       *float64  `json:"change7d,omitempty"`
	Change30d      *float64  `json:"change30d,omitempty"`
}

// Alert is a persisted change notification.
type Alert struct {
	ID            string        `json:"id"`
	ProjectID     string        `json:"projectId"`
	AlertType     AlertType     `json:"alertType"`
	Severity      AlertSeverity `json:"severity"`
	Title         string        `json:"title"`
	Description   string        `json:"description"`
	KeywordID     *string       `json:"keywordId,omitempty"`
	Platform      *Platform     `json:"platform,omitempty"`
	CitationID    *string       `json:"citationId,omitempty"`
	PreviousValue *string       `json:"previousValue,omitempty"`
	CurrentValue  *string       `json:"currentValue,omitempty"`
	ChangePercent *float64      `json:"changePercent,omitempty"`
	IsRead        bool          `json:"isRead"`
	CreatedAt     time.Time     `json:"createdAt"`
}

// TrackResult is the per-provider outcome of one tracking attempt.
// Partial success across providers is representable: each row carries its
// own success flag and error text.
type TrackResult struct {
	Platform         Platform `json:"platform"`
	Success          bool     `json:"success"`
	Error            string   `json:"error,omitempty"`
	ResponseTimeMs   int64    `json:"responseTimeMs"`
	CitationID       string   `json:"citationId,omitempty"`
	DomainMentioned  bool     `json:"domainMentioned"`
	CitationPosition *int     `json:"citationPosition,omitempty"`
}

// TrackingBatch is the handle returned by an asynchronous project track
// request. IDs are ULIDs so handles sort by creation time.
type TrackingBatch struct {
	ID          string    `json:"id"`
	ProjectID   string    `json:"projectId"`
	JobsPlanned int       `json:"jobsPlanned"`
	Duplicates  int       `json:"duplicates"`
	CreatedAt   time.Time `json:"createdAt"`
}

// JobCount is one (platform, status) bucket of recent job activity.
type JobCount struct {
	Platform Platform  `json:"platform"`
	Status   JobStatus `json:"status"`
	Count    int       `json:"count"`
}

// TrackingStatus summarizes a project's tracking posture.
type TrackingStatus struct {
	TotalKeywords   int        `json:"totalKeywords"`
	TrackedKeywords int        `json:"trackedKeywords"`
	PendingKeywords int        `json:"pendingKeywords"`
	LastTrackTime   *time.Time `json:"lastTrackTime,omitempty"`
	JobCounts       []JobCount `json:"jobCounts"`
}
