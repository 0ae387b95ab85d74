// Package scheduler owns the job lifecycle around the tracking engine:
// planning jobs into the store, queueing them through the broker,
// consuming them with a bounded worker pool, and the cron planner that
// drives daily tracking, score recomputes and retention.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/IGLOU-EU/go-wildcard/v2"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog/log"

	cwerrors "github.com/citewatch/citewatch/internal/errors"
	"github.com/citewatch/citewatch/internal/models"
	"github.com/citewatch/citewatch/internal/queue"
	"github.com/citewatch/citewatch/internal/store"
)

// Scheduler plans tracking jobs and hands them to the broker. Both the
// API process (on-demand tracking) and the worker's planner use it.
type Scheduler struct {
	store     *store.Store
	broker    queue.Broker
	platforms []models.Platform // default set when a request names none
}

// NewScheduler wires a scheduler. platforms is the default provider set,
// normally the registry's configured platforms.
func NewScheduler(s *store.Store, b queue.Broker, platforms []models.Platform) *Scheduler {
	return &Scheduler{store: s, broker: b, platforms: platforms}
}

// ScheduleProject plans one job per (active keyword × platform) for a
// project and enqueues the created ones. keywordFilter is an optional
// wildcard pattern ("best *") matched against keyword text.
func (s *Scheduler) ScheduleProject(ctx context.Context, projectID string, platforms []models.Platform, keywordFilter string) (*models.TrackingBatch, error) {
	project, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if !project.IsActive {
		return nil, fmt.Errorf("%w: project is archived", cwerrors.ErrInvalidInput)
	}

	keywords, err := s.store.ListKeywords(ctx, projectID, true)
	if err != nil {
		return nil, err
	}
	if keywordFilter != "" {
		filtered := keywords[:0]
		for _, kw := range keywords {
			if wildcard.Match(keywordFilter, kw.KeywordText) {
				filtered = append(filtered, kw)
			}
		}
		keywords = filtered
	}

	return s.ScheduleBatch(ctx, projectID, keywords, platforms, time.Now().Truncate(time.Minute))
}

// ScheduleBatch bulk-inserts pending jobs for the given keywords and
// platforms, enqueues whatever was actually created, and returns a
// batch handle. A live job for the same (project, keyword, platform,
// scheduled_at) tuple counts as a duplicate and is not re-queued.
func (s *Scheduler) ScheduleBatch(ctx context.Context, projectID string, keywords []models.Keyword, platforms []models.Platform, scheduledAt time.Time) (*models.TrackingBatch, error) {
	if len(platforms) == 0 {
		platforms = s.platforms
	}
	if len(platforms) == 0 {
		return nil, fmt.Errorf("%w: no providers configured", cwerrors.ErrInvalidInput)
	}
	for _, platform := range platforms {
		if !models.IsValidPlatform(string(platform)) {
			return nil, fmt.Errorf("%w: unknown platform %q", cwerrors.ErrInvalidInput, platform)
		}
	}

	jobs := make([]*models.TrackingJob, 0, len(keywords)*len(platforms))
	for _, kw := range keywords {
		for _, platform := range platforms {
			jobs = append(jobs, &models.TrackingJob{
				ProjectID:   projectID,
				KeywordID:   kw.ID,
				Platform:    platform,
				ScheduledAt: scheduledAt,
			})
		}
	}

	created, duplicates, err := s.store.CreateJobs(ctx, jobs)
	if err != nil {
		return nil, err
	}
	jobsPlanned.WithLabelValues("created").Add(float64(created))
	jobsPlanned.WithLabelValues("duplicate").Add(float64(duplicates))

	var enqueueErr error
	for _, j := range jobs {
		if j.ID == "" { // duplicate, a live job already covers the tuple
			continue
		}
		msg := queue.Message{JobID: j.ID, ProjectID: j.ProjectID, KeywordID: j.KeywordID, Platform: j.Platform}
		if err := s.broker.Enqueue(ctx, msg); err != nil {
			enqueueErr = err
			log.Error().Err(err).Str("jobId", j.ID).Msg("Failed to enqueue job")
		}
	}
	if enqueueErr != nil {
		return nil, fmt.Errorf("enqueue jobs: %w", enqueueErr)
	}

	batch := &models.TrackingBatch{
		ID:          ulid.Make().String(),
		ProjectID:   projectID,
		JobsPlanned: created,
		Duplicates:  duplicates,
		CreatedAt:   time.Now(),
	}
	log.Info().
		Str("projectId", projectID).
		Str("batchId", batch.ID).
		Int("created", created).
		Int("duplicates", duplicates).
		Msg("Tracking batch scheduled")
	return batch, nil
}
