package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron"
	"github.com/rs/zerolog/log"

	"github.com/citewatch/citewatch/internal/config"
	"github.com/citewatch/citewatch/internal/models"
	"github.com/citewatch/citewatch/internal/scoring"
	"github.com/citewatch/citewatch/internal/store"
)

// Planner is the worker's cron half: the daily tracking plan, the
// periodic score recompute and weekly retention. It runs in exactly one
// process; SQLite has a single writer and the planner assumes it owns
// planning.
type Planner struct {
	cfg    *config.Config
	store  *store.Store
	sched  *Scheduler
	scorer *scoring.Service
	cron   *cron.Cron
}

// NewPlanner wires a planner over the scheduler and scoring service.
func NewPlanner(cfg *config.Config, s *store.Store, sched *Scheduler, scorer *scoring.Service) *Planner {
	return &Planner{cfg: cfg, store: s, sched: sched, scorer: scorer}
}

// Start registers the cron entries and begins ticking. Tick errors are
// logged and dropped; the next period retries.
func (p *Planner) Start() error {
	hour, minute, err := config.ParseClockTime(p.cfg.DailyTrackingTime)
	if err != nil {
		return fmt.Errorf("invalid daily tracking time: %w", err)
	}

	c := cron.New()
	if err := c.AddFunc(fmt.Sprintf("0 %d %d * * *", minute, hour), func() {
		p.runDailyTracking(context.Background())
	}); err != nil {
		return fmt.Errorf("register daily tracker: %w", err)
	}
	if err := c.AddFunc("@every 6h", func() {
		p.runScoring(context.Background())
	}); err != nil {
		return fmt.Errorf("register score recompute: %w", err)
	}
	if err := c.AddFunc("@weekly", func() {
		p.runRetention(context.Background())
	}); err != nil {
		return fmt.Errorf("register retention: %w", err)
	}

	c.Start()
	p.cron = c
	log.Info().
		Str("dailyTrackingTime", p.cfg.DailyTrackingTime).
		Int("trackingIntervalHours", p.cfg.TrackingIntervalHours).
		Msg("Planner started")
	return nil
}

// Stop halts the cron loop. Already-running entries finish on their own.
func (p *Planner) Stop() {
	if p.cron != nil {
		p.cron.Stop()
	}
}

// runDailyTracking plans one job per (active project × due keyword ×
// configured provider). A keyword is due when it was never tracked or
// its last track predates the tracking interval. The plan timestamp is
// deterministic per day, so a crash-restart re-plan is a no-op.
func (p *Planner) runDailyTracking(ctx context.Context) {
	projects, err := p.store.ListProjects(ctx, true)
	if err != nil {
		log.Error().Err(err).Msg("Daily tracking: failed to list projects")
		return
	}

	hour, minute, _ := config.ParseClockTime(p.cfg.DailyTrackingTime)
	now := time.Now()
	scheduledAt := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	cutoff := now.Add(-time.Duration(p.cfg.TrackingIntervalHours) * time.Hour)

	for _, project := range projects {
		keywords, err := p.store.ListKeywords(ctx, project.ID, true)
		if err != nil {
			log.Error().Err(err).Str("projectId", project.ID).Msg("Daily tracking: failed to list keywords")
			continue
		}

		due := make([]models.Keyword, 0, len(keywords))
		for _, kw := range keywords {
			if kw.LastTrackedAt == nil || kw.LastTrackedAt.Before(cutoff) {
				due = append(due, kw)
			}
		}
		if len(due) == 0 {
			continue
		}

		batch, err := p.sched.ScheduleBatch(ctx, project.ID, due, nil, scheduledAt)
		if err != nil {
			log.Error().Err(err).Str("projectId", project.ID).Msg("Daily tracking: failed to schedule batch")
			continue
		}
		log.Info().
			Str("projectId", project.ID).
			Int("keywords", len(due)).
			Int("jobs", batch.JobsPlanned).
			Int("duplicates", batch.Duplicates).
			Msg("Daily tracking planned")
	}
}

// runScoring recomputes every active project's visibility score, daily
// metrics and batch alerts.
func (p *Planner) runScoring(ctx context.Context) {
	projects, err := p.store.ListProjects(ctx, true)
	if err != nil {
		log.Error().Err(err).Msg("Score recompute: failed to list projects")
		return
	}
	now := time.Now()
	for _, project := range projects {
		if err := p.scorer.RecomputeProject(ctx, project.ID, now); err != nil {
			log.Error().Err(err).Str("projectId", project.ID).Msg("Score recompute failed")
		}
	}
}

// runRetention trims old citations, alerts and terminal jobs.
func (p *Planner) runRetention(ctx context.Context) {
	now := time.Now()
	citations, err := p.store.PurgeCitations(ctx, now.AddDate(0, 0, -p.cfg.RetentionCitationsDays))
	if err != nil {
		log.Error().Err(err).Msg("Retention: failed to purge citations")
	}
	alerts, err := p.store.PurgeAlerts(ctx, now.AddDate(0, 0, -p.cfg.RetentionAlertsDays))
	if err != nil {
		log.Error().Err(err).Msg("Retention: failed to purge alerts")
	}
	jobs, err := p.store.PurgeJobs(ctx, now.AddDate(0, 0, -p.cfg.RetentionJobsDays))
	if err != nil {
		log.Error().Err(err).Msg("Retention: failed to purge jobs")
	}
	log.Info().
		Int64("citations", citations).
		Int64("alerts", alerts).
		Int64("jobs", jobs).
		Msg("Retention pass finished")
}
