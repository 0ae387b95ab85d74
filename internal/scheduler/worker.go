package scheduler

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/citewatch/citewatch/internal/alerting"
	"github.com/citewatch/citewatch/internal/config"
	cwerrors "github.com/citewatch/citewatch/internal/errors"
	"github.com/citewatch/citewatch/internal/queue"
	"github.com/citewatch/citewatch/internal/store"
	"github.com/citewatch/citewatch/internal/tracking"
)

const (
	quotaCooldown    = time.Hour
	reapInterval     = 5 * time.Minute
	promoteInterval  = time.Second
	watchdogInterval = 30 * time.Second
	retryBaseDelay   = 30 * time.Second
	retryMaxDelay    = 30 * time.Minute
	storeRetryFloor  = 30 * time.Second
)

// ErrStoreDown signals the watchdog gave up on the database. The worker
// binary maps it to exit code 2 so supervisors restart the process.
var ErrStoreDown = errors.New("store unreachable")

// Worker consumes tracking jobs from the broker and runs them through
// the tracking engine, with retry, quota cooldown and crash recovery.
type Worker struct {
	cfg    *config.Config
	store  *store.Store
	broker queue.Broker
	engine *tracking.Engine
	alerts *alerting.Engine

	// cooldowns holds platforms whose provider reported quota
	// exhaustion; their jobs fail fast until the entry expires.
	cooldowns *gocache.Cache
}

// NewWorker wires a worker. alerts may be nil to disable diff alerts.
func NewWorker(cfg *config.Config, s *store.Store, b queue.Broker, engine *tracking.Engine, alerts *alerting.Engine) *Worker {
	return &Worker{
		cfg:       cfg,
		store:     s,
		broker:    b,
		engine:    engine,
		alerts:    alerts,
		cooldowns: gocache.New(quotaCooldown, 10*time.Minute),
	}
}

// Run starts the consumer pool plus the delayed-message mover, the
// reaper and the store watchdog, and blocks until the context cancels
// or a fatal error surfaces. In-flight jobs finish before Run returns.
func (w *Worker) Run(ctx context.Context) error {
	log.Info().Int("concurrency", w.cfg.WorkerConcurrency).Msg("Worker starting")

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < w.cfg.WorkerConcurrency; i++ {
		g.Go(func() error { return w.consume(ctx) })
	}
	g.Go(func() error { return w.promoteLoop(ctx) })
	g.Go(func() error { return w.reapLoop(ctx) })
	g.Go(func() error { return w.watchdog(ctx) })

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (w *Worker) consume(ctx context.Context) error {
	for {
		delivery, err := w.broker.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Warn().Err(err).Msg("Dequeue failed")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}
		w.process(ctx, delivery)
	}
}

// process runs one delivery end to end. The job context is detached
// from the consumer context so shutdown drains the job instead of
// cancelling it mid-flight; the deadline still bounds it.
func (w *Worker) process(parent context.Context, delivery *queue.Delivery) {
	msg := delivery.Message
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), w.cfg.JobDeadline)
	defer cancel()
	start := time.Now()

	claimed, err := w.store.ClaimJob(ctx, msg.JobID, start)
	if err != nil {
		log.Error().Err(err).Str("jobId", msg.JobID).Msg("Failed to claim job")
		w.requeue(ctx, delivery, storeRetryFloor)
		return
	}
	if !claimed {
		// Duplicate delivery or a terminal row; drop it.
		w.ack(ctx, delivery)
		return
	}

	keyword, kwErr := w.store.GetKeyword(ctx, msg.KeywordID)
	project, projErr := w.store.GetProject(ctx, msg.ProjectID)
	if errors.Is(kwErr, cwerrors.ErrNotFound) || errors.Is(projErr, cwerrors.ErrNotFound) {
		w.failJob(ctx, delivery, "orphaned job: keyword or project no longer exists")
		return
	}
	if kwErr != nil || projErr != nil {
		log.Error().AnErr("keywordErr", kwErr).AnErr("projectErr", projErr).
			Str("jobId", msg.JobID).Msg("Failed to load job context")
		w.requeue(ctx, delivery, storeRetryFloor)
		return
	}

	if _, cooling := w.cooldowns.Get(string(msg.Platform)); cooling {
		w.failJob(ctx, delivery, "quota_exceeded: provider in cooldown")
		return
	}

	result, citation, trackErr := w.engine.TrackOne(ctx, keyword, project, msg.Platform)
	jobDuration.WithLabelValues(string(msg.Platform)).Observe(time.Since(start).Seconds())
	if trackErr != nil {
		w.handleFailure(ctx, delivery, trackErr)
		return
	}

	if err := w.store.CompleteJob(ctx, msg.JobID, result.DomainMentioned, tracking.ResultData(result)); err != nil {
		// The tracking work is done and persisted; losing the job row
		// update means the reaper re-runs it later. Log and move on.
		log.Error().Err(err).Str("jobId", msg.JobID).Msg("Failed to complete job")
	}
	jobsProcessed.WithLabelValues(string(msg.Platform), "completed").Inc()

	if citation != nil && w.alerts != nil {
		previous, err := w.store.LatestCitationBefore(ctx, msg.KeywordID, msg.Platform, citation.TrackedAt)
		if err != nil && !errors.Is(err, cwerrors.ErrNotFound) {
			log.Warn().Err(err).Str("keywordId", msg.KeywordID).Msg("Failed to load previous citation for diff")
		}
		w.alerts.ProcessCitation(ctx, previous, citation)
	}

	w.ack(ctx, delivery)
}

// handleFailure applies the retry policy to a failed tracking attempt.
func (w *Worker) handleFailure(ctx context.Context, delivery *queue.Delivery, err error) {
	msg := delivery.Message

	if cwerrors.IsQuotaError(err) {
		w.cooldowns.Set(string(msg.Platform), time.Now(), quotaCooldown)
		providerCooldowns.Set(float64(w.cooldowns.ItemCount()))
		log.Warn().Str("platform", string(msg.Platform)).Dur("cooldown", quotaCooldown).
			Msg("Provider quota exhausted, entering cooldown")
	}

	retriable := cwerrors.IsRetryableError(err)
	minDelay := time.Duration(0)
	var provErr *cwerrors.ProviderError
	if !errors.As(err, &provErr) && !errors.Is(err, cwerrors.ErrNotConfigured) {
		// A store write failed mid-job. That is always worth retrying,
		// but not before the database had a moment to recover.
		retriable = true
		minDelay = storeRetryFloor
	}

	if !retriable {
		w.failJob(ctx, delivery, err.Error())
		return
	}

	count, retryErr := w.store.RetryJob(ctx, msg.JobID, err.Error())
	if retryErr != nil {
		log.Error().Err(retryErr).Str("jobId", msg.JobID).Msg("Failed to record retry")
		w.ack(ctx, delivery) // row stays processing; the reaper recovers it
		return
	}
	if count > w.cfg.MaxRetries {
		w.failJob(ctx, delivery, err.Error())
		return
	}

	delay := retryDelay(count)
	if delay < minDelay {
		delay = minDelay
	}
	if err := w.broker.EnqueueDelayed(ctx, msg, delay); err != nil {
		log.Error().Err(err).Str("jobId", msg.JobID).Msg("Failed to re-enqueue job")
	}
	jobsRetried.WithLabelValues(string(msg.Platform)).Inc()
	log.Info().Str("jobId", msg.JobID).Int("attempt", count).Dur("delay", delay).
		Str("platform", string(msg.Platform)).Msg("Job scheduled for retry")
	w.ack(ctx, delivery)
}

// retryDelay is 30s × 2^(attempt−1), capped, with ±20% jitter.
func retryDelay(attempt int) time.Duration {
	delay := retryBaseDelay
	for i := 1; i < attempt && delay < retryMaxDelay; i++ {
		delay *= 2
	}
	if delay > retryMaxDelay {
		delay = retryMaxDelay
	}
	jitter := 0.8 + 0.4*rand.Float64()
	return time.Duration(float64(delay) * jitter)
}

func (w *Worker) failJob(ctx context.Context, delivery *queue.Delivery, reason string) {
	msg := delivery.Message
	if err := w.store.FailJob(ctx, msg.JobID, reason); err != nil {
		log.Error().Err(err).Str("jobId", msg.JobID).Msg("Failed to mark job failed")
	}
	jobsProcessed.WithLabelValues(string(msg.Platform), "failed").Inc()
	w.ack(ctx, delivery)
}

// requeue puts a delivery back with a delay, acking only once the
// broker accepted it.
func (w *Worker) requeue(ctx context.Context, delivery *queue.Delivery, delay time.Duration) {
	if err := w.broker.EnqueueDelayed(ctx, delivery.Message, delay); err != nil {
		log.Error().Err(err).Str("jobId", delivery.Message.JobID).Msg("Failed to requeue delivery")
		return
	}
	w.ack(ctx, delivery)
}

func (w *Worker) ack(ctx context.Context, delivery *queue.Delivery) {
	if err := delivery.Ack(ctx); err != nil {
		log.Warn().Err(err).Str("jobId", delivery.Message.JobID).Msg("Failed to ack delivery")
	}
}

// promoteLoop moves due delayed messages onto the main queue and keeps
// the depth gauge current.
func (w *Worker) promoteLoop(ctx context.Context) error {
	ticker := time.NewTicker(promoteInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := w.broker.PromoteDue(ctx); err != nil && ctx.Err() == nil {
				log.Warn().Err(err).Msg("Failed to promote delayed messages")
			}
			if depth, err := w.broker.Depth(ctx); err == nil {
				queueDepth.Set(float64(depth))
			}
			providerCooldowns.Set(float64(w.cooldowns.ItemCount()))
		}
	}
}

// reapLoop recovers jobs stuck in processing, once at startup and then
// on a period. A processing row older than twice the shutdown grace
// means its worker died without draining.
func (w *Worker) reapLoop(ctx context.Context) error {
	w.reapOnce(ctx)
	ticker := time.NewTicker(reapInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			w.reapOnce(ctx)
		}
	}
}

func (w *Worker) reapOnce(ctx context.Context) {
	cutoff := time.Now().Add(-2 * w.cfg.ShutdownGrace)
	stale, err := w.store.ReapStaleJobs(ctx, cutoff)
	if err != nil {
		log.Error().Err(err).Msg("Failed to reap stale jobs")
		return
	}
	for _, job := range stale {
		msg := queue.Message{JobID: job.ID, ProjectID: job.ProjectID, KeywordID: job.KeywordID, Platform: job.Platform}
		if err := w.broker.Enqueue(ctx, msg); err != nil {
			log.Error().Err(err).Str("jobId", job.ID).Msg("Failed to re-enqueue reaped job")
		}
	}
	if len(stale) > 0 {
		jobsReaped.Add(float64(len(stale)))
		log.Warn().Int("count", len(stale)).Msg("Recovered stale processing jobs")
	}
}

// watchdog pings the store on a period and gives up after a run of
// consecutive failures.
func (w *Worker) watchdog(ctx context.Context) error {
	ticker := time.NewTicker(watchdogInterval)
	defer ticker.Stop()
	failures := 0
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := w.store.Ping(pingCtx)
			cancel()
			if err == nil {
				failures = 0
				continue
			}
			failures++
			log.Warn().Err(err).Int("consecutive", failures).Msg("Store ping failed")
			if failures >= w.cfg.StoreDownThreshold {
				return fmt.Errorf("%w: %d consecutive ping failures", ErrStoreDown, failures)
			}
		}
	}
}
