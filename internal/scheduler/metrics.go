package scheduler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	jobsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "citewatch_jobs_processed_total",
		Help: "Tracking jobs reaching a terminal state, by platform and status.",
	}, []string{"platform", "status"})

	jobsRetried = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "citewatch_jobs_retried_total",
		Help: "Tracking job retry attempts, by platform.",
	}, []string{"platform"})

	jobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "citewatch_job_duration_seconds",
		Help:    "Wall time spent processing one tracking job.",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
	}, []string{"platform"})

	jobsPlanned = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "citewatch_jobs_planned_total",
		Help: "Jobs created by the planner and on-demand scheduling, by disposition.",
	}, []string{"disposition"})

	queueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "citewatch_queue_depth",
		Help: "Messages waiting in the tracking queue, delayed included.",
	})

	providerCooldowns = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "citewatch_provider_cooldowns",
		Help: "Providers currently held in quota cooldown.",
	})

	jobsReaped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "citewatch_jobs_reaped_total",
		Help: "Stale processing jobs recovered by the reaper.",
	})
)
