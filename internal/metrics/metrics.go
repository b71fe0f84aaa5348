// Copyright 2026 The buildkansen Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package metrics provides Prometheus metrics for the runner broker.
// Labels stay low cardinality: no job, run or repository ids.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "buildkansen"

var (
	// WebhookEventsTotal counts workflow_job deliveries by action and outcome.
	WebhookEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "webhook_events_total",
		Help:      "Workflow job webhook deliveries, by action and outcome.",
	}, []string{"action", "outcome"})

	// JobsEnqueuedTotal counts jobs handed to the dispatch queue.
	JobsEnqueuedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "jobs_enqueued_total",
		Help:      "Jobs accepted into the dispatch queue.",
	})

	// JobsDispatchedTotal counts dispatch attempts by result.
	JobsDispatchedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "jobs_dispatched_total",
		Help:      "Dispatch attempts, by result (kicked_off, skipped, failed).",
	}, []string{"result"})

	// JobQueueDepth is the number of jobs waiting for a worker.
	JobQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "job_queue_depth",
		Help:      "Jobs waiting in the dispatch queue.",
	})

	// VMWaitSeconds measures how long a job waited for a free VM.
	VMWaitSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "vm_wait_seconds",
		Help:      "Time a job waited for an available VM.",
		Buckets:   []float64{0.1, 1, 5, 15, 30, 60, 120, 300, 600, 1800},
	})

	// VMs tracks the pool by status.
	VMs = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "vms",
		Help:      "Runner VMs, by status.",
	}, []string{"status"})

	// ScriptDurationSeconds measures host script runs by script and result.
	ScriptDurationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "script_duration_seconds",
		Help:      "Host script execution time, by script and result.",
		Buckets:   prometheus.ExponentialBuckets(0.5, 2, 10),
	}, []string{"script", "result"})

	// RateLimitedTotal counts requests rejected by a rate limiter.
	RateLimitedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ratelimit_exceeded_total",
		Help:      "Requests rejected by rate limiting, by endpoint.",
	}, []string{"endpoint"})
)

// RecordWebhook increments the webhook counter.
func RecordWebhook(action, outcome string) {
	WebhookEventsTotal.WithLabelValues(action, outcome).Inc()
}

// RecordDispatch increments the dispatch counter.
func RecordDispatch(result string) {
	JobsDispatchedTotal.WithLabelValues(result).Inc()
}

// RecordScript observes one host script run.
func RecordScript(script string, seconds float64, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	ScriptDurationSeconds.WithLabelValues(script, result).Observe(seconds)
}

// SetVMCounts replaces the pool gauges with the given per-status counts.
func SetVMCounts(counts map[string]int) {
	for status, n := range counts {
		VMs.WithLabelValues(status).Set(float64(n))
	}
}
