// famedly-sync - Zitadel user synchronization agent
// Copyright 2026 Famedly GmbH
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/famedly/sync-agent

// Package metrics instruments the sync run with Prometheus counters.
// The agent is a one-shot batch process, so the metrics are gathered
// and logged at the end of the run rather than scraped.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// registry keeps the collectors off the process-wide default registry
// so the agent's metrics never collide with a host application's.
var registry = prometheus.NewRegistry()

var factory = promauto.With(registry)

var (
	UsersCreated = factory.NewCounter(
		prometheus.CounterOpts{
			Name: "sync_users_created_total",
			Help: "Total number of IAM users created during sync",
		},
	)

	UsersUpdated = factory.NewCounter(
		prometheus.CounterOpts{
			Name: "sync_users_updated_total",
			Help: "Total number of IAM users updated during sync",
		},
	)

	UsersDeactivated = factory.NewCounter(
		prometheus.CounterOpts{
			Name: "sync_users_deactivated_total",
			Help: "Total number of IAM users deactivated during sync",
		},
	)

	UsersReactivated = factory.NewCounter(
		prometheus.CounterOpts{
			Name: "sync_users_reactivated_total",
			Help: "Total number of IAM users reactivated during sync",
		},
	)

	UsersDeleted = factory.NewCounter(
		prometheus.CounterOpts{
			Name: "sync_users_deleted_total",
			Help: "Total number of IAM users deleted during sync",
		},
	)

	UsersSkipped = factory.NewCounter(
		prometheus.CounterOpts{
			Name: "sync_users_skipped_total",
			Help: "Total number of IAM users left untouched (unmanaged or unchanged)",
		},
	)

	UserErrors = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_user_errors_total",
			Help: "Total number of per-user sync failures",
		},
		[]string{"stage"}, // "source", "reconcile", "create", "delete"
	)

	SourceRecords = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_source_records_total",
			Help: "Total number of records read from the authoritative source",
		},
		[]string{"source"},
	)

	RunDuration = factory.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sync_run_duration_seconds",
			Help:    "Duration of complete sync runs in seconds",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
		},
	)
)

// Registry exposes the agent's private registry for gathering.
func Registry() *prometheus.Registry {
	return registry
}

// RecordSourceRecord counts one record read from the named source.
func RecordSourceRecord(source string) {
	SourceRecords.WithLabelValues(source).Inc()
}

// RecordUserError counts one per-user failure at the given stage.
func RecordUserError(stage string) {
	UserErrors.WithLabelValues(stage).Inc()
}

// RecordRunDuration observes one complete run.
func RecordRunDuration(d time.Duration) {
	RunDuration.Observe(d.Seconds())
}
