// famedly-sync - Zitadel user synchronization agent
// Copyright 2026 Famedly GmbH
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/famedly/sync-agent

// Package agent orchestrates one sync run: it builds the IAM client
// and the configured source, drives the reconciliation engine, and
// maps the outcome to a process exit code.
package agent

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/famedly/sync-agent/internal/config"
	"github.com/famedly/sync-agent/internal/engine"
	"github.com/famedly/sync-agent/internal/logging"
	"github.com/famedly/sync-agent/internal/metrics"
	"github.com/famedly/sync-agent/internal/source/csv"
	"github.com/famedly/sync-agent/internal/source/ldap"
	"github.com/famedly/sync-agent/internal/source/ukt"
	"github.com/famedly/sync-agent/internal/zitadel"
)

// Exit codes of the agent process.
const (
	ExitSuccess = 0
	ExitFailure = 1
	ExitConfig  = 2
)

// Agent runs one synchronization against the configured source.
type Agent struct {
	cfg   *config.Config
	log   zerolog.Logger
	runID string
}

// New builds an agent for one run. The run id correlates all log lines
// of the run.
func New(cfg *config.Config) *Agent {
	runID := uuid.NewString()
	return &Agent{
		cfg:   cfg,
		log:   logging.With().Str("run_id", runID).Logger(),
		runID: runID,
	}
}

// Run executes the sync and returns the process exit code: 0 on a
// clean run, 1 on any per-user or infrastructure failure.
func (a *Agent) Run(ctx context.Context) int {
	start := time.Now()
	client := zitadel.New(a.cfg.Zitadel, a.cfg.FeatureFlags)
	eng := engine.New(client, a.cfg.FeatureFlags)

	a.log.Info().
		Str("zitadel_url", a.cfg.Zitadel.URL).
		Str("organization_id", a.cfg.Zitadel.OrganizationID).
		Str("project_id", a.cfg.Zitadel.ProjectID).
		Bool("dry_run", a.cfg.FeatureFlags.IsEnabled(config.FlagDryRun)).
		Msg("sync run starting")

	summary, err := a.sync(ctx, eng)
	metrics.RecordRunDuration(time.Since(start))

	if err != nil {
		event := a.log.Error().Err(err).Dur("duration", time.Since(start))
		if summary != nil {
			event = event.Object("summary", summary)
		}
		event.Msg("sync run aborted")
		return ExitFailure
	}

	a.log.Info().
		Object("summary", summary).
		Dur("duration", time.Since(start)).
		Msg("sync run finished")

	if !summary.Clean() {
		return ExitFailure
	}
	return ExitSuccess
}

// sync dispatches to the configured source. Configuration validation
// already guaranteed exactly one source is present.
func (a *Agent) sync(ctx context.Context, eng *engine.Engine) (*engine.Summary, error) {
	switch {
	case a.cfg.Sources.LDAP != nil:
		return eng.Run(ctx, ldap.New(a.cfg.Sources.LDAP))
	case a.cfg.Sources.CSV != nil:
		return eng.Run(ctx, csv.New(a.cfg.Sources.CSV))
	default:
		emails, err := ukt.New(a.cfg.Sources.UKT).DeletionEmails(ctx)
		if err != nil {
			return nil, err
		}
		a.log.Info().Int("deletion_emails", len(emails)).Msg("deletion list fetched")
		return eng.RunDeletionList(ctx, emails)
	}
}
