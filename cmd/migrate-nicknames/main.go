// famedly-sync - Zitadel user synchronization agent
// Copyright 2026 Famedly GmbH
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/famedly/sync-agent

// Package main backfills the external-id encoding on existing Zitadel
// populations.
//
// Early deployments stored the raw external id base64 encoded in the
// user nickname; current ones store lowercase hex. This tool reads the
// regular famedly-sync configuration, classifies the whole managed
// population, and rewrites every nickname to hex. A population that
// does not agree on one encoding is refused untouched, and the dry_run
// feature flag previews the rewrite.
//
// Exit codes match the sync agent: 0 clean, 1 failures, 2 bad config.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/famedly/sync-agent/internal/agent"
	"github.com/famedly/sync-agent/internal/config"
	"github.com/famedly/sync-agent/internal/logging"
	"github.com/famedly/sync-agent/internal/zitadel"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load()
	if err != nil {
		logging.Error().Err(err).Msg("failed to load configuration")
		return agent.ExitConfig
	}

	logging.Init(logging.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client := zitadel.New(cfg.Zitadel, cfg.FeatureFlags)
	summary, err := client.MigrateNicknames(ctx)
	if err != nil {
		logging.Error().Err(err).Msg("nickname migration aborted")
		return agent.ExitFailure
	}

	logging.Info().
		Str("encoding", summary.Encoding.String()).
		Int("scanned", summary.Scanned).
		Int("migrated", summary.Migrated).
		Int("skipped", summary.Skipped).
		Int("failed", summary.Failed).
		Msg("nickname migration finished")

	if summary.Failed > 0 {
		return agent.ExitFailure
	}
	return agent.ExitSuccess
}
