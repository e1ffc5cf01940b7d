// famedly-sync - Zitadel user synchronization agent
// Copyright 2026 Famedly GmbH
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/famedly/sync-agent

// Package main is the entry point of the famedly-sync agent.
//
// The agent performs one batch reconciliation of a Zitadel user
// population against a single authoritative source and exits. It is
// intended to be invoked from a scheduler (cron, systemd timer, CI).
//
// # Configuration
//
// Configuration is loaded via Koanf v2 with layered sources (highest
// priority wins):
//   - Environment variables (FAMEDLY_SYNC__<SECTION>__<KEY>)
//   - Config file (FAMEDLY_SYNC_CONFIG, default ./config.yaml)
//   - Built-in defaults
//
// Exactly one source must be configured under `sources`: `ldap`,
// `csv`, or `ukt`.
//
// # Exit Codes
//
//	0  the run completed with no failures
//	1  at least one per-user or infrastructure failure
//	2  configuration error
//
// # Signal Handling
//
// SIGINT and SIGTERM cancel in-flight I/O and exit non-zero. Partially
// applied mutations are left in place; the next run converges them.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/famedly/sync-agent/internal/agent"
	"github.com/famedly/sync-agent/internal/config"
	"github.com/famedly/sync-agent/internal/logging"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load()
	if err != nil {
		// Default logger: the logging config is part of what failed.
		logging.Error().Err(err).Msg("failed to load configuration")
		return agent.ExitConfig
	}

	logging.Init(logging.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	code := agent.New(cfg).Run(ctx)
	if ctx.Err() != nil {
		logging.Warn().Msg("interrupted, exiting")
		return agent.ExitFailure
	}
	return code
}
