// famedly-sync - Zitadel user synchronization agent
// Copyright 2026 Famedly GmbH
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/famedly/sync-agent

// Package engine reconciles the authoritative source population
// against the IAM user population. One run issues at most one pass of
// mutations per IAM user, serially, so partial failures are easy to
// reason about and the next run converges whatever was left.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/famedly/sync-agent/internal/config"
	"github.com/famedly/sync-agent/internal/logging"
	"github.com/famedly/sync-agent/internal/metrics"
	"github.com/famedly/sync-agent/internal/model"
	"github.com/famedly/sync-agent/internal/source"
	"github.com/famedly/sync-agent/internal/zitadel"
)

// API is the IAM surface the engine mutates. Satisfied by
// *zitadel.Client.
type API interface {
	ListUsers(ctx context.Context, afterNickname string) (<-chan zitadel.ListResult, error)
	CreateHuman(ctx context.Context, u *model.User) (string, error)
	UpdateProfile(ctx context.Context, userID, firstName, lastName, displayName, nickname string) error
	UpdateUsername(ctx context.Context, userID, username string) error
	UpdateEmail(ctx context.Context, userID, email string) error
	UpdatePhone(ctx context.Context, userID, phone string) error
	RemovePhone(ctx context.Context, userID string) error
	SetLocalpartMetadata(ctx context.Context, userID, localpart string) error
	GrantProjectRole(ctx context.Context, userID string) error
	AddIDPLink(ctx context.Context, userID, externalUserID, externalUserName string) error
	HasIDPLink(ctx context.Context, userID string) (bool, error)
	Deactivate(ctx context.Context, userID string) error
	Reactivate(ctx context.Context, userID string) error
	Delete(ctx context.Context, userID string) error
}

// Summary counts the outcome of one run. Failed counts users, not
// individual failed calls; a run is successful iff Failed is zero and
// no fatal error was returned alongside it.
type Summary struct {
	Created     int
	Updated     int
	Deactivated int
	Reactivated int
	Deleted     int
	Skipped     int
	Failed      int
}

// Clean reports whether the run completed without per-user failures.
func (s *Summary) Clean() bool {
	return s.Failed == 0
}

func (s *Summary) MarshalZerologObject(e *zerolog.Event) {
	e.Int("created", s.Created).
		Int("updated", s.Updated).
		Int("deactivated", s.Deactivated).
		Int("reactivated", s.Reactivated).
		Int("deleted", s.Deleted).
		Int("skipped", s.Skipped).
		Int("failed", s.Failed)
}

// Engine applies one source population to the IAM instance.
type Engine struct {
	api API
	log zerolog.Logger

	ssoLogin       bool
	deactivateOnly bool
}

// New builds an engine. The sso_login and deactivate_only flags shape
// the mutation policy; dry_run and the verify flags are interpreted by
// the IAM client underneath.
func New(api API, flags config.FeatureFlags) *Engine {
	return &Engine{
		api:            api,
		log:            logging.With().Str("component", "engine").Logger(),
		ssoLogin:       flags.IsEnabled(config.FlagSSOLogin),
		deactivateOnly: flags.IsEnabled(config.FlagDeactivateOnly),
	}
}

// Run synchronizes the IAM population against the source. Source
// records are drained into a map first; the IAM stream is then walked
// in nickname order, reconciling matches, deleting absentees when the
// source is authoritative for presence, and creating the leftovers.
// Per-user failures are counted and skipped; infrastructure failures
// abort the run.
func (e *Engine) Run(ctx context.Context, src source.Source) (*Summary, error) {
	summary := &Summary{}

	wanted, order, err := e.drainSource(ctx, src, summary)
	if err != nil {
		return summary, err
	}
	e.log.Info().Int("source_users", len(wanted)).Str("source", src.Name()).Msg("source population loaded")

	stream, err := e.api.ListUsers(ctx, "")
	if err != nil {
		return summary, fmt.Errorf("listing IAM users: %w", err)
	}
	for res := range stream {
		if res.Err != nil {
			return summary, res.Err
		}
		iam := res.User

		// Users without a nickname were never created by the agent and
		// are out of scope no matter what the source says.
		if iam.Nickname == "" {
			summary.Skipped++
			metrics.UsersSkipped.Inc()
			continue
		}

		if want, ok := wanted[iam.Nickname]; ok {
			delete(wanted, iam.Nickname)
			e.reconcileExisting(ctx, want, iam, summary)
			continue
		}
		if src.DeletesByAbsence() {
			e.handleMissing(ctx, iam, summary)
			continue
		}
		summary.Skipped++
		metrics.UsersSkipped.Inc()
	}
	if err := ctx.Err(); err != nil {
		return summary, err
	}

	for _, hexID := range order {
		if want, ok := wanted[hexID]; ok {
			e.createNew(ctx, want, summary)
		}
	}

	return summary, nil
}

// RunDeletionList deletes (or, under deactivate_only, deactivates)
// every managed IAM user whose email appears in the given set. Emails
// are compared case-insensitively; the set is expected lowercased.
// Nothing is ever created or updated on this path.
func (e *Engine) RunDeletionList(ctx context.Context, emails map[string]struct{}) (*Summary, error) {
	summary := &Summary{}

	stream, err := e.api.ListUsers(ctx, "")
	if err != nil {
		return summary, fmt.Errorf("listing IAM users: %w", err)
	}
	for res := range stream {
		if res.Err != nil {
			return summary, res.Err
		}
		iam := res.User
		if iam.Nickname == "" {
			summary.Skipped++
			metrics.UsersSkipped.Inc()
			continue
		}
		if _, listed := emails[strings.ToLower(iam.Email)]; listed {
			e.handleMissing(ctx, iam, summary)
			continue
		}
		summary.Skipped++
		metrics.UsersSkipped.Inc()
	}
	if err := ctx.Err(); err != nil {
		return summary, err
	}
	return summary, nil
}

// drainSource collects the source stream into a map keyed by external
// id hex, preserving source order for the create phase. Malformed
// records and in-source duplicates are per-user failures; any other
// stream error is fatal.
func (e *Engine) drainSource(ctx context.Context, src source.Source, summary *Summary) (map[string]*model.User, []string, error) {
	ch, err := src.Users(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("reading source %s: %w", src.Name(), err)
	}

	users := make(map[string]*model.User)
	var order []string
	emails := make(map[string]string)

	for res := range ch {
		if res.Err != nil {
			var recErr *source.RecordError
			if errors.As(res.Err, &recErr) {
				summary.Failed++
				metrics.RecordUserError("source")
				e.log.Error().Err(res.Err).
					Str("external_id", recErr.ExternalIDHex).
					Msg("skipping malformed source record")
				continue
			}
			return nil, nil, fmt.Errorf("reading source %s: %w", src.Name(), res.Err)
		}

		u := res.User
		metrics.RecordSourceRecord(src.Name())
		hexID := u.ExternalIDHex()

		if _, dup := users[hexID]; dup {
			summary.Failed++
			metrics.RecordUserError("source")
			e.log.Error().Str("external_id", hexID).Msg("duplicate external id in source, dropping later occurrence")
			continue
		}
		emailKey := strings.ToLower(u.Email)
		if first, dup := emails[emailKey]; dup {
			summary.Failed++
			metrics.RecordUserError("source")
			e.log.Error().
				Str("external_id", hexID).
				Str("first_external_id", first).
				Msg("duplicate email in source, dropping later occurrence")
			continue
		}

		users[hexID] = u
		emails[emailKey] = hexID
		order = append(order, hexID)
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	return users, order, nil
}

// reconcileExisting converges one matched pair. Under deactivate_only
// the only permitted mutation is deactivating a user the source
// disabled. Otherwise a source-disabled user is deleted, and an
// enabled one has reactivation, profile, email and phone applied as
// independent steps so one failure does not mask the rest.
func (e *Engine) reconcileExisting(ctx context.Context, want *model.User, iam *zitadel.IAMUser, summary *Summary) {
	log := e.log.With().Str("external_id", want.ExternalIDHex()).Logger()

	if e.deactivateOnly {
		if !want.Enabled && iam.Active {
			if err := e.api.Deactivate(ctx, iam.ID); err != nil {
				e.failUser(log, summary, "reconcile", err)
				return
			}
			summary.Deactivated++
			metrics.UsersDeactivated.Inc()
			log.Info().Msg("user deactivated")
			return
		}
		summary.Skipped++
		metrics.UsersSkipped.Inc()
		return
	}

	if !want.Enabled {
		if err := e.api.Delete(ctx, iam.ID); err != nil {
			e.failUser(log, summary, "delete", err)
			return
		}
		summary.Deleted++
		metrics.UsersDeleted.Inc()
		log.Info().Msg("user disabled on source, deleted")
		return
	}

	var failed, updated bool
	step := func(name string, err error) bool {
		if err != nil {
			log.Error().Err(err).Str("step", name).Msg("reconcile step failed")
			failed = true
			return false
		}
		return true
	}

	reactivated := false
	if !iam.Active {
		if step("reactivate", e.api.Reactivate(ctx, iam.ID)) {
			reactivated = true
			summary.Reactivated++
			metrics.UsersReactivated.Inc()
		}
	}

	if want.FirstName != iam.FirstName || want.LastName != iam.LastName || want.DisplayName != iam.DisplayName {
		if step("profile", e.api.UpdateProfile(ctx, iam.ID, want.FirstName, want.LastName, want.DisplayName, iam.Nickname)) {
			updated = true
		}
	}

	if want.Email != iam.Email {
		if step("email", e.api.UpdateEmail(ctx, iam.ID, want.Email)) {
			// The login name tracks the email.
			step("username", e.api.UpdateUsername(ctx, iam.ID, want.Email))
			updated = true
		}
	}

	if want.Phone != iam.Phone {
		var err error
		if want.Phone == "" {
			err = e.api.RemovePhone(ctx, iam.ID)
		} else {
			err = e.api.UpdatePhone(ctx, iam.ID, want.Phone)
		}
		if step("phone", err) {
			updated = true
		}
	}

	if e.ssoLogin {
		has, err := e.api.HasIDPLink(ctx, iam.ID)
		if step("idp_check", err) && !has {
			if step("idp_link", e.api.AddIDPLink(ctx, iam.ID, want.ExternalIDHex(), want.Email)) {
				updated = true
			}
		}
	}

	switch {
	case failed:
		summary.Failed++
		metrics.RecordUserError("reconcile")
	case updated:
		summary.Updated++
		metrics.UsersUpdated.Inc()
		log.Info().Msg("user updated")
	case reactivated:
		// Counted above; nothing else changed.
	default:
		summary.Skipped++
		metrics.UsersSkipped.Inc()
	}
}

// createNew provisions one user: create, localpart metadata, project
// role, and the IDP link when sso_login is on. The create must succeed
// before the rest; later steps are logged individually and the next
// run repairs whatever is missing.
func (e *Engine) createNew(ctx context.Context, want *model.User, summary *Summary) {
	log := e.log.With().Str("external_id", want.ExternalIDHex()).Logger()

	if e.deactivateOnly {
		summary.Skipped++
		metrics.UsersSkipped.Inc()
		return
	}
	if !want.Enabled {
		// Disabled on the source and absent in IAM: nothing to do.
		summary.Skipped++
		metrics.UsersSkipped.Inc()
		return
	}

	id, err := e.api.CreateHuman(ctx, want)
	if err != nil {
		e.failUser(log, summary, "create", err)
		return
	}

	var failed bool
	step := func(name string, err error) {
		if err != nil {
			log.Error().Err(err).Str("step", name).Msg("provisioning step failed")
			failed = true
		}
	}
	step("metadata", e.api.SetLocalpartMetadata(ctx, id, want.Localpart))
	step("grant", e.api.GrantProjectRole(ctx, id))
	if e.ssoLogin {
		step("idp_link", e.api.AddIDPLink(ctx, id, want.ExternalIDHex(), want.Email))
	}

	if failed {
		summary.Failed++
		metrics.RecordUserError("create")
		return
	}
	summary.Created++
	metrics.UsersCreated.Inc()
	log.Info().Msg("user created")
}

// handleMissing removes a managed IAM user the source no longer
// vouches for. Under deactivate_only the user is deactivated instead.
func (e *Engine) handleMissing(ctx context.Context, iam *zitadel.IAMUser, summary *Summary) {
	log := e.log.With().Str("external_id", iam.Nickname).Logger()

	if e.deactivateOnly {
		if !iam.Active {
			summary.Skipped++
			metrics.UsersSkipped.Inc()
			return
		}
		if err := e.api.Deactivate(ctx, iam.ID); err != nil {
			e.failUser(log, summary, "delete", err)
			return
		}
		summary.Deactivated++
		metrics.UsersDeactivated.Inc()
		log.Info().Msg("user absent from source, deactivated")
		return
	}

	if err := e.api.Delete(ctx, iam.ID); err != nil {
		e.failUser(log, summary, "delete", err)
		return
	}
	summary.Deleted++
	metrics.UsersDeleted.Inc()
	log.Info().Msg("user absent from source, deleted")
}

func (e *Engine) failUser(log zerolog.Logger, summary *Summary, stage string, err error) {
	summary.Failed++
	metrics.RecordUserError(stage)
	log.Error().Err(err).Msg("user sync failed")
}
