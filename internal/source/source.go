// famedly-sync - Zitadel user synchronization agent
// Copyright 2026 Famedly GmbH
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/famedly/sync-agent

// Package source defines the capability set a sync source exposes to
// the reconciliation engine. Exactly one concrete source is selected at
// startup; there is no plugin mechanism.
package source

import (
	"context"
	"fmt"

	"github.com/famedly/sync-agent/internal/model"
)

// Result is one element from a source's user stream. Exactly one of
// User and Err is set. A *RecordError in Err is a per-record failure
// the engine logs and skips; any other error aborts the run.
type Result struct {
	User *model.User
	Err  error
}

// Source streams the authoritative set of users.
type Source interface {
	// Name identifies the source in logs.
	Name() string

	// Users starts streaming users. Readers may overlap fetching with
	// consumption through a small bounded channel; the channel is
	// closed when the source is exhausted.
	Users(ctx context.Context) (<-chan Result, error)

	// DeletesByAbsence reports whether users absent from this source
	// must be deleted from Zitadel. When false the engine never issues
	// deletions for missing users.
	DeletesByAbsence() bool
}

// RecordError is a per-record source failure: one entry could not be
// turned into a sync user. The run continues past it.
type RecordError struct {
	// ExternalIDHex identifies the record when derivable; may be empty.
	ExternalIDHex string
	Reason        error
}

func (e *RecordError) Error() string {
	if e.ExternalIDHex == "" {
		return fmt.Sprintf("invalid source record: %v", e.Reason)
	}
	return fmt.Sprintf("invalid source record %s: %v", e.ExternalIDHex, e.Reason)
}

func (e *RecordError) Unwrap() error {
	return e.Reason
}
