// famedly-sync - Zitadel user synchronization agent
// Copyright 2026 Famedly GmbH
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/famedly/sync-agent

// Package csv reads the authoritative user roster from a flat CSV file.
//
// The file must carry the header columns email, first_name, last_name,
// phone and localpart (any order). This source is authoritative for
// presence: every Zitadel user absent from the file is deleted.
package csv

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"

	"github.com/famedly/sync-agent/internal/config"
	"github.com/famedly/sync-agent/internal/logging"
	"github.com/famedly/sync-agent/internal/model"
	"github.com/famedly/sync-agent/internal/source"
)

// requiredColumns is the exact header column set.
var requiredColumns = []string{"email", "first_name", "last_name", "phone", "localpart"}

// Reader is the CSV sync source.
type Reader struct {
	cfg config.CSVSourceConfig
	log zerolog.Logger
}

// New creates a CSV reader from the validated configuration.
func New(cfg *config.CSVSourceConfig) *Reader {
	return &Reader{
		cfg: *cfg,
		log: logging.With().Str("component", "csv").Logger(),
	}
}

// Name implements source.Source.
func (r *Reader) Name() string { return "csv" }

// DeletesByAbsence implements source.Source. The roster is always
// authoritative for presence.
func (r *Reader) DeletesByAbsence() bool { return true }

// Users implements source.Source. The whole file is read eagerly; the
// channel replays the parsed results.
func (r *Reader) Users(ctx context.Context) (<-chan source.Result, error) {
	results, err := r.readFile()
	if err != nil {
		return nil, err
	}

	out := make(chan source.Result, len(results))
	for _, res := range results {
		out <- res
	}
	close(out)
	return out, nil
}

// readFile parses the roster. A malformed row is a per-record result;
// an unreadable file or a bad header fails the source.
func (r *Reader) readFile() ([]source.Result, error) {
	f, err := os.Open(r.cfg.FilePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open CSV file %s: %w", r.cfg.FilePath, err)
	}
	defer func() { _ = f.Close() }()

	reader := csv.NewReader(f)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV header from %s: %w", r.cfg.FilePath, err)
	}

	columns := make(map[string]int, len(header))
	for i, name := range header {
		columns[name] = i
	}
	for _, required := range requiredColumns {
		if _, ok := columns[required]; !ok {
			return nil, fmt.Errorf("CSV header of %s is missing column %q", r.cfg.FilePath, required)
		}
	}

	var results []source.Result
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			results = append(results, source.Result{
				Err: &source.RecordError{Reason: fmt.Errorf("malformed CSV row: %w", err)},
			})
			continue
		}

		results = append(results, r.parseRecord(columns, record))
	}

	return results, nil
}

// parseRecord builds a canonical user from one roster row. The
// localpart doubles as the external ID for this source.
func (r *Reader) parseRecord(columns map[string]int, record []string) source.Result {
	field := func(name string) string { return record[columns[name]] }

	localpart := field("localpart")
	u := &model.User{
		FirstName:  field("first_name"),
		LastName:   field("last_name"),
		Email:      field("email"),
		Phone:      field("phone"),
		Enabled:    true,
		ExternalID: []byte(localpart),
		Localpart:  localpart,
	}
	u.DisplayName = model.FallbackDisplayName(u.FirstName, u.LastName)

	if err := u.Validate(); err != nil {
		return source.Result{Err: &source.RecordError{
			ExternalIDHex: u.ExternalIDHex(),
			Reason:        err,
		}}
	}
	return source.Result{User: u}
}
