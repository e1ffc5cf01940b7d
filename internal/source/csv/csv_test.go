// famedly-sync - Zitadel user synchronization agent
// Copyright 2026 Famedly GmbH
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/famedly/sync-agent

package csv

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/famedly/sync-agent/internal/config"
	"github.com/famedly/sync-agent/internal/model"
	"github.com/famedly/sync-agent/internal/source"
)

func tempCSV(t *testing.T, content string) *Reader {
	t.Helper()
	path := filepath.Join(t.TempDir(), "users.csv")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write CSV: %v", err)
	}
	return &Reader{cfg: config.CSVSourceConfig{FilePath: path}, log: zerolog.Nop()}
}

func drain(t *testing.T, r *Reader) ([]*model.User, []error) {
	t.Helper()
	ch, err := r.Users(context.Background())
	if err != nil {
		t.Fatalf("Users failed: %v", err)
	}
	var users []*model.User
	var errs []error
	for res := range ch {
		if res.Err != nil {
			errs = append(errs, res.Err)
			continue
		}
		users = append(users, res.User)
	}
	return users, errs
}

func TestReadRoster(t *testing.T) {
	r := tempCSV(t, strings.Join([]string{
		"email,first_name,last_name,phone,localpart",
		"john.doe@example.com,John,Doe,+1111111111,john.doe",
		"jane.smith@example.com,Jane,Smith,+2222222222,jane.smith",
		"alice.johnson@example.com,Alice,Johnson,,alice.johnson",
	}, "\n") + "\n")

	users, errs := drain(t, r)
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	if len(users) != 3 {
		t.Fatalf("expected 3 users, got %d", len(users))
	}

	u := users[0]
	if u.Email != "john.doe@example.com" || u.FirstName != "John" || u.LastName != "Doe" {
		t.Errorf("unexpected first user: %+v", u)
	}
	if u.DisplayName != "Doe, John" {
		t.Errorf("display name: got %q", u.DisplayName)
	}
	if u.Localpart != "john.doe" {
		t.Errorf("localpart: got %q", u.Localpart)
	}
	if string(u.ExternalID) != "john.doe" {
		t.Errorf("external id should be the localpart, got %q", u.ExternalID)
	}
	if !u.Enabled {
		t.Error("roster users are always enabled")
	}

	if users[2].Phone != "" {
		t.Errorf("empty phone column should stay empty, got %q", users[2].Phone)
	}
}

func TestHeaderOrderInsensitive(t *testing.T) {
	r := tempCSV(t, strings.Join([]string{
		"localpart,phone,last_name,first_name,email",
		"bob,+44,Builder,Bob,bob@x.test",
	}, "\n") + "\n")

	users, errs := drain(t, r)
	if len(errs) != 0 || len(users) != 1 {
		t.Fatalf("got %d users, %v errors", len(users), errs)
	}
	if users[0].Email != "bob@x.test" || users[0].Localpart != "bob" {
		t.Errorf("unexpected user: %+v", users[0])
	}
}

func TestEmptyRoster(t *testing.T) {
	r := tempCSV(t, "email,first_name,last_name,phone,localpart\n")
	users, errs := drain(t, r)
	if len(users) != 0 || len(errs) != 0 {
		t.Errorf("expected empty roster, got %d users, %v errors", len(users), errs)
	}
}

func TestMissingFile(t *testing.T) {
	r := &Reader{cfg: config.CSVSourceConfig{FilePath: "does-not-exist.csv"}, log: zerolog.Nop()}
	_, err := r.Users(context.Background())
	if err == nil || !strings.Contains(err.Error(), "failed to open") {
		t.Errorf("expected open error, got %v", err)
	}
}

func TestMissingHeaderColumn(t *testing.T) {
	r := tempCSV(t, "email,first_name,last_name,phone\na@x.test,A,B,\n")
	_, err := r.Users(context.Background())
	if err == nil || !strings.Contains(err.Error(), "localpart") {
		t.Errorf("expected header error, got %v", err)
	}
}

func TestMalformedRowIsRecordError(t *testing.T) {
	r := tempCSV(t, strings.Join([]string{
		"email,first_name,last_name,phone,localpart",
		"short-row@example.com",
		"ok@example.com,Ok,User,,ok",
	}, "\n") + "\n")

	users, errs := drain(t, r)
	if len(users) != 1 {
		t.Fatalf("expected 1 good user, got %d", len(users))
	}
	if len(errs) != 1 {
		t.Fatalf("expected 1 record error, got %v", errs)
	}
	var recErr *source.RecordError
	if !errors.As(errs[0], &recErr) {
		t.Errorf("expected RecordError, got %v", errs[0])
	}
}

func TestRowMissingMandatoryField(t *testing.T) {
	r := tempCSV(t, strings.Join([]string{
		"email,first_name,last_name,phone,localpart",
		",John,Doe,,john",
	}, "\n") + "\n")

	users, errs := drain(t, r)
	if len(users) != 0 || len(errs) != 1 {
		t.Fatalf("got %d users, %v errors", len(users), errs)
	}
	var recErr *source.RecordError
	if !errors.As(errs[0], &recErr) {
		t.Fatalf("expected RecordError, got %v", errs[0])
	}
	if recErr.ExternalIDHex != "6a6f686e" {
		t.Errorf("record error external id: got %q", recErr.ExternalIDHex)
	}
}

func TestDeletesByAbsence(t *testing.T) {
	r := &Reader{}
	if !r.DeletesByAbsence() {
		t.Error("CSV source must always delete by absence")
	}
}
