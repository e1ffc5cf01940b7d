// famedly-sync - Zitadel user synchronization agent
// Copyright 2026 Famedly GmbH
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/famedly/sync-agent

// Package model holds the source-agnostic representation of a syncable
// user. A User is materialized by a reader, consumed by the engine once
// and discarded; it never mutates after construction.
package model

import (
	"encoding/hex"
	"fmt"

	"github.com/rs/zerolog"
)

// User is the canonical in-memory representation of a user to sync.
//
// The tuple (external ID hex, localpart, email) forms the user's
// identity. The external ID hex is stored in the Zitadel profile
// nickname field and is the stable identity across runs; the email is
// the login name and may change.
type User struct {
	// FirstName, LastName and DisplayName are non-empty.
	FirstName   string
	LastName    string
	DisplayName string
	// Email doubles as the Zitadel userName.
	Email string
	// Phone is optional; empty means unset.
	Phone string
	// Enabled is false for accounts the source marks disabled.
	Enabled bool
	// ExternalID is the opaque identifier from the source, raw bytes.
	ExternalID []byte
	// Localpart is used as the Zitadel resource id at creation time.
	Localpart string
}

// ExternalIDHex returns the lowercase hex encoding of the raw external
// ID. Hex keeps the Zitadel-side nickname field lexicographically
// ordered, which the paged listing relies on.
func (u *User) ExternalIDHex() string {
	return hex.EncodeToString(u.ExternalID)
}

// FallbackDisplayName derives a display name from the name fields.
func FallbackDisplayName(firstName, lastName string) string {
	return fmt.Sprintf("%s, %s", lastName, firstName)
}

// Validate checks the mandatory fields.
func (u *User) Validate() error {
	switch {
	case len(u.ExternalID) == 0:
		return fmt.Errorf("missing external ID")
	case u.Localpart == "":
		return fmt.Errorf("missing localpart for %s", u.ExternalIDHex())
	case u.Email == "":
		return fmt.Errorf("missing email for %s", u.ExternalIDHex())
	case u.FirstName == "":
		return fmt.Errorf("missing first name for %s", u.ExternalIDHex())
	case u.LastName == "":
		return fmt.Errorf("missing last name for %s", u.ExternalIDHex())
	case u.DisplayName == "":
		return fmt.Errorf("missing display name for %s", u.ExternalIDHex())
	}
	return nil
}

// MarshalZerologObject implements zerolog.LogObjectMarshaler. All
// attribute payloads are redacted; only the external ID hex, localpart
// and enabled flag identify the user in logs.
func (u *User) MarshalZerologObject(e *zerolog.Event) {
	e.Str("first_name", "***").
		Str("last_name", "***").
		Str("email", "***").
		Str("phone", "***").
		Str("external_id", u.ExternalIDHex()).
		Str("localpart", u.Localpart).
		Bool("enabled", u.Enabled)
}
