// famedly-sync - Zitadel user synchronization agent
// Copyright 2026 Famedly GmbH
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/famedly/sync-agent

package model

import (
	"bytes"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func validUser() *User {
	return &User{
		FirstName:   "Alice",
		LastName:    "Doe",
		DisplayName: "Doe, Alice",
		Email:       "alice@x.test",
		Phone:       "+10000000001",
		Enabled:     true,
		ExternalID:  []byte("alice"),
		Localpart:   "616c696365",
	}
}

func TestExternalIDHex(t *testing.T) {
	tests := []struct {
		name string
		id   []byte
		want string
	}{
		{"ascii", []byte("alice"), "616c696365"},
		{"binary", []byte{0x00, 0xff, 0x10}, "00ff10"},
		{"empty", nil, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u := &User{ExternalID: tt.id}
			if got := u.ExternalIDHex(); got != tt.want {
				t.Errorf("ExternalIDHex() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFallbackDisplayName(t *testing.T) {
	if got := FallbackDisplayName("Alice", "Doe"); got != "Doe, Alice" {
		t.Errorf("FallbackDisplayName = %q", got)
	}
}

func TestValidate(t *testing.T) {
	if err := validUser().Validate(); err != nil {
		t.Errorf("valid user failed validation: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*User)
		want   string
	}{
		{"missing external id", func(u *User) { u.ExternalID = nil }, "external ID"},
		{"missing localpart", func(u *User) { u.Localpart = "" }, "localpart"},
		{"missing email", func(u *User) { u.Email = "" }, "email"},
		{"missing first name", func(u *User) { u.FirstName = "" }, "first name"},
		{"missing last name", func(u *User) { u.LastName = "" }, "last name"},
		{"missing display name", func(u *User) { u.DisplayName = "" }, "display name"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u := validUser()
			tt.mutate(u)
			err := u.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}

func TestLogRedaction(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	u := validUser()
	logger.Info().Object("user", u).Msg("test")

	out := buf.String()
	for _, leak := range []string{"Alice", "Doe", "alice@x.test", "+10000000001"} {
		if strings.Contains(out, leak) {
			t.Errorf("log output leaks %q: %s", leak, out)
		}
	}
	if !strings.Contains(out, "616c696365") {
		t.Errorf("log output missing external id hex: %s", out)
	}
}
