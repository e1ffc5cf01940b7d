// famedly-sync - Zitadel user synchronization agent
// Copyright 2026 Famedly GmbH
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/famedly/sync-agent

package ukt

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/famedly/sync-agent/internal/config"
)

// uktFixture runs a fake token endpoint plus deletion-list endpoint.
func uktFixture(t *testing.T, listStatus int, listBody string) *Reader {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Fatalf("token request parse failed: %v", err)
		}
		if got := r.Form.Get("grant_type"); got != "client_credentials" && got != "" {
			t.Errorf("grant_type: got %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"test-token","token_type":"Bearer","expires_in":3600}`))
	})
	mux.HandleFunc("/removed", func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-token" {
			t.Errorf("authorization header: got %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(listStatus)
		_, _ = w.Write([]byte(listBody))
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	return &Reader{
		cfg: config.UKTSourceConfig{
			EndpointURL:  server.URL + "/removed",
			OAuth2URL:    server.URL + "/token",
			ClientID:     "sync",
			ClientSecret: "secret",
			Scope:        "openid read-maillist",
			GrantType:    "client_credentials",
		},
		log:        zerolog.Nop(),
		httpClient: &http.Client{Timeout: 5 * time.Second},
	}
}

func TestDeletionEmails(t *testing.T) {
	r := uktFixture(t, http.StatusOK, `["bob@x.test","Carol@X.Test"]`)

	set, err := r.DeletionEmails(context.Background())
	if err != nil {
		t.Fatalf("DeletionEmails failed: %v", err)
	}

	if len(set) != 2 {
		t.Fatalf("expected 2 emails, got %d", len(set))
	}
	if _, ok := set["bob@x.test"]; !ok {
		t.Error("missing bob@x.test")
	}
	if _, ok := set["carol@x.test"]; !ok {
		t.Error("emails must be lowercased for comparison")
	}
}

func TestDeletionEmailsEmptyList(t *testing.T) {
	r := uktFixture(t, http.StatusOK, `[]`)

	set, err := r.DeletionEmails(context.Background())
	if err != nil {
		t.Fatalf("DeletionEmails failed: %v", err)
	}
	if len(set) != 0 {
		t.Errorf("expected empty set, got %v", set)
	}
}

func TestDeletionEmailsEndpointFailure(t *testing.T) {
	r := uktFixture(t, http.StatusInternalServerError, `oops`)

	_, err := r.DeletionEmails(context.Background())
	if err == nil || !strings.Contains(err.Error(), "status 500") {
		t.Errorf("expected status error, got %v", err)
	}
}

func TestDeletionEmailsBadJSON(t *testing.T) {
	r := uktFixture(t, http.StatusOK, `{"not":"an array"}`)

	_, err := r.DeletionEmails(context.Background())
	if err == nil || !strings.Contains(err.Error(), "decode") {
		t.Errorf("expected decode error, got %v", err)
	}
}

func TestDeletionEmailsAuthFailure(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"invalid_client"}`))
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	r := &Reader{
		cfg: config.UKTSourceConfig{
			EndpointURL:  server.URL + "/removed",
			OAuth2URL:    server.URL + "/token",
			ClientID:     "sync",
			ClientSecret: "wrong",
		},
		log:        zerolog.Nop(),
		httpClient: &http.Client{Timeout: 5 * time.Second},
	}

	_, err := r.DeletionEmails(context.Background())
	if err == nil {
		t.Fatal("expected token exchange failure")
	}
}
