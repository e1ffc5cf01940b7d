// famedly-sync - Zitadel user synchronization agent
// Copyright 2026 Famedly GmbH
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/famedly/sync-agent

package zitadel

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"github.com/famedly/sync-agent/internal/config"
)

// newTestClient builds a client against a test server with a static
// bearer token, bypassing the JWT profile exchange.
func newTestClient(t *testing.T, serverURL string, flags ...config.FeatureFlag) *Client {
	t.Helper()
	c := New(config.ZitadelConfig{
		URL:            serverURL,
		OrganizationID: "org-1",
		ProjectID:      "proj-1",
		IdpID:          "idp-1",
		RequestTimeout: 5 * time.Second,
	}, config.FeatureFlags(flags))
	c.tokens = oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "test-token"})
	c.newTokens = func(ctx context.Context) (oauth2.TokenSource, error) {
		return oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "test-token"}), nil
	}
	// Tests fire hundreds of requests; the production rate cap would
	// dominate their runtime.
	c.limiter = rate.NewLimiter(rate.Inf, 0)
	return c
}

func TestDoSetsHeaders(t *testing.T) {
	var got http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	if err := c.do(context.Background(), http.MethodPost, "/management/v1/users/_search", map[string]any{}, nil); err != nil {
		t.Fatalf("do() error: %v", err)
	}

	if auth := got.Get("Authorization"); auth != "Bearer test-token" {
		t.Errorf("Authorization = %q", auth)
	}
	if org := got.Get(orgHeader); org != "org-1" {
		t.Errorf("%s = %q, want org-1", orgHeader, org)
	}
	if ct := got.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
}

func TestDoReauthenticatesOnceOn401(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			http.Error(w, `{"code":16,"message":"token expired"}`, http.StatusUnauthorized)
			return
		}
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	var refreshes int
	c.newTokens = func(ctx context.Context) (oauth2.TokenSource, error) {
		refreshes++
		return oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "fresh-token"}), nil
	}

	if err := c.do(context.Background(), http.MethodGet, "/management/v1/users/1/metadata/localpart", nil, nil); err != nil {
		t.Fatalf("do() error after reauth: %v", err)
	}
	if calls != 2 {
		t.Errorf("server calls = %d, want 2", calls)
	}
	if refreshes != 1 {
		t.Errorf("token refreshes = %d, want 1", refreshes)
	}
}

func TestDoSecond401IsTerminal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"code":16,"message":"invalid key"}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	err := c.do(context.Background(), http.MethodGet, "/management/v1/users/1", nil, nil)
	if err == nil {
		t.Fatal("expected error on persistent 401")
	}
	if !IsAuth(err) {
		t.Errorf("error %v should satisfy IsAuth", err)
	}
}

func TestDoServerErrorIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "internal", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	err := c.do(context.Background(), http.MethodGet, "/management/v1/users/1", nil, nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if !IsUnavailable(err) {
		t.Errorf("error %v should satisfy IsUnavailable", err)
	}
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.Error(w, "internal", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	ctx := context.Background()
	for i := 0; i < breakerFailureThreshold; i++ {
		if err := c.do(ctx, http.MethodGet, "/management/v1/users/1", nil, nil); err == nil {
			t.Fatalf("call %d: expected error", i)
		}
	}

	before := calls
	err := c.do(ctx, http.MethodGet, "/management/v1/users/1", nil, nil)
	if err == nil {
		t.Fatal("expected breaker-open error")
	}
	if !IsUnavailable(err) {
		t.Errorf("error %v should satisfy IsUnavailable", err)
	}
	if calls != before {
		t.Errorf("open breaker still reached the server (%d calls)", calls-before)
	}
}
