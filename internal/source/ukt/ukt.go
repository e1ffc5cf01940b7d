// famedly-sync - Zitadel user synchronization agent
// Copyright 2026 Famedly GmbH
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/famedly/sync-agent

// Package ukt reads the deletion list from the UKT endpoint. The
// endpoint returns a JSON array of email addresses marked for deletion;
// this source never creates or updates users.
package ukt

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/famedly/sync-agent/internal/config"
	"github.com/famedly/sync-agent/internal/logging"
)

// Reader is the UKT deletion-list source.
type Reader struct {
	cfg        config.UKTSourceConfig
	log        zerolog.Logger
	httpClient *http.Client
}

// New creates a UKT reader from the validated configuration.
func New(cfg *config.UKTSourceConfig) *Reader {
	return &Reader{
		cfg:        *cfg,
		log:        logging.With().Str("component", "ukt").Logger(),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Name identifies the source in logs.
func (r *Reader) Name() string { return "ukt" }

// DeletionEmails performs the client-credentials token exchange and
// fetches the deletion list. Emails are lowercased for comparison
// against Zitadel login names.
func (r *Reader) DeletionEmails(ctx context.Context) (map[string]struct{}, error) {
	cc := clientcredentials.Config{
		ClientID:     r.cfg.ClientID,
		ClientSecret: r.cfg.ClientSecret,
		TokenURL:     r.cfg.OAuth2URL,
		Scopes:       strings.Fields(r.cfg.Scope),
	}

	// Route the token exchange and the list fetch through the same
	// underlying client so the request timeout applies to both.
	ctx = context.WithValue(ctx, oauth2.HTTPClient, r.httpClient)
	client := cc.Client(ctx)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.cfg.EndpointURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build UKT request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("UKT request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("UKT endpoint returned status %d: %s", resp.StatusCode, string(body))
	}

	var emails []string
	if err := json.NewDecoder(resp.Body).Decode(&emails); err != nil {
		return nil, fmt.Errorf("failed to decode UKT deletion list: %w", err)
	}

	set := make(map[string]struct{}, len(emails))
	for _, email := range emails {
		set[strings.ToLower(email)] = struct{}{}
	}

	r.log.Info().Int("count", len(set)).Msg("fetched deletion list")
	return set, nil
}
