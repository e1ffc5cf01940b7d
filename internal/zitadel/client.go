// famedly-sync - Zitadel user synchronization agent
// Copyright 2026 Famedly GmbH
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/famedly/sync-agent

package zitadel

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"github.com/famedly/sync-agent/internal/config"
	"github.com/famedly/sync-agent/internal/logging"
)

const (
	// orgHeader scopes management API calls to the target organization.
	orgHeader = "x-zitadel-orgid"

	// requestsPerSecond caps the request rate against the API to stay
	// clear of Zitadel's per-instance limits during large runs.
	requestsPerSecond = 20
	requestBurst      = 20

	breakerFailureThreshold = 5
	breakerRecoveryTimeout  = 30 * time.Second
)

// httpResult carries a completed response through the circuit breaker.
// 5xx responses are returned as errors so they count as failures.
type httpResult struct {
	status int
	body   []byte
}

// Client talks to a single Zitadel instance on behalf of one
// organization and project. All mutations honor dry-run mode by
// logging the intended change and returning without a request.
type Client struct {
	baseURL   string
	orgID     string
	projectID string
	idpID     string

	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker[*httpResult]
	limiter    *rate.Limiter
	log        zerolog.Logger

	tokenMu   sync.Mutex
	tokens    oauth2.TokenSource
	newTokens func(ctx context.Context) (oauth2.TokenSource, error)

	dryRun        bool
	emailVerified bool
	phoneVerified bool
}

// New builds a client from the zitadel section of the configuration.
// Feature flags control dry-run mode and whether synced email and
// phone values are marked verified.
func New(cfg config.ZitadelConfig, flags config.FeatureFlags) *Client {
	c := &Client{
		baseURL:   strings.TrimRight(cfg.URL, "/"),
		orgID:     cfg.OrganizationID,
		projectID: cfg.ProjectID,
		idpID:     cfg.IdpID,
		httpClient: &http.Client{
			Timeout: cfg.RequestTimeout,
		},
		limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), requestBurst),
		log:     logging.With().Str("component", "zitadel").Logger(),

		dryRun: flags.IsEnabled(config.FlagDryRun),
		// Synced values count as verified unless the deployment asks
		// users to confirm them.
		emailVerified: !flags.IsEnabled(config.FlagVerifyEmail),
		phoneVerified: !flags.IsEnabled(config.FlagVerifyPhone),
	}

	c.newTokens = func(ctx context.Context) (oauth2.TokenSource, error) {
		return newTokenSource(ctx, c.baseURL, cfg.KeyFile)
	}

	c.breaker = gobreaker.NewCircuitBreaker[*httpResult](gobreaker.Settings{
		Name:        "zitadel",
		MaxRequests: 3,
		Timeout:     breakerRecoveryTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= breakerFailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.log.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuit breaker state change")
		},
	})

	return c
}

// do performs one API call with rate limiting, the circuit breaker and
// a single forced re-authentication on 401. A non-nil out is decoded
// from the response body on success.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding %s %s request: %w", method, path, err)
		}
	}

	for attempt := 0; ; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}

		res, err := c.roundTrip(ctx, method, path, payload)
		if err != nil {
			return err
		}

		if res.status == http.StatusUnauthorized && attempt == 0 {
			c.log.Debug().Str("path", path).Msg("access token rejected, re-authenticating")
			c.invalidateToken()
			continue
		}

		if res.status >= 400 {
			return newAPIError(res.status, res.body)
		}

		if out != nil && len(res.body) > 0 {
			if err := json.Unmarshal(res.body, out); err != nil {
				return fmt.Errorf("decoding %s %s response: %w", method, path, err)
			}
		}
		return nil
	}
}

// roundTrip sends one request through the circuit breaker. Transport
// failures and 5xx responses are breaker failures; 4xx responses are
// successful round trips from the breaker's point of view.
func (c *Client) roundTrip(ctx context.Context, method, path string, payload []byte) (*httpResult, error) {
	return c.breaker.Execute(func() (*httpResult, error) {
		token, err := c.token(ctx)
		if err != nil {
			return nil, err
		}

		var reqBody io.Reader
		if payload != nil {
			reqBody = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Accept", "application/json")
		req.Header.Set(orgHeader, c.orgID)
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, &APIError{Message: err.Error()}
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, &APIError{Message: fmt.Sprintf("reading response body: %v", err)}
		}

		if resp.StatusCode >= 500 {
			return nil, newAPIError(resp.StatusCode, data)
		}
		return &httpResult{status: resp.StatusCode, body: data}, nil
	})
}
