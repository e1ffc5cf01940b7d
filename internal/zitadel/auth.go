// famedly-sync - Zitadel user synchronization agent
// Copyright 2026 Famedly GmbH
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/famedly/sync-agent

package zitadel

import (
	"context"
	"fmt"

	"github.com/zitadel/oidc/v3/pkg/client/profile"
	"github.com/zitadel/oidc/v3/pkg/oidc"
	"golang.org/x/oauth2"
)

// tokenScopes requests the Zitadel system API audience alongside the
// standard OIDC scope, as required for the management and user APIs.
var tokenScopes = []string{
	oidc.ScopeOpenID,
	"urn:zitadel:iam:org:project:id:zitadel:aud",
}

// newTokenSource builds a cached token source from the service-account
// JWT profile key file. The returned source refreshes transparently on
// expiry; invalidateToken discards it entirely when a token is rejected
// before its advertised expiry.
func newTokenSource(ctx context.Context, issuer, keyFile string) (oauth2.TokenSource, error) {
	ts, err := profile.NewJWTProfileTokenSourceFromKeyFile(ctx, issuer, keyFile, tokenScopes)
	if err != nil {
		return nil, fmt.Errorf("loading service account key %s: %w", keyFile, err)
	}
	return oauth2.ReuseTokenSource(nil, ts), nil
}

// token returns a bearer token for the next request, building the
// token source on first use.
func (c *Client) token(ctx context.Context) (string, error) {
	c.tokenMu.Lock()
	defer c.tokenMu.Unlock()

	if c.tokens == nil {
		ts, err := c.newTokens(ctx)
		if err != nil {
			return "", err
		}
		c.tokens = ts
	}

	tok, err := c.tokens.Token()
	if err != nil {
		return "", fmt.Errorf("obtaining access token: %w", err)
	}
	return tok.AccessToken, nil
}

// invalidateToken drops the cached token source so the next request
// performs a full re-authentication. Called once per request on a 401;
// a second 401 with the fresh token is surfaced to the caller.
func (c *Client) invalidateToken() {
	c.tokenMu.Lock()
	c.tokens = nil
	c.tokenMu.Unlock()
}
