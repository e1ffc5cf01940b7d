// famedly-sync - Zitadel user synchronization agent
// Copyright 2026 Famedly GmbH
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/famedly/sync-agent

package config

import (
	"fmt"
	"net/url"
	"os"

	"github.com/go-playground/validator/v10"
)

// validate is the shared validator instance for struct tags.
var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the configuration for structural and semantic errors.
// Any error here is a configuration error (exit code 2).
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("configuration invalid: %w", err)
	}

	if err := c.FeatureFlags.validate(); err != nil {
		return err
	}

	if err := c.validateZitadel(); err != nil {
		return err
	}

	switch n := c.Sources.sourceCount(); n {
	case 0:
		return fmt.Errorf("no source configured; exactly one of ldap, csv, ukt is required")
	case 1:
		// ok
	default:
		return fmt.Errorf("%d sources configured; exactly one of ldap, csv, ukt is required", n)
	}

	if c.Sources.LDAP != nil {
		if err := c.Sources.LDAP.validate(); err != nil {
			return err
		}
	}
	if c.Sources.UKT != nil {
		if err := c.Sources.UKT.validate(); err != nil {
			return err
		}
	}

	return nil
}

func (c *Config) validateZitadel() error {
	// A URL like famedly.de:443 parses with the host as scheme, so an
	// explicit scheme check is needed on top of url.Parse.
	u, err := url.Parse(c.Zitadel.URL)
	if err != nil {
		return fmt.Errorf("invalid zitadel URL %q: %w", c.Zitadel.URL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("zitadel URL scheme must be http or https, e.g. https://%s", c.Zitadel.URL)
	}

	if _, err := os.Stat(c.Zitadel.KeyFile); err != nil {
		return fmt.Errorf("zitadel key file %q not readable: %w", c.Zitadel.KeyFile, err)
	}

	if c.FeatureFlags.IsEnabled(FlagSSOLogin) && c.Zitadel.IdpID == "" {
		return fmt.Errorf("feature flag sso_login requires zitadel.idp_id")
	}

	if c.Zitadel.RequestTimeout <= 0 {
		return fmt.Errorf("zitadel.request_timeout must be positive")
	}

	return nil
}

func (l *LDAPSourceConfig) validate() error {
	u, err := url.Parse(l.URL)
	if err != nil {
		return fmt.Errorf("invalid LDAP URL %q: %w", l.URL, err)
	}

	switch u.Scheme {
	case "ldap":
		// plaintext, optionally upgraded via STARTTLS
	case "ldaps":
		if l.TLS != nil && l.TLS.DangerUseStartTLS {
			return fmt.Errorf("danger_use_start_tls cannot be combined with an ldaps:// URL")
		}
	default:
		return fmt.Errorf("LDAP URL scheme must be ldap or ldaps, got %q", u.Scheme)
	}

	if l.TLS != nil {
		haveKey := l.TLS.ClientKey != ""
		haveCert := l.TLS.ClientCertificate != ""
		if haveKey != haveCert {
			return fmt.Errorf("both client_key and client_certificate must be set for mTLS")
		}
	}

	if l.Timeout == 0 {
		l.Timeout = 5
	}
	if l.Timeout < 0 {
		return fmt.Errorf("ldap timeout must be positive, got %d", l.Timeout)
	}

	for name, attr := range map[string]AttributeMapping{
		"first_name": l.Attributes.FirstName,
		"last_name":  l.Attributes.LastName,
		"email":      l.Attributes.Email,
		"user_id":    l.Attributes.UserID,
		"status":     l.Attributes.Status,
	} {
		if attr.Name == "" {
			return fmt.Errorf("ldap attribute mapping %q is required", name)
		}
	}

	return nil
}

func (u *UKTSourceConfig) validate() error {
	if u.GrantType == "" {
		u.GrantType = "client_credentials"
	}
	// The token exchange is a client-credentials flow; other grant
	// types have no meaning for a machine account.
	if u.GrantType != "client_credentials" {
		return fmt.Errorf("ukt grant_type must be client_credentials, got %q", u.GrantType)
	}
	return nil
}
