// famedly-sync - Zitadel user synchronization agent
// Copyright 2026 Famedly GmbH
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/famedly/sync-agent

// Package config loads and validates the famedly-sync configuration.
//
// Configuration is layered: built-in defaults, then an optional YAML file
// (path from FAMEDLY_SYNC_CONFIG, default ./config.yaml), then environment
// variables of the form FAMEDLY_SYNC__<SECTION>__<KEY>. List values in
// environment variables are space-separated.
package config

import (
	"time"
)

// EnvPrefix is the prefix for environment variable overrides.
const EnvPrefix = "FAMEDLY_SYNC__"

// ConfigPathEnvVar names the environment variable holding the config file path.
const ConfigPathEnvVar = "FAMEDLY_SYNC_CONFIG"

// DefaultConfigPath is used when ConfigPathEnvVar is unset.
const DefaultConfigPath = "./config.yaml"

// Config is the root famedly-sync configuration.
type Config struct {
	Zitadel      ZitadelConfig `koanf:"zitadel"`
	Sources      SourcesConfig `koanf:"sources"`
	FeatureFlags FeatureFlags  `koanf:"feature_flags"`
	LogLevel     string        `koanf:"log_level"`
	LogFormat    string        `koanf:"log_format"`
}

// ZitadelConfig describes the target Zitadel instance.
type ZitadelConfig struct {
	// URL of the Zitadel instance, http or https.
	URL string `koanf:"url" validate:"required"`
	// KeyFile is the path to the service user's JSON key.
	KeyFile string `koanf:"key_file" validate:"required"`
	// OrganizationID scopes every management call.
	OrganizationID string `koanf:"organization_id" validate:"required"`
	// ProjectID is the project whose User grant marks managed users.
	ProjectID string `koanf:"project_id" validate:"required"`
	// IdpID identifies the identity provider for SSO links.
	// Required when the sso_login feature flag is set.
	IdpID string `koanf:"idp_id"`
	// RequestTimeout bounds each HTTP request. Default 30s.
	RequestTimeout time.Duration `koanf:"request_timeout"`
}

// SourcesConfig holds the configured sources. Exactly one must be set.
type SourcesConfig struct {
	LDAP *LDAPSourceConfig `koanf:"ldap"`
	CSV  *CSVSourceConfig  `koanf:"csv"`
	UKT  *UKTSourceConfig  `koanf:"ukt"`
}

// LDAPSourceConfig configures the LDAP reader.
type LDAPSourceConfig struct {
	// URL of the server; scheme ldap or ldaps.
	URL string `koanf:"url" validate:"required"`
	// BaseDN is the subtree root to search under.
	BaseDN string `koanf:"base_dn" validate:"required"`
	// BindDN and BindPassword are used for the simple bind.
	BindDN       string `koanf:"bind_dn" validate:"required"`
	BindPassword string `koanf:"bind_password"`
	// UserFilter selects user entries. Must not filter on status.
	UserFilter string `koanf:"user_filter" validate:"required"`
	// Timeout in seconds for each LDAP operation. Default 5.
	Timeout int64 `koanf:"timeout"`
	// CheckForDeletedEntries makes the source authoritative for
	// presence; users absent from LDAP are deleted from Zitadel.
	CheckForDeletedEntries bool `koanf:"check_for_deleted_entries"`
	// UseAttributeFilter requests exactly the configured attributes
	// instead of the server default. Some servers (notably AD) need
	// the explicit list.
	UseAttributeFilter bool           `koanf:"use_attribute_filter"`
	Attributes         LDAPAttributes `koanf:"attributes"`
	TLS                *LDAPTLSConfig `koanf:"tls"`
}

// LDAPAttributes maps the free-form LDAP schema to sync user fields.
type LDAPAttributes struct {
	FirstName         AttributeMapping `koanf:"first_name"`
	LastName          AttributeMapping `koanf:"last_name"`
	PreferredUsername AttributeMapping `koanf:"preferred_username"`
	Email             AttributeMapping `koanf:"email"`
	Phone             AttributeMapping `koanf:"phone"`
	UserID            AttributeMapping `koanf:"user_id"`
	// Status carries the account state, either the literal strings
	// TRUE/FALSE or an integer flag field like userAccountControl.
	Status AttributeMapping `koanf:"status"`
	// DisableBitmasks mark an account disabled when any mask ANDs
	// non-zero against the status value (e.g. 0x2 for AD's
	// ACCOUNTDISABLE).
	DisableBitmasks []uint64 `koanf:"disable_bitmasks"`
}

// AttributeMapping names an LDAP attribute. In YAML it may be written
// either as a bare string or as {name: ..., is_binary: ...}.
type AttributeMapping struct {
	Name     string `koanf:"name"`
	IsBinary bool   `koanf:"is_binary"`
}

// Names returns the attribute names to request when the attribute
// filter is in use.
func (a LDAPAttributes) Names() []string {
	return []string{
		a.FirstName.Name,
		a.LastName.Name,
		a.PreferredUsername.Name,
		a.Email.Name,
		a.Phone.Name,
		a.UserID.Name,
		a.Status.Name,
	}
}

// LDAPTLSConfig configures transport security for the LDAP connection.
type LDAPTLSConfig struct {
	// ClientKey and ClientCertificate enable mTLS when both are set.
	ClientKey         string `koanf:"client_key"`
	ClientCertificate string `koanf:"client_certificate"`
	// ServerCertificate pins the server's CA; when unset the host
	// trust store is used.
	ServerCertificate string `koanf:"server_certificate"`
	// DangerDisableTLSVerify skips certificate verification. Testing only.
	DangerDisableTLSVerify bool `koanf:"danger_disable_tls_verify"`
	// DangerUseStartTLS upgrades a plaintext ldap:// connection via
	// STARTTLS. Invalid in combination with ldaps://.
	DangerUseStartTLS bool `koanf:"danger_use_start_tls"`
}

// CSVSourceConfig configures the CSV roster reader.
type CSVSourceConfig struct {
	FilePath string `koanf:"file_path" validate:"required"`
}

// UKTSourceConfig configures the UKT deletion-list reader.
type UKTSourceConfig struct {
	EndpointURL  string `koanf:"endpoint_url" validate:"required"`
	OAuth2URL    string `koanf:"oauth2_url" validate:"required"`
	ClientID     string `koanf:"client_id" validate:"required"`
	ClientSecret string `koanf:"client_secret" validate:"required"`
	Scope        string `koanf:"scope"`
	GrantType    string `koanf:"grant_type"`
}

// sourceCount returns how many sources are configured.
func (s SourcesConfig) sourceCount() int {
	n := 0
	if s.LDAP != nil {
		n++
	}
	if s.CSV != nil {
		n++
	}
	if s.UKT != nil {
		n++
	}
	return n
}
