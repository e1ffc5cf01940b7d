// famedly-sync - Zitadel user synchronization agent
// Copyright 2026 Famedly GmbH
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/famedly/sync-agent

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// defaultConfig returns a Config with the built-in defaults. These are
// applied first, then overridden by the config file and env vars.
func defaultConfig() *Config {
	return &Config{
		Zitadel: ZitadelConfig{
			RequestTimeout: 30 * time.Second,
		},
		LogLevel:  "info",
		LogFormat: "json",
	}
}

// ConfigPath returns the configured config file path.
func ConfigPath() string {
	if path := os.Getenv(ConfigPathEnvVar); path != "" {
		return path
	}
	return DefaultConfigPath
}

// Load loads configuration from the default path plus environment.
func Load() (*Config, error) {
	return LoadFile(ConfigPath())
}

// LoadFile loads configuration with layered sources:
//  1. Defaults: built-in values
//  2. Config file: optional YAML file (skipped when absent)
//  3. Environment variables: FAMEDLY_SYNC__<SECTION>__<KEY>, highest priority
//
// The loaded configuration is validated before being returned.
func LoadFile(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if _, err := os.Stat(path); err == nil {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := normalizeAttributeFields(k); err != nil {
		return nil, fmt.Errorf("failed to normalize attribute mappings: %w", err)
	}
	if err := processListFields(k); err != nil {
		return nil, fmt.Errorf("failed to process list fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// envTransformFunc maps FAMEDLY_SYNC__SOURCES__LDAP__BASE_DN to
// sources.ldap.base_dn. Double underscores nest; single underscores are
// part of the key.
func envTransformFunc(key string) string {
	key = strings.TrimPrefix(key, EnvPrefix)
	return strings.ReplaceAll(strings.ToLower(key), "__", ".")
}

// attributeMappingPaths are config paths that accept either a bare
// attribute name or a {name, is_binary} map.
var attributeMappingPaths = []string{
	"sources.ldap.attributes.first_name",
	"sources.ldap.attributes.last_name",
	"sources.ldap.attributes.preferred_username",
	"sources.ldap.attributes.email",
	"sources.ldap.attributes.phone",
	"sources.ldap.attributes.user_id",
	"sources.ldap.attributes.status",
}

// normalizeAttributeFields rewrites bare-string attribute mappings to
// the map form so they unmarshal into AttributeMapping.
func normalizeAttributeFields(k *koanf.Koanf) error {
	for _, path := range attributeMappingPaths {
		val := k.Get(path)
		if val == nil {
			continue
		}
		if name, ok := val.(string); ok {
			if err := k.Set(path, map[string]interface{}{"name": name, "is_binary": false}); err != nil {
				return fmt.Errorf("failed to set %s: %w", path, err)
			}
		}
	}
	return nil
}

// listConfigPaths are config paths holding lists; env vars provide them
// as space-separated strings.
var listConfigPaths = []string{
	"feature_flags",
	"sources.ldap.attributes.disable_bitmasks",
}

// processListFields splits space-separated env values into slices.
// Bitmask entries are parsed with base-0 so 0x prefixes work the same
// as in YAML.
func processListFields(k *koanf.Koanf) error {
	for _, path := range listConfigPaths {
		val := k.Get(path)
		strVal, ok := val.(string)
		if !ok {
			continue
		}

		parts := strings.Fields(strVal)
		if path == "sources.ldap.attributes.disable_bitmasks" {
			masks := make([]uint64, 0, len(parts))
			for _, p := range parts {
				mask, err := strconv.ParseUint(p, 0, 64)
				if err != nil {
					return fmt.Errorf("invalid disable bitmask %q: %w", p, err)
				}
				masks = append(masks, mask)
			}
			if err := k.Set(path, masks); err != nil {
				return fmt.Errorf("failed to set %s: %w", path, err)
			}
			continue
		}

		if err := k.Set(path, parts); err != nil {
			return fmt.Errorf("failed to set %s: %w", path, err)
		}
	}
	return nil
}
