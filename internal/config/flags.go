// famedly-sync - Zitadel user synchronization agent
// Copyright 2026 Famedly GmbH
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/famedly/sync-agent

package config

import "fmt"

// FeatureFlag is an opt-in behaviour switch.
type FeatureFlag string

// The recognized feature flags. Unknown flags are a configuration error.
const (
	// FlagSSOLogin adds IDP links on create and repairs them on reconcile.
	FlagSSOLogin FeatureFlag = "sso_login"
	// FlagVerifyEmail stores new and changed emails unverified so the
	// user is prompted to verify.
	FlagVerifyEmail FeatureFlag = "verify_email"
	// FlagVerifyPhone does the same for phone numbers.
	FlagVerifyPhone FeatureFlag = "verify_phone"
	// FlagDryRun logs intended mutations without issuing them.
	FlagDryRun FeatureFlag = "dry_run"
	// FlagDeactivateOnly restricts the run to at-most deactivation.
	FlagDeactivateOnly FeatureFlag = "deactivate_only"
)

// knownFlags is the full recognized set.
var knownFlags = map[FeatureFlag]struct{}{
	FlagSSOLogin:       {},
	FlagVerifyEmail:    {},
	FlagVerifyPhone:    {},
	FlagDryRun:         {},
	FlagDeactivateOnly: {},
}

// FeatureFlags is the set of enabled flags, in configuration order.
type FeatureFlags []FeatureFlag

// IsEnabled reports whether the given flag is set.
func (f FeatureFlags) IsEnabled(flag FeatureFlag) bool {
	for _, have := range f {
		if have == flag {
			return true
		}
	}
	return false
}

// validate rejects flags outside the recognized set.
func (f FeatureFlags) validate() error {
	for _, flag := range f {
		if _, ok := knownFlags[flag]; !ok {
			return fmt.Errorf("unknown feature flag %q", flag)
		}
	}
	return nil
}
