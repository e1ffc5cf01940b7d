// famedly-sync - Zitadel user synchronization agent
// Copyright 2026 Famedly GmbH
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/famedly/sync-agent

package zitadel

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"fmt"
)

// NicknameEncoding classifies how the external id is encoded in the
// nickname field of an existing user population. Older deployments
// stored base64, current ones store lowercase hex.
type NicknameEncoding int

const (
	EncodingHex NicknameEncoding = iota
	EncodingBase64
	EncodingPlain
	EncodingAmbiguous
)

func (e NicknameEncoding) String() string {
	switch e {
	case EncodingHex:
		return "hex"
	case EncodingBase64:
		return "base64"
	case EncodingPlain:
		return "plain"
	default:
		return "ambiguous"
	}
}

// detectionThreshold is the share of nicknames that must agree on one
// encoding before the whole population is migrated under it.
const detectionThreshold = 0.9

func isHexString(s string) bool {
	if len(s) == 0 || len(s)%2 != 0 {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}

func isBase64String(s string) bool {
	_, err := base64.StdEncoding.DecodeString(s)
	return err == nil
}

// DetectNicknameEncoding classifies a nickname sample. Empty nicknames
// are ignored; an empty sample counts as already migrated. Hex is
// checked before base64 because every hex string also decodes as
// base64.
func DetectNicknameEncoding(nicknames []string) NicknameEncoding {
	var hexCount, b64Count, plainCount, total int
	for _, n := range nicknames {
		if n == "" {
			continue
		}
		total++
		switch {
		case isHexString(n):
			hexCount++
		case isBase64String(n):
			b64Count++
		default:
			plainCount++
		}
	}
	if total == 0 {
		return EncodingHex
	}
	switch {
	case float64(hexCount)/float64(total) >= detectionThreshold:
		return EncodingHex
	case float64(b64Count)/float64(total) >= detectionThreshold:
		return EncodingBase64
	case float64(plainCount)/float64(total) >= detectionThreshold:
		return EncodingPlain
	default:
		return EncodingAmbiguous
	}
}

// ConvertNickname rewrites one nickname from the detected encoding to
// lowercase hex. Values that do not decode under the population
// encoding fall back to hex of their raw bytes.
func ConvertNickname(nickname string, enc NicknameEncoding) (string, error) {
	switch enc {
	case EncodingHex:
		return nickname, nil
	case EncodingBase64:
		if raw, err := base64.StdEncoding.DecodeString(nickname); err == nil {
			return hex.EncodeToString(raw), nil
		}
		return hex.EncodeToString([]byte(nickname)), nil
	case EncodingPlain:
		return hex.EncodeToString([]byte(nickname)), nil
	default:
		return "", fmt.Errorf("cannot convert nickname %q: encoding is ambiguous", nickname)
	}
}

// MigrateSummary reports the outcome of a nickname migration run.
type MigrateSummary struct {
	Encoding NicknameEncoding
	Scanned  int
	Migrated int
	Skipped  int
	Failed   int
}

// MigrateNicknames rewrites every managed user's nickname to the hex
// encoding of its external id. The whole population is classified
// first; a mixed population aborts without touching anything. Users
// without a nickname are never touched. Honors dry-run mode through
// the profile update.
func (c *Client) MigrateNicknames(ctx context.Context) (*MigrateSummary, error) {
	stream, err := c.ListUsers(ctx, "")
	if err != nil {
		return nil, err
	}

	var users []*IAMUser
	for res := range stream {
		if res.Err != nil {
			return nil, res.Err
		}
		users = append(users, res.User)
	}

	nicknames := make([]string, 0, len(users))
	for _, u := range users {
		nicknames = append(nicknames, u.Nickname)
	}

	summary := &MigrateSummary{Encoding: DetectNicknameEncoding(nicknames)}
	if summary.Encoding == EncodingAmbiguous {
		return nil, fmt.Errorf("nickname population is mixed, refusing to migrate (%d users)", len(users))
	}
	if summary.Encoding == EncodingHex {
		c.log.Info().Int("users", len(users)).Msg("nicknames already hex encoded, nothing to migrate")
		summary.Skipped = len(users)
		return summary, nil
	}

	for _, u := range users {
		if u.Nickname == "" {
			continue
		}
		summary.Scanned++

		converted, err := ConvertNickname(u.Nickname, summary.Encoding)
		if err != nil {
			summary.Failed++
			c.log.Error().Err(err).Str("user_id", u.ID).Msg("nickname conversion failed")
			continue
		}
		if converted == u.Nickname {
			summary.Skipped++
			continue
		}

		err = c.UpdateProfile(ctx, u.ID, u.FirstName, u.LastName, u.DisplayName, converted)
		if err != nil {
			summary.Failed++
			c.log.Error().Err(err).Str("user_id", u.ID).Msg("nickname migration failed")
			continue
		}
		summary.Migrated++
		c.log.Debug().Str("user_id", u.ID).Str("nickname", converted).Msg("nickname migrated")
	}

	return summary, nil
}
