// famedly-sync - Zitadel user synchronization agent
// Copyright 2026 Famedly GmbH
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/famedly/sync-agent

package ldap

import (
	"fmt"
	"strconv"
	"strings"
)

// parseEnabled interprets the status attribute value.
//
// The literal strings TRUE/FALSE take precedence: TRUE marks the
// account disabled. Any other value is interpreted as an unsigned
// integer — decimal when it parses as text, big-endian bytes otherwise
// — and the account is disabled iff any configured mask ANDs non-zero
// against it.
func (r *Reader) parseEnabled(raw []byte) (bool, error) {
	switch string(raw) {
	case "TRUE":
		return false, nil
	case "FALSE":
		return true, nil
	}

	masks := r.cfg.Attributes.DisableBitmasks
	if len(masks) == 0 {
		return false, fmt.Errorf("cannot interpret status value without disable_bitmasks")
	}

	value, err := statusValue(raw)
	if err != nil {
		return false, err
	}

	for _, mask := range masks {
		if value&mask != 0 {
			return false, nil
		}
	}
	return true, nil
}

// statusValue decodes the status attribute as an unsigned integer.
func statusValue(raw []byte) (uint64, error) {
	if v, err := strconv.ParseUint(strings.TrimSpace(string(raw)), 10, 64); err == nil {
		return v, nil
	}

	if len(raw) > 8 {
		return 0, fmt.Errorf("status value of %d bytes does not fit a 64-bit flag field", len(raw))
	}
	var v uint64
	for _, b := range raw {
		v = v<<8 | uint64(b)
	}
	return v, nil
}
