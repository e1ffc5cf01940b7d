// famedly-sync - Zitadel user synchronization agent
// Copyright 2026 Famedly GmbH
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/famedly/sync-agent

package zitadel

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"
)

// APIError is a failure response from the Zitadel API. Status 0 means
// the request never produced a response (network failure, circuit
// breaker open).
type APIError struct {
	// Status is the HTTP status code, 0 for transport failures.
	Status int
	// ID is the Zitadel error id from the response details, e.g.
	// "USER-3k2Fs" or "PHONE-so0wa". May be empty.
	ID string
	// Message is the error message, including detail messages.
	Message string
}

func (e *APIError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("zitadel unreachable: %s", e.Message)
	}
	if e.ID != "" {
		return fmt.Sprintf("zitadel API error %d (%s): %s", e.Status, e.ID, e.Message)
	}
	return fmt.Sprintf("zitadel API error %d: %s", e.Status, e.Message)
}

// errorBody is the grpc-gateway error shape of the v1 and v2 APIs.
type errorBody struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Details []struct {
		ID      string `json:"id"`
		Message string `json:"message"`
	} `json:"details"`
}

// newAPIError parses an error response body into an APIError. A body
// that is not the expected JSON shape is kept verbatim as the message.
func newAPIError(status int, body []byte) *APIError {
	apiErr := &APIError{Status: status, Message: strings.TrimSpace(string(body))}

	var parsed errorBody
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Message != "" {
		messages := []string{parsed.Message}
		for _, d := range parsed.Details {
			if d.ID != "" && apiErr.ID == "" {
				apiErr.ID = d.ID
			}
			if d.Message != "" {
				messages = append(messages, d.Message)
			}
		}
		apiErr.Message = strings.Join(messages, "; ")
	}

	return apiErr
}

// notFoundRe matches the USER-*.not.found family of error ids that some
// Zitadel versions embed in the message instead of a 404 status.
var notFoundRe = regexp.MustCompile(`(?i)USER-\w+\.not\.?found`)

// IsNotFound reports whether the error is a user-not-found condition:
// HTTP 404 or the User.NotFound error variants.
func IsNotFound(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	if apiErr.Status == 404 {
		return true
	}
	return strings.Contains(apiErr.Message, "User.NotFound") || notFoundRe.MatchString(apiErr.Message)
}

// IsAuth reports an unrecoverable authentication or authorization
// failure (401 after re-auth, or 403).
func IsAuth(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.Status == 401 || apiErr.Status == 403
}

// IsUnavailable reports a transport failure, a 5xx response or an open
// circuit breaker.
func IsUnavailable(err error) bool {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return true
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.Status == 0 || apiErr.Status >= 500
}

// phoneInvalidRe matches the message Zitadel returns for a rejected
// phone number.
var phoneInvalidRe = regexp.MustCompile(`(?i)phone number is invalid`)

// IsPhoneInvalid reports the narrow set of responses that trigger the
// create-without-phone retry: a 400 carrying the PHONE-so0wa error id
// or the "phone number is invalid" message. Nothing else retries.
func IsPhoneInvalid(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	if apiErr.Status != 400 {
		return false
	}
	return apiErr.ID == "PHONE-so0wa" ||
		strings.Contains(apiErr.Message, "PHONE-so0wa") ||
		phoneInvalidRe.MatchString(apiErr.Message)
}

// isBenign reports whether a 4xx response matches one of the
// already-satisfied markers for an idempotent mutation ("already
// granted", "already deactivated", ...).
func isBenign(err error, markers ...string) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	if apiErr.Status < 400 || apiErr.Status >= 500 {
		return false
	}
	for _, marker := range markers {
		if strings.Contains(apiErr.Message, marker) {
			return true
		}
	}
	return false
}
