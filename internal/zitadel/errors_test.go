// famedly-sync - Zitadel user synchronization agent
// Copyright 2026 Famedly GmbH
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/famedly/sync-agent

package zitadel

import (
	"fmt"
	"testing"

	gobreaker "github.com/sony/gobreaker/v2"
)

func TestNewAPIErrorParsesDetails(t *testing.T) {
	body := []byte(`{"code":3,"message":"invalid phone","details":[{"id":"PHONE-so0wa","message":"Errors.User.Phone.Invalid"}]}`)
	apiErr := newAPIError(400, body)

	if apiErr.Status != 400 {
		t.Errorf("Status = %d, want 400", apiErr.Status)
	}
	if apiErr.ID != "PHONE-so0wa" {
		t.Errorf("ID = %q, want PHONE-so0wa", apiErr.ID)
	}
	if apiErr.Message != "invalid phone; Errors.User.Phone.Invalid" {
		t.Errorf("Message = %q", apiErr.Message)
	}
}

func TestNewAPIErrorNonJSONBody(t *testing.T) {
	apiErr := newAPIError(502, []byte("bad gateway\n"))
	if apiErr.Message != "bad gateway" {
		t.Errorf("Message = %q, want raw body", apiErr.Message)
	}
	if apiErr.ID != "" {
		t.Errorf("ID = %q, want empty", apiErr.ID)
	}
}

func TestIsNotFound(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"status 404", &APIError{Status: 404, Message: "not found"}, true},
		{"user not found message", &APIError{Status: 400, Message: "Errors.User.NotFound"}, true},
		{"error id style", &APIError{Status: 400, Message: "ID=USER-3k2Fs.not.found"}, true},
		{"other 400", &APIError{Status: 400, Message: "Errors.Invalid.Argument"}, false},
		{"wrapped", fmt.Errorf("lookup: %w", &APIError{Status: 404}), true},
		{"plain error", fmt.Errorf("boom"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsNotFound(tt.err); got != tt.want {
				t.Errorf("IsNotFound() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsPhoneInvalid(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"error id field", &APIError{Status: 400, ID: "PHONE-so0wa", Message: "invalid"}, true},
		{"error id in message", &APIError{Status: 400, Message: "ID=PHONE-so0wa rejected"}, true},
		{"message text", &APIError{Status: 400, Message: "the phone number is invalid"}, true},
		{"message text case", &APIError{Status: 400, Message: "Phone Number Is Invalid"}, true},
		{"other 400", &APIError{Status: 400, Message: "Errors.User.Email.Invalid"}, false},
		{"500 with phone text", &APIError{Status: 500, Message: "phone number is invalid"}, false},
		{"plain error", fmt.Errorf("phone number is invalid"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsPhoneInvalid(tt.err); got != tt.want {
				t.Errorf("IsPhoneInvalid() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsAuth(t *testing.T) {
	if !IsAuth(&APIError{Status: 401}) || !IsAuth(&APIError{Status: 403}) {
		t.Error("401 and 403 should be auth errors")
	}
	if IsAuth(&APIError{Status: 404}) || IsAuth(fmt.Errorf("boom")) {
		t.Error("non-auth errors misclassified")
	}
}

func TestIsUnavailable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"transport failure", &APIError{Status: 0, Message: "connection refused"}, true},
		{"bad gateway", &APIError{Status: 502}, true},
		{"breaker open", gobreaker.ErrOpenState, true},
		{"breaker half open", gobreaker.ErrTooManyRequests, true},
		{"wrapped breaker", fmt.Errorf("call: %w", gobreaker.ErrOpenState), true},
		{"client error", &APIError{Status: 400}, false},
		{"plain error", fmt.Errorf("boom"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsUnavailable(tt.err); got != tt.want {
				t.Errorf("IsUnavailable() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsBenign(t *testing.T) {
	err := &APIError{Status: 400, Message: "Errors.UserGrant.AlreadyExists"}
	if !isBenign(err, "AlreadyExist") {
		t.Error("marker match not detected")
	}
	if isBenign(err, "AlreadyInactive") {
		t.Error("unrelated marker matched")
	}
	if isBenign(&APIError{Status: 500, Message: "AlreadyExists"}, "AlreadyExist") {
		t.Error("5xx must never be benign")
	}
}
