// famedly-sync - Zitadel user synchronization agent
// Copyright 2026 Famedly GmbH
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/famedly/sync-agent

package zitadel

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"

	"github.com/famedly/sync-agent/internal/model"
)

const (
	// pageSize is the result window for the management search APIs.
	pageSize = 100

	// streamBuffer decouples page fetching from consumer processing.
	streamBuffer = 64

	// RoleUser is the project role granted to every synced user.
	RoleUser = "User"

	// metadataLocalpart stores the Matrix localpart on the user.
	metadataLocalpart = "localpart"
)

// IAMUser is a human user as stored in Zitadel, reduced to the fields
// the reconciliation compares.
type IAMUser struct {
	ID          string
	UserName    string
	Nickname    string
	FirstName   string
	LastName    string
	DisplayName string
	Email       string
	Phone       string
	Active      bool
}

// ListResult is one element of a user stream: a user or a terminal
// error. After an error the channel is closed.
type ListResult struct {
	User *IAMUser
	Err  error
}

type searchQuery struct {
	Offset uint64 `json:"offset,string"`
	Limit  int    `json:"limit"`
	Asc    bool   `json:"asc"`
}

type userSearchRequest struct {
	Query         searchQuery      `json:"query"`
	SortingColumn string           `json:"sortingColumn,omitempty"`
	Queries       []map[string]any `json:"queries,omitempty"`
}

type userSearchResponse struct {
	Result []searchedUser `json:"result"`
}

type searchedUser struct {
	ID       string `json:"id"`
	UserName string `json:"userName"`
	State    string `json:"state"`
	Human    *struct {
		Profile struct {
			FirstName   string `json:"firstName"`
			LastName    string `json:"lastName"`
			NickName    string `json:"nickName"`
			DisplayName string `json:"displayName"`
		} `json:"profile"`
		Email struct {
			Email string `json:"email"`
		} `json:"email"`
		Phone struct {
			Phone string `json:"phone"`
		} `json:"phone"`
	} `json:"human"`
}

func (s *searchedUser) toIAMUser() *IAMUser {
	u := &IAMUser{
		ID:       s.ID,
		UserName: s.UserName,
		Active:   s.State == "USER_STATE_ACTIVE",
	}
	if s.Human != nil {
		u.FirstName = s.Human.Profile.FirstName
		u.LastName = s.Human.Profile.LastName
		u.Nickname = s.Human.Profile.NickName
		u.DisplayName = s.Human.Profile.DisplayName
		u.Email = s.Human.Email.Email
		u.Phone = s.Human.Phone.Phone
	}
	return u
}

// projectUserIDs resolves the set of user ids holding the User role on
// the configured project. Search results carry no project membership,
// so listing filters against this set.
func (c *Client) projectUserIDs(ctx context.Context) (map[string]struct{}, error) {
	ids := make(map[string]struct{})
	var offset uint64
	for {
		body := map[string]any{
			"query": searchQuery{Offset: offset, Limit: pageSize, Asc: true},
			"queries": []map[string]any{
				{"projectIdQuery": map[string]string{"projectId": c.projectID}},
				{"roleKeyQuery": map[string]string{
					"roleKey": RoleUser,
					"method":  "TEXT_QUERY_METHOD_EQUALS",
				}},
			},
		}
		var resp struct {
			Result []struct {
				UserID string `json:"userId"`
			} `json:"result"`
		}
		if err := c.do(ctx, http.MethodPost, "/management/v1/users/grants/_search", body, &resp); err != nil {
			return nil, fmt.Errorf("listing project grants: %w", err)
		}
		for _, g := range resp.Result {
			ids[g.UserID] = struct{}{}
		}
		if len(resp.Result) < pageSize {
			return ids, nil
		}
		offset += uint64(len(resp.Result))
	}
}

// ListUsers streams every human user of the organization that holds
// the User role on the project, in ascending nickname order. Users
// whose nickname sorts at or below afterNickname are skipped; pass ""
// for the full population. The stream ends after the first error.
//
// The listing is snapshotted before the first user is emitted:
// consumers delete and rename users while they drain the channel, and
// offset windows over a shrinking or reordering population would skip
// whoever slides under the next offset. No page is fetched after the
// first emit, so consumer mutations cannot shift the windows.
func (c *Client) ListUsers(ctx context.Context, afterNickname string) (<-chan ListResult, error) {
	granted, err := c.projectUserIDs(ctx)
	if err != nil {
		return nil, err
	}

	ch := make(chan ListResult, streamBuffer)
	go func() {
		defer close(ch)

		var snapshot []*IAMUser
		var offset uint64
		for {
			body := userSearchRequest{
				Query:         searchQuery{Offset: offset, Limit: pageSize, Asc: true},
				SortingColumn: "USER_FIELD_NAME_NICK_NAME",
				Queries: []map[string]any{
					{"typeQuery": map[string]string{"type": "TYPE_HUMAN"}},
				},
			}
			var resp userSearchResponse
			if err := c.do(ctx, http.MethodPost, "/management/v1/users/_search", body, &resp); err != nil {
				c.emit(ctx, ch, ListResult{Err: fmt.Errorf("listing users at offset %d: %w", offset, err)})
				return
			}
			for i := range resp.Result {
				u := resp.Result[i].toIAMUser()
				if _, ok := granted[u.ID]; !ok {
					continue
				}
				if afterNickname != "" && u.Nickname <= afterNickname {
					continue
				}
				snapshot = append(snapshot, u)
			}
			if len(resp.Result) < pageSize {
				break
			}
			offset += uint64(len(resp.Result))
		}

		for _, u := range snapshot {
			if !c.emit(ctx, ch, ListResult{User: u}) {
				return
			}
		}
	}()
	return ch, nil
}

func (c *Client) emit(ctx context.Context, ch chan<- ListResult, res ListResult) bool {
	select {
	case ch <- res:
		return true
	case <-ctx.Done():
		return false
	}
}

// GetUserByNickname looks up one user by exact nickname. Absence is an
// APIError satisfying IsNotFound.
func (c *Client) GetUserByNickname(ctx context.Context, nickname string) (*IAMUser, error) {
	body := userSearchRequest{
		Query: searchQuery{Limit: 2, Asc: true},
		Queries: []map[string]any{
			{"nickNameQuery": map[string]string{
				"nickName": nickname,
				"method":   "TEXT_QUERY_METHOD_EQUALS",
			}},
		},
	}
	var resp userSearchResponse
	if err := c.do(ctx, http.MethodPost, "/management/v1/users/_search", body, &resp); err != nil {
		return nil, err
	}
	if len(resp.Result) == 0 {
		return nil, &APIError{Status: 404, Message: "User.NotFound"}
	}
	if len(resp.Result) > 1 {
		return nil, fmt.Errorf("nickname %q matches %d users", nickname, len(resp.Result))
	}
	return resp.Result[0].toIAMUser(), nil
}

// CreateHuman creates a human user over the v2 API with the localpart
// as user id and username and the external id hex as nickname. When
// the phone number is rejected as invalid the creation is retried once
// without it; any other failure is returned as-is.
func (c *Client) CreateHuman(ctx context.Context, u *model.User) (string, error) {
	if c.dryRun {
		c.log.Info().
			Str("op", "create_user").
			Str("external_id", u.ExternalIDHex()).
			Str("localpart", u.Localpart).
			Msg("dry run: skipping mutation")
		return u.Localpart, nil
	}

	id, err := c.createHuman(ctx, u, true)
	if err != nil && u.Phone != "" && IsPhoneInvalid(err) {
		c.log.Warn().
			Str("external_id", u.ExternalIDHex()).
			Msg("phone number rejected, creating user without phone")
		id, err = c.createHuman(ctx, u, false)
	}
	return id, err
}

func (c *Client) createHuman(ctx context.Context, u *model.User, withPhone bool) (string, error) {
	// The email doubles as the login name; the Matrix localpart is the
	// stable user id.
	body := map[string]any{
		"userId":   u.Localpart,
		"username": u.Email,
		"organization": map[string]string{
			"orgId": c.orgID,
		},
		"profile": map[string]any{
			"givenName":   u.FirstName,
			"familyName":  u.LastName,
			"nickName":    u.ExternalIDHex(),
			"displayName": u.DisplayName,
		},
		"email": map[string]any{
			"email":      u.Email,
			"isVerified": c.emailVerified,
		},
	}
	if withPhone && u.Phone != "" {
		body["phone"] = map[string]any{
			"phone":      u.Phone,
			"isVerified": c.phoneVerified,
		}
	}

	var resp struct {
		UserID string `json:"userId"`
	}
	if err := c.do(ctx, http.MethodPost, "/v2/users/human", body, &resp); err != nil {
		return "", err
	}
	return resp.UserID, nil
}

// UpdateProfile replaces the profile fields of a user. The nickname is
// written back unchanged unless the caller intends a migration.
func (c *Client) UpdateProfile(ctx context.Context, userID, firstName, lastName, displayName, nickname string) error {
	if c.dryRun {
		c.log.Info().Str("op", "update_profile").Str("user_id", userID).Msg("dry run: skipping mutation")
		return nil
	}
	body := map[string]string{
		"firstName":   firstName,
		"lastName":    lastName,
		"nickName":    nickname,
		"displayName": displayName,
	}
	return c.do(ctx, http.MethodPut, "/management/v1/users/"+userID+"/profile", body, nil)
}

// UpdateUsername rewrites the login name, which tracks the email
// address.
func (c *Client) UpdateUsername(ctx context.Context, userID, username string) error {
	if c.dryRun {
		c.log.Info().Str("op", "update_username").Str("user_id", userID).Msg("dry run: skipping mutation")
		return nil
	}
	body := map[string]string{"userName": username}
	return c.do(ctx, http.MethodPut, "/management/v1/users/"+userID+"/username", body, nil)
}

// UpdateEmail sets the email address, verified per the verify_email
// feature flag.
func (c *Client) UpdateEmail(ctx context.Context, userID, email string) error {
	if c.dryRun {
		c.log.Info().Str("op", "update_email").Str("user_id", userID).Msg("dry run: skipping mutation")
		return nil
	}
	body := map[string]any{
		"email":           email,
		"isEmailVerified": c.emailVerified,
	}
	return c.do(ctx, http.MethodPut, "/management/v1/users/"+userID+"/email", body, nil)
}

// UpdatePhone sets the phone number, verified per the verify_phone
// feature flag.
func (c *Client) UpdatePhone(ctx context.Context, userID, phone string) error {
	if c.dryRun {
		c.log.Info().Str("op", "update_phone").Str("user_id", userID).Msg("dry run: skipping mutation")
		return nil
	}
	body := map[string]any{
		"phone":           phone,
		"isPhoneVerified": c.phoneVerified,
	}
	return c.do(ctx, http.MethodPut, "/management/v1/users/"+userID+"/phone", body, nil)
}

// RemovePhone clears the phone number. An already absent phone is not
// an error.
func (c *Client) RemovePhone(ctx context.Context, userID string) error {
	if c.dryRun {
		c.log.Info().Str("op", "remove_phone").Str("user_id", userID).Msg("dry run: skipping mutation")
		return nil
	}
	err := c.do(ctx, http.MethodDelete, "/management/v1/users/"+userID+"/phone", nil, nil)
	if err != nil && isBenign(err, "Phone.NotFound", "NotFound") {
		return nil
	}
	return err
}

// SetMetadata stores one metadata value on the user. Values go over
// the wire base64 encoded.
func (c *Client) SetMetadata(ctx context.Context, userID, key, value string) error {
	if c.dryRun {
		c.log.Info().Str("op", "set_metadata").Str("user_id", userID).Str("key", key).Msg("dry run: skipping mutation")
		return nil
	}
	body := map[string]string{
		"value": base64.StdEncoding.EncodeToString([]byte(value)),
	}
	return c.do(ctx, http.MethodPost, "/management/v1/users/"+userID+"/metadata/"+key, body, nil)
}

// SetLocalpartMetadata records the Matrix localpart on the user.
func (c *Client) SetLocalpartMetadata(ctx context.Context, userID, localpart string) error {
	return c.SetMetadata(ctx, userID, metadataLocalpart, localpart)
}

// GetMetadata reads one metadata value, decoding the base64 wire form.
func (c *Client) GetMetadata(ctx context.Context, userID, key string) (string, error) {
	var resp struct {
		Metadata struct {
			Value string `json:"value"`
		} `json:"metadata"`
	}
	if err := c.do(ctx, http.MethodGet, "/management/v1/users/"+userID+"/metadata/"+key, nil, &resp); err != nil {
		return "", err
	}
	decoded, err := base64.StdEncoding.DecodeString(resp.Metadata.Value)
	if err != nil {
		return "", fmt.Errorf("decoding metadata %s of user %s: %w", key, userID, err)
	}
	return string(decoded), nil
}

// GrantProjectRole grants the User role on the configured project. An
// existing grant is not an error.
func (c *Client) GrantProjectRole(ctx context.Context, userID string) error {
	if c.dryRun {
		c.log.Info().Str("op", "grant_role").Str("user_id", userID).Msg("dry run: skipping mutation")
		return nil
	}
	body := map[string]any{
		"projectId": c.projectID,
		"roleKeys":  []string{RoleUser},
	}
	err := c.do(ctx, http.MethodPost, "/management/v1/users/"+userID+"/grants", body, nil)
	if err != nil && isBenign(err, "AlreadyExist") {
		return nil
	}
	return err
}

// AddIDPLink attaches the configured identity provider to the user for
// SSO login. The link carries the raw external id and the email as the
// provider-side identity. An existing link is not an error.
func (c *Client) AddIDPLink(ctx context.Context, userID, externalUserID, externalUserName string) error {
	if c.dryRun {
		c.log.Info().Str("op", "add_idp_link").Str("user_id", userID).Msg("dry run: skipping mutation")
		return nil
	}
	body := map[string]any{
		"idpLink": map[string]string{
			"idpId":    c.idpID,
			"userId":   externalUserID,
			"userName": externalUserName,
		},
	}
	err := c.do(ctx, http.MethodPost, "/v2/users/"+userID+"/links", body, nil)
	if err != nil && isBenign(err, "AlreadyExist", "ExternalIDPAlreadyExists") {
		return nil
	}
	return err
}

// HasIDPLink reports whether the user already carries a link to the
// configured identity provider.
func (c *Client) HasIDPLink(ctx context.Context, userID string) (bool, error) {
	body := map[string]any{
		"query": map[string]any{"offset": "0", "limit": pageSize},
	}
	var resp struct {
		Result []struct {
			IdpID string `json:"idpId"`
		} `json:"result"`
	}
	if err := c.do(ctx, http.MethodPost, "/v2/users/"+userID+"/links/_search", body, &resp); err != nil {
		return false, err
	}
	for _, link := range resp.Result {
		if link.IdpID == c.idpID {
			return true, nil
		}
	}
	return false, nil
}

// Deactivate moves the user to the inactive state. An already inactive
// user is not an error.
func (c *Client) Deactivate(ctx context.Context, userID string) error {
	if c.dryRun {
		c.log.Info().Str("op", "deactivate").Str("user_id", userID).Msg("dry run: skipping mutation")
		return nil
	}
	err := c.do(ctx, http.MethodPost, "/management/v1/users/"+userID+"/_deactivate", nil, nil)
	if err != nil && isBenign(err, "AlreadyInactive", "ShouldBeActiveOrInitial") {
		return nil
	}
	return err
}

// Reactivate moves the user back to the active state. An already
// active user is not an error.
func (c *Client) Reactivate(ctx context.Context, userID string) error {
	if c.dryRun {
		c.log.Info().Str("op", "reactivate").Str("user_id", userID).Msg("dry run: skipping mutation")
		return nil
	}
	err := c.do(ctx, http.MethodPost, "/management/v1/users/"+userID+"/_reactivate", nil, nil)
	if err != nil && isBenign(err, "AlreadyActive", "NotInactive") {
		return nil
	}
	return err
}

// Delete removes the user permanently. An already absent user is not
// an error.
func (c *Client) Delete(ctx context.Context, userID string) error {
	if c.dryRun {
		c.log.Info().Str("op", "delete").Str("user_id", userID).Msg("dry run: skipping mutation")
		return nil
	}
	err := c.do(ctx, http.MethodDelete, "/management/v1/users/"+userID, nil, nil)
	if err != nil && IsNotFound(err) {
		return nil
	}
	return err
}
