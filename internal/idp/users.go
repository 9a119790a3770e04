package idp

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strings"

	apperrors "identity-provisioning/internal/errors"
	"identity-provisioning/internal/identity/domain"
)

type credentialRepresentation struct {
	Type      string `json:"type"`
	Value     string `json:"value"`
	Temporary bool   `json:"temporary"`
}

type userRepresentation struct {
	ID              string                     `json:"id,omitempty"`
	Username        string                     `json:"username,omitempty"`
	Email           string                     `json:"email,omitempty"`
	FirstName       string                     `json:"firstName"`
	LastName        string                     `json:"lastName"`
	Enabled         bool                       `json:"enabled"`
	EmailVerified   bool                       `json:"emailVerified"`
	Credentials     []credentialRepresentation `json:"credentials,omitempty"`
	RequiredActions []string                   `json:"requiredActions"`
	Attributes      map[string][]string        `json:"attributes,omitempty"`
}

// localIDAttribute links a remote user to the local identity it was created for.
const localIDAttribute = "local_id"

// ownedBy reports whether u was created for candidate. Users created without a local id marker are
// matched on email instead.
func (u userRepresentation) ownedBy(candidate *domain.Identity) bool {
	if candidate.ID != "" {
		for _, v := range u.Attributes[localIDAttribute] {
			if v == candidate.ID {
				return true
			}
		}
		return false
	}
	return strings.EqualFold(u.Email, candidate.Email)
}

func passwordCredential(plaintext string) credentialRepresentation {
	return credentialRepresentation{Type: "password", Value: plaintext, Temporary: false}
}

// CreateRemoteIdentity creates the remote user with a non-temporary password and returns its id.
// The user is tagged with the candidate's local id. A 409 seen only after a retried attempt is
// resolved by looking the user up, and the found user is adopted only when it carries that tag, so a
// lost response never produces a second remote identity and never claims someone else's.
func (c *Client) CreateRemoteIdentity(ctx context.Context, candidate *domain.Identity, plaintextPassword string) (string, error) {
	var attrs map[string][]string
	if candidate.ID != "" {
		attrs = map[string][]string{localIDAttribute: {candidate.ID}}
	}
	body := userRepresentation{
		Username:        candidate.Username,
		Email:           candidate.Email,
		FirstName:       candidate.FirstName,
		LastName:        candidate.LastName,
		Enabled:         candidate.Active,
		EmailVerified:   true,
		Credentials:     []credentialRepresentation{passwordCredential(plaintextPassword)},
		RequiredActions: []string{},
		Attributes:      attrs,
	}
	resp, err := c.do(ctx, request{op: "create user", method: http.MethodPost, path: "/users", body: body})
	if err != nil {
		return "", err
	}
	switch {
	case resp.status == http.StatusCreated:
		if id := idFromLocation(resp.header.Get("Location")); id != "" {
			return id, nil
		}
		return c.FindByUsername(ctx, candidate.Username)
	case resp.status == http.StatusConflict && resp.attempts > 1:
		c.logger.InfoContext(ctx, "idp create conflict after retry; resolving by username", "username", candidate.Username)
		u, err := c.findUser(ctx, candidate.Username)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return "", err
		}
		if err != nil || !u.ownedBy(candidate) {
			c.logger.WarnContext(ctx, "idp create conflict with a foreign user", "username", candidate.Username, "remote_id", u.ID)
			return "", classify("create user", resp)
		}
		return u.ID, nil
	case resp.ok():
		return c.FindByUsername(ctx, candidate.Username)
	}
	return "", classify("create user", resp)
}

func idFromLocation(loc string) string {
	if loc == "" {
		return ""
	}
	u, err := url.Parse(loc)
	if err != nil {
		return ""
	}
	id := path.Base(u.Path)
	if id == "." || id == "/" || id == "users" {
		return ""
	}
	return id
}

// UpdateRemoteIdentity propagates profile fields and the active flag. The password is untouched.
func (c *Client) UpdateRemoteIdentity(ctx context.Context, identity *domain.Identity) error {
	if identity.RemoteID == "" {
		return apperrors.Wrap(apperrors.KindRemoteProvisioning, "identity is not linked to a remote identity", ErrNotFound)
	}
	body := userRepresentation{
		Username:        identity.Username,
		Email:           identity.Email,
		FirstName:       identity.FirstName,
		LastName:        identity.LastName,
		Enabled:         identity.Active,
		EmailVerified:   true,
		RequiredActions: []string{},
	}
	resp, err := c.do(ctx, request{op: "update user", method: http.MethodPut, path: "/users/" + url.PathEscape(identity.RemoteID), body: body})
	if err != nil {
		return err
	}
	if !resp.ok() {
		return classify("update user", resp)
	}
	return nil
}

// SetRemotePassword resets the remote password as non-temporary.
func (c *Client) SetRemotePassword(ctx context.Context, remoteID, plaintext string) error {
	resp, err := c.do(ctx, request{
		op:     "reset password",
		method: http.MethodPut,
		path:   "/users/" + url.PathEscape(remoteID) + "/reset-password",
		body:   passwordCredential(plaintext),
	})
	if err != nil {
		return err
	}
	if !resp.ok() {
		return classify("reset password", resp)
	}
	return nil
}

// DeleteRemoteIdentity deletes the remote user. A missing user is reported as an error wrapping
// ErrNotFound; callers decide whether absence counts as success.
func (c *Client) DeleteRemoteIdentity(ctx context.Context, remoteID string) error {
	resp, err := c.do(ctx, request{op: "delete user", method: http.MethodDelete, path: "/users/" + url.PathEscape(remoteID)})
	if err != nil {
		return err
	}
	if !resp.ok() {
		return classify("delete user", resp)
	}
	return nil
}

// FindByUsername returns the remote id for an exact username match.
func (c *Client) FindByUsername(ctx context.Context, username string) (string, error) {
	u, err := c.findUser(ctx, username)
	if err != nil {
		return "", err
	}
	return u.ID, nil
}

func (c *Client) findUser(ctx context.Context, username string) (userRepresentation, error) {
	resp, err := c.do(ctx, request{
		op:     "find user",
		method: http.MethodGet,
		path:   "/users",
		query:  url.Values{"username": {username}, "exact": {"true"}},
	})
	if err != nil {
		return userRepresentation{}, err
	}
	if !resp.ok() {
		return userRepresentation{}, classify("find user", resp)
	}
	var users []userRepresentation
	if err := resp.decode(&users); err != nil {
		return userRepresentation{}, apperrors.Wrap(apperrors.KindRemoteProvisioning, "identity provider returned an invalid response", err)
	}
	for _, u := range users {
		if strings.EqualFold(u.Username, username) && u.ID != "" {
			return u, nil
		}
	}
	return userRepresentation{}, apperrors.Wrap(apperrors.KindRemoteProvisioning, "remote identity not found", fmt.Errorf("%w: user %q", ErrNotFound, username))
}
