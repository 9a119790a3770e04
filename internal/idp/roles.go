package idp

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"

	apperrors "identity-provisioning/internal/errors"
	"identity-provisioning/internal/identity/domain"
)

type roleRepresentation struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type groupRepresentation struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Path string `json:"path"`
}

// AssignRole maps the realm role for tag onto the remote user and removes the role of the other tag.
func (c *Client) AssignRole(ctx context.Context, remoteID string, tag domain.RoleTag) error {
	target, err := c.realmRole(ctx, c.cfg.Roles[tag])
	if err != nil {
		return err
	}
	mappings := "/users/" + url.PathEscape(remoteID) + "/role-mappings/realm"
	resp, err := c.do(ctx, request{op: "add role mapping", method: http.MethodPost, path: mappings, body: []roleRepresentation{target}})
	if err != nil {
		return err
	}
	if !resp.ok() {
		return classify("add role mapping", resp)
	}

	other, err := c.realmRole(ctx, c.cfg.Roles[tag.Other()])
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	resp, err = c.do(ctx, request{op: "remove role mapping", method: http.MethodDelete, path: mappings, body: []roleRepresentation{other}})
	if err != nil {
		return err
	}
	if !resp.ok() && resp.status != http.StatusNotFound {
		return classify("remove role mapping", resp)
	}
	return nil
}

func (c *Client) realmRole(ctx context.Context, name string) (roleRepresentation, error) {
	if name == "" {
		return roleRepresentation{}, apperrors.Wrap(apperrors.KindRemoteProvisioning, "no remote role configured", ErrNotFound)
	}
	resp, err := c.do(ctx, request{op: "get role", method: http.MethodGet, path: "/roles/" + url.PathEscape(name)})
	if err != nil {
		return roleRepresentation{}, err
	}
	if !resp.ok() {
		return roleRepresentation{}, classify("get role "+name, resp)
	}
	var role roleRepresentation
	if err := resp.decode(&role); err != nil {
		return roleRepresentation{}, apperrors.Wrap(apperrors.KindRemoteProvisioning, "identity provider returned an invalid response", err)
	}
	return role, nil
}

// AssignGroup joins the remote user to the group for tag and leaves the group of the other tag.
func (c *Client) AssignGroup(ctx context.Context, remoteID string, tag domain.RoleTag) error {
	groupID, err := c.groupID(ctx, c.cfg.Groups[tag])
	if err != nil {
		return err
	}
	userGroups := "/users/" + url.PathEscape(remoteID) + "/groups/"
	resp, err := c.do(ctx, request{op: "join group", method: http.MethodPut, path: userGroups + url.PathEscape(groupID)})
	if err != nil {
		return err
	}
	if !resp.ok() {
		return classify("join group", resp)
	}

	otherID, err := c.groupID(ctx, c.cfg.Groups[tag.Other()])
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	resp, err = c.do(ctx, request{op: "leave group", method: http.MethodDelete, path: userGroups + url.PathEscape(otherID)})
	if err != nil {
		return err
	}
	if !resp.ok() && resp.status != http.StatusNotFound {
		return classify("leave group", resp)
	}
	return nil
}

func (c *Client) groupID(ctx context.Context, name string) (string, error) {
	if name == "" {
		return "", apperrors.Wrap(apperrors.KindRemoteProvisioning, "no remote group configured", ErrNotFound)
	}
	resp, err := c.do(ctx, request{
		op:     "find group",
		method: http.MethodGet,
		path:   "/groups",
		query:  url.Values{"search": {name}, "exact": {"true"}},
	})
	if err != nil {
		return "", err
	}
	if !resp.ok() {
		return "", classify("find group", resp)
	}
	var groups []groupRepresentation
	if err := resp.decode(&groups); err != nil {
		return "", apperrors.Wrap(apperrors.KindRemoteProvisioning, "identity provider returned an invalid response", err)
	}
	for _, g := range groups {
		if g.Name == name {
			return g.ID, nil
		}
	}
	return "", apperrors.Wrap(apperrors.KindRemoteProvisioning, "remote group not found", fmt.Errorf("%w: group %q", ErrNotFound, name))
}

// ListRealmRoles returns the realm's role names, sorted.
func (c *Client) ListRealmRoles(ctx context.Context) ([]string, error) {
	resp, err := c.do(ctx, request{op: "list roles", method: http.MethodGet, path: "/roles"})
	if err != nil {
		return nil, err
	}
	if !resp.ok() {
		return nil, classify("list roles", resp)
	}
	var roles []roleRepresentation
	if err := resp.decode(&roles); err != nil {
		return nil, apperrors.Wrap(apperrors.KindRemoteProvisioning, "identity provider returned an invalid response", err)
	}
	names := make([]string, 0, len(roles))
	for _, r := range roles {
		names = append(names, r.Name)
	}
	sort.Strings(names)
	return names, nil
}
