// Package idp is the identity provider gateway: a Keycloak-compatible admin REST client with a cached
// admin token, bounded retries and an outbound rate limit.
package idp

import (
	"errors"
	"strings"
	"time"

	"identity-provisioning/internal/identity/domain"
)

// Config describes how to reach the identity provider.
type Config struct {
	BaseURL string
	// Realm holds the application identities.
	Realm string
	// AdminRealm is where the admin account lives (usually "master").
	AdminRealm    string
	AdminUsername string
	AdminPassword string
	AdminClientID string
	// ClientID and ClientSecret are used for the login and refresh grants on Realm.
	ClientID     string
	ClientSecret string

	// Timeout bounds each HTTP attempt.
	Timeout time.Duration
	// MaxRetries is the total number of attempts for retryable failures.
	MaxRetries int
	// TokenTTL caps how long an admin token is reused.
	TokenTTL time.Duration
	// RateLimit is requests per second; 0 disables limiting.
	RateLimit float64

	// Roles and Groups name the remote realm role and group for each local role tag.
	Roles  map[domain.RoleTag]string
	Groups map[domain.RoleTag]string
}

func (c *Config) validate() error {
	if strings.TrimSpace(c.BaseURL) == "" {
		return errors.New("idp: base URL is required")
	}
	if strings.TrimSpace(c.Realm) == "" {
		return errors.New("idp: realm is required")
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if c.AdminRealm == "" {
		c.AdminRealm = "master"
	}
	if c.AdminClientID == "" {
		c.AdminClientID = "admin-cli"
	}
	if c.Timeout <= 0 {
		c.Timeout = 5 * time.Second
	}
	if c.MaxRetries < 1 {
		c.MaxRetries = 1
	}
	if c.TokenTTL <= 0 {
		c.TokenTTL = 60 * time.Second
	}
	if c.Roles == nil {
		c.Roles = map[domain.RoleTag]string{domain.RolePlain: "PLAIN", domain.RoleAuthor: "AUTHOR"}
	}
	if c.Groups == nil {
		c.Groups = map[domain.RoleTag]string{domain.RolePlain: "Members", domain.RoleAuthor: "Authors"}
	}
	return nil
}
