package idp

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"identity-provisioning/internal/security"
)

// tokenSkew is subtracted from the provider's expiry so a cached token is never sent at its last second.
const tokenSkew = 10 * time.Second

// adminTokenCache holds one admin bearer token. Concurrent misses share one password grant.
type adminTokenCache struct {
	conf       *oauth2.Config
	username   string
	password   string
	ttl        time.Duration
	timeout    time.Duration
	httpClient *http.Client
	now        func() time.Time

	group singleflight.Group

	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

func (c *adminTokenCache) cached() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != "" && c.now().Before(c.expiresAt) {
		return c.token, true
	}
	return "", false
}

// get returns a valid admin token, fetching one when the cache is empty or expired.
func (c *adminTokenCache) get(ctx context.Context) (string, error) {
	if tok, ok := c.cached(); ok {
		return tok, nil
	}
	v, err, _ := c.group.Do("admin", func() (any, error) {
		if tok, ok := c.cached(); ok {
			return tok, nil
		}
		return c.fetch(ctx)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (c *adminTokenCache) fetch(ctx context.Context) (string, error) {
	// Detached from the first caller so its cancellation does not fail the callers sharing this fetch.
	fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
	defer cancel()
	fetchCtx = context.WithValue(fetchCtx, oauth2.HTTPClient, c.httpClient)

	tok, err := c.conf.PasswordCredentialsToken(fetchCtx, c.username, c.password)
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) && re.Response != nil && re.Response.StatusCode < 500 {
			return "", fmt.Errorf("%w: admin token: %s", ErrUnauthorized, re.ErrorCode)
		}
		return "", fmt.Errorf("admin token: %w", err)
	}

	now := c.now()
	expiry := tok.Expiry
	if expiry.IsZero() {
		if exp, err := security.TokenExpiry(tok.AccessToken); err == nil {
			expiry = exp
		}
	}
	expiresAt := now.Add(c.ttl)
	if !expiry.IsZero() && expiry.Add(-tokenSkew).Before(expiresAt) {
		expiresAt = expiry.Add(-tokenSkew)
	}

	c.mu.Lock()
	c.token = tok.AccessToken
	c.expiresAt = expiresAt
	c.mu.Unlock()
	return tok.AccessToken, nil
}

// invalidate drops token if it is still the cached one.
func (c *adminTokenCache) invalidate(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token == token {
		c.token = ""
		c.expiresAt = time.Time{}
	}
}
