package idp

import (
	"context"
	"errors"
	"net/http"
	"time"

	"golang.org/x/oauth2"

	apperrors "identity-provisioning/internal/errors"
)

// TokenPair is the bearer token pair issued to an end user.
type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	TokenType        string
	ExpiresIn        int64
	RefreshExpiresIn int64
}

// Login exchanges user credentials for a token pair with the password grant on the application realm.
func (c *Client) Login(ctx context.Context, username, password string) (*TokenPair, error) {
	ctx, cancel, err := c.tokenContext(ctx)
	if err != nil {
		return nil, err
	}
	defer cancel()
	tok, err := c.userConf.PasswordCredentialsToken(ctx, username, password)
	if err != nil {
		return nil, grantError("invalid username or password", err)
	}
	return c.pair(tok), nil
}

// Refresh exchanges a refresh token for a new token pair.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	ctx, cancel, err := c.tokenContext(ctx)
	if err != nil {
		return nil, err
	}
	defer cancel()
	tok, err := c.userConf.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		return nil, grantError("refresh token is invalid or expired", err)
	}
	return c.pair(tok), nil
}

func (c *Client) tokenContext(ctx context.Context) (context.Context, context.CancelFunc, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, nil, unreachable("token", err)
	}
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	return context.WithValue(ctx, oauth2.HTTPClient, c.httpClient), cancel, nil
}

func grantError(message string, err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) && re.Response != nil {
		switch re.Response.StatusCode {
		case http.StatusBadRequest, http.StatusUnauthorized:
			return apperrors.Wrap(apperrors.KindAuthentication, message, errors.Join(ErrInvalidGrant, err))
		}
	}
	return unreachable("token", err)
}

func (c *Client) pair(tok *oauth2.Token) *TokenPair {
	p := &TokenPair{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.Type(),
	}
	if !tok.Expiry.IsZero() {
		p.ExpiresIn = int64(time.Until(tok.Expiry).Round(time.Second) / time.Second)
	}
	switch v := tok.Extra("refresh_expires_in").(type) {
	case float64:
		p.RefreshExpiresIn = int64(v)
	case int64:
		p.RefreshExpiresIn = v
	}
	return p
}
