package idp

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	apperrors "identity-provisioning/internal/errors"
)

var (
	// ErrNotFound means the remote identity, role or group does not exist.
	ErrNotFound = errors.New("idp: not found")
	// ErrConflict means a remote identity with the same username or email exists.
	ErrConflict = errors.New("idp: conflict")
	// ErrPasswordPolicy means the provider's password policy rejected the plaintext.
	ErrPasswordPolicy = errors.New("idp: password policy not met")
	// ErrUnauthorized means the admin credentials were refused.
	ErrUnauthorized = errors.New("idp: unauthorized")
	// ErrInvalidGrant means user credentials or a refresh token were refused.
	ErrInvalidGrant = errors.New("idp: invalid grant")
)

// providerError is the error body shape returned by the admin API and the token endpoint.
type providerError struct {
	Error            string `json:"error"`
	ErrorMessage     string `json:"errorMessage"`
	ErrorDescription string `json:"error_description"`
}

func parseProviderError(body []byte) providerError {
	var pe providerError
	_ = json.Unmarshal(body, &pe)
	return pe
}

func (pe providerError) text() string {
	for _, s := range []string{pe.ErrorMessage, pe.ErrorDescription, pe.Error} {
		if s != "" {
			return s
		}
	}
	return ""
}

// isPasswordPolicy recognises both the legacy "Password policy not met" message and the
// invalidPassword* error keys.
func isPasswordPolicy(body []byte) bool {
	pe := parseProviderError(body)
	for _, s := range []string{pe.ErrorMessage, pe.ErrorDescription, pe.Error} {
		l := strings.ToLower(s)
		if strings.Contains(l, "password policy") ||
			strings.HasPrefix(l, "invalidpassword") ||
			strings.HasPrefix(l, "invalid password") {
			return true
		}
	}
	return false
}

// classify maps a non-2xx admin API response to the error taxonomy. The provider's raw text is kept
// in the cause for logs; callers only ever see the fixed message.
func classify(op string, resp *response) error {
	detail := parseProviderError(resp.body).text()
	cause := func(sentinel error) error {
		if detail == "" {
			return fmt.Errorf("%w: %s: status %d", sentinel, op, resp.status)
		}
		return fmt.Errorf("%w: %s: status %d: %s", sentinel, op, resp.status, detail)
	}
	switch {
	case resp.status == http.StatusBadRequest && isPasswordPolicy(resp.body):
		return apperrors.CredentialPolicyRejected(cause(ErrPasswordPolicy))
	case resp.status == http.StatusUnauthorized || resp.status == http.StatusForbidden:
		return apperrors.Wrap(apperrors.KindRemoteProvisioning, "identity provider refused the admin session", cause(ErrUnauthorized))
	case resp.status == http.StatusNotFound:
		return apperrors.Wrap(apperrors.KindRemoteProvisioning, "remote identity not found", cause(ErrNotFound))
	case resp.status == http.StatusConflict:
		return apperrors.Wrap(apperrors.KindRemoteProvisioning, "remote identity already exists", cause(ErrConflict))
	default:
		return apperrors.Wrap(apperrors.KindRemoteProvisioning, "identity provider request failed", fmt.Errorf("%s: status %d: %s", op, resp.status, detail))
	}
}

func unreachable(op string, err error) error {
	return apperrors.Wrap(apperrors.KindRemoteProvisioning, "identity provider is unreachable", fmt.Errorf("%s: %w", op, err))
}
