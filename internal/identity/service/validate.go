package service

import (
	"regexp"
	"strings"

	apperrors "identity-provisioning/internal/errors"
)

var emailRe = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

const maxFieldLength = 255

func validateEmail(email string) error {
	if email == "" {
		return apperrors.Validation("email is required")
	}
	if len(email) > maxFieldLength || !emailRe.MatchString(email) {
		return apperrors.Validation("invalid email format")
	}
	return nil
}

func validateUsername(username string) error {
	if username == "" {
		return apperrors.Validation("username is required")
	}
	if len(username) > maxFieldLength || strings.ContainsAny(username, " \t\r\n") {
		return apperrors.Validation("invalid username")
	}
	return nil
}

// normalizeEmail trims and lowercases; emails are compared case-insensitively.
func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// asRemoteError keeps classified gateway errors and wraps anything else as a remote provisioning failure.
func asRemoteError(message string, err error) error {
	if apperrors.KindOf(err) != apperrors.KindUnknown {
		return err
	}
	return apperrors.Wrap(apperrors.KindRemoteProvisioning, message, err)
}
