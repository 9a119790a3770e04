package errors

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestKindOf(t *testing.T) {
	cause := errors.New("unique violation")
	err := fmt.Errorf("register: %w", Wrap(KindLocalPersistence, "could not save identity", cause))

	if got := KindOf(err); got != KindLocalPersistence {
		t.Errorf("KindOf = %q, want %q", got, KindLocalPersistence)
	}
	if !errors.Is(err, cause) {
		t.Error("wrapped cause should be reachable with errors.Is")
	}
	if got := KindOf(errors.New("plain")); got != KindUnknown {
		t.Errorf("KindOf(plain) = %q, want UNKNOWN", got)
	}
	if IsKind(nil, KindUnknown) {
		t.Error("IsKind(nil) should be false")
	}
}

func TestSafeMessage_HidesCause(t *testing.T) {
	err := Wrap(KindRemoteProvisioning, "identity provider unavailable", errors.New("dial tcp 10.0.0.1:8443: connection refused"))
	if got := SafeMessage(err); got != "identity provider unavailable" {
		t.Errorf("SafeMessage = %q", got)
	}
	if got := SafeMessage(errors.New("stack trace here")); strings.Contains(got, "stack") {
		t.Errorf("SafeMessage leaked raw error: %q", got)
	}
}

func TestSafeMessage_CredentialPolicyIsFixed(t *testing.T) {
	err := &Error{Kind: KindCredentialPolicyRejected, Message: "invalidPasswordMinLengthMessage", Cause: errors.New("raw body")}
	if got := SafeMessage(err); got != CredentialPolicyMessage {
		t.Errorf("SafeMessage = %q, want fixed guidance", got)
	}
	if got := SafeMessage(CredentialPolicyRejected(errors.New("x"))); got != CredentialPolicyMessage {
		t.Errorf("SafeMessage = %q, want fixed guidance", got)
	}
}

func TestHandleError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code codes.Code
		msg  string
	}{
		{"validation", Validation("username already exists"), codes.InvalidArgument, "username already exists"},
		{"policy", CredentialPolicyRejected(errors.New("raw")), codes.InvalidArgument, CredentialPolicyMessage},
		{"not found", New(KindNotFound, "identity not found"), codes.NotFound, "identity not found"},
		{"remote", Wrap(KindRemoteProvisioning, "identity provider unavailable", errors.New("503")), codes.Unavailable, "identity provider unavailable"},
		{"local", New(KindLocalPersistence, "could not save identity"), codes.Aborted, "could not save identity"},
		{"role", New(KindRoleTransition, "unknown role"), codes.FailedPrecondition, "unknown role"},
		{"auth", New(KindAuthentication, "invalid credentials"), codes.Unauthenticated, "invalid credentials"},
		{"unknown", errors.New("boom"), codes.Internal, "an unexpected error occurred"},
		{"status passthrough", status.Error(codes.Canceled, "canceled"), codes.Canceled, "canceled"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			st, ok := status.FromError(HandleError(tc.err))
			if !ok {
				t.Fatal("HandleError should return a status error")
			}
			if st.Code() != tc.code {
				t.Errorf("code = %v, want %v", st.Code(), tc.code)
			}
			if st.Message() != tc.msg {
				t.Errorf("message = %q, want %q", st.Message(), tc.msg)
			}
		})
	}
	if HandleError(nil) != nil {
		t.Error("HandleError(nil) should be nil")
	}
}
