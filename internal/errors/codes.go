// Package errors provides the error taxonomy shared by the provisioning sagas and the gRPC boundary.
package errors

import "google.golang.org/grpc/codes"

// Kind is a machine-readable error category.
type Kind string

const (
	// KindUnknown represents an error that does not belong to the taxonomy.
	KindUnknown Kind = "UNKNOWN"

	// KindValidation covers duplicate username/email, malformed requests and unknown roles.
	// Raised before any external call.
	KindValidation Kind = "VALIDATION"
	// KindCredentialPolicyRejected means the identity provider rejected a password's strength.
	KindCredentialPolicyRejected Kind = "CREDENTIAL_POLICY_REJECTED"
	// KindRemoteProvisioning is any other identity provider failure.
	KindRemoteProvisioning Kind = "REMOTE_PROVISIONING"
	// KindLocalPersistence is a local store failure after a successful remote step.
	KindLocalPersistence Kind = "LOCAL_PERSISTENCE"
	// KindRoleTransition is an invalid target role or a failed transition write.
	KindRoleTransition Kind = "ROLE_TRANSITION"
	// KindConsistencyWarning marks a failed compensation. Never returned to callers.
	KindConsistencyWarning Kind = "CONSISTENCY_WARNING"

	// KindNotFound means the referenced identity does not exist locally.
	KindNotFound Kind = "NOT_FOUND"
	// KindAuthentication means login or token refresh was refused by the identity provider.
	KindAuthentication Kind = "AUTHENTICATION"
)

// CredentialPolicyMessage is the only message callers see for a password policy rejection.
const CredentialPolicyMessage = "Password does not meet security requirements. Please use a stronger password with uppercase, lowercase, numbers, and special characters."

// GRPCCode maps kinds to gRPC status codes.
func (k Kind) GRPCCode() codes.Code {
	switch k {
	case KindValidation, KindCredentialPolicyRejected:
		return codes.InvalidArgument
	case KindRoleTransition:
		return codes.FailedPrecondition
	case KindNotFound:
		return codes.NotFound
	case KindAuthentication:
		return codes.Unauthenticated
	case KindRemoteProvisioning:
		return codes.Unavailable
	case KindLocalPersistence:
		return codes.Aborted
	default:
		return codes.Internal
	}
}
