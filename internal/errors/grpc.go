package errors

import (
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// HandleError converts classified errors to a gRPC status for client responses.
// Unclassified errors become codes.Internal with a generic message.
func HandleError(err error) error {
	if err == nil {
		return nil
	}
	var appErr *Error
	if errors.As(err, &appErr) {
		return status.Error(appErr.Kind.GRPCCode(), SafeMessage(appErr))
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	return status.Error(codes.Internal, "an unexpected error occurred")
}
