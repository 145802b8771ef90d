// Package apperrors provides coded errors shared by the event bus, the clock and
// the transports that expose them.
package apperrors

import "google.golang.org/grpc/codes"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Event bus errors
	CodeNotFound        Code = "NOT_FOUND"
	CodeTypeMismatch    Code = "TYPE_MISMATCH"
	CodeListenerFailure Code = "LISTENER_FAILURE"
	CodeAlreadyExists   Code = "ALREADY_EXISTS"

	// Input errors
	CodeInvalidArgument Code = "INVALID_ARGUMENT"
)

// GRPCCode maps domain codes to gRPC status codes.
func (c Code) GRPCCode() codes.Code {
	switch c {
	case CodeNotFound:
		return codes.NotFound
	case CodeTypeMismatch, CodeAlreadyExists:
		return codes.FailedPrecondition
	case CodeInvalidArgument:
		return codes.InvalidArgument
	case CodeListenerFailure:
		return codes.Aborted
	default:
		return codes.Unknown
	}
}
