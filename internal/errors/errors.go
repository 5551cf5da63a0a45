// Package errors provides unified error handling with structured error codes.
// Codes map onto gRPC status codes so the same error surfaces consistently over
// HTTP, gRPC and logs.
package errors

import (
	stderrors "errors"
	"fmt"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/anypb"
)

// ErrorDomain is reported in the ErrorInfo detail of gRPC statuses.
const ErrorDomain = "screenwatch"

// Code classifies an AppError.
type Code uint8

const (
	Unknown Code = iota
	Internal
	InvalidArgument
	Unavailable
	Timeout
	Cancelled
	ConfigInvalid
	ConfigMissing

	// Capture failures are tolerated by the monitor loop.
	Capture
	// DimensionMismatch means two compared frames differ in size.
	DimensionMismatch
	// Notifier failures are surfaced to the caller but never unwind monitoring state.
	Notifier
	// NoTarget is returned from Start when nothing capturable is configured.
	NoTarget
	// RemotePoll failures are logged and retried by the command poller.
	RemotePoll
	AlreadyRunning
	NotRunning
)

var codeNames = [...]string{
	Unknown:           "UNKNOWN",
	Internal:          "INTERNAL",
	InvalidArgument:   "INVALID_ARGUMENT",
	Unavailable:       "UNAVAILABLE",
	Timeout:           "TIMEOUT",
	Cancelled:         "CANCELLED",
	ConfigInvalid:     "CONFIG_INVALID",
	ConfigMissing:     "CONFIG_MISSING",
	Capture:           "CAPTURE_FAILED",
	DimensionMismatch: "DIMENSION_MISMATCH",
	Notifier:          "NOTIFIER_FAILED",
	NoTarget:          "NO_TARGET",
	RemotePoll:        "REMOTE_POLL_FAILED",
	AlreadyRunning:    "ALREADY_RUNNING",
	NotRunning:        "NOT_RUNNING",
}

func (c Code) String() string {
	if int(c) < len(codeNames) {
		return codeNames[c]
	}
	return fmt.Sprintf("CODE_%d", c)
}

// grpcCodeMap maps error codes to gRPC status codes.
var grpcCodeMap = map[Code]codes.Code{
	Unknown:           codes.Unknown,
	Internal:          codes.Internal,
	InvalidArgument:   codes.InvalidArgument,
	Unavailable:       codes.Unavailable,
	Timeout:           codes.DeadlineExceeded,
	Cancelled:         codes.Canceled,
	ConfigInvalid:     codes.InvalidArgument,
	ConfigMissing:     codes.FailedPrecondition,
	Capture:           codes.Unavailable,
	DimensionMismatch: codes.Internal,
	Notifier:          codes.Unavailable,
	NoTarget:          codes.FailedPrecondition,
	RemotePoll:        codes.Unavailable,
	AlreadyRunning:    codes.AlreadyExists,
	NotRunning:        codes.FailedPrecondition,
}

// AppError is the base error type with structured error code and metadata.
type AppError struct {
	Code     Code
	Message  string
	Metadata map[string]string
	Cause    error
}

// Error implements the error interface.
func (e *AppError) Error() string {
	s := fmt.Sprintf("[%s] %s", e.Code, e.Message)
	if len(e.Metadata) > 0 {
		s += fmt.Sprintf(" %v", e.Metadata)
	}
	if e.Cause != nil {
		s += fmt.Sprintf(" caused by: %v", e.Cause)
	}
	return s
}

// Unwrap returns the underlying cause for errors.Is/As.
func (e *AppError) Unwrap() error { return e.Cause }

// GRPCCode returns the corresponding gRPC status code.
func (e *AppError) GRPCCode() codes.Code {
	if c, ok := grpcCodeMap[e.Code]; ok {
		return c
	}
	return codes.Unknown
}

// ToProto converts to an ErrorInfo detail message.
func (e *AppError) ToProto() *errdetails.ErrorInfo {
	return &errdetails.ErrorInfo{
		Reason:   e.Code.String(),
		Domain:   ErrorDomain,
		Metadata: e.Metadata,
	}
}

// GRPCStatus returns a gRPC status with the ErrorInfo attached.
func (e *AppError) GRPCStatus() *status.Status {
	st := status.New(e.GRPCCode(), e.Error())
	if detail, err := anypb.New(e.ToProto()); err == nil {
		if withDetail, err := st.WithDetails(detail); err == nil {
			st = withDetail
		}
	}
	return st
}

// New creates a new AppError with the given code and message.
func New(code Code, msg string) *AppError {
	return &AppError{Code: code, Message: msg}
}

// Newf creates a new AppError with formatted message.
func Newf(code Code, format string, args ...any) *AppError {
	return &AppError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap wraps an existing error with an AppError.
func Wrap(err error, code Code, msg string) *AppError {
	return &AppError{Code: code, Message: msg, Cause: err}
}

// Wrapf wraps an existing error with formatted message.
func Wrapf(err error, code Code, format string, args ...any) *AppError {
	return &AppError{Code: code, Message: fmt.Sprintf(format, args...), Cause: err}
}

// WithMetadata adds metadata to an AppError.
func (e *AppError) WithMetadata(key, value string) *AppError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]string)
	}
	e.Metadata[key] = value
	return e
}

// FromGRPCError extracts an AppError from a gRPC error if present.
func FromGRPCError(err error) *AppError {
	st, ok := status.FromError(err)
	if !ok {
		return &AppError{Code: Unknown, Message: err.Error(), Cause: err}
	}
	for _, detail := range st.Details() {
		if info, ok := detail.(*errdetails.ErrorInfo); ok && info.GetDomain() == ErrorDomain {
			return &AppError{Code: codeFromName(info.GetReason()), Message: st.Message(), Metadata: info.GetMetadata()}
		}
	}
	return &AppError{Code: grpcToErrorCode(st.Code()), Message: st.Message()}
}

func codeFromName(name string) Code {
	for i, n := range codeNames {
		if n == name {
			return Code(i)
		}
	}
	return Unknown
}

// grpcToErrorCode maps gRPC codes back to our error codes (best effort).
func grpcToErrorCode(c codes.Code) Code {
	switch c {
	case codes.InvalidArgument:
		return InvalidArgument
	case codes.Unavailable:
		return Unavailable
	case codes.DeadlineExceeded:
		return Timeout
	case codes.Canceled:
		return Cancelled
	case codes.Internal:
		return Internal
	case codes.FailedPrecondition:
		return ConfigMissing
	case codes.AlreadyExists:
		return AlreadyRunning
	default:
		return Unknown
	}
}

// CodeOf returns the code of the first AppError in err's chain, or Unknown.
func CodeOf(err error) Code {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return Unknown
}

// IsCode checks if an error chain carries a specific error code.
func IsCode(err error, code Code) bool {
	var appErr *AppError
	if !stderrors.As(err, &appErr) {
		return false
	}
	return appErr.Code == code
}

// IsRetryable returns true if the error is potentially retryable.
func IsRetryable(err error) bool {
	var appErr *AppError
	if !stderrors.As(err, &appErr) {
		return false
	}
	switch appErr.Code {
	case Unavailable, Timeout, Capture, RemotePoll:
		return true
	default:
		return false
	}
}
