package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents internal error codes for store and cluster operations
type ErrorCode int

const (
	// Success
	ErrCodeOK ErrorCode = 0

	// Caller errors
	ErrCodeInvalidArgument ErrorCode = 1000
	ErrCodeKeyNotFound     ErrorCode = 1001
	ErrCodeOutOfBounds     ErrorCode = 1002
	ErrCodeTypeMismatch    ErrorCode = 1003
	ErrCodeNodeUnknown     ErrorCode = 1004

	// Wire and cluster errors
	ErrCodeProtocolViolation  ErrorCode = 2000
	ErrCodeUnknownMessageKind ErrorCode = 2001
	ErrCodeConnectionClosed   ErrorCode = 2002
	ErrCodeRegistrationFailed ErrorCode = 2003
	ErrCodeRemoteFailure      ErrorCode = 2004
	ErrCodeInternal           ErrorCode = 2005
)

var codeNames = map[ErrorCode]string{
	ErrCodeOK:                 "OK",
	ErrCodeInvalidArgument:    "INVALID_ARGUMENT",
	ErrCodeKeyNotFound:        "KEY_NOT_FOUND",
	ErrCodeOutOfBounds:        "OUT_OF_BOUNDS",
	ErrCodeTypeMismatch:       "TYPE_MISMATCH",
	ErrCodeNodeUnknown:        "NODE_UNKNOWN",
	ErrCodeProtocolViolation:  "PROTOCOL_VIOLATION",
	ErrCodeUnknownMessageKind: "UNKNOWN_MESSAGE_KIND",
	ErrCodeConnectionClosed:   "CONNECTION_CLOSED",
	ErrCodeRegistrationFailed: "REGISTRATION_FAILED",
	ErrCodeRemoteFailure:      "REMOTE_FAILURE",
	ErrCodeInternal:           "INTERNAL",
}

// String returns the symbolic name of the code
func (c ErrorCode) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("ErrorCode(%d)", int(c))
}

// StorageError represents a structured error with code and context
type StorageError struct {
	Code    ErrorCode
	Message string
	Details map[string]interface{}
	Cause   error
}

// Error implements the error interface
func (e *StorageError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying error
func (e *StorageError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is a StorageError with the same code, so callers
// can match on a code with errors.Is(err, errors.New(code)).
func (e *StorageError) Is(target error) bool {
	t, ok := target.(*StorageError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// NewStorageError creates a new StorageError
func NewStorageError(code ErrorCode, message string, cause error) *StorageError {
	return &StorageError{
		Code:    code,
		Message: message,
		Details: make(map[string]interface{}),
		Cause:   cause,
	}
}

// New returns a bare error carrying only a code, usable as an errors.Is target.
func New(code ErrorCode) *StorageError {
	return NewStorageError(code, code.String(), nil)
}

// WithDetail adds a detail to the error
func (e *StorageError) WithDetail(key string, value interface{}) *StorageError {
	e.Details[key] = value
	return e
}

// Convenience constructors for common errors

func InvalidArgument(message string, cause error) *StorageError {
	return NewStorageError(ErrCodeInvalidArgument, message, cause)
}

func KeyNotFound(name string, home int) *StorageError {
	return NewStorageError(ErrCodeKeyNotFound, fmt.Sprintf("key not found: %s@%d", name, home), nil).
		WithDetail("key", name).
		WithDetail("home", home)
}

func OutOfBounds(what string, index, limit int) *StorageError {
	return NewStorageError(ErrCodeOutOfBounds, fmt.Sprintf("%s index %d out of bounds [0,%d)", what, index, limit), nil).
		WithDetail("what", what).
		WithDetail("index", index).
		WithDetail("limit", limit)
}

func TypeMismatch(want, got string) *StorageError {
	return NewStorageError(ErrCodeTypeMismatch, fmt.Sprintf("type mismatch: want %s, got %s", want, got), nil).
		WithDetail("want", want).
		WithDetail("got", got)
}

func NodeUnknown(node int) *StorageError {
	return NewStorageError(ErrCodeNodeUnknown, fmt.Sprintf("node %d is not in the directory", node), nil).
		WithDetail("node", node)
}

func ProtocolViolation(message string, cause error) *StorageError {
	return NewStorageError(ErrCodeProtocolViolation, message, cause)
}

func UnknownMessageKind(kind uint32) *StorageError {
	return NewStorageError(ErrCodeUnknownMessageKind, fmt.Sprintf("unknown message kind %d", kind), nil).
		WithDetail("kind", kind)
}

func ConnectionClosed(peer string) *StorageError {
	return NewStorageError(ErrCodeConnectionClosed, fmt.Sprintf("connection to %s closed", peer), nil).
		WithDetail("peer", peer)
}

func RegistrationFailed(rendezvous string, attempts int, cause error) *StorageError {
	return NewStorageError(ErrCodeRegistrationFailed, fmt.Sprintf("could not register with %s after %d attempts", rendezvous, attempts), cause).
		WithDetail("rendezvous", rendezvous).
		WithDetail("attempts", attempts)
}

func RemoteFailure(node int, message string) *StorageError {
	return NewStorageError(ErrCodeRemoteFailure, fmt.Sprintf("node %d: %s", node, message), nil).
		WithDetail("node", node)
}

func InternalError(message string, cause error) *StorageError {
	return NewStorageError(ErrCodeInternal, message, cause)
}

// IsStorageError checks if an error is (or wraps) a StorageError
func IsStorageError(err error) bool {
	var se *StorageError
	return stderrors.As(err, &se)
}

// GetCode extracts the error code from an error
func GetCode(err error) ErrorCode {
	if err == nil {
		return ErrCodeOK
	}
	var se *StorageError
	if stderrors.As(err, &se) {
		return se.Code
	}
	return ErrCodeInternal
}

// HasCode reports whether err carries the given code anywhere in its chain
func HasCode(err error, code ErrorCode) bool {
	return GetCode(err) == code
}
