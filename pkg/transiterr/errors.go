// Package transiterr defines Transit's error taxonomy: a small, closed set
// of error codes every adapter maps onto a transport-specific status (HTTP
// status codes, WebSocket close codes), mirroring how callers elsewhere in
// the stack distinguish "not found" from "conflict" from "internal".
package transiterr

import (
	"errors"
	"fmt"
)

// ErrorCode classifies a transit error independently of its transport.
type ErrorCode int

const (
	// CodeInvalidInput marks malformed input: a bad uid, missing metadata
	// header, or a metadata field that fails validation.
	CodeInvalidInput ErrorCode = iota
	// CodeConflict marks a request for a transfer slot that is already
	// claimed (sender or receiver already connected).
	CodeConflict
	// CodeNotFound marks a reference to a transfer uid with no pending transfer.
	CodeNotFound
	// CodeTooLarge marks an upload exceeding the configured size limit.
	CodeTooLarge
	// CodeTimeout marks an operation that exceeded its deadline (e.g.
	// waiting for a peer to connect, or for a chunk).
	CodeTimeout
	// CodePeerGone marks the counterpart (sender or receiver) disconnecting
	// or signaling failure mid-transfer.
	CodePeerGone
	// CodeTruncated marks a stream that ended before the declared length
	// was reached.
	CodeTruncated
	// CodeInternal marks an unexpected failure in the backing store or
	// coordinator, not attributable to caller input or peer behavior.
	CodeInternal
)

// String returns the lowercase snake_case name used in JSON error bodies.
func (c ErrorCode) String() string {
	switch c {
	case CodeInvalidInput:
		return "invalid_input"
	case CodeConflict:
		return "conflict"
	case CodeNotFound:
		return "not_found"
	case CodeTooLarge:
		return "too_large"
	case CodeTimeout:
		return "timeout"
	case CodePeerGone:
		return "peer_gone"
	case CodeTruncated:
		return "truncated"
	case CodeInternal:
		return "internal"
	default:
		return "unknown"
	}
}

// TransitError is the error type returned by every pkg/store and
// pkg/transfer operation that can fail in a caller-distinguishable way.
type TransitError struct {
	Code    ErrorCode
	Message string
	UID     string
}

func (e *TransitError) Error() string {
	if e.UID != "" {
		return fmt.Sprintf("%s: %s (uid=%s)", e.Code, e.Message, e.UID)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// newError builds a *TransitError; kept unexported since callers should use
// the NewXxxError constructors below rather than naming a code directly.
func newError(code ErrorCode, uid, format string, args ...any) *TransitError {
	return &TransitError{Code: code, Message: fmt.Sprintf(format, args...), UID: uid}
}

// NewInvalidInputError reports malformed caller input.
func NewInvalidInputError(uid, format string, args ...any) *TransitError {
	return newError(CodeInvalidInput, uid, format, args...)
}

// NewConflictError reports a transfer slot that is already claimed.
func NewConflictError(uid, format string, args ...any) *TransitError {
	return newError(CodeConflict, uid, format, args...)
}

// NewNotFoundError reports a transfer uid with no pending transfer.
func NewNotFoundError(uid, format string, args ...any) *TransitError {
	return newError(CodeNotFound, uid, format, args...)
}

// NewTooLargeError reports an upload exceeding the configured size limit.
func NewTooLargeError(uid, format string, args ...any) *TransitError {
	return newError(CodeTooLarge, uid, format, args...)
}

// NewTimeoutError reports an operation that exceeded its deadline.
func NewTimeoutError(uid, format string, args ...any) *TransitError {
	return newError(CodeTimeout, uid, format, args...)
}

// NewPeerGoneError reports the counterpart disconnecting mid-transfer.
func NewPeerGoneError(uid, format string, args ...any) *TransitError {
	return newError(CodePeerGone, uid, format, args...)
}

// NewTruncatedError reports a stream ending short of its declared length.
func NewTruncatedError(uid, format string, args ...any) *TransitError {
	return newError(CodeTruncated, uid, format, args...)
}

// NewInternalError reports an unexpected backing-store or coordinator failure.
func NewInternalError(uid, format string, args ...any) *TransitError {
	return newError(CodeInternal, uid, format, args...)
}

// CodeOf extracts the ErrorCode from err, returning CodeInternal for any
// error that isn't a *TransitError (so callers always get a valid mapping).
func CodeOf(err error) ErrorCode {
	var te *TransitError
	if AsTransitError(err, &te) {
		return te.Code
	}
	return CodeInternal
}

// AsTransitError is a small errors.As wrapper kept local to avoid importing
// "errors" into every caller that just wants the code.
func AsTransitError(err error, target **TransitError) bool {
	var te *TransitError
	if !errors.As(err, &te) {
		return false
	}
	*target = te
	return true
}

// IsInvalidInputError reports whether err is a CodeInvalidInput TransitError.
func IsInvalidInputError(err error) bool { return CodeOf(err) == CodeInvalidInput }

// IsConflictError reports whether err is a CodeConflict TransitError.
func IsConflictError(err error) bool { return CodeOf(err) == CodeConflict }

// IsNotFoundError reports whether err is a CodeNotFound TransitError.
func IsNotFoundError(err error) bool { return CodeOf(err) == CodeNotFound }

// IsTooLargeError reports whether err is a CodeTooLarge TransitError.
func IsTooLargeError(err error) bool { return CodeOf(err) == CodeTooLarge }

// IsTimeoutError reports whether err is a CodeTimeout TransitError.
func IsTimeoutError(err error) bool { return CodeOf(err) == CodeTimeout }

// IsPeerGoneError reports whether err is a CodePeerGone TransitError.
func IsPeerGoneError(err error) bool { return CodeOf(err) == CodePeerGone }

// IsTruncatedError reports whether err is a CodeTruncated TransitError.
func IsTruncatedError(err error) bool { return CodeOf(err) == CodeTruncated }

// IsInternalError reports whether err is a CodeInternal TransitError.
func IsInternalError(err error) bool { return CodeOf(err) == CodeInternal }

// HTTPStatus maps an ErrorCode to the HTTP status code spec section 8 calls for.
func (c ErrorCode) HTTPStatus() int {
	switch c {
	case CodeInvalidInput:
		return 400
	case CodeConflict:
		return 409
	case CodeNotFound:
		return 404
	case CodeTooLarge:
		return 413
	case CodeTimeout:
		return 408
	case CodePeerGone:
		return 502
	case CodeTruncated:
		return 500
	default:
		return 500
	}
}
