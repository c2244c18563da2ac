// Package acerr defines ACIP's wire-visible error taxonomy: the codes a
// peer can send back in a PACKET_TYPE_ERROR_MESSAGE or ACIP_ERROR payload,
// wrapped so callers can still use fmt.Errorf("...: %w", err) on top.
package acerr

import "fmt"

// Code enumerates the protocol's error taxonomy. Values are stable once
// assigned since they travel on the wire as the numeric code of an error
// message.
type Code int

const (
	// Input
	InvalidParam Code = iota + 1
	Oversize
	UnsupportedVersion

	// Protocol
	MagicMismatch
	CorruptPayload
	SequenceRegression
	UnknownType

	// Transport
	Timeout
	ConnectionRefused
	ConnectionReset
	EndOfStream
	NotOpen

	// Crypto
	HandshakeFailed
	AuthRequired
	AuthMismatch
	AeadFailed
	NonceExhausted

	// Resource
	OutOfMemory
	Exhausted
	RateLimited

	// Application
	NotFound
	Full
	AlreadyJoined
	NotHost
	MigrationInProgress

	// Internal
	InvalidState
)

var names = map[Code]string{
	InvalidParam:        "InvalidParam",
	Oversize:            "Oversize",
	UnsupportedVersion:  "UnsupportedVersion",
	MagicMismatch:       "MagicMismatch",
	CorruptPayload:      "CorruptPayload",
	SequenceRegression:  "SequenceRegression",
	UnknownType:         "UnknownType",
	Timeout:             "Timeout",
	ConnectionRefused:   "ConnectionRefused",
	ConnectionReset:     "ConnectionReset",
	EndOfStream:         "EndOfStream",
	NotOpen:             "NotOpen",
	HandshakeFailed:     "HandshakeFailed",
	AuthRequired:        "AuthRequired",
	AuthMismatch:        "AuthMismatch",
	AeadFailed:          "AeadFailed",
	NonceExhausted:      "NonceExhausted",
	OutOfMemory:         "OutOfMemory",
	Exhausted:           "Exhausted",
	RateLimited:         "RateLimited",
	NotFound:            "NotFound",
	Full:                "Full",
	AlreadyJoined:       "AlreadyJoined",
	NotHost:             "NotHost",
	MigrationInProgress: "MigrationInProgress",
	InvalidState:        "InvalidState",
}

// String renders the code's taxonomy name, e.g. "RateLimited".
func (c Code) String() string {
	if name, ok := names[c]; ok {
		return name
	}
	return fmt.Sprintf("Code(%d)", int(c))
}

// Error is a taxonomy-coded error that can cross the wire as a numeric
// code plus a human string, and unwraps to an underlying cause when one
// is available.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

// New builds an Error with no underlying cause.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap builds an Error that wraps cause, composing the taxonomy code
// with a local message the way fmt.Errorf chains compose.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap lets errors.Is/errors.As see through to Cause.
func (e *Error) Unwrap() error { return e.Cause }

// Is reports whether target is an *Error with the same Code, so that
// errors.Is(err, acerr.New(acerr.NotFound, "")) works as a code match.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// CodeOf extracts the taxonomy Code from err, if any *Error is present
// in its chain, and reports whether one was found.
func CodeOf(err error) (Code, bool) {
	var e *Error
	if asError(err, &e) {
		return e.Code, true
	}
	return 0, false
}

func asError(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// Recoverable reports whether code is local-caller-retriable under the
// propagation policy (Timeout, RateLimited, NotOpen, single-packet
// CorruptPayload) as opposed to connection-fatal.
func Recoverable(code Code) bool {
	switch code {
	case Timeout, RateLimited, NotOpen, CorruptPayload:
		return true
	default:
		return false
	}
}

// ConnectionFatal reports whether code must close the owning connection
// (SequenceRegression, AuthMismatch, AeadFailed, NonceExhausted).
func ConnectionFatal(code Code) bool {
	switch code {
	case SequenceRegression, AuthMismatch, AeadFailed, NonceExhausted:
		return true
	default:
		return false
	}
}
