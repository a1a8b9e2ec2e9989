package models

import (
	"errors"
	"fmt"
)

// ErrorKind is the caller-visible error taxonomy. Transport layers map these
// onto their own status codes; the core never leaks driver details.
type ErrorKind string

// Error kind constants.
const (
	KindInvalidArgument   ErrorKind = "INVALID_ARGUMENT"
	KindNotFound          ErrorKind = "NOT_FOUND"
	KindPermissionDenied  ErrorKind = "PERMISSION_DENIED"
	KindConflict          ErrorKind = "CONFLICT"
	KindIntegrity         ErrorKind = "INTEGRITY_ERROR"
	KindResourceExhausted ErrorKind = "RESOURCE_EXHAUSTED"
	KindUnavailable       ErrorKind = "UNAVAILABLE"
	KindInternal          ErrorKind = "INTERNAL"
)

// Error carries an error kind plus structured context for the caller.
// The store and actions layers construct these; the output layer renders
// kind + context without exposing wrapped driver errors.
type Error struct {
	Kind    ErrorKind
	Msg     string
	Context map[string]string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// ErrorCode returns the kind as a stable machine-readable code.
func (e *Error) ErrorCode() string { return string(e.Kind) }

// SlogAttrs returns structured attributes for logging.
func (e *Error) SlogAttrs() []any {
	attrs := []any{"error_code", string(e.Kind)}
	for k, v := range e.Context {
		attrs = append(attrs, k, v)
	}
	return attrs
}

// Errf builds an *Error with a formatted message.
func Errf(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// WrapErr builds an *Error that wraps an underlying cause.
func WrapErr(kind ErrorKind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}

// WithContext attaches a context key/value pair and returns e for chaining.
func (e *Error) WithContext(key, value string) *Error {
	if e.Context == nil {
		e.Context = make(map[string]string, 2)
	}
	e.Context[key] = value
	return e
}

// KindOf extracts the error kind, defaulting to Internal for plain errors.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}
