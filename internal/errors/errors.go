package errors

import (
	"errors"
	"fmt"
)

// Kind categorizes an error so callers can decide on retry and abort
// policy without string matching.
type Kind int

const (
	// KindTransient - backend temporarily unavailable; safe to retry.
	KindTransient Kind = iota
	// KindPermanent - query syntax, constraint violation; retrying cannot help.
	KindPermanent
	// KindValidation - bad input (missing repo, bad commit SHA); fail without retry.
	KindValidation
	// KindSecurity - symlink root, path escape, cross-tenant access; fatal and audited.
	KindSecurity
	// KindParse - a source file could not be parsed; skip the file, continue.
	KindParse
	// KindInternal - unexpected internal state.
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindPermanent:
		return "permanent"
	case KindValidation:
		return "validation"
	case KindSecurity:
		return "security"
	case KindParse:
		return "parse"
	default:
		return "internal"
	}
}

// Error is a categorized error carrying optional key/value context.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
	Context map[string]any
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// Is matches on Kind so errors.Is(err, &Error{Kind: KindTransient}) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// WithContext attaches a key/value pair for structured logging.
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// New creates a categorized error.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf creates a categorized error with formatting.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap wraps an existing error under a kind. Returns nil for nil causes.
func Wrap(err error, kind Kind, message string) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Message: message, Cause: err}
}

// Wrapf wraps with formatting.
func Wrapf(err error, kind Kind, format string, args ...any) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: err}
}

// Convenience constructors mirroring the common call sites.

func Transient(err error, message string) *Error  { return Wrap(err, KindTransient, message) }
func Permanent(err error, message string) *Error  { return Wrap(err, KindPermanent, message) }
func Validation(message string) *Error            { return New(KindValidation, message) }
func Validationf(f string, args ...any) *Error    { return Newf(KindValidation, f, args...) }
func Security(message string) *Error              { return New(KindSecurity, message) }
func Securityf(f string, args ...any) *Error      { return Newf(KindSecurity, f, args...) }
func Parse(err error, message string) *Error      { return Wrap(err, KindParse, message) }
func Internal(message string) *Error              { return New(KindInternal, message) }
func Internalf(f string, args ...any) *Error      { return Newf(KindInternal, f, args...) }

// KindOf returns the Kind of an error, unwrapping as needed.
// Plain errors default to KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsRetryable reports whether the error may succeed on retry.
// Only transient backend faults qualify; validation, security and
// permanent backend errors never do.
func IsRetryable(err error) bool {
	return KindOf(err) == KindTransient
}

// IsSecurity reports whether the error is a security violation and
// must abort the enclosing analysis.
func IsSecurity(err error) bool {
	return KindOf(err) == KindSecurity
}
