// Package apperr tags pipeline errors with a kind so workers can record why
// a document failed and the HTTP layer can pick a status code.
package apperr

import (
	"errors"
	"fmt"
	"strings"
)

type Kind string

const (
	KindUpstream          Kind = "UPSTREAM_CAPABILITY"
	KindNotFound          Kind = "NOT_FOUND"
	KindMalformedResponse Kind = "MALFORMED_ASSISTANT_RESPONSE"
	KindRunFailed         Kind = "ASSISTANT_RUN_FAILED"
	KindPersistence       Kind = "PERSISTENCE"
	KindTimeout           Kind = "ASSISTANT_TIMEOUT"
	KindInvalidUpload     Kind = "INVALID_UPLOAD"
	KindInternal          Kind = "INTERNAL"
)

// Error carries a kind, the operation that failed and the underlying cause.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	if e.Err != nil {
		b.WriteString(e.Err.Error())
	} else {
		b.WriteString(strings.ToLower(strings.ReplaceAll(string(e.Kind), "_", " ")))
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches on kind, so errors.Is(err, apperr.ErrNotFound) works for any
// wrapped not-found error.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Op == "" && t.Err == nil && t.Kind == e.Kind
}

// Sentinels for errors.Is.
var (
	ErrUpstream          = &Error{Kind: KindUpstream}
	ErrNotFound          = &Error{Kind: KindNotFound}
	ErrMalformedResponse = &Error{Kind: KindMalformedResponse}
	ErrRunFailed         = &Error{Kind: KindRunFailed}
	ErrPersistence       = &Error{Kind: KindPersistence}
	ErrTimeout           = &Error{Kind: KindTimeout}
	ErrInvalidUpload     = &Error{Kind: KindInvalidUpload}
)

// E wraps err with a kind. A nil err yields a bare kind error.
func E(kind Kind, op string, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Errorf builds a kind error from a format string.
func Errorf(kind Kind, op, format string, args ...interface{}) error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the kind of the outermost *Error in the chain.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

const maxReasonLen = 512

// Reason renders err as "<KIND>: <message>" for Document.FailureReason.
func Reason(err error) string {
	if err == nil {
		return ""
	}
	r := fmt.Sprintf("%s: %s", KindOf(err), err.Error())
	if len(r) > maxReasonLen {
		r = r[:maxReasonLen]
	}
	return r
}
