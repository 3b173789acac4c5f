// Package apperr defines the typed errors returned by services and mapped to
// HTTP responses by the error handler middleware.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindNotFound
	KindForbidden
	KindConflict
	KindCapacityExceeded
	KindRateLimited
	KindLocked
)

var kindNames = map[Kind]string{
	KindInternal:         "INTERNAL",
	KindValidation:       "VALIDATION_ERROR",
	KindNotFound:         "NOT_FOUND",
	KindForbidden:        "FORBIDDEN",
	KindConflict:         "CONFLICT",
	KindCapacityExceeded: "CAPACITY_EXCEEDED",
	KindRateLimited:      "RATE_LIMITED",
	KindLocked:           "LOCKED",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Status returns the HTTP status the kind is surfaced with.
func (k Kind) Status() int {
	switch k {
	case KindValidation, KindCapacityExceeded, KindRateLimited:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindForbidden:
		return http.StatusForbidden
	case KindConflict:
		return http.StatusConflict
	case KindLocked:
		return http.StatusNotAcceptable
	default:
		return http.StatusInternalServerError
	}
}

// FieldError is one entry of a VALIDATION_ERROR body.
type FieldError struct {
	Type     string `json:"type"`
	Loc      string `json:"loc,omitempty"`
	Msg      string `json:"msg"`
	Question string `json:"question_id,omitempty"`
}

type Error struct {
	Kind    Kind
	Message string
	// Fields carries field-keyed messages (RATE_LIMITED, CONFLICT on a field).
	Fields map[string]string
	// Errors carries the per-item list of a VALIDATION_ERROR.
	Errors []FieldError
	// Details is merged into the response body (LOCKED progress).
	Details map[string]interface{}
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Kind.String()
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so errors.Is(err, apperr.ErrNotFound) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Message == "" && t.Kind == e.Kind
}

// Sentinels for errors.Is comparisons.
var (
	ErrValidation       = &Error{Kind: KindValidation}
	ErrNotFound         = &Error{Kind: KindNotFound}
	ErrForbidden        = &Error{Kind: KindForbidden}
	ErrConflict         = &Error{Kind: KindConflict}
	ErrCapacityExceeded = &Error{Kind: KindCapacityExceeded}
	ErrRateLimited      = &Error{Kind: KindRateLimited}
	ErrLocked           = &Error{Kind: KindLocked}
)

func Validation(msg string, errs ...FieldError) *Error {
	return &Error{Kind: KindValidation, Message: msg, Errors: errs}
}

func NotFound(what string) *Error {
	return &Error{Kind: KindNotFound, Message: what + " not found"}
}

func Forbidden(msg string) *Error {
	if msg == "" {
		msg = "you do not have permission to perform this action"
	}
	return &Error{Kind: KindForbidden, Message: msg}
}

func Conflict(msg string) *Error {
	return &Error{Kind: KindConflict, Message: msg}
}

func CapacityExceeded(msg string) *Error {
	return &Error{Kind: KindCapacityExceeded, Message: msg}
}

func RateLimited(field, msg string) *Error {
	return &Error{Kind: KindRateLimited, Message: msg, Fields: map[string]string{field: msg}}
}

func Locked(msg string, progress int) *Error {
	return &Error{Kind: KindLocked, Message: msg, Details: map[string]interface{}{"progress": progress}}
}

func Internal(err error) *Error {
	return &Error{Kind: KindInternal, Message: "internal error", Err: err}
}

// Wrap attaches a kind to an underlying error.
func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Message: msg, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// As is errors.As specialised to *Error.
func As(err error) (*Error, bool) {
	var e *Error
	ok := errors.As(err, &e)
	return e, ok
}

// Body renders the JSON body for e.
func (e *Error) Body() map[string]interface{} {
	body := map[string]interface{}{}
	switch e.Kind {
	case KindValidation:
		errs := e.Errors
		if len(errs) == 0 {
			errs = []FieldError{{Type: "value_error", Msg: e.Message}}
		}
		body["errors"] = errs
	case KindRateLimited:
		for k, v := range e.Fields {
			body[k] = v
		}
	case KindInternal:
		body["detail"] = "server_error"
	default:
		body["detail"] = e.Message
		for k, v := range e.Fields {
			body[k] = v
		}
	}
	for k, v := range e.Details {
		body[k] = v
	}
	return body
}
