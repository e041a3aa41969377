// Package apierr is the closed error taxonomy for the story backend. Every
// failure that can cross a package boundary is one of four kinds; request
// handlers map the kind to an HTTP status and never inspect anything deeper.
package apierr

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind string

const (
	KindValidation      Kind = "validation_error"
	KindSessionNotFound Kind = "session_not_found"
	KindGeneration      Kind = "generation_failed"
	KindStorage         Kind = "storage_error"
)

// Service identifies which upstream generation pipeline failed. Empty for
// non-generation errors.
type Service string

const (
	ServiceText   Service = "text"
	ServiceSpeech Service = "speech"
	ServiceImage  Service = "image"
)

type Error struct {
	Kind    Kind
	Service Service
	Err     error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	switch {
	case e.Err == nil:
		return string(e.Kind)
	case e.Service != "":
		return fmt.Sprintf("%s (%s): %v", e.Kind, e.Service, e.Err)
	default:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Status() int {
	if e == nil {
		return http.StatusInternalServerError
	}
	switch e.Kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindSessionNotFound:
		return http.StatusGone
	case KindGeneration:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func Validation(err error) *Error {
	return &Error{Kind: KindValidation, Err: err}
}

func Validationf(format string, args ...any) *Error {
	return Validation(fmt.Errorf(format, args...))
}

func SessionNotFound(err error) *Error {
	return &Error{Kind: KindSessionNotFound, Err: err}
}

func Generation(service Service, err error) *Error {
	return &Error{Kind: KindGeneration, Service: service, Err: err}
}

func Storage(err error) *Error {
	return &Error{Kind: KindStorage, Err: err}
}

// From returns err as an *Error, wrapping unknown errors as storage failures
// so nothing leaks past a handler untyped.
func From(err error) *Error {
	if err == nil {
		return nil
	}
	var ae *Error
	if errors.As(err, &ae) {
		return ae
	}
	return Storage(err)
}

func IsKind(err error, kind Kind) bool {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind == kind
	}
	return false
}
