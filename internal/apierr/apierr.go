// Package apierr classifies errors that cross the HTTP boundary.
package apierr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind groups errors by how the client should react.
type Kind string

const (
	KindValidation  Kind = "validation"
	KindNotFound    Kind = "not_found"
	KindConflict    Kind = "conflict"
	KindUpstream    Kind = "upstream"
	KindAssembly    Kind = "assembly"
	KindPersistence Kind = "persistence"
	KindInternal    Kind = "internal"
)

// Error is a classified error with the message shown to clients. Err, when
// set, is reported as details.
type Error struct {
	Kind    Kind
	Status  int
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("api error (%d)", e.Status)
}

func (e *Error) Unwrap() error { return e.Err }

// Body is the JSON error envelope.
type Body struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// Body returns the envelope for e.
func (e *Error) Body() Body {
	b := Body{Error: e.Message}
	if e.Err != nil {
		b.Details = e.Err.Error()
	}
	return b
}

func New(kind Kind, status int, msg string, err error) *Error {
	return &Error{Kind: kind, Status: status, Message: msg, Err: err}
}

func Validation(msg string) *Error {
	return New(KindValidation, http.StatusBadRequest, msg, nil)
}

func NotFound(msg string, err error) *Error {
	return New(KindNotFound, http.StatusNotFound, msg, err)
}

func Conflict(msg string, err error) *Error {
	return New(KindConflict, http.StatusConflict, msg, err)
}

// Upstream reports a failure of the question generator.
func Upstream(msg string, err error) *Error {
	return New(KindUpstream, http.StatusBadGateway, msg, err)
}

// Assembly reports a document that could not be produced.
func Assembly(err error) *Error {
	return New(KindAssembly, http.StatusInternalServerError, "Error al generar el documento", err)
}

func Persistence(msg string, err error) *Error {
	return New(KindPersistence, http.StatusInternalServerError, msg, err)
}

func Internal(err error) *Error {
	return New(KindInternal, http.StatusInternalServerError, "Error interno del servidor", err)
}

// From returns err as an *Error, classifying unknown errors as internal.
func From(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Internal(err)
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}
