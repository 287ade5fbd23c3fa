// Package apierr gives the HTTP layer a small, explicit taxonomy of
// failure kinds instead of scattering raw http.Status* literals through
// every handler. A handler classifies an error once, by wrapping it with
// one of the five Codes below (via New or Wrap), and the router maps that
// classification to a status code in one place.
package apierr

import "net/http"

// Code names one of five ways a request can fail.
type Code string

const (
	InvalidInput           Code = "invalid_input"
	NotFound               Code = "not_found"
	DependencyUnavailable  Code = "dependency_unavailable"
	LimitReached           Code = "limit_reached"
	Internal               Code = "internal"
)

// Error pairs a Code with a human-readable message and, optionally, the
// underlying error that caused it.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

func Wrap(code Code, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// HTTPStatus maps an error's Code to a status code. Errors that were
// never classified (plain errors from code that hasn't adopted this
// package) default to 500, matching the teacher's own unclassified
// error-to-500 handling.
func HTTPStatus(err error) int {
	ae, ok := err.(*Error)
	if !ok {
		return http.StatusInternalServerError
	}
	switch ae.Code {
	case InvalidInput:
		return http.StatusBadRequest
	case NotFound:
		return http.StatusNotFound
	case DependencyUnavailable:
		return http.StatusServiceUnavailable
	case LimitReached:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
