// Package pkg holds shared utilities: domain errors and the HTTP
// response envelope.
package pkg

import "errors"

// Domain errors. Services return these (usually wrapped); the handler
// layer maps them to HTTP status codes with errors.Is.
var (
	ErrNotFound      = errors.New("not found")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrForbidden     = errors.New("forbidden")
	ErrAlreadyExists = errors.New("already exists")
	ErrBadRequest    = errors.New("bad request")
	ErrInternal      = errors.New("internal error")
)
