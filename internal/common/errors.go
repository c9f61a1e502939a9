package common

import "net/http"

type ErrorKind int

const (
	KindValidation ErrorKind = iota
	KindUnauthorized
	KindInvalidToken
	KindForbidden
	KindNotFound
	KindConflict
)

// Error is a domain failure carrying the HTTP status it maps to. Services
// return it for every expected failure; anything else reaching the boundary
// becomes a 500 with a generic message.
type Error struct {
	Kind    ErrorKind
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Status() int {
	switch e.Kind {
	case KindValidation, KindConflict:
		return http.StatusBadRequest
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindInvalidToken, KindForbidden:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func NewValidationError(message string) *Error {
	return &Error{Kind: KindValidation, Message: message}
}

func NewUnauthorizedError(message string) *Error {
	return &Error{Kind: KindUnauthorized, Message: message}
}

func NewInvalidTokenError() *Error {
	return &Error{Kind: KindInvalidToken, Message: "Invalid token"}
}

func NewForbiddenError(message string) *Error {
	return &Error{Kind: KindForbidden, Message: message}
}

func NewNotFoundError(message string) *Error {
	return &Error{Kind: KindNotFound, Message: message}
}

func NewConflictError(message string) *Error {
	return &Error{Kind: KindConflict, Message: message}
}
