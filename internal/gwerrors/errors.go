// Package gwerrors defines the gateway's error kinds and their HTTP mapping.
package gwerrors

import (
	"fmt"
	"net/http"
	"strings"
)

// Kind classifies a gateway error per the error-handling design: each kind
// maps to exactly one HTTP status and one handling strategy.
type Kind string

const (
	KindBadFilter             Kind = "BadFilter"
	KindForbidden              Kind = "Forbidden"
	KindNotFound               Kind = "NotFound"
	KindAuthenticationFailed   Kind = "AuthenticationFailed"
	KindSessionExpired         Kind = "SessionExpired"
	KindPoolExhausted          Kind = "PoolExhausted"
	KindCatalogueUnavailable   Kind = "CatalogueUnavailable"
	KindInternal               Kind = "Internal"
)

var statusByKind = map[Kind]int{
	KindBadFilter:           http.StatusBadRequest,
	KindForbidden:           http.StatusForbidden,
	KindNotFound:            http.StatusNotFound,
	KindAuthenticationFailed: http.StatusUnauthorized,
	KindSessionExpired:      0, // retried once by the orchestrator; surfaces as 500 if the retry also expires
	KindPoolExhausted:       http.StatusServiceUnavailable,
	KindCatalogueUnavailable: http.StatusServiceUnavailable,
	KindInternal:            http.StatusInternalServerError,
}

// Error is a gateway error carrying its kind and a human-readable message.
// Kind-specific constructors below prefix the message the way the teacher's
// error_handler.go encodes status text into the error string itself.
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func newError(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// NewBadFilter reports a malformed filter, naming the offending node path
// (e.g. "where.size.between") as required by spec.
func NewBadFilter(path, reason string) error {
	if path == "" {
		return newError(KindBadFilter, "%s", reason)
	}
	return newError(KindBadFilter, "%s: %s", path, reason)
}

func NewForbidden(message string) error {
	return newError(KindForbidden, "%s", message)
}

func NewNotFound(message string) error {
	return newError(KindNotFound, "%s", message)
}

func NewAuthenticationFailed(message string) error {
	return newError(KindAuthenticationFailed, "%s", message)
}

func NewSessionExpired(message string) error {
	return newError(KindSessionExpired, "%s", message)
}

func NewPoolExhausted(message string) error {
	return newError(KindPoolExhausted, "%s", message)
}

func NewCatalogueUnavailable(message string) error {
	return newError(KindCatalogueUnavailable, "%s", message)
}

func NewInternal(message string) error {
	return newError(KindInternal, "%s", message)
}

// KindOf extracts the Kind from err, defaulting to Internal for errors the
// gateway did not construct itself (e.g. a bare driver error).
func KindOf(err error) Kind {
	var gwErr *Error
	if asError(err, &gwErr) {
		return gwErr.Kind
	}
	return KindInternal
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

// Is implements the same prefix-style classification the teacher uses,
// exposed as predicates rather than string matching.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

func IsBadFilter(err error) bool           { return Is(err, KindBadFilter) }
func IsForbidden(err error) bool            { return Is(err, KindForbidden) }
func IsNotFound(err error) bool             { return Is(err, KindNotFound) }
func IsAuthenticationFailed(err error) bool { return Is(err, KindAuthenticationFailed) }
func IsSessionExpired(err error) bool       { return Is(err, KindSessionExpired) }
func IsPoolExhausted(err error) bool        { return Is(err, KindPoolExhausted) }
func IsCatalogueUnavailable(err error) bool { return Is(err, KindCatalogueUnavailable) }

// StatusCode returns the HTTP status to surface for err. SessionExpired has
// no public status of its own: the orchestrator retries it once with a fresh
// session, and one that is still returned after that retry is reported as
// Internal.
func StatusCode(err error) int {
	kind := KindOf(err)
	status, ok := statusByKind[kind]
	if !ok || status == 0 {
		return http.StatusInternalServerError
	}
	return status
}

// Response is the {status, message} body mandated by spec.md §6.
type Response struct {
	Status  int    `json:"status"`
	Message string `json:"message"`
}

// NewResponse builds the wire error body for err.
func NewResponse(err error) Response {
	message := err.Error()
	if idx := strings.Index(message, ": "); idx >= 0 {
		message = message[idx+2:]
	}
	return Response{
		Status:  StatusCode(err),
		Message: message,
	}
}
