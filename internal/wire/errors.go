// Package wire defines the broker's HTTP-level contract: the error
// taxonomy with its stable {status, code} pairs and the event stream
// frame format. Both the server and the client SDK depend on it, so it
// must not import anything above the standard library.
package wire

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes. These are the stable wire contract; renaming one is a
// breaking protocol change.
const (
	CodeInvalidRequest   = "INVALID_REQUEST"
	CodeInvalidToken     = "INVALID_TOKEN"
	CodePolicyDenied     = "POLICY_DENIED"
	CodeConsentRequired  = "CONSENT_REQUIRED"
	CodeConsentDenied    = "CONSENT_DENIED"
	CodeSessionCancelled = "SESSION_CANCELLED"
	CodeSessionNotFound  = "SESSION_NOT_FOUND"
	CodeSessionExpired   = "SESSION_EXPIRED"
	CodeRateLimited      = "RATE_LIMITED"
	CodeInvalidAction    = "INVALID_ACTION"
	CodeBadSelector      = "BAD_SELECTOR"
	CodeAgentError       = "AGENT_ERROR"
)

// Error is a broker error carrying its wire mapping. Internal layers
// return it directly; the HTTP server serializes it, and the client SDK
// reconstructs it from non-2xx responses.
type Error struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Is makes errors.Is match on code, so callers can compare against a
// constructor result without caring about the message.
func (e *Error) Is(target error) bool {
	var we *Error
	if errors.As(target, &we) {
		return we.Code == e.Code
	}
	return false
}

// AsError extracts a *Error from err, or wraps err as an AgentError.
func AsError(err error) *Error {
	var we *Error
	if errors.As(err, &we) {
		return we
	}
	return AgentError(err.Error())
}

func newError(status int, code, format string, args ...any) *Error {
	return &Error{Status: status, Code: code, Message: fmt.Sprintf(format, args...)}
}

func InvalidRequest(format string, args ...any) *Error {
	return newError(http.StatusBadRequest, CodeInvalidRequest, format, args...)
}

func InvalidToken(format string, args ...any) *Error {
	return newError(http.StatusUnauthorized, CodeInvalidToken, format, args...)
}

func PolicyDenied(format string, args ...any) *Error {
	return newError(http.StatusForbidden, CodePolicyDenied, format, args...)
}

func ConsentRequired() *Error {
	return newError(http.StatusForbidden, CodeConsentRequired, "user has not granted consent yet")
}

func ConsentDenied() *Error {
	return newError(http.StatusForbidden, CodeConsentDenied, "user denied consent")
}

func SessionCancelled() *Error {
	return newError(http.StatusForbidden, CodeSessionCancelled, "session was cancelled")
}

func SessionNotFound(id string) *Error {
	return newError(http.StatusNotFound, CodeSessionNotFound, "no session with id %s", id)
}

func SessionExpired(id string) *Error {
	return newError(http.StatusNotFound, CodeSessionExpired, "session %s has expired", id)
}

func RateLimited(limit int) *Error {
	return newError(http.StatusTooManyRequests, CodeRateLimited, "action rate limit of %d/min exceeded", limit)
}

func InvalidAction(action string) *Error {
	return newError(http.StatusBadRequest, CodeInvalidAction, "unknown action %q", action)
}

func BadSelector(selector string) *Error {
	return newError(http.StatusUnprocessableEntity, CodeBadSelector, "no element matched selector %q", selector)
}

func AgentError(format string, args ...any) *Error {
	return newError(http.StatusInternalServerError, CodeAgentError, format, args...)
}
