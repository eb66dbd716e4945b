// Package planeerr implements the data plane's error taxonomy: every error
// surfaced to a caller carries a Class, a stable Code, and the HTTP status
// that class maps to, so that transports (HTTP, streaming, MCP) can render a
// consistent envelope regardless of which component raised the error.
package planeerr

import (
	"errors"
	"fmt"
)

// Class is the coarse error category from the propagation policy.
type Class string

const (
	// ClassClient covers malformed payloads, filter policy denials, unknown
	// model/alias references, and rate limiting (HTTP 400-429).
	ClassClient Class = "client"

	// ClassUpstream covers agent/provider failures, filter-chain fatal
	// crashes, and classifier failure with no default configured (HTTP 502).
	ClassUpstream Class = "upstream"

	// ClassInternal covers translator invariant violations and references to
	// missing runtime configuration (HTTP 500).
	ClassInternal Class = "internal"

	// ClassTimeout covers any deadline exceeded (HTTP 504).
	ClassTimeout Class = "timeout"

	// ClassCapacity covers shutdown draining and sandbox buffer exhaustion
	// (HTTP 503).
	ClassCapacity Class = "capacity"
)

// Error is the data plane's structured error type. It always carries an
// HTTP status alongside a stable machine-readable Code and a human-readable
// Message.
type Error struct {
	Class      Class
	Code       string
	HTTPStatus int
	Message    string

	// FilterID identifies the filter that produced the error, when Class is
	// ClassClient and the error originated as a filter policy denial.
	FilterID string

	cause error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s (%s): %s: %v", e.Code, e.Class, e.Message, e.cause)
	}
	return fmt.Sprintf("%s (%s): %s", e.Code, e.Class, e.Message)
}

// Unwrap exposes the wrapped cause, if any, so callers can errors.Is/As
// through to a lower-level error (e.g. a *model.ProviderError).
func (e *Error) Unwrap() error { return e.cause }

// New builds an Error with no wrapped cause.
func New(class Class, code string, httpStatus int, message string) *Error {
	return &Error{Class: class, Code: code, HTTPStatus: httpStatus, Message: message}
}

// Wrap builds an Error that preserves cause in its error chain.
func Wrap(class Class, code string, httpStatus int, message string, cause error) *Error {
	return &Error{Class: class, Code: code, HTTPStatus: httpStatus, Message: message, cause: cause}
}

// As extracts the first *Error in err's chain, if any.
func As(err error) (*Error, bool) {
	var pe *Error
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// Constructors below follow the propagation policy taxonomy in §7.

// MalformedPayload reports a request the transport could not parse.
func MalformedPayload(message string) *Error {
	return New(ClassClient, "malformed_payload", 400, message)
}

// PolicyDenied reports a filter's guardrail decision, preserving the
// filter's own status and forwarding its body verbatim via Message.
func PolicyDenied(filterID string, status int, body string) *Error {
	return &Error{Class: ClassClient, Code: "policy_denied", HTTPStatus: status, Message: body, FilterID: filterID}
}

// UnknownRoute reports a request naming a model or alias the router cannot
// resolve.
func UnknownRoute(message string) *Error {
	return New(ClassClient, "unknown_route", 404, message)
}

// RateLimited reports a rate-limiter denial.
func RateLimited(message string) *Error {
	return New(ClassClient, "rate_limited", 429, message)
}

// UpstreamFailure reports an agent or provider failure, or a filter-chain
// fatal crash.
func UpstreamFailure(message string, cause error) *Error {
	return Wrap(ClassUpstream, "upstream_failure", 502, message, cause)
}

// ClassifierUnavailable reports a classifier failure with no configured
// default to fall back to.
func ClassifierUnavailable(message string) *Error {
	return New(ClassUpstream, "classifier_unavailable", 502, message)
}

// TranslatorInvariantViolated reports a canonical model invariant broken by
// a translator, indicating a bug rather than bad input.
func TranslatorInvariantViolated(message string, cause error) *Error {
	return Wrap(ClassInternal, "translator_invariant_violated", 500, message, cause)
}

// ConfigurationError reports a runtime reference to configuration that does
// not exist (e.g. a cluster-shared rate limiter capacity key).
func ConfigurationError(message string) *Error {
	return New(ClassInternal, "configuration_error", 500, message)
}

// DeadlineExceeded reports any of the concurrency model's deadlines being
// exceeded.
func DeadlineExceeded(message string) *Error {
	return New(ClassTimeout, "deadline_exceeded", 504, message)
}

// Draining reports a request rejected because the process is draining
// in-flight requests ahead of shutdown.
func Draining() *Error {
	return New(ClassCapacity, "draining", 503, "the server is shutting down and draining in-flight requests")
}

// SandboxBufferExceeded reports a filter sandbox unable to buffer a request
// body within its configured limit.
func SandboxBufferExceeded(message string) *Error {
	return New(ClassCapacity, "sandbox_buffer_exceeded", 503, message)
}
