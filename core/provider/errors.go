package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Code identifies the kind of a classified provider failure.
type Code string

const (
	CodeRateLimited      Code = "RATE_LIMITED"
	CodeAuthFailed       Code = "AUTH_FAILED"
	CodeModelUnavailable Code = "MODEL_UNAVAILABLE"
	CodeTimeout          Code = "TIMEOUT"
	CodeInvalidRequest   Code = "INVALID_REQUEST"
	CodeServiceError     Code = "SERVICE_ERROR"
	CodeNetworkError     Code = "NETWORK_ERROR"
)

// Retryable reports whether a failure with this code may be retried
// against the same or another provider. AUTH_FAILED and INVALID_REQUEST
// are fatal: retrying cannot fix a bad key or a malformed request.
func (c Code) Retryable() bool {
	switch c {
	case CodeRateLimited, CodeTimeout, CodeServiceError, CodeNetworkError, CodeModelUnavailable:
		return true
	}
	return false
}

// Error is a provider failure classified into a fixed code, carrying the
// offending service name and the original cause.
type Error struct {
	Code    Code
	Service string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Service != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Service, e.Message, e.Code)
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Code)
}

func (e *Error) Unwrap() error { return e.Cause }

// NewError builds a classified error directly, bypassing keyword matching.
func NewError(code Code, service, message string) *Error {
	return &Error{Code: code, Service: service, Message: message}
}

// Classify maps an arbitrary error to a classified Error attributed to the
// named service. An already classified error is returned as-is, never
// reclassified. Classification is textual: the message is matched against
// disjoint keyword buckets, with context deadline errors recognized first.
func Classify(err error, service string) *Error {
	if err == nil {
		return nil
	}
	var ce *Error
	if errors.As(err, &ce) {
		return ce
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Code: CodeTimeout, Service: service, Message: err.Error(), Cause: err}
	}
	msg := strings.ToLower(err.Error())
	code := CodeServiceError
	switch {
	case containsAny(msg, "rate", "429"):
		code = CodeRateLimited
	case containsAny(msg, "auth", "401", "api key"):
		code = CodeAuthFailed
	case containsAny(msg, "model", "not found"):
		code = CodeModelUnavailable
	case containsAny(msg, "timeout", "timed out"):
		code = CodeTimeout
	case containsAny(msg, "invalid", "400"):
		code = CodeInvalidRequest
	case containsAny(msg, "network", "fetch", "connection refused"):
		code = CodeNetworkError
	}
	return &Error{Code: code, Service: service, Message: err.Error(), Cause: err}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
