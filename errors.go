package seatbridge

import (
	"context"
	"errors"
	"fmt"
	"net"
	"regexp"
)

// ErrorKind classifies failures. The string values cross the wire in
// Result.Kind so UI code can switch on them.
type ErrorKind string

const (
	KindNetwork         ErrorKind = "network_error"
	KindTimeout         ErrorKind = "timeout"
	KindFetch           ErrorKind = "fetch_error"
	KindScript          ErrorKind = "script_error"
	KindCORS            ErrorKind = "cors_error"
	KindHTTPStatus      ErrorKind = "http_status_error"
	KindOffline         ErrorKind = "offline"
	KindOfflineDelegate ErrorKind = "offline_delegate"
	KindInvalidResponse ErrorKind = "invalid_response"
	KindCircuitOpen     ErrorKind = "circuit_open"
	KindValidation      ErrorKind = "validation_error"
	KindException       ErrorKind = "exception"

	// KindRejected is a business-level refusal from a healthy backend
	// (seat already taken, seat not found). It is never retried and never
	// triggers a backend fallback.
	KindRejected ErrorKind = "rejected"
)

// Retryable reports whether the kind belongs to the transient class.
// HTTP status kinds are refined by CallError.Retryable using the code.
func (k ErrorKind) Retryable() bool {
	switch k {
	case KindNetwork, KindTimeout, KindFetch, KindScript, KindOffline:
		return true
	default:
		return false
	}
}

// FallbackWorthy reports whether a failure of this kind on one backend
// justifies trying the other one.
func (k ErrorKind) FallbackWorthy() bool {
	switch k {
	case KindValidation, KindRejected, KindOfflineDelegate, "":
		return false
	default:
		return true
	}
}

var (
	// ErrCircuitOpen is returned when the breaker rejects an attempt.
	ErrCircuitOpen = errors.New("circuit breaker is open")

	// ErrOffline is returned when the network signal reports no connectivity.
	ErrOffline = errors.New("network is offline")
)

// CallError is the error type used inside the retry and backend layers.
// It is converted to a Result before leaving a backend.
type CallError struct {
	Kind    ErrorKind
	Status  int
	Message string
	Err     error
}

func (e *CallError) Error() string {
	switch {
	case e.Status != 0 && e.Message != "":
		return fmt.Sprintf("%s: status %d: %s", e.Kind, e.Status, e.Message)
	case e.Status != 0:
		return fmt.Sprintf("%s: status %d", e.Kind, e.Status)
	case e.Message != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	case e.Message != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	default:
		return string(e.Kind)
	}
}

func (e *CallError) Unwrap() error { return e.Err }

// Retryable reports whether the error is transient: network-class kinds,
// HTTP 5xx and HTTP 429.
func (e *CallError) Retryable() bool {
	if e.Kind == KindHTTPStatus {
		return e.Status >= 500 || e.Status == 429
	}
	return e.Kind.Retryable()
}

// NewCallError builds a CallError.
func NewCallError(kind ErrorKind, err error, format string, args ...any) *CallError {
	return &CallError{Kind: kind, Err: err, Message: fmt.Sprintf(format, args...)}
}

// StatusError builds an http_status_error for a non-2xx response.
func StatusError(status int, body string) *CallError {
	if len(body) > 200 {
		body = body[:200]
	}
	return &CallError{Kind: KindHTTPStatus, Status: status, Message: body}
}

var retryablePattern = regexp.MustCompile(`(?i)timeout|timed out|offline|network|\b5\d\d\b|\b429\b|script error|fetch`)

// IsRetryable classifies an arbitrary error. Typed errors are classified by
// kind; anything else falls back to matching the message.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var ce *CallError
	if errors.As(err, &ce) {
		return ce.Retryable()
	}
	if errors.Is(err, ErrCircuitOpen) || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrOffline) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return true
	}
	return retryablePattern.MatchString(err.Error())
}

// KindOf maps an error to its taxonomy entry.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var ce *CallError
	switch {
	case errors.As(err, &ce):
		return ce.Kind
	case errors.Is(err, ErrCircuitOpen):
		return KindCircuitOpen
	case errors.Is(err, ErrOffline):
		return KindOffline
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	}
	var ne net.Error
	if errors.As(err, &ne) {
		if ne.Timeout() {
			return KindTimeout
		}
		return KindNetwork
	}
	return KindException
}

// ResultFromError converts an error into a failed Result.
func ResultFromError(err error) *Result {
	if err == nil {
		return &Result{Success: true}
	}
	res := Failure(KindOf(err), "%s", err.Error())
	var ce *CallError
	if errors.As(err, &ce) {
		res.Status = ce.Status
		if ce.Message != "" && (ce.Kind == KindRejected || ce.Kind == KindValidation) {
			res.Error = ce.Message
		}
	}
	return res
}
