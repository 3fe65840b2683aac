// Package faults defines the error taxonomy shared by every stage of the
// completion pipeline. Callers inspect failures with errors.As or Kind and
// decide whether to retry at a higher level, degrade, or surface a message.
package faults

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"
)

// StatusEmptyCompletion marks a ProviderError raised for a successful HTTP
// exchange that carried zero completions.
const StatusEmptyCompletion = 0

// Kind names an error class in the taxonomy.
type Kind string

const (
	KindUnknown          Kind = "unknown"
	KindInvalidRequest   Kind = "invalid_request"
	KindTransportTimeout Kind = "transport_timeout"
	KindProviderError    Kind = "provider_error"
	KindCircuitOpen      Kind = "circuit_open"
	KindParseError       Kind = "parse_error"
	KindValidationError  Kind = "validation_error"
)

var retryableStatuses = map[int]bool{
	http.StatusRequestTimeout:      true,
	http.StatusTooManyRequests:     true,
	http.StatusInternalServerError: true,
	http.StatusBadGateway:          true,
	http.StatusServiceUnavailable:  true,
	http.StatusGatewayTimeout:      true,
}

// InvalidRequestError reports malformed caller input. Never retried.
type InvalidRequestError struct {
	Reason string
}

func (e *InvalidRequestError) Error() string {
	return "invalid request: " + e.Reason
}

// InvalidRequest builds an InvalidRequestError from a format string.
func InvalidRequest(format string, args ...any) error {
	return &InvalidRequestError{Reason: fmt.Sprintf(format, args...)}
}

// TimeoutError reports that a single attempt exceeded its timeout window.
type TimeoutError struct {
	After    time.Duration
	Attempts int
	Err      error
}

func (e *TimeoutError) Error() string {
	msg := fmt.Sprintf("provider call timed out after %s", e.After)
	if e.Attempts > 1 {
		msg += fmt.Sprintf(" (%d attempts)", e.Attempts)
	}
	return msg
}

func (e *TimeoutError) Unwrap() error { return e.Err }

// ProviderError reports a non-2xx reply, or a 2xx reply without completions
// (Status == StatusEmptyCompletion).
type ProviderError struct {
	// Status is the classified status. It equals HTTPStatus except for empty
	// completions.
	Status     int
	HTTPStatus int
	Body       string
	Attempts   int
}

func (e *ProviderError) Error() string {
	var b strings.Builder
	if e.Status == StatusEmptyCompletion {
		fmt.Fprintf(&b, "provider returned no completions (http %d)", e.HTTPStatus)
	} else {
		fmt.Fprintf(&b, "provider error status %d", e.Status)
		if body := strings.TrimSpace(e.Body); body != "" {
			fmt.Fprintf(&b, ": %s", truncate(body, 512))
		}
	}
	if e.Attempts > 1 {
		fmt.Fprintf(&b, " (%d attempts)", e.Attempts)
	}
	return b.String()
}

// Retryable reports whether the status belongs to the transient set.
func (e *ProviderError) Retryable() bool {
	return retryableStatuses[e.Status]
}

// CircuitOpenError is returned without attempting the call while the
// breaker is open or its half-open trial slot is taken.
type CircuitOpenError struct {
	RetryAfter time.Duration
}

func (e *CircuitOpenError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("circuit open, retry after %s", e.RetryAfter.Round(time.Millisecond))
	}
	return "circuit open"
}

// ParseError reports that no JSON object could be recovered from a reply.
type ParseError struct {
	Raw string
	Err error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("no JSON object found in reply: %v", e.Err)
	}
	return "no JSON object found in reply"
}

func (e *ParseError) Unwrap() error { return e.Err }

// ValidationError reports a strictly required canonical field that is absent.
type ValidationError struct {
	Schema string
	Field  string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: required field %q is missing", e.Schema, e.Field)
}

// IsRetryable reports whether err belongs to the transient set: timeouts and
// provider errors with a retryable status.
func IsRetryable(err error) bool {
	var timeout *TimeoutError
	if errors.As(err, &timeout) {
		return true
	}
	var perr *ProviderError
	if errors.As(err, &perr) {
		return perr.Retryable()
	}
	return false
}

// TagAttempts records the number of attempts on the error value itself, so the
// caller still receives the original error rather than a wrapper.
func TagAttempts(err error, attempts int) error {
	var timeout *TimeoutError
	if errors.As(err, &timeout) {
		timeout.Attempts = attempts
		return err
	}
	var perr *ProviderError
	if errors.As(err, &perr) {
		perr.Attempts = attempts
	}
	return err
}

// AttemptsOf returns the attempt count recorded on err, or 0.
func AttemptsOf(err error) int {
	var timeout *TimeoutError
	if errors.As(err, &timeout) {
		return timeout.Attempts
	}
	var perr *ProviderError
	if errors.As(err, &perr) {
		return perr.Attempts
	}
	return 0
}

// KindOf classifies err.
func KindOf(err error) Kind {
	var (
		invalid    *InvalidRequestError
		timeout    *TimeoutError
		perr       *ProviderError
		open       *CircuitOpenError
		parse      *ParseError
		validation *ValidationError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &invalid):
		return KindInvalidRequest
	case errors.As(err, &timeout):
		return KindTransportTimeout
	case errors.As(err, &perr):
		return KindProviderError
	case errors.As(err, &open):
		return KindCircuitOpen
	case errors.As(err, &parse):
		return KindParseError
	case errors.As(err, &validation):
		return KindValidationError
	default:
		return KindUnknown
	}
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
