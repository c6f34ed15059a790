// Package boterrors provides classified errors for calls to external dependencies.
//
// Every failure crossing a dependency boundary is wrapped in an *Error carrying
// a Kind, so the conversation logic pattern-matches on outcome kinds instead of
// inspecting raw transport errors.
package boterrors

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Kind categorizes a dependency failure for retry and lifecycle decisions.
type Kind int8

const (
	// KindThrottled represents rate limiting by us or the upstream (429, 412,
	// platform risk control). Always retryable.
	KindThrottled Kind = iota
	// KindTransient represents timeouts, connection resets and 5xx responses.
	// Retryable up to the policy limit.
	KindTransient
	// KindFatal represents auth failures and malformed requests. Never retried.
	KindFatal
	// KindCircuitOpen represents a breaker rejection. Not an upstream failure;
	// the caller defers to the next cycle.
	KindCircuitOpen
	// KindUpstreamGone represents a deleted or disabled upstream resource.
	// Terminal for the affected conversation only.
	KindUpstreamGone
	// KindUnknown is the default for unclassified errors.
	KindUnknown
)

// String returns the string representation of the kind.
func (k Kind) String() string {
	switch k {
	case KindThrottled:
		return "throttled"
	case KindTransient:
		return "transient"
	case KindFatal:
		return "fatal"
	case KindCircuitOpen:
		return "circuit_open"
	case KindUpstreamGone:
		return "upstream_gone"
	case KindUnknown:
		return "unknown"
	default:
		return "invalid"
	}
}

// Error is a classified dependency failure.
type Error struct {
	Err       error  // Wrapped underlying error, may be nil
	Message   string // Human-readable description
	Kind      Kind   // Failure category
	Exhausted bool   // True when retries were exhausted on this failure
}

func (e *Error) Error() string {
	suffix := ""
	if e.Exhausted {
		suffix = " (retries exhausted)"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s%s: %v", e.Kind, e.Message, suffix, e.Err)
	}
	return fmt.Sprintf("%s: %s%s", e.Kind, e.Message, suffix)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a classified error without an underlying cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap classifies an underlying error.
func Wrap(kind Kind, err error, message string) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// MarkExhausted tags err as retry-exhausted, classifying it first if needed.
func MarkExhausted(err error, attempts int) *Error {
	var be *Error
	if errors.As(err, &be) {
		return &Error{Kind: be.Kind, Message: be.Message, Err: be.Err, Exhausted: true}
	}
	return &Error{
		Kind:      KindOf(err),
		Message:   fmt.Sprintf("failed after %d attempts", attempts),
		Err:       err,
		Exhausted: true,
	}
}

// KindOf returns the kind of err, classifying unwrapped errors by signature.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}

	var be *Error
	if errors.As(err, &be) {
		return be.Kind
	}

	return classify(err)
}

// Retryable reports whether err is worth retrying (throttled or transient).
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	// A cancelled parent context means the process is going down; never retry.
	if errors.Is(err, context.Canceled) {
		return false
	}
	switch KindOf(err) {
	case KindThrottled, KindTransient:
		return true
	default:
		return false
	}
}

// IsCircuitOpen reports whether err is a breaker rejection.
func IsCircuitOpen(err error) bool {
	return KindOf(err) == KindCircuitOpen
}

// IsUpstreamGone reports whether err signals a deleted/disabled upstream resource.
func IsUpstreamGone(err error) bool {
	return KindOf(err) == KindUpstreamGone
}

// IsFatal reports whether err is a non-retryable client-side failure.
func IsFatal(err error) bool {
	return KindOf(err) == KindFatal
}

// IsExhausted reports whether err is tagged retry-exhausted.
func IsExhausted(err error) bool {
	var be *Error
	return errors.As(err, &be) && be.Exhausted
}

// classify sniffs an unclassified error by message signature. Classified
// *Error values from the platform and analyzer clients take precedence; this
// is the fallback for raw transport errors.
func classify(err error) Kind {
	// Per-request timeouts wrap DeadlineExceeded but the parent context is
	// still valid, so they count as transient.
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTransient
	}
	if errors.Is(err, context.Canceled) {
		return KindUnknown
	}

	msg := strings.ToLower(err.Error())

	if strings.Contains(msg, "429") ||
		strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "too many requests") {
		return KindThrottled
	}

	if strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "connection") ||
		strings.Contains(msg, "temporary") ||
		strings.Contains(msg, "unavailable") ||
		strings.Contains(msg, "500") ||
		strings.Contains(msg, "502") ||
		strings.Contains(msg, "503") ||
		strings.Contains(msg, "504") ||
		strings.Contains(msg, "eof") {
		return KindTransient
	}

	if strings.Contains(msg, "401") ||
		strings.Contains(msg, "403") ||
		strings.Contains(msg, "unauthorized") ||
		strings.Contains(msg, "invalid request") {
		return KindFatal
	}

	return KindUnknown
}
