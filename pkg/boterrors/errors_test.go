package boterrors

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestErrorString(t *testing.T) {
	cause := errors.New("connection reset")
	err := Wrap(KindTransient, cause, "fetch replies")
	got := err.Error()
	if !strings.Contains(got, "transient") || !strings.Contains(got, "fetch replies") || !strings.Contains(got, "connection reset") {
		t.Errorf("Error() = %q, want kind, message and cause present", got)
	}

	bare := New(KindThrottled, "bucket empty")
	if got := bare.Error(); got != "throttled: bucket empty" {
		t.Errorf("Error() = %q, want %q", got, "throttled: bucket empty")
	}
}

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("boom")
	err := Wrap(KindFatal, cause, "auth")
	if !errors.Is(err, cause) {
		t.Error("errors.Is(wrapped, cause) = false, want true")
	}
}

func TestKindOfClassifiedError(t *testing.T) {
	err := fmt.Errorf("outer: %w", New(KindUpstreamGone, "root deleted"))
	if got := KindOf(err); got != KindUpstreamGone {
		t.Errorf("KindOf(wrapped *Error) = %v, want %v", got, KindUpstreamGone)
	}
}

func TestKindOfSignatureFallback(t *testing.T) {
	cases := []struct {
		err  error
		want Kind
	}{
		{errors.New("HTTP 429 Too Many Requests"), KindThrottled},
		{errors.New("upstream rate limit hit"), KindThrottled},
		{errors.New("dial tcp: i/o timeout"), KindTransient},
		{errors.New("connection refused"), KindTransient},
		{errors.New("HTTP 503 service unavailable"), KindTransient},
		{errors.New("unexpected EOF"), KindTransient},
		{errors.New("HTTP 401 Unauthorized"), KindFatal},
		{errors.New("invalid request body"), KindFatal},
		{errors.New("something odd"), KindUnknown},
		{context.DeadlineExceeded, KindTransient},
		{context.Canceled, KindUnknown},
		{nil, KindUnknown},
	}
	for _, tc := range cases {
		if got := KindOf(tc.err); got != tc.want {
			t.Errorf("KindOf(%v) = %v, want %v", tc.err, got, tc.want)
		}
	}
}

func TestRetryable(t *testing.T) {
	if !Retryable(New(KindThrottled, "slow down")) {
		t.Error("Retryable(throttled) = false, want true")
	}
	if !Retryable(New(KindTransient, "blip")) {
		t.Error("Retryable(transient) = false, want true")
	}
	if Retryable(New(KindFatal, "bad key")) {
		t.Error("Retryable(fatal) = true, want false")
	}
	if Retryable(New(KindCircuitOpen, "open")) {
		t.Error("Retryable(circuit_open) = true, want false")
	}
	if Retryable(New(KindUpstreamGone, "gone")) {
		t.Error("Retryable(upstream_gone) = true, want false")
	}
	if Retryable(nil) {
		t.Error("Retryable(nil) = true, want false")
	}
	// Cancellation means shutdown even when the wrapper kind is retryable.
	if Retryable(Wrap(KindTransient, context.Canceled, "mid-flight")) {
		t.Error("Retryable(wrapped Canceled) = true, want false")
	}
}

func TestMarkExhaustedKeepsKind(t *testing.T) {
	orig := Wrap(KindThrottled, errors.New("429"), "analysis call")
	got := MarkExhausted(orig, 4)
	if !IsExhausted(got) {
		t.Fatal("IsExhausted = false, want true")
	}
	if got.Kind != KindThrottled {
		t.Errorf("exhausted kind = %v, want %v", got.Kind, KindThrottled)
	}
	if !strings.Contains(got.Error(), "retries exhausted") {
		t.Errorf("Error() = %q, want exhausted suffix", got.Error())
	}
}

func TestMarkExhaustedClassifiesRawError(t *testing.T) {
	got := MarkExhausted(errors.New("dial tcp: i/o timeout"), 3)
	if got.Kind != KindTransient {
		t.Errorf("exhausted raw error kind = %v, want %v", got.Kind, KindTransient)
	}
	if !strings.Contains(got.Message, "3 attempts") {
		t.Errorf("Message = %q, want attempt count", got.Message)
	}
}

func TestPredicates(t *testing.T) {
	if !IsCircuitOpen(New(KindCircuitOpen, "open")) {
		t.Error("IsCircuitOpen = false, want true")
	}
	if !IsUpstreamGone(fmt.Errorf("wrap: %w", New(KindUpstreamGone, "deleted"))) {
		t.Error("IsUpstreamGone through wrapping = false, want true")
	}
	if !IsFatal(New(KindFatal, "rejected")) {
		t.Error("IsFatal = false, want true")
	}
	if IsExhausted(New(KindTransient, "blip")) {
		t.Error("IsExhausted on fresh error = true, want false")
	}
}

func TestKindString(t *testing.T) {
	cases := map[Kind]string{
		KindThrottled:    "throttled",
		KindTransient:    "transient",
		KindFatal:        "fatal",
		KindCircuitOpen:  "circuit_open",
		KindUpstreamGone: "upstream_gone",
		KindUnknown:      "unknown",
		Kind(42):         "invalid",
	}
	for k, want := range cases {
		if got := k.String(); got != want {
			t.Errorf("Kind(%d).String() = %q, want %q", k, got, want)
		}
	}
}
