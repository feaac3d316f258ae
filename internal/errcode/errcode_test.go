package errcode

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorFormatting(t *testing.T) {
	err := New(CodeUnknownTab, "tab not found: 7", nil)
	if got, want := err.Error(), "UNKNOWN_TAB: tab not found: 7"; got != want {
		t.Fatalf("Error() = %q; want %q", got, want)
	}

	cause := errors.New("dial tcp: connection refused")
	err = New(CodeBackendUnavailable, "connect to CDP failed", cause)
	if got, want := err.Error(), "BACKEND_UNAVAILABLE: connect to CDP failed: dial tcp: connection refused"; got != want {
		t.Fatalf("Error() = %q; want %q", got, want)
	}
	if !errors.Is(err, cause) {
		t.Fatalf("errors.Is() = false; want cause to unwrap")
	}
}

func TestAsCodedThroughWrapping(t *testing.T) {
	inner := New(CodeCaptureTimeout, "capture timed out", nil)
	wrapped := fmt.Errorf("live-stream: %w", inner)

	coded := AsCoded(wrapped)
	if coded == nil {
		t.Fatalf("AsCoded() = nil; want coded error")
	}
	if coded.Code != CodeCaptureTimeout {
		t.Fatalf("AsCoded().Code = %q; want %q", coded.Code, CodeCaptureTimeout)
	}

	if AsCoded(errors.New("plain")) != nil {
		t.Fatalf("AsCoded(plain) != nil; want nil")
	}
	if !Is(wrapped, CodeCaptureTimeout) {
		t.Fatalf("Is() = false; want true")
	}
	if Is(wrapped, CodeUnknownTab) {
		t.Fatalf("Is() matched wrong code")
	}
}
