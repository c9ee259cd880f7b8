package runtimeerr

import (
	"context"
	"errors"
	"testing"
)

func TestWrapPassesThroughExistingRuntimeError(t *testing.T) {
	original := New(CodeStepFailed, "boom")
	wrapped := Wrap(original, CodeInternal, "ignored")
	if wrapped != original {
		t.Fatalf("expected Wrap to return the original *RuntimeError unchanged")
	}
}

func TestClassifyContextErrors(t *testing.T) {
	if got := Classify(context.DeadlineExceeded); got.Code != CodeTimeout {
		t.Fatalf("expected CodeTimeout, got %s", got.Code)
	}
	if got := Classify(context.Canceled); got.Code != CodeCancelled {
		t.Fatalf("expected CodeCancelled, got %s", got.Code)
	}
}

func TestRedactStripsSecrets(t *testing.T) {
	msg := "failed calling api with api_key=sk-abcdefghijklmnop"
	if got := Redact(msg); got == msg {
		t.Fatalf("expected secret to be redacted, got %q", got)
	}
}

func TestIsRetryableDefaultsFalseForPlainErrors(t *testing.T) {
	if IsRetryable(errors.New("plain")) {
		t.Fatalf("plain errors should not be retryable by default")
	}
	re := New(CodeTimeout, "slow")
	if !IsRetryable(re) {
		t.Fatalf("CodeTimeout should default to retryable")
	}
}
