package types

import (
	"errors"
	"testing"
)

func TestError_ChainingAndHelpers(t *testing.T) {
	t.Parallel()

	root := errors.New("root")
	err := NewError(ErrTransientUpstream, "upstream failed").
		WithCause(root).
		WithHTTPStatus(502).
		WithRetryable(true).
		WithProvider("openrouter").
		WithKind(KindTransient)

	if GetErrorCode(err) != ErrTransientUpstream {
		t.Fatalf("expected code %s, got %s", ErrTransientUpstream, GetErrorCode(err))
	}
	if err.Kind != KindTransient {
		t.Fatalf("expected kind %s, got %s", KindTransient, err.Kind)
	}
	if !IsRetryable(err) {
		t.Fatalf("expected retryable")
	}
	if !errors.Is(err, root) {
		t.Fatalf("expected errors.Is unwrap to root")
	}
	if got := err.Error(); got == "" {
		t.Fatalf("expected non-empty error string")
	}
}
