package starerrors

import (
	"errors"
	"fmt"
	"testing"
)

func TestWrapPreservesCauseForUnwrap(t *testing.T) {
	cause := errors.New("disk full")
	err := Wrap(IndexUnavailable, "failed to open db", cause)

	if !errors.Is(err, cause) {
		t.Fatalf("expected errors.Is to find wrapped cause")
	}
	if got := CodeOf(err); got != IndexUnavailable {
		t.Fatalf("CodeOf = %q, want %q", got, IndexUnavailable)
	}
}

func TestCodeOfUnwrapsThroughFmtErrorf(t *testing.T) {
	base := New(MirrorMiss, "byte range out of bounds")
	wrapped := fmt.Errorf("assembling context: %w", base)

	if got := CodeOf(wrapped); got != MirrorMiss {
		t.Fatalf("CodeOf = %q, want %q", got, MirrorMiss)
	}
}

func TestCodeOfReturnsEmptyForPlainError(t *testing.T) {
	if got := CodeOf(errors.New("plain")); got != "" {
		t.Fatalf("CodeOf = %q, want empty", got)
	}
}

func TestAssertInvariantPanicsWithInternalInvariantViolated(t *testing.T) {
	defer func() {
		r := recover()
		if r == nil {
			t.Fatal("expected panic")
		}
		err, ok := r.(*Error)
		if !ok {
			t.Fatalf("expected *Error panic value, got %T", r)
		}
		if err.Code != InternalInvariantViolated {
			t.Fatalf("Code = %q, want %q", err.Code, InternalInvariantViolated)
		}
	}()
	AssertInvariant(1 == 2, "1 should never equal 2")
}

func TestAssertInvariantNoPanicWhenTrue(t *testing.T) {
	AssertInvariant(1 == 1, "unreachable")
}
