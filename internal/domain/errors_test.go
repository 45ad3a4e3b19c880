package domain

import (
	"context"
	"errors"
	"testing"
)

func TestWrapKeepsKindAndCause(t *testing.T) {
	t.Parallel()
	err := Wrap(ErrTransport, "send 42", context.DeadlineExceeded)
	if !errors.Is(err, ErrTransport) {
		t.Fatal("expected ErrTransport")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatal("expected cause to be preserved")
	}
	if errors.Is(err, ErrPersistence) {
		t.Fatal("unexpected ErrPersistence")
	}
	if got, want := err.Error(), "send 42: transport send failed: context deadline exceeded"; got != want {
		t.Fatalf("Error() = %q, want %q", got, want)
	}
}

func TestWrapNilAndAlreadyWrapped(t *testing.T) {
	t.Parallel()
	if Wrap(ErrConflict, "insert", nil) != nil {
		t.Fatal("Wrap(nil) should be nil")
	}
	first := Wrap(ErrConflict, "insert", errors.New("unique"))
	if again := Wrap(ErrConflict, "outer", first); again != first {
		t.Fatalf("double wrap changed error: %v", again)
	}
	var de *Error
	if !errors.As(first, &de) || de.Op != "insert" {
		t.Fatalf("errors.As = %+v", de)
	}
}
