package apperr

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindOfWrapped(t *testing.T) {
	err := fmt.Errorf("update task: %w", Forbidden("need edit permission"))
	if got := KindOf(err); got != KindForbidden {
		t.Fatalf("KindOf() = %q, want %q", got, KindForbidden)
	}
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("errors.Is(err, ErrForbidden) = false, want true")
	}
	if errors.Is(err, ErrNotFound) {
		t.Fatalf("errors.Is(err, ErrNotFound) = true, want false")
	}
}

func TestKindOfUnclassified(t *testing.T) {
	if got := KindOf(errors.New("boom")); got != KindInternal {
		t.Fatalf("KindOf() = %q, want %q", got, KindInternal)
	}
	if got := KindOf(nil); got != "" {
		t.Fatalf("KindOf(nil) = %q, want empty", got)
	}
}

func TestStorageHidesCause(t *testing.T) {
	cause := errors.New("dial tcp 10.0.0.1:5432: connection refused")
	err := Storage(cause)
	if !errors.Is(err, cause) {
		t.Fatalf("Storage() should unwrap to its cause")
	}
	if got := MessageOf(err); got != string(KindStorage) {
		t.Fatalf("MessageOf() = %q, want %q", got, KindStorage)
	}
}
