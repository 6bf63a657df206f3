package lock

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"
)

func TestAcquireWritesHolder(t *testing.T) {
	t.Parallel()

	wd := t.TempDir()
	l, err := Acquire(wd, "1234")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	t.Cleanup(func() { _ = l.Release() })

	b, err := os.ReadFile(l.Path())
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	want := fmt.Sprintf("%d 1234", os.Getpid())
	if got := strings.TrimSpace(string(b)); got != want {
		t.Fatalf("lock holder = %q, want %q", got, want)
	}
}

func TestAcquireTwiceIsLocked(t *testing.T) {
	t.Parallel()

	wd := t.TempDir()
	first, err := Acquire(wd, "1")
	if err != nil {
		t.Fatalf("first Acquire: %v", err)
	}
	t.Cleanup(func() { _ = first.Release() })

	_, err = Acquire(wd, "2")
	if !errors.Is(err, ErrLocked) {
		t.Fatalf("expected ErrLocked, got %v", err)
	}
	var locked *LockedError
	if !errors.As(err, &locked) {
		t.Fatalf("expected *LockedError, got %T", err)
	}
	if !strings.HasSuffix(locked.Holder, " 1") {
		t.Fatalf("holder = %q, want the first job", locked.Holder)
	}
}

func TestReleaseAllowsReacquire(t *testing.T) {
	t.Parallel()

	wd := t.TempDir()
	first, err := Acquire(wd, "1")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if err := first.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	// second release is a no-op
	if err := first.Release(); err != nil {
		t.Fatalf("second Release: %v", err)
	}

	second, err := Acquire(wd, "2")
	if err != nil {
		t.Fatalf("re-Acquire: %v", err)
	}
	_ = second.Release()
}

func TestAcquireRejectsEmptyDir(t *testing.T) {
	t.Parallel()

	if _, err := Acquire("", "1"); err == nil {
		t.Fatal("expected error for empty working directory")
	}
}
