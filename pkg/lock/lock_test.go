package lock

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
)

func TestAcquireRelease(t *testing.T) {
	path := filepath.Join(t.TempDir(), "feedr.lock")

	l, err := Acquire(path)
	if err != nil {
		t.Fatalf("first acquire: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(string(data)) != strconv.Itoa(os.Getpid()) {
		t.Errorf("expected the pid in the lock file, got %q", data)
	}

	if _, err := Acquire(path); !errors.Is(err, ErrLocked) {
		t.Fatalf("expected ErrLocked while held, got %v", err)
	}

	if err := l.Release(); err != nil {
		t.Fatalf("release: %v", err)
	}
	if err := l.Release(); err != nil {
		t.Fatalf("second release must be a no-op, got %v", err)
	}

	again, err := Acquire(path)
	if err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
	if err := again.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestAcquireBadPath(t *testing.T) {
	if _, err := Acquire(filepath.Join(t.TempDir(), "missing", "feedr.lock")); err == nil {
		t.Error("expected an error for a missing directory")
	}
}
