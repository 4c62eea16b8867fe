package lockfile

import (
	"errors"
	"path/filepath"
	"testing"

	"osmstore/internal/errs"
)

func TestExclusiveBlocksSecondExclusive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.lock")

	first, err := AcquireExclusive(path)
	if err != nil {
		t.Fatalf("first AcquireExclusive: %v", err)
	}
	defer first.Unlock()

	_, err = AcquireExclusive(path)
	if !errors.Is(err, errs.LockFailure) {
		t.Errorf("expected LockFailure for second exclusive lock, got %v", err)
	}
}

func TestUnlockAllowsReacquire(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.lock")

	first, err := AcquireExclusive(path)
	if err != nil {
		t.Fatalf("AcquireExclusive: %v", err)
	}
	if err := first.Unlock(); err != nil {
		t.Fatalf("Unlock: %v", err)
	}

	second, err := AcquireExclusive(path)
	if err != nil {
		t.Fatalf("AcquireExclusive after unlock: %v", err)
	}
	second.Unlock()
}

func TestSharedLocksCoexist(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.lock")

	a, err := AcquireShared(path)
	if err != nil {
		t.Fatalf("AcquireShared a: %v", err)
	}
	defer a.Unlock()

	b, err := AcquireShared(path)
	if err != nil {
		t.Fatalf("AcquireShared b: %v", err)
	}
	defer b.Unlock()
}
