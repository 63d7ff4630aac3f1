package app

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
)

// ErrLocked is returned when another run holds the lock for the same workbook.
var ErrLocked = errors.New("another run is in progress for this workbook")

// lockNamespace scopes lock file names derived from workbook keys.
var lockNamespace = uuid.MustParse("6f1c2a52-8a59-4d0e-9a53-0c8f4b7e2d61")

// LockPath is the lock file used for a workbook key (spreadsheet id or CSV dir).
func LockPath(dir, key string) string {
	return filepath.Join(dir, "run-"+uuid.NewSHA1(lockNamespace, []byte(key)).String()+".lock")
}

// acquireLock takes a non-blocking exclusive lock. The returned func releases it.
func acquireLock(dir, key string) (func() error, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create lock dir: %w", err)
	}
	fl := flock.New(LockPath(dir, key))
	ok, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", fl.Path(), err)
	}
	if !ok {
		return nil, fmt.Errorf("%w (lock %s)", ErrLocked, fl.Path())
	}
	return fl.Unlock, nil
}
