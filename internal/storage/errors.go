package storage

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrLockTimeout is returned when the store lock could not be acquired
	// within the configured timeout. Callers should back off and retry the
	// whole operation.
	ErrLockTimeout = errors.New("store lock timeout")

	// ErrCorrupt is returned when the store document cannot be parsed.
	ErrCorrupt = errors.New("store corrupt")
)

// LockTimeoutError reports which lock could not be acquired.
type LockTimeoutError struct {
	Path    string
	Timeout time.Duration
}

func (e *LockTimeoutError) Error() string {
	return fmt.Sprintf("store lock timeout: %s still held after %s", e.Path, e.Timeout)
}

func (e *LockTimeoutError) Is(target error) bool {
	return target == ErrLockTimeout
}

// CorruptError wraps the parse failure of a store document. The file is never
// overwritten while it is corrupt.
type CorruptError struct {
	Path string
	Err  error
}

func (e *CorruptError) Error() string {
	return fmt.Sprintf("store corrupt: %s: %v\n"+
		"  The file was left untouched. Inspect or restore it manually, then retry.",
		e.Path, e.Err)
}

func (e *CorruptError) Unwrap() error {
	return e.Err
}

func (e *CorruptError) Is(target error) bool {
	return target == ErrCorrupt
}

// ErrProfileNotFound is returned when an operation names a profile ID that
// is not in the store.
var ErrProfileNotFound = errors.New("profile not found")
