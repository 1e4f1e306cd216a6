package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/moby/sys/atomicwriter"

	"github.com/majorcontext/authprofiles/internal/log"
)

const (
	// DefaultLockTimeout bounds how long WithLock waits for another process.
	DefaultLockTimeout = 10 * time.Second

	// lockRetryDelay is the polling interval while the lock is held elsewhere.
	lockRetryDelay = 25 * time.Millisecond

	// readAttempts and readRetryDelay bound unlocked reads that race a writer.
	readAttempts   = 5
	readRetryDelay = 20 * time.Millisecond
)

// File is the locked accessor for a store document on disk. It holds no open
// resources between calls; every WithLock acquires and releases its own lock
// and file handles.
type File struct {
	path        string
	lockTimeout time.Duration
}

// Option configures a File.
type Option func(*File)

// WithLockTimeout overrides DefaultLockTimeout.
func WithLockTimeout(d time.Duration) Option {
	return func(f *File) {
		if d > 0 {
			f.lockTimeout = d
		}
	}
}

// Open returns an accessor for the store at path. The file is created lazily
// by the first write.
func Open(path string, opts ...Option) *File {
	f := &File{path: path, lockTimeout: DefaultLockTimeout}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Path returns the store file path.
func (f *File) Path() string {
	return f.path
}

// LockPath returns the advisory lock file path.
func (f *File) LockPath() string {
	return f.path + ".lock"
}

// UpdateFunc mutates a store snapshot and reports whether it changed.
// Returning an error aborts the write.
type UpdateFunc func(s *Store) (changed bool, err error)

// WithLock runs update inside an exclusive cross-process lock scoped to the
// store path. The current document (or an empty store if none exists) is
// loaded, passed to update, and written back atomically only when update
// reports a change. The lock is released on every exit path.
//
// Returns an error wrapping ErrLockTimeout if the lock cannot be acquired in
// time and a *CorruptError if the existing document cannot be parsed; in that
// case the file is left untouched.
func (f *File) WithLock(ctx context.Context, update UpdateFunc) error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0700); err != nil {
		return fmt.Errorf("creating store directory: %w", err)
	}

	unlock, err := f.lock(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	s, err := f.load()
	if err != nil {
		return err
	}

	changed, err := update(s)
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}
	return f.write(s)
}

// Read loads the store without taking the lock. Parse failures are retried a
// few times to ride out a concurrent writer; a document that stays unparsable
// yields a *CorruptError. A missing file yields an empty store.
func (f *File) Read(ctx context.Context) (*Store, error) {
	var lastErr error
	for attempt := range readAttempts {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(readRetryDelay):
			}
		}
		s, err := f.load()
		if err == nil {
			return s, nil
		}
		var corrupt *CorruptError
		if !errors.As(err, &corrupt) {
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}

func (f *File) lock(ctx context.Context) (func(), error) {
	lk := flock.New(f.LockPath())

	lockCtx, cancel := context.WithTimeout(ctx, f.lockTimeout)
	defer cancel()

	start := time.Now()
	locked, err := lk.TryLockContext(lockCtx, lockRetryDelay)
	if err != nil && ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return nil, fmt.Errorf("acquiring store lock %s: %w", f.LockPath(), err)
	}
	if !locked {
		return nil, &LockTimeoutError{Path: f.LockPath(), Timeout: f.lockTimeout}
	}
	if waited := time.Since(start); waited > time.Second {
		log.Debug("store lock contended", "path", f.path, "waited", waited)
	}

	return func() {
		if err := lk.Unlock(); err != nil {
			log.Warn("releasing store lock", "path", f.LockPath(), "error", err)
		}
	}, nil
}

func (f *File) load() (*Store, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return New(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading store: %w", err)
	}
	s, err := Decode(data)
	if err != nil {
		return nil, &CorruptError{Path: f.path, Err: err}
	}
	return s, nil
}

func (f *File) write(s *Store) error {
	data, err := s.Encode()
	if err != nil {
		return fmt.Errorf("encoding store: %w", err)
	}
	if err := atomicwriter.WriteFile(f.path, data, 0600); err != nil {
		return fmt.Errorf("writing store: %w", err)
	}
	return nil
}
