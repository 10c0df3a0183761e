//go:build windows

package memory

import (
	"os"
)

// File locking constants for Windows (no-op implementation).
// Cross-process file locking is not supported here; the mutex provides
// in-process concurrency safety.
const (
	lockShared    = 0
	lockExclusive = 0
)

// acquireFileLock is a no-op on Windows.
func (s *FileStore) acquireFileLock(lockType int) (*os.File, error) {
	return nil, nil
}

// releaseFileLock is a no-op on Windows.
func (s *FileStore) releaseFileLock(lockFile *os.File) {
}
