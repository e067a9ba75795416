package store

import (
	"context"
	"io/fs"
	"os"
	"time"

	"github.com/gofrs/flock"
)

// FileSystem is the subset of file operations the JSON store performs.
// Tests swap in MockFileSystem.
type FileSystem interface {
	Stat(name string) (fs.FileInfo, error)
	ReadFile(name string) ([]byte, error)
	WriteFile(name string, data []byte, perm fs.FileMode) error
	Rename(oldpath, newpath string) error
	Remove(name string) error
	MkdirAll(path string, perm fs.FileMode) error
}

// OSFileSystem is the default implementation using the os package
type OSFileSystem struct{}

func (OSFileSystem) Stat(name string) (fs.FileInfo, error) { return os.Stat(name) }

func (OSFileSystem) ReadFile(name string) ([]byte, error) { return os.ReadFile(name) }

func (OSFileSystem) WriteFile(name string, data []byte, perm fs.FileMode) error {
	return os.WriteFile(name, data, perm)
}

func (OSFileSystem) Rename(oldpath, newpath string) error { return os.Rename(oldpath, newpath) }

func (OSFileSystem) Remove(name string) error { return os.Remove(name) }

func (OSFileSystem) MkdirAll(path string, perm fs.FileMode) error { return os.MkdirAll(path, perm) }

// FileLock is a cross-process exclusive lock
type FileLock interface {
	// TryLockContext retries every retryInterval until the lock is taken or
	// ctx is done
	TryLockContext(ctx context.Context, retryInterval time.Duration) (bool, error)
	Unlock() error
}

// FileLockFactory creates the lock guarding a data file
type FileLockFactory interface {
	New(path string) FileLock
}

// FlockFactory creates github.com/gofrs/flock locks
type FlockFactory struct{}

// New returns a flock on path. *flock.Flock satisfies FileLock directly.
func (FlockFactory) New(path string) FileLock {
	return flock.New(path)
}
