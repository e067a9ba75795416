package store

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Op names a FileSystem operation for fault injection
type Op string

const (
	OpStat      Op = "stat"
	OpReadFile  Op = "read"
	OpWriteFile Op = "write"
	OpRename    Op = "rename"
	OpRemove    Op = "remove"
	OpMkdirAll  Op = "mkdir"
)

// MockFileSystem is an in-memory FileSystem for tests
type MockFileSystem struct {
	mu     sync.RWMutex
	files  map[string]*mockFile
	errors map[Op]error
	writes int
}

type mockFile struct {
	content []byte
	mode    fs.FileMode
	modTime time.Time
}

type mockFileInfo struct {
	name string
	file *mockFile
}

func (fi mockFileInfo) Name() string       { return fi.name }
func (fi mockFileInfo) Size() int64        { return int64(len(fi.file.content)) }
func (fi mockFileInfo) Mode() fs.FileMode  { return fi.file.mode }
func (fi mockFileInfo) ModTime() time.Time { return fi.file.modTime }
func (fi mockFileInfo) IsDir() bool        { return false }
func (fi mockFileInfo) Sys() any           { return nil }

// NewMockFileSystem creates an empty mock file system
func NewMockFileSystem() *MockFileSystem {
	return &MockFileSystem{
		files:  make(map[string]*mockFile),
		errors: make(map[Op]error),
	}
}

// FailOn makes every later call of op return err. A nil err clears it.
func (m *MockFileSystem) FailOn(op Op, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.errors, op)
		return
	}
	m.errors[op] = err
}

func (m *MockFileSystem) fail(op Op) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.errors[op]
}

func (m *MockFileSystem) Stat(name string) (fs.FileInfo, error) {
	if err := m.fail(OpStat); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	f, ok := m.files[name]
	if !ok {
		return nil, os.ErrNotExist
	}
	return mockFileInfo{name: filepath.Base(name), file: f}, nil
}

func (m *MockFileSystem) ReadFile(name string) ([]byte, error) {
	if err := m.fail(OpReadFile); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	f, ok := m.files[name]
	if !ok {
		return nil, os.ErrNotExist
	}
	return append([]byte(nil), f.content...), nil
}

func (m *MockFileSystem) WriteFile(name string, data []byte, perm fs.FileMode) error {
	if err := m.fail(OpWriteFile); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[name] = &mockFile{content: append([]byte(nil), data...), mode: perm, modTime: time.Now()}
	m.writes++
	return nil
}

func (m *MockFileSystem) Rename(oldpath, newpath string) error {
	if err := m.fail(OpRename); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.files[oldpath]
	if !ok {
		return os.ErrNotExist
	}
	m.files[newpath] = f
	delete(m.files, oldpath)
	return nil
}

func (m *MockFileSystem) Remove(name string) error {
	if err := m.fail(OpRemove); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.files[name]; !ok {
		return os.ErrNotExist
	}
	delete(m.files, name)
	return nil
}

func (m *MockFileSystem) MkdirAll(path string, perm fs.FileMode) error {
	return m.fail(OpMkdirAll)
}

// Content returns a copy of a file's bytes
func (m *MockFileSystem) Content(name string) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	f, ok := m.files[name]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), f.content...), true
}

// Exists reports whether a file is present
func (m *MockFileSystem) Exists(name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.files[name]
	return ok
}

// Writes counts successful WriteFile calls
func (m *MockFileSystem) Writes() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.writes
}

// MockFileLock is an in-process FileLock that records its use
type MockFileLock struct {
	mu        sync.Mutex
	held      bool
	lockErr   error
	attempts  int
	unlocks   int
	neverFree bool
}

func (l *MockFileLock) TryLockContext(ctx context.Context, retryInterval time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.attempts++
	if l.lockErr != nil {
		return false, l.lockErr
	}
	if l.held || l.neverFree {
		return false, nil
	}
	l.held = true
	return true, nil
}

func (l *MockFileLock) Unlock() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.unlocks++
	l.held = false
	return nil
}

// Held reports whether the lock is taken
func (l *MockFileLock) Held() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.held
}

// Attempts counts TryLockContext calls
func (l *MockFileLock) Attempts() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.attempts
}

// MockFileLockFactory hands out one MockFileLock per path
type MockFileLockFactory struct {
	mu    sync.Mutex
	locks map[string]*MockFileLock

	// LockError is returned by every lock the factory creates
	LockError error

	// Contended makes every lock report it is held elsewhere
	Contended bool
}

// NewMockFileLockFactory creates an empty factory
func NewMockFileLockFactory() *MockFileLockFactory {
	return &MockFileLockFactory{locks: make(map[string]*MockFileLock)}
}

func (f *MockFileLockFactory) New(path string) FileLock {
	f.mu.Lock()
	defer f.mu.Unlock()
	if l, ok := f.locks[path]; ok {
		return l
	}
	l := &MockFileLock{lockErr: f.LockError, neverFree: f.Contended}
	f.locks[path] = l
	return l
}

// Lock returns the lock created for path
func (f *MockFileLockFactory) Lock(path string) *MockFileLock {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.locks[path]
}
