package store

import (
	"log/slog"
	"time"
)

// Option configures a JSONStore
type Option func(*JSONStore)

// WithFileSystem sets a custom FileSystem implementation
func WithFileSystem(fs FileSystem) Option {
	return func(s *JSONStore) {
		s.fs = fs
	}
}

// WithFileLockFactory sets a custom FileLockFactory implementation
func WithFileLockFactory(factory FileLockFactory) Option {
	return func(s *JSONStore) {
		s.lockFactory = factory
	}
}

// WithTimeFunc sets a custom time function for testing
func WithTimeFunc(fn func() time.Time) Option {
	return func(s *JSONStore) {
		s.timeFunc = fn
	}
}

// WithLatencyCompensation makes every commit first notify listeners with the
// written documents flagged as pending, before the file is saved
func WithLatencyCompensation(enabled bool) Option {
	return func(s *JSONStore) {
		s.latencyCompensation = enabled
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *JSONStore) {
		s.logger = logger
	}
}
