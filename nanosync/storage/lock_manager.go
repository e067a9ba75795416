// Package storage holds the serialization primitive shared by the cache and
// the collection index.
//
// The coherence model assumes every cache read-modify-write runs to
// completion without another one interleaving. Store callbacks arrive on
// arbitrary goroutines, so that guarantee is provided by routing all
// mutations through a LockManager.
package storage

import (
	"sync"
)

// OperationType defines whether an operation is read or write.
type OperationType int

const (
	// ReadOperation indicates an operation that only reads state.
	// Multiple read operations can proceed concurrently.
	ReadOperation OperationType = iota

	// WriteOperation indicates an operation that modifies state.
	// Write operations are exclusive.
	WriteOperation
)

// LockManager provides centralized lock management over a sync.RWMutex.
// Holding the write lock is what makes a multi-key cache update atomic with
// respect to snapshots and other mutations.
type LockManager struct {
	mu *sync.RWMutex
}

// NewLockManager creates a new lock manager instance.
func NewLockManager() *LockManager {
	return &LockManager{
		mu: &sync.RWMutex{},
	}
}

// Execute runs fn with the lock matching opType held. The lock is released
// via defer, so a panicking fn does not leave it held.
//
// Example:
//
//	err := lm.Execute(WriteOperation, func() error {
//	    // exclusive access here
//	    return nil
//	})
func (lm *LockManager) Execute(opType OperationType, fn func() error) error {
	switch opType {
	case ReadOperation:
		lm.mu.RLock()
		defer lm.mu.RUnlock()
	case WriteOperation:
		lm.mu.Lock()
		defer lm.mu.Unlock()
	}
	return fn()
}

// Read runs fn under the read lock
func (lm *LockManager) Read(fn func()) {
	lm.mu.RLock()
	defer lm.mu.RUnlock()
	fn()
}

// Write runs fn under the write lock
func (lm *LockManager) Write(fn func()) {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	fn()
}

// ExecuteWithResult is Execute for functions that produce a value.
func ExecuteWithResult[T any](lm *LockManager, opType OperationType, fn func() (T, error)) (T, error) {
	switch opType {
	case ReadOperation:
		lm.mu.RLock()
		defer lm.mu.RUnlock()
	case WriteOperation:
		lm.mu.Lock()
		defer lm.mu.Unlock()
	}
	return fn()
}
