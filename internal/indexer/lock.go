package indexer

import (
	"sync"
	"sync/atomic"
)

// IndexLock provides non-blocking lock semantics using atomic operations.
type IndexLock struct {
	state atomic.Int32 // 0 = unlocked, 1 = locked
}

// TryAcquire attempts to acquire the lock without blocking.
func (l *IndexLock) TryAcquire() bool {
	return l.state.CompareAndSwap(0, 1)
}

// Release releases the lock.
// Must only be called by the goroutine that successfully acquired the lock.
func (l *IndexLock) Release() {
	l.state.Store(0)
}

// RepoLocks hands out one IndexLock per repository identity, so that two
// invocations never fetch, check out or sync the same working copy at once
// while different repositories proceed independently.
type RepoLocks struct {
	locks sync.Map // string -> *IndexLock
}

// TryAcquire attempts to lock key without blocking.
func (b *RepoLocks) TryAcquire(key string) bool {
	l, _ := b.locks.LoadOrStore(key, &IndexLock{})
	return l.(*IndexLock).TryAcquire()
}

// Release unlocks key.
func (b *RepoLocks) Release(key string) {
	if l, ok := b.locks.Load(key); ok {
		l.(*IndexLock).Release()
	}
}

// Held reports whether key is currently locked.
func (b *RepoLocks) Held(key string) bool {
	l, ok := b.locks.Load(key)
	return ok && l.(*IndexLock).state.Load() == 1
}
