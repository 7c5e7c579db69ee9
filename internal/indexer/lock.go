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
// Returns true if the lock was successfully acquired, false otherwise.
func (l *IndexLock) TryAcquire() bool {
	return l.state.CompareAndSwap(0, 1)
}

// Release releases the lock.
// Must only be called by the goroutine that successfully acquired the lock.
func (l *IndexLock) Release() {
	l.state.Store(0)
}

// LessonGuard keeps two runs in this process from indexing the same lesson
// at once. It does nothing across processes.
type LessonGuard struct {
	locks sync.Map // lesson id -> *IndexLock
}

// TryAcquire claims lessonID; false means another run holds it
func (g *LessonGuard) TryAcquire(lessonID string) bool {
	l, _ := g.locks.LoadOrStore(lessonID, &IndexLock{})
	return l.(*IndexLock).TryAcquire()
}

// Release frees lessonID
func (g *LessonGuard) Release(lessonID string) {
	if l, ok := g.locks.Load(lessonID); ok {
		l.(*IndexLock).Release()
	}
}
