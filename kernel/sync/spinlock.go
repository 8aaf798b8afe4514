// Package sync provides the spinlock that guards allocator state once more
// than one core can reach it.
package sync

import "sync/atomic"

const spinsBeforeYield = 64

var (
	// yieldFn is invoked after spinsBeforeYield failed attempts. It is nil
	// while the loader runs on a single core; tests plug in runtime.Gosched.
	yieldFn func()
)

// Spinlock implements a lock where each core trying to acquire it busy-waits
// till the lock becomes available.
type Spinlock struct {
	state uint32
}

// Acquire blocks until the lock can be acquired by the current core. Any
// attempt to re-acquire a lock already held by the current core will
// deadlock.
func (l *Spinlock) Acquire() {
	for spins := 0; !atomic.CompareAndSwapUint32(&l.state, 0, 1); spins++ {
		if spins == spinsBeforeYield {
			spins = 0
			if yieldFn != nil {
				yieldFn()
			}
		}
	}
}

// TryToAcquire attempts to acquire the lock and returns true if the lock could
// be acquired or false otherwise.
func (l *Spinlock) TryToAcquire() bool {
	return atomic.CompareAndSwapUint32(&l.state, 0, 1)
}

// Release relinquishes a held lock allowing other cores to acquire it.
// Calling Release while the lock is free has no effect.
func (l *Spinlock) Release() {
	atomic.StoreUint32(&l.state, 0)
}
