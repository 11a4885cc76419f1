// File: internal/concurrency/spinlock.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// CAS spinlock over a uint32 word. The zero word is unlocked, so a freshly
// truncated segment starts with every lock released.

package concurrency

import (
	"runtime"
	"sync/atomic"
	"time"
)

const (
	activeSpins  = 64
	passiveSpins = 1024
	sleepSpin    = 20 * time.Microsecond
)

// SpinLock guards a critical section across goroutines and processes that
// map the same word.
type SpinLock struct {
	word *uint32
}

// At wraps the word located at p. The word must be 4-byte aligned.
func At(p *uint32) SpinLock {
	return SpinLock{word: p}
}

// Lock acquires the lock, spinning, then yielding, then sleeping.
func (l SpinLock) Lock() {
	for i := 0; ; i++ {
		if atomic.LoadUint32(l.word) == 0 && atomic.CompareAndSwapUint32(l.word, 0, 1) {
			return
		}
		switch {
		case i < activeSpins:
		case i < passiveSpins:
			runtime.Gosched()
		default:
			time.Sleep(sleepSpin)
		}
	}
}

// TryLock acquires the lock only if it is free.
func (l SpinLock) TryLock() bool {
	return atomic.CompareAndSwapUint32(l.word, 0, 1)
}

// Unlock releases the lock.
func (l SpinLock) Unlock() {
	atomic.StoreUint32(l.word, 0)
}
