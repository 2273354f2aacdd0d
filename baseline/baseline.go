// Package baseline provides a conventional blocking lock, a ticket lock, to compare
// tokens against. Unlike a token, a Lock keeps being held while its owner waits for another
// lock, so two goroutines taking a pair of Locks in opposite orders deadlock. LockUntil lets
// tests and tools observe that deadlock without hanging.
package baseline

import (
	"time"

	"go.uber.org/atomic"
)

// Lock is a fair mutual exclusion lock. Waiters take a ticket and are served in ticket
// order:
// - head: the ticket currently being served
// - tail: the last ticket issued
//
// The lock is free when head == tail+1.
type Lock struct {
	head atomic.Uint32 // Ticket being served
	tail atomic.Uint32 // Last ticket handed out
}

// NewLock creates a new, free Lock.
func NewLock() *Lock {
	l := &Lock{}
	l.head.Store(1)
	return l
}

// TryLock acquires the lock if it is free, without taking a ticket otherwise.
func (l *Lock) TryLock() bool {
	tail := l.tail.Load()
	// Only claim the next ticket if it would be served right away.
	return l.head.Load() == tail+1 && l.tail.CompareAndSwap(tail, tail+1)
}

const (
	baseWait uint32 = 10
	waitNext        = 5
)

// Lock takes a ticket and spins until it is served, proportionally to the number of
// waiters ahead of it, sleeping when far back in the queue.
func (l *Lock) Lock() {
	me := l.tail.Inc() // Take a ticket

	// Uncontended: served immediately.
	if l.head.Load() == me {
		return
	}

	wait := baseWait
	distancePrev := uint32(1)

	for {
		cur := l.head.Load()
		if cur == me {
			return // Our turn
		}
		distance := subAbs(cur, me) // Waiters ahead of us

		if distance > 1 {
			if distance != distancePrev { // The queue moved, start over
				distancePrev = distance
				wait = baseWait
			}

			// The further back, the longer the spin.
			for range distance * wait {
				// Empty spin loop.
			}
		} else { // Next in line, check back soon
			for range waitNext {
				// Empty spin loop.
			}
		}

		if distance > 20 { // Far back, give the processor away
			time.Sleep(time.Millisecond)
		}
	}
}

// LockUntil tries to acquire the lock until deadline and reports whether it did. A ticket
// cannot be handed back, so it polls TryLock instead of queueing.
func (l *Lock) LockUntil(deadline time.Time) bool {
	for spin := uint32(0); ; spin++ {
		if l.TryLock() {
			return true
		}
		if !time.Now().Before(deadline) {
			return false
		}
		if spin < baseWait {
			for range baseWait << spin {
				// Empty spin loop.
			}
		} else {
			time.Sleep(50 * time.Microsecond)
		}
	}
}

// Unlock releases the lock to the next ticket.
func (l *Lock) Unlock() { l.head.Inc() }

// isFree checks if the lock is free.
func (l *Lock) isFree() bool { return l.head.Load()-l.tail.Load() == 1 }

func subAbs(a, b uint32) uint32 {
	if a > b {
		return a - b
	}
	return b - a
}
