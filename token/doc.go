// Package token implements serializing tokens: cheap, recursive, shared/exclusive locks
// that never put a goroutine to sleep on a wait queue and cannot deadlock, no matter in
// which order callers acquire them.
//
// A token only serializes its holders while they run. A Thread that cannot get a token
// after a short backoff is handed to its Scheduler, which releases every token the Thread
// holds and later reacquires all of them at once before letting it continue. Since a
// suspended Thread holds nothing, no cycle of waiters can form; when reacquisition keeps
// failing the Scheduler asks for the tokens in address order, which keeps contending
// threads from repeatedly knocking each other out.
//
// The consequence for callers is that state protected by a token must be considered
// changed after any acquisition that may have blocked. Acquiring a token while already
// holding others is always allowed.
//
// Each goroutine uses its own Thread:
//
//	t := token.NewThread(scheduler, nil)
//
//	t.Acquire(tok)       // exclusive, recursive
//	t.AcquireShared(ro)  // shared
//	// ... critical section ...
//	t.Release(ro)        // strictly in reverse order
//	t.Release(tok)
//
//	// Non-blocking exclusive attempt
//	if t.TryAcquire(tok) {
//	    // ... critical section ...
//	    t.Release(tok)
//	}
//
// Releasing out of order, or holding more than MaxRefs tokens, panics.
//
// Word layout of a Token:
//
//	bit 0     exclusive held
//	bit 1     exclusive requested (hint from a blocked exclusive requester)
//	bits 2..  shared count, in steps of 4
//
// An exclusive owner's recursive acquisitions, shared or exclusive, are added to the
// shared count, so the owner can release them with a plain atomic subtract.
package token
