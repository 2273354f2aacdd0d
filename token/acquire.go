package token

import (
	"fmt"

	"github.com/golang/glog"
)

// Acquire obtains tok exclusively, recursing if the Thread already holds it exclusively.
// It returns once tok is held, switching the Thread out if necessary.
func (t *Thread) Acquire(tok *Token) { t.AcquireSet(Request{Token: tok}) }

// AcquireShared obtains tok shared. It returns once tok is held.
func (t *Thread) AcquireShared(tok *Token) { t.AcquireSet(Request{Token: tok, Shared: true}) }

// AcquireSet pushes one Ref per request, in order, and returns once all of them are held.
// Each request gets the full backoff, but the batch suspends the Thread at most once.
// The first request whose backoff runs out becomes the high-water mark: the Refs below it
// count as granted, and it and every later request are left to the Scheduler without
// being tried.
func (t *Thread) AcquireSet(reqs ...Request) {
	if t.cfg.Diagnostics {
		for k, r := range reqs {
			if !r.Shared && t.upgrades(r.Token, reqs[:k]) {
				panic(fmt.Errorf("%w: thread %d, token %q", ErrSharedUpgrade, t.id, r.Token.label))
			}
		}
	}
	base := t.top
	for _, r := range reqs {
		mode := ModeExclusive | ModeRequest
		if r.Shared {
			mode = ModeRequest
		}
		t.push(r.Token, mode)
	}
	for i := base; i < t.top; i++ {
		if !t.trySpin(i, t.refs[i].mode) {
			t.handoff(i)
			return
		}
	}
}

// TryAcquire attempts to obtain tok exclusively without backoff or switching. On success
// the Thread holds tok and must Release it.
func (t *Thread) TryAcquire(tok *Token) bool {
	i := t.push(tok, ModeExclusive)
	if t.try(i, ModeExclusive) {
		return true
	}
	t.pop()
	return false
}

// Release releases tok, which must be the most recently acquired token still held.
func (t *Thread) Release(tok *Token) {
	i := t.top - 1
	if i < 0 || t.refs[i].tok != tok || t.Pending() {
		panic(fmt.Errorf("%w: thread %d releasing %q with %d refs", ErrIllegalRelease, t.id, tok.label, t.top))
	}
	t.release(i)
	t.pop()
}

// Swap exchanges the two most recently acquired Refs so they are released in the other
// order.
func (t *Thread) Swap() {
	if t.top < 2 {
		panic(fmt.Errorf("%w: swap with %d refs", ErrStackUnderflow, t.top))
	}
	i, j := t.top-1, t.top-2
	r1, r2 := t.refs[i], t.refs[j]
	if r1.tok == r2.tok {
		return
	}
	t.refs[i], t.refs[j] = r2, r1
	r1.tok.owner.CompareAndSwap(t.ident(i), t.ident(j))
	r2.tok.owner.CompareAndSwap(t.ident(j), t.ident(i))
}

// upgrades reports whether an exclusive request for tok would have to upgrade a shared
// claim. A Thread that owns tok exclusively only recurses; otherwise any held Ref on tok is
// shared, and within the batch the first request for tok decides.
func (t *Thread) upgrades(tok *Token, earlier []Request) bool {
	if t.ownsExclusive(tok) {
		return false
	}
	if t.Holds(tok) {
		return true
	}
	for _, r := range earlier {
		if r.Token == tok {
			return r.Shared
		}
	}
	return false
}

// handoff suspends the Thread with refs[:i] held and refs[i:] wanted.
func (t *Thread) handoff(i int) {
	t.have = i
	t.sched.Switch(t)
	if t.Pending() {
		panic(fmt.Errorf("%w: thread %d resumed without its tokens", ErrNotPending, t.id))
	}
}

// ReleaseAll releases every held Ref in reverse order, leaving all Refs on the stack for
// AcquireAll. Schedulers call it when switching a Thread out.
func (t *Thread) ReleaseAll() {
	for i := t.Held() - 1; i >= 0; i-- {
		t.release(i)
	}
	t.have = 0
}

// AcquireAll attempts to obtain every Ref on the stack of a Thread that holds none of them.
// It either gets all of them and returns true, or releases whatever it got and returns
// false. Schedulers call it before resuming a Thread, with sorted set once retries have
// been failing: acquiring in token address order cannot form a cycle with other threads
// doing the same.
func (t *Thread) AcquireAll(sorted bool) bool {
	if t.have != 0 {
		panic(fmt.Errorf("%w: thread %d holds %d refs", ErrNotPending, t.id, t.Held()))
	}
	var ok bool
	if sorted {
		ok = t.acquireSorted()
	} else {
		ok = t.acquireInOrder()
	}
	if ok {
		t.have = -1
	}
	return ok
}

func (t *Thread) acquireInOrder() bool {
	last := t.top - 1
	for i := range t.top {
		var ok bool
		if i == last {
			ok = t.trySpin(i, t.refs[i].mode)
		} else {
			ok = t.try(i, t.refs[i].mode)
		}
		if !ok {
			t.collide(i)
			for i--; i >= 0; i-- {
				t.release(i)
			}
			return false
		}
	}
	return true
}

func (t *Thread) acquireSorted() bool {
	var order [MaxRefs]uint8
	n := t.top
	for i := range n {
		order[i] = uint8(i)
	}
	// Insertion sort keeps Refs to the same token in push order, so an exclusive Ref is
	// always reacquired before the recursive Refs stacked on it.
	for i := 1; i < n; i++ {
		for j := i; j > 0 && t.refs[order[j-1]].tok.addr() > t.refs[order[j]].tok.addr(); j-- {
			order[j-1], order[j] = order[j], order[j-1]
		}
	}
	for k := range n {
		i := int(order[k])
		if !t.trySpin(i, t.refs[i].mode) {
			t.collide(i)
			for k--; k >= 0; k-- {
				t.release(int(order[k]))
			}
			return false
		}
	}
	return true
}

func (t *Thread) collide(i int) {
	tok := t.refs[i].tok
	tok.collisions.Inc()
	if t.logs > 0 {
		t.logs--
		glog.Infof("token: thread %d blocked on %q at ref %d of %d: %v", t.id, tok.label, i, t.top, tok)
	}
}

// release drops the hold of refs[i] without touching the stack.
func (t *Thread) release(i int) {
	tok := t.refs[i].tok
	if tok.owner.Load() == t.ident(i) {
		// The owner must be gone before the bit clears, or a new holder could see itself
		// as a stale owner.
		tok.owner.Store(0)
		tok.clearExclusive()
		return
	}
	tok.subShared()
}
