package token

import (
	"fmt"

	"go.uber.org/atomic"
)

// MaxRefs is the capacity of a Thread's acquisition stack.
const MaxRefs = 32

// Mode describes how a Ref wants its token.
type Mode uint8

const (
	// ModeExclusive asks for the token exclusively. Without it the Ref is shared.
	ModeExclusive Mode = 1 << iota
	// ModeRequest marks a Ref whose holder is willing to block. Exclusive requests set the
	// token's priority hint when they fail; shared requests defer to that hint.
	ModeRequest
)

// Ref records one Thread's claim on one Token. Refs live only in a Thread's stack.
type Ref struct {
	tok  *Token
	mode Mode
}

// Token returns the token the Ref claims.
func (r *Ref) Token() *Token { return r.tok }

// Mode returns the Ref's mode. A recursive exclusive acquisition is downgraded to a shared
// Ref, since the hold is counted in the token's shared count.
func (r *Ref) Mode() Mode { return r.mode }

// Request names one token of a batch passed to AcquireSet.
type Request struct {
	Token  *Token
	Shared bool
}

// Scheduler suspends a Thread that could not get its tokens and resumes it once it holds
// all of them.
type Scheduler interface {
	// Switch is called on the suspending thread's goroutine with t pending. It must call
	// t.ReleaseAll, and return only after a call to t.AcquireAll has returned true.
	Switch(t *Thread)
}

var threadSeq atomic.Uint32

// Thread is the per-goroutine ledger of held tokens. A Thread must only be used by one
// goroutine at a time; its Scheduler works on it from inside Switch, on that goroutine.
type Thread struct {
	id      uint32
	top     int // refs[:top] are pushed
	have    int // refs[:have] are held while pending, -1 when not pending
	refs    [MaxRefs]Ref
	sched   Scheduler
	cfg     Config
	logs    int
	windows int // processor count for the backoff window

	// Contention hooks, replaced by tests.
	window func() bool
	pause  func(n int)
}

// NewThread returns an empty Thread that hands off to s on contention. A nil cfg means
// DefaultConfig.
func NewThread(s Scheduler, cfg *Config) *Thread {
	t := &Thread{
		id:    threadSeq.Inc(),
		have:  -1,
		sched: s,
		cfg:   DefaultConfig(),
	}
	if cfg != nil {
		t.cfg = *cfg
	}
	t.logs = t.cfg.DebugLogs
	t.windows = gomaxprocs()
	t.window = t.inWindow
	t.pause = pause
	return t
}

// ID returns the Thread's process-wide unique id.
func (t *Thread) ID() uint32 { return t.id }

// Depth returns the number of Refs on the stack, held or not.
func (t *Thread) Depth() int { return t.top }

// Held returns how many Refs at the bottom of the stack are held. It differs from Depth
// only while the Thread is pending.
func (t *Thread) Held() int {
	if t.have >= 0 {
		return t.have
	}
	return t.top
}

// Pending reports whether the Thread is suspended waiting for its tokens.
func (t *Thread) Pending() bool { return t.have >= 0 }

// Ref returns the i'th Ref from the bottom of the stack.
func (t *Thread) Ref(i int) *Ref {
	if i < 0 || i >= t.top {
		panic(fmt.Errorf("%w: ref %d of %d", ErrStackUnderflow, i, t.top))
	}
	return &t.refs[i]
}

// Count returns how many Refs on the stack claim tok.
func (t *Thread) Count(tok *Token) int {
	n := 0
	for i := range t.top {
		if t.refs[i].tok == tok {
			n++
		}
	}
	return n
}

// Holds reports whether any Ref on the stack claims tok.
func (t *Thread) Holds(tok *Token) bool { return t.Count(tok) > 0 }

// HoldsExclusive reports whether tok is held exclusively by one of the Thread's Refs.
func (t *Thread) HoldsExclusive(tok *Token) bool {
	return tok.Exclusive() && t.ownsExclusive(tok)
}

// ident is the value stored in Token.owner while refs[slot] holds it exclusively.
func (t *Thread) ident(slot int) uint64 { return uint64(t.id)<<32 | uint64(slot+1) }

// ownsExclusive reports whether tok's owner is a Ref on this Thread's stack. It is only
// meaningful while tok's exclusive bit is set.
func (t *Thread) ownsExclusive(tok *Token) bool {
	o := tok.owner.Load()
	return o != 0 && uint32(o>>32) == t.id && int(uint32(o))-1 < t.top
}

func (t *Thread) push(tok *Token, mode Mode) int {
	if t.top == MaxRefs {
		panic(fmt.Errorf("%w: %d refs, pushing %q", ErrStackOverflow, t.top, tok.label))
	}
	i := t.top
	t.refs[i] = Ref{tok: tok, mode: mode}
	t.top++
	return i
}

func (t *Thread) pop() {
	t.top--
	t.refs[t.top] = Ref{}
}
