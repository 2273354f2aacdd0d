package token

import (
	"fmt"
	"unsafe"

	"go.uber.org/atomic"
	"golang.org/x/sys/cpu"
)

// Bits in Token.word.
const (
	wordExclusive = 1 << iota // held exclusively.
	wordRequest               // a blocked exclusive requester wants priority.
	wordIncr                  // one shared hold; the shared count lives above this bit.
)

const wordFlags = wordExclusive | wordRequest

// Token serializes access to whatever its holders agree it protects. It may be held
// exclusively by one Ref or shared by any number of Refs. A Thread holding a token
// exclusively may acquire it again, shared or exclusive, without contention.
//
// The zero value is a free, unlabelled token. Tokens are intended to be long-lived and
// must not be copied after first use.
type Token struct {
	word       atomic.Uint64 // see wordExclusive, wordRequest, wordIncr
	owner      atomic.Uint64 // identity of the exclusive Ref, 0 when none
	collisions atomic.Uint64
	label      string
	_          cpu.CacheLinePad
}

// NewToken returns a free token carrying label for diagnostics.
func NewToken(label string) *Token {
	t := new(Token)
	t.Init(label)
	return t
}

// Init resets t to a free token labelled label. It must not be called while t is held.
func (t *Token) Init(label string) {
	t.word.Store(0)
	t.owner.Store(0)
	t.collisions.Store(0)
	t.label = label
}

// trySetExclusive attempts to move the word from count to count with the exclusive bit set
// and the request hint cleared. It only succeeds if count carries no holds.
func (t *Token) trySetExclusive(count uint64) bool {
	return count&^wordRequest == 0 &&
		t.word.CompareAndSwap(count, (count&^wordRequest)|wordExclusive)
}

// clearExclusive drops the exclusive bit, leaving shared counts and the hint alone.
func (t *Token) clearExclusive() {
	for {
		count := t.word.Load()
		if t.word.CompareAndSwap(count, count&^wordExclusive) {
			return
		}
	}
}

// setRequest sets the request hint. Failing to set it is harmless, the requester retries.
func (t *Token) setRequest() {
	for {
		count := t.word.Load()
		if count&wordRequest != 0 || t.word.CompareAndSwap(count, count|wordRequest) {
			return
		}
	}
}

// addShared adds one shared hold and returns the word as it was before the add.
func (t *Token) addShared() uint64 { return t.word.Add(wordIncr) - wordIncr }

// subShared removes one shared hold and returns the resulting word.
func (t *Token) subShared() uint64 { return t.word.Sub(wordIncr) }

// addr orders tokens for sorted acquisition. Heap objects do not move.
func (t *Token) addr() uintptr { return uintptr(unsafe.Pointer(t)) }

// Label returns the diagnostic label given to Init or NewToken.
func (t *Token) Label() string { return t.label }

// Collisions returns how many times an acquisition of t exhausted its backoff.
func (t *Token) Collisions() uint64 { return t.collisions.Load() }

// Exclusive reports whether t is currently held exclusively.
func (t *Token) Exclusive() bool { return t.word.Load()&wordExclusive != 0 }

// Requested reports whether a blocked exclusive requester has set the priority hint.
func (t *Token) Requested() bool { return t.word.Load()&wordRequest != 0 }

// Shared returns the number of shared holds, including recursive holds by an exclusive owner.
func (t *Token) Shared() int { return int(t.word.Load() / wordIncr) }

func (t *Token) String() string {
	count := t.word.Load()
	return fmt.Sprintf("token %q excl=%t req=%t shared=%d collisions=%d",
		t.label, count&wordExclusive != 0, count&wordRequest != 0, count/wordIncr, t.collisions.Load())
}
