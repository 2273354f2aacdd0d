// Package pool maps arbitrary addresses onto a fixed table of anonymous tokens, so a data
// structure can be serialized without embedding a token of its own.
//
// Unrelated objects may share a pool token. That only costs false contention: the token
// returned is an ordinary token.Token with the usual recursion and ordering rules.
//
// Example usage:
//
//	tok := pool.Acquire(t, unsafe.Pointer(obj))
//	// ... critical section ...
//	t.Release(tok)
package pool

import (
	"unsafe"

	"github.com/ahrav/go-tokens/token"
)

// Size is the number of tokens in a Registry.
const Size = 16384

// Two distinct odd prime moduli. The second residue is shifted before the XOR so that
// addresses stepping by a common stride do not advance both residues in lockstep.
const (
	modA = 16381
	modB = 8191
)

// Registry is a fixed table of pool tokens.
type Registry struct {
	tokens [Size]token.Token
}

// NewRegistry returns a Registry whose tokens are all free and labelled "pool".
func NewRegistry() *Registry {
	r := new(Registry)
	for i := range r.tokens {
		r.tokens[i].Init("pool")
	}
	return r
}

// index returns the slot for addr.
func index(addr uintptr) int {
	return int(((addr % modA) ^ (addr%modB)<<7) & (Size - 1))
}

// Lookup returns the token for addr. The same address always maps to the same token.
func (r *Registry) Lookup(addr uintptr) *token.Token { return &r.tokens[index(addr)] }

// For returns the token for the object p points to.
func (r *Registry) For(p unsafe.Pointer) *token.Token { return r.Lookup(uintptr(p)) }

// Default is the process-wide registry used by the package-level functions.
var Default = NewRegistry()

// Lookup returns Default's token for addr.
func Lookup(addr uintptr) *token.Token { return Default.Lookup(addr) }

// For returns Default's token for the object p points to.
func For(p unsafe.Pointer) *token.Token { return Default.For(p) }

// Acquire obtains Default's token for p exclusively on t and returns it for Release.
func Acquire(t *token.Thread, p unsafe.Pointer) *token.Token {
	tok := For(p)
	t.Acquire(tok)
	return tok
}

// AcquireShared obtains Default's token for p shared on t and returns it for Release.
func AcquireShared(t *token.Thread, p unsafe.Pointer) *token.Token {
	tok := For(p)
	t.AcquireShared(tok)
	return tok
}
