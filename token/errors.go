package token

import "errors"

// Errors carried by panics on misuse. Token operations never return them: a violated
// ordering rule is a bug in the caller, not a condition to recover from.
var (
	ErrIllegalRelease = errors.New("token: illegal release")
	ErrStackOverflow  = errors.New("token: too many tokens held")
	ErrStackUnderflow = errors.New("token: not enough tokens held")
	ErrSharedUpgrade  = errors.New("token: exclusive request for a token held shared")
	ErrNotPending     = errors.New("token: thread is not waiting for tokens")
)
