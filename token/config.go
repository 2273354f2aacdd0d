package token

import "github.com/spf13/pflag"

// Config tunes the contention path. None of its values affect correctness.
type Config struct {
	// Spin is the number of backoff rounds tried before handing off to the scheduler.
	Spin int
	// Delay caps the exclusive backoff, in pause iterations.
	Delay int
	// Window is the shift applied to the monotonic clock before it is reduced modulo the
	// processor count to pick which processor's turn it is.
	Window uint
	// HintDepth is the largest stack depth at which shared requests still honour the
	// exclusive-requested hint. Deeper stacks ignore it so a thread part way through a
	// multi-token acquisition is not starved.
	HintDepth int
	// Diagnostics enables checks for misuse that would otherwise livelock silently.
	Diagnostics bool
	// DebugLogs is how many all-or-nothing failures are logged before going quiet.
	DebugLogs int
}

// DefaultConfig returns the tuning used when NewThread is given a nil Config.
func DefaultConfig() Config {
	return Config{
		Spin:      5,
		Delay:     1000,
		Window:    16,
		HintDepth: 1,
	}
}

// RegisterFlags registers the configuration flags with fs, with prefix prepended
// to their names:
//
//	--<prefix>token-spin
//	--<prefix>token-delay
//	--<prefix>token-window
//	--<prefix>token-hint-depth
//	--<prefix>token-diagnostics
//	--<prefix>token-debug-logs
//
// The current values of c are used as defaults.
func (c *Config) RegisterFlags(fs *pflag.FlagSet, prefix string) {
	fs.IntVar(&c.Spin, prefix+"token-spin", c.Spin, "backoff rounds before yielding the processor")
	fs.IntVar(&c.Delay, prefix+"token-delay", c.Delay, "maximum exclusive backoff in pause iterations")
	fs.UintVar(&c.Window, prefix+"token-window", c.Window, "clock shift selecting the per-processor retry window")
	fs.IntVar(&c.HintDepth, prefix+"token-hint-depth", c.HintDepth, "deepest token stack at which shared requests yield to exclusive waiters")
	fs.BoolVar(&c.Diagnostics, prefix+"token-diagnostics", c.Diagnostics, "panic on shared-to-exclusive upgrades")
	fs.IntVar(&c.DebugLogs, prefix+"token-debug-logs", c.DebugLogs, "number of token collisions to log")
}
