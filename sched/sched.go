// Package sched is a cooperative scheduler for token.Threads. Each Thread runs on its own
// goroutine; when one cannot get its tokens, Switch gives up the processor and keeps
// retrying the Thread's complete token set until it is granted.
//
// Retries first walk the Thread's tokens in acquisition order. After Options.EscalateAfter
// failed rounds they switch to address order, which every contending Thread shares, so
// retrying threads converge instead of repeatedly knocking each other out.
//
// Example usage:
//
//	s := sched.New(sched.Options{}, nil)
//	for range 4 {
//	    s.Go(func(t *token.Thread) {
//	        t.Acquire(x)
//	        t.Acquire(y)
//	        // ... critical section ...
//	        t.Release(y)
//	        t.Release(x)
//	    })
//	}
//	s.Wait()
package sched

import (
	"errors"
	"fmt"
	"runtime"
	"sync"

	"github.com/golang/glog"
	"go.uber.org/atomic"

	"github.com/ahrav/go-tokens/token"
)

// ErrLeakedTokens is carried by the panic raised when a Thread's function returns while
// still holding tokens.
var ErrLeakedTokens = errors.New("sched: thread exited holding tokens")

// Options controls how a Scheduler retries suspended Threads.
type Options struct {
	// EscalateAfter is the number of failed in-order rounds before retries use sorted
	// acquisition. Zero means the default of 2.
	EscalateAfter int
	// AlwaysSorted makes every retry sorted.
	AlwaysSorted bool
	// Yield runs between retries in place of runtime.Gosched.
	Yield func()
}

// Stats counts Scheduler activity.
type Stats struct {
	Switches      uint64 // Threads suspended
	Retries       uint64 // in-order reacquisition attempts
	SortedRetries uint64 // sorted reacquisition attempts
	Failures      uint64 // attempts that did not get every token
}

// Scheduler implements token.Scheduler. It is safe for concurrent use.
type Scheduler struct {
	opts Options
	cfg  *token.Config
	wg   sync.WaitGroup

	switches atomic.Uint64
	retries  atomic.Uint64
	sorted   atomic.Uint64
	failures atomic.Uint64
}

var _ token.Scheduler = (*Scheduler)(nil)

// New returns a Scheduler whose Threads are configured by cfg; nil means
// token.DefaultConfig.
func New(opts Options, cfg *token.Config) *Scheduler {
	if opts.EscalateAfter <= 0 {
		opts.EscalateAfter = 2
	}
	if opts.Yield == nil {
		opts.Yield = runtime.Gosched
	}
	return &Scheduler{opts: opts, cfg: cfg}
}

// NewThread returns a Thread that hands off to s.
func (s *Scheduler) NewThread() *token.Thread { return token.NewThread(s, s.cfg) }

// Run calls fn with a new Thread on the calling goroutine. It panics with ErrLeakedTokens
// if fn returns without releasing everything it acquired.
func (s *Scheduler) Run(fn func(t *token.Thread)) {
	t := s.NewThread()
	fn(t)
	if n := t.Depth(); n != 0 {
		panic(fmt.Errorf("%w: thread %d holds %d, top is %v", ErrLeakedTokens, t.ID(), n, t.Ref(n-1).Token()))
	}
}

// Go calls Run(fn) on a new goroutine. Wait waits for it.
func (s *Scheduler) Go(fn func(t *token.Thread)) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.Run(fn)
	}()
}

// Wait blocks until every function started by Go has returned.
func (s *Scheduler) Wait() { s.wg.Wait() }

// Switch releases t's tokens and returns once t holds all of them again.
func (s *Scheduler) Switch(t *token.Thread) {
	s.switches.Inc()
	t.ReleaseAll()
	for fails := 0; ; fails++ {
		s.opts.Yield()

		sorted := s.opts.AlwaysSorted || fails >= s.opts.EscalateAfter
		if sorted {
			s.sorted.Inc()
		} else {
			s.retries.Inc()
		}
		if fails == s.opts.EscalateAfter && !s.opts.AlwaysSorted {
			glog.V(2).Infof("sched: thread %d switching to sorted acquisition of %d tokens", t.ID(), t.Depth())
		}
		if t.AcquireAll(sorted) {
			return
		}
		s.failures.Inc()
	}
}

// Stats returns a snapshot of the Scheduler's counters.
func (s *Scheduler) Stats() Stats {
	return Stats{
		Switches:      s.switches.Load(),
		Retries:       s.retries.Load(),
		SortedRetries: s.sorted.Load(),
		Failures:      s.failures.Load(),
	}
}
