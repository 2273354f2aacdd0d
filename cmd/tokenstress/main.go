// Command tokenstress exercises tokens under contention and reports how they behaved.
//
// Scenarios:
//
//	pair      two threads take tokens x and y in opposite orders
//	stress    --threads threads each take the same --tokens tokens in a random order
//	baseline  the pair scenario on blocking ticket locks, which deadlocks
//
// Token tuning flags (--token-spin, ...) and glog's flags (--v, --logtostderr, ...) are
// accepted as well.
package main

import (
	"flag"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/spf13/pflag"
	"github.com/zeebo/pcg"

	"github.com/ahrav/go-tokens/baseline"
	"github.com/ahrav/go-tokens/sched"
	"github.com/ahrav/go-tokens/token"
)

type options struct {
	scenario   string
	threads    int
	tokens     int
	iterations int
	seed       uint64
	delay      time.Duration
	timeout    time.Duration
	escalate   int
	sorted     bool
}

func main() {
	var opts options
	cfg := token.DefaultConfig()

	fs := pflag.CommandLine
	fs.StringVar(&opts.scenario, "scenario", "pair", "scenario to run: pair, stress or baseline")
	fs.IntVar(&opts.threads, "threads", 8, "threads in the stress scenario")
	fs.IntVar(&opts.tokens, "tokens", 4, "tokens in the stress scenario")
	fs.IntVar(&opts.iterations, "iterations", 1000, "critical sections per thread")
	fs.Uint64Var(&opts.seed, "seed", 1, "seed for the acquisition orders")
	fs.DurationVar(&opts.delay, "delay", 0, "pause between acquiring the first and the second token")
	fs.DurationVar(&opts.timeout, "timeout", 30*time.Second, "give up after this long")
	fs.IntVar(&opts.escalate, "escalate", 2, "failed retries before sorted acquisition")
	fs.BoolVar(&opts.sorted, "sorted", false, "always retry in sorted order")
	cfg.RegisterFlags(fs, "")
	fs.AddGoFlagSet(flag.CommandLine)
	pflag.Parse()
	// glog checks that the standard flag set was parsed.
	_ = flag.CommandLine.Parse(nil)
	defer glog.Flush()

	if err := run(opts, cfg); err != nil {
		glog.Error(err)
		glog.Flush()
		os.Exit(1)
	}
}

func run(opts options, cfg token.Config) error {
	glog.Infof("tokenstress: scenario=%s threads=%d tokens=%d iterations=%d config=%+v",
		opts.scenario, opts.threads, opts.tokens, opts.iterations, cfg)

	switch opts.scenario {
	case "pair":
		return runPair(opts, cfg)
	case "stress":
		return runStress(opts, cfg)
	case "baseline":
		return runBaseline(opts)
	default:
		return fmt.Errorf("unknown scenario %q", opts.scenario)
	}
}

func newScheduler(opts options, cfg token.Config) *sched.Scheduler {
	return sched.New(sched.Options{EscalateAfter: opts.escalate, AlwaysSorted: opts.sorted}, &cfg)
}

// wait waits for s or the timeout, whichever comes first.
func wait(s *sched.Scheduler, timeout time.Duration) error {
	done := make(chan struct{})
	go func() {
		s.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("threads still running after %v", timeout)
	}
}

func report(s *sched.Scheduler, start time.Time, toks ...*token.Token) {
	st := s.Stats()
	fmt.Printf("elapsed %v: %d switches, %d retries, %d sorted retries, %d failures\n",
		time.Since(start), st.Switches, st.Retries, st.SortedRetries, st.Failures)
	for _, tok := range toks {
		fmt.Printf("  %-8s collisions=%d\n", tok.Label(), tok.Collisions())
	}
}

func runPair(opts options, cfg token.Config) error {
	x, y := token.NewToken("x"), token.NewToken("y")
	s := newScheduler(opts, cfg)
	start := time.Now()

	for _, pair := range [][2]*token.Token{{x, y}, {y, x}} {
		s.Go(func(t *token.Thread) {
			for range opts.iterations {
				t.Acquire(pair[0])
				if opts.delay > 0 {
					time.Sleep(opts.delay)
				}
				t.Acquire(pair[1])
				t.Release(pair[1])
				t.Release(pair[0])
			}
		})
	}
	if err := wait(s, opts.timeout); err != nil {
		return err
	}
	report(s, start, x, y)
	return nil
}

func runStress(opts options, cfg token.Config) error {
	if opts.tokens < 1 || opts.tokens > token.MaxRefs {
		return fmt.Errorf("--tokens must be between 1 and %d", token.MaxRefs)
	}
	toks := make([]*token.Token, opts.tokens)
	for i := range toks {
		toks[i] = token.NewToken(fmt.Sprintf("t%d", i))
	}
	rng := pcg.New(opts.seed, 0)
	s := newScheduler(opts, cfg)
	start := time.Now()

	for range opts.threads {
		order := make([]*token.Token, len(toks))
		copy(order, toks)
		for i := len(order) - 1; i > 0; i-- {
			j := int(rng.Uint32() % uint32(i+1))
			order[i], order[j] = order[j], order[i]
		}
		s.Go(func(t *token.Thread) {
			for range opts.iterations {
				for _, tok := range order {
					t.Acquire(tok)
				}
				for i := len(order) - 1; i >= 0; i-- {
					t.Release(order[i])
				}
			}
		})
	}
	if err := wait(s, opts.timeout); err != nil {
		return err
	}
	report(s, start, toks...)
	return nil
}

func runBaseline(opts options) error {
	x, y := baseline.NewLock(), baseline.NewLock()
	deadline := time.Now().Add(opts.timeout)
	var (
		wg    sync.WaitGroup
		ready sync.WaitGroup
		stuck [2]bool
	)
	wg.Add(2)
	ready.Add(2)
	for i, pair := range [][2]*baseline.Lock{{x, y}, {y, x}} {
		go func() {
			defer wg.Done()
			pair[0].Lock()
			ready.Done()
			ready.Wait()
			if !pair[1].LockUntil(deadline) {
				stuck[i] = true
				pair[0].Unlock()
				return
			}
			pair[1].Unlock()
			pair[0].Unlock()
		}()
	}
	wg.Wait()

	if stuck[0] && stuck[1] {
		fmt.Printf("deadlocked: both goroutines waited %v for their second lock\n", opts.timeout)
		return nil
	}
	return fmt.Errorf("expected a deadlock, got stuck=%v", stuck)
}
