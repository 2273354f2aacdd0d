package sched

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zeebo/pcg"

	"github.com/ahrav/go-tokens/token"
)

// finishes fails the test if fn has not returned within budget.
func finishes(t *testing.T, budget time.Duration, fn func()) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		defer close(done)
		fn()
	}()
	select {
	case <-done:
	case <-time.After(budget):
		t.Fatalf("did not finish within %v", budget)
	}
}

func TestOppositeOrderPair(t *testing.T) {
	x, y := token.NewToken("x"), token.NewToken("y")
	s := New(Options{}, nil)

	// Both threads hold their first token before either asks for its second.
	var barrier sync.WaitGroup
	barrier.Add(2)
	counter := 0

	s.Go(func(t *token.Thread) {
		t.Acquire(x)
		barrier.Done()
		barrier.Wait()
		t.Acquire(y)
		counter++
		t.Release(y)
		t.Release(x)
	})
	s.Go(func(t *token.Thread) {
		t.Acquire(y)
		barrier.Done()
		barrier.Wait()
		t.Acquire(x)
		counter++
		t.Release(x)
		t.Release(y)
	})

	finishes(t, 5*time.Second, s.Wait)
	assert.Equal(t, 2, counter)
	assert.GreaterOrEqual(t, s.Stats().Switches, uint64(1))
	assert.False(t, x.Exclusive())
	assert.False(t, y.Exclusive())
}

func TestOppositeOrderPairWithDelay(t *testing.T) {
	x, y := token.NewToken("x"), token.NewToken("y")
	cfg := token.DefaultConfig()
	cfg.Spin = 1
	s := New(Options{Yield: func() { time.Sleep(10 * time.Microsecond) }}, &cfg)
	const iterations = 200
	counter := 0

	for i := range 2 {
		first, second := x, y
		if i == 1 {
			first, second = y, x
		}
		s.Go(func(t *token.Thread) {
			for range iterations {
				t.Acquire(first)
				time.Sleep(time.Microsecond)
				t.Acquire(second)
				counter++
				t.Release(second)
				t.Release(first)
			}
		})
	}

	finishes(t, 10*time.Second, s.Wait)
	assert.Equal(t, 2*iterations, counter)
}

// TestRandomOrderCompletes has threads take the same set of tokens in their own random
// orders. Every thread must finish, with every critical section counted.
func TestRandomOrderCompletes(t *testing.T) {
	rng := pcg.New(42, 0)
	for trial := range 8 {
		numThreads := 2 + int(rng.Uint32()%7)
		numTokens := 2 + int(rng.Uint32()%5)
		const iterations = 200

		toks := make([]*token.Token, numTokens)
		counts := make([]int, numTokens)
		for i := range toks {
			toks[i] = token.NewToken("t")
		}

		cfg := token.DefaultConfig()
		cfg.Spin = 1
		s := New(Options{AlwaysSorted: trial%2 == 1}, &cfg)

		for range numThreads {
			order := make([]int, numTokens)
			for i := range order {
				order[i] = i
			}
			for i := len(order) - 1; i > 0; i-- {
				j := int(rng.Uint32() % uint32(i+1))
				order[i], order[j] = order[j], order[i]
			}
			s.Go(func(t *token.Thread) {
				for range iterations {
					for _, i := range order {
						t.Acquire(toks[i])
					}
					for _, i := range order {
						counts[i]++
					}
					for k := len(order) - 1; k >= 0; k-- {
						t.Release(toks[order[k]])
					}
				}
			})
		}

		finishes(t, 20*time.Second, s.Wait)
		for i, n := range counts {
			assert.Equal(t, numThreads*iterations, n, "trial %d token %d", trial, i)
			assert.False(t, toks[i].Exclusive())
		}
	}
}

func TestMixedBatches(t *testing.T) {
	a, b, c := token.NewToken("a"), token.NewToken("b"), token.NewToken("c")
	s := New(Options{}, nil)
	const numGoroutines = 6
	const iterations = 500
	var sum, readers int
	var mu sync.Mutex

	for g := range numGoroutines {
		s.Go(func(t *token.Thread) {
			for range iterations {
				if g%2 == 0 {
					t.AcquireSet(token.Request{Token: c}, token.Request{Token: a}, token.Request{Token: b, Shared: true})
					sum++
					t.Release(b)
					t.Release(a)
					t.Release(c)
				} else {
					t.AcquireSet(token.Request{Token: b}, token.Request{Token: a, Shared: true})
					t.Acquire(c)
					mu.Lock()
					readers++
					mu.Unlock()
					t.Release(c)
					t.Release(a)
					t.Release(b)
				}
			}
		})
	}

	finishes(t, 10*time.Second, s.Wait)
	assert.Equal(t, numGoroutines/2*iterations, sum)
	assert.Equal(t, numGoroutines/2*iterations, readers)
}

func TestEscalatesToSorted(t *testing.T) {
	x := token.NewToken("x")
	s := New(Options{EscalateAfter: 1, Yield: func() { time.Sleep(time.Millisecond) }}, nil)
	blocker := s.NewThread()
	blocker.Acquire(x)

	done := make(chan struct{})
	s.Go(func(t *token.Thread) {
		defer close(done)
		t.Acquire(x)
		t.Release(x)
	})

	require.Eventually(t, func() bool { return s.Stats().SortedRetries > 0 }, 5*time.Second, time.Millisecond)
	blocker.Release(x)
	<-done
	s.Wait()

	stats := s.Stats()
	assert.Equal(t, uint64(1), stats.Switches)
	assert.Equal(t, uint64(1), stats.Retries)
	assert.Equal(t, stats.Retries+stats.SortedRetries-1, stats.Failures)
}

func TestRunDetectsLeakedTokens(t *testing.T) {
	x := token.NewToken("leaked")
	s := New(Options{}, nil)

	var err error
	func() {
		defer func() { err, _ = recover().(error) }()
		s.Run(func(t *token.Thread) { t.Acquire(x) })
	}()
	assert.True(t, errors.Is(err, ErrLeakedTokens), "got %v", err)
}

func BenchmarkSchedulerPair(b *testing.B) {
	x, y := token.NewToken("x"), token.NewToken("y")
	s := New(Options{}, nil)
	b.RunParallel(func(pb *testing.PB) {
		t := s.NewThread()
		for pb.Next() {
			t.Acquire(x)
			t.Acquire(y)
			t.Release(y)
			t.Release(x)
		}
	})
}
