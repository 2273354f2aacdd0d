package token

import (
	"sync"
	"testing"
)

// BenchmarkMutexUncontended tests mutex performance with no contention
func BenchmarkMutexUncontended(b *testing.B) {
	var mu sync.Mutex
	for i := 0; i < b.N; i++ {
		mu.Lock()
		mu.Unlock()
	}
}

// BenchmarkTokenUncontended tests exclusive token performance with no contention
func BenchmarkTokenUncontended(b *testing.B) {
	tok := NewToken("bench")
	th := NewThread(new(yieldScheduler), nil)
	for i := 0; i < b.N; i++ {
		th.Acquire(tok)
		th.Release(tok)
	}
}

func BenchmarkTokenRecursive(b *testing.B) {
	tok := NewToken("bench")
	th := NewThread(new(yieldScheduler), nil)
	th.Acquire(tok)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		th.Acquire(tok)
		th.Release(tok)
	}
	b.StopTimer()
	th.Release(tok)
}

func BenchmarkRWMutexReadParallel(b *testing.B) {
	var mu sync.RWMutex
	b.ReportAllocs()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			mu.RLock()
			mu.RUnlock()
		}
	})
}

func BenchmarkTokenSharedParallel(b *testing.B) {
	tok := NewToken("bench")
	s := new(yieldScheduler)
	b.ReportAllocs()
	b.RunParallel(func(pb *testing.PB) {
		th := NewThread(s, nil)
		for pb.Next() {
			th.AcquireShared(tok)
			th.Release(tok)
		}
	})
}

// BenchmarkMutexContended tests mutex performance under contention
func BenchmarkMutexContended(b *testing.B) {
	var mu sync.Mutex
	shared := 0
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			mu.Lock()
			shared++
			mu.Unlock()
		}
	})
}

// BenchmarkTokenContended tests exclusive token performance under contention
func BenchmarkTokenContended(b *testing.B) {
	tok := NewToken("bench")
	s := new(yieldScheduler)
	shared := 0
	b.RunParallel(func(pb *testing.PB) {
		th := NewThread(s, nil)
		for pb.Next() {
			th.Acquire(tok)
			shared++
			th.Release(tok)
		}
	})
}

// BenchmarkTokenPairContended takes two tokens in opposite orders from alternating
// goroutines, which a plain mutex could not do without deadlocking.
func BenchmarkTokenPairContended(b *testing.B) {
	x, y := NewToken("x"), NewToken("y")
	s := new(yieldScheduler)
	shared := 0
	var flip sync.Mutex
	n := 0
	b.RunParallel(func(pb *testing.PB) {
		flip.Lock()
		first, second := x, y
		if n%2 == 1 {
			first, second = y, x
		}
		n++
		flip.Unlock()

		th := NewThread(s, nil)
		for pb.Next() {
			th.Acquire(first)
			th.Acquire(second)
			shared++
			th.Release(second)
			th.Release(first)
		}
	})
}

// BenchmarkMutexTryLock tests performance of try-lock pattern
func BenchmarkMutexTryLock(b *testing.B) {
	var mu sync.Mutex
	shared := 0
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			if mu.TryLock() {
				shared++
				mu.Unlock()
			}
		}
	})
}

// BenchmarkTokenTryAcquire tests performance of try-lock pattern
func BenchmarkTokenTryAcquire(b *testing.B) {
	tok := NewToken("bench")
	s := new(yieldScheduler)
	shared := 0
	b.RunParallel(func(pb *testing.PB) {
		th := NewThread(s, nil)
		for pb.Next() {
			if th.TryAcquire(tok) {
				shared++
				th.Release(tok)
			}
		}
	})
}
