package token

import (
	"runtime"
	"unsafe"
)

type _ unsafe.Pointer

//go:linkname nanotime runtime.nanotime
func nanotime() int64

//go:linkname procPin runtime.procPin
//go:nosplit
func procPin() int

//go:linkname procUnpin runtime.procUnpin
//go:nosplit
func procUnpin()

// cpuID returns the index of the P the calling goroutine is running on. The goroutine may
// migrate right after, which only skews the window test.
func cpuID() int {
	id := procPin()
	procUnpin()
	return id
}

// pause burns roughly n spin iterations.
func pause(n int) {
	for range n {
		// Empty spin loop.
	}
}

func gomaxprocs() int { return runtime.GOMAXPROCS(0) }
