package core

import (
	"bytes"
	"fmt"
	"runtime"
	"strconv"
	"sync/atomic"
)

// ThreadChecker asserts that main-thread-only state is only touched from the
// scheduling goroutine. The expected execution context is captured on first
// use (or explicitly via BindToCurrent), mirroring how the rest of the module
// captures identity lazily. Failing the comparison is a contract violation,
// not a recoverable error.
type ThreadChecker struct {
	goroutineID atomic.Int64
}

// BindToCurrent pins the checker to the calling goroutine.
func (t *ThreadChecker) BindToCurrent() {
	t.goroutineID.Store(currentGoroutineID())
}

// Detach clears the binding so the next Check rebinds. Used when ownership of
// the scheduling loop is handed to a new goroutine before it starts pumping.
func (t *ThreadChecker) Detach() {
	t.goroutineID.Store(0)
}

// Check panics if called from a goroutine other than the bound one. If no
// goroutine is bound yet, the caller becomes the bound one.
func (t *ThreadChecker) Check() {
	id := currentGoroutineID()
	if t.goroutineID.CompareAndSwap(0, id) {
		return
	}
	if bound := t.goroutineID.Load(); bound != id {
		panic(fmt.Sprintf("called on goroutine %d, expected scheduling goroutine %d", id, bound))
	}
}

// CalledOnValidThread reports whether the calling goroutine matches the bound
// one without panicking, binding on first use like Check.
func (t *ThreadChecker) CalledOnValidThread() bool {
	id := currentGoroutineID()
	if t.goroutineID.CompareAndSwap(0, id) {
		return true
	}
	return t.goroutineID.Load() == id
}

// currentGoroutineID parses the goroutine id out of the stack header. The
// header format ("goroutine N [state]:") is stable across Go releases.
func currentGoroutineID() int64 {
	var buf [40]byte
	n := runtime.Stack(buf[:], false)
	frame := buf[:n]
	frame = bytes.TrimPrefix(frame, []byte("goroutine "))
	if i := bytes.IndexByte(frame, ' '); i > 0 {
		if id, err := strconv.ParseInt(string(frame[:i]), 10, 64); err == nil {
			return id
		}
	}
	return -1
}
