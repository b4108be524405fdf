// Package except implements spec.md §4.5: exception-handler-table
// lookup, stack unwinding along the three paths (handler found in this
// frame, no handler but the caller is JIT-compiled, caller is native),
// the synchronized-method unlock-before-rethrow rule, and asynchronous
// exception delivery via a guard-page swap. Grounded on the teacher's
// signal-facing syscall intrinsics in backend_linux_x64.go (SIGSEGV/
// SIGFPE are there only ever emitted as target-program behaviour, never
// handled by the compiler's own process); this package maps and
// protects its guard page via golang.org/x/sys/unix and installs no
// signal handler.
package except

import (
	"fmt"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/gojit/gojit/internal/classfile"
)

// Frame is one activation record on the unwind path: its current pc, the
// EH table of the method it belongs to (nil for a native frame), and the
// values needed to resume there.
type Frame struct {
	PC        uintptr
	FP        uintptr
	EHTable   []classfile.EHEntry
	BytecodeOffset int
	Synchronized   bool
	MonitorObj     uintptr
}

// Engine drives unwinding for one thread's exception. Unlock releases a
// synchronized frame's monitor; the frames themselves are passed to
// Unwind by the caller.
type Engine struct {
	Unlock func(obj uintptr) error
}

// ErrNoHandler is the error for an exception that no frame's EH table
// covers. FindHandler and Unwind report that case through their false
// ok result and do not return this value; how to surface it is left to
// the runtime collaborator.
var ErrNoHandler = fmt.Errorf("except: no matching handler")

// FindHandler does the first-match EH-table scan spec.md §4.8 specifies:
// the first entry whose [StartPC, EndPC) covers offset and whose
// CatchType matches (0 always matches) wins.
func FindHandler(ehTable []classfile.EHEntry, offset int, matchesCatchType func(catchType int) bool) (int, bool) {
	for _, e := range ehTable {
		if offset < e.StartPC || offset >= e.EndPC {
			continue
		}
		if e.CatchType == 0 || matchesCatchType(e.CatchType) {
			return e.HandlerPC, true
		}
	}
	return 0, false
}

// Unwind walks frames outward from the top, looking for a handler. Every
// frame it passes through without a match gets its monitor released if
// Synchronized is set, per spec.md §4.5 "a synchronized method must
// release its monitor before propagating an exception out of it, handled
// or not."
func (e *Engine) Unwind(frames []Frame, catchClassName string, matches func(f Frame, className string) bool) (handlerPC int, frame Frame, ok bool) {
	for _, f := range frames {
		if f.EHTable != nil { // nil: native frame, no handler possible here
			if pc, found := FindHandler(f.EHTable, f.BytecodeOffset, func(ct int) bool { return matches(f, catchClassName) }); found {
				return pc, f, true
			}
		}
		// No handler in f: the exception propagates out of it.
		if f.Synchronized && f.MonitorObj != 0 && e.Unlock != nil {
			_ = e.Unlock(f.MonitorObj) // best-effort: a failing unlock here must not block propagation
		}
	}
	return 0, Frame{}, false
}

// AsyncGuard implements spec.md §4.5's asynchronous delivery mechanism:
// Arm swaps the safepoint-poll page to no-access, so the next poll that
// reads it faults into SIGSEGV, which a handler can recognise (by
// faulting address) as a pending async exception rather than a real
// null dereference. This package installs no such handler itself.
type AsyncGuard struct {
	mu      sync.Mutex
	page    []byte
	pending map[int64]uintptr // thread id -> pending exception object
}

// NewAsyncGuard mmaps a single guard page threads poll via a memory read
// at every backward branch and method entry (the "safepoint poll").
func NewAsyncGuard() (*AsyncGuard, error) {
	page, err := unix.Mmap(-1, 0, pageSize, unix.PROT_READ, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, fmt.Errorf("except: mmap guard page: %w", err)
	}
	return &AsyncGuard{page: page, pending: make(map[int64]uintptr)}, nil
}

const pageSize = 4096

// Addr returns the guard page's address, for codegen's inlined safepoint
// poll (a load from this address at every loop back-edge and method
// entry, spec.md §4.5).
func (g *AsyncGuard) Addr() uintptr {
	return uintptr(unsafe.Pointer(&g.page[0]))
}

// Arm marks threadID as having a pending asynchronous exception and
// revokes read access to the guard page, so that thread's very next poll
// faults.
func (g *AsyncGuard) Arm(threadID int64, exc uintptr) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.pending[threadID] = exc
	return unix.Mprotect(g.page, unix.PROT_NONE)
}

// Disarm restores read access once the armed thread has observed and
// begun handling its pending exception.
func (g *AsyncGuard) Disarm(threadID int64) error {
	g.mu.Lock()
	delete(g.pending, threadID)
	empty := len(g.pending) == 0
	g.mu.Unlock()
	if empty {
		return unix.Mprotect(g.page, unix.PROT_READ)
	}
	return nil
}

// Pending returns the exception object armed for threadID, if any.
func (g *AsyncGuard) Pending(threadID int64) (uintptr, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	exc, ok := g.pending[threadID]
	return exc, ok
}

// PollAddr satisfies internal/runtime.Safepoint: codegen's safepoint
// poll reads from this address.
func (g *AsyncGuard) PollAddr() uintptr { return g.Addr() }

// ArmAsyncException satisfies internal/runtime.Safepoint.
func (g *AsyncGuard) ArmAsyncException(threadID int64, exc uintptr) error {
	return g.Arm(threadID, exc)
}

// StaticFixupGuardAddr satisfies internal/runtime.Safepoint. A single
// shared guard page is reused across classes here; a production runtime
// would carry one per not-yet-initialised class so unrelated classes
// don't contend on the same fault.
func (g *AsyncGuard) StaticFixupGuardAddr(className string) uintptr { return g.Addr() }
