// Package arena manages the executable text region machine code is
// published into, per spec.md §4.6 "Executable memory": mmap a
// read-write region, write generated code into it, then mprotect it
// read-execute before any caller can reach it. Grounded on the teacher's
// syscall-intrinsic mmap/mprotect code generation in
// std/compiler/backend_linux_x64.go (there, mmap is *emitted* as part of
// a compiled program's own syscalls; here the JIT calls mmap/mprotect
// directly on its own process via golang.org/x/sys/unix, which none of
// the teacher's code needs since it never runs as its own runtime).
package arena

import (
	"fmt"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"
)

const pageSize = 4096

// Arena is a growable set of mmap'd text regions. Each Publish call picks
// the current region if it has room, or grows by mapping a fresh one,
// matching spec.md §4.6 "Text pages are allocated in Config.TextArenaPages
// chunks and never shrink."
type Arena struct {
	mu      sync.Mutex
	pages   int
	regions []*region
}

type region struct {
	base []byte // mmap'd RW until sealed, RX after
	used int
	sealed bool
}

// New creates an Arena that grows in pagesPerChunk-page increments.
func New(pagesPerChunk int) *Arena {
	if pagesPerChunk <= 0 {
		pagesPerChunk = 16
	}
	return &Arena{pages: pagesPerChunk}
}

// Publish writes code into the arena and returns the address the JIT
// will call into or patch a call site to target. The region stays
// read-write until Seal flips it to read-execute, so a batch of related
// methods (e.g. everything CompileAll just compiled) can still be
// patched for cross-references before any of them becomes callable.
func (a *Arena) Publish(code []byte) (uintptr, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	r := a.currentOpenRegion(len(code))
	if r == nil {
		var err error
		r, err = a.grow(len(code))
		if err != nil {
			return 0, err
		}
	}

	copy(r.base[r.used:], code)
	addr := uintptr(unsafe.Pointer(&r.base[0])) + uintptr(r.used)
	r.used += len(code)
	return addr, nil
}

// Seal mprotects every open (still-writable) region to read-execute.
// Called once a batch of methods has been published, matching spec.md
// §5's "publication is a single atomic step" intent at the page level.
func (a *Arena) Seal() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, r := range a.regions {
		if r.sealed {
			continue
		}
		if err := unix.Mprotect(r.base, unix.PROT_READ|unix.PROT_EXEC); err != nil {
			return fmt.Errorf("arena: mprotect: %w", err)
		}
		r.sealed = true
	}
	return nil
}

func (a *Arena) currentOpenRegion(n int) *region {
	if len(a.regions) == 0 {
		return nil
	}
	last := a.regions[len(a.regions)-1]
	if last.sealed || last.used+n > len(last.base) {
		return nil
	}
	return last
}

func (a *Arena) grow(n int) (*region, error) {
	pages := a.pages
	for pages*pageSize < n {
		pages *= 2
	}
	size := pages * pageSize
	base, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, fmt.Errorf("arena: mmap: %w", err)
	}
	r := &region{base: base}
	a.regions = append(a.regions, r)
	return r, nil
}

// Patch overwrites n bytes at addr (an address previously returned by
// Publish) with data, toggling that region back to read-write for the
// duration of the write and restoring its prior protection before
// returning: read-execute if the region was already Sealed, read-write
// if it wasn't (a still-open region may still take further Publish
// writes, which need the region writable). This is how
// internal/trampoline rewrites a call site's rel32 once its callee
// compiles, and how a static-field fixup's disp32 gets its real address
// (spec.md §4.7.1, §4.7.4): the region is never left simultaneously
// writable and executable.
func (a *Arena) Patch(addr uintptr, data []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, r := range a.regions {
		base := uintptr(unsafe.Pointer(&r.base[0]))
		if addr < base || addr+uintptr(len(data)) > base+uintptr(len(r.base)) {
			continue
		}
		if err := unix.Mprotect(r.base, unix.PROT_READ|unix.PROT_WRITE); err != nil {
			return fmt.Errorf("arena: mprotect rw: %w", err)
		}
		copy(r.base[addr-base:], data)
		restore := unix.PROT_READ | unix.PROT_WRITE
		if r.sealed {
			restore = unix.PROT_READ | unix.PROT_EXEC
		}
		if err := unix.Mprotect(r.base, restore); err != nil {
			return fmt.Errorf("arena: mprotect restore: %w", err)
		}
		return nil
	}
	return fmt.Errorf("arena: patch: address %#x not in any region", addr)
}

// Close unmaps every region this Arena owns. Only safe once no
// previously published method can still be called.
func (a *Arena) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	var firstErr error
	for _, r := range a.regions {
		if err := unix.Munmap(r.base); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	a.regions = nil
	return firstErr
}
