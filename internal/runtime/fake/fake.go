// Package fake provides in-process test doubles for internal/runtime's
// collaborator interfaces that need no real object heap or OS thread
// model. No test in this module imports it. Grounded on the teacher's
// own test fixtures being absent (it
// has none); this package follows the wider corpus's table-driven /
// testify convention instead (see DESIGN.md).
package fake

import (
	"fmt"
	"sync"
	"unsafe"

	"github.com/gojit/gojit/internal/classfile"
)

// Heap is a trivial bump-allocating heap over a Go byte slice, enough to
// exercise field/array offset math in tests without a real object
// model.
type Heap struct {
	mu        sync.Mutex
	mem       []byte
	fieldOffs map[string]int32
}

func NewHeap(size int) *Heap {
	return &Heap{mem: make([]byte, size), fieldOffs: make(map[string]int32)}
}

func (h *Heap) SetFieldOffset(className, fieldName string, off int32) {
	h.fieldOffs[className+"."+fieldName] = off
}

func (h *Heap) AllocObject(className string) (uintptr, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.bump(64)
}

func (h *Heap) AllocArray(elemType classfile.VMType, length int) (uintptr, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	elemSize := 4
	if elemType.Wide() || elemType == classfile.TRef {
		elemSize = 8
	}
	return h.bump(16 + elemSize*length)
}

func (h *Heap) bump(n int) (uintptr, error) {
	if len(h.mem) < n {
		return 0, fmt.Errorf("fake: heap exhausted")
	}
	addr := uintptr(unsafe.Pointer(&h.mem[0]))
	h.mem = h.mem[n:]
	return addr, nil
}

func (h *Heap) FieldOffset(className, fieldName string) (int32, error) {
	off, ok := h.fieldOffs[className+"."+fieldName]
	if !ok {
		return 0, fmt.Errorf("fake: unknown field %s.%s", className, fieldName)
	}
	return off, nil
}

func (h *Heap) ArrayElemOffset(elemType classfile.VMType, index uintptr) (int32, error) {
	elemSize := int32(4)
	if elemType.Wide() || elemType == classfile.TRef {
		elemSize = 8
	}
	return 16 + elemSize*int32(index), nil
}

func (h *Heap) IsInstanceOf(obj uintptr, className string) bool { return true }

// Monitor is a map of object address to a real sync.Mutex, adequate for
// single-process JIT tests.
type Monitor struct {
	mu    sync.Mutex
	locks map[uintptr]*sync.Mutex
}

func NewMonitor() *Monitor { return &Monitor{locks: make(map[uintptr]*sync.Mutex)} }

func (m *Monitor) Enter(obj uintptr) error {
	m.mu.Lock()
	l, ok := m.locks[obj]
	if !ok {
		l = &sync.Mutex{}
		m.locks[obj] = l
	}
	m.mu.Unlock()
	l.Lock()
	return nil
}

func (m *Monitor) Exit(obj uintptr) error {
	m.mu.Lock()
	l, ok := m.locks[obj]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("fake: monitor exit without enter")
	}
	l.Unlock()
	return nil
}

// NativeRegistry is a name-keyed map test setup populates directly.
type NativeRegistry struct {
	entries map[string]uintptr
}

func NewNativeRegistry() *NativeRegistry { return &NativeRegistry{entries: map[string]uintptr{}} }

func (r *NativeRegistry) Register(method *classfile.Method, addr uintptr) {
	r.entries[method.FullName()] = addr
}

func (r *NativeRegistry) Lookup(method *classfile.Method) (uintptr, bool) {
	a, ok := r.entries[method.FullName()]
	return a, ok
}
