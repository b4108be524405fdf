package classfile

import (
	"fmt"
	"sync"
)

// fieldSlotSize is the uniform width every field occupies in this JIT's
// object/static layout, matching the flat "every local/spill is one
// 8-byte slot regardless of width" simplification internal/jit's
// StackFrame already makes.
const fieldSlotSize = 8

// headerSize reserves the leading word every instance carries: the
// vtable pointer internal/lir's virtual-dispatch MemBase(recv, 0) load
// already assumes sits there.
const headerSize = 8

// Layout is one class's field-to-offset table, computed once from its
// declared fields in class-file order. Inherited superclass fields are
// not included.
type Layout struct {
	instance map[string]int32
	static   map[string]int32
}

func newLayout(fields []*Field) *Layout {
	l := &Layout{instance: make(map[string]int32), static: make(map[string]int32)}
	var instOff, statOff int32 = headerSize, 0
	for _, f := range fields {
		if f.Static {
			l.static[f.Name] = statOff
			statOff += fieldSlotSize
		} else {
			l.instance[f.Name] = instOff
			instOff += fieldSlotSize
		}
	}
	return l
}

func (c *Class) layout() *Layout {
	c.layoutOnce.Do(func() {
		c.layoutCache = newLayout(c.Fields)
	})
	return c.layoutCache
}

// InstanceFieldOffset returns name's byte offset from an instance's base
// pointer, per spec.md §4.2 "Field access".
func (c *Class) InstanceFieldOffset(name string) (int32, error) {
	off, ok := c.layout().instance[name]
	if !ok {
		return 0, fmt.Errorf("classfile: %s has no instance field %q", c.Name, name)
	}
	return off, nil
}

// StaticFieldKey identifies name's slot in c's not-yet-allocated static
// storage area: the key internal/jit's static-field fixup resolution
// uses once that area exists (spec.md §4.7.4). It only validates that
// name is a declared static field of c; it does not itself reserve
// storage.
func (c *Class) StaticFieldKey(name string) (string, error) {
	if _, ok := c.layout().static[name]; !ok {
		return "", fmt.Errorf("classfile: %s has no static field %q", c.Name, name)
	}
	return c.Name + "." + name, nil
}

var (
	registryMu sync.RWMutex
	registry   = map[string]*Class{}
)

func registerClass(c *Class) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[c.Name] = c
}

// LookupClass returns a class previously handed to Parse, by name. Used
// by internal/lir to resolve field offsets for a field access whose
// declaring class may differ from the method currently being compiled.
func LookupClass(name string) (*Class, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	c, ok := registry[name]
	return c, ok
}
