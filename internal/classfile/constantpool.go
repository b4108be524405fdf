package classfile

import (
	"fmt"
	"sync"
)

// Constant pool tags, as laid out in the class-file format spec.md §6
// names as "consumed": utf8, class-ref, name-and-type, field-ref,
// method-ref, integer, long, float, double, string.
const (
	tagUTF8               = 1
	tagInteger            = 3
	tagFloat              = 4
	tagLong               = 5
	tagDouble             = 6
	tagClass              = 7
	tagString             = 8
	tagFieldref           = 9
	tagMethodref          = 10
	tagInterfaceMethodref = 11
	tagNameAndType        = 12
)

// PoolEntry is one constant-pool slot. Only the fields relevant to its Tag
// are populated.
type PoolEntry struct {
	Tag      byte
	UTF8     string
	Int32    int32
	Int64    int64
	Float32  float32
	Float64  float64
	ClassIdx int // tagClass: index of the UTF8 name
	NameIdx  int // tagString/tagNameAndType: name index
	TypeIdx  int // tagNameAndType: descriptor index
	ClassRef int // field/methodref: class index
	NatRef   int // field/methodref: name-and-type index
}

// ConstantPool is a class's constant pool, 1-indexed per the class-file
// format (slot 0 is unused).
type ConstantPool struct {
	entries []PoolEntry

	// ResolvedCache is a slot for memoised invoke*/getfield/putfield
	// resolution keyed by pool index, after the original source's
	// cp_cache. Nothing in this module reads or writes it; the HIR
	// builder resolves references from the pool on every use.
	ResolvedCache sync.Map
}

// Get returns the entry at index i, which must be in [1, Len()).
func (cp *ConstantPool) Get(i int) (PoolEntry, error) {
	if i <= 0 || i >= len(cp.entries) {
		return PoolEntry{}, fmt.Errorf("classfile: constant pool index %d out of range", i)
	}
	return cp.entries[i], nil
}

// Len returns one past the highest valid index (slot 0 excluded).
func (cp *ConstantPool) Len() int { return len(cp.entries) }

// UTF8At resolves a UTF8 entry by index.
func (cp *ConstantPool) UTF8At(i int) (string, error) {
	e, err := cp.Get(i)
	if err != nil {
		return "", err
	}
	if e.Tag != tagUTF8 {
		return "", fmt.Errorf("classfile: pool index %d is not UTF8 (tag=%d)", i, e.Tag)
	}
	return e.UTF8, nil
}

// ClassNameAt resolves a Class entry to its name.
func (cp *ConstantPool) ClassNameAt(i int) (string, error) {
	e, err := cp.Get(i)
	if err != nil {
		return "", err
	}
	if e.Tag != tagClass {
		return "", fmt.Errorf("classfile: pool index %d is not a class ref (tag=%d)", i, e.Tag)
	}
	return cp.UTF8At(e.ClassIdx)
}

// NameAndTypeAt resolves a NameAndType entry to (name, descriptor).
func (cp *ConstantPool) NameAndTypeAt(i int) (name, descriptor string, err error) {
	e, err := cp.Get(i)
	if err != nil {
		return "", "", err
	}
	if e.Tag != tagNameAndType {
		return "", "", fmt.Errorf("classfile: pool index %d is not a NameAndType (tag=%d)", i, e.Tag)
	}
	name, err = cp.UTF8At(e.NameIdx)
	if err != nil {
		return "", "", err
	}
	descriptor, err = cp.UTF8At(e.TypeIdx)
	return name, descriptor, err
}

// FieldrefAt resolves a Fieldref/Methodref/InterfaceMethodref-shaped entry
// to (class name, member name, descriptor).
func (cp *ConstantPool) FieldrefAt(i int) (className, name, descriptor string, err error) {
	e, err := cp.Get(i)
	if err != nil {
		return "", "", "", err
	}
	switch e.Tag {
	case tagFieldref, tagMethodref, tagInterfaceMethodref:
	default:
		return "", "", "", fmt.Errorf("classfile: pool index %d is not a ref (tag=%d)", i, e.Tag)
	}
	className, err = cp.ClassNameAt(e.ClassRef)
	if err != nil {
		return "", "", "", err
	}
	name, descriptor, err = cp.NameAndTypeAt(e.NatRef)
	return className, name, descriptor, err
}
