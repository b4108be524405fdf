package classfile

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// ErrVerify is returned (wrapped) when the class-file bytes fail the
// structural checks spec.md §4.1/§7 calls a verification failure: a
// malformed constant pool, an out-of-range code attribute reference, or a
// branch target that cannot possibly land on an instruction boundary.
var ErrVerify = fmt.Errorf("classfile: verification failure")

// cursor is a position-tracking reader over the class-file byte stream,
// grounded on the teacher's parser.go cursor-based decode discipline
// (track a position, expose typed read helpers) but over a binary wire
// format instead of Go source text.
type cursor struct {
	buf []byte
	pos int
}

func (c *cursor) u8() (byte, error) {
	if c.pos >= len(c.buf) {
		return 0, io.ErrUnexpectedEOF
	}
	b := c.buf[c.pos]
	c.pos++
	return b, nil
}

func (c *cursor) u16() (uint16, error) {
	if c.pos+2 > len(c.buf) {
		return 0, io.ErrUnexpectedEOF
	}
	v := binary.BigEndian.Uint16(c.buf[c.pos:])
	c.pos += 2
	return v, nil
}

func (c *cursor) u32() (uint32, error) {
	if c.pos+4 > len(c.buf) {
		return 0, io.ErrUnexpectedEOF
	}
	v := binary.BigEndian.Uint32(c.buf[c.pos:])
	c.pos += 4
	return v, nil
}

func (c *cursor) u64() (uint64, error) {
	if c.pos+8 > len(c.buf) {
		return 0, io.ErrUnexpectedEOF
	}
	v := binary.BigEndian.Uint64(c.buf[c.pos:])
	c.pos += 8
	return v, nil
}

func (c *cursor) bytes(n int) ([]byte, error) {
	if c.pos+n > len(c.buf) {
		return nil, io.ErrUnexpectedEOF
	}
	b := c.buf[c.pos : c.pos+n]
	c.pos += n
	return b, nil
}

// Parse decodes a class-file byte stream into a Class, validating
// constant-pool indices as it goes (spec.md §4.1 "Malformed bytecode ...
// reports a verification failure").
func Parse(r io.Reader) (*Class, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("classfile: read: %w", err)
	}
	c := &cursor{buf: raw}

	magic, err := c.u32()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrVerify, err)
	}
	if magic != 0xCAFEBABE {
		return nil, fmt.Errorf("%w: bad magic %08x", ErrVerify, magic)
	}
	if _, err := c.u16(); err != nil { // minor version
		return nil, err
	}
	if _, err := c.u16(); err != nil { // major version
		return nil, err
	}

	pool, err := parseConstantPool(c)
	if err != nil {
		return nil, err
	}

	if _, err := c.u16(); err != nil { // access_flags
		return nil, err
	}
	thisIdx, err := c.u16()
	if err != nil {
		return nil, err
	}
	superIdx, err := c.u16()
	if err != nil {
		return nil, err
	}
	className, err := pool.ClassNameAt(int(thisIdx))
	if err != nil {
		return nil, fmt.Errorf("%w: this_class: %v", ErrVerify, err)
	}
	var superName string
	if superIdx != 0 {
		superName, err = pool.ClassNameAt(int(superIdx))
		if err != nil {
			return nil, fmt.Errorf("%w: super_class: %v", ErrVerify, err)
		}
	}

	ifaceCount, err := c.u16()
	if err != nil {
		return nil, err
	}
	interfaces := make([]string, 0, ifaceCount)
	for i := 0; i < int(ifaceCount); i++ {
		idx, err := c.u16()
		if err != nil {
			return nil, err
		}
		name, err := pool.ClassNameAt(int(idx))
		if err != nil {
			return nil, fmt.Errorf("%w: interfaces[%d]: %v", ErrVerify, i, err)
		}
		interfaces = append(interfaces, name)
	}

	class := &Class{Name: className, SuperName: superName, Interfaces: interfaces, Pool: pool}

	fields, err := parseFields(c, pool)
	if err != nil {
		return nil, err
	}
	class.Fields = fields

	methods, err := parseMethods(c, pool, class)
	if err != nil {
		return nil, err
	}
	class.Methods = methods

	registerClass(class)
	return class, nil
}

func parseConstantPool(c *cursor) (*ConstantPool, error) {
	count, err := c.u16()
	if err != nil {
		return nil, err
	}
	entries := make([]PoolEntry, count) // slot 0 unused, long/double consume two slots
	i := 1
	for i < int(count) {
		tag, err := c.u8()
		if err != nil {
			return nil, fmt.Errorf("%w: pool[%d]: %v", ErrVerify, i, err)
		}
		e := PoolEntry{Tag: tag}
		switch tag {
		case tagUTF8:
			n, err := c.u16()
			if err != nil {
				return nil, err
			}
			b, err := c.bytes(int(n))
			if err != nil {
				return nil, err
			}
			e.UTF8 = string(b)
		case tagInteger:
			v, err := c.u32()
			if err != nil {
				return nil, err
			}
			e.Int32 = int32(v)
		case tagFloat:
			v, err := c.u32()
			if err != nil {
				return nil, err
			}
			e.Float32 = math.Float32frombits(v)
		case tagLong:
			v, err := c.u64()
			if err != nil {
				return nil, err
			}
			e.Int64 = int64(v)
		case tagDouble:
			v, err := c.u64()
			if err != nil {
				return nil, err
			}
			e.Float64 = math.Float64frombits(v)
		case tagClass:
			idx, err := c.u16()
			if err != nil {
				return nil, err
			}
			e.ClassIdx = int(idx)
		case tagString:
			idx, err := c.u16()
			if err != nil {
				return nil, err
			}
			e.NameIdx = int(idx)
		case tagFieldref, tagMethodref, tagInterfaceMethodref:
			ci, err := c.u16()
			if err != nil {
				return nil, err
			}
			ni, err := c.u16()
			if err != nil {
				return nil, err
			}
			e.ClassRef, e.NatRef = int(ci), int(ni)
		case tagNameAndType:
			ni, err := c.u16()
			if err != nil {
				return nil, err
			}
			ti, err := c.u16()
			if err != nil {
				return nil, err
			}
			e.NameIdx, e.TypeIdx = int(ni), int(ti)
		default:
			return nil, fmt.Errorf("%w: pool[%d]: unknown tag %d", ErrVerify, i, tag)
		}
		entries[i] = e
		i++
		if tag == tagLong || tag == tagDouble {
			i++ // long/double occupy two pool slots per the class-file format
		}
	}
	return &ConstantPool{entries: entries}, nil
}

// ParseDescriptorForHIR exposes descriptorTypes to internal/hir, which
// needs a method descriptor's argument and return vm-types to shape an
// InvokeExpr's argument list.
func ParseDescriptorForHIR(descriptor string) (args []VMType, ret VMType, err error) {
	return descriptorTypes(descriptor)
}

func descriptorTypes(descriptor string) (args []VMType, ret VMType, err error) {
	i := 0
	if i >= len(descriptor) || descriptor[i] != '(' {
		return nil, 0, fmt.Errorf("%w: malformed descriptor %q", ErrVerify, descriptor)
	}
	i++
	for i < len(descriptor) && descriptor[i] != ')' {
		t, n, err := parseOneType(descriptor[i:])
		if err != nil {
			return nil, 0, err
		}
		args = append(args, t)
		i += n
	}
	if i >= len(descriptor) {
		return nil, 0, fmt.Errorf("%w: unterminated descriptor %q", ErrVerify, descriptor)
	}
	i++ // skip ')'
	if descriptor[i:] == "V" {
		return args, TVoid, nil
	}
	ret, _, err = parseOneType(descriptor[i:])
	return args, ret, err
}

func parseOneType(s string) (VMType, int, error) {
	if len(s) == 0 {
		return 0, 0, fmt.Errorf("%w: empty type in descriptor", ErrVerify)
	}
	switch s[0] {
	case 'B', 'C', 'I', 'S', 'Z':
		return TInt, 1, nil
	case 'J':
		return TLong, 1, nil
	case 'F':
		return TFloat, 1, nil
	case 'D':
		return TDouble, 1, nil
	case 'L':
		n := 1
		for n < len(s) && s[n] != ';' {
			n++
		}
		return TRef, n + 1, nil
	case '[':
		_, n, err := parseOneType(s[1:])
		return TRef, n + 1, err
	default:
		return 0, 0, fmt.Errorf("%w: unknown descriptor char %q", ErrVerify, s[0])
	}
}

func parseFields(c *cursor, pool *ConstantPool) ([]*Field, error) {
	count, err := c.u16()
	if err != nil {
		return nil, err
	}
	fields := make([]*Field, 0, count)
	for i := 0; i < int(count); i++ {
		accessFlags, err := c.u16()
		if err != nil {
			return nil, err
		}
		nameIdx, err := c.u16()
		if err != nil {
			return nil, err
		}
		descIdx, err := c.u16()
		if err != nil {
			return nil, err
		}
		if err := skipAttributes(c); err != nil {
			return nil, err
		}
		name, err := pool.UTF8At(int(nameIdx))
		if err != nil {
			return nil, fmt.Errorf("%w: field[%d] name: %v", ErrVerify, i, err)
		}
		desc, err := pool.UTF8At(int(descIdx))
		if err != nil {
			return nil, fmt.Errorf("%w: field[%d] descriptor: %v", ErrVerify, i, err)
		}
		t, _, err := parseOneType(desc)
		if err != nil {
			return nil, err
		}
		const accStatic = 0x0008
		fields = append(fields, &Field{
			Name:       name,
			Descriptor: desc,
			Static:     accessFlags&accStatic != 0,
			Type:       t,
		})
	}
	return fields, nil
}

func skipAttributes(c *cursor) error {
	count, err := c.u16()
	if err != nil {
		return err
	}
	for i := 0; i < int(count); i++ {
		if _, err := c.u16(); err != nil { // attribute_name_index
			return err
		}
		length, err := c.u32()
		if err != nil {
			return err
		}
		if _, err := c.bytes(int(length)); err != nil {
			return err
		}
	}
	return nil
}
