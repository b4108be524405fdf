package classfile

import "fmt"

const (
	accStaticMethod       = 0x0008
	accNative             = 0x0100
	accAbstract           = 0x0400
	accSynchronizedMethod = 0x0020
)

// parseMethods decodes the method_info table, including each method's Code
// attribute (max_stack, max_locals, code[], exception_table[],
// line_number_table[]) named explicitly in spec.md §3.
func parseMethods(c *cursor, pool *ConstantPool, class *Class) ([]*Method, error) {
	count, err := c.u16()
	if err != nil {
		return nil, err
	}
	methods := make([]*Method, 0, count)
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
		name, err := pool.UTF8At(int(nameIdx))
		if err != nil {
			return nil, fmt.Errorf("%w: method[%d] name: %v", ErrVerify, i, err)
		}
		descriptor, err := pool.UTF8At(int(descIdx))
		if err != nil {
			return nil, fmt.Errorf("%w: method[%d] descriptor: %v", ErrVerify, i, err)
		}
		argTypes, retType, err := descriptorTypes(descriptor)
		if err != nil {
			return nil, err
		}

		m := &Method{
			Class:      class,
			Name:       name,
			Descriptor: descriptor,
			ArgTypes:   argTypes,
			RetType:    retType,
		}
		if accessFlags&accStaticMethod != 0 {
			m.Flags |= FlagStatic
		}
		if accessFlags&accNative != 0 {
			m.Flags |= FlagNative
		}
		if accessFlags&accAbstract != 0 {
			m.Flags |= FlagAbstract
		}
		if accessFlags&accSynchronizedMethod != 0 {
			m.Flags |= FlagSynchronized
		}

		attrCount, err := c.u16()
		if err != nil {
			return nil, err
		}
		for a := 0; a < int(attrCount); a++ {
			attrNameIdx, err := c.u16()
			if err != nil {
				return nil, err
			}
			attrLen, err := c.u32()
			if err != nil {
				return nil, err
			}
			attrName, err := pool.UTF8At(int(attrNameIdx))
			if err != nil {
				return nil, fmt.Errorf("%w: method[%d] attribute name: %v", ErrVerify, i, err)
			}
			end := c.pos + int(attrLen)
			if attrName == "Code" {
				if err := parseCodeAttribute(c, pool, m, end); err != nil {
					return nil, err
				}
			} else {
				if _, err := c.bytes(int(attrLen)); err != nil {
					return nil, err
				}
			}
			if c.pos != end {
				// Defensive resync: an attribute's own sub-parser mis-tracked
				// its length. Treat as a verification failure rather than
				// silently reading a neighbouring attribute's bytes.
				return nil, fmt.Errorf("%w: method[%d] attribute %q: length mismatch", ErrVerify, i, attrName)
			}
		}
		methods = append(methods, m)
	}
	return methods, nil
}

func parseCodeAttribute(c *cursor, pool *ConstantPool, m *Method, end int) error {
	maxStack, err := c.u16()
	if err != nil {
		return err
	}
	maxLocals, err := c.u16()
	if err != nil {
		return err
	}
	codeLen, err := c.u32()
	if err != nil {
		return err
	}
	code, err := c.bytes(int(codeLen))
	if err != nil {
		return err
	}
	m.MaxStack = int(maxStack)
	m.MaxLocals = int(maxLocals)
	m.Code = code

	ehCount, err := c.u16()
	if err != nil {
		return err
	}
	m.EHTable = make([]EHEntry, 0, ehCount)
	for i := 0; i < int(ehCount); i++ {
		startPC, err := c.u16()
		if err != nil {
			return err
		}
		endPC, err := c.u16()
		if err != nil {
			return err
		}
		handlerPC, err := c.u16()
		if err != nil {
			return err
		}
		catchType, err := c.u16()
		if err != nil {
			return err
		}
		if int(startPC) < 0 || int(endPC) > len(code) || startPC > endPC {
			return fmt.Errorf("%w: method %s: exception table entry %d out of code range", ErrVerify, m.Name, i)
		}
		if int(handlerPC) >= len(code) {
			return fmt.Errorf("%w: method %s: handler_pc %d out of code range", ErrVerify, m.Name, handlerPC)
		}
		m.EHTable = append(m.EHTable, EHEntry{
			StartPC:   int(startPC),
			EndPC:     int(endPC),
			HandlerPC: int(handlerPC),
			CatchType: int(catchType),
		})
	}

	// Nested attributes (LineNumberTable among them); anything else is
	// skipped by length, matching parseMethods' own attribute loop.
	attrCount, err := c.u16()
	if err != nil {
		return err
	}
	for a := 0; a < int(attrCount); a++ {
		attrNameIdx, err := c.u16()
		if err != nil {
			return err
		}
		attrLen, err := c.u32()
		if err != nil {
			return err
		}
		attrName, err := pool.UTF8At(int(attrNameIdx))
		if err != nil {
			return err
		}
		attrEnd := c.pos + int(attrLen)
		if attrName == "LineNumberTable" {
			n, err := c.u16()
			if err != nil {
				return err
			}
			for i := 0; i < int(n); i++ {
				startPC, err := c.u16()
				if err != nil {
					return err
				}
				line, err := c.u16()
				if err != nil {
					return err
				}
				m.LineTable = append(m.LineTable, LineEntry{StartPC: int(startPC), Line: int(line)})
			}
		} else {
			if _, err := c.bytes(int(attrLen)); err != nil {
				return err
			}
		}
		if c.pos != attrEnd {
			return fmt.Errorf("%w: method %s: Code sub-attribute %q length mismatch", ErrVerify, m.Name, attrName)
		}
	}
	if c.pos != end {
		return fmt.Errorf("%w: method %s: Code attribute length mismatch", ErrVerify, m.Name)
	}
	return nil
}
