package classfile

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

// builder assembles a minimal class-file byte stream for tests: one class
// with no super, no interfaces, no fields, and the methods appended via
// addMethod.
type builder struct {
	utf8      map[string]int
	pool      [][]byte
	methods   []byte
	numMethod int
}

func newBuilder() *builder {
	b := &builder{utf8: make(map[string]int)}
	b.pool = append(b.pool, nil) // slot 0 unused
	return b
}

func (b *builder) u8Entry(buf []byte) int {
	b.pool = append(b.pool, buf)
	return len(b.pool) - 1
}

func (b *builder) utf8Idx(s string) int {
	if idx, ok := b.utf8[s]; ok {
		return idx
	}
	entry := make([]byte, 3+len(s))
	entry[0] = tagUTF8
	binary.BigEndian.PutUint16(entry[1:], uint16(len(s)))
	copy(entry[3:], s)
	idx := b.u8Entry(entry)
	b.utf8[s] = idx
	return idx
}

func (b *builder) classIdx(name string) int {
	nameIdx := b.utf8Idx(name)
	entry := make([]byte, 3)
	entry[0] = tagClass
	binary.BigEndian.PutUint16(entry[1:], uint16(nameIdx))
	return b.u8Entry(entry)
}

// addMethod appends a method with a trivial Code attribute (the given raw
// bytecode, no exception handlers) and returns the finished class-file
// bytes once build() is called.
func (b *builder) addMethod(name, descriptor string, flags uint16, code []byte, maxStack, maxLocals int) {
	nameIdx := b.utf8Idx(name)
	descIdx := b.utf8Idx(descriptor)
	codeAttrNameIdx := b.utf8Idx("Code")

	var codeAttr bytes.Buffer
	writeU16(&codeAttr, uint16(maxStack))
	writeU16(&codeAttr, uint16(maxLocals))
	writeU32(&codeAttr, uint32(len(code)))
	codeAttr.Write(code)
	writeU16(&codeAttr, 0) // exception_table_length
	writeU16(&codeAttr, 0) // attributes_count

	var m bytes.Buffer
	writeU16(&m, flags)
	writeU16(&m, uint16(nameIdx))
	writeU16(&m, uint16(descIdx))
	writeU16(&m, 1) // attributes_count
	writeU16(&m, uint16(codeAttrNameIdx))
	writeU32(&m, uint32(codeAttr.Len()))
	m.Write(codeAttr.Bytes())

	b.methods = append(b.methods, m.Bytes()...)
	b.numMethod++
}

func (b *builder) build(className string) []byte {
	thisIdx := b.classIdx(className)

	var out bytes.Buffer
	writeU32(&out, 0xCAFEBABE)
	writeU16(&out, 0) // minor
	writeU16(&out, 52) // major

	writeU16(&out, uint16(len(b.pool)))
	for i := 1; i < len(b.pool); i++ {
		out.Write(b.pool[i])
	}

	writeU16(&out, 0x0021) // access_flags: ACC_PUBLIC|ACC_SUPER
	writeU16(&out, uint16(thisIdx))
	writeU16(&out, 0) // super_class = 0 (java/lang/Object, no super entry needed)
	writeU16(&out, 0) // interfaces_count
	writeU16(&out, 0) // fields_count
	writeU16(&out, uint16(b.numMethod))
	out.Write(b.methods)
	writeU16(&out, 0) // class attributes_count

	return out.Bytes()
}

func writeU16(buf *bytes.Buffer, v uint16) {
	var tmp [2]byte
	binary.BigEndian.PutUint16(tmp[:], v)
	buf.Write(tmp[:])
}

func writeU32(buf *bytes.Buffer, v uint32) {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	buf.Write(tmp[:])
}

func TestParseSimpleMethod(t *testing.T) {
	b := newBuilder()
	// iconst_1 (0x04); ireturn (0xac)
	b.addMethod("answer", "()I", 0x0009 /* ACC_PUBLIC|ACC_STATIC */, []byte{0x04, 0xac}, 1, 0)
	raw := b.build("com/example/Demo")

	class, err := Parse(bytes.NewReader(raw))
	require.NoError(t, err)
	require.Equal(t, "com/example/Demo", class.Name)
	require.Len(t, class.Methods, 1)

	m := class.Methods[0]
	require.Equal(t, "answer", m.Name)
	require.True(t, m.Flags.Static())
	require.False(t, m.Flags.Synchronized())
	require.Equal(t, []byte{0x04, 0xac}, m.Code)
	require.Equal(t, 1, m.MaxStack)
	require.Equal(t, TInt, m.RetType)
}

func TestParseRejectsBadMagic(t *testing.T) {
	_, err := Parse(bytes.NewReader([]byte{0, 0, 0, 0}))
	require.ErrorIs(t, err, ErrVerify)
}

func TestExceptionTableOutOfRangeIsVerifyError(t *testing.T) {
	b := newBuilder()
	nameIdx := b.utf8Idx("broken")
	descIdx := b.utf8Idx("()V")
	codeAttrNameIdx := b.utf8Idx("Code")

	var codeAttr bytes.Buffer
	writeU16(&codeAttr, 1)
	writeU16(&codeAttr, 0)
	code := []byte{0xb1} // return
	writeU32(&codeAttr, uint32(len(code)))
	codeAttr.Write(code)
	writeU16(&codeAttr, 1) // exception_table_length = 1
	writeU16(&codeAttr, 0) // start_pc
	writeU16(&codeAttr, 100) // end_pc — out of range
	writeU16(&codeAttr, 0)   // handler_pc
	writeU16(&codeAttr, 0)   // catch_type
	writeU16(&codeAttr, 0)   // attributes_count

	var m bytes.Buffer
	writeU16(&m, 0x0008)
	writeU16(&m, uint16(nameIdx))
	writeU16(&m, uint16(descIdx))
	writeU16(&m, 1)
	writeU16(&m, uint16(codeAttrNameIdx))
	writeU32(&m, uint32(codeAttr.Len()))
	m.Write(codeAttr.Bytes())
	b.methods = m.Bytes()
	b.numMethod = 1

	raw := b.build("Broken")
	_, err := Parse(bytes.NewReader(raw))
	require.ErrorIs(t, err, ErrVerify)
}
