package jit

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gojit/gojit/internal/classfile"
)

func addMethod() *classfile.Method {
	return &classfile.Method{
		Class:      &classfile.Class{Name: "Demo", Pool: &classfile.ConstantPool{}},
		Name:       "add",
		Descriptor: "(II)I",
		ArgTypes:   []classfile.VMType{classfile.TInt, classfile.TInt},
		RetType:    classfile.TInt,
		MaxLocals:  2,
		// iload_0; iload_1; iadd; ireturn
		Code: []byte{0x1a, 0x1b, 0x60, 0xac},
	}
}

func TestCompilePublishesMethod(t *testing.T) {
	mgr := NewManager(1)
	defer mgr.Arena.Close()

	m := addMethod()
	cu := Get(m)
	addr, err := mgr.Compile(cu)
	require.NoError(t, err)
	require.NotZero(t, addr)
	require.True(t, cu.IsCompiled())
	require.NotEmpty(t, cu.Objcode)

	require.NoError(t, mgr.Arena.Seal())

	got, ok := mgr.AddrOf(m.FullName())
	require.True(t, ok)
	require.Equal(t, addr, got)
}

func TestCompileIsIdempotent(t *testing.T) {
	mgr := NewManager(1)
	defer mgr.Arena.Close()

	m := addMethod()
	cu := Get(m)
	addr1, err := mgr.Compile(cu)
	require.NoError(t, err)
	addr2, err := mgr.Compile(cu)
	require.NoError(t, err)
	require.Equal(t, addr1, addr2)
}

// classBuilder assembles a minimal class-file byte stream with a real
// constant pool, mirroring internal/classfile's own parser_test.go builder,
// so tests that need invoke* bytecode to resolve through a genuine Methodref
// entry don't have to fake classfile.ConstantPool's unexported internals.
type classBuilder struct {
	pool    bytes.Buffer
	count   uint16
	methods bytes.Buffer
	nMethod uint16
}

func (b *classBuilder) u16(v uint16) { binary.Write(&b.pool, binary.BigEndian, v) }

func (b *classBuilder) utf8(s string) uint16 {
	b.count++
	idx := b.count
	b.pool.WriteByte(1) // tagUTF8
	b.u16(uint16(len(s)))
	b.pool.WriteString(s)
	return idx
}

func (b *classBuilder) classRef(nameIdx uint16) uint16 {
	b.count++
	idx := b.count
	b.pool.WriteByte(7) // tagClass
	b.u16(nameIdx)
	return idx
}

func (b *classBuilder) nameAndType(nameIdx, descIdx uint16) uint16 {
	b.count++
	idx := b.count
	b.pool.WriteByte(12) // tagNameAndType
	b.u16(nameIdx)
	b.u16(descIdx)
	return idx
}

func (b *classBuilder) methodref(classIdx, natIdx uint16) uint16 {
	b.count++
	idx := b.count
	b.pool.WriteByte(10) // tagMethodref
	b.u16(classIdx)
	b.u16(natIdx)
	return idx
}

// addMethod appends a static method with a trivial Code attribute (no
// exception handlers, no line numbers).
func (b *classBuilder) addMethod(nameIdx, descIdx, codeAttrNameIdx uint16, code []byte, maxStack, maxLocals int) {
	var codeAttr bytes.Buffer
	binary.Write(&codeAttr, binary.BigEndian, uint16(maxStack))
	binary.Write(&codeAttr, binary.BigEndian, uint16(maxLocals))
	binary.Write(&codeAttr, binary.BigEndian, uint32(len(code)))
	codeAttr.Write(code)
	binary.Write(&codeAttr, binary.BigEndian, uint16(0)) // exception_table_length
	binary.Write(&codeAttr, binary.BigEndian, uint16(0)) // attributes_count

	binary.Write(&b.methods, binary.BigEndian, uint16(0x0008)) // ACC_STATIC
	binary.Write(&b.methods, binary.BigEndian, nameIdx)
	binary.Write(&b.methods, binary.BigEndian, descIdx)
	binary.Write(&b.methods, binary.BigEndian, uint16(1)) // attributes_count
	binary.Write(&b.methods, binary.BigEndian, codeAttrNameIdx)
	binary.Write(&b.methods, binary.BigEndian, uint32(codeAttr.Len()))
	b.methods.Write(codeAttr.Bytes())
	b.nMethod++
}

func (b *classBuilder) build(thisIdx uint16) []byte {
	var out bytes.Buffer
	binary.Write(&out, binary.BigEndian, uint32(0xCAFEBABE))
	binary.Write(&out, binary.BigEndian, uint16(0))  // minor
	binary.Write(&out, binary.BigEndian, uint16(52)) // major
	binary.Write(&out, binary.BigEndian, b.count+1)  // constant_pool_count
	out.Write(b.pool.Bytes())
	binary.Write(&out, binary.BigEndian, uint16(0x0021)) // ACC_PUBLIC|ACC_SUPER
	binary.Write(&out, binary.BigEndian, thisIdx)
	binary.Write(&out, binary.BigEndian, uint16(0)) // super_class
	binary.Write(&out, binary.BigEndian, uint16(0)) // interfaces_count
	binary.Write(&out, binary.BigEndian, uint16(0)) // fields_count
	binary.Write(&out, binary.BigEndian, b.nMethod)
	out.Write(b.methods.Bytes())
	binary.Write(&out, binary.BigEndian, uint16(0)) // class attributes_count
	return out.Bytes()
}

// twoMethodClass builds Demo with a static callee ()I returning 1 and a
// static caller ()I that invokestatic's callee through a real Methodref
// pool entry and returns its result unchanged.
func twoMethodClass(t *testing.T) *classfile.Class {
	t.Helper()

	b := &classBuilder{}
	classNameIdx := b.utf8("Demo")
	thisIdx := b.classRef(classNameIdx)
	calleeNameIdx := b.utf8("callee")
	callerNameIdx := b.utf8("caller")
	descIdx := b.utf8("()I")
	natIdx := b.nameAndType(calleeNameIdx, descIdx)
	calleeRef := b.methodref(thisIdx, natIdx)
	codeAttrNameIdx := b.utf8("Code")

	b.addMethod(calleeNameIdx, descIdx, codeAttrNameIdx, []byte{0x04, 0xac}, 1, 0) // iconst_1; ireturn
	b.addMethod(callerNameIdx, descIdx, codeAttrNameIdx,
		[]byte{0xb8, byte(calleeRef >> 8), byte(calleeRef), 0xac}, // invokestatic #calleeRef; ireturn
		1, 0)

	raw := b.build(thisIdx)
	class, err := classfile.Parse(bytes.NewReader(raw))
	require.NoError(t, err)
	return class
}

func TestCompileAllResolvesDirectCallBetweenMethods(t *testing.T) {
	class := twoMethodClass(t)
	require.Len(t, class.Methods, 2)

	mgr := NewManager(1)
	defer mgr.Arena.Close()

	cus := make([]*CU, len(class.Methods))
	for i, m := range class.Methods {
		cus[i] = Get(m)
	}
	err := mgr.CompileAll(cus)
	require.NoError(t, err)
	require.NoError(t, mgr.Arena.Seal())

	for _, cu := range cus {
		require.True(t, cu.IsCompiled())
	}

	calleeAddr, ok := mgr.AddrOf("Demo.callee()I")
	require.True(t, ok)
	callerAddr, ok := mgr.AddrOf("Demo.caller()I")
	require.True(t, ok)
	require.NotEqual(t, calleeAddr, callerAddr)
}
