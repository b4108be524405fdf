package trampoline

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gojit/gojit/internal/arena"
	"github.com/gojit/gojit/internal/codegen"
)

func TestPatchDirectCall(t *testing.T) {
	a := arena.New(1)
	defer a.Close()

	g := &codegen.Emitter{}
	g.CallRel32("not-yet-known")
	g.Ret()

	addr, err := a.Publish(g.Code())
	require.NoError(t, err)
	require.NoError(t, a.Seal())

	siteOffset := g.CallFixups[0].CodeOffset
	site := CallSite{CodeAddr: addr + uintptr(siteOffset)}
	require.NoError(t, PatchDirectCall(a, site, addr+100))
}

func TestItableStubBinarySearch(t *testing.T) {
	g := &codegen.Emitter32{}
	hashes := []uint32{0x10, 0x20, 0x30, 0x40, 0x50}
	indices := []int32{0, 1, 2, 3, 4}
	require.NoError(t, ItableStub(g, hashes, indices))
	require.NotEmpty(t, g.Code())
	// The stub's last byte is the shared abort int3 landing pad that
	// every mismatched-hash jne targets; a matching path ends in
	// jmp [ecx] earlier in the code.
	require.Equal(t, byte(0xcc), g.Code()[len(g.Code())-1])
}

func TestItableStubEmpty(t *testing.T) {
	g := &codegen.Emitter32{}
	require.NoError(t, ItableStub(g, nil, nil))
	require.Equal(t, []byte{0xcc}, g.Code())
}

func TestItableStubMismatchedLengths(t *testing.T) {
	g := &codegen.Emitter32{}
	err := ItableStub(g, []uint32{1, 2}, []int32{0})
	require.Error(t, err)
}
