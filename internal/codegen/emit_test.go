package codegen

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gojit/gojit/internal/lir"
	"github.com/gojit/gojit/internal/regalloc"
)

func TestEmitStraightLineAdd(t *testing.T) {
	v1, v2, v3 := lir.VReg(1), lir.VReg(2), lir.VReg(3)
	insns := []lir.Inst{
		{Kind: lir.KMoveImm, Dst: lir.Reg(v1, lir.RegGPR), Src1: lir.Imm(1)},
		{Kind: lir.KMoveImm, Dst: lir.Reg(v2, lir.RegGPR), Src1: lir.Imm(2)},
		{Kind: lir.KAdd, Dst: lir.Reg(v3, lir.RegGPR), Src1: lir.Reg(v1, lir.RegGPR), Src2: lir.Reg(v2, lir.RegGPR)},
		{Kind: lir.KReturn, Src1: lir.Reg(v3, lir.RegGPR)},
	}
	raBlocks := []regalloc.Block{{ID: 0, Insns: insns}}
	loc := regalloc.Allocate(raBlocks, regalloc.Config{GPRCount: 14, XMMCount: 16})

	result, err := Emit([]Block{{ID: 0, Insns: insns}}, loc, 0)
	require.NoError(t, err)
	require.NotEmpty(t, result.Code)
	// prologue: push rbp; mov rbp, rsp
	require.Equal(t, byte(0x55), result.Code[0])
	// epilogue ends in ret
	require.Equal(t, byte(0xc3), result.Code[len(result.Code)-1])
}

func TestEmitBranchFixupResolves(t *testing.T) {
	cond := lir.VReg(1)
	b0 := []lir.Inst{
		{Kind: lir.KMoveImm, Dst: lir.Reg(cond, lir.RegGPR), Src1: lir.Imm(0)},
		{Kind: lir.KJump, Dst: lir.BranchTarget(1)},
	}
	b1 := []lir.Inst{
		{Kind: lir.KReturn},
	}
	raBlocks := []regalloc.Block{{ID: 0, Insns: b0}, {ID: 1, Insns: b1}}
	loc := regalloc.Allocate(raBlocks, regalloc.Config{GPRCount: 14, XMMCount: 16})

	result, err := Emit([]Block{{ID: 0, Insns: b0}, {ID: 1, Insns: b1}}, loc, 0)
	require.NoError(t, err)
	require.Contains(t, result.BlockOffset, 0)
	require.Contains(t, result.BlockOffset, 1)
}

func TestEmitterX64Mnemonics(t *testing.T) {
	g := &Emitter{}
	g.MovRR(RAX, RCX)
	g.AddRR(RAX, RDX)
	g.Ret()
	require.NotEmpty(t, g.Code())
	require.Equal(t, byte(0xc3), g.Code()[len(g.Code())-1])
}

func TestEmitter32Mnemonics(t *testing.T) {
	g := &Emitter32{}
	g.MovRR(RAX, RCX)
	g.CmpImm32(RAX, 42)
	off := g.JccRel32(CCEq)
	g.Ret()
	g.PatchRel32At(off, g.Len())
	require.NotEmpty(t, g.Code())
}
