package regalloc

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gojit/gojit/internal/lir"
)

func TestAllocateSimpleChain(t *testing.T) {
	// v1 = imm; v2 = imm; v3 = v1 + v2; return v3
	v1, v2, v3 := lir.VReg(1), lir.VReg(2), lir.VReg(3)
	blocks := []Block{{
		ID: 0,
		Insns: []lir.Inst{
			{Kind: lir.KMoveImm, Dst: lir.Reg(v1, lir.RegGPR), Src1: lir.Imm(1)},
			{Kind: lir.KMoveImm, Dst: lir.Reg(v2, lir.RegGPR), Src1: lir.Imm(2)},
			{Kind: lir.KAdd, Dst: lir.Reg(v3, lir.RegGPR), Src1: lir.Reg(v1, lir.RegGPR), Src2: lir.Reg(v2, lir.RegGPR)},
			{Kind: lir.KReturn, Src1: lir.Reg(v3, lir.RegGPR)},
		},
	}}

	res := Allocate(blocks, Config{GPRCount: 14, XMMCount: 16})
	require.Equal(t, 0, res.NumSpills)
	require.Len(t, res.Intervals, 3)
	for _, v := range []lir.VReg{v1, v2, v3} {
		iv, ok := res.ByVReg[v]
		require.True(t, ok)
		require.GreaterOrEqual(t, iv.AssignedReg, 0)
	}
}

func TestAllocateSpillsUnderPressure(t *testing.T) {
	// More live vregs at once than the register budget allows.
	var insns []lir.Inst
	var vregs []lir.VReg
	for i := 1; i <= 4; i++ {
		v := lir.VReg(i)
		vregs = append(vregs, v)
		insns = append(insns, lir.Inst{Kind: lir.KMoveImm, Dst: lir.Reg(v, lir.RegGPR), Src1: lir.Imm(int64(i))})
	}
	// keep every vreg alive until the very end by summing them all
	sum := lir.VReg(100)
	insns = append(insns, lir.Inst{Kind: lir.KMove, Dst: lir.Reg(sum, lir.RegGPR), Src1: lir.Reg(vregs[0], lir.RegGPR)})
	for _, v := range vregs[1:] {
		insns = append(insns, lir.Inst{Kind: lir.KAdd, Dst: lir.Reg(sum, lir.RegGPR), Src1: lir.Reg(sum, lir.RegGPR), Src2: lir.Reg(v, lir.RegGPR)})
	}
	insns = append(insns, lir.Inst{Kind: lir.KReturn, Src1: lir.Reg(sum, lir.RegGPR)})

	res := Allocate([]Block{{ID: 0, Insns: insns}}, Config{GPRCount: 2, XMMCount: 2})
	require.Greater(t, res.NumSpills, 0)
}
