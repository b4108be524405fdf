package hir

import (
	"testing"

	"github.com/gojit/gojit/internal/cfa"
	"github.com/gojit/gojit/internal/classfile"
	"github.com/stretchr/testify/require"
)

func simpleMethod(code []byte) *classfile.Method {
	return &classfile.Method{
		Class: &classfile.Class{Name: "Demo", Pool: &classfile.ConstantPool{}},
		Name:  "f", Descriptor: "()I",
		Code: code,
	}
}

func TestBuildStraightLine(t *testing.T) {
	// iconst_1; iconst_2; iadd; ireturn
	code := []byte{0x04, 0x05, 0x60, 0xac}
	m := simpleMethod(code)
	g, err := cfa.Analyze(code, nil)
	require.NoError(t, err)
	stmts, err := Build(m, g)
	require.NoError(t, err)
	require.Len(t, stmts, 1)
	require.Len(t, stmts[0], 1)
	ret, ok := stmts[0][0].(*ReturnStmt)
	require.True(t, ok)
	bin, ok := ret.X.(*BinExpr)
	require.True(t, ok)
	require.Equal(t, OpAdd, bin.Op)
}

func TestBuildJsrRetSubroutine(t *testing.T) {
	// jsr 4; return; [subroutine@4:] astore_1; ret 1
	code := []byte{
		0xa8, 0x00, 0x04, // jsr -> 4
		0xb1,       // return
		0x4c,       // astore_1
		0xa9, 0x01, // ret 1
	}
	m := simpleMethod(code)
	g, err := cfa.Analyze(code, nil)
	require.NoError(t, err)
	require.Len(t, g.Blocks, 3)

	stmts, err := Build(m, g)
	require.NoError(t, err)

	subEntryID := g.Blocks[2].ID
	var sw *SwitchStmt
	for _, s := range stmts[subEntryID] {
		if s2, ok := s.(*SwitchStmt); ok {
			sw = s2
		}
	}
	require.NotNil(t, sw)
	require.Equal(t, []int32{3}, sw.Keys)
	require.Equal(t, g.Blocks[1].ID, sw.Targets[0])

	var jsrGoto *GotoStmt
	for _, s := range stmts[g.Blocks[0].ID] {
		if s2, ok := s.(*GotoStmt); ok {
			jsrGoto = s2
		}
	}
	require.NotNil(t, jsrGoto)
	require.Equal(t, subEntryID, jsrGoto.Target)
}

func TestBuildNullGuardBranch(t *testing.T) {
	// aload_1; ifnonnull +5; aconst_null; astore_1; aload_1; areturn
	code := []byte{
		0x2b,
		0xc7, 0x00, 0x05,
		0x01,
		0x4c,
		0x2b,
		0xb0,
	}
	m := simpleMethod(code)
	g, err := cfa.Analyze(code, nil)
	require.NoError(t, err)
	require.Len(t, g.Blocks, 3)

	stmts, err := Build(m, g)
	require.NoError(t, err)
	var ifStmt *IfStmt
	for _, s := range stmts[g.Blocks[0].ID] {
		if is, ok := s.(*IfStmt); ok {
			ifStmt = is
		}
	}
	require.NotNil(t, ifStmt)
	require.Equal(t, CondNE, ifStmt.Cond)
}
