package cfa

import (
	"testing"

	"github.com/gojit/gojit/internal/classfile"
	"github.com/stretchr/testify/require"
)

// TestNullBranch matches spec.md §8 end-to-end scenario 1: "if (s == null)
// s = ""; return s;" as aload_1; ifnonnull +6; ldc #2; astore_1; aload_1;
// areturn.
func TestNullBranch(t *testing.T) {
	code := []byte{
		0x2b,       // 0: aload_1
		0xc7, 0x00, 0x06, // 1: ifnonnull +6 -> target 7
		0x12, 0x02, // 4: ldc #2
		0x4c,       // 6: astore_1
		0x2b,       // 7: aload_1
		0xb0,       // 8: areturn
	}
	g, err := Analyze(code, nil)
	require.NoError(t, err)
	require.Len(t, g.Blocks, 3)
	require.Equal(t, 0, g.Blocks[0].Start)
	require.Equal(t, 4, g.Blocks[0].End)
	require.Equal(t, 4, g.Blocks[1].Start)
	require.Equal(t, 7, g.Blocks[1].End)
	require.Equal(t, 7, g.Blocks[2].Start)
	require.Equal(t, 9, g.Blocks[2].End)

	require.ElementsMatch(t, []int{1, 2}, g.Blocks[0].Succ)
	require.ElementsMatch(t, []int{2}, g.Blocks[1].Succ)
	require.Empty(t, g.Blocks[2].Succ)
}

// TestBranchFallthrough matches spec.md §8 scenario 2: "return i > 0;"
// compiled as iload_1; ifle L1; iconst_1; goto L2; L1: iconst_0; L2: ireturn.
func TestBranchFallthrough(t *testing.T) {
	code := []byte{
		0x1b,             // 0: iload_1
		0x9e, 0x00, 0x07, // 1: ifle +7 -> target 8 (L1: iconst_0)
		0x04,             // 4: iconst_1
		0xa7, 0x00, 0x04, // 5: goto +4 -> target 9 (L2: ireturn)
		0x03,             // 8: iconst_0 (L1)
		0xac,             // 9: ireturn (L2)
	}
	g, err := Analyze(code, nil)
	require.NoError(t, err)
	require.Len(t, g.Blocks, 4)
	// block1=[0,4) succ={block2,block3}; block2=[4,8) succ={block4};
	// block3=[8,9) succ={block4}; block4=[9,10) succ={}
	require.ElementsMatch(t, []int{1, 2}, g.Blocks[0].Succ)
	require.ElementsMatch(t, []int{3}, g.Blocks[1].Succ)
	require.ElementsMatch(t, []int{3}, g.Blocks[2].Succ)
	require.Empty(t, g.Blocks[3].Succ)
}

func TestEveryOffsetInExactlyOneBlock(t *testing.T) {
	code := []byte{
		0x2b, 0xc7, 0x00, 0x06, 0x12, 0x02, 0x4c, 0x2b, 0xb0,
	}
	g, err := Analyze(code, nil)
	require.NoError(t, err)
	seen := make(map[int]bool)
	for _, b := range g.Blocks {
		for off := b.Start; off < b.End; off++ {
			require.False(t, seen[off], "offset %d covered twice", off)
			seen[off] = true
		}
	}
	require.Len(t, seen, len(code))
}

func TestHandlerPCIsLeader(t *testing.T) {
	code := []byte{
		0x2a,       // 0: aload_0
		0xb1,       // 1: return
		0x4c,       // 2: astore_1 (handler)
		0xb1,       // 3: return
	}
	eh := []classfile.EHEntry{{StartPC: 0, EndPC: 2, HandlerPC: 2, CatchType: 0}}
	g, err := Analyze(code, eh)
	require.NoError(t, err)
	require.Len(t, g.Blocks, 2)
	require.Equal(t, 2, g.Blocks[1].Start)
}

func TestInvalidBranchTargetIsVerifyError(t *testing.T) {
	code := []byte{0xa7, 0x00, 0x64} // goto +100, out of range
	_, err := Analyze(code, nil)
	require.ErrorIs(t, err, ErrVerify)
}
