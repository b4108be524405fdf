package arena

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPublishAndSeal(t *testing.T) {
	a := New(1)
	defer a.Close()

	code := []byte{0x90, 0x90, 0xc3} // nop; nop; ret
	addr, err := a.Publish(code)
	require.NoError(t, err)
	require.NotZero(t, addr)

	require.NoError(t, a.Seal())
}

func TestPublishGrowsAcrossChunks(t *testing.T) {
	a := New(1) // 1 page per chunk
	defer a.Close()

	big := make([]byte, pageSize)
	for i := range big {
		big[i] = 0x90
	}
	addr1, err := a.Publish(big)
	require.NoError(t, err)

	addr2, err := a.Publish([]byte{0xc3})
	require.NoError(t, err)
	require.NotEqual(t, addr1, addr2)
	require.Len(t, a.regions, 2)
}

func TestPatchRewritesPublishedBytes(t *testing.T) {
	a := New(1)
	defer a.Close()

	code := []byte{0x00, 0x00, 0x00, 0x00}
	addr, err := a.Publish(code)
	require.NoError(t, err)
	require.NoError(t, a.Seal())

	require.NoError(t, a.Patch(addr, []byte{0xde, 0xad, 0xbe, 0xef}))
}
