package except

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gojit/gojit/internal/classfile"
)

func TestFindHandlerFirstMatchWins(t *testing.T) {
	eh := []classfile.EHEntry{
		{StartPC: 0, EndPC: 10, HandlerPC: 20, CatchType: 5},
		{StartPC: 0, EndPC: 10, HandlerPC: 30, CatchType: 0}, // catch-all, should never be reached first
	}
	pc, ok := FindHandler(eh, 3, func(ct int) bool { return ct == 5 })
	require.True(t, ok)
	require.Equal(t, 20, pc)
}

func TestFindHandlerOutOfRange(t *testing.T) {
	eh := []classfile.EHEntry{{StartPC: 0, EndPC: 10, HandlerPC: 20, CatchType: 0}}
	_, ok := FindHandler(eh, 15, func(int) bool { return true })
	require.False(t, ok)
}

func TestUnwindReleasesMonitorsAndFindsHandler(t *testing.T) {
	var unlocked []uintptr
	e := &Engine{Unlock: func(obj uintptr) error {
		unlocked = append(unlocked, obj)
		return nil
	}}
	frames := []Frame{
		{EHTable: nil, Synchronized: true, MonitorObj: 0xAAA},
		{EHTable: []classfile.EHEntry{{StartPC: 0, EndPC: 10, HandlerPC: 42, CatchType: 0}}, BytecodeOffset: 5},
	}
	pc, frame, ok := e.Unwind(frames, "java/lang/Throwable", func(f Frame, className string) bool { return true })
	require.True(t, ok)
	require.Equal(t, 42, pc)
	require.Equal(t, frames[1], frame)
	require.Equal(t, []uintptr{0xAAA}, unlocked)
}

func TestAsyncGuardArmDisarm(t *testing.T) {
	g, err := NewAsyncGuard()
	require.NoError(t, err)
	require.NotZero(t, g.Addr())

	require.NoError(t, g.Arm(1, 0xdead))
	exc, ok := g.Pending(1)
	require.True(t, ok)
	require.Equal(t, uintptr(0xdead), exc)

	require.NoError(t, g.Disarm(1))
	_, ok = g.Pending(1)
	require.False(t, ok)
}
