// Package runtime names the collaborator interfaces spec.md §6 lists as
// "External collaborators, not built by this module": the heap,
// monitors, thread model, native method registry, safepoints and signal
// plumbing a real VM supplies and the JIT only calls into. Grounded on
// the teacher's split between its own compiler and the OS-facing
// syscall intrinsics in backend_linux_x64.go/backend_windows_aarch64.go
// — there the compiled program talks to the OS directly; here the JIT
// talks to these interfaces instead; internal/runtime/fake holds
// in-process doubles of these interfaces.
package runtime

import "github.com/gojit/gojit/internal/classfile"

// Heap allocates objects and arrays and knows their layout, so codegen's
// field/array-access lowering can resolve offsets and elemement sizes.
type Heap interface {
	AllocObject(className string) (uintptr, error)
	AllocArray(elemType classfile.VMType, length int) (uintptr, error)
	FieldOffset(className, fieldName string) (int32, error)
	ArrayElemOffset(elemType classfile.VMType, index uintptr) (int32, error)
	IsInstanceOf(obj uintptr, className string) bool
}

// Monitor implements monitorenter/monitorexit and the implicit lock a
// synchronized method takes around its body (spec.md §4.6 "Synchronized
// methods").
type Monitor interface {
	Enter(obj uintptr) error
	Exit(obj uintptr) error
}

// ThreadModel exposes what internal/except needs to unwind: the current
// thread's machine context and its Java-level call stack of return
// addresses.
type ThreadModel interface {
	CurrentContext() (pc, sp, fp uintptr)
	CallerFrame(fp uintptr) (callerPC, callerFP uintptr, ok bool)
}

// NativeRegistry resolves a native method to its JNI bridge entry point
// (spec.md §4.7.5 "JNI bridge").
type NativeRegistry interface {
	Lookup(method *classfile.Method) (uintptr, bool)
}

// Safepoint owns the guard pages the exception engine polls and the
// static-field fixup mechanism writes through (spec.md §4.5 "Async
// exception delivery", §4.7.4 "static fixups").
type Safepoint interface {
	PollAddr() uintptr
	ArmAsyncException(threadID int64, exc uintptr) error
	StaticFixupGuardAddr(className string) uintptr
}

// SignalSetup installs the bottom-half handlers for SIGFPE (integer
// divide-by-zero), SIGSEGV (null-check elision, static-fixup guard page,
// stack-overflow probe page) spec.md §4.5 requires each have.
type SignalSetup interface {
	InstallDivideByZero(handler func(pc uintptr) (resumePC uintptr, ok bool)) error
	InstallSegfault(handler func(pc, faultAddr uintptr) (resumePC uintptr, ok bool)) error
}
