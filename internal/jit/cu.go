// Package jit owns the compilation unit data model and the pipeline that
// drives a method's bytecode through CFA, HIR construction, instruction
// selection, register allocation and code emission, as spec.md §3 "Data
// Model" and §5 "Concurrency" describe. Grounded on the teacher's
// per-function compile_unit bookkeeping split across backend.go /
// backend_ir.go, generalised from the teacher's whole-program Go-source
// pipeline to one-method-at-a-time lazy compilation.
package jit

import (
	"sync"

	"github.com/gojit/gojit/internal/cfa"
	"github.com/gojit/gojit/internal/classfile"
	"github.com/gojit/gojit/internal/hir"
	"github.com/gojit/gojit/internal/lir"
)

// StackSlot describes one frame-local storage location: either an
// incoming argument, a local variable, or a register-allocator spill
// slot, all addressed relative to the frame base (spec.md §3
// "stack_frame").
type StackSlot struct {
	Index int
	Wide  bool // occupies two machine words (long/double)
}

// StackFrame is the frame layout computed before code emission: argument
// slots, local slots, and spill slots. Compile sets only FrameSize; the
// slot lists stay empty and AddSpillSlot has no caller in this module
// (the allocator reports its spill count as regalloc.Result.NumSpills).
type StackFrame struct {
	ArgSlots   []StackSlot
	LocalSlots []StackSlot
	SpillSlots []StackSlot
	FrameSize  int // in bytes, (MaxLocals + spill count) * 8, finalised after regalloc
}

// AddSpillSlot grows the frame by one spill slot and returns its index.
func (f *StackFrame) AddSpillSlot(wide bool) int {
	idx := len(f.SpillSlots)
	f.SpillSlots = append(f.SpillSlots, StackSlot{Index: idx, Wide: wide})
	return idx
}

// FixupSite is one location in emitted machine code that must be patched
// once its target is known: a direct call to a not-yet-compiled method
// (spec.md §4.7.1 "Direct call-site patching"), or a reference to a
// static field whose containing class has not yet run its initializer
// (spec.md §4.7.4).
type FixupSite struct {
	CodeOffset int    // byte offset within CU.Objcode
	Target     string // FullName of the callee, or field key
	IsStatic   bool
}

// Trampoline is a method's lazy-compilation stub (spec.md §4.6
// "Trampolines and lazy compilation"): calling a method before it is
// compiled lands here, which triggers compilation and then patches the
// call site so future calls bypass it. Get and Compile do not build one,
// so CU.Trampoline stays nil.
type Trampoline struct {
	Addr uintptr
	Code []byte
}

// BasicBlock augments a cfa.BasicBlock with this compilation's HIR
// statements, LIR instructions, and code-emission bookkeeping (spec.md
// §3 "Basic block" extended with is_emitted / mach_offset / backpatch
// list / resolution blocks).
type BasicBlock struct {
	*cfa.BasicBlock

	HIR []hir.Stmt
	LIR []lir.Inst

	IsEmitted  bool
	MachOffset int // byte offset within CU.Objcode once emitted

	// Backpatches is a slot for forward branches emitted before their
	// target block's MachOffset was known (spec.md §4.6 "branch
	// fixups"). Nothing sets it: codegen.Emit keeps its own pending
	// branch list and resolves it before returning.
	Backpatches []int

	// Resolution is a slot for moves on this block's out-edges that
	// reconcile differing interval locations at a merge point (spec.md
	// §4.4 "resolution blocks"). Nothing sets it: the register
	// allocator inserts no resolution moves.
	Resolution []lir.Inst
}

// CU is one method's compilation unit: the mutable state threaded
// through CFA -> HIR -> LIR -> regalloc -> codegen, matching spec.md §3
// "Compilation unit (CU)".
type CU struct {
	Method *classfile.Method

	Blocks  []*BasicBlock
	ExitBB  *BasicBlock // not set by Compile: each return site emits its own epilogue
	UnwindBB *BasicBlock // not set by Compile: no unwind block is built

	Frame StackFrame

	Objcode []byte // growing machine-code buffer; finalised length is the published code size

	Trampoline *Trampoline

	CallFixups   []FixupSite
	StaticFixups []FixupSite

	ExceptionHandlers []classfile.EHEntry // resolved (bytecode-offset) form, copied from Method.EHTable

	// AddrToBytecode maps a published machine-code address back to the
	// bytecode offset it was compiled from, for EH-table lookup during
	// unwinding (spec.md §4.8). Get creates it empty and nothing in this
	// module fills it.
	AddrToBytecode map[uintptr]int

	mu         sync.Mutex // serializes compilation of this CU (spec.md §5)
	isCompiled bool
	nextVReg   lir.VReg

	// FixedVRegs maps a machine register number to the vreg pre-coloured
	// to it for the lifetime of this CU (argument registers, xAX/xDX for
	// idiv, xCX for shifts), per spec.md §4.4 "Constraints honoured".
	// Get creates it empty and nothing in this module fills it; the
	// selector records fixed registers on lir.Inst.FixedClobbers instead.
	FixedVRegs map[int]lir.VReg
}

// NewVReg allocates a fresh virtual register.
func (cu *CU) NewVReg() lir.VReg {
	cu.nextVReg++
	return cu.nextVReg
}

// Class returns the class this CU's method belongs to, satisfying
// lir.CU so Select can resolve this method's own fields' layout.
func (cu *CU) Class() *classfile.Class {
	return cu.Method.Class
}

// IsCompiled reports whether this CU has already been published.
func (cu *CU) IsCompiled() bool {
	cu.mu.Lock()
	defer cu.mu.Unlock()
	return cu.isCompiled
}

// registry lazily creates and caches one CU per *classfile.Method.
//
// classfile.Method cannot own this itself without importing jit, which
// would cycle back through classfile from jit's own import of it; a
// side table keyed by the method pointer keeps the dependency one-way.
var registry sync.Map // map[*classfile.Method]*CU

// Get returns the CU for m, creating and registering an empty one on
// first access. The returned CU is not yet compiled; callers drive
// compilation via Compile.
func Get(m *classfile.Method) *CU {
	if v, ok := registry.Load(m); ok {
		return v.(*CU)
	}
	fresh := &CU{
		Method:         m,
		AddrToBytecode: make(map[uintptr]int),
		FixedVRegs:     make(map[int]lir.VReg),
	}
	actual, _ := registry.LoadOrStore(m, fresh)
	return actual.(*CU)
}
