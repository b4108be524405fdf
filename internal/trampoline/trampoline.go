// Package trampoline builds the lazy-compilation stub every method gets
// at registration (spec.md §4.6 "Trampolines and lazy compilation"), the
// direct-call-site patcher that rewrites a caller's `call rel32` once
// its callee is compiled (spec.md §4.7.1), the x86-32 itable dispatch
// stub (spec.md §4.7.3), and the static-field fixup patcher (spec.md
// §4.7.4). Grounded on the teacher's call-fixup bookkeeping in
// backend_i386.go (CallFixup collection + patchRel32At resolution),
// generalised from link-time-only fixups to the JIT's runtime
// lazy-patching discipline.
package trampoline

import (
	"fmt"
	"math/bits"

	"github.com/gojit/gojit/internal/arena"
	"github.com/gojit/gojit/internal/codegen"
)

// CallSite is one not-yet-resolved direct call, recorded at emission
// time and patched once the callee publishes its machine code.
type CallSite struct {
	CodeAddr uintptr // address of the call instruction's rel32 field
}

// PatchDirectCall overwrites the rel32 at site so the call lands on
// calleeAddr, per spec.md §4.7.1: "the moment a method finishes
// compiling, every recorded call site targeting it is patched from the
// trampoline to the real entry point." a is the arena that owns the
// published region containing site, which briefly toggles it writable
// for the patch (internal/arena.Patch).
func PatchDirectCall(a *arena.Arena, site CallSite, calleeAddr uintptr) error {
	rel := int32(int64(calleeAddr) - (int64(site.CodeAddr) + 4))
	b := []byte{byte(rel), byte(rel >> 8), byte(rel >> 16), byte(rel >> 24)}
	return a.Patch(site.CodeAddr, b)
}

// Build emits the eager stub a freshly registered method gets before it
// has ever been compiled: the stub calls back into the JIT's
// compile-then-resume path (resumeTarget, recorded as the call's fixup
// symbol) with the method's identity baked in as an immediate.
// internal/jit does not call Build.
func Build(g *codegen.Emitter, methodKey uint64, resumeTarget string) {
	g.MovRegImm64(codegen.RDI, methodKey)
	g.CallRel32(resumeTarget)
	g.Ret()
}

// ItableStub emits an x86-32 interface-dispatch resolver: a balanced
// binary search over sigHashes, narrowing to a single candidate and then
// confirming it with an exact-equality compare, falling through to an
// abort handler if no entry matches (spec.md §4.7.3 "itable stubs" —
// "binary search tree of depth ceil(log2(N)), an abort landing pad if
// dispatch ever falls through"). The signature hash to dispatch on
// arrives in EAX, the interface's vtable base in ECX; virtualIndices[i]
// is sigHashes[i]'s concrete vtable slot index, so a match ends in `add
// imm, ECX; jmp [ECX]` rather than a direct call.
func ItableStub(g *codegen.Emitter32, sigHashes []uint32, virtualIndices []int32) error {
	if len(sigHashes) != len(virtualIndices) {
		return fmt.Errorf("trampoline: itable: %d hashes but %d indices", len(sigHashes), len(virtualIndices))
	}
	if len(sigHashes) == 0 {
		g.Int3()
		return nil
	}
	depth := bits.Len(uint(len(sigHashes) - 1))
	_ = depth // depth is informative only; the recursive split below achieves it structurally
	var abortFixups []int
	emitItableNode(g, sigHashes, virtualIndices, &abortFixups)
	abortOff := g.Len()
	for _, f := range abortFixups {
		g.PatchRel32At(f, abortOff)
	}
	g.Int3()
	return nil
}

func emitItableNode(g *codegen.Emitter32, hashes []uint32, virtualIndices []int32, abortFixups *[]int) {
	if len(hashes) == 1 {
		g.CmpImm32(codegen.RAX, int32(hashes[0]))
		*abortFixups = append(*abortFixups, g.JccRel32(codegen.CCNe))
		g.AddRI(codegen.RCX, virtualIndices[0]*4)
		g.JmpIndirect(codegen.RCX)
		return
	}
	mid := len(hashes) / 2
	g.CmpImm32(codegen.RAX, int32(hashes[mid]))
	jbFixup := g.JccRel32(codegen.CCB)
	emitItableNode(g, hashes[mid:], virtualIndices[mid:], abortFixups)
	lowOff := g.Len()
	g.PatchRel32At(jbFixup, lowOff)
	emitItableNode(g, hashes[:mid], virtualIndices[:mid], abortFixups)
}

// StaticFixupSite is one reference to a not-yet-initialised class's
// static field; PatchStaticFixup rewrites it once the class's <clinit>
// has run and the field's storage address is known, matching spec.md
// §4.7.4. CodeAddr is the address of the disp32 field itself (the byte
// immediately following the `mov reg, [rip+disp32]`/`mov [rip+disp32],
// reg` opcode and ModRM bytes — codegen.Emitter.LoadMemRip/StoreMemRip
// already record the fixup's CodeOffset at that position), matching
// CallSite's convention for PatchDirectCall.
type StaticFixupSite struct {
	CodeAddr  uintptr
	FieldAddr uintptr
}

// PatchStaticFixup rewrites the RIP-relative mov's disp32 operand so it
// resolves to FieldAddr: x86-64 RIP-relative addressing computes the
// effective address as the address of the *following* instruction plus
// disp32, so disp32 = FieldAddr - (CodeAddr + 4), the same next-
// instruction-relative arithmetic patchCallSite already uses for
// `call rel32`.
func PatchStaticFixup(a *arena.Arena, site StaticFixupSite) error {
	rel := int32(int64(site.FieldAddr) - (int64(site.CodeAddr) + 4))
	b := []byte{byte(rel), byte(rel >> 8), byte(rel >> 16), byte(rel >> 24)}
	return a.Patch(site.CodeAddr, b)
}
