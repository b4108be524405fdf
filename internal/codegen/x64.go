// Package codegen emits x86 machine code from a register-allocated LIR
// stream, per spec.md §4.6. Grounded on the teacher's one-function-per-
// mnemonic encoder in std/compiler/x64.go and std/compiler/i386.go:
// rexRR/modrmRR helpers, emitByte/emitBytes/emitU32/emitU64 buffer
// growth, and jmpRel32/jccRel32/patchRel32 branch fixups, generalised
// from a Go-source compiler's fixed instruction shapes to the LIR
// instruction set internal/lir defines.
package codegen

// x64 register numbers, matching the teacher's REG_R* constants.
const (
	RAX = 0
	RCX = 1
	RDX = 2
	RBX = 3
	RSP = 4
	RBP = 5
	RSI = 6
	RDI = 7
	R8  = 8
	R9  = 9
	R10 = 10
	R11 = 11
	R12 = 12
	R13 = 13
	R14 = 14
	R15 = 15
)

// Condition codes for Jcc/SetCC (0x0F 0x8x / 0x0F 0x9x opcode maps).
const (
	CCEq  = 0x84
	CCNe  = 0x85
	CCLt  = 0x8C
	CCGe  = 0x8D
	CCLe  = 0x8E
	CCGt  = 0x8F
	CCAe  = 0x83
	CCB   = 0x82
)

// Emitter accumulates x86-64 machine code for one compilation unit. It
// carries no knowledge of LIR; internal/jit's emit step walks the
// allocated instruction stream and calls Emitter methods in the shapes
// internal/lir.Kind dictates (mirroring the teacher's CodeGen, split out
// so the mnemonic-level encoder has no dependency on the IR it serves).
type Emitter struct {
	code []byte

	// CallFixups are recorded here during emission and resolved by
	// internal/jit once the code is published. Branch fixups are not
	// kept here: Emit resolves them itself before returning.
	CallFixups []CallFixup

	// StaticFixups marks `mov reg, [rip+disp32]`/`mov [rip+disp32], reg`
	// sites whose static-field storage address is not yet known (spec.md
	// §4.7.4); internal/jit collects these the same way it collects
	// CallFixups.
	StaticFixups []StaticFixup
}

// CallFixup marks a `call rel32` whose target, named by Target, is not
// yet known. Nothing in this package sets BlockID or HasBlock; branches
// between blocks are tracked as BranchFixups instead.
type CallFixup struct {
	CodeOffset int
	Target     string
	BlockID    int
	HasBlock   bool
}

// StaticFixup marks a RIP-relative disp32 whose target is a static
// field's key ("ClassName.fieldName"), not yet bound to a real address.
type StaticFixup struct {
	CodeOffset int // byte offset of the disp32 field itself, not the instruction start
	Target     string
}

func (g *Emitter) Code() []byte { return g.code }
func (g *Emitter) Len() int     { return len(g.code) }

func (g *Emitter) emitByte(b byte)          { g.code = append(g.code, b) }
func (g *Emitter) emitBytes(bs ...byte)     { g.code = append(g.code, bs...) }
func (g *Emitter) emitU32(v uint32) {
	g.code = append(g.code, byte(v), byte(v>>8), byte(v>>16), byte(v>>24))
}
func (g *Emitter) emitU64(v uint64) {
	g.code = append(g.code, byte(v), byte(v>>8), byte(v>>16), byte(v>>24),
		byte(v>>32), byte(v>>40), byte(v>>48), byte(v>>56))
}

func rexRR(dst, src int) byte {
	rex := byte(0x48)
	if dst >= 8 {
		rex |= 0x04
	}
	if src >= 8 {
		rex |= 0x01
	}
	return rex
}

func modrmRR(dst, src int) byte {
	return byte(0xc0 | ((dst & 7) << 3) | (src & 7))
}

// MovRR emits `mov dst, src`.
func (g *Emitter) MovRR(dst, src int) {
	g.emitBytes(rexRR(src, dst), 0x89, modrmRR(src, dst))
}

// MovRegImm64 emits `movabs reg, imm64`.
func (g *Emitter) MovRegImm64(reg int, val uint64) {
	rex := byte(0x48)
	if reg >= 8 {
		rex = 0x49
	}
	g.emitByte(rex)
	g.emitByte(byte(0xb8 + (reg & 7)))
	g.emitU64(val)
}

// MovRegImm32 emits `mov reg, imm32` (sign-extended into a 64-bit dest).
func (g *Emitter) MovRegImm32(reg int, val int32) {
	rex := byte(0x48)
	if reg >= 8 {
		rex = 0x49
	}
	g.emitBytes(rex, 0xc7, byte(0xc0|(reg&7)))
	g.emitU32(uint32(val))
}

func (g *Emitter) AddRR(dst, src int) { g.emitBytes(rexRR(src, dst), 0x01, modrmRR(src, dst)) }
func (g *Emitter) SubRR(dst, src int) { g.emitBytes(rexRR(src, dst), 0x29, modrmRR(src, dst)) }
func (g *Emitter) AndRR(dst, src int) { g.emitBytes(rexRR(src, dst), 0x21, modrmRR(src, dst)) }
func (g *Emitter) OrRR(dst, src int)  { g.emitBytes(rexRR(src, dst), 0x09, modrmRR(src, dst)) }
func (g *Emitter) XorRR(dst, src int) { g.emitBytes(rexRR(src, dst), 0x31, modrmRR(src, dst)) }
func (g *Emitter) CmpRR(a, b int)     { g.emitBytes(rexRR(b, a), 0x39, modrmRR(b, a)) }
func (g *Emitter) TestRR(a, b int)    { g.emitBytes(rexRR(b, a), 0x85, modrmRR(b, a)) }

// ImulRR emits `imul dst, src` (two-byte opcode 0F AF).
func (g *Emitter) ImulRR(dst, src int) {
	g.emitBytes(rexRR(dst, src), 0x0f, 0xaf, modrmRR(dst, src))
}

// NegR emits `neg reg`.
func (g *Emitter) NegR(reg int) {
	rex := byte(0x48)
	if reg >= 8 {
		rex |= 0x01
	}
	g.emitBytes(rex, 0xf7, byte(0xd8|(reg&7)))
}

// NotR emits `not reg`.
func (g *Emitter) NotR(reg int) {
	rex := byte(0x48)
	if reg >= 8 {
		rex |= 0x01
	}
	g.emitBytes(rex, 0xf7, byte(0xd0|(reg&7)))
}

// Cqo emits `cqo` (sign-extend rax into rdx:rax), a mandatory prelude to
// a 64-bit idiv.
func (g *Emitter) Cqo() { g.emitBytes(0x48, 0x99) }

// IdivR emits `idiv reg`: rax/rdx divided by reg, quotient in rax,
// remainder in rdx.
func (g *Emitter) IdivR(reg int) {
	rex := byte(0x48)
	if reg >= 8 {
		rex |= 0x01
	}
	g.emitBytes(rex, 0xf7, byte(0xf8|(reg&7)))
}

// ShlCl/SarCl/ShrCl emit a shift by the count in cl.
func (g *Emitter) ShlCl(reg int) { g.shiftCl(reg, 4) }
func (g *Emitter) SarCl(reg int) { g.shiftCl(reg, 7) }
func (g *Emitter) ShrCl(reg int) { g.shiftCl(reg, 5) }

func (g *Emitter) shiftCl(reg int, ext byte) {
	rex := byte(0x48)
	if reg >= 8 {
		rex |= 0x01
	}
	g.emitBytes(rex, 0xd3, byte(0xc0|(ext<<3)|(reg&7)))
}

// PushR/PopR emit `push reg`/`pop reg`, handling r8-r15 via REX.B.
func (g *Emitter) PushR(reg int) {
	if reg >= 8 {
		g.emitBytes(0x41, byte(0x50+(reg&7)))
	} else {
		g.emitByte(byte(0x50 + reg))
	}
}

func (g *Emitter) PopR(reg int) {
	if reg >= 8 {
		g.emitBytes(0x41, byte(0x58+(reg&7)))
	} else {
		g.emitByte(byte(0x58 + reg))
	}
}

// LoadLocal/StoreLocal access a stack-frame slot relative to rbp,
// matching the teacher's emitLoadLocal/emitStoreLocal disp8/disp32
// selection.
func (g *Emitter) LoadLocal(offset int, reg int) {
	rex := byte(0x48)
	if reg >= 8 {
		rex = 0x4c
	}
	negOff := -offset
	if negOff >= -128 && negOff <= 127 {
		g.emitBytes(rex, 0x8b, byte(0x45|((reg&7)<<3)), byte(negOff))
	} else {
		g.emitBytes(rex, 0x8b, byte(0x85|((reg&7)<<3)))
		g.emitU32(uint32(int32(negOff)))
	}
}

func (g *Emitter) StoreLocal(offset int, reg int) {
	rex := byte(0x48)
	if reg >= 8 {
		rex = 0x4c
	}
	negOff := -offset
	if negOff >= -128 && negOff <= 127 {
		g.emitBytes(rex, 0x89, byte(0x45|((reg&7)<<3)), byte(negOff))
	} else {
		g.emitBytes(rex, 0x89, byte(0x85|((reg&7)<<3)))
		g.emitU32(uint32(int32(negOff)))
	}
}

// LoadMem/StoreMem emit `mov dst, [base+off]` / `mov [base+off], src`,
// reproducing the teacher's RSP-needs-a-SIB-byte special case.
func (g *Emitter) LoadMem(dst, base, off int) {
	rex := rexRR(dst, base)
	switch {
	case off == 0 && (base&7) != RBP:
		g.emitBytes(rex, 0x8b, byte((dst&7)<<3|(base&7)))
		if (base & 7) == RSP {
			g.emitByte(0x24)
		}
	case off >= -128 && off <= 127:
		if (base & 7) == RSP {
			g.emitBytes(rex, 0x8b, byte(0x44|(dst&7)<<3), 0x24, byte(off))
		} else {
			g.emitBytes(rex, 0x8b, byte(0x40|(dst&7)<<3|(base&7)), byte(off))
		}
	default:
		if (base & 7) == RSP {
			g.emitBytes(rex, 0x8b, byte(0x84|(dst&7)<<3), 0x24)
		} else {
			g.emitBytes(rex, 0x8b, byte(0x80|(dst&7)<<3|(base&7)))
		}
		g.emitU32(uint32(int32(off)))
	}
}

func (g *Emitter) StoreMem(base, off, src int) {
	rex := rexRR(src, base)
	switch {
	case off == 0 && (base&7) != RBP:
		g.emitBytes(rex, 0x89, byte((src&7)<<3|(base&7)))
		if (base & 7) == RSP {
			g.emitByte(0x24)
		}
	case off >= -128 && off <= 127:
		if (base & 7) == RSP {
			g.emitBytes(rex, 0x89, byte(0x44|(src&7)<<3), 0x24, byte(off))
		} else {
			g.emitBytes(rex, 0x89, byte(0x40|(src&7)<<3|(base&7)), byte(off))
		}
	default:
		if (base & 7) == RSP {
			g.emitBytes(rex, 0x89, byte(0x84|(src&7)<<3), 0x24)
		} else {
			g.emitBytes(rex, 0x89, byte(0x80|(src&7)<<3|(base&7)))
		}
		g.emitU32(uint32(int32(off)))
	}
}

// LoadMemIndexed emits `mov dst, [base + index*scale]`, used for array
// element access; scale must be 1, 2, 4 or 8.
func (g *Emitter) LoadMemIndexed(dst, base, index, scale int) {
	rex := byte(0x48)
	if dst >= 8 {
		rex |= 0x04
	}
	if index >= 8 {
		rex |= 0x02
	}
	if base >= 8 {
		rex |= 0x01
	}
	ss := scaleBits(scale)
	g.emitBytes(rex, 0x8b, byte(0x04|(dst&7)<<3), byte(ss<<6|(index&7)<<3|(base&7)))
}

func (g *Emitter) StoreMemIndexed(base, index, scale, src int) {
	rex := byte(0x48)
	if src >= 8 {
		rex |= 0x04
	}
	if index >= 8 {
		rex |= 0x02
	}
	if base >= 8 {
		rex |= 0x01
	}
	ss := scaleBits(scale)
	g.emitBytes(rex, 0x89, byte(0x04|(src&7)<<3), byte(ss<<6|(index&7)<<3|(base&7)))
}

func scaleBits(scale int) byte {
	switch scale {
	case 1:
		return 0
	case 2:
		return 1
	case 4:
		return 2
	case 8:
		return 3
	default:
		return 0
	}
}

// SetCC emits `setCC reg_lo8`.
func (g *Emitter) SetCC(cc byte, reg int) {
	op := byte(0x90 | (cc & 0x0f))
	if reg >= 8 {
		g.emitBytes(0x41, 0x0f, op, byte(0xc0|(reg&7)))
	} else {
		g.emitBytes(0x0f, op, byte(0xc0|(reg&7)))
	}
}

// MovzxReg8 zero-extends reg's low byte into reg, used after SetCC to
// widen a boolean result to a full int.
func (g *Emitter) MovzxReg8(reg int) {
	rex := rexRR(reg, reg)
	g.emitBytes(rex, 0x0f, 0xb6, modrmRR(reg, reg))
}

// CallRel32 emits `call rel32` with a not-yet-known target, recording a
// fixup keyed on the callee's FullName for internal/jit's direct-call
// patching (spec.md §4.7.1).
func (g *Emitter) CallRel32(target string) {
	g.emitByte(0xe8)
	g.CallFixups = append(g.CallFixups, CallFixup{CodeOffset: len(g.code), Target: target})
	g.emitU32(0)
}

// LoadMemRip emits `mov dst, [rip+disp32]` with a placeholder disp32,
// recording a StaticFixup internal/jit resolves once the target static
// field's storage address is allocated (spec.md §4.7.4).
func (g *Emitter) LoadMemRip(dst int, target string) {
	rex := byte(0x48)
	if dst >= 8 {
		rex |= 0x04
	}
	g.emitBytes(rex, 0x8b, byte(0x05|(dst&7)<<3))
	g.StaticFixups = append(g.StaticFixups, StaticFixup{CodeOffset: len(g.code), Target: target})
	g.emitU32(0)
}

// StoreMemRip emits `mov [rip+disp32], src` with a placeholder disp32,
// recording a StaticFixup the same way LoadMemRip does.
func (g *Emitter) StoreMemRip(target string, src int) {
	rex := byte(0x48)
	if src >= 8 {
		rex |= 0x04
	}
	g.emitBytes(rex, 0x89, byte(0x05|(src&7)<<3))
	g.StaticFixups = append(g.StaticFixups, StaticFixup{CodeOffset: len(g.code), Target: target})
	g.emitU32(0)
}

// CallIndirect emits `call reg`.
func (g *Emitter) CallIndirect(reg int) {
	rex := byte(0x40)
	if reg >= 8 {
		rex |= 0x01
	}
	g.emitBytes(rex, 0xff, byte(0xd0|(reg&7)))
}

// JmpRel32 emits `jmp rel32` with a placeholder, returning the rel32's
// code offset for later fixup via PatchRel32At.
func (g *Emitter) JmpRel32() int {
	g.emitByte(0xe9)
	off := len(g.code)
	g.emitU32(0)
	return off
}

// JccRel32 emits `jCC rel32` and returns the rel32's code offset.
func (g *Emitter) JccRel32(cc byte) int {
	g.emitBytes(0x0f, cc)
	off := len(g.code)
	g.emitU32(0)
	return off
}

// PatchRel32At backpatches the rel32 at fixupOff to branch to targetOff,
// both measured as byte offsets into this Emitter's code buffer.
func (g *Emitter) PatchRel32At(fixupOff, targetOff int) {
	rel := int32(targetOff - (fixupOff + 4))
	g.code[fixupOff] = byte(rel)
	g.code[fixupOff+1] = byte(rel >> 8)
	g.code[fixupOff+2] = byte(rel >> 16)
	g.code[fixupOff+3] = byte(rel >> 24)
}

// Ret emits `ret`.
func (g *Emitter) Ret() { g.emitByte(0xc3) }

// Int3 emits `int3`. The x86-32 itable resolver stub's abort landing pad
// comes from Emitter32.Int3, not from this method.
func (g *Emitter) Int3() { g.emitByte(0xcc) }

// --- SSE scalar float/double ops ---

// AddSS/AddSD/SubSS/SubSD/MulSS/MulSD/DivSS/DivSD emit the scalar SSE2
// arithmetic forms, each a mandatory-prefix two-byte-opcode instruction.
func (g *Emitter) AddSS(dst, src int) { g.sse(0xf3, 0x58, dst, src) }
func (g *Emitter) AddSD(dst, src int) { g.sse(0xf2, 0x58, dst, src) }
func (g *Emitter) SubSS(dst, src int) { g.sse(0xf3, 0x5c, dst, src) }
func (g *Emitter) SubSD(dst, src int) { g.sse(0xf2, 0x5c, dst, src) }
func (g *Emitter) MulSS(dst, src int) { g.sse(0xf3, 0x59, dst, src) }
func (g *Emitter) MulSD(dst, src int) { g.sse(0xf2, 0x59, dst, src) }
func (g *Emitter) DivSS(dst, src int) { g.sse(0xf3, 0x5e, dst, src) }
func (g *Emitter) DivSD(dst, src int) { g.sse(0xf2, 0x5e, dst, src) }

func (g *Emitter) sse(mandatoryPrefix, op byte, dst, src int) {
	g.emitByte(mandatoryPrefix)
	if dst >= 8 || src >= 8 {
		rex := byte(0x40)
		if dst >= 8 {
			rex |= 0x04
		}
		if src >= 8 {
			rex |= 0x01
		}
		g.emitByte(rex)
	}
	g.emitBytes(0x0f, op, modrmRR(dst, src))
}

// CvtSI2SD/CvtSI2SS convert a GPR integer to an XMM float/double.
func (g *Emitter) CvtSI2SD(dstXMM, srcGPR int) { g.sse(0xf2, 0x2a, dstXMM, srcGPR) }
func (g *Emitter) CvtSI2SS(dstXMM, srcGPR int) { g.sse(0xf3, 0x2a, dstXMM, srcGPR) }

// CvtSD2SI/CvtSS2SI convert (truncating) an XMM float/double to a GPR.
func (g *Emitter) CvtSD2SI(dstGPR, srcXMM int) { g.sse(0xf2, 0x2c, dstGPR, srcXMM) }
func (g *Emitter) CvtSS2SI(dstGPR, srcXMM int) { g.sse(0xf3, 0x2c, dstGPR, srcXMM) }
