package codegen

// Emitter32 emits x86-32 machine code, grounded on the teacher's 32-bit
// mirror of the x64 encoder in std/compiler/i386.go: no REX prefixes,
// `int 0x80` in place of syscall, cdq instead of cqo.
type Emitter32 struct {
	code       []byte
	CallFixups []CallFixup
}

func (g *Emitter32) Code() []byte { return g.code }
func (g *Emitter32) Len() int     { return len(g.code) }

func (g *Emitter32) emitByte(b byte)      { g.code = append(g.code, b) }
func (g *Emitter32) emitBytes(bs ...byte) { g.code = append(g.code, bs...) }
func (g *Emitter32) emitU32(v uint32) {
	g.code = append(g.code, byte(v), byte(v>>8), byte(v>>16), byte(v>>24))
}

func (g *Emitter32) MovRR(dst, src int)  { g.emitBytes(0x89, modrmRR(src, dst)) }
func (g *Emitter32) AddRR(dst, src int)  { g.emitBytes(0x01, modrmRR(src, dst)) }
func (g *Emitter32) SubRR(dst, src int)  { g.emitBytes(0x29, modrmRR(src, dst)) }
func (g *Emitter32) AndRR(dst, src int)  { g.emitBytes(0x21, modrmRR(src, dst)) }
func (g *Emitter32) OrRR(dst, src int)   { g.emitBytes(0x09, modrmRR(src, dst)) }
func (g *Emitter32) XorRR(dst, src int)  { g.emitBytes(0x31, modrmRR(src, dst)) }
func (g *Emitter32) CmpRR(a, b int)      { g.emitBytes(0x39, modrmRR(b, a)) }
func (g *Emitter32) TestRR(a, b int)     { g.emitBytes(0x85, modrmRR(b, a)) }
func (g *Emitter32) ImulRR(dst, src int) { g.emitBytes(0x0f, 0xaf, modrmRR(dst, src)) }
func (g *Emitter32) NegR(reg int)        { g.emitBytes(0xf7, byte(0xd8|(reg&7))) }
func (g *Emitter32) NotR(reg int)        { g.emitBytes(0xf7, byte(0xd0|(reg&7))) }

// Cdq emits `cdq`, the 32-bit sign-extension prelude to idiv.
func (g *Emitter32) Cdq() { g.emitByte(0x99) }

func (g *Emitter32) IdivR(reg int) { g.emitBytes(0xf7, byte(0xf8|(reg&7))) }
func (g *Emitter32) ShlCl(reg int) { g.emitBytes(0xd3, byte(0xe0|(reg&7))) }
func (g *Emitter32) SarCl(reg int) { g.emitBytes(0xd3, byte(0xf8|(reg&7))) }
func (g *Emitter32) ShrCl(reg int) { g.emitBytes(0xd3, byte(0xe8|(reg&7))) }

// AddRI emits `add reg, imm`: the sign-extended imm8 form (0x83) when
// val fits in a byte, otherwise the imm32 form (0x05 for EAX, 0x81 for
// other registers). The 32-bit encoder never emits a REX prefix.
func (g *Emitter32) AddRI(reg int, val int32) {
	if val >= -128 && val <= 127 {
		g.emitBytes(0x83, byte(0xc0|(reg&7)), byte(val))
		return
	}
	if reg == RAX {
		g.emitByte(0x05)
	} else {
		g.emitBytes(0x81, byte(0xc0|(reg&7)))
	}
	g.emitU32(uint32(val))
}

// CmpImm32 emits `cmp reg, imm32`.
func (g *Emitter32) CmpImm32(reg int, val int32) {
	g.emitBytes(0x81, byte(0xf8|(reg&7)))
	g.emitU32(uint32(val))
}

func (g *Emitter32) SubRI(reg int, val int32) {
	if val >= -128 && val <= 127 {
		g.emitBytes(0x83, byte(0xe8|(reg&7)), byte(val))
		return
	}
	g.emitBytes(0x81, byte(0xe8|(reg&7)))
	g.emitU32(uint32(val))
}

func (g *Emitter32) MovRegImm32(reg int, val int32) {
	g.emitByte(byte(0xb8 + (reg & 7)))
	g.emitU32(uint32(val))
}

func (g *Emitter32) LoadLocal(offset int, reg int) {
	negOff := -offset
	if negOff >= -128 && negOff <= 127 {
		g.emitBytes(0x8b, byte(0x45|((reg&7)<<3)), byte(negOff))
	} else {
		g.emitBytes(0x8b, byte(0x85|((reg&7)<<3)))
		g.emitU32(uint32(int32(negOff)))
	}
}

func (g *Emitter32) StoreLocal(offset int, reg int) {
	negOff := -offset
	if negOff >= -128 && negOff <= 127 {
		g.emitBytes(0x89, byte(0x45|((reg&7)<<3)), byte(negOff))
	} else {
		g.emitBytes(0x89, byte(0x85|((reg&7)<<3)))
		g.emitU32(uint32(int32(negOff)))
	}
}

func (g *Emitter32) LoadMem(dst, base, off int) {
	switch {
	case off == 0 && (base&7) != RBP:
		g.emitBytes(0x8b, byte((dst&7)<<3|(base&7)))
		if (base & 7) == RSP {
			g.emitByte(0x24)
		}
	case off >= -128 && off <= 127:
		if (base & 7) == RSP {
			g.emitBytes(0x8b, byte(0x44|(dst&7)<<3), 0x24, byte(off))
		} else {
			g.emitBytes(0x8b, byte(0x40|(dst&7)<<3|(base&7)), byte(off))
		}
	default:
		if (base & 7) == RSP {
			g.emitBytes(0x8b, byte(0x84|(dst&7)<<3), 0x24)
		} else {
			g.emitBytes(0x8b, byte(0x80|(dst&7)<<3|(base&7)))
		}
		g.emitU32(uint32(int32(off)))
	}
}

func (g *Emitter32) StoreMem(base, off, src int) {
	switch {
	case off == 0 && (base&7) != RBP:
		g.emitBytes(0x89, byte((src&7)<<3|(base&7)))
		if (base & 7) == RSP {
			g.emitByte(0x24)
		}
	case off >= -128 && off <= 127:
		if (base & 7) == RSP {
			g.emitBytes(0x89, byte(0x44|(src&7)<<3), 0x24, byte(off))
		} else {
			g.emitBytes(0x89, byte(0x40|(src&7)<<3|(base&7)), byte(off))
		}
	default:
		if (base & 7) == RSP {
			g.emitBytes(0x89, byte(0x84|(src&7)<<3), 0x24)
		} else {
			g.emitBytes(0x89, byte(0x80|(src&7)<<3|(base&7)))
		}
		g.emitU32(uint32(int32(off)))
	}
}

func (g *Emitter32) PushR(reg int) { g.emitByte(byte(0x50 + reg)) }
func (g *Emitter32) PopR(reg int)  { g.emitByte(byte(0x58 + reg)) }

func (g *Emitter32) SetCC(cc byte, reg int) {
	g.emitBytes(0x0f, byte(0x90|(cc&0x0f)), byte(0xc0|(reg&7)))
}

func (g *Emitter32) MovzxReg8(reg int) {
	g.emitBytes(0x0f, 0xb6, modrmRR(reg, reg))
}

func (g *Emitter32) CallRel32(target string) {
	g.emitByte(0xe8)
	g.CallFixups = append(g.CallFixups, CallFixup{CodeOffset: len(g.code), Target: target})
	g.emitU32(0)
}

func (g *Emitter32) CallIndirect(reg int) { g.emitBytes(0xff, byte(0xd0|(reg&7))) }

// JmpIndirect emits `jmp [reg]`, used by the itable resolver stub to jump
// through a vtable slot once ECX has been walked to it (spec.md §4.7.3).
func (g *Emitter32) JmpIndirect(reg int) { g.emitBytes(0xff, byte(0x20|(reg&7))) }

func (g *Emitter32) JmpRel32() int {
	g.emitByte(0xe9)
	off := len(g.code)
	g.emitU32(0)
	return off
}

func (g *Emitter32) JccRel32(cc byte) int {
	g.emitBytes(0x0f, cc)
	off := len(g.code)
	g.emitU32(0)
	return off
}

func (g *Emitter32) PatchRel32At(fixupOff, targetOff int) {
	rel := int32(targetOff - (fixupOff + 4))
	g.code[fixupOff] = byte(rel)
	g.code[fixupOff+1] = byte(rel >> 8)
	g.code[fixupOff+2] = byte(rel >> 16)
	g.code[fixupOff+3] = byte(rel >> 24)
}

func (g *Emitter32) Ret()  { g.emitByte(0xc3) }
func (g *Emitter32) Int3() { g.emitByte(0xcc) }
