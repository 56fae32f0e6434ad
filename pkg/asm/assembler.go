package asm

import (
	"encoding/binary"
	"fmt"
)

// Condition codes for Jcc/Setcc, in hardware encoding order.
type CC uint8

const (
	Overflow     CC = 0x0
	NoOverflow   CC = 0x1
	Below        CC = 0x2
	AboveEqual   CC = 0x3
	Equal        CC = 0x4
	NotEqual     CC = 0x5
	BelowEqual   CC = 0x6
	Above        CC = 0x7
	Sign         CC = 0x8
	NotSign      CC = 0x9
	Parity       CC = 0xa
	NoParity     CC = 0xb
	Less         CC = 0xc
	GreaterEqual CC = 0xd
	LessEqual    CC = 0xe
	Greater      CC = 0xf

	// Always is not a hardware condition; emitters treat it as an
	// unconditional form.
	Always CC = 0xff
)

// Negate returns the inverse condition.
func (cc CC) Negate() CC {
	if cc == Always {
		panic("asm: cannot negate Always")
	}
	return cc ^ 1
}

func (cc CC) String() string {
	names := [...]string{
		"o", "no", "b", "ae", "e", "ne", "be", "a",
		"s", "ns", "p", "np", "l", "ge", "le", "g",
	}
	if int(cc) < len(names) {
		return names[cc]
	}
	return "always"
}

// Mem is a memory operand: [base + index*scale + disp].
type Mem struct {
	Base     Reg
	Index    Reg
	Scale    uint8 // 1, 2, 4 or 8; meaningful only when HasIndex
	Disp     int32
	HasIndex bool
}

// MemBase returns [base + disp].
func MemBase(base Reg, disp int32) Mem {
	return Mem{Base: base, Disp: disp}
}

// MemIndex returns [base + index*scale + disp].
func MemIndex(base Reg, index Reg, scale uint8, disp int32) Mem {
	return Mem{Base: base, Index: index, Scale: scale, Disp: disp, HasIndex: true}
}

func (m Mem) String() string {
	if m.HasIndex {
		return fmt.Sprintf("[%s+%s*%d%+d]", m.Base, m.Index, m.Scale, m.Disp)
	}
	return fmt.Sprintf("[%s%+d]", m.Base, m.Disp)
}

// Label is a forward- or backward-referenced code position. Jumps to an
// unbound label are recorded and patched when the label is bound.
type Label struct {
	offset  int
	bound   bool
	patches []int // offsets of rel32 fields awaiting the bind
}

// Bound reports whether the label has been bound to a position.
func (l *Label) Bound() bool { return l.bound }

// Offset returns the bound position. Only valid after Bind.
func (l *Label) Offset() int { return l.offset }

// Assembler emits x86-64 machine code into a growable buffer.
// It is single-use: emit, then take Bytes.
type Assembler struct {
	buf []byte
}

// New returns an empty assembler.
func New() *Assembler {
	return &Assembler{buf: make([]byte, 0, 256)}
}

// Offset returns the current emission offset.
func (a *Assembler) Offset() int { return len(a.buf) }

// Bytes returns the emitted code. All labels must have been bound.
func (a *Assembler) Bytes() []byte { return a.buf }

func (a *Assembler) byte(b byte)      { a.buf = append(a.buf, b) }
func (a *Assembler) bytes(bs ...byte) { a.buf = append(a.buf, bs...) }

func (a *Assembler) int32(v int32) {
	a.buf = binary.LittleEndian.AppendUint32(a.buf, uint32(v))
}

func (a *Assembler) int64(v int64) {
	a.buf = binary.LittleEndian.AppendUint64(a.buf, uint64(v))
}

// ---------------------------------------------------------------------------
// Encoding primitives
// ---------------------------------------------------------------------------

// rex emits a REX prefix. w selects 64-bit operand size; r, x, b extend
// the ModRM reg, SIB index and ModRM rm / SIB base fields.
func (a *Assembler) rex(w bool, r, x, b uint8) {
	p := byte(0x40)
	if w {
		p |= 0x08
	}
	p |= (r & 8) >> 1
	p |= (x & 8) >> 2
	p |= (b & 8) >> 3
	a.byte(p)
}

// rexOpt emits REX only if any extension bit (or W) is needed.
func (a *Assembler) rexOpt(w bool, r, x, b uint8) {
	if w || r&8 != 0 || x&8 != 0 || b&8 != 0 {
		a.rex(w, r, x, b)
	}
}

func (a *Assembler) modRM(mod, reg, rm uint8) {
	a.byte(mod<<6 | (reg&7)<<3 | rm&7)
}

func scaleBits(s uint8) uint8 {
	switch s {
	case 1:
		return 0
	case 2:
		return 1
	case 4:
		return 2
	case 8:
		return 3
	}
	panic(fmt.Sprintf("asm: bad scale %d", s))
}

// modRMMem encodes a register/opcode-extension field against a memory
// operand, including the SIB and displacement bytes.
func (a *Assembler) modRMMem(reg uint8, m Mem) {
	base := uint8(m.Base)
	// Pick the shortest displacement encoding. A base of rbp/r13 has no
	// disp-less form, so force disp8 there.
	mod := uint8(2)
	if m.Disp == 0 && base&7 != 5 {
		mod = 0
	} else if m.Disp >= -128 && m.Disp <= 127 {
		mod = 1
	}

	if m.HasIndex {
		if uint8(m.Index)&7 == 4 && uint8(m.Index)&8 == 0 {
			panic("asm: rsp cannot be an index register")
		}
		a.modRM(mod, reg, 4) // SIB follows
		a.byte(scaleBits(m.Scale)<<6 | (uint8(m.Index)&7)<<3 | base&7)
	} else if base&7 == 4 {
		// rsp/r12 base needs a SIB byte with no index.
		a.modRM(mod, reg, 4)
		a.byte(0<<6 | 4<<3 | base&7)
	} else {
		a.modRM(mod, reg, base)
	}

	switch mod {
	case 1:
		a.byte(byte(m.Disp))
	case 2:
		a.int32(m.Disp)
	}
}

func memRexBits(m Mem) (x, b uint8) {
	b = uint8(m.Base)
	if m.HasIndex {
		x = uint8(m.Index)
	}
	return
}

// ---------------------------------------------------------------------------
// Moves
// ---------------------------------------------------------------------------

// MovRegReg emits mov dst, src (64-bit).
func (a *Assembler) MovRegReg(dst, src Reg) {
	a.rex(true, uint8(src), 0, uint8(dst))
	a.byte(0x89)
	a.modRM(3, uint8(src), uint8(dst))
}

// MovRegImm64 emits movabs dst, imm.
func (a *Assembler) MovRegImm64(dst Reg, imm int64) {
	a.rex(true, 0, 0, uint8(dst))
	a.byte(0xb8 + uint8(dst)&7)
	a.int64(imm)
}

// MovRegImm32 emits mov dst, imm32 (sign-extended to 64 bits).
func (a *Assembler) MovRegImm32(dst Reg, imm int32) {
	a.rex(true, 0, 0, uint8(dst))
	a.byte(0xc7)
	a.modRM(3, 0, uint8(dst))
	a.int32(imm)
}

// MovRegMem emits mov dst, [mem] (64-bit load).
func (a *Assembler) MovRegMem(dst Reg, m Mem) {
	x, b := memRexBits(m)
	a.rex(true, uint8(dst), x, b)
	a.byte(0x8b)
	a.modRMMem(uint8(dst), m)
}

// MovMemReg emits mov [mem], src (64-bit store).
func (a *Assembler) MovMemReg(m Mem, src Reg) {
	x, b := memRexBits(m)
	a.rex(true, uint8(src), x, b)
	a.byte(0x89)
	a.modRMMem(uint8(src), m)
}

// MovMemImm32 emits mov qword [mem], imm32 (sign-extended).
func (a *Assembler) MovMemImm32(m Mem, imm int32) {
	x, b := memRexBits(m)
	a.rex(true, 0, x, b)
	a.byte(0xc7)
	a.modRMMem(0, m)
	a.int32(imm)
}

// MovlRegMem emits mov dst32, [mem] (32-bit load, zero-extends).
func (a *Assembler) MovlRegMem(dst Reg, m Mem) {
	x, b := memRexBits(m)
	a.rexOpt(false, uint8(dst), x, b)
	a.byte(0x8b)
	a.modRMMem(uint8(dst), m)
}

// MovzxbRegMem emits movzx dst, byte [mem].
func (a *Assembler) MovzxbRegMem(dst Reg, m Mem) {
	x, b := memRexBits(m)
	a.rexOpt(false, uint8(dst), x, b)
	a.bytes(0x0f, 0xb6)
	a.modRMMem(uint8(dst), m)
}

// Lea emits lea dst, [mem].
func (a *Assembler) Lea(dst Reg, m Mem) {
	x, b := memRexBits(m)
	a.rex(true, uint8(dst), x, b)
	a.byte(0x8d)
	a.modRMMem(uint8(dst), m)
}

// Movsxd emits movsxd dst, src32 (sign-extend the low 32 bits of src).
func (a *Assembler) Movsxd(dst, src Reg) {
	a.rex(true, uint8(dst), 0, uint8(src))
	a.byte(0x63)
	a.modRM(3, uint8(dst), uint8(src))
}

// ---------------------------------------------------------------------------
// ALU
// ---------------------------------------------------------------------------

// aluRegReg emits "op r/m64, r64" for the classic ALU group.
func (a *Assembler) aluRegReg(opcode byte, dst, src Reg) {
	a.rex(true, uint8(src), 0, uint8(dst))
	a.byte(opcode)
	a.modRM(3, uint8(src), uint8(dst))
}

// aluRegImm emits "op r/m64, imm" using the 0x83 short form when the
// immediate fits in a signed byte.
func (a *Assembler) aluRegImm(ext uint8, dst Reg, imm int32) {
	a.rex(true, 0, 0, uint8(dst))
	if imm >= -128 && imm <= 127 {
		a.byte(0x83)
		a.modRM(3, ext, uint8(dst))
		a.byte(byte(imm))
	} else {
		a.byte(0x81)
		a.modRM(3, ext, uint8(dst))
		a.int32(imm)
	}
}

func (a *Assembler) AddRegReg(dst, src Reg) { a.aluRegReg(0x01, dst, src) }
func (a *Assembler) SubRegReg(dst, src Reg) { a.aluRegReg(0x29, dst, src) }
func (a *Assembler) AndRegReg(dst, src Reg) { a.aluRegReg(0x21, dst, src) }
func (a *Assembler) OrRegReg(dst, src Reg)  { a.aluRegReg(0x09, dst, src) }
func (a *Assembler) XorRegReg(dst, src Reg) { a.aluRegReg(0x31, dst, src) }
func (a *Assembler) CmpRegReg(dst, src Reg) { a.aluRegReg(0x39, dst, src) }

func (a *Assembler) AddRegImm(dst Reg, imm int32) { a.aluRegImm(0, dst, imm) }
func (a *Assembler) OrRegImm(dst Reg, imm int32)  { a.aluRegImm(1, dst, imm) }
func (a *Assembler) AndRegImm(dst Reg, imm int32) { a.aluRegImm(4, dst, imm) }
func (a *Assembler) SubRegImm(dst Reg, imm int32) { a.aluRegImm(5, dst, imm) }
func (a *Assembler) XorRegImm(dst Reg, imm int32) { a.aluRegImm(6, dst, imm) }
func (a *Assembler) CmpRegImm(dst Reg, imm int32) { a.aluRegImm(7, dst, imm) }

// alulRegReg emits the 32-bit "op r/m32, r32" form. Results are
// zero-extended by the hardware; callers re-extend when they need the
// value as a signed 64-bit quantity.
func (a *Assembler) alulRegReg(opcode byte, dst, src Reg) {
	a.rexOpt(false, uint8(src), 0, uint8(dst))
	a.byte(opcode)
	a.modRM(3, uint8(src), uint8(dst))
}

func (a *Assembler) alulRegImm(ext uint8, dst Reg, imm int32) {
	a.rexOpt(false, 0, 0, uint8(dst))
	if imm >= -128 && imm <= 127 {
		a.byte(0x83)
		a.modRM(3, ext, uint8(dst))
		a.byte(byte(imm))
	} else {
		a.byte(0x81)
		a.modRM(3, ext, uint8(dst))
		a.int32(imm)
	}
}

func (a *Assembler) AddlRegReg(dst, src Reg) { a.alulRegReg(0x01, dst, src) }
func (a *Assembler) SublRegReg(dst, src Reg) { a.alulRegReg(0x29, dst, src) }
func (a *Assembler) AndlRegReg(dst, src Reg) { a.alulRegReg(0x21, dst, src) }
func (a *Assembler) OrlRegReg(dst, src Reg)  { a.alulRegReg(0x09, dst, src) }
func (a *Assembler) XorlRegReg(dst, src Reg) { a.alulRegReg(0x31, dst, src) }
func (a *Assembler) CmplRegReg(dst, src Reg) { a.alulRegReg(0x39, dst, src) }

func (a *Assembler) AddlRegImm(dst Reg, imm int32) { a.alulRegImm(0, dst, imm) }
func (a *Assembler) OrlRegImm(dst Reg, imm int32)  { a.alulRegImm(1, dst, imm) }
func (a *Assembler) AndlRegImm(dst Reg, imm int32) { a.alulRegImm(4, dst, imm) }
func (a *Assembler) SublRegImm(dst Reg, imm int32) { a.alulRegImm(5, dst, imm) }
func (a *Assembler) XorlRegImm(dst Reg, imm int32) { a.alulRegImm(6, dst, imm) }
func (a *Assembler) CmplRegImm(dst Reg, imm int32) { a.alulRegImm(7, dst, imm) }

// ImullRegReg emits imul r32, r/m32 (two-operand form).
func (a *Assembler) ImullRegReg(dst, src Reg) {
	a.rexOpt(false, uint8(dst), 0, uint8(src))
	a.bytes(0x0f, 0xaf)
	a.modRM(3, uint8(dst), uint8(src))
}

// ImullRegRegImm emits imul r32, r/m32, imm32.
func (a *Assembler) ImullRegRegImm(dst, src Reg, imm int32) {
	a.rexOpt(false, uint8(dst), 0, uint8(src))
	a.byte(0x69)
	a.modRM(3, uint8(dst), uint8(src))
	a.int32(imm)
}

// NeglReg emits neg r32.
func (a *Assembler) NeglReg(r Reg) {
	a.rexOpt(false, 0, 0, uint8(r))
	a.byte(0xf7)
	a.modRM(3, 3, uint8(r))
}

// TestlRegReg emits test r/m32, r32.
func (a *Assembler) TestlRegReg(x, y Reg) {
	a.rexOpt(false, uint8(y), 0, uint8(x))
	a.byte(0x85)
	a.modRM(3, uint8(y), uint8(x))
}

func (a *Assembler) shiftlImm(ext uint8, r Reg, n uint8) {
	a.rexOpt(false, 0, 0, uint8(r))
	if n == 1 {
		a.byte(0xd1)
		a.modRM(3, ext, uint8(r))
	} else {
		a.byte(0xc1)
		a.modRM(3, ext, uint8(r))
		a.byte(n)
	}
}

func (a *Assembler) ShllRegImm(r Reg, n uint8) { a.shiftlImm(4, r, n) }
func (a *Assembler) ShrlRegImm(r Reg, n uint8) { a.shiftlImm(5, r, n) }
func (a *Assembler) SarlRegImm(r Reg, n uint8) { a.shiftlImm(7, r, n) }

func (a *Assembler) shiftlCl(ext uint8, r Reg) {
	a.rexOpt(false, 0, 0, uint8(r))
	a.byte(0xd3)
	a.modRM(3, ext, uint8(r))
}

func (a *Assembler) ShllRegCl(r Reg) { a.shiftlCl(4, r) }
func (a *Assembler) ShrlRegCl(r Reg) { a.shiftlCl(5, r) }
func (a *Assembler) SarlRegCl(r Reg) { a.shiftlCl(7, r) }

// CmpRegMem emits cmp reg, [mem].
func (a *Assembler) CmpRegMem(r Reg, m Mem) {
	x, b := memRexBits(m)
	a.rex(true, uint8(r), x, b)
	a.byte(0x3b)
	a.modRMMem(uint8(r), m)
}

// CmpMemReg emits cmp [mem], reg.
func (a *Assembler) CmpMemReg(m Mem, r Reg) {
	x, b := memRexBits(m)
	a.rex(true, uint8(r), x, b)
	a.byte(0x39)
	a.modRMMem(uint8(r), m)
}

// CmpMemImm32 emits cmp qword [mem], imm32.
func (a *Assembler) CmpMemImm32(m Mem, imm int32) {
	x, b := memRexBits(m)
	a.rex(true, 0, x, b)
	a.byte(0x81)
	a.modRMMem(7, m)
	a.int32(imm)
}

// TestRegReg emits test r64, r64.
func (a *Assembler) TestRegReg(x, y Reg) {
	a.rex(true, uint8(y), 0, uint8(x))
	a.byte(0x85)
	a.modRM(3, uint8(y), uint8(x))
}

// TestRegImm8 emits test r/m8, imm8 against the low byte of r.
func (a *Assembler) TestRegImm8(r Reg, imm byte) {
	a.rexOpt(false, 0, 0, uint8(r))
	a.byte(0xf6)
	a.modRM(3, 0, uint8(r))
	a.byte(imm)
}

// ImulRegReg emits imul dst, src (two-operand form).
func (a *Assembler) ImulRegReg(dst, src Reg) {
	a.rex(true, uint8(dst), 0, uint8(src))
	a.bytes(0x0f, 0xaf)
	a.modRM(3, uint8(dst), uint8(src))
}

// ImulRegRegImm emits imul dst, src, imm32.
func (a *Assembler) ImulRegRegImm(dst, src Reg, imm int32) {
	a.rex(true, uint8(dst), 0, uint8(src))
	a.byte(0x69)
	a.modRM(3, uint8(dst), uint8(src))
	a.int32(imm)
}

// NegReg emits neg r64.
func (a *Assembler) NegReg(r Reg) {
	a.rex(true, 0, 0, uint8(r))
	a.byte(0xf7)
	a.modRM(3, 3, uint8(r))
}

// NotReg emits not r64.
func (a *Assembler) NotReg(r Reg) {
	a.rex(true, 0, 0, uint8(r))
	a.byte(0xf7)
	a.modRM(3, 2, uint8(r))
}

func (a *Assembler) shiftImm(ext uint8, r Reg, n uint8) {
	a.rex(true, 0, 0, uint8(r))
	if n == 1 {
		a.byte(0xd1)
		a.modRM(3, ext, uint8(r))
	} else {
		a.byte(0xc1)
		a.modRM(3, ext, uint8(r))
		a.byte(n)
	}
}

func (a *Assembler) ShlRegImm(r Reg, n uint8) { a.shiftImm(4, r, n) }
func (a *Assembler) ShrRegImm(r Reg, n uint8) { a.shiftImm(5, r, n) }
func (a *Assembler) SarRegImm(r Reg, n uint8) { a.shiftImm(7, r, n) }

func (a *Assembler) shiftCl(ext uint8, r Reg) {
	a.rex(true, 0, 0, uint8(r))
	a.byte(0xd3)
	a.modRM(3, ext, uint8(r))
}

// ShlRegCl / ShrRegCl / SarRegCl shift by the count in cl.
func (a *Assembler) ShlRegCl(r Reg) { a.shiftCl(4, r) }
func (a *Assembler) ShrRegCl(r Reg) { a.shiftCl(5, r) }
func (a *Assembler) SarRegCl(r Reg) { a.shiftCl(7, r) }

// ---------------------------------------------------------------------------
// Stack, calls, control transfer
// ---------------------------------------------------------------------------

// PushReg emits push r64.
func (a *Assembler) PushReg(r Reg) {
	a.rexOpt(false, 0, 0, uint8(r))
	a.byte(0x50 + uint8(r)&7)
}

// PopReg emits pop r64.
func (a *Assembler) PopReg(r Reg) {
	a.rexOpt(false, 0, 0, uint8(r))
	a.byte(0x58 + uint8(r)&7)
}

// PushImm32 emits push imm32.
func (a *Assembler) PushImm32(imm int32) {
	a.byte(0x68)
	a.int32(imm)
}

// PushMem emits push qword [mem].
func (a *Assembler) PushMem(m Mem) {
	x, b := memRexBits(m)
	a.rexOpt(false, 0, x, b)
	a.byte(0xff)
	a.modRMMem(6, m)
}

// CallReg emits call r64.
func (a *Assembler) CallReg(r Reg) {
	a.rexOpt(false, 0, 0, uint8(r))
	a.byte(0xff)
	a.modRM(3, 2, uint8(r))
}

// CallAddr materializes an absolute target in the scratch register and
// calls through it. Clobbers ScratchReg.
func (a *Assembler) CallAddr(target int64) {
	a.MovRegImm64(ScratchReg, target)
	a.CallReg(ScratchReg)
}

// JmpReg emits jmp r64.
func (a *Assembler) JmpReg(r Reg) {
	a.rexOpt(false, 0, 0, uint8(r))
	a.byte(0xff)
	a.modRM(3, 4, uint8(r))
}

// JmpMem emits jmp qword [mem].
func (a *Assembler) JmpMem(m Mem) {
	x, b := memRexBits(m)
	a.rexOpt(false, 0, x, b)
	a.byte(0xff)
	a.modRMMem(4, m)
}

func (a *Assembler) Ret()  { a.byte(0xc3) }
func (a *Assembler) Int3() { a.byte(0xcc) }
func (a *Assembler) Nop()  { a.byte(0x90) }

// Cqo sign-extends rax into rdx:rax.
func (a *Assembler) Cqo() { a.bytes(0x48, 0x99) }

// IdivReg emits idiv r64 (divides rdx:rax).
func (a *Assembler) IdivReg(r Reg) {
	a.rex(true, 0, 0, uint8(r))
	a.byte(0xf7)
	a.modRM(3, 7, uint8(r))
}

// emitRel32 records a rel32 reference to l at the current position.
func (a *Assembler) emitRel32(l *Label) {
	if l.bound {
		a.int32(int32(l.offset - (len(a.buf) + 4)))
	} else {
		l.patches = append(l.patches, len(a.buf))
		a.int32(0)
	}
}

// Jmp emits an unconditional rel32 jump to l.
func (a *Assembler) Jmp(l *Label) {
	a.byte(0xe9)
	a.emitRel32(l)
}

// Jcc emits a conditional rel32 jump to l. Always degrades to Jmp.
func (a *Assembler) Jcc(cc CC, l *Label) {
	if cc == Always {
		a.Jmp(l)
		return
	}
	a.bytes(0x0f, 0x80+byte(cc))
	a.emitRel32(l)
}

// Call emits a rel32 call to l (for intra-buffer targets such as
// deoptimization entries appended to the same code object).
func (a *Assembler) Call(l *Label) {
	a.byte(0xe8)
	a.emitRel32(l)
}

// Bind fixes l at the current offset and patches pending references.
// A label may be bound exactly once.
func (a *Assembler) Bind(l *Label) {
	if l.bound {
		panic("asm: label bound twice")
	}
	l.bound = true
	l.offset = len(a.buf)
	for _, at := range l.patches {
		binary.LittleEndian.PutUint32(a.buf[at:], uint32(l.offset-(at+4)))
	}
	l.patches = nil
}

// ---------------------------------------------------------------------------
// SSE2 (double precision)
// ---------------------------------------------------------------------------

// MovsdRegMem emits movsd xmm, [mem].
func (a *Assembler) MovsdRegMem(dst XMM, m Mem) {
	x, b := memRexBits(m)
	a.byte(0xf2)
	a.rexOpt(false, uint8(dst), x, b)
	a.bytes(0x0f, 0x10)
	a.modRMMem(uint8(dst), m)
}

// MovsdMemReg emits movsd [mem], xmm.
func (a *Assembler) MovsdMemReg(m Mem, src XMM) {
	x, b := memRexBits(m)
	a.byte(0xf2)
	a.rexOpt(false, uint8(src), x, b)
	a.bytes(0x0f, 0x11)
	a.modRMMem(uint8(src), m)
}

// MovsdRegReg emits movsd dst, src.
func (a *Assembler) MovsdRegReg(dst, src XMM) {
	a.byte(0xf2)
	a.rexOpt(false, uint8(dst), 0, uint8(src))
	a.bytes(0x0f, 0x10)
	a.modRM(3, uint8(dst), uint8(src))
}

// MovqRegXmm emits movq r64, xmm.
func (a *Assembler) MovqRegXmm(dst Reg, src XMM) {
	a.byte(0x66)
	a.rex(true, uint8(src), 0, uint8(dst))
	a.bytes(0x0f, 0x7e)
	a.modRM(3, uint8(src), uint8(dst))
}

// MovqXmmReg emits movq xmm, r64.
func (a *Assembler) MovqXmmReg(dst XMM, src Reg) {
	a.byte(0x66)
	a.rex(true, uint8(dst), 0, uint8(src))
	a.bytes(0x0f, 0x6e)
	a.modRM(3, uint8(dst), uint8(src))
}

// Cvttsd2si emits cvttsd2si r64, xmm (truncating double-to-int).
func (a *Assembler) Cvttsd2si(dst Reg, src XMM) {
	a.byte(0xf2)
	a.rex(true, uint8(dst), 0, uint8(src))
	a.bytes(0x0f, 0x2c)
	a.modRM(3, uint8(dst), uint8(src))
}

// Cvtsi2sd emits cvtsi2sd xmm, r64.
func (a *Assembler) Cvtsi2sd(dst XMM, src Reg) {
	a.byte(0xf2)
	a.rex(true, uint8(dst), 0, uint8(src))
	a.bytes(0x0f, 0x2a)
	a.modRM(3, uint8(dst), uint8(src))
}

// Ucomisd emits ucomisd x, y.
func (a *Assembler) Ucomisd(x, y XMM) {
	a.byte(0x66)
	a.rexOpt(false, uint8(x), 0, uint8(y))
	a.bytes(0x0f, 0x2e)
	a.modRM(3, uint8(x), uint8(y))
}

func (a *Assembler) sseOp(op byte, dst, src XMM) {
	a.byte(0xf2)
	a.rexOpt(false, uint8(dst), 0, uint8(src))
	a.bytes(0x0f, op)
	a.modRM(3, uint8(dst), uint8(src))
}

func (a *Assembler) Addsd(dst, src XMM) { a.sseOp(0x58, dst, src) }
func (a *Assembler) Subsd(dst, src XMM) { a.sseOp(0x5c, dst, src) }
func (a *Assembler) Mulsd(dst, src XMM) { a.sseOp(0x59, dst, src) }
func (a *Assembler) Divsd(dst, src XMM) { a.sseOp(0x5e, dst, src) }

// Xorpd emits xorpd dst, src (used to zero a double register).
func (a *Assembler) Xorpd(dst, src XMM) {
	a.byte(0x66)
	a.rexOpt(false, uint8(dst), 0, uint8(src))
	a.bytes(0x0f, 0x57)
	a.modRM(3, uint8(dst), uint8(src))
}
