package x64

import "encoding/binary"

type asm struct {
	code []byte
}

func (a *asm) emit(b ...byte) { a.code = append(a.code, b...) }

func (a *asm) imm32(v uint32) {
	a.code = binary.LittleEndian.AppendUint32(a.code, v)
}

func (a *asm) imm64(v uint64) {
	a.code = binary.LittleEndian.AppendUint64(a.code, v)
}

func modrm(mod, reg, rm byte) byte { return mod<<6 | (reg&7)<<3 | rm&7 }

func sib(scale, index, base byte) byte { return scale<<6 | (index&7)<<3 | base&7 }

// rex emits a REX prefix when w is set or either register needs an extension.
// force is used for byte registers that require REX to be addressable.
func (a *asm) rex(w bool, reg, rm X86Reg, force bool) {
	b := byte(0)
	if w {
		b |= X86_REX_W
	}
	b |= reg.REXBit << 2
	b |= rm.REXBit
	if b != 0 || force {
		a.emit(X86_OP_REX | b)
	}
}

// rr emits op reg, rm in register form.
func (a *asm) rr(w bool, op byte, reg, rm X86Reg) {
	a.rex(w, reg, rm, false)
	a.emit(op, modrm(X86_MOD_REGISTER, reg.RegBits, rm.RegBits))
}

// rr0f emits a two-byte opcode in register form.
func (a *asm) rr0f(w bool, op byte, reg, rm X86Reg) {
	a.rex(w, reg, rm, false)
	a.emit(X86_PREFIX_0F, op, modrm(X86_MOD_REGISTER, reg.RegBits, rm.RegBits))
}

// ctx emits op reg, [r12 + disp32].
func (a *asm) ctx(w bool, op byte, reg X86Reg, disp uint32) {
	a.rex(w, reg, BaseReg, false)
	a.emit(op, modrm(X86_MOD_INDIRECT_DISP32, reg.RegBits, 4), sib(0, 4, BaseReg.RegBits))
	a.imm32(disp)
}

func (a *asm) movRR(w bool, dst, src X86Reg) { a.rr(w, X86_OP_MOV_RM_R, src, dst) }

func (a *asm) movImm(dst X86Reg, v uint64) {
	if v <= 0xFFFFFFFF {
		a.rex(false, X86Reg{}, dst, false)
		a.emit(X86_OP_MOV_R_IMM + dst.RegBits)
		a.imm32(uint32(v))
		return
	}
	a.rex(true, X86Reg{}, dst, false)
	a.emit(X86_OP_MOV_R_IMM + dst.RegBits)
	a.imm64(v)
}

func (a *asm) push(r X86Reg) {
	a.rex(false, X86Reg{}, r, false)
	a.emit(X86_OP_PUSH_R + r.RegBits)
}

func (a *asm) pop(r X86Reg) {
	a.rex(false, X86Reg{}, r, false)
	a.emit(X86_OP_POP_R + r.RegBits)
}

// group1Imm emits op r, imm32 for the 0x81 group.
func (a *asm) group1Imm(w bool, ext byte, r X86Reg, v uint32) {
	a.rex(w, X86Reg{}, r, false)
	a.emit(X86_OP_GROUP1_RM_IMM32, modrm(X86_MOD_REGISTER, ext, r.RegBits))
	a.imm32(v)
}

func (a *asm) shiftImm(w bool, ext byte, r X86Reg, n byte) {
	a.rex(w, X86Reg{}, r, false)
	a.emit(X86_OP_GROUP2_RM_IMM8, modrm(X86_MOD_REGISTER, ext, r.RegBits), n)
}

func (a *asm) group3(w bool, ext byte, r X86Reg) {
	a.rex(w, X86Reg{}, r, false)
	a.emit(X86_OP_GROUP3_RM, modrm(X86_MOD_REGISTER, ext, r.RegBits))
}

func (a *asm) setcc(cc byte, r X86Reg) {
	a.rex(false, X86Reg{}, r, true)
	a.emit(X86_PREFIX_0F, X86_OP2_SETCC+cc, modrm(X86_MOD_REGISTER, 0, r.RegBits))
}

// rel32 emits a 32-bit displacement placeholder and returns its offset.
func (a *asm) rel32() int {
	at := len(a.code)
	a.imm32(0)
	return at
}

func (a *asm) patchRel32(at, target int) {
	binary.LittleEndian.PutUint32(a.code[at:], uint32(int32(target-(at+4))))
}

// sse emits prefix [rex] 0f op modrm for xmm/gpr forms.
func (a *asm) sse(prefix byte, w bool, op byte, reg, rm X86Reg) {
	if prefix != 0 {
		a.emit(prefix)
	}
	a.rr0f(w, op, reg, rm)
}
