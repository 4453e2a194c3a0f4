package mips3

import (
	"github.com/colorfulnotion/mipsdrc/drc"
)

func rsField(op uint32) uint32 { return (op >> 21) & 31 }
func rtField(op uint32) uint32 { return (op >> 16) & 31 }
func rdField(op uint32) uint32 { return (op >> 11) & 31 }
func saField(op uint32) uint32 { return (op >> 6) & 31 }
func simm(op uint32) uint64   { return uint64(int64(int16(op))) }
func uimm(op uint32) uint64   { return uint64(op & 0xFFFF) }

// gpr returns the operand for a general register read. r0 reads as zero.
func gpr(n uint32) drc.Operand {
	if n == 0 {
		return drc.Imm(0)
	}
	return drc.Mem(gprSlot(n))
}

// setGPR32 sign extends the low word of src into register n.
func (cc *compiler) setGPR32(n uint32, src drc.Operand) {
	if n != 0 {
		cc.d.Sext(4, drc.Mem(gprSlot(n)), src)
	}
}

func (cc *compiler) setGPR64(n uint32, src drc.Operand) {
	if n != 0 {
		cc.d.Mov(8, drc.Mem(gprSlot(n)), src)
	}
}

func plain() result { return result{length: 4, cycles: 1} }

func unimplemented(ds *desc, primary, secondary uint32) (result, error) {
	return result{}, &OpcodeError{PC: ds.pc, Op: ds.op, Primary: primary, Secondary: secondary}
}

// invalid compiles a reserved encoding into a Reserved Instruction exception.
func (cc *compiler) invalid(ds *desc) (result, error) {
	cc.fault(ds, excRI, 0)
	return result{length: 4, cycles: 1, flags: flagException | flagEnd}, nil
}

// compile emits host code for one guest instruction.
func (cc *compiler) compile(ds *desc) (result, error) {
	op := ds.op
	d := cc.d
	rs, rt := rsField(op), rtField(op)
	res := plain()

	switch op >> 26 {
	case 0x00:
		return cc.special(ds)
	case 0x01:
		return cc.regimm(ds)
	case 0x02, 0x03: // J, JAL
		return cc.jump(ds)
	case 0x04, 0x05, 0x06, 0x07, 0x14, 0x15, 0x16, 0x17:
		return cc.branch(ds)

	case 0x08: // ADDI
		d.AddV(4, drc.T0, gpr(rs), drc.Imm(simm(op)), cc.raise(ds, excOV, 0))
		cc.setGPR32(rt, drc.T0)
		res.flags |= flagException
	case 0x09: // ADDIU
		if rt != 0 {
			d.Alu(drc.OpAdd, 4, drc.T0, gpr(rs), drc.Imm(simm(op)))
			cc.setGPR32(rt, drc.T0)
		}
	case 0x0A: // SLTI
		if rt != 0 {
			d.Set(drc.CondLtS, 8, drc.Mem(gprSlot(rt)), gpr(rs), drc.Imm(simm(op)))
		}
	case 0x0B: // SLTIU
		if rt != 0 {
			d.Set(drc.CondLtU, 8, drc.Mem(gprSlot(rt)), gpr(rs), drc.Imm(simm(op)))
		}
	case 0x0C: // ANDI
		if rt != 0 {
			d.Alu(drc.OpAnd, 8, drc.Mem(gprSlot(rt)), gpr(rs), drc.Imm(uimm(op)))
		}
	case 0x0D: // ORI
		if rt != 0 {
			d.Alu(drc.OpOr, 8, drc.Mem(gprSlot(rt)), gpr(rs), drc.Imm(uimm(op)))
		}
	case 0x0E: // XORI
		if rt != 0 {
			d.Alu(drc.OpXor, 8, drc.Mem(gprSlot(rt)), gpr(rs), drc.Imm(uimm(op)))
		}
	case 0x0F: // LUI
		cc.setGPR64(rt, drc.Imm32(op<<16))

	case 0x10:
		return cc.cop0(ds)
	case 0x11:
		return cc.cop1(ds)
	case 0x12: // COP2
		return cc.invalid(ds)
	case 0x13:
		if !cc.isa4() {
			return cc.invalid(ds)
		}
		return cc.cop1x(ds)

	case 0x18: // DADDI
		d.AddV(8, drc.T0, gpr(rs), drc.Imm(simm(op)), cc.raise(ds, excOV, 0))
		cc.setGPR64(rt, drc.T0)
		res.flags |= flagException
	case 0x19: // DADDIU
		if rt != 0 {
			d.Alu(drc.OpAdd, 8, drc.Mem(gprSlot(rt)), gpr(rs), drc.Imm(simm(op)))
		}
	case 0x1C:
		return cc.special2(ds)

	case 0x1A, 0x1B, 0x20, 0x21, 0x22, 0x23, 0x24, 0x25, 0x26, 0x27,
		0x28, 0x29, 0x2A, 0x2B, 0x2C, 0x2D, 0x2E, 0x37, 0x3F:
		return cc.loadStore(ds)
	case 0x31, 0x35, 0x39, 0x3D, 0x32, 0x36, 0x3A, 0x3E:
		return cc.copLoadStore(ds)
	case 0x2F: // CACHE
		return cc.cache(ds)
	case 0x33: // PREF
		if !cc.isa4() {
			return cc.invalid(ds)
		}
	case 0x30, 0x34, 0x38, 0x3C: // LL, LLD, SC, SCD
		return cc.invalid(ds)
	default:
		return cc.invalid(ds)
	}
	return res, nil
}

func (cc *compiler) special(ds *desc) (result, error) {
	op := ds.op
	d := cc.d
	rs, rt, rd, sa := rsField(op), rtField(op), rdField(op), saField(op)
	res := plain()

	switch op & 63 {
	case 0x00: // SLL
		if rd != 0 {
			d.Alu(drc.OpShl, 4, drc.T0, gpr(rt), drc.Imm(uint64(sa)))
			cc.setGPR32(rd, drc.T0)
		}
	case 0x01: // MOVF/MOVT
		if !cc.isa4() {
			return cc.invalid(ds)
		}
		if rd != 0 {
			cc.movCond(drc.Mem(gprSlot(rd)), gpr(rs), (op>>18)&7, op&(1<<16) != 0, 8)
		}
	case 0x02: // SRL
		if rd != 0 {
			d.Alu(drc.OpShr, 4, drc.T0, gpr(rt), drc.Imm(uint64(sa)))
			cc.setGPR32(rd, drc.T0)
		}
	case 0x03: // SRA
		if rd != 0 {
			d.Alu(drc.OpSar, 4, drc.T0, gpr(rt), drc.Imm(uint64(sa)))
			cc.setGPR32(rd, drc.T0)
		}
	case 0x04: // SLLV
		if rd != 0 {
			d.Alu(drc.OpShl, 4, drc.T0, gpr(rt), gpr(rs))
			cc.setGPR32(rd, drc.T0)
		}
	case 0x06: // SRLV
		if rd != 0 {
			d.Alu(drc.OpShr, 4, drc.T0, gpr(rt), gpr(rs))
			cc.setGPR32(rd, drc.T0)
		}
	case 0x07: // SRAV
		if rd != 0 {
			d.Alu(drc.OpSar, 4, drc.T0, gpr(rt), gpr(rs))
			cc.setGPR32(rd, drc.T0)
		}
	case 0x08, 0x09: // JR, JALR
		return cc.jumpRegister(ds)
	case 0x0A, 0x0B: // MOVZ, MOVN
		if !cc.isa4() {
			return cc.invalid(ds)
		}
		if rd != 0 {
			skip := d.NewLabel()
			cond := drc.CondNe
			if op&1 != 0 {
				cond = drc.CondEq
			}
			d.Jcc(cond, 8, gpr(rt), drc.Imm(0), skip)
			d.Mov(8, drc.Mem(gprSlot(rd)), gpr(rs))
			d.Bind(skip)
		}
	case 0x0C: // SYSCALL
		cc.fault(ds, excSYS, 0)
		res.flags |= flagException | flagEnd
	case 0x0D: // BREAK
		cc.fault(ds, excBP, 0)
		res.flags |= flagException | flagEnd
	case 0x0F: // SYNC
	case 0x10: // MFHI
		cc.setGPR64(rd, drc.Mem(slotHI))
	case 0x11: // MTHI
		d.Mov(8, drc.Mem(slotHI), gpr(rs))
	case 0x12: // MFLO
		cc.setGPR64(rd, drc.Mem(slotLO))
	case 0x13: // MTLO
		d.Mov(8, drc.Mem(slotLO), gpr(rs))
	case 0x14: // DSLLV
		if rd != 0 {
			d.Alu(drc.OpShl, 8, drc.Mem(gprSlot(rd)), gpr(rt), gpr(rs))
		}
	case 0x16: // DSRLV
		if rd != 0 {
			d.Alu(drc.OpShr, 8, drc.Mem(gprSlot(rd)), gpr(rt), gpr(rs))
		}
	case 0x17: // DSRAV
		if rd != 0 {
			d.Alu(drc.OpSar, 8, drc.Mem(gprSlot(rd)), gpr(rt), gpr(rs))
		}
	case 0x18, 0x19: // MULT, MULTU
		cc.mult32(gpr(rs), gpr(rt), op&1 == 0)
		res.cycles = 3
	case 0x1A, 0x1B: // DIV, DIVU
		cc.div(gpr(rs), gpr(rt), 4, op&1 == 0)
		res.cycles = 35
	case 0x1C, 0x1D: // DMULT, DMULTU
		code := drc.OpMulHS
		if op&1 != 0 {
			code = drc.OpMulHU
		}
		d.Alu(drc.OpMul, 8, drc.T0, gpr(rs), gpr(rt))
		d.Alu(code, 8, drc.Mem(slotHI), gpr(rs), gpr(rt))
		d.Mov(8, drc.Mem(slotLO), drc.T0)
		res.cycles = 7
	case 0x1E, 0x1F: // DDIV, DDIVU
		cc.div(gpr(rs), gpr(rt), 8, op&1 == 0)
		res.cycles = 67
	case 0x20, 0x22: // ADD, SUB
		ovf := cc.raise(ds, excOV, 0)
		if op&2 == 0 {
			d.AddV(4, drc.T0, gpr(rs), gpr(rt), ovf)
		} else {
			d.SubV(4, drc.T0, gpr(rs), gpr(rt), ovf)
		}
		cc.setGPR32(rd, drc.T0)
		res.flags |= flagException
	case 0x21, 0x23: // ADDU, SUBU
		if rd != 0 {
			code := drc.OpAdd
			if op&2 != 0 {
				code = drc.OpSub
			}
			d.Alu(code, 4, drc.T0, gpr(rs), gpr(rt))
			cc.setGPR32(rd, drc.T0)
		}
	case 0x24, 0x25, 0x26, 0x27: // AND, OR, XOR, NOR
		if rd != 0 {
			code := [4]drc.Opcode{drc.OpAnd, drc.OpOr, drc.OpXor, drc.OpNor}[op&3]
			d.Alu(code, 8, drc.Mem(gprSlot(rd)), gpr(rs), gpr(rt))
		}
	case 0x2A: // SLT
		if rd != 0 {
			d.Set(drc.CondLtS, 8, drc.Mem(gprSlot(rd)), gpr(rs), gpr(rt))
		}
	case 0x2B: // SLTU
		if rd != 0 {
			d.Set(drc.CondLtU, 8, drc.Mem(gprSlot(rd)), gpr(rs), gpr(rt))
		}
	case 0x2C, 0x2E: // DADD, DSUB
		ovf := cc.raise(ds, excOV, 0)
		if op&2 == 0 {
			d.AddV(8, drc.T0, gpr(rs), gpr(rt), ovf)
		} else {
			d.SubV(8, drc.T0, gpr(rs), gpr(rt), ovf)
		}
		cc.setGPR64(rd, drc.T0)
		res.flags |= flagException
	case 0x2D, 0x2F: // DADDU, DSUBU
		if rd != 0 {
			code := drc.OpAdd
			if op&2 != 0 {
				code = drc.OpSub
			}
			d.Alu(code, 8, drc.Mem(gprSlot(rd)), gpr(rs), gpr(rt))
		}
	case 0x30, 0x31, 0x32, 0x33, 0x34, 0x36: // TGE, TGEU, TLT, TLTU, TEQ, TNE
		return cc.trap(ds, trapCond(op&7), gpr(rs), gpr(rt), rs == rt)
	case 0x38: // DSLL
		if rd != 0 {
			d.Alu(drc.OpShl, 8, drc.Mem(gprSlot(rd)), gpr(rt), drc.Imm(uint64(sa)))
		}
	case 0x3A: // DSRL
		if rd != 0 {
			d.Alu(drc.OpShr, 8, drc.Mem(gprSlot(rd)), gpr(rt), drc.Imm(uint64(sa)))
		}
	case 0x3B: // DSRA
		if rd != 0 {
			d.Alu(drc.OpSar, 8, drc.Mem(gprSlot(rd)), gpr(rt), drc.Imm(uint64(sa)))
		}
	case 0x3C: // DSLL32
		if rd != 0 {
			d.Alu(drc.OpShl, 8, drc.Mem(gprSlot(rd)), gpr(rt), drc.Imm(uint64(sa+32)))
		}
	case 0x3E: // DSRL32
		if rd != 0 {
			d.Alu(drc.OpShr, 8, drc.Mem(gprSlot(rd)), gpr(rt), drc.Imm(uint64(sa+32)))
		}
	case 0x3F: // DSRA32
		if rd != 0 {
			d.Alu(drc.OpSar, 8, drc.Mem(gprSlot(rd)), gpr(rt), drc.Imm(uint64(sa+32)))
		}
	default:
		return cc.invalid(ds)
	}
	return res, nil
}

// mult32 multiplies the low words of a and b into HI:LO.
func (cc *compiler) mult32(a, b drc.Operand, signed bool) {
	d := cc.d
	if signed {
		d.Sext(4, drc.T1, a)
		d.Sext(4, drc.T2, b)
	} else {
		d.Zext(4, drc.T1, a)
		d.Zext(4, drc.T2, b)
	}
	d.Alu(drc.OpMul, 8, drc.T0, drc.T1, drc.T2)
	cc.splitHiLo(drc.T0)
}

// splitHiLo sign extends both words of the 64-bit product in r into HI and LO.
func (cc *compiler) splitHiLo(r drc.Operand) {
	d := cc.d
	d.Sext(4, drc.Mem(slotLO), r)
	d.Alu(drc.OpShr, 8, drc.T1, r, drc.Imm(32))
	d.Sext(4, drc.Mem(slotHI), drc.T1)
}

// div skips the operation entirely on a zero divisor.
func (cc *compiler) div(a, b drc.Operand, size uint8, signed bool) {
	d := cc.d
	skip := d.NewLabel()
	d.Jcc(drc.CondEq, size, b, drc.Imm(0), skip)
	quo, rem := drc.OpDivU, drc.OpRemU
	if signed {
		quo, rem = drc.OpDivS, drc.OpRemS
	}
	d.Alu(quo, size, drc.T0, a, b)
	d.Alu(rem, size, drc.T1, a, b)
	if size == 4 {
		d.Sext(4, drc.Mem(slotLO), drc.T0)
		d.Sext(4, drc.Mem(slotHI), drc.T1)
	} else {
		d.Mov(8, drc.Mem(slotLO), drc.T0)
		d.Mov(8, drc.Mem(slotHI), drc.T1)
	}
	d.Bind(skip)
}

// special2 covers the IDT multiply-accumulate extensions.
func (cc *compiler) special2(ds *desc) (result, error) {
	op := ds.op
	d := cc.d
	rs, rt, rd := rsField(op), rtField(op), rdField(op)
	res := plain()
	res.cycles = 3

	switch op & 63 {
	case 0x00, 0x01: // MAD, MADU
		if op&1 == 0 {
			d.Sext(4, drc.T1, gpr(rs))
			d.Sext(4, drc.T2, gpr(rt))
		} else {
			d.Zext(4, drc.T1, gpr(rs))
			d.Zext(4, drc.T2, gpr(rt))
		}
		d.Alu(drc.OpMul, 8, drc.T0, drc.T1, drc.T2)
		d.Alu(drc.OpShl, 8, drc.T1, drc.Mem(slotHI), drc.Imm(32))
		d.Zext(4, drc.T2, drc.Mem(slotLO))
		d.Alu(drc.OpOr, 8, drc.T1, drc.T1, drc.T2)
		d.Alu(drc.OpAdd, 8, drc.T0, drc.T0, drc.T1)
		cc.splitHiLo(drc.T0)
	case 0x02: // MUL
		if rd != 0 {
			d.Alu(drc.OpMul, 4, drc.T0, gpr(rs), gpr(rt))
			cc.setGPR32(rd, drc.T0)
		}
	default:
		return cc.invalid(ds)
	}
	return res, nil
}

func (cc *compiler) regimm(ds *desc) (result, error) {
	op := ds.op
	rs := rsField(op)
	imm := drc.Imm(simm(op))

	switch rtField(op) {
	case 0x00, 0x01, 0x02, 0x03, 0x10, 0x11, 0x12, 0x13:
		return cc.branch(ds)
	case 0x08: // TGEI
		return cc.trap(ds, drc.CondGeS, gpr(rs), imm, false)
	case 0x09: // TGEIU
		return cc.trap(ds, drc.CondGeU, gpr(rs), imm, false)
	case 0x0A: // TLTI
		return cc.trap(ds, drc.CondLtS, gpr(rs), imm, false)
	case 0x0B: // TLTIU
		return cc.trap(ds, drc.CondLtU, gpr(rs), imm, false)
	case 0x0C: // TEQI
		return cc.trap(ds, drc.CondEq, gpr(rs), imm, false)
	case 0x0E: // TNEI
		return cc.trap(ds, drc.CondNe, gpr(rs), imm, false)
	}
	return cc.invalid(ds)
}

// trapCond maps the low bits of a SPECIAL trap function to its condition.
func trapCond(f uint32) drc.Cond {
	return [8]drc.Cond{drc.CondGeS, drc.CondGeU, drc.CondLtS, drc.CondLtU, drc.CondEq, drc.CondAlways, drc.CondNe, drc.CondAlways}[f]
}

// trap raises a Trap exception when cond holds. same marks register-register
// forms comparing a register with itself, which resolve statically.
func (cc *compiler) trap(ds *desc, cond drc.Cond, a, b drc.Operand, same bool) (result, error) {
	res := plain()
	res.flags |= flagException
	if same {
		switch cond {
		case drc.CondGeS, drc.CondGeU, drc.CondEq:
			cc.fault(ds, excTR, 0)
			res.flags |= flagEnd
		}
		return res, nil
	}
	cc.d.Jcc(cond, 8, a, b, cc.raise(ds, excTR, 0))
	return res, nil
}
