package mips3

import (
	"math"

	"github.com/colorfulnotion/mipsdrc/drc"
)

// cop1Usable raises Coprocessor Unusable when CU1 is clear in strict mode.
func (cc *compiler) cop1Usable(ds *desc) {
	if cc.c.cfg.StrictCOP1 {
		cc.d.Jcc(drc.CondTestZ, 8, drc.Mem(cprSlot(0, COP0Status)), drc.Imm(SR_CU1), cc.raise(ds, excCPU, 1))
	}
}

// single returns the lane holding single precision register n under the FR
// mode this block was compiled for.
func (cc *compiler) single(n uint32) drc.Operand {
	slot, hi := fprSingle(cc.fr, n)
	if hi {
		return drc.MemHi(slot)
	}
	return drc.Mem(slot)
}

func (cc *compiler) double(n uint32) drc.Operand { return drc.Mem(fprDouble(cc.fr, n)) }

// movCond moves src to dst when FPU condition flag cond equals tf.
func (cc *compiler) movCond(dst, src drc.Operand, cond uint32, tf bool, size uint8) {
	d := cc.d
	skip := d.NewLabel()
	skipIf := drc.CondNe
	if tf {
		skipIf = drc.CondEq
	}
	d.Jcc(skipIf, 8, drc.Mem(cfSlot(1, cond)), drc.Imm(0), skip)
	d.Mov(size, dst, src)
	d.Bind(skip)
}

func (c *CPU) cfc1Host(x *drc.Exec, op *drc.Op) int {
	x.R[0] = uint64(c.fcr31())
	return drc.Continue
}

// ctc1Host writes FCR31 and switches the host rounding mode to match.
func (c *CPU) ctc1Host(x *drc.Exec, op *drc.Op) int {
	v := uint32(x.Read(op.S1))
	c.setFCR31(v)
	x.Round = drc.RoundMode(v & 3)
	return drc.Continue
}

func (cc *compiler) cop1(ds *desc) (result, error) {
	op := ds.op
	d := cc.d
	c := cc.c
	rt, fs := rtField(op), rdField(op)
	res := plain()
	cc.cop1Usable(ds)
	if c.cfg.StrictCOP1 {
		res.flags |= flagException
	}

	switch rsField(op) {
	case 0x00: // MFC1
		cc.setGPR32(rt, cc.single(fs))
	case 0x01: // DMFC1
		cc.setGPR64(rt, cc.double(fs))
	case 0x02: // CFC1
		switch {
		case rt == 0:
		case fs == 31:
			d.Call(c.cfc1Host, "cfc1", drc.None, drc.None, 0)
			cc.setGPR32(rt, drc.T0)
		default:
			cc.setGPR32(rt, drc.Mem(ccrSlot(1, fs)))
		}
	case 0x04: // MTC1
		d.Mov(4, cc.single(fs), gpr(rt))
	case 0x05: // DMTC1
		d.Mov(8, cc.double(fs), gpr(rt))
	case 0x06: // CTC1
		switch fs {
		case 0:
		case 31:
			d.Call(c.ctc1Host, "ctc1", gpr(rt), drc.None, 0)
		default:
			d.Zext(4, drc.Mem(ccrSlot(1, fs)), gpr(rt))
		}
	case 0x08: // BC1
		return cc.branchCop1(ds)
	case 0x10:
		return cc.fpu(ds, false)
	case 0x11:
		return cc.fpu(ds, true)
	case 0x14: // W
		switch op & 63 {
		case 0x20:
			d.FCvt(drc.CvtW2S, cc.single(saField(op)), cc.single(fs))
		case 0x21:
			d.FCvt(drc.CvtW2D, cc.double(saField(op)), cc.single(fs))
		default:
			return unimplemented(ds, 0x11, op&63)
		}
	case 0x15: // L
		switch op & 63 {
		case 0x20:
			d.FCvt(drc.CvtL2S, cc.single(saField(op)), cc.double(fs))
		case 0x21:
			d.FCvt(drc.CvtL2D, cc.double(saField(op)), cc.double(fs))
		default:
			return unimplemented(ds, 0x11, op&63)
		}
	default:
		return unimplemented(ds, 0x11, rsField(op))
	}
	return res, nil
}

func floatOne(size uint8) drc.Operand {
	if size == 4 {
		return drc.Imm(uint64(math.Float32bits(1)))
	}
	return drc.Imm(math.Float64bits(1))
}

// fpu compiles the S and D format arithmetic, conversion and compare ops.
func (cc *compiler) fpu(ds *desc, dbl bool) (result, error) {
	op := ds.op
	d := cc.d
	fd, fs, ft := saField(op), rdField(op), rtField(op)
	res := plain()
	size := uint8(4)
	reg := cc.single
	if dbl {
		size = 8
		reg = cc.double
	}

	switch f := op & 63; {
	case f <= 0x03: // ADD, SUB, MUL, DIV
		code := [4]drc.Opcode{drc.OpFAdd, drc.OpFSub, drc.OpFMul, drc.OpFDiv}[f]
		d.FOp(code, size, reg(fd), reg(fs), reg(ft))
	case f == 0x04: // SQRT
		d.FOp(drc.OpFSqrt, size, reg(fd), reg(fs), drc.None)
	case f == 0x05: // ABS
		d.FOp(drc.OpFAbs, size, reg(fd), reg(fs), drc.None)
	case f == 0x06: // MOV
		d.Mov(size, reg(fd), reg(fs))
	case f == 0x07: // NEG
		d.FOp(drc.OpFNeg, size, reg(fd), reg(fs), drc.None)
	case f >= 0x08 && f <= 0x0F: // ROUND, TRUNC, CEIL, FLOOR to L then W
		kind, dst := drc.CvtS2L, cc.double(fd)
		if dbl {
			kind = drc.CvtD2L
		}
		if f >= 0x0C {
			kind, dst = drc.CvtS2W, cc.single(fd)
			if dbl {
				kind = drc.CvtD2W
			}
		}
		d.GetRound(drc.T3)
		d.SetRound(drc.Imm(uint64(f & 3)))
		d.FCvt(kind, dst, reg(fs))
		d.SetRound(drc.T3)
	case f == 0x11: // MOVF.fmt, MOVT.fmt
		if !cc.isa4() {
			return cc.invalid(ds)
		}
		cc.movCond(reg(fd), reg(fs), (op>>18)&7, op&(1<<16) != 0, size)
	case f == 0x12 || f == 0x13: // MOVZ.fmt, MOVN.fmt
		if !cc.isa4() {
			return cc.invalid(ds)
		}
		skip := d.NewLabel()
		skipIf := drc.CondNe
		if f == 0x13 {
			skipIf = drc.CondEq
		}
		d.Jcc(skipIf, 8, gpr(ft), drc.Imm(0), skip)
		d.Mov(size, reg(fd), reg(fs))
		d.Bind(skip)
	case f == 0x15: // RECIP
		if !cc.isa4() {
			return cc.invalid(ds)
		}
		d.FOp(drc.OpFDiv, size, reg(fd), floatOne(size), reg(fs))
	case f == 0x16: // RSQRT
		if !cc.isa4() {
			return cc.invalid(ds)
		}
		d.FOp(drc.OpFSqrt, size, drc.T0, reg(fs), drc.None)
		d.FOp(drc.OpFDiv, size, reg(fd), floatOne(size), drc.T0)
	case f == 0x20: // CVT.S
		if !dbl {
			return unimplemented(ds, 0x11, f)
		}
		d.FCvt(drc.CvtD2S, cc.single(fd), reg(fs))
	case f == 0x21: // CVT.D
		if dbl {
			return unimplemented(ds, 0x11, f)
		}
		d.FCvt(drc.CvtS2D, cc.double(fd), reg(fs))
	case f == 0x24: // CVT.W
		kind := drc.CvtS2W
		if dbl {
			kind = drc.CvtD2W
		}
		d.FCvt(kind, cc.single(fd), reg(fs))
	case f == 0x25: // CVT.L
		kind := drc.CvtS2L
		if dbl {
			kind = drc.CvtD2L
		}
		d.FCvt(kind, cc.double(fd), reg(fs))
	case f >= 0x30: // C.cond
		cond := uint32(0)
		if cc.isa4() {
			cond = (op >> 8) & 7
		}
		mask := 0
		if f&1 != 0 {
			mask |= drc.FCmpUnordered
		}
		if f&2 != 0 {
			mask |= drc.FCmpEqual
		}
		if f&4 != 0 {
			mask |= drc.FCmpLess
		}
		d.FCmp(size, mask, drc.Mem(cfSlot(1, cond)), reg(fs), reg(ft))
	default:
		return unimplemented(ds, 0x11, f)
	}
	return res, nil
}
