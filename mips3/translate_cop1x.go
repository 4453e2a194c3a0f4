package mips3

import (
	"github.com/colorfulnotion/mipsdrc/drc"
)

// cop1x compiles the MIPS IV indexed loads and stores and the multiply-add ops.
func (cc *compiler) cop1x(ds *desc) (result, error) {
	op := ds.op
	d := cc.d
	base, index := rsField(op), rtField(op)
	fr, ft, fs, fd := rsField(op), rtField(op), rdField(op), saField(op)
	res := plain()
	cc.cop1Usable(ds)

	indexed := func() {
		d.Alu(drc.OpAdd, 4, drc.T0, gpr(base), gpr(index))
		res.flags |= flagException
	}

	switch f := op & 63; f {
	case 0x00: // LWXC1
		indexed()
		cc.access(ds, memReadU32)
		d.Mov(4, cc.single(fd), drc.T0)
	case 0x01: // LDXC1
		indexed()
		cc.access(ds, memRead64)
		d.Mov(8, cc.double(fd), drc.T0)
	case 0x08: // SWXC1
		indexed()
		d.Mov(4, drc.T1, cc.single(fs))
		cc.access(ds, memWrite32)
	case 0x09: // SDXC1
		indexed()
		d.Mov(8, drc.T1, cc.double(fs))
		cc.access(ds, memWrite64)
	case 0x0F: // PREFX
	case 0x20, 0x21, 0x28, 0x29, 0x30, 0x31, 0x38, 0x39: // MADD, MSUB, NMADD, NMSUB
		size := uint8(4)
		reg := cc.single
		if f&1 != 0 {
			size = 8
			reg = cc.double
		}
		acc := drc.OpFAdd
		if f&0x08 != 0 {
			acc = drc.OpFSub
		}
		d.FOp(drc.OpFMul, size, drc.T0, reg(fs), reg(ft))
		d.FOp(acc, size, drc.T0, drc.T0, reg(fr))
		if f&0x10 != 0 {
			d.FOp(drc.OpFNeg, size, reg(fd), drc.T0, drc.None)
		} else {
			d.Mov(size, reg(fd), drc.T0)
		}
	default:
		return unimplemented(ds, 0x13, f)
	}
	return res, nil
}
