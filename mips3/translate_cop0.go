package mips3

import (
	"github.com/colorfulnotion/mipsdrc/drc"
)

// cop0Usable emits the privilege check for a COP0 instruction in strict mode.
func (cc *compiler) cop0Usable(ds *desc) {
	if cc.c.cfg.StrictCOP0 {
		cc.d.Call(cc.c.cop0UsableHost, "cop0_usable", drc.Imm(uint64(ds.epc)), ds.bd(), 0)
	}
}

// cop0Computed reports registers whose value is derived on read.
func cop0Computed(reg uint32) bool { return reg == COP0Count || reg == COP0Random }

func (cc *compiler) cop0(ds *desc) (result, error) {
	op := ds.op
	d := cc.d
	c := cc.c
	rt, rd := rtField(op), rdField(op)
	res := plain()
	cc.cop0Usable(ds)
	if c.cfg.StrictCOP0 {
		res.flags |= flagException
	}

	switch rsField(op) {
	case 0x00, 0x01: // MFC0, DMFC0
		if rt == 0 {
			break
		}
		src := drc.Mem(cprSlot(0, rd))
		if cop0Computed(rd) {
			d.Call(c.mfc0Host, "mfc0", drc.None, drc.None, int(rd))
			src = drc.T0
		}
		if rsField(op) == 0x00 {
			cc.setGPR32(rt, src)
		} else {
			cc.setGPR64(rt, src)
		}
	case 0x04, 0x05: // MTC0, DMTC0
		if rsField(op) == 0x04 {
			d.Sext(4, drc.T0, gpr(rt))
		} else {
			d.Mov(8, drc.T0, gpr(rt))
		}
		d.Call(c.mtc0Host, "mtc0", drc.T0, drc.None, int(rd))
		switch rd {
		case COP0Status:
			// interrupt enables, vectors and the FPU register mode may all change
			d.Mov(8, drc.Mem(slotPC), drc.Imm(uint64(ds.pc+4)))
			res.flags |= flagCheckInts | flagRedispatch | flagEnd
		case COP0Cause:
			res.flags |= flagCheckSoftInts
		}
	case 0x10, 0x11, 0x12, 0x13, 0x14, 0x15, 0x16, 0x17,
		0x18, 0x19, 0x1A, 0x1B, 0x1C, 0x1D, 0x1E, 0x1F:
		switch op & 63 {
		case 0x01: // TLBR
			d.Call(c.tlbHost, "tlbr", drc.None, drc.None, tlbOpRead)
		case 0x02: // TLBWI
			d.Call(c.tlbHost, "tlbwi", drc.None, drc.None, tlbOpWriteIndexed)
		case 0x06: // TLBWR
			d.Call(c.tlbHost, "tlbwr", drc.None, drc.None, tlbOpWriteRandom)
		case 0x08: // TLBP
			d.Call(c.tlbHost, "tlbp", drc.None, drc.None, tlbOpProbe)
		case 0x18: // ERET
			d.Call(c.eretHost, "eret", drc.None, drc.None, 0)
			res.flags |= flagCheckInts | flagRedispatch | flagEnd
		case 0x20: // WAIT
		default:
			return cc.invalid(ds)
		}
	default:
		return cc.invalid(ds)
	}
	return res, nil
}
