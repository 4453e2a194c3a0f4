package mips3

import (
	"github.com/colorfulnotion/mipsdrc/drc"
)

// address computes base+offset of a load or store into T0.
func (cc *compiler) address(ds *desc) {
	cc.d.Alu(drc.OpAdd, 4, drc.T0, gpr(rsField(ds.op)), drc.Imm(simm(ds.op)))
}

// access calls the memory trampoline for kind with the fault context loaded.
func (cc *compiler) access(ds *desc, kind int) {
	d := cc.d
	d.Mov(8, drc.T4, drc.Imm(uint64(ds.epc)))
	d.Mov(8, drc.T5, ds.bd())
	d.CallStub(cc.c.tramp.mem[kind])
}

func (cc *compiler) loadStore(ds *desc) (result, error) {
	op := ds.op
	rt := rtField(op)
	res := plain()
	res.flags |= flagException

	load := func(kind int) {
		cc.address(ds)
		cc.access(ds, kind)
		cc.setGPR64(rt, drc.T0)
	}
	store := func(kind int) {
		cc.address(ds)
		cc.d.Mov(8, drc.T1, gpr(rt))
		cc.access(ds, kind)
	}

	switch op >> 26 {
	case 0x20: // LB
		load(memReadS8)
	case 0x21: // LH
		load(memReadS16)
	case 0x23: // LW
		load(memReadS32)
	case 0x24: // LBU
		load(memReadU8)
	case 0x25: // LHU
		load(memReadU16)
	case 0x27: // LWU
		load(memReadU32)
	case 0x37: // LD
		load(memRead64)
	case 0x28: // SB
		store(memWrite8)
	case 0x29: // SH
		store(memWrite16)
	case 0x2B: // SW
		store(memWrite32)
	case 0x3F: // SD
		store(memWrite64)
	case 0x22: // LWL
		cc.unaligned(ds, false, true, false)
	case 0x26: // LWR
		cc.unaligned(ds, false, false, false)
	case 0x2A: // SWL
		cc.unaligned(ds, false, true, true)
	case 0x2E: // SWR
		cc.unaligned(ds, false, false, true)
	case 0x1A: // LDL
		cc.unaligned(ds, true, true, false)
	case 0x1B: // LDR
		cc.unaligned(ds, true, false, false)
	case 0x2C: // SDL
		cc.unaligned(ds, true, true, true)
	case 0x2D: // SDR
		cc.unaligned(ds, true, false, true)
	default:
		return unimplemented(ds, op>>26, 0)
	}
	return res, nil
}

// unaligned emits LWL/LWR/SWL/SWR and their doubleword forms. The containing
// aligned word is merged with the register through lane masks indexed by the
// big-endian byte offset of the address.
func (cc *compiler) unaligned(ds *desc, wide, left, store bool) {
	d := cc.d
	t := &cc.c.tables
	rt := rtField(ds.op)
	size, width := uint8(4), uint64(4)
	if wide {
		size, width = 8, 8
	}

	cc.address(ds)
	d.Alu(drc.OpAnd, 8, drc.T3, drc.T0, drc.Imm(width-1))
	if cc.c.cfg.Endianness == LittleEndian {
		d.Alu(drc.OpXor, 8, drc.T3, drc.T3, drc.Imm(width-1))
	}
	d.Alu(drc.OpAnd, 4, drc.T0, drc.T0, drc.Imm32(^uint32(width-1)))

	var table int
	switch {
	case !store && left && wide:
		table = t.ldl
	case !store && left:
		table = t.lwl
	case !store && wide:
		table = t.ldr
	case !store:
		table = t.lwr
	case left && wide:
		table = t.sdl
	case left:
		table = t.swl
	case wide:
		table = t.sdr
	default:
		table = t.swr
	}
	d.Table(drc.T2, drc.T3, table)
	if !left {
		d.Alu(drc.OpXor, 8, drc.T3, drc.T3, drc.Imm(width-1))
	}
	d.Alu(drc.OpShl, 8, drc.T3, drc.T3, drc.Imm(3))

	if store {
		shift := drc.OpShr
		if !left {
			shift = drc.OpShl
		}
		d.Alu(shift, size, drc.T1, gpr(rt), drc.T3)
		if wide {
			cc.access(ds, memWrite64Masked)
		} else {
			cc.access(ds, memWrite32Masked)
		}
		return
	}

	if wide {
		cc.access(ds, memRead64)
	} else {
		cc.access(ds, memReadU32)
	}
	shift := drc.OpShl
	if !left {
		shift = drc.OpShr
	}
	d.Alu(shift, size, drc.T0, drc.T0, drc.T3)
	d.Alu(drc.OpAnd, 8, drc.T1, gpr(rt), drc.T2)
	d.Alu(drc.OpOr, 8, drc.T0, drc.T0, drc.T1)
	if wide {
		cc.setGPR64(rt, drc.T0)
	} else {
		cc.setGPR32(rt, drc.T0)
	}
}

// copLoadStore covers LWCz/LDCz/SWCz/SDCz for coprocessors 1 and 2.
func (cc *compiler) copLoadStore(ds *desc) (result, error) {
	op := ds.op
	d := cc.d
	rt := rtField(op)
	res := plain()
	res.flags |= flagException

	primary := op >> 26
	if primary&3 == 1 {
		cc.cop1Usable(ds)
	}
	cc.address(ds)
	switch primary {
	case 0x31: // LWC1
		cc.access(ds, memReadU32)
		d.Mov(4, cc.single(rt), drc.T0)
	case 0x35: // LDC1
		cc.access(ds, memRead64)
		d.Mov(8, cc.double(rt), drc.T0)
	case 0x39: // SWC1
		d.Mov(4, drc.T1, cc.single(rt))
		cc.access(ds, memWrite32)
	case 0x3D: // SDC1
		d.Mov(8, drc.T1, cc.double(rt))
		cc.access(ds, memWrite64)
	case 0x32: // LWC2
		cc.access(ds, memReadU32)
		d.Mov(8, drc.Mem(cprSlot(2, rt)), drc.T0)
	case 0x36: // LDC2
		cc.access(ds, memRead64)
		d.Mov(8, drc.Mem(cprSlot(2, rt)), drc.T0)
	case 0x3A: // SWC2
		d.Mov(4, drc.T1, drc.Mem(cprSlot(2, rt)))
		cc.access(ds, memWrite32)
	case 0x3E: // SDC2
		d.Mov(8, drc.T1, drc.Mem(cprSlot(2, rt)))
		cc.access(ds, memWrite64)
	default:
		return unimplemented(ds, primary, 0)
	}
	return res, nil
}

// cache compiles CACHE. Invalidating a primary instruction cache line that
// holds compiled code flushes the code cache and resumes after the instruction.
func (cc *compiler) cache(ds *desc) (result, error) {
	res := plain()
	which := rtField(ds.op)
	kind := which >> 2
	if ds.delay || which&3 != 0 || (kind != 0 && kind != 4) {
		return res, nil
	}
	cc.address(ds)
	cc.d.Call(cc.c.cacheHost, "icache_invalidate", drc.Imm(uint64(ds.pc+4)), drc.None, 0)
	return res, nil
}
