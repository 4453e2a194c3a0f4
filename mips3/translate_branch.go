package mips3

import (
	"github.com/colorfulnotion/mipsdrc/drc"
	"github.com/colorfulnotion/mipsdrc/log"
)

// branchSpec describes a branch or jump once decoded.
type branchSpec struct {
	cond     drc.Cond // CondAlways for unconditional transfers
	a, b     drc.Operand
	target   uint32
	indirect drc.Operand // register target for JR/JALR
	likely   bool
	link     uint32 // register receiving the return address, 0 for none
}

func (cc *compiler) jump(ds *desc) (result, error) {
	br := branchSpec{
		cond:   drc.CondAlways,
		target: (ds.pc+4)&0xF0000000 | (ds.op&0x03FFFFFF)<<2,
	}
	if ds.op>>26 == 0x03 {
		br.link = 31
	}
	return cc.delayed(ds, br)
}

func (cc *compiler) jumpRegister(ds *desc) (result, error) {
	br := branchSpec{cond: drc.CondAlways, indirect: gpr(rsField(ds.op))}
	if ds.op&63 == 0x09 {
		br.link = rdField(ds.op)
	}
	return cc.delayed(ds, br)
}

// branch decodes the PC-relative branches of the primary and REGIMM maps.
func (cc *compiler) branch(ds *desc) (result, error) {
	op := ds.op
	rs, rt := rsField(op), rtField(op)
	br := branchSpec{
		a:      gpr(rs),
		b:      gpr(rt),
		target: ds.pc + 4 + uint32(simm(op)<<2),
		likely: op>>26 >= 0x14,
	}
	switch op >> 26 {
	case 0x04, 0x14: // BEQ, BEQL
		br.cond = drc.CondEq
		if rs == rt {
			br.cond = drc.CondAlways
		}
	case 0x05, 0x15: // BNE, BNEL
		br.cond = drc.CondNe
	case 0x06, 0x16: // BLEZ, BLEZL
		br.cond, br.b = drc.CondLeS, drc.Imm(0)
	case 0x07, 0x17: // BGTZ, BGTZL
		br.cond, br.b = drc.CondGtS, drc.Imm(0)
	case 0x01: // REGIMM: BLTZ, BGEZ, BLTZL, BGEZL and the linking forms
		br.b = drc.Imm(0)
		br.cond = drc.CondLtS
		if rt&1 != 0 {
			br.cond = drc.CondGeS
			if rs == 0 {
				br.cond = drc.CondAlways
			}
		}
		br.likely = rt&2 != 0
		if rt&0x10 != 0 {
			br.link = 31
		}
	}
	return cc.delayed(ds, br)
}

// branchCop1 compiles BC1F, BC1T, BC1FL and BC1TL.
func (cc *compiler) branchCop1(ds *desc) (result, error) {
	op := ds.op
	cond := uint32(0)
	if cc.isa4() {
		cond = (op >> 18) & 7
	}
	br := branchSpec{
		cond:   drc.CondEq,
		a:      drc.Mem(cfSlot(1, cond)),
		b:      drc.Imm(0),
		target: ds.pc + 4 + uint32(simm(op)<<2),
		likely: op&(1<<17) != 0,
	}
	if op&(1<<16) != 0 {
		br.cond = drc.CondNe
	}
	return cc.delayed(ds, br)
}

// isBranch reports whether op transfers control after a delay slot.
func isBranch(op uint32) bool {
	switch op >> 26 {
	case 0x00:
		return op&63 == 0x08 || op&63 == 0x09
	case 0x01:
		rt := rtField(op)
		return rt < 4 || (rt >= 0x10 && rt < 0x14)
	case 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x14, 0x15, 0x16, 0x17:
		return true
	case 0x11:
		return rsField(op) == 0x08
	}
	return false
}

// delayed emits a branch: the condition and link are evaluated first, then
// the delay slot instruction runs, then control transfers. Likely branches run
// their delay slot on both paths and cost one extra cycle.
func (cc *compiler) delayed(ds *desc, br branchSpec) (result, error) {
	d := cc.d
	c := cc.c
	res := result{length: 8, cycles: 1}
	if br.likely {
		res.cycles = 2
	}

	slot := ds.pc + 4
	op, phys, fault := c.fetch(slot)
	if fault != faultNone {
		cc.guard(ds.pc, slot)
		cc.fetchFault(&desc{pc: slot, epc: ds.pc, delay: true}, slot, fault)
		res.flags |= flagException | flagEnd
		return res, nil
	}
	cc.cover(ds.pc, slot, phys, op)

	if br.cond != drc.CondAlways {
		d.Set(br.cond, 8, drc.Mem(slotBranchCond), br.a, br.b)
	}
	if br.indirect.Kind != drc.KindNone {
		d.Zext(4, drc.Mem(slotBranchTarget), br.indirect)
	}
	if br.link != 0 {
		d.Mov(8, drc.Mem(gprSlot(br.link)), drc.Imm32(ds.pc+8))
	}

	dres, err := cc.delaySlot(ds, slot, phys, op)
	if err != nil {
		return result{}, err
	}
	res.cycles += dres.cycles
	res.flags |= dres.flags & (flagException | flagCheckInts | flagCheckSoftInts)
	checkInts := res.flags&(flagCheckInts|flagCheckSoftInts) != 0

	var notTaken drc.Label
	if br.cond != drc.CondAlways {
		notTaken = d.NewLabel()
		d.Jcc(drc.CondEq, 8, drc.Mem(slotBranchCond), drc.Imm(0), notTaken)
	}
	if br.indirect.Kind != drc.KindNone {
		d.Mov(8, drc.Mem(slotPC), drc.Mem(slotBranchTarget))
		d.Cycles(res.cycles, drc.None)
		if checkInts {
			d.Call(c.irqHost, "check_irq", drc.Mem(slotPC), drc.None, 0)
		}
		d.Dispatch()
	} else {
		d.Cycles(res.cycles, drc.Imm(uint64(br.target)))
		if checkInts {
			d.Call(c.irqHost, "check_irq", drc.Imm(uint64(br.target)), drc.None, 0)
		}
		d.Mov(8, drc.Mem(slotPC), drc.Imm(uint64(br.target)))
		d.TentativeJmp(br.target)
	}
	if br.cond == drc.CondAlways {
		res.flags |= flagEnd
		return res, nil
	}
	d.Bind(notTaken)
	return res, nil
}

// delaySlot compiles the instruction after a branch. Exceptions it raises
// report the branch PC with Cause.BD set.
func (cc *compiler) delaySlot(branch *desc, pc, phys, op uint32) (result, error) {
	if cc.c.cfg.Debugger != nil {
		cc.d.Call(cc.c.debugHost, "debugger", drc.Imm(uint64(pc)), drc.None, 0)
	}
	if isBranch(op) {
		log.Warn(log.MIPS3Monitoring, "branch in delay slot ignored", "pc", hex32(pc), "branch", hex32(branch.pc))
		return plain(), nil
	}
	return cc.compile(&desc{pc: pc, phys: phys, op: op, epc: branch.pc, delay: true})
}
