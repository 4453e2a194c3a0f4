package mips3

import (
	"github.com/colorfulnotion/mipsdrc/drc"
	"github.com/colorfulnotion/mipsdrc/log"
)

// cycles returns the total cycle count, including the running slice.
func (c *CPU) cycles() int64 {
	if c.running {
		return c.totalCycles + c.sliceBudget - c.x.Cycles
	}
	return c.totalCycles
}

func (c *CPU) count() uint32 {
	return uint32((c.cycles() - c.countZero) / 2)
}

// updateTimer reschedules the Count/Compare match and shortens the running
// slice so the match is seen on time.
func (c *CPU) updateTimer() {
	now := c.cycles()
	delta := uint64(uint32(c.ctx[cprSlot(0, COP0Compare)]) - c.count())
	if delta == 0 {
		delta = 1 << 32
	}
	c.nextTimer = now + int64(delta)*2
	if c.running {
		if until := c.nextTimer - now; until < c.x.Cycles {
			cut := c.x.Cycles - until
			c.x.Cycles -= cut
			c.sliceBudget -= cut
		}
	}
	if c.cfg.Timer != nil {
		c.cfg.Timer(c.nextTimer - now)
	}
}

// checkTimer raises IP7 once the Count/Compare match has been reached.
func (c *CPU) checkTimer() {
	if c.totalCycles < c.nextTimer {
		return
	}
	c.ctx[cprSlot(0, COP0Cause)] |= CAUSE_IP7
	for c.nextTimer <= c.totalCycles {
		c.nextTimer += 1 << 33
	}
	log.Trace(log.MIPS3Monitoring, "timer interrupt", "cycles", c.totalCycles)
}

func (c *CPU) getCop0(reg uint32) uint64 {
	switch reg {
	case COP0Count:
		return uint64(c.count())
	case COP0Random:
		return uint64(c.randomIndex())
	}
	return c.ctx[cprSlot(0, reg)]
}

func (c *CPU) setCop0(reg uint32, v uint64) {
	slot := cprSlot(0, reg)
	switch reg {
	case COP0Index:
		c.ctx[slot] = v & 0x8000003F
	case COP0Random, COP0BadVAddr, COP0PRId:
	case COP0Wired:
		c.ctx[slot] = v & 0x3F
	case COP0Count:
		c.countZero = c.cycles() - int64(uint32(v))*2
		c.updateTimer()
	case COP0Compare:
		c.ctx[slot] = uint64(uint32(v))
		c.ctx[cprSlot(0, COP0Cause)] &^= CAUSE_IP7
		c.updateTimer()
	case COP0Cause:
		c.ctx[slot] = c.ctx[slot]&^CAUSE_SW | v&CAUSE_SW
	case COP0Config:
		c.ctx[slot] = c.ctx[slot]&^7 | v&7
	case COP0EntryHi:
		old := c.ctx[slot]
		c.ctx[slot] = v
		if old&0xFF != v&0xFF {
			c.rebuildTLB()
		}
	case COP0Status:
		old := c.ctx[slot]
		c.ctx[slot] = v
		if (old^v)&SR_FR != 0 {
			log.Debug(log.MIPS3Monitoring, "fpu register mode changed", "fr", v&SR_FR != 0)
		}
	default:
		c.ctx[slot] = v
	}
}

// mfc0Host loads COP0 register op.Aux into T0.
func (c *CPU) mfc0Host(x *drc.Exec, op *drc.Op) int {
	x.R[0] = c.getCop0(uint32(op.Aux))
	return drc.Continue
}

// mtc0Host writes op.S1 to COP0 register op.Aux.
func (c *CPU) mtc0Host(x *drc.Exec, op *drc.Op) int {
	c.setCop0(uint32(op.Aux), x.Read(op.S1))
	return drc.Continue
}

const (
	tlbOpRead = iota
	tlbOpWriteIndexed
	tlbOpWriteRandom
	tlbOpProbe
)

func (c *CPU) tlbHost(x *drc.Exec, op *drc.Op) int {
	switch op.Aux {
	case tlbOpRead:
		c.tlbRead()
	case tlbOpWriteIndexed:
		c.tlbWrite(uint32(c.ctx[cprSlot(0, COP0Index)] & 0x3F))
	case tlbOpWriteRandom:
		c.tlbWrite(c.randomIndex())
	case tlbOpProbe:
		c.tlbProbe()
	}
	return drc.Continue
}

// eretHost returns from an exception, leaving the new PC in the PC slot.
func (c *CPU) eretHost(x *drc.Exec, op *drc.Op) int {
	slot := cprSlot(0, COP0Status)
	status := c.ctx[slot]
	if status&SR_ERL != 0 {
		x.Ctx[slotPC] = c.ctx[cprSlot(0, COP0ErrorEPC)] & 0xFFFFFFFF
		c.ctx[slot] = status &^ SR_ERL
	} else {
		x.Ctx[slotPC] = c.ctx[cprSlot(0, COP0EPC)] & 0xFFFFFFFF
		c.ctx[slot] = status &^ SR_EXL
	}
	return drc.Continue
}

// cop0UsableHost raises Coprocessor Unusable for a COP0 op outside kernel mode.
func (c *CPU) cop0UsableHost(x *drc.Exec, op *drc.Op) int {
	status := c.ctx[cprSlot(0, COP0Status)]
	kernel := status&SR_KSU == 0 || status&(SR_EXL|SR_ERL) != 0
	if kernel || status&SR_CU0 != 0 {
		return drc.Continue
	}
	x.R[4], x.R[5], x.R[6] = op.S1.Val, op.S2.Val, 0
	return c.tramp.exc[excCPU]
}

// cacheHost drops compiled code when a hit-invalidate names a line that holds any.
func (c *CPU) cacheHost(x *drc.Exec, op *drc.Op) int {
	line := uint32(x.R[0]) &^ 31
	d := x.DRC()
	for pc := line; pc < line+32; pc += 4 {
		if d.Lookup(pc) != d.RecompileStub {
			log.Debug(log.MIPS3Monitoring, "icache invalidate hit compiled code", "line", hex32(line))
			x.Ctx[slotPC] = op.S1.Val
			return d.FlushStub
		}
	}
	return drc.Continue
}
