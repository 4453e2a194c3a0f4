package mips3

import (
	"github.com/colorfulnotion/mipsdrc/drc"
	"github.com/colorfulnotion/mipsdrc/log"
)

// Exception codes as written to Cause.ExcCode.
const (
	excINT  = 0
	excMOD  = 1
	excTLBL = 2
	excTLBS = 3
	excADEL = 4
	excADES = 5
	excSYS  = 8
	excBP   = 9
	excRI   = 10
	excCPU  = 11
	excOV   = 12
	excTR   = 13
	numExc  = 14
)

var excNames = [numExc]string{
	excINT: "interrupt", excMOD: "tlb_mod", excTLBL: "tlb_load", excTLBS: "tlb_store",
	excADEL: "addr_load", excADES: "addr_store", 6: "bus_ifetch", 7: "bus_data",
	excSYS: "syscall", excBP: "break", excRI: "invalid_op", excCPU: "bad_cop",
	excOV: "overflow", excTR: "trap",
}

// exception describes a guest exception being taken.
type exception struct {
	code     int
	epc      uint32
	delay    bool
	badVAddr uint32
	refill   bool
	ce       uint32
}

// takeException updates COP0 for e and returns the handler vector.
func (c *CPU) takeException(e exception) uint32 {
	status := c.ctx[cprSlot(0, COP0Status)]
	cause := c.ctx[cprSlot(0, COP0Cause)]
	wasEXL := status&SR_EXL != 0

	if !wasEXL {
		c.ctx[cprSlot(0, COP0EPC)] = uint64(int64(int32(e.epc)))
		if e.delay {
			cause |= CAUSE_BD
		} else {
			cause &^= CAUSE_BD
		}
	}
	cause = cause&^(CAUSE_EXC|CAUSE_CE) | uint64(e.code)<<2
	if e.code == excCPU {
		cause |= uint64(e.ce&3) << 28
	}
	c.ctx[cprSlot(0, COP0Cause)] = cause
	c.ctx[cprSlot(0, COP0Status)] = status | SR_EXL

	switch e.code {
	case excTLBL, excTLBS, excMOD:
		va := uint64(int64(int32(e.badVAddr)))
		c.ctx[cprSlot(0, COP0BadVAddr)] = va
		hi := c.ctx[cprSlot(0, COP0EntryHi)]
		c.ctx[cprSlot(0, COP0EntryHi)] = va&^0x1FFF | hi&0xFF
		ctxReg := c.ctx[cprSlot(0, COP0Context)]
		c.ctx[cprSlot(0, COP0Context)] = ctxReg&^0x7FFFF0 | uint64(e.badVAddr>>9)&0x7FFFF0
	case excADEL, excADES:
		c.ctx[cprSlot(0, COP0BadVAddr)] = uint64(int64(int32(e.badVAddr)))
	}

	base := uint32(0x80000000)
	if status&SR_BEV != 0 {
		base = 0xBFC00200
	}
	offset := uint32(0x180)
	if e.refill && !wasEXL && (e.code == excTLBL || e.code == excTLBS) {
		offset = 0
	}
	if e.code != excINT {
		log.Debug(log.MIPS3Monitoring, "exception", "type", excNames[e.code], "epc", hex32(e.epc),
			"bd", e.delay, "vector", hex32(base+offset))
	}
	return base + offset
}

// excHost is the body of every exception trampoline. op.S1 holds the code;
// T4 the faulting PC, T5 the delay-slot flag, T6 the bad address or CE, T7 the
// refill flag.
func (c *CPU) excHost(x *drc.Exec, op *drc.Op) int {
	e := exception{
		code:     int(op.S1.Val),
		epc:      uint32(x.R[4]),
		delay:    x.R[5] != 0,
		badVAddr: uint32(x.R[6]),
		refill:   x.R[7] != 0,
	}
	if e.code == excCPU {
		e.ce = uint32(x.R[6])
	}
	x.Ctx[slotPC] = uint64(c.takeException(e))
	return drc.Continue
}

func (c *CPU) emitExceptionTrampolines(d *drc.DRC) {
	for code := 0; code < numExc; code++ {
		if excNames[code] == "" {
			continue
		}
		c.tramp.exc[code] = d.Call(c.excHost, "exception_"+excNames[code], drc.Imm(uint64(code)), drc.None, 0)
		d.Dispatch()
	}
}

func (c *CPU) interruptPending() bool {
	status := c.ctx[cprSlot(0, COP0Status)]
	cause := c.ctx[cprSlot(0, COP0Cause)]
	if status&SR_IE == 0 || status&(SR_EXL|SR_ERL) != 0 {
		return false
	}
	return cause&status&CAUSE_IP != 0
}

// irqHost checks for a pending interrupt after an instruction that may have
// enabled one. op.S1 is the PC execution resumes at.
func (c *CPU) irqHost(x *drc.Exec, op *drc.Op) int {
	if !c.interruptPending() {
		return drc.Continue
	}
	x.R[4] = x.Read(op.S1) & 0xFFFFFFFF
	x.R[5] = 0
	return c.tramp.exc[excINT]
}

// SetIRQLine drives external interrupt line 0..5 (Cause.IP2..IP7).
func (c *CPU) SetIRQLine(line int, asserted bool) {
	if line < 0 || line > 5 {
		return
	}
	bit := uint64(1) << (10 + uint(line))
	if asserted {
		c.ctx[cprSlot(0, COP0Cause)] |= bit
	} else {
		c.ctx[cprSlot(0, COP0Cause)] &^= bit
	}
}
