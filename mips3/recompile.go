package mips3

import (
	"context"
	"errors"
	"fmt"

	"github.com/colorfulnotion/mipsdrc/drc"
	"github.com/colorfulnotion/mipsdrc/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("github.com/colorfulnotion/mipsdrc/mips3")

// Per-instruction result flags.
const (
	flagException     = 1 << iota // may raise a guest exception
	flagEnd                       // ends the block
	flagCheckInts                 // recheck external interrupts afterwards
	flagCheckSoftInts             // recheck software interrupts afterwards
	flagRedispatch                // PC slot holds the next PC, dispatch through the lookup tables
)

// result is what compiling one guest instruction reports to the driver.
type result struct {
	length uint32 // guest bytes consumed, including the delay slot and absorbed NOPs
	cycles int
	flags  uint32
}

// desc is the guest instruction being compiled.
type desc struct {
	pc    uint32
	phys  uint32
	op    uint32
	epc   uint32 // PC reported by exceptions: the branch when in a delay slot
	delay bool
}

func (ds *desc) bd() drc.Operand {
	if ds.delay {
		return drc.Imm(1)
	}
	return drc.Imm(0)
}

type codeWord struct {
	phys, op uint32
}

// codeCheck guards compiled code against remapping and modification. It
// recompiles at pc when the translation of addr or any covered word changes.
// Entry checks also recompile when the live FR mode differs from fr.
type codeCheck struct {
	c       *CPU
	pc      uint32
	addr    uint32
	mapping uint32
	words   []codeWord
	entry   bool
	fr      bool
}

func (k *codeCheck) host(x *drc.Exec, op *drc.Op) int {
	stale := k.entry && k.c.fr() != k.fr
	stale = stale || k.c.mapping(k.addr) != k.mapping
	for i := 0; !stale && i < len(k.words); i++ {
		w := k.words[i]
		stale = uint32(k.c.readPhys(w.phys, 4)) != w.op
	}
	if !stale {
		return drc.Continue
	}
	log.Trace(log.MIPS3Monitoring, "compiled code is stale", "pc", hex32(k.pc), "addr", hex32(k.addr))
	x.Ctx[slotPC] = uint64(k.pc)
	return x.DRC().RecompileStub
}

// excStub is an out-of-line exception exit emitted after the block body.
type excStub struct {
	label  drc.Label
	code   int
	epc    uint32
	delay  bool
	param  uint32 // BadVAddr, or CE for Coprocessor Unusable
	refill bool
}

// coveredWord is a compiled word and the check that guards it inline.
type coveredWord struct {
	check *codeCheck
	word  codeWord
}

// entryPad is a mid-block entry point. Dispatches land on a pad emitted after
// the block body, which verifies the entry and jumps to body.
type entryPad struct {
	pc   uint32
	body drc.Label
	from int // index of the entry's first word in compiler.covered
}

// compiler holds the state of one block translation.
type compiler struct {
	c     *CPU
	d     *drc.DRC
	fr    bool
	start uint32
	stubs []excStub

	check   *codeCheck
	page    uint32
	covered []coveredWord
	entries []entryPad
}

func (cc *compiler) isa4() bool { return cc.c.cfg.ISA >= MIPS4 }

// guard returns the code check covering addr, emitting a new one when
// verification is strict or addr lies on a page not covered yet. at is the PC
// recompiled on a mismatch.
func (cc *compiler) guard(at, addr uint32) *codeCheck {
	if cc.c.cfg.StrictVerify || cc.check == nil || addr>>pageShift != cc.page {
		cc.check = &codeCheck{c: cc.c, pc: at, addr: addr, mapping: cc.c.mapping(addr)}
		cc.page = addr >> pageShift
		cc.d.Call(cc.check.host, "verify_code", drc.Imm(uint64(at)), drc.None, 0)
	}
	return cc.check
}

// cover adds a compiled word to check k.
func (k *codeCheck) cover(phys, op uint32) {
	k.words = append(k.words, codeWord{phys: phys, op: op})
}

// cover guards the word at addr with the check for at and records it for
// entry checks.
func (cc *compiler) cover(at, addr, phys, op uint32) {
	k := cc.guard(at, addr)
	k.cover(phys, op)
	cc.covered = append(cc.covered, coveredWord{check: k, word: codeWord{phys: phys, op: op}})
}

// entryCheck builds the check run by the pad for e: the FR mode, the mapping of
// e.pc and the words from e.pc up to the next inline check.
func (cc *compiler) entryCheck(e entryPad) *codeCheck {
	k := &codeCheck{c: cc.c, pc: e.pc, addr: e.pc, mapping: cc.c.mapping(e.pc), entry: true, fr: cc.fr}
	first := cc.covered[e.from].check
	for _, w := range cc.covered[e.from:] {
		if w.check != first {
			break
		}
		k.words = append(k.words, w.word)
	}
	return k
}

// emitEntries registers every mid-block entry at its pad.
func (cc *compiler) emitEntries() {
	d := cc.d
	for _, e := range cc.entries {
		d.RegisterCode(e.pc)
		d.Call(cc.entryCheck(e).host, "verify_entry", drc.Imm(uint64(e.pc)), drc.None, 0)
		d.Jmp(e.body)
	}
}

// raise returns a label that takes exception code from ds.
func (cc *compiler) raise(ds *desc, code int, param uint32) drc.Label {
	l := cc.d.NewLabel()
	cc.stubs = append(cc.stubs, excStub{label: l, code: code, epc: ds.epc, delay: ds.delay, param: param})
	return l
}

// fault emits an unconditional jump into exception code.
func (cc *compiler) fault(ds *desc, code int, param uint32) {
	cc.d.Jmp(cc.raise(ds, code, param))
}

// fetchFault raises the TLB load exception for an instruction fetch from addr.
func (cc *compiler) fetchFault(ds *desc, addr uint32, fault tlbFault) {
	l := cc.raise(ds, excTLBL, addr)
	cc.stubs[len(cc.stubs)-1].refill = fault == faultRefill
	cc.d.Jmp(l)
}

func (cc *compiler) emitStubs() {
	d := cc.d
	for _, s := range cc.stubs {
		d.Bind(s.label)
		d.Mov(8, drc.T4, drc.Imm(uint64(s.epc)))
		if s.delay {
			d.Mov(8, drc.T5, drc.Imm(1))
		} else {
			d.Mov(8, drc.T5, drc.Imm(0))
		}
		d.Mov(8, drc.T6, drc.Imm(uint64(s.param)))
		if s.refill {
			d.Mov(8, drc.T7, drc.Imm(1))
		} else {
			d.Mov(8, drc.T7, drc.Imm(0))
		}
		d.JmpTo(cc.c.tramp.exc[s.code])
	}
}

// recompile is the driver invoked by the recompile stub for pc.
func (c *CPU) recompile(d *drc.DRC, pc uint32) error {
	_, span := tracer.Start(context.Background(), "mips3.recompile",
		trace.WithAttributes(attribute.String("pc", hex32(pc))))
	defer span.End()

	cc := &compiler{c: c, d: d, fr: c.fr(), start: pc}
	d.BeginSequence(pc)
	first := d.SequenceStart()
	d.RegisterCode(pc)

	frMismatch := d.NewLabel()
	cond := drc.CondTestNZ
	if cc.fr {
		cond = drc.CondTestZ
	}
	d.Jcc(cond, 8, drc.Mem(cprSlot(0, COP0Status)), drc.Imm(SR_FR), frMismatch)

	count, end := 0, pc
	cur := pc
	for {
		op, phys, fault := c.fetch(cur)
		if fault != faultNone {
			if cur == pc {
				// nothing compiled: raise the fetch fault, recompiling once the mapping changes
				cc.guard(pc, pc)
				cc.fetchFault(&desc{pc: pc, epc: pc}, pc, fault)
				break
			}
			d.Mov(8, drc.Mem(slotPC), drc.Imm(uint64(cur)))
			d.Dispatch()
			break
		}
		if cur != pc {
			e := entryPad{pc: cur, body: d.NewLabel(), from: len(cc.covered)}
			d.Bind(e.body)
			cc.entries = append(cc.entries, e)
		}
		cc.cover(cur, cur, phys, op)
		if c.cfg.Debugger != nil {
			d.Call(c.debugHost, "debugger", drc.Imm(uint64(cur)), drc.None, 0)
		}
		ds := &desc{pc: cur, phys: phys, op: op, epc: cur}
		res, err := cc.compile(ds)
		if err != nil {
			span.RecordError(err)
			return err
		}
		res.cycles += c.hotspotCycles(cur, op)
		count++
		if res.flags&(flagEnd|flagCheckInts|flagCheckSoftInts) == 0 {
			cc.absorbNOPs(cur, &res)
		}
		next := cur + res.length
		end = next - 4

		switch {
		case res.flags&flagRedispatch != 0:
			d.Cycles(res.cycles, drc.None)
			if res.flags&(flagCheckInts|flagCheckSoftInts) != 0 {
				d.Call(c.irqHost, "check_irq", drc.Mem(slotPC), drc.None, 0)
			}
			d.Dispatch()
		case res.flags&flagEnd != 0:
		default:
			d.Cycles(res.cycles, drc.Imm(uint64(next)))
			if res.flags&(flagCheckInts|flagCheckSoftInts) != 0 {
				d.Call(c.irqHost, "check_irq", drc.Imm(uint64(next)), drc.None, 0)
			}
		}
		if res.flags&(flagEnd|flagRedispatch) != 0 {
			break
		}
		if count >= c.cfg.MaxInstructions {
			d.Mov(8, drc.Mem(slotPC), drc.Imm(uint64(next)))
			d.TentativeJmp(next)
			break
		}
		cur = next
	}

	cc.emitStubs()
	d.Bind(frMismatch)
	d.Mov(8, drc.Mem(slotPC), drc.Imm(uint64(pc)))
	d.JmpTo(d.RecompileStub)
	cc.emitEntries()
	d.EndSequence()

	c.blocks[pc] = blockSpan{start: first, end: d.Top(), pc: pc, endPC: end}
	span.SetAttributes(attribute.Int("instructions", count), attribute.Int("ops", d.Top()-first))
	log.Debug(log.MIPS3Monitoring, "block compiled", "pc", hex32(pc), "end", hex32(end),
		"instructions", count, "ops", d.Top()-first, "fr", cc.fr)
	if log.IsModuleEnabled(log.DRCMonitoring) {
		if listing, err := c.Listing(pc); err == nil {
			log.Trace(log.DRCMonitoring, "host code", "pc", hex32(pc), "listing", "\n"+listing)
		}
	}
	return nil
}

// absorbNOPs folds following NOP words on the same page into res.
func (cc *compiler) absorbNOPs(pc uint32, res *result) {
	c := cc.c
	for n := 0; n < c.cfg.NOPAbsorb; n++ {
		next := pc + res.length
		if next>>pageShift != pc>>pageShift {
			return
		}
		op, phys, fault := c.fetch(next)
		if fault != faultNone || op != 0 {
			return
		}
		cc.check.cover(phys, op)
		cc.covered = append(cc.covered, coveredWord{check: cc.check, word: codeWord{phys: phys, op: op}})
		res.length += 4
		res.cycles++
	}
}

func (c *CPU) hotspotCycles(pc, op uint32) int {
	n := 0
	for _, h := range c.cfg.Hotspots {
		if h.PC == pc && h.Opcode == op {
			n += h.Cycles
		}
	}
	return n
}

func (c *CPU) debugHost(x *drc.Exec, op *drc.Op) int {
	x.Ctx[slotPC] = op.S1.Val
	c.cfg.Debugger(uint32(op.S1.Val))
	return drc.Continue
}

// ErrUnimplemented is wrapped by OpcodeError for guest opcodes with no translation.
var ErrUnimplemented = errors.New("mips3: unimplemented opcode")

// OpcodeError reports a guest instruction the translator cannot compile.
type OpcodeError struct {
	PC        uint32
	Op        uint32
	Primary   uint32
	Secondary uint32
}

func (e *OpcodeError) Error() string {
	return fmt.Sprintf("%v %08x at pc %08x (primary %02x, secondary %02x)", ErrUnimplemented, e.Op, e.PC, e.Primary, e.Secondary)
}

func (e *OpcodeError) Unwrap() error { return ErrUnimplemented }
