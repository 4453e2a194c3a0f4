// Package mips3 is a dynamic recompiler for MIPS III/IV CPU cores.
package mips3

import (
	"fmt"
	"math"

	"github.com/colorfulnotion/mipsdrc/drc"
	"github.com/colorfulnotion/mipsdrc/drc/x64"
	"github.com/colorfulnotion/mipsdrc/log"
)

type trampolines struct {
	exc [numExc]int
	mem [numMemKinds]int
}

type blockSpan struct {
	start, end int
	pc, endPC  uint32
}

// CPU is one MIPS III/IV core backed by a recompiler cache.
type CPU struct {
	cfg Config
	bus Bus

	ctx       []uint64
	tlb       [NumTLBEntries]TLBEntry
	tlbTable  []uint32
	tlbMapped []int32

	drc   *drc.DRC
	x     *drc.Exec
	tramp trampolines

	tables struct {
		lwl, lwr, swl, swr int
		ldl, ldr, sdl, sdr int
	}

	running     bool
	totalCycles int64
	sliceBudget int64
	countZero   int64
	nextTimer   int64

	blocks map[uint32]blockSpan
}

// New builds a CPU on bus and resets it.
func New(cfg Config, bus Bus) (*CPU, error) {
	if bus == nil {
		return nil, fmt.Errorf("mips3: nil bus")
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	c := &CPU{
		cfg:      cfg,
		bus:      bus,
		ctx:      make([]uint64, numSlots),
		tlbTable: make([]uint32, tablePages),
		blocks:   make(map[uint32]blockSpan),
	}
	d, err := drc.New(drc.Config{
		CacheSize:    cfg.CacheSize,
		DangerMargin: cfg.DangerMargin,
		AddressBits:  32,
		IgnoreBits:   2,
		PCSlot:       slotPC,
		Recompile:    c.recompile,
		OnReset:      c.onReset,
		Entry:        c.entryHost,
	})
	if err != nil {
		return nil, fmt.Errorf("mips3: code cache: %w", err)
	}
	c.drc = d
	c.x = d.NewExec(c.ctx)

	ldl, ldr, sdl, sdr := ldMasks()
	c.tables.lwl = d.AddTable(lwlMask)
	c.tables.lwr = d.AddTable(lwrMask)
	c.tables.swl = d.AddTable(swlMask)
	c.tables.swr = d.AddTable(swrMask)
	c.tables.ldl = d.AddTable(ldl)
	c.tables.ldr = d.AddTable(ldr)
	c.tables.sdl = d.AddTable(sdl)
	c.tables.sdr = d.AddTable(sdr)

	if err := c.Reset(); err != nil {
		return nil, err
	}
	return c, nil
}

// onReset re-emits the guest trampolines after every cache flush.
func (c *CPU) onReset(d *drc.DRC) {
	c.emitExceptionTrampolines(d)
	c.emitMemoryTrampolines(d)
	clear(c.blocks)
}

// entryHost loads the guest rounding mode into the host FPU.
func (c *CPU) entryHost(x *drc.Exec, op *drc.Op) int {
	x.Round = drc.RoundMode(c.ctx[ccrSlot(1, 31)] & 3)
	return drc.Continue
}

// Reset puts the core in its power-on state and flushes all compiled code.
func (c *CPU) Reset() error {
	clear(c.ctx)
	c.tlb = [NumTLBEntries]TLBEntry{}
	clear(c.tlbTable)
	c.tlbMapped = c.tlbMapped[:0]

	prid := flavorPRId[c.cfg.Flavor]
	config := uint64(3) // kseg0 cacheable
	if c.cfg.Endianness == BigEndian {
		config |= 1 << 15
	}
	c.ctx[slotPC] = 0xBFC00000
	c.ctx[cprSlot(0, COP0Status)] = SR_BEV | SR_ERL
	c.ctx[cprSlot(0, COP0Compare)] = 0xFFFFFFFF
	c.ctx[cprSlot(0, COP0PRId)] = uint64(prid)
	c.ctx[cprSlot(0, COP0Config)] = config
	c.ctx[ccrSlot(1, 0)] = uint64(prid)

	c.totalCycles = 0
	c.countZero = 0
	c.running = false
	c.updateTimer()
	return c.drc.Reset()
}

// Execute runs for about budget cycles and returns the cycles consumed, which
// may exceed budget by the cost of the last instruction.
func (c *CPU) Execute(budget int) (int, error) {
	remaining := int64(budget)
	consumed := int64(0)
	for remaining > 0 {
		c.checkTimer()
		if c.interruptPending() {
			c.ctx[slotPC] = uint64(c.takeException(exception{code: excINT, epc: uint32(c.ctx[slotPC])}))
		}
		slice := remaining
		if until := c.nextTimer - c.totalCycles; until > 0 && until < slice {
			slice = until
		}
		c.sliceBudget = slice
		c.running = true
		_, err := c.x.Execute(slice)
		used := c.sliceBudget - c.x.Cycles
		c.running = false
		c.totalCycles += used
		consumed += used
		remaining -= used
		if err != nil {
			log.Error(log.MIPS3Monitoring, "execution aborted", "pc", hex32(uint32(c.ctx[slotPC])), "err", err)
			return int(consumed), err
		}
	}
	c.checkTimer()
	return int(consumed), nil
}

// TotalCycles returns every cycle executed since reset.
func (c *CPU) TotalCycles() int64 { return c.cycles() }

// DRC exposes the code cache for inspection.
func (c *CPU) DRC() *drc.DRC { return c.drc }

func (c *CPU) fr() bool { return c.ctx[cprSlot(0, COP0Status)]&SR_FR != 0 }

// GetRegister reads a register by id.
func (c *CPU) GetRegister(id RegID) uint64 {
	switch {
	case id == RegPC:
		return c.ctx[slotPC] & 0xFFFFFFFF
	case id >= RegR0 && id < RegHI:
		return c.ctx[gprSlot(uint32(id-RegR0))]
	case id == RegHI:
		return c.ctx[slotHI]
	case id == RegLO:
		return c.ctx[slotLO]
	case id >= RegCOP0 && id < RegFPR:
		return c.getCop0(uint32(id - RegCOP0))
	case id >= RegFPR && id < RegFCR0:
		return c.ctx[cprSlot(1, uint32(id-RegFPR))]
	case id == RegFCR0:
		return c.ctx[ccrSlot(1, 0)]
	case id == RegFCR31:
		return uint64(c.fcr31())
	case id >= RegFPS && id < RegFPD:
		slot, hi := fprSingle(c.fr(), uint32(id-RegFPS))
		if hi {
			return c.ctx[slot] >> 32
		}
		return c.ctx[slot] & 0xFFFFFFFF
	case id >= RegFPD && id < numRegIDs:
		return c.ctx[fprDouble(c.fr(), uint32(id-RegFPD))]
	}
	return 0
}

// SetRegister writes a register by id. Writes to R0 are ignored.
func (c *CPU) SetRegister(id RegID, v uint64) {
	switch {
	case id == RegPC:
		c.ctx[slotPC] = v & 0xFFFFFFFF
	case id == RegR0:
	case id > RegR0 && id < RegHI:
		c.ctx[gprSlot(uint32(id-RegR0))] = v
	case id == RegHI:
		c.ctx[slotHI] = v
	case id == RegLO:
		c.ctx[slotLO] = v
	case id >= RegCOP0 && id < RegFPR:
		c.setCop0(uint32(id-RegCOP0), v)
	case id >= RegFPR && id < RegFCR0:
		c.ctx[cprSlot(1, uint32(id-RegFPR))] = v
	case id == RegFCR0:
	case id == RegFCR31:
		c.setFCR31(uint32(v))
	case id >= RegFPS && id < RegFPD:
		slot, hi := fprSingle(c.fr(), uint32(id-RegFPS))
		if hi {
			c.ctx[slot] = c.ctx[slot]&0xFFFFFFFF | v<<32
		} else {
			c.ctx[slot] = c.ctx[slot]&^0xFFFFFFFF | v&0xFFFFFFFF
		}
	case id >= RegFPD && id < numRegIDs:
		c.ctx[fprDouble(c.fr(), uint32(id-RegFPD))] = v
	}
}

// SetFloat64 stores a double into FPU register n under the current FR mode.
func (c *CPU) SetFloat64(n int, f float64) {
	c.SetRegister(RegFPD+RegID(n), math.Float64bits(f))
}

// Float64 reads double n under the current FR mode.
func (c *CPU) Float64(n int) float64 {
	return math.Float64frombits(c.GetRegister(RegFPD + RegID(n)))
}

// fcr31 assembles FCR31 from its stored value and the condition flags.
func (c *CPU) fcr31() uint32 {
	v := uint32(c.ctx[ccrSlot(1, 31)]) &^ 0xFE800000
	for cc := uint32(0); cc < 8; cc++ {
		if c.ctx[cfSlot(1, cc)] != 0 {
			v |= fccBit(cc)
		}
	}
	return v
}

func (c *CPU) setFCR31(v uint32) {
	c.ctx[ccrSlot(1, 31)] = uint64(v)
	for cc := uint32(0); cc < 8; cc++ {
		c.ctx[cfSlot(1, cc)] = uint64(v>>fccShift(cc)) & 1
	}
}

// fccShift returns the FCR31 bit position of condition code cc.
func fccShift(cc uint32) uint32 {
	if cc == 0 {
		return 23
	}
	return 24 + cc
}

func fccBit(cc uint32) uint32 { return 1 << fccShift(cc) }

// AddFastRAM registers a fast RAM region. Compiled code is flushed.
func (c *CPU) AddFastRAM(r FastRAM) error {
	if len(c.cfg.FastRAM) >= MaxFastRAM {
		return ErrTooManyFastRAM
	}
	if err := r.validate(); err != nil {
		return err
	}
	c.cfg.FastRAM = append(c.cfg.FastRAM, r)
	return c.drc.Reset()
}

// AddHotspot registers a cycle hotspot. Compiled code is flushed.
func (c *CPU) AddHotspot(h Hotspot) error {
	if len(c.cfg.Hotspots) >= MaxHotspots {
		return ErrTooManyHotspots
	}
	c.cfg.Hotspots = append(c.cfg.Hotspots, h)
	return c.drc.Reset()
}

// FlushCode discards every compiled block.
func (c *CPU) FlushCode() error { return c.drc.Reset() }

// Listing returns the host code listing of the block compiled at pc.
func (c *CPU) Listing(pc uint32) (string, error) {
	b, ok := c.blocks[pc]
	if !ok {
		return "", fmt.Errorf("mips3: no block compiled at %08x", pc)
	}
	ops := c.drc.Ops(b.start, b.end)
	low, err := x64.Lower(ops, b.start, c.drc.Geometry(), c.drc.ExitStub, c.drc.DispatchStub)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("; block %08x-%08x, ops %d-%d\n%s", b.pc, b.endPC, b.start, b.end, low.Listing()), nil
}

func hex32(v uint32) string { return fmt.Sprintf("%08x", v) }
