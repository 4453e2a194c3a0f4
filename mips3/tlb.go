package mips3

import (
	"fmt"

	"github.com/colorfulnotion/mipsdrc/log"
)

const (
	NumTLBEntries = 48

	pageShift = 12
	// The flat table covers kuseg (2 GiB) and kseg2/3 (1 GiB) in 4 KiB pages.
	tablePages = 0xC0000
)

// Flat table entry flags; the page frame sits above them.
const (
	tlbPresent = 1 << 0
	tlbValid   = 1 << 1
	tlbDirty   = 1 << 2
)

type tlbFault int

const (
	faultNone tlbFault = iota
	faultRefill
	faultInvalid
	faultModified
)

// TLBEntry mirrors the COP0 registers written by TLBWI/TLBWR.
type TLBEntry struct {
	PageMask uint64
	EntryHi  uint64
	EntryLo  [2]uint64
}

func (e *TLBEntry) global() bool { return e.EntryLo[0]&e.EntryLo[1]&1 != 0 }

// vpn2Mask covers the virtual bits compared for this entry's page pair.
func (e *TLBEntry) vpn2Mask() uint32 { return ^(uint32(e.PageMask) | 0x1FFF) }

func (e *TLBEntry) String() string {
	return fmt.Sprintf("mask=%08x hi=%08x lo0=%08x lo1=%08x", uint32(e.PageMask), uint32(e.EntryHi), uint32(e.EntryLo[0]), uint32(e.EntryLo[1]))
}

func unmapped(addr uint32) bool { return addr >= 0x80000000 && addr < 0xC0000000 }

func pageIndex(addr uint32) int {
	p := int(addr >> pageShift)
	if addr >= 0xC0000000 {
		p -= 0x40000
	}
	return p
}

// translate maps a virtual address to physical through the flat table.
func (c *CPU) translate(addr uint32, write bool) (uint32, tlbFault) {
	if unmapped(addr) {
		return addr & 0x1FFFFFFF, faultNone
	}
	e := c.tlbTable[pageIndex(addr)]
	switch {
	case e&tlbPresent == 0:
		return 0, faultRefill
	case e&tlbValid == 0:
		return 0, faultInvalid
	case write && e&tlbDirty == 0:
		return 0, faultModified
	}
	return e&^0xFFF | addr&0xFFF, faultNone
}

// TranslateAddress maps a virtual address for a read, reporting false on a TLB fault.
func (c *CPU) TranslateAddress(addr uint32) (uint32, bool) {
	phys, fault := c.translate(addr, false)
	return phys, fault == faultNone
}

// mapping returns the flat table word compiled code depends on for addr.
func (c *CPU) mapping(addr uint32) uint32 {
	if unmapped(addr) {
		return 0
	}
	return c.tlbTable[pageIndex(addr)]
}

// rebuildTLB recomputes the flat table from the TLB entries and the current ASID.
func (c *CPU) rebuildTLB() {
	for _, idx := range c.tlbMapped {
		c.tlbTable[idx] = 0
	}
	c.tlbMapped = c.tlbMapped[:0]
	asid := c.ctx[cprSlot(0, COP0EntryHi)] & 0xFF
	for i := range c.tlb {
		e := &c.tlb[i]
		if !e.global() && e.EntryHi&0xFF != asid {
			continue
		}
		half := (uint32(e.PageMask) | 0x1FFF) + 1
		half /= 2
		vbase := uint32(e.EntryHi) & e.vpn2Mask()
		for h := 0; h < 2; h++ {
			lo := e.EntryLo[h]
			flags := uint32(tlbPresent)
			if lo&2 != 0 {
				flags |= tlbValid
			}
			if lo&4 != 0 {
				flags |= tlbDirty
			}
			pbase := uint32(lo>>6) << pageShift
			va := vbase + uint32(h)*half
			for off := uint32(0); off < half; off += 1 << pageShift {
				v := va + off
				if unmapped(v) {
					continue
				}
				idx := pageIndex(v)
				c.tlbTable[idx] = (pbase+off)&^0xFFF | flags
				c.tlbMapped = append(c.tlbMapped, int32(idx))
			}
		}
	}
	log.Debug(log.TLBMonitoring, "flat table rebuilt", "asid", asid, "pages", len(c.tlbMapped))
}

// TLB returns a copy of the TLB entries.
func (c *CPU) TLB() [NumTLBEntries]TLBEntry { return c.tlb }

func (c *CPU) randomIndex() uint32 {
	wired := uint32(c.ctx[cprSlot(0, COP0Wired)] & 0x3F)
	if wired >= NumTLBEntries {
		return NumTLBEntries - 1
	}
	span := uint64(NumTLBEntries - wired)
	return wired + uint32(uint64(c.cycles())%span)
}

func (c *CPU) tlbWrite(index uint32) {
	if index >= NumTLBEntries {
		log.Warn(log.TLBMonitoring, "tlb write out of range", "index", index)
		return
	}
	mask := c.ctx[cprSlot(0, COP0PageMask)] & 0x01FFE000
	e := &c.tlb[index]
	e.PageMask = mask
	e.EntryHi = c.ctx[cprSlot(0, COP0EntryHi)] &^ (mask | 0x1F00)
	e.EntryLo[0] = c.ctx[cprSlot(0, COP0EntryLo0)]
	e.EntryLo[1] = c.ctx[cprSlot(0, COP0EntryLo1)]
	log.Debug(log.TLBMonitoring, "tlb write", "index", index, "entry", e.String())
	c.rebuildTLB()
}

func (c *CPU) tlbRead() {
	index := uint32(c.ctx[cprSlot(0, COP0Index)] & 0x3F)
	if index >= NumTLBEntries {
		return
	}
	e := &c.tlb[index]
	g := uint64(0)
	if e.global() {
		g = 1
	}
	old := c.ctx[cprSlot(0, COP0EntryHi)]
	c.ctx[cprSlot(0, COP0PageMask)] = e.PageMask
	c.ctx[cprSlot(0, COP0EntryHi)] = e.EntryHi
	c.ctx[cprSlot(0, COP0EntryLo0)] = e.EntryLo[0]&^1 | g
	c.ctx[cprSlot(0, COP0EntryLo1)] = e.EntryLo[1]&^1 | g
	if old&0xFF != e.EntryHi&0xFF {
		c.rebuildTLB()
	}
}

func (c *CPU) tlbProbe() {
	hi := c.ctx[cprSlot(0, COP0EntryHi)]
	vpn := uint32(hi)
	asid := hi & 0xFF
	result := uint64(0x80000000)
	for i := range c.tlb {
		e := &c.tlb[i]
		m := e.vpn2Mask()
		if uint32(e.EntryHi)&m == vpn&m && (e.global() || e.EntryHi&0xFF == asid) {
			result = uint64(i)
			break
		}
	}
	c.ctx[cprSlot(0, COP0Index)] = result
}
