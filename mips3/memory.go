package mips3

import (
	"encoding/binary"

	"github.com/colorfulnotion/mipsdrc/drc"
)

// Memory trampoline kinds. Loads take the address in T0 and return the
// extended value in T0; stores take the value in T1 and, for masked stores,
// the lane mask in T2. T4/T5 carry the faulting PC and delay-slot flag.
const (
	memReadS8 = iota
	memReadU8
	memReadS16
	memReadU16
	memReadS32
	memReadU32
	memRead64
	memWrite8
	memWrite16
	memWrite32
	memWrite64
	memWrite32Masked
	memWrite64Masked
	numMemKinds
)

var memKindNames = [numMemKinds]string{
	"read_s8", "read_u8", "read_s16", "read_u16", "read_s32", "read_u32", "read_64",
	"write_8", "write_16", "write_32", "write_64", "write_32_masked", "write_64_masked",
}

func memKindSize(kind int) uint32 {
	switch kind {
	case memReadS8, memReadU8, memWrite8:
		return 1
	case memReadS16, memReadU16, memWrite16:
		return 2
	case memRead64, memWrite64, memWrite64Masked:
		return 8
	}
	return 4
}

func memKindWrites(kind int) bool { return kind >= memWrite8 }

// fastRAM finds the region holding [phys, phys+size).
func (c *CPU) fastRAM(phys, size uint32, write bool) ([]byte, uint32, bool) {
	for i := range c.cfg.FastRAM {
		r := &c.cfg.FastRAM[i]
		if phys >= r.Start && phys+size-1 <= r.End && !(write && r.ReadOnly) {
			return r.Base, phys - r.Start, true
		}
	}
	return nil, 0, false
}

func (c *CPU) readPhys(phys uint32, size uint32) uint64 {
	if mem, off, ok := c.fastRAM(phys, size, false); ok {
		switch size {
		case 1:
			return uint64(ramRead8(mem, off, c.cfg.Endianness))
		case 2:
			return uint64(ramRead16(mem, off, c.cfg.Endianness))
		case 4:
			return uint64(binary.LittleEndian.Uint32(mem[off:]))
		default:
			return ramRead64(mem, off, c.cfg.Endianness)
		}
	}
	switch size {
	case 1:
		return uint64(c.bus.Read8(phys))
	case 2:
		return uint64(c.bus.Read16(phys))
	case 4:
		return uint64(c.bus.Read32(phys))
	}
	return c.bus.Read64(phys)
}

func (c *CPU) writePhys(phys uint32, size uint32, v uint64, mask uint64, masked bool) {
	if mem, off, ok := c.fastRAM(phys, size, true); ok {
		e := c.cfg.Endianness
		switch size {
		case 1:
			ramWrite8(mem, off, e, uint8(v))
		case 2:
			ramWrite16(mem, off, e, uint16(v))
		case 4:
			if masked {
				v = uint64(binary.LittleEndian.Uint32(mem[off:]))&^mask | v&mask
			}
			binary.LittleEndian.PutUint32(mem[off:], uint32(v))
		default:
			if masked {
				v = ramRead64(mem, off, e)&^mask | v&mask
			}
			ramWrite64(mem, off, e, v)
		}
		return
	}
	switch {
	case size == 1:
		c.bus.Write8(phys, uint8(v))
	case size == 2:
		c.bus.Write16(phys, uint16(v))
	case size == 4 && masked:
		c.bus.Write32Masked(phys, uint32(v), uint32(mask))
	case size == 4:
		c.bus.Write32(phys, uint32(v))
	case masked:
		c.bus.Write64Masked(phys, v, mask)
	default:
		c.bus.Write64(phys, v)
	}
}

// fetch reads an instruction word at compile time.
func (c *CPU) fetch(pc uint32) (op, phys uint32, fault tlbFault) {
	phys, fault = c.translate(pc, false)
	if fault != faultNone {
		return 0, 0, fault
	}
	return uint32(c.readPhys(phys, 4)), phys, faultNone
}

// memHost services every memory trampoline; op.Aux selects the access kind.
func (c *CPU) memHost(x *drc.Exec, op *drc.Op) int {
	kind := op.Aux
	addr := uint32(x.R[0])
	size := memKindSize(kind)
	write := memKindWrites(kind)
	if addr&(size-1) != 0 {
		x.R[6] = uint64(addr)
		if write {
			return c.tramp.exc[excADES]
		}
		return c.tramp.exc[excADEL]
	}
	phys, fault := c.translate(addr, write)
	if fault != faultNone {
		x.R[6] = uint64(addr)
		x.R[7] = 0
		if fault == faultRefill {
			x.R[7] = 1
		}
		switch {
		case fault == faultModified:
			return c.tramp.exc[excMOD]
		case write:
			return c.tramp.exc[excTLBS]
		}
		return c.tramp.exc[excTLBL]
	}
	switch kind {
	case memReadS8:
		x.R[0] = uint64(int64(int8(c.readPhys(phys, 1))))
	case memReadU8:
		x.R[0] = c.readPhys(phys, 1)
	case memReadS16:
		x.R[0] = uint64(int64(int16(c.readPhys(phys, 2))))
	case memReadU16:
		x.R[0] = c.readPhys(phys, 2)
	case memReadS32:
		x.R[0] = uint64(int64(int32(c.readPhys(phys, 4))))
	case memReadU32:
		x.R[0] = c.readPhys(phys, 4)
	case memRead64:
		x.R[0] = c.readPhys(phys, 8)
	case memWrite32Masked, memWrite64Masked:
		c.writePhys(phys, size, x.R[1], x.R[2], true)
	default:
		c.writePhys(phys, size, x.R[1], 0, false)
	}
	return drc.Continue
}

// emitMemoryTrampolines builds one call-and-return fragment per access kind.
func (c *CPU) emitMemoryTrampolines(d *drc.DRC) {
	for k := 0; k < numMemKinds; k++ {
		c.tramp.mem[k] = d.Call(c.memHost, memKindNames[k], drc.None, drc.None, k)
		d.Ret()
	}
}

// Unaligned access lane masks, indexed by the big-endian byte offset.
var (
	lwlMask = []uint64{0, 0xFF, 0xFFFF, 0xFFFFFF}
	lwrMask = []uint64{0xFFFFFFFF_FFFFFF00, 0xFFFFFFFF_FFFF0000, 0xFFFFFFFF_FF000000, 0xFFFFFFFF_00000000}
	swlMask = []uint64{0xFFFFFFFF, 0x00FFFFFF, 0x0000FFFF, 0x000000FF}
	swrMask = []uint64{0xFF000000, 0xFFFF0000, 0xFFFFFF00, 0xFFFFFFFF}
)

func ldMasks() (ldl, ldr, sdl, sdr []uint64) {
	ldl = make([]uint64, 8)
	ldr = make([]uint64, 8)
	sdl = make([]uint64, 8)
	sdr = make([]uint64, 8)
	for i := uint(0); i < 8; i++ {
		ldl[i] = uint64(1)<<(8*i) - 1
		ldr[i] = ^(^uint64(0) >> (8 * (7 - i)))
		sdl[i] = ^uint64(0) >> (8 * i)
		sdr[i] = ^uint64(0) << (8 * (7 - i))
	}
	return
}
