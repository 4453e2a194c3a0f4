package mips3

import "encoding/binary"

// Bus is the guest's physical program address space.
type Bus interface {
	Read8(addr uint32) uint8
	Read16(addr uint32) uint16
	Read32(addr uint32) uint32
	Read64(addr uint32) uint64
	Write8(addr uint32, v uint8)
	Write16(addr uint32, v uint16)
	Write32(addr uint32, v uint32)
	Write64(addr uint32, v uint64)
	// Masked writes only update the bytes selected by mask.
	Write32Masked(addr uint32, v, mask uint32)
	Write64Masked(addr uint32, v, mask uint64)
}

// RAMBus is a flat RAM bus using the fast RAM storage layout, so its buffer can
// also be registered as a fast RAM region. Reads outside the buffer return all
// ones and writes are dropped.
type RAMBus struct {
	base   uint32
	mem    []byte
	endian Endianness
}

func NewRAMBus(base uint32, size int, e Endianness) *RAMBus {
	return &RAMBus{base: base, mem: make([]byte, (size+7)&^7), endian: e}
}

// Bytes returns the backing buffer.
func (b *RAMBus) Bytes() []byte { return b.mem }

// FastRAM describes the whole bus as a fast RAM region.
func (b *RAMBus) FastRAM() FastRAM {
	return FastRAM{Start: b.base, End: b.base + uint32(len(b.mem)) - 1, Base: b.mem}
}

// LoadImage copies guest-ordered bytes to addr.
func (b *RAMBus) LoadImage(addr uint32, image []byte) {
	for i, v := range image {
		b.Write8(addr+uint32(i), v)
	}
}

func (b *RAMBus) offset(addr uint32, size uint32) (uint32, bool) {
	off := addr - b.base
	return off, addr >= b.base && uint64(off)+uint64(size) <= uint64(len(b.mem))
}

func (b *RAMBus) Read8(addr uint32) uint8 {
	off, ok := b.offset(addr, 1)
	if !ok {
		return 0xFF
	}
	return ramRead8(b.mem, off, b.endian)
}

func (b *RAMBus) Read16(addr uint32) uint16 {
	off, ok := b.offset(addr, 2)
	if !ok {
		return 0xFFFF
	}
	return ramRead16(b.mem, off, b.endian)
}

func (b *RAMBus) Read32(addr uint32) uint32 {
	off, ok := b.offset(addr, 4)
	if !ok {
		return 0xFFFFFFFF
	}
	return binary.LittleEndian.Uint32(b.mem[off:])
}

func (b *RAMBus) Read64(addr uint32) uint64 {
	off, ok := b.offset(addr, 8)
	if !ok {
		return ^uint64(0)
	}
	return ramRead64(b.mem, off, b.endian)
}

func (b *RAMBus) Write8(addr uint32, v uint8) {
	if off, ok := b.offset(addr, 1); ok {
		ramWrite8(b.mem, off, b.endian, v)
	}
}

func (b *RAMBus) Write16(addr uint32, v uint16) {
	if off, ok := b.offset(addr, 2); ok {
		ramWrite16(b.mem, off, b.endian, v)
	}
}

func (b *RAMBus) Write32(addr uint32, v uint32) {
	if off, ok := b.offset(addr, 4); ok {
		binary.LittleEndian.PutUint32(b.mem[off:], v)
	}
}

func (b *RAMBus) Write64(addr uint32, v uint64) {
	if off, ok := b.offset(addr, 8); ok {
		ramWrite64(b.mem, off, b.endian, v)
	}
}

func (b *RAMBus) Write32Masked(addr uint32, v, mask uint32) {
	if off, ok := b.offset(addr, 4); ok {
		old := binary.LittleEndian.Uint32(b.mem[off:])
		binary.LittleEndian.PutUint32(b.mem[off:], old&^mask|v&mask)
	}
}

func (b *RAMBus) Write64Masked(addr uint32, v, mask uint64) {
	if off, ok := b.offset(addr, 8); ok {
		old := ramRead64(b.mem, off, b.endian)
		ramWrite64(b.mem, off, b.endian, old&^mask|v&mask)
	}
}

// Host storage helpers. Words are host little-endian; a big-endian guest finds
// byte lanes with offset^3 and halfword lanes with offset^2.

func byteXor(e Endianness) uint32 {
	if e == BigEndian {
		return 3
	}
	return 0
}

func halfXor(e Endianness) uint32 {
	if e == BigEndian {
		return 2
	}
	return 0
}

func ramRead8(mem []byte, off uint32, e Endianness) uint8 {
	return mem[off^byteXor(e)]
}

func ramRead16(mem []byte, off uint32, e Endianness) uint16 {
	return binary.LittleEndian.Uint16(mem[off^halfXor(e):])
}

func ramRead64(mem []byte, off uint32, e Endianness) uint64 {
	lo := uint64(binary.LittleEndian.Uint32(mem[off:]))
	hi := uint64(binary.LittleEndian.Uint32(mem[off+4:]))
	if e == BigEndian {
		return lo<<32 | hi
	}
	return hi<<32 | lo
}

func ramWrite8(mem []byte, off uint32, e Endianness, v uint8) {
	mem[off^byteXor(e)] = v
}

func ramWrite16(mem []byte, off uint32, e Endianness, v uint16) {
	binary.LittleEndian.PutUint16(mem[off^halfXor(e):], v)
}

func ramWrite64(mem []byte, off uint32, e Endianness, v uint64) {
	first, second := uint32(v), uint32(v>>32)
	if e == BigEndian {
		first, second = second, first
	}
	binary.LittleEndian.PutUint32(mem[off:], first)
	binary.LittleEndian.PutUint32(mem[off+4:], second)
}
