package mips3

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

const dataBase = 0x80002000

func lwl(rt, base uint32, off int16) uint32 { return iType(0x22, base, rt, uint16(off)) }
func lwr(rt, base uint32, off int16) uint32 { return iType(0x26, base, rt, uint16(off)) }
func swl(rt, base uint32, off int16) uint32 { return iType(0x2A, base, rt, uint16(off)) }
func swr(rt, base uint32, off int16) uint32 { return iType(0x2E, base, rt, uint16(off)) }
func ldl(rt, base uint32, off int16) uint32 { return iType(0x1A, base, rt, uint16(off)) }
func ldr(rt, base uint32, off int16) uint32 { return iType(0x1B, base, rt, uint16(off)) }

func littleEndian(cfg *Config) { cfg.Endianness = LittleEndian }

func TestLoadStoreWidths(t *testing.T) {
	b := newBench(t)
	b.bus.Write32(0x2000, 0x8081F2F3)
	b.setReg(2, dataBase)
	b.asm(codeBase,
		iType(0x20, 2, 3, 0), // lb r3, 0(r2)
		iType(0x24, 2, 4, 0), // lbu r4, 0(r2)
		iType(0x21, 2, 5, 2), // lh r5, 2(r2)
		iType(0x25, 2, 6, 2), // lhu r6, 2(r2)
		iType(0x27, 2, 7, 0), // lwu r7, 0(r2)
		iType(0x28, 2, 4, 8), // sb r4, 8(r2)
		iType(0x29, 2, 6, 10), // sh r6, 10(r2)
	)
	b.asm(codeBase+28, halt...)
	b.run(50)

	assert.Equal(t, uint64(0xFFFFFFFF_FFFFFF80), b.reg(3))
	assert.Equal(t, uint64(0x80), b.reg(4))
	assert.Equal(t, uint64(0xFFFFFFFF_FFFFF2F3), b.reg(5))
	assert.Equal(t, uint64(0xF2F3), b.reg(6))
	assert.Equal(t, uint64(0x8081F2F3), b.reg(7))
	assert.Equal(t, uint32(0x8000F2F3), b.bus.Read32(0x2008))
}

func TestDoublewordAccess(t *testing.T) {
	b := newBench(t)
	b.setReg(2, dataBase)
	b.setReg(3, 0x0123456789ABCDEF)
	b.asm(codeBase,
		iType(0x3F, 2, 3, 0x10), // sd r3, 16(r2)
		iType(0x37, 2, 4, 0x10), // ld r4, 16(r2)
		lw(5, 2, 0x10),
	)
	b.asm(codeBase+12, halt...)
	b.run(30)

	assert.Equal(t, uint64(0x0123456789ABCDEF), b.reg(4))
	assert.Equal(t, uint64(0x01234567), b.reg(5))
	assert.Equal(t, uint32(0x89ABCDEF), b.bus.Read32(0x2014))
}

func TestAddressError(t *testing.T) {
	b := newBench(t)
	b.setReg(2, dataBase+2)
	b.asm(codeBase, lw(1, 2, 0))
	b.asm(codeBase+4, halt...)
	b.run(20)

	assert.Equal(t, uint32(generalVec), b.pc())
	assert.Equal(t, excADEL, b.excCode())
	assert.Equal(t, uint64(0xFFFFFFFF_80002002), b.cop0(COP0BadVAddr))
}

func TestUnalignedWordLoadBigEndian(t *testing.T) {
	b := newBench(t)
	b.bus.Write32(0x2000, 0x11223344)
	b.bus.Write32(0x2004, 0x55667788)
	b.setReg(2, dataBase)
	b.asm(codeBase,
		lwl(3, 2, 1), lwr(3, 2, 4),
		lwl(4, 2, 0), lwr(4, 2, 3),
	)
	b.asm(codeBase+16, halt...)
	b.run(30)

	assert.Equal(t, uint64(0x22334455), b.reg(3))
	assert.Equal(t, uint64(0x11223344), b.reg(4))
}

func TestUnalignedWordStoreBigEndian(t *testing.T) {
	b := newBench(t)
	b.setReg(2, dataBase)
	b.setReg(3, 0xFFFFFFFF_A1B2C3D4)
	b.asm(codeBase, swl(3, 2, 1), swr(3, 2, 4))
	b.asm(codeBase+8, halt...)
	b.run(20)

	var got []byte
	for a := uint32(0x2000); a < 0x2006; a++ {
		got = append(got, b.bus.Read8(a))
	}
	assert.Equal(t, []byte{0x00, 0xA1, 0xB2, 0xC3, 0xD4, 0x00}, got)
}

func TestUnalignedDoublewordLoad(t *testing.T) {
	b := newBench(t)
	b.bus.Write32(0x2000, 0x11223344)
	b.bus.Write32(0x2004, 0x55667788)
	b.bus.Write32(0x2008, 0x99AABBCC)
	b.bus.Write32(0x200C, 0xDDEEFF00)
	b.setReg(2, dataBase)
	b.asm(codeBase,
		ldl(3, 2, 0), ldr(3, 2, 7),
		ldl(4, 2, 2), ldr(4, 2, 9),
	)
	b.asm(codeBase+16, halt...)
	b.run(30)

	assert.Equal(t, uint64(0x1122334455667788), b.reg(3))
	assert.Equal(t, uint64(0x33445566778899AA), b.reg(4))
}

func TestUnalignedLittleEndian(t *testing.T) {
	b := newBench(t, littleEndian)
	// bytes 11 22 33 44 55 66 77 88 in address order
	b.bus.Write32(0x2000, 0x44332211)
	b.bus.Write32(0x2004, 0x88776655)
	b.setReg(2, dataBase)
	b.setReg(5, 0xCAFEBABE)
	b.asm(codeBase,
		lwr(3, 2, 1), lwl(3, 2, 4),
		lwr(4, 2, 0), lwl(4, 2, 3),
		swr(5, 2, 0x11), swl(5, 2, 0x14),
	)
	b.asm(codeBase+24, halt...)
	b.run(40)

	assert.Equal(t, uint64(0x55443322), b.reg(3))
	assert.Equal(t, uint64(0x44332211), b.reg(4))
	var got []byte
	for a := uint32(0x2010); a < 0x2016; a++ {
		got = append(got, b.bus.Read8(a))
	}
	assert.Equal(t, []byte{0x00, 0xBE, 0xBA, 0xFE, 0xCA, 0x00}, got)
}
