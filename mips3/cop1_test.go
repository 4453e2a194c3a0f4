package mips3

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

const (
	fmtS = 0x10
	fmtD = 0x11
)

func mfc1(rt, fs uint32) uint32 { return 0x11<<26 | rt<<16 | fs<<11 }
func cfc1(rt, fs uint32) uint32 { return 0x11<<26 | 0x02<<21 | rt<<16 | fs<<11 }
func bc1(tf bool, cc uint32, off int16) uint32 {
	op := uint32(0x11<<26|0x08<<21) | cc<<18 | uint32(uint16(off))
	if tf {
		op |= 1 << 16
	}
	return op
}

func TestFPUArithmeticAndRounding(t *testing.T) {
	b := newBench(t)
	c := b.cpu
	c.SetRegister(RegCOP0+COP0Status, SR_FR|SR_CU1)
	c.SetFloat64(2, 1.5)
	c.SetFloat64(4, 2.25)
	c.SetFloat64(14, -1.5)
	b.setReg(1, 1) // round toward zero
	b.asm(codeBase,
		cop1(fmtD, 4, 2, 6, 0x00),  // add.d f6, f2, f4
		cop1(fmtD, 0, 6, 8, 0x24),  // cvt.w.d f8, f6
		cop1(fmtD, 0, 6, 10, 0x0D), // trunc.w.d f10, f6
		cop1(fmtD, 0, 14, 12, 0x0F), // floor.w.d f12, f14
		ctc1(1, 31),
		cop1(fmtD, 0, 6, 16, 0x24), // cvt.w.d f16, f6
		cop1(fmtD, 4, 2, 0, 0x3C),  // c.lt.d f2, f4
		cfc1(5, 31),
		mfc1(3, 8),
	)
	b.asm(codeBase+36, halt...)
	b.run(50)

	assert.Equal(t, 3.75, c.Float64(6))
	assert.Equal(t, uint64(4), c.GetRegister(RegFPS+8))
	assert.Equal(t, uint64(3), c.GetRegister(RegFPS+10))
	assert.Equal(t, uint64(0xFFFFFFFE), c.GetRegister(RegFPS+12))
	assert.Equal(t, uint64(3), c.GetRegister(RegFPS+16))
	assert.Equal(t, uint64(0x00800001), b.reg(5))
	assert.Equal(t, uint64(4), b.reg(3))
	assert.Equal(t, uint64(0x00800001), c.GetRegister(RegFCR31))
}

func TestFPUSinglePrecisionFR0(t *testing.T) {
	b := newBench(t)
	c := b.cpu
	c.SetRegister(RegFPS+1, uint64(math.Float32bits(2)))
	c.SetRegister(RegFPS+2, uint64(math.Float32bits(0.5)))
	b.asm(codeBase,
		cop1(fmtS, 2, 1, 3, 0x02), // mul.s f3, f1, f2
		cop1(fmtS, 0, 3, 8, 0x21), // cvt.d.s f8, f3
		cop1(fmtS, 0, 1, 5, 0x07), // neg.s f5, f1
		cop1(fmtS, 0, 5, 6, 0x05), // abs.s f6, f5
		cop1(fmtS, 0, 1, 7, 0x04), // sqrt.s f7, f1
	)
	b.asm(codeBase+20, halt...)
	b.run(30)

	assert.Equal(t, uint64(math.Float32bits(1)), c.GetRegister(RegFPS+3))
	assert.Equal(t, 1.0, c.Float64(8))
	assert.Equal(t, uint64(math.Float32bits(-2)), c.GetRegister(RegFPS+5))
	assert.Equal(t, uint64(math.Float32bits(2)), c.GetRegister(RegFPS+6))
	assert.Equal(t, uint64(math.Float32bits(float32(math.Sqrt(2)))), c.GetRegister(RegFPS+7))
	// f1 shares a slot with f0 when FR is clear
	assert.Equal(t, uint64(math.Float32bits(2)), c.GetRegister(RegFPR+0)>>32)
}

func TestFPUConversions(t *testing.T) {
	b := newBench(t)
	c := b.cpu
	c.SetRegister(RegCOP0+COP0Status, SR_FR)
	c.SetRegister(RegFPS+1, uint64(uint32(0xFFFFFFF9))) // -7 as a word
	c.SetRegister(RegFPD+2, uint64(1)<<40)
	b.asm(codeBase,
		cop1(0x14, 0, 1, 3, 0x21),   // cvt.d.w f3, f1
		cop1(0x15, 0, 2, 4, 0x21),   // cvt.d.l f4, f2
		cop1(fmtD, 0, 3, 5, 0x20),   // cvt.s.d f5, f3
		cop1(fmtD, 0, 4, 6, 0x25),   // cvt.l.d f6, f4
		cop1(fmtD, 0, 3, 7, 0x09),   // trunc.l.d f7, f3
	)
	b.asm(codeBase+20, halt...)
	b.run(30)

	assert.Equal(t, -7.0, c.Float64(3))
	assert.Equal(t, float64(uint64(1)<<40), c.Float64(4))
	assert.Equal(t, uint64(math.Float32bits(-7)), c.GetRegister(RegFPS+5))
	assert.Equal(t, uint64(1)<<40, c.GetRegister(RegFPD+6))
	assert.Equal(t, uint64(math.MaxUint64-6), c.GetRegister(RegFPD+7))
}

func TestBranchOnFPUCondition(t *testing.T) {
	b := newBench(t)
	c := b.cpu
	c.SetRegister(RegCOP0+COP0Status, SR_FR)
	c.SetFloat64(2, 1)
	c.SetFloat64(4, 1)
	b.asm(codeBase,
		cop1(fmtD, 4, 2, 0, 0x32), // c.eq.d f2, f4
		bc1(true, 0, 2),
		addiu(2, 0, 1), // delay slot
		addiu(3, 0, 1), // skipped
	)
	b.asm(codeBase+16, halt...)
	b.run(20)

	assert.Equal(t, uint64(1), b.reg(2))
	assert.Zero(t, b.reg(3))
	assert.Equal(t, uint32(codeBase+16), b.pc())
}

func TestMIPS4ConditionCodes(t *testing.T) {
	b := newBench(t, func(cfg *Config) { cfg.ISA = MIPS4 })
	c := b.cpu
	c.SetRegister(RegCOP0+COP0Status, SR_FR)
	c.SetFloat64(2, 1)
	c.SetFloat64(4, 2)
	b.setReg(6, 7)
	b.setReg(7, 1)
	b.asm(codeBase,
		cop1(fmtD, 4, 2, 3<<2, 0x3C),  // c.lt.d cc3, f2, f4
		rType(6, 7, 8, 0, 0x0B),       // movn r8, r6, r7
		rType(6, 0, 9, 0, 0x0B),       // movn r9, r6, r0
		bc1(false, 3, 2),              // bc1f cc3
		nop,
		addiu(2, 0, 1),
	)
	b.asm(codeBase+24, halt...)
	b.run(20)

	assert.NotZero(t, c.GetRegister(RegFCR31)&(1<<27))
	assert.Zero(t, c.GetRegister(RegFCR31)&(1<<23))
	assert.Equal(t, uint64(7), b.reg(8))
	assert.Zero(t, b.reg(9))
	assert.Equal(t, uint64(1), b.reg(2))
}

func TestMIPS4OpsInvalidOnMIPS3(t *testing.T) {
	b := newBench(t)
	b.asm(codeBase, rType(6, 7, 8, 0, 0x0B)) // movn
	b.asm(codeBase+4, halt...)
	b.run(10)

	assert.Equal(t, uint32(generalVec), b.pc())
	assert.Equal(t, excRI, b.excCode())
}
