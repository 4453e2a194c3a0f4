package mips3

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFRModeChangeRecompiles(t *testing.T) {
	b := newBench(t)
	b.setReg(1, 0x3F800000)
	b.asm(codeBase, mtc1(1, 1))
	b.asm(codeBase+4, halt...)
	b.run(10)

	// FR clear: odd singles live in the high half of the even slot
	assert.Equal(t, uint64(0x3F800000), b.cpu.GetRegister(RegFPR+0)>>32)
	assert.Equal(t, uint64(0x3F800000), b.cpu.GetRegister(RegFPS+1))
	before := b.cpu.DRC().Lookup(codeBase)

	b.cpu.SetRegister(RegCOP0+COP0Status, SR_FR)
	b.cpu.SetRegister(RegPC, codeBase)
	b.setReg(1, 0x40000000)
	b.run(10)

	assert.NotEqual(t, before, b.cpu.DRC().Lookup(codeBase))
	assert.Equal(t, uint64(0x40000000), b.cpu.GetRegister(RegFPR+1)&0xFFFFFFFF)
	assert.Equal(t, uint64(0x3F800000), b.cpu.GetRegister(RegFPR+0)>>32)
	assert.Equal(t, uint64(0x40000000), b.cpu.GetRegister(RegFPS+1))
}

func TestMidBlockEntryAfterFRChange(t *testing.T) {
	b := newBench(t)
	b.asm(codeBase, addiu(3, 0, 1), mfc1(2, 1))
	b.asm(codeBase+8, halt...)
	b.run(10)
	require.Equal(t, uint64(1), b.reg(3))
	before := b.cpu.DRC().Lookup(codeBase + 4)

	c := b.cpu
	c.SetRegister(RegCOP0+COP0Status, SR_FR)
	c.SetRegister(RegFPR+0, 0x11111111_22222222)
	c.SetRegister(RegFPR+1, 0x33333333)
	c.SetRegister(RegPC, codeBase+4)
	b.setReg(3, 0)
	b.run(10)

	assert.Equal(t, uint64(0x33333333), b.reg(2))
	assert.Zero(t, b.reg(3))
	assert.NotEqual(t, before, c.DRC().Lookup(codeBase+4))
}

func TestMidBlockEntryAfterOverwrite(t *testing.T) {
	for _, strict := range []bool{false, true} {
		name := "coarse"
		if strict {
			name = "strict"
		}
		t.Run(name, func(t *testing.T) {
			b := newBench(t, func(cfg *Config) { cfg.StrictVerify = strict })
			b.asm(codeBase, addiu(3, 0, 1), addiu(2, 0, 7))
			b.asm(codeBase+8, halt...)
			b.run(10)
			require.Equal(t, uint64(7), b.reg(2))

			b.asm(codeBase+4, addiu(2, 0, 9))
			b.cpu.SetRegister(RegPC, codeBase+4)
			b.setReg(3, 0)
			b.run(10)
			assert.Equal(t, uint64(9), b.reg(2))
			assert.Zero(t, b.reg(3))
		})
	}
}

func TestMidBlockEntryReusesCode(t *testing.T) {
	b := newBench(t)
	b.asm(codeBase, addiu(3, 0, 1), addiu(2, 2, 1))
	b.asm(codeBase+8, halt...)
	b.run(10)
	entry := b.cpu.DRC().Lookup(codeBase + 4)

	b.cpu.SetRegister(RegPC, codeBase+4)
	b.run(10)
	assert.Equal(t, uint64(2), b.reg(2))
	assert.Equal(t, entry, b.cpu.DRC().Lookup(codeBase+4))
}

func TestSelfModifyingCode(t *testing.T) {
	for _, strict := range []bool{false, true} {
		name := "coarse"
		if strict {
			name = "strict"
		}
		t.Run(name, func(t *testing.T) {
			b := newBench(t, func(cfg *Config) { cfg.StrictVerify = strict })
			b.setReg(3, uint64(addiu(2, 0, 2)))
			b.setReg(4, codeBase)
			b.asm(codeBase, addiu(2, 0, 1), sw(3, 4, 0))
			b.asm(codeBase+8, halt...)
			b.run(10)
			require.Equal(t, uint64(1), b.reg(2))
			require.Equal(t, addiu(2, 0, 2), b.bus.Read32(0x1000))

			b.cpu.SetRegister(RegPC, codeBase)
			b.run(10)
			assert.Equal(t, uint64(2), b.reg(2))
		})
	}
}

func TestRemapRecompiles(t *testing.T) {
	b := newBench(t)
	// virtual page 0x00401000 first maps to physical 0x3000, then to 0x4000
	b.mapPair(0, 0x00400000, 3, entryLoV)
	b.asm(0x80003000, addiu(2, 0, 3))
	b.asm(0x80003004, halt...)
	b.asm(0x80004000, addiu(2, 0, 4))
	b.asm(0x80004004, halt...)

	b.cpu.SetRegister(RegPC, 0x00401000)
	b.run(10)
	require.Equal(t, uint64(3), b.reg(2))

	b.mapPair(0, 0x00400000, 4, entryLoV)
	b.cpu.SetRegister(RegPC, 0x00401000)
	b.run(10)
	assert.Equal(t, uint64(4), b.reg(2))
}

func TestInstructionFetchFault(t *testing.T) {
	b := newBench(t)
	b.cpu.SetRegister(RegPC, 0x00401000)
	b.run(10)

	assert.Equal(t, uint32(refillVec), b.pc())
	assert.Equal(t, excTLBL, b.excCode())
	assert.Equal(t, uint64(0x00401000), b.cop0(COP0BadVAddr))
	assert.Equal(t, uint32(0x00401000), uint32(b.cop0(COP0EPC)))

	// once mapped the same PC runs
	b.mapPair(0, 0x00400000, 3, entryLoV)
	b.asm(0x80003000, addiu(2, 0, 9))
	b.asm(0x80003004, halt...)
	b.cpu.SetRegister(RegCOP0+COP0Status, 0)
	b.cpu.SetRegister(RegPC, 0x00401000)
	b.run(10)
	assert.Equal(t, uint64(9), b.reg(2))
}

func TestCacheInvalidateFlushes(t *testing.T) {
	b := newBench(t)
	b.setReg(4, 0x80003000)
	b.setReg(5, codeBase)
	b.asm(codeBase,
		iType(0x2F, 4, 0x10, 0), // cache hit-invalidate on a line with no code
		addiu(2, 0, 1),
		iType(0x2F, 5, 0x10, 0), // cache hit-invalidate on this block
		addiu(2, 2, 1),
	)
	b.asm(codeBase+16, halt...)
	flushes := b.cpu.DRC().Flushes()
	b.run(20)

	assert.Equal(t, uint64(2), b.reg(2))
	assert.Equal(t, flushes+1, b.cpu.DRC().Flushes())
	assert.Equal(t, uint32(codeBase+16), b.pc())
}

func TestCacheFullFlushes(t *testing.T) {
	b := newBench(t, func(cfg *Config) {
		cfg.CacheSize = 2048
		cfg.DangerMargin = 1024
		cfg.MaxInstructions = 16
	})
	const n = 300
	for i := uint32(0); i < n; i++ {
		b.asm(codeBase+4*i, addiu(2, 2, 1))
	}
	b.asm(codeBase+4*n, halt...)
	b.run(n + 20)

	assert.Equal(t, uint64(n), b.reg(2))
	assert.Greater(t, b.cpu.DRC().Flushes(), 1)
	assert.Equal(t, uint32(codeBase+4*n), b.pc())
}

func TestFlushCodeKeepsState(t *testing.T) {
	b := newBench(t)
	b.asm(codeBase, addiu(2, 2, 1))
	b.asm(codeBase+4, halt...)
	b.run(10)
	require.NoError(t, b.cpu.FlushCode())
	assert.Equal(t, b.cpu.DRC().RecompileStub, b.cpu.DRC().Lookup(codeBase))

	b.cpu.SetRegister(RegPC, codeBase)
	b.run(10)
	assert.Equal(t, uint64(2), b.reg(2))
}
