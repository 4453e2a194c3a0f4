package mips3

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimerInterrupt(t *testing.T) {
	var scheduled []int64
	b := newBench(t, func(cfg *Config) {
		cfg.Timer = func(cycles int64) { scheduled = append(scheduled, cycles) }
	})
	b.asm(codeBase, halt...)
	b.cpu.SetRegister(RegCOP0+COP0Compare, 10)
	b.cpu.SetRegister(RegCOP0+COP0Status, SR_IE|1<<15)
	require.NotEmpty(t, scheduled)
	assert.Equal(t, int64(20), scheduled[len(scheduled)-1])

	b.run(100)
	assert.Equal(t, uint32(generalVec), b.pc())
	assert.Equal(t, excINT, b.excCode())
	assert.NotZero(t, b.cop0(COP0Cause)&CAUSE_IP7)
	assert.Equal(t, uint32(codeBase), uint32(b.cop0(COP0EPC)))
	assert.NotZero(t, b.cop0(COP0Status)&SR_EXL)

	// writing Compare acknowledges the interrupt
	b.cpu.SetRegister(RegCOP0+COP0Compare, 0)
	assert.Zero(t, b.cop0(COP0Cause)&CAUSE_IP7)
}

func TestTimerMasked(t *testing.T) {
	b := newBench(t)
	b.asm(codeBase, halt...)
	b.cpu.SetRegister(RegCOP0+COP0Compare, 10)
	b.run(100)

	assert.Equal(t, uint32(codeBase), b.pc())
	assert.NotZero(t, b.cop0(COP0Cause)&CAUSE_IP7)
}

func TestCountAdvancesAtHalfRate(t *testing.T) {
	b := newBench(t)
	b.asm(codeBase, halt...)
	b.run(40)
	total := b.cpu.TotalCycles()
	assert.Equal(t, uint64(total/2), b.cop0(COP0Count))

	b.cpu.SetRegister(RegCOP0+COP0Count, 1000)
	assert.Equal(t, uint64(1000), b.cop0(COP0Count))
	b.run(40)
	assert.Equal(t, uint64(1000+(b.cpu.TotalCycles()-total)/2), b.cop0(COP0Count))
}

func TestExternalInterrupt(t *testing.T) {
	b := newBench(t)
	b.asm(codeBase, halt...)
	b.cpu.SetRegister(RegCOP0+COP0Status, SR_IE|1<<10)
	b.run(10)
	assert.Equal(t, uint32(codeBase), b.pc())

	b.cpu.SetIRQLine(0, true)
	b.run(10)
	assert.Equal(t, uint32(generalVec), b.pc())
	assert.Equal(t, excINT, b.excCode())
	assert.NotZero(t, b.cop0(COP0Cause)&(1<<10))

	b.cpu.SetIRQLine(0, false)
	assert.Zero(t, b.cop0(COP0Cause)&(1<<10))
}

func TestEnablingInterruptsInCode(t *testing.T) {
	b := newBench(t)
	b.cpu.SetIRQLine(1, true)
	b.setReg(1, SR_IE|1<<11)
	b.asm(codeBase, mtc0(1, COP0Status), addiu(2, 0, 1))
	b.asm(codeBase+8, halt...)
	b.run(20)

	// the interrupt is taken before the instruction after the mtc0
	assert.Equal(t, uint32(generalVec), b.pc())
	assert.Equal(t, uint32(codeBase+4), uint32(b.cop0(COP0EPC)))
	assert.Zero(t, b.reg(2))
}

func TestSoftwareInterrupt(t *testing.T) {
	b := newBench(t)
	b.cpu.SetRegister(RegCOP0+COP0Status, SR_IE|1<<8)
	b.setReg(1, 1<<8)
	b.asm(codeBase, mtc0(1, COP0Cause), addiu(2, 0, 1))
	b.asm(codeBase+8, halt...)
	b.run(20)

	assert.Equal(t, uint32(generalVec), b.pc())
	assert.Equal(t, uint32(codeBase+4), uint32(b.cop0(COP0EPC)))
	assert.Zero(t, b.reg(2))
}

func TestMFC0ComputedRegisters(t *testing.T) {
	b := newBench(t)
	b.cpu.SetRegister(RegCOP0+COP0Wired, 8)
	b.asm(codeBase, mfc0(1, COP0Random), mfc0(2, COP0PRId))
	b.asm(codeBase+8, halt...)
	b.run(10)

	assert.GreaterOrEqual(t, b.reg(1), uint64(8))
	assert.Less(t, b.reg(1), uint64(NumTLBEntries))
	assert.Equal(t, uint64(0x2020), b.reg(2))
}

func TestReadOnlyCOP0(t *testing.T) {
	b := newBench(t)
	b.cpu.SetRegister(RegCOP0+COP0PRId, 0x1234)
	b.cpu.SetRegister(RegCOP0+COP0BadVAddr, 0x1234)
	assert.Equal(t, uint64(0x2020), b.cop0(COP0PRId))
	assert.Zero(t, b.cop0(COP0BadVAddr))
}
