package mips3

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestZeroRegister(t *testing.T) {
	b := newBench(t)
	b.setReg(5, 1234)
	b.setReg(6, 99)
	b.asm(codeBase, addiu(0, 5, 100), addu(6, 0, 0))
	b.asm(codeBase+8, halt...)
	b.run(50)

	assert.Equal(t, uint64(0), b.reg(0))
	assert.Equal(t, uint64(0), b.reg(6))
	assert.Equal(t, uint32(codeBase+8), b.pc())
}

func TestSetRegisterR0Ignored(t *testing.T) {
	b := newBench(t)
	b.setReg(0, 42)
	assert.Equal(t, uint64(0), b.reg(0))
	b.setReg(31, 0xFFFFFFFF_80000000)
	assert.Equal(t, uint64(0xFFFFFFFF_80000000), b.reg(31))
}

func TestBranchDelaySlot(t *testing.T) {
	tests := []struct {
		name   string
		branch uint32
		want   uint64
		end    uint32
	}{
		{"taken", beq(1, 1, 2), 1, codeBase + 12},
		{"not taken", bne(1, 1, 2), 101, codeBase + 12},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newBench(t)
			b.asm(codeBase, tt.branch, addiu(2, 2, 1), addiu(2, 2, 100))
			b.asm(codeBase+12, halt...)
			b.run(50)
			assert.Equal(t, tt.want, b.reg(2))
			assert.Equal(t, tt.end, b.pc())
		})
	}
}

func TestLikelyBranches(t *testing.T) {
	regimm := func(rt uint32) uint32 { return iType(0x01, 1, rt, 2) }
	tests := []struct {
		name   string
		branch uint32
		taken  bool
		cycles int
	}{
		{"beq", beq(1, 1, 2), true, 2},
		{"bne", bne(1, 1, 2), false, 2},
		{"beql taken", iType(0x14, 1, 1, 2), true, 3},
		{"beql not taken", iType(0x14, 1, 0, 2), false, 3},
		{"bnel taken", iType(0x15, 1, 0, 2), true, 3},
		{"bnel not taken", iType(0x15, 1, 1, 2), false, 3},
		{"blezl taken", iType(0x16, 0, 0, 2), true, 3},
		{"blezl not taken", iType(0x16, 1, 0, 2), false, 3},
		{"bgtzl taken", iType(0x17, 1, 0, 2), true, 3},
		{"bgtzl not taken", iType(0x17, 0, 0, 2), false, 3},
		{"bltzl not taken", regimm(0x02), false, 3},
		{"bgezl taken", regimm(0x03), true, 3},
		{"bltzall not taken", regimm(0x12), false, 3},
		{"bgezall taken", regimm(0x13), true, 3},
		{"bc1fl taken", bc1(false, 0, 2) | 1<<17, true, 3},
		{"bc1tl not taken", bc1(true, 0, 2) | 1<<17, false, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newBench(t)
			b.setReg(1, 5)
			b.asm(codeBase, tt.branch, addiu(2, 2, 1), addiu(2, 2, 100))
			b.asm(codeBase+12, halt...)

			// a budget of one stops at the first cycle check, which follows the branch on both paths
			n := b.run(1)
			assert.Equal(t, tt.cycles, n)
			assert.Equal(t, uint64(1), b.reg(2))
			want, wantPC := uint64(101), uint32(codeBase+8)
			if tt.taken {
				want, wantPC = 1, codeBase+12
			}
			assert.Equal(t, wantPC, b.pc())

			b.run(20)
			assert.Equal(t, want, b.reg(2))
			assert.Equal(t, uint32(codeBase+12), b.pc())
		})
	}
}

func TestJumpAndLink(t *testing.T) {
	b := newBench(t)
	jal := uint32(0x03<<26 | (codeBase+0x100)>>2&0x03FFFFFF)
	b.asm(codeBase, jal, addiu(2, 0, 5))
	b.asm(codeBase+0x100, rType(31, 0, 0, 0, 0x08), addiu(3, 2, 1)) // jr ra
	b.asm(codeBase+8, halt...)
	b.run(50)

	assert.Equal(t, uint64(0xFFFFFFFF_80001008), b.reg(31))
	assert.Equal(t, uint64(5), b.reg(2))
	assert.Equal(t, uint64(6), b.reg(3))
	assert.Equal(t, uint32(codeBase+8), b.pc())
}

func TestArithmetic(t *testing.T) {
	b := newBench(t)
	b.setReg(1, 0x7FFFFFFF)
	b.setReg(2, 1)
	b.setReg(3, 0xFFFFFFFF_FFFFFFFE) // -2
	b.asm(codeBase,
		addu(4, 1, 2),                       // wraps and sign extends
		rType(1, 3, 0, 0, 0x18),             // mult
		rType(0, 0, 5, 0, 0x12),             // mflo
		rType(0, 0, 6, 0, 0x10),             // mfhi
		rType(0, 1, 7, 4, 0x00),             // sll r7, r1, 4
		rType(0, 3, 8, 1, 0x03),             // sra r8, r3, 1
		iType(0x0F, 0, 9, 0x8000),           // lui
		iType(0x0D, 9, 9, 0x1234),           // ori
		rType(3, 2, 10, 0, 0x2A),            // slt r10, r3, r2
		rType(3, 2, 11, 0, 0x2B),            // sltu r11, r3, r2
		rType(0, 1, 12, 0, 0x3C),            // dsll32 r12, r1, 0
		rType(1, 2, 13, 0, 0x2D),            // daddu
	)
	b.asm(codeBase+48, halt...)
	b.run(100)

	assert.Equal(t, uint64(0xFFFFFFFF_80000000), b.reg(4))
	assert.Equal(t, uint64(2), b.reg(5))
	assert.Equal(t, uint64(0xFFFFFFFF_FFFFFFFF), b.reg(6))
	assert.Equal(t, uint64(0xFFFFFFFF_FFFFFFF0), b.reg(7))
	assert.Equal(t, uint64(0xFFFFFFFF_FFFFFFFF), b.reg(8))
	assert.Equal(t, uint64(0xFFFFFFFF_80001234), b.reg(9))
	assert.Equal(t, uint64(1), b.reg(10))
	assert.Equal(t, uint64(0), b.reg(11))
	assert.Equal(t, uint64(0x7FFFFFFF_00000000), b.reg(12))
	assert.Equal(t, uint64(0x80000000), b.reg(13))
}

func TestDivideByZero(t *testing.T) {
	b := newBench(t)
	b.setReg(1, 5)
	b.setReg(2, 0)
	b.asm(codeBase, rType(1, 2, 0, 0, 0x1A), addiu(3, 0, 7))
	b.asm(codeBase+8, halt...)
	b.run(100)

	assert.Equal(t, uint64(7), b.reg(3))
	assert.Equal(t, uint32(codeBase+8), b.pc())
	assert.Zero(t, b.cop0(COP0Status)&SR_EXL)
}

func TestDivide(t *testing.T) {
	b := newBench(t)
	b.setReg(1, uint64(math.MaxUint64-6)) // -7
	b.setReg(2, 2)
	b.asm(codeBase, rType(1, 2, 0, 0, 0x1A))
	b.asm(codeBase+4, halt...)
	b.run(100)

	assert.Equal(t, uint64(0xFFFFFFFF_FFFFFFFD), b.cpu.GetRegister(RegLO))
	assert.Equal(t, uint64(0xFFFFFFFF_FFFFFFFF), b.cpu.GetRegister(RegHI))
}

func TestAddOverflowTraps(t *testing.T) {
	b := newBench(t)
	b.setReg(1, 0x1234)
	b.setReg(2, 0x7FFFFFFF)
	b.setReg(3, 1)
	b.asm(codeBase, add(1, 2, 3))
	b.asm(codeBase+4, halt...)
	b.run(50)

	assert.Equal(t, uint64(0x1234), b.reg(1))
	assert.Equal(t, excOV, b.excCode())
	assert.Equal(t, uint32(generalVec), b.pc())
	assert.Equal(t, uint32(codeBase), uint32(b.cop0(COP0EPC)))
	assert.NotZero(t, b.cop0(COP0Status)&SR_EXL)
	assert.Zero(t, b.cop0(COP0Cause)&CAUSE_BD)
}

func TestExceptionInDelaySlot(t *testing.T) {
	b := newBench(t)
	b.setReg(2, 0x7FFFFFFF)
	b.setReg(3, 1)
	b.asm(codeBase, beq(0, 0, 4), add(1, 2, 3))
	b.run(50)

	assert.Equal(t, excOV, b.excCode())
	assert.Equal(t, uint32(codeBase), uint32(b.cop0(COP0EPC)))
	assert.NotZero(t, b.cop0(COP0Cause)&CAUSE_BD)
	assert.Equal(t, uint32(generalVec), b.pc())
}

func TestSyscall(t *testing.T) {
	b := newBench(t)
	b.asm(codeBase, addiu(2, 0, 1), syscall)
	b.run(50)

	assert.Equal(t, excSYS, b.excCode())
	assert.Equal(t, uint32(codeBase+4), uint32(b.cop0(COP0EPC)))
	assert.Equal(t, uint64(1), b.reg(2))
}

func TestReservedInstruction(t *testing.T) {
	b := newBench(t)
	b.asm(codeBase, 0x12<<26) // COP2
	b.run(50)
	assert.Equal(t, excRI, b.excCode())
	assert.Equal(t, uint32(generalVec), b.pc())
}

func TestUnimplementedOpcodeIsFatal(t *testing.T) {
	b := newBench(t)
	b.asm(codeBase, cop1(0x03, 0, 0, 0, 0))
	_, err := b.cpu.Execute(50)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnimplemented))
	var oe *OpcodeError
	require.True(t, errors.As(err, &oe))
	assert.Equal(t, uint32(codeBase), oe.PC)
	assert.Equal(t, uint32(0x11), oe.Primary)
	assert.Equal(t, uint32(0x03), oe.Secondary)
}

func TestEret(t *testing.T) {
	b := newBench(t)
	b.cpu.SetRegister(RegCOP0+COP0Status, SR_EXL)
	b.setReg(1, 0x80002000)
	b.asm(codeBase, mtc0(1, COP0EPC), eret)
	b.asm(0x80002000, halt...)
	b.run(50)

	assert.Equal(t, uint32(0x80002000), b.pc())
	assert.Zero(t, b.cop0(COP0Status)&SR_EXL)
}

func TestStrictCOP0(t *testing.T) {
	b := newBench(t, func(cfg *Config) { cfg.StrictCOP0 = true })
	b.cpu.SetRegister(RegCOP0+COP0Status, 0x10) // user mode
	b.asm(codeBase, mfc0(2, COP0Status))
	b.run(50)

	assert.Equal(t, excCPU, b.excCode())
	assert.Equal(t, uint64(0), b.cop0(COP0Cause)&CAUSE_CE)
}

func TestStrictCOP1(t *testing.T) {
	b := newBench(t, func(cfg *Config) { cfg.StrictCOP1 = true })
	b.asm(codeBase, mtc1(1, 2))
	b.run(50)

	assert.Equal(t, excCPU, b.excCode())
	assert.Equal(t, uint64(1)<<28, b.cop0(COP0Cause)&CAUSE_CE)
}

func TestMaxInstructionsSplitsBlocks(t *testing.T) {
	b := newBench(t, func(cfg *Config) { cfg.MaxInstructions = 2 })
	for i := uint32(0); i < 5; i++ {
		b.asm(codeBase+i*4, addiu(2, 2, 1))
	}
	b.asm(codeBase+20, halt...)
	b.run(100)

	assert.Equal(t, uint64(5), b.reg(2))
	assert.Contains(t, b.cpu.blocks, uint32(codeBase))
	assert.Contains(t, b.cpu.blocks, uint32(codeBase+8))
	assert.Contains(t, b.cpu.blocks, uint32(codeBase+16))
}

func TestNOPAbsorptionKeepsResults(t *testing.T) {
	for _, absorb := range []int{0, 4} {
		b := newBench(t, func(cfg *Config) { cfg.NOPAbsorb = absorb })
		b.asm(codeBase, addiu(2, 0, 3), nop, nop, addiu(2, 2, 4), nop)
		b.asm(codeBase+20, halt...)
		b.run(100)
		assert.Equal(t, uint64(7), b.reg(2), "absorb=%d", absorb)
		assert.Equal(t, uint32(codeBase+20), b.pc(), "absorb=%d", absorb)
	}
}

func TestExecuteResumesBetweenInstructions(t *testing.T) {
	b := newBench(t)
	for i := uint32(0); i < 4; i++ {
		b.asm(codeBase+i*4, addiu(2, 2, 1))
	}
	b.asm(codeBase+16, halt...)

	n := b.run(1)
	assert.GreaterOrEqual(t, n, 1)
	assert.Equal(t, uint64(2), b.reg(2))
	assert.Equal(t, uint32(codeBase+8), b.pc())

	b.run(1)
	assert.Equal(t, uint64(4), b.reg(2))
	assert.Equal(t, int64(4), b.cpu.TotalCycles())
}

func TestHotspotChargesCycles(t *testing.T) {
	b := newBench(t, func(cfg *Config) {
		cfg.Hotspots = []Hotspot{{PC: codeBase, Opcode: addiu(2, 0, 1), Cycles: 10}}
	})
	b.asm(codeBase, addiu(2, 0, 1))
	b.asm(codeBase+4, halt...)
	assert.Equal(t, 11, b.run(5))
}

func TestDebuggerHook(t *testing.T) {
	var pcs []uint32
	b := newBench(t, func(cfg *Config) { cfg.Debugger = func(pc uint32) { pcs = append(pcs, pc) } })
	b.asm(codeBase, addiu(2, 0, 1), addiu(3, 0, 2))
	b.asm(codeBase+8, halt...)
	b.run(4)
	require.GreaterOrEqual(t, len(pcs), 3)
	assert.Equal(t, []uint32{codeBase, codeBase + 4, codeBase + 8}, pcs[:3])
}

func TestConfigLimits(t *testing.T) {
	b := newBench(t)
	for i := len(b.cpu.cfg.FastRAM); i < MaxFastRAM; i++ {
		require.NoError(t, b.cpu.AddFastRAM(b.bus.FastRAM()))
	}
	assert.ErrorIs(t, b.cpu.AddFastRAM(b.bus.FastRAM()), ErrTooManyFastRAM)

	for i := 0; i < MaxHotspots; i++ {
		require.NoError(t, b.cpu.AddHotspot(Hotspot{PC: uint32(i * 4)}))
	}
	assert.ErrorIs(t, b.cpu.AddHotspot(Hotspot{}), ErrTooManyHotspots)

	cfg := DefaultConfig()
	cfg.FastRAM = []FastRAM{{Start: 0, End: 0xFF, Base: make([]byte, 16)}}
	_, err := New(cfg, NewRAMBus(0, 256, BigEndian))
	assert.ErrorIs(t, err, ErrBadFastRAM)
}

func TestDangerMarginCoversLargestBlock(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CacheSize = 1 << 16
	cfg.DangerMargin = 64
	cfg.MaxInstructions = 100
	c, err := New(cfg, NewRAMBus(0, 1<<12, BigEndian))
	require.NoError(t, err)
	assert.Equal(t, 100*MaxOpsPerInstruction, c.cfg.DangerMargin)

	cfg.CacheSize = 1 << 12
	cfg.MaxInstructions = 1000
	_, err = New(cfg, NewRAMBus(0, 1<<12, BigEndian))
	assert.ErrorIs(t, err, ErrCacheTooSmall)
}

func TestResetState(t *testing.T) {
	b := newBench(t, func(cfg *Config) { cfg.Flavor = R5000 })
	b.setReg(4, 9)
	require.NoError(t, b.cpu.Reset())

	assert.Equal(t, uint32(0xBFC00000), b.pc())
	assert.Equal(t, uint64(SR_BEV|SR_ERL), b.cop0(COP0Status))
	assert.Equal(t, uint64(0x2320), b.cop0(COP0PRId))
	assert.Equal(t, uint64(0x2320), b.cpu.GetRegister(RegFCR0))
	assert.Equal(t, uint64(0), b.reg(4))
	assert.NotZero(t, b.cop0(COP0Config)&(1<<15))
}

func TestListing(t *testing.T) {
	b := newBench(t)
	b.asm(codeBase, addiu(2, 0, 1))
	b.asm(codeBase+4, halt...)
	b.run(10)

	listing, err := b.cpu.Listing(codeBase)
	require.NoError(t, err)
	assert.Contains(t, listing, "; block 80001000")
	assert.Contains(t, listing, "entry")

	_, err = b.cpu.Listing(0x80005000)
	assert.Error(t, err)
}
