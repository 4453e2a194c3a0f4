package mips3

import (
	"testing"

	"github.com/stretchr/testify/require"
)

const (
	codeBase   = 0x80001000
	refillVec  = 0x80000000
	generalVec = 0x80000180
)

// Instruction encoders.
func iType(op, rs, rt uint32, imm uint16) uint32 { return op<<26 | rs<<21 | rt<<16 | uint32(imm) }
func rType(rs, rt, rd, sa, funct uint32) uint32 {
	return rs<<21 | rt<<16 | rd<<11 | sa<<6 | funct
}
func cop1(fmt, ft, fs, fd, funct uint32) uint32 {
	return 0x11<<26 | fmt<<21 | ft<<16 | fs<<11 | fd<<6 | funct
}

func addiu(rt, rs uint32, imm int16) uint32 { return iType(0x09, rs, rt, uint16(imm)) }
func addu(rd, rs, rt uint32) uint32          { return rType(rs, rt, rd, 0, 0x21) }
func add(rd, rs, rt uint32) uint32           { return rType(rs, rt, rd, 0, 0x20) }
func beq(rs, rt uint32, off int16) uint32    { return iType(0x04, rs, rt, uint16(off)) }
func bne(rs, rt uint32, off int16) uint32    { return iType(0x05, rs, rt, uint16(off)) }
func lw(rt, base uint32, off int16) uint32   { return iType(0x23, base, rt, uint16(off)) }
func sw(rt, base uint32, off int16) uint32   { return iType(0x2B, base, rt, uint16(off)) }
func mtc0(rt, rd uint32) uint32              { return 0x10<<26 | 0x04<<21 | rt<<16 | rd<<11 }
func mfc0(rt, rd uint32) uint32              { return 0x10<<26 | rt<<16 | rd<<11 }
func mtc1(rt, fs uint32) uint32              { return 0x11<<26 | 0x04<<21 | rt<<16 | fs<<11 }
func ctc1(rt, fs uint32) uint32              { return 0x11<<26 | 0x06<<21 | rt<<16 | fs<<11 }

const (
	nop     = 0
	eret    = 0x42000018
	syscall = 0x0000000C
)

// halt is a branch to itself.
var halt = []uint32{beq(0, 0, -1), nop}

type bench struct {
	t   *testing.T
	cpu *CPU
	bus *RAMBus
}

func newBench(t *testing.T, opts ...func(*Config)) *bench {
	t.Helper()
	cfg := DefaultConfig()
	cfg.CacheSize = 1 << 16
	cfg.DangerMargin = 1 << 12
	for _, o := range opts {
		o(&cfg)
	}
	bus := NewRAMBus(0, 1<<20, cfg.Endianness)
	cfg.FastRAM = append(cfg.FastRAM, bus.FastRAM())
	cpu, err := New(cfg, bus)
	require.NoError(t, err)

	b := &bench{t: t, cpu: cpu, bus: bus}
	b.asm(refillVec, halt...)
	b.asm(generalVec, halt...)
	cpu.SetRegister(RegCOP0+COP0Status, 0)
	cpu.SetRegister(RegPC, codeBase)
	return b
}

// asm writes instruction words at a kseg0 address.
func (b *bench) asm(addr uint32, words ...uint32) {
	for i, w := range words {
		b.bus.Write32(addr&0x1FFFFFFF+uint32(i)*4, w)
	}
}

func (b *bench) run(budget int) int {
	b.t.Helper()
	n, err := b.cpu.Execute(budget)
	require.NoError(b.t, err)
	return n
}

func (b *bench) reg(n int) uint64 { return b.cpu.GetRegister(RegR0 + RegID(n)) }

func (b *bench) setReg(n int, v uint64) { b.cpu.SetRegister(RegR0+RegID(n), v) }

func (b *bench) cop0(n int) uint64 { return b.cpu.GetRegister(RegCOP0 + RegID(n)) }

func (b *bench) pc() uint32 { return uint32(b.cpu.GetRegister(RegPC)) }

func (b *bench) excCode() int { return int(b.cop0(COP0Cause)>>2) & 0x1F }
