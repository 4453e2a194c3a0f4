// Package x64 lowers drc IR to x86-64 machine code for host listings.
package x64

import "github.com/colorfulnotion/mipsdrc/drc"

// X86Reg represents an x86-64 register with encoding information
type X86Reg struct {
	Name    string
	RegBits byte // 3-bit code for ModRM/SIB
	REXBit  byte // 1 if register index >= 8
}

var (
	RAX = X86Reg{"rax", 0, 0}
	RCX = X86Reg{"rcx", 1, 0} // shift counts go through cl
	RDX = X86Reg{"rdx", 2, 0} // paired with rax for mul/div
	RBX = X86Reg{"rbx", 3, 0}
	RSP = X86Reg{"rsp", 4, 0}
	RSI = X86Reg{"rsi", 6, 0}
	RDI = X86Reg{"rdi", 7, 0}
	R8  = X86Reg{"r8", 0, 1}
	R9  = X86Reg{"r9", 1, 1}
	R10 = X86Reg{"r10", 2, 1} // scratch A
	R11 = X86Reg{"r11", 3, 1} // scratch B
	R12 = X86Reg{"r12", 4, 1} // context base
	R13 = X86Reg{"r13", 5, 1} // L1 lookup table base
	R15 = X86Reg{"r15", 7, 1} // remaining cycles
)

// tempRegs maps drc temporaries T0..T7 onto host registers.
var tempRegs = [drc.NumRegs]X86Reg{RAX, RCX, RDX, RBX, RSI, RDI, R8, R9}

var (
	BaseReg   = R12
	LookupReg = R13
	CycleReg  = R15
	scratchA  = R10
	scratchB  = R11
)

// xmm registers only need their 3-bit code; xmm0 and xmm1 are used.
var (
	XMM0 = X86Reg{"xmm0", 0, 0}
	XMM1 = X86Reg{"xmm1", 1, 0}
)
