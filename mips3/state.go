package mips3

import "fmt"

// Context slot layout. Every piece of guest state lives in one 64-bit slot so
// generated code can address it directly off the context base.
const (
	slotPC           = 0
	slotR            = 1
	slotHI           = slotR + 32
	slotLO           = slotHI + 1
	slotCPR          = slotLO + 1     // cpr[4][32]
	slotCCR          = slotCPR + 4*32 // ccr[4][32]
	slotCF           = slotCCR + 4*32 // cf[4][8]
	slotBranchCond   = slotCF + 4*8   // condition latched before a delay slot
	slotBranchTarget = slotBranchCond + 1
	numSlots         = slotBranchTarget + 1
)

func gprSlot(n uint32) int         { return slotR + int(n&31) }
func cprSlot(cop int, n uint32) int { return slotCPR + cop*32 + int(n&31) }
func ccrSlot(cop int, n uint32) int { return slotCCR + cop*32 + int(n&31) }
func cfSlot(cop int, n uint32) int  { return slotCF + cop*8 + int(n&7) }

// COP0 register numbers
const (
	COP0Index    = 0
	COP0Random   = 1
	COP0EntryLo0 = 2
	COP0EntryLo1 = 3
	COP0Context  = 4
	COP0PageMask = 5
	COP0Wired    = 6
	COP0BadVAddr = 8
	COP0Count    = 9
	COP0EntryHi  = 10
	COP0Compare  = 11
	COP0Status   = 12
	COP0Cause    = 13
	COP0EPC      = 14
	COP0PRId     = 15
	COP0Config   = 16
	COP0LLAddr   = 17
	COP0XContext = 20
	COP0ErrorEPC = 30
)

// Status register bits
const (
	SR_IE  = 1 << 0
	SR_EXL = 1 << 1
	SR_ERL = 1 << 2
	SR_KSU = 3 << 3
	SR_IM  = 0xFF << 8
	SR_BEV = 1 << 22
	SR_FR  = 1 << 26
	SR_CU0 = 1 << 28
	SR_CU1 = 1 << 29
)

// Cause register bits
const (
	CAUSE_EXC = 0x1F << 2
	CAUSE_IP  = 0xFF << 8
	CAUSE_SW  = 3 << 8
	CAUSE_IP7 = 1 << 15
	CAUSE_CE  = 3 << 28
	CAUSE_BD  = 1 << 31
)

// RegID names a register for GetRegister/SetRegister.
type RegID int

const (
	RegPC    RegID = 0
	RegR0    RegID = 1 // RegR0+n for R0..R31
	RegHI    RegID = RegR0 + 32
	RegLO    RegID = RegHI + 1
	RegCOP0  RegID = RegLO + 1    // RegCOP0+n, raw COP0 register n
	RegFPR   RegID = RegCOP0 + 32 // RegFPR+n, raw 64-bit FPU slot n
	RegFCR0  RegID = RegFPR + 32
	RegFCR31 RegID = RegFCR0 + 1
	RegFPS   RegID = RegFCR31 + 1 // RegFPS+n, single n as addressed under the current FR mode
	RegFPD   RegID = RegFPS + 32  // RegFPD+n, double n as addressed under the current FR mode
)

const numRegIDs = RegFPD + 32

func (r RegID) String() string {
	switch {
	case r == RegPC:
		return "pc"
	case r >= RegR0 && r < RegHI:
		return fmt.Sprintf("r%d", r-RegR0)
	case r == RegHI:
		return "hi"
	case r == RegLO:
		return "lo"
	case r >= RegCOP0 && r < RegFPR:
		return fmt.Sprintf("cop0r%d", r-RegCOP0)
	case r >= RegFPR && r < RegFCR0:
		return fmt.Sprintf("fpr%d", r-RegFPR)
	case r == RegFCR0:
		return "fcr0"
	case r == RegFCR31:
		return "fcr31"
	case r >= RegFPS && r < RegFPD:
		return fmt.Sprintf("f%d.s", r-RegFPS)
	case r >= RegFPD && r < numRegIDs:
		return fmt.Sprintf("f%d.d", r-RegFPD)
	}
	return fmt.Sprintf("reg%d", int(r))
}

// fprSingle returns the slot and lane of single precision register n.
// With FR clear the 32 singles pack pairwise into slots 0..15.
func fprSingle(fr bool, n uint32) (slot int, hi bool) {
	n &= 31
	if fr {
		return cprSlot(1, n), false
	}
	return cprSlot(1, n>>1), n&1 != 0
}

func fprDouble(fr bool, n uint32) int {
	n &= 31
	if fr {
		return cprSlot(1, n)
	}
	return cprSlot(1, n>>1)
}
