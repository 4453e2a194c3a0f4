package drc

import "fmt"

// Opcode is an operation in the host intermediate representation.
type Opcode uint8

const (
	OpNop Opcode = iota
	OpEntry
	OpStale
	OpMov
	OpAdd
	OpAddV
	OpSub
	OpSubV
	OpAnd
	OpOr
	OpXor
	OpNor
	OpShl
	OpShr
	OpSar
	OpMul
	OpMulHS
	OpMulHU
	OpDivS
	OpDivU
	OpRemS
	OpRemU
	OpSext
	OpZext
	OpSet
	OpJmp
	OpJcc
	OpCall
	OpCallStub
	OpRet
	OpDispatch
	OpCycles
	OpCharge
	OpExit
	OpTable
	OpFAdd
	OpFSub
	OpFMul
	OpFDiv
	OpFSqrt
	OpFAbs
	OpFNeg
	OpFCmp
	OpFCvt
	OpGetRound
	OpSetRound
	numOpcodes
)

var opcodeNames = [numOpcodes]string{
	OpNop: "nop", OpEntry: "entry", OpStale: "stale", OpMov: "mov",
	OpAdd: "add", OpAddV: "addv", OpSub: "sub", OpSubV: "subv",
	OpAnd: "and", OpOr: "or", OpXor: "xor", OpNor: "nor",
	OpShl: "shl", OpShr: "shr", OpSar: "sar",
	OpMul: "mul", OpMulHS: "mulhs", OpMulHU: "mulhu",
	OpDivS: "divs", OpDivU: "divu", OpRemS: "rems", OpRemU: "remu",
	OpSext: "sext", OpZext: "zext", OpSet: "set",
	OpJmp: "jmp", OpJcc: "jcc", OpCall: "call", OpCallStub: "callstub", OpRet: "ret",
	OpDispatch: "dispatch", OpCycles: "cycles", OpCharge: "charge", OpExit: "exit",
	OpTable: "table",
	OpFAdd: "fadd", OpFSub: "fsub", OpFMul: "fmul", OpFDiv: "fdiv", OpFSqrt: "fsqrt",
	OpFAbs: "fabs", OpFNeg: "fneg", OpFCmp: "fcmp", OpFCvt: "fcvt",
	OpGetRound: "getround", OpSetRound: "setround",
}

func (o Opcode) String() string {
	if o < numOpcodes {
		return opcodeNames[o]
	}
	return fmt.Sprintf("op%d", uint8(o))
}

// Cond selects the comparison performed by OpSet and OpJcc.
type Cond uint8

const (
	CondAlways Cond = iota
	CondEq
	CondNe
	CondLtS
	CondLeS
	CondGtS
	CondGeS
	CondLtU
	CondLeU
	CondGtU
	CondGeU
	CondTestZ  // S1 & S2 == 0
	CondTestNZ // S1 & S2 != 0
)

var condNames = [...]string{"al", "eq", "ne", "lt", "le", "gt", "ge", "ltu", "leu", "gtu", "geu", "tz", "tnz"}

func (c Cond) String() string {
	if int(c) < len(condNames) {
		return condNames[c]
	}
	return fmt.Sprintf("cond%d", uint8(c))
}

// Invert returns the condition that holds exactly when c does not.
func (c Cond) Invert() Cond {
	switch c {
	case CondEq:
		return CondNe
	case CondNe:
		return CondEq
	case CondLtS:
		return CondGeS
	case CondGeS:
		return CondLtS
	case CondLeS:
		return CondGtS
	case CondGtS:
		return CondLeS
	case CondLtU:
		return CondGeU
	case CondGeU:
		return CondLtU
	case CondLeU:
		return CondGtU
	case CondGtU:
		return CondLeU
	case CondTestZ:
		return CondTestNZ
	case CondTestNZ:
		return CondTestZ
	}
	panic(fmt.Sprintf("drc: condition %v has no inverse", c))
}

// Float comparison predicates for OpFCmp, combined as a bit mask.
const (
	FCmpUnordered = 1 << 0
	FCmpEqual     = 1 << 1
	FCmpLess      = 1 << 2
)

// Conversion kinds for OpFCvt (Aux).
const (
	CvtS2D = iota // float32 -> float64
	CvtD2S
	CvtW2S // int32 -> float32
	CvtW2D
	CvtL2S // int64 -> float32
	CvtL2D
	CvtS2W // float32 -> int32 using the current rounding mode
	CvtD2W
	CvtS2L
	CvtD2L
)

// RoundMode is the host floating point rounding mode.
type RoundMode uint8

const (
	RoundNearest RoundMode = iota
	RoundZero
	RoundUp
	RoundDown
)

// OperandKind distinguishes immediates, host temporaries and context slots.
type OperandKind uint8

const (
	KindNone OperandKind = iota
	KindImm
	KindReg
	KindMem
	KindMemHi
)

// Operand is one source or destination of an Op.
type Operand struct {
	Kind OperandKind
	Val  uint64
}

// NumRegs is the number of host temporaries available to generated code.
const NumRegs = 8

// Host temporaries. T4 and T5 carry the faulting PC and delay-slot flag into
// exception trampolines by convention of the guest front end.
var (
	T0 = Reg(0)
	T1 = Reg(1)
	T2 = Reg(2)
	T3 = Reg(3)
	T4 = Reg(4)
	T5 = Reg(5)
	T6 = Reg(6)
	T7 = Reg(7)
)

var None = Operand{}

func Imm(v uint64) Operand   { return Operand{Kind: KindImm, Val: v} }
func Reg(n int) Operand      { return Operand{Kind: KindReg, Val: uint64(n)} }
func Mem(slot int) Operand   { return Operand{Kind: KindMem, Val: uint64(slot)} }
func MemHi(slot int) Operand { return Operand{Kind: KindMemHi, Val: uint64(slot)} }

// Imm32 sign extends a 32-bit value into an immediate.
func Imm32(v uint32) Operand { return Imm(uint64(int64(int32(v)))) }

func (o Operand) IsImm() bool { return o.Kind == KindImm }

func (o Operand) String() string {
	switch o.Kind {
	case KindImm:
		return fmt.Sprintf("#0x%x", o.Val)
	case KindReg:
		return fmt.Sprintf("t%d", o.Val)
	case KindMem:
		return fmt.Sprintf("[%d]", o.Val)
	case KindMemHi:
		return fmt.Sprintf("[%d].hi", o.Val)
	}
	return "-"
}

// HostFunc is called from generated code. It returns Continue to resume with the
// next op, or a cache index to transfer control to.
type HostFunc func(x *Exec, op *Op) int

// Continue is returned by a HostFunc that does not redirect control.
const Continue = -1

// Op is one host IR instruction. Size is the operation width in bytes.
type Op struct {
	Code   Opcode
	Size   uint8
	Cond   Cond
	D      Operand
	S1, S2 Operand
	Target int
	Aux    int
	Fn     HostFunc
	Sym    string
}

func (op *Op) String() string {
	switch op.Code {
	case OpJmp, OpCallStub:
		return fmt.Sprintf("%-8s @%d", op.Code, op.Target)
	case OpJcc:
		return fmt.Sprintf("j%-7s %v, %v -> @%d", op.Cond, op.S1, op.S2, op.Target)
	case OpCall:
		return fmt.Sprintf("%-8s %s %v %v", op.Code, op.Sym, op.S1, op.S2)
	case OpEntry, OpStale:
		return fmt.Sprintf("%-8s pc=%08x", op.Code, op.S1.Val)
	}
	name := op.Code.String()
	if op.Code == OpSet {
		name = "set" + op.Cond.String()
	}
	if op.Size != 0 && op.Size != 8 {
		name = fmt.Sprintf("%s.%d", name, op.Size*8)
	}
	return fmt.Sprintf("%-8s %v, %v, %v", name, op.D, op.S1, op.S2)
}
