package drc

import (
	"fmt"
	"math"
	"math/bits"

	"golang.org/x/exp/constraints"
)

const stackDepth = 8

// Exec runs generated code. It plays the part of the host CPU: temporaries,
// a base pointer to the guest context, a cycle counter and the FPU rounding mode.
type Exec struct {
	R      [NumRegs]uint64
	Ctx    []uint64
	Cycles int64
	Round  RoundMode

	d     *DRC
	stack [stackDepth]int
	sp    int
	err   error
}

// NewExec binds a context to the cache.
func (d *DRC) NewExec(ctx []uint64) *Exec {
	return &Exec{Ctx: ctx, d: d}
}

// DRC returns the cache the executor runs from.
func (x *Exec) DRC() *DRC { return x.d }

// Fail records a fatal error and returns the exit stub, for use as a HostFunc result.
func (x *Exec) Fail(err error) int {
	if x.err == nil {
		x.err = err
	}
	return x.d.ExitStub
}

// Execute runs from the entry stub with the given cycle budget and returns the
// cycles consumed, which may exceed the budget by the cost of the last instruction.
func (x *Exec) Execute(budget int64) (int64, error) {
	x.Cycles = budget
	err := x.Run(x.d.EntryStub)
	return budget - x.Cycles, err
}

// Run executes ops from start until an exit op.
func (x *Exec) Run(start int) error {
	ambient := x.Round
	defer func() { x.Round = ambient }()
	x.err = nil
	x.sp = 0
	pcSlot := x.d.cfg.PCSlot
	ops := x.d.ops
	pc := start
	for {
		op := &ops[pc]
		pc++
		switch op.Code {
		case OpNop, OpEntry:
		case OpStale:
			x.Ctx[pcSlot] = op.S1.Val
			pc = x.d.DispatchStub
		case OpMov:
			x.Write(op.D, op.Size, x.Read(op.S1))
		case OpAdd:
			x.Write(op.D, op.Size, x.Read(op.S1)+x.Read(op.S2))
		case OpSub:
			x.Write(op.D, op.Size, x.Read(op.S1)-x.Read(op.S2))
		case OpAddV, OpSubV:
			a, b := x.Read(op.S1), x.Read(op.S2)
			r, ovf := addSubOverflow(op.Code == OpSubV, op.Size, a, b)
			if ovf {
				pc = op.Target
			} else {
				x.Write(op.D, op.Size, r)
			}
		case OpAnd:
			x.Write(op.D, op.Size, x.Read(op.S1)&x.Read(op.S2))
		case OpOr:
			x.Write(op.D, op.Size, x.Read(op.S1)|x.Read(op.S2))
		case OpXor:
			x.Write(op.D, op.Size, x.Read(op.S1)^x.Read(op.S2))
		case OpNor:
			x.Write(op.D, op.Size, ^(x.Read(op.S1) | x.Read(op.S2)))
		case OpShl, OpShr, OpSar:
			x.Write(op.D, op.Size, shift(op.Code, op.Size, x.Read(op.S1), x.Read(op.S2)))
		case OpMul:
			x.Write(op.D, op.Size, x.Read(op.S1)*x.Read(op.S2))
		case OpMulHS, OpMulHU:
			x.Write(op.D, 8, mulHigh(op.Code == OpMulHS, op.Size, x.Read(op.S1), x.Read(op.S2)))
		case OpDivS, OpDivU, OpRemS, OpRemU:
			x.Write(op.D, op.Size, divide(op.Code, op.Size, x.Read(op.S1), x.Read(op.S2)))
		case OpSext:
			x.Write(op.D, 8, signExtend(op.Size, x.Read(op.S1)))
		case OpZext:
			x.Write(op.D, 8, x.Read(op.S1)&sizeMask(op.Size))
		case OpSet:
			var v uint64
			if compare(op.Cond, op.Size, x.Read(op.S1), x.Read(op.S2)) {
				v = 1
			}
			x.Write(op.D, 8, v)
		case OpJmp:
			pc = op.Target
		case OpJcc:
			if compare(op.Cond, op.Size, x.Read(op.S1), x.Read(op.S2)) {
				pc = op.Target
			}
		case OpCall:
			if t := op.Fn(x, op); t >= 0 {
				pc = t
			}
		case OpCallStub:
			if x.sp == stackDepth {
				return fmt.Errorf("drc: trampoline stack overflow at %d", pc-1)
			}
			x.stack[x.sp] = pc
			x.sp++
			pc = op.Target
		case OpRet:
			if x.sp == 0 {
				return fmt.Errorf("drc: return without call at %d", pc-1)
			}
			x.sp--
			pc = x.stack[x.sp]
		case OpDispatch:
			x.sp = 0
			pc = x.d.lookup.get(uint32(x.Ctx[pcSlot]))
		case OpCycles:
			x.Cycles -= int64(op.S1.Val)
			if x.Cycles < 0 {
				if op.S2.Kind == KindImm {
					x.Ctx[pcSlot] = op.S2.Val
				}
				pc = x.d.ExitStub
			}
		case OpCharge:
			x.Cycles -= int64(op.S1.Val)
		case OpExit:
			return x.err
		case OpTable:
			t := x.d.tables[op.Aux]
			x.Write(op.D, 8, t[x.Read(op.S1)&uint64(len(t)-1)])
		case OpFAdd, OpFSub, OpFMul, OpFDiv, OpFSqrt, OpFAbs, OpFNeg:
			x.Write(op.D, op.Size, floatOp(op.Code, op.Size, x.Read(op.S1), x.Read(op.S2)))
		case OpFCmp:
			var v uint64
			if floatCompare(op.Size, op.Aux, x.Read(op.S1), x.Read(op.S2)) {
				v = 1
			}
			x.Write(op.D, 8, v)
		case OpFCvt:
			v, size := x.convert(op.Aux, x.Read(op.S1))
			x.Write(op.D, size, v)
		case OpGetRound:
			x.Write(op.D, 8, uint64(x.Round))
		case OpSetRound:
			x.Round = RoundMode(x.Read(op.S1) & 3)
		default:
			return fmt.Errorf("drc: bad opcode %v at %d", op.Code, pc-1)
		}
	}
}

// Read returns the full 64-bit value of an operand.
func (x *Exec) Read(o Operand) uint64 {
	switch o.Kind {
	case KindImm:
		return o.Val
	case KindReg:
		return x.R[o.Val]
	case KindMem:
		return x.Ctx[o.Val]
	case KindMemHi:
		return x.Ctx[o.Val] >> 32
	}
	return 0
}

// Write stores the low size bytes of v. Temporaries are zero extended; context
// slots keep the bytes outside the written lane.
func (x *Exec) Write(o Operand, size uint8, v uint64) {
	m := sizeMask(size)
	switch o.Kind {
	case KindReg:
		x.R[o.Val] = v & m
	case KindMem:
		x.Ctx[o.Val] = x.Ctx[o.Val]&^m | v&m
	case KindMemHi:
		x.Ctx[o.Val] = x.Ctx[o.Val]&0xFFFFFFFF | v<<32
	}
}

func sizeMask(size uint8) uint64 {
	if size >= 8 || size == 0 {
		return ^uint64(0)
	}
	return uint64(1)<<(8*uint(size)) - 1
}

func sext[T constraints.Signed](v uint64) uint64 {
	return uint64(int64(T(v)))
}

func signExtend(size uint8, v uint64) uint64 {
	switch size {
	case 1:
		return sext[int8](v)
	case 2:
		return sext[int16](v)
	case 4:
		return sext[int32](v)
	}
	return v
}

func compare(c Cond, size uint8, a, b uint64) bool {
	ua, ub := a&sizeMask(size), b&sizeMask(size)
	sa, sb := int64(signExtend(size, a)), int64(signExtend(size, b))
	switch c {
	case CondAlways:
		return true
	case CondEq:
		return ua == ub
	case CondNe:
		return ua != ub
	case CondLtS:
		return sa < sb
	case CondLeS:
		return sa <= sb
	case CondGtS:
		return sa > sb
	case CondGeS:
		return sa >= sb
	case CondLtU:
		return ua < ub
	case CondLeU:
		return ua <= ub
	case CondGtU:
		return ua > ub
	case CondGeU:
		return ua >= ub
	case CondTestZ:
		return ua&ub == 0
	case CondTestNZ:
		return ua&ub != 0
	}
	return false
}

func addSubOverflow(sub bool, size uint8, a, b uint64) (uint64, bool) {
	if size == 4 {
		sa, sb := int64(int32(a)), int64(int32(b))
		r := sa + sb
		if sub {
			r = sa - sb
		}
		return uint64(r), r != int64(int32(r))
	}
	var r uint64
	if sub {
		r = a - b
		return r, ((a^b)&(a^r))>>63 != 0
	}
	r = a + b
	return r, (^(a^b)&(a^r))>>63 != 0
}

func shift(code Opcode, size uint8, a, b uint64) uint64 {
	if size == 4 {
		n := uint(b & 31)
		switch code {
		case OpShl:
			return uint64(uint32(a) << n)
		case OpShr:
			return uint64(uint32(a) >> n)
		default:
			return uint64(int32(a) >> n)
		}
	}
	n := uint(b & 63)
	switch code {
	case OpShl:
		return a << n
	case OpShr:
		return a >> n
	default:
		return uint64(int64(a) >> n)
	}
}

func mulHigh(signed bool, size uint8, a, b uint64) uint64 {
	if size == 4 {
		if signed {
			return uint64(int64(int32(a))*int64(int32(b))) >> 32
		}
		return (uint64(uint32(a)) * uint64(uint32(b))) >> 32
	}
	hi, _ := bits.Mul64(a, b)
	if signed {
		if int64(a) < 0 {
			hi -= b
		}
		if int64(b) < 0 {
			hi -= a
		}
	}
	return hi
}

// divide follows the host convention of leaving a zero divisor to the caller;
// generated code branches around it.
func divide(code Opcode, size uint8, a, b uint64) uint64 {
	if size == 4 {
		if uint32(b) == 0 {
			return 0
		}
		switch code {
		case OpDivS:
			return uint64(uint32(int32(a) / int32(b)))
		case OpDivU:
			return uint64(uint32(a) / uint32(b))
		case OpRemS:
			return uint64(uint32(int32(a) % int32(b)))
		default:
			return uint64(uint32(a) % uint32(b))
		}
	}
	if b == 0 {
		return 0
	}
	switch code {
	case OpDivS:
		return uint64(int64(a) / int64(b))
	case OpDivU:
		return a / b
	case OpRemS:
		return uint64(int64(a) % int64(b))
	default:
		return a % b
	}
}

func floatOp(code Opcode, size uint8, a, b uint64) uint64 {
	if size == 4 {
		switch code {
		case OpFAbs:
			return a &^ (1 << 31)
		case OpFNeg:
			return a ^ (1 << 31)
		}
		fa, fb := math.Float32frombits(uint32(a)), math.Float32frombits(uint32(b))
		var r float32
		switch code {
		case OpFAdd:
			r = fa + fb
		case OpFSub:
			r = fa - fb
		case OpFMul:
			r = fa * fb
		case OpFDiv:
			r = fa / fb
		case OpFSqrt:
			r = float32(math.Sqrt(float64(fa)))
		}
		return uint64(math.Float32bits(r))
	}
	switch code {
	case OpFAbs:
		return a &^ (1 << 63)
	case OpFNeg:
		return a ^ (1 << 63)
	}
	fa, fb := math.Float64frombits(a), math.Float64frombits(b)
	var r float64
	switch code {
	case OpFAdd:
		r = fa + fb
	case OpFSub:
		r = fa - fb
	case OpFMul:
		r = fa * fb
	case OpFDiv:
		r = fa / fb
	case OpFSqrt:
		r = math.Sqrt(fa)
	}
	return math.Float64bits(r)
}

func floatCompare(size uint8, mask int, a, b uint64) bool {
	var fa, fb float64
	if size == 4 {
		fa, fb = float64(math.Float32frombits(uint32(a))), float64(math.Float32frombits(uint32(b)))
	} else {
		fa, fb = math.Float64frombits(a), math.Float64frombits(b)
	}
	unordered := math.IsNaN(fa) || math.IsNaN(fb)
	return (mask&FCmpUnordered != 0 && unordered) ||
		(mask&FCmpEqual != 0 && fa == fb) ||
		(mask&FCmpLess != 0 && fa < fb)
}

func (x *Exec) round(f float64) float64 {
	switch x.Round {
	case RoundZero:
		return math.Trunc(f)
	case RoundUp:
		return math.Ceil(f)
	case RoundDown:
		return math.Floor(f)
	}
	return math.RoundToEven(f)
}

// convert returns the converted bits and the width of the result.
func (x *Exec) convert(kind int, v uint64) (uint64, uint8) {
	f32 := func() float64 { return float64(math.Float32frombits(uint32(v))) }
	f64 := func() float64 { return math.Float64frombits(v) }
	switch kind {
	case CvtS2D:
		return math.Float64bits(f32()), 8
	case CvtD2S:
		return uint64(math.Float32bits(float32(f64()))), 4
	case CvtW2S:
		return uint64(math.Float32bits(float32(int32(v)))), 4
	case CvtW2D:
		return math.Float64bits(float64(int32(v))), 8
	case CvtL2S:
		return uint64(math.Float32bits(float32(int64(v)))), 4
	case CvtL2D:
		return math.Float64bits(float64(int64(v))), 8
	case CvtS2W:
		return x.toInt32(f32()), 4
	case CvtD2W:
		return x.toInt32(f64()), 4
	case CvtS2L:
		return x.toInt64(f32()), 8
	case CvtD2L:
		return x.toInt64(f64()), 8
	}
	panic(fmt.Sprintf("drc: bad conversion %d", kind))
}

func (x *Exec) toInt32(f float64) uint64 {
	r := x.round(f)
	if math.IsNaN(r) || r > math.MaxInt32 || r < math.MinInt32 {
		return math.MaxInt32
	}
	return uint64(uint32(int32(r)))
}

func (x *Exec) toInt64(f float64) uint64 {
	r := x.round(f)
	if math.IsNaN(r) || r >= math.MaxInt64 || r < math.MinInt64 {
		return math.MaxInt64
	}
	return uint64(int64(r))
}
