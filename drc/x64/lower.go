package x64

import (
	"fmt"

	"github.com/colorfulnotion/mipsdrc/drc"
)

// Lowered is the machine code for a run of cache ops.
type Lowered struct {
	Base    int      // cache index of Ops[0]
	Ops     []drc.Op // source ops
	Offsets []int    // byte offset of each op's code
	Code    []byte
	// Unresolved lists branch ops whose target lies outside the lowered range.
	Unresolved map[int]int
}

type fixup struct {
	at     int
	target int
	op     int
}

type lowerer struct {
	asm
	geo    drc.Geometry
	fixups []fixup
	exit   int
	disp   int
}

var condCodes = map[drc.Cond]byte{
	drc.CondEq: X86_CC_E, drc.CondNe: X86_CC_NE,
	drc.CondLtS: X86_CC_L, drc.CondLeS: X86_CC_LE, drc.CondGtS: X86_CC_G, drc.CondGeS: X86_CC_GE,
	drc.CondLtU: X86_CC_B, drc.CondLeU: X86_CC_BE, drc.CondGtU: X86_CC_A, drc.CondGeU: X86_CC_AE,
	drc.CondTestZ: X86_CC_E, drc.CondTestNZ: X86_CC_NE,
}

// Lower translates ops, which start at cache index base, into x86-64 code.
// exitStub and dispatchStub are the cache indices of the fixed stubs.
func Lower(ops []drc.Op, base int, geo drc.Geometry, exitStub, dispatchStub int) (*Lowered, error) {
	l := &lowerer{geo: geo, exit: exitStub, disp: dispatchStub}
	out := &Lowered{Base: base, Ops: ops, Offsets: make([]int, len(ops)), Unresolved: map[int]int{}}
	for i := range ops {
		out.Offsets[i] = len(l.code)
		if err := l.lower(i, &ops[i]); err != nil {
			return nil, fmt.Errorf("lower op %d (%v): %w", base+i, ops[i].Code, err)
		}
	}
	for _, f := range l.fixups {
		rel := f.target - base
		if rel < 0 || rel >= len(ops) {
			out.Unresolved[base+f.op] = f.target
			continue
		}
		l.patchRel32(f.at, out.Offsets[rel])
	}
	out.Code = l.code
	return out, nil
}

func (l *lowerer) branchTo(op, target int) {
	l.fixups = append(l.fixups, fixup{at: l.rel32(), target: target, op: op})
}

func slotDisp(o drc.Operand) uint32 {
	d := uint32(o.Val) * 8
	if o.Kind == drc.KindMemHi {
		d += 4
	}
	return d
}

// load brings an operand into r; 32-bit and narrower loads zero extend.
func (l *lowerer) load(r X86Reg, o drc.Operand, size uint8) {
	switch o.Kind {
	case drc.KindImm:
		l.movImm(r, o.Val)
	case drc.KindReg:
		l.movRR(true, r, tempRegs[o.Val])
	case drc.KindMem:
		l.ctx(size == 8, X86_OP_MOV_R_RM, r, slotDisp(o))
	case drc.KindMemHi:
		l.ctx(false, X86_OP_MOV_R_RM, r, slotDisp(o))
	default:
		l.rr(false, X86_OP_XOR_RM_R, r, r)
	}
}

// store writes the low size bytes of r to an operand.
func (l *lowerer) store(o drc.Operand, r X86Reg, size uint8) {
	switch o.Kind {
	case drc.KindReg:
		dst := tempRegs[o.Val]
		switch size {
		case 1:
			l.rr0f(true, X86_OP2_MOVZX_R_RM8, dst, r)
		case 2:
			l.rr0f(true, X86_OP2_MOVZX_R_RM16, dst, r)
		default:
			l.movRR(size == 8, dst, r)
		}
	case drc.KindMem, drc.KindMemHi:
		switch size {
		case 1:
			l.rex(false, r, BaseReg, true)
			l.emit(X86_OP_MOV_RM8_R8, modrm(X86_MOD_INDIRECT_DISP32, r.RegBits, 4), sib(0, 4, BaseReg.RegBits))
			l.imm32(slotDisp(o))
		case 2:
			l.emit(X86_OP_OPSIZE)
			l.ctx(false, X86_OP_MOV_RM_R, r, slotDisp(o))
		default:
			l.ctx(size == 8 && o.Kind == drc.KindMem, X86_OP_MOV_RM_R, r, slotDisp(o))
		}
	}
}

func (l *lowerer) operands(op *drc.Op) {
	l.load(scratchA, op.S1, op.Size)
	if op.S2.Kind != drc.KindNone {
		l.load(scratchB, op.S2, op.Size)
	}
}

func (l *lowerer) compare(op *drc.Op) byte {
	w := op.Size == 8
	if op.Cond == drc.CondTestZ || op.Cond == drc.CondTestNZ {
		l.rr(w, X86_OP_TEST_RM_R, scratchB, scratchA)
	} else {
		l.rr(w, X86_OP_CMP_RM_R, scratchB, scratchA)
	}
	return condCodes[op.Cond]
}

var aluOps = map[drc.Opcode]byte{
	drc.OpAdd: X86_OP_ADD_RM_R, drc.OpAddV: X86_OP_ADD_RM_R,
	drc.OpSub: X86_OP_SUB_RM_R, drc.OpSubV: X86_OP_SUB_RM_R,
	drc.OpAnd: X86_OP_AND_RM_R, drc.OpOr: X86_OP_OR_RM_R, drc.OpXor: X86_OP_XOR_RM_R,
	drc.OpNor: X86_OP_OR_RM_R,
}

var shiftExt = map[drc.Opcode]byte{drc.OpShl: X86_EXT_SHL, drc.OpShr: X86_EXT_SHR, drc.OpSar: X86_EXT_SAR}

var sseOps = map[drc.Opcode]byte{
	drc.OpFAdd: X86_OP2_ADD, drc.OpFSub: X86_OP2_SUB, drc.OpFMul: X86_OP2_MUL,
	drc.OpFDiv: X86_OP2_DIV, drc.OpFSqrt: X86_OP2_SQRT,
}

func scalarPrefix(size uint8) byte {
	if size == 4 {
		return X86_OP_PREFIX_F3
	}
	return X86_OP_PREFIX_F2
}

func (l *lowerer) lower(i int, op *drc.Op) error {
	w := op.Size == 8
	switch op.Code {
	case drc.OpNop, drc.OpEntry:
		l.emit(X86_OP_NOP)
	case drc.OpStale:
		l.movPC(uint32(op.S1.Val))
		l.emit(X86_OP_JMP_REL32)
		l.branchTo(i, l.disp)
	case drc.OpMov:
		l.load(scratchA, op.S1, op.Size)
		l.store(op.D, scratchA, op.Size)
	case drc.OpAdd, drc.OpSub, drc.OpAnd, drc.OpOr, drc.OpXor, drc.OpNor:
		l.operands(op)
		l.rr(w, aluOps[op.Code], scratchB, scratchA)
		if op.Code == drc.OpNor {
			l.group3(w, X86_EXT_NOT, scratchA)
		}
		l.store(op.D, scratchA, op.Size)
	case drc.OpAddV, drc.OpSubV:
		l.operands(op)
		l.rr(w, aluOps[op.Code], scratchB, scratchA)
		l.emit(X86_PREFIX_0F, X86_OP2_JCC+X86_CC_O)
		l.branchTo(i, op.Target)
		l.store(op.D, scratchA, op.Size)
	case drc.OpShl, drc.OpShr, drc.OpSar:
		l.operands(op)
		l.push(RCX)
		l.movRR(false, RCX, scratchB)
		l.rex(w, X86Reg{}, scratchA, false)
		l.emit(X86_OP_GROUP2_RM_CL, modrm(X86_MOD_REGISTER, shiftExt[op.Code], scratchA.RegBits))
		l.pop(RCX)
		l.store(op.D, scratchA, op.Size)
	case drc.OpMul:
		l.operands(op)
		l.rr0f(w, X86_OP2_IMUL_R_RM, scratchA, scratchB)
		l.store(op.D, scratchA, op.Size)
	case drc.OpMulHS, drc.OpMulHU, drc.OpDivS, drc.OpDivU, drc.OpRemS, drc.OpRemU:
		l.operands(op)
		l.muldiv(op)
		l.store(op.D, scratchA, 8)
	case drc.OpSext:
		l.load(scratchA, op.S1, op.Size)
		switch op.Size {
		case 1:
			l.rr0f(true, X86_OP2_MOVSX_R_RM8, scratchA, scratchA)
		case 2:
			l.rr0f(true, X86_OP2_MOVSX_R_RM16, scratchA, scratchA)
		case 4:
			l.rr(true, X86_OP_MOVSXD, scratchA, scratchA)
		}
		l.store(op.D, scratchA, 8)
	case drc.OpZext:
		l.load(scratchA, op.S1, op.Size)
		switch op.Size {
		case 1:
			l.rr0f(false, X86_OP2_MOVZX_R_RM8, scratchA, scratchA)
		case 2:
			l.rr0f(false, X86_OP2_MOVZX_R_RM16, scratchA, scratchA)
		case 4:
			l.movRR(false, scratchA, scratchA)
		}
		l.store(op.D, scratchA, 8)
	case drc.OpSet:
		l.operands(op)
		cc := l.compare(op)
		l.setcc(cc, scratchA)
		l.rr0f(false, X86_OP2_MOVZX_R_RM8, scratchA, scratchA)
		l.store(op.D, scratchA, 8)
	case drc.OpJmp:
		l.emit(X86_OP_JMP_REL32)
		l.branchTo(i, op.Target)
	case drc.OpJcc:
		if op.Cond == drc.CondAlways {
			l.emit(X86_OP_JMP_REL32)
		} else {
			l.operands(op)
			cc := l.compare(op)
			l.emit(X86_PREFIX_0F, X86_OP2_JCC+cc)
		}
		l.branchTo(i, op.Target)
	case drc.OpCall:
		// host functions are reached through r11; the address is bound at load time
		l.movImm(scratchB, uint64(i))
		l.rex(false, X86Reg{}, scratchB, false)
		l.emit(X86_OP_GROUP5_RM, modrm(X86_MOD_REGISTER, X86_EXT_CALL, scratchB.RegBits))
	case drc.OpCallStub:
		l.emit(X86_OP_CALL_REL32)
		l.branchTo(i, op.Target)
	case drc.OpRet, drc.OpExit:
		l.emit(X86_OP_RET)
	case drc.OpDispatch:
		l.dispatch()
	case drc.OpCycles:
		// sub r15, n ; jns skip ; [mov pc, next] ; jmp exit
		l.group1Imm(true, X86_EXT_SUB, CycleReg, uint32(op.S1.Val))
		l.emit(X86_PREFIX_0F, X86_OP2_JCC+X86_CC_NS)
		skip := l.rel32()
		if op.S2.Kind == drc.KindImm {
			l.movPC(uint32(op.S2.Val))
		}
		l.emit(X86_OP_JMP_REL32)
		l.branchTo(i, l.exit)
		l.patchRel32(skip, len(l.code))
	case drc.OpCharge:
		l.group1Imm(true, X86_EXT_SUB, CycleReg, uint32(op.S1.Val))
	case drc.OpTable:
		l.load(scratchA, op.S1, 8)
		l.movImm(scratchB, uint64(op.Aux))
		// mov r10, [r11 + r10*8]
		l.emit(X86_OP_REX|X86_REX_W|X86_REX_R|X86_REX_X|X86_REX_B, X86_OP_MOV_R_RM,
			modrm(X86_MOD_INDIRECT, scratchA.RegBits, 4), sib(3, scratchA.RegBits, scratchB.RegBits))
		l.store(op.D, scratchA, 8)
	case drc.OpFAdd, drc.OpFSub, drc.OpFMul, drc.OpFDiv, drc.OpFSqrt:
		l.operands(op)
		l.toXMM(w, XMM0, scratchA)
		src := XMM1
		if op.Code == drc.OpFSqrt {
			src = XMM0
		} else {
			l.toXMM(w, XMM1, scratchB)
		}
		l.sse(scalarPrefix(op.Size), false, sseOps[op.Code], XMM0, src)
		l.fromXMM(w, scratchA, XMM0)
		l.store(op.D, scratchA, op.Size)
	case drc.OpFAbs, drc.OpFNeg:
		l.load(scratchA, op.S1, op.Size)
		ext := byte(X86_EXT_BTR)
		if op.Code == drc.OpFNeg {
			ext = X86_EXT_BTC
		}
		bit := byte(63)
		if op.Size == 4 {
			bit = 31
		}
		l.rr0f(w, X86_OP2_BT_IMM8, X86Reg{RegBits: ext}, scratchA)
		l.emit(bit)
		l.store(op.D, scratchA, op.Size)
	case drc.OpFCmp:
		l.fcmp(op)
	case drc.OpFCvt:
		l.fcvt(op)
	case drc.OpGetRound:
		l.mxcsr(X86_EXT_STMXCSR)
		l.ctxRSP(X86_OP_MOV_R_RM, scratchA)
		l.shiftImm(false, X86_EXT_SHR, scratchA, 13)
		l.group1Imm(false, X86_EXT_AND, scratchA, 3)
		l.swapRound(scratchA)
		l.store(op.D, scratchA, 8)
	case drc.OpSetRound:
		l.load(scratchA, op.S1, 8)
		l.group1Imm(false, X86_EXT_AND, scratchA, 3)
		l.swapRound(scratchA)
		l.shiftImm(false, X86_EXT_SHL, scratchA, 13)
		l.group1Imm(false, 1, scratchA, 0x1F80) // or with the default exception masks
		l.ctxRSP(X86_OP_MOV_RM_R, scratchA)
		l.mxcsr(X86_EXT_LDMXCSR)
	default:
		return fmt.Errorf("no lowering")
	}
	return nil
}

// movPC emits mov dword [r12 + pc], imm32.
func (l *lowerer) movPC(v uint32) {
	l.rex(false, X86Reg{}, BaseReg, false)
	l.emit(X86_OP_MOV_RM_IMM, modrm(X86_MOD_INDIRECT_DISP32, 0, 4), sib(0, 4, BaseReg.RegBits))
	l.imm32(uint32(l.geo.PCSlot) * 8)
	l.imm32(v)
}

// dispatch indexes the two-level lookup with the guest PC and jumps through it.
func (l *lowerer) dispatch() {
	l.ctx(false, X86_OP_MOV_R_RM, scratchA, uint32(l.geo.PCSlot)*8)
	l.movRR(false, scratchB, scratchA)
	l.shiftImm(false, X86_EXT_SHR, scratchA, byte(l.geo.IgnoreBits+l.geo.L2Bits))
	// mov r10, [r13 + r10*8]
	l.emit(X86_OP_REX|X86_REX_W|X86_REX_R|X86_REX_X|X86_REX_B, X86_OP_MOV_R_RM,
		modrm(X86_MOD_INDIRECT_DISP8, scratchA.RegBits, 4), sib(3, scratchA.RegBits, LookupReg.RegBits), 0)
	if l.geo.IgnoreBits > 0 {
		l.shiftImm(false, X86_EXT_SHR, scratchB, byte(l.geo.IgnoreBits))
	}
	l.group1Imm(false, X86_EXT_AND, scratchB, l.geo.L2Mask)
	// jmp [r10 + r11*8]
	l.emit(X86_OP_REX|X86_REX_X|X86_REX_B, X86_OP_GROUP5_RM,
		modrm(X86_MOD_INDIRECT, X86_EXT_JMP, 4), sib(3, scratchB.RegBits, scratchA.RegBits))
}

func (l *lowerer) muldiv(op *drc.Op) {
	w := op.Size == 8
	l.push(RAX)
	l.push(RDX)
	l.movRR(true, RAX, scratchA)
	var ext byte
	result := RAX
	switch op.Code {
	case drc.OpMulHS:
		ext, result = X86_EXT_IMUL, RDX
	case drc.OpMulHU:
		ext, result = X86_EXT_MUL, RDX
	case drc.OpDivS, drc.OpRemS:
		ext = X86_EXT_IDIV
		if w {
			l.emit(X86_OP_REX|X86_REX_W, X86_OP_CQO)
		} else {
			l.emit(X86_OP_CQO)
		}
	default:
		ext = X86_EXT_DIV
		l.rr(false, X86_OP_XOR_RM_R, RDX, RDX)
	}
	if op.Code == drc.OpRemS || op.Code == drc.OpRemU {
		result = RDX
	}
	l.group3(w, ext, scratchB)
	l.movRR(true, scratchA, result)
	l.pop(RDX)
	l.pop(RAX)
}

func (l *lowerer) toXMM(w bool, x, r X86Reg) {
	l.sse(X86_OP_OPSIZE, w, X86_OP2_MOVD_X_RM, x, r)
}

func (l *lowerer) fromXMM(w bool, r, x X86Reg) {
	l.sse(X86_OP_OPSIZE, w, X86_OP2_MOVD_RM_X, x, r)
}

func (l *lowerer) fcmp(op *drc.Op) {
	w := op.Size == 8
	l.operands(op)
	l.toXMM(w, XMM0, scratchA)
	l.toXMM(w, XMM1, scratchB)
	prefix := byte(0)
	if w {
		prefix = X86_OP_OPSIZE
	}
	l.sse(prefix, false, X86_OP2_UCOMIS, XMM0, XMM1)
	l.rr(false, X86_OP_XOR_RM_R, scratchA, scratchA)
	for _, p := range []struct {
		bit int
		cc  byte
	}{{drc.FCmpUnordered, X86_CC_P}, {drc.FCmpEqual, X86_CC_E}, {drc.FCmpLess, X86_CC_B}} {
		if op.Aux&p.bit == 0 {
			continue
		}
		l.setcc(p.cc, scratchB)
		l.rr(false, X86_OP_OR_RM_R, scratchB, scratchA)
	}
	l.group1Imm(false, X86_EXT_AND, scratchA, 1)
	l.store(op.D, scratchA, 8)
}

func width(wide bool) uint8 {
	if wide {
		return 8
	}
	return 4
}

func (l *lowerer) fcvt(op *drc.Op) {
	switch op.Aux {
	case drc.CvtS2D, drc.CvtD2S:
		widen := op.Aux == drc.CvtS2D
		l.load(scratchA, op.S1, width(!widen))
		l.toXMM(!widen, XMM0, scratchA)
		l.sse(scalarPrefix(width(!widen)), false, X86_OP2_CVTS2S, XMM0, XMM0)
		l.fromXMM(widen, scratchA, XMM0)
		l.store(op.D, scratchA, width(widen))
	case drc.CvtW2S, drc.CvtW2D, drc.CvtL2S, drc.CvtL2D:
		wide := op.Aux == drc.CvtL2S || op.Aux == drc.CvtL2D
		double := op.Aux == drc.CvtW2D || op.Aux == drc.CvtL2D
		l.load(scratchA, op.S1, width(wide))
		l.sse(scalarPrefix(width(double)), wide, X86_OP2_CVTSI2S, XMM0, scratchA)
		l.fromXMM(double, scratchA, XMM0)
		l.store(op.D, scratchA, width(double))
	default:
		double := op.Aux == drc.CvtD2W || op.Aux == drc.CvtD2L
		wide := op.Aux == drc.CvtS2L || op.Aux == drc.CvtD2L
		l.load(scratchA, op.S1, width(double))
		l.toXMM(double, XMM0, scratchA)
		l.sse(scalarPrefix(width(double)), wide, X86_OP2_CVTS2SI, scratchA, XMM0)
		l.store(op.D, scratchA, width(wide))
	}
}

// swapRound converts between RoundMode and the MXCSR RC field, which swaps
// the codes for toward zero and toward minus infinity.
func (l *lowerer) swapRound(r X86Reg) {
	l.movRR(false, scratchB, r)
	l.group1Imm(false, X86_EXT_AND, scratchB, 1)
	l.shiftImm(false, X86_EXT_SHL, scratchB, 1)
	l.rr(false, X86_OP_XOR_RM_R, scratchB, r)
}

// mxcsr emits ldmxcsr/stmxcsr [rsp-8].
func (l *lowerer) mxcsr(ext byte) {
	l.emit(X86_PREFIX_0F, X86_OP2_MXCSR, modrm(X86_MOD_INDIRECT_DISP8, ext, 4), sib(0, 4, RSP.RegBits), 0xF8)
}

// ctxRSP emits op r32, dword [rsp-8].
func (l *lowerer) ctxRSP(op byte, r X86Reg) {
	l.rex(false, r, X86Reg{}, false)
	l.emit(op, modrm(X86_MOD_INDIRECT_DISP8, r.RegBits, 4), sib(0, 4, RSP.RegBits), 0xF8)
}
