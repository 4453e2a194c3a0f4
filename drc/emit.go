package drc

// Emit appends op at the cursor and returns its index.
func (d *DRC) Emit(op Op) int {
	if d.top >= len(d.ops) {
		fatalf(d.top, ErrCacheOverrun, "%v", op.Code)
	}
	if op.Size == 0 {
		op.Size = 8
	}
	idx := d.top
	d.ops[idx] = op
	d.top++
	return idx
}

func (d *DRC) Nop() int { return d.Emit(Op{Code: OpNop}) }

func (d *DRC) Mov(size uint8, dst, src Operand) int {
	return d.Emit(Op{Code: OpMov, Size: size, D: dst, S1: src})
}

// Alu emits a two-source arithmetic or logic op.
func (d *DRC) Alu(code Opcode, size uint8, dst, a, b Operand) int {
	return d.Emit(Op{Code: code, Size: size, D: dst, S1: a, S2: b})
}

// AddV adds with a signed overflow check; on overflow dst is untouched and control
// moves to l.
func (d *DRC) AddV(size uint8, dst, a, b Operand, l Label) int {
	idx := d.Emit(Op{Code: OpAddV, Size: size, D: dst, S1: a, S2: b})
	d.linkLabel(idx, l)
	return idx
}

func (d *DRC) SubV(size uint8, dst, a, b Operand, l Label) int {
	idx := d.Emit(Op{Code: OpSubV, Size: size, D: dst, S1: a, S2: b})
	d.linkLabel(idx, l)
	return idx
}

// Sext sign extends the low from bytes of src to 64 bits.
func (d *DRC) Sext(from uint8, dst, src Operand) int {
	return d.Emit(Op{Code: OpSext, Size: from, D: dst, S1: src})
}

// Zext zero extends the low from bytes of src to 64 bits.
func (d *DRC) Zext(from uint8, dst, src Operand) int {
	return d.Emit(Op{Code: OpZext, Size: from, D: dst, S1: src})
}

// Set stores 1 in dst when cond holds for a and b, else 0.
func (d *DRC) Set(cond Cond, size uint8, dst, a, b Operand) int {
	return d.Emit(Op{Code: OpSet, Size: size, Cond: cond, D: dst, S1: a, S2: b})
}

func (d *DRC) Jmp(l Label) int {
	idx := d.Emit(Op{Code: OpJmp})
	d.linkLabel(idx, l)
	return idx
}

// JmpTo jumps to an absolute cache index such as a stub or trampoline.
func (d *DRC) JmpTo(target int) int {
	if target < 0 || target >= len(d.ops) {
		fatalf(d.top, ErrBadLink, "jump to %d", target)
	}
	return d.Emit(Op{Code: OpJmp, Target: target})
}

func (d *DRC) Jcc(cond Cond, size uint8, a, b Operand, l Label) int {
	idx := d.Emit(Op{Code: OpJcc, Cond: cond, Size: size, S1: a, S2: b})
	d.linkLabel(idx, l)
	return idx
}

func (d *DRC) JccTo(cond Cond, size uint8, a, b Operand, target int) int {
	if target < 0 || target >= len(d.ops) {
		fatalf(d.top, ErrBadLink, "branch to %d", target)
	}
	return d.Emit(Op{Code: OpJcc, Cond: cond, Size: size, S1: a, S2: b, Target: target})
}

// Call emits a call out to a host function.
func (d *DRC) Call(fn HostFunc, sym string, a, b Operand, aux int) int {
	return d.Emit(Op{Code: OpCall, Fn: fn, Sym: sym, S1: a, S2: b, Aux: aux})
}

// CallStub calls a trampoline that returns with Ret.
func (d *DRC) CallStub(target int) int {
	if target < 0 || target >= len(d.ops) {
		fatalf(d.top, ErrBadLink, "call to %d", target)
	}
	return d.Emit(Op{Code: OpCallStub, Target: target})
}

func (d *DRC) Ret() int      { return d.Emit(Op{Code: OpRet}) }
func (d *DRC) Dispatch() int { return d.Emit(Op{Code: OpDispatch}) }
func (d *DRC) Exit() int     { return d.Emit(Op{Code: OpExit}) }

// Cycles charges n cycles and leaves through the out-of-cycles stub when the
// budget runs out. next is the PC to resume at, or None when the PC slot
// already holds it.
func (d *DRC) Cycles(n int, next Operand) int {
	return d.Emit(Op{Code: OpCycles, S1: Imm(uint64(n)), S2: next})
}

// Charge subtracts n cycles without checking the budget.
func (d *DRC) Charge(n int) int {
	return d.Emit(Op{Code: OpCharge, S1: Imm(uint64(n))})
}

// Table loads dst from registered table t at index idx.
func (d *DRC) Table(dst, idx Operand, t int) int {
	return d.Emit(Op{Code: OpTable, D: dst, S1: idx, Aux: t})
}

// FOp emits a floating point op on raw bit patterns of the given width.
func (d *DRC) FOp(code Opcode, size uint8, dst, a, b Operand) int {
	return d.Emit(Op{Code: code, Size: size, D: dst, S1: a, S2: b})
}

// FCmp stores 1 in dst when the comparison of a and b matches any predicate in mask.
func (d *DRC) FCmp(size uint8, mask int, dst, a, b Operand) int {
	return d.Emit(Op{Code: OpFCmp, Size: size, D: dst, S1: a, S2: b, Aux: mask})
}

func (d *DRC) FCvt(kind int, dst, src Operand) int {
	return d.Emit(Op{Code: OpFCvt, D: dst, S1: src, Aux: kind})
}

func (d *DRC) GetRound(dst Operand) int { return d.Emit(Op{Code: OpGetRound, D: dst}) }
func (d *DRC) SetRound(src Operand) int { return d.Emit(Op{Code: OpSetRound, S1: src}) }
