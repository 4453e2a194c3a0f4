package drc

import (
	"context"
	"fmt"

	"github.com/colorfulnotion/mipsdrc/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	DefaultCacheSize    = 1 << 18
	DefaultDangerMargin = 1 << 13
)

var tracer = otel.Tracer("github.com/colorfulnotion/mipsdrc/drc")

// Config describes the guest to the generic recompiler layer.
type Config struct {
	CacheSize    int // in ops
	DangerMargin int // flush when fewer ops than this remain before a sequence
	AddressBits  int
	IgnoreBits   int // low PC bits that are always zero
	L1Bits       int
	PCSlot       int // context slot the dispatcher reads the guest PC from

	// Recompile compiles code for pc. It must register code at pc before returning.
	Recompile func(d *DRC, pc uint32) error
	// OnReset re-emits guest trampolines after the fixed stubs on every flush.
	OnReset func(d *DRC)
	// Entry runs in the entry stub before the first dispatch.
	Entry HostFunc
}

type entry struct {
	pc    uint32
	index int
}

type tentative struct {
	op int
	pc uint32
}

type sequence struct {
	id        int
	pc        uint32
	start     int
	entries   []entry
	tentative []tentative
}

type label struct {
	bound   bool
	pos     int
	pending []int
}

// Label is a forward or backward jump target inside the code cache.
type Label int

// DRC owns the code cache, the PC lookup tables and the fixed stubs.
type DRC struct {
	cfg    Config
	ops    []Op
	top    int
	danger int
	lookup *lookupTable
	tables [][]uint64

	seq    *sequence
	seqs   map[int]*sequence
	nextID int
	labels []label

	// fixed stubs, rebuilt at identical indices after every flush
	ExitStub      int
	DispatchStub  int
	EntryStub     int
	RecompileStub int
	FlushStub     int

	flushes int
}

// New allocates the code cache and performs the initial reset.
func New(cfg Config) (*DRC, error) {
	if cfg.CacheSize == 0 {
		cfg.CacheSize = DefaultCacheSize
	}
	if cfg.DangerMargin == 0 {
		cfg.DangerMargin = DefaultDangerMargin
	}
	if cfg.AddressBits == 0 {
		cfg.AddressBits = 32
	}
	if cfg.L1Bits == 0 {
		cfg.L1Bits = (cfg.AddressBits - cfg.IgnoreBits) / 2
	}
	if cfg.Recompile == nil {
		return nil, fmt.Errorf("drc: no recompile callback")
	}
	if cfg.DangerMargin >= cfg.CacheSize {
		return nil, fmt.Errorf("drc: danger margin %d exceeds cache size %d", cfg.DangerMargin, cfg.CacheSize)
	}
	if cfg.L1Bits <= 0 || cfg.L1Bits >= cfg.AddressBits-cfg.IgnoreBits {
		return nil, fmt.Errorf("drc: invalid lookup split l1=%d addr=%d ignore=%d", cfg.L1Bits, cfg.AddressBits, cfg.IgnoreBits)
	}
	d := &DRC{
		cfg:    cfg,
		ops:    make([]Op, cfg.CacheSize),
		danger: cfg.CacheSize - cfg.DangerMargin,
		lookup: newLookupTable(cfg.AddressBits, cfg.IgnoreBits, cfg.L1Bits),
	}
	if err := d.Reset(); err != nil {
		return nil, err
	}
	return d, nil
}

// Reset flushes all generated code, restores the lookup tables and rebuilds the
// fixed stubs and guest trampolines.
func (d *DRC) Reset() (err error) {
	_, span := tracer.Start(context.Background(), "drc.flush",
		trace.WithAttributes(attribute.Int("ops", d.top), attribute.Int("flushes", d.flushes)))
	defer span.End()
	defer func() {
		if r := recover(); r != nil {
			fe, ok := r.(*FatalError)
			if !ok {
				panic(r)
			}
			err = fe
		}
	}()

	if d.flushes > 0 {
		log.Info(log.DRCMonitoring, "code cache flushed", "used", d.top, "size", len(d.ops), "flushes", d.flushes)
	}
	d.flushes++
	clear(d.ops[:d.top])
	d.top = 0
	d.seq = nil
	d.seqs = make(map[int]*sequence)
	d.labels = d.labels[:0]

	d.ExitStub = d.Exit()
	d.DispatchStub = d.Dispatch()
	d.EntryStub = d.top
	if d.cfg.Entry != nil {
		d.Call(d.cfg.Entry, "entry", None, None, 0)
	}
	d.Dispatch()
	d.RecompileStub = d.Call(d.recompileHost, "recompile", None, None, 0)
	d.Dispatch()
	d.FlushStub = d.Call(d.flushHost, "flush", None, None, 0)
	d.Dispatch()
	d.lookup.reset(d.RecompileStub)

	if d.cfg.OnReset != nil {
		d.cfg.OnReset(d)
	}
	return nil
}

// Flushes returns how many times the cache has been reset, including the initial one.
func (d *DRC) Flushes() int { return d.flushes }

// Top returns the cache cursor.
func (d *DRC) Top() int { return d.top }

// Size returns the cache capacity in ops.
func (d *DRC) Size() int { return len(d.ops) }

// Lookup returns the cache index registered for pc, or the recompile stub.
func (d *DRC) Lookup(pc uint32) int { return d.lookup.get(pc) }

// LookupPages lists every private L2 table with its populated entries.
func (d *DRC) LookupPages() []LookupPage { return d.lookup.pages() }

// Ops returns a copy of the ops in [start, end).
func (d *DRC) Ops(start, end int) []Op {
	if start < 0 || end > d.top || start > end {
		return nil
	}
	out := make([]Op, end-start)
	copy(out, d.ops[start:end])
	return out
}

// AddTable registers a constant lookup table for OpTable. len(vals) must be a power of two.
func (d *DRC) AddTable(vals []uint64) int {
	if n := len(vals); n == 0 || n&(n-1) != 0 {
		panic(fmt.Sprintf("drc: table length %d is not a power of two", n))
	}
	d.tables = append(d.tables, vals)
	return len(d.tables) - 1
}

// BeginSequence opens a recompile sequence at pc. Code previously registered at pc
// is invalidated along with the rest of its sequence.
func (d *DRC) BeginSequence(pc uint32) {
	if d.seq != nil {
		fatalf(d.top, ErrSequence, "begin at %08x while %08x is open", pc, d.seq.pc)
	}
	if d.top >= d.danger {
		log.Debug(log.DRCMonitoring, "code cache past danger threshold", "top", d.top, "danger", d.danger)
		if err := d.Reset(); err != nil {
			panic(err)
		}
	}
	if old := d.lookup.get(pc); old != d.RecompileStub && d.ops[old].Code == OpEntry {
		d.invalidate(d.ops[old].Aux)
	}
	d.nextID++
	d.seq = &sequence{id: d.nextID, pc: pc, start: d.top}
	d.seqs[d.seq.id] = d.seq
}

func (d *DRC) invalidate(id int) {
	s, ok := d.seqs[id]
	if !ok {
		return
	}
	for _, e := range s.entries {
		d.ops[e.index] = Op{Code: OpStale, S1: Imm(uint64(e.pc))}
		if d.lookup.get(e.pc) == e.index {
			d.lookup.set(e.pc, d.RecompileStub)
		}
	}
	delete(d.seqs, id)
	log.Trace(log.DRCMonitoring, "sequence invalidated", "pc", fmt.Sprintf("%08x", s.pc), "entries", len(s.entries))
}

// RegisterCode emits an entry pad for the guest instruction at pc and points the
// lookup tables at it.
func (d *DRC) RegisterCode(pc uint32) int {
	if d.seq == nil {
		fatalf(d.top, ErrSequence, "register %08x outside a sequence", pc)
	}
	idx := d.Emit(Op{Code: OpEntry, S1: Imm(uint64(pc)), Aux: d.seq.id})
	d.lookup.set(pc, idx)
	d.seq.entries = append(d.seq.entries, entry{pc: pc, index: idx})
	return idx
}

// TentativeJmp emits a jump through the dispatcher that EndSequence rewrites into
// a direct jump when pc was compiled in the same sequence. The PC slot must
// already hold pc.
func (d *DRC) TentativeJmp(pc uint32) int {
	idx := d.JmpTo(d.DispatchStub)
	if d.seq != nil {
		d.seq.tentative = append(d.seq.tentative, tentative{op: idx, pc: pc})
	}
	return idx
}

// EndSequence resolves tentative branches and closes the sequence.
func (d *DRC) EndSequence() {
	s := d.seq
	if s == nil {
		fatalf(d.top, ErrSequence, "end without begin")
	}
	if len(s.tentative) > 0 {
		at := make(map[uint32]int, len(s.entries))
		for _, e := range s.entries {
			at[e.pc] = e.index
		}
		for _, t := range s.tentative {
			if idx, ok := at[t.pc]; ok {
				d.ops[t.op].Target = idx
			}
		}
	}
	for i := range d.labels {
		if !d.labels[i].bound {
			fatalf(d.top, ErrUnboundLabel, "label %d in sequence %08x", i, s.pc)
		}
	}
	d.labels = d.labels[:0]
	s.tentative = nil
	d.seq = nil
}

// AbortSequence drops an open sequence after a fatal error. Its code stays in the
// cache but is unreachable.
func (d *DRC) AbortSequence() {
	if d.seq == nil {
		return
	}
	d.invalidate(d.seq.id)
	d.seq = nil
	d.labels = d.labels[:0]
}

// SequenceStart returns the cache index of the open sequence's first op.
func (d *DRC) SequenceStart() int {
	if d.seq == nil {
		return -1
	}
	return d.seq.start
}

// NewLabel allocates an unbound label.
func (d *DRC) NewLabel() Label {
	d.labels = append(d.labels, label{})
	return Label(len(d.labels) - 1)
}

// Bind places l at the cursor and patches pending references.
func (d *DRC) Bind(l Label) {
	lb := &d.labels[l]
	if lb.bound {
		fatalf(d.top, ErrBadLink, "label %d bound twice", l)
	}
	lb.bound = true
	lb.pos = d.top
	for _, idx := range lb.pending {
		d.ops[idx].Target = d.top
	}
	lb.pending = nil
}

func (d *DRC) linkLabel(idx int, l Label) {
	lb := &d.labels[l]
	if lb.bound {
		d.ops[idx].Target = lb.pos
		return
	}
	lb.pending = append(lb.pending, idx)
}

func (d *DRC) recompileHost(x *Exec, op *Op) int {
	pc := uint32(x.Ctx[d.cfg.PCSlot])
	if err := d.recompile(pc); err != nil {
		return x.Fail(err)
	}
	return Continue
}

func (d *DRC) recompile(pc uint32) (err error) {
	defer func() {
		if r := recover(); r != nil {
			fe, ok := r.(*FatalError)
			if !ok {
				panic(r)
			}
			d.AbortSequence()
			err = fe
		}
	}()
	if err := d.cfg.Recompile(d, pc); err != nil {
		d.AbortSequence()
		return err
	}
	if d.lookup.get(pc) == d.RecompileStub {
		return fmt.Errorf("%w at %08x", ErrNoCode, pc)
	}
	return nil
}

func (d *DRC) flushHost(x *Exec, op *Op) int {
	if err := d.Reset(); err != nil {
		return x.Fail(err)
	}
	return Continue
}

// Geometry describes the cache layout a native lowering needs for dispatch.
type Geometry struct {
	PCSlot     int
	IgnoreBits uint
	L2Bits     uint
	L2Mask     uint32
}

func (d *DRC) Geometry() Geometry {
	return Geometry{
		PCSlot:     d.cfg.PCSlot,
		IgnoreBits: d.lookup.ignore,
		L2Bits:     d.lookup.l2Bits,
		L2Mask:     d.lookup.l2Mask,
	}
}
