package mips3

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	contextMagic   = "MIPS3CTX"
	contextVersion = 1
)

var ErrBadContext = errors.New("mips3: invalid context image")

type contextHeader struct {
	Magic   [8]byte
	Version uint32
	Slots   uint32
}

// SaveContext serializes every piece of guest state: the register file, COP0,
// COP1, the TLB and the cycle counter. Derived state is rebuilt on load.
func (c *CPU) SaveContext() ([]byte, error) {
	hdr := contextHeader{Version: contextVersion, Slots: numSlots}
	copy(hdr.Magic[:], contextMagic)

	slots := make([]uint64, numSlots)
	copy(slots, c.ctx)
	slots[cprSlot(0, COP0Count)] = uint64(c.count())

	var buf bytes.Buffer
	for _, v := range []any{hdr, slots, c.tlb, c.cycles()} {
		if err := binary.Write(&buf, binary.LittleEndian, v); err != nil {
			return nil, fmt.Errorf("mips3: save context: %w", err)
		}
	}
	return buf.Bytes(), nil
}

// LoadContext restores state written by SaveContext and flushes compiled code.
func (c *CPU) LoadContext(image []byte) error {
	r := bytes.NewReader(image)
	var hdr contextHeader
	if err := binary.Read(r, binary.LittleEndian, &hdr); err != nil {
		return fmt.Errorf("%w: %v", ErrBadContext, err)
	}
	if string(hdr.Magic[:]) != contextMagic {
		return fmt.Errorf("%w: bad magic %q", ErrBadContext, hdr.Magic[:])
	}
	if hdr.Version != contextVersion || hdr.Slots != numSlots {
		return fmt.Errorf("%w: version %d with %d slots", ErrBadContext, hdr.Version, hdr.Slots)
	}
	slots := make([]uint64, numSlots)
	var tlb [NumTLBEntries]TLBEntry
	var cycles int64
	for _, v := range []any{slots, &tlb, &cycles} {
		if err := binary.Read(r, binary.LittleEndian, v); err != nil {
			return fmt.Errorf("%w: %v", ErrBadContext, err)
		}
	}
	if r.Len() != 0 {
		return fmt.Errorf("%w: %d trailing bytes", ErrBadContext, r.Len())
	}

	copy(c.ctx, slots)
	c.ctx[gprSlot(0)] = 0
	c.tlb = tlb
	c.totalCycles = cycles
	c.countZero = cycles - int64(uint32(slots[cprSlot(0, COP0Count)]))*2
	c.rebuildTLB()
	c.updateTimer()
	return c.drc.Reset()
}

// Snapshot returns the architectural registers by name as hex strings. FPU
// registers appear as raw slots so the result does not depend on FR.
func (c *CPU) Snapshot() map[string]string {
	regs := make(map[string]string, int(RegFPS))
	for id := RegPC; id < RegFPS; id++ {
		regs[id.String()] = fmt.Sprintf("%016x", c.GetRegister(id))
	}
	return regs
}
