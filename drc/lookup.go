package drc

// lookupTable maps guest PCs to cache indices in two levels. Every L1 slot starts
// out pointing at one shared canonical L2 table filled with the recompile stub;
// a private L2 is allocated the first time a slot is written.
type lookupTable struct {
	addrMask  uint32
	ignore    uint
	l2Bits    uint
	l2Mask    uint32
	l1        [][]int32
	owned     []bool
	canonical []int32
	stub      int32
}

func newLookupTable(addrBits, ignoreBits, l1Bits int) *lookupTable {
	l2Bits := addrBits - ignoreBits - l1Bits
	t := &lookupTable{
		ignore:    uint(ignoreBits),
		l2Bits:    uint(l2Bits),
		l2Mask:    uint32(1)<<uint(l2Bits) - 1,
		l1:        make([][]int32, 1<<uint(l1Bits)),
		owned:     make([]bool, 1<<uint(l1Bits)),
		canonical: make([]int32, 1<<uint(l2Bits)),
	}
	if addrBits >= 32 {
		t.addrMask = 0xFFFFFFFF
	} else {
		t.addrMask = uint32(1)<<uint(addrBits) - 1
	}
	return t
}

func (t *lookupTable) split(pc uint32) (int, int) {
	v := (pc & t.addrMask) >> t.ignore
	return int(v >> t.l2Bits), int(v & t.l2Mask)
}

func (t *lookupTable) get(pc uint32) int {
	i1, i2 := t.split(pc)
	return int(t.l1[i1][i2])
}

func (t *lookupTable) set(pc uint32, index int) {
	i1, i2 := t.split(pc)
	if !t.owned[i1] {
		l2 := make([]int32, len(t.canonical))
		copy(l2, t.canonical)
		t.l1[i1] = l2
		t.owned[i1] = true
	}
	t.l1[i1][i2] = int32(index)
}

// reset points every L1 slot back at the canonical table.
func (t *lookupTable) reset(stub int) {
	t.stub = int32(stub)
	for i := range t.canonical {
		t.canonical[i] = t.stub
	}
	for i := range t.l1 {
		t.l1[i] = t.canonical
		t.owned[i] = false
	}
}

// LookupEntry is one populated lookup slot.
type LookupEntry struct {
	PC    uint32
	Index int
}

// LookupPage is a private L2 table and its populated slots.
type LookupPage struct {
	Base    uint32
	Entries []LookupEntry
}

func (t *lookupTable) pages() []LookupPage {
	var out []LookupPage
	for i1, owned := range t.owned {
		if !owned {
			continue
		}
		base := uint32(i1) << (t.l2Bits + t.ignore)
		page := LookupPage{Base: base}
		for i2, idx := range t.l1[i1] {
			if idx != t.stub {
				pc := base | uint32(i2)<<t.ignore
				page.Entries = append(page.Entries, LookupEntry{PC: pc, Index: int(idx)})
			}
		}
		out = append(out, page)
	}
	return out
}
