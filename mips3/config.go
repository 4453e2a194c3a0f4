package mips3

import (
	"errors"
	"fmt"

	"github.com/colorfulnotion/mipsdrc/drc"
)

type Endianness int

const (
	BigEndian Endianness = iota
	LittleEndian
)

func (e Endianness) String() string {
	if e == LittleEndian {
		return "little"
	}
	return "big"
}

type ISA int

const (
	MIPS3 ISA = 3
	MIPS4 ISA = 4
)

// Flavor selects the PRId and FPU implementation values reported to the guest.
type Flavor int

const (
	R4600 Flavor = iota
	R5000
	QED5271
	RM7000
)

var flavorPRId = map[Flavor]uint32{
	R4600:   0x2020,
	R5000:   0x2320,
	QED5271: 0x2810,
	RM7000:  0x2710,
}

const (
	MaxFastRAM  = 16
	MaxHotspots = 16

	DefaultMaxInstructions = 256
	DefaultNOPAbsorb       = 4

	// MaxOpsPerInstruction bounds the cache ops one guest instruction emits,
	// delay slot, entry pad and exception stubs included.
	MaxOpsPerInstruction = 48
)

var (
	ErrTooManyFastRAM  = errors.New("mips3: too many fast RAM regions")
	ErrTooManyHotspots = errors.New("mips3: too many hotspots")
	ErrBadFastRAM      = errors.New("mips3: invalid fast RAM region")
	ErrCacheTooSmall   = errors.New("mips3: code cache too small for block size")
)

// FastRAM is a physical address range served straight from a host buffer.
// Base holds the range as host little-endian 32-bit words; sub-word lanes of a
// big-endian guest are found by XOR on the byte offset.
type FastRAM struct {
	Start    uint32
	End      uint32 // inclusive
	Base     []byte
	ReadOnly bool
}

// Hotspot charges extra cycles when the word at PC matches Opcode.
type Hotspot struct {
	PC     uint32
	Opcode uint32
	Cycles int
}

type Config struct {
	Endianness Endianness
	ISA        ISA
	Flavor     Flavor

	// StrictCOP0 raises Coprocessor Unusable for COP0 ops outside kernel mode
	// without CU0; StrictCOP1 does the same for COP1 without CU1.
	StrictCOP0 bool
	StrictCOP1 bool
	// StrictVerify checks every instruction word for modification instead of
	// once per block.
	StrictVerify bool

	MaxInstructions int
	NOPAbsorb       int
	CacheSize       int // in IR ops
	DangerMargin    int

	FastRAM  []FastRAM
	Hotspots []Hotspot

	// Debugger is called before every instruction when set.
	Debugger func(pc uint32)
	// Timer is told the number of cycles until the next Count/Compare match
	// whenever either register changes.
	Timer func(cycles int64)
}

func DefaultConfig() Config {
	return Config{
		Endianness:      BigEndian,
		ISA:             MIPS3,
		Flavor:          R4600,
		MaxInstructions: DefaultMaxInstructions,
		NOPAbsorb:       DefaultNOPAbsorb,
		CacheSize:       drc.DefaultCacheSize,
		DangerMargin:    drc.DefaultDangerMargin,
	}
}

func (cfg *Config) validate() error {
	if len(cfg.FastRAM) > MaxFastRAM {
		return ErrTooManyFastRAM
	}
	if len(cfg.Hotspots) > MaxHotspots {
		return ErrTooManyHotspots
	}
	for _, r := range cfg.FastRAM {
		if err := r.validate(); err != nil {
			return err
		}
	}
	if cfg.ISA != MIPS3 && cfg.ISA != MIPS4 {
		return fmt.Errorf("mips3: unsupported ISA %d", cfg.ISA)
	}
	if _, ok := flavorPRId[cfg.Flavor]; !ok {
		return fmt.Errorf("mips3: unknown flavor %d", cfg.Flavor)
	}
	if cfg.MaxInstructions <= 0 {
		cfg.MaxInstructions = DefaultMaxInstructions
	}
	if cfg.NOPAbsorb < 0 {
		cfg.NOPAbsorb = 0
	}
	// the margin must hold the largest block so a flush always precedes it
	cache, margin := cfg.CacheSize, cfg.DangerMargin
	if cache == 0 {
		cache = drc.DefaultCacheSize
	}
	if margin == 0 {
		margin = drc.DefaultDangerMargin
	}
	if need := cfg.MaxInstructions * MaxOpsPerInstruction; margin < need {
		margin = need
	}
	if margin >= cache {
		return fmt.Errorf("%w: %d instructions need a margin of %d ops, cache holds %d",
			ErrCacheTooSmall, cfg.MaxInstructions, margin, cache)
	}
	cfg.CacheSize, cfg.DangerMargin = cache, margin
	return nil
}

func (r FastRAM) validate() error {
	if r.End < r.Start {
		return fmt.Errorf("%w: end %08x before start %08x", ErrBadFastRAM, r.End, r.Start)
	}
	if r.Start&3 != 0 || (r.End+1)&3 != 0 {
		return fmt.Errorf("%w: %08x-%08x not word aligned", ErrBadFastRAM, r.Start, r.End)
	}
	if uint64(len(r.Base)) < uint64(r.End-r.Start)+1 {
		return fmt.Errorf("%w: buffer of %d bytes for %08x-%08x", ErrBadFastRAM, len(r.Base), r.Start, r.End)
	}
	return nil
}
