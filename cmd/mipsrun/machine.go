package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/colorfulnotion/mipsdrc/mips3"
	"github.com/spf13/cobra"
)

// machineOptions describes how to build and seed a CPU from the command line.
type machineOptions struct {
	image        string
	context      string
	load         uint32
	entry        uint32
	ramMB        int
	endian       string
	isa          int
	flavor       string
	strictVerify bool
	strictCOP0   bool
	strictCOP1   bool
	maxInsns     int
}

func (o *machineOptions) register(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringVar(&o.image, "image", "", "raw guest image in guest byte order")
	f.StringVar(&o.context, "context", "", "saved context to resume from")
	f.Uint32Var(&o.load, "load", 0x80001000, "virtual load address of the image")
	f.Uint32Var(&o.entry, "entry", 0, "initial PC (defaults to the load address)")
	f.IntVar(&o.ramMB, "ram", 8, "RAM size in MiB, mapped at physical 0")
	f.StringVar(&o.endian, "endian", "big", "guest byte order: big or little")
	f.IntVar(&o.isa, "isa", 3, "instruction set: 3 or 4")
	f.StringVar(&o.flavor, "flavor", "r4600", "CPU flavor: r4600, r5000, qed5271, rm7000")
	f.BoolVar(&o.strictVerify, "strict-verify", false, "check every instruction of a block for self-modifying code")
	f.BoolVar(&o.strictCOP0, "strict-cop0", false, "raise Coprocessor Unusable for user-mode COP0 access")
	f.BoolVar(&o.strictCOP1, "strict-cop1", false, "raise Coprocessor Unusable for COP1 access without CU1")
	f.IntVar(&o.maxInsns, "max-instructions", mips3.DefaultMaxInstructions, "instructions per compiled sequence")
}

var flavors = map[string]mips3.Flavor{
	"r4600":   mips3.R4600,
	"r5000":   mips3.R5000,
	"qed5271": mips3.QED5271,
	"rm7000":  mips3.RM7000,
}

type machine struct {
	cpu *mips3.CPU
	bus *mips3.RAMBus
}

func (o *machineOptions) config() (mips3.Config, error) {
	cfg := mips3.DefaultConfig()
	switch strings.ToLower(o.endian) {
	case "big", "be":
		cfg.Endianness = mips3.BigEndian
	case "little", "le":
		cfg.Endianness = mips3.LittleEndian
	default:
		return cfg, fmt.Errorf("unknown byte order %q", o.endian)
	}
	cfg.ISA = mips3.ISA(o.isa)
	flavor, ok := flavors[strings.ToLower(o.flavor)]
	if !ok {
		return cfg, fmt.Errorf("unknown flavor %q", o.flavor)
	}
	cfg.Flavor = flavor
	cfg.StrictVerify = o.strictVerify
	cfg.StrictCOP0 = o.strictCOP0
	cfg.StrictCOP1 = o.strictCOP1
	cfg.MaxInstructions = o.maxInsns
	return cfg, nil
}

func newMachine(o *machineOptions) (*machine, error) {
	cfg, err := o.config()
	if err != nil {
		return nil, err
	}
	if o.ramMB <= 0 || o.ramMB > 512 {
		return nil, fmt.Errorf("RAM size %d MiB out of range", o.ramMB)
	}
	bus := mips3.NewRAMBus(0, o.ramMB<<20, cfg.Endianness)
	cfg.FastRAM = append(cfg.FastRAM, bus.FastRAM())
	cpu, err := mips3.New(cfg, bus)
	if err != nil {
		return nil, err
	}
	m := &machine{cpu: cpu, bus: bus}

	if o.image != "" {
		data, err := os.ReadFile(o.image)
		if err != nil {
			return nil, err
		}
		bus.LoadImage(o.load&0x1FFFFFFF, data)
		fmt.Printf("✓ Loaded %d bytes at %08x\n", len(data), o.load)
	}
	if o.context != "" {
		image, err := os.ReadFile(o.context)
		if err != nil {
			return nil, err
		}
		if err := cpu.LoadContext(image); err != nil {
			return nil, err
		}
		fmt.Printf("✓ Resumed context %s at pc=%08x\n", o.context, uint32(cpu.GetRegister(mips3.RegPC)))
		return m, nil
	}
	entry := o.entry
	if entry == 0 {
		entry = o.load
	}
	cpu.SetRegister(mips3.RegPC, uint64(entry))
	return m, nil
}

// run executes budget cycles in slices, stopping early on a fatal error.
func (m *machine) run(budget, slice int) (int, error) {
	total := 0
	for total < budget {
		n := slice
		if left := budget - total; left < n {
			n = left
		}
		used, err := m.cpu.Execute(n)
		total += used
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func (m *machine) saveContext(path string) error {
	image, err := m.cpu.SaveContext()
	if err != nil {
		return err
	}
	return os.WriteFile(path, image, 0o644)
}
