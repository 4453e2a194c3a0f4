package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/chzyer/readline"
	"github.com/colorfulnotion/mipsdrc/mips3"
	"github.com/dop251/goja"
)

// monitor runs an interactive JavaScript console bound to the machine.
func monitor(m *machine, slice int, history string) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:      "mips> ",
		HistoryFile: history,
	})
	if err != nil {
		return err
	}
	defer rl.Close()

	vm := goja.New()
	c := m.cpu
	vm.Set("step", func(cycles int) (int, error) {
		if cycles <= 0 {
			cycles = 1
		}
		return m.run(cycles, slice)
	})
	vm.Set("pc", func() string { return fmt.Sprintf("%08x", uint32(c.GetRegister(mips3.RegPC))) })
	vm.Set("regs", func() { printRegisters(os.Stdout, c) })
	vm.Set("cop0", func() { printCOP0(os.Stdout, c) })
	vm.Set("tlb", func() { printTLB(os.Stdout, c) })
	vm.Set("lookup", func() { fmt.Print(lookupTree(c.DRC()).String()) })
	vm.Set("reg", func(name string) (string, error) {
		v, ok := c.Snapshot()[name]
		if !ok {
			return "", fmt.Errorf("unknown register %q", name)
		}
		return v, nil
	})
	vm.Set("read32", func(addr uint32) (string, error) {
		phys, ok := c.TranslateAddress(addr)
		if !ok {
			return "", fmt.Errorf("%08x is not mapped", addr)
		}
		return fmt.Sprintf("%08x", m.bus.Read32(phys)), nil
	})
	vm.Set("listing", func(addr uint32) (string, error) { return c.Listing(addr) })
	vm.Set("flush", func() error { return c.FlushCode() })
	vm.Set("save", func(path string) error { return m.saveContext(path) })
	vm.Set("irq", func(line int, asserted bool) { c.SetIRQLine(line, asserted) })
	vm.Set("print", func(args ...goja.Value) {
		for _, arg := range args {
			fmt.Println(arg.Export())
		}
	})

	fmt.Println("✅ MIPS monitor started")
	fmt.Println("Functions: step(n) pc() regs() cop0() tlb() lookup() reg(name) read32(addr) listing(pc) flush() save(path) irq(line, on)")
	fmt.Println("Type 'exit' to quit.")
	for {
		line, err := rl.Readline()
		if err != nil {
			break
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if line == "exit" || line == "quit" {
			break
		}
		value, err := vm.RunString(line)
		if err != nil {
			fmt.Println("❌", err)
			continue
		}
		if value != nil && !goja.IsUndefined(value) {
			fmt.Println(value)
		}
	}
	return nil
}
