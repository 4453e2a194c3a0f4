package main

import (
	"fmt"
	"io"

	"github.com/colorfulnotion/mipsdrc/drc"
	"github.com/colorfulnotion/mipsdrc/mips3"
	"github.com/olekukonko/tablewriter"
	"github.com/xlab/treeprint"
)

var gprNames = [32]string{
	"zero", "at", "v0", "v1", "a0", "a1", "a2", "a3",
	"t0", "t1", "t2", "t3", "t4", "t5", "t6", "t7",
	"s0", "s1", "s2", "s3", "s4", "s5", "s6", "s7",
	"t8", "t9", "k0", "k1", "gp", "sp", "fp", "ra",
}

// printRegisters renders the integer file four registers to a row.
func printRegisters(w io.Writer, c *mips3.CPU) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"reg", "value", "reg", "value", "reg", "value", "reg", "value"})
	table.SetAutoFormatHeaders(false)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	for row := 0; row < 8; row++ {
		var cells []string
		for col := 0; col < 4; col++ {
			n := col*8 + row
			cells = append(cells, gprNames[n], fmt.Sprintf("%016x", c.GetRegister(mips3.RegR0+mips3.RegID(n))))
		}
		table.Append(cells)
	}
	table.Append([]string{
		"pc", fmt.Sprintf("%016x", c.GetRegister(mips3.RegPC)),
		"hi", fmt.Sprintf("%016x", c.GetRegister(mips3.RegHI)),
		"lo", fmt.Sprintf("%016x", c.GetRegister(mips3.RegLO)),
		"fcr31", fmt.Sprintf("%08x", c.GetRegister(mips3.RegFCR31)),
	})
	table.Render()
}

var cop0Names = []struct {
	name string
	reg  int
}{
	{"Status", mips3.COP0Status}, {"Cause", mips3.COP0Cause}, {"EPC", mips3.COP0EPC},
	{"BadVAddr", mips3.COP0BadVAddr}, {"Count", mips3.COP0Count}, {"Compare", mips3.COP0Compare},
	{"EntryHi", mips3.COP0EntryHi}, {"Context", mips3.COP0Context}, {"PRId", mips3.COP0PRId},
}

func printCOP0(w io.Writer, c *mips3.CPU) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"cop0", "value"})
	for _, r := range cop0Names {
		table.Append([]string{r.name, fmt.Sprintf("%016x", c.GetRegister(mips3.RegCOP0+mips3.RegID(r.reg)))})
	}
	table.Render()
}

// printTLB lists the TLB entries that map anything.
func printTLB(w io.Writer, c *mips3.CPU) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"#", "PageMask", "EntryHi", "EntryLo0", "EntryLo1"})
	for i, e := range c.TLB() {
		if e.EntryLo[0]&2 == 0 && e.EntryLo[1]&2 == 0 {
			continue
		}
		table.Append([]string{
			fmt.Sprint(i),
			fmt.Sprintf("%08x", e.PageMask),
			fmt.Sprintf("%016x", e.EntryHi),
			fmt.Sprintf("%08x", e.EntryLo[0]),
			fmt.Sprintf("%08x", e.EntryLo[1]),
		})
	}
	table.Render()
}

// lookupTree shows each private lookup page with the compiled entry points it holds.
func lookupTree(d *drc.DRC) treeprint.Tree {
	tree := treeprint.New()
	tree.SetValue(fmt.Sprintf("code cache: %d/%d ops, %d flushes", d.Top(), d.Size(), d.Flushes()))
	for _, page := range d.LookupPages() {
		branch := tree.AddBranch(fmt.Sprintf("page %08x (%d entries)", page.Base, len(page.Entries)))
		for _, e := range page.Entries {
			branch.AddNode(fmt.Sprintf("%08x -> @%d", e.PC, e.Index))
		}
	}
	return tree
}
