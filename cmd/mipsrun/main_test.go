package main

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/colorfulnotion/mipsdrc/mips3"
	"github.com/nsf/jsondiff"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testOptions(image string) machineOptions {
	return machineOptions{
		image:    image,
		load:     0x80001000,
		ramMB:    1,
		endian:   "big",
		isa:      3,
		flavor:   "r4600",
		maxInsns: 16,
	}
}

func writeImage(t *testing.T, words ...uint32) string {
	t.Helper()
	buf := make([]byte, 4*len(words))
	for i, w := range words {
		binary.BigEndian.PutUint32(buf[4*i:], w)
	}
	path := filepath.Join(t.TempDir(), "prog.bin")
	require.NoError(t, os.WriteFile(path, buf, 0o644))
	return path
}

func TestMachineRunsImage(t *testing.T) {
	// addiu v0, zero, 5; b .; nop
	opts := testOptions(writeImage(t, 0x24020005, 0x1000FFFF, 0))
	m, err := newMachine(&opts)
	require.NoError(t, err)

	used, err := m.run(100, 7)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, used, 100)
	assert.Equal(t, uint64(5), m.cpu.GetRegister(mips3.RegR0+2))
	assert.NotEmpty(t, m.cpu.DRC().LookupPages())
}

func TestContextDiff(t *testing.T) {
	opts := testOptions(writeImage(t, 0x24020005, 0x1000FFFF, 0))
	m, err := newMachine(&opts)
	require.NoError(t, err)
	dir := t.TempDir()
	first := filepath.Join(dir, "a.ctx")
	second := filepath.Join(dir, "b.ctx")

	_, err = m.run(10, 10)
	require.NoError(t, err)
	require.NoError(t, m.saveContext(first))
	_, err = m.run(10, 10)
	require.NoError(t, err)
	require.NoError(t, m.saveContext(second))

	a, err := contextJSON(first)
	require.NoError(t, err)
	b, err := contextJSON(second)
	require.NoError(t, err)

	jsonOpts := jsondiff.DefaultConsoleOptions()
	same, _ := jsondiff.Compare(a, a, &jsonOpts)
	assert.Equal(t, jsondiff.FullMatch, same)
	// Count keeps advancing while the guest spins
	differ, _ := jsondiff.Compare(a, b, &jsonOpts)
	assert.Equal(t, jsondiff.NoMatch, differ)

	resumed := testOptions("")
	resumed.context = first
	m2, err := newMachine(&resumed)
	require.NoError(t, err)
	assert.Equal(t, m.cpu.GetRegister(mips3.RegR0+2), m2.cpu.GetRegister(mips3.RegR0+2))
}

func TestMachineOptionErrors(t *testing.T) {
	opts := testOptions("")
	opts.endian = "middle"
	_, err := newMachine(&opts)
	assert.Error(t, err)

	opts = testOptions("")
	opts.flavor = "r3000"
	_, err = newMachine(&opts)
	assert.Error(t, err)

	opts = testOptions("")
	opts.isa = 2
	_, err = newMachine(&opts)
	assert.Error(t, err)

	opts = testOptions(filepath.Join(t.TempDir(), "missing.bin"))
	_, err = newMachine(&opts)
	assert.Error(t, err)
}
