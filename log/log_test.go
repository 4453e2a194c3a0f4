package log

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	lvl, err := ParseLevel("debug")
	require.NoError(t, err)
	assert.Equal(t, LevelDebug, lvl)

	_, err = ParseLevel("loud")
	assert.Error(t, err)
}

func TestModuleGating(t *testing.T) {
	var buf bytes.Buffer
	prev := Root()
	defer SetDefault(prev)
	SetDefault(NewLogger(NewTerminalHandlerWithLevel(&buf, LevelTrace, false)))

	DisableModule(TLBMonitoring)
	Debug(TLBMonitoring, "hidden")
	assert.Empty(t, buf.String())

	EnableModules("tlb, drc")
	defer DisableModule(TLBMonitoring)
	defer DisableModule(DRCMonitoring)
	Debug(TLBMonitoring, "tlb rebuilt", "entries", 3)
	assert.Contains(t, buf.String(), "tlb rebuilt")
	assert.Contains(t, buf.String(), "module=tlb")
	assert.Contains(t, buf.String(), "entries=3")
}

func TestInfoIgnoresModules(t *testing.T) {
	var buf bytes.Buffer
	prev := Root()
	defer SetDefault(prev)
	SetDefault(NewLogger(NewTerminalHandlerWithLevel(&buf, LevelInfo, false)))

	Info(DRCMonitoring, "cache flushed", "ops", 10)
	Debug(DRCMonitoring, "not at this level")
	assert.Contains(t, buf.String(), "cache flushed")
	assert.NotContains(t, buf.String(), "not at this level")
}
