package x64

import (
	"fmt"
	"strings"

	"golang.org/x/arch/x86/x86asm"
)

// Disassemble decodes code into one line per instruction.
func Disassemble(code []byte) string {
	var sb strings.Builder
	disassembleRange(&sb, code, 0, len(code))
	return sb.String()
}

func disassembleRange(sb *strings.Builder, code []byte, offset, end int) {
	for offset < end {
		inst, err := x86asm.Decode(code[offset:end], 64)
		if err != nil {
			sb.WriteString(fmt.Sprintf("0x%04x: db 0x%02x\n", offset, code[offset]))
			offset++
			continue
		}
		var hexBytes []string
		for i := 0; i < inst.Len; i++ {
			hexBytes = append(hexBytes, fmt.Sprintf("%02x", code[offset+i]))
		}
		sb.WriteString(fmt.Sprintf("0x%04x: %-16s %s\n", offset, strings.Join(hexBytes, " "), inst.String()))
		offset += inst.Len
	}
}

// Listing interleaves each IR op with its decoded host instructions.
func (l *Lowered) Listing() string {
	var sb strings.Builder
	for i := range l.Ops {
		end := len(l.Code)
		if i+1 < len(l.Offsets) {
			end = l.Offsets[i+1]
		}
		idx := l.Base + i
		sb.WriteString(fmt.Sprintf("; @%d %s", idx, l.Ops[i].String()))
		if t, ok := l.Unresolved[idx]; ok {
			sb.WriteString(fmt.Sprintf(" (-> @%d)", t))
		}
		sb.WriteByte('\n')
		disassembleRange(&sb, l.Code, l.Offsets[i], end)
	}
	return sb.String()
}

// Instructions decodes the lowered code. It fails on the first undecodable byte.
func (l *Lowered) Instructions() ([]x86asm.Inst, error) {
	var out []x86asm.Inst
	for offset := 0; offset < len(l.Code); {
		inst, err := x86asm.Decode(l.Code[offset:], 64)
		if err != nil {
			return out, fmt.Errorf("decode at 0x%04x: %w", offset, err)
		}
		out = append(out, inst)
		offset += inst.Len
	}
	return out, nil
}
