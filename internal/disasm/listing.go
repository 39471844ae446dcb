package disasm

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// ParseListing parses radare2 pD output. Lines that do not carry an
// instruction (flags, comments, function headers) are skipped. Addresses are
// rebased to file-relative by subtracting loadBase; lines below the base are
// dropped.
func ParseListing(r io.Reader, loadBase uint64) (Listing, error) {
	var out Listing
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		inst, ok := ParseLine(sc.Text())
		if !ok || inst.Addr < loadBase {
			continue
		}
		inst.Addr -= loadBase
		out = append(out, inst)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scan listing: %w", err)
	}
	return out, nil
}

// ParseLine extracts one instruction from a listing line. The address is
// returned as printed.
func ParseLine(line string) (Instruction, bool) {
	fields := strings.Fields(line)

	// Skip flow-graph decoration ahead of the address column.
	i := 0
	for i < len(fields) && i < 3 && !strings.HasPrefix(fields[i], "0x") {
		i++
	}
	if i >= len(fields) || !strings.HasPrefix(fields[i], "0x") {
		return Instruction{}, false
	}
	addr, err := strconv.ParseUint(fields[i][2:], 16, 64)
	if err != nil {
		return Instruction{}, false
	}
	rest := fields[i+1:]

	// Opcode bytes column.
	if len(rest) > 0 && isByteColumn(rest[0]) {
		rest = rest[1:]
	}
	if len(rest) == 0 {
		return Instruction{}, false
	}

	if semi := indexOf(rest, ";"); semi >= 0 {
		rest = rest[:semi]
	}
	if len(rest) == 0 {
		return Instruction{}, false
	}

	return Instruction{
		Addr:     addr,
		Mnemonic: strings.ToLower(rest[0]),
		Operands: strings.Join(rest[1:], " "),
		Text:     strings.TrimSpace(line),
	}, true
}

// isByteColumn reports whether s is the opcode bytes column. radare2 cuts
// columns longer than asm.nbytes with a trailing '.'.
func isByteColumn(s string) bool {
	s = strings.TrimRight(s, ".")
	if len(s) < 2 || len(s)%2 != 0 {
		return false
	}
	for _, c := range s {
		if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'f' || c >= 'A' && c <= 'F') {
			return false
		}
	}
	return true
}

func indexOf(fields []string, prefix string) int {
	for i, f := range fields {
		if strings.HasPrefix(f, prefix) {
			return i
		}
	}
	return -1
}
