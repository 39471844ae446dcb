// Package match selects hook sites from an instruction listing.
package match

import (
	"regexp"
	"strings"

	"hookscope/internal/disasm"
)

var (
	// reBranch matches the call/jmp family, including AT&T suffixed forms.
	reBranch = regexp.MustCompile(`^(call|jmp)[lqw]?$`)

	// reIndirect matches a register or memory operand, optionally behind a
	// size keyword. Literal targets (0x1000, sym.foo) never match.
	reIndirect = regexp.MustCompile(`^(?:(?:byte|word|dword|qword|tbyte|fword)\s+(?:ptr\s+)?)?(?:\[|\*|(?:r[abcd]x|r[sd]i|r[bs]p|r\d{1,2}[dwb]?|e[abcd]x|e[sd]i|e[bs]p|%r\w+|%e\w+)\b)`)
)

// prefixes can precede a branch mnemonic in a listing.
var prefixes = map[string]bool{"bnd": true, "notrack": true}

// IsIndirectBranch reports whether mnemonic/operands form a call or jmp
// through a register or memory operand.
func IsIndirectBranch(mnemonic, operands string) bool {
	mnemonic = strings.ToLower(strings.TrimSpace(mnemonic))
	operands = strings.ToLower(strings.TrimSpace(operands))
	for prefixes[mnemonic] {
		mnemonic, operands, _ = strings.Cut(operands, " ")
	}
	if !reBranch.MatchString(mnemonic) {
		return false
	}
	return reIndirect.MatchString(operands)
}

// IndirectBranches returns the addresses of every indirect call and jmp in
// listing order.
func IndirectBranches(listing disasm.Listing) []uint64 {
	var out []uint64
	for _, inst := range listing {
		if IsIndirectBranch(inst.Mnemonic, inst.Operands) {
			out = append(out, inst.Addr)
		}
	}
	return out
}

// CallSitesOf returns the direct calls whose operand names target, either
// bare, with the Mach-O underscore, or as an r2 import flag.
func CallSitesOf(listing disasm.Listing, target string) []uint64 {
	names := map[string]bool{
		target:               true,
		"_" + target:         true,
		"sym.imp." + target:  true,
		"sym.imp._" + target: true,
		"sym." + target:      true,
		"sym._" + target:     true,
	}
	var out []uint64
	for _, inst := range listing {
		if !strings.HasPrefix(inst.Mnemonic, "call") {
			continue
		}
		op := strings.TrimSpace(inst.Operands)
		if names[op] {
			out = append(out, inst.Addr)
		}
	}
	return out
}
