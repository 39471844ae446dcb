package match

import (
	"reflect"
	"strings"
	"testing"

	"hookscope/internal/disasm"
)

func TestIsIndirectBranch(t *testing.T) {
	tests := []struct {
		mnemonic string
		operands string
		want     bool
	}{
		{"call", "rax", true},
		{"jmp", "[rbx+8]", true},
		{"call", "0x401000", false},
		{"jmp", "rdi", true},
		{"call", "qword [rip + 0x2f1a]", true},
		{"call", "qword ptr [rbx+0x8]", true},
		{"jmp", "qword [reloc.objc_msgSend]", true},
		{"call", "r12", true},
		{"call", "r8_handler", false},
		{"call", "sym.imp.puts", false},
		{"jmp", "0x100003f40", false},
		{"callq", "*%rax", true},
		{"notrack", "jmp rax", true},
		{"mov", "rax, [rbx]", false},
		{"push", "rax", false},
		{"je", "0x1000", false},
		{"CALL", "RAX", true},
	}
	for _, tt := range tests {
		t.Run(tt.mnemonic+" "+tt.operands, func(t *testing.T) {
			if got := IsIndirectBranch(tt.mnemonic, tt.operands); got != tt.want {
				t.Errorf("IsIndirectBranch(%q, %q) = %v, want %v", tt.mnemonic, tt.operands, got, tt.want)
			}
		})
	}
}

func TestIndirectBranchesPrecision(t *testing.T) {
	listing := disasm.Listing{
		{Addr: 0x10, Mnemonic: "call", Operands: "rax"},
		{Addr: 0x20, Mnemonic: "jmp", Operands: "[rbx+8]"},
		{Addr: 0x30, Mnemonic: "call", Operands: "0x401000"},
		{Addr: 0x40, Mnemonic: "jmp", Operands: "rdi"},
	}
	got := IndirectBranches(listing)
	want := []uint64{0x10, 0x20, 0x40}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("IndirectBranches = %#x, want %#x", got, want)
	}
}

func TestIndirectBranchesTruncatedBytes(t *testing.T) {
	text := `|           0x100001000      ff24c5401000.  jmp qword [rax*8 + 0x100001040]
|           0x100001007      41ff942400010000. call qword [r12 + 0x100]
|           0x10000100f      ffd0           call rax
            ;-- call rax in a comment
`
	listing, err := disasm.ParseListing(strings.NewReader(text), 0x100000000)
	if err != nil {
		t.Fatal(err)
	}
	got := IndirectBranches(listing)
	want := []uint64{0x1000, 0x1007, 0x100f}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("IndirectBranches = %#x, want %#x", got, want)
	}
}

func TestCallSitesOf(t *testing.T) {
	listing := disasm.Listing{
		{Addr: 0x100, Mnemonic: "call", Operands: "sym.imp.yr_compiler_create"},
		{Addr: 0x110, Mnemonic: "call", Operands: "sym.imp.yr_compiler_add_string"},
		{Addr: 0x120, Mnemonic: "jmp", Operands: "sym.imp.yr_compiler_create"},
		{Addr: 0x130, Mnemonic: "call", Operands: "_yr_compiler_create"},
		{Addr: 0x140, Mnemonic: "call", Operands: "rax"},
	}
	got := CallSitesOf(listing, "yr_compiler_create")
	want := []uint64{0x100, 0x130}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("CallSitesOf = %#x, want %#x", got, want)
	}
}
