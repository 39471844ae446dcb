package disasm

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/arch/x86/x86asm"

	"hookscope/internal/machox"
)

// Native decodes Mach-O sections in process with x86asm. It needs no
// external tool but does no function analysis, so listings are a plain
// linear sweep.
type Native struct {
	Sections []string
}

func (n *Native) sections() []string {
	if len(n.Sections) == 0 {
		return DefaultSections
	}
	return n.Sections
}

func (n *Native) open(imagePath string) (*machox.Image, error) {
	im, err := machox.Open(imagePath)
	if err != nil {
		return nil, &ToolError{Tool: "x86asm", Err: err}
	}
	return im, nil
}

func (n *Native) Disassemble(ctx context.Context, imagePath string, loadBase uint64) (Listing, error) {
	im, err := n.open(imagePath)
	if err != nil {
		return nil, err
	}
	defer im.Close()

	var out Listing
	for _, name := range n.sections() {
		sect, err := im.Section(name)
		if err != nil {
			return nil, &ToolError{Tool: "x86asm", Err: err}
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		symbolAt := func(rel uint64) (string, bool) { return im.SymbolAt(rel + im.Base) }
		out = append(out, Decode(sect.Data, sect.Addr-im.Base, loadBase, symbolAt)...)
	}
	return out, nil
}

// Decode linearly sweeps code starting at file-relative address rel. Text
// is rendered in Intel syntax against runtime addresses (rel + loadBase);
// undecodable bytes become "(bad)" and the sweep resynchronizes one byte on.
// symbolAt, when set, names file-relative addresses.
func Decode(code []byte, rel, loadBase uint64, symbolAt func(uint64) (string, bool)) Listing {
	lookup := func(addr uint64) (string, uint64) {
		if symbolAt == nil || addr < loadBase {
			return "", 0
		}
		if name, ok := symbolAt(addr - loadBase); ok {
			return name, addr
		}
		return "", 0
	}

	var out Listing
	off := 0
	for off < len(code) {
		addr := rel + uint64(off)
		inst, err := x86asm.Decode(code[off:], 64)
		if err != nil {
			out = append(out, Instruction{Addr: addr, Mnemonic: "(bad)", Text: fmt.Sprintf("%#x (bad)", addr+loadBase)})
			off++
			continue
		}
		text := x86asm.IntelSyntax(inst, addr+loadBase, lookup)
		mnemonic, operands, _ := strings.Cut(text, " ")
		out = append(out, Instruction{
			Addr:     addr,
			Mnemonic: strings.ToLower(mnemonic),
			Operands: operands,
			Text:     fmt.Sprintf("%#x %s", addr+loadBase, text),
		})
		off += inst.Len
	}
	return out
}

func (n *Native) CallSite(ctx context.Context, imagePath string, loadBase uint64, importName string) (uint64, error) {
	im, err := n.open(imagePath)
	if err != nil {
		return 0, err
	}
	defer im.Close()

	target, ok := im.SymbolAddr(importName)
	if !ok {
		return 0, fmt.Errorf("%s in %s: %w", importName, imagePath, ErrCallSiteNotFound)
	}

	for _, name := range n.sections() {
		sect, err := im.Section(name)
		if err != nil {
			return 0, &ToolError{Tool: "x86asm", Err: err}
		}
		if site, ok := FirstDirectCall(sect.Data, sect.Addr, target); ok {
			return site - im.Base, nil
		}
	}
	return 0, fmt.Errorf("%s in %s: %w", importName, imagePath, ErrCallSiteNotFound)
}

// FirstDirectCall returns the vmaddr of the first rel32 call to target in
// code mapped at vmaddr base.
func FirstDirectCall(code []byte, base, target uint64) (uint64, bool) {
	off := 0
	for off < len(code) {
		inst, err := x86asm.Decode(code[off:], 64)
		if err != nil {
			off++
			continue
		}
		if inst.Op == x86asm.CALL {
			if rel, ok := inst.Args[0].(x86asm.Rel); ok {
				pc := base + uint64(off) + uint64(inst.Len)
				if uint64(int64(pc)+int64(rel)) == target {
					return base + uint64(off), true
				}
			}
		}
		off += inst.Len
	}
	return 0, false
}
