// Package disasm defines the instruction listing the pattern matchers work on
// and the analyzers that produce it from an on-disk image.
package disasm

import (
	"context"
	"errors"
	"fmt"
)

// Instruction is one decoded instruction.
type Instruction struct {
	Addr     uint64 // file-relative address (runtime address minus load base)
	Mnemonic string // lowercase
	Operands string
	Text     string // the listing line as the analyzer produced it
}

// Listing is a linear sequence of instructions in disassembly order.
type Listing []Instruction

// StaticAnalyzer turns an image into a listing. Addresses it reports are
// always file-relative so callers can relocate them against any load base.
type StaticAnalyzer interface {
	Disassemble(ctx context.Context, imagePath string, loadBase uint64) (Listing, error)
	// CallSite locates the call site of an imported function.
	CallSite(ctx context.Context, imagePath string, loadBase uint64, importName string) (uint64, error)
}

// DefaultSections are the executable sections disassembled when none are
// configured.
var DefaultSections = []string{"__TEXT.__text"}

// ErrCallSiteNotFound is returned when no call to the named import exists.
var ErrCallSiteNotFound = errors.New("call site not found")

// ToolError reports that the external analysis tool could not run or did
// not understand the image. Discovery aborts on it.
type ToolError struct {
	Tool string
	Err  error
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("%s: %v", e.Tool, e.Err)
}

func (e *ToolError) Unwrap() error {
	return e.Err
}
