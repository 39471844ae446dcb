package disasm

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/charmbracelet/log"
)

// Runner executes an external command and returns its standard output.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

// ExecRunner runs the command with os/exec.
func ExecRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil && stderr.Len() > 0 {
		return out, fmt.Errorf("%w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return out, err
}

// Radare2 drives r2 through a generated script. The script and the listing
// are exchanged through files in a private temp directory.
type Radare2 struct {
	Path     string   // r2 binary, "r2" when empty
	Sections []string // e.g. "__TEXT.__text"; DefaultSections when empty
	Run      Runner   // ExecRunner when nil
	Logger   *log.Logger
}

func (r *Radare2) binary() string {
	if r.Path == "" {
		return "r2"
	}
	return r.Path
}

func (r *Radare2) sections() []string {
	if len(r.Sections) == 0 {
		return DefaultSections
	}
	return r.Sections
}

func (r *Radare2) runner() Runner {
	if r.Run == nil {
		return ExecRunner
	}
	return r.Run
}

// DisassembleScript is the r2 script that dumps every configured section to
// outPath with flow lines disabled so the columns stay stable.
func DisassembleScript(sections []string, outPath string) string {
	var sb strings.Builder
	sb.WriteString("e asm.lines = false\n")
	sb.WriteString("e asm.bytes = true\n")
	sb.WriteString("aaaa\n")
	fmt.Fprintf(&sb, "pD 0 > %s\n", outPath)
	for _, name := range sections {
		fmt.Fprintf(&sb, "s $(iS~%s~[3])\n", name)
		fmt.Fprintf(&sb, "pD $SS >> %s\n", outPath)
	}
	return sb.String()
}

// CallSiteScript seeks to the first cross reference of sym.imp.<name> and
// prints the current seek.
func CallSiteScript(importName string) string {
	return fmt.Sprintf("aa\ns $(axt sym.imp.%s~[0])\ns\n", importName)
}

func (r *Radare2) args(script string, loadBase uint64, imagePath string) []string {
	return []string{
		"-e", "bin.relocs.apply=true",
		"-i", script,
		"-B", fmt.Sprintf("%#x", loadBase),
		"-q", imagePath,
	}
}

func (r *Radare2) toolErr(err error) error {
	if errors.Is(err, exec.ErrNotFound) {
		err = fmt.Errorf("%s not installed: %w", r.binary(), err)
	}
	return &ToolError{Tool: "radare2", Err: err}
}

func (r *Radare2) Disassemble(ctx context.Context, imagePath string, loadBase uint64) (Listing, error) {
	dir, err := os.MkdirTemp("", "hookscope-r2-")
	if err != nil {
		return nil, fmt.Errorf("create work dir: %w", err)
	}
	defer os.RemoveAll(dir)

	scriptPath := filepath.Join(dir, "disas.r2")
	outPath := filepath.Join(dir, "disas.asm")
	if err := os.WriteFile(scriptPath, []byte(DisassembleScript(r.sections(), outPath)), 0o644); err != nil {
		return nil, fmt.Errorf("write r2 script: %w", err)
	}

	if r.Logger != nil {
		r.Logger.Info("running r2 analysis, this takes a while", "image", imagePath, "base", fmt.Sprintf("%#x", loadBase))
	}
	if _, err := r.runner()(ctx, r.binary(), r.args(scriptPath, loadBase, imagePath)...); err != nil {
		return nil, r.toolErr(err)
	}

	f, err := os.Open(outPath)
	if err != nil {
		return nil, r.toolErr(fmt.Errorf("no listing produced for %s: %w", imagePath, err))
	}
	defer f.Close()

	listing, err := ParseListing(f, loadBase)
	if err != nil {
		return nil, err
	}
	if len(listing) == 0 {
		return nil, r.toolErr(fmt.Errorf("empty listing for %s (unrecognized format?)", imagePath))
	}
	return listing, nil
}

func (r *Radare2) CallSite(ctx context.Context, imagePath string, loadBase uint64, importName string) (uint64, error) {
	dir, err := os.MkdirTemp("", "hookscope-r2-")
	if err != nil {
		return 0, fmt.Errorf("create work dir: %w", err)
	}
	defer os.RemoveAll(dir)

	scriptPath := filepath.Join(dir, "callsite.r2")
	if err := os.WriteFile(scriptPath, []byte(CallSiteScript(importName)), 0o644); err != nil {
		return 0, fmt.Errorf("write r2 script: %w", err)
	}

	out, err := r.runner()(ctx, r.binary(), r.args(scriptPath, loadBase, imagePath)...)
	if err != nil {
		return 0, r.toolErr(err)
	}

	// The final "s" prints the seek; take the last non-empty line.
	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	last := strings.TrimSpace(lines[len(lines)-1])
	addr, err := strconv.ParseUint(strings.TrimPrefix(last, "0x"), 16, 64)
	if err != nil || addr < loadBase {
		return 0, fmt.Errorf("%s in %s: %w", importName, imagePath, ErrCallSiteNotFound)
	}
	// An unresolved axt leaves the seek at the base.
	if addr == loadBase {
		return 0, fmt.Errorf("%s in %s: %w", importName, imagePath, ErrCallSiteNotFound)
	}
	return addr - loadBase, nil
}
