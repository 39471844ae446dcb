// Package commands registers the hookscope debugger commands into a host
// interpreter.
package commands

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/spf13/pflag"

	"hookscope/internal/host"
	"hookscope/internal/session"
	"hookscope/internal/store"
)

// ErrArchMismatch is returned by commands that only understand x86_64.
var ErrArchMismatch = errors.New("architecture not supported")

// Paths are the artifact locations the commands write.
type Paths struct {
	BranchTrace string
	BranchTrack string
	TypeTrace   string
	DumpDir     string
}

// DefaultPaths are the fixed well-known artifact paths.
func DefaultPaths() Paths {
	return Paths{
		BranchTrace: store.BranchTracePath,
		BranchTrack: store.BranchTrackPath,
		TypeTrace:   store.TypeTracePath,
		DumpDir:     "/tmp",
	}
}

// Set is the command set bound to one session.
type Set struct {
	Session *session.Session
	Paths   Paths
}

// Register adds every command to interp using the default paths.
func Register(interp host.Interpreter, sess *session.Session) error {
	return (&Set{Session: sess, Paths: DefaultPaths()}).Register(interp)
}

type command struct {
	name string
	help string
	fn   host.CommandFunc
}

func (s *Set) commands() []command {
	return []command{
		{"brt_set_bps", "Set breakpoints to record destination addresses of indirect branches", s.branchTraceSet},
		{"brt_save", "Save trace data to " + s.Paths.BranchTrace, s.branchTraceSave},
		{"set_branch_bps", "Track branches", s.branchTrackSet},
		{"save_branch", "Save tracked branches to " + s.Paths.BranchTrack, s.branchTrackSave},
		{"swtt_set_bps", "Set breakpoints on swift_allocObject and swift_initStackObject", s.typesSet},
		{"swtt_save", "Save the collected trace data to a file", s.typesSave},
		{"dyn_types_trace", "Set breakpoints on swift_initStackObject", s.dynTypesSet},
		{"save_trace_data", "Save the collected trace data to a file", s.dynTypesSave},
		{"xpr_yara_dump", "Dump yara rule strings of XProtectRemediator", s.yaraDump},
		{"swbt", "Resymbolicate stripped Swift backtrace", s.swbt},
		{"bar", "Break after regex: print the returned object of every matching function", s.bar},
	}
}

func (s *Set) Register(interp host.Interpreter) error {
	for _, c := range s.commands() {
		if err := interp.AddCommand(c.name, c.help, c.fn); err != nil {
			return fmt.Errorf("register %s: %w", c.name, err)
		}
	}
	return nil
}

// flags builds a getopt style parser for a command.
func flags(name string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs
}

// parse splits args on whitespace and parses them, reporting usage on error.
func parse(fs *pflag.FlagSet, args string, res *host.CommandResult) bool {
	if err := fs.Parse(strings.Fields(args)); err != nil {
		res.SetError(fmt.Errorf("%w\nusage: %s [options]\n%s", err, fs.Name(), fs.FlagUsages()))
		return false
	}
	return true
}

func target(exe host.ExecContext) (host.Target, error) {
	if exe.Target != nil {
		return exe.Target, nil
	}
	if exe.Debugger == nil {
		return nil, errors.New("no debugger")
	}
	return exe.Debugger.SelectedTarget()
}

func requireX86_64(t host.Target) error {
	arch, _, _ := strings.Cut(t.Triple(), "-")
	if arch != "x86_64" {
		return fmt.Errorf("%w: this command only supports x86_64, current architecture is %s", ErrArchMismatch, arch)
	}
	return nil
}

// selectModule returns the named module, or the main executable when name
// is empty.
func selectModule(t host.Target, name string) (host.Module, error) {
	mods := t.Modules()
	if len(mods) == 0 {
		return nil, errors.New("target has no modules")
	}
	if name == "" {
		return mods[0], nil
	}
	for _, m := range mods {
		if m.Name() == name || filepath.Base(m.Path()) == name {
			return m, nil
		}
	}
	return nil, fmt.Errorf("module %q not loaded", name)
}

// modulePath is where the module's image lives on disk.
func modulePath(t host.Target, m host.Module) string {
	if m.Path() != "" {
		return m.Path()
	}
	return t.Executable()
}
