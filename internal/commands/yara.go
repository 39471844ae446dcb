package commands

import (
	"context"
	"fmt"
	"path/filepath"

	"hookscope/internal/handlers"
	"hookscope/internal/hooks"
	"hookscope/internal/host"
)

const (
	yaraCompilerCreate    = "yr_compiler_create"
	yaraCompilerAddString = "yr_compiler_add_string"
)

// yaraDump hooks the matcher initializer's call to yr_compiler_create and
// every yr_compiler_add_string, dumping both to /tmp/<module>_yara_dump.txt.
func (s *Set) yaraDump(ctx context.Context, exe host.ExecContext, args string, res *host.CommandResult) {
	fs := flags("xpr_yara_dump")
	if !parse(fs, args, res) {
		return
	}
	t, err := target(exe)
	if err != nil {
		res.SetError(err)
		return
	}
	if err := requireX86_64(t); err != nil {
		res.SetError(err)
		return
	}
	m, err := selectModule(t, "")
	if err != nil {
		res.SetError(err)
		return
	}
	exePath := modulePath(t, m)

	site, err := s.Session.Pipeline.CallSite(ctx, exePath, m.LoadAddress(), yaraCompilerCreate)
	if err != nil {
		res.SetError(fmt.Errorf("cannot get YaraMatcher.init: %w (are you really debugging XProtectRemediator? executable is %s)", err, exePath))
		return
	}

	out := filepath.Join(s.Paths.DumpDir, filepath.Base(exePath)+"_yara_dump.txt")
	w, err := s.Session.OpenDump(out)
	if err != nil {
		res.SetError(err)
		return
	}
	logger := s.Session.Logger
	s.Session.Registry.Register(hooks.KindYaraMatcher, handlers.YaraMatcher(exe.Debugger, w, logger))
	s.Session.Registry.Register(hooks.KindYaraRule, handlers.YaraRule(w, logger))

	rep, err := s.Session.Installer.InstallAddresses(t, []uint64{site}, hooks.KindYaraMatcher)
	if err != nil {
		res.SetError(err)
		return
	}
	names, err := s.Session.Installer.InstallNames(t, []string{yaraCompilerAddString}, hooks.KindYaraRule)
	if err != nil {
		res.SetError(err)
		return
	}
	for _, msg := range append(rep.Warnings, names.Warnings...) {
		res.AppendWarning("%s", msg)
	}
	res.AppendMessage("Callback functions are set. Please continue the execution.")
	res.AppendMessage("Dumped result will be saved to %s", out)
}
