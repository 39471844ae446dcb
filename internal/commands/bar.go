package commands

import (
	"context"
	"errors"
	"strings"

	"hookscope/internal/handlers"
	"hookscope/internal/hooks"
	"hookscope/internal/host"
)

// bar hooks every function matching a regex and prints the object each one
// returns.
func (s *Set) bar(ctx context.Context, exe host.ExecContext, args string, res *host.CommandResult) {
	pattern := strings.TrimSpace(args)
	if pattern == "" {
		res.SetError(errors.New("usage: bar <regex>"))
		return
	}
	t, err := target(exe)
	if err != nil {
		res.SetError(err)
		return
	}
	printer := &handlers.FinishPrinter{
		Debugger:    exe.Debugger,
		Out:         s.Session.Out,
		StepTimeout: s.Session.Config.StepTimeout,
		Logger:      s.Session.Logger,
	}
	s.Session.Registry.Register(hooks.KindFinishPrint, printer.Hit)
	rep, err := s.Session.Installer.InstallRegex(t, pattern, hooks.KindFinishPrint)
	if err != nil {
		res.SetError(err)
		return
	}
	if rep.Installed == 0 {
		res.AppendWarning("Breakpoint isn't valid or hasn't found any hits.")
		return
	}
	bp := rep.Breakpoints[0]
	res.AppendMessage("Breakpoint %d: regex = '%s', locations = %d", bp.ID(), pattern, bp.NumLocations())
}
