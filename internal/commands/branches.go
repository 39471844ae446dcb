package commands

import (
	"context"

	"hookscope/internal/handlers"
	"hookscope/internal/hooks"
	"hookscope/internal/host"
	"hookscope/internal/store"
)

// branchInstall discovers the indirect branches of a module and hooks them
// into st.
func (s *Set) branchInstall(ctx context.Context, exe host.ExecContext, args string, res *host.CommandResult, name, saveCmd string, st *store.Store[store.BranchPair]) {
	fs := flags(name)
	module := fs.StringP("module", "m", "", "Module name to set breakpoints")
	stepOut := fs.Bool("step-out", false, "Record the state after the branched-to function returns")
	noCache := fs.Bool("no-cache", false, "Ignore the branch address cache")
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
	m, err := selectModule(t, *module)
	if err != nil {
		res.SetError(err)
		return
	}

	pipeline := *s.Session.Pipeline
	pipeline.NoCache = pipeline.NoCache || *noCache
	found, err := pipeline.BranchSites(ctx, modulePath(t, m), m.LoadAddress())
	if err != nil {
		res.SetError(err)
		return
	}
	if found.CacheHit {
		res.AppendMessage("Branch address cache (%s) found. Skipping analysis", found.CachePath)
	}

	kind, mode := hooks.KindIndirectBranch, handlers.StepInstruction
	if *stepOut {
		kind, mode = hooks.KindBranchStepOut, handlers.StepOut
	}
	tracer := &handlers.BranchTracer{
		Debugger:    exe.Debugger,
		Store:       st,
		Mode:        mode,
		StepTimeout: s.Session.Config.StepTimeout,
		Logger:      s.Session.Logger,
	}
	s.Session.Registry.Register(kind, tracer.Hit)

	rep, err := s.Session.Installer.InstallAddresses(t, found.Addrs, kind)
	if err != nil {
		res.SetError(err)
		return
	}
	for _, w := range rep.Warnings {
		res.AppendWarning("%s", w)
	}
	res.AppendMessage("Breakpoints set in module: %s (%s)", m.Name(), rep)
	res.AppendMessage("Please continue program execution, then save branch data using the %q command", saveCmd)
}

func (s *Set) branchSave(exe host.ExecContext, res *host.CommandResult, path string, st *store.Store[store.BranchPair]) {
	t, err := target(exe)
	if err != nil {
		res.SetError(err)
		return
	}
	n, err := store.SaveBranches(path, store.CollectModules(t), st)
	if err != nil {
		res.SetError(err)
		return
	}
	res.AppendMessage("Branch data saved to %s (%d branches)", path, n)
	res.AppendMessage("Saved data is cleared")
}

func (s *Set) branchTraceSet(ctx context.Context, exe host.ExecContext, args string, res *host.CommandResult) {
	s.branchInstall(ctx, exe, args, res, "brt_set_bps", "brt_save", s.Session.BranchTrace)
}

func (s *Set) branchTraceSave(ctx context.Context, exe host.ExecContext, args string, res *host.CommandResult) {
	s.branchSave(exe, res, s.Paths.BranchTrace, s.Session.BranchTrace)
}

func (s *Set) branchTrackSet(ctx context.Context, exe host.ExecContext, args string, res *host.CommandResult) {
	s.branchInstall(ctx, exe, args, res, "set_branch_bps", "save_branch", s.Session.BranchTrack)
}

func (s *Set) branchTrackSave(ctx context.Context, exe host.ExecContext, args string, res *host.CommandResult) {
	s.branchSave(exe, res, s.Paths.BranchTrack, s.Session.BranchTrack)
}
