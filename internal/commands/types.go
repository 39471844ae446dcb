package commands

import (
	"context"

	"hookscope/internal/handlers"
	"hookscope/internal/hooks"
	"hookscope/internal/host"
	"hookscope/internal/reloc"
	"hookscope/internal/store"
)

// Swift runtime entry points whose first argument is type metadata.
const (
	swiftAllocObject     = "swift_allocObject"
	swiftInitStackObject = "swift_initStackObject"
)

// textBounds is the runtime range of a module's __TEXT segment.
func textBounds(m host.Module) (reloc.Bounds, bool) {
	for _, sec := range m.Sections() {
		if sec.Name == "__TEXT" {
			return reloc.Bounds{Low: sec.LoadAddr, High: sec.LoadAddr + sec.Size}, true
		}
	}
	return reloc.Bounds{}, false
}

func (s *Set) typesSet(ctx context.Context, exe host.ExecContext, args string, res *host.CommandResult) {
	fs := flags("swtt_set_bps")
	module := fs.StringP("module", "m", "", "Only record allocations made from this module")
	if !parse(fs, args, res) {
		return
	}
	t, err := target(exe)
	if err != nil {
		res.SetError(err)
		return
	}
	m, err := selectModule(t, *module)
	if err != nil {
		res.SetError(err)
		return
	}

	tracer := &handlers.TypeTracer{Debugger: exe.Debugger, Store: s.Session.Types, Logger: s.Session.Logger}
	if b, ok := textBounds(m); ok {
		s.Session.SetBounds(b)
		tracer.Bounds = s.Session.Bounds()
	} else {
		res.AppendWarning("Cannot find __TEXT segment of %s; recording every caller", m.Name())
	}
	s.installTypes(t, res, tracer, []string{swiftAllocObject, swiftInitStackObject})
}

func (s *Set) dynTypesSet(ctx context.Context, exe host.ExecContext, args string, res *host.CommandResult) {
	fs := flags("dyn_types_trace")
	alloc := fs.BoolP("alloc", "a", false, "Also hook swift_allocObject")
	fs.StringP("module", "m", "", "Accepted for symmetry; every caller is recorded")
	if !parse(fs, args, res) {
		return
	}
	t, err := target(exe)
	if err != nil {
		res.SetError(err)
		return
	}
	names := []string{swiftInitStackObject}
	if *alloc {
		names = append(names, swiftAllocObject)
	}
	tracer := &handlers.TypeTracer{Debugger: exe.Debugger, Store: s.Session.DynTypes, Unfiltered: true, Logger: s.Session.Logger}
	s.installTypes(t, res, tracer, names)
}

func (s *Set) installTypes(t host.Target, res *host.CommandResult, tracer *handlers.TypeTracer, names []string) {
	s.Session.Registry.Register(hooks.KindTypeMetadata, tracer.Hit)
	rep, err := s.Session.Installer.InstallNames(t, names, hooks.KindTypeMetadata)
	if err != nil {
		res.SetError(err)
		return
	}
	for _, w := range rep.Warnings {
		res.AppendWarning("%s", w)
	}
	res.AppendMessage("Breakpoints are set (%s). Please continue execution.", rep)
}

func (s *Set) typesSave(ctx context.Context, exe host.ExecContext, args string, res *host.CommandResult) {
	s.saveTypes(res, s.Session.Types)
}

func (s *Set) dynTypesSave(ctx context.Context, exe host.ExecContext, args string, res *host.CommandResult) {
	s.saveTypes(res, s.Session.DynTypes)
}

func (s *Set) saveTypes(res *host.CommandResult, st *store.Store[store.TypeRecord]) {
	n, err := store.SaveTypes(s.Paths.TypeTrace, st)
	if err != nil {
		res.SetError(err)
		return
	}
	res.AppendMessage("Saved to %s (%d records)", s.Paths.TypeTrace, n)
}
