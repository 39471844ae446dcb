package hooks

import (
	"fmt"

	"github.com/charmbracelet/log"

	"hookscope/internal/host"
)

// Report summarizes one install request.
type Report struct {
	Requested  int
	Installed  int
	Unresolved int
	Warnings   []string
	// Breakpoints are the hooks created, valid or not.
	Breakpoints []host.Breakpoint
}

func (r Report) String() string {
	return fmt.Sprintf("%d installed, %d unresolved", r.Installed, r.Unresolved)
}

func (r *Report) warn(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

// Installer creates host breakpoints bound to registered handlers.
type Installer struct {
	Registry *Registry
	Logger   *log.Logger
}

func NewInstaller(reg *Registry, logger *log.Logger) *Installer {
	if logger == nil {
		logger = log.Default()
	}
	return &Installer{Registry: reg, Logger: logger}
}

// InstallAddresses sets one hook per runtime address.
func (in *Installer) InstallAddresses(t host.Target, addrs []uint64, kind Kind) (Report, error) {
	fn, err := in.Registry.Lookup(kind)
	if err != nil {
		return Report{}, err
	}
	rep := Report{Requested: len(addrs)}
	if len(addrs) == 0 {
		rep.warn("no addresses to hook")
		in.Logger.Warn("Nothing to install", "kind", kind)
		return rep, nil
	}
	for _, addr := range addrs {
		bp, err := t.CreateBreakpointByAddress(addr)
		if err == nil && (bp == nil || !bp.Valid()) {
			err = errInvalidBreakpoint
		}
		if err != nil {
			rep.Unresolved++
			rep.warn("0x%x: %v", addr, err)
			in.Logger.Warn("Hook not installed", "addr", fmt.Sprintf("%#x", addr), "err", err)
			continue
		}
		bp.SetCallback(fn)
		rep.Installed++
		rep.Breakpoints = append(rep.Breakpoints, bp)
	}
	in.Logger.Debug("Installed address hooks", "kind", kind, "report", rep.String())
	return rep, nil
}

// InstallNames sets one hook per function name. A host may resolve a name
// later when its module loads, so zero-location hooks keep their callback.
func (in *Installer) InstallNames(t host.Target, names []string, kind Kind) (Report, error) {
	fn, err := in.Registry.Lookup(kind)
	if err != nil {
		return Report{}, err
	}
	rep := Report{Requested: len(names)}
	if len(names) == 0 {
		rep.warn("no names to hook")
		return rep, nil
	}
	for _, name := range names {
		bp, err := t.CreateBreakpointByName(name)
		if err != nil {
			rep.Unresolved++
			rep.warn("%s: %v", name, err)
			continue
		}
		bp.SetCallback(fn)
		rep.Breakpoints = append(rep.Breakpoints, bp)
		in.count(&rep, name, bp)
	}
	return rep, nil
}

// InstallRegex sets a single hook on every function matching pattern.
func (in *Installer) InstallRegex(t host.Target, pattern string, kind Kind) (Report, error) {
	fn, err := in.Registry.Lookup(kind)
	if err != nil {
		return Report{}, err
	}
	rep := Report{Requested: 1}
	bp, err := t.CreateBreakpointByRegex(pattern)
	if err != nil {
		return rep, fmt.Errorf("regex hook %q: %w", pattern, err)
	}
	bp.SetCallback(fn)
	rep.Breakpoints = append(rep.Breakpoints, bp)
	if n := bp.NumLocations(); n == 0 {
		rep.Unresolved++
		rep.warn("%s: %v", pattern, ErrUnresolvedSymbol)
		in.Logger.Warn("Regex matched nothing", "pattern", pattern)
	} else {
		rep.Installed = n
	}
	return rep, nil
}

func (in *Installer) count(rep *Report, name string, bp host.Breakpoint) {
	switch n := bp.NumLocations(); {
	case n == 0:
		rep.Unresolved++
		rep.warn("%s: %v", name, ErrUnresolvedSymbol)
		in.Logger.Warn("Unresolved symbol", "name", name)
	case n > 1:
		rep.Installed++
		rep.warn("%s resolved to %d locations", name, n)
		in.Logger.Info("Multiple locations", "name", name, "count", n)
	default:
		rep.Installed++
	}
}
