// Package symbolicate turns runtime addresses into Module`Symbol+offset
// frames using the nearest preceding symbol of the owning module.
package symbolicate

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ianlancetaylor/demangle"

	"hookscope/internal/host"
	"hookscope/internal/machox"
	"hookscope/internal/reloc"
)

// Symbol is a symbol start at a runtime address.
type Symbol struct {
	Module string
	Name   string
	Addr   uint64
}

// Module is a loaded image's runtime range.
type Module struct {
	Name   string
	Bounds reloc.Bounds
}

// Frame is a resolved address.
type Frame struct {
	Addr   uint64
	Module string
	Symbol string
	Offset uint64
}

func (f Frame) String() string {
	return fmt.Sprintf("%s`%s+%#x", f.Module, Demangle(f.Symbol), f.Offset)
}

// Resolver maps a runtime address to a frame.
type Resolver interface {
	Lookup(addr uint64) (Frame, bool)
}

// Demangle renders C++ and Rust names readably. Mach-O adds a leading
// underscore to every C symbol, which is dropped first.
func Demangle(name string) string {
	if strings.HasPrefix(name, "__Z") {
		name = name[1:]
	}
	return demangle.Filter(name)
}

// Table resolves against a fixed symbol set.
type Table struct {
	modules []Module
	syms    []Symbol
}

// NewTable sorts syms by address. Without modules every symbol is taken to
// belong to one flat image.
func NewTable(modules []Module, syms []Symbol) *Table {
	s := make([]Symbol, len(syms))
	copy(s, syms)
	sort.SliceStable(s, func(i, j int) bool { return s[i].Addr < s[j].Addr })
	return &Table{modules: modules, syms: s}
}

func (t *Table) moduleOf(addr uint64) (string, bool) {
	for _, m := range t.modules {
		if m.Bounds.Contains(addr) {
			return m.Name, true
		}
	}
	return "", false
}

func (t *Table) Lookup(addr uint64) (Frame, bool) {
	module, scoped := t.moduleOf(addr)
	if len(t.modules) > 0 && !scoped {
		return Frame{}, false
	}
	// First symbol above addr; walk back to the nearest one in the module.
	i := sort.Search(len(t.syms), func(i int) bool { return t.syms[i].Addr > addr })
	for i--; i >= 0; i-- {
		s := t.syms[i]
		if scoped && s.Module != module {
			continue
		}
		return Frame{Addr: addr, Module: s.Module, Symbol: s.Name, Offset: addr - s.Addr}, true
	}
	return Frame{}, false
}

// Len is the number of symbols in the table.
func (t *Table) Len() int { return len(t.syms) }

// Trace renders one frame per line, innermost first.
func Trace(addrs []uint64, r Resolver) string {
	lines := make([]string, 0, len(addrs))
	for _, a := range addrs {
		if f, ok := r.Lookup(a); ok {
			lines = append(lines, f.String())
		} else {
			lines = append(lines, fmt.Sprintf("%#x", a))
		}
	}
	return strings.Join(lines, "\n")
}

// FromMachO builds a table from an image's symbol table as if the image
// header were mapped at loadBase.
func FromMachO(path, module string, loadBase uint64) (*Table, error) {
	im, err := machox.Open(path)
	if err != nil {
		return nil, err
	}
	defer im.Close()

	if module == "" {
		module = filepath.Base(path)
	}
	syms := make([]Symbol, 0, len(im.Symbols))
	for _, s := range im.Symbols {
		syms = append(syms, Symbol{Module: module, Name: s.Name, Addr: reloc.ToRuntime(s.Addr-im.Base, loadBase)})
	}
	var mods []Module
	if low, high, ok := im.SegmentRange("__TEXT"); ok {
		mods = append(mods, Module{Name: module, Bounds: reloc.Bounds{Low: low, High: high}.Slide(loadBase)})
	}
	return NewTable(mods, syms), nil
}

// TargetResolver resolves through the host's own symbol lookup.
type TargetResolver struct {
	Target host.Target
}

// FromTarget wraps a live target.
func FromTarget(t host.Target) *TargetResolver {
	return &TargetResolver{Target: t}
}

func (r *TargetResolver) Lookup(addr uint64) (Frame, bool) {
	sc, ok := r.Target.ResolveLoadAddress(addr)
	if !ok || sc.Symbol == "" || sc.SymbolAddr > addr {
		return Frame{}, false
	}
	return Frame{Addr: addr, Module: sc.Module, Symbol: sc.Symbol, Offset: addr - sc.SymbolAddr}, true
}
