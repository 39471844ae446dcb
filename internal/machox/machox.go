// Package machox opens x86_64 Mach-O images and exposes the pieces the
// discovery pipeline needs: executable sections, segment bounds and symbols.
package machox

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/blacktop/go-macho"
	"github.com/blacktop/go-macho/types"
)

// ErrNotX86_64 is returned for images without an x86_64 slice.
var ErrNotX86_64 = errors.New("image has no x86_64 slice")

// ErrSectionNotFound is returned when a named section is absent.
var ErrSectionNotFound = errors.New("section not found")

type Image struct {
	Path string
	File *macho.File
	// Base is the vmaddr of the __TEXT segment, where the header is mapped.
	Base    uint64
	Symbols []Symbol // defined symbols sorted by address
	closer  io.Closer
}

// Symbol is a defined symbol at a static (vmaddr) address.
type Symbol struct {
	Name string
	Addr uint64
}

// Section is an executable section with its bytes.
type Section struct {
	Seg, Name string
	Addr      uint64 // vmaddr
	Data      []byte
}

// Open opens path, selecting the x86_64 slice of a fat binary.
func Open(path string) (*Image, error) {
	im := &Image{Path: path}

	fat, err := macho.OpenFat(path)
	switch {
	case err == nil:
		for _, arch := range fat.Arches {
			if arch.CPU == types.CPUAmd64 {
				im.File = arch.File
				break
			}
		}
		im.closer = fat
		if im.File == nil {
			fat.Close()
			return nil, fmt.Errorf("%s: %w", path, ErrNotX86_64)
		}
	case errors.Is(err, macho.ErrNotFat):
		m, err := macho.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open mach-o: %w", err)
		}
		if m.CPU != types.CPUAmd64 {
			m.Close()
			return nil, fmt.Errorf("%s is %v: %w", path, m.CPU, ErrNotX86_64)
		}
		im.File = m
		im.closer = m
	default:
		return nil, fmt.Errorf("open mach-o: %w", err)
	}

	if seg := im.File.Segment("__TEXT"); seg != nil {
		im.Base = seg.Addr
	}
	im.loadSymbols()
	return im, nil
}

func (im *Image) loadSymbols() {
	if im.File.Symtab == nil {
		return
	}
	for _, sym := range im.File.Symtab.Syms {
		// Undefined (imported) symbols carry no address.
		if sym.Value == 0 || sym.Sect == 0 || sym.Name == "" {
			continue
		}
		im.Symbols = append(im.Symbols, Symbol{Name: sym.Name, Addr: sym.Value})
	}
	sort.Slice(im.Symbols, func(i, j int) bool { return im.Symbols[i].Addr < im.Symbols[j].Addr })
}

// Close releases the underlying file.
func (im *Image) Close() error {
	if im.closer == nil {
		return nil
	}
	err := im.closer.Close()
	im.closer = nil
	return err
}

// Section reads a section named "SEG.sect", e.g. "__TEXT.__text".
func (im *Image) Section(qualified string) (Section, error) {
	seg, name, ok := strings.Cut(qualified, ".")
	if !ok {
		return Section{}, fmt.Errorf("section %q: want SEG.sect", qualified)
	}
	s := im.File.Section(seg, name)
	if s == nil {
		return Section{}, fmt.Errorf("%s: %w", qualified, ErrSectionNotFound)
	}
	data, err := s.Data()
	if err != nil {
		return Section{}, fmt.Errorf("read %s: %w", qualified, err)
	}
	return Section{Seg: seg, Name: name, Addr: s.Addr, Data: data}, nil
}

// SegmentRange returns the header-relative [low, high) range of a segment.
func (im *Image) SegmentRange(name string) (low, high uint64, ok bool) {
	seg := im.File.Segment(name)
	if seg == nil {
		return 0, 0, false
	}
	return seg.Addr - im.Base, seg.Addr - im.Base + seg.Memsz, true
}

// SymbolAddr finds a defined symbol by name, accepting the C underscore
// prefix being omitted.
func (im *Image) SymbolAddr(name string) (uint64, bool) {
	for _, s := range im.Symbols {
		if s.Name == name || s.Name == "_"+name {
			return s.Addr, true
		}
	}
	return 0, false
}

// SymbolAt returns the symbol at exactly addr.
func (im *Image) SymbolAt(addr uint64) (string, bool) {
	i := sort.Search(len(im.Symbols), func(i int) bool { return im.Symbols[i].Addr >= addr })
	if i < len(im.Symbols) && im.Symbols[i].Addr == addr {
		return im.Symbols[i].Name, true
	}
	return "", false
}
