// Package reloc translates between file-relative and runtime addresses.
//
// File-relative addresses are offsets from the image header. A module's
// runtime load address is the header's runtime address, so adding the two
// gives the live address regardless of ASLR slide, provided the offsets were
// computed against the same image bytes (which the cache fingerprint pins).
package reloc

import "fmt"

// ToRuntime maps a file-relative address to a runtime address.
func ToRuntime(fileAddr, loadBase uint64) uint64 {
	return fileAddr + loadBase
}

// ToFile is the inverse of ToRuntime. It reports false for addresses below
// the load base.
func ToFile(runtimeAddr, loadBase uint64) (uint64, bool) {
	if runtimeAddr < loadBase {
		return 0, false
	}
	return runtimeAddr - loadBase, true
}

// AllToRuntime relocates every address, preserving order.
func AllToRuntime(fileAddrs []uint64, loadBase uint64) []uint64 {
	out := make([]uint64, len(fileAddrs))
	for i, a := range fileAddrs {
		out[i] = ToRuntime(a, loadBase)
	}
	return out
}

// Bounds is a half-open runtime address range [Low, High).
type Bounds struct {
	Low, High uint64
}

// Contains reports Low <= addr < High.
func (b Bounds) Contains(addr uint64) bool {
	return b.Low <= addr && addr < b.High
}

// Empty reports whether the range holds no address.
func (b Bounds) Empty() bool {
	return b.High <= b.Low
}

// Slide shifts the range by delta.
func (b Bounds) Slide(delta uint64) Bounds {
	return Bounds{Low: b.Low + delta, High: b.High + delta}
}

func (b Bounds) String() string {
	return fmt.Sprintf("[%#x, %#x)", b.Low, b.High)
}
