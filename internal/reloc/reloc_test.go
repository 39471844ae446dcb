package reloc

import (
	"reflect"
	"testing"
)

func TestToRuntime(t *testing.T) {
	tests := []struct {
		file, base, want uint64
	}{
		{0, 0, 0},
		{0x1000, 0x100000000, 0x100001000},
		{0x3000, 0x100000000, 0x100003000},
		{0x1234, 0, 0x1234},
		{0, 0x7ff800000000, 0x7ff800000000},
	}
	for _, tt := range tests {
		if got := ToRuntime(tt.file, tt.base); got != tt.want {
			t.Errorf("ToRuntime(%#x, %#x) = %#x, want %#x", tt.file, tt.base, got, tt.want)
		}
		back, ok := ToFile(tt.want, tt.base)
		if !ok || back != tt.file {
			t.Errorf("ToFile(%#x, %#x) = %#x %v, want %#x", tt.want, tt.base, back, ok, tt.file)
		}
	}
}

func TestToFileBelowBase(t *testing.T) {
	if _, ok := ToFile(0xfff, 0x1000); ok {
		t.Error("ToFile accepted an address below the base")
	}
}

func TestAllToRuntime(t *testing.T) {
	got := AllToRuntime([]uint64{0x1000, 0x2000, 0x3000}, 0x100000000)
	want := []uint64{0x100001000, 0x100002000, 0x100003000}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("AllToRuntime = %#x, want %#x", got, want)
	}
}

func TestBoundsContains(t *testing.T) {
	b := Bounds{Low: 0x100000000, High: 0x100004000}
	tests := []struct {
		addr uint64
		want bool
	}{
		{0xffffffff, false},
		{0x100000000, true},
		{0x100002000, true},
		{0x100003fff, true},
		{0x100004000, false},
		{0x100004001, false},
	}
	for _, tt := range tests {
		if got := b.Contains(tt.addr); got != tt.want {
			t.Errorf("%s.Contains(%#x) = %v, want %v", b, tt.addr, got, tt.want)
		}
	}
}

func TestBoundsSlideAndEmpty(t *testing.T) {
	b := Bounds{Low: 0, High: 0x4000}.Slide(0x100000000)
	if b.Low != 0x100000000 || b.High != 0x100004000 {
		t.Errorf("Slide = %s", b)
	}
	if b.Empty() {
		t.Error("slid bounds reported empty")
	}
	if !(Bounds{}).Empty() {
		t.Error("zero bounds not empty")
	}
}
