package store

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"hookscope/internal/host"
	"hookscope/internal/host/hosttest"
)

func pair(fn string) BranchPair {
	return BranchPair{
		Before: Event{Module: "App", Function: fn, Registers: map[string]string{"rax": "0x0000000000000001"}},
		After:  Event{Module: "App", Function: fn + ".after", Registers: map[string]string{"rax": "0x0000000000000002"}},
	}
}

func TestStoreLifecycle(t *testing.T) {
	path := filepath.Join(t.TempDir(), "branches.json")
	s := New[BranchPair]()
	const n = 5
	for i := 0; i < n; i++ {
		if idx := s.Append(pair("f")); idx != i {
			t.Fatalf("Append index = %d, want %d", idx, i)
		}
	}

	mods := []Module{{Name: "App", Addr: 0x100000000}}
	written, err := SaveBranches(path, mods, s)
	if err != nil {
		t.Fatalf("SaveBranches: %v", err)
	}
	if written != n {
		t.Errorf("written = %d, want %d", written, n)
	}
	if s.Len() != 0 {
		t.Errorf("Len after save = %d, want 0", s.Len())
	}

	bt, err := LoadBranches(path)
	if err != nil {
		t.Fatalf("LoadBranches: %v", err)
	}
	if len(bt.Branches) != n {
		t.Errorf("persisted %d pairs, want %d", len(bt.Branches), n)
	}
	if len(bt.Modules) != 1 || bt.Modules[0].Addr != 0x100000000 {
		t.Errorf("modules = %+v", bt.Modules)
	}

	if idx := s.Append(pair("g")); idx != 0 {
		t.Errorf("first append after save has index %d, want 0", idx)
	}
}

func TestSaveBranchesLayout(t *testing.T) {
	path := filepath.Join(t.TempDir(), "b.json")
	s := New[BranchPair]()
	s.Append(pair("main"))
	if _, err := SaveBranches(path, []Module{{Name: "App", Addr: 0x100000000}}, s); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{
		`"modules"`, `"name": "App"`, `"addr": "0x100000000"`,
		`"branches"`, `"before"`, `"after"`, `"func": "main"`, `"registers"`,
	} {
		if !strings.Contains(string(data), want) {
			t.Errorf("output missing %s:\n%s", want, data)
		}
	}
}

func TestSaveFailureKeepsContents(t *testing.T) {
	s := New[BranchPair]()
	s.Append(pair("f"))
	path := filepath.Join(t.TempDir(), "missing", "b.json")
	if _, err := SaveBranches(path, nil, s); err == nil {
		t.Fatal("SaveBranches into a missing dir succeeded")
	}
	if s.Len() != 1 {
		t.Errorf("Len after failed save = %d, want 1", s.Len())
	}
}

func TestSaveEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "b.json")
	if _, err := SaveBranches(path, nil, New[BranchPair]()); err != nil {
		t.Fatal(err)
	}
	bt, err := LoadBranches(path)
	if err != nil {
		t.Fatal(err)
	}
	if bt.Modules == nil || bt.Branches == nil {
		t.Errorf("empty save should write arrays, got %+v", bt)
	}
}

func TestTypesRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "types.json")
	s := New[TypeRecord]()
	s.Append(TypeRecord{ReturnAddress: 0x100003f00, Description: "MyApp.Foo"})
	s.Append(TypeRecord{ReturnAddress: 0x100003f10, Description: "Swift.Array<Swift.Int>"})
	if n, err := SaveTypes(path, s); err != nil || n != 2 {
		t.Fatalf("SaveTypes = %d, %v", n, err)
	}
	data, _ := os.ReadFile(path)
	if !strings.Contains(string(data), "4294983424") {
		t.Errorf("address should be a JSON integer:\n%s", data)
	}
	recs, err := LoadTypes(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 2 || recs[0].ReturnAddress != 0x100003f00 || recs[1].Description != "Swift.Array<Swift.Int>" {
		t.Errorf("LoadTypes = %+v", recs)
	}
}

func TestTypeRecordRejectsBadShape(t *testing.T) {
	var r TypeRecord
	if err := r.UnmarshalJSON([]byte(`[1]`)); err == nil {
		t.Error("accepted one element record")
	}
	if err := r.UnmarshalJSON([]byte(`["x", "y"]`)); err == nil {
		t.Error("accepted string address")
	}
}

func TestDrainWithError(t *testing.T) {
	s := New[int]()
	s.Append(1)
	boom := errors.New("boom")
	if err := s.DrainWith(func([]int) error { return boom }); !errors.Is(err, boom) {
		t.Fatalf("DrainWith err = %v", err)
	}
	if got := s.Drain(); len(got) != 1 {
		t.Errorf("Drain = %v", got)
	}
	if got := s.Drain(); len(got) != 0 {
		t.Errorf("second Drain = %v", got)
	}
}

func TestConcurrentAppend(t *testing.T) {
	s := New[int]()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				s.Append(j)
			}
		}()
	}
	wg.Wait()
	if s.Len() != 800 {
		t.Errorf("Len = %d, want 800", s.Len())
	}
}

func TestCollectModules(t *testing.T) {
	tgt := &hosttest.Target{ModuleList: []*hosttest.Module{
		{NameValue: "App", Load: 0x100000000},
		{NameValue: "libswiftCore.dylib", Load: 0x7ff810000000},
	}}
	got := CollectModules(tgt)
	if len(got) != 2 || got[1].Name != "libswiftCore.dylib" || got[1].Addr != 0x7ff810000000 {
		t.Errorf("CollectModules = %+v", got)
	}
	var _ host.Target = tgt
}
