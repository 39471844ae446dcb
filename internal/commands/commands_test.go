package commands

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/charmbracelet/log"

	"hookscope/internal/config"
	"hookscope/internal/disasm"
	"hookscope/internal/handlers"
	"hookscope/internal/host"
	"hookscope/internal/host/hosttest"
	"hookscope/internal/session"
	"hookscope/internal/store"
)

const base = 0x100000000

type fakeAnalyzer struct {
	listing  disasm.Listing
	callSite uint64
	err      error
	calls    int
}

func (f *fakeAnalyzer) Disassemble(context.Context, string, uint64) (disasm.Listing, error) {
	f.calls++
	return f.listing, f.err
}

func (f *fakeAnalyzer) CallSite(context.Context, string, uint64, string) (uint64, error) {
	f.calls++
	return f.callSite, f.err
}

type fixture struct {
	t        *testing.T
	dbg      *hosttest.Debugger
	target   *hosttest.Target
	analyzer *fakeAnalyzer
	sess     *session.Session
	paths    Paths
	out      *bytes.Buffer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	img := filepath.Join(dir, "XProtectRemediatorSheepSwap")
	if err := os.WriteFile(img, []byte("mach-o bytes"), 0o644); err != nil {
		t.Fatal(err)
	}
	tgt := &hosttest.Target{
		TripleValue: "x86_64-apple-macosx14.0.0",
		ExePath:     img,
		ModuleList: []*hosttest.Module{
			{
				NameValue: "XProtectRemediatorSheepSwap",
				PathValue: img,
				Load:      base,
				Sects:     []host.Section{{Name: "__TEXT", FileAddr: base, LoadAddr: base, Size: 0x4000}},
			},
			{NameValue: "libswiftCore.dylib", PathValue: "/usr/lib/swift/libswiftCore.dylib", Load: 0x7ff810000000},
		},
		NameLocations: map[string][]uint64{
			"swift_allocObject":      {0x7ff810002000},
			"swift_initStackObject":  {0x7ff810001000},
			"yr_compiler_add_string": {0x100003800},
		},
		Symbols: []hosttest.Symbol{
			{Module: "XProtectRemediatorSheepSwap", Name: "main", Addr: 0x100001000},
			{Module: "XProtectRemediatorSheepSwap", Name: "-[Foo makeObject]", Addr: 0x100002500},
			{Module: "XProtectRemediatorSheepSwap", Name: "-[Foo makeOther]", Addr: 0x100002600},
		},
	}
	fa := &fakeAnalyzer{
		listing: disasm.Listing{
			{Addr: 0x1000, Mnemonic: "call", Operands: "rax"},
			{Addr: 0x1800, Mnemonic: "call", Operands: "0x100004000"},
			{Addr: 0x2000, Mnemonic: "jmp", Operands: "qword [rbx + 8]"},
			{Addr: 0x3000, Mnemonic: "call", Operands: "qword ptr [rip + 0x2000]"},
		},
		callSite: 0x2a40,
	}
	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	sess, err := session.New(cfg, log.New(io.Discard))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { sess.Close() })
	sess.Pipeline.Analyzer = fa
	out := &bytes.Buffer{}
	sess.Out = out

	paths := Paths{
		BranchTrace: filepath.Join(dir, "branches.json"),
		BranchTrack: filepath.Join(dir, "branch_data.json"),
		TypeTrace:   filepath.Join(dir, "type_metadata_trace.json"),
		DumpDir:     dir,
	}
	dbg := hosttest.NewDebugger(tgt)
	if err := (&Set{Session: sess, Paths: paths}).Register(dbg.Interp); err != nil {
		t.Fatal(err)
	}
	return &fixture{t: t, dbg: dbg, target: tgt, analyzer: fa, sess: sess, paths: paths, out: out}
}

func (fx *fixture) run(line string, thread host.Thread) *host.CommandResult {
	fx.t.Helper()
	return fx.dbg.Run(context.Background(), line, thread)
}

func (fx *fixture) mustRun(line string, thread host.Thread) *host.CommandResult {
	fx.t.Helper()
	res := fx.run(line, thread)
	if res.Err() != nil {
		fx.t.Fatalf("%s: %v", line, res.Err())
	}
	return res
}

func (fx *fixture) named(name string) *hosttest.Breakpoint {
	for _, bp := range fx.target.Breakpoints {
		if bp.Name == name {
			return bp
		}
	}
	fx.t.Fatalf("no hook named %s", name)
	return nil
}

func messages(res *host.CommandResult) string {
	return strings.Join(res.Messages(), "\n")
}

func TestRegister(t *testing.T) {
	fx := newFixture(t)
	want := []string{
		"bar", "brt_save", "brt_set_bps", "dyn_types_trace", "save_branch",
		"save_trace_data", "set_branch_bps", "swbt", "swtt_save", "swtt_set_bps",
		"xpr_yara_dump",
	}
	if got := fx.dbg.Interp.Commands(); !reflect.DeepEqual(got, want) {
		t.Errorf("Commands = %v", got)
	}
	if err := Register(fx.dbg.Interp, fx.sess); err == nil {
		t.Error("registering twice succeeded")
	}
}

func branchThread() (*hosttest.Thread, *hosttest.Frame) {
	f := &hosttest.Frame{
		PCValue:  0x100001000,
		Function: "main",
		Module:   "XProtectRemediatorSheepSwap",
		Regs:     hosttest.GPRs(map[string]uint64{"rax": 0x100002500, "rip": 0x100001000}),
	}
	return hosttest.NewThread(&hosttest.Process{}, f), f
}

func TestBranchTraceFlow(t *testing.T) {
	fx := newFixture(t)
	res := fx.mustRun("brt_set_bps", nil)
	if !strings.Contains(messages(res), "3 installed, 0 unresolved") {
		t.Errorf("messages = %q", res.Messages())
	}
	if !strings.Contains(messages(res), `"brt_save"`) {
		t.Errorf("messages do not name the save command: %q", res.Messages())
	}
	for _, a := range []uint64{0x100001000, 0x100002000, 0x100003000} {
		if fx.target.BreakpointAt(a) == nil {
			t.Fatalf("no hook at %#x", a)
		}
	}

	th, f := branchThread()
	fx.target.BreakpointAt(0x100001000).Hit(context.Background(), f)
	f.PCValue, f.Function = 0x100002500, "-[Foo makeObject]"
	f.SetRegister("rip", 0x100002500)
	th.Deliver(host.StopEvent{Reason: host.StopTrace})
	if fx.sess.BranchTrace.Len() != 1 {
		t.Fatalf("recorded %d pairs", fx.sess.BranchTrace.Len())
	}
	if fx.sess.BranchTrack.Len() != 0 {
		t.Error("brt hook wrote to the set_branch_bps store")
	}

	res = fx.mustRun("brt_save", nil)
	if !strings.Contains(messages(res), "Saved data is cleared") {
		t.Errorf("messages = %q", res.Messages())
	}
	bt, err := store.LoadBranches(fx.paths.BranchTrace)
	if err != nil {
		t.Fatal(err)
	}
	if len(bt.Branches) != 1 || len(bt.Modules) != 2 || bt.Modules[0].Addr != base {
		t.Errorf("saved %+v", bt)
	}
	if got := bt.Branches[0].After.Function; got != "-[Foo makeObject]" {
		t.Errorf("after func = %q", got)
	}
	if fx.sess.BranchTrace.Len() != 0 {
		t.Error("store not cleared")
	}

	// Second run is served from the cache.
	fx.mustRun("brt_set_bps", nil)
	if fx.analyzer.calls != 1 {
		t.Errorf("analyzer ran %d times", fx.analyzer.calls)
	}
}

func TestBranchTrackUsesOwnStore(t *testing.T) {
	fx := newFixture(t)
	fx.mustRun("set_branch_bps", nil)
	th, f := branchThread()
	fx.target.BreakpointAt(0x100002000).Hit(context.Background(), f)
	th.Deliver(host.StopEvent{Reason: host.StopTrace})
	if fx.sess.BranchTrack.Len() != 1 || fx.sess.BranchTrace.Len() != 0 {
		t.Errorf("track=%d trace=%d", fx.sess.BranchTrack.Len(), fx.sess.BranchTrace.Len())
	}
	fx.mustRun("save_branch", nil)
	if _, err := os.Stat(fx.paths.BranchTrack); err != nil {
		t.Error(err)
	}
}

func TestBranchStepOutOption(t *testing.T) {
	fx := newFixture(t)
	fx.mustRun("brt_set_bps --step-out", nil)
	th, f := branchThread()
	fx.target.BreakpointAt(0x100003000).Hit(context.Background(), f)
	if len(th.StepOuts) != 1 {
		t.Fatalf("step-outs queued = %d", len(th.StepOuts))
	}
	if _, ok := th.Plan.(*handlers.BranchPlan); !ok {
		t.Fatalf("plan = %T", th.Plan)
	}
	th.StepOuts[0].Stale = true
	th.Deliver(host.StopEvent{Reason: host.StopPlanComplete})
	if fx.sess.BranchTrace.Len() != 1 {
		t.Errorf("stale step-out recorded %d pairs, want 1", fx.sess.BranchTrace.Len())
	}
}

func TestArchMismatch(t *testing.T) {
	fx := newFixture(t)
	fx.target.TripleValue = "arm64-apple-macosx14.0.0"
	for _, cmd := range []string{"brt_set_bps", "set_branch_bps", "xpr_yara_dump"} {
		res := fx.run(cmd, nil)
		if !errors.Is(res.Err(), ErrArchMismatch) {
			t.Errorf("%s: err = %v", cmd, res.Err())
		}
	}
	if fx.analyzer.calls != 0 || len(fx.target.Breakpoints) != 0 {
		t.Errorf("work done on mismatched arch: calls=%d hooks=%d", fx.analyzer.calls, len(fx.target.Breakpoints))
	}
}

func TestModuleOption(t *testing.T) {
	fx := newFixture(t)
	if res := fx.run("brt_set_bps -m libfoo.dylib", nil); res.Err() == nil {
		t.Error("unknown module accepted")
	}
	fx.mustRun("brt_set_bps --module XProtectRemediatorSheepSwap", nil)
	if len(fx.target.Breakpoints) != 3 {
		t.Errorf("hooks = %d", len(fx.target.Breakpoints))
	}
}

func TestBadOption(t *testing.T) {
	fx := newFixture(t)
	res := fx.run("brt_set_bps --bogus", nil)
	if res.Err() == nil || !strings.Contains(res.Err().Error(), "usage: brt_set_bps") {
		t.Errorf("err = %v", res.Err())
	}
}

func TestToolErrorInstallsNothing(t *testing.T) {
	fx := newFixture(t)
	fx.analyzer.err = &disasm.ToolError{Tool: "r2", Err: errors.New("not found")}
	res := fx.run("brt_set_bps", nil)
	var te *disasm.ToolError
	if !errors.As(res.Err(), &te) {
		t.Errorf("err = %v", res.Err())
	}
	if len(fx.target.Breakpoints) != 0 {
		t.Error("hooks installed after tool failure")
	}
}

func typeThread(caller uint64) (*hosttest.Thread, *hosttest.Frame) {
	callee := &hosttest.Frame{PCValue: 0x7ff810001000, Function: "swift_initStackObject", Module: "libswiftCore.dylib"}
	return hosttest.NewThread(&hosttest.Process{}, callee, &hosttest.Frame{PCValue: caller, Function: "main"}), callee
}

func TestTypesFlow(t *testing.T) {
	fx := newFixture(t)
	fx.dbg.Interp.Eval = func(string) (string, bool) { return "XProtectRemediatorSheepSwap.Scanner\n", true }
	res := fx.mustRun("swtt_set_bps", nil)
	if !strings.Contains(messages(res), "2 installed") {
		t.Errorf("messages = %q", res.Messages())
	}
	b := fx.sess.Bounds()
	if b == nil || b.Low != base || b.High != base+0x4000 {
		t.Fatalf("bounds = %v", b)
	}

	bp := fx.named("swift_initStackObject")
	_, inside := typeThread(0x100001234)
	bp.Hit(context.Background(), inside)
	_, outside := typeThread(0x7ff810005000)
	bp.Hit(context.Background(), outside)
	if fx.sess.Types.Len() != 1 {
		t.Fatalf("recorded %d types, want 1", fx.sess.Types.Len())
	}

	fx.mustRun("swtt_save", nil)
	recs, err := store.LoadTypes(fx.paths.TypeTrace)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 1 || recs[0].ReturnAddress != 0x100001234 || recs[0].Description != "XProtectRemediatorSheepSwap.Scanner" {
		t.Errorf("saved %+v", recs)
	}
}

func TestDynTypes(t *testing.T) {
	fx := newFixture(t)
	fx.dbg.Interp.Eval = func(string) (string, bool) { return "Foundation.URL\n", true }
	fx.mustRun("dyn_types_trace", nil)
	if len(fx.target.Breakpoints) != 1 || fx.target.Breakpoints[0].Name != "swift_initStackObject" {
		t.Fatalf("hooks = %+v", fx.target.Breakpoints)
	}
	_, outside := typeThread(0x7ff810005000)
	fx.named("swift_initStackObject").Hit(context.Background(), outside)
	if fx.sess.DynTypes.Len() != 1 {
		t.Errorf("unfiltered trace recorded %d", fx.sess.DynTypes.Len())
	}
	fx.mustRun("save_trace_data", nil)
	if recs, err := store.LoadTypes(fx.paths.TypeTrace); err != nil || len(recs) != 1 {
		t.Errorf("LoadTypes = %v, %v", recs, err)
	}

	fx.mustRun("dyn_types_trace --alloc", nil)
	fx.named("swift_allocObject")
}

func TestYaraDump(t *testing.T) {
	fx := newFixture(t)
	res := fx.mustRun("xpr_yara_dump", nil)
	dump := filepath.Join(fx.paths.DumpDir, "XProtectRemediatorSheepSwap_yara_dump.txt")
	if !strings.Contains(messages(res), dump) {
		t.Errorf("messages = %q", res.Messages())
	}

	matcher := fx.target.BreakpointAt(0x100002a40)
	if matcher == nil {
		t.Fatal("no hook at the yr_compiler_create call site")
	}
	mf := &hosttest.Frame{Regs: hosttest.GPRs(map[string]uint64{"r13": 0x600000c04000})}
	hosttest.NewThread(&hosttest.Process{}, mf)
	matcher.Hit(context.Background(), mf)

	proc := &hosttest.Process{Strings: map[uint64]string{0x7000: "rule a { condition: true }"}}
	rf := &hosttest.Frame{Regs: hosttest.GPRs(map[string]uint64{"rsi": 0x7000})}
	hosttest.NewThread(proc, rf)
	fx.named("yr_compiler_add_string").Hit(context.Background(), rf)

	if err := fx.sess.Close(); err != nil {
		t.Fatal(err)
	}
	got, err := os.ReadFile(dump)
	if err != nil {
		t.Fatal(err)
	}
	want := "Yara Matcher @ 0x0000600000c04000\nYARA rule:\nrule a { condition: true }\n"
	if string(got) != want {
		t.Errorf("dump = %q, want %q", got, want)
	}
}

func TestYaraDumpNoCallSite(t *testing.T) {
	fx := newFixture(t)
	fx.analyzer.err = disasm.ErrCallSiteNotFound
	res := fx.run("xpr_yara_dump", nil)
	if !errors.Is(res.Err(), disasm.ErrCallSiteNotFound) {
		t.Errorf("err = %v", res.Err())
	}
	if len(fx.target.Breakpoints) != 0 {
		t.Error("hooks installed without a call site")
	}
}

func TestSwbt(t *testing.T) {
	fx := newFixture(t)
	th := hosttest.NewThread(&hosttest.Process{},
		&hosttest.Frame{PCValue: 0x100002510},
		&hosttest.Frame{PCValue: 0x100001040},
		&hosttest.Frame{PCValue: 0x10},
	)
	res := fx.mustRun("swbt", th)
	want := "XProtectRemediatorSheepSwap`-[Foo makeObject]+0x10\nXProtectRemediatorSheepSwap`main+0x40\n0x10"
	if messages(res) != want {
		t.Errorf("swbt =\n%s\nwant\n%s", messages(res), want)
	}

	res = fx.mustRun("swbt -a 0x100002604", th)
	if messages(res) != "XProtectRemediatorSheepSwap`-[Foo makeOther]+0x4" {
		t.Errorf("swbt -a = %q", messages(res))
	}

	if res := fx.run("swbt", nil); res.Err() == nil {
		t.Error("swbt without a stopped thread succeeded")
	}
	if res := fx.run("swbt -a zz", th); res.Err() == nil {
		t.Error("bad address accepted")
	}
}

func TestBar(t *testing.T) {
	fx := newFixture(t)
	fx.dbg.Interp.Eval = func(string) (string, bool) { return "<Foo: 0x600000c04000>\n", true }
	res := fx.mustRun(`bar ^-\[Foo make`, nil)
	if !strings.Contains(messages(res), "locations = 2") {
		t.Errorf("messages = %q", res.Messages())
	}

	f := &hosttest.Frame{PCValue: 0x100002500, Function: "-[Foo makeObject]"}
	th := hosttest.NewThread(&hosttest.Process{}, f)
	fx.target.Breakpoints[0].Hit(context.Background(), f)
	f.Function = "main"
	th.StepOuts[0].Complete = true
	th.Deliver(host.StopEvent{Reason: host.StopPlanComplete})
	want := handlers.Banner("-[Foo makeObject]", "<Foo: 0x600000c04000>", "main") + "\n"
	if fx.out.String() != want {
		t.Errorf("out = %q, want %q", fx.out.String(), want)
	}

	res = fx.mustRun("bar ^nothing$", nil)
	if len(res.Warnings()) != 1 {
		t.Errorf("warnings = %q", res.Warnings())
	}
	if res := fx.run("bar", nil); res.Err() == nil {
		t.Error("bar without a pattern succeeded")
	}
}
