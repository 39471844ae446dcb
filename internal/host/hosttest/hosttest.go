// Package hosttest is an in-memory scripted host for exercising hooks and
// commands without a debugger.
package hosttest

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"hookscope/internal/host"
)

// Debugger is a fake host session.
type Debugger struct {
	Target *Target
	Interp *Interpreter
	// AsyncCalls records every SetAsync argument in order.
	AsyncCalls []bool
}

// NewDebugger returns a debugger wired to t with an empty interpreter.
func NewDebugger(t *Target) *Debugger {
	return &Debugger{Target: t, Interp: NewInterpreter()}
}

func (d *Debugger) SelectedTarget() (host.Target, error) {
	if d.Target == nil {
		return nil, errors.New("no target selected")
	}
	return d.Target, nil
}

func (d *Debugger) SetAsync(async bool) {
	d.AsyncCalls = append(d.AsyncCalls, async)
}

func (d *Debugger) Interpreter() host.Interpreter {
	return d.Interp
}

// Run executes a registered command the way the host would on operator input.
func (d *Debugger) Run(ctx context.Context, line string, thread host.Thread) *host.CommandResult {
	res := &host.CommandResult{}
	name, args, _ := strings.Cut(line, " ")
	cmd, ok := d.Interp.commands[name]
	if !ok {
		res.SetError(fmt.Errorf("unknown command %q", name))
		return res
	}
	exe := host.ExecContext{Debugger: d, Thread: thread}
	if d.Target != nil {
		exe.Target = d.Target
	}
	cmd.fn(ctx, exe, args, res)
	return res
}

type command struct {
	help string
	fn   host.CommandFunc
}

// Interpreter is a fake command interpreter. Lines that are not registered
// commands are answered from Eval.
type Interpreter struct {
	commands map[string]command
	// Eval answers expression lines; returning ok=false yields no result.
	Eval func(line string) (string, bool)
	// Lines records every HandleCommand line.
	Lines []string
}

func NewInterpreter() *Interpreter {
	return &Interpreter{commands: make(map[string]command)}
}

func (i *Interpreter) AddCommand(name, help string, fn host.CommandFunc) error {
	if _, dup := i.commands[name]; dup {
		return fmt.Errorf("command %q already registered", name)
	}
	i.commands[name] = command{help: help, fn: fn}
	return nil
}

// Commands lists registered command names sorted.
func (i *Interpreter) Commands() []string {
	names := make([]string, 0, len(i.commands))
	for n := range i.commands {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Help returns the help text a command was registered with.
func (i *Interpreter) Help(name string) string {
	return i.commands[name].help
}

func (i *Interpreter) HandleCommand(ctx context.Context, line string, res *host.CommandResult) {
	i.Lines = append(i.Lines, line)
	if i.Eval == nil {
		res.SetError(errors.New("no evaluator"))
		return
	}
	out, ok := i.Eval(line)
	if !ok {
		res.SetError(fmt.Errorf("evaluation failed: %s", line))
		return
	}
	res.AppendOutput(out)
}

// Symbol is a fake symbol table entry at a runtime address.
type Symbol struct {
	Module string
	Name   string
	Addr   uint64
}

// Target is a fake debuggee.
type Target struct {
	TripleValue string
	ExePath     string
	ModuleList  []*Module
	// NameLocations maps a function name to the addresses it resolves to.
	NameLocations map[string][]uint64
	Symbols       []Symbol
	// FailAddrs makes CreateBreakpointByAddress fail for these addresses.
	FailAddrs map[uint64]bool
	// InvalidAddrs returns a breakpoint that reports itself invalid.
	InvalidAddrs map[uint64]bool

	Breakpoints []*Breakpoint
}

func (t *Target) Triple() string     { return t.TripleValue }
func (t *Target) Executable() string { return t.ExePath }

func (t *Target) Modules() []host.Module {
	out := make([]host.Module, len(t.ModuleList))
	for i, m := range t.ModuleList {
		out[i] = m
	}
	return out
}

func (t *Target) newBreakpoint(kind string, locs []uint64) *Breakpoint {
	bp := &Breakpoint{id: len(t.Breakpoints) + 1, Kind: kind, Locations: locs}
	t.Breakpoints = append(t.Breakpoints, bp)
	return bp
}

func (t *Target) CreateBreakpointByAddress(addr uint64) (host.Breakpoint, error) {
	if t.FailAddrs[addr] {
		return nil, fmt.Errorf("cannot set breakpoint at 0x%x", addr)
	}
	bp := t.newBreakpoint("address", []uint64{addr})
	bp.Invalid = t.InvalidAddrs[addr]
	return bp, nil
}

func (t *Target) CreateBreakpointByName(name string) (host.Breakpoint, error) {
	bp := t.newBreakpoint("name", t.NameLocations[name])
	bp.Name = name
	return bp, nil
}

func (t *Target) CreateBreakpointByRegex(pattern string) (host.Breakpoint, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	var locs []uint64
	for _, s := range t.Symbols {
		if re.MatchString(s.Name) {
			locs = append(locs, s.Addr)
		}
	}
	bp := t.newBreakpoint("regex", locs)
	bp.Name = pattern
	return bp, nil
}

func (t *Target) ResolveLoadAddress(addr uint64) (host.SymbolContext, bool) {
	best := -1
	for i, s := range t.Symbols {
		if s.Addr <= addr && (best < 0 || s.Addr > t.Symbols[best].Addr) {
			best = i
		}
	}
	if best < 0 {
		return host.SymbolContext{}, false
	}
	s := t.Symbols[best]
	return host.SymbolContext{Module: s.Module, Symbol: s.Name, SymbolAddr: s.Addr}, true
}

// BreakpointAt returns the first breakpoint with a location at addr.
func (t *Target) BreakpointAt(addr uint64) *Breakpoint {
	for _, bp := range t.Breakpoints {
		for _, l := range bp.Locations {
			if l == addr {
				return bp
			}
		}
	}
	return nil
}

// Module is a fake loaded image.
type Module struct {
	NameValue string
	PathValue string
	Load      uint64
	Sects     []host.Section
}

func (m *Module) Name() string             { return m.NameValue }
func (m *Module) Path() string             { return m.PathValue }
func (m *Module) LoadAddress() uint64      { return m.Load }
func (m *Module) Sections() []host.Section { return m.Sects }

// Breakpoint is a fake hook handle.
type Breakpoint struct {
	id        int
	Kind      string
	Name      string
	Locations []uint64
	Callback  host.HitFunc
	Invalid   bool
}

func (b *Breakpoint) ID() int                     { return b.id }
func (b *Breakpoint) Valid() bool                 { return !b.Invalid }
func (b *Breakpoint) NumLocations() int           { return len(b.Locations) }
func (b *Breakpoint) SetCallback(fn host.HitFunc) { b.Callback = fn }

// Hit invokes the bound callback as the host would when f reaches the hook.
func (b *Breakpoint) Hit(ctx context.Context, f host.Frame) host.Action {
	if b.Callback == nil {
		return host.Stop
	}
	return b.Callback(ctx, f)
}

// Frame is a fake stack frame.
type Frame struct {
	PCValue  uint64
	Function string
	Module   string
	Regs     []host.Register
	T        *Thread
}

func (f *Frame) PC() uint64                 { return f.PCValue }
func (f *Frame) FunctionName() string       { return f.Function }
func (f *Frame) ModuleName() string         { return f.Module }
func (f *Frame) Registers() []host.Register { return f.Regs }
func (f *Frame) Thread() host.Thread        { return f.T }

func (f *Frame) FindRegister(name string) (host.Register, bool) {
	for _, r := range f.Regs {
		if r.Name == name {
			return r, true
		}
	}
	return host.Register{}, false
}

// SetRegister overwrites or adds an 8-byte register.
func (f *Frame) SetRegister(name string, v uint64) {
	for i := range f.Regs {
		if f.Regs[i].Name == name {
			f.Regs[i].Value = v
			return
		}
	}
	f.Regs = append(f.Regs, host.Register{Name: name, Size: 8, Value: v})
}

// StepOut is a pollable fake sub-plan.
type StepOut struct {
	Complete bool
	Stale    bool
}

func (s *StepOut) IsPlanComplete() bool { return s.Complete }
func (s *StepOut) IsPlanStale() bool    { return s.Stale }

// Thread is a fake stopped thread. Frames[0] is the innermost frame.
type Thread struct {
	FrameList []*Frame
	Reason    host.StopReason
	Proc      *Process
	Plan      host.ThreadPlan
	StepOuts  []*StepOut
	// StepErr makes StepUsingPlan fail.
	StepErr error
}

// NewThread links frames to a new thread.
func NewThread(proc *Process, frames ...*Frame) *Thread {
	t := &Thread{FrameList: frames, Proc: proc}
	for _, f := range frames {
		f.T = t
	}
	return t
}

func (t *Thread) Frame(i int) (host.Frame, bool) {
	if i < 0 || i >= len(t.FrameList) {
		return nil, false
	}
	return t.FrameList[i], true
}

func (t *Thread) Frames() []host.Frame {
	out := make([]host.Frame, len(t.FrameList))
	for i, f := range t.FrameList {
		out[i] = f
	}
	return out
}

func (t *Thread) StopReason() host.StopReason { return t.Reason }

func (t *Thread) Process() host.Process {
	if t.Proc == nil {
		return nil
	}
	return t.Proc
}

func (t *Thread) StepUsingPlan(plan host.ThreadPlan) error {
	if t.StepErr != nil {
		return t.StepErr
	}
	t.Plan = plan
	return nil
}

func (t *Thread) QueueStepOut() (host.PlanStatus, error) {
	so := &StepOut{}
	t.StepOuts = append(t.StepOuts, so)
	return so, nil
}

// Deliver feeds stop events to the active plan the way the host would,
// honouring staleness. It returns the number of events consumed.
func (t *Thread) Deliver(events ...host.StopEvent) int {
	n := 0
	for _, ev := range events {
		if t.Plan == nil {
			break
		}
		n++
		t.Reason = ev.Reason
		if t.Plan.IsStale() {
			t.Plan = nil
			break
		}
		if t.Plan.OnStep(ev) == host.Done {
			t.Plan = nil
		}
	}
	return n
}

// Process is a fake process with string memory.
type Process struct {
	Strings map[uint64]string
}

func (p *Process) ReadCString(addr uint64, max uint64) (string, error) {
	s, ok := p.Strings[addr]
	if !ok {
		return "", fmt.Errorf("read 0x%x: %w", addr, host.ErrMemoryRead)
	}
	if uint64(len(s)) > max {
		s = s[:max]
	}
	return s, nil
}

// GPRs builds an x86_64 general purpose register set with the given values.
// Unlisted registers are zero.
func GPRs(values map[string]uint64) []host.Register {
	names := []string{"rax", "rbx", "rcx", "rdx", "rdi", "rsi", "rbp", "rsp",
		"r8", "r9", "r10", "r11", "r12", "r13", "r14", "r15", "rip", "rflags",
		"cs", "fs", "gs"}
	regs := make([]host.Register, 0, len(names)+1)
	for _, n := range names {
		regs = append(regs, host.Register{Name: n, Size: 8, Value: values[n]})
	}
	// 4-byte pseudo registers are excluded from snapshots.
	regs = append(regs, host.Register{Name: "eax", Size: 4, Value: values["rax"] & 0xffffffff})
	return regs
}
