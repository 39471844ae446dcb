// Package host declares the debugger surface the instrumentation core consumes.
// A host adapter (an lldb bridge, a gdbserver client, or the in-memory fake in
// hosttest) implements these interfaces; nothing in the core talks to a
// debugger any other way.
package host

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrMemoryRead is returned by Process.ReadCString when the address is
// unmapped or the read runs out of bounds.
var ErrMemoryRead = errors.New("memory read failed")

// Action tells the host what to do with the target after a hook returns.
type Action int

const (
	// Resume continues the target. Every hook path ends here.
	Resume Action = iota
	// Stop leaves the target halted for the operator.
	Stop
)

// HitFunc is invoked synchronously by the host when a hook is reached.
// The target is fully stopped for the duration of the call.
type HitFunc func(ctx context.Context, f Frame) Action

// Debugger is the top-level host session.
type Debugger interface {
	SelectedTarget() (Target, error)
	// SetAsync toggles asynchronous event delivery. Handlers that step turn
	// it off so stop events are serviced one at a time.
	SetAsync(async bool)
	Interpreter() Interpreter
}

// CommandFunc is a command registered into the host interpreter.
type CommandFunc func(ctx context.Context, exe ExecContext, args string, res *CommandResult)

// ExecContext is what the host knows when a command runs.
type ExecContext struct {
	Debugger Debugger
	Target   Target
	// Thread is nil while the process is running.
	Thread Thread
}

// Interpreter is the host's command interpreter.
type Interpreter interface {
	AddCommand(name, help string, fn CommandFunc) error
	// HandleCommand runs a command line (e.g. an expression) and fills res.
	HandleCommand(ctx context.Context, line string, res *CommandResult)
}

// Target is one debuggee.
type Target interface {
	// Triple is the target triple, e.g. "x86_64-apple-macosx14.0.0".
	Triple() string
	// Executable is the absolute path of the main executable on disk.
	Executable() string
	// Modules lists loaded images; index 0 is the main executable.
	Modules() []Module
	CreateBreakpointByAddress(addr uint64) (Breakpoint, error)
	CreateBreakpointByName(name string) (Breakpoint, error)
	CreateBreakpointByRegex(pattern string) (Breakpoint, error)
	// ResolveLoadAddress finds the symbol containing a runtime address.
	ResolveLoadAddress(addr uint64) (SymbolContext, bool)
}

// Module is one loaded image.
type Module interface {
	Name() string
	Path() string
	// LoadAddress is the runtime address of the object file header.
	LoadAddress() uint64
	Sections() []Section
}

// Section is a top-level segment of a module.
type Section struct {
	Name     string
	FileAddr uint64
	LoadAddr uint64
	Size     uint64
}

// SymbolContext is the result of resolving a runtime address.
type SymbolContext struct {
	Module     string
	Symbol     string
	SymbolAddr uint64 // runtime address of the symbol start
}

// Breakpoint is an opaque host-owned hook handle.
type Breakpoint interface {
	ID() int
	Valid() bool
	// NumLocations is how many concrete addresses the hook resolved to.
	NumLocations() int
	SetCallback(fn HitFunc)
}

// Register is one register value as read in a stopped frame.
type Register struct {
	Name  string
	Size  int // bytes
	Value uint64
}

// String renders the value the way the host prints 8-byte registers.
func (r Register) String() string {
	return fmt.Sprintf("0x%0*x", r.Size*2, r.Value)
}

// Frame is one stack frame of a stopped thread.
type Frame interface {
	PC() uint64
	FunctionName() string
	ModuleName() string
	// Registers returns the general purpose register set.
	Registers() []Register
	FindRegister(name string) (Register, bool)
	Thread() Thread
}

// StopReason says why a thread stopped.
type StopReason int

const (
	StopNone StopReason = iota
	StopTrace
	StopBreakpoint
	StopPlanComplete
	StopSignal
	StopException
)

func (r StopReason) String() string {
	switch r {
	case StopTrace:
		return "trace"
	case StopBreakpoint:
		return "breakpoint"
	case StopPlanComplete:
		return "plan-complete"
	case StopSignal:
		return "signal"
	case StopException:
		return "exception"
	default:
		return "none"
	}
}

// StopEvent is delivered to a thread plan each time its thread stops.
type StopEvent struct {
	Reason StopReason
	PC     uint64
}

// Decision is a thread plan's answer to a stop event.
type Decision int

const (
	// Continue means the plan is not finished; the host keeps stepping.
	Continue Decision = iota
	// Done means the plan finished; the host resumes the target.
	Done
)

// ThreadPlan is a scripted multi-stop operation.
//
// After Thread.StepUsingPlan the host, on every stop of that thread, first
// discards the plan if IsStale reports true, otherwise delivers the stop to
// OnStep. On Done the plan is dropped and the target resumes. While the plan
// is active the host single-steps when WantsSingleStep is true and
// otherwise lets the target run.
type ThreadPlan interface {
	OnStep(ev StopEvent) Decision
	IsComplete() bool
	IsStale() bool
	WantsSingleStep() bool
}

// PlanStatus is a host-owned sub-plan (e.g. step-out) that can be polled.
type PlanStatus interface {
	IsPlanComplete() bool
	IsPlanStale() bool
}

// Thread is a stopped thread.
type Thread interface {
	Frame(i int) (Frame, bool)
	Frames() []Frame
	StopReason() StopReason
	Process() Process
	StepUsingPlan(plan ThreadPlan) error
	// QueueStepOut queues a host step-out of frame 0 below the current plan.
	QueueStepOut() (PlanStatus, error)
}

// Process is the debuggee process.
type Process interface {
	// ReadCString reads a NUL terminated string of at most max bytes.
	ReadCString(addr uint64, max uint64) (string, error)
}

// CommandResult collects a command's output for the operator.
type CommandResult struct {
	output   strings.Builder
	messages []string
	warnings []string
	err      error
}

func (r *CommandResult) AppendMessage(format string, args ...any) {
	r.messages = append(r.messages, fmt.Sprintf(format, args...))
}

func (r *CommandResult) AppendWarning(format string, args ...any) {
	r.warnings = append(r.warnings, fmt.Sprintf(format, args...))
}

// AppendOutput adds raw output, as an expression evaluation would.
func (r *CommandResult) AppendOutput(s string) {
	r.output.WriteString(s)
}

func (r *CommandResult) SetError(err error) {
	r.err = err
}

func (r *CommandResult) Messages() []string { return r.messages }
func (r *CommandResult) Warnings() []string { return r.warnings }
func (r *CommandResult) Err() error         { return r.err }
func (r *CommandResult) Output() string     { return r.output.String() }

// HasResult reports whether the command produced output without failing.
func (r *CommandResult) HasResult() bool {
	return r.err == nil && r.output.Len() > 0
}

// Succeeded reports whether no error was set.
func (r *CommandResult) Succeeded() bool {
	return r.err == nil
}
