package handlers

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"hookscope/internal/host"
)

// FinishPlan steps out of a hooked function and prints the object its
// first argument register holds once it returns.
type FinishPlan struct {
	lifecycle
	ctx      context.Context
	thread   host.Thread
	interp   host.Interpreter
	out      io.Writer
	logger   *log.Logger
	function string
	stepOut  host.PlanStatus
}

// NewFinishPlan queues the step-out and remembers the hooked function.
func NewFinishPlan(ctx context.Context, thread host.Thread, interp host.Interpreter, out io.Writer, timeout time.Duration, logger *log.Logger) (*FinishPlan, error) {
	p := &FinishPlan{
		lifecycle: newLifecycle(timeout, nil),
		ctx:       ctx,
		thread:    thread,
		interp:    interp,
		out:       out,
		logger:    orDefault(logger),
	}
	if f, ok := thread.Frame(0); ok {
		p.function = f.FunctionName()
	}
	so, err := thread.QueueStepOut()
	if err != nil {
		return nil, fmt.Errorf("queue step-out: %w", err)
	}
	p.stepOut = so
	p.state = Stepping
	return p, nil
}

func (p *FinishPlan) OnStep(ev host.StopEvent) host.Decision {
	if p.terminal() {
		return host.Done
	}
	if p.stepOut.IsPlanComplete() {
		p.finish(Complete)
		return host.Done
	}
	if p.expired() {
		p.finish(Stale)
		return host.Done
	}
	return host.Continue
}

func (p *FinishPlan) IsStale() bool {
	if p.terminal() {
		return p.wasStale()
	}
	if p.stepOut.IsPlanStale() || p.expired() {
		p.finish(Stale)
		return true
	}
	return false
}

func (p *FinishPlan) WantsSingleStep() bool { return false }

func (p *FinishPlan) finish(s State) {
	if p.terminal() {
		return
	}
	p.state = s
	desc, err := describeObject(p.ctx, p.interp)
	if err != nil {
		p.logger.Debug("No object after return", "func", p.function, "reason", err)
		return
	}
	var parent string
	if f, ok := p.thread.Frame(0); ok {
		parent = f.FunctionName()
	}
	fmt.Fprintln(p.out, Banner(p.function, desc, parent))
}

// Banner formats the block printed when a hooked function returns.
func Banner(function, object, parent string) string {
	return fmt.Sprintf("%s\nbreakpoint: %s\nobject: %s\nstopped:%s",
		strings.Repeat("*", 80), function, object, parent)
}

// FinishPrinter is the hit handler for regex hooks installed by "bar".
type FinishPrinter struct {
	Debugger    host.Debugger
	Out         io.Writer
	StepTimeout time.Duration
	Logger      *log.Logger
}

// Hit is the host.HitFunc for KindFinishPrint.
func (fp *FinishPrinter) Hit(ctx context.Context, f host.Frame) host.Action {
	logger := orDefault(fp.Logger)
	fp.Debugger.SetAsync(false)
	thread := f.Thread()
	if thread == nil {
		return host.Resume
	}
	plan, err := NewFinishPlan(ctx, thread, fp.Debugger.Interpreter(), fp.Out, fp.StepTimeout, logger)
	if err != nil {
		logger.Warn("Finish plan not started", "err", err)
		return host.Resume
	}
	if err := thread.StepUsingPlan(plan); err != nil {
		logger.Warn("Finish plan rejected", "err", err)
	}
	return host.Resume
}
