package handlers

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/log"

	"hookscope/internal/host"
	"hookscope/internal/store"
)

// Mode selects how a BranchPlan reaches the "after" state.
type Mode int

const (
	// StepInstruction single-steps once through the branch.
	StepInstruction Mode = iota
	// StepOut runs until the current frame returns.
	StepOut
)

func (m Mode) String() string {
	if m == StepOut {
		return "step-out"
	}
	return "step-instruction"
}

// BranchPlan captures register state at an indirect branch, steps, captures
// it again and appends exactly one pair to the store.
type BranchPlan struct {
	lifecycle
	thread  host.Thread
	mode    Mode
	store   *store.Store[store.BranchPair]
	logger  *log.Logger
	before  store.Event
	stepOut host.PlanStatus
}

// NewBranchPlan snapshots "before" from thread and arms the plan.
func NewBranchPlan(thread host.Thread, mode Mode, s *store.Store[store.BranchPair], timeout time.Duration, now func() time.Time, logger *log.Logger) *BranchPlan {
	return &BranchPlan{
		lifecycle: newLifecycle(timeout, now),
		thread:    thread,
		mode:      mode,
		store:     s,
		logger:    orDefault(logger),
		before:    CaptureEvent(thread),
	}
}

// Start moves the plan to Stepping, queueing the host step-out in StepOut
// mode.
func (p *BranchPlan) Start() error {
	if p.state != Armed {
		return fmt.Errorf("branch plan already %s", p.state)
	}
	if p.mode == StepOut {
		so, err := p.thread.QueueStepOut()
		if err != nil {
			p.finish(Stale)
			return fmt.Errorf("queue step-out: %w", err)
		}
		p.stepOut = so
	}
	p.state = Stepping
	return nil
}

func (p *BranchPlan) OnStep(ev host.StopEvent) host.Decision {
	if p.terminal() {
		return host.Done
	}
	switch p.mode {
	case StepInstruction:
		if ev.Reason == host.StopTrace {
			p.finish(Complete)
			return host.Done
		}
	case StepOut:
		if p.stepOut != nil && p.stepOut.IsPlanComplete() {
			p.finish(Complete)
			return host.Done
		}
	}
	if p.expired() {
		p.logger.Warn("Branch step timed out", "func", p.before.Function, "mode", p.mode)
		p.finish(Stale)
		return host.Done
	}
	return host.Continue
}

func (p *BranchPlan) IsStale() bool {
	if p.terminal() {
		return p.wasStale()
	}
	if p.mode == StepOut && p.stepOut != nil && p.stepOut.IsPlanStale() {
		p.logger.Warn("Branch step-out went stale", "func", p.before.Function)
		p.finish(Stale)
		return true
	}
	if p.expired() {
		p.logger.Warn("Branch step timed out", "func", p.before.Function, "mode", p.mode)
		p.finish(Stale)
		return true
	}
	return false
}

func (p *BranchPlan) WantsSingleStep() bool {
	return p.mode == StepInstruction && p.state == Stepping
}

// finish records the pair once. On a stale plan "after" is whatever frame 0
// looks like now.
func (p *BranchPlan) finish(s State) {
	if p.terminal() {
		return
	}
	p.state = s
	p.store.Append(store.BranchPair{Before: p.before, After: CaptureEvent(p.thread)})
}

// BranchTracer is the hit handler for indirect branch hooks.
type BranchTracer struct {
	Debugger    host.Debugger
	Store       *store.Store[store.BranchPair]
	Mode        Mode
	StepTimeout time.Duration
	Now         func() time.Time
	Logger      *log.Logger
}

// Hit is the host.HitFunc for KindIndirectBranch and KindBranchStepOut.
func (bt *BranchTracer) Hit(ctx context.Context, f host.Frame) host.Action {
	logger := orDefault(bt.Logger)
	bt.Debugger.SetAsync(false)
	thread := f.Thread()
	if thread == nil {
		logger.Error("Branch hit without thread", "pc", fmt.Sprintf("%#x", f.PC()))
		return host.Resume
	}
	plan := NewBranchPlan(thread, bt.Mode, bt.Store, bt.StepTimeout, bt.Now, logger)
	if err := plan.Start(); err != nil {
		logger.Warn("Branch plan not started", "err", err)
		return host.Resume
	}
	if err := thread.StepUsingPlan(plan); err != nil {
		logger.Warn("Branch plan rejected", "err", err)
		plan.finish(Stale)
	}
	return host.Resume
}
