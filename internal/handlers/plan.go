package handlers

import (
	"fmt"
	"time"
)

// State is where a stepping plan is in its lifecycle.
type State int

const (
	Armed State = iota
	Stepping
	Complete
	Stale
)

func (s State) String() string {
	switch s {
	case Armed:
		return "armed"
	case Stepping:
		return "stepping"
	case Complete:
		return "complete"
	case Stale:
		return "stale"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// DefaultStepTimeout bounds how long a plan may wait for its step to finish.
const DefaultStepTimeout = 30 * time.Second

// lifecycle is the state and deadline shared by the stepping plans.
type lifecycle struct {
	state    State
	deadline time.Time
	now      func() time.Time
}

func newLifecycle(timeout time.Duration, now func() time.Time) lifecycle {
	if now == nil {
		now = time.Now
	}
	if timeout <= 0 {
		timeout = DefaultStepTimeout
	}
	return lifecycle{state: Armed, deadline: now().Add(timeout), now: now}
}

func (l *lifecycle) terminal() bool {
	return l.state == Complete || l.state == Stale
}

func (l *lifecycle) expired() bool {
	return l.now().After(l.deadline)
}

func (l *lifecycle) State() State     { return l.state }
func (l *lifecycle) IsComplete() bool { return l.state == Complete }
func (l *lifecycle) wasStale() bool   { return l.state == Stale }
