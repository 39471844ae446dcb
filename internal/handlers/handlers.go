// Package handlers implements what runs at each hook hit.
//
// Every handler is a host.HitFunc that returns host.Resume. Handlers that
// step hand a ThreadPlan to the host and return; the plan records its result
// when it completes or goes stale.
package handlers

import (
	"context"
	"errors"
	"strings"
	"unicode"

	"github.com/charmbracelet/log"

	"hookscope/internal/host"
	"hookscope/internal/store"
)

// ObjectDescriptionExpr renders the first argument through the host's
// Objective-C object printer.
const ObjectDescriptionExpr = "expression -lobjc -O -- $arg1"

var (
	// ErrEvaluation means the expression produced no usable result.
	ErrEvaluation = errors.New("evaluation produced no result")
	// ErrNumeric means the evaluator printed a bare number instead of a type.
	ErrNumeric = errors.New("evaluation result is numeric")
	// ErrOutOfBounds means the caller is outside the module under analysis.
	ErrOutOfBounds = errors.New("return address outside target module")
	// ErrNoRegister means a register the handler reads is missing.
	ErrNoRegister = errors.New("register not available")
)

// CaptureEvent snapshots frame 0 of thread: module, function and every
// 8-byte general purpose register.
func CaptureEvent(thread host.Thread) store.Event {
	ev := store.Event{Registers: map[string]string{}}
	if thread == nil {
		return ev
	}
	f, ok := thread.Frame(0)
	if !ok {
		return ev
	}
	return captureFrame(f)
}

func captureFrame(f host.Frame) store.Event {
	ev := store.Event{
		Module:    f.ModuleName(),
		Function:  f.FunctionName(),
		Registers: map[string]string{},
	}
	for _, r := range f.Registers() {
		if r.Size == 8 {
			ev.Registers[r.Name] = r.String()
		}
	}
	return ev
}

// describeObject evaluates ObjectDescriptionExpr and returns the output with
// newlines removed.
func describeObject(ctx context.Context, interp host.Interpreter) (string, error) {
	res := &host.CommandResult{}
	interp.HandleCommand(ctx, ObjectDescriptionExpr, res)
	if !res.HasResult() {
		return "", ErrEvaluation
	}
	return strings.ReplaceAll(res.Output(), "\n", ""), nil
}

// IsNumeric reports whether s parses as a base 10 integer the way a lenient
// integer parser would: surrounding whitespace, an optional sign, and single
// underscores between digits are allowed.
func IsNumeric(s string) bool {
	s = strings.TrimSpace(s)
	if s != "" && (s[0] == '+' || s[0] == '-') {
		s = s[1:]
	}
	if s == "" {
		return false
	}
	prevUnderscore := true
	for _, r := range s {
		switch {
		case r == '_':
			if prevUnderscore {
				return false
			}
			prevUnderscore = true
		case unicode.IsDigit(r):
			prevUnderscore = false
		default:
			return false
		}
	}
	return !prevUnderscore
}

func orDefault(l *log.Logger) *log.Logger {
	if l == nil {
		return log.Default()
	}
	return l
}
