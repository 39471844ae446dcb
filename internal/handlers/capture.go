package handlers

import (
	"context"
	"fmt"
	"io"

	"github.com/charmbracelet/log"

	"hookscope/internal/host"
)

// MaxRuleLen bounds the rule text read from the target.
const MaxRuleLen = 0xffffffff

// YaraMatcher prints the matcher object held in r13 when the matcher
// initializer calls into the rule compiler.
func YaraMatcher(dbg host.Debugger, w io.Writer, logger *log.Logger) host.HitFunc {
	logger = orDefault(logger)
	return func(ctx context.Context, f host.Frame) host.Action {
		dbg.SetAsync(false)
		r13, ok := f.FindRegister("r13")
		if !ok {
			logger.Error("Cannot read matcher", "err", fmt.Errorf("r13: %w", ErrNoRegister))
			return host.Resume
		}
		if _, err := fmt.Fprintf(w, "Yara Matcher @ 0x%016x\n", r13.Value); err != nil {
			logger.Error("Cannot write dump", "err", err)
		}
		return host.Resume
	}
}

// YaraRule dumps the rule source passed in rsi to the rule compiler.
func YaraRule(w io.Writer, logger *log.Logger) host.HitFunc {
	logger = orDefault(logger)
	return func(ctx context.Context, f host.Frame) host.Action {
		rsi, ok := f.FindRegister("rsi")
		if !ok {
			logger.Error("Cannot read rule pointer", "err", fmt.Errorf("rsi: %w", ErrNoRegister))
			return host.Resume
		}
		thread := f.Thread()
		if thread == nil || thread.Process() == nil {
			logger.Error("No process for rule read", "ptr", fmt.Sprintf("%#x", rsi.Value))
			return host.Resume
		}
		rule, err := thread.Process().ReadCString(rsi.Value, MaxRuleLen)
		if err != nil {
			logger.Error("Error reading YARA rule string", "ptr", fmt.Sprintf("%#x", rsi.Value), "err", err)
			return host.Resume
		}
		if _, err := fmt.Fprintf(w, "YARA rule:\n%s\n", rule); err != nil {
			logger.Error("Cannot write dump", "err", err)
		}
		return host.Resume
	}
}
