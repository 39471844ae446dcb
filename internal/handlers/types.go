package handlers

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/log"

	"hookscope/internal/host"
	"hookscope/internal/reloc"
	"hookscope/internal/store"
)

// TypeTracer records the dynamic type of the object passed to an
// allocation entry point, keyed by the caller's return address.
type TypeTracer struct {
	Debugger host.Debugger
	Store    *store.Store[store.TypeRecord]
	// Bounds restricts recording to callers inside one module. Nil records
	// every caller.
	Bounds *reloc.Bounds
	// Unfiltered skips the bounds check and keeps a trailing "$".
	Unfiltered bool
	Logger     *log.Logger
}

// Hit is the host.HitFunc for KindTypeMetadata.
func (tt *TypeTracer) Hit(ctx context.Context, f host.Frame) host.Action {
	rec, err := tt.Evaluate(ctx, f.Thread())
	if err != nil {
		orDefault(tt.Logger).Debug("Type hit skipped", "pc", fmt.Sprintf("%#x", f.PC()), "reason", err)
		return host.Resume
	}
	tt.Store.Append(rec)
	return host.Resume
}

// Evaluate produces the record for one hit without storing it.
func (tt *TypeTracer) Evaluate(ctx context.Context, thread host.Thread) (store.TypeRecord, error) {
	if thread == nil {
		return store.TypeRecord{}, errors.New("no thread")
	}
	caller, ok := thread.Frame(1)
	if !ok {
		return store.TypeRecord{}, errors.New("no caller frame")
	}
	ret := caller.PC()
	if !tt.Unfiltered && tt.Bounds != nil && !tt.Bounds.Contains(ret) {
		return store.TypeRecord{}, ErrOutOfBounds
	}

	desc, err := describeObject(ctx, tt.Debugger.Interpreter())
	if err != nil {
		return store.TypeRecord{}, err
	}
	if !tt.Unfiltered {
		desc = strings.TrimSuffix(desc, "$")
	}
	if desc == "" {
		return store.TypeRecord{}, ErrEvaluation
	}
	if IsNumeric(desc) {
		return store.TypeRecord{}, ErrNumeric
	}
	return store.TypeRecord{ReturnAddress: ret, Description: desc}, nil
}
