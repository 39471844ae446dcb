// Package hooks binds handler kinds to host breakpoints.
package hooks

import (
	"errors"
	"fmt"
	"sync"

	"hookscope/internal/host"
)

// Kind names a handler family. Hooks are bound to a kind, and the kind is
// resolved to a function once at install time.
type Kind int

const (
	KindIndirectBranch Kind = iota + 1
	KindBranchStepOut
	KindTypeMetadata
	KindYaraMatcher
	KindYaraRule
	KindFinishPrint
)

var kindNames = map[Kind]string{
	KindIndirectBranch: "indirect-branch",
	KindBranchStepOut:  "branch-step-out",
	KindTypeMetadata:   "type-metadata",
	KindYaraMatcher:    "yara-matcher",
	KindYaraRule:       "yara-rule",
	KindFinishPrint:    "finish-print",
}

func (k Kind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

var (
	// ErrUnknownKind is returned when installing a kind nothing registered.
	ErrUnknownKind = errors.New("unknown handler kind")
	// ErrUnresolvedSymbol marks a named hook that resolved to no location.
	ErrUnresolvedSymbol = errors.New("symbol did not resolve")

	errInvalidBreakpoint = errors.New("breakpoint not valid")
)

// Registry maps kinds to handlers.
type Registry struct {
	mu  sync.RWMutex
	fns map[Kind]host.HitFunc
}

func NewRegistry() *Registry {
	return &Registry{fns: make(map[Kind]host.HitFunc)}
}

// Register binds fn to kind, replacing any earlier binding.
func (r *Registry) Register(kind Kind, fn host.HitFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fns[kind] = fn
}

func (r *Registry) Lookup(kind Kind) (host.HitFunc, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.fns[kind]
	if !ok || fn == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}
	return fn, nil
}
