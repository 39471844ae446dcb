// Package session owns the state of one debugger attach: the result stores,
// the module bounds filter, the dump file and the discovery pipeline. Hook
// closures capture a *Session; nothing is kept in package variables.
package session

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/charmbracelet/log"

	"hookscope/internal/config"
	"hookscope/internal/disasm"
	"hookscope/internal/discovery"
	"hookscope/internal/hooks"
	"hookscope/internal/reloc"
	"hookscope/internal/store"
)

type Session struct {
	Config config.Config
	Logger *log.Logger

	// BranchTrace backs brt_set_bps/brt_save, BranchTrack set_branch_bps/save_branch.
	BranchTrace *store.Store[store.BranchPair]
	BranchTrack *store.Store[store.BranchPair]
	// Types backs swtt_*, DynTypes dyn_types_trace/save_trace_data.
	Types    *store.Store[store.TypeRecord]
	DynTypes *store.Store[store.TypeRecord]

	Pipeline  *discovery.Pipeline
	Registry  *hooks.Registry
	Installer *hooks.Installer

	// Out receives operator-facing handler output such as finish banners.
	Out io.Writer

	mu       sync.Mutex
	bounds   *reloc.Bounds
	dump     io.WriteCloser
	dumpPath string
}

// New creates an empty session. logger may be nil.
func New(cfg config.Config, logger *log.Logger) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = log.Default()
	}
	analyzer, err := NewAnalyzer(cfg, logger)
	if err != nil {
		return nil, err
	}
	reg := hooks.NewRegistry()
	return &Session{
		Config:      cfg,
		Logger:      logger,
		BranchTrace: store.New[store.BranchPair](),
		BranchTrack: store.New[store.BranchPair](),
		Types:       store.New[store.TypeRecord](),
		DynTypes:    store.New[store.TypeRecord](),
		Pipeline: &discovery.Pipeline{
			Analyzer: analyzer,
			CacheDir: cfg.DataDir,
			Logger:   logger.WithPrefix("discovery"),
		},
		Registry:  reg,
		Installer: hooks.NewInstaller(reg, logger.WithPrefix("hooks")),
		Out:       os.Stdout,
	}, nil
}

// NewAnalyzer builds the static analyzer cfg names.
func NewAnalyzer(cfg config.Config, logger *log.Logger) (disasm.StaticAnalyzer, error) {
	switch cfg.Analyzer {
	case config.AnalyzerRadare2, "":
		return &disasm.Radare2{Path: cfg.Radare2Path, Sections: cfg.Sections, Logger: logger}, nil
	case config.AnalyzerNative:
		return &disasm.Native{Sections: cfg.Sections}, nil
	}
	return nil, fmt.Errorf("unknown analyzer %q", cfg.Analyzer)
}

// SetBounds restricts type hooks to callers inside b.
func (s *Session) SetBounds(b reloc.Bounds) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bounds = &b
}

// Bounds returns the active module filter, or nil.
func (s *Session) Bounds() *reloc.Bounds {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.bounds == nil {
		return nil
	}
	b := *s.bounds
	return &b
}

// OpenDump truncates path and makes it the dump destination, closing any
// previous one.
func (s *Session) OpenDump(path string) (io.Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("open dump: %w", err)
	}
	s.mu.Lock()
	prev := s.dump
	s.dump, s.dumpPath = f, path
	s.mu.Unlock()
	if prev != nil {
		prev.Close()
	}
	return f, nil
}

// DumpPath is the current dump file, empty when none is open.
func (s *Session) DumpPath() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dumpPath
}

// Close closes the dump file.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dump == nil {
		return nil
	}
	err := s.dump.Close()
	s.dump, s.dumpPath = nil, ""
	return err
}
