// Package config loads hookscope settings from HOOKSCOPE_* environment
// variables.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/invopop/jsonschema"
)

// Analyzer names.
const (
	AnalyzerRadare2 = "r2"
	AnalyzerNative  = "native"
)

// Config represents configuration for hookscope
type Config struct {
	Debug       bool          `json:"debug" jsonschema:"title=Debug,description=Enable debug logging"`
	DataDir     string        `json:"dataDir" jsonschema:"title=Data Directory,description=Directory holding branch site caches,default=/tmp"`
	Radare2Path string        `json:"radare2Path" jsonschema:"title=radare2 Path,description=radare2 executable,default=r2"`
	Analyzer    string        `json:"analyzer" jsonschema:"title=Analyzer,description=Static analyzer backend,enum=r2,enum=native,default=r2"`
	StepTimeout time.Duration `json:"stepTimeout" jsonschema:"title=Step Timeout,description=Longest a stepping hook waits for its step in nanoseconds"`
	Sections    []string      `json:"sections" jsonschema:"title=Sections,description=Executable sections to disassemble as SEG.sect"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		DataDir:     "/tmp",
		Radare2Path: "r2",
		Analyzer:    AnalyzerRadare2,
		StepTimeout: 30 * time.Second,
		Sections:    []string{"__TEXT.__text"},
	}
}

// Load reads the process environment.
func Load() (Config, error) {
	return LoadFrom(os.Getenv)
}

// LoadFrom applies HOOKSCOPE_* variables from getenv over the defaults.
//
//	HOOKSCOPE_DEBUG         bool
//	HOOKSCOPE_DATA_DIR      cache directory
//	HOOKSCOPE_R2            radare2 executable
//	HOOKSCOPE_ANALYZER      r2 or native
//	HOOKSCOPE_STEP_TIMEOUT  Go duration, e.g. 45s
//	HOOKSCOPE_SECTIONS      comma separated SEG.sect list
func LoadFrom(getenv func(string) string) (Config, error) {
	cfg := Default()
	if v := getenv("HOOKSCOPE_DEBUG"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return cfg, fmt.Errorf("HOOKSCOPE_DEBUG: %w", err)
		}
		cfg.Debug = b
	}
	if v := getenv("HOOKSCOPE_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := getenv("HOOKSCOPE_R2"); v != "" {
		cfg.Radare2Path = v
	}
	if v := getenv("HOOKSCOPE_ANALYZER"); v != "" {
		cfg.Analyzer = strings.ToLower(v)
	}
	if v := getenv("HOOKSCOPE_STEP_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return cfg, fmt.Errorf("HOOKSCOPE_STEP_TIMEOUT: %w", err)
		}
		cfg.StepTimeout = d
	}
	if v := getenv("HOOKSCOPE_SECTIONS"); v != "" {
		cfg.Sections = nil
		for _, s := range strings.Split(v, ",") {
			if s = strings.TrimSpace(s); s != "" {
				cfg.Sections = append(cfg.Sections, s)
			}
		}
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	switch c.Analyzer {
	case AnalyzerRadare2, AnalyzerNative:
	default:
		return fmt.Errorf("unknown analyzer %q (want %s or %s)", c.Analyzer, AnalyzerRadare2, AnalyzerNative)
	}
	if c.StepTimeout <= 0 {
		return fmt.Errorf("step timeout must be positive, got %s", c.StepTimeout)
	}
	for _, s := range c.Sections {
		if !strings.Contains(s, ".") {
			return fmt.Errorf("section %q: want SEG.sect", s)
		}
	}
	return nil
}

// Schema renders the JSON schema of Config.
func Schema() ([]byte, error) {
	reflector := new(jsonschema.Reflector)
	bts, err := json.MarshalIndent(reflector.Reflect(&Config{}), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal schema: %w", err)
	}
	return bts, nil
}
