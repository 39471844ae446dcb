package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/charmbracelet/fang"
	"github.com/charmbracelet/log"
	"github.com/charmbracelet/x/term"
	"github.com/spf13/cobra"

	"hookscope/internal/config"
	"hookscope/internal/logging"
)

// DefaultBase is where the main executable of a non-slid x86_64 process
// is mapped.
const DefaultBase = "0x100000000"

var rootCmd = newRootCmd()

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "hookscope",
		Short: "Offline companion to the hookscope debugger commands",
		Long: `Hookscope discovers hook sites in x86_64 Mach-O images and inspects the
traces the debugger commands save (brt_save, save_branch, swtt_save,
save_trace_data, xpr_yara_dump).

The same discovery pipeline and site cache back brt_set_bps inside the
debugger, so running discover ahead of time warms the cache.`,
		Example: `
# List the indirect branch sites of a binary at the default base
hookscope discover /path/to/binary

# Render a saved branch trace
hookscope report /tmp/branches.json

# Follow a YARA dump while the target runs
hookscope follow /tmp/XProtectRemediatorSheepSwap_yara_dump.txt
  `,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cwd, _ := cmd.Flags().GetString("cwd"); cwd != "" {
				if err := os.Chdir(cwd); err != nil {
					return fmt.Errorf("failed to change directory: %w", err)
				}
			}
			return nil
		},
	}

	root.PersistentFlags().StringP("cwd", "c", "", "Current working directory")
	root.PersistentFlags().StringP("data-dir", "D", "", "Custom branch site cache directory")
	root.PersistentFlags().BoolP("debug", "d", false, "Debug")
	root.PersistentFlags().String("analyzer", "", "Static analyzer backend (r2 or native)")
	root.PersistentFlags().String("r2", "", "radare2 executable")

	root.AddCommand(
		newDiscoverCmd(),
		newCallSiteCmd(),
		newDisasmCmd(),
		newCacheCmd(),
		newReportCmd(),
		newGraphCmd(),
		newFollowCmd(),
		newSchemaCmd(),
	)
	return root
}

// env is what every subcommand starts from: the effective configuration
// and a logger that must be closed.
type env struct {
	cfg    config.Config
	logger *logging.LoggerCloser
}

func (e *env) Close() error {
	return e.logger.Close()
}

// loadEnv reads HOOKSCOPE_* variables and applies the persistent flags
// the user set on top.
func loadEnv(cmd *cobra.Command) (*env, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	flags := cmd.Flags()
	if flags.Changed("debug") {
		cfg.Debug, _ = flags.GetBool("debug")
	}
	if flags.Changed("data-dir") {
		cfg.DataDir, _ = flags.GetString("data-dir")
	}
	if flags.Changed("analyzer") {
		cfg.Analyzer, _ = flags.GetString("analyzer")
	}
	if flags.Changed("r2") {
		cfg.Radare2Path, _ = flags.GetString("r2")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	lg := logging.NewLogger(cfg.DataDir)
	if cfg.Debug {
		lg.SetLevel(log.DebugLevel)
	}
	return &env{cfg: cfg, logger: lg}, nil
}

func parseBase(cmd *cobra.Command) (uint64, error) {
	s, _ := cmd.Flags().GetString("base")
	base, err := strconv.ParseUint(s, 0, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid --base %q: %w", s, err)
	}
	return base, nil
}

// isTerminal reports whether w is an interactive terminal.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(f.Fd())
}

// termWidth is the width of w, or fallback when it is not a terminal.
func termWidth(w io.Writer, fallback int) int {
	f, ok := w.(*os.File)
	if !ok {
		return fallback
	}
	width, _, err := term.GetSize(f.Fd())
	if err != nil || width <= 0 {
		return fallback
	}
	return width
}

func Execute() {
	// Bypass fang when output is being piped so reports stay plain
	if !term.IsTerminal(os.Stdout.Fd()) {
		if err := rootCmd.Execute(); err != nil {
			os.Exit(1)
		}
		return
	}

	if err := fang.Execute(
		context.Background(),
		rootCmd,
		fang.WithNotifySignal(os.Interrupt),
	); err != nil {
		os.Exit(1)
	}
}
