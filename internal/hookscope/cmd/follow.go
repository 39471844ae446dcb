package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/charmbracelet/lipgloss/v2"
	"github.com/nxadm/tail"
	"github.com/spf13/cobra"
)

var (
	matcherStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#7C9C9D"))
	ruleStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFD700")).Bold(true)
)

func newFollowCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "follow <file>",
		Short: "Follow a dump file as the target writes it",
		Long: `Print a dump file written by a running hook, such as the xpr_yara_dump
output, and keep printing lines as they are appended. The file may not
exist yet; it is picked up once the hook creates it, and again if it is
truncated by a new xpr_yara_dump run.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			noFollow, _ := cmd.Flags().GetBool("no-follow")
			poll, _ := cmd.Flags().GetBool("poll")

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			out := cmd.OutOrStdout()
			return follow(ctx, out, args[0], tail.Config{
				Follow:    !noFollow,
				ReOpen:    !noFollow,
				MustExist: noFollow,
				Poll:      poll,
				Logger:    tail.DiscardingLogger,
			}, isTerminal(out))
		},
	}
	c.Flags().Bool("no-follow", false, "Print the current contents and exit")
	c.Flags().Bool("poll", false, "Poll for changes instead of using file notifications")
	return c
}

func follow(ctx context.Context, w io.Writer, path string, cfg tail.Config, color bool) error {
	t, err := tail.TailFile(path, cfg)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer t.Cleanup()

	for {
		select {
		case <-ctx.Done():
			// interrupted by the operator
			_ = t.Stop()
			return nil
		case line, ok := <-t.Lines:
			if !ok {
				return nil
			}
			if line.Err != nil {
				return line.Err
			}
			fmt.Fprintln(w, styleDumpLine(line.Text, color))
		}
	}
}

// styleDumpLine highlights matcher and rule banners written by the YARA
// hooks. Rule bodies pass through.
func styleDumpLine(s string, color bool) string {
	if !color {
		return s
	}
	switch {
	case strings.HasPrefix(s, "Yara Matcher @"):
		return matcherStyle.Render(s)
	case strings.HasPrefix(s, "YARA rule:"):
		return ruleStyle.Render(s)
	}
	return s
}
