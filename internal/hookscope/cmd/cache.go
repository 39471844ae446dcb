package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"hookscope/internal/cache"
)

func newCacheCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "cache",
		Short: "Inspect or clear the branch site cache",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List cached branch site files",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := loadEnv(cmd)
			if err != nil {
				return err
			}
			defer e.Close()

			entries, err := cache.List(e.cfg.DataDir)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(entries) == 0 {
				fmt.Fprintf(out, "No cached branch sites in %s\n", e.cfg.DataDir)
				return nil
			}
			if isTerminal(out) {
				return renderMarkdown(out, cacheMarkdown(e.cfg.DataDir, entries))
			}
			for _, en := range entries {
				sites := "corrupt"
				if en.Sites >= 0 {
					sites = fmt.Sprintf("%d sites", en.Sites)
				}
				fmt.Fprintf(out, "%s  %s  %d bytes  %s\n", en.Fingerprint, sites, en.Size, en.Path)
			}
			return nil
		},
	}

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete every cached branch site file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := loadEnv(cmd)
			if err != nil {
				return err
			}
			defer e.Close()

			n, err := cache.Clear(e.cfg.DataDir)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %d cache files from %s\n", n, e.cfg.DataDir)
			return nil
		},
	}

	c.AddCommand(listCmd, clearCmd)
	return c
}

func cacheMarkdown(dir string, entries []cache.Entry) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Branch site cache\n\n`%s`\n\n", dir)
	b.WriteString("| fingerprint | sites | bytes |\n|---|---:|---:|\n")
	for _, en := range entries {
		sites := "*corrupt*"
		if en.Sites >= 0 {
			sites = fmt.Sprint(en.Sites)
		}
		fmt.Fprintf(&b, "| `%s` | %s | %d |\n", en.Fingerprint[:min(16, len(en.Fingerprint))], sites, en.Size)
	}
	return b.String()
}
