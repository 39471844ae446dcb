package cmd

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"hookscope/internal/hookscope/styles"
	"hookscope/internal/reloc"
	"hookscope/internal/store"
)

func newReportCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "report <file>",
		Short: "Render a saved branch or type trace",
		Long: `Render a file written by brt_save, save_branch, swtt_save or
save_trace_data as markdown. On a terminal the markdown is styled with
glamour; otherwise, or with --raw, it is printed as is.`,
		Example: `
hookscope report /tmp/branches.json
hookscope report --raw /tmp/type_metadata_trace.json > types.md
  `,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, _ := cmd.Flags().GetBool("raw")
			limit, _ := cmd.Flags().GetInt("limit")

			md, err := reportMarkdown(args[0], limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if raw || !isTerminal(out) {
				_, err := io.WriteString(out, md)
				return err
			}
			return renderMarkdown(out, md)
		},
	}
	c.Flags().Bool("raw", false, "Print markdown without styling")
	c.Flags().IntP("limit", "n", 200, "Most rows per table, 0 for all")
	return c
}

func renderMarkdown(w io.Writer, md string) error {
	r, err := styles.MarkdownRenderer(termWidth(w, 100))
	if err != nil {
		return fmt.Errorf("failed to create renderer: %w", err)
	}
	out, err := r.Render(md)
	if err != nil {
		return fmt.Errorf("failed to render: %w", err)
	}
	_, err = io.WriteString(w, out)
	return err
}

// reportMarkdown picks the layout from the first JSON token: branch traces
// are objects, type traces arrays.
func reportMarkdown(path string, limit int) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	switch first(data) {
	case '{':
		bt, err := store.LoadBranches(path)
		if err != nil {
			return "", err
		}
		return branchMarkdown(path, bt, limit), nil
	case '[':
		recs, err := store.LoadTypes(path)
		if err != nil {
			return "", err
		}
		return typeMarkdown(path, recs, limit), nil
	}
	return "", fmt.Errorf("%s: not a branch or type trace", path)
}

func first(data []byte) byte {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return 0
	}
	return data[0]
}

func cell(s string) string {
	if s == "" {
		return "?"
	}
	return strings.ReplaceAll(s, "|", `\|`)
}

// moduleOffset renders addr relative to the closest module header at or
// below it.
func moduleOffset(mods []store.Module, addr uint64) string {
	best, off := -1, uint64(0)
	for i, m := range mods {
		rel, ok := reloc.ToFile(addr, m.Addr)
		if ok && (best < 0 || rel < off) {
			best, off = i, rel
		}
	}
	if best < 0 {
		return fmt.Sprintf("%#x", addr)
	}
	return fmt.Sprintf("%s+%#x", mods[best].Name, off)
}

func rip(ev store.Event) (uint64, bool) {
	v, ok := ev.Registers["rip"]
	if !ok {
		return 0, false
	}
	n, err := strconv.ParseUint(v, 0, 64)
	return n, err == nil
}

type count struct {
	key string
	n   int
}

func ranked(m map[string]int) []count {
	out := make([]count, 0, len(m))
	for k, n := range m {
		out = append(out, count{k, n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].n != out[j].n {
			return out[i].n > out[j].n
		}
		return out[i].key < out[j].key
	})
	return out
}

func truncated(b *strings.Builder, total, limit int) {
	if limit > 0 && total > limit {
		fmt.Fprintf(b, "\n*%d more rows not shown*\n", total-limit)
	}
}

func branchMarkdown(path string, bt *store.BranchTrace, limit int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Branch trace\n\n`%s`: **%d** branches, **%d** modules\n\n", path, len(bt.Branches), len(bt.Modules))

	targets := make(map[string]int)
	for _, p := range bt.Branches {
		targets[p.After.Module+"`"+p.After.Function]++
	}
	if len(targets) > 0 {
		b.WriteString("## Targets\n\n| hits | target |\n|---:|---|\n")
		r := ranked(targets)
		for i, c := range r {
			if limit > 0 && i == limit {
				break
			}
			fmt.Fprintf(&b, "| %d | %s |\n", c.n, cell(c.key))
		}
		truncated(&b, len(r), limit)
		b.WriteString("\n")
	}

	b.WriteString("## Branches\n\n| # | from | site | to | destination |\n|---:|---|---|---|---|\n")
	for i, p := range bt.Branches {
		if limit > 0 && i == limit {
			break
		}
		site, dest := "?", "?"
		if a, ok := rip(p.Before); ok {
			site = "`" + moduleOffset(bt.Modules, a) + "`"
		}
		if a, ok := rip(p.After); ok {
			dest = "`" + moduleOffset(bt.Modules, a) + "`"
		}
		fmt.Fprintf(&b, "| %d | %s | %s | %s | %s |\n", i, cell(p.Before.Function), site, cell(p.After.Function), dest)
	}
	truncated(&b, len(bt.Branches), limit)

	if len(bt.Modules) > 0 {
		b.WriteString("\n## Modules\n\n| module | header |\n|---|---|\n")
		for _, m := range bt.Modules {
			fmt.Fprintf(&b, "| %s | `%#x` |\n", cell(m.Name), m.Addr)
		}
	}
	return b.String()
}

func typeMarkdown(path string, recs []store.TypeRecord, limit int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Type metadata trace\n\n`%s`: **%d** records\n\n", path, len(recs))

	types := make(map[string]int)
	for _, r := range recs {
		types[r.Description]++
	}
	if len(types) > 0 {
		b.WriteString("## Types\n\n| allocations | type |\n|---:|---|\n")
		r := ranked(types)
		for i, c := range r {
			if limit > 0 && i == limit {
				break
			}
			fmt.Fprintf(&b, "| %d | %s |\n", c.n, cell(c.key))
		}
		truncated(&b, len(r), limit)
		b.WriteString("\n")
	}

	b.WriteString("## Records\n\n| return address | type |\n|---|---|\n")
	for i, r := range recs {
		if limit > 0 && i == limit {
			break
		}
		fmt.Fprintf(&b, "| `0x%016x` | %s |\n", r.ReturnAddress, cell(r.Description))
	}
	truncated(&b, len(recs), limit)
	return b.String()
}
