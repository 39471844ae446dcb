package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/zboralski/lattice/render"

	"hookscope/internal/callgraph"
	"hookscope/internal/store"
)

func newGraphCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "graph <branches.json>",
		Short: "Write the observed indirect branches as a DOT call graph",
		Long: `Build a call graph from a saved branch trace, one edge per distinct
resolved indirect call or jump, and write it in Graphviz DOT form.`,
		Example: `
hookscope graph /tmp/branches.json -o branches.dot && dot -Tsvg branches.dot > branches.svg
  `,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			bt, err := store.LoadBranches(args[0])
			if err != nil {
				return err
			}
			g := callgraph.FromBranches(bt.Branches)
			dot := render.DOT(g, "branches")

			outPath, _ := cmd.Flags().GetString("output")
			if outPath == "" {
				_, err := io.WriteString(cmd.OutOrStdout(), dot)
				return err
			}
			if err := os.WriteFile(outPath, []byte(dot), 0o644); err != nil {
				return fmt.Errorf("write %s: %w", outPath, err)
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "wrote %s (%d nodes, %d edges)\n", outPath, len(g.Nodes), len(g.Edges))
			return nil
		},
	}
	c.Flags().StringP("output", "o", "", "Write DOT to this file instead of stdout")
	return c
}
