package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"hookscope/internal/disasm"
	"hookscope/internal/match"
	"hookscope/internal/ui/colorize"
)

func newDisasmCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "disasm <binary>",
		Short: "Print the native x86_64 listing of an image",
		Long: `Linearly disassemble the configured sections with the built-in decoder,
the listing the native analyzer matches branch sites against. Output is
colorized when stdout is a terminal and HOOKSCOPE_NO_COLOR is unset.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := loadEnv(cmd)
			if err != nil {
				return err
			}
			defer e.Close()

			base, err := parseBase(cmd)
			if err != nil {
				return err
			}
			sections, _ := cmd.Flags().GetStringSlice("section")
			if len(sections) == 0 {
				sections = e.cfg.Sections
			}
			onlyBranches, _ := cmd.Flags().GetBool("branches")

			n := &disasm.Native{Sections: sections}
			listing, err := n.Disassemble(cmd.Context(), args[0], base)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			color := isTerminal(out) && colorize.Enabled()
			for _, inst := range listing {
				if onlyBranches && !match.IsIndirectBranch(inst.Mnemonic, inst.Operands) {
					continue
				}
				if !color {
					fmt.Fprintln(out, inst.Text)
					continue
				}
				fmt.Fprintln(out, colorize.Line(inst.Addr+base, inst.Mnemonic, inst.Operands))
			}
			return nil
		},
	}
	c.Flags().String("base", DefaultBase, "Load address of the image header")
	c.Flags().StringSliceP("section", "s", nil, "Section to disassemble as SEG.sect (repeatable)")
	c.Flags().BoolP("branches", "b", false, "Only print indirect calls and jumps")
	return c
}
