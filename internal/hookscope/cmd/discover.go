package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"hookscope/internal/discovery"
	"hookscope/internal/session"
)

// DiscoverOutput is the --json form of discover.
type DiscoverOutput struct {
	Image       string   `json:"image"`
	Base        string   `json:"base"`
	Fingerprint string   `json:"fingerprint"`
	Cache       string   `json:"cache,omitempty"`
	CacheHit    bool     `json:"cache_hit"`
	Sites       []string `json:"sites"`
}

func newPipeline(e *env, noCache bool) (*discovery.Pipeline, error) {
	analyzer, err := session.NewAnalyzer(e.cfg, e.logger.Logger)
	if err != nil {
		return nil, err
	}
	return &discovery.Pipeline{
		Analyzer: analyzer,
		CacheDir: e.cfg.DataDir,
		NoCache:  noCache,
		Logger:   e.logger.WithPrefix("discovery"),
	}, nil
}

func newDiscoverCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "discover <binary>",
		Short: "List the indirect branch sites of an image",
		Long: `Run the branch site discovery pipeline offline: fingerprint the image,
consult the site cache, disassemble on a miss and print every indirect call
and jump relocated to --base. Results are cached exactly as brt_set_bps
caches them.`,
		Example: `
hookscope discover ./XProtectRemediatorSheepSwap --base 0x100000000
hookscope discover --analyzer native --json ./a.out
  `,
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
			noCache, _ := cmd.Flags().GetBool("no-cache")
			asJSON, _ := cmd.Flags().GetBool("json")

			p, err := newPipeline(e, noCache)
			if err != nil {
				return err
			}
			res, err := p.BranchSites(cmd.Context(), args[0], base)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				o := DiscoverOutput{
					Image:       args[0],
					Base:        fmt.Sprintf("%#x", base),
					Fingerprint: res.Fingerprint.String(),
					CacheHit:    res.CacheHit,
					Sites:       make([]string, len(res.Addrs)),
				}
				if !noCache {
					o.Cache = res.CachePath
				}
				for i, a := range res.Addrs {
					o.Sites[i] = fmt.Sprintf("%#x", a)
				}
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(o)
			}

			state := "miss"
			if res.CacheHit {
				state = "hit"
			}
			fmt.Fprintf(out, "fingerprint %s (cache %s)\n", res.Fingerprint, state)
			for _, a := range res.Addrs {
				fmt.Fprintf(out, "0x%016x\n", a)
			}
			fmt.Fprintf(out, "%d indirect branch sites\n", len(res.Addrs))
			return nil
		},
	}
	c.Flags().String("base", DefaultBase, "Load address of the image header")
	c.Flags().Bool("no-cache", false, "Neither read nor write the site cache")
	c.Flags().BoolP("json", "j", false, "Output results as JSON")
	return c
}

func newCallSiteCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "callsite <binary> <import>",
		Short: "Locate the call to an imported function",
		Long: `Find the call instruction that targets an imported function and print its
runtime address. xpr_yara_dump hooks the yr_compiler_create call site found
this way.`,
		Example: `
hookscope callsite ./XProtectRemediatorSheepSwap yr_compiler_create
  `,
		Args: cobra.ExactArgs(2),
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
			p, err := newPipeline(e, true)
			if err != nil {
				return err
			}
			addr, err := p.CallSite(cmd.Context(), args[0], base, args[1])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "0x%016x\n", addr)
			return nil
		},
	}
	c.Flags().String("base", DefaultBase, "Load address of the image header")
	return c
}
