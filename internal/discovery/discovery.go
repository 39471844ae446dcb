// Package discovery finds hookable addresses in an on-disk image: it
// fingerprints the image, consults the site cache, runs the static analyzer
// on a miss and relocates the matches to runtime addresses.
package discovery

import (
	"context"
	"errors"
	"fmt"

	"github.com/charmbracelet/log"

	"hookscope/internal/cache"
	"hookscope/internal/disasm"
	"hookscope/internal/fingerprint"
	"hookscope/internal/match"
	"hookscope/internal/reloc"
)

// Pipeline runs discovery against one analyzer.
type Pipeline struct {
	Analyzer disasm.StaticAnalyzer
	// CacheDir holds branch site caches; empty means fingerprint.DefaultDir.
	CacheDir string
	NoCache  bool
	Logger   *log.Logger
}

// Result is the outcome of a branch site run.
type Result struct {
	Fingerprint fingerprint.Fingerprint
	CachePath   string
	CacheHit    bool
	// Sites are file-relative, Addrs the same sites at the load base.
	Sites []uint64
	Addrs []uint64
}

func (p *Pipeline) logger() *log.Logger {
	if p.Logger == nil {
		return log.Default()
	}
	return p.Logger
}

func (p *Pipeline) cacheDir() string {
	if p.CacheDir == "" {
		return fingerprint.DefaultDir
	}
	return p.CacheDir
}

// BranchSites returns every indirect call and jump in the image relocated to
// loadBase. An analyzer failure aborts with no result.
func (p *Pipeline) BranchSites(ctx context.Context, imagePath string, loadBase uint64) (*Result, error) {
	fp, err := fingerprint.Compute(imagePath, loadBase)
	if err != nil {
		return nil, err
	}
	res := &Result{Fingerprint: fp, CachePath: fingerprint.CachePath(p.cacheDir(), fp)}

	if !p.NoCache {
		sites, ok, err := cache.Load(res.CachePath)
		if err != nil {
			p.logger().Warn("Ignoring unreadable cache", "path", res.CachePath, "err", err)
		}
		if ok && err == nil && runtimeSites(sites, loadBase) {
			p.logger().Warn("Ignoring cache holding runtime addresses", "path", res.CachePath, "base", fmt.Sprintf("0x%x", loadBase))
		}
		if ok && err == nil && !runtimeSites(sites, loadBase) {
			p.logger().Info("Branch address cache found, skipping analysis", "path", res.CachePath, "sites", len(sites))
			res.CacheHit = true
			res.Sites = sites
			res.Addrs = reloc.AllToRuntime(sites, loadBase)
			return res, nil
		}
		p.logger().Info("Branch address cache not found, analyzing", "path", res.CachePath)
	}

	listing, err := p.Analyzer.Disassemble(ctx, imagePath, loadBase)
	if err != nil {
		return nil, fmt.Errorf("disassemble %s: %w", imagePath, err)
	}
	res.Sites = match.IndirectBranches(listing)
	res.Addrs = reloc.AllToRuntime(res.Sites, loadBase)
	p.logger().Debug("Analysis complete", "instructions", len(listing), "sites", len(res.Sites))

	if !p.NoCache {
		if err := cache.Store(res.CachePath, res.Sites); err != nil {
			p.logger().Warn("Cannot write cache", "path", res.CachePath, "err", err)
		}
	}
	return res, nil
}

// runtimeSites reports whether a cached site list holds runtime addresses
// rather than file-relative ones. Older caches under the same name stored the
// addresses as printed at the load base.
func runtimeSites(sites []uint64, loadBase uint64) bool {
	if loadBase == 0 {
		return false
	}
	for _, s := range sites {
		if s >= loadBase {
			return true
		}
	}
	return false
}

// CallSite returns the runtime address of the call to importName. When the
// analyzer's own lookup finds nothing, the full listing is scanned for a
// direct call naming the import.
func (p *Pipeline) CallSite(ctx context.Context, imagePath string, loadBase uint64, importName string) (uint64, error) {
	rel, err := p.Analyzer.CallSite(ctx, imagePath, loadBase, importName)
	if errors.Is(err, disasm.ErrCallSiteNotFound) {
		rel, err = p.scanCallSite(ctx, imagePath, loadBase, importName)
	}
	if err != nil {
		if errors.Is(err, disasm.ErrCallSiteNotFound) {
			return 0, fmt.Errorf("no call to %s in %s: %w", importName, imagePath, err)
		}
		return 0, err
	}
	return reloc.ToRuntime(rel, loadBase), nil
}

func (p *Pipeline) scanCallSite(ctx context.Context, imagePath string, loadBase uint64, importName string) (uint64, error) {
	p.logger().Debug("Cross reference lookup empty, scanning listing", "import", importName)
	listing, err := p.Analyzer.Disassemble(ctx, imagePath, loadBase)
	if err != nil {
		return 0, fmt.Errorf("disassemble %s: %w", imagePath, err)
	}
	sites := match.CallSitesOf(listing, importName)
	if len(sites) == 0 {
		return 0, disasm.ErrCallSiteNotFound
	}
	return sites[0], nil
}

// IsToolError reports whether err came from the analysis tool itself.
func IsToolError(err error) bool {
	var te *disasm.ToolError
	return errors.As(err, &te)
}
