package assets

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/wolfeidau/devserve/internal/devconfig"
)

type Config struct {
	// Absolute project root, esbuild's working directory
	Root string
	// Entry point paths or glob patterns relative to Root (e.g., "src/main.js")
	EntryPoints []string
	// Output directory for built files, relative to Root
	OutputDir string
	// Sub directory of OutputDir receiving bundled assets
	AssetsDir string
	// Public base path
	Base string
	// Path to metafile
	MetafilePath string
	// Directory copied verbatim into OutputDir on production builds
	PublicDir string
	// Whether to minify output
	Minify bool
	// Whether to enable source maps
	SourceMap bool
	// Development builds skip hashing and minification and inject the reload client
	Dev bool
}

// ConfigFrom derives the pipeline configuration from the descriptor.
func ConfigFrom(cfg devconfig.Config, dev bool) (Config, error) {
	root, err := filepath.Abs(cfg.Root)
	if err != nil {
		return Config{}, fmt.Errorf("failed to resolve root %s: %w", cfg.Root, err)
	}

	outDir := filepath.Clean(cfg.OutputDir(dev))
	if filepath.IsAbs(outDir) {
		if outDir, err = filepath.Rel(root, outDir); err != nil {
			return Config{}, fmt.Errorf("failed to resolve outDir: %w", err)
		}
	}
	if outDir == "." || escapesRoot(outDir) {
		return Config{}, fmt.Errorf("%w: outDir %q must be inside root", ErrUnsafeOutputDir, cfg.OutputDir(dev))
	}

	return Config{
		Root:         root,
		EntryPoints:  cfg.Build.EntryPoints,
		OutputDir:    outDir,
		AssetsDir:    filepath.Clean(cfg.Build.AssetsDir),
		Base:         cfg.Base,
		MetafilePath: filepath.Join(outDir, ".devserve", "meta.json"),
		PublicDir:    "public",
		Minify:       cfg.Build.Minify && !dev,
		SourceMap:    cfg.Build.SourceMap || dev,
		Dev:          dev,
	}, nil
}

func (c Config) abs(rel string) string {
	return filepath.Join(c.Root, rel)
}

// escapesRoot reports whether a root relative path points outside the root.
func escapesRoot(rel string) bool {
	return rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
