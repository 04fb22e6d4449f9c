package assets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strconv"
	"time"

	"github.com/evanw/esbuild/pkg/api"
	"github.com/rs/zerolog"
	"github.com/wolfeidau/devserve/internal/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Build runs esbuild with the configured settings and loads metadata. Development
// pipelines keep an incremental context so later calls only rebuild what changed.
func (p *Pipeline) Build(ctx context.Context) (Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	log := zerolog.Ctx(ctx)
	metrics := telemetry.GetMetrics()
	started := time.Now()
	mode := metric.WithAttributes(attribute.Bool("dev", p.config.Dev))

	result, err := p.build(ctx)
	result.Duration = time.Since(started)

	metrics.BuildsTotal.Add(ctx, 1, mode)
	metrics.BuildDuration.Record(ctx, float64(result.Duration.Milliseconds()), mode)
	if err != nil {
		metrics.BuildErrorsTotal.Add(ctx, 1, mode)
		return result, err
	}

	log.Info().
		Int("entries", len(result.Entries)).
		Int("files", len(result.Files)).
		Int("warnings", result.Warnings).
		Dur("duration", result.Duration).
		Msg("Built assets")

	return result, nil
}

func (p *Pipeline) build(ctx context.Context) (Result, error) {
	log := zerolog.Ctx(ctx)

	if !p.cleaned || !p.config.Dev {
		if err := p.clean(); err != nil {
			return Result{}, err
		}
		p.cleaned = true
	}

	var br api.BuildResult
	if p.buildCtx != nil {
		br = p.buildCtx.Rebuild()
	} else {
		entryPoints, err := p.entryPoints()
		if err != nil {
			return Result{}, err
		}

		log.Info().Strs("entrypoints", entryPoints).Bool("dev", p.config.Dev).Msg("Building assets")

		opts := p.buildOptions(entryPoints)
		if p.config.Dev {
			bctx, cerr := api.Context(opts)
			if cerr != nil {
				for _, msg := range cerr.Errors {
					log.Error().Str("error", msg.Text).Msg("Build error")
				}
				return Result{}, ErrBuildFailed
			}
			p.buildCtx = bctx
			br = bctx.Rebuild()
		} else {
			br = api.Build(opts)
		}
	}

	for _, msg := range br.Warnings {
		log.Warn().Str("warning", formatMessage(msg)).Msg("Build warning")
	}

	if len(br.Errors) > 0 {
		errs := make([]error, 0, len(br.Errors)+1)
		errs = append(errs, ErrBuildFailed)
		for _, msg := range br.Errors {
			log.Error().Str("error", formatMessage(msg)).Msg("Build error")
			errs = append(errs, errors.New(formatMessage(msg)))
		}
		return Result{Warnings: len(br.Warnings)}, errors.Join(errs...)
	}

	files := make([]string, 0, len(br.OutputFiles))
	for _, file := range br.OutputFiles {
		log.Debug().Str("file", file.Path).Msg("Built file")
		files = append(files, file.Path)
	}

	// Write metafile
	metafile := p.config.abs(p.config.MetafilePath)
	if err := os.MkdirAll(filepath.Dir(metafile), 0o755); err != nil {
		return Result{}, err
	}
	if err := os.WriteFile(metafile, []byte(br.Metafile), 0600); err != nil {
		return Result{}, err
	}

	// Parse and cache metadata
	var metadata BuildMetadata
	if err := json.Unmarshal([]byte(br.Metafile), &metadata); err != nil {
		return Result{}, err
	}
	p.metadata = &metadata

	entries, err := p.entries()
	if err != nil {
		return Result{}, err
	}

	if !p.config.Dev {
		if err := p.copyPublic(); err != nil {
			return Result{}, err
		}
	}

	return Result{
		Entries:  entries,
		Files:    files,
		Warnings: len(br.Warnings),
	}, nil
}

func (p *Pipeline) buildOptions(entryPoints []string) api.BuildOptions {
	entryNames, chunkNames, assetNames := "[name]-[hash]", "chunk-[hash]", "[name]-[hash]"
	if p.config.Dev {
		entryNames, chunkNames, assetNames = "[name]", "chunk-[hash]", "[name]"
	}

	modeName := cond(p.config.Dev, "development", "production")

	return api.BuildOptions{
		AbsWorkingDir:     p.config.Root,
		EntryPoints:       entryPoints,
		Bundle:            true,
		Splitting:         true,
		Write:             true,
		JSX:               api.JSXAutomatic,
		Outdir:            p.config.abs(filepath.Join(p.config.OutputDir, p.config.AssetsDir)),
		PublicPath:        path.Join(p.config.Base, filepath.ToSlash(p.config.AssetsDir)),
		EntryNames:        entryNames,
		ChunkNames:        chunkNames,
		AssetNames:        assetNames,
		Format:            api.FormatESModule,
		MinifyWhitespace:  p.config.Minify,
		MinifyIdentifiers: p.config.Minify,
		MinifySyntax:      p.config.Minify,
		TreeShaking:       api.TreeShakingTrue,
		Sourcemap:         cond(p.config.SourceMap, api.SourceMapLinked, api.SourceMapNone),
		Metafile:          true,
		Plugins:           p.plugins,
		LogLevel:          api.LogLevelSilent,
		Define: map[string]string{
			"import.meta.env.MODE":     strconv.Quote(modeName),
			"import.meta.env.DEV":      strconv.FormatBool(p.config.Dev),
			"import.meta.env.PROD":     strconv.FormatBool(!p.config.Dev),
			"import.meta.env.BASE_URL": strconv.Quote(p.config.Base),
			"process.env.NODE_ENV":     strconv.Quote(modeName),
		},
		Loader: map[string]api.Loader{
			".png":   api.LoaderFile,
			".jpg":   api.LoaderFile,
			".svg":   api.LoaderFile,
			".woff2": api.LoaderFile,
		},
	}
}

// entryPoints expands the configured patterns relative to the root.
func (p *Pipeline) entryPoints() ([]string, error) {
	var entryPoints []string
	for _, pattern := range p.config.EntryPoints {
		matches, err := filepath.Glob(p.config.abs(pattern))
		if err != nil {
			return nil, err
		}
		for _, m := range matches {
			rel, err := filepath.Rel(p.config.Root, m)
			if err != nil {
				return nil, err
			}
			entryPoints = append(entryPoints, filepath.ToSlash(rel))
		}
	}

	if len(entryPoints) == 0 {
		return nil, ErrNoEntryPoints
	}

	slices.Sort(entryPoints)
	return slices.Compact(entryPoints), nil
}

// clean removes the previous output so stale hashed files are not served.
func (p *Pipeline) clean() error {
	out := p.config.abs(p.config.OutputDir)
	rel, err := filepath.Rel(p.config.Root, out)
	if err != nil || rel == "." || escapesRoot(rel) {
		return fmt.Errorf("%w: %s", ErrUnsafeOutputDir, out)
	}
	if err := os.RemoveAll(out); err != nil {
		return fmt.Errorf("failed to clean %s: %w", out, err)
	}
	return nil
}

func (p *Pipeline) copyPublic() error {
	src := p.config.abs(p.config.PublicDir)
	if _, err := os.Stat(src); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := os.CopyFS(p.config.abs(p.config.OutputDir), os.DirFS(src)); err != nil {
		return fmt.Errorf("failed to copy %s: %w", p.config.PublicDir, err)
	}
	return nil
}

func formatMessage(msg api.Message) string {
	if msg.Location == nil {
		return msg.Text
	}
	return fmt.Sprintf("%s:%d:%d: %s", msg.Location.File, msg.Location.Line, msg.Location.Column, msg.Text)
}

func cond[T any](condition bool, trueVal, falseVal T) T {
	if condition {
		return trueVal
	}
	return falseVal
}
