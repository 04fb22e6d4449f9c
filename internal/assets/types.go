package assets

import (
	"sync"
	"time"

	"github.com/evanw/esbuild/pkg/api"
)

type BuildMetadata struct {
	Outputs map[string]OutputInfo `json:"outputs"`
}

type OutputInfo struct {
	EntryPoint string       `json:"entryPoint"`
	Imports    []ImportInfo `json:"imports"`
	CSSBundle  string       `json:"cssBundle"`
}

type ImportInfo struct {
	Path     string `json:"path"`
	Kind     string `json:"kind"`
	External bool   `json:"external"`
}

// Entry describes the public URLs needed to load one entry point.
type Entry struct {
	// Source entry point relative to the root, e.g. "src/main.js"
	Source string
	Script string
	// Statically imported chunks, in dependency order
	Chunks []string
	Styles []string
}

// Result summarises a completed build.
type Result struct {
	Entries  []Entry
	Files    []string
	Warnings int
	Duration time.Duration
}

// Pipeline manages the asset build process and script loading
type Pipeline struct {
	config   Config
	plugins  []api.Plugin
	metadata *BuildMetadata
	buildCtx api.BuildContext
	cleaned  bool
	mu       sync.RWMutex
}

// New creates a new asset pipeline with the given configuration and resolved plugins
func New(config Config, plugins []api.Plugin) *Pipeline {
	return &Pipeline{
		config:  config,
		plugins: plugins,
	}
}

// Config returns the pipeline configuration.
func (p *Pipeline) Config() Config {
	return p.config
}

// Close releases the incremental build context, if any.
func (p *Pipeline) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.buildCtx != nil {
		p.buildCtx.Dispose()
		p.buildCtx = nil
	}
}
