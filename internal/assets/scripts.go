package assets

import (
	"path"
	"path/filepath"
	"slices"
	"strings"
)

// Entries returns the public URLs of every entry point in the last build.
func (p *Pipeline) Entries() ([]Entry, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.metadata == nil {
		return nil, ErrNotBuilt
	}
	return p.entries()
}

func (p *Pipeline) entries() ([]Entry, error) {
	var sources []string
	for _, info := range p.metadata.Outputs {
		if info.EntryPoint != "" {
			sources = append(sources, info.EntryPoint)
		}
	}
	slices.Sort(sources)

	entries := make([]Entry, 0, len(sources))
	for _, src := range slices.Compact(sources) {
		e, err := p.entry(src)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func (p *Pipeline) entry(entryPointPath string) (Entry, error) {
	// Find the output file for this entrypoint, ignoring its source map
	for outputPath, info := range p.metadata.Outputs {
		if info.EntryPoint != entryPointPath || !strings.HasSuffix(outputPath, ".js") {
			continue
		}

		e := Entry{Source: entryPointPath, Script: p.publicURL(outputPath)}
		visited := map[string]bool{outputPath: true}
		styles := map[string]bool{}
		p.addDependencies(info, &e, visited, styles)
		return e, nil
	}

	return Entry{}, ErrEntryNotFound
}

func (p *Pipeline) addDependencies(output OutputInfo, e *Entry, visited, styles map[string]bool) {
	if output.CSSBundle != "" && !styles[output.CSSBundle] {
		styles[output.CSSBundle] = true
		e.Styles = append(e.Styles, p.publicURL(output.CSSBundle))
	}

	for _, imp := range output.Imports {
		// dynamic imports load on demand, externals are not ours to serve
		if imp.External || imp.Kind == "dynamic-import" {
			continue
		}
		if !visited[imp.Path] {
			visited[imp.Path] = true
			e.Chunks = append(e.Chunks, p.publicURL(imp.Path))

			if chunkInfo, exists := p.metadata.Outputs[imp.Path]; exists {
				p.addDependencies(chunkInfo, e, visited, styles)
			}
		}
	}
}

// publicURL maps a metafile output path (relative to the root) to the URL it is served at.
func (p *Pipeline) publicURL(outputPath string) string {
	rel, err := filepath.Rel(p.config.OutputDir, filepath.FromSlash(outputPath))
	if err != nil {
		rel = outputPath
	}
	return path.Join(p.config.Base, filepath.ToSlash(rel))
}
