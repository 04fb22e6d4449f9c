package assets

import (
	"bytes"
	"errors"
	"fmt"
	"html/template"
	"os"
	"path/filepath"
	"strings"
)

const indexFile = "index.html"

var fallbackIndex = template.Must(template.New(indexFile).Parse(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="UTF-8" />
    <meta name="viewport" content="width=device-width, initial-scale=1.0" />
    <title>{{ .Title }}</title>
  </head>
  <body>
    <div id="app"></div>
  </body>
</html>
`))

// RenderIndex produces index.html for the last build. The project's own index.html is
// used when present: script tags referencing a source entry point are pointed at the
// bundled output, and tags for styles, preloaded chunks and any entry the page does not
// reference are added to the head. headExtra is injected verbatim before </head>.
func (p *Pipeline) RenderIndex(headExtra string) ([]byte, error) {
	entries, err := p.Entries()
	if err != nil {
		return nil, err
	}

	page, err := os.ReadFile(p.config.abs(indexFile))
	if errors.Is(err, os.ErrNotExist) {
		var buf bytes.Buffer
		if err := fallbackIndex.Execute(&buf, map[string]any{"Title": filepath.Base(p.config.Root)}); err != nil {
			return nil, err
		}
		page = buf.Bytes()
	} else if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", indexFile, err)
	}

	html := string(page)
	var head strings.Builder

	for _, e := range entries {
		referenced := false
		for _, ref := range []string{"/" + e.Source, "./" + e.Source, p.config.Base + e.Source} {
			attr := `src="` + ref + `"`
			if strings.Contains(html, attr) {
				html = strings.ReplaceAll(html, attr, `src="`+e.Script+`"`)
				referenced = true
			}
		}

		for _, href := range e.Styles {
			fmt.Fprintf(&head, "    <link rel=\"stylesheet\" href=\"%s\" />\n", template.HTMLEscapeString(href))
		}
		for _, href := range e.Chunks {
			fmt.Fprintf(&head, "    <link rel=\"modulepreload\" href=\"%s\" />\n", template.HTMLEscapeString(href))
		}
		if !referenced {
			fmt.Fprintf(&head, "    <script type=\"module\" src=\"%s\"></script>\n", template.HTMLEscapeString(e.Script))
		}
	}

	head.WriteString(headExtra)

	if idx := strings.Index(strings.ToLower(html), "</head>"); idx != -1 {
		html = html[:idx] + head.String() + html[idx:]
	} else {
		html = head.String() + html
	}

	return []byte(html), nil
}

// WriteIndex renders index.html into the output directory.
func (p *Pipeline) WriteIndex(headExtra string) (string, error) {
	page, err := p.RenderIndex(headExtra)
	if err != nil {
		return "", err
	}

	target := p.config.abs(filepath.Join(p.config.OutputDir, indexFile))
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(target, page, 0o644); err != nil { //nolint:gosec
		return "", fmt.Errorf("failed to write %s: %w", target, err)
	}
	return target, nil
}
