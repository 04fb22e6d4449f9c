package devserver

import (
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzhttp"
)

// staticHandler serves the build output under the public base path. Files missing from
// the output are looked up in the public directory, and page navigations that match
// no file get index.html so client side routing works. Missing files under assetsBase
// are always a 404.
type staticHandler struct {
	base       string
	assetsBase string
	outDir     string
	publicDir  string
	dev        bool
}

func newStaticHandler(base, assetsBase, outDir, publicDir string, dev bool) http.Handler {
	return gzhttp.GzipHandler(&staticHandler{
		base:       base,
		assetsBase: assetsBase,
		outDir:     outDir,
		publicDir:  publicDir,
		dev:        dev,
	})
}

func (s *staticHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	if !strings.HasPrefix(r.URL.Path, s.base) {
		if r.URL.Path+"/" == s.base {
			http.Redirect(w, r, s.base, http.StatusFound)
			return
		}
		http.Error(w, "The server is configured with a public base URL of "+s.base+", did you mean to visit "+path.Join(s.base, r.URL.Path)+"?", http.StatusNotFound)
		return
	}

	rel := strings.TrimPrefix(r.URL.Path, s.base)
	if hasDotSegment(rel) {
		http.NotFound(w, r)
		return
	}

	if s.dev {
		w.Header().Set("Cache-Control", "no-cache")
	}

	if rel == "" || strings.HasSuffix(rel, "/") {
		rel += "index.html"
	}

	for _, dir := range []string{s.outDir, s.publicDir} {
		if dir == "" {
			continue
		}
		if file, ok := regularFile(dir, rel); ok {
			http.ServeFile(w, r, file)
			return
		}
	}

	if strings.HasPrefix(r.URL.Path, s.assetsBase) {
		http.NotFound(w, r)
		return
	}

	if path.Ext(rel) == "" || strings.Contains(r.Header.Get("Accept"), "text/html") {
		if file, ok := regularFile(s.outDir, "index.html"); ok {
			http.ServeFile(w, r, file)
			return
		}
	}

	http.NotFound(w, r)
}

func regularFile(dir, rel string) (string, bool) {
	file := filepath.Join(dir, filepath.FromSlash(path.Clean("/"+rel)))
	info, err := os.Stat(file)
	if err != nil || !info.Mode().IsRegular() {
		return "", false
	}
	return file, true
}

func hasDotSegment(rel string) bool {
	for _, part := range strings.Split(rel, "/") {
		if strings.HasPrefix(part, ".") {
			return true
		}
	}
	return false
}
