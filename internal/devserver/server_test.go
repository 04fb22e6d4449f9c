package devserver

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"github.com/wolfeidau/devserve/internal/assets"
	"github.com/wolfeidau/devserve/internal/devconfig"
	"github.com/wolfeidau/devserve/internal/hmr"
)

type fakeBuilder struct {
	mu      sync.Mutex
	builds  int
	index   string
	outDir  string
	failure error
}

func (f *fakeBuilder) Build(context.Context) (assets.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.builds++
	return assets.Result{}, f.failure
}

func (f *fakeBuilder) WriteIndex(headExtra string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.index = headExtra
	target := filepath.Join(f.outDir, "index.html")
	return target, os.WriteFile(target, []byte("<html>"+headExtra+"</html>"), 0o600)
}

func (f *fakeBuilder) Index() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.index
}

func (f *fakeBuilder) Builds() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.builds
}

func testConfig(t *testing.T) devconfig.Config {
	t.Helper()

	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, devconfig.DevOutDir, "assets"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "public"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, devconfig.DevOutDir, "index.html"), []byte("<html>app</html>"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(root, devconfig.DevOutDir, "assets", "main.js"), []byte("console.log('main')"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(root, "public", "robots.txt"), []byte("User-agent: *"), 0o600))

	cfg := devconfig.Default()
	cfg.Root = root
	return cfg
}

func newTestServer(t *testing.T, cfg devconfig.Config) (*Server, *fakeBuilder) {
	t.Helper()

	builder := &fakeBuilder{outDir: filepath.Join(cfg.Root, cfg.OutputDir(true))}
	srv, err := New(cfg, builder, hmr.NewHub(), Options{Logger: zerolog.Nop(), ProbeTimeout: -1})
	require.NoError(t, err)
	return srv, builder
}

func get(t *testing.T, h http.Handler, path string, mutate ...func(*http.Request)) *httptest.ResponseRecorder {
	t.Helper()

	r := httptest.NewRequest(http.MethodGet, path, nil)
	r.Host = "localhost:8082"
	for _, m := range mutate {
		m(r)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

func TestHandler_static(t *testing.T) {
	srv, _ := newTestServer(t, testConfig(t))
	h := srv.Handler()

	tests := []struct {
		name   string
		path   string
		accept string
		status int
		body   string
	}{
		{name: "index", path: "/", status: http.StatusOK, body: "<html>app</html>"},
		{name: "bundled asset", path: "/assets/main.js", status: http.StatusOK, body: "console.log('main')"},
		{name: "public file", path: "/robots.txt", status: http.StatusOK, body: "User-agent: *"},
		{name: "client route falls back to index", path: "/users/42", status: http.StatusOK, body: "<html>app</html>"},
		{name: "html navigation falls back to index", path: "/report.pdf", accept: "text/html", status: http.StatusOK, body: "<html>app</html>"},
		{name: "missing asset", path: "/assets/missing.js", status: http.StatusNotFound},
		{name: "missing asset never falls back to index", path: "/assets/missing", accept: "text/html", status: http.StatusNotFound},
		{name: "dot files hidden", path: "/.devserve/meta.json", status: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := get(t, h, tt.path, func(r *http.Request) {
				if tt.accept != "" {
					r.Header.Set("Accept", tt.accept)
				}
			})
			require.Equal(t, tt.status, w.Code)
			if tt.body != "" {
				require.Equal(t, tt.body, w.Body.String())
			}
		})
	}
}

func TestHandler_base(t *testing.T) {
	cfg := testConfig(t)
	cfg.Base = "/app/"
	srv, _ := newTestServer(t, cfg)
	h := srv.Handler()

	w := get(t, h, "/app/assets/main.js")
	require.Equal(t, http.StatusOK, w.Code)

	w = get(t, h, "/app")
	require.Equal(t, http.StatusFound, w.Code)
	require.Equal(t, "/app/", w.Header().Get("Location"))

	w = get(t, h, "/assets/main.js")
	require.Equal(t, http.StatusNotFound, w.Code)
	require.Contains(t, w.Body.String(), "/app/assets/main.js")
}

func TestHandler_methodNotAllowed(t *testing.T) {
	srv, _ := newTestServer(t, testConfig(t))

	r := httptest.NewRequest(http.MethodPost, "/assets/main.js", nil)
	r.Host = "localhost"
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, r)

	require.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestHandler_gzip(t *testing.T) {
	cfg := testConfig(t)
	big := strings.Repeat("console.log('compress me');\n", 200)
	require.NoError(t, os.WriteFile(filepath.Join(cfg.Root, devconfig.DevOutDir, "assets", "big.js"), []byte(big), 0o600))

	srv, _ := newTestServer(t, cfg)

	w := get(t, srv.Handler(), "/assets/big.js", func(r *http.Request) {
		r.Header.Set("Accept-Encoding", "gzip")
	})
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "gzip", w.Header().Get("Content-Encoding"))
	require.Less(t, w.Body.Len(), len(big))
}

func TestHandler_hostCheck(t *testing.T) {
	srv, _ := newTestServer(t, testConfig(t))
	h := srv.Handler()

	w := get(t, h, "/", func(r *http.Request) { r.Host = "andersan.riis.okayama-u.ac.jp:8082" })
	require.Equal(t, http.StatusOK, w.Code)

	w = get(t, h, "/", func(r *http.Request) { r.Host = "rebind.attacker.test" })
	require.Equal(t, http.StatusForbidden, w.Code)
}

func TestHandler_cors(t *testing.T) {
	srv, _ := newTestServer(t, testConfig(t))

	w := get(t, srv.Handler(), "/assets/main.js", func(r *http.Request) {
		r.Header.Set("Origin", "http://other.localhost:3000")
	})
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))

	cfg := testConfig(t)
	cfg.Server.CORS = false
	srv, _ = newTestServer(t, cfg)

	w = get(t, srv.Handler(), "/assets/main.js", func(r *http.Request) {
		r.Header.Set("Origin", "http://other.localhost:3000")
	})
	require.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestHandler_proxy(t *testing.T) {
	type seen struct {
		path    string
		escaped string
		query   string
		host    string
		xff     string
	}
	requests := make(chan seen, 1)

	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests <- seen{path: r.URL.Path, escaped: r.URL.EscapedPath(), query: r.URL.RawQuery, host: r.Host, xff: r.Header.Get("X-Forwarded-For")}
		_, _ = io.WriteString(w, "backend")
	}))
	defer backend.Close()

	for _, changeOrigin := range []bool{true, false} {
		cfg := testConfig(t)
		cfg.Server.Proxy = map[string]devconfig.ProxyRule{
			"/api": {
				Target:       backend.URL,
				ChangeOrigin: changeOrigin,
				Rewrite:      devconfig.PathRewrite{Pattern: "^/api"},
			},
		}
		srv, _ := newTestServer(t, cfg)

		w := get(t, srv.Handler(), "/api/users?page=2")
		require.Equal(t, http.StatusOK, w.Code)
		require.Equal(t, "backend", w.Body.String())

		got := <-requests
		require.Equal(t, "/users", got.path)
		require.Equal(t, "page=2", got.query)
		require.NotEmpty(t, got.xff)
		if changeOrigin {
			require.Equal(t, strings.TrimPrefix(backend.URL, "http://"), got.host)
		} else {
			require.Equal(t, "localhost:8082", got.host)
		}

		// encoded separators survive the prefix rewrite
		w = get(t, srv.Handler(), "/api/files/a%2Fb?x=1")
		require.Equal(t, http.StatusOK, w.Code)

		got = <-requests
		require.Equal(t, "/files/a%2Fb", got.escaped)
		require.Equal(t, "/files/a/b", got.path)
		require.Equal(t, "x=1", got.query)
	}
}

func TestHandler_proxyLongestPrefix(t *testing.T) {
	hits := make(chan string, 1)
	newBackend := func(name string) *httptest.Server {
		return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			hits <- name + " " + r.URL.Path
		}))
	}
	api := newBackend("api")
	defer api.Close()
	admin := newBackend("admin")
	defer admin.Close()

	cfg := testConfig(t)
	cfg.Server.Proxy = map[string]devconfig.ProxyRule{
		"/api":       {Target: api.URL},
		"/api/admin": {Target: admin.URL, Rewrite: devconfig.PathRewrite{Pattern: "^/api/admin"}},
	}
	srv, _ := newTestServer(t, cfg)

	get(t, srv.Handler(), "/api/admin/users")
	require.Equal(t, "admin /users", <-hits)

	get(t, srv.Handler(), "/api/users")
	require.Equal(t, "api /api/users", <-hits)
}

func TestHandler_proxyUnreachable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	cfg := testConfig(t)
	cfg.Server.Proxy = map[string]devconfig.ProxyRule{"/api": {Target: "http://" + addr}}
	srv, _ := newTestServer(t, cfg)

	w := get(t, srv.Handler(), "/api/users")
	require.Equal(t, http.StatusBadGateway, w.Code)
}

func TestNew_invalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Server.Port = 70000

	_, err := New(cfg, &fakeBuilder{}, hmr.NewHub(), Options{Logger: zerolog.Nop()})
	require.ErrorIs(t, err, devconfig.ErrInvalidPort)
}

func TestRun_middlewareMode(t *testing.T) {
	cfg := testConfig(t)
	cfg.Server.MiddlewareMode = true
	srv, _ := newTestServer(t, cfg)

	require.ErrorIs(t, srv.Run(context.Background()), ErrMiddlewareMode)

	// the handler still works for embedding
	w := get(t, srv.Handler(), "/assets/main.js")
	require.Equal(t, http.StatusOK, w.Code)
}

func TestRun_rebuildsOnChange(t *testing.T) {
	cfg := testConfig(t)
	cfg.Server.Watch.Interval = 20
	require.NoError(t, os.MkdirAll(filepath.Join(cfg.Root, "src"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(cfg.Root, "src", "main.js"), []byte("one"), 0o600))

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	builder := &fakeBuilder{outDir: filepath.Join(cfg.Root, cfg.OutputDir(true))}
	srv, err := New(cfg, builder, hmr.NewHub(), Options{Logger: zerolog.Nop(), Listener: ln, ProbeTimeout: -1})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()

	require.Eventually(t, func() bool { return builder.Builds() == 1 }, 2*time.Second, 10*time.Millisecond)
	require.Contains(t, builder.Index(), "EventSource")

	resp, err := http.Get("http://" + ln.Addr().String() + "/assets/main.js")
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// let the watcher take its first snapshot before changing anything
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(filepath.Join(cfg.Root, "src", "main.js"), []byte("one two"), 0o600))
	require.Eventually(t, func() bool { return builder.Builds() >= 2 }, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestRebuild_reportsFailure(t *testing.T) {
	cfg := testConfig(t)
	builder := &fakeBuilder{outDir: filepath.Join(cfg.Root, cfg.OutputDir(true)), failure: errors.New("boom")}
	srv, err := New(cfg, builder, hmr.NewHub(), Options{Logger: zerolog.Nop()})
	require.NoError(t, err)

	require.EqualError(t, srv.Rebuild(context.Background(), []string{"src/main.js"}), "boom")
	require.Empty(t, builder.Index())
}

func TestProbeTarget(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer backend.Close()

	require.NoError(t, probeTarget(context.Background(), backend.Client(), backend.URL, time.Second))

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	err = probeTarget(context.Background(), http.DefaultClient, "http://"+addr, 300*time.Millisecond)
	require.ErrorIs(t, err, ErrTargetUnreachable)
}
