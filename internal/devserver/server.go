// Package devserver serves a front-end project during development: bundled assets under
// the public base path, reverse proxy rules for backend calls, and live reload signals
// pushed after every rebuild.
package devserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"path/filepath"
	"strconv"
	"time"

	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"github.com/wolfeidau/devserve/internal/assets"
	"github.com/wolfeidau/devserve/internal/devconfig"
	"github.com/wolfeidau/devserve/internal/hmr"
	httpmiddleware "github.com/wolfeidau/devserve/internal/http"
	"github.com/wolfeidau/devserve/internal/logger"
	"github.com/wolfeidau/devserve/internal/watch"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"
)

const (
	defaultProbeTimeout    = 30 * time.Second
	defaultShutdownTimeout = 5 * time.Second
)

// Builder produces the assets the server hands out.
type Builder interface {
	Build(ctx context.Context) (assets.Result, error)
	WriteIndex(headExtra string) (string, error)
}

type Options struct {
	Logger zerolog.Logger
	// Listener overrides listening on the configured host and port
	Listener net.Listener
	// Transport used for proxied requests, defaults to an instrumented http.DefaultTransport
	Transport http.RoundTripper
	// How long proxy targets are probed at startup, negative disables probing
	ProbeTimeout time.Duration
}

// Server is the development HTTP server. Its configuration is fixed at construction.
type Server struct {
	cfg       devconfig.Config
	builder   Builder
	hub       *hmr.Hub
	routes    []proxyRoute
	handler   http.Handler
	root      string
	outDir    string
	hmrScript string
	opts      Options
}

func New(cfg devconfig.Config, builder Builder, hub *hmr.Hub, opts Options) (*Server, error) {
	cfg = cfg.Clone()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if opts.ProbeTimeout == 0 {
		opts.ProbeTimeout = defaultProbeTimeout
	}

	root, err := filepath.Abs(cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve root %s: %w", cfg.Root, err)
	}

	outDir := filepath.Join(root, cfg.OutputDir(true))

	routes, err := newProxyRoutes(cfg.Server, opts.Transport)
	if err != nil {
		return nil, err
	}

	script, err := hmr.ClientScript(cfg.Server.HMR.ClientPort)
	if err != nil {
		return nil, fmt.Errorf("failed to render live reload client: %w", err)
	}

	s := &Server{
		cfg:       cfg,
		builder:   builder,
		hub:       hub,
		routes:    routes,
		root:      root,
		outDir:    outDir,
		hmrScript: script,
		opts:      opts,
	}
	s.handler = s.buildHandler()

	return s, nil
}

// Handler returns the complete HTTP handler, for mounting in another server when the
// descriptor selects middleware mode.
func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) buildHandler() http.Handler {
	static := newStaticHandler(s.cfg.Base, s.cfg.AssetsBase(), s.outDir, filepath.Join(s.root, "public"), true)

	var h http.Handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == hmr.Path {
			s.hub.ServeHTTP(w, r)
			return
		}
		if route, ok := match(s.routes, r.URL.Path); ok {
			route.proxy.ServeHTTP(w, r)
			return
		}
		static.ServeHTTP(w, r)
	})

	if s.cfg.Server.CORS {
		h = cors.New(cors.Options{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{
				http.MethodGet, http.MethodHead, http.MethodPost, http.MethodPut,
				http.MethodPatch, http.MethodDelete, http.MethodOptions,
			},
			AllowedHeaders: []string{"*"},
		}).Handler(h)
	}

	h = httpmiddleware.HostCheckMiddleware(s.cfg.Server.AllowedHosts)(h)
	h = logger.RequestLogger(s.opts.Logger)(h)

	return otelhttp.NewHandler(h, "devserve",
		otelhttp.WithFilter(func(r *http.Request) bool { return r.URL.Path != hmr.Path }),
		otelhttp.WithSpanNameFormatter(func(operation string, r *http.Request) string {
			return operation + " " + r.Method + " " + r.URL.Path
		}),
	)
}

// Rebuild bundles the project, rewrites index.html and signals connected browsers.
// Build failures are sent to the browsers and returned.
func (s *Server) Rebuild(ctx context.Context, changed []string) error {
	if _, err := s.builder.Build(ctx); err != nil {
		s.hub.Error(ctx, err)
		return err
	}
	if _, err := s.builder.WriteIndex(s.hmrScript); err != nil {
		s.hub.Error(ctx, err)
		return err
	}
	s.hub.Reload(ctx, changed)
	return nil
}

// Run builds, starts watching and serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	if s.cfg.Server.MiddlewareMode {
		return ErrMiddlewareMode
	}

	log := s.opts.Logger
	ctx = log.WithContext(ctx)

	if err := s.Rebuild(ctx, nil); err != nil {
		log.Error().Err(err).Msg("Initial build failed, waiting for changes")
	}

	ln := s.opts.Listener
	if ln == nil {
		var err error
		if ln, err = net.Listen("tcp", s.cfg.Addr()); err != nil {
			return fmt.Errorf("failed to listen on %s: %w", s.cfg.Addr(), err)
		}
	}

	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: time.Second,
		IdleTimeout:       5 * time.Minute,
		MaxHeaderBytes:    8 * 1024, // 8KiB
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		s.hub.Close()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), defaultShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	watcher := watch.New(s.root, watch.Options{
		UsePolling: s.cfg.Server.Watch.UsePolling,
		Interval:   s.cfg.WatchInterval(),
		Ignore:     s.ignored(),
	})
	g.Go(func() error {
		return watcher.Run(gctx, func(ctx context.Context, changed []string) {
			if err := s.Rebuild(ctx, changed); err != nil {
				log.Error().Err(err).Msg("Rebuild failed")
			}
		})
	})

	if s.opts.ProbeTimeout > 0 {
		for _, route := range s.routes {
			g.Go(func() error {
				client := &http.Client{Transport: s.opts.Transport, Timeout: 2 * time.Second}
				if err := probeTarget(gctx, client, route.target.String(), s.opts.ProbeTimeout); err != nil && gctx.Err() == nil {
					log.Warn().Err(err).Str("prefix", route.prefix).Msg("Proxy target is not responding, requests will fail until it starts")
				}
				return nil
			})
		}
	}

	url := s.localURL(ln.Addr())
	log.Info().
		Str("addr", ln.Addr().String()).
		Str("url", url).
		Str("base", s.cfg.Base).
		Bool("polling", s.cfg.Server.Watch.UsePolling).
		Msg("Dev server ready")

	if s.cfg.Server.Open {
		if err := openBrowser(url); err != nil {
			log.Warn().Err(err).Msg("Failed to open browser")
		}
	}

	return g.Wait()
}

// ignored lists the root relative directories the watcher skips: the dev bundles and the
// production output.
func (s *Server) ignored() []string {
	ignore := []string{s.cfg.OutputDir(true)}

	outDir := s.cfg.Build.OutDir
	if filepath.IsAbs(outDir) {
		rel, err := filepath.Rel(s.root, outDir)
		if err != nil {
			return ignore
		}
		outDir = rel
	}
	return append(ignore, filepath.Clean(outDir))
}

func (s *Server) localURL(addr net.Addr) string {
	port := s.cfg.Server.Port
	if tcp, ok := addr.(*net.TCPAddr); ok {
		port = tcp.Port
	}
	return "http://" + net.JoinHostPort("localhost", strconv.Itoa(port)) + s.cfg.Base
}
