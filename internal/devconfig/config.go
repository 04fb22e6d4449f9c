// Package devconfig holds the dev server and bundler descriptor.
//
// A Config is built once at startup, validated, and then handed by value to the
// bundler and the dev server. Nothing mutates it after Load returns.
package devconfig

import (
	"fmt"
	"maps"
	"net"
	"path/filepath"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// DevOutDir is where the dev server writes bundles, relative to the root. Serving never
// touches build.outDir.
const DevOutDir = ".devserve/serve"

type Config struct {
	// Project root containing index.html and sources
	Root    string       `yaml:"root" json:"root"`
	Plugins []Plugin     `yaml:"plugins" json:"plugins"`
	Server  ServerConfig `yaml:"server" json:"server"`
	// Public base path assets are served under
	Base  string      `yaml:"base" json:"base"`
	Build BuildConfig `yaml:"build" json:"build"`
}

// Plugin activates a named source transformation during bundling.
type Plugin struct {
	Name    string            `yaml:"name" json:"name"`
	Options map[string]string `yaml:"options,omitempty" json:"options,omitempty"`
}

type ServerConfig struct {
	Host           string               `yaml:"host" json:"host"`
	Port           int                  `yaml:"port" json:"port"`
	AllowedHosts   []string             `yaml:"allowedHosts" json:"allowedHosts"`
	Proxy          map[string]ProxyRule `yaml:"proxy" json:"proxy"`
	Watch          WatchOptions         `yaml:"watch" json:"watch"`
	MiddlewareMode bool                 `yaml:"middlewareMode" json:"middlewareMode"`
	HMR            HMROptions           `yaml:"hmr" json:"hmr"`
	LogLevel       string               `yaml:"logLevel" json:"logLevel"`
	Open           bool                 `yaml:"open" json:"open"`
	CORS           bool                 `yaml:"cors" json:"cors"`
}

// ProxyRule forwards requests matching a path prefix to another origin.
type ProxyRule struct {
	Target       string      `yaml:"target" json:"target"`
	ChangeOrigin bool        `yaml:"changeOrigin" json:"changeOrigin"`
	Rewrite      PathRewrite `yaml:"rewrite" json:"rewrite"`
}

// PathRewrite replaces the first match of Pattern in the request path with Replacement.
// An empty Pattern leaves the path untouched.
type PathRewrite struct {
	Pattern     string `yaml:"pattern" json:"pattern"`
	Replacement string `yaml:"replacement" json:"replacement"`
}

type WatchOptions struct {
	UsePolling bool `yaml:"usePolling" json:"usePolling"`
	// Poll interval in milliseconds
	Interval int `yaml:"interval" json:"interval"`
}

type HMROptions struct {
	// Port the browser client connects to for reload signals, 0 means the page port
	ClientPort int `yaml:"clientPort" json:"clientPort"`
}

type BuildConfig struct {
	OutDir      string   `yaml:"outDir" json:"outDir"`
	AssetsDir   string   `yaml:"assetsDir" json:"assetsDir"`
	EntryPoints []string `yaml:"entryPoints" json:"entryPoints"`
	Minify      bool     `yaml:"minify" json:"minify"`
	SourceMap   bool     `yaml:"sourcemap" json:"sourcemap"`
}

// Default returns the descriptor used when no config file overrides it.
func Default() Config {
	return Config{
		Root:    ".",
		Plugins: []Plugin{{Name: "svelte"}},
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8082,
			AllowedHosts: []string{"andersan.riis.okayama-u.ac.jp"},
			Proxy: map[string]ProxyRule{
				"/api": {
					Target:       "http://localhost:8087",
					ChangeOrigin: true,
					Rewrite:      PathRewrite{Pattern: "^/api", Replacement: ""},
				},
			},
			Watch: WatchOptions{
				UsePolling: true,
				Interval:   1000,
			},
			MiddlewareMode: false,
			HMR:            HMROptions{ClientPort: 8082},
			LogLevel:       "info",
			Open:           false,
			CORS:           true,
		},
		Base: "/",
		Build: BuildConfig{
			OutDir:      "dist",
			AssetsDir:   "assets",
			EntryPoints: []string{"src/main.js"},
			Minify:      true,
			SourceMap:   false,
		},
	}
}

// Clone returns a deep copy.
func (c Config) Clone() Config {
	out := c
	out.Plugins = make([]Plugin, len(c.Plugins))
	for i, p := range c.Plugins {
		out.Plugins[i] = Plugin{Name: p.Name, Options: maps.Clone(p.Options)}
	}
	out.Server.AllowedHosts = slices.Clone(c.Server.AllowedHosts)
	out.Server.Proxy = maps.Clone(c.Server.Proxy)
	out.Build.EntryPoints = slices.Clone(c.Build.EntryPoints)
	return out
}

// Addr is the listen address for the dev server.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Server.Host, strconv.Itoa(c.Server.Port))
}

// OutputDir is the root relative directory bundles are written to.
func (c Config) OutputDir(dev bool) string {
	if dev {
		return filepath.FromSlash(DevOutDir)
	}
	return c.Build.OutDir
}

func (c Config) WatchInterval() time.Duration {
	return time.Duration(c.Server.Watch.Interval) * time.Millisecond
}

// Level maps the configured log level onto zerolog, defaulting to info.
func (c Config) Level() zerolog.Level {
	lvl, err := parseLevel(c.Server.LogLevel)
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}

// parseLevel accepts zerolog level names plus "silent".
func parseLevel(s string) (zerolog.Level, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "silent" {
		return zerolog.Disabled, nil
	}
	return zerolog.ParseLevel(s)
}

// AssetsBase is the public URL prefix of bundled assets, e.g. "/assets/".
func (c Config) AssetsBase() string {
	return c.Base + strings.Trim(c.Build.AssetsDir, "/") + "/"
}

// Prefixes returns the proxy prefixes ordered longest first.
func (s ServerConfig) Prefixes() []string {
	prefixes := slices.Collect(maps.Keys(s.Proxy))
	slices.SortFunc(prefixes, func(a, b string) int {
		if len(a) != len(b) {
			return len(b) - len(a)
		}
		return strings.Compare(a, b)
	})
	return prefixes
}

// RewritePath applies the rule's rewrite to path.
func (r ProxyRule) RewritePath(path string) (string, error) {
	fn, err := r.Rewriter()
	if err != nil {
		return "", err
	}
	return fn(path), nil
}

// Rewriter compiles the rewrite once for use on every proxied request.
func (r ProxyRule) Rewriter() (func(string) string, error) {
	if r.Rewrite.Pattern == "" {
		return func(p string) string { return p }, nil
	}
	re, err := regexp.Compile(r.Rewrite.Pattern)
	if err != nil {
		return nil, fmt.Errorf("%w: rewrite pattern %q: %w", ErrInvalidProxyRule, r.Rewrite.Pattern, err)
	}
	return func(p string) string { return rewrite(re, r.Rewrite.Replacement, p) }, nil
}

// rewrite replaces only the first match, the result always starts with a slash.
func rewrite(re *regexp.Regexp, replacement, path string) string {
	out := path
	if loc := re.FindStringSubmatchIndex(path); loc != nil {
		expanded := re.ExpandString(nil, replacement, path, loc)
		out = path[:loc[0]] + string(expanded) + path[loc[1]:]
	}
	if !strings.HasPrefix(out, "/") {
		out = "/" + out
	}
	return out
}
