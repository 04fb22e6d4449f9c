package devconfig

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load reads a YAML descriptor from path, overlays it onto Default and validates the result.
// A relative root is resolved against the directory holding the file. An empty path returns
// the validated defaults.
func Load(path string) (Config, error) {
	if path == "" {
		cfg := Default()
		return cfg, cfg.Validate()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return Config{}, fmt.Errorf("failed to load config %s: %w", path, err)
	}

	if !filepath.IsAbs(cfg.Root) {
		cfg.Root = filepath.Join(filepath.Dir(path), cfg.Root)
	}

	return cfg, nil
}

// Parse decodes a YAML (or JSON, which is valid YAML) descriptor on top of Default.
// Keys absent from data keep their default value. A proxy map present in data
// replaces the default rules rather than merging with them.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	defaultProxy := cfg.Server.Proxy
	cfg.Server.Proxy = nil

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("failed to decode config: %w", err)
	}

	if cfg.Server.Proxy == nil {
		cfg.Server.Proxy = defaultProxy
	}

	// options: {} and an absent key are the same descriptor
	for i := range cfg.Plugins {
		if len(cfg.Plugins[i].Options) == 0 {
			cfg.Plugins[i].Options = nil
		}
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Marshal encodes the descriptor as YAML.
func Marshal(cfg Config) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return nil, fmt.Errorf("failed to encode config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("failed to encode config: %w", err)
	}
	return buf.Bytes(), nil
}

// Validate reports every problem with the descriptor at once.
func (c Config) Validate() error {
	var errs []error

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("%w: server.port %d must be between 1 and 65535", ErrInvalidPort, c.Server.Port))
	}
	if c.Server.HMR.ClientPort < 0 || c.Server.HMR.ClientPort > 65535 {
		errs = append(errs, fmt.Errorf("%w: server.hmr.clientPort %d must be between 0 and 65535", ErrInvalidPort, c.Server.HMR.ClientPort))
	}
	if c.Server.Watch.UsePolling && c.Server.Watch.Interval <= 0 {
		errs = append(errs, fmt.Errorf("%w: server.watch.interval must be positive when polling", ErrInvalidWatch))
	}

	for _, prefix := range c.Server.Prefixes() {
		if err := validateProxyRule(prefix, c.Server.Proxy[prefix]); err != nil {
			errs = append(errs, err)
		}
	}

	if !strings.HasPrefix(c.Base, "/") || !strings.HasSuffix(c.Base, "/") {
		errs = append(errs, fmt.Errorf("%w: %q must start and end with /", ErrInvalidBase, c.Base))
	}

	if strings.TrimSpace(c.Build.OutDir) == "" {
		errs = append(errs, fmt.Errorf("%w: build.outDir is required", ErrInvalidBuild))
	}
	if assetsDir := filepath.Clean(c.Build.AssetsDir); filepath.IsAbs(assetsDir) || assetsDir == ".." || strings.HasPrefix(assetsDir, ".."+string(filepath.Separator)) {
		errs = append(errs, fmt.Errorf("%w: build.assetsDir %q must be relative to outDir", ErrInvalidBuild, c.Build.AssetsDir))
	}

	for i, p := range c.Plugins {
		if strings.TrimSpace(p.Name) == "" {
			errs = append(errs, fmt.Errorf("%w: plugins[%d] has no name", ErrInvalidPlugin, i))
		}
	}

	if c.Server.LogLevel != "" {
		if _, err := parseLevel(c.Server.LogLevel); err != nil {
			errs = append(errs, fmt.Errorf("%w: %q", ErrInvalidLogLevel, c.Server.LogLevel))
		}
	}

	return errors.Join(errs...)
}

func validateProxyRule(prefix string, rule ProxyRule) error {
	if !strings.HasPrefix(prefix, "/") {
		return fmt.Errorf("%w: prefix %q must start with /", ErrInvalidProxyRule, prefix)
	}

	u, err := url.Parse(rule.Target)
	if err != nil {
		return fmt.Errorf("%w: %s target %q: %w", ErrInvalidProxyRule, prefix, rule.Target, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: %s target %q must be an absolute http(s) URL", ErrInvalidProxyRule, prefix, rule.Target)
	}

	if _, err := rule.Rewriter(); err != nil {
		return fmt.Errorf("%s: %w", prefix, err)
	}

	return nil
}
