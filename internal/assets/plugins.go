package assets

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/evanw/esbuild/pkg/api"
	"github.com/wolfeidau/devserve/internal/devconfig"
)

// PluginFactory builds an esbuild plugin from a plugin directive.
type PluginFactory func(ctx context.Context, root string, directive devconfig.Plugin) (api.Plugin, error)

// Registry maps plugin directive names to their implementations.
type Registry map[string]PluginFactory

// DefaultRegistry returns the built in plugins.
func DefaultRegistry() Registry {
	return Registry{
		"svelte": SveltePlugin,
	}
}

// Resolve turns the descriptor's ordered plugin list into esbuild plugins, preserving order.
func (r Registry) Resolve(ctx context.Context, root string, directives []devconfig.Plugin) ([]api.Plugin, error) {
	plugins := make([]api.Plugin, 0, len(directives))
	for _, d := range directives {
		factory, ok := r[d.Name]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownPlugin, d.Name)
		}
		plugin, err := factory(ctx, root, d)
		if err != nil {
			return nil, fmt.Errorf("failed to configure plugin %s: %w", d.Name, err)
		}
		plugins = append(plugins, plugin)
	}
	return plugins, nil
}

// SveltePlugin compiles .svelte components by running an external compiler.
//
// Options:
//   - command: compiler command line, the component path is appended as the last
//     argument and compiled JavaScript is read from stdout
//   - filter: file pattern handled by the plugin, defaults to \.svelte$
//
// Without a command the plugin still claims .svelte files so the build fails with
// a message pointing at the missing option instead of an esbuild loader error.
func SveltePlugin(ctx context.Context, root string, directive devconfig.Plugin) (api.Plugin, error) {
	filter := directive.Options["filter"]
	if filter == "" {
		filter = `\.svelte$`
	}
	command := strings.Fields(directive.Options["command"])

	return api.Plugin{
		Name: "svelte",
		Setup: func(build api.PluginBuild) {
			build.OnLoad(api.OnLoadOptions{Filter: filter}, func(args api.OnLoadArgs) (api.OnLoadResult, error) {
				if len(command) == 0 {
					return api.OnLoadResult{}, fmt.Errorf("no compiler configured for %s, set plugins[].options.command", args.Path)
				}

				js, err := runCompiler(ctx, root, command, args.Path)
				if err != nil {
					return api.OnLoadResult{}, err
				}

				return api.OnLoadResult{
					Contents:   &js,
					Loader:     api.LoaderJS,
					ResolveDir: filepath.Dir(args.Path),
				}, nil
			})
		},
	}, nil
}

func runCompiler(ctx context.Context, root string, command []string, path string) (string, error) {
	args := append(command[1:len(command):len(command)], path)

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, command[0], args...) //nolint:gosec
	cmd.Dir = root
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("compile %s: %w: %s", path, err, strings.TrimSpace(stderr.String()))
	}

	return stdout.String(), nil
}
