package assets

import "errors"

var (
	// ErrNoEntryPoints indicates none of the configured entry points matched a file
	ErrNoEntryPoints = errors.New("no entry points found")
	// ErrBuildFailed indicates esbuild reported errors
	ErrBuildFailed = errors.New("esbuild failed with errors")
	// ErrNotBuilt indicates metadata was requested before a successful build
	ErrNotBuilt = errors.New("assets not built yet, call Build() first")
	// ErrEntryNotFound indicates the entry point is missing from the build metadata
	ErrEntryNotFound = errors.New("entrypoint not found in metadata")
	// ErrUnknownPlugin indicates a plugin directive without a registered implementation
	ErrUnknownPlugin = errors.New("unknown plugin")
	// ErrUnsafeOutputDir indicates an output directory outside the project root
	ErrUnsafeOutputDir = errors.New("unsafe output directory")
)
