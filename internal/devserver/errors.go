package devserver

import "errors"

var (
	// ErrMiddlewareMode indicates Run was called on a server configured for embedding
	ErrMiddlewareMode = errors.New("middleware mode: mount Handler() instead of calling Run")
	// ErrTargetUnreachable indicates a proxy target never answered the startup probe
	ErrTargetUnreachable = errors.New("proxy target unreachable")
)
