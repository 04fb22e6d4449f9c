package devconfig

import "errors"

var (
	// ErrInvalidPort indicates a server or HMR port outside 1..65535
	ErrInvalidPort = errors.New("invalid port")
	// ErrInvalidProxyRule indicates a proxy prefix, target or rewrite that cannot be used
	ErrInvalidProxyRule = errors.New("invalid proxy rule")
	// ErrInvalidBase indicates the public base path is not of the form /path/
	ErrInvalidBase = errors.New("invalid base path")
	// ErrInvalidBuild indicates unusable build output settings
	ErrInvalidBuild = errors.New("invalid build options")
	// ErrInvalidPlugin indicates a plugin directive without a name
	ErrInvalidPlugin = errors.New("invalid plugin directive")
	// ErrInvalidLogLevel indicates a log level zerolog does not know
	ErrInvalidLogLevel = errors.New("invalid log level")
	// ErrInvalidWatch indicates a non-positive poll interval with polling enabled
	ErrInvalidWatch = errors.New("invalid watch options")
)
