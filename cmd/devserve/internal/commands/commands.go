package commands

import (
	"github.com/rs/zerolog"
	"github.com/wolfeidau/devserve/internal/devconfig"
	"github.com/wolfeidau/devserve/internal/logger"
)

type Globals struct {
	Debug   bool
	Version string
	// Path to the config file, empty uses the built in defaults
	Config  string
}

// load reads the descriptor once for the lifetime of the command.
func (g *Globals) load(overrides ...func(*devconfig.Config)) (devconfig.Config, error) {
	cfg, err := devconfig.Load(g.Config)
	if err != nil {
		return devconfig.Config{}, err
	}
	if len(overrides) == 0 {
		return cfg, nil
	}

	for _, fn := range overrides {
		fn(&cfg)
	}
	return cfg, cfg.Validate()
}

func (g *Globals) logger(cfg devconfig.Config) zerolog.Logger {
	return logger.Setup(cfg.Level(), g.Debug)
}
