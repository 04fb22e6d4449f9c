package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/wolfeidau/devserve/internal/assets"
	"github.com/wolfeidau/devserve/internal/devconfig"
	"github.com/wolfeidau/devserve/internal/devserver"
	"github.com/wolfeidau/devserve/internal/hmr"
	"github.com/wolfeidau/devserve/internal/telemetry"
)

type ServeCmd struct {
	Host    string `help:"override server.host" env:"DEVSERVE_HOST"`
	Port    int    `help:"override server.port" env:"DEVSERVE_PORT"`
	Open    bool   `help:"open the browser once the server is ready"`
	Tracing bool   `help:"export traces and metrics over OTLP" default:"false" env:"DEVSERVE_TRACING"`
}

func (c *ServeCmd) Run(ctx context.Context, globals *Globals) error {
	cfg, err := globals.load(c.apply)
	if err != nil {
		return err
	}

	log := globals.logger(cfg)
	ctx = log.WithContext(ctx)

	log.Info().Str("version", globals.Version).Bool("debug", globals.Debug).Str("config", globals.Config).Msg("Starting dev server")

	if c.Tracing {
		log.Info().Msg("Tracing is enabled")
		shutdown, err := telemetry.InitTelemetry(ctx, "devserve", globals.Version)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to initialize telemetry, continuing without it")
		} else {
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
				defer cancel()
				if err := shutdown(shutdownCtx); err != nil {
					log.Error().Err(err).Msg("Failed to shutdown telemetry")
				}
			}()
		}
	}

	pipeline, err := newPipeline(ctx, cfg, true)
	if err != nil {
		return err
	}
	defer pipeline.Close()

	hub := hmr.NewHub()
	srv, err := devserver.New(cfg, pipeline, hub, devserver.Options{Logger: log})
	if err != nil {
		return fmt.Errorf("failed to create dev server: %w", err)
	}

	return srv.Run(ctx)
}

func (c *ServeCmd) apply(cfg *devconfig.Config) {
	if c.Host != "" {
		cfg.Server.Host = c.Host
	}
	if c.Port != 0 {
		cfg.Server.Port = c.Port
	}
	if c.Open {
		cfg.Server.Open = true
	}
}

func newPipeline(ctx context.Context, cfg devconfig.Config, dev bool) (*assets.Pipeline, error) {
	pc, err := assets.ConfigFrom(cfg, dev)
	if err != nil {
		return nil, err
	}

	plugins, err := assets.DefaultRegistry().Resolve(ctx, pc.Root, cfg.Plugins)
	if err != nil {
		return nil, err
	}

	return assets.New(pc, plugins), nil
}
