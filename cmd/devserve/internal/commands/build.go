package commands

import (
	"context"
	"fmt"
)

type BuildCmd struct{}

func (c *BuildCmd) Run(ctx context.Context, globals *Globals) error {
	cfg, err := globals.load()
	if err != nil {
		return err
	}

	log := globals.logger(cfg)
	ctx = log.WithContext(ctx)

	pipeline, err := newPipeline(ctx, cfg, false)
	if err != nil {
		return err
	}
	defer pipeline.Close()

	result, err := pipeline.Build(ctx)
	if err != nil {
		return fmt.Errorf("failed to build assets: %w", err)
	}

	index, err := pipeline.WriteIndex("")
	if err != nil {
		return err
	}

	for _, e := range result.Entries {
		log.Info().Str("entry", e.Source).Str("script", e.Script).Strs("styles", e.Styles).Msg("Entry point")
	}
	log.Info().Str("outDir", pipeline.Config().OutputDir).Str("index", index).Dur("duration", result.Duration).Msg("Build complete")

	return nil
}
