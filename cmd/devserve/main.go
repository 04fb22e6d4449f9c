package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/wolfeidau/devserve/cmd/devserve/internal/commands"
)

var (
	version = "dev"
	cli     struct {
		Debug   bool               `help:"Enable debug mode."`
		Config  string             `help:"Path to the devserve YAML config." type:"path" env:"DEVSERVE_CONFIG" short:"c"`
		Version kong.VersionFlag   `help:"Print version and exit."`
		Serve   commands.ServeCmd  `cmd:"" default:"withargs" help:"Build, watch and serve the project"`
		Build   commands.BuildCmd  `cmd:"" help:"Build the project for production"`
		Show    commands.ConfigCmd `cmd:"" name:"config" help:"Print the resolved configuration"`
	}
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := kong.Parse(&cli,
		kong.Name("devserve"),
		kong.Description("Dev server and bundler for front-end projects."),
		kong.Vars{
			"version": version,
		},
		kong.BindTo(ctx, (*context.Context)(nil)))
	err := cmd.Run(&commands.Globals{Debug: cli.Debug, Version: version, Config: cli.Config})
	cmd.FatalIfErrorf(err)
}
