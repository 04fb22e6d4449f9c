package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/wolfeidau/devserve/internal/devconfig"
)

type ConfigCmd struct {
	Format string `help:"output format" default:"yaml" enum:"yaml,json" short:"f"`

	out io.Writer
}

func (c *ConfigCmd) Run(globals *Globals) error {
	cfg, err := globals.load()
	if err != nil {
		return err
	}

	out := c.out
	if out == nil {
		out = os.Stdout
	}

	return writeConfig(out, cfg, c.Format)
}

func writeConfig(w io.Writer, cfg devconfig.Config, format string) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(cfg)
	case "yaml", "":
		data, err := devconfig.Marshal(cfg)
		if err != nil {
			return err
		}
		_, err = w.Write(data)
		return err
	default:
		return fmt.Errorf("unsupported format %q", format)
	}
}
