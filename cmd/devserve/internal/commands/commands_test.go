package commands

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
	"github.com/wolfeidau/devserve/internal/devconfig"
)

func TestConfigCmd_roundTrip(t *testing.T) {
	for _, format := range []string{"yaml", "json"} {
		t.Run(format, func(t *testing.T) {
			var buf bytes.Buffer
			cmd := &ConfigCmd{Format: format, out: &buf}
			require.NoError(t, cmd.Run(&Globals{}))

			path := filepath.Join(t.TempDir(), "devserve."+format)
			require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o600))

			cfg, err := devconfig.Load(path)
			require.NoError(t, err)
			// the default "." root resolves against the file's directory
			require.Equal(t, filepath.Dir(path), cfg.Root)

			want := devconfig.Default()
			want.Root = cfg.Root
			require.Empty(t, cmp.Diff(want, cfg))
		})
	}
}

func TestServeCmd_overrides(t *testing.T) {
	cmd := &ServeCmd{Host: "127.0.0.1", Port: 9000, Open: true}

	cfg, err := (&Globals{}).load(cmd.apply)
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1:9000", cfg.Addr())
	require.True(t, cfg.Server.Open)

	_, err = (&Globals{}).load((&ServeCmd{Port: 70000}).apply)
	require.ErrorIs(t, err, devconfig.ErrInvalidPort)
}

func TestBuildCmd(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "src"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "src", "main.js"), []byte("console.log('hi')\n"), 0o600))

	config := filepath.Join(root, "devserve.yaml")
	require.NoError(t, os.WriteFile(config, []byte("root: "+root+"\nplugins: []\n"), 0o600))

	require.NoError(t, (&BuildCmd{}).Run(context.Background(), &Globals{Config: config}))

	_, err := os.Stat(filepath.Join(root, "dist", "index.html"))
	require.NoError(t, err)
	matches, err := filepath.Glob(filepath.Join(root, "dist", "assets", "main-*.js"))
	require.NoError(t, err)
	require.Len(t, matches, 1)
}
