package hexconfig

import (
	"io/ioutil"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"
)

func TestLoadFallsBackToDefaultWhenNoFile(t *testing.T) {
	viper.Reset()
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	require.NoError(t, err)
	require.Equal(t, Default(), cfg)
}

func TestLoadParsesManifest(t *testing.T) {
	viper.Reset()
	dir := t.TempDir()
	path := filepath.Join(dir, "hexahedron.toml")
	contents := `
	[[block-device]]
	name = "nvme0"
	transport = "nvme"
	bus-addr = "0:4"

	[[mount]]
	source = "nvme0:2048"
	target = "/"
	filesystem = "ext2"

	[compositor]
	socket-path = "/comm/wndsrv"
	screen-width = 1280
	screen-height = 720
	`
	require.NoError(t, ioutil.WriteFile(path, []byte(contents), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Len(t, cfg.BlockDevices, 1)
	require.Equal(t, "nvme0", cfg.BlockDevices[0].Name)
	require.Equal(t, int32(1280), cfg.Compositor.ScreenW)
}
