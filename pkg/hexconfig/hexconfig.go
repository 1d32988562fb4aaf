// Package hexconfig loads the hexahedron.toml manifest describing which
// virtual devices this process should bring up: the block devices to
// probe, which USB host controllers to initialize, the filesystems to
// mount, and the Celestial socket path. It follows the same
// viper-plus-sisatech/toml config-loading idiom as pkg/vconvert's
// config.go: viper resolves the file, toml.Unmarshal decodes it into a
// typed struct, and a built-in default is used when no file is found.
package hexconfig

import (
	"io/ioutil"
	"strings"

	"github.com/mitchellh/go-homedir"
	"github.com/sisatech/toml"
	"github.com/spf13/viper"
)

const configFileName = "hexahedron.toml"

// BlockDeviceConfig names one block device the bus substrate should probe
// at boot, by transport and bus address.
type BlockDeviceConfig struct {
	Name string `toml:"name"`
	Transport string `toml:"transport"` // "ata" or "nvme"
	BusAddr string `toml:"bus-addr"`
}

// USBControllerConfig names one host controller to initialize.
type USBControllerConfig struct {
	Name string `toml:"name"`
	Kind string `toml:"kind"` // "ehci" or "xhci"
}

// MountConfig names a filesystem to mount at boot.
type MountConfig struct {
	Source string `toml:"source"` // block device name + partition LBA, "nvme0:2048"
	Target string `toml:"target"`
	Filesystem string `toml:"filesystem"` // "ext2" or "vfat"
}

// CompositorConfig configures the Celestial window compositor.
type CompositorConfig struct {
	SocketPath string `toml:"socket-path"`
	ScreenW int32 `toml:"screen-width"`
	ScreenH int32 `toml:"screen-height"`
}

// Config is the full hexahedron.toml manifest.
type Config struct {
	BlockDevices []BlockDeviceConfig `toml:"block-device"`
	USB []USBControllerConfig `toml:"usb-controller"`
	Mounts []MountConfig `toml:"mount"`
	Compositor CompositorConfig `toml:"compositor"`
}

// Default returns the manifest hexactl runs with when no hexahedron.toml
// is found: a single simulated ATA boot disk mounted ext2 at /, and the
// compositor listening on well-known socket path.
func Default() Config {
	return Config{
		BlockDevices: []BlockDeviceConfig{
			{Name: "ata0", Transport: "ata", BusAddr: "0:0"},
		},
		Mounts: []MountConfig{
			{Source: "ata0:0", Target: "/", Filesystem: "ext2"},
		},
		Compositor: CompositorConfig{
			SocketPath: "/comm/wndsrv",
			ScreenW: 1024,
			ScreenH: 768,
		},
	}
}

// Load reads hexahedron.toml from cfgFile, or from $HOME if cfgFile is
// empty, falling back to Default() when no file is found — the same
// resolution order as pkg/vconvert initConfig.
func Load(cfgFile string) (Config, error) {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else if home, err := homedir.Dir(); err == nil {
		viper.AddConfigPath(home)
		// viper appends each supported extension to the config name itself.
		viper.SetConfigName(strings.TrimSuffix(configFileName, ".toml"))
	}

	if err := viper.ReadInConfig(); err != nil {
		return Default(), nil
	}

	data, err := readConfigFileBytes()
	if err != nil {
		return Default(), nil
	}

	cfg := Default()
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// readConfigFileBytes re-reads the file viper resolved, since viper's own
// decode path targets its internal map rather than a typed toml struct;
// sisatech/toml gives us the exact field tags vcfg-derived
// structs use elsewhere in this tree.
func readConfigFileBytes() ([]byte, error) {
	return ioutil.ReadFile(viper.ConfigFileUsed())
}
