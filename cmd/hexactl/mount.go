package main

import (
	"fmt"

	"github.com/sisatech/tablewriter"
	"github.com/spf13/cobra"

	"github.com/ethereal-os/devicecore/pkg/vfs"

	_ "github.com/ethereal-os/devicecore/pkg/ext2" // self-registers "ext2"
	_ "github.com/ethereal-os/devicecore/pkg/fat" // self-registers "vfat"
)

var flagFilesystem string
var flagPartLBA uint64

var mountCmd = &cobra.Command{
	Use: "mount <image> <path>",
	Short: "mount a disk image through the VFS gateway and list a directory",
	Long: `mount opens a raw disk image file, mounts it through the named
	filesystem driver's vfs.MountFunc, and lists the requested path — a
	command-line exercise of the vfs mount registry.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		dev, err := openFileBlockDevice(args[0])
		if err != nil {
			return err
		}
		defer dev.Close()

		registry := vfs.NewMountRegistry()
		if err := registry.Mount(flagFilesystem, "/", dev, flagPartLBA); err != nil {
			return err
		}

		node, err := registry.Lookup(args[1])
		if err != nil {
			return err
		}
		entries, err := node.Readdir()
		if err != nil {
			return err
		}

		table := tablewriter.NewWriter(cmd.OutOrStdout())
		table.SetHeader([]string{"name", "kind"})
		for _, e := range entries {
			table.Append([]string{e.Name, fmt.Sprintf("%v", e.Kind)})
		}
		table.Render()
		return nil
	},
}

func init() {
	mountCmd.Flags().StringVarP(&flagFilesystem, "filesystem", "f", "ext2", "filesystem driver to mount (ext2, vfat)")
	mountCmd.Flags().Uint64VarP(&flagPartLBA, "partition-lba", "p", 0, "starting LBA of the target partition")
}
