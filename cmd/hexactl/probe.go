package main

import (
	"github.com/sisatech/tablewriter"
	"github.com/spf13/cobra"

	"github.com/ethereal-os/devicecore/pkg/hexconfig"
)

var probeCmd = &cobra.Command{
	Use: "probe",
	Short: "list the devices and mounts named in hexahedron.toml",
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := hexconfig.Load(flagConfig)
		if err != nil {
			return err
		}

		devTable := tablewriter.NewWriter(cmd.OutOrStdout())
		devTable.SetHeader([]string{"block device", "transport", "bus addr"})
		for _, d := range cfg.BlockDevices {
			devTable.Append([]string{d.Name, d.Transport, d.BusAddr})
		}
		devTable.Render()

		usbTable := tablewriter.NewWriter(cmd.OutOrStdout())
		usbTable.SetHeader([]string{"usb controller", "kind"})
		for _, u := range cfg.USB {
			usbTable.Append([]string{u.Name, u.Kind})
		}
		usbTable.Render()

		mountTable := tablewriter.NewWriter(cmd.OutOrStdout())
		mountTable.SetHeader([]string{"source", "target", "filesystem"})
		for _, m := range cfg.Mounts {
			mountTable.Append([]string{m.Source, m.Target, m.Filesystem})
		}
		mountTable.Render()

		return nil
	},
}
