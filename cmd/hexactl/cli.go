package main

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ethereal-os/devicecore/pkg/elog"
)

var log elog.View

var (
	flagJSON bool
	flagVerbose bool
	flagDebug bool
	flagConfig string
)

var rootCmd = &cobra.Command{
	Use: "hexactl",
	Short: "Hexahedron device core command-line interface",
	Long: `hexactl brings up and exercises the Hexahedron/Ethereal device I/O
	core outside the kernel: bus enumeration, block/USB transport, filesystem
	mounting, the input aggregator and the Celestial window compositor.`,
}

var versionCmd = &cobra.Command{
	Use: "version",
	Short: "view CLI version information",
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("Version: %s\nRef: %s\n", release, commit)
	},
}

func commandInit() {
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVarP(&flagDebug, "debug", "d", false, "enable debug output")
	rootCmd.PersistentFlags().BoolVarP(&flagJSON, "json", "j", false, "enable json output")
	rootCmd.PersistentFlags().StringVarP(&flagConfig, "config", "c", "", "path to hexahedron.toml")

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		logger := &elog.CLI{}
		if flagJSON {
			logrus.SetFormatter(&logrus.JSONFormatter{})
		} else {
			logrus.SetFormatter(logger)
		}
		logrus.SetLevel(logrus.TraceLevel)
		if flagDebug {
			logger.IsDebug = true
			logger.IsVerbose = true
		} else if flagVerbose {
			logger.IsVerbose = true
		}
		log = logger
		return nil
	}

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(wndsrvCmd)
	rootCmd.AddCommand(mountCmd)
	rootCmd.AddCommand(probeCmd)
}
