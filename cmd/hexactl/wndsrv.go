package main

import (
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ethereal-os/devicecore/pkg/compositor"
	"github.com/ethereal-os/devicecore/pkg/hexconfig"
	"github.com/ethereal-os/devicecore/pkg/input"
)

const frameInterval = time.Second / 60

var wndsrvCmd = &cobra.Command{
	Use: "wndsrv",
	Short: "run the Celestial window compositor server",
	Long: `wndsrv brings up the Celestial compositor: it listens on the
	configured SOCK_SEQPACKET path, aggregates PS/2 input, and runs the
	single-threaded cooperative frame loop of until interrupted.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := hexconfig.Load(flagConfig)
		if err != nil {
			return err
		}

		comp := compositor.New(cfg.Compositor.ScreenW, cfg.Compositor.ScreenH, logrus.StandardLogger())
		srv, err := compositor.Listen(cfg.Compositor.SocketPath, comp, logrus.StandardLogger())
		if err != nil {
			return err
		}
		defer srv.Close()

		// A real boot wires these to the PS/2 aggregator driven by IRQ
		// delivery; here they stand in as the channels Tick polls each
		// frame, matching pkg/input.Aggregator's public shape.
		aggregator := input.NewAggregator(input.DeviceMouseStandard)

		log.Infof("wndsrv listening on %s (%dx%d)", cfg.Compositor.SocketPath, cfg.Compositor.ScreenW, cfg.Compositor.ScreenH)

		ticker := time.NewTicker(frameInterval)
		defer ticker.Stop()
		for range ticker.C {
			srv.Tick(aggregator.MouseEvents, aggregator.KeyEvents)
		}
		return nil
	},
}
