package main

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/srg/deskctl/internal/desk"
	"github.com/srg/deskctl/internal/protocol"
)

// monitorCmd represents the monitor command
var monitorCmd = &cobra.Command{
	Use:   "monitor <address>",
	Short: "Stream height changes as they happen",
	Long: `Subscribe to the desk's telemetry notifications and print each change.

The desk only notifies while it moves, so expect output when the desk is
driven from its paddle or another host. Press Ctrl+C to exit.

Example:
  deskctl monitor EC:5B:36:01:02:03`,
	Args: cobra.ExactArgs(1),
	RunE: runMonitor,
}

func runMonitor(cmd *cobra.Command, args []string) error {
	return withSession(cmd, args[0], func(ctx context.Context, session *desk.Session, logger *logrus.Logger) error {
		if err := connectWithProgress(ctx, session); err != nil {
			return err
		}

		unregister := session.RegisterCallback(func(telemetry protocol.Telemetry) {
			fmt.Printf("%s  ", time.Now().Format("15:04:05.000"))
			printTelemetry(session.Name(), telemetry)
		})
		defer unregister()

		// Seed the stream with the current position.
		if err := session.Update(ctx); err != nil {
			return err
		}

		fmt.Println("Monitoring - press Ctrl+C to exit")

		// The session drops idle links; keep reconnecting and re-reading
		// so the subscription survives long quiet stretches.
		ticker := time.NewTicker(60 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				if err := session.Update(ctx); err != nil {
					logger.WithError(err).Warn("Keep-alive refresh failed")
				}
			}
		}
	})
}
