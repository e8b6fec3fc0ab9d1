package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/srg/deskctl/internal/desk"
	"github.com/srg/deskctl/internal/protocol"
)

// statusCmd represents the status command
var statusCmd = &cobra.Command{
	Use:   "status <address>",
	Short: "Show the desk's current height",
	Long: `Read and display the desk's current position and movement state.

Examples:
  deskctl status EC:5B:36:01:02:03
  deskctl status EC:5B:36:01:02:03 --watch`,
	Args: cobra.ExactArgs(1),
	RunE: runStatus,
}

var (
	statusWatch    bool
	statusInterval time.Duration
)

func init() {
	statusCmd.Flags().BoolVarP(&statusWatch, "watch", "w", false, "Keep printing telemetry as it changes")
	statusCmd.Flags().DurationVar(&statusInterval, "interval", 30*time.Second, "Re-read cadence in watch mode")
}

func runStatus(cmd *cobra.Command, args []string) error {
	return withSession(cmd, args[0], func(ctx context.Context, session *desk.Session, logger *logrus.Logger) error {
		if err := session.Update(ctx); err != nil {
			return err
		}

		printTelemetry(session.Name(), session.Telemetry())
		if !statusWatch {
			return nil
		}

		unregister := session.RegisterCallback(func(telemetry protocol.Telemetry) {
			printTelemetry(session.Name(), telemetry)
		})
		defer unregister()

		// Notifications only arrive while the desk moves; a periodic
		// re-read keeps the link and the reading fresh in between.
		ticker := time.NewTicker(statusInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				if err := session.Update(ctx); err != nil && !errors.Is(err, context.Canceled) {
					logger.WithError(err).Warn("Telemetry refresh failed")
				}
			}
		}
	})
}

var (
	heightColor = color.New(color.FgCyan, color.Bold)
	movingColor = color.New(color.FgYellow)
	idleColor   = color.New(color.FgGreen)
)

func printTelemetry(name string, telemetry protocol.Telemetry) {
	state := idleColor.Sprint("idle")
	if telemetry.Speed != 0 {
		state = movingColor.Sprintf("moving %+.1f mm/s", telemetry.Speed*1000)
	}

	fmt.Printf("%s  %s  (%.0f%% raised, %s)\n",
		name,
		heightColor.Sprintf("%.1f cm", telemetry.AbsoluteHeight()),
		telemetry.PositionPercent(),
		state)
}
