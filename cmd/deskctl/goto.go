package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/srg/deskctl/internal/desk"
	"github.com/srg/deskctl/internal/protocol"
)

// gotoCmd represents the goto command
var gotoCmd = &cobra.Command{
	Use:   "goto <address> <height-cm>",
	Short: "Move the desk to an exact height",
	Long: `Move the desk to the given floor-to-desktop height in centimeters and
stop once it arrives (or hits an obstruction).

With --relative the height is measured from the desk's lowest position
instead of the floor.

Examples:
  deskctl goto EC:5B:36:01:02:03 120.5
  deskctl goto EC:5B:36:01:02:03 58.5 --relative`,
	Args: cobra.ExactArgs(2),
	RunE: runGoto,
}

var gotoRelative bool

func init() {
	gotoCmd.Flags().BoolVar(&gotoRelative, "relative", false, "Treat height as centimeters above the lowest position")
}

func runGoto(cmd *cobra.Command, args []string) error {
	height, err := strconv.ParseFloat(args[1], 64)
	if err != nil {
		return fmt.Errorf("invalid height '%s': %w", args[1], err)
	}

	target := height
	if !gotoRelative {
		target = height - protocol.BaseHeightCM
	}
	if target < 0 || target > protocol.MovementRangeCM {
		return &protocol.TargetOutOfRangeError{TargetCM: target}
	}

	return withSession(cmd, args[0], func(ctx context.Context, session *desk.Session, logger *logrus.Logger) error {
		if err := connectWithProgress(ctx, session); err != nil {
			return err
		}

		moveCtx, cancel := context.WithTimeout(ctx, moveDeadline)
		defer cancel()

		progress := NewProgressPrinter(fmt.Sprintf("Moving to %.1f cm", height), "Moving")
		progress.Start()
		defer progress.Stop()

		if err := session.MoveTo(moveCtx, target); err != nil {
			return err
		}
		progress.Stop()

		fmt.Printf("Desk at %.1f cm\n", session.Telemetry().AbsoluteHeight())
		return nil
	})
}
