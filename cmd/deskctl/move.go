package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/srg/deskctl/internal/desk"
)

// upCmd represents the up command
var upCmd = &cobra.Command{
	Use:   "up <address>",
	Short: "Drive the desk up until interrupted",
	Long: `Drive the desk upward. The desk only moves while the command keeps
running; press Ctrl+C to stop.

Example:
  deskctl up EC:5B:36:01:02:03`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDirectional(cmd, args[0], "up")
	},
}

// downCmd represents the down command
var downCmd = &cobra.Command{
	Use:   "down <address>",
	Short: "Drive the desk down until interrupted",
	Long: `Drive the desk downward. The desk only moves while the command keeps
running; press Ctrl+C to stop.

Example:
  deskctl down EC:5B:36:01:02:03`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDirectional(cmd, args[0], "down")
	},
}

// stopCmd represents the stop command
var stopCmd = &cobra.Command{
	Use:   "stop <address>",
	Short: "Stop any desk movement",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd, args[0], func(ctx context.Context, session *desk.Session, logger *logrus.Logger) error {
			if err := session.MoveStop(ctx); err != nil {
				return err
			}
			fmt.Println("Desk stopped")
			return nil
		})
	},
}

func runDirectional(cmd *cobra.Command, address, direction string) error {
	return withSession(cmd, address, func(ctx context.Context, session *desk.Session, logger *logrus.Logger) error {
		if err := connectWithProgress(ctx, session); err != nil {
			return err
		}
		fmt.Printf("Moving %s - press Ctrl+C to stop\n", direction)

		var err error
		if direction == "up" {
			err = session.MoveUp(ctx)
		} else {
			err = session.MoveDown(ctx)
		}

		if errors.Is(err, context.Canceled) {
			// The signal context is gone; stop on a fresh one.
			stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if stopErr := session.MoveStop(stopCtx); stopErr != nil {
				return stopErr
			}
			fmt.Printf("\nStopped at %.1f cm\n", session.Telemetry().AbsoluteHeight())
			return nil
		}
		return err
	})
}
