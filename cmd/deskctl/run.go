package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/srg/deskctl/internal/config"
	"github.com/srg/deskctl/internal/desk"
	"github.com/srg/deskctl/internal/refresher"
	"github.com/srg/deskctl/internal/transport"
)

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a long-lived desk session",
	Long: `Run a persistent session against the desk from the config file: connect,
wait for telemetry, then keep the reading fresh with periodic refreshes.
The link is dropped while idle and reconnected on demand, so the desk's
single connection slot stays available for its paddle.

SIGHUP reloads the session; SIGINT and SIGTERM shut it down cleanly.

Example:
  deskctl run --config deskctl.yaml`,
	RunE: runRun,
}

var runConfigPath string

func init() {
	runCmd.Flags().StringVarP(&runConfigPath, "config", "c", "deskctl.yaml", "Path to the config file")
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(runConfigPath)
	if err != nil {
		return err
	}

	logger, err := configureLogger(cmd)
	if err != nil {
		return err
	}
	// The run command is a daemon; keep operational logging on unless the
	// user picked a level explicitly.
	if logLevelStr, _ := cmd.Flags().GetString("log-level"); logLevelStr == "" {
		if verbose, _ := cmd.Flags().GetBool("verbose"); !verbose {
			logger.SetLevel(logrus.InfoLevel)
		}
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	connectOpts := transport.DefaultConnectOptions()
	connectOpts.ConnectTimeout = cfg.ConnectTimeout
	connector := transport.NewBLEConnector(logger, connectOpts)

	sessionOpts := desk.DefaultOptions()
	sessionOpts.IdleDelay = cfg.IdleDelay
	session := desk.New(cfg.Address, cfg.Name, connector, logger, sessionOpts)

	r := refresher.New(session, logger, &refresher.Options{
		Interval:     cfg.RefreshInterval,
		ReadyTimeout: cfg.ReadyTimeout,
	})

	ctx, stop := signalContext()
	defer stop()

	if err := r.Start(ctx); err != nil {
		_ = r.Stop()
		return err
	}
	defer func() {
		_ = r.Stop()
	}()

	reload := make(chan os.Signal, 1)
	signal.Notify(reload, syscall.SIGHUP)
	defer signal.Stop(reload)

	for {
		select {
		case <-ctx.Done():
			logger.Info("Shutting down")
			return nil
		case <-reload:
			if err := r.Reload(context.Background()); err != nil {
				logger.WithError(err).Error("Reload failed")
			}
		case event := <-r.Events():
			switch event.Type {
			case refresher.EventTelemetry:
				logger.WithFields(logrus.Fields{
					"height_cm": event.Telemetry.Height + cfg.BaseHeightCM,
					"percent":   event.Telemetry.Height / cfg.MovementRangeCM * 100,
					"speed_m_s": event.Telemetry.Speed,
				}).Info("Telemetry")
			case refresher.EventRefreshFailed:
				logger.WithError(event.Err).Warn("Refresh failed, will retry")
			}
		}
	}
}
