package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/srg/deskctl/internal/desk"
	"github.com/srg/deskctl/internal/transport"
)

// withSession configures logging, builds a desk session for the address, and
// runs fn with it. The session is stopped on the way out regardless of fn's
// outcome.
func withSession(cmd *cobra.Command, address string, fn func(ctx context.Context, session *desk.Session, logger *logrus.Logger) error) error {
	logger, err := configureLogger(cmd)
	if err != nil {
		return err
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	connector := transport.NewBLEConnector(logger, nil)
	session := desk.New(address, "", connector, logger, nil)
	defer func() {
		_ = session.Stop()
	}()

	ctx, stop := signalContext()
	defer stop()

	return fn(ctx, session, logger)
}

// signalContext returns a context cancelled by SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// connectWithProgress runs EnsureConnected behind a progress line so slow
// connects do not look like a hang.
func connectWithProgress(ctx context.Context, session *desk.Session) error {
	progress := NewProgressPrinter("Connecting to "+session.Name(), "Connecting", "Connected")
	progress.Start()
	defer progress.Stop()

	err := session.EnsureConnected(ctx)
	if err == nil {
		progress.Callback()("Connected")
	}
	return err
}

// moveDeadline bounds unattended moves; goto stops on its own, but a desk
// that never reports zero speed should not hold the session forever.
const moveDeadline = 2 * time.Minute
