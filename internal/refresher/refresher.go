// Package refresher keeps a desk session fresh for long-lived hosts: an
// immediate first refresh gated on telemetry readiness, then a periodic
// re-read with failures surfaced as events rather than aborting the loop.
package refresher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/srg/deskctl/internal/desk"
	"github.com/srg/deskctl/internal/groutine"
	"github.com/srg/deskctl/internal/protocol"
	"github.com/srg/deskctl/internal/ringchan"
)

// ErrNotReady reports that no telemetry arrived within the readiness window
// after the first refresh.
var ErrNotReady = errors.New("desk produced no telemetry within the readiness window")

// DeskSession is the slice of the desk session the refresher drives.
type DeskSession interface {
	Name() string
	Update(ctx context.Context) error
	RegisterCallback(cb desk.Callback) (unregister func())
	Disconnect(expected bool) error
	Stop() error
}

// EventType classifies refresher events.
type EventType int

const (
	// EventTelemetry carries a fresh telemetry snapshot.
	EventTelemetry EventType = iota
	// EventRefreshFailed reports a failed periodic refresh; the next tick
	// retries.
	EventRefreshFailed
)

type Event struct {
	Type      EventType
	Telemetry protocol.Telemetry
	Err       error
}

// Options tunes refresh timing.
type Options struct {
	Interval     time.Duration // periodic refresh cadence
	ReadyTimeout time.Duration // max wait for first telemetry after Start
}

// DefaultOptions returns the production refresh timing.
func DefaultOptions() *Options {
	return &Options{
		Interval:     60 * time.Second,
		ReadyTimeout: 30 * time.Second,
	}
}

// Refresher wraps a session with a periodic refresh loop and an event
// channel. Events use an overwrite-oldest ring so a slow consumer never
// blocks the refresh path.
type Refresher struct {
	session DeskSession
	logger  *logrus.Logger
	opts    *Options
	events  *ringchan.RingChannel[Event]

	mu         sync.Mutex
	cancel     context.CancelFunc
	unregister func()
	ready      chan struct{} // open while awaiting first telemetry, nil once seen
	listeners  []func()
}

// New creates a refresher for the session. A nil opts selects DefaultOptions.
func New(session DeskSession, logger *logrus.Logger, opts *Options) *Refresher {
	if logger == nil {
		logger = logrus.New()
	}
	if opts == nil {
		opts = DefaultOptions()
	}
	return &Refresher{
		session: session,
		logger:  logger,
		opts:    opts,
		events:  ringchan.New[Event](64),
	}
}

// Events returns the refresher's event stream.
func (r *Refresher) Events() <-chan Event {
	return r.events.C()
}

// OnOptionsChange registers a listener invoked whenever Reload runs.
func (r *Refresher) OnOptionsChange(fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, fn)
}

// Start performs the first refresh, waits for telemetry readiness, then
// launches the periodic refresh goroutine. It returns ErrNotReady when no
// telemetry arrives within the readiness window.
func (r *Refresher) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.cancel != nil {
		r.mu.Unlock()
		return fmt.Errorf("refresher already started")
	}
	r.ready = make(chan struct{})
	r.unregister = r.session.RegisterCallback(r.handleTelemetry)

	loopCtx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.mu.Unlock()

	if err := r.refreshOnce(ctx); err != nil {
		r.teardownLoop()
		return fmt.Errorf("first refresh failed: %w", err)
	}
	if err := r.awaitReady(ctx); err != nil {
		r.teardownLoop()
		return err
	}

	groutine.Go(loopCtx, "desk-refresh", func(ctx context.Context) {
		r.refreshLoop(ctx)
	})

	r.logger.WithFields(logrus.Fields{
		"device":   r.session.Name(),
		"interval": r.opts.Interval,
	}).Info("Desk refresher started")
	return nil
}

// Reload notifies options listeners, drops the current link, and re-runs the
// first-refresh and readiness sequence over the running loop.
func (r *Refresher) Reload(ctx context.Context) error {
	r.mu.Lock()
	listeners := append(([]func())(nil), r.listeners...)
	started := r.cancel != nil
	if started {
		r.ready = make(chan struct{})
	}
	r.mu.Unlock()

	if !started {
		return fmt.Errorf("refresher not started")
	}

	for _, fn := range listeners {
		fn()
	}

	r.logger.WithField("device", r.session.Name()).Info("Reloading desk session")
	if err := r.session.Disconnect(true); err != nil {
		r.logger.WithError(err).WithField("device", r.session.Name()).Warn("Disconnect during reload failed")
	}

	if err := r.refreshOnce(ctx); err != nil {
		return fmt.Errorf("refresh after reload failed: %w", err)
	}
	return r.awaitReady(ctx)
}

// Stop halts the refresh loop and shuts the session down.
func (r *Refresher) Stop() error {
	r.teardownLoop()
	return r.session.Stop()
}

func (r *Refresher) teardownLoop() {
	r.mu.Lock()
	cancel := r.cancel
	unregister := r.unregister
	r.cancel = nil
	r.unregister = nil
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if unregister != nil {
		unregister()
	}
}

func (r *Refresher) handleTelemetry(telemetry protocol.Telemetry) {
	r.mu.Lock()
	if r.ready != nil {
		close(r.ready)
		r.ready = nil
	}
	r.mu.Unlock()

	r.events.ForceSend(Event{Type: EventTelemetry, Telemetry: telemetry})
}

func (r *Refresher) refreshOnce(ctx context.Context) error {
	if err := r.session.Update(ctx); err != nil {
		r.logger.WithError(err).WithField("device", r.session.Name()).Warn("Desk refresh failed")
		r.events.ForceSend(Event{Type: EventRefreshFailed, Err: err})
		return err
	}
	return nil
}

func (r *Refresher) awaitReady(ctx context.Context) error {
	r.mu.Lock()
	ready := r.ready
	r.mu.Unlock()
	if ready == nil {
		return nil
	}

	timer := time.NewTimer(r.opts.ReadyTimeout)
	defer timer.Stop()

	select {
	case <-ready:
		return nil
	case <-timer.C:
		return ErrNotReady
	case <-ctx.Done():
		return ctx.Err()
	}
}

// refreshLoop re-reads telemetry on the configured cadence until the context
// is cancelled. A failed refresh is reported and retried on the next tick.
func (r *Refresher) refreshLoop(ctx context.Context) {
	ticker := time.NewTicker(r.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.refreshOnce(ctx); err != nil {
				continue
			}
		}
	}
}
