package desk

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/srg/deskctl/internal/protocol"
	"github.com/srg/deskctl/internal/transport"
)

// MoveStop halts any in-flight motion. It sets the stop flag, waits on the
// move guard until the active loop has observed the flag and exited, then
// writes the STOP and reference-input STOP opcodes. Every other motion
// command runs this as its prologue, so two loops can never overlap.
func (s *Session) MoveStop(ctx context.Context) error {
	s.stopRequested.Store(true)
	s.moveMu.Lock()
	defer s.moveMu.Unlock()
	s.stopRequested.Store(false)

	if err := s.EnsureConnected(ctx); err != nil {
		return err
	}
	if err := s.writeCommand(ctx, channelCommand, protocol.CommandStop); err != nil {
		return err
	}
	return s.writeCommand(ctx, channelReference, protocol.CommandReferenceInputStop)
}

// MoveUp drives the desk up until MoveStop is called.
func (s *Session) MoveUp(ctx context.Context) error {
	return s.moveDirectional(ctx, protocol.CommandUp, "up")
}

// MoveDown drives the desk down until MoveStop is called.
func (s *Session) MoveDown(ctx context.Context) error {
	return s.moveDirectional(ctx, protocol.CommandDown, "down")
}

// moveDirectional repeats a fire-and-forget directional write on the fixed
// cadence the firmware accepts. The desk keeps moving only as long as the
// command keeps arriving, so there is no arrival condition here; the loop
// runs until the stop flag is set or a write fails.
func (s *Session) moveDirectional(ctx context.Context, command []byte, direction string) error {
	if err := s.MoveStop(ctx); err != nil {
		return err
	}

	s.moveMu.Lock()
	defer s.moveMu.Unlock()

	s.logger.WithFields(logrus.Fields{
		"device":    s.Name(),
		"direction": direction,
	}).Debug("Starting motion loop")

	for !s.stopRequested.Load() {
		if err := s.writeCommand(ctx, channelCommand, command); err != nil {
			return err
		}
		if err := s.sleepInterval(ctx); err != nil {
			return err
		}
	}
	return nil
}

// MoveTo drives the desk toward targetCM by repeatedly writing the encoded
// target to the reference-input endpoint. Writes carry no acknowledgment, so
// the only liveness signal is telemetry: zero speed after a write means the
// desk arrived or hit an obstruction, and the loop exits.
func (s *Session) MoveTo(ctx context.Context, targetCM float64) error {
	// Validate before any write is attempted.
	payload, err := protocol.EncodeTarget(targetCM)
	if err != nil {
		return err
	}

	if err := s.MoveStop(ctx); err != nil {
		return err
	}

	s.moveMu.Lock()
	defer s.moveMu.Unlock()

	s.logger.WithFields(logrus.Fields{
		"device": s.Name(),
		"target": targetCM,
	}).Debug("Starting move-to loop")

	for !s.stopRequested.Load() {
		if err := s.writeCommand(ctx, channelReference, payload); err != nil {
			return err
		}
		if err := s.sleepInterval(ctx); err != nil {
			return err
		}
		if s.Speed() == 0 {
			break
		}
	}
	return nil
}

func (s *Session) sleepInterval(ctx context.Context) error {
	timer := time.NewTimer(s.opts.MoveInterval)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// writeChannel selects which resolved endpoint a motion write addresses.
type writeChannel int

const (
	channelCommand writeChannel = iota
	channelReference
)

// writeTarget snapshots the link together with the endpoint resolved for
// the channel, so a write never pairs a live link with endpoints from a
// previous connection.
func (s *Session) writeTarget(channel writeChannel) (transport.Link, string) {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	endpoint := s.writeEndpoint
	if channel == channelReference {
		endpoint = s.referenceEndpoint
	}
	return s.link, endpoint
}

// writeCommand performs one fire-and-forget write to a resolved endpoint.
// A dropped link forces a reconnect (and re-resolution) first. Failures are
// not retried here: they propagate out of the motion loop and the caller
// re-issues at its own cadence.
func (s *Session) writeCommand(ctx context.Context, channel writeChannel, data []byte) error {
	link, endpoint := s.writeTarget(channel)

	if link == nil || !link.IsConnected() {
		if err := s.EnsureConnected(ctx); err != nil {
			return err
		}
		link, endpoint = s.writeTarget(channel)
		if link == nil || endpoint == "" {
			return fmt.Errorf("%w: link lost before write", ErrWriteFailed)
		}
	}

	if err := link.Write(ctx, endpoint, data, false); err != nil {
		return fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}
	return nil
}
