package desk_test

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/srg/deskctl/internal/desk"
	"github.com/srg/deskctl/internal/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func countPayload(writes [][]byte, payload []byte) int {
	n := 0
	for _, w := range writes {
		if bytes.Equal(w, payload) {
			n++
		}
	}
	return n
}

func TestMoveStop(t *testing.T) {
	session, connector, _ := newTestSession(t, nil)

	require.NoError(t, session.MoveStop(context.Background()))

	commandWrites := connector.Link().WritesTo(protocol.CharCommand)
	require.Len(t, commandWrites, 1)
	assert.Equal(t, protocol.CommandStop, commandWrites[0])

	refWrites := connector.Link().WritesTo(protocol.CharReferenceInput)
	require.Len(t, refWrites, 1)
	assert.Equal(t, protocol.CommandReferenceInputStop, refWrites[0])
}

func TestMoveDirectional(t *testing.T) {
	t.Run("repeats the directional write until stopped", func(t *testing.T) {
		session, connector, _ := newTestSession(t, nil)

		done := make(chan error, 1)
		go func() { done <- session.MoveUp(context.Background()) }()

		require.Eventually(t, func() bool {
			return countPayload(connector.Link().WritesTo(protocol.CharCommand), protocol.CommandUp) >= 3
		}, time.Second, time.Millisecond)

		require.NoError(t, session.MoveStop(context.Background()))
		require.NoError(t, <-done)
	})

	t.Run("a later command preempts the running loop", func(t *testing.T) {
		session, connector, _ := newTestSession(t, nil)
		link := connector.Link()

		upDone := make(chan error, 1)
		go func() { upDone <- session.MoveUp(context.Background()) }()
		require.Eventually(t, func() bool {
			return countPayload(link.WritesTo(protocol.CharCommand), protocol.CommandUp) >= 2
		}, time.Second, time.Millisecond)

		downDone := make(chan error, 1)
		go func() { downDone <- session.MoveDown(context.Background()) }()
		require.NoError(t, <-upDone, "the running loop must exit cleanly when preempted")
		require.Eventually(t, func() bool {
			return countPayload(link.WritesTo(protocol.CharCommand), protocol.CommandDown) >= 2
		}, time.Second, time.Millisecond)

		require.NoError(t, session.MoveStop(context.Background()))
		require.NoError(t, <-downDone)

		// After the preempting command's stop prologue completed, no
		// further UP writes may appear: exactly one loop at a time.
		writes := link.WritesTo(protocol.CharCommand)
		secondStop := -1
		stops := 0
		for i, w := range writes {
			if bytes.Equal(w, protocol.CommandStop) {
				stops++
				if stops == 2 {
					secondStop = i
					break
				}
			}
		}
		require.GreaterOrEqual(t, secondStop, 0, "expected the preempting stop prologue in the write log")
		for _, w := range writes[secondStop:] {
			assert.False(t, bytes.Equal(w, protocol.CommandUp), "UP write observed after the preempting stop prologue")
		}
	})

	t.Run("context cancellation stops the loop", func(t *testing.T) {
		session, connector, _ := newTestSession(t, nil)
		ctx, cancel := context.WithCancel(context.Background())

		done := make(chan error, 1)
		go func() { done <- session.MoveDown(ctx) }()
		require.Eventually(t, func() bool {
			return countPayload(connector.Link().WritesTo(protocol.CharCommand), protocol.CommandDown) >= 1
		}, time.Second, time.Millisecond)

		cancel()
		assert.ErrorIs(t, <-done, context.Canceled)
	})
}

func TestMoveTo(t *testing.T) {
	t.Run("writes the encoded target and exits at zero speed", func(t *testing.T) {
		session, connector, _ := newTestSession(t, nil)
		link := connector.Link()
		require.NoError(t, session.EnsureConnected(context.Background()))
		link.NotifyTelemetry(40, 1000) // in motion

		target := []byte{0x5A, 0x16} // 58.50 cm
		go func() {
			for countPayload(link.WritesTo(protocol.CharReferenceInput), target) < 2 {
				time.Sleep(time.Millisecond)
			}
			link.NotifyTelemetry(58.5, 0) // arrived
		}()

		require.NoError(t, session.MoveTo(context.Background(), 58.5))

		refWrites := link.WritesTo(protocol.CharReferenceInput)
		assert.GreaterOrEqual(t, countPayload(refWrites, target), 2)
		assert.Equal(t, 58.5, session.Height())
	})

	t.Run("rejects an out-of-range target before any write", func(t *testing.T) {
		session, connector, _ := newTestSession(t, nil)

		err := session.MoveTo(context.Background(), -3)

		var outOfRange *protocol.TargetOutOfRangeError
		require.ErrorAs(t, err, &outOfRange)
		assert.Zero(t, connector.Calls(), "validation must precede any connection attempt")
		assert.Empty(t, connector.Link().Writes())
	})
}

func TestMotionWriteFailure(t *testing.T) {
	t.Run("failed stop prologue surfaces ErrWriteFailed", func(t *testing.T) {
		session, connector, _ := newTestSession(t, nil)
		connector.Link().SetWriteError(errors.New("att timeout"))

		err := session.MoveUp(context.Background())

		assert.ErrorIs(t, err, desk.ErrWriteFailed)
	})

	t.Run("in-loop failure exits the loop and releases the guard", func(t *testing.T) {
		session, connector, _ := newTestSession(t, nil)
		link := connector.Link()

		done := make(chan error, 1)
		go func() { done <- session.MoveUp(context.Background()) }()
		require.Eventually(t, func() bool {
			return countPayload(link.WritesTo(protocol.CharCommand), protocol.CommandUp) >= 1
		}, time.Second, time.Millisecond)

		link.SetWriteError(errors.New("att timeout"))
		assert.ErrorIs(t, <-done, desk.ErrWriteFailed)

		// The guard must be free for the next command.
		link.SetWriteError(nil)
		require.NoError(t, session.MoveStop(context.Background()))
	})
}
