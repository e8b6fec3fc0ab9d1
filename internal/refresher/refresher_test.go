package refresher_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/srg/deskctl/internal/desk"
	"github.com/srg/deskctl/internal/protocol"
	"github.com/srg/deskctl/internal/refresher"
	"github.com/srg/deskctl/internal/testutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubSession fakes the desk session: Update counts calls and optionally
// feeds telemetry back through the registered callback, the way a real read
// does.
type stubSession struct {
	mu           sync.Mutex
	cb           desk.Callback
	updates      int
	updateErr    error
	silent       bool // suppress the telemetry callback on Update
	telemetry    protocol.Telemetry
	disconnects  int
	expectedArgs []bool
	stops        int
}

func (s *stubSession) Name() string { return "Desk 0765" }

func (s *stubSession) Update(context.Context) error {
	s.mu.Lock()
	s.updates++
	err := s.updateErr
	cb := s.cb
	silent := s.silent
	telemetry := s.telemetry
	s.mu.Unlock()

	if err != nil {
		return err
	}
	if cb != nil && !silent {
		cb(telemetry)
	}
	return nil
}

func (s *stubSession) RegisterCallback(cb desk.Callback) func() {
	s.mu.Lock()
	s.cb = cb
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		s.cb = nil
		s.mu.Unlock()
	}
}

func (s *stubSession) Disconnect(expected bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disconnects++
	s.expectedArgs = append(s.expectedArgs, expected)
	return nil
}

func (s *stubSession) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stops++
	return nil
}

func (s *stubSession) setUpdateErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updateErr = err
}

func (s *stubSession) updateCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updates
}

func (s *stubSession) callbackRegistered() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cb != nil
}

func testOptions() *refresher.Options {
	return &refresher.Options{
		Interval:     20 * time.Millisecond,
		ReadyTimeout: 50 * time.Millisecond,
	}
}

func newTestRefresher(t *testing.T, session *stubSession) *refresher.Refresher {
	t.Helper()
	helper := testutils.NewTestHelper(t)
	r := refresher.New(session, helper.Logger, testOptions())
	t.Cleanup(func() { _ = r.Stop() })
	return r
}

func TestStart(t *testing.T) {
	t.Run("refreshes immediately, reports ready, then ticks", func(t *testing.T) {
		session := &stubSession{telemetry: protocol.Telemetry{Height: 12.5}}
		r := newTestRefresher(t, session)

		require.NoError(t, r.Start(context.Background()))
		assert.Equal(t, 1, session.updateCount())

		select {
		case event := <-r.Events():
			assert.Equal(t, refresher.EventTelemetry, event.Type)
			assert.Equal(t, 12.5, event.Telemetry.Height)
		default:
			t.Fatal("expected a telemetry event from the first refresh")
		}

		require.Eventually(t, func() bool {
			return session.updateCount() >= 3
		}, time.Second, 5*time.Millisecond)
	})

	t.Run("returns ErrNotReady when no telemetry arrives", func(t *testing.T) {
		session := &stubSession{silent: true}
		r := newTestRefresher(t, session)

		err := r.Start(context.Background())

		require.ErrorIs(t, err, refresher.ErrNotReady)
		assert.False(t, session.callbackRegistered(), "failed start must unregister its observer")
	})

	t.Run("propagates a failed first refresh", func(t *testing.T) {
		session := &stubSession{}
		session.setUpdateErr(errors.New("connect refused"))
		r := newTestRefresher(t, session)

		err := r.Start(context.Background())

		require.Error(t, err)
		select {
		case event := <-r.Events():
			assert.Equal(t, refresher.EventRefreshFailed, event.Type)
			assert.Error(t, event.Err)
		default:
			t.Fatal("expected a refresh-failed event")
		}
	})
}

func TestPeriodicFailure(t *testing.T) {
	session := &stubSession{}
	r := newTestRefresher(t, session)
	require.NoError(t, r.Start(context.Background()))

	session.setUpdateErr(errors.New("att timeout"))

	require.Eventually(t, func() bool {
		select {
		case event := <-r.Events():
			return event.Type == refresher.EventRefreshFailed
		default:
			return false
		}
	}, time.Second, 5*time.Millisecond)

	// The loop survives the failure and keeps retrying.
	session.setUpdateErr(nil)
	before := session.updateCount()
	require.Eventually(t, func() bool {
		return session.updateCount() > before
	}, time.Second, 5*time.Millisecond)
}

func TestReload(t *testing.T) {
	t.Run("notifies listeners, drops the link and refreshes again", func(t *testing.T) {
		session := &stubSession{}
		r := newTestRefresher(t, session)

		notified := false
		r.OnOptionsChange(func() { notified = true })

		require.NoError(t, r.Start(context.Background()))
		before := session.updateCount()

		require.NoError(t, r.Reload(context.Background()))

		assert.True(t, notified)
		session.mu.Lock()
		disconnects := session.disconnects
		expectedArgs := append([]bool(nil), session.expectedArgs...)
		session.mu.Unlock()
		require.GreaterOrEqual(t, disconnects, 1)
		assert.True(t, expectedArgs[0], "reload teardown must be an expected disconnect")
		assert.Greater(t, session.updateCount(), before)
	})

	t.Run("fails before Start", func(t *testing.T) {
		session := &stubSession{}
		r := newTestRefresher(t, session)

		assert.Error(t, r.Reload(context.Background()))
	})
}

func TestStop(t *testing.T) {
	session := &stubSession{}
	r := newTestRefresher(t, session)
	require.NoError(t, r.Start(context.Background()))

	require.NoError(t, r.Stop())

	session.mu.Lock()
	stops := session.stops
	session.mu.Unlock()
	assert.Equal(t, 1, stops)
	assert.False(t, session.callbackRegistered())

	// The ticker goroutine must be gone: no further updates accumulate.
	count := session.updateCount()
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, count, session.updateCount())
}
