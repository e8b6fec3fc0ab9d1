package desk

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srg/deskctl/internal/testutils"
)

// A timer that fires while another goroutine holds the connection guard
// survives Timer.Stop; the generation check has to catch it instead.
func TestIdleTimerStaleFiring(t *testing.T) {
	helper := testutils.NewTestHelper(t)
	connector := testutils.NewMockConnector(nil)
	opts := &Options{IdleDelay: 30 * time.Millisecond, MoveInterval: 5 * time.Millisecond}
	session := New("EC:5B:36:01:02:03", "Desk 0765", connector, helper.Logger, opts)
	t.Cleanup(func() { _ = session.Stop() })

	require.NoError(t, session.EnsureConnected(context.Background()))

	// Hold the guard past the idle deadline, as a concurrent connect or
	// telemetry update would, and re-arm before releasing. The fired timer
	// is blocked on the guard by now and must yield to the newer arming.
	session.connMu.Lock()
	time.Sleep(2 * opts.IdleDelay)
	session.resetIdleTimerLocked()
	session.connMu.Unlock()

	time.Sleep(opts.IdleDelay / 3)
	assert.True(t, connector.Link().IsConnected(),
		"superseded firing must not drop a freshly re-armed link")

	// The re-armed timer still disconnects once its own deadline passes.
	require.Eventually(t, func() bool {
		return !connector.Link().IsConnected()
	}, time.Second, 5*time.Millisecond)
}
