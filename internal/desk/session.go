// Package desk implements the persistent control session for a single
// motorized-desk peripheral: connection lifecycle with lazy reconnect and
// idle-disconnect, telemetry decoding and fan-out, and the serialized motion
// controller (motion.go).
package desk

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"context"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/srg/deskctl/internal/protocol"
	"github.com/srg/deskctl/internal/transport"
)

// Options tunes session timing. The defaults match the desk firmware's
// accepted command cadence and connection-slot behavior.
type Options struct {
	IdleDelay    time.Duration // inactivity before the link is dropped
	MoveInterval time.Duration // cadence of motion-loop writes
}

// DefaultOptions returns the production timing values.
func DefaultOptions() *Options {
	return &Options{
		IdleDelay:    120 * time.Second,
		MoveInterval: 500 * time.Millisecond,
	}
}

// ConnectError reports a failed transport connect or endpoint resolution.
type ConnectError struct {
	Address string
	Err     error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("failed to connect to desk %s: %v", e.Address, e.Err)
}

func (e *ConnectError) Unwrap() error {
	return e.Err
}

// ErrWriteFailed wraps transport write errors from motion loops. The motion
// command is considered failed; the caller re-issues at its own cadence.
var ErrWriteFailed = fmt.Errorf("write failed")

// Callback observes telemetry snapshots.
type Callback func(protocol.Telemetry)

// Session owns at most one active link to a desk peripheral. It is created
// once per peripheral identity and lives until Stop.
//
// Two guards funnel all mutation: connMu serializes
// connect/disconnect/endpoint-resolution, moveMu serializes motion loops
// (see motion.go). Telemetry replacement is a lock-protected snapshot swap.
type Session struct {
	address   string
	connector transport.Connector
	logger    *logrus.Logger
	opts      *Options

	connMu             sync.Mutex // connection guard
	link               transport.Link
	readEndpoint       string
	writeEndpoint      string
	referenceEndpoint  string
	idleTimer          *time.Timer
	idleGen            uint64 // arming generation; stale firings bail out
	expectedDisconnect bool

	stateMu   sync.RWMutex
	name      string
	rssi      int
	hasRSSI   bool
	telemetry protocol.Telemetry

	cbMu      sync.Mutex
	callbacks *orderedmap.OrderedMap[string, Callback]

	moveMu        sync.Mutex // move guard
	stopRequested atomic.Bool
}

// New creates a session for the desk at address. A nil opts selects
// DefaultOptions; name may be empty until advertisement data arrives.
func New(address, name string, connector transport.Connector, logger *logrus.Logger, opts *Options) *Session {
	if logger == nil {
		logger = logrus.New()
	}
	if opts == nil {
		opts = DefaultOptions()
	}
	return &Session{
		address:   address,
		name:      name,
		connector: connector,
		logger:    logger,
		opts:      opts,
		callbacks: orderedmap.New[string, Callback](),
	}
}

// Address returns the peripheral's stable address.
func (s *Session) Address() string {
	return s.address
}

// Name returns the advertised name, falling back to the address.
func (s *Session) Name() string {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	if s.name != "" {
		return s.name
	}
	return s.address
}

// RSSI returns the last advertised signal strength, if any was seen.
func (s *Session) RSSI() (int, bool) {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.rssi, s.hasRSSI
}

// SetAdvertisement updates identity data from a passive advertisement.
func (s *Session) SetAdvertisement(name string, rssi int) {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	if name != "" {
		s.name = name
	}
	s.rssi = rssi
	s.hasRSSI = true
}

// Telemetry returns the current snapshot.
func (s *Session) Telemetry() protocol.Telemetry {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.telemetry
}

// Height returns the current relative height in centimeters.
func (s *Session) Height() float64 {
	return s.Telemetry().Height
}

// Speed returns the current speed in meters per second.
func (s *Session) Speed() float64 {
	return s.Telemetry().Speed
}

// EnsureConnected establishes the link if needed. It is idempotent and
// concurrency-safe: concurrent callers wait on the connection guard for the
// in-flight attempt instead of racing. A connected link only has its
// idle-disconnect timer re-armed.
func (s *Session) EnsureConnected(ctx context.Context) error {
	if !s.connMu.TryLock() {
		s.logger.WithField("device", s.Name()).Debug("Connection attempt already in progress, waiting for it to complete")
		s.connMu.Lock()
	}
	defer s.connMu.Unlock()

	// Check again while holding the guard.
	if s.link != nil && s.link.IsConnected() {
		s.resetIdleTimerLocked()
		return nil
	}

	s.logger.WithFields(logrus.Fields{
		"device": s.Name(),
		"rssi":   s.rssiField(),
	}).Debug("Connecting")

	link, err := s.connector.Connect(ctx, s.address, s.handleDisconnected)
	if err != nil {
		return &ConnectError{Address: s.address, Err: err}
	}

	if err := s.resolveEndpoints(ctx, link); err != nil {
		_ = link.Disconnect()
		return &ConnectError{Address: s.address, Err: err}
	}

	if err := link.Subscribe(ctx, protocol.CharHeight, s.handleNotification); err != nil {
		_ = link.Disconnect()
		return &ConnectError{Address: s.address, Err: fmt.Errorf("failed to subscribe to telemetry: %w", err)}
	}

	s.link = link
	s.resetIdleTimerLocked()

	s.logger.WithFields(logrus.Fields{
		"device": s.Name(),
		"rssi":   s.rssiField(),
	}).Debug("Connected and subscribed to telemetry notifications")
	return nil
}

// resolveEndpoints locates the telemetry-read and command-write endpoints in
// the capability set, retrying once against a fresh fetch: stale capability
// caches sometimes come back without the vendor characteristics.
func (s *Session) resolveEndpoints(ctx context.Context, link transport.Link) error {
	endpoints, err := link.Endpoints(ctx)
	if err == nil && s.pickEndpoints(endpoints) {
		return nil
	}

	endpoints, err = link.Endpoints(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch endpoints: %w", err)
	}
	if !s.pickEndpoints(endpoints) {
		return fmt.Errorf("telemetry, command and reference-input endpoints not found on device")
	}
	return nil
}

// pickEndpoints stores the resolved telemetry, command and reference-input
// endpoints; all later reads and writes go through these, so resolution
// doubles as capability validation.
func (s *Session) pickEndpoints(endpoints []transport.Endpoint) bool {
	heightUUID := transport.NormalizeUUID(protocol.CharHeight)
	commandUUID := transport.NormalizeUUID(protocol.CharCommand)
	referenceUUID := transport.NormalizeUUID(protocol.CharReferenceInput)

	var read, write, reference string
	for _, ep := range endpoints {
		switch transport.NormalizeUUID(ep.UUID) {
		case heightUUID:
			read = heightUUID
		case commandUUID:
			write = commandUUID
		case referenceUUID:
			reference = referenceUUID
		}
	}
	if read == "" || write == "" || reference == "" {
		return false
	}
	s.readEndpoint = read
	s.writeEndpoint = write
	s.referenceEndpoint = reference
	return true
}

// handleNotification processes one telemetry notification. A failed decode
// leaves the current snapshot untouched and notifies nobody.
func (s *Session) handleNotification(data []byte) {
	telemetry, err := protocol.DecodeTelemetry(data)
	if err != nil {
		s.logger.WithFields(logrus.Fields{
			"device": s.Name(),
			"error":  err,
		}).Warn("Dropping malformed telemetry frame")
		return
	}
	s.applyTelemetry(telemetry)
}

// applyTelemetry replaces the snapshot, counts as link activity for the idle
// timer, and fans out to observers in registration order.
func (s *Session) applyTelemetry(telemetry protocol.Telemetry) {
	s.stateMu.Lock()
	s.telemetry = telemetry
	s.stateMu.Unlock()

	s.connMu.Lock()
	if s.link != nil {
		s.resetIdleTimerLocked()
	}
	s.connMu.Unlock()

	s.fireCallbacks(telemetry)
}

// Update ensures the link is live and reads the telemetry endpoint directly.
// Drives the host's periodic refresh between notifications.
func (s *Session) Update(ctx context.Context) error {
	if err := s.EnsureConnected(ctx); err != nil {
		return err
	}

	s.connMu.Lock()
	link := s.link
	readEndpoint := s.readEndpoint
	s.connMu.Unlock()
	if link == nil {
		return transport.ErrNotConnected
	}

	s.logger.WithField("device", s.Name()).Debug("Updating")
	data, err := link.Read(ctx, readEndpoint)
	if err != nil {
		return fmt.Errorf("failed to read telemetry: %w", err)
	}

	telemetry, err := protocol.DecodeTelemetry(data)
	if err != nil {
		s.logger.WithFields(logrus.Fields{
			"device": s.Name(),
			"error":  err,
		}).Warn("Read returned a malformed telemetry frame")
		return err
	}

	s.applyTelemetry(telemetry)
	return nil
}

// RegisterCallback registers an observer for telemetry changes and returns
// its unregister function. Unregistering twice is a no-op; observers are
// invoked in registration order.
func (s *Session) RegisterCallback(cb Callback) (unregister func()) {
	id := uuid.NewString()

	s.cbMu.Lock()
	s.callbacks.Set(id, cb)
	s.cbMu.Unlock()

	return func() {
		s.cbMu.Lock()
		s.callbacks.Delete(id)
		s.cbMu.Unlock()
	}
}

func (s *Session) fireCallbacks(telemetry protocol.Telemetry) {
	s.cbMu.Lock()
	callbacks := make([]Callback, 0, s.callbacks.Len())
	for pair := s.callbacks.Oldest(); pair != nil; pair = pair.Next() {
		callbacks = append(callbacks, pair.Value)
	}
	s.cbMu.Unlock()

	for _, cb := range callbacks {
		s.invokeCallback(cb, telemetry)
	}
}

// invokeCallback isolates observer faults: a panicking observer is logged
// and must not prevent subsequent observers from running.
func (s *Session) invokeCallback(cb Callback, telemetry protocol.Telemetry) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.WithFields(logrus.Fields{
				"device": s.Name(),
				"panic":  r,
			}).Error("Telemetry callback panicked")
		}
	}()
	cb(telemetry)
}

// resetIdleTimerLocked (re)arms the idle-disconnect timer; at most one
// arming is current at a time. Stop alone cannot guarantee that: a timer
// that already fired and is waiting on the connection guard survives Stop,
// so every arming also bumps the generation and a firing whose generation
// is no longer current bails out. Caller must hold connMu.
func (s *Session) resetIdleTimerLocked() {
	if s.idleTimer != nil {
		s.idleTimer.Stop()
	}
	s.expectedDisconnect = false
	s.idleGen++
	gen := s.idleGen
	s.idleTimer = time.AfterFunc(s.opts.IdleDelay, func() { s.idleDisconnect(gen) })
}

// idleDisconnect runs on the timer goroutine, asynchronously to whoever
// armed it. It tears the link down under the connection guard only if its
// arming is still the current one; activity that re-armed the timer while
// this firing waited on the guard supersedes it.
func (s *Session) idleDisconnect(gen uint64) {
	s.connMu.Lock()
	defer s.connMu.Unlock()

	if gen != s.idleGen {
		return
	}

	s.logger.WithFields(logrus.Fields{
		"device":     s.Name(),
		"idle_delay": s.opts.IdleDelay,
	}).Debug("Disconnecting after idle timeout")

	if err := s.disconnectLocked(true); err != nil {
		s.logger.WithError(err).WithField("device", s.Name()).Warn("Idle disconnect failed")
	}
}

// Disconnect tears the link down under the connection guard. expected
// suppresses the warning on the subsequent disconnect notification.
func (s *Session) Disconnect(expected bool) error {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	return s.disconnectLocked(expected)
}

// disconnectLocked is the teardown body. Caller must hold connMu.
func (s *Session) disconnectLocked(expected bool) error {
	if s.idleTimer != nil {
		s.idleTimer.Stop()
		s.idleTimer = nil
	}
	s.idleGen++ // invalidate any firing still waiting on the guard
	s.expectedDisconnect = expected

	link := s.link
	s.link = nil
	s.readEndpoint = ""
	s.writeEndpoint = ""
	s.referenceEndpoint = ""

	if link == nil || !link.IsConnected() {
		return nil
	}

	if err := link.Unsubscribe(protocol.CharHeight); err != nil {
		s.logger.WithFields(logrus.Fields{
			"device": s.Name(),
			"error":  err,
		}).Warn("Failed to unsubscribe from telemetry notifications")
	}
	return link.Disconnect()
}

// handleDisconnected is the transport's disconnect notification. It never
// reconnects; reconnection is lazy via the next EnsureConnected.
func (s *Session) handleDisconnected() {
	s.connMu.Lock()
	expected := s.expectedDisconnect
	s.connMu.Unlock()

	if expected {
		s.logger.WithFields(logrus.Fields{
			"device": s.Name(),
			"rssi":   s.rssiField(),
		}).Debug("Disconnected from device")
		return
	}

	s.logger.WithFields(logrus.Fields{
		"device": s.Name(),
		"rssi":   s.rssiField(),
	}).Warn("Device unexpectedly disconnected")
}

// Stop shuts the session down: signals any active motion loop, waits for it
// to exit, forces an expected disconnect, and clears the observer list.
func (s *Session) Stop() error {
	s.logger.WithField("device", s.Name()).Debug("Stopping session")

	s.stopRequested.Store(true)
	s.moveMu.Lock()
	s.stopRequested.Store(false)
	s.moveMu.Unlock()

	err := s.Disconnect(true)

	s.cbMu.Lock()
	s.callbacks = orderedmap.New[string, Callback]()
	s.cbMu.Unlock()

	return err
}

func (s *Session) rssiField() any {
	if rssi, ok := s.RSSI(); ok {
		return rssi
	}
	return "n/a"
}
