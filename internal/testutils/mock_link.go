package testutils

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/srg/deskctl/internal/protocol"
	"github.com/srg/deskctl/internal/transport"
)

// WriteOp records one write observed by a MockLink.
type WriteOp struct {
	Endpoint     string
	Data         []byte
	WithResponse bool
}

// TelemetryFrame builds a wire telemetry frame from a relative height in
// centimeters and a raw signed speed unit.
func TelemetryFrame(heightCM float64, rawSpeed int16) []byte {
	frame := make([]byte, 4)
	binary.LittleEndian.PutUint16(frame[0:2], uint16(math.Round(heightCM*100)))
	binary.LittleEndian.PutUint16(frame[2:4], uint16(rawSpeed))
	return frame
}

// DeskEndpoints returns the full vendor capability set a healthy desk
// exposes.
func DeskEndpoints() []transport.Endpoint {
	return []transport.Endpoint{
		{UUID: transport.NormalizeUUID(protocol.CharCommand), Service: transport.NormalizeUUID(protocol.ServiceControl), CanWrite: true},
		{UUID: transport.NormalizeUUID(protocol.CharDPG), Service: transport.NormalizeUUID(protocol.ServiceDPG), CanWrite: true},
		{UUID: transport.NormalizeUUID(protocol.CharHeight), Service: transport.NormalizeUUID(protocol.ServiceHeight), CanRead: true, CanNotify: true},
		{UUID: transport.NormalizeUUID(protocol.CharReferenceInput), Service: transport.NormalizeUUID(protocol.ServiceReferenceInput), CanWrite: true},
	}
}

// MockLink implements transport.Link with scripted endpoint sets, scripted
// read frames, and recorded writes. Notifications are injected with Notify.
type MockLink struct {
	mu sync.Mutex

	connected    bool
	endpointSets [][]transport.Endpoint // consumed one per Endpoints call; last one sticks
	endpointErr  error

	readFrames [][]byte // consumed one per Read; last one sticks
	readErr    error

	writes   []WriteOp
	writeErr error

	subscribeErr error
	handlers     map[string]func([]byte)
	unsubscribed []string
}

// NewMockLink creates a connected link exposing the standard desk
// capability set and reading resting-at-zero telemetry.
func NewMockLink() *MockLink {
	return &MockLink{
		connected:    true,
		endpointSets: [][]transport.Endpoint{DeskEndpoints()},
		readFrames:   [][]byte{TelemetryFrame(0, 0)},
		handlers:     make(map[string]func([]byte)),
	}
}

// WithEndpointSets scripts the successive results of Endpoints calls; the
// last set repeats once the script is exhausted.
func (l *MockLink) WithEndpointSets(sets ...[]transport.Endpoint) *MockLink {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.endpointSets = sets
	return l
}

// WithReadFrames scripts the successive results of Read calls.
func (l *MockLink) WithReadFrames(frames ...[]byte) *MockLink {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.readFrames = frames
	return l
}

// SetWriteError makes subsequent writes fail with err.
func (l *MockLink) SetWriteError(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.writeErr = err
}

// SetSubscribeError makes subsequent subscriptions fail with err.
func (l *MockLink) SetSubscribeError(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.subscribeErr = err
}

// SetConnected flips the reported connection state.
func (l *MockLink) SetConnected(connected bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.connected = connected
}

func (l *MockLink) Read(_ context.Context, _ string) ([]byte, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.connected {
		return nil, transport.ErrNotConnected
	}
	if l.readErr != nil {
		return nil, l.readErr
	}
	if len(l.readFrames) == 0 {
		return TelemetryFrame(0, 0), nil
	}
	frame := l.readFrames[0]
	if len(l.readFrames) > 1 {
		l.readFrames = l.readFrames[1:]
	}
	return frame, nil
}

func (l *MockLink) Write(_ context.Context, endpointUUID string, data []byte, withResponse bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.connected {
		return transport.ErrNotConnected
	}
	if l.writeErr != nil {
		return l.writeErr
	}
	l.writes = append(l.writes, WriteOp{
		Endpoint:     transport.NormalizeUUID(endpointUUID),
		Data:         append([]byte(nil), data...),
		WithResponse: withResponse,
	})
	return nil
}

func (l *MockLink) Subscribe(_ context.Context, endpointUUID string, handler func([]byte)) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.connected {
		return transport.ErrNotConnected
	}
	if l.subscribeErr != nil {
		return l.subscribeErr
	}
	l.handlers[transport.NormalizeUUID(endpointUUID)] = handler
	return nil
}

func (l *MockLink) Unsubscribe(endpointUUID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	normalized := transport.NormalizeUUID(endpointUUID)
	l.unsubscribed = append(l.unsubscribed, normalized)
	delete(l.handlers, normalized)
	return nil
}

func (l *MockLink) Endpoints(_ context.Context) ([]transport.Endpoint, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.connected {
		return nil, transport.ErrNotConnected
	}
	if l.endpointErr != nil {
		return nil, l.endpointErr
	}
	if len(l.endpointSets) == 0 {
		return nil, fmt.Errorf("no endpoint sets scripted")
	}
	set := l.endpointSets[0]
	if len(l.endpointSets) > 1 {
		l.endpointSets = l.endpointSets[1:]
	}
	return set, nil
}

func (l *MockLink) IsConnected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.connected
}

func (l *MockLink) Disconnect() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.connected = false
	return nil
}

// Notify delivers a notification frame to the handler subscribed on the
// endpoint, synchronously, the way a single-threaded notification channel
// would.
func (l *MockLink) Notify(endpointUUID string, frame []byte) bool {
	l.mu.Lock()
	handler := l.handlers[transport.NormalizeUUID(endpointUUID)]
	l.mu.Unlock()

	if handler == nil {
		return false
	}
	handler(frame)
	return true
}

// NotifyTelemetry delivers a telemetry notification on the height endpoint.
func (l *MockLink) NotifyTelemetry(heightCM float64, rawSpeed int16) bool {
	return l.Notify(protocol.CharHeight, TelemetryFrame(heightCM, rawSpeed))
}

// Writes returns a snapshot of all recorded writes.
func (l *MockLink) Writes() []WriteOp {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]WriteOp(nil), l.writes...)
}

// WritesTo returns the payloads written to one endpoint, in order.
func (l *MockLink) WritesTo(endpointUUID string) [][]byte {
	normalized := transport.NormalizeUUID(endpointUUID)
	var payloads [][]byte
	for _, op := range l.Writes() {
		if op.Endpoint == normalized {
			payloads = append(payloads, op.Data)
		}
	}
	return payloads
}

// Unsubscribed returns the endpoints Unsubscribe was called for.
func (l *MockLink) Unsubscribed() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.unsubscribed...)
}

// MockConnector implements transport.Connector, handing out a single
// MockLink and counting connect attempts.
type MockConnector struct {
	mu sync.Mutex

	link         *MockLink
	err          error
	delay        time.Duration
	calls        int
	onDisconnect func()
}

// NewMockConnector wraps the given link; a nil link gets a default one.
func NewMockConnector(link *MockLink) *MockConnector {
	if link == nil {
		link = NewMockLink()
	}
	return &MockConnector{link: link}
}

// SetConnectError makes subsequent connects fail with err.
func (c *MockConnector) SetConnectError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.err = err
}

// SetConnectDelay makes connects block for d, to widen concurrency windows.
func (c *MockConnector) SetConnectDelay(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.delay = d
}

func (c *MockConnector) Connect(ctx context.Context, _ string, onDisconnect func()) (transport.Link, error) {
	c.mu.Lock()
	c.calls++
	err := c.err
	delay := c.delay
	link := c.link
	c.onDisconnect = onDisconnect
	c.mu.Unlock()

	if delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
	if err != nil {
		return nil, err
	}

	link.SetConnected(true)
	return link, nil
}

// Calls returns the number of Connect invocations.
func (c *MockConnector) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

// Link returns the underlying mock link.
func (c *MockConnector) Link() *MockLink {
	return c.link
}

// DropLink simulates a transport-level connection loss: the link reports
// disconnected and the disconnect notification fires.
func (c *MockConnector) DropLink() {
	c.mu.Lock()
	onDisconnect := c.onDisconnect
	c.mu.Unlock()

	c.link.SetConnected(false)
	if onDisconnect != nil {
		onDisconnect()
	}
}
