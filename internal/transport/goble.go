package transport

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-ble/ble"
	"github.com/go-ble/ble/linux"
	"github.com/sirupsen/logrus"

	"github.com/srg/deskctl/internal/groutine"
)

// DeviceFactory creates ble.Device instances (can be overridden in tests).
var DeviceFactory = func() (ble.Device, error) {
	dev, err := linux.NewDevice()
	if err != nil {
		if strings.Contains(err.Error(), "operation not permitted") {
			return nil, fmt.Errorf("insufficient permissions for raw HCI access - run with CAP_NET_ADMIN or as root: %w", err)
		}
		return nil, err
	}
	return dev, nil
}

// ConnectOptions configures the retry-capable connect primitive.
type ConnectOptions struct {
	ConnectTimeout time.Duration // per-attempt dial timeout
	Attempts       int
	RetryDelay     time.Duration
}

// DefaultConnectOptions returns the connect defaults used by the CLI.
func DefaultConnectOptions() *ConnectOptions {
	return &ConnectOptions{
		ConnectTimeout: 30 * time.Second,
		Attempts:       3,
		RetryDelay:     2 * time.Second,
	}
}

// BLEConnector implements Connector over go-ble.
type BLEConnector struct {
	logger *logrus.Logger
	opts   *ConnectOptions
}

// NewBLEConnector creates a connector. A nil opts selects defaults.
func NewBLEConnector(logger *logrus.Logger, opts *ConnectOptions) *BLEConnector {
	if logger == nil {
		logger = logrus.New()
	}
	if opts == nil {
		opts = DefaultConnectOptions()
	}
	return &BLEConnector{logger: logger, opts: opts}
}

// Connect dials the peripheral with bounded retries, discovers its GATT
// profile, and starts a watcher that fires onDisconnect when the link drops.
func (c *BLEConnector) Connect(ctx context.Context, address string, onDisconnect func()) (Link, error) {
	if strings.TrimSpace(address) == "" {
		return nil, fmt.Errorf("device address is not set")
	}

	dev, err := DeviceFactory()
	if err != nil {
		return nil, fmt.Errorf("failed to create BLE device: %w", err)
	}
	ble.SetDefaultDevice(dev)

	var client ble.Client
	for attempt := 1; ; attempt++ {
		dialCtx, cancel := context.WithTimeout(ctx, c.opts.ConnectTimeout)
		client, err = ble.Dial(dialCtx, ble.NewAddr(address))
		cancel()
		if err == nil {
			break
		}

		c.logger.WithFields(logrus.Fields{
			"address": address,
			"attempt": attempt,
			"error":   err,
		}).Warn("Connect attempt failed")

		if attempt >= c.opts.Attempts || ctx.Err() != nil {
			return nil, NormalizeError(fmt.Errorf("failed to connect to device %q after %d attempts: %w", address, attempt, err))
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.opts.RetryDelay):
		}
	}

	link := &bleLink{
		client:    client,
		logger:    c.logger,
		connected: true,
	}

	if err := link.discoverEndpoints(); err != nil {
		_ = client.CancelConnection()
		return nil, err
	}

	groutine.Go(context.Background(), "ble-disconnect-watch", func(context.Context) {
		<-client.Disconnected()
		link.markDisconnected()
		if onDisconnect != nil {
			onDisconnect()
		}
	})

	c.logger.WithFields(logrus.Fields{
		"address":   address,
		"endpoints": len(link.chars),
	}).Info("BLE device connected")

	return link, nil
}

// bleLink implements Link over a live ble.Client.
type bleLink struct {
	client ble.Client
	logger *logrus.Logger

	mu        sync.RWMutex
	connected bool
	chars     map[string]*ble.Characteristic // keyed by normalized UUID
	endpoints []Endpoint
}

func (l *bleLink) discoverEndpoints() error {
	profile, err := l.client.DiscoverProfile(true)
	if err != nil {
		return fmt.Errorf("failed to discover profile: %w", err)
	}

	chars := make(map[string]*ble.Characteristic)
	var endpoints []Endpoint
	for _, svc := range profile.Services {
		svcUUID := NormalizeUUID(svc.UUID.String())
		for _, char := range svc.Characteristics {
			charUUID := NormalizeUUID(char.UUID.String())
			chars[charUUID] = char
			endpoints = append(endpoints, Endpoint{
				UUID:      charUUID,
				Service:   svcUUID,
				CanRead:   char.Property&ble.CharRead != 0,
				CanWrite:  char.Property&(ble.CharWrite|ble.CharWriteNR) != 0,
				CanNotify: char.Property&(ble.CharNotify|ble.CharIndicate) != 0,
			})
		}
	}

	l.mu.Lock()
	l.chars = chars
	l.endpoints = endpoints
	l.mu.Unlock()
	return nil
}

func (l *bleLink) characteristic(endpointUUID string) (*ble.Characteristic, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if !l.connected {
		return nil, ErrNotConnected
	}
	char, ok := l.chars[NormalizeUUID(endpointUUID)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrEndpointNotFound, endpointUUID)
	}
	return char, nil
}

func (l *bleLink) Read(_ context.Context, endpointUUID string) ([]byte, error) {
	char, err := l.characteristic(endpointUUID)
	if err != nil {
		return nil, err
	}
	data, err := l.client.ReadCharacteristic(char)
	if err != nil {
		return nil, NormalizeError(fmt.Errorf("failed to read %q: %w", endpointUUID, err))
	}
	return data, nil
}

func (l *bleLink) Write(_ context.Context, endpointUUID string, data []byte, withResponse bool) error {
	char, err := l.characteristic(endpointUUID)
	if err != nil {
		return err
	}
	if err := l.client.WriteCharacteristic(char, data, !withResponse); err != nil {
		return NormalizeError(fmt.Errorf("failed to write %q: %w", endpointUUID, err))
	}
	return nil
}

func (l *bleLink) Subscribe(_ context.Context, endpointUUID string, handler func([]byte)) error {
	char, err := l.characteristic(endpointUUID)
	if err != nil {
		return err
	}
	if err := l.client.Subscribe(char, false, handler); err != nil {
		return NormalizeError(fmt.Errorf("failed to subscribe to %q: %w", endpointUUID, err))
	}
	return nil
}

func (l *bleLink) Unsubscribe(endpointUUID string) error {
	char, err := l.characteristic(endpointUUID)
	if err != nil {
		return err
	}
	// Try both notify and indicate modes; fail only when both fail.
	err1 := l.client.Unsubscribe(char, false)
	err2 := l.client.Unsubscribe(char, true)
	if err1 != nil && err2 != nil {
		return NormalizeError(fmt.Errorf("failed to unsubscribe from %q: notify=%v, indicate=%v", endpointUUID, err1, err2))
	}
	return nil
}

// Endpoints performs a fresh capability fetch. Used by the session layer to
// retry endpoint resolution when a stale profile cache comes back incomplete.
func (l *bleLink) Endpoints(_ context.Context) ([]Endpoint, error) {
	l.mu.RLock()
	connected := l.connected
	cached := l.endpoints
	l.mu.RUnlock()

	if !connected {
		return nil, ErrNotConnected
	}
	if cached != nil {
		// First fetch returns the discovery snapshot; invalidate so a retry
		// hits the device again.
		l.mu.Lock()
		l.endpoints = nil
		l.mu.Unlock()
		return cached, nil
	}

	if err := l.discoverEndpoints(); err != nil {
		return nil, err
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.endpoints, nil
}

func (l *bleLink) IsConnected() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.connected
}

func (l *bleLink) markDisconnected() {
	l.mu.Lock()
	l.connected = false
	l.mu.Unlock()
}

func (l *bleLink) Disconnect() error {
	l.mu.Lock()
	if !l.connected {
		l.mu.Unlock()
		return nil
	}
	l.connected = false
	l.mu.Unlock()

	if err := l.client.CancelConnection(); err != nil {
		return NormalizeError(fmt.Errorf("failed to disconnect: %w", err))
	}
	return nil
}
