// Package transport defines the wireless transport capability the desk
// session is built on: discover-by-address connect, characteristic
// read/write/subscribe, and disconnect notification. The session layer only
// sees these interfaces; the go-ble backed implementation lives in goble.go.
package transport

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Endpoint describes one protocol-addressable channel discovered on the
// peripheral.
type Endpoint struct {
	UUID    string // normalized: lowercase, no dashes
	Service string // owning service UUID, normalized

	CanRead   bool
	CanWrite  bool
	CanNotify bool
}

// Link is a live connection to a single peripheral.
//
// Read, Write and Subscribe address endpoints by UUID in any of the common
// forms; implementations normalize before lookup. Endpoints performs a fresh
// capability fetch, which callers use to retry endpoint resolution.
type Link interface {
	Read(ctx context.Context, endpointUUID string) ([]byte, error)
	Write(ctx context.Context, endpointUUID string, data []byte, withResponse bool) error
	Subscribe(ctx context.Context, endpointUUID string, handler func(data []byte)) error
	Unsubscribe(endpointUUID string) error
	Endpoints(ctx context.Context) ([]Endpoint, error)
	IsConnected() bool
	Disconnect() error
}

// Connector establishes links. onDisconnect fires once whenever an
// established link drops, whether or not Disconnect was called.
type Connector interface {
	Connect(ctx context.Context, address string, onDisconnect func()) (Link, error)
}

// ConnectionState represents the specific kind of connection state failure.
type ConnectionState string

const (
	NotConnected     ConnectionState = "not_connected"
	AlreadyConnected ConnectionState = "already_connected"
)

// ConnectionError represents any connection-related problem.
type ConnectionError struct {
	State ConnectionState
	Msg   string
}

func (e *ConnectionError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Msg == "" {
		return string(e.State)
	}
	return fmt.Sprintf("%s: %s", e.State, e.Msg)
}

// Is allows errors.Is to compare ConnectionError values by State.
func (e *ConnectionError) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*ConnectionError)
	if !ok {
		return false
	}
	return e.State == t.State
}

// Predefined sentinel errors for connection states.
var (
	ErrNotConnected     = &ConnectionError{State: NotConnected}
	ErrAlreadyConnected = &ConnectionError{State: AlreadyConnected}
)

// ErrEndpointNotFound reports an endpoint UUID missing from the capability set.
var ErrEndpointNotFound = errors.New("endpoint not found")

// NormalizeError maps known go-ble error strings to structured
// ConnectionError values so callers can match with errors.Is even if the
// upstream library changes messages slightly.
func NormalizeError(err error) error {
	if err == nil {
		return nil
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "device not connected"),
		strings.Contains(msg, "connection is not initialized"):
		return fmt.Errorf("%w: %v", ErrNotConnected, err)
	case strings.Contains(msg, "device already connected"):
		return fmt.Errorf("%w: %v", ErrAlreadyConnected, err)
	default:
		return err
	}
}

// NormalizeUUID converts a UUID string to the internal BLE library format
// (lowercase, no dashes). Accepts both dashed and already normalized forms.
func NormalizeUUID(uuid string) string {
	return strings.ToLower(strings.ReplaceAll(uuid, "-", ""))
}
