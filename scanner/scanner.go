// Package scanner discovers motorized desks over BLE advertisements.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cornelk/hashmap"
	blelib "github.com/go-ble/ble"
	"github.com/sirupsen/logrus"

	"github.com/srg/deskctl/internal/protocol"
	"github.com/srg/deskctl/internal/ringchan"
	"github.com/srg/deskctl/internal/transport"
)

// ProgressCallback is called when the scan phase changes
type ProgressCallback func(phase string)

// DeskEventType marks if the desk was newly discovered or updated
type DeskEventType int

const (
	EventNew DeskEventType = iota
	EventUpdated
)

type DeskEvent struct {
	Type DeskEventType
	Desk DeskInfo
}

// DeskInfo is one discovered peripheral.
type DeskInfo struct {
	Address string
	Name    string
	RSSI    int
	// IsDesk reports whether the advertisement carried the vendor control
	// service or a desk-style name; always true unless AllDevices is set.
	IsDesk   bool
	LastSeen time.Time
}

// ScanOptions configures discovery behavior
type ScanOptions struct {
	Duration        time.Duration
	DuplicateFilter bool
	AllowList       []string
	BlockList       []string
	// AllDevices disables the desk filter and reports every advertiser.
	AllDevices bool
}

// DefaultScanOptions returns default discovery options
func DefaultScanOptions() *ScanOptions {
	return &ScanOptions{
		Duration:        10 * time.Second,
		DuplicateFilter: false, // RSSI updates help picking the nearest desk
	}
}

// Scanner handles desk discovery over BLE advertisements
type Scanner struct {
	desks  *hashmap.Map[string, *DeskInfo]
	events *ringchan.RingChannel[DeskEvent]
	logger *logrus.Logger

	scanOptions *ScanOptions
}

// NewScanner creates a new desk scanner
func NewScanner(logger *logrus.Logger) (*Scanner, error) {
	if logger == nil {
		logger = logrus.New()
	}

	return &Scanner{
		events: ringchan.New[DeskEvent](100),
		logger: logger,
	}, nil
}

// Scan performs desk discovery with provided options
func (s *Scanner) Scan(ctx context.Context, opts *ScanOptions, progressCallback ProgressCallback) (map[string]DeskInfo, error) {
	s.desks = hashmap.New[string, *DeskInfo]()

	if opts == nil {
		opts = DefaultScanOptions()
	}
	if progressCallback == nil {
		progressCallback = func(string) {} // No-op callback
	}

	s.logger.WithField("duration", opts.Duration).Info("Starting desk scan...")

	progressCallback("Scanning")

	dev, err := transport.DeviceFactory()
	if err != nil {
		return nil, fmt.Errorf("failed to create BLE device: %w", err)
	}

	if opts.Duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Duration)
		defer cancel()
	}

	s.scanOptions = opts
	defer func() {
		s.scanOptions = nil
	}()
	err = dev.Scan(ctx, opts.DuplicateFilter, s.handleAdvertisement)
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return nil, fmt.Errorf("scan failed: %w", err)
	}

	s.logger.WithField("desk_count", s.desks.Len()).Info("Desk scan completed")

	progressCallback("Processing results")

	desks := make(map[string]DeskInfo, s.desks.Len())
	s.desks.Range(func(key string, value *DeskInfo) bool {
		desks[key] = *value
		return true
	})

	return desks, nil
}

// handleAdvertisement updates an existing or records a new desk
func (s *Scanner) handleAdvertisement(adv blelib.Advertisement) {
	address := adv.Addr().String()

	info, existing := s.desks.Get(address)
	if !existing {
		if !s.shouldInclude(adv, s.scanOptions) {
			return
		}
		info, existing = s.desks.GetOrInsert(address, &DeskInfo{
			Address: address,
			IsDesk:  isDesk(adv),
		})
	}

	if name := adv.LocalName(); name != "" {
		info.Name = name
	}
	info.RSSI = adv.RSSI()
	info.LastSeen = time.Now()

	event := DeskEvent{Desk: *info}
	if existing {
		event.Type = EventUpdated
	} else {
		s.logger.WithFields(logrus.Fields{
			"desk":    info.Name,
			"address": info.Address,
			"rssi":    info.RSSI,
		}).Info("Discovered desk")
		event.Type = EventNew
	}

	s.events.ForceSend(event)
}

// isDesk recognizes a desk by the advertised vendor control service or by
// the factory-default name prefix.
func isDesk(adv blelib.Advertisement) bool {
	control := transport.NormalizeUUID(protocol.ServiceControl)
	for _, advUUID := range adv.Services() {
		if transport.NormalizeUUID(advUUID.String()) == control {
			return true
		}
	}
	return strings.HasPrefix(strings.ToLower(adv.LocalName()), "desk")
}

// shouldInclude applies the desk, allow and block filters
func (s *Scanner) shouldInclude(adv blelib.Advertisement, opts *ScanOptions) bool {
	addr := adv.Addr().String()

	for _, blocked := range opts.BlockList {
		if strings.EqualFold(addr, blocked) {
			return false
		}
	}

	if len(opts.AllowList) > 0 {
		allowed := false
		for _, a := range opts.AllowList {
			if strings.EqualFold(addr, a) {
				allowed = true
				break
			}
		}
		if !allowed {
			return false
		}
	}

	if !opts.AllDevices && !isDesk(adv) {
		return false
	}

	return true
}

// Events returns a read-only channel of desk events
func (s *Scanner) Events() <-chan DeskEvent {
	return s.events.C()
}
