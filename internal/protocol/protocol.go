// Package protocol implements the vendor GATT protocol of Linak-based
// motorized desks: the 4-byte telemetry frame carrying height and speed,
// the 2-byte command opcodes, and the fixed endpoint UUIDs.
package protocol

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"
)

// Vendor service and characteristic UUIDs. These are fixed by the desk
// controller firmware and are not discoverable by any standard profile.
const (
	ServiceControl = "99fa0001-338a-1024-8a49-009c0215f78a"
	CharCommand    = "99fa0002-338a-1024-8a49-009c0215f78a" // write motion opcodes

	ServiceDPG = "99fa0010-338a-1024-8a49-009c0215f78a"
	CharDPG    = "99fa0011-338a-1024-8a49-009c0215f78a" // vendor config, reserved

	ServiceHeight = "99fa0020-338a-1024-8a49-009c0215f78a"
	CharHeight    = "99fa0021-338a-1024-8a49-009c0215f78a" // telemetry read/notify

	ServiceReferenceInput = "99fa0030-338a-1024-8a49-009c0215f78a"
	CharReferenceInput    = "99fa0031-338a-1024-8a49-009c0215f78a" // write move-to targets
)

// Motion command opcodes. Opaque 2-byte codes, not derived from anything.
var (
	CommandStop               = []byte{0xFF, 0x00}
	CommandUp                 = []byte{0x47, 0x00}
	CommandDown               = []byte{0x46, 0x00}
	CommandReferenceInputStop = []byte{0x01, 0x80}
)

const (
	// BaseHeightCM is the floor-to-desktop height at the lowest position.
	BaseHeightCM = 62.0
	// MovementRangeCM is the travel between the lowest and highest position.
	MovementRangeCM = 65.0

	// speedScale converts the raw signed speed unit to m/s. Empirical,
	// assuming the desk's maximum speed of roughly 1.5 inch/s.
	speedScale = 6.14e-6

	telemetryFrameLen = 4
)

// Telemetry is an immutable snapshot of the desk state. Height is relative
// to the lowest position, in centimeters; Speed is in meters per second,
// negative while moving down.
type Telemetry struct {
	Height float64
	Speed  float64
}

// AbsoluteHeight returns the floor-to-desktop height in centimeters.
func (t Telemetry) AbsoluteHeight() float64 {
	return t.Height + BaseHeightCM
}

// PositionPercent returns the position within the movement range, 0-100.
func (t Telemetry) PositionPercent() float64 {
	return t.Height / MovementRangeCM * 100
}

// MalformedFrameError reports a telemetry frame of the wrong length.
type MalformedFrameError struct {
	Length int
}

func (e *MalformedFrameError) Error() string {
	return fmt.Sprintf("malformed telemetry frame: got %d bytes, want %d", e.Length, telemetryFrameLen)
}

// TargetOutOfRangeError reports a move-to target that does not fit the
// 16-bit native height unit.
type TargetOutOfRangeError struct {
	TargetCM float64
}

func (e *TargetOutOfRangeError) Error() string {
	return fmt.Sprintf("target height %.2f cm is outside the encodable range [0, %.2f]", e.TargetCM, float64(math.MaxUint16)/100)
}

// DecodeTelemetry interprets a 4-byte telemetry frame: unsigned 16-bit
// little-endian raw height followed by signed 16-bit little-endian raw speed.
func DecodeTelemetry(frame []byte) (Telemetry, error) {
	if len(frame) != telemetryFrameLen {
		return Telemetry{}, &MalformedFrameError{Length: len(frame)}
	}

	rawHeight := binary.LittleEndian.Uint16(frame[0:2])
	rawSpeed := int16(binary.LittleEndian.Uint16(frame[2:4]))

	return Telemetry{
		Height: float64(rawHeight) / 100,
		Speed:  float64(rawSpeed) * speedScale,
	}, nil
}

// EncodeTarget encodes a relative height in centimeters as the 2-byte
// little-endian payload written to the reference-input endpoint.
func EncodeTarget(targetCM float64) ([]byte, error) {
	native := math.Round(targetCM * 100)
	if native < 0 || native > math.MaxUint16 {
		return nil, &TargetOutOfRangeError{TargetCM: targetCM}
	}

	payload := make([]byte, 2)
	binary.LittleEndian.PutUint16(payload, uint16(native))
	return payload, nil
}

// knownNames maps normalized endpoint UUIDs to display names.
var knownNames = map[string]string{
	normalizeUUID(ServiceControl):        "Desk Control Service",
	normalizeUUID(CharCommand):           "Command",
	normalizeUUID(ServiceDPG):            "Desk DPG Service",
	normalizeUUID(CharDPG):               "DPG",
	normalizeUUID(ServiceHeight):         "Desk Height Service",
	normalizeUUID(CharHeight):            "Height and Speed",
	normalizeUUID(ServiceReferenceInput): "Desk Reference Input Service",
	normalizeUUID(CharReferenceInput):    "Reference Input",
}

// KnownEndpointName returns a human-readable name for a vendor endpoint
// UUID, or the empty string if the UUID is not part of the desk protocol.
func KnownEndpointName(uuid string) string {
	return knownNames[normalizeUUID(uuid)]
}

func normalizeUUID(uuid string) string {
	return strings.ToLower(strings.ReplaceAll(uuid, "-", ""))
}
