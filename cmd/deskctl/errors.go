package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/srg/deskctl/internal/desk"
	"github.com/srg/deskctl/internal/protocol"
	"github.com/srg/deskctl/internal/refresher"
)

// FormatUserError converts internal errors into actionable messages. Errors
// without a specific mapping pass through unchanged.
func FormatUserError(err error) string {
	if err == nil {
		return ""
	}

	var connectErr *desk.ConnectError
	if errors.As(err, &connectErr) {
		return fmt.Sprintf("could not reach desk %s - make sure it is in range and not claimed by another host (%v)",
			connectErr.Address, connectErr.Err)
	}

	var outOfRange *protocol.TargetOutOfRangeError
	if errors.As(err, &outOfRange) {
		return fmt.Sprintf("target height %.1f cm is outside the desk's travel (0-%.0f cm above the lowest position)",
			outOfRange.TargetCM, protocol.MovementRangeCM)
	}

	if errors.Is(err, refresher.ErrNotReady) {
		return "desk connected but sent no telemetry - power-cycle the desk and try again"
	}

	if errors.Is(err, desk.ErrWriteFailed) {
		return fmt.Sprintf("desk stopped accepting commands: %v", err)
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return "operation timed out"
	}

	return err.Error()
}
