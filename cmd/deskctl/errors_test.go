package main

import (
	"errors"
	"fmt"
	"testing"

	"github.com/srg/deskctl/internal/desk"
	"github.com/srg/deskctl/internal/protocol"
	"github.com/srg/deskctl/internal/refresher"
	"github.com/stretchr/testify/assert"
)

func TestFormatUserError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		contains string
	}{
		{
			name:     "connect failure names the address",
			err:      &desk.ConnectError{Address: "EC:5B:36:01:02:03", Err: errors.New("dial timeout")},
			contains: "EC:5B:36:01:02:03",
		},
		{
			name:     "out-of-range target names the limit",
			err:      &protocol.TargetOutOfRangeError{TargetCM: 90},
			contains: "outside the desk's travel",
		},
		{
			name:     "not ready suggests a power cycle",
			err:      fmt.Errorf("start: %w", refresher.ErrNotReady),
			contains: "power-cycle",
		},
		{
			name:     "write failure",
			err:      fmt.Errorf("%w: att timeout", desk.ErrWriteFailed),
			contains: "stopped accepting commands",
		},
		{
			name:     "unknown errors pass through",
			err:      errors.New("something else"),
			contains: "something else",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Contains(t, FormatUserError(tt.err), tt.contains)
		})
	}

	assert.Empty(t, FormatUserError(nil))
}
