package transport_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/srg/deskctl/internal/transport"
	"github.com/stretchr/testify/assert"
)

func TestNormalizeUUID(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"99FA0021-338A-1024-8A49-009C0215F78A", "99fa0021338a10248a49009c0215f78a"},
		{"99fa0021338a10248a49009c0215f78a", "99fa0021338a10248a49009c0215f78a"},
		{"180F", "180f"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, transport.NormalizeUUID(tt.in))
	}
}

func TestConnectionError(t *testing.T) {
	t.Run("matches sentinels by state", func(t *testing.T) {
		err := &transport.ConnectionError{State: transport.NotConnected, Msg: "link dropped"}

		assert.ErrorIs(t, err, transport.ErrNotConnected)
		assert.NotErrorIs(t, err, transport.ErrAlreadyConnected)
	})

	t.Run("survives wrapping", func(t *testing.T) {
		err := fmt.Errorf("write: %w", transport.ErrNotConnected)
		assert.ErrorIs(t, err, transport.ErrNotConnected)
	})
}

func TestNormalizeError(t *testing.T) {
	t.Run("maps known messages to sentinels", func(t *testing.T) {
		err := transport.NormalizeError(errors.New("ATT request failed: device not connected"))
		assert.ErrorIs(t, err, transport.ErrNotConnected)

		err = transport.NormalizeError(errors.New("device already connected"))
		assert.ErrorIs(t, err, transport.ErrAlreadyConnected)
	})

	t.Run("passes unknown errors through", func(t *testing.T) {
		original := errors.New("att timeout")
		assert.Equal(t, original, transport.NormalizeError(original))
	})

	t.Run("nil stays nil", func(t *testing.T) {
		assert.NoError(t, transport.NormalizeError(nil))
	})
}
