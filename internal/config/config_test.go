package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/srg/deskctl/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "deskctl.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefault(t *testing.T) {
	cfg := config.Default()

	assert.Equal(t, 62.0, cfg.BaseHeightCM)
	assert.Equal(t, 65.0, cfg.MovementRangeCM)
	assert.Equal(t, 60*time.Second, cfg.RefreshInterval)
	assert.Equal(t, 30*time.Second, cfg.ReadyTimeout)
	assert.Equal(t, 120*time.Second, cfg.IdleDelay)
	assert.Equal(t, 30*time.Second, cfg.ConnectTimeout)
	assert.Empty(t, cfg.Address)
}

func TestLoad(t *testing.T) {
	t.Run("full file", func(t *testing.T) {
		path := writeConfig(t, `
address: "EC:5B:36:01:02:03"
name: "Standing Desk"
base_height_cm: 68.5
movement_range_cm: 50
refresh_interval: 30s
idle_delay: 5m
`)

		cfg, err := config.Load(path)

		require.NoError(t, err)
		assert.Equal(t, "EC:5B:36:01:02:03", cfg.Address)
		assert.Equal(t, "Standing Desk", cfg.Name)
		assert.Equal(t, 68.5, cfg.BaseHeightCM)
		assert.Equal(t, 50.0, cfg.MovementRangeCM)
		assert.Equal(t, 30*time.Second, cfg.RefreshInterval)
		assert.Equal(t, 5*time.Minute, cfg.IdleDelay)
	})

	t.Run("absent fields keep defaults", func(t *testing.T) {
		path := writeConfig(t, `address: "EC:5B:36:01:02:03"`)

		cfg, err := config.Load(path)

		require.NoError(t, err)
		assert.Equal(t, 62.0, cfg.BaseHeightCM)
		assert.Equal(t, 120*time.Second, cfg.IdleDelay)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := config.Load(filepath.Join(t.TempDir(), "nope.yaml"))
		assert.Error(t, err)
	})

	t.Run("missing address", func(t *testing.T) {
		path := writeConfig(t, `name: "Desk"`)
		_, err := config.Load(path)
		assert.ErrorContains(t, err, "address is required")
	})

	t.Run("malformed address", func(t *testing.T) {
		path := writeConfig(t, `address: "not-an-address"`)
		_, err := config.Load(path)
		assert.ErrorContains(t, err, "not a valid Bluetooth address")
	})

	t.Run("non-positive interval", func(t *testing.T) {
		path := writeConfig(t, `
address: "EC:5B:36:01:02:03"
refresh_interval: 0s
`)
		_, err := config.Load(path)
		assert.ErrorContains(t, err, "intervals must be positive")
	})
}
