package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	cfg := Default()
	cfg.Device.URL = "wss://codec.local/ws"
	cfg.Device.Username = "admin"
	return cfg
}

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "1001", cfg.Zoom.Mute)
	assert.Equal(t, "12", cfg.Zoom.Unmute)
	assert.Equal(t, int64(700000), cfg.Zoom.MuteMediaTrigger)
	assert.Equal(t, "zoomcrc.com", cfg.Zoom.BridgeDomain)
	assert.Equal(t, 500*time.Millisecond, cfg.Monitor.PollInterval)
	assert.Equal(t, 500*time.Millisecond, cfg.Monitor.InitialDelay)
	assert.Equal(t, 5*time.Second, cfg.Monitor.SettleWindow)
	assert.Equal(t, 2, cfg.Monitor.Revision)
	assert.Zero(t, cfg.Monitor.MaxPollDuration)
	assert.Empty(t, cfg.StatusAddr)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr error
	}{
		{"valid", func(*Config) {}, nil},
		{"missing url", func(c *Config) { c.Device.URL = "" }, ErrMissingDeviceURL},
		{"missing username", func(c *Config) { c.Device.Username = "" }, ErrMissingCredentials},
		{"missing domain", func(c *Config) { c.Zoom.BridgeDomain = "" }, ErrMissingBridgeDomain},
		{"bad dtmf", func(c *Config) { c.Zoom.Mute = "10x1" }, ErrInvalidDTMF},
		{"empty dtmf disables signal", func(c *Config) { c.Zoom.HideNonVideo = "" }, nil},
		{"zero trigger", func(c *Config) { c.Zoom.MuteMediaTrigger = 0 }, ErrInvalidTrigger},
		{"zero interval", func(c *Config) { c.Monitor.PollInterval = 0 }, ErrInvalidInterval},
		{"bad revision", func(c *Config) { c.Monitor.Revision = 3 }, ErrInvalidRevision},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestValidDTMF(t *testing.T) {
	assert.True(t, ValidDTMF("1001"))
	assert.True(t, ValidDTMF("*6#"))
	assert.True(t, ValidDTMF("ABCD"))
	assert.True(t, ValidDTMF(""))
	assert.False(t, ValidDTMF("12 3"))
	assert.False(t, ValidDTMF("abc"))
}

func TestLoad_LayersFileEnvFlags(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yamlData := `
device:
  url: wss://from-file/ws
  username: file-user
zoom:
  mute: "999"
  mute_media_trigger: 500000
monitor:
  poll_interval: 250ms
  revision: 1
`
	require.NoError(t, os.WriteFile(path, []byte(yamlData), 0o600))

	t.Setenv("XAPI_USERNAME", "env-user")
	t.Setenv("ZOOM_UNMUTE_CODE", "77")

	cfg, err := Load([]string{"-config", path, "-trigger", "800000"})
	require.NoError(t, err)

	assert.Equal(t, "wss://from-file/ws", cfg.Device.URL)
	assert.Equal(t, "env-user", cfg.Device.Username)
	assert.Equal(t, "999", cfg.Zoom.Mute)
	assert.Equal(t, "77", cfg.Zoom.Unmute)
	assert.Equal(t, int64(800000), cfg.Zoom.MuteMediaTrigger)
	assert.Equal(t, 250*time.Millisecond, cfg.Monitor.PollInterval)
	assert.Equal(t, 1, cfg.Monitor.Revision)
	// untouched defaults survive
	assert.Equal(t, "zoomcrc.com", cfg.Zoom.BridgeDomain)
	assert.Equal(t, 5*time.Second, cfg.Monitor.SettleWindow)
}

func TestLoad_EnvFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("XAPI_URL=wss://from-env-file/ws\nBRIDGE_DOMAIN=example.zoomcrc.com\n"), 0o600))

	t.Cleanup(func() {
		os.Unsetenv("XAPI_URL")
		os.Unsetenv("BRIDGE_DOMAIN")
	})

	cfg, err := Load([]string{"-env-file", path})
	require.NoError(t, err)
	assert.Equal(t, "wss://from-env-file/ws", cfg.Device.URL)
	assert.Equal(t, "example.zoomcrc.com", cfg.Zoom.BridgeDomain)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load([]string{"-config", filepath.Join(t.TempDir(), "nope.yaml")})
	assert.Error(t, err)
}
