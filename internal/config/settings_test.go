// internal/config/settings_test.go

package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadSettingsDefaults(t *testing.T) {
	s, err := LoadSettings()
	require.NoError(t, err)

	assert.Equal(t, 10*time.Second, s.ConnectTimeout)
	assert.Equal(t, 30*time.Second, s.KeepAliveInterval)
	assert.Equal(t, 16*time.Millisecond, s.PublishInterval)
	assert.Equal(t, 150*time.Millisecond, s.ResizeDebounce)
	assert.Equal(t, 2*time.Second, s.ReconnectDelay)
	assert.Equal(t, 30*time.Second, s.ReconnectInterval)
	assert.Equal(t, "1.1.1.1:443", s.ProbeAddress)
	assert.Equal(t, "xterm-256color", s.TerminalType)

	// Ścieżki magazynów są zawsze uzupełniane
	assert.NotEmpty(t, s.KnownHostsPath)
	assert.NotEmpty(t, s.AuditDBPath)
}

func TestLoadSettingsEnvOverride(t *testing.T) {
	t.Setenv("PROSSH_CONNECT_TIMEOUT", "3s")
	t.Setenv("PROSSH_PUBLISH_INTERVAL", "8ms")
	t.Setenv("PROSSH_KNOWN_HOSTS_PATH", "/tmp/kh.json")

	s, err := LoadSettings()
	require.NoError(t, err)
	assert.Equal(t, 3*time.Second, s.ConnectTimeout)
	assert.Equal(t, 8*time.Millisecond, s.PublishInterval)
	assert.Equal(t, "/tmp/kh.json", s.KnownHostsPath)
}
