// internal/config/settings.go

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Settings zbiera parametry czasowe i ścieżki runtime. Wartości można
// nadpisać zmiennymi środowiskowymi z prefiksem PROSSH.
type Settings struct {
	ConnectTimeout    time.Duration `envconfig:"CONNECT_TIMEOUT" default:"10s"`
	KeepAliveInterval time.Duration `envconfig:"KEEPALIVE_INTERVAL" default:"30s"`

	// PublishInterval to okno koalescencji publikacji snapshotów,
	// dobrane do typowego odświeżania ekranu.
	PublishInterval time.Duration `envconfig:"PUBLISH_INTERVAL" default:"16ms"`

	// ResizeDebounce opóźnia wysłanie zmiany rozmiaru PTY do zdalnego
	// hosta podczas interaktywnego przeciągania okna.
	ResizeDebounce time.Duration `envconfig:"RESIZE_DEBOUNCE" default:"150ms"`

	// ReconnectDelay to krótka zwłoka po przejściu sieci w stan
	// osiągalny; ReconnectInterval to okresowa ponowna próba.
	ReconnectDelay    time.Duration `envconfig:"RECONNECT_DELAY" default:"2s"`
	ReconnectInterval time.Duration `envconfig:"RECONNECT_INTERVAL" default:"30s"`

	ProbeAddress  string        `envconfig:"PROBE_ADDRESS" default:"1.1.1.1:443"`
	ProbeInterval time.Duration `envconfig:"PROBE_INTERVAL" default:"10s"`

	KnownHostsPath string `envconfig:"KNOWN_HOSTS_PATH"`
	AuditDBPath    string `envconfig:"AUDIT_DB_PATH"`

	TerminalType string `envconfig:"TERMINAL_TYPE" default:"xterm-256color"`
}

// LoadSettings wczytuje ustawienia ze środowiska i uzupełnia domyślne
// ścieżki względem katalogu konfiguracyjnego.
func LoadSettings() (Settings, error) {
	var s Settings
	if err := envconfig.Process("prossh", &s); err != nil {
		return s, fmt.Errorf("failed to process settings: %v", err)
	}

	if s.KnownHostsPath == "" || s.AuditDBPath == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return s, fmt.Errorf("could not get home directory: %v", err)
		}
		dir := filepath.Join(homeDir, DefaultConfigDir)
		if s.KnownHostsPath == "" {
			s.KnownHostsPath = filepath.Join(dir, "known_hosts.json")
		}
		if s.AuditDBPath == "" {
			s.AuditDBPath = filepath.Join(dir, "audit.db")
		}
	}

	return s, nil
}
