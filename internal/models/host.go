// internal/models/host.go

package models

import (
	"fmt"
	"net"
	"strconv"
)

// AuthMethod określa sposób uwierzytelnienia hosta
type AuthMethod string

const (
	AuthPassword            AuthMethod = "password"
	AuthPublicKey           AuthMethod = "public-key"
	AuthCertificate         AuthMethod = "certificate"
	AuthKeyboardInteractive AuthMethod = "keyboard-interactive"
)

// Host opisuje jeden zdefiniowany serwer SSH. Struktura jest niemutowalna
// w trakcie próby połączenia - zmienia ją tylko zarządzanie hostami.
type Host struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`

	Hostname string `json:"hostname"`
	Port     int    `json:"port"`
	Username string `json:"username"`

	AuthMethod    AuthMethod `json:"auth_method"`
	PasswordID    int        `json:"password_id"`
	KeyID         int        `json:"key_id"`
	CertificateID int        `json:"certificate_id"`

	// JumpHostID wskazuje hosta pośredniego z konfiguracji. Puste pole
	// oznacza połączenie bezpośrednie.
	JumpHostID string `json:"jump_host_id,omitempty"`

	// PinnedHostKeyAlgorithms zawęża akceptowane typy klucza hosta.
	// Pusta lista oznacza domyślne algorytmy polityki.
	PinnedHostKeyAlgorithms []string `json:"pinned_host_key_algorithms,omitempty"`

	// LegacyMode pozwala na jawny fallback do starszych algorytmów.
	// Bez tej flagi fallback nigdy nie następuje automatycznie.
	LegacyMode bool `json:"legacy_mode"`

	AgentForwarding bool   `json:"agent_forwarding"`
	TerminalType    string `json:"terminal_type"`
	KeepAlive       bool   `json:"keep_alive"`
	Compression     bool   `json:"compression"`

	ForwardRules []PortForwardRule `json:"forward_rules,omitempty"`
}

// Address zwraca adres hosta w formacie host:port
func (h *Host) Address() string {
	return net.JoinHostPort(h.Hostname, strconv.Itoa(h.Port))
}

// Validate sprawdza poprawność danych hosta
func (h *Host) Validate() error {
	if h.Hostname == "" {
		return fmt.Errorf("hostname cannot be empty")
	}
	if h.Port <= 0 || h.Port > 65535 {
		return fmt.Errorf("invalid port: %d", h.Port)
	}
	if h.Username == "" {
		return fmt.Errorf("username cannot be empty")
	}
	return nil
}

type Config struct {
	Hosts     []Host     `json:"hosts"`
	Passwords []Password `json:"passwords"`
	Keys      []Key      `json:"keys"`
}
