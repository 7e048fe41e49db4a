// internal/models/forward.go

package models

import (
	"fmt"
	"net"
	"strconv"
)

// DefaultForwardConnectionCap ogranicza liczbę równoczesnych połączeń
// na jedną regułę przekierowania, jeśli reguła nie podaje własnego limitu.
const DefaultForwardConnectionCap = 32

// PortForwardRule opisuje jedno lokalne przekierowanie portu
type PortForwardRule struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	LocalHost  string `json:"local_host"`
	LocalPort  int    `json:"local_port"`
	RemoteHost string `json:"remote_host"`
	RemotePort int    `json:"remote_port"`
	Enabled    bool   `json:"enabled"`
	MaxConns   int    `json:"max_conns,omitempty"`
}

// LocalAddress zwraca adres nasłuchu w formacie host:port
func (r *PortForwardRule) LocalAddress() string {
	host := r.LocalHost
	if host == "" {
		host = "127.0.0.1"
	}
	return net.JoinHostPort(host, strconv.Itoa(r.LocalPort))
}

// ConnectionCap zwraca efektywny limit równoczesnych połączeń
func (r *PortForwardRule) ConnectionCap() int {
	if r.MaxConns > 0 {
		return r.MaxConns
	}
	return DefaultForwardConnectionCap
}

// Validate sprawdza poprawność reguły
func (r *PortForwardRule) Validate() error {
	// Port lokalny 0 oznacza port efemeryczny przydzielony przez system
	if r.LocalPort < 0 || r.LocalPort > 65535 {
		return fmt.Errorf("invalid local port: %d", r.LocalPort)
	}
	if r.RemoteHost == "" {
		return fmt.Errorf("remote host cannot be empty")
	}
	if r.RemotePort <= 0 || r.RemotePort > 65535 {
		return fmt.Errorf("invalid remote port: %d", r.RemotePort)
	}
	return nil
}

// ForwardState reprezentuje stan aktywnego przekierowania
type ForwardState string

const (
	ForwardListening ForwardState = "listening"
	ForwardError     ForwardState = "error"
	ForwardStopped   ForwardState = "stopped"
)

// ActivePortForward opisuje jedno działające przekierowanie w ramach sesji
type ActivePortForward struct {
	ID        string          `json:"id"`
	Rule      PortForwardRule `json:"rule"`
	SessionID string          `json:"session_id"`
	State     ForwardState    `json:"state"`
	LiveConns int             `json:"live_conns"`
	Error     string          `json:"error,omitempty"`
}
