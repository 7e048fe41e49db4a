// internal/models/session.go

package models

import "time"

// SessionState reprezentuje stan cyklu życia sesji
type SessionState string

const (
	StateConnecting   SessionState = "connecting"
	StateConnected    SessionState = "connected"
	StateDisconnected SessionState = "disconnected"
	StateFailed       SessionState = "failed"
)

// Session reprezentuje jedną logiczną próbę połączenia. Ponowne
// połączenie zawsze tworzy nową sesję z nowym ID - stare sesje nie są
// nigdy wskrzeszane.
type Session struct {
	ID       string `json:"id"`
	HostID   string `json:"host_id"`
	HostName string `json:"host_name"`

	State   SessionState       `json:"state"`
	Details *ConnectionDetails `json:"details,omitempty"`

	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at,omitempty"`

	// ErrorMessage jest ustawiane dokładnie raz, przy przejściu do
	// stanu disconnected lub failed.
	ErrorMessage string `json:"error_message,omitempty"`

	BytesReceived int64     `json:"bytes_received"`
	BytesSent     int64     `json:"bytes_sent"`
	LastActivity  time.Time `json:"last_activity"`
}

// IsTerminal informuje czy sesja zakończyła swój cykl życia
func (s *Session) IsTerminal() bool {
	return s.State == StateDisconnected || s.State == StateFailed
}

// ConnectionDetails zawiera wynegocjowane parametry transportu.
// Tworzone raz po udanej negocjacji, potem niemutowalne.
type ConnectionDetails struct {
	KexAlgorithm string `json:"kex_algorithm"`
	HostKeyType  string `json:"host_key_type"`
	Cipher       string `json:"cipher"`
	MAC          string `json:"mac"`

	Fingerprint string `json:"fingerprint"`

	UsedLegacyAlgorithms bool   `json:"used_legacy_algorithms"`
	SecurityAdvisory     string `json:"security_advisory,omitempty"`

	Backend string `json:"backend"`
}

// FileEntry opisuje pozycję w zdalnym katalogu
type FileEntry struct {
	Name    string    `json:"name"`
	Size    int64     `json:"size"`
	Mode    string    `json:"mode"`
	ModTime time.Time `json:"mod_time"`
	IsDir   bool      `json:"is_dir"`
}
