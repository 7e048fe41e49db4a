// internal/ssh/known_hosts.go

package ssh

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
)

// VerificationStatus to wynik oceny klucza hosta
type VerificationStatus int

const (
	StatusTrusted VerificationStatus = iota
	StatusNeedsApproval
)

// Challenge opisuje klucz hosta oczekujący na decyzję użytkownika.
// ExpectedFingerprint jest nil przy pierwszym kontakcie, a IsMismatch
// oznacza zmianę klucza znanego hosta (potencjalny MITM).
type Challenge struct {
	Hostname            string  `json:"hostname"`
	Port                int     `json:"port"`
	KeyType             string  `json:"key_type"`
	Fingerprint         string  `json:"fingerprint"`
	ExpectedFingerprint *string `json:"expected_fingerprint,omitempty"`
	IsMismatch          bool    `json:"is_mismatch"`
}

// Address zwraca adres wyzwania w formacie host:port
func (c *Challenge) Address() string {
	return net.JoinHostPort(c.Hostname, strconv.Itoa(c.Port))
}

// VerificationResult to wynik Evaluate
type VerificationResult struct {
	Status    VerificationStatus
	Challenge *Challenge
}

// KnownHostEntry to jeden utrwalony wpis zaufania
type KnownHostEntry struct {
	Hostname     string    `json:"hostname"`
	Port         int       `json:"port"`
	KeyType      string    `json:"key_type"`
	Fingerprint  string    `json:"fingerprint"`
	FirstTrusted time.Time `json:"first_trusted"`
	LastVerified time.Time `json:"last_verified"`
}

// KnownHostsVerifier utrzymuje magazyn trust-on-first-use. Wszystkie
// odczyty i zapisy są serializowane jednym mutexem; zapis pliku jest
// atomowy (plik tymczasowy + rename), żeby równoległe sesje nie gubiły
// wpisów.
type KnownHostsVerifier struct {
	mu      sync.Mutex
	path    string
	entries map[string]*KnownHostEntry

	// RequireApprovalOnFirstUse wymusza jawną zgodę także przy
	// pierwszym kontakcie z hostem. Domyślnie pierwszy kontakt jest
	// zaufany automatycznie (TOFU).
	RequireApprovalOnFirstUse bool
}

// NewKnownHostsVerifier wczytuje magazyn z podanej ścieżki. Brak pliku
// oznacza pusty magazyn.
func NewKnownHostsVerifier(path string) (*KnownHostsVerifier, error) {
	v := &KnownHostsVerifier{
		path:    path,
		entries: make(map[string]*KnownHostEntry),
	}
	if err := v.load(); err != nil {
		return nil, err
	}
	return v, nil
}

func entryKey(hostname string, port int, keyType string) string {
	return fmt.Sprintf("%s:%d/%s", strings.ToLower(hostname), port, strings.ToLower(keyType))
}

func (v *KnownHostsVerifier) load() error {
	data, err := os.ReadFile(v.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to read known hosts file: %v", err)
	}

	var entries []*KnownHostEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return fmt.Errorf("failed to parse known hosts file: %v", err)
	}
	for _, e := range entries {
		v.entries[entryKey(e.Hostname, e.Port, e.KeyType)] = e
	}
	return nil
}

// save zapisuje magazyn atomowo. Wołający trzyma v.mu.
func (v *KnownHostsVerifier) save() error {
	entries := make([]*KnownHostEntry, 0, len(v.entries))
	for _, e := range v.entries {
		entries = append(entries, e)
	}

	data, err := json.MarshalIndent(entries, "", "    ")
	if err != nil {
		return fmt.Errorf("failed to marshal known hosts: %v", err)
	}

	dir := filepath.Dir(v.path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create known hosts directory: %v", err)
	}

	tmp, err := os.CreateTemp(dir, ".known_hosts-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %v", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write known hosts: %v", err)
	}
	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to chmod known hosts: %v", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close known hosts: %v", err)
	}
	if err := os.Rename(tmpName, v.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace known hosts: %v", err)
	}
	return nil
}

// Evaluate ocenia przedstawiony odcisk klucza hosta. Pusty odcisk lub
// wartość "unknown" to twardy błąd transportu - nigdy ciche zaufanie.
func (v *KnownHostsVerifier) Evaluate(hostname string, port int, keyType, fingerprint string) (VerificationResult, error) {
	if fingerprint == "" || strings.EqualFold(fingerprint, "unknown") {
		return VerificationResult{}, &TransportError{Message: "transport presented no usable host key fingerprint"}
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	key := entryKey(hostname, port, keyType)
	entry, ok := v.entries[key]

	if !ok {
		if v.RequireApprovalOnFirstUse {
			return VerificationResult{
				Status: StatusNeedsApproval,
				Challenge: &Challenge{
					Hostname:    strings.ToLower(hostname),
					Port:        port,
					KeyType:     keyType,
					Fingerprint: fingerprint,
				},
			}, nil
		}

		// Pierwszy kontakt: zaufaj i utrwal
		now := time.Now()
		v.entries[key] = &KnownHostEntry{
			Hostname:     strings.ToLower(hostname),
			Port:         port,
			KeyType:      keyType,
			Fingerprint:  fingerprint,
			FirstTrusted: now,
			LastVerified: now,
		}
		if err := v.save(); err != nil {
			return VerificationResult{}, err
		}
		return VerificationResult{Status: StatusTrusted}, nil
	}

	if entry.Fingerprint == fingerprint {
		// Odśwież znacznik ostatniej weryfikacji; błąd zapisu nie
		// blokuje połączenia.
		entry.LastVerified = time.Now()
		_ = v.save()
		return VerificationResult{Status: StatusTrusted}, nil
	}

	// Zmieniony klucz znanego hosta - nigdy nie ufaj automatycznie
	expected := entry.Fingerprint
	return VerificationResult{
		Status: StatusNeedsApproval,
		Challenge: &Challenge{
			Hostname:            strings.ToLower(hostname),
			Port:                port,
			KeyType:             keyType,
			Fingerprint:         fingerprint,
			ExpectedFingerprint: &expected,
			IsMismatch:          true,
		},
	}, nil
}

// Trust bezwarunkowo utrwala odcisk z wyzwania jako zaufany. Samo
// wywołanie Trust jest jawną zgodą użytkownika.
func (v *KnownHostsVerifier) Trust(challenge *Challenge) error {
	if challenge == nil {
		return errors.New("nil challenge")
	}
	if challenge.Fingerprint == "" {
		return errors.New("challenge has no fingerprint")
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	key := entryKey(challenge.Hostname, challenge.Port, challenge.KeyType)
	now := time.Now()
	if existing, ok := v.entries[key]; ok {
		existing.Fingerprint = challenge.Fingerprint
		existing.LastVerified = now
	} else {
		v.entries[key] = &KnownHostEntry{
			Hostname:     strings.ToLower(challenge.Hostname),
			Port:         challenge.Port,
			KeyType:      challenge.KeyType,
			Fingerprint:  challenge.Fingerprint,
			FirstTrusted: now,
			LastVerified: now,
		}
	}
	return v.save()
}

// Lookup zwraca utrwalony wpis dla hosta, jeśli istnieje
func (v *KnownHostsVerifier) Lookup(hostname string, port int, keyType string) (*KnownHostEntry, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	e, ok := v.entries[entryKey(hostname, port, keyType)]
	if !ok {
		return nil, false
	}
	copied := *e
	return &copied, true
}
