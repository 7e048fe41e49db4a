// internal/ssh/errors.go

package ssh

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// ConnectionRefusedError oznacza odmowę połączenia TCP
type ConnectionRefusedError struct {
	Address string
	Err     error
}

func (e *ConnectionRefusedError) Error() string {
	return fmt.Sprintf("connection refused: %s", e.Address)
}

func (e *ConnectionRefusedError) Unwrap() error { return e.Err }

// AuthenticationFailedError oznacza odrzucenie uwierzytelnienia
type AuthenticationFailedError struct {
	User string
	Err  error
}

func (e *AuthenticationFailedError) Error() string {
	return fmt.Sprintf("authentication failed for user %q", e.User)
}

func (e *AuthenticationFailedError) Unwrap() error { return e.Err }

// SessionNotFoundError oznacza odwołanie do nieistniejącej sesji
type SessionNotFoundError struct {
	SessionID string
}

func (e *SessionNotFoundError) Error() string {
	return fmt.Sprintf("session not found: %s", e.SessionID)
}

// LegacyAlgorithmsRequiredError informuje, że host negocjuje wyłącznie
// starsze algorytmy, a użytkownik nie włączył trybu legacy.
type LegacyAlgorithmsRequiredError struct {
	Host    string
	Classes []string
}

func (e *LegacyAlgorithmsRequiredError) Error() string {
	return fmt.Sprintf("host %s requires legacy algorithms (%s); enable legacy mode to connect",
		e.Host, strings.Join(e.Classes, ", "))
}

// TransportError to ogólny błąd warstwy transportowej
type TransportError struct {
	Message string
	Err     error
}

func (e *TransportError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *TransportError) Unwrap() error { return e.Err }

// JumpHostVerificationError - odrzucony odcisk klucza hosta pośredniego
type JumpHostVerificationError struct {
	JumpHost  string
	Challenge *Challenge
}

func (e *JumpHostVerificationError) Error() string {
	return fmt.Sprintf("jump host %s key verification failed", e.JumpHost)
}

// JumpHostAuthError - nieudane uwierzytelnienie na hoście pośrednim
type JumpHostAuthError struct {
	JumpHost string
	Err      error
}

func (e *JumpHostAuthError) Error() string {
	return fmt.Sprintf("jump host %s authentication failed", e.JumpHost)
}

func (e *JumpHostAuthError) Unwrap() error { return e.Err }

// JumpHostConnectionError - nieudane połączenie z celem przez hosta pośredniego
type JumpHostConnectionError struct {
	Target  string
	Message string
	Err     error
}

func (e *JumpHostConnectionError) Error() string {
	return fmt.Sprintf("connection to %s via jump host failed: %s", e.Target, e.Message)
}

func (e *JumpHostConnectionError) Unwrap() error { return e.Err }

// HostVerificationRequiredError wymaga decyzji użytkownika o zaufaniu
// przedstawionemu kluczowi hosta. Nigdy nie jest ponawiany automatycznie.
type HostVerificationRequiredError struct {
	Challenge Challenge
}

func (e *HostVerificationRequiredError) Error() string {
	if e.Challenge.IsMismatch {
		return fmt.Sprintf("host key for %s has CHANGED (presented %s)", e.Challenge.Address(), e.Challenge.Fingerprint)
	}
	return fmt.Sprintf("host key for %s is not known (presented %s)", e.Challenge.Address(), e.Challenge.Fingerprint)
}

// HostKeyAlgorithmMismatchError - wynegocjowany typ klucza hosta nie
// pasuje do listy przypiętej w konfiguracji hosta.
type HostKeyAlgorithmMismatchError struct {
	Expected  []string
	Presented string
}

func (e *HostKeyAlgorithmMismatchError) Error() string {
	return fmt.Sprintf("host key algorithm %s does not match pinned algorithms %s",
		e.Presented, strings.Join(e.Expected, ", "))
}

// IsNetworkError klasyfikuje błąd jako sieciowy (nieosiągalny adres,
// timeout, odmowa, DNS). Dla takich błędów fallback algorytmów nie ma
// sensu i jest pomijany.
func IsNetworkError(err error) bool {
	if err == nil {
		return false
	}
	var refused *ConnectionRefusedError
	if errors.As(err, &refused) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return false
}

// IsAuthError klasyfikuje błąd jako błąd uwierzytelnienia
func IsAuthError(err error) bool {
	if err == nil {
		return false
	}
	var authErr *AuthenticationFailedError
	if errors.As(err, &authErr) {
		return true
	}
	// x/crypto/ssh nie eksportuje typu błędu uwierzytelnienia
	return strings.Contains(err.Error(), "unable to authenticate")
}

// IsVerificationRequired sprawdza czy błąd wymaga decyzji użytkownika
// o zaufaniu kluczowi hosta - docelowego albo pośredniego. Takie błędy
// nigdy nie są ponawiane automatycznie.
func IsVerificationRequired(err error) bool {
	var verr *HostVerificationRequiredError
	if errors.As(err, &verr) {
		return true
	}
	var jerr *JumpHostVerificationError
	return errors.As(err, &jerr)
}
