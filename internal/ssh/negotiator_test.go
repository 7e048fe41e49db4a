// internal/ssh/negotiator_test.go

package ssh

import (
	"context"
	"errors"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"prossh/internal/models"
)

func testHost() models.Host {
	return models.Host{
		ID:         "h1",
		Name:       "test",
		Hostname:   "example.com",
		Port:       22,
		Username:   "user",
		AuthMethod: models.AuthPassword,
	}
}

func TestNegotiateModernServer(t *testing.T) {
	srv := NewSimServer()
	n := NewNegotiator(SimFactory(srv), nil, nil)

	transport, details, err := n.Negotiate(context.Background(), NegotiateRequest{
		Host: testHost(),
		Auth: AuthMaterial{Method: models.AuthPassword},
	})
	require.NoError(t, err)
	defer transport.Disconnect()

	assert.False(t, details.UsedLegacyAlgorithms)
	assert.Empty(t, details.SecurityAdvisory)
	assert.Equal(t, "ssh-ed25519", details.HostKeyType)
	assert.Equal(t, srv.Fingerprint, details.Fingerprint)
}

func TestNegotiateLegacyOnlyServerWithoutConsent(t *testing.T) {
	srv := NewSimServer()
	srv.AcceptModern = false
	n := NewNegotiator(SimFactory(srv), nil, nil)

	_, _, err := n.Negotiate(context.Background(), NegotiateRequest{
		Host: testHost(),
		Auth: AuthMaterial{Method: models.AuthPassword},
	})
	require.Error(t, err)

	// Bez zgody użytkownika nie ma cichego fallbacku: błąd wskazuje,
	// że host wymaga algorytmów legacy.
	var lerr *LegacyAlgorithmsRequiredError
	require.ErrorAs(t, err, &lerr)
	assert.NotEmpty(t, lerr.Classes)
}

func TestNegotiateLegacyOnlyServerWithConsent(t *testing.T) {
	srv := NewSimServer()
	srv.AcceptModern = false
	n := NewNegotiator(SimFactory(srv), nil, nil)

	host := testHost()
	host.LegacyMode = true

	transport, details, err := n.Negotiate(context.Background(), NegotiateRequest{
		Host: host,
		Auth: AuthMaterial{Method: models.AuthPassword},
	})
	require.NoError(t, err)
	defer transport.Disconnect()

	assert.True(t, details.UsedLegacyAlgorithms)
	assert.NotEmpty(t, details.SecurityAdvisory)
}

func TestNegotiateModernServerWithConsentStaysModern(t *testing.T) {
	srv := NewSimServer()
	n := NewNegotiator(SimFactory(srv), nil, nil)

	// Zgoda na legacy nie obniża polityki, gdy modern działa
	host := testHost()
	host.LegacyMode = true

	transport, details, err := n.Negotiate(context.Background(), NegotiateRequest{
		Host: host,
		Auth: AuthMaterial{Method: models.AuthPassword},
	})
	require.NoError(t, err)
	defer transport.Disconnect()

	assert.False(t, details.UsedLegacyAlgorithms)
}

func TestNegotiateNetworkErrorSkipsFallback(t *testing.T) {
	srv := NewSimServer()
	netErr := &net.OpError{Op: "dial", Err: errors.New("connection refused")}
	srv.NetworkErr = netErr
	n := NewNegotiator(SimFactory(srv), nil, nil)

	_, _, err := n.Negotiate(context.Background(), NegotiateRequest{
		Host: testHost(),
		Auth: AuthMaterial{Method: models.AuthPassword},
	})
	require.Error(t, err)

	var lerr *LegacyAlgorithmsRequiredError
	assert.False(t, errors.As(err, &lerr), "network failure must not be diagnosed as an algorithm problem")
	assert.True(t, IsNetworkError(err))
}

func TestNegotiateAuthFailureOnProbeStillDiagnosesLegacy(t *testing.T) {
	srv := NewSimServer()
	srv.AcceptModern = false
	srv.Password = "correct"
	n := NewNegotiator(SimFactory(srv), nil, nil)

	// Handshake legacy przechodzi, uwierzytelnienie nie; to nadal
	// dowód, że host negocjuje wyłącznie algorytmy legacy.
	_, _, err := n.Negotiate(context.Background(), NegotiateRequest{
		Host: testHost(),
		Auth: AuthMaterial{Method: models.AuthPassword, Password: "wrong"},
	})
	require.Error(t, err)

	var lerr *LegacyAlgorithmsRequiredError
	require.ErrorAs(t, err, &lerr)
}

func TestNegotiateVerificationRequiredSurfacesDirectly(t *testing.T) {
	srv := NewSimServer()
	srv.AcceptModern = false
	n := NewNegotiator(SimFactory(srv), nil, nil)

	verify := func(hostname string, port int, keyType, fingerprint string) error {
		return &HostVerificationRequiredError{Challenge: Challenge{
			Hostname: hostname, Port: port, KeyType: keyType, Fingerprint: fingerprint,
		}}
	}

	// Symulator weryfikuje klucz dopiero po negocjacji, więc modern
	// pada wcześniej; wymuszamy ścieżkę legacy ze zgodą.
	host := testHost()
	host.LegacyMode = true

	_, _, err := n.Negotiate(context.Background(), NegotiateRequest{
		Host:          host,
		Auth:          AuthMaterial{Method: models.AuthPassword},
		VerifyHostKey: verify,
	})
	require.Error(t, err)
	assert.True(t, IsVerificationRequired(err))
}

func TestNegotiateJumpErrorsAreNotRetried(t *testing.T) {
	srv := NewSimServer()
	srv.JumpAuthErr = errors.New("permission denied")
	n := NewNegotiator(SimFactory(srv), nil, nil)

	jump := testHost()
	jump.ID = "jump"
	jump.Hostname = "bastion.example.com"

	_, _, err := n.Negotiate(context.Background(), NegotiateRequest{
		Host:     testHost(),
		Jump:     &jump,
		Auth:     AuthMaterial{Method: models.AuthPassword},
		JumpAuth: AuthMaterial{Method: models.AuthPassword},
	})
	require.Error(t, err)

	var jerr *JumpHostAuthError
	require.ErrorAs(t, err, &jerr)
}

type reachRecorder struct {
	forgotten []string
	failed    []string
}

func (r *reachRecorder) Forget(addr string)        { r.forgotten = append(r.forgotten, addr) }
func (r *reachRecorder) RecordFailure(addr string) { r.failed = append(r.failed, addr) }

func TestNegotiateInvalidatesReachabilityCache(t *testing.T) {
	srv := NewSimServer()
	rec := &reachRecorder{}
	n := NewNegotiator(SimFactory(srv), rec, nil)

	transport, _, err := n.Negotiate(context.Background(), NegotiateRequest{
		Host: testHost(),
		Auth: AuthMaterial{Method: models.AuthPassword},
	})
	require.NoError(t, err)
	defer transport.Disconnect()

	assert.Contains(t, rec.forgotten, "example.com:22")
	assert.Empty(t, rec.failed)
}

func TestNegotiateRecordsNetworkFailure(t *testing.T) {
	srv := NewSimServer()
	srv.NetworkErr = &net.OpError{Op: "dial", Err: errors.New("no route to host")}
	rec := &reachRecorder{}
	n := NewNegotiator(SimFactory(srv), rec, nil)

	_, _, err := n.Negotiate(context.Background(), NegotiateRequest{
		Host: testHost(),
		Auth: AuthMaterial{Method: models.AuthPassword},
	})
	require.Error(t, err)

	// Negatywny wynik trafia do pamięci osiągalności dopiero po
	// faktycznym błędzie sieciowym.
	assert.Contains(t, rec.failed, "example.com:22")
}
