// internal/ssh/known_hosts_test.go

package ssh

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestVerifier(t *testing.T) (*KnownHostsVerifier, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "known_hosts.json")
	v, err := NewKnownHostsVerifier(path)
	require.NoError(t, err)
	return v, path
}

func TestFirstUseIsTrustedAndPersisted(t *testing.T) {
	v, path := newTestVerifier(t)

	res, err := v.Evaluate("example.com", 22, "ssh-ed25519", "SHA256:aaa")
	require.NoError(t, err)
	assert.Equal(t, StatusTrusted, res.Status)

	// Wpis przeżywa restart procesu
	reloaded, err := NewKnownHostsVerifier(path)
	require.NoError(t, err)
	entry, ok := reloaded.Lookup("example.com", 22, "ssh-ed25519")
	require.True(t, ok)
	assert.Equal(t, "SHA256:aaa", entry.Fingerprint)
	assert.False(t, entry.FirstTrusted.IsZero())
}

func TestMatchingFingerprintStaysTrusted(t *testing.T) {
	v, _ := newTestVerifier(t)

	_, err := v.Evaluate("example.com", 22, "ssh-ed25519", "SHA256:aaa")
	require.NoError(t, err)

	res, err := v.Evaluate("example.com", 22, "ssh-ed25519", "SHA256:aaa")
	require.NoError(t, err)
	assert.Equal(t, StatusTrusted, res.Status)
}

func TestChangedKeyNeedsApproval(t *testing.T) {
	v, _ := newTestVerifier(t)

	_, err := v.Evaluate("example.com", 22, "ssh-ed25519", "SHA256:aaa")
	require.NoError(t, err)

	res, err := v.Evaluate("example.com", 22, "ssh-ed25519", "SHA256:bbb")
	require.NoError(t, err)
	require.Equal(t, StatusNeedsApproval, res.Status)
	require.NotNil(t, res.Challenge)
	assert.True(t, res.Challenge.IsMismatch)
	assert.Equal(t, "SHA256:bbb", res.Challenge.Fingerprint)
	require.NotNil(t, res.Challenge.ExpectedFingerprint)
	assert.Equal(t, "SHA256:aaa", *res.Challenge.ExpectedFingerprint)

	// Odmowa zaufania nie zmienia magazynu
	entry, ok := v.Lookup("example.com", 22, "ssh-ed25519")
	require.True(t, ok)
	assert.Equal(t, "SHA256:aaa", entry.Fingerprint)
}

func TestTrustOverwritesChangedKey(t *testing.T) {
	v, _ := newTestVerifier(t)

	_, err := v.Evaluate("example.com", 22, "ssh-ed25519", "SHA256:aaa")
	require.NoError(t, err)

	res, err := v.Evaluate("example.com", 22, "ssh-ed25519", "SHA256:bbb")
	require.NoError(t, err)
	require.Equal(t, StatusNeedsApproval, res.Status)

	require.NoError(t, v.Trust(res.Challenge))

	res, err = v.Evaluate("example.com", 22, "ssh-ed25519", "SHA256:bbb")
	require.NoError(t, err)
	assert.Equal(t, StatusTrusted, res.Status)
}

func TestRequireApprovalOnFirstUse(t *testing.T) {
	v, _ := newTestVerifier(t)
	v.RequireApprovalOnFirstUse = true

	res, err := v.Evaluate("example.com", 22, "ssh-ed25519", "SHA256:aaa")
	require.NoError(t, err)
	require.Equal(t, StatusNeedsApproval, res.Status)
	require.NotNil(t, res.Challenge)
	assert.False(t, res.Challenge.IsMismatch)
	assert.Nil(t, res.Challenge.ExpectedFingerprint)

	// Dopiero Trust utrwala wpis
	_, ok := v.Lookup("example.com", 22, "ssh-ed25519")
	assert.False(t, ok)

	require.NoError(t, v.Trust(res.Challenge))
	res, err = v.Evaluate("example.com", 22, "ssh-ed25519", "SHA256:aaa")
	require.NoError(t, err)
	assert.Equal(t, StatusTrusted, res.Status)
}

func TestEmptyFingerprintIsHardError(t *testing.T) {
	v, _ := newTestVerifier(t)

	_, err := v.Evaluate("example.com", 22, "ssh-ed25519", "")
	require.Error(t, err)

	_, err = v.Evaluate("example.com", 22, "ssh-ed25519", "Unknown")
	require.Error(t, err)

	// Błąd nie zostawia śladu w magazynie
	_, ok := v.Lookup("example.com", 22, "ssh-ed25519")
	assert.False(t, ok)
}

func TestHostnameMatchingIsCaseInsensitive(t *testing.T) {
	v, _ := newTestVerifier(t)

	_, err := v.Evaluate("Example.COM", 22, "ssh-ed25519", "SHA256:aaa")
	require.NoError(t, err)

	res, err := v.Evaluate("example.com", 22, "ssh-ed25519", "SHA256:aaa")
	require.NoError(t, err)
	assert.Equal(t, StatusTrusted, res.Status)
}

func TestTrustPreservesUnrelatedEntries(t *testing.T) {
	v, path := newTestVerifier(t)

	_, err := v.Evaluate("alpha.example.com", 22, "ssh-ed25519", "SHA256:aaa")
	require.NoError(t, err)
	_, err = v.Evaluate("beta.example.com", 22, "ssh-ed25519", "SHA256:bbb")
	require.NoError(t, err)

	require.NoError(t, v.Trust(&Challenge{
		Hostname: "gamma.example.com", Port: 22,
		KeyType: "ssh-ed25519", Fingerprint: "SHA256:ccc",
	}))

	// Przepisanie pliku nie gubi wpisów innych hostów
	reloaded, err := NewKnownHostsVerifier(path)
	require.NoError(t, err)
	for _, host := range []string{"alpha.example.com", "beta.example.com", "gamma.example.com"} {
		_, ok := reloaded.Lookup(host, 22, "ssh-ed25519")
		assert.True(t, ok, host)
	}
}

func TestDifferentPortsAreSeparateIdentities(t *testing.T) {
	v, _ := newTestVerifier(t)

	_, err := v.Evaluate("example.com", 22, "ssh-ed25519", "SHA256:aaa")
	require.NoError(t, err)

	// Inny port to osobna tożsamość, więc znowu pierwszy kontakt
	res, err := v.Evaluate("example.com", 2222, "ssh-ed25519", "SHA256:bbb")
	require.NoError(t, err)
	assert.Equal(t, StatusTrusted, res.Status)
}
