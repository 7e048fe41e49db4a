// internal/config/config_test.go

package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"prossh/internal/crypto"
	"prossh/internal/models"
)

func newTestManager(t *testing.T) (*Manager, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "hosts.json")
	m := NewManager(path)
	require.NoError(t, m.Load())
	return m, path
}

func TestLoadCreatesEmptyConfig(t *testing.T) {
	m, _ := newTestManager(t)
	assert.Empty(t, m.GetHosts())
	assert.Empty(t, m.GetPasswords())
	assert.Empty(t, m.GetKeys())
}

func TestConfigRoundTrip(t *testing.T) {
	m, path := newTestManager(t)

	host := models.Host{
		ID:         "h1",
		Name:       "web",
		Hostname:   "web.example.com",
		Port:       22,
		Username:   "deploy",
		AuthMethod: models.AuthPassword,
		LegacyMode: true,
		JumpHostID: "h-bastion",
		ForwardRules: []models.PortForwardRule{{
			Name:       "pg",
			LocalPort:  15432,
			RemoteHost: "db.internal",
			RemotePort: 5432,
			Enabled:    true,
		}},
	}
	m.AddHost(host)
	require.NoError(t, m.Save())

	reloaded := NewManager(path)
	require.NoError(t, reloaded.Load())

	hosts := reloaded.GetHosts()
	require.Len(t, hosts, 1)
	assert.Equal(t, host, hosts[0])
}

func TestFindHost(t *testing.T) {
	m, _ := newTestManager(t)
	m.AddHost(models.Host{ID: "h1", Name: "web", Hostname: "a", Port: 22, Username: "u"})
	m.AddHost(models.Host{ID: "h2", Name: "db", Hostname: "b", Port: 22, Username: "u"})

	host, err := m.FindHostByID("h2")
	require.NoError(t, err)
	assert.Equal(t, "db", host.Name)

	_, _, err = m.FindHostByName("missing")
	require.Error(t, err)

	host, idx, err := m.FindHostByName("web")
	require.NoError(t, err)
	assert.Equal(t, 0, idx)
	assert.Equal(t, "h1", host.ID)
}

func TestDeletePasswordInUse(t *testing.T) {
	m, _ := newTestManager(t)
	cipher := crypto.NewCipher("master")

	pw, err := models.NewPassword("root", "secret", cipher)
	require.NoError(t, err)
	m.AddPassword(*pw)

	m.AddHost(models.Host{
		ID: "h1", Name: "web", Hostname: "a", Port: 22, Username: "u",
		AuthMethod: models.AuthPassword, PasswordID: 0,
	})

	require.Error(t, m.DeletePassword(0), "password referenced by a host must not be deletable")

	require.NoError(t, m.DeleteHost(0))
	require.NoError(t, m.DeletePassword(0))
	assert.Empty(t, m.GetPasswords())
}

func TestDeleteKeyInUse(t *testing.T) {
	m, _ := newTestManager(t)
	cipher := crypto.NewCipher("master")

	key, err := models.NewKey("deploy", "-----BEGIN TEST KEY-----", "", "", cipher)
	require.NoError(t, err)
	require.NoError(t, m.AddKey(*key))

	m.AddHost(models.Host{
		ID: "h1", Name: "web", Hostname: "a", Port: 22, Username: "u",
		AuthMethod: models.AuthPublicKey, KeyID: 0,
	})

	require.Error(t, m.DeleteKey(0))

	require.NoError(t, m.DeleteHost(0))
	require.NoError(t, m.DeleteKey(0))
}

func TestAddKeyRejectsDuplicateDescription(t *testing.T) {
	m, _ := newTestManager(t)
	cipher := crypto.NewCipher("master")

	key, err := models.NewKey("deploy", "-----BEGIN TEST KEY-----", "", "", cipher)
	require.NoError(t, err)
	require.NoError(t, m.AddKey(*key))
	require.Error(t, m.AddKey(*key))
}

func TestPasswordRoundTripThroughConfig(t *testing.T) {
	m, path := newTestManager(t)
	cipher := crypto.NewCipher("master")

	pw, err := models.NewPassword("root", "s3cret", cipher)
	require.NoError(t, err)
	m.AddPassword(*pw)
	require.NoError(t, m.Save())

	reloaded := NewManager(path)
	require.NoError(t, reloaded.Load())

	got, err := reloaded.GetPassword(0)
	require.NoError(t, err)
	plain, err := got.GetDecrypted(cipher)
	require.NoError(t, err)
	assert.Equal(t, "s3cret", plain)

	// Niewłaściwy szyfr nie odzyskuje hasła
	_, err = got.GetDecrypted(crypto.NewCipher("wrong"))
	require.Error(t, err)
}
