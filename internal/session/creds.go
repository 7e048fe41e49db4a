// internal/session/creds.go

package session

import (
	"prossh/internal/config"
	"prossh/internal/crypto"
	"prossh/internal/models"
	sshx "prossh/internal/ssh"
)

// CredentialSource rozwiązuje referencje na materiał uwierzytelniający
// w momencie łączenia. Brak materiału jest błędem transportowym.
type CredentialSource interface {
	Password(id int) (string, error)
	Key(id int) (keyPEM, certificate, passphrase string, err error)
}

// ConfigCredentials czyta materiał z konfiguracji, odszyfrowując go
// szyfrem aplikacji.
type ConfigCredentials struct {
	Config *config.Manager
	Cipher *crypto.Cipher
}

func (c *ConfigCredentials) Password(id int) (string, error) {
	pw, err := c.Config.GetPassword(id)
	if err != nil {
		return "", &sshx.TransportError{Message: "authentication material missing: password", Err: err}
	}
	return pw.GetDecrypted(c.Cipher)
}

func (c *ConfigCredentials) Key(id int) (string, string, string, error) {
	key, err := c.Config.GetKey(id)
	if err != nil {
		return "", "", "", &sshx.TransportError{Message: "authentication material missing: key", Err: err}
	}
	pem, err := key.GetKeyData(c.Cipher)
	if err != nil {
		return "", "", "", &sshx.TransportError{Message: "failed to decrypt key material", Err: err}
	}
	passphrase, err := key.GetPassphrase(c.Cipher)
	if err != nil {
		return "", "", "", &sshx.TransportError{Message: "failed to decrypt key passphrase", Err: err}
	}
	return pem, key.Certificate, passphrase, nil
}

// resolveAuth buduje materiał uwierzytelniający dla hosta,
// z uwzględnieniem jednorazowych nadpisań od wywołującego.
func resolveAuth(creds CredentialSource, host models.Host, passwordOverride, passphraseOverride string) (sshx.AuthMaterial, error) {
	auth := sshx.AuthMaterial{Method: host.AuthMethod}

	switch host.AuthMethod {
	case models.AuthPassword, models.AuthKeyboardInteractive:
		if passwordOverride != "" {
			auth.Password = passwordOverride
			return auth, nil
		}
		pw, err := creds.Password(host.PasswordID)
		if err != nil {
			return auth, err
		}
		auth.Password = pw

	case models.AuthPublicKey, models.AuthCertificate:
		pem, cert, passphrase, err := creds.Key(host.KeyID)
		if err != nil {
			return auth, err
		}
		if pem == "" {
			return auth, &sshx.TransportError{Message: "authentication material missing: empty private key"}
		}
		auth.PrivateKeyPEM = pem
		auth.Certificate = cert
		auth.Passphrase = passphrase
		if passphraseOverride != "" {
			auth.Passphrase = passphraseOverride
		}

	default:
		return auth, &sshx.TransportError{Message: "unsupported auth method: " + string(host.AuthMethod)}
	}

	return auth, nil
}
