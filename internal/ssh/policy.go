// internal/ssh/policy.go

package ssh

// AlgorithmPolicy to uporządkowany zestaw preferencji algorytmów dla
// jednej próby negocjacji. Istnieją dokładnie dwie instancje: Modern
// i Legacy. Polityki nie są nigdy modyfikowane w czasie działania.
type AlgorithmPolicy struct {
	Name         string
	KeyExchanges []string
	HostKeys     []string
	Ciphers      []string
	MACs         []string
}

// Modern to domyślna polityka - wyłącznie współczesne algorytmy.
var Modern = AlgorithmPolicy{
	Name: "modern",
	KeyExchanges: []string{
		"curve25519-sha256",
		"curve25519-sha256@libssh.org",
		"ecdh-sha2-nistp256",
		"ecdh-sha2-nistp384",
		"ecdh-sha2-nistp521",
		"diffie-hellman-group16-sha512",
	},
	HostKeys: []string{
		"ssh-ed25519",
		"ecdsa-sha2-nistp256",
		"ecdsa-sha2-nistp384",
		"ecdsa-sha2-nistp521",
		"rsa-sha2-512",
		"rsa-sha2-256",
	},
	Ciphers: []string{
		"chacha20-poly1305@openssh.com",
		"aes256-gcm@openssh.com",
		"aes128-gcm@openssh.com",
		"aes256-ctr",
		"aes192-ctr",
		"aes128-ctr",
	},
	MACs: []string{
		"hmac-sha2-256-etm@openssh.com",
		"hmac-sha2-512-etm@openssh.com",
		"hmac-sha2-256",
		"hmac-sha2-512",
	},
}

// Legacy rozszerza Modern o starsze algorytmy, w kolejności od
// najnowszych. Używana wyłącznie po jawnej zgodzie użytkownika albo
// jako sonda diagnostyczna.
var Legacy = AlgorithmPolicy{
	Name: "legacy",
	KeyExchanges: append(append([]string{}, Modern.KeyExchanges...),
		"diffie-hellman-group14-sha256",
		"diffie-hellman-group-exchange-sha256",
		"diffie-hellman-group14-sha1",
		"diffie-hellman-group1-sha1",
	),
	HostKeys: append(append([]string{}, Modern.HostKeys...),
		"ssh-rsa",
		"ssh-dss",
	),
	Ciphers: append(append([]string{}, Modern.Ciphers...),
		"aes128-cbc",
		"3des-cbc",
	),
	MACs: append(append([]string{}, Modern.MACs...),
		"hmac-sha1",
		"hmac-sha1-96",
	),
}

// LegacyAdvisory to komunikat bezpieczeństwa dołączany do każdego
// połączenia zestawionego polityką legacy. Nigdy nie jest pusty.
const LegacyAdvisory = "This connection uses legacy cryptographic algorithms that are " +
	"considered weak. Upgrade the server's SSH configuration where possible."

// WithHostKeys zwraca kopię polityki z podmienioną listą algorytmów
// klucza hosta (przypięte algorytmy z konfiguracji hosta).
func (p AlgorithmPolicy) WithHostKeys(pinned []string) AlgorithmPolicy {
	if len(pinned) == 0 {
		return p
	}
	out := p
	out.HostKeys = append([]string{}, pinned...)
	return out
}

// IsLegacy informuje czy to polityka legacy
func (p AlgorithmPolicy) IsLegacy() bool {
	return p.Name == Legacy.Name
}
