// internal/ssh/transport.go

package ssh

import (
	"context"
	"io"

	"prossh/internal/models"
)

// VerifyHostKeyFunc jest wywoływana w trakcie handshake'u, zanim
// jakiekolwiek dane uwierzytelniające zostaną wysłane. Zwrócenie błędu
// przerywa połączenie.
type VerifyHostKeyFunc func(hostname string, port int, keyType, fingerprint string) error

// AuthMaterial zawiera rozwiązany materiał uwierzytelniający. Puste
// pola wymagane przez wybraną metodę są błędem transportowym.
type AuthMaterial struct {
	Method        models.AuthMethod
	Password      string
	PrivateKeyPEM string
	Certificate   string
	Passphrase    string

	// KeyboardInteractive odpowiada na pytania serwera przy metodzie
	// keyboard-interactive. Gdy nil, używane jest hasło.
	KeyboardInteractive func(name, instruction string, questions []string, echos []bool) ([]string, error)
}

// ConnectConfig opisuje jedną próbę połączenia
type ConnectConfig struct {
	Hostname string
	Port     int
	Username string

	Policy AlgorithmPolicy
	Auth   AuthMaterial

	AgentForwarding bool
	TimeoutSeconds  int

	// VerifyHostKey pozwala wywołującemu ocenić klucz hosta przed
	// wysłaniem danych uwierzytelniających. Gdy nil, klucz jest
	// akceptowany (symulator, sondy diagnostyczne).
	VerifyHostKey VerifyHostKeyFunc
}

// JumpConfig opisuje hosta pośredniego dla połączenia tunelowanego
type JumpConfig struct {
	Hostname string
	Port     int
	Username string

	Policy AlgorithmPolicy
	Auth   AuthMaterial

	VerifyHostKey VerifyHostKeyFunc
}

// ShellConfig opisuje parametry interaktywnej powłoki
type ShellConfig struct {
	Columns         int
	Rows            int
	TerminalType    string
	AgentForwarding bool
}

// ShellChannel to dwukierunkowy kanał interaktywnej powłoki. Read
// zwraca io.EOF po zamknięciu kanału przez zdalną stronę.
type ShellChannel interface {
	io.Reader
	io.Writer
	Resize(columns, rows int) error
	Close() error
}

// TransportSession abstrahuje jedno żywe połączenie SSH. Implementacje:
// natywna (golang.org/x/crypto/ssh) oraz deterministyczny symulator do
// testów. Surowy uchwyt klienta nigdy nie opuszcza implementacji;
// Disconnect zwalnia go dokładnie raz i jest idempotentny.
type TransportSession interface {
	// Connect zestawia transport i uwierzytelnia w jednym kroku
	// (handshake x/crypto/ssh wykonuje obie fazy; hook VerifyHostKey
	// działa przed wysłaniem poświadczeń).
	Connect(ctx context.Context, cfg ConnectConfig) error

	// ConnectViaJump zestawia połączenie z celem tunelowane przez
	// hosta pośredniego.
	ConnectViaJump(ctx context.Context, cfg ConnectConfig, jump JumpConfig) error

	// Negotiated zwraca szczegóły wynegocjowanego transportu.
	// Wynik jest niezdefiniowany przed udanym Connect.
	Negotiated() models.ConnectionDetails

	OpenShell(ctx context.Context, cfg ShellConfig) (ShellChannel, error)

	// OpenForwardChannel otwiera generyczny kanał direct-tcpip do
	// zdalnego celu.
	OpenForwardChannel(ctx context.Context, remoteHost string, remotePort int) (io.ReadWriteCloser, error)

	ListDirectory(ctx context.Context, path string) ([]models.FileEntry, error)
	UploadFile(ctx context.Context, localPath, remotePath string) (int64, error)
	DownloadFile(ctx context.Context, remotePath, localPath string) (int64, error)

	SendKeepalive(ctx context.Context) error

	Disconnect()
}

// TransportFactory tworzy świeżą, niepołączoną sesję transportową.
// Negocjator tworzy osobną instancję na każdą próbę.
type TransportFactory func() TransportSession
