// internal/ssh/simulator.go

package ssh

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"prossh/internal/models"
)

// SimServer opisuje deterministyczny, wirtualny serwer SSH używany w
// testach integracyjnych bez prawdziwej sieci. Jedna instancja może
// obsłużyć wiele kolejnych sesji SimTransport.
type SimServer struct {
	mu sync.Mutex

	HostKeyType string
	Fingerprint string

	// AcceptModern i AcceptLegacy decydują, które polityki serwer
	// negocjuje. Serwer wymagający legacy ma AcceptModern=false.
	AcceptModern bool
	AcceptLegacy bool

	// NetworkErr symuluje awarię na poziomie sieci (timeout, odmowa)
	NetworkErr error

	// Password, gdy niepuste, jest wymagane do uwierzytelnienia
	Password string

	// KeepaliveErr wymusza błąd kolejnych keepalive
	KeepaliveErr error

	// CommandResponder produkuje odpowiedź powłoki na linię wejścia
	CommandResponder func(input string) string

	// ForwardResponder przetwarza dane kanału przekierowania; domyślnie echo
	ForwardResponder func(p []byte) []byte

	// Jump konfiguruje zachowanie serwera jako hosta pośredniego
	JumpFingerprint string
	JumpKeyType     string
	JumpAuthErr     error
	JumpTunnelErr   error

	files map[string][]byte
}

// NewSimServer tworzy wirtualny serwer negocjujący politykę modern
func NewSimServer() *SimServer {
	return &SimServer{
		HostKeyType:  "ssh-ed25519",
		Fingerprint:  "SHA256:sim0000000000000000000000000000000000000000000",
		AcceptModern: true,
		AcceptLegacy: true,
		files:        make(map[string][]byte),
	}
}

// PutFile umieszcza plik w wirtualnym systemie plików
func (s *SimServer) PutFile(p string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[path.Clean(p)] = append([]byte(nil), data...)
}

// FileData zwraca zawartość pliku z wirtualnego systemu plików
func (s *SimServer) FileData(p string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.files[path.Clean(p)]
	return data, ok
}

// SimTransport to deterministyczna implementacja TransportSession
// oparta o SimServer.
type SimTransport struct {
	server *SimServer

	mu         sync.Mutex
	connected  bool
	closed     bool
	details    models.ConnectionDetails
	shell      *simShell
	keepalives int
}

// NewSimTransport tworzy niepołączoną sesję symulatora
func NewSimTransport(server *SimServer) *SimTransport {
	return &SimTransport{server: server}
}

// SimFactory zwraca TransportFactory produkującą sesje dla serwera
func SimFactory(server *SimServer) TransportFactory {
	return func() TransportSession { return NewSimTransport(server) }
}

func (t *SimTransport) negotiate(policy AlgorithmPolicy) error {
	srv := t.server
	if srv.NetworkErr != nil {
		return srv.NetworkErr
	}
	if policy.IsLegacy() {
		if !srv.AcceptLegacy {
			return &TransportError{
				Message: "ssh handshake failed",
				Err:     errors.New("ssh: no common algorithm for key exchange"),
			}
		}
	} else if !srv.AcceptModern {
		return &TransportError{
			Message: "ssh handshake failed",
			Err:     errors.New("ssh: no common algorithm for key exchange"),
		}
	}
	return nil
}

func (t *SimTransport) authenticate(auth AuthMaterial) error {
	srv := t.server
	switch auth.Method {
	case models.AuthPublicKey, models.AuthCertificate:
		if auth.PrivateKeyPEM == "" {
			return &TransportError{Message: "authentication material missing: empty private key"}
		}
	default:
		if srv.Password != "" && auth.Password != srv.Password {
			return &AuthenticationFailedError{User: "sim"}
		}
	}
	return nil
}

// Connect odtwarza kolejność prawdziwego handshake'u: negocjacja
// algorytmów, weryfikacja klucza hosta, dopiero potem uwierzytelnienie.
func (t *SimTransport) Connect(ctx context.Context, cfg ConnectConfig) error {
	if err := t.negotiate(cfg.Policy); err != nil {
		return err
	}

	srv := t.server
	if cfg.VerifyHostKey != nil {
		if err := cfg.VerifyHostKey(cfg.Hostname, cfg.Port, srv.HostKeyType, srv.Fingerprint); err != nil {
			return err
		}
	}

	if err := t.authenticate(cfg.Auth); err != nil {
		return err
	}

	t.mu.Lock()
	t.connected = true
	t.details = models.ConnectionDetails{
		KexAlgorithm:         cfg.Policy.KeyExchanges[0],
		HostKeyType:          srv.HostKeyType,
		Cipher:               cfg.Policy.Ciphers[0],
		MAC:                  cfg.Policy.MACs[0],
		Fingerprint:          srv.Fingerprint,
		UsedLegacyAlgorithms: cfg.Policy.IsLegacy(),
		Backend:              "simulator",
	}
	if cfg.Policy.IsLegacy() {
		t.details.SecurityAdvisory = LegacyAdvisory
	}
	t.mu.Unlock()
	return nil
}

// ConnectViaJump symuluje tunelowanie przez hosta pośredniego
func (t *SimTransport) ConnectViaJump(ctx context.Context, cfg ConnectConfig, jump JumpConfig) error {
	srv := t.server
	jumpAddr := fmt.Sprintf("%s:%d", jump.Hostname, jump.Port)

	if jump.VerifyHostKey != nil {
		keyType := srv.JumpKeyType
		if keyType == "" {
			keyType = "ssh-ed25519"
		}
		if err := jump.VerifyHostKey(jump.Hostname, jump.Port, keyType, srv.JumpFingerprint); err != nil {
			var verr *HostVerificationRequiredError
			if errors.As(err, &verr) {
				return &JumpHostVerificationError{JumpHost: jumpAddr, Challenge: &verr.Challenge}
			}
			return &JumpHostVerificationError{JumpHost: jumpAddr}
		}
	}
	if srv.JumpAuthErr != nil {
		return &JumpHostAuthError{JumpHost: jumpAddr, Err: srv.JumpAuthErr}
	}
	if srv.JumpTunnelErr != nil {
		return &JumpHostConnectionError{
			Target:  fmt.Sprintf("%s:%d", cfg.Hostname, cfg.Port),
			Message: "failed to open tunnel",
			Err:     srv.JumpTunnelErr,
		}
	}
	return t.Connect(ctx, cfg)
}

// Negotiated zwraca szczegóły ostatniego udanego Connect
func (t *SimTransport) Negotiated() models.ConnectionDetails {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.details
}

// simShell to wirtualny kanał powłoki zasilany przez PushOutput i
// opcjonalny responder poleceń.
type simShell struct {
	pr *io.PipeReader
	pw *io.PipeWriter

	mu        sync.Mutex
	responder func(string) string
	columns   int
	rows      int
	closed    bool
}

func (s *simShell) Read(p []byte) (int, error) { return s.pr.Read(p) }

func (s *simShell) Write(p []byte) (int, error) {
	s.mu.Lock()
	responder := s.responder
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return 0, io.ErrClosedPipe
	}
	if responder != nil {
		if out := responder(string(p)); out != "" {
			// Odpowiedź wraca asynchronicznie jak z prawdziwego PTY
			go s.pw.Write([]byte(out))
		}
	}
	return len(p), nil
}

func (s *simShell) Resize(columns, rows int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.columns = columns
	s.rows = rows
	return nil
}

func (s *simShell) Size() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.columns, s.rows
}

func (s *simShell) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	s.pw.Close()
	s.pr.Close()
	return nil
}

// OpenShell otwiera wirtualną powłokę
func (t *SimTransport) OpenShell(ctx context.Context, cfg ShellConfig) (ShellChannel, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.connected {
		return nil, &TransportError{Message: "not connected"}
	}

	pr, pw := io.Pipe()
	t.shell = &simShell{
		pr:        pr,
		pw:        pw,
		responder: t.server.CommandResponder,
		columns:   cfg.Columns,
		rows:      cfg.Rows,
	}
	return t.shell, nil
}

// PushOutput wstrzykuje bajty do strumienia powłoki (hak testowy)
func (t *SimTransport) PushOutput(p []byte) {
	t.mu.Lock()
	shell := t.shell
	t.mu.Unlock()
	if shell != nil {
		shell.pw.Write(p)
	}
}

// CloseOutput kończy strumień powłoki (EOF po stronie zdalnej)
func (t *SimTransport) CloseOutput() {
	t.mu.Lock()
	shell := t.shell
	t.mu.Unlock()
	if shell != nil {
		shell.pw.Close()
	}
}

// Shell zwraca aktywny kanał powłoki (hak testowy)
func (t *SimTransport) Shell() *simShell {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.shell
}

// OpenForwardChannel zwraca kanał pętli zwrotnej obsługiwany przez
// ForwardResponder serwera (domyślnie echo).
func (t *SimTransport) OpenForwardChannel(ctx context.Context, remoteHost string, remotePort int) (io.ReadWriteCloser, error) {
	t.mu.Lock()
	connected := t.connected
	t.mu.Unlock()
	if !connected {
		return nil, &TransportError{Message: "not connected"}
	}

	local, remote := net.Pipe()
	responder := t.server.ForwardResponder
	if responder == nil {
		responder = func(p []byte) []byte { return p }
	}

	go func() {
		defer remote.Close()
		buf := make([]byte, 4096)
		for {
			n, err := remote.Read(buf)
			if n > 0 {
				if _, werr := remote.Write(responder(buf[:n])); werr != nil {
					return
				}
			}
			if err != nil {
				return
			}
		}
	}()

	return local, nil
}

// ListDirectory czyta wirtualny system plików
func (t *SimTransport) ListDirectory(ctx context.Context, dir string) ([]models.FileEntry, error) {
	t.mu.Lock()
	connected := t.connected
	t.mu.Unlock()
	if !connected {
		return nil, &TransportError{Message: "not connected"}
	}

	srv := t.server
	srv.mu.Lock()
	defer srv.mu.Unlock()

	dir = path.Clean(dir)
	var entries []models.FileEntry
	seen := make(map[string]bool)
	for p, data := range srv.files {
		if path.Dir(p) == dir {
			entries = append(entries, models.FileEntry{
				Name:    path.Base(p),
				Size:    int64(len(data)),
				Mode:    "-rw-r--r--",
				ModTime: time.Unix(0, 0),
			})
		} else if strings.HasPrefix(p, dir+"/") {
			rest := strings.TrimPrefix(p, dir+"/")
			if i := strings.IndexByte(rest, '/'); i > 0 {
				sub := rest[:i]
				if !seen[sub] {
					seen[sub] = true
					entries = append(entries, models.FileEntry{Name: sub, IsDir: true, Mode: "drwxr-xr-x", ModTime: time.Unix(0, 0)})
				}
			}
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}

// UploadFile kopiuje plik lokalny do wirtualnego systemu plików
func (t *SimTransport) UploadFile(ctx context.Context, localPath, remotePath string) (int64, error) {
	data, err := os.ReadFile(localPath)
	if err != nil {
		return 0, &TransportError{Message: "failed to open local file", Err: err}
	}
	t.server.PutFile(remotePath, data)
	return int64(len(data)), nil
}

// DownloadFile kopiuje plik z wirtualnego systemu plików na dysk
func (t *SimTransport) DownloadFile(ctx context.Context, remotePath, localPath string) (int64, error) {
	data, ok := t.server.FileData(remotePath)
	if !ok {
		return 0, &TransportError{Message: fmt.Sprintf("remote file not found: %s", remotePath)}
	}
	if err := os.WriteFile(localPath, data, 0644); err != nil {
		return 0, &TransportError{Message: "failed to write local file", Err: err}
	}
	return int64(len(data)), nil
}

// SendKeepalive odnotowuje keepalive albo zwraca wstrzyknięty błąd
func (t *SimTransport) SendKeepalive(ctx context.Context) error {
	if err := t.server.KeepaliveErr; err != nil {
		return &TransportError{Message: "keepalive failed", Err: err}
	}
	t.mu.Lock()
	t.keepalives++
	t.mu.Unlock()
	return nil
}

// Keepalives zwraca liczbę udanych keepalive (hak testowy)
func (t *SimTransport) Keepalives() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.keepalives
}

// Disconnect zamyka sesję; wielokrotne wywołania są bezpieczne
func (t *SimTransport) Disconnect() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	t.connected = false
	shell := t.shell
	t.mu.Unlock()

	if shell != nil {
		shell.Close()
	}
}

// Disconnected informuje czy sesja została zamknięta (hak testowy)
func (t *SimTransport) Disconnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}
