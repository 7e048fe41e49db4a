// internal/ssh/native.go

package ssh

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/bramvdbogaerde/go-scp"
	"github.com/pkg/sftp"
	gossh "golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"

	"prossh/internal/models"
)

const defaultConnectTimeout = 10 * time.Second

// NativeTransport to backend oparty o golang.org/x/crypto/ssh.
// Instancja jest jedynym właścicielem uchwytu klienta; Disconnect
// zwalnia go dokładnie raz.
type NativeTransport struct {
	mu      sync.Mutex
	client  *gossh.Client
	sftpCli *sftp.Client
	details models.ConnectionDetails
	closed  bool

	// jumpOwner trzyma połączenie z hostem pośrednim; żyje tak długo
	// jak połączenie z celem.
	jumpOwner *NativeTransport

	// verifyErr przechowuje błąd zwrócony przez hook weryfikacji,
	// żeby nie zależeć od sposobu opakowania błędu handshake'u.
	verifyErr error
}

// NewNativeTransport tworzy niepołączoną natywną sesję transportową
func NewNativeTransport() *NativeTransport {
	return &NativeTransport{}
}

func (n *NativeTransport) clientConfig(cfg ConnectConfig) (*gossh.ClientConfig, error) {
	auths, err := buildAuthMethods(cfg.Auth)
	if err != nil {
		return nil, err
	}

	timeout := defaultConnectTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}

	return &gossh.ClientConfig{
		User: cfg.Username,
		Auth: auths,
		Config: gossh.Config{
			KeyExchanges: cfg.Policy.KeyExchanges,
			Ciphers:      cfg.Policy.Ciphers,
			MACs:         cfg.Policy.MACs,
		},
		HostKeyAlgorithms: cfg.Policy.HostKeys,
		HostKeyCallback: func(hostname string, remote net.Addr, key gossh.PublicKey) error {
			keyType := key.Type()
			fingerprint := gossh.FingerprintSHA256(key)

			n.mu.Lock()
			n.details.HostKeyType = keyType
			n.details.Fingerprint = fingerprint
			n.mu.Unlock()

			if cfg.VerifyHostKey == nil {
				return nil
			}
			if err := cfg.VerifyHostKey(cfg.Hostname, cfg.Port, keyType, fingerprint); err != nil {
				n.mu.Lock()
				n.verifyErr = err
				n.mu.Unlock()
				return err
			}
			return nil
		},
		Timeout: timeout,
	}, nil
}

// buildAuthMethods tłumaczy materiał uwierzytelniający na metody
// x/crypto/ssh. Brak wymaganego materiału to błąd transportowy.
func buildAuthMethods(auth AuthMaterial) ([]gossh.AuthMethod, error) {
	switch auth.Method {
	case models.AuthPassword:
		pw := auth.Password
		return []gossh.AuthMethod{
			gossh.Password(pw),
			gossh.KeyboardInteractive(func(name, instruction string, questions []string, echos []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range questions {
					answers[i] = pw
				}
				return answers, nil
			}),
		}, nil

	case models.AuthPublicKey, models.AuthCertificate:
		if auth.PrivateKeyPEM == "" {
			return nil, &TransportError{Message: "authentication material missing: empty private key"}
		}
		var signer gossh.Signer
		var err error
		if auth.Passphrase != "" {
			signer, err = gossh.ParsePrivateKeyWithPassphrase([]byte(auth.PrivateKeyPEM), []byte(auth.Passphrase))
		} else {
			signer, err = gossh.ParsePrivateKey([]byte(auth.PrivateKeyPEM))
		}
		if err != nil {
			return nil, &TransportError{Message: "failed to parse private key", Err: err}
		}

		if auth.Method == models.AuthCertificate {
			if auth.Certificate == "" {
				return nil, &TransportError{Message: "authentication material missing: empty certificate"}
			}
			pub, _, _, _, err := gossh.ParseAuthorizedKey([]byte(auth.Certificate))
			if err != nil {
				return nil, &TransportError{Message: "failed to parse certificate", Err: err}
			}
			cert, ok := pub.(*gossh.Certificate)
			if !ok {
				return nil, &TransportError{Message: "certificate material is not an SSH certificate"}
			}
			signer, err = gossh.NewCertSigner(cert, signer)
			if err != nil {
				return nil, &TransportError{Message: "failed to build certificate signer", Err: err}
			}
		}
		return []gossh.AuthMethod{gossh.PublicKeys(signer)}, nil

	case models.AuthKeyboardInteractive:
		responder := auth.KeyboardInteractive
		if responder == nil {
			pw := auth.Password
			responder = func(name, instruction string, questions []string, echos []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range questions {
					answers[i] = pw
				}
				return answers, nil
			}
		}
		return []gossh.AuthMethod{gossh.KeyboardInteractive(responder)}, nil

	default:
		return nil, &TransportError{Message: fmt.Sprintf("unsupported auth method: %s", auth.Method)}
	}
}

// Connect zestawia transport i uwierzytelnia. Hook weryfikacji klucza
// hosta działa w trakcie handshake'u, przed wysłaniem poświadczeń.
func (n *NativeTransport) Connect(ctx context.Context, cfg ConnectConfig) error {
	sshCfg, err := n.clientConfig(cfg)
	if err != nil {
		return err
	}

	addr := net.JoinHostPort(cfg.Hostname, strconv.Itoa(cfg.Port))

	dialer := net.Dialer{Timeout: sshCfg.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return n.mapDialError(addr, err)
	}

	sshConn, chans, reqs, err := gossh.NewClientConn(conn, addr, sshCfg)
	if err != nil {
		conn.Close()
		return n.mapHandshakeError(cfg, err)
	}

	n.mu.Lock()
	n.client = gossh.NewClient(sshConn, chans, reqs)
	n.fillNegotiatedLocked(cfg.Policy)
	n.mu.Unlock()
	return nil
}

// ConnectViaJump zestawia połączenie z celem przez hosta pośredniego:
// najpierw pełne połączenie z hostem pośrednim, potem kanał TCP przez
// niego i handshake z celem.
func (n *NativeTransport) ConnectViaJump(ctx context.Context, cfg ConnectConfig, jump JumpConfig) error {
	jumpAddr := net.JoinHostPort(jump.Hostname, strconv.Itoa(jump.Port))

	jumpTransport := NewNativeTransport()
	jumpCfg := ConnectConfig{
		Hostname:       jump.Hostname,
		Port:           jump.Port,
		Username:       jump.Username,
		Policy:         jump.Policy,
		Auth:           jump.Auth,
		TimeoutSeconds: cfg.TimeoutSeconds,
		VerifyHostKey:  jump.VerifyHostKey,
	}
	if err := jumpTransport.Connect(ctx, jumpCfg); err != nil {
		var verr *HostVerificationRequiredError
		if errors.As(err, &verr) {
			return &JumpHostVerificationError{JumpHost: jumpAddr, Challenge: &verr.Challenge}
		}
		var aerr *AuthenticationFailedError
		if errors.As(err, &aerr) {
			return &JumpHostAuthError{JumpHost: jumpAddr, Err: err}
		}
		return &JumpHostConnectionError{Target: jumpAddr, Message: "jump host unreachable", Err: err}
	}

	targetAddr := net.JoinHostPort(cfg.Hostname, strconv.Itoa(cfg.Port))

	tunnel, err := jumpTransport.client.DialContext(ctx, "tcp", targetAddr)
	if err != nil {
		jumpTransport.Disconnect()
		return &JumpHostConnectionError{Target: targetAddr, Message: "failed to open tunnel", Err: err}
	}

	sshCfg, err := n.clientConfig(cfg)
	if err != nil {
		tunnel.Close()
		jumpTransport.Disconnect()
		return err
	}

	sshConn, chans, reqs, err := gossh.NewClientConn(tunnel, targetAddr, sshCfg)
	if err != nil {
		tunnel.Close()
		jumpTransport.Disconnect()
		mapped := n.mapHandshakeError(cfg, err)
		if IsVerificationRequired(mapped) || IsAuthError(mapped) {
			return mapped
		}
		return &JumpHostConnectionError{Target: targetAddr, Message: "handshake through jump host failed", Err: mapped}
	}

	n.mu.Lock()
	n.client = gossh.NewClient(sshConn, chans, reqs)
	n.jumpOwner = jumpTransport
	n.fillNegotiatedLocked(cfg.Policy)
	n.mu.Unlock()
	return nil
}

// fillNegotiatedLocked uzupełnia szczegóły negocjacji. x/crypto/ssh nie
// udostępnia wynegocjowanych algorytmów, więc kex/szyfr/MAC odnotowują
// czołowe preferencje użytej polityki; typ klucza i odcisk pochodzą z
// callbacka weryfikacji.
func (n *NativeTransport) fillNegotiatedLocked(policy AlgorithmPolicy) {
	n.details.Backend = "native"
	n.details.UsedLegacyAlgorithms = policy.IsLegacy()
	if policy.IsLegacy() {
		n.details.SecurityAdvisory = LegacyAdvisory
	}
	if len(policy.KeyExchanges) > 0 {
		n.details.KexAlgorithm = policy.KeyExchanges[0]
	}
	if len(policy.Ciphers) > 0 {
		n.details.Cipher = policy.Ciphers[0]
	}
	if len(policy.MACs) > 0 {
		n.details.MAC = policy.MACs[0]
	}
}

func (n *NativeTransport) mapDialError(addr string, err error) error {
	if errors.Is(err, syscall.ECONNREFUSED) {
		return &ConnectionRefusedError{Address: addr, Err: err}
	}
	return err
}

func (n *NativeTransport) mapHandshakeError(cfg ConnectConfig, err error) error {
	n.mu.Lock()
	verifyErr := n.verifyErr
	n.verifyErr = nil
	n.mu.Unlock()

	if verifyErr != nil {
		return verifyErr
	}
	if IsAuthError(err) {
		return &AuthenticationFailedError{User: cfg.Username, Err: err}
	}
	return &TransportError{Message: "ssh handshake failed", Err: err}
}

// Negotiated zwraca szczegóły wynegocjowanego transportu
func (n *NativeTransport) Negotiated() models.ConnectionDetails {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.details
}

// nativeShell to kanał powłoki z połączonym stdout i stderr
type nativeShell struct {
	session *gossh.Session
	stdin   io.WriteCloser
	output  *io.PipeReader
}

func (s *nativeShell) Read(p []byte) (int, error)  { return s.output.Read(p) }
func (s *nativeShell) Write(p []byte) (int, error) { return s.stdin.Write(p) }

func (s *nativeShell) Resize(columns, rows int) error {
	return s.session.WindowChange(rows, columns)
}

func (s *nativeShell) Close() error {
	s.output.Close()
	return s.session.Close()
}

// OpenShell otwiera interaktywną powłokę z PTY
func (n *NativeTransport) OpenShell(ctx context.Context, cfg ShellConfig) (ShellChannel, error) {
	n.mu.Lock()
	client := n.client
	n.mu.Unlock()
	if client == nil {
		return nil, &TransportError{Message: "not connected"}
	}

	session, err := client.NewSession()
	if err != nil {
		return nil, &TransportError{Message: "failed to create session", Err: err}
	}

	if cfg.AgentForwarding {
		// Brak lokalnego agenta nie blokuje sesji
		_ = forwardLocalAgent(client, session)
	}

	modes := gossh.TerminalModes{
		gossh.ECHO:          1,
		gossh.TTY_OP_ISPEED: 14400,
		gossh.TTY_OP_OSPEED: 14400,
	}

	termType := cfg.TerminalType
	if termType == "" {
		termType = "xterm-256color"
	}
	if err := session.RequestPty(termType, cfg.Rows, cfg.Columns, modes); err != nil {
		session.Close()
		return nil, &TransportError{Message: "failed to request PTY", Err: err}
	}

	stdin, err := session.StdinPipe()
	if err != nil {
		session.Close()
		return nil, &TransportError{Message: "failed to open stdin pipe", Err: err}
	}

	pr, pw := io.Pipe()
	session.Stdout = pw
	session.Stderr = pw

	if err := session.Shell(); err != nil {
		session.Close()
		return nil, &TransportError{Message: "failed to start shell", Err: err}
	}

	go func() {
		// Wait domyka strumień wyjściowy po zakończeniu zdalnej powłoki
		err := session.Wait()
		if err != nil {
			pw.CloseWithError(err)
			return
		}
		pw.Close()
	}()

	return &nativeShell{session: session, stdin: stdin, output: pr}, nil
}

// forwardLocalAgent podpina lokalnego agenta SSH do sesji
func forwardLocalAgent(client *gossh.Client, session *gossh.Session) error {
	sock := os.Getenv("SSH_AUTH_SOCK")
	if sock == "" {
		return errors.New("no local ssh agent")
	}
	conn, err := net.Dial("unix", sock)
	if err != nil {
		return err
	}
	if err := agent.ForwardToAgent(client, agent.NewClient(conn)); err != nil {
		conn.Close()
		return err
	}
	return agent.RequestAgentForwarding(session)
}

// OpenForwardChannel otwiera kanał direct-tcpip do zdalnego celu
func (n *NativeTransport) OpenForwardChannel(ctx context.Context, remoteHost string, remotePort int) (io.ReadWriteCloser, error) {
	n.mu.Lock()
	client := n.client
	n.mu.Unlock()
	if client == nil {
		return nil, &TransportError{Message: "not connected"}
	}

	addr := net.JoinHostPort(remoteHost, strconv.Itoa(remotePort))
	conn, err := client.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, &TransportError{Message: fmt.Sprintf("failed to open forward channel to %s", addr), Err: err}
	}
	return conn, nil
}

// sftpClient leniwie tworzy i buforuje klienta SFTP
func (n *NativeTransport) sftpClient() (*sftp.Client, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.client == nil {
		return nil, &TransportError{Message: "not connected"}
	}
	if n.sftpCli != nil {
		return n.sftpCli, nil
	}
	cli, err := sftp.NewClient(n.client)
	if err != nil {
		return nil, &TransportError{Message: "failed to create SFTP client", Err: err}
	}
	n.sftpCli = cli
	return cli, nil
}

// ListDirectory zwraca zawartość zdalnego katalogu
func (n *NativeTransport) ListDirectory(ctx context.Context, path string) ([]models.FileEntry, error) {
	cli, err := n.sftpClient()
	if err != nil {
		return nil, err
	}

	infos, err := cli.ReadDir(path)
	if err != nil {
		return nil, &TransportError{Message: fmt.Sprintf("failed to list %s", path), Err: err}
	}

	entries := make([]models.FileEntry, 0, len(infos))
	for _, info := range infos {
		entries = append(entries, models.FileEntry{
			Name:    info.Name(),
			Size:    info.Size(),
			Mode:    info.Mode().String(),
			ModTime: info.ModTime(),
			IsDir:   info.IsDir(),
		})
	}
	return entries, nil
}

// UploadFile wysyła plik lokalny na zdalny host. Gdy serwer nie ma
// podsystemu SFTP, używany jest zapasowy transfer SCP.
func (n *NativeTransport) UploadFile(ctx context.Context, localPath, remotePath string) (int64, error) {
	local, err := os.Open(localPath)
	if err != nil {
		return 0, &TransportError{Message: "failed to open local file", Err: err}
	}
	defer local.Close()

	info, err := local.Stat()
	if err != nil {
		return 0, &TransportError{Message: "failed to stat local file", Err: err}
	}

	cli, err := n.sftpClient()
	if err != nil {
		return n.uploadViaSCP(ctx, local, info.Size(), remotePath)
	}

	remote, err := cli.Create(remotePath)
	if err != nil {
		return 0, &TransportError{Message: "failed to create remote file", Err: err}
	}
	defer remote.Close()

	written, err := io.Copy(remote, local)
	if err != nil {
		return written, &TransportError{Message: "upload failed", Err: err}
	}
	return written, nil
}

func (n *NativeTransport) uploadViaSCP(ctx context.Context, local *os.File, size int64, remotePath string) (int64, error) {
	n.mu.Lock()
	client := n.client
	n.mu.Unlock()
	if client == nil {
		return 0, &TransportError{Message: "not connected"}
	}

	scpClient, err := scp.NewClientBySSH(client)
	if err != nil {
		return 0, &TransportError{Message: "failed to create SCP client", Err: err}
	}
	defer scpClient.Close()

	if err := scpClient.CopyFile(ctx, local, remotePath, "0644"); err != nil {
		return 0, &TransportError{Message: "scp upload failed", Err: err}
	}
	return size, nil
}

// DownloadFile pobiera zdalny plik do pliku lokalnego
func (n *NativeTransport) DownloadFile(ctx context.Context, remotePath, localPath string) (int64, error) {
	cli, err := n.sftpClient()
	if err != nil {
		return 0, err
	}

	remote, err := cli.Open(remotePath)
	if err != nil {
		return 0, &TransportError{Message: "failed to open remote file", Err: err}
	}
	defer remote.Close()

	local, err := os.Create(localPath)
	if err != nil {
		return 0, &TransportError{Message: "failed to create local file", Err: err}
	}
	defer local.Close()

	written, err := io.Copy(local, remote)
	if err != nil {
		return written, &TransportError{Message: "download failed", Err: err}
	}
	return written, nil
}

// SendKeepalive wysyła żądanie keepalive i czeka na odpowiedź
func (n *NativeTransport) SendKeepalive(ctx context.Context) error {
	n.mu.Lock()
	client := n.client
	n.mu.Unlock()
	if client == nil {
		return &TransportError{Message: "not connected"}
	}

	_, _, err := client.SendRequest("keepalive@openssh.com", true, nil)
	if err != nil {
		return &TransportError{Message: "keepalive failed", Err: err}
	}
	return nil
}

// Disconnect zwalnia uchwyty połączenia; wielokrotne wywołania są bezpieczne
func (n *NativeTransport) Disconnect() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return
	}
	n.closed = true

	if n.sftpCli != nil {
		n.sftpCli.Close()
		n.sftpCli = nil
	}
	if n.client != nil {
		n.client.Close()
		n.client = nil
	}
	if n.jumpOwner != nil {
		n.jumpOwner.Disconnect()
		n.jumpOwner = nil
	}
}

// ProbeHostKey pobiera typ i odcisk klucza hosta bez uwierzytelniania.
// Próba kończy się błędem autoryzacji, ale klucz jest już przechwycony.
func ProbeHostKey(ctx context.Context, hostname string, port int, policy AlgorithmPolicy) (string, string, error) {
	addr := net.JoinHostPort(hostname, strconv.Itoa(port))

	var keyType, fingerprint string
	cfg := &gossh.ClientConfig{
		Config: gossh.Config{
			KeyExchanges: policy.KeyExchanges,
			Ciphers:      policy.Ciphers,
			MACs:         policy.MACs,
		},
		HostKeyAlgorithms: policy.HostKeys,
		HostKeyCallback: func(hostname string, remote net.Addr, key gossh.PublicKey) error {
			keyType = key.Type()
			fingerprint = gossh.FingerprintSHA256(key)
			return nil
		},
		Timeout: defaultConnectTimeout,
	}

	dialer := net.Dialer{Timeout: defaultConnectTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return "", "", err
	}
	sshConn, chans, reqs, err := gossh.NewClientConn(conn, addr, cfg)
	if err == nil {
		gossh.NewClient(sshConn, chans, reqs).Close()
	} else {
		conn.Close()
	}

	if fingerprint == "" {
		return "", "", &TransportError{Message: fmt.Sprintf("could not retrieve host key from %s", addr), Err: err}
	}
	return keyType, fingerprint, nil
}
