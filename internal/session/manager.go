// internal/session/manager.go

package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"prossh/internal/audit"
	"prossh/internal/config"
	"prossh/internal/forward"
	"prossh/internal/models"
	sshx "prossh/internal/ssh"
	"prossh/internal/vt"
)

// Minimalny sensowny rozmiar terminala; mniejsze wartości to zwykle
// przejściowe artefakty układu okien i są ignorowane.
const (
	minColumns = 10
	minRows    = 4
)

const defaultColumns, defaultRows = 80, 24

// NetworkMonitor to proceso-globalny monitor osiągalności sieci wraz z
// pamięcią negatywnych wyników per adres. Menedżer sesji jest
// właścicielem jego cyklu życia.
type NetworkMonitor interface {
	Start()
	Stop()
	Reachable() bool
	Subscribe() <-chan bool
	Forget(addr string)
	RecordFailure(addr string)
	IsCachedUnreachable(addr string) bool
}

// ConnectOptions to opcjonalne parametry pojedynczego połączenia
type ConnectOptions struct {
	Jump                  *models.Host
	PasswordOverride      string
	KeyPassphraseOverride string
}

// liveSession trzyma zasoby aktywnej sesji. Dostęp wyłącznie przez
// mutex menedżera; uchwyty transportu nie wyciekają na zewnątrz.
type liveSession struct {
	host models.Host
	jump *models.Host

	transport sshx.TransportSession
	shell     sshx.ShellChannel
	pipe      *pipeline
	interp    vt.Interpreter

	keepaliveStop chan struct{}
	manual        bool
}

// Manager jest centralnym koordynatorem: prowadzi maszynę stanów
// każdej sesji, potok strumieniowania wyjścia, harmonogram ponownych
// połączeń i bicie serca keepalive.
type Manager struct {
	logger   *log.Logger
	settings config.Settings

	verifier *sshx.KnownHostsVerifier
	creds    CredentialSource
	network  NetworkMonitor
	factory  sshx.TransportFactory

	negotiator *sshx.Negotiator
	forwards   *forward.Manager
	audit      *audit.Store
	scheduler  *reconnectScheduler

	// interpFactory produkuje interpreter terminala dla nowej sesji
	interpFactory func(columns, rows int) vt.Interpreter

	events chan Event

	mu           sync.Mutex
	sessions     map[string]*models.Session
	live         map[string]*liveSession
	hostOf       map[string]models.Host
	jumpOf       map[string]*models.Host
	resizeTimers map[string]*time.Timer

	started bool
}

// Deps to zależności menedżera sesji
type Deps struct {
	Settings      config.Settings
	Verifier      *sshx.KnownHostsVerifier
	Credentials   CredentialSource
	Network       NetworkMonitor
	Factory       sshx.TransportFactory
	Audit         *audit.Store
	InterpFactory func(columns, rows int) vt.Interpreter
	Logger        *log.Logger
}

// NewManager tworzy menedżera sesji. Start uruchamia monitor sieci
// i harmonogram ponownych połączeń.
func NewManager(deps Deps) *Manager {
	logger := deps.Logger
	if logger == nil {
		logger = log.Default()
	}
	interpFactory := deps.InterpFactory
	if interpFactory == nil {
		interpFactory = func(columns, rows int) vt.Interpreter {
			return vt.NewPlain(columns, rows)
		}
	}

	m := &Manager{
		logger:        logger.With("component", "session"),
		settings:      deps.Settings,
		verifier:      deps.Verifier,
		creds:         deps.Credentials,
		network:       deps.Network,
		factory:       deps.Factory,
		audit:         deps.Audit,
		interpFactory: interpFactory,
		events:        make(chan Event, 256),
		sessions:      make(map[string]*models.Session),
		live:          make(map[string]*liveSession),
		hostOf:        make(map[string]models.Host),
		jumpOf:        make(map[string]*models.Host),
		resizeTimers:  make(map[string]*time.Timer),
	}

	m.negotiator = sshx.NewNegotiator(deps.Factory, deps.Network, logger)
	m.forwards = forward.NewManager(logger)
	m.forwards.OnChange = func(f models.ActivePortForward) {
		m.publish(Event{Kind: EventForwardChanged, SessionID: f.SessionID, Forward: &f})
	}
	m.scheduler = newReconnectScheduler(m, deps.Settings.ReconnectDelay, deps.Settings.ReconnectInterval, logger)

	return m
}

// Start uruchamia singletony procesu: monitor sieci i harmonogram
func (m *Manager) Start() {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return
	}
	m.started = true
	m.mu.Unlock()

	m.network.Start()
	m.scheduler.start()
}

// Stop rozłącza wszystkie sesje i zatrzymuje singletony
func (m *Manager) Stop() {
	m.mu.Lock()
	ids := make([]string, 0, len(m.live))
	for id := range m.live {
		ids = append(ids, id)
	}
	started := m.started
	m.started = false
	m.mu.Unlock()

	for _, id := range ids {
		_ = m.Disconnect(id)
	}
	if started {
		m.scheduler.stop()
		m.network.Stop()
	}
}

// Connect wykonuje pełną sekwencję połączenia i zwraca sesję w stanie
// connected. Błąd weryfikacji klucza hosta niesie wyzwanie, które po
// zatwierdzeniu przez Trust pozwala ponowić połączenie.
func (m *Manager) Connect(ctx context.Context, host models.Host, opts ConnectOptions) (*models.Session, error) {
	m.purgeStaleSessions(host.ID)

	sess := &models.Session{
		ID:        uuid.NewString(),
		HostID:    host.ID,
		HostName:  host.Name,
		State:     models.StateConnecting,
		StartedAt: time.Now(),
	}

	m.mu.Lock()
	m.sessions[sess.ID] = sess
	m.hostOf[sess.ID] = host
	m.jumpOf[sess.ID] = opts.Jump
	m.mu.Unlock()

	m.publishSession(sess.ID)
	m.audit.Record(sess.ID, "connect", fmt.Sprintf("connecting to %s", host.Address()))

	auth, err := resolveAuth(m.creds, host, opts.PasswordOverride, opts.KeyPassphraseOverride)
	if err != nil {
		return nil, m.failSession(sess.ID, err)
	}

	req := sshx.NegotiateRequest{
		Host:           host,
		Jump:           opts.Jump,
		Auth:           auth,
		VerifyHostKey:  m.verifyHook(),
		TimeoutSeconds: int(m.settings.ConnectTimeout / time.Second),
	}
	if opts.Jump != nil {
		jumpAuth, err := resolveAuth(m.creds, *opts.Jump, "", "")
		if err != nil {
			return nil, m.failSession(sess.ID, err)
		}
		req.JumpAuth = jumpAuth
		req.JumpVerify = m.verifyHook()
	}

	transport, details, err := m.negotiator.Negotiate(ctx, req)
	if err != nil {
		return nil, m.failSession(sess.ID, err)
	}

	// Wymuszenie przypiętych algorytmów klucza hosta niezależnie od
	// wyniku TOFU: inny typ klucza niż przypięty kończy połączenie.
	if len(host.PinnedHostKeyAlgorithms) > 0 && !containsString(host.PinnedHostKeyAlgorithms, details.HostKeyType) {
		transport.Disconnect()
		return nil, m.failSession(sess.ID, &sshx.HostKeyAlgorithmMismatchError{
			Expected:  host.PinnedHostKeyAlgorithms,
			Presented: details.HostKeyType,
		})
	}

	termType := host.TerminalType
	if termType == "" {
		termType = m.settings.TerminalType
	}
	shell, err := transport.OpenShell(ctx, sshx.ShellConfig{
		Columns:         defaultColumns,
		Rows:            defaultRows,
		TerminalType:    termType,
		AgentForwarding: host.AgentForwarding,
	})
	if err != nil {
		transport.Disconnect()
		return nil, m.failSession(sess.ID, err)
	}

	interp := m.interpFactory(defaultColumns, defaultRows)
	sessionID := sess.ID
	pipe := newPipeline(sessionID, shell, interp, m.audit, m.settings.PublishInterval,
		func(n int) { m.accountReceived(sessionID, n) },
		func(snap vt.Snapshot) {
			m.publish(Event{Kind: EventSnapshot, SessionID: sessionID, Snapshot: &snap})
		},
		func(err error) { m.handleStreamEnd(sessionID, err) },
	)

	live := &liveSession{
		host:          host,
		jump:          opts.Jump,
		transport:     transport,
		shell:         shell,
		pipe:          pipe,
		interp:        interp,
		keepaliveStop: make(chan struct{}),
	}

	m.mu.Lock()
	m.live[sessionID] = live
	sess.State = models.StateConnected
	sess.Details = &details
	sess.LastActivity = time.Now()
	m.mu.Unlock()

	pipe.start()
	m.forwards.Activate(sessionID, transport, host.ForwardRules)

	if host.KeepAlive {
		go m.keepaliveLoop(sessionID, transport, live.keepaliveStop)
	}

	if details.UsedLegacyAlgorithms {
		m.logger.Warn("session established with legacy algorithms",
			"host", host.Address(), "advisory", details.SecurityAdvisory)
	}

	m.publishSession(sessionID)
	m.audit.Record(sessionID, "connected", fmt.Sprintf("%s (%s)", host.Address(), details.HostKeyType))

	return m.sessionCopy(sessionID), nil
}

// verifyHook spina ocenę klucza hosta z magazynem TOFU. Wynik
// needs-approval przerywa handshake zanim polecą poświadczenia.
func (m *Manager) verifyHook() sshx.VerifyHostKeyFunc {
	return func(hostname string, port int, keyType, fingerprint string) error {
		res, err := m.verifier.Evaluate(hostname, port, keyType, fingerprint)
		if err != nil {
			return err
		}
		if res.Status == sshx.StatusNeedsApproval {
			return &sshx.HostVerificationRequiredError{Challenge: *res.Challenge}
		}
		return nil
	}
}

// Trust zatwierdza wyzwanie weryfikacji klucza hosta
func (m *Manager) Trust(challenge *sshx.Challenge) error {
	return m.verifier.Trust(challenge)
}

// failSession oznacza sesję jako failed z komunikatem ustawionym raz
func (m *Manager) failSession(sessionID string, cause error) error {
	m.mu.Lock()
	sess := m.sessions[sessionID]
	if sess != nil && !sess.IsTerminal() {
		sess.State = models.StateFailed
		sess.ErrorMessage = cause.Error()
		sess.EndedAt = time.Now()
	}
	m.mu.Unlock()

	m.publishSession(sessionID)
	m.audit.Record(sessionID, "failed", cause.Error())
	return cause
}

func (m *Manager) accountReceived(sessionID string, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sess := m.sessions[sessionID]; sess != nil {
		sess.BytesReceived += int64(n)
		sess.LastActivity = time.Now()
	}
}

func (m *Manager) keepaliveLoop(sessionID string, transport sshx.TransportSession, stop chan struct{}) {
	ticker := time.NewTicker(m.settings.KeepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), m.settings.ConnectTimeout)
			err := transport.SendKeepalive(ctx)
			cancel()
			if err != nil {
				// Nieudany keepalive jest traktowany jak koniec strumienia
				m.handleStreamEnd(sessionID, err)
				return
			}
		case <-stop:
			return
		}
	}
}

// handleStreamEnd obsługuje naturalny koniec strumienia oraz awarię
// keepalive: sprzątanie zasobów i, dla sesji zdalnych bez ręcznego
// rozłączenia, wpis do kolejki ponownych połączeń.
func (m *Manager) handleStreamEnd(sessionID string, cause error) {
	m.mu.Lock()
	live := m.live[sessionID]
	if live == nil {
		m.mu.Unlock()
		return
	}
	delete(m.live, sessionID)
	manual := live.manual
	sess := m.sessions[sessionID]
	if t := m.resizeTimers[sessionID]; t != nil {
		t.Stop()
		delete(m.resizeTimers, sessionID)
	}
	m.mu.Unlock()

	close(live.keepaliveStop)
	m.forwards.StopSession(sessionID)
	live.pipe.close()
	live.shell.Close()
	live.transport.Disconnect()

	if !manual {
		// Koniec strumienia w trakcie aplikacji pełnoekranowej nie
		// może zostawić ekranu w buforze alternatywnym.
		live.interp.ExitAltScreen()
	}

	m.mu.Lock()
	if sess != nil && !sess.IsTerminal() {
		sess.State = models.StateDisconnected
		sess.EndedAt = time.Now()
		if manual {
			sess.ErrorMessage = ""
		} else if cause != nil && !errors.Is(cause, io.EOF) {
			sess.ErrorMessage = cause.Error()
		} else {
			sess.ErrorMessage = "connection closed by remote host"
		}
	}
	m.mu.Unlock()

	m.publishSession(sessionID)
	m.audit.Record(sessionID, "disconnected", fmt.Sprintf("manual=%v", manual))

	if !manual && sess != nil {
		m.scheduler.enqueue(sessionID, live.host, live.jump)
	}
}

// Disconnect rozłącza sesję na żądanie użytkownika, tłumiąc ścieżkę
// automatycznego ponownego połączenia.
func (m *Manager) Disconnect(sessionID string) error {
	m.mu.Lock()
	live := m.live[sessionID]
	sess := m.sessions[sessionID]
	if live != nil {
		live.manual = true
	}
	m.mu.Unlock()

	if sess == nil {
		return &sshx.SessionNotFoundError{SessionID: sessionID}
	}

	// Jawne rozłączenie unieważnia też oczekujące wpisy hosta
	m.scheduler.drop(sessionID)
	m.scheduler.dropForHost(sess.HostID)

	if live == nil {
		return nil
	}
	m.handleStreamEnd(sessionID, nil)
	return nil
}

// CloseSession rozłącza i usuwa sesję z rejestru
func (m *Manager) CloseSession(sessionID string) error {
	if err := m.Disconnect(sessionID); err != nil {
		return err
	}

	m.mu.Lock()
	delete(m.sessions, sessionID)
	delete(m.hostOf, sessionID)
	delete(m.jumpOf, sessionID)
	m.mu.Unlock()
	return nil
}

// DuplicateSession otwiera nową sesję do hosta istniejącej sesji
func (m *Manager) DuplicateSession(ctx context.Context, sessionID string) (*models.Session, error) {
	m.mu.Lock()
	host, ok := m.hostOf[sessionID]
	jump := m.jumpOf[sessionID]
	m.mu.Unlock()
	if !ok {
		return nil, &sshx.SessionNotFoundError{SessionID: sessionID}
	}
	return m.Connect(ctx, host, ConnectOptions{Jump: jump})
}

// SendShellInput wysyła tekst zakończony znakiem nowej linii
func (m *Manager) SendShellInput(sessionID, text string) error {
	return m.SendRawShellInput(sessionID, text+"\n")
}

// SendRawShellInput wysyła bajty do powłoki bez żadnej obróbki
func (m *Manager) SendRawShellInput(sessionID, text string) error {
	m.mu.Lock()
	live := m.live[sessionID]
	sess := m.sessions[sessionID]
	m.mu.Unlock()

	if live == nil {
		return &sshx.SessionNotFoundError{SessionID: sessionID}
	}
	n, err := live.shell.Write([]byte(text))
	if err != nil {
		return &sshx.TransportError{Message: "failed to write to shell", Err: err}
	}

	m.mu.Lock()
	if sess != nil {
		sess.BytesSent += int64(n)
		sess.LastActivity = time.Now()
	}
	m.mu.Unlock()
	return nil
}

// ResizeTerminal zmienia rozmiar terminala. Lokalna siatka rośnie od
// razu; zmiana rozmiaru zdalnego PTY jest debounce'owana, żeby nie
// zalewać hosta podczas przeciągania okna.
func (m *Manager) ResizeTerminal(sessionID string, columns, rows int) error {
	if columns < minColumns || rows < minRows {
		// Zdegenerowany rozmiar to przejściowy artefakt układu
		return nil
	}

	m.mu.Lock()
	live := m.live[sessionID]
	if live == nil {
		m.mu.Unlock()
		return &sshx.SessionNotFoundError{SessionID: sessionID}
	}
	live.interp.Resize(columns, rows)

	if t := m.resizeTimers[sessionID]; t != nil {
		t.Stop()
	}
	shell := live.shell
	m.resizeTimers[sessionID] = time.AfterFunc(m.settings.ResizeDebounce, func() {
		shell.Resize(columns, rows)
	})
	m.mu.Unlock()
	return nil
}

// requireConnected zwraca transport sesji w stanie connected
func (m *Manager) requireConnected(sessionID string) (sshx.TransportSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	live := m.live[sessionID]
	sess := m.sessions[sessionID]
	if live == nil || sess == nil || sess.State != models.StateConnected {
		return nil, &sshx.SessionNotFoundError{SessionID: sessionID}
	}
	return live.transport, nil
}

// ListRemoteDirectory listuje zdalny katalog sesji
func (m *Manager) ListRemoteDirectory(ctx context.Context, sessionID, path string) ([]models.FileEntry, error) {
	transport, err := m.requireConnected(sessionID)
	if err != nil {
		return nil, err
	}
	return transport.ListDirectory(ctx, path)
}

// UploadFile wysyła plik lokalny przez transport sesji
func (m *Manager) UploadFile(ctx context.Context, sessionID, localPath, remotePath string) (int64, error) {
	transport, err := m.requireConnected(sessionID)
	if err != nil {
		return 0, err
	}
	n, err := transport.UploadFile(ctx, localPath, remotePath)
	if err == nil {
		m.audit.Record(sessionID, "upload", remotePath)
	}
	return n, err
}

// DownloadFile pobiera zdalny plik przez transport sesji
func (m *Manager) DownloadFile(ctx context.Context, sessionID, remotePath, localPath string) (int64, error) {
	transport, err := m.requireConnected(sessionID)
	if err != nil {
		return 0, err
	}
	n, err := transport.DownloadFile(ctx, remotePath, localPath)
	if err == nil {
		m.audit.Record(sessionID, "download", remotePath)
	}
	return n, err
}

// ActivateForwards uruchamia dodatkowe reguły przekierowań na sesji
func (m *Manager) ActivateForwards(sessionID string, rules []models.PortForwardRule) ([]models.ActivePortForward, error) {
	transport, err := m.requireConnected(sessionID)
	if err != nil {
		return nil, err
	}
	return m.forwards.Activate(sessionID, transport, rules), nil
}

// DeactivateForward zatrzymuje jedno przekierowanie
func (m *Manager) DeactivateForward(forwardID string) {
	m.forwards.StopForward(forwardID)
}

// Forwards zwraca stan przekierowań sesji
func (m *Manager) Forwards(sessionID string) []models.ActivePortForward {
	return m.forwards.Active(sessionID)
}

// StartRecording włącza nagrywanie wyjścia sesji
func (m *Manager) StartRecording(sessionID string) { m.audit.StartRecording(sessionID) }

// StopRecording wyłącza nagrywanie wyjścia sesji
func (m *Manager) StopRecording(sessionID string) { m.audit.StopRecording(sessionID) }

// Interpreter zwraca interpreter terminala żywej sesji
func (m *Manager) Interpreter(sessionID string) (vt.Interpreter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	live := m.live[sessionID]
	if live == nil {
		return nil, &sshx.SessionNotFoundError{SessionID: sessionID}
	}
	return live.interp, nil
}

// Session zwraca kopię sesji o podanym identyfikatorze
func (m *Manager) Session(sessionID string) (*models.Session, error) {
	sess := m.sessionCopy(sessionID)
	if sess == nil {
		return nil, &sshx.SessionNotFoundError{SessionID: sessionID}
	}
	return sess, nil
}

// Sessions zwraca kopie wszystkich sesji
func (m *Manager) Sessions() []models.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, *s)
	}
	return out
}

// PendingReconnects zwraca identyfikatory sesji oczekujących na
// automatyczne ponowne połączenie.
func (m *Manager) PendingReconnects() []string {
	out := make([]string, 0)
	for id := range m.scheduler.snapshot() {
		out = append(out, id)
	}
	return out
}

func (m *Manager) sessionCopy(sessionID string) *models.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess := m.sessions[sessionID]
	if sess == nil {
		return nil
	}
	copied := *sess
	return &copied
}

func (m *Manager) publishSession(sessionID string) {
	if sess := m.sessionCopy(sessionID); sess != nil {
		m.publish(Event{Kind: EventSessionChanged, SessionID: sessionID, Session: sess})
	}
}

// purgeStaleSessions usuwa zakończone sesje hosta, żeby nie narastały
// przed utworzeniem nowej.
func (m *Manager) purgeStaleSessions(hostID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, sess := range m.sessions {
		if sess.HostID == hostID && sess.IsTerminal() {
			delete(m.sessions, id)
			delete(m.hostOf, id)
			delete(m.jumpOf, id)
		}
	}
}

// hasConnectedSession informuje czy host ma żywą sesję
func (m *Manager) hasConnectedSession(hostID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, sess := range m.sessions {
		if sess.HostID == hostID && sess.State == models.StateConnected {
			return true
		}
	}
	return false
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
