// internal/forward/forward.go

package forward

import (
	"context"
	"io"
	"net"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"prossh/internal/models"
)

// Transport to minimalny widok sesji transportowej potrzebny do
// przekierowań: otwarcie kanału direct-tcpip do zdalnego celu.
type Transport interface {
	OpenForwardChannel(ctx context.Context, remoteHost string, remotePort int) (io.ReadWriteCloser, error)
}

const openChannelTimeout = 10 * time.Second

// Manager utrzymuje lokalne nasłuchy i dwukierunkowe proxy dla reguł
// przekierowania portów. Wszystkie przekierowania sesji są zamykane
// przy jej rozłączeniu.
type Manager struct {
	logger *log.Logger

	mu        sync.Mutex
	forwards  map[string]*activeForward
	bySession map[string]map[string]struct{}

	// OnChange, jeśli ustawione, jest wywoływane po każdej zmianie
	// stanu przekierowania (bez trzymania blokady).
	OnChange func(models.ActivePortForward)
}

type activeForward struct {
	manager   *Manager
	transport Transport

	mu        sync.Mutex
	model     models.ActivePortForward
	listener  net.Listener
	stopped   bool
	stopOnce  sync.Once
	conns     map[*proxyConn]struct{}
}

type proxyConn struct {
	local   net.Conn
	channel io.ReadWriteCloser
	once    sync.Once
}

// NewManager tworzy menedżera przekierowań
func NewManager(logger *log.Logger) *Manager {
	if logger == nil {
		logger = log.Default()
	}
	return &Manager{
		logger:    logger.With("component", "forward"),
		forwards:  make(map[string]*activeForward),
		bySession: make(map[string]map[string]struct{}),
	}
}

// Activate uruchamia nasłuchy dla włączonych reguł sesji. Błąd
// bindowania nie przerywa pozostałych reguł - przekierowanie dostaje
// stan error z komunikatem.
func (m *Manager) Activate(sessionID string, transport Transport, rules []models.PortForwardRule) []models.ActivePortForward {
	var out []models.ActivePortForward

	for _, rule := range rules {
		if !rule.Enabled {
			continue
		}
		out = append(out, m.activateRule(sessionID, transport, rule))
	}
	return out
}

func (m *Manager) activateRule(sessionID string, transport Transport, rule models.PortForwardRule) models.ActivePortForward {
	fwd := &activeForward{
		manager:   m,
		transport: transport,
		conns:     make(map[*proxyConn]struct{}),
		model: models.ActivePortForward{
			ID:        uuid.NewString(),
			Rule:      rule,
			SessionID: sessionID,
			State:     models.ForwardListening,
		},
	}

	if err := rule.Validate(); err != nil {
		fwd.model.State = models.ForwardError
		fwd.model.Error = err.Error()
	} else {
		listener, err := net.Listen("tcp", rule.LocalAddress())
		if err != nil {
			fwd.model.State = models.ForwardError
			fwd.model.Error = err.Error()
			m.logger.Warn("failed to bind forward listener",
				"session", sessionID, "addr", rule.LocalAddress(), "err", err)
		} else {
			fwd.listener = listener
		}
	}

	m.mu.Lock()
	m.forwards[fwd.model.ID] = fwd
	if m.bySession[sessionID] == nil {
		m.bySession[sessionID] = make(map[string]struct{})
	}
	m.bySession[sessionID][fwd.model.ID] = struct{}{}
	m.mu.Unlock()

	if fwd.listener != nil {
		m.logger.Info("port forward listening",
			"session", sessionID, "local", rule.LocalAddress(),
			"remote", rule.RemoteHost, "remote_port", rule.RemotePort)
		go fwd.acceptLoop()
	}

	snapshot := fwd.snapshot()
	m.notify(snapshot)
	return snapshot
}

func (m *Manager) notify(model models.ActivePortForward) {
	if m.OnChange != nil {
		m.OnChange(model)
	}
}

func (f *activeForward) snapshot() models.ActivePortForward {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.model
}

func (f *activeForward) acceptLoop() {
	for {
		conn, err := f.listener.Accept()
		if err != nil {
			f.mu.Lock()
			stopped := f.stopped
			if !stopped && f.model.State == models.ForwardListening {
				f.model.State = models.ForwardError
				f.model.Error = err.Error()
			}
			f.mu.Unlock()
			if !stopped {
				f.manager.notify(f.snapshot())
			}
			return
		}
		go f.handleConn(conn)
	}
}

func (f *activeForward) handleConn(local net.Conn) {
	connCap := f.model.Rule.ConnectionCap()

	f.mu.Lock()
	if f.stopped || len(f.conns) >= connCap {
		f.mu.Unlock()
		// Limit równoczesnych połączeń: odrzuć bez inkrementacji licznika
		local.Close()
		return
	}
	f.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), openChannelTimeout)
	channel, err := f.transport.OpenForwardChannel(ctx, f.model.Rule.RemoteHost, f.model.Rule.RemotePort)
	cancel()
	if err != nil {
		f.manager.logger.Warn("failed to open forward channel",
			"session", f.model.SessionID, "remote", f.model.Rule.RemoteHost, "err", err)
		local.Close()
		return
	}

	proxy := &proxyConn{local: local, channel: channel}

	f.mu.Lock()
	if f.stopped || len(f.conns) >= connCap {
		f.mu.Unlock()
		proxy.teardown()
		return
	}
	f.conns[proxy] = struct{}{}
	f.model.LiveConns = len(f.conns)
	f.mu.Unlock()
	f.manager.notify(f.snapshot())

	// Dwukierunkowe proxy: koniec którejkolwiek strony zamyka obie
	var group errgroup.Group
	group.Go(func() error {
		_, err := io.Copy(channel, local)
		proxy.teardown()
		return err
	})
	group.Go(func() error {
		_, err := io.Copy(local, channel)
		proxy.teardown()
		return err
	})
	group.Wait()

	f.mu.Lock()
	delete(f.conns, proxy)
	f.model.LiveConns = len(f.conns)
	f.mu.Unlock()
	f.manager.notify(f.snapshot())
}

// teardown zamyka obie strony proxy; bezpieczne przy podwójnym wywołaniu
func (p *proxyConn) teardown() {
	p.once.Do(func() {
		p.local.Close()
		p.channel.Close()
	})
}

// stop zatrzymuje nasłuch i wszystkie żywe proxy przekierowania
func (f *activeForward) stop() {
	f.stopOnce.Do(func() {
		f.mu.Lock()
		f.stopped = true
		if f.model.State == models.ForwardListening {
			f.model.State = models.ForwardStopped
		}
		listener := f.listener
		conns := make([]*proxyConn, 0, len(f.conns))
		for c := range f.conns {
			conns = append(conns, c)
		}
		f.mu.Unlock()

		if listener != nil {
			listener.Close()
		}
		for _, c := range conns {
			c.teardown()
		}
		f.manager.notify(f.snapshot())
	})
}

// StopForward zatrzymuje jedno przekierowanie po identyfikatorze
func (m *Manager) StopForward(forwardID string) {
	m.mu.Lock()
	fwd, ok := m.forwards[forwardID]
	m.mu.Unlock()
	if ok {
		fwd.stop()
	}
}

// StopSession zatrzymuje wszystkie przekierowania sesji
func (m *Manager) StopSession(sessionID string) {
	m.mu.Lock()
	ids := make([]string, 0)
	for id := range m.bySession[sessionID] {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		m.StopForward(id)
	}

	m.mu.Lock()
	for _, id := range ids {
		delete(m.forwards, id)
	}
	delete(m.bySession, sessionID)
	m.mu.Unlock()
}

// Active zwraca bieżący stan przekierowań sesji
func (m *Manager) Active(sessionID string) []models.ActivePortForward {
	m.mu.Lock()
	fwds := make([]*activeForward, 0)
	for id := range m.bySession[sessionID] {
		if f, ok := m.forwards[id]; ok {
			fwds = append(fwds, f)
		}
	}
	m.mu.Unlock()

	out := make([]models.ActivePortForward, 0, len(fwds))
	for _, f := range fwds {
		out = append(out, f.snapshot())
	}
	return out
}

// LiveConnections zwraca łączną liczbę żywych proxy sesji
func (m *Manager) LiveConnections(sessionID string) int {
	total := 0
	for _, f := range m.Active(sessionID) {
		total += f.LiveConns
	}
	return total
}
