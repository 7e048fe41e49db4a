// internal/session/reconnect.go

package session

import (
	"context"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"prossh/internal/models"
	sshx "prossh/internal/ssh"
)

// pendingReconnect opisuje rozłączoną, ale odzyskiwalną sesję. Wpis
// istnieje do udanego ponownego połączenia, jawnego rozłączenia albo
// błędu wymagającego decyzji użytkownika.
type pendingReconnect struct {
	host models.Host
	jump *models.Host
}

// reconnectScheduler to jeden koordynujący timer: reaguje na przejście
// sieci w stan osiągalny (krótka zwłoka) i okresowo ponawia próby,
// dopóki istnieją wpisy oczekujące.
type reconnectScheduler struct {
	manager *Manager
	logger  *log.Logger

	shortDelay time.Duration
	interval   time.Duration

	mu      sync.Mutex
	pending map[string]pendingReconnect // klucz: id starej sesji
	started bool
	stopCh  chan struct{}
}

func newReconnectScheduler(manager *Manager, shortDelay, interval time.Duration, logger *log.Logger) *reconnectScheduler {
	return &reconnectScheduler{
		manager:    manager,
		logger:     logger.With("component", "reconnect"),
		shortDelay: shortDelay,
		interval:   interval,
		pending:    make(map[string]pendingReconnect),
	}
}

func (s *reconnectScheduler) start() {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.stopCh = make(chan struct{})
	stopCh := s.stopCh
	s.mu.Unlock()

	go s.loop(stopCh)
}

func (s *reconnectScheduler) stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return
	}
	s.started = false
	close(s.stopCh)
}

func (s *reconnectScheduler) loop(stopCh chan struct{}) {
	sub := s.manager.network.Subscribe()
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case reachable, ok := <-sub:
			if !ok {
				return
			}
			if reachable && s.hasPending() {
				// Krótka zwłoka po odzyskaniu sieci, żeby nie
				// próbować na wpół wstałym łączu.
				select {
				case <-time.After(s.shortDelay):
					s.runAttempts()
				case <-stopCh:
					return
				}
			}
		case <-ticker.C:
			if s.manager.network.Reachable() && s.hasPending() {
				s.runAttempts()
			}
		case <-stopCh:
			return
		}
	}
}

func (s *reconnectScheduler) enqueue(sessionID string, host models.Host, jump *models.Host) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending[sessionID] = pendingReconnect{host: host, jump: jump}
}

func (s *reconnectScheduler) drop(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pending, sessionID)
}

func (s *reconnectScheduler) dropForHost(hostID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, entry := range s.pending {
		if entry.host.ID == hostID {
			delete(s.pending, id)
		}
	}
}

func (s *reconnectScheduler) hasPending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending) > 0
}

func (s *reconnectScheduler) stillPending(sessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.pending[sessionID]
	return ok
}

func (s *reconnectScheduler) snapshot() map[string]pendingReconnect {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]pendingReconnect, len(s.pending))
	for id, e := range s.pending {
		out[id] = e
	}
	return out
}

// runAttempts wykonuje pełną sekwencję połączenia dla każdego wpisu.
// Każda próba to nowa sesja z nowym identyfikatorem.
func (s *reconnectScheduler) runAttempts() {
	for oldID, entry := range s.snapshot() {
		// Host z żywą sesją nie potrzebuje duplikatu
		if s.manager.hasConnectedSession(entry.host.ID) {
			s.drop(oldID)
			continue
		}

		// Adres ze świeżym negatywnym wynikiem czeka na kolejny cykl
		if s.manager.network.IsCachedUnreachable(entry.host.Address()) {
			s.logger.Debug("destination recently unreachable, deferring attempt",
				"host", entry.host.Address())
			continue
		}

		s.logger.Info("attempting automatic reconnect", "host", entry.host.Address())
		sess, err := s.manager.Connect(context.Background(), entry.host, ConnectOptions{Jump: entry.jump})

		if err != nil {
			if sshx.IsVerificationRequired(err) {
				// Wymaga decyzji człowieka - nigdy nie ponawiamy sami
				s.logger.Warn("reconnect requires host verification, abandoning",
					"host", entry.host.Address())
				s.drop(oldID)
				continue
			}
			// Pozostałe błędy są połykane: wpis czeka na kolejny cykl
			s.logger.Debug("reconnect attempt failed", "host", entry.host.Address(), "err", err)
			continue
		}

		// Wynik spóźnionej próby nie może nadpisać nowszego stanu:
		// jeśli wpis zniknął w trakcie próby, porzucamy świeżą sesję.
		if !s.stillPending(oldID) {
			s.logger.Debug("pending entry vanished during attempt, discarding result",
				"host", entry.host.Address())
			_ = s.manager.Disconnect(sess.ID)
			continue
		}
		s.drop(oldID)
	}
}
