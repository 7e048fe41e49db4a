// internal/netmon/netmon.go
//
// Process-wide network reachability monitor. One instance is
// constructed explicitly and its lifecycle (Start/Stop) is owned by
// whoever owns the session manager; nothing here relies on implicit
// global initialization.

package netmon

import (
	"net"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

// DialFunc probes one address; injectable for tests.
type DialFunc func(addr string, timeout time.Duration) error

func defaultDial(addr string, timeout time.Duration) error {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return err
	}
	conn.Close()
	return nil
}

// negativeTTL bounds how long a cached "unreachable" verdict for a
// destination is honored.
const negativeTTL = 30 * time.Second

// Monitor periodically probes a well-known address and publishes
// reachable/unreachable transitions. It also keeps a short-lived
// negative cache per destination, with Forget as the explicit
// invalidation hook used before every connection attempt.
type Monitor struct {
	probeAddr string
	interval  time.Duration
	dial      DialFunc
	logger    *log.Logger

	mu        sync.Mutex
	reachable bool
	started   bool
	stopCh    chan struct{}
	subs      []chan bool
	negative  map[string]time.Time
}

// New creates a monitor probing probeAddr every interval.
func New(probeAddr string, interval time.Duration, logger *log.Logger) *Monitor {
	if logger == nil {
		logger = log.Default()
	}
	return &Monitor{
		probeAddr: probeAddr,
		interval:  interval,
		dial:      defaultDial,
		logger:    logger.With("component", "netmon"),
		reachable: true,
		negative:  make(map[string]time.Time),
	}
}

// SetDialFunc replaces the probe dialer. Call before Start.
func (m *Monitor) SetDialFunc(dial DialFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dial = dial
}

// Start launches the probe loop. Safe to call once.
func (m *Monitor) Start() {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return
	}
	m.started = true
	m.stopCh = make(chan struct{})
	stopCh := m.stopCh
	m.mu.Unlock()

	go m.loop(stopCh)
}

// Stop terminates the probe loop and closes subscriber channels.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return
	}
	m.started = false
	close(m.stopCh)
	subs := m.subs
	m.subs = nil
	m.mu.Unlock()

	for _, ch := range subs {
		close(ch)
	}
}

func (m *Monitor) loop(stopCh chan struct{}) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.probe()
	for {
		select {
		case <-ticker.C:
			m.probe()
		case <-stopCh:
			return
		}
	}
}

func (m *Monitor) probe() {
	m.mu.Lock()
	dial := m.dial
	addr := m.probeAddr
	m.mu.Unlock()

	err := dial(addr, 3*time.Second)
	m.Update(err == nil)
}

// Update records the current reachability verdict and notifies
// subscribers on transitions. Exported so tests and platform-specific
// hooks can drive the monitor directly.
func (m *Monitor) Update(reachable bool) {
	m.mu.Lock()
	if reachable == m.reachable {
		m.mu.Unlock()
		return
	}
	m.reachable = reachable
	subs := append([]chan bool(nil), m.subs...)
	m.mu.Unlock()

	m.logger.Info("network reachability changed", "reachable", reachable)
	for _, ch := range subs {
		select {
		case ch <- reachable:
		default:
			// Slow subscriber misses a transition rather than
			// blocking the monitor.
		}
	}
}

// Reachable returns the last probe verdict.
func (m *Monitor) Reachable() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reachable
}

// Subscribe returns a channel receiving reachability transitions.
// The channel is closed by Stop.
func (m *Monitor) Subscribe() <-chan bool {
	ch := make(chan bool, 4)
	m.mu.Lock()
	m.subs = append(m.subs, ch)
	m.mu.Unlock()
	return ch
}

// RecordFailure memoizes a failed connect verdict for one destination.
func (m *Monitor) RecordFailure(addr string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.negative[addr] = time.Now()
}

// IsCachedUnreachable reports whether a recent failed verdict exists.
func (m *Monitor) IsCachedUnreachable(addr string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.negative[addr]
	if !ok {
		return false
	}
	if time.Since(t) > negativeTTL {
		delete(m.negative, addr)
		return false
	}
	return true
}

// Forget drops any cached verdict for the destination. Called before
// every connection attempt so a stale "unreachable" memoization cannot
// survive a manual retry. Safe no-op when nothing is cached.
func (m *Monitor) Forget(addr string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.negative, addr)
}
