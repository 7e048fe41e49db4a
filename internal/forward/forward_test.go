// internal/forward/forward_test.go

package forward

import (
	"context"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"prossh/internal/models"
	sshx "prossh/internal/ssh"
)

func connectedTransport(t *testing.T, srv *sshx.SimServer) *sshx.SimTransport {
	t.Helper()
	transport := sshx.NewSimTransport(srv)
	require.NoError(t, transport.Connect(context.Background(), sshx.ConnectConfig{
		Hostname: "example.com", Port: 22, Username: "user",
		Policy: sshx.Modern,
	}))
	return transport
}

func ephemeralRule() models.PortForwardRule {
	return models.PortForwardRule{
		Name:       "test",
		LocalHost:  "127.0.0.1",
		LocalPort:  0,
		RemoteHost: "db.internal",
		RemotePort: 5432,
		Enabled:    true,
	}
}

func listenerAddr(t *testing.T, m *Manager, sessionID string) string {
	t.Helper()
	active := m.Active(sessionID)
	require.Len(t, active, 1)
	require.Equal(t, models.ForwardListening, active[0].State)

	m.mu.Lock()
	defer m.mu.Unlock()
	fwd := m.forwards[active[0].ID]
	require.NotNil(t, fwd)
	return fwd.listener.Addr().String()
}

func TestForwardProxiesBidirectionally(t *testing.T) {
	srv := sshx.NewSimServer()
	m := NewManager(nil)
	transport := connectedTransport(t, srv)

	active := m.Activate("s1", transport, []models.PortForwardRule{ephemeralRule()})
	require.Len(t, active, 1)
	require.Equal(t, models.ForwardListening, active[0].State)
	defer m.StopSession("s1")

	conn, err := net.Dial("tcp", listenerAddr(t, m, "s1"))
	require.NoError(t, err)
	defer conn.Close()

	// Domyślny responder symulatora odbija dane
	_, err = conn.Write([]byte("ping"))
	require.NoError(t, err)

	buf := make([]byte, 16)
	conn.SetReadDeadline(time.Now().Add(time.Second))
	n, err := conn.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "ping", string(buf[:n]))

	require.Eventually(t, func() bool {
		return m.LiveConnections("s1") == 1
	}, time.Second, 5*time.Millisecond)
}

func TestForwardClosesBothSidesTogether(t *testing.T) {
	srv := sshx.NewSimServer()
	m := NewManager(nil)
	transport := connectedTransport(t, srv)

	m.Activate("s1", transport, []models.PortForwardRule{ephemeralRule()})
	defer m.StopSession("s1")

	conn, err := net.Dial("tcp", listenerAddr(t, m, "s1"))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return m.LiveConnections("s1") == 1
	}, time.Second, 5*time.Millisecond)

	// Zamknięcie strony lokalnej sprząta całe proxy
	conn.Close()
	require.Eventually(t, func() bool {
		return m.LiveConnections("s1") == 0
	}, time.Second, 5*time.Millisecond)
}

func TestForwardEnforcesConnectionCap(t *testing.T) {
	srv := sshx.NewSimServer()
	m := NewManager(nil)
	transport := connectedTransport(t, srv)

	rule := ephemeralRule()
	rule.MaxConns = 2
	m.Activate("s1", transport, []models.PortForwardRule{rule})
	defer m.StopSession("s1")
	addr := listenerAddr(t, m, "s1")

	var conns []net.Conn
	defer func() {
		for _, c := range conns {
			c.Close()
		}
	}()

	for i := 0; i < 2; i++ {
		c, err := net.Dial("tcp", addr)
		require.NoError(t, err)
		conns = append(conns, c)
		_, err = c.Write([]byte("hold"))
		require.NoError(t, err)
	}

	require.Eventually(t, func() bool {
		return m.LiveConnections("s1") == 2
	}, time.Second, 5*time.Millisecond)

	// Trzecie połączenie ponad limit jest odrzucane bez zwiększenia licznika
	over, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer over.Close()

	over.SetReadDeadline(time.Now().Add(time.Second))
	buf := make([]byte, 1)
	_, err = over.Read(buf)
	assert.Error(t, err, "over-cap connection must be closed by the listener")
	assert.Equal(t, 2, m.LiveConnections("s1"))
}

func TestForwardBindErrorIsReportedNotFatal(t *testing.T) {
	srv := sshx.NewSimServer()
	m := NewManager(nil)
	transport := connectedTransport(t, srv)

	// Zajmij port, żeby wymusić błąd bindowania
	blocker, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer blocker.Close()
	_, portStr, err := net.SplitHostPort(blocker.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	taken := ephemeralRule()
	taken.LocalPort = port

	active := m.Activate("s1", transport, []models.PortForwardRule{taken, ephemeralRule()})
	require.Len(t, active, 2)
	defer m.StopSession("s1")

	assert.Equal(t, models.ForwardError, active[0].State)
	assert.NotEmpty(t, active[0].Error)
	assert.Equal(t, models.ForwardListening, active[1].State)
}

func TestForwardInvalidRuleGetsErrorState(t *testing.T) {
	srv := sshx.NewSimServer()
	m := NewManager(nil)
	transport := connectedTransport(t, srv)

	bad := ephemeralRule()
	bad.RemoteHost = ""

	active := m.Activate("s1", transport, []models.PortForwardRule{bad})
	require.Len(t, active, 1)
	assert.Equal(t, models.ForwardError, active[0].State)
	assert.NotEmpty(t, active[0].Error)
}

func TestForwardDisabledRulesAreSkipped(t *testing.T) {
	srv := sshx.NewSimServer()
	m := NewManager(nil)
	transport := connectedTransport(t, srv)

	off := ephemeralRule()
	off.Enabled = false

	active := m.Activate("s1", transport, []models.PortForwardRule{off})
	assert.Empty(t, active)
	assert.Empty(t, m.Active("s1"))
}

func TestStopSessionClosesListeners(t *testing.T) {
	srv := sshx.NewSimServer()
	m := NewManager(nil)
	transport := connectedTransport(t, srv)

	m.Activate("s1", transport, []models.PortForwardRule{ephemeralRule()})
	addr := listenerAddr(t, m, "s1")

	m.StopSession("s1")
	assert.Empty(t, m.Active("s1"))

	_, err := net.Dial("tcp", addr)
	assert.Error(t, err, "listener must be closed after StopSession")
}

func TestStopForwardIsIdempotent(t *testing.T) {
	srv := sshx.NewSimServer()
	m := NewManager(nil)
	transport := connectedTransport(t, srv)

	active := m.Activate("s1", transport, []models.PortForwardRule{ephemeralRule()})
	require.Len(t, active, 1)

	m.StopForward(active[0].ID)
	m.StopForward(active[0].ID)

	got := m.Active("s1")
	require.Len(t, got, 1)
	assert.Equal(t, models.ForwardStopped, got[0].State)
}
