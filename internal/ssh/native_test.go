// internal/ssh/native_test.go

package ssh

import (
	"context"
	"net"
	"os"
	"strconv"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapDialErrorClassifiesRefusedConnection(t *testing.T) {
	n := NewNativeTransport()

	dialErr := &net.OpError{
		Op:  "dial",
		Net: "tcp",
		Err: os.NewSyscallError("connect", syscall.ECONNREFUSED),
	}
	mapped := n.mapDialError("127.0.0.1:22", dialErr)

	var refused *ConnectionRefusedError
	require.ErrorAs(t, mapped, &refused)
	assert.Equal(t, "127.0.0.1:22", refused.Address)
	assert.True(t, IsNetworkError(mapped))

	// Inne błędy dial przechodzą bez zmiany typu
	timeoutErr := &net.OpError{
		Op:  "dial",
		Net: "tcp",
		Err: os.NewSyscallError("connect", syscall.ETIMEDOUT),
	}
	assert.Same(t, timeoutErr, n.mapDialError("127.0.0.1:22", timeoutErr))
}

func TestProbeHostKeyReportsNonSSHEndpoint(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	// Punkt końcowy przyjmuje połączenie i natychmiast je zamyka;
	// handshake nie ma szans przedstawić klucza hosta.
	go func() {
		for {
			conn, aerr := ln.Accept()
			if aerr != nil {
				return
			}
			conn.Close()
		}
	}()

	host, portStr, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	keyType, fingerprint, perr := ProbeHostKey(ctx, host, port, Modern)
	require.Error(t, perr)
	assert.Empty(t, keyType)
	assert.Empty(t, fingerprint)
}
