// internal/audit/audit_test.go

package audit

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "audit.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRecordAndReadEvents(t *testing.T) {
	s := newTestStore(t)

	s.Record("s1", "connect", "connecting to example.com:22")
	s.Record("s1", "connected", "example.com:22 (ssh-ed25519)")
	s.Record("s2", "connect", "other host")

	events, err := s.Events("s1")
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "connect", events[0].Kind)
	assert.Equal(t, "connected", events[1].Kind)
}

func TestRecordingLifecycle(t *testing.T) {
	s := newTestStore(t)

	// Bez włączonego nagrywania nic nie trafia do bazy
	s.AppendOutput("s1", []byte("ignored"))
	data, err := s.Recording("s1")
	require.NoError(t, err)
	assert.Empty(t, data)

	s.StartRecording("s1")
	assert.True(t, s.IsRecording("s1"))

	s.AppendOutput("s1", []byte("first "))
	s.AppendOutput("s1", []byte("second"))

	s.StopRecording("s1")
	assert.False(t, s.IsRecording("s1"))
	s.AppendOutput("s1", []byte(" after stop"))

	data, err = s.Recording("s1")
	require.NoError(t, err)
	assert.Equal(t, "first second", string(data))
}

func TestNilStoreIsSafe(t *testing.T) {
	var s *Store

	s.Record("s1", "connect", "detail")
	s.StartRecording("s1")
	s.AppendOutput("s1", []byte("data"))
	s.StopRecording("s1")
	assert.False(t, s.IsRecording("s1"))

	data, err := s.Recording("s1")
	require.NoError(t, err)
	assert.Nil(t, data)
	require.NoError(t, s.Close())
}
