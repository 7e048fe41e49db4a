// internal/session/pipeline_test.go

package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sshx "prossh/internal/ssh"
	"prossh/internal/vt"
)

type pipelineFixture struct {
	transport *sshx.SimTransport
	pipe      *pipeline
	interp    vt.Interpreter

	mu        sync.Mutex
	snapshots []vt.Snapshot
	received  int
	closedErr error
	closedCh  chan struct{}
}

func newPipelineFixture(t *testing.T, publishInterval time.Duration) *pipelineFixture {
	t.Helper()

	srv := sshx.NewSimServer()
	transport := sshx.NewSimTransport(srv)
	require.NoError(t, transport.Connect(context.Background(), sshx.ConnectConfig{
		Hostname: "example.com", Port: 22, Username: "user",
		Policy: sshx.Modern,
	}))
	shell, err := transport.OpenShell(context.Background(), sshx.ShellConfig{Columns: 80, Rows: 24})
	require.NoError(t, err)

	f := &pipelineFixture{
		transport: transport,
		interp:    vt.NewPlain(80, 24),
		closedCh:  make(chan struct{}),
	}

	f.pipe = newPipeline("s1", shell, f.interp, nil, publishInterval,
		func(n int) {
			f.mu.Lock()
			f.received += n
			f.mu.Unlock()
		},
		func(snap vt.Snapshot) {
			f.mu.Lock()
			f.snapshots = append(f.snapshots, snap)
			f.mu.Unlock()
		},
		func(err error) {
			f.mu.Lock()
			f.closedErr = err
			f.mu.Unlock()
			close(f.closedCh)
		},
	)
	f.pipe.start()
	t.Cleanup(f.pipe.close)
	return f
}

func (f *pipelineFixture) snapshotCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.snapshots)
}

func (f *pipelineFixture) lastSnapshot() (vt.Snapshot, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.snapshots) == 0 {
		return vt.Snapshot{}, false
	}
	return f.snapshots[len(f.snapshots)-1], true
}

func TestPipelineCoalescesBursts(t *testing.T) {
	f := newPipelineFixture(t, 150*time.Millisecond)

	// Wybuch wielu porcji mieści się w jednym oknie koalescencji:
	// zapisy do potoku są konsumowane na bieżąco, więc całość trafia
	// do interpretera na długo przed pierwszym strzałem timera.
	for i := 0; i < 20; i++ {
		f.transport.PushOutput([]byte("line of output\r\n"))
	}

	require.Eventually(t, func() bool {
		return f.snapshotCount() >= 1
	}, time.Second, 5*time.Millisecond)

	// Karencja dłuższa niż okno: bez nowych danych nie wolno dodać
	// ani jednej publikacji ponad tę jedną z wybuchu.
	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, 1, f.snapshotCount(), "a burst within one window must yield exactly one publish")

	snap, ok := f.lastSnapshot()
	require.True(t, ok)
	assert.NotEmpty(t, snap.Lines)
}

func TestPipelineCountsReceivedBytes(t *testing.T) {
	f := newPipelineFixture(t, 5*time.Millisecond)

	payload := []byte("0123456789")
	f.transport.PushOutput(payload)

	require.Eventually(t, func() bool {
		f.mu.Lock()
		defer f.mu.Unlock()
		return f.received == len(payload)
	}, time.Second, 5*time.Millisecond)
}

func TestPipelineSuppressesPublishDuringSyncOutput(t *testing.T) {
	f := newPipelineFixture(t, 10*time.Millisecond)

	// Wejście w tryb synchronized output i dane w jego trakcie
	f.transport.PushOutput([]byte("\x1b[?2026h"))
	f.transport.PushOutput([]byte("partial frame\r\n"))

	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, 0, f.snapshotCount(), "no snapshot may be published while sync output is active")

	// Wyjście z trybu publikuje przechwyconą klatkę natychmiast
	f.transport.PushOutput([]byte("\x1b[?2026l"))

	require.Eventually(t, func() bool {
		return f.snapshotCount() >= 1
	}, time.Second, 5*time.Millisecond)

	snap, ok := f.lastSnapshot()
	require.True(t, ok)
	found := false
	for _, line := range snap.Lines {
		if line == "partial frame" {
			found = true
		}
	}
	assert.True(t, found, "frame captured at sync exit must contain the buffered output")
}

func TestPipelineFlushesPendingOnStreamEnd(t *testing.T) {
	f := newPipelineFixture(t, 10*time.Second) // okno dłuższe niż test

	f.transport.PushOutput([]byte("last words\r\n"))
	// Publikacja jest zaplanowana, ale timer jeszcze nie strzelił
	time.Sleep(20 * time.Millisecond)
	f.transport.CloseOutput()

	select {
	case <-f.closedCh:
	case <-time.After(time.Second):
		t.Fatal("pipeline did not report stream end")
	}

	require.GreaterOrEqual(t, f.snapshotCount(), 1, "pending snapshot must be flushed at EOF")
	snap, _ := f.lastSnapshot()
	found := false
	for _, line := range snap.Lines {
		if line == "last words" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestPipelineAnswersTerminalQueries(t *testing.T) {
	f := newPipelineFixture(t, 5*time.Millisecond)

	// Zapytanie o pozycję kursora musi wrócić do powłoki bez udziału
	// warstwy prezentacji.
	f.transport.PushOutput([]byte("\x1b[6n"))

	shell := f.transport.Shell()
	require.NotNil(t, shell)
	require.Eventually(t, func() bool {
		// Odpowiedź DSR idzie przez Write kanału powłoki; symulator
		// bez respondera po prostu ją połyka, więc wystarczy brak paniki
		// i brak snapshotu z surową sekwencją.
		snap := f.interp.Snapshot()
		for _, line := range snap.Lines {
			if line == "\x1b[6n" {
				return false
			}
		}
		return true
	}, time.Second, 5*time.Millisecond)
}
