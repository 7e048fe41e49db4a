// internal/vt/vt.go
//
// Collaborator interface for the terminal grid interpreter. The full
// escape-sequence interpreter is an external component; this package
// defines the contract the streaming pipeline drives, plus Plain, a
// minimal deterministic implementation used by the frontend and tests.

package vt

// Snapshot is one immutable rendered frame.
type Snapshot struct {
	Columns int
	Rows    int
	Lines   []string
	Seq     uint64
}

// Interpreter consumes a raw ordered byte stream and produces display
// snapshots. Implementations are driven from a single goroutine.
type Interpreter interface {
	// Feed processes one chunk; returns false when the chunk was ignored.
	Feed(p []byte) bool

	Snapshot() Snapshot
	Resize(columns, rows int)

	WindowTitle() string
	WorkingDirectory() string
	BellCount() int

	AltScreenActive() bool
	// ExitAltScreen force-leaves the alternate screen buffer, used when
	// a stream ends mid-application so stale content is not left up.
	ExitAltScreen()

	// SyncOutputActive reports synchronized-output mode (DEC 2026):
	// while active, intermediate frames must not be published.
	SyncOutputActive() bool

	// TakeSyncExitSnapshot consumes the frame captured at the most
	// recent synchronized-output exit, if one is pending.
	TakeSyncExitSnapshot() (Snapshot, bool)

	// SetResponseHandler registers the callback used to send terminal
	// query responses (cursor position, device attributes) back to the
	// remote end.
	SetResponseHandler(func(p []byte))
}
