// internal/vt/plain.go

package vt

import (
	"bytes"
	"io"
	"strings"
	"sync"
)

const plainScrollback = 2000

// Plain is a deliberately small Interpreter: it accumulates printable
// output line by line and recognizes just enough control sequences to
// honor the streaming contract (alt screen 1049, synchronized output
// 2026, bell, OSC title and working directory, DSR/DA queries).
type Plain struct {
	mu sync.Mutex

	columns int
	rows    int
	lines   []string
	current strings.Builder
	seq     uint64

	title     string
	cwd       string
	bellCount int

	altScreen  bool
	syncOutput bool

	syncExit   *Snapshot
	responder  func([]byte)
	mirror     io.Writer
	pendingEsc []byte
}

// NewPlain creates a Plain interpreter with the given initial size.
func NewPlain(columns, rows int) *Plain {
	return &Plain{columns: columns, rows: rows}
}

// SetMirror makes Feed copy raw bytes to w (used by the CLI frontend
// to pass output straight through to the local terminal).
func (p *Plain) SetMirror(w io.Writer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.mirror = w
}

// Feed processes one chunk of raw output.
func (p *Plain) Feed(data []byte) bool {
	if len(data) == 0 {
		return false
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.mirror != nil {
		p.mirror.Write(data)
	}

	// Prepend any escape sequence left incomplete by the previous chunk.
	if len(p.pendingEsc) > 0 {
		data = append(p.pendingEsc, data...)
		p.pendingEsc = nil
	}

	i := 0
	for i < len(data) {
		b := data[i]
		switch {
		case b == 0x07:
			p.bellCount++
			i++
		case b == '\n':
			p.pushLineLocked()
			i++
		case b == '\r':
			i++
		case b == 0x1b:
			consumed, ok := p.handleEscapeLocked(data[i:])
			if !ok {
				// Incomplete sequence; keep the tail for the next chunk.
				p.pendingEsc = append([]byte(nil), data[i:]...)
				i = len(data)
				break
			}
			i += consumed
		default:
			p.current.WriteByte(b)
			i++
		}
	}

	p.seq++
	return true
}

func (p *Plain) pushLineLocked() {
	p.lines = append(p.lines, p.current.String())
	p.current.Reset()
	if len(p.lines) > plainScrollback {
		p.lines = p.lines[len(p.lines)-plainScrollback:]
	}
}

// handleEscapeLocked interprets one escape sequence starting at data[0]
// (which is ESC). Returns bytes consumed and whether the sequence was
// complete.
func (p *Plain) handleEscapeLocked(data []byte) (int, bool) {
	if len(data) < 2 {
		return 0, false
	}

	switch data[1] {
	case '[': // CSI
		j := 2
		for j < len(data) {
			c := data[j]
			if c >= 0x40 && c <= 0x7e {
				p.handleCSILocked(data[2:j], c)
				return j + 1, true
			}
			j++
		}
		return 0, false

	case ']': // OSC, terminated by BEL or ST
		if end := bytes.IndexByte(data[2:], 0x07); end >= 0 {
			p.handleOSCLocked(string(data[2 : 2+end]))
			return 2 + end + 1, true
		}
		if end := bytes.Index(data[2:], []byte{0x1b, '\\'}); end >= 0 {
			p.handleOSCLocked(string(data[2 : 2+end]))
			return 2 + end + 2, true
		}
		return 0, false

	default:
		// Two-byte sequence we do not interpret.
		return 2, true
	}
}

func (p *Plain) handleCSILocked(params []byte, final byte) {
	s := string(params)
	switch final {
	case 'h', 'l':
		on := final == 'h'
		switch s {
		case "?1049":
			p.altScreen = on
		case "?2026":
			if !on && p.syncOutput {
				// Capture the frame at the exit instant; it must be
				// published even if sync mode re-enters immediately.
				snap := p.snapshotLocked()
				p.syncExit = &snap
			}
			p.syncOutput = on
		}
	case 'n':
		if s == "6" && p.responder != nil {
			p.responder([]byte("\x1b[1;1R"))
		}
	case 'c':
		if (s == "" || s == "0") && p.responder != nil {
			p.responder([]byte("\x1b[?6c"))
		}
	case 'J':
		if s == "2" || s == "3" {
			p.lines = nil
			p.current.Reset()
		}
	}
}

func (p *Plain) handleOSCLocked(body string) {
	idx := strings.IndexByte(body, ';')
	if idx < 0 {
		return
	}
	code, rest := body[:idx], body[idx+1:]
	switch code {
	case "0", "2":
		p.title = rest
	case "7":
		p.cwd = strings.TrimPrefix(rest, "file://")
		if i := strings.IndexByte(p.cwd, '/'); i > 0 {
			p.cwd = p.cwd[i:]
		}
	}
}

func (p *Plain) snapshotLocked() Snapshot {
	lines := make([]string, 0, len(p.lines)+1)
	lines = append(lines, p.lines...)
	if p.current.Len() > 0 {
		lines = append(lines, p.current.String())
	}
	return Snapshot{Columns: p.columns, Rows: p.rows, Lines: lines, Seq: p.seq}
}

// Snapshot returns the current frame.
func (p *Plain) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snapshotLocked()
}

// Resize updates the local grid size immediately.
func (p *Plain) Resize(columns, rows int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.columns = columns
	p.rows = rows
}

func (p *Plain) WindowTitle() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.title
}

func (p *Plain) WorkingDirectory() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cwd
}

func (p *Plain) BellCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.bellCount
}

func (p *Plain) AltScreenActive() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.altScreen
}

func (p *Plain) ExitAltScreen() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.altScreen = false
}

func (p *Plain) SyncOutputActive() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.syncOutput
}

func (p *Plain) TakeSyncExitSnapshot() (Snapshot, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.syncExit == nil {
		return Snapshot{}, false
	}
	snap := *p.syncExit
	p.syncExit = nil
	return snap, true
}

func (p *Plain) SetResponseHandler(handler func([]byte)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.responder = handler
}
