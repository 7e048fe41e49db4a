// internal/session/pipeline.go

package session

import (
	"sync"
	"time"

	"prossh/internal/audit"
	sshx "prossh/internal/ssh"
	"prossh/internal/vt"
)

const readBufferSize = 32 * 1024

// pipeline przetwarza strumień bajtów jednego kanału powłoki: karmi
// interpreter, aktualizuje liczniki, dopisuje nagranie i koalescuje
// publikacje snapshotów tak, żeby wybuch wyjścia terminala nie zalał
// warstwy prezentacji.
type pipeline struct {
	sessionID string
	shell     sshx.ShellChannel
	interp    vt.Interpreter
	recorder  *audit.Store

	publishInterval time.Duration

	onChunk   func(n int)
	publishFn func(vt.Snapshot)
	onClosed  func(err error)

	mu               sync.Mutex
	publishScheduled bool
	timer            *time.Timer
	closed           bool
}

func newPipeline(sessionID string, shell sshx.ShellChannel, interp vt.Interpreter,
	recorder *audit.Store, publishInterval time.Duration,
	onChunk func(int), publishFn func(vt.Snapshot), onClosed func(error)) *pipeline {

	p := &pipeline{
		sessionID:       sessionID,
		shell:           shell,
		interp:          interp,
		recorder:        recorder,
		publishInterval: publishInterval,
		onChunk:         onChunk,
		publishFn:       publishFn,
		onClosed:        onClosed,
	}

	// Interpreter odpowiada na zapytania terminala (pozycja kursora,
	// identyfikacja) bezpośrednio przez kanał powłoki.
	interp.SetResponseHandler(func(b []byte) {
		p.shell.Write(b)
	})

	return p
}

func (p *pipeline) start() {
	go p.readLoop()
}

func (p *pipeline) readLoop() {
	buf := make([]byte, readBufferSize)
	for {
		n, err := p.shell.Read(buf)
		if n > 0 {
			chunk := buf[:n]

			// Kolejność przetwarzania jest ściśle zgodna z kolejnością
			// nadejścia: interpreter, liczniki, nagranie.
			p.interp.Feed(chunk)
			p.onChunk(n)
			p.recorder.AppendOutput(p.sessionID, chunk)

			// Klatka przechwycona przy wyjściu z trybu synchronized
			// output musi zostać opublikowana dokładnie raz, nawet
			// jeśli tryb wrócił w obrębie tej samej porcji bajtów.
			if snap, ok := p.interp.TakeSyncExitSnapshot(); ok {
				p.publishFn(snap)
			}

			p.requestPublish()
		}
		if err != nil {
			p.flushPending()
			p.onClosed(err)
			return
		}
	}
}

// requestPublish planuje co najwyżej jedną publikację na okno
// koalescencji; żądanie przy już zaplanowanej publikacji jest no-opem.
func (p *pipeline) requestPublish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || p.publishScheduled {
		return
	}
	p.publishScheduled = true
	p.timer = time.AfterFunc(p.publishInterval, p.firePublish)
}

func (p *pipeline) firePublish() {
	p.mu.Lock()
	p.publishScheduled = false
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return
	}

	// W trybie synchronized output publikacja jest wstrzymana w
	// całości; kolejna porcja bajtów zaplanuje następną próbę.
	if p.interp.SyncOutputActive() {
		return
	}
	p.publishFn(p.interp.Snapshot())
}

// flushPending wymusza natychmiastową publikację oczekującego snapshotu,
// żeby ostatnia klatka nie przepadła przy końcu strumienia.
func (p *pipeline) flushPending() {
	p.mu.Lock()
	pending := p.publishScheduled
	if pending && p.timer != nil {
		p.timer.Stop()
	}
	p.publishScheduled = false
	closed := p.closed
	p.mu.Unlock()

	if pending && !closed {
		p.publishFn(p.interp.Snapshot())
	}
}

// close zatrzymuje zaplanowane publikacje. Idempotentne.
func (p *pipeline) close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	if p.timer != nil {
		p.timer.Stop()
	}
}
