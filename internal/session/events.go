// internal/session/events.go

package session

import (
	"prossh/internal/models"
	"prossh/internal/vt"
)

// EventKind rozróżnia rodzaje zdarzeń publikowanych do warstwy prezentacji
type EventKind string

const (
	EventSessionChanged EventKind = "session-changed"
	EventSnapshot       EventKind = "snapshot"
	EventForwardChanged EventKind = "forward-changed"
)

// Event to jedno powiadomienie dla warstwy prezentacji. Kanał zdarzeń
// oddziela obserwatorów od wewnętrznych przejść maszyny stanów.
type Event struct {
	Kind      EventKind
	SessionID string

	Session  *models.Session
	Snapshot *vt.Snapshot
	Forward  *models.ActivePortForward
}

// publish wysyła zdarzenie bez blokowania; przy pełnym buforze
// najstarsze zdarzenie jest porzucane.
func (m *Manager) publish(ev Event) {
	for {
		select {
		case m.events <- ev:
			return
		default:
			select {
			case <-m.events:
			default:
			}
		}
	}
}

// Events zwraca kanał zdarzeń dla warstwy prezentacji
func (m *Manager) Events() <-chan Event {
	return m.events
}
