// internal/audit/audit.go
//
// Fire-and-forget audit log and session recorder backed by SQLite.
// Failures here are logged and swallowed; nothing on the transport
// path ever blocks on this store.

package audit

import (
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Event is one audit record tied to a session.
type Event struct {
	ID        uint   `gorm:"primaryKey"`
	SessionID string `gorm:"index"`
	Kind      string
	Detail    string
	CreatedAt time.Time
}

// RecordingChunk is one ordered piece of recorded shell output.
type RecordingChunk struct {
	ID        uint   `gorm:"primaryKey"`
	SessionID string `gorm:"index"`
	Seq       int
	Data      []byte
	CreatedAt time.Time
}

// Store owns the audit database. All methods are safe on a nil
// receiver so callers can run without persistence.
type Store struct {
	db     *gorm.DB
	logger *log.Logger

	mu        sync.Mutex
	recording map[string]int // session id -> next chunk seq
}

// Open opens (or creates) the audit database at path.
func Open(path string, logger *log.Logger) (*Store, error) {
	if logger == nil {
		logger = log.Default()
	}
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Discard,
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&Event{}, &RecordingChunk{}); err != nil {
		return nil, err
	}
	return &Store{
		db:        db,
		logger:    logger.With("component", "audit"),
		recording: make(map[string]int),
	}, nil
}

// Record appends an audit event. Errors are swallowed.
func (s *Store) Record(sessionID, kind, detail string) {
	if s == nil {
		return
	}
	event := Event{SessionID: sessionID, Kind: kind, Detail: detail, CreatedAt: time.Now()}
	if err := s.db.Create(&event).Error; err != nil {
		s.logger.Debug("failed to record audit event", "kind", kind, "err", err)
	}
}

// Events returns all events for a session, oldest first.
func (s *Store) Events(sessionID string) ([]Event, error) {
	if s == nil {
		return nil, nil
	}
	var events []Event
	err := s.db.Where("session_id = ?", sessionID).Order("id").Find(&events).Error
	return events, err
}

// StartRecording enables output recording for a session.
func (s *Store) StartRecording(sessionID string) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.recording[sessionID]; !ok {
		s.recording[sessionID] = 0
	}
}

// StopRecording disables output recording for a session.
func (s *Store) StopRecording(sessionID string) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.recording, sessionID)
}

// IsRecording reports whether the session is being recorded.
func (s *Store) IsRecording(sessionID string) bool {
	if s == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.recording[sessionID]
	return ok
}

// AppendOutput stores one output chunk if recording is active.
// Errors are swallowed.
func (s *Store) AppendOutput(sessionID string, data []byte) {
	if s == nil {
		return
	}
	s.mu.Lock()
	seq, ok := s.recording[sessionID]
	if ok {
		s.recording[sessionID] = seq + 1
	}
	s.mu.Unlock()
	if !ok {
		return
	}

	chunk := RecordingChunk{
		SessionID: sessionID,
		Seq:       seq,
		Data:      append([]byte(nil), data...),
		CreatedAt: time.Now(),
	}
	if err := s.db.Create(&chunk).Error; err != nil {
		s.logger.Debug("failed to append recording chunk", "err", err)
	}
}

// Recording returns the concatenated recorded output of a session.
func (s *Store) Recording(sessionID string) ([]byte, error) {
	if s == nil {
		return nil, nil
	}
	var chunks []RecordingChunk
	if err := s.db.Where("session_id = ?", sessionID).Order("seq").Find(&chunks).Error; err != nil {
		return nil, err
	}
	var out []byte
	for _, c := range chunks {
		out = append(out, c.Data...)
	}
	return out, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	if s == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
