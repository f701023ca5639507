package history

// SQLite-based persistence for session messages. The database is opened
// lazily and created on first use. If opening the DB or executing queries
// fails, the store falls back to in-memory storage.

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	_ "github.com/glebarez/go-sqlite"

	"github.com/comigor/atomic-agents/internal/logger"
)

// ErrSessionNotFound is returned when a session has no stored messages.
var ErrSessionNotFound = errors.New("session not found")

// SessionInfo summarizes a stored session.
type SessionInfo struct {
	SessionID    string `json:"session_id"`
	MessageCount int    `json:"message_count"`
}

// Store persists messages per session.
type Store interface {
	Save(ctx context.Context, msg Message) error
	List(ctx context.Context, sessionID string) ([]Message, error)
	Sessions(ctx context.Context) ([]SessionInfo, error)
	Delete(ctx context.Context, sessionID string) error
	Close() error
}

// MemoryStore keeps messages in process memory only.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string][]Message
	nextID   int64
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string][]Message)}
}

func (s *MemoryStore) Save(_ context.Context, msg Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	msg.ID = s.nextID
	s.sessions[msg.SessionID] = append(s.sessions[msg.SessionID], msg)
	return nil
}

func (s *MemoryStore) List(_ context.Context, sessionID string) ([]Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msgs, ok := s.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	out := make([]Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

func (s *MemoryStore) Sessions(_ context.Context) ([]SessionInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]SessionInfo, 0, len(s.sessions))
	for id, msgs := range s.sessions {
		out = append(out, SessionInfo{SessionID: id, MessageCount: len(msgs)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SessionID < out[j].SessionID })
	return out, nil
}

func (s *MemoryStore) Delete(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sessionID]; !ok {
		return ErrSessionNotFound
	}
	delete(s.sessions, sessionID)
	return nil
}

func (s *MemoryStore) Close() error { return nil }

// SQLiteStore writes messages to SQLite and keeps an in-memory copy as fallback.
type SQLiteStore struct {
	path string

	dbOnce  sync.Once
	db      *sql.DB
	initErr error

	mem *MemoryStore
}

// NewSQLiteStore returns a store backed by the database file at path.
// The file is not touched until the first operation.
func NewSQLiteStore(path string) *SQLiteStore {
	if path == "" {
		path = "history.db"
	}
	return &SQLiteStore{path: path, mem: NewMemoryStore()}
}

// initDB lazily opens the SQLite database and creates the messages table if it doesn't exist.
func (s *SQLiteStore) initDB() {
	var err error
	s.db, err = sql.Open("sqlite", "file:"+s.path+"?_pragma=busy_timeout(10000)")
	if err != nil {
		s.initErr = err
		logger.L.Warn("sqlite open failed; using in-memory history", "error", err)
		return
	}
	if _, err = s.db.Exec(`CREATE TABLE IF NOT EXISTS messages (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        session_id TEXT NOT NULL,
        role TEXT NOT NULL,
        content TEXT NOT NULL,
        turn_id TEXT,
        created_at DATETIME
    );`); err != nil {
		s.initErr = err
		logger.L.Warn("sqlite table creation failed; using in-memory history", "error", err)
		return
	}
	if _, err = s.db.Exec(`CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id);`); err != nil {
		logger.L.Warn("sqlite index creation failed", "error", err)
	}
	logger.L.Info("sqlite history DB initialized", "path", s.path)
}

func (s *SQLiteStore) usable() bool {
	s.dbOnce.Do(s.initDB)
	return s.initErr == nil && s.db != nil
}

// Save persists a message to the SQLite database when available and always keeps
// an in-memory copy as fallback.
func (s *SQLiteStore) Save(ctx context.Context, msg Message) error {
	if s.usable() {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO messages (session_id, role, content, turn_id, created_at) VALUES (?,?,?,?,?);`,
			msg.SessionID, string(msg.Role), string(msg.Content), msg.TurnID, msg.CreatedAt)
		if err != nil {
			logger.L.Error("failed to store message in sqlite; falling back to memory", "error", err)
		}
	}
	return s.mem.Save(ctx, msg)
}

// List returns all messages of a session in chronological order.
func (s *SQLiteStore) List(ctx context.Context, sessionID string) ([]Message, error) {
	if s.usable() {
		rows, err := s.db.QueryContext(ctx,
			`SELECT id, session_id, role, content, turn_id, created_at FROM messages WHERE session_id = ? ORDER BY id ASC;`,
			sessionID)
		if err == nil {
			out, err := scanMessages(rows)
			if err != nil {
				return nil, fmt.Errorf("read session %s: %w", sessionID, err)
			}
			if len(out) == 0 {
				return nil, ErrSessionNotFound
			}
			return out, nil
		}
		logger.L.Warn("sqlite query failed; reading in-memory history", "error", err)
	}
	return s.mem.List(ctx, sessionID)
}

func scanMessages(rows *sql.Rows) ([]Message, error) {
	defer rows.Close()
	var out []Message
	for rows.Next() {
		var (
			m       Message
			role    string
			content string
			turnID  sql.NullString
		)
		if err := rows.Scan(&m.ID, &m.SessionID, &role, &content, &turnID, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.Role = Role(role)
		m.Content = json.RawMessage(content)
		m.TurnID = turnID.String
		out = append(out, m)
	}
	return out, rows.Err()
}

// Sessions lists every session with its message count.
func (s *SQLiteStore) Sessions(ctx context.Context) ([]SessionInfo, error) {
	if s.usable() {
		rows, err := s.db.QueryContext(ctx,
			`SELECT session_id, COUNT(*) FROM messages GROUP BY session_id ORDER BY session_id ASC;`)
		if err == nil {
			defer rows.Close()
			out := []SessionInfo{}
			for rows.Next() {
				var info SessionInfo
				if err := rows.Scan(&info.SessionID, &info.MessageCount); err != nil {
					return nil, fmt.Errorf("read sessions: %w", err)
				}
				out = append(out, info)
			}
			if err := rows.Err(); err != nil {
				return nil, fmt.Errorf("read sessions: %w", err)
			}
			return out, nil
		}
		logger.L.Warn("sqlite query failed; reading in-memory sessions", "error", err)
	}
	return s.mem.Sessions(ctx)
}

// Delete removes every message of a session.
func (s *SQLiteStore) Delete(ctx context.Context, sessionID string) error {
	memErr := s.mem.Delete(ctx, sessionID)
	if s.usable() {
		res, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE session_id = ?;`, sessionID)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n > 0 {
			return nil
		}
	}
	return memErr
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
