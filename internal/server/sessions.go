package server

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/comigor/atomic-agents/internal/logger"
	"github.com/comigor/atomic-agents/pkg/history"
)

type session struct {
	mu      sync.Mutex
	history *history.History
	// deleted is set under mu once the session is gone; waiters must not use it.
	deleted bool
}

// Sessions holds live conversations in memory and writes every completed
// exchange through to a history.Store. Sessions known only to the store are
// loaded on first access.
type Sessions struct {
	store       history.Store
	maxMessages int
	onChange    func(active int)

	mu    sync.Mutex
	items map[string]*session
}

// NewSessions creates a session registry. A nil store keeps messages in memory only.
func NewSessions(store history.Store, maxMessages int) *Sessions {
	if store == nil {
		store = history.NewMemoryStore()
	}
	return &Sessions{store: store, maxMessages: maxMessages, items: make(map[string]*session)}
}

// OnChange registers a callback for the number of sessions held in memory.
func (s *Sessions) OnChange(fn func(active int)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onChange = fn
}

func (s *Sessions) notifyLocked() {
	if s.onChange != nil {
		s.onChange(len(s.items))
	}
}

// acquire returns the session for id, creating it when id is empty or
// unknown. The returned session is locked; callers must unlock it.
func (s *Sessions) acquire(ctx context.Context, id string) (string, *session, error) {
	if id == "" {
		id = uuid.NewString()
	}
	for {
		s.mu.Lock()
		sess, ok := s.items[id]
		if !ok {
			sess = &session{history: history.New(s.maxMessages)}
			stored, err := s.store.List(ctx, id)
			if err != nil && !errors.Is(err, history.ErrSessionNotFound) {
				s.mu.Unlock()
				return "", nil, err
			}
			sess.history.Append(stored...)
			s.items[id] = sess
			s.notifyLocked()
		}
		s.mu.Unlock()

		sess.mu.Lock()
		if !sess.deleted {
			return id, sess, nil
		}
		sess.mu.Unlock()
	}
}

// persist writes the messages of the session's current turn to the store.
func (s *Sessions) persist(ctx context.Context, id string, h *history.History) {
	turn := h.CurrentTurnID()
	for _, m := range h.Messages() {
		if m.TurnID != turn {
			continue
		}
		m.SessionID = id
		if err := s.store.Save(ctx, m); err != nil {
			logger.L.Error("failed to persist message", "session_id", id, "error", err)
		}
	}
}

// Messages returns the stored messages of a session.
func (s *Sessions) Messages(ctx context.Context, id string) ([]history.Message, error) {
	return s.store.List(ctx, id)
}

// List summarizes all stored sessions, sorted by id.
func (s *Sessions) List(ctx context.Context) ([]history.SessionInfo, error) {
	return s.store.Sessions(ctx)
}

// Delete drops a session from memory and from the store. A turn in progress
// finishes first so it cannot write the session back.
func (s *Sessions) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	sess, inMemory := s.items[id]
	s.mu.Unlock()
	if inMemory {
		sess.mu.Lock()
		defer sess.mu.Unlock()
		sess.deleted = true
		s.mu.Lock()
		if s.items[id] == sess {
			delete(s.items, id)
			s.notifyLocked()
		}
		s.mu.Unlock()
	}

	err := s.store.Delete(ctx, id)
	if errors.Is(err, history.ErrSessionNotFound) && inMemory {
		return nil
	}
	return err
}

// Close closes the underlying store.
func (s *Sessions) Close() error {
	return s.store.Close()
}
