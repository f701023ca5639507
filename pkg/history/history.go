// Package history keeps the ordered, role-tagged message log of a conversation
// and persists it per session.
package history

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrTurnNotFound is returned by DeleteTurn for an unknown turn id.
var ErrTurnNotFound = errors.New("turn not found")

// History is an append-only message log. When MaxMessages is positive the
// oldest messages are dropped once the log grows past it.
type History struct {
	mu            sync.RWMutex
	messages      []Message
	maxMessages   int
	currentTurnID string
	now           func() time.Time
}

// New creates an empty history. maxMessages <= 0 means unbounded.
func New(maxMessages int) *History {
	return &History{maxMessages: maxMessages, now: time.Now}
}

// InitializeTurn starts a new turn; messages added afterwards share its id.
func (h *History) InitializeTurn() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.currentTurnID = uuid.NewString()
	return h.currentTurnID
}

// CurrentTurnID returns the id of the turn in progress, or "".
func (h *History) CurrentTurnID() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.currentTurnID
}

// AddMessage encodes content as JSON and appends it under the current turn,
// starting a turn first if none is active.
func (h *History) AddMessage(role Role, content any) (Message, error) {
	raw, err := encodeContent(content)
	if err != nil {
		return Message{}, err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.currentTurnID == "" {
		h.currentTurnID = uuid.NewString()
	}
	msg := Message{
		Role:      role,
		Content:   raw,
		TurnID:    h.currentTurnID,
		CreatedAt: h.now().UTC(),
	}
	h.messages = append(h.messages, msg)
	h.manageOverflow()
	return msg, nil
}

func encodeContent(content any) (json.RawMessage, error) {
	switch c := content.(type) {
	case json.RawMessage:
		if !json.Valid(c) {
			return nil, errors.New("message content is not valid JSON")
		}
		return c, nil
	case string:
		return json.Marshal(c)
	default:
		b, err := json.Marshal(c)
		if err != nil {
			return nil, fmt.Errorf("encode message content: %w", err)
		}
		return b, nil
	}
}

func (h *History) manageOverflow() {
	if h.maxMessages <= 0 {
		return
	}
	if over := len(h.messages) - h.maxMessages; over > 0 {
		h.messages = append([]Message(nil), h.messages[over:]...)
	}
}

// Append adds already-built messages, e.g. when rehydrating from a Store.
func (h *History) Append(msgs ...Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.messages = append(h.messages, msgs...)
	if len(msgs) > 0 {
		h.currentTurnID = msgs[len(msgs)-1].TurnID
	}
	h.manageOverflow()
}

// Messages returns a copy of the log in chronological order.
func (h *History) Messages() []Message {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]Message, len(h.messages))
	copy(out, h.messages)
	return out
}

// Count returns the number of messages held.
func (h *History) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.messages)
}

// DeleteTurn removes every message of the given turn.
func (h *History) DeleteTurn(turnID string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	kept := h.messages[:0:0]
	for _, m := range h.messages {
		if m.TurnID != turnID {
			kept = append(kept, m)
		}
	}
	if len(kept) == len(h.messages) {
		return fmt.Errorf("%w: %s", ErrTurnNotFound, turnID)
	}
	h.messages = kept

	if h.currentTurnID == turnID {
		h.currentTurnID = ""
		if n := len(h.messages); n > 0 {
			h.currentTurnID = h.messages[n-1].TurnID
		}
	}
	return nil
}

// Reset clears all messages and the current turn.
func (h *History) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.messages = nil
	h.currentTurnID = ""
}

// Restore puts back the messages and turn of a snapshot taken with Copy.
func (h *History) Restore(snapshot *History) {
	snapshot.mu.RLock()
	msgs := make([]Message, len(snapshot.messages))
	copy(msgs, snapshot.messages)
	turn := snapshot.currentTurnID
	snapshot.mu.RUnlock()

	h.mu.Lock()
	defer h.mu.Unlock()
	h.messages = msgs
	h.currentTurnID = turn
}

// Copy returns an independent history with the same messages and settings.
func (h *History) Copy() *History {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c := &History{
		maxMessages:   h.maxMessages,
		currentTurnID: h.currentTurnID,
		now:           h.now,
		messages:      make([]Message, len(h.messages)),
	}
	copy(c.messages, h.messages)
	return c
}

type dump struct {
	MaxMessages   int       `json:"max_messages"`
	CurrentTurnID string    `json:"current_turn_id"`
	Messages      []Message `json:"messages"`
}

// Dump serializes the history to JSON.
func (h *History) Dump() ([]byte, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return json.Marshal(dump{
		MaxMessages:   h.maxMessages,
		CurrentTurnID: h.currentTurnID,
		Messages:      h.messages,
	})
}

// Load replaces the history with a previous Dump.
func (h *History) Load(data []byte) error {
	var d dump
	if err := json.Unmarshal(data, &d); err != nil {
		return fmt.Errorf("load history: %w", err)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.maxMessages = d.MaxMessages
	h.currentTurnID = d.CurrentTurnID
	h.messages = d.Messages
	h.manageOverflow()
	return nil
}
