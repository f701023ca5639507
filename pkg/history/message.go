package history

import (
	"encoding/json"
	"time"
)

// Role tags who produced a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Message is one schema-validated record in a conversation. Content holds the
// JSON encoding of the schema instance that produced it.
type Message struct {
	ID        int64           `json:"id,omitempty"`
	SessionID string          `json:"session_id,omitempty"`
	Role      Role            `json:"role"`
	Content   json.RawMessage `json:"content"`
	TurnID    string          `json:"turn_id"`
	CreatedAt time.Time       `json:"created_at"`
}

// Text returns the content as a string, for prompts and logs.
func (m Message) Text() string {
	return string(m.Content)
}
