package history

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func sampleMessage(session string, role Role, text string) Message {
	content, _ := json.Marshal(text)
	return Message{
		SessionID: session,
		Role:      role,
		Content:   content,
		TurnID:    "turn-1",
		CreatedAt: time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	_, err := s.List(ctx, "a")
	require.ErrorIs(t, err, ErrSessionNotFound)

	require.NoError(t, s.Save(ctx, sampleMessage("b", RoleUser, "hi")))
	require.NoError(t, s.Save(ctx, sampleMessage("a", RoleUser, "one")))
	require.NoError(t, s.Save(ctx, sampleMessage("a", RoleAssistant, "two")))

	msgs, err := s.List(ctx, "a")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	require.Equal(t, RoleUser, msgs[0].Role)
	require.Equal(t, `"one"`, msgs[0].Text())
	require.Equal(t, `"two"`, msgs[1].Text())
	require.Equal(t, "turn-1", msgs[1].TurnID)

	sessions, err := s.Sessions(ctx)
	require.NoError(t, err)
	require.Equal(t, []SessionInfo{{SessionID: "a", MessageCount: 2}, {SessionID: "b", MessageCount: 1}}, sessions)

	require.NoError(t, s.Delete(ctx, "a"))
	require.ErrorIs(t, s.Delete(ctx, "a"), ErrSessionNotFound)
	_, err = s.List(ctx, "a")
	require.ErrorIs(t, err, ErrSessionNotFound)
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemoryStore())
}

func TestSQLiteStore(t *testing.T) {
	s := NewSQLiteStore(filepath.Join(t.TempDir(), "history.db"))
	t.Cleanup(func() { _ = s.Close() })
	exerciseStore(t, s)
}

func TestSQLiteStore_FallsBackToMemory(t *testing.T) {
	// A directory that does not exist makes table creation fail.
	s := NewSQLiteStore(filepath.Join(t.TempDir(), "missing", "dir", "history.db"))
	t.Cleanup(func() { _ = s.Close() })
	exerciseStore(t, s)
}

func TestSQLiteStore_UnreadableRowFailsList(t *testing.T) {
	s := NewSQLiteStore(filepath.Join(t.TempDir(), "history.db"))
	t.Cleanup(func() { _ = s.Close() })
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, sampleMessage("a", RoleUser, "one")))
	require.True(t, s.usable())
	_, err := s.db.ExecContext(ctx, `INSERT INTO messages (session_id, role, content, turn_id, created_at) VALUES ('a', 'assistant', '"two"', 'turn-1', NULL);`)
	require.NoError(t, err)

	_, err = s.List(ctx, "a")
	require.ErrorContains(t, err, "read session a")
}
