package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/require"

	"github.com/comigor/atomic-agents/internal/config"
)

type captured struct {
	path   string
	auth   string
	apiKey string
}

func completionServer(t *testing.T, got *captured) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got.path = r.URL.Path
		got.auth = r.Header.Get("Authorization")
		got.apiKey = r.Header.Get("api-key")
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(openai.ChatCompletionResponse{
			Choices: []openai.ChatCompletionChoice{{Message: openai.ChatCompletionMessage{Role: "assistant", Content: "hi"}}},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func ask(t *testing.T, c Client) {
	t.Helper()
	resp, err := c.CreateChatCompletion(context.Background(), openai.ChatCompletionRequest{
		Model:    "gpt-4o-mini",
		Messages: []openai.ChatCompletionMessage{{Role: openai.ChatMessageRoleUser, Content: "hello"}},
	})
	require.NoError(t, err)
	require.Equal(t, "hi", resp.Choices[0].Message.Content)
}

func TestNewClient_OpenAICompatible(t *testing.T) {
	var got captured
	srv := completionServer(t, &got)

	ask(t, NewClient(config.LLMConfig{Provider: "openai", BaseURL: srv.URL + "/v1", APIKey: "sk-test"}))
	require.Equal(t, "/v1/chat/completions", got.path)
	require.Equal(t, "Bearer sk-test", got.auth)
}

func TestNewClient_Azure(t *testing.T) {
	var got captured
	srv := completionServer(t, &got)

	ask(t, NewClient(config.LLMConfig{Provider: "Azure", BaseURL: srv.URL, APIKey: "az-key"}))
	require.Equal(t, "/openai/deployments/gpt-4o-mini/chat/completions", got.path)
	require.Equal(t, "az-key", got.apiKey)
	require.Empty(t, got.auth)
}

func TestNewClient_Streams(t *testing.T) {
	var c StreamClient = NewClient(config.LLMConfig{})
	require.NotNil(t, c)
}
