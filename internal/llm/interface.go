package llm

import (
	"context"

	"github.com/sashabaranov/go-openai"
)

// Client is minimal subset of openai.Client used by the agents; it is easy to mock in tests.
type Client interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// StreamClient is implemented by clients that can stream completions.
type StreamClient interface {
	Client
	CreateChatCompletionStream(ctx context.Context, req openai.ChatCompletionRequest) (*openai.ChatCompletionStream, error)
}
