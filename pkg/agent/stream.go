package agent

import (
	"context"
	"errors"
	"io"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/comigor/atomic-agents/internal/llm"
)

// consumeStream reads a completion stream to the end, passing each content
// delta through unchanged.
func consumeStream(
	ctx context.Context,
	sc llm.StreamClient,
	req openai.ChatCompletionRequest,
	onDelta func(string) error,
) (string, openai.Usage, error) {
	var usage openai.Usage
	stream, err := sc.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return "", usage, err
	}
	defer stream.Close()

	var sb strings.Builder
	sawChoice := false
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", usage, err
		}
		if chunk.Usage != nil {
			usage = *chunk.Usage
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		sawChoice = true
		delta := chunk.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		sb.WriteString(delta)
		if onDelta != nil {
			if err := onDelta(delta); err != nil {
				return "", usage, err
			}
		}
	}
	if !sawChoice {
		return "", usage, ErrNoChoices
	}
	return sb.String(), usage, nil
}
