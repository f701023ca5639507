package toolagent

import (
	"context"
	"errors"
	"io"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/comigor/atomic-agents/internal/llm"
)

// streamCompletion reads a completion stream into a single response,
// assembling tool calls from their fragments.
func streamCompletion(
	ctx context.Context,
	sc llm.StreamClient,
	req openai.ChatCompletionRequest,
	onDelta func(string) error,
) (openai.ChatCompletionResponse, error) {
	var resp openai.ChatCompletionResponse
	req.Stream = true
	req.StreamOptions = &openai.StreamOptions{IncludeUsage: true}

	stream, err := sc.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return resp, err
	}
	defer stream.Close()

	var (
		content   strings.Builder
		calls     []openai.ToolCall
		sawChoice bool
		finish    openai.FinishReason
	)
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return resp, err
		}
		if chunk.Usage != nil {
			resp.Usage = *chunk.Usage
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		sawChoice = true
		choice := chunk.Choices[0]
		if choice.FinishReason != "" {
			finish = choice.FinishReason
		}
		calls = mergeToolCalls(calls, choice.Delta.ToolCalls)
		if d := choice.Delta.Content; d != "" {
			content.WriteString(d)
			if err := onDelta(d); err != nil {
				return resp, err
			}
		}
	}
	if !sawChoice {
		return resp, nil
	}

	resp.Choices = []openai.ChatCompletionChoice{{
		Message: openai.ChatCompletionMessage{
			Role:      openai.ChatMessageRoleAssistant,
			Content:   content.String(),
			ToolCalls: calls,
		},
		FinishReason: finish,
	}}
	return resp, nil
}

// mergeToolCalls appends streamed fragments to the calls they belong to.
// Fragments without a valid index continue the last call unless they carry an id.
func mergeToolCalls(calls []openai.ToolCall, deltas []openai.ToolCall) []openai.ToolCall {
	for _, d := range deltas {
		idx := len(calls) - 1
		if d.Index != nil && *d.Index >= 0 {
			idx = *d.Index
		} else if d.ID != "" || idx < 0 {
			idx = len(calls)
		}
		for len(calls) <= idx {
			calls = append(calls, openai.ToolCall{Type: openai.ToolTypeFunction})
		}
		c := &calls[idx]
		if d.ID != "" {
			c.ID = d.ID
		}
		if d.Type != "" {
			c.Type = d.Type
		}
		c.Function.Name += d.Function.Name
		c.Function.Arguments += d.Function.Arguments
	}
	for i := range calls {
		calls[i].Index = nil
	}
	return calls
}
