package openaicompat

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"strings"

	vigil "github.com/ardelia/vigil"
)

// streamSSE reads an SSE stream from body, emits chunk events to ch,
// and returns the fully accumulated response. The channel is closed
// when the stream ends. Malformed chunks are skipped.
//
// Expected format:
//
//	data: {"id":"...","choices":[...]}\n
//	data: [DONE]\n
func streamSSE(ctx context.Context, body io.Reader, ch chan<- vigil.StreamEvent) (vigil.ChatResponse, error) {
	defer close(ch)

	scanner := bufio.NewScanner(body)
	// Large tool-call argument chunks need room.
	scanner.Buffer(make([]byte, 0, 1024*1024), 1024*1024)

	var content, reasoning strings.Builder
	var finishReason string
	var out vigil.Usage

	// Tool calls stream incrementally: each delta carries an index, and
	// arguments arrive as string fragments.
	type partialToolCall struct {
		ID   string
		Name string
		Args strings.Builder
	}
	var toolCalls []partialToolCall

	emit := func(ev vigil.StreamEvent) error {
		select {
		case ch <- ev:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			break
		}

		var chunk chatResponse
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue
		}

		if chunk.Usage != nil {
			out.InputTokens = chunk.Usage.PromptTokens
			out.OutputTokens = chunk.Usage.CompletionTokens
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		c := chunk.Choices[0]
		if c.FinishReason != "" {
			finishReason = c.FinishReason
		}
		delta := c.Delta
		if delta == nil {
			continue
		}

		if delta.ReasoningContent != "" {
			reasoning.WriteString(delta.ReasoningContent)
			if err := emit(vigil.StreamEvent{Type: vigil.EventReasoningDelta, Content: delta.ReasoningContent}); err != nil {
				return vigil.ChatResponse{}, err
			}
		}
		if delta.Content != "" {
			content.WriteString(delta.Content)
			if err := emit(vigil.StreamEvent{Type: vigil.EventTextDelta, Content: delta.Content}); err != nil {
				return vigil.ChatResponse{}, err
			}
		}

		for _, tc := range delta.ToolCalls {
			idx := tc.Index
			for len(toolCalls) <= idx {
				toolCalls = append(toolCalls, partialToolCall{})
			}
			if tc.ID != "" {
				toolCalls[idx].ID = tc.ID
			}
			if tc.Function.Name != "" {
				toolCalls[idx].Name = tc.Function.Name
			}
			if tc.Function.Arguments != "" {
				toolCalls[idx].Args.WriteString(tc.Function.Arguments)
			}
			if err := emit(vigil.StreamEvent{
				Type:  vigil.EventToolCallDelta,
				Index: idx,
				ID:    tc.ID,
				Name:  tc.Function.Name,
				Args:  tc.Function.Arguments,
			}); err != nil {
				return vigil.ChatResponse{}, err
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return vigil.ChatResponse{}, err
	}

	_ = emit(vigil.StreamEvent{Type: vigil.EventDone, FinishReason: finishReason})

	resp := vigil.ChatResponse{
		Content:      content.String(),
		Reasoning:    reasoning.String(),
		FinishReason: finishReason,
		Usage:        out,
	}
	for _, tc := range toolCalls {
		resp.ToolCalls = append(resp.ToolCalls, vigil.ToolCall{
			ID:   tc.ID,
			Name: tc.Name,
			Args: tc.Args.String(),
		})
	}
	return resp, nil
}
