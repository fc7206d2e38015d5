package openaicompat

import (
	vigil "github.com/ardelia/vigil"
)

// buildBody translates an engine request into the wire format.
func buildBody(req vigil.ChatRequest, model string) chatRequest {
	body := chatRequest{
		Model:       model,
		Messages:    make([]message, 0, len(req.Messages)),
		Temperature: req.Temperature,
	}

	for _, m := range req.Messages {
		wire := message{
			Role:       m.Role,
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
		}
		// Reasoning is preserved in the history so reasoner models keep
		// their chain of thought across tool-calling turns.
		if m.Role == "assistant" {
			wire.ReasoningContent = m.Reasoning
			for i, tc := range m.ToolCalls {
				wire.ToolCalls = append(wire.ToolCalls, toolCallRequest{
					Index: i,
					ID:    tc.ID,
					Type:  "function",
					Function: functionCall{
						Name:      tc.Name,
						Arguments: tc.Args,
					},
				})
			}
		}
		body.Messages = append(body.Messages, wire)
	}

	for _, d := range req.Tools {
		body.Tools = append(body.Tools, tool{
			Type: "function",
			Function: function{
				Name:        d.Name,
				Description: d.Description,
				Parameters:  d.Parameters,
			},
		})
	}

	return body
}

// parseResponse converts a non-streaming wire response.
func parseResponse(resp chatResponse) vigil.ChatResponse {
	out := vigil.ChatResponse{}
	if resp.Usage != nil {
		out.Usage = vigil.Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		}
	}
	if len(resp.Choices) == 0 {
		return out
	}
	c := resp.Choices[0]
	out.FinishReason = c.FinishReason
	if c.Message == nil {
		return out
	}
	out.Content = c.Message.Content
	out.Reasoning = c.Message.ReasoningContent
	for _, tc := range c.Message.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, vigil.ToolCall{
			ID:   tc.ID,
			Name: tc.Function.Name,
			Args: tc.Function.Arguments,
		})
	}
	return out
}
