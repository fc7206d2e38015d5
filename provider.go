package vigil

import "context"

// Provider abstracts the LLM backend.
type Provider interface {
	// Chat sends a request and returns a complete response. Used by the
	// snapshot auditor, which has no streaming consumer.
	Chat(ctx context.Context, req ChatRequest) (ChatResponse, error)
	// ChatStream streams chunks into ch, then returns the accumulated
	// response. The channel is closed when streaming completes or fails.
	ChatStream(ctx context.Context, req ChatRequest, ch chan<- StreamEvent) (ChatResponse, error)
	// Name returns the provider name (e.g. "deepseek", "openrouter").
	Name() string
}
