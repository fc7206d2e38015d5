package openaicompat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	vigil "github.com/ardelia/vigil"
)

// Provider implements vigil.Provider against an OpenAI-compatible API.
type Provider struct {
	apiKey  string
	model   string
	baseURL string
	client  *http.Client
	name    string
}

// Option configures a Provider.
type Option func(*Provider)

// WithName overrides the reported provider name (default "openai").
func WithName(name string) Option {
	return func(p *Provider) { p.name = name }
}

// WithHTTPClient substitutes the transport (tests, custom timeouts).
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.client = c }
}

// New creates a provider. baseURL is the API base (e.g.
// "https://api.deepseek.com/v1"); /chat/completions is appended.
func New(apiKey, model, baseURL string, opts ...Option) *Provider {
	p := &Provider{
		apiKey:  apiKey,
		model:   model,
		baseURL: baseURL,
		client:  &http.Client{},
		name:    "openai",
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name returns the provider name.
func (p *Provider) Name() string { return p.name }

// Chat sends a non-streaming request and returns the full response.
func (p *Provider) Chat(ctx context.Context, req vigil.ChatRequest) (vigil.ChatResponse, error) {
	body := buildBody(req, p.model)

	resp, err := p.send(ctx, body)
	if err != nil {
		return vigil.ChatResponse{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return vigil.ChatResponse{}, p.httpErr(resp)
	}

	var wire chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return vigil.ChatResponse{}, &vigil.ErrLLM{Provider: p.name, Message: fmt.Sprintf("decode response: %v", err)}
	}
	return parseResponse(wire), nil
}

// ChatStream streams chunk events into ch and returns the accumulated
// response. ch is closed when streaming completes or fails.
func (p *Provider) ChatStream(ctx context.Context, req vigil.ChatRequest, ch chan<- vigil.StreamEvent) (vigil.ChatResponse, error) {
	body := buildBody(req, p.model)
	body.Stream = true
	body.StreamOptions = &streamOptions{IncludeUsage: true}

	resp, err := p.send(ctx, body)
	if err != nil {
		close(ch)
		return vigil.ChatResponse{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		close(ch)
		return vigil.ChatResponse{}, p.httpErr(resp)
	}

	// streamSSE closes ch when done.
	return streamSSE(ctx, resp.Body, ch)
}

func (p *Provider) send(ctx context.Context, body chatRequest) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, &vigil.ErrLLM{Provider: p.name, Message: fmt.Sprintf("marshal request: %v", err)}
	}

	url := p.baseURL + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, &vigil.ErrLLM{Provider: p.name, Message: fmt.Sprintf("create request: %v", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, &vigil.ErrLLM{Provider: p.name, Message: err.Error()}
	}
	return resp, nil
}

func (p *Provider) httpErr(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	return &vigil.ErrHTTP{Status: resp.StatusCode, Body: string(body)}
}

// Compile-time interface check.
var _ vigil.Provider = (*Provider)(nil)
