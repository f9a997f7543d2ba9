// Package inference provides a unified interface for the language models that
// score learner utterances and write tutor replies.
//
// Gemini is the primary provider. Client speaks the OpenAI-compatible chat
// API (OpenAI, Ollama, vLLM, Groq and similar) and serves as a fallback
// through Chain.
//
// Example usage:
//
//	gemini, _ := inference.NewGemini(ctx,
//	    inference.WithAPIKey(os.Getenv("GEMINI_API_KEY")),
//	)
//	defer gemini.Close()
//
//	text, _ := inference.Generate(ctx, gemini, "Say hello to a new learner.")
package inference

import (
	"context"
	"strings"
)

// Provider is the chat inference interface.
type Provider interface {
	// Name identifies the provider in logs and errors.
	Name() string

	// Chat generates a response from a sequence of messages.
	Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error)

	// Health checks provider connectivity and credentials.
	Health(ctx context.Context) error

	// Close releases any resources held by the provider.
	Close() error
}

// ChatRequest for chat completions. Zero values use provider defaults.
type ChatRequest struct {
	// Messages is the conversation. System messages become instructions.
	Messages []Message

	// Model overrides the default model.
	Model string

	MaxTokens   int
	Temperature float64
	TopP        float64
	TopK        int

	// Stop sequences that halt generation.
	Stop []string

	// JSON asks the provider for a JSON-only reply where supported.
	JSON bool
}

// ChatResponse from chat completion.
type ChatResponse struct {
	// Message is the assistant's response.
	Message Message

	// FinishReason indicates why generation stopped.
	FinishReason string

	Usage Usage

	// Model used for generation.
	Model string

	// LatencyMs is the response time in milliseconds.
	LatencyMs int64
}

// Usage tracks token consumption.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Generate sends a single user prompt and returns the trimmed reply text.
// An empty reply is reported as ErrEmptyResponse.
func Generate(ctx context.Context, p Provider, prompt string, opts ...RequestOption) (string, error) {
	req := &ChatRequest{Messages: []Message{NewUserMessage(prompt)}}
	for _, opt := range opts {
		opt(req)
	}

	resp, err := p.Chat(ctx, req)
	if err != nil {
		return "", err
	}
	text := strings.TrimSpace(resp.Message.Content)
	if text == "" {
		return "", WrapError(p.Name(), ErrEmptyResponse)
	}
	return text, nil
}

// RequestOption adjusts a single ChatRequest.
type RequestOption func(*ChatRequest)

// AsJSON requests a JSON-only reply.
func AsJSON() RequestOption {
	return func(r *ChatRequest) { r.JSON = true }
}

// WithSystem prepends a system instruction.
func WithSystem(instruction string) RequestOption {
	return func(r *ChatRequest) {
		r.Messages = append([]Message{NewSystemMessage(instruction)}, r.Messages...)
	}
}

// WithRequestMaxTokens caps the reply length for one request.
func WithRequestMaxTokens(n int) RequestOption {
	return func(r *ChatRequest) { r.MaxTokens = n }
}
