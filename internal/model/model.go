// Package model abstracts the LLM used by the analysis and report stages.
// The pipeline depends only on the Client interface; the Bedrock Converse
// adapter is the production implementation.
package model

import "context"

// Request is a single completion request.
type Request struct {
	// System is the system prompt. Optional.
	System string
	// Prompt is the user message. Required.
	Prompt string
	// MaxTokens caps the completion length. Zero means provider default.
	MaxTokens int
	// Temperature overrides the provider default when non-nil.
	Temperature *float32
}

// Usage reports token consumption for one completion.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// Response is the model's reply.
type Response struct {
	Text  string
	Usage Usage
}

// Client issues completion requests to an LLM.
type Client interface {
	Complete(ctx context.Context, req *Request) (*Response, error)
}
