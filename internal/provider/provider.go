// Package provider routes chat completions to external model providers and
// normalizes their streaming transports into a single fragment stream.
package provider

import "context"

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one turn of a conversation in the unified shape. Adapters
// translate it into each provider's wire format.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Adapter streams a completion from one provider family. The returned Stream
// yields text fragments in arrival order. Stream returns an error without
// opening a stream when the provider rejects the request before any token is
// produced (bad credentials, rate limits, transport failure), so callers can
// still respond with a plain HTTP status.
type Adapter interface {
	Stream(ctx context.Context, messages []Message, model, apiKey string) (*Stream, error)
}
