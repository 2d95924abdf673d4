package provider

import (
	"context"
	"fmt"
	"log/slog"
)

// Router resolves a model identifier to an adapter and a credential, then
// starts the completion. Server fallback credentials are injected once at
// construction; client credentials arrive classified per request.
type Router struct {
	adapters map[Family]Adapter
	server   Credentials
	logger   *slog.Logger
}

func NewRouter(server Credentials, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		adapters: map[Family]Adapter{
			FamilyOpenAI:    NewOpenAIAdapter(),
			FamilyAnthropic: NewAnthropicAdapter(),
			FamilyGoogle:    NewGoogleAdapter(),
		},
		server: server,
		logger: logger,
	}
}

// SetAdapter swaps the adapter for one family. Used by tests to point a
// family at a fake upstream.
func (r *Router) SetAdapter(f Family, a Adapter) {
	r.adapters[f] = a
}

// Stream routes one completion. Credential precedence: client key, then
// server fallback key. A placeholder or wholly absent credential produces a
// canned development response with no provider call.
func (r *Router) Stream(ctx context.Context, messages []Message, model string, client Credentials) (*Stream, error) {
	family, known := FamilyForModel(model)
	if !known {
		r.logger.Warn("unknown model prefix, defaulting to openai", "model", model)
	}

	cred := client.ForFamily(family)
	switch cred.Kind {
	case Placeholder:
		r.logger.Info("placeholder credential, returning development response",
			"provider", family.String(), "model", model)
		return staticStream(ctx, placeholderResponse(messages)), nil
	case Absent:
		cred = r.server.ForFamily(family)
		switch cred.Kind {
		case Placeholder:
			r.logger.Info("placeholder server credential, returning development response",
				"provider", family.String(), "model", model)
			return staticStream(ctx, placeholderResponse(messages)), nil
		case Absent:
			r.logger.Info("no credential available, returning development response",
				"provider", family.String(), "model", model)
			return staticStream(ctx, missingKeyResponse(family, messages)), nil
		}
	}

	adapter, ok := r.adapters[family]
	if !ok {
		return nil, fmt.Errorf("no adapter registered for provider %s", family)
	}
	return adapter.Stream(ctx, messages, model, cred.Key)
}

// Complete is the non-streaming variant: it drains the stream and returns
// the full text.
func (r *Router) Complete(ctx context.Context, messages []Message, model string, client Credentials) (string, error) {
	s, err := r.Stream(ctx, messages, model, client)
	if err != nil {
		return "", err
	}
	return s.Collect()
}

// firstUserMessage mirrors what development responses echo back.
func firstUserMessage(messages []Message) string {
	for _, m := range messages {
		if m.Role == RoleUser {
			return m.Content
		}
	}
	return "No user message found"
}

// Canned responses are worded so a user can tell no real model was called.

func missingKeyResponse(family Family, messages []Message) string {
	return fmt.Sprintf("This is a development mode response. Please provide a valid %s API key in settings to use the actual API. Your message was: %s",
		family.displayName(), firstUserMessage(messages))
}

func placeholderResponse(messages []Message) string {
	return "This is a development mode response using a placeholder API key. Your message was: " +
		firstUserMessage(messages)
}
