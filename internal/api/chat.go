package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/mkovalev/docchat/internal/provider"
	"github.com/mkovalev/docchat/internal/relay"
	"github.com/mkovalev/docchat/internal/retrieval"
	"github.com/mkovalev/docchat/internal/storage"
)

type chatRequest struct {
	ChatID      string             `json:"chat_id,omitempty"`
	Messages    []provider.Message `json:"messages"`
	Model       string             `json:"model"`
	APIKeys     map[string]string  `json:"api_keys,omitempty"`
	DocumentIDs []string           `json:"document_ids,omitempty"`
}

func (req *chatRequest) clientCredentials() provider.Credentials {
	return provider.ClassifyKeys(req.APIKeys["openai"], req.APIKeys["anthropic"], req.APIKeys["google"])
}

// validateConversation enforces the message shape: non-empty, last message
// from the user, at most one system message and only in first position.
func validateConversation(messages []provider.Message) error {
	if len(messages) == 0 {
		return errors.New("messages is required and must not be empty")
	}
	if messages[len(messages)-1].Role != provider.RoleUser {
		return errors.New("last message must have role \"user\"")
	}
	for i, m := range messages {
		switch m.Role {
		case provider.RoleUser, provider.RoleAssistant:
		case provider.RoleSystem:
			if i != 0 {
				return errors.New("system message must be first")
			}
		default:
			return errors.New("unknown role " + m.Role)
		}
	}
	return nil
}

// withContext retrieves passages for the last user message and injects the
// formatted block into the system message. A retrieval failure degrades to
// an uncontexted chat with a logged warning instead of failing the turn.
func (s *Server) withContext(ctx context.Context, messages []provider.Message, documentIDs []string) []provider.Message {
	query := messages[len(messages)-1].Content

	results, err := s.retriever.Retrieve(ctx, query, retrieval.Options{
		TopK:        s.defaults.TopK,
		Threshold:   s.defaults.Threshold,
		DocumentIDs: documentIDs,
	})
	if err != nil {
		s.logger.Warn("retrieval failed, continuing without context", "error", err)
		return messages
	}
	if len(results) == 0 {
		return messages
	}

	block := retrieval.FormatContext(results, s.defaults.MaxContextLength)

	if messages[0].Role == provider.RoleSystem {
		out := make([]provider.Message, len(messages))
		copy(out, messages)
		out[0].Content = messages[0].Content + "\n\n" + block
		return out
	}

	out := make([]provider.Message, 0, len(messages)+1)
	out = append(out, provider.Message{
		Role:    provider.RoleSystem,
		Content: "Use the following context from the user's documents to answer.\n\n" + block,
	})
	return append(out, messages...)
}

// completionError writes the normalized error response for a completion that
// failed before any byte reached the client.
func completionError(w http.ResponseWriter, err error) {
	switch provider.StatusCode(err) {
	case http.StatusUnauthorized:
		httpError(w, http.StatusUnauthorized, "authentication_error", "invalid API key")
	case http.StatusTooManyRequests:
		httpError(w, http.StatusTooManyRequests, "rate_limit_error", "rate limit reached, try again later")
	default:
		httpError(w, http.StatusInternalServerError, "api_error", "completion failed")
	}
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := validateConversation(req.Messages); err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
		return
	}

	messages := req.Messages
	if len(req.DocumentIDs) > 0 {
		messages = s.withContext(r.Context(), messages, req.DocumentIDs)
	}

	text, err := s.router.Complete(r.Context(), messages, req.Model, req.clientCredentials())
	if err != nil {
		s.logger.Error("completion failed", "model", req.Model, "error", err)
		completionError(w, err)
		return
	}

	s.persistExchange(req, text)
	writeJSON(w, map[string]string{"content": text, "model": req.Model})
}

func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := validateConversation(req.Messages); err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
		return
	}

	messages := req.Messages
	if len(req.DocumentIDs) > 0 {
		messages = s.withContext(r.Context(), messages, req.DocumentIDs)
	}

	stream, err := s.router.Stream(r.Context(), messages, req.Model, req.clientCredentials())
	if err != nil {
		// No byte has been written yet, so a plain HTTP status is still possible.
		s.logger.Error("completion failed", "model", req.Model, "error", err)
		completionError(w, err)
		return
	}

	result := relay.Forward(w, r, stream)
	if result.Err != nil && !result.Disconnected {
		s.logger.Error("stream ended with error", "model", req.Model, "error", result.Err)
	}
	if result.Disconnected {
		s.logger.Info("client disconnected mid-stream", "model", req.Model)
	}

	// Partial text from failed or disconnected streams is persisted
	// best-effort.
	if result.Text != "" {
		s.persistExchange(req, result.Text)
	}
}

// persistExchange appends the user turn and the assistant reply to the chat,
// when the request names one. Failures are logged, never surfaced: message
// history is a convenience, not part of the completion contract.
func (s *Server) persistExchange(req chatRequest, assistantText string) {
	if req.ChatID == "" {
		return
	}

	userMsg := req.Messages[len(req.Messages)-1]
	now := time.Now().UTC()

	if _, err := s.store.AppendMessage(storage.Message{
		ID:        uuid.NewString(),
		ChatID:    req.ChatID,
		Role:      userMsg.Role,
		Content:   userMsg.Content,
		CreatedAt: now,
	}); err != nil {
		s.logger.Warn("persisting user message", "chat_id", req.ChatID, "error", err)
		return
	}

	if _, err := s.store.AppendMessage(storage.Message{
		ID:        uuid.NewString(),
		ChatID:    req.ChatID,
		Role:      provider.RoleAssistant,
		Content:   assistantText,
		Model:     req.Model,
		CreatedAt: now,
	}); err != nil {
		s.logger.Warn("persisting assistant message", "chat_id", req.ChatID, "error", err)
	}
}
