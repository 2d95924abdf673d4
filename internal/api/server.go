// Package api exposes the chat, retrieval, and document endpoints over HTTP.
package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mkovalev/docchat/internal/ingest"
	"github.com/mkovalev/docchat/internal/passage"
	"github.com/mkovalev/docchat/internal/provider"
	"github.com/mkovalev/docchat/internal/retrieval"
	"github.com/mkovalev/docchat/internal/storage"
)

const maxRequestBodySize = 32 << 20 // document uploads ride in the JSON body

// RetrievalDefaults bound query-time retrieval when a request does not
// override them.
type RetrievalDefaults struct {
	TopK             int
	Threshold        float32
	MaxContextLength int
}

// Deps wires the core services into the HTTP layer.
type Deps struct {
	Store     *storage.Store
	Passages  passage.Store
	Retriever *retrieval.Retriever
	Router    *provider.Router
	Processor *ingest.Processor
	Retrieval RetrievalDefaults
	Logger    *slog.Logger
}

type Server struct {
	store     *storage.Store
	passages  passage.Store
	retriever *retrieval.Retriever
	router    *provider.Router
	processor *ingest.Processor
	defaults  RetrievalDefaults
	logger    *slog.Logger
}

// NewHandler returns the HTTP handler for the whole API surface.
func NewHandler(deps Deps) http.Handler {
	s := &Server{
		store:     deps.Store,
		passages:  deps.Passages,
		retriever: deps.Retriever,
		router:    deps.Router,
		processor: deps.Processor,
		defaults:  deps.Retrieval,
		logger:    deps.Logger,
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.defaults.TopK == 0 {
		s.defaults.TopK = retrieval.DefaultTopK
	}
	if s.defaults.Threshold == 0 {
		s.defaults.Threshold = retrieval.DefaultThreshold
	}
	if s.defaults.MaxContextLength == 0 {
		s.defaults.MaxContextLength = retrieval.DefaultMaxContextLength
	}

	r := chi.NewRouter()

	r.Get("/health", handleHealth)
	r.Get("/v1/models", s.handleModels)

	r.Post("/v1/chat", s.handleChat)
	r.Post("/v1/chat/stream", s.handleChatStream)

	r.Post("/v1/retrieval/search", s.handleSearch)
	r.Post("/v1/retrieval/context", s.handleContext)

	r.Route("/v1/documents", func(r chi.Router) {
		r.Post("/", s.handleCreateDocument)
		r.Get("/", s.handleListDocuments)
		r.Delete("/{id}", s.handleDeleteDocument)
		r.Post("/{id}/process", s.handleProcessDocument)
	})

	r.Route("/v1/chats", func(r chi.Router) {
		r.Post("/", s.handleCreateChat)
		r.Get("/", s.handleListChats)
		r.Get("/{id}/messages", s.handleChatMessages)
		r.Delete("/{id}", s.handleDeleteChat)
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

// handleModels lists models usable with the caller's credentials. Client
// keys travel in headers so the endpoint stays a plain GET.
func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	client := provider.ClassifyKeys(
		r.Header.Get("X-Openai-Key"),
		r.Header.Get("X-Anthropic-Key"),
		r.Header.Get("X-Google-Key"),
	)
	writeJSON(w, map[string]any{"models": s.router.Models(client)})
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func writeJSONStatus(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
		return false
	}
	return true
}
