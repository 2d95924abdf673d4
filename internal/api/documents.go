package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/mkovalev/docchat/internal/storage"
)

type createDocumentRequest struct {
	Name    string `json:"name"`
	Type    string `json:"type,omitempty"`
	Content []byte `json:"content"` // base64 in JSON
}

type documentResponse struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Type      string    `json:"type"`
	CreatedAt time.Time `json:"created_at"`
}

func toDocumentResponse(d storage.Document) documentResponse {
	return documentResponse{ID: d.ID, Name: d.Name, Type: d.Type, CreatedAt: d.CreatedAt}
}

func (s *Server) handleCreateDocument(w http.ResponseWriter, r *http.Request) {
	var req createDocumentRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Name == "" {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "name is required")
		return
	}
	if len(req.Content) == 0 {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "content is required")
		return
	}
	if req.Type == "" {
		req.Type = "text/plain"
	}

	doc := storage.Document{
		ID:        uuid.NewString(),
		Name:      req.Name,
		Type:      req.Type,
		Content:   req.Content,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.SaveDocument(doc); err != nil {
		s.logger.Error("saving document", "name", req.Name, "error", err)
		httpError(w, http.StatusInternalServerError, "api_error", "failed to save document")
		return
	}

	writeJSONStatus(w, http.StatusCreated, toDocumentResponse(doc))
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := s.store.ListDocuments()
	if err != nil {
		s.logger.Error("listing documents", "error", err)
		httpError(w, http.StatusInternalServerError, "api_error", "failed to list documents")
		return
	}

	out := make([]documentResponse, len(docs))
	for i, d := range docs {
		out[i] = toDocumentResponse(d)
	}
	writeJSON(w, map[string]any{"documents": out})
}

// handleDeleteDocument removes the document and cascades deletion of its
// passages so stale context can no longer be retrieved.
func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := s.passages.DeleteByDocument(r.Context(), id); err != nil {
		s.logger.Error("deleting passages", "document_id", id, "error", err)
		httpError(w, http.StatusInternalServerError, "api_error", "failed to delete document")
		return
	}
	if err := s.store.DeleteDocument(id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "invalid_request_error", "document not found")
			return
		}
		s.logger.Error("deleting document", "document_id", id, "error", err)
		httpError(w, http.StatusInternalServerError, "api_error", "failed to delete document")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleProcessDocument(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	count, err := s.processor.ProcessDocument(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "invalid_request_error", "document not found")
			return
		}
		s.logger.Error("processing document", "document_id", id, "error", err)
		httpError(w, http.StatusInternalServerError, "api_error", "failed to process document")
		return
	}

	writeJSON(w, map[string]any{"document_id": id, "passages": count})
}

type createChatRequest struct {
	Name string `json:"name,omitempty"`
}

func (s *Server) handleCreateChat(w http.ResponseWriter, r *http.Request) {
	var req createChatRequest
	if !decodeBody(w, r, &req) {
		return
	}

	chat := storage.Chat{ID: uuid.NewString(), Name: req.Name, CreatedAt: time.Now().UTC()}
	if err := s.store.CreateChat(chat); err != nil {
		s.logger.Error("creating chat", "error", err)
		httpError(w, http.StatusInternalServerError, "api_error", "failed to create chat")
		return
	}

	writeJSONStatus(w, http.StatusCreated, map[string]string{"id": chat.ID, "name": chat.Name})
}

func (s *Server) handleListChats(w http.ResponseWriter, r *http.Request) {
	chats, err := s.store.ListChats()
	if err != nil {
		s.logger.Error("listing chats", "error", err)
		httpError(w, http.StatusInternalServerError, "api_error", "failed to list chats")
		return
	}
	if chats == nil {
		chats = []storage.Chat{}
	}
	writeJSON(w, map[string]any{"chats": chats})
}

func (s *Server) handleChatMessages(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if _, err := s.store.GetChat(id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "invalid_request_error", "chat not found")
			return
		}
		s.logger.Error("loading chat", "chat_id", id, "error", err)
		httpError(w, http.StatusInternalServerError, "api_error", "failed to load chat")
		return
	}

	msgs, err := s.store.GetMessages(id)
	if err != nil {
		s.logger.Error("loading messages", "chat_id", id, "error", err)
		httpError(w, http.StatusInternalServerError, "api_error", "failed to load messages")
		return
	}
	if msgs == nil {
		msgs = []storage.Message{}
	}
	writeJSON(w, map[string]any{"messages": msgs})
}

func (s *Server) handleDeleteChat(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := s.store.DeleteChat(id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "invalid_request_error", "chat not found")
			return
		}
		s.logger.Error("deleting chat", "chat_id", id, "error", err)
		httpError(w, http.StatusInternalServerError, "api_error", "failed to delete chat")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
