package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/mkovalev/docchat/internal/api"
	"github.com/mkovalev/docchat/internal/ingest"
	"github.com/mkovalev/docchat/internal/passage"
	"github.com/mkovalev/docchat/internal/provider"
	"github.com/mkovalev/docchat/internal/retrieval"
	"github.com/mkovalev/docchat/internal/storage"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// stubEmbedder maps every text to the same unit vector so any stored passage
// matches any query with similarity 1.0. Setting err makes subsequent calls
// fail, simulating an embedding service outage.
type stubEmbedder struct {
	err error
}

func (s *stubEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if s.err != nil {
		return nil, s.err
	}
	return []float32{1, 0, 0}, nil
}

func (s *stubEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if s.err != nil {
		return nil, s.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0, 0}
	}
	return out, nil
}

// captureAdapter records the message list it was streamed with and returns a
// fixed one-fragment completion.
type captureAdapter struct {
	text     string
	messages []provider.Message
}

func (a *captureAdapter) Stream(ctx context.Context, messages []provider.Message, model, apiKey string) (*provider.Stream, error) {
	a.messages = messages
	s := provider.NewStream()
	go func() {
		s.Emit(ctx, a.text)
		s.Finish(nil)
	}()
	return s, nil
}

type testEnv struct {
	handler  http.Handler
	router   *provider.Router
	store    *storage.Store
	embedder *stubEmbedder
}

func newTestEnv(t *testing.T, server provider.Credentials) *testEnv {
	t.Helper()

	logger := testLogger()
	st, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	ps := passage.NewSQLiteStore(st.DB(), 3)
	emb := &stubEmbedder{}
	router := provider.NewRouter(server, logger)

	handler := api.NewHandler(api.Deps{
		Store:     st,
		Passages:  ps,
		Retriever: retrieval.New(emb, ps, st, logger),
		Router:    router,
		Processor: ingest.NewProcessor(st, emb, ps, logger),
		Logger:    logger,
	})
	return &testEnv{handler: handler, router: router, store: st, embedder: emb}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshaling request body: %v", err)
		}
		r = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, req)
	return w
}

func decodeResponse(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("decoding response %q: %v", w.Body.String(), err)
	}
}

func errorType(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
		} `json:"error"`
	}
	decodeResponse(t, w, &body)
	return body.Error.Type
}

func TestChatValidation(t *testing.T) {
	env := newTestEnv(t, provider.Credentials{})

	tests := []struct {
		name     string
		messages []provider.Message
	}{
		{"empty messages", nil},
		{"last message not user", []provider.Message{
			{Role: provider.RoleUser, Content: "hi"},
			{Role: provider.RoleAssistant, Content: "hello"},
		}},
		{"system message not first", []provider.Message{
			{Role: provider.RoleUser, Content: "hi"},
			{Role: provider.RoleSystem, Content: "be brief"},
			{Role: provider.RoleUser, Content: "again"},
		}},
		{"unknown role", []provider.Message{
			{Role: "moderator", Content: "hi"},
			{Role: provider.RoleUser, Content: "again"},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, http.MethodPost, "/v1/chat", map[string]any{
				"messages": tt.messages,
				"model":    "gpt-4o",
			})
			if w.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", w.Code)
			}
			if got := errorType(t, w); got != "invalid_request_error" {
				t.Errorf("error type = %q, want invalid_request_error", got)
			}
		})
	}
}

func TestChatDevModeResponse(t *testing.T) {
	env := newTestEnv(t, provider.Credentials{})

	w := env.do(t, http.MethodPost, "/v1/chat", map[string]any{
		"messages": []provider.Message{{Role: provider.RoleUser, Content: "hello there"}},
		"model":    "gpt-4o",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}

	var resp struct {
		Content string `json:"content"`
		Model   string `json:"model"`
	}
	decodeResponse(t, w, &resp)

	if !strings.Contains(resp.Content, "development mode response") {
		t.Errorf("content = %q, want development mode notice", resp.Content)
	}
	if !strings.Contains(resp.Content, "hello there") {
		t.Errorf("content = %q, want echoed user message", resp.Content)
	}
	if resp.Model != "gpt-4o" {
		t.Errorf("model = %q, want gpt-4o", resp.Model)
	}
}

// sseData returns the payloads of every data event in an SSE body, in order.
func sseData(t *testing.T, body string) []string {
	t.Helper()
	var events []string
	for _, line := range strings.Split(body, "\n") {
		if data, ok := strings.CutPrefix(line, "data: "); ok {
			events = append(events, data)
		}
	}
	return events
}

func TestChatStreamEndToEnd(t *testing.T) {
	var gotUpstream struct {
		System   string `json:"system"`
		Messages []struct {
			Role string `json:"role"`
		} `json:"messages"`
	}

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&gotUpstream); err != nil {
			t.Errorf("decoding upstream request: %v", err)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		for _, text := range []string{"The", " answer", " is 42."} {
			fmt.Fprintf(w, "data: {\"type\":\"content_block_delta\",\"delta\":{\"type\":\"text_delta\",\"text\":%q}}\n\n", text)
		}
		fmt.Fprint(w, "data: {\"type\":\"message_stop\"}\n\n")
	}))
	defer upstream.Close()

	env := newTestEnv(t, provider.Credentials{})
	env.router.SetAdapter(provider.FamilyAnthropic, provider.NewAnthropicAdapterWithBaseURL(upstream.URL))

	w := env.do(t, http.MethodPost, "/v1/chat/stream", map[string]any{
		"messages": []provider.Message{
			{Role: provider.RoleSystem, Content: "be brief"},
			{Role: provider.RoleUser, Content: "what is the answer?"},
		},
		"model":    "claude-3-opus-20240229",
		"api_keys": map[string]string{"anthropic": "sk-ant-real-key"},
	})

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q, want text/event-stream", ct)
	}

	if gotUpstream.System != "be brief" {
		t.Errorf("upstream system = %q, want %q", gotUpstream.System, "be brief")
	}
	if len(gotUpstream.Messages) != 1 || gotUpstream.Messages[0].Role != "user" {
		t.Errorf("upstream messages = %+v, want single user turn", gotUpstream.Messages)
	}

	events := sseData(t, w.Body.String())
	if len(events) < 2 {
		t.Fatalf("got %d events, want at least one token plus [DONE]", len(events))
	}
	if last := events[len(events)-1]; last != "[DONE]" {
		t.Errorf("last event = %q, want [DONE]", last)
	}

	var accumulated strings.Builder
	for _, e := range events[:len(events)-1] {
		var fragment string
		if err := json.Unmarshal([]byte(e), &fragment); err != nil {
			t.Fatalf("event %q is not a JSON string: %v", e, err)
		}
		accumulated.WriteString(fragment)
	}
	if got := accumulated.String(); got != "The answer is 42." {
		t.Errorf("accumulated = %q, want %q", got, "The answer is 42.")
	}
}

func TestChatCompletionErrorMapping(t *testing.T) {
	tests := []struct {
		name         string
		upstreamCode int
		wantCode     int
		wantType     string
	}{
		{"unauthorized", http.StatusUnauthorized, http.StatusUnauthorized, "authentication_error"},
		{"rate limited", http.StatusTooManyRequests, http.StatusTooManyRequests, "rate_limit_error"},
		{"upstream failure", http.StatusBadGateway, http.StatusInternalServerError, "api_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.upstreamCode)
			}))
			defer upstream.Close()

			env := newTestEnv(t, provider.Credentials{})
			env.router.SetAdapter(provider.FamilyOpenAI, provider.NewOpenAIAdapterWithBaseURL(upstream.URL))

			w := env.do(t, http.MethodPost, "/v1/chat", map[string]any{
				"messages": []provider.Message{{Role: provider.RoleUser, Content: "hi"}},
				"model":    "gpt-4o",
				"api_keys": map[string]string{"openai": "sk-real-key"},
			})
			if w.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantCode)
			}
			if got := errorType(t, w); got != tt.wantType {
				t.Errorf("error type = %q, want %q", got, tt.wantType)
			}
		})
	}
}

// addProcessedDocument uploads a document and runs it through ingestion,
// returning its ID.
func (e *testEnv) addProcessedDocument(t *testing.T, name, content string) string {
	t.Helper()

	w := e.do(t, http.MethodPost, "/v1/documents", map[string]any{
		"name":    name,
		"content": []byte(content),
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("creating document: status = %d: %s", w.Code, w.Body.String())
	}
	var doc struct {
		ID string `json:"id"`
	}
	decodeResponse(t, w, &doc)

	w = e.do(t, http.MethodPost, "/v1/documents/"+doc.ID+"/process", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("processing document: status = %d: %s", w.Code, w.Body.String())
	}
	return doc.ID
}

func TestChatInjectsDocumentContext(t *testing.T) {
	env := newTestEnv(t, provider.Credentials{})
	docID := env.addProcessedDocument(t, "notes.txt", "The deadline is next Friday.")

	adapter := &captureAdapter{text: "done"}
	env.router.SetAdapter(provider.FamilyOpenAI, adapter)

	w := env.do(t, http.MethodPost, "/v1/chat", map[string]any{
		"messages":     []provider.Message{{Role: provider.RoleUser, Content: "when is the deadline?"}},
		"model":        "gpt-4o",
		"document_ids": []string{docID},
		"api_keys":     map[string]string{"openai": "sk-real-key"},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}

	if len(adapter.messages) != 2 {
		t.Fatalf("adapter got %d messages, want system plus user", len(adapter.messages))
	}
	system := adapter.messages[0]
	if system.Role != provider.RoleSystem {
		t.Fatalf("first message role = %q, want system", system.Role)
	}
	if !strings.HasPrefix(system.Content, "Use the following context") {
		t.Errorf("system content = %q, want context instruction prefix", system.Content)
	}
	for _, want := range []string{"---CONTEXT START---", "File: notes.txt", "deadline"} {
		if !strings.Contains(system.Content, want) {
			t.Errorf("system content missing %q: %q", want, system.Content)
		}
	}
	if adapter.messages[1].Content != "when is the deadline?" {
		t.Errorf("user message = %q, want the original question", adapter.messages[1].Content)
	}
}

func TestChatMergesContextIntoExistingSystem(t *testing.T) {
	env := newTestEnv(t, provider.Credentials{})
	docID := env.addProcessedDocument(t, "notes.txt", "The deadline is next Friday.")

	adapter := &captureAdapter{text: "done"}
	env.router.SetAdapter(provider.FamilyOpenAI, adapter)

	w := env.do(t, http.MethodPost, "/v1/chat", map[string]any{
		"messages": []provider.Message{
			{Role: provider.RoleSystem, Content: "be brief"},
			{Role: provider.RoleUser, Content: "when is the deadline?"},
		},
		"model":        "gpt-4o",
		"document_ids": []string{docID},
		"api_keys":     map[string]string{"openai": "sk-real-key"},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}

	if len(adapter.messages) != 2 {
		t.Fatalf("adapter got %d messages, want the context merged without a new turn", len(adapter.messages))
	}
	system := adapter.messages[0].Content
	if !strings.HasPrefix(system, "be brief") {
		t.Errorf("system content = %q, want caller instruction first", system)
	}
	if !strings.Contains(system, "---CONTEXT START---") {
		t.Errorf("system content = %q, want retrieved context appended", system)
	}
}

func TestChatRetrievalFailureFallsBack(t *testing.T) {
	env := newTestEnv(t, provider.Credentials{})
	docID := env.addProcessedDocument(t, "notes.txt", "The deadline is next Friday.")

	adapter := &captureAdapter{text: "answered without context"}
	env.router.SetAdapter(provider.FamilyOpenAI, adapter)

	// Retrieval breaks after ingestion; the chat must proceed uncontexted.
	env.embedder.err = errors.New("embedding service down")

	w := env.do(t, http.MethodPost, "/v1/chat", map[string]any{
		"messages":     []provider.Message{{Role: provider.RoleUser, Content: "when is the deadline?"}},
		"model":        "gpt-4o",
		"document_ids": []string{docID},
		"api_keys":     map[string]string{"openai": "sk-real-key"},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want degraded chat to succeed: %s", w.Code, w.Body.String())
	}

	if len(adapter.messages) != 1 {
		t.Fatalf("adapter got %d messages, want only the user turn", len(adapter.messages))
	}
	for _, m := range adapter.messages {
		if strings.Contains(m.Content, "---CONTEXT START---") {
			t.Errorf("context block present despite retrieval failure: %q", m.Content)
		}
	}
	var resp struct {
		Content string `json:"content"`
	}
	decodeResponse(t, w, &resp)
	if resp.Content != "answered without context" {
		t.Errorf("content = %q, want the adapter completion", resp.Content)
	}
}

func TestChatPersistsHistory(t *testing.T) {
	env := newTestEnv(t, provider.Credentials{})

	w := env.do(t, http.MethodPost, "/v1/chats", map[string]any{"name": "notes"})
	if w.Code != http.StatusCreated {
		t.Fatalf("creating chat: status = %d", w.Code)
	}
	var chat struct {
		ID string `json:"id"`
	}
	decodeResponse(t, w, &chat)

	w = env.do(t, http.MethodPost, "/v1/chat", map[string]any{
		"chat_id":  chat.ID,
		"messages": []provider.Message{{Role: provider.RoleUser, Content: "remember this"}},
		"model":    "gpt-4o",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("chat: status = %d: %s", w.Code, w.Body.String())
	}

	w = env.do(t, http.MethodGet, "/v1/chats/"+chat.ID+"/messages", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("listing messages: status = %d", w.Code)
	}
	var resp struct {
		Messages []storage.Message `json:"messages"`
	}
	decodeResponse(t, w, &resp)

	if len(resp.Messages) != 2 {
		t.Fatalf("got %d messages, want 2", len(resp.Messages))
	}
	if resp.Messages[0].Role != "user" || resp.Messages[0].Content != "remember this" {
		t.Errorf("first message = %+v, want the user turn", resp.Messages[0])
	}
	if resp.Messages[1].Role != "assistant" || resp.Messages[1].Model != "gpt-4o" {
		t.Errorf("second message = %+v, want assistant turn with model", resp.Messages[1])
	}
	if resp.Messages[0].SequenceNumber != 1 || resp.Messages[1].SequenceNumber != 2 {
		t.Errorf("sequence numbers = %d, %d, want 1, 2",
			resp.Messages[0].SequenceNumber, resp.Messages[1].SequenceNumber)
	}
}

func TestChatMessagesUnknownChat(t *testing.T) {
	env := newTestEnv(t, provider.Credentials{})

	w := env.do(t, http.MethodGet, "/v1/chats/no-such-chat/messages", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}

func TestDocumentLifecycle(t *testing.T) {
	env := newTestEnv(t, provider.Credentials{})

	w := env.do(t, http.MethodPost, "/v1/documents", map[string]any{
		"name":    "notes.txt",
		"content": []byte("Alpha notes about the project deadline."),
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("creating document: status = %d: %s", w.Code, w.Body.String())
	}
	var doc struct {
		ID   string `json:"id"`
		Name string `json:"name"`
		Type string `json:"type"`
	}
	decodeResponse(t, w, &doc)
	if doc.Name != "notes.txt" || doc.Type != "text/plain" {
		t.Errorf("document = %+v, want notes.txt with default type", doc)
	}

	w = env.do(t, http.MethodGet, "/v1/documents", nil)
	var listing struct {
		Documents []struct {
			ID string `json:"id"`
		} `json:"documents"`
	}
	decodeResponse(t, w, &listing)
	if len(listing.Documents) != 1 || listing.Documents[0].ID != doc.ID {
		t.Fatalf("listing = %+v, want the created document", listing.Documents)
	}

	w = env.do(t, http.MethodPost, "/v1/documents/"+doc.ID+"/process", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("processing: status = %d: %s", w.Code, w.Body.String())
	}
	var processed struct {
		Passages int `json:"passages"`
	}
	decodeResponse(t, w, &processed)
	if processed.Passages < 1 {
		t.Fatalf("passages = %d, want at least 1", processed.Passages)
	}

	w = env.do(t, http.MethodPost, "/v1/retrieval/search", map[string]any{"query": "deadline"})
	if w.Code != http.StatusOK {
		t.Fatalf("search: status = %d: %s", w.Code, w.Body.String())
	}
	var search struct {
		Results []retrieval.Result `json:"results"`
	}
	decodeResponse(t, w, &search)
	if len(search.Results) == 0 {
		t.Fatal("search returned no results for an indexed document")
	}
	if search.Results[0].FileName != "notes.txt" {
		t.Errorf("file name = %q, want notes.txt", search.Results[0].FileName)
	}

	w = env.do(t, http.MethodPost, "/v1/retrieval/context", map[string]any{"query": "deadline"})
	var contextResp struct {
		Context string `json:"context"`
	}
	decodeResponse(t, w, &contextResp)
	if !strings.Contains(contextResp.Context, "---CONTEXT START---") ||
		!strings.Contains(contextResp.Context, "File: notes.txt") {
		t.Errorf("context = %q, want formatted block with file header", contextResp.Context)
	}

	w = env.do(t, http.MethodDelete, "/v1/documents/"+doc.ID, nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("delete: status = %d", w.Code)
	}

	w = env.do(t, http.MethodPost, "/v1/retrieval/search", map[string]any{"query": "deadline"})
	decodeResponse(t, w, &search)
	if len(search.Results) != 0 {
		t.Errorf("search after delete returned %d results, want 0", len(search.Results))
	}
}

func TestCreateDocumentValidation(t *testing.T) {
	env := newTestEnv(t, provider.Credentials{})

	w := env.do(t, http.MethodPost, "/v1/documents", map[string]any{"content": []byte("x")})
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing name: status = %d, want 400", w.Code)
	}

	w = env.do(t, http.MethodPost, "/v1/documents", map[string]any{"name": "empty.txt"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing content: status = %d, want 400", w.Code)
	}
}

func TestSearchRequiresQuery(t *testing.T) {
	env := newTestEnv(t, provider.Credentials{})

	w := env.do(t, http.MethodPost, "/v1/retrieval/search", map[string]any{})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	if got := errorType(t, w); got != "invalid_request_error" {
		t.Errorf("error type = %q, want invalid_request_error", got)
	}
}

func TestModelsFilteredByHeaderKeys(t *testing.T) {
	env := newTestEnv(t, provider.Credentials{})

	req := httptest.NewRequest(http.MethodGet, "/v1/models", nil)
	req.Header.Set("X-Anthropic-Key", "sk-ant-real-key")
	w := httptest.NewRecorder()
	env.handler.ServeHTTP(w, req)

	var resp struct {
		Models []provider.ModelInfo `json:"models"`
	}
	decodeResponse(t, w, &resp)

	if len(resp.Models) != 3 {
		t.Fatalf("got %d models, want the 3 anthropic models", len(resp.Models))
	}
	for _, m := range resp.Models {
		if m.Provider != "anthropic" {
			t.Errorf("model %s has provider %q, want anthropic", m.ID, m.Provider)
		}
	}
}

func TestModelsDevModeListsAll(t *testing.T) {
	env := newTestEnv(t, provider.ClassifyKeys("sk-fallback-dev", "", ""))

	w := env.do(t, http.MethodGet, "/v1/models", nil)
	var resp struct {
		Models []provider.ModelInfo `json:"models"`
	}
	decodeResponse(t, w, &resp)

	if len(resp.Models) != 10 {
		t.Errorf("got %d models, want the full catalog of 10", len(resp.Models))
	}
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, provider.Credentials{})

	w := env.do(t, http.MethodGet, "/health", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"ok"`) {
		t.Errorf("body = %q, want ok status", w.Body.String())
	}
}
