package provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const (
	anthropicBaseURL   = "https://api.anthropic.com"
	anthropicVersion   = "2023-06-01"
	anthropicMaxTokens = 4096
)

// Compile-time check that AnthropicAdapter implements Adapter.
var _ Adapter = (*AnthropicAdapter)(nil)

// AnthropicAdapter streams completions over the Anthropic messages API. The
// system message is extracted into a top-level field; remaining turns become
// role-tagged content-block lists.
type AnthropicAdapter struct {
	baseURL    string
	httpClient *http.Client
}

func NewAnthropicAdapter() *AnthropicAdapter {
	return &AnthropicAdapter{
		baseURL:    anthropicBaseURL,
		httpClient: &http.Client{Timeout: streamingTimeout},
	}
}

// NewAnthropicAdapterWithBaseURL points the adapter at a custom base URL (for testing).
func NewAnthropicAdapterWithBaseURL(baseURL string) *AnthropicAdapter {
	a := NewAnthropicAdapter()
	a.baseURL = strings.TrimRight(baseURL, "/")
	return a
}

type anthropicBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type anthropicMessage struct {
	Role    string           `json:"role"`
	Content []anthropicBlock `json:"content"`
}

type anthropicRequest struct {
	Model     string             `json:"model"`
	System    string             `json:"system,omitempty"`
	Messages  []anthropicMessage `json:"messages"`
	MaxTokens int                `json:"max_tokens"`
	Stream    bool               `json:"stream"`
}

// translateAnthropic splits the unified list into the top-level system field
// and the content-block message list.
func translateAnthropic(messages []Message) (string, []anthropicMessage) {
	var system string
	out := make([]anthropicMessage, 0, len(messages))
	for _, m := range messages {
		if m.Role == RoleSystem {
			system = m.Content
			continue
		}
		out = append(out, anthropicMessage{
			Role:    m.Role,
			Content: []anthropicBlock{{Type: "text", Text: m.Content}},
		})
	}
	return system, out
}

type anthropicEvent struct {
	Type  string `json:"type"`
	Delta struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"delta"`
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (a *AnthropicAdapter) Stream(ctx context.Context, messages []Message, model, apiKey string) (*Stream, error) {
	system, translated := translateAnthropic(messages)
	body, err := json.Marshal(anthropicRequest{
		Model:     model,
		System:    system,
		Messages:  translated,
		MaxTokens: anthropicMaxTokens,
		Stream:    true,
	})
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", apiKey)
	req.Header.Set("anthropic-version", anthropicVersion)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, statusError("anthropic", resp.StatusCode)
	}

	s := NewStream()
	go a.readStream(ctx, resp.Body, s)
	return s, nil
}

// readStream parses the SSE body. Text arrives in content_block_delta
// events; message_stop ends the stream; an error event ends it with a short
// normalized message.
func (a *AnthropicAdapter) readStream(ctx context.Context, body io.ReadCloser, s *Stream) {
	defer body.Close()

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), sseBufferLimit)

	for scanner.Scan() {
		data, ok := strings.CutPrefix(scanner.Text(), "data: ")
		if !ok || data == "" {
			continue
		}

		var event anthropicEvent
		if err := json.Unmarshal([]byte(data), &event); err != nil {
			continue
		}

		switch event.Type {
		case "content_block_delta":
			if event.Delta.Text == "" {
				continue
			}
			if !s.Emit(ctx, event.Delta.Text) {
				s.Finish(ctx.Err())
				return
			}
		case "message_stop":
			s.Finish(nil)
			return
		case "error":
			s.Finish(fmt.Errorf("anthropic: stream error: %s", event.Error.Message))
			return
		}
	}

	if err := scanner.Err(); err != nil {
		s.Finish(fmt.Errorf("anthropic: reading stream: %w", err))
		return
	}
	s.Finish(nil)
}
