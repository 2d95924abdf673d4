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
	"time"
)

const (
	openAIBaseURL = "https://api.openai.com/v1"

	// streamingTimeout caps a full provider stream, not individual tokens.
	streamingTimeout = 300 * time.Second

	// sseBufferLimit bounds a single SSE line; provider deltas are small but
	// some events carry whole content blocks.
	sseBufferLimit = 1024 * 1024
)

// Compile-time check that OpenAIAdapter implements Adapter.
var _ Adapter = (*OpenAIAdapter)(nil)

// OpenAIAdapter streams completions over the OpenAI chat completions API.
// System instructions travel inline as a role:"system" entry in the flat
// message list, so the unified shape needs no translation.
type OpenAIAdapter struct {
	baseURL    string
	httpClient *http.Client
}

func NewOpenAIAdapter() *OpenAIAdapter {
	return &OpenAIAdapter{
		baseURL:    openAIBaseURL,
		httpClient: &http.Client{Timeout: streamingTimeout},
	}
}

// NewOpenAIAdapterWithBaseURL points the adapter at a custom base URL (for testing).
func NewOpenAIAdapterWithBaseURL(baseURL string) *OpenAIAdapter {
	a := NewOpenAIAdapter()
	a.baseURL = strings.TrimRight(baseURL, "/")
	return a
}

type openAIRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	Stream   bool      `json:"stream"`
}

type openAIChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

func (a *OpenAIAdapter) Stream(ctx context.Context, messages []Message, model, apiKey string) (*Stream, error) {
	body, err := json.Marshal(openAIRequest{Model: model, Messages: messages, Stream: true})
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+apiKey)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, statusError("openai", resp.StatusCode)
	}

	s := NewStream()
	go a.readStream(ctx, resp.Body, s)
	return s, nil
}

// readStream parses the SSE body: one "data: {json}" line per delta, closed
// by a "data: [DONE]" sentinel.
func (a *OpenAIAdapter) readStream(ctx context.Context, body io.ReadCloser, s *Stream) {
	defer body.Close()

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), sseBufferLimit)

	for scanner.Scan() {
		data, ok := strings.CutPrefix(scanner.Text(), "data: ")
		if !ok || data == "" {
			continue
		}
		if data == "[DONE]" {
			s.Finish(nil)
			return
		}

		var chunk openAIChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			// Skip unparseable keep-alive or comment lines.
			continue
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		if content := chunk.Choices[0].Delta.Content; content != "" {
			if !s.Emit(ctx, content) {
				s.Finish(ctx.Err())
				return
			}
		}
	}

	if err := scanner.Err(); err != nil {
		s.Finish(fmt.Errorf("openai: reading stream: %w", err))
		return
	}
	s.Finish(nil)
}
