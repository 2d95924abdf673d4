package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

const (
	googleBaseURL = "https://generativelanguage.googleapis.com"

	googleTemperature     = 0.7
	googleMaxOutputTokens = 8192
)

// Compile-time check that GoogleAdapter implements Adapter.
var _ Adapter = (*GoogleAdapter)(nil)

// GoogleAdapter streams completions over the Gemini streamGenerateContent
// API. The API has no system role: the system message is merged as a prefix
// into the first user turn, and consecutive same-role turns are coalesced
// into one content entry with multiple parts. The response transport is a
// single chunked JSON array rather than SSE.
type GoogleAdapter struct {
	baseURL    string
	httpClient *http.Client
}

func NewGoogleAdapter() *GoogleAdapter {
	return &GoogleAdapter{
		baseURL:    googleBaseURL,
		httpClient: &http.Client{Timeout: streamingTimeout},
	}
}

// NewGoogleAdapterWithBaseURL points the adapter at a custom base URL (for testing).
func NewGoogleAdapterWithBaseURL(baseURL string) *GoogleAdapter {
	a := NewGoogleAdapter()
	a.baseURL = strings.TrimRight(baseURL, "/")
	return a
}

type googlePart struct {
	Text string `json:"text"`
}

type googleContent struct {
	Role  string       `json:"role"`
	Parts []googlePart `json:"parts"`
}

type googleRequest struct {
	Contents         []googleContent `json:"contents"`
	GenerationConfig struct {
		Temperature     float64 `json:"temperature"`
		MaxOutputTokens int     `json:"maxOutputTokens"`
	} `json:"generationConfig"`
}

type googleChunk struct {
	Candidates []struct {
		Content struct {
			Parts []googlePart `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

// translateGoogle converts the unified list into Gemini contents: roles map
// to user|model, consecutive same-role turns coalesce into multi-part
// entries, and the system message becomes a prefix on the first user turn,
// wherever that turn occurs. A conversation with no user turn gets the
// system text as its own leading user entry so the instructions are never
// lost.
func translateGoogle(messages []Message) []googleContent {
	var system string
	var contents []googleContent

	for _, m := range messages {
		if m.Role == RoleSystem {
			system = m.Content
			continue
		}

		role := "model"
		if m.Role == RoleUser {
			role = "user"
		}

		if n := len(contents); n > 0 && contents[n-1].Role == role {
			contents[n-1].Parts = append(contents[n-1].Parts, googlePart{Text: m.Content})
			continue
		}
		contents = append(contents, googleContent{Role: role, Parts: []googlePart{{Text: m.Content}}})
	}

	if system != "" {
		merged := false
		for i := range contents {
			if contents[i].Role == "user" {
				contents[i].Parts[0].Text = system + "\n\n" + contents[i].Parts[0].Text
				merged = true
				break
			}
		}
		if !merged {
			contents = append([]googleContent{{Role: "user", Parts: []googlePart{{Text: system}}}}, contents...)
		}
	}

	return contents
}

func (a *GoogleAdapter) Stream(ctx context.Context, messages []Message, model, apiKey string) (*Stream, error) {
	var gr googleRequest
	gr.Contents = translateGoogle(messages)
	gr.GenerationConfig.Temperature = googleTemperature
	gr.GenerationConfig.MaxOutputTokens = googleMaxOutputTokens

	body, err := json.Marshal(gr)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/v1beta/models/%s:streamGenerateContent?key=%s",
		a.baseURL, url.PathEscape(model), url.QueryEscape(apiKey))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, statusError("google", resp.StatusCode)
	}

	s := NewStream()
	go a.readStream(ctx, resp.Body, s)
	return s, nil
}

// readStream incrementally decodes the response, a JSON array of chunk
// objects delivered over chunked transfer encoding.
func (a *GoogleAdapter) readStream(ctx context.Context, body io.ReadCloser, s *Stream) {
	defer body.Close()

	dec := json.NewDecoder(body)
	if _, err := dec.Token(); err != nil {
		s.Finish(fmt.Errorf("google: reading stream: %w", err))
		return
	}

	for dec.More() {
		var chunk googleChunk
		if err := dec.Decode(&chunk); err != nil {
			s.Finish(fmt.Errorf("google: decoding chunk: %w", err))
			return
		}
		if len(chunk.Candidates) == 0 {
			continue
		}
		for _, part := range chunk.Candidates[0].Content.Parts {
			if part.Text == "" {
				continue
			}
			if !s.Emit(ctx, part.Text) {
				s.Finish(ctx.Err())
				return
			}
		}
	}

	s.Finish(nil)
}
