package relay

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/mkovalev/docchat/internal/provider"
)

func produceStream(fragments []string, terminal error) *provider.Stream {
	s := provider.NewStream()
	go func() {
		ctx := context.Background()
		for _, f := range fragments {
			if !s.Emit(ctx, f) {
				s.Finish(ctx.Err())
				return
			}
		}
		s.Finish(terminal)
	}()
	return s
}

func sseEvents(t *testing.T, body string) []string {
	t.Helper()
	var events []string
	for _, line := range strings.Split(body, "\n") {
		if data, ok := strings.CutPrefix(line, "data: "); ok {
			events = append(events, data)
		}
	}
	return events
}

func TestForwardStreamsAndTerminates(t *testing.T) {
	s := produceStream([]string{"Hello", " ", "world"}, nil)

	w := httptest.NewRecorder()
	r := httptest.NewRequest("POST", "/v1/chat/stream", nil)

	result := Forward(w, r, s)
	if result.Err != nil {
		t.Fatalf("Forward: %v", result.Err)
	}
	if result.Text != "Hello world" {
		t.Errorf("accumulated = %q", result.Text)
	}

	if ct := w.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q", ct)
	}

	events := sseEvents(t, w.Body.String())
	if len(events) != 4 {
		t.Fatalf("got %d events, want 4: %v", len(events), events)
	}
	// Fragments are JSON-encoded strings, in provider order.
	if events[0] != `"Hello"` || events[2] != `"world"` {
		t.Errorf("events = %v", events)
	}
	if events[len(events)-1] != "[DONE]" {
		t.Errorf("terminal event = %q", events[len(events)-1])
	}
}

func TestForwardAccumulationMatchesEvents(t *testing.T) {
	fragments := []string{"a", "bb", "ccc"}
	s := produceStream(fragments, nil)

	w := httptest.NewRecorder()
	r := httptest.NewRequest("POST", "/v1/chat/stream", nil)

	result := Forward(w, r, s)
	if result.Text != strings.Join(fragments, "") {
		t.Errorf("accumulated %q, want %q", result.Text, strings.Join(fragments, ""))
	}
}

func TestForwardMidStreamError(t *testing.T) {
	streamErr := errors.New("provider went away")
	s := produceStream([]string{"partial"}, streamErr)

	w := httptest.NewRecorder()
	r := httptest.NewRequest("POST", "/v1/chat/stream", nil)

	result := Forward(w, r, s)
	if !errors.Is(result.Err, streamErr) {
		t.Errorf("result.Err = %v", result.Err)
	}
	// Partial output is retained for best-effort persistence.
	if result.Text != "partial" {
		t.Errorf("accumulated = %q", result.Text)
	}

	events := sseEvents(t, w.Body.String())
	last := events[len(events)-1]
	if !strings.Contains(last, `"error"`) {
		t.Errorf("last event = %q, want error payload", last)
	}
	if last == "[DONE]" {
		t.Error("errored stream must not emit [DONE]")
	}
}

func TestForwardClientDisconnect(t *testing.T) {
	// Stream that never finishes on its own.
	s := provider.NewStream()
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		s.Emit(ctx, "first")
		<-ctx.Done()
		s.Finish(ctx.Err())
	}()

	w := httptest.NewRecorder()
	r := httptest.NewRequest("POST", "/v1/chat/stream", nil).WithContext(ctx)

	done := make(chan Result, 1)
	go func() { done <- Forward(w, r, s) }()

	// Let the first fragment land, then drop the client.
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case result := <-done:
		if !result.Disconnected {
			t.Error("Disconnected not set")
		}
		if result.Text != "first" {
			t.Errorf("partial text = %q", result.Text)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Forward did not return after disconnect")
	}
}
