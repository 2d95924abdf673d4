// Package relay forwards a provider fragment stream to an HTTP client as
// Server-Sent Events, accumulating the full text for persistence.
package relay

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/mkovalev/docchat/internal/provider"
)

// Result reports how a forwarded stream ended. Text holds every fragment
// written to the client, including partial output from failed or
// disconnected streams, so the caller can persist it best-effort.
type Result struct {
	Text         string
	Err          error
	Disconnected bool
}

// Forward streams s to the client as SSE. Each fragment becomes one
// "data: <json string>" event flushed immediately; completion emits a
// "data: [DONE]" sentinel. An error after the first byte is reported as a
// final error event because headers are already committed. Client disconnect
// stops forwarding via the request context.
//
// The caller must not have written headers yet and handles pre-stream errors
// itself (a provider rejection before Forward is a plain HTTP error).
func Forward(w http.ResponseWriter, r *http.Request, s *provider.Stream) Result {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return Result{Err: fmt.Errorf("response writer does not support flushing")}
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	var accumulated strings.Builder
	ctx := r.Context()

	for {
		select {
		case <-ctx.Done():
			// Client went away; the context cancellation also stops the
			// provider read loop. Partial text is still returned.
			return Result{Text: accumulated.String(), Err: ctx.Err(), Disconnected: true}

		case fragment, open := <-s.Fragments():
			if !open {
				if err := s.Err(); err != nil {
					writeErrorEvent(w, flusher, err)
					return Result{Text: accumulated.String(), Err: err}
				}
				fmt.Fprint(w, "data: [DONE]\n\n")
				flusher.Flush()
				return Result{Text: accumulated.String()}
			}

			payload, err := json.Marshal(fragment)
			if err != nil {
				writeErrorEvent(w, flusher, fmt.Errorf("encoding fragment: %w", err))
				return Result{Text: accumulated.String(), Err: err}
			}
			fmt.Fprintf(w, "data: %s\n\n", payload)
			flusher.Flush()
			accumulated.WriteString(fragment)
		}
	}
}

// writeErrorEvent reports a mid-stream failure as one final SSE event; the
// transport cannot fall back to an HTTP status once bytes have been sent.
func writeErrorEvent(w http.ResponseWriter, flusher http.Flusher, err error) {
	payload, marshalErr := json.Marshal(map[string]string{"error": err.Error()})
	if marshalErr != nil {
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", payload)
	flusher.Flush()
}
