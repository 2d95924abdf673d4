package provider

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors mapped to HTTP statuses by the API layer. Raw provider
// error bodies are never attached to these, only short normalized phrases.
var (
	// ErrUnauthorized means the provider rejected the credential.
	ErrUnauthorized = errors.New("invalid API key")

	// ErrRateLimited means the provider is throttling.
	ErrRateLimited = errors.New("rate limit reached, try again later")
)

// statusError normalizes a non-200 provider response into the error
// taxonomy. name identifies the provider in the generic failure message.
func statusError(name string, statusCode int) error {
	switch statusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%s: %w", name, ErrUnauthorized)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%s: %w", name, ErrRateLimited)
	default:
		return fmt.Errorf("%s: unexpected status %d", name, statusCode)
	}
}

// StatusCode maps a completion error onto the HTTP status the client should
// receive.
func StatusCode(err error) int {
	switch {
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
